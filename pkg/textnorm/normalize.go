// Package textnorm 把采集到的原始文本规范化为小写、ASCII、单空格分隔的形式。
//
// 所有函数都返回 (value, ok)：ok 为 false 表示"无值"，调用方不能把它和空字符串混用。
package textnorm

import (
	"html"
	"regexp"
	"strings"
	"unicode"

	"github.com/forPelevin/gomoji"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// ListSeparator 是标签等列表字段在 CSV 中使用的分隔符。
const ListSeparator = "|"

var (
	// gomoji 覆盖不到的区段、变体选择符以及 C1 控制字符
	emojiPattern = regexp.MustCompile(`[` +
		`\x{1F600}-\x{1F64F}\x{1F300}-\x{1F5FF}\x{1F680}-\x{1F6FF}\x{1F1E0}-\x{1F1FF}` +
		`\x{2702}-\x{27B0}\x{24C2}-\x{1F251}\x{1F926}-\x{1F937}\x{1F900}-\x{1F9FF}` +
		`\x{10000}-\x{10FFFF}\x{2640}-\x{2642}\x{2600}-\x{2B55}` +
		`\x{200D}\x{23CF}\x{23E9}\x{231A}\x{3030}\x{FE00}-\x{FE0F}\x{80}-\x{9F}` +
		`]`)

	doubleQuotePattern = regexp.MustCompile(`[\x{201C}\x{201D}\x{201E}\x{201F}\x{301D}\x{301E}\x{FF02}]`)
	singleQuotePattern = regexp.MustCompile(`[\x{2018}\x{2019}\x{201A}\x{201B}]`)
	dashPattern        = regexp.MustCompile(`[\x{2010}-\x{2015}\x{2212}]`)
	ellipsisPattern    = regexp.MustCompile(`[\x{2026}\x{22EF}]`)

	// 箭头、分数、商标符号、货币和数学符号统一替换为空格
	glyphPattern = regexp.MustCompile(`[` +
		`\x{2190}-\x{21FF}\x{27F0}-\x{27FF}` +
		`\x{00BC}-\x{00BE}\x{2150}-\x{215E}` +
		`\x{00A9}\x{00AE}\x{2122}\x{2120}` +
		`\x{20A0}-\x{20CF}\x{00A2}\x{00A3}\x{00A5}` +
		`\x{00D7}\x{00F7}\x{00B1}\x{2200}-\x{22FF}` +
		`]`)

	// 第 2 步不处理 # & < >，它们要留给实体解码和标签剥离
	symbolPattern = regexp.MustCompile("[@|\\[\\]{}*%$^+=~`]")

	// 实体解码和标签剥离之后残留的标记字符
	residualPattern = regexp.MustCompile("[#&<>@|\\[\\]{}*%$^+=~`]")

	tagPattern = regexp.MustCompile(`<[^>]*>`)

	entityReplacer = strings.NewReplacer(
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&#39;", "'",
		"&nbsp;", " ",
	)

	asciiFold = transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)))
)

// Normalize 按固定顺序执行六个步骤，结果为空时返回 ok=false。
func Normalize(s string) (string, bool) {
	s = stripEmoji(s)
	s = replaceSymbols(s)
	s = stripMarkup(s)
	s = strings.ToLower(s)
	s, ok := collapseSpace(s)
	if !ok {
		return "", false
	}
	return foldASCII(s)
}

// NormalizeList 对分隔列表的每一项单独规范化，丢弃变空的项后重新拼接。
func NormalizeList(s, sep string) (string, bool) {
	if sep == "" {
		sep = ListSeparator
	}
	items := strings.Split(s, sep)
	kept := make([]string, 0, len(items))
	for _, item := range items {
		if v, ok := Normalize(item); ok {
			kept = append(kept, v)
		}
	}
	if len(kept) == 0 {
		return "", false
	}
	return strings.Join(kept, sep), true
}

func stripEmoji(s string) string {
	s = gomoji.RemoveEmojis(s)
	return emojiPattern.ReplaceAllString(s, "")
}

func replaceSymbols(s string) string {
	s = doubleQuotePattern.ReplaceAllString(s, `"`)
	s = singleQuotePattern.ReplaceAllString(s, "'")
	s = dashPattern.ReplaceAllString(s, "-")
	s = ellipsisPattern.ReplaceAllString(s, "...")
	s = glyphPattern.ReplaceAllString(s, " ")
	return symbolPattern.ReplaceAllString(s, " ")
}

func stripMarkup(s string) string {
	s = html.UnescapeString(s)
	s = tagPattern.ReplaceAllString(s, " ")
	s = entityReplacer.Replace(s)
	return residualPattern.ReplaceAllString(s, " ")
}

func collapseSpace(s string) (string, bool) {
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return "", false
	}
	return s, true
}

// foldASCII 做兼容分解、去掉组合符号和非 ASCII 字符。
// 分解可能产生新的大写字母或符号（例如全角字符），所以最后再走一遍 ASCII 范围内的步骤。
func foldASCII(s string) (string, bool) {
	folded, _, err := transform.String(asciiFold, s)
	if err != nil {
		folded = s
	}
	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		if r <= unicode.MaxASCII {
			b.WriteRune(r)
		}
	}
	out := residualPattern.ReplaceAllString(b.String(), " ")
	return collapseSpace(strings.ToLower(out))
}
