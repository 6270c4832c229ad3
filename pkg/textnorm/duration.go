package textnorm

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	plainSecondsPattern = regexp.MustCompile(`^\d+$`)
	durationShape       = regexp.MustCompile(`^PT(\d+H)?(\d+M)?(\d+S)?$`)
	hoursPattern        = regexp.MustCompile(`(\d+)H`)
	minutesPattern      = regexp.MustCompile(`(\d+)M`)
	secondsPattern      = regexp.MustCompile(`(\d+)S`)
)

const (
	// WireTimeLayout 是 YouTube Data API 返回的发布时间格式。
	WireTimeLayout = "2006-01-02T15:04:05Z"
	// TimeLayout 是清洗后写入数据集的时间格式。
	TimeLayout = "2006-01-02 15:04:05"
)

// ParseDuration 把纯数字秒数或 PT#H#M#S 形式的时长转换为秒。
// 其它格式返回 ok=false，而不是 0。
func ParseDuration(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if plainSecondsPattern.MatchString(s) {
		n, err := strconv.Atoi(s)
		if err != nil {
			return 0, false
		}
		return n, true
	}
	if !durationShape.MatchString(s) || s == "PT" {
		return 0, false
	}
	hours, ok1 := component(hoursPattern, s)
	minutes, ok2 := component(minutesPattern, s)
	seconds, ok3 := component(secondsPattern, s)
	if !ok1 || !ok2 || !ok3 {
		return 0, false
	}
	return hours*3600 + minutes*60 + seconds, true
}

// component 提取单个时长分量，缺失时贡献 0。
func component(p *regexp.Regexp, s string) (int, bool) {
	m := p.FindStringSubmatch(s)
	if m == nil {
		return 0, true
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// FormatDuration 是 ParseDuration 的逆操作，负数返回空字符串。
func FormatDuration(seconds int) string {
	if seconds < 0 {
		return ""
	}
	if seconds == 0 {
		return "PT0S"
	}
	var b strings.Builder
	b.WriteString("PT")
	if h := seconds / 3600; h > 0 {
		b.WriteString(strconv.Itoa(h) + "H")
	}
	if m := seconds % 3600 / 60; m > 0 {
		b.WriteString(strconv.Itoa(m) + "M")
	}
	if sec := seconds % 60; sec > 0 {
		b.WriteString(strconv.Itoa(sec) + "S")
	}
	return b.String()
}

// NormalizeTimestamp 把 2006-01-02T15:04:05Z 转成 2006-01-02 15:04:05。
// 已经是目标格式的输入原样返回，其它输入返回 ok=false。
func NormalizeTimestamp(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(WireTimeLayout, s); err == nil {
		return t.Format(TimeLayout), true
	}
	if t, err := time.Parse(TimeLayout, s); err == nil {
		return t.Format(TimeLayout), true
	}
	return "", false
}
