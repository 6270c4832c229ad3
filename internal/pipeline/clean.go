package pipeline

import (
	"strings"

	"querytube-go/internal/model"
	"querytube-go/pkg/log"
	"querytube-go/pkg/textnorm"
)

// TranscriptErrorSentinel 是字幕抓取失败时写入的占位文本。
const TranscriptErrorSentinel = "Error: \nCould not retrieve a transcript"

// CleanStats 汇总清洗阶段的结果。
type CleanStats struct {
	Records            int
	Dropped            int
	NullTitles         int
	NullDescriptions   int
	NullTags           int
	MalformedDurations int
	MalformedDates     int
}

// CleanVideos 规范化视频元数据的文本字段、标签、时长和发布时间。
// 解析失败的字段置为无值并记录日志，记录本身保留。
func CleanVideos(videos []model.VideoRecord) ([]model.VideoRecord, CleanStats) {
	stats := CleanStats{Records: len(videos)}
	out := make([]model.VideoRecord, 0, len(videos))
	for _, v := range videos {
		v.ID = strings.TrimSpace(v.ID)
		v.ChannelID = strings.TrimSpace(v.ChannelID)

		v.Title = normalizeField(v.Title)
		if v.Title == "" {
			stats.NullTitles++
		}
		v.Description = normalizeField(v.Description)
		if v.Description == "" {
			stats.NullDescriptions++
		}
		v.ChannelTitle = normalizeField(v.ChannelTitle)

		if tags, ok := textnorm.NormalizeList(v.Tags, textnorm.ListSeparator); ok {
			v.Tags = tags
		} else {
			v.Tags = ""
			stats.NullTags++
		}

		if d, ok := textnorm.ParseDuration(v.DurationRaw); ok {
			v.DurationSeconds = &d
		} else {
			if v.DurationRaw != "" {
				stats.MalformedDurations++
				log.Warnw("[Cleaner] 时长字段无法解析，置为空", "id", v.ID, "duration", v.DurationRaw)
			}
			v.DurationSeconds = nil
			v.DurationRaw = ""
		}

		if v.PublishedAt != "" {
			if ts, ok := textnorm.NormalizeTimestamp(v.PublishedAt); ok {
				v.PublishedAt = ts
			} else {
				stats.MalformedDates++
				log.Warnw("[Cleaner] 发布时间无法解析，置为空", "id", v.ID, "publishedAt", v.PublishedAt)
				v.PublishedAt = ""
			}
		}
		out = append(out, v)
	}
	return out, stats
}

// CleanTranscripts 丢弃 ID 长度不对或抓取失败的字幕，并规范化字幕文本。
func CleanTranscripts(transcripts []model.TranscriptRecord) ([]model.TranscriptRecord, CleanStats) {
	stats := CleanStats{Records: len(transcripts)}
	out := make([]model.TranscriptRecord, 0, len(transcripts))
	for _, t := range transcripts {
		t.ID = strings.TrimSpace(t.ID)
		if len(t.ID) != model.VideoIDLength || isRetrievalError(t.Transcript) {
			stats.Dropped++
			continue
		}
		t.Transcript = normalizeField(t.Transcript)
		if t.SourceKind == "" {
			t.SourceKind = model.TranscriptUnknown
		}
		out = append(out, t)
	}
	return out, stats
}

func normalizeField(s string) string {
	v, ok := textnorm.Normalize(s)
	if !ok {
		return ""
	}
	return v
}

func isRetrievalError(text string) bool {
	trimmed := strings.TrimSpace(text)
	return trimmed == strings.TrimSpace(TranscriptErrorSentinel) || strings.HasPrefix(trimmed, "Error:")
}
