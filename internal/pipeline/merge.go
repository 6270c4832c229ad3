package pipeline

import (
	"strings"
	"unicode/utf8"

	"querytube-go/internal/model"
)

// DefaultMinTranscriptLength 是字幕被视为有效内容的最小长度（去掉首尾空白后）。
const DefaultMinTranscriptLength = 10

// MergeStats 汇总合并阶段的结果。
type MergeStats struct {
	Videos               int
	Transcripts          int
	Eligible             int
	Rejected             int
	DuplicateTranscripts int
	Matched              int
}

// EligibleTranscript 判断一条字幕能否参与连接。
func EligibleTranscript(t model.TranscriptRecord, minLength int) bool {
	if len(strings.TrimSpace(t.ID)) != model.VideoIDLength {
		return false
	}
	if isRetrievalError(t.Transcript) {
		return false
	}
	return utf8.RuneCountInString(strings.TrimSpace(t.Transcript)) >= minLength
}

// Merge 以视频 ID 左连接视频和字幕，每条视频恰好产出一条记录。
// 同一 ID 有多条有效字幕时取输入中最先出现的一条。
func Merge(videos []model.VideoRecord, transcripts []model.TranscriptRecord, minLength int) ([]model.MergedRecord, MergeStats) {
	stats := MergeStats{Videos: len(videos), Transcripts: len(transcripts)}

	byID := make(map[string]string, len(transcripts))
	for _, t := range transcripts {
		if !EligibleTranscript(t, minLength) {
			stats.Rejected++
			continue
		}
		id := strings.TrimSpace(t.ID)
		if _, seen := byID[id]; seen {
			stats.DuplicateTranscripts++
			continue
		}
		byID[id] = strings.TrimSpace(t.Transcript)
		stats.Eligible++
	}

	out := make([]model.MergedRecord, 0, len(videos))
	for _, v := range videos {
		v.ID = strings.TrimSpace(v.ID)
		rec := model.MergedRecord{VideoRecord: v}
		if text, ok := byID[v.ID]; ok {
			rec.Transcript = text
			rec.TranscriptAvailable = true
			stats.Matched++
		}
		out = append(out, rec)
	}
	return out, stats
}
