// Package model 定义了流水线各阶段的记录结构和 API 返回结构。
package model

// VideoIDLength 是 YouTube 视频 ID 的固定长度。
const VideoIDLength = 11

// 文本字段为空字符串表示"无值"，规范化之后的有效值永远不会是空字符串。

// VideoRecord 是一条视频元数据，由采集阶段生成，清洗阶段改写文本字段和时长。
type VideoRecord struct {
	ID              string
	Title           string
	Description     string
	ChannelID       string
	ChannelTitle    string
	PublishedAt     string
	Tags            string // 以 | 分隔
	DurationRaw     string // 原始的 PT#H#M#S 或秒数
	DurationSeconds *int   // nil 表示无法解析
	ViewCount       int64
	LikeCount       int64
	CommentCount    int64
	CategoryID      string
}

// TranscriptKind 表示字幕来源。
type TranscriptKind string

const (
	TranscriptManual        TranscriptKind = "manual"
	TranscriptAutoGenerated TranscriptKind = "auto-generated"
	TranscriptUnknown       TranscriptKind = "unknown"
)

// TranscriptRecord 是一条视频字幕。
type TranscriptRecord struct {
	ID         string
	Transcript string
	SourceKind TranscriptKind
}

// MergedRecord 是视频元数据与字幕左连接后的结果。
type MergedRecord struct {
	VideoRecord
	Transcript          string
	TranscriptAvailable bool
}

// EmbeddedRecord 在 MergedRecord 基础上附加了向量。
type EmbeddedRecord struct {
	MergedRecord
	TextForEmbedding string
	IsShort          bool
	Embedding        []float32
}

// Duration 返回时长秒数，无值时为 0。
func (v *VideoRecord) Duration() int {
	if v.DurationSeconds == nil {
		return 0
	}
	return *v.DurationSeconds
}

// IsShortDuration 判断时长是否属于短视频（0 < d < 120）。
func IsShortDuration(seconds int) bool {
	return seconds > 0 && seconds < 120
}
