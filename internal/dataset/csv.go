// Package dataset 负责流水线各阶段 CSV 和 Parquet 文件的读写。
package dataset

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"querytube-go/internal/model"
	"querytube-go/pkg/apperr"
	"querytube-go/pkg/textnorm"
)

// 列名与早期 pandas 导出的数据集保持一致。
const (
	ColID                  = "id"
	ColTitle               = "title"
	ColDescription         = "description"
	ColChannelID           = "channel_id"
	ColChannelTitle        = "channel_title"
	ColPublishedAt         = "publishedAt"
	ColTags                = "tags"
	ColDuration            = "duration"
	ColViewCount           = "viewCount"
	ColLikeCount           = "likeCount"
	ColCommentCount        = "commentCount"
	ColCategoryID          = "categoryId"
	ColTranscript          = "transcript"
	ColSourceKind          = "source_kind"
	ColTranscriptAvailable = "transcript_available"
	ColTextForEmbedding    = "text_for_embedding"
	ColIsShort             = "is_short"
	ColEmbeddingVector     = "embedding_vector"
)

// 同一列在不同来源里的别名。
var columnAliases = map[string][]string{
	ColID:           {"video_id", "videoId"},
	ColPublishedAt:  {"published_at"},
	ColViewCount:    {"view_count", "views"},
	ColLikeCount:    {"like_count", "likes"},
	ColCommentCount: {"comment_count", "comments"},
	ColCategoryID:   {"category_id"},
	ColDuration:     {"duration_seconds"},
	ColSourceKind:   {"transcript_type", "kind"},
	ColChannelTitle: {"channel", "channelTitle"},
	ColChannelID:    {"channelId"},
}

var videoColumns = []string{
	ColID, ColTitle, ColDescription, ColChannelID, ColChannelTitle, ColPublishedAt,
	ColTags, ColDuration, ColViewCount, ColLikeCount, ColCommentCount, ColCategoryID,
}

// table 是按表头索引的一份 CSV 内容。
type table struct {
	path   string
	header map[string]int
	rows   [][]string
}

func readTable(path string) (*table, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apperr.Wrapf(apperr.InputNotFound, "dataset.read", err, "input file %s not found", path)
		}
		return nil, fmt.Errorf("打开文件 %s 失败: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	head, err := r.Read()
	if err != nil {
		if err == io.EOF {
			return nil, apperr.New(apperr.MalformedField, "dataset.read", fmt.Sprintf("file %s has no header", path))
		}
		return nil, fmt.Errorf("读取表头失败: %w", err)
	}
	t := &table{path: path, header: make(map[string]int, len(head))}
	for i, name := range head {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		if _, dup := t.header[name]; !dup {
			t.header[name] = i
		}
	}
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("读取 %s 失败: %w", path, err)
		}
		t.rows = append(t.rows, row)
	}
	return t, nil
}

// column 返回列下标，按别名查找，找不到时返回 -1。
func (t *table) column(name string) int {
	if i, ok := t.header[name]; ok {
		return i
	}
	for _, alias := range columnAliases[name] {
		if i, ok := t.header[alias]; ok {
			return i
		}
	}
	return -1
}

// require 在缺少关键列时返回致命错误，避免下游连接被破坏。
func (t *table) require(names ...string) error {
	for _, name := range names {
		if t.column(name) < 0 {
			return apperr.New(apperr.MalformedField, "dataset.read", fmt.Sprintf("file %s is missing required column %q", t.path, name))
		}
	}
	return nil
}

func (t *table) get(row []string, name string) string {
	i := t.column(name)
	if i < 0 || i >= len(row) {
		return ""
	}
	v := strings.TrimSpace(row[i])
	if isNaN(v) {
		return ""
	}
	return v
}

// isNaN 识别 pandas 导出的缺失值标记，"None"、"null" 之类的文本按原样保留。
func isNaN(v string) bool {
	switch v {
	case "nan", "NaN", "<NA>":
		return true
	}
	return false
}

func (t *table) getInt(row []string, name string) int64 {
	v := t.get(row, name)
	if v == "" {
		return 0
	}
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return int64(f)
	}
	return 0
}

func (t *table) getBool(row []string, name string) bool {
	switch strings.ToLower(t.get(row, name)) {
	case "true", "1", "yes":
		return true
	}
	return false
}

func (t *table) video(row []string) model.VideoRecord {
	v := model.VideoRecord{
		ID:           t.get(row, ColID),
		Title:        t.get(row, ColTitle),
		Description:  t.get(row, ColDescription),
		ChannelID:    t.get(row, ColChannelID),
		ChannelTitle: t.get(row, ColChannelTitle),
		PublishedAt:  t.get(row, ColPublishedAt),
		Tags:         t.get(row, ColTags),
		DurationRaw:  t.get(row, ColDuration),
		ViewCount:    t.getInt(row, ColViewCount),
		LikeCount:    t.getInt(row, ColLikeCount),
		CommentCount: t.getInt(row, ColCommentCount),
		CategoryID:   t.get(row, ColCategoryID),
	}
	if d, ok := textnorm.ParseDuration(v.DurationRaw); ok {
		v.DurationSeconds = &d
	}
	return v
}

// ReadVideos 读取视频元数据 CSV。
func ReadVideos(path string) ([]model.VideoRecord, error) {
	t, err := readTable(path)
	if err != nil {
		return nil, err
	}
	if err := t.require(ColID); err != nil {
		return nil, err
	}
	out := make([]model.VideoRecord, 0, len(t.rows))
	for _, row := range t.rows {
		out = append(out, t.video(row))
	}
	return out, nil
}

// ReadTranscripts 读取字幕 CSV，id 列也可以叫 video_id。
func ReadTranscripts(path string) ([]model.TranscriptRecord, error) {
	t, err := readTable(path)
	if err != nil {
		return nil, err
	}
	if err := t.require(ColID, ColTranscript); err != nil {
		return nil, err
	}
	out := make([]model.TranscriptRecord, 0, len(t.rows))
	for _, row := range t.rows {
		kind := model.TranscriptKind(t.get(row, ColSourceKind))
		if kind == "" {
			kind = model.TranscriptUnknown
		}
		out = append(out, model.TranscriptRecord{
			ID:         t.get(row, ColID),
			Transcript: t.get(row, ColTranscript),
			SourceKind: kind,
		})
	}
	return out, nil
}

// ReadMerged 读取合并后的 CSV。
func ReadMerged(path string) ([]model.MergedRecord, error) {
	t, err := readTable(path)
	if err != nil {
		return nil, err
	}
	if err := t.require(ColID); err != nil {
		return nil, err
	}
	out := make([]model.MergedRecord, 0, len(t.rows))
	for _, row := range t.rows {
		out = append(out, model.MergedRecord{
			VideoRecord:         t.video(row),
			Transcript:          t.get(row, ColTranscript),
			TranscriptAvailable: t.getBool(row, ColTranscriptAvailable),
		})
	}
	return out, nil
}

// ReadEmbedded 读取带向量的 CSV，向量列是 JSON 数组。
func ReadEmbedded(path string) ([]model.EmbeddedRecord, error) {
	t, err := readTable(path)
	if err != nil {
		return nil, err
	}
	if err := t.require(ColID, ColEmbeddingVector); err != nil {
		return nil, err
	}
	out := make([]model.EmbeddedRecord, 0, len(t.rows))
	for i, row := range t.rows {
		var vec []float32
		if raw := t.get(row, ColEmbeddingVector); raw != "" {
			if err := json.Unmarshal([]byte(raw), &vec); err != nil {
				return nil, apperr.Wrapf(apperr.MalformedField, "dataset.read", err, "row %d has an invalid embedding_vector", i+1)
			}
		}
		out = append(out, model.EmbeddedRecord{
			MergedRecord: model.MergedRecord{
				VideoRecord:         t.video(row),
				Transcript:          t.get(row, ColTranscript),
				TranscriptAvailable: t.getBool(row, ColTranscriptAvailable),
			},
			TextForEmbedding: t.get(row, ColTextForEmbedding),
			IsShort:          t.getBool(row, ColIsShort),
			Embedding:        vec,
		})
	}
	return out, nil
}

func videoRow(v *model.VideoRecord) []string {
	duration := v.DurationRaw
	if v.DurationSeconds != nil {
		duration = strconv.Itoa(*v.DurationSeconds)
	}
	return []string{
		v.ID, v.Title, v.Description, v.ChannelID, v.ChannelTitle, v.PublishedAt,
		v.Tags, duration,
		strconv.FormatInt(v.ViewCount, 10),
		strconv.FormatInt(v.LikeCount, 10),
		strconv.FormatInt(v.CommentCount, 10),
		v.CategoryID,
	}
}

// WriteVideos 写出视频元数据 CSV。
func WriteVideos(path string, videos []model.VideoRecord) error {
	rows := make([][]string, 0, len(videos))
	for i := range videos {
		rows = append(rows, videoRow(&videos[i]))
	}
	return writeTable(path, videoColumns, rows)
}

// WriteTranscripts 写出字幕 CSV。
func WriteTranscripts(path string, transcripts []model.TranscriptRecord) error {
	rows := make([][]string, 0, len(transcripts))
	for _, tr := range transcripts {
		rows = append(rows, []string{tr.ID, tr.Transcript, string(tr.SourceKind)})
	}
	return writeTable(path, []string{ColID, ColTranscript, ColSourceKind}, rows)
}

// WriteMerged 写出合并后的 CSV，附加 transcript 和 transcript_available 两列。
func WriteMerged(path string, records []model.MergedRecord) error {
	header := append(append([]string{}, videoColumns...), ColTranscript, ColTranscriptAvailable)
	rows := make([][]string, 0, len(records))
	for i := range records {
		r := &records[i]
		row := append(videoRow(&r.VideoRecord), r.Transcript, strconv.FormatBool(r.TranscriptAvailable))
		rows = append(rows, row)
	}
	return writeTable(path, header, rows)
}

// WriteEmbedded 写出带向量的 CSV。
func WriteEmbedded(path string, records []model.EmbeddedRecord) error {
	header := append(append([]string{}, videoColumns...),
		ColTranscript, ColTranscriptAvailable, ColTextForEmbedding, ColIsShort, ColEmbeddingVector)
	rows := make([][]string, 0, len(records))
	for i := range records {
		r := &records[i]
		vec, err := json.Marshal(r.Embedding)
		if err != nil {
			return fmt.Errorf("序列化向量失败: %w", err)
		}
		row := append(videoRow(&r.VideoRecord),
			r.Transcript,
			strconv.FormatBool(r.TranscriptAvailable),
			r.TextForEmbedding,
			strconv.FormatBool(r.IsShort),
			string(vec),
		)
		rows = append(rows, row)
	}
	return writeTable(path, header, rows)
}

// writeTable 先写临时文件再重命名，失败时不会留下半个输出文件。
func writeTable(path string, header []string, rows [][]string) error {
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		return fmt.Errorf("创建目录失败: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("创建临时文件失败: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := csv.NewWriter(tmp)
	if err := w.Write(header); err != nil {
		tmp.Close()
		return err
	}
	if err := w.WriteAll(rows); err != nil {
		tmp.Close()
		return fmt.Errorf("写入 %s 失败: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
