package dataset

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/parquet-go/parquet-go"

	"querytube-go/internal/model"
	"querytube-go/pkg/apperr"
)

// embeddedRow 是向量数据集的列式表示。
type embeddedRow struct {
	ID                  string    `parquet:"id"`
	Title               string    `parquet:"title"`
	Description         string    `parquet:"description"`
	ChannelID           string    `parquet:"channel_id"`
	ChannelTitle        string    `parquet:"channel_title"`
	PublishedAt         string    `parquet:"publishedAt"`
	Tags                string    `parquet:"tags"`
	DurationSeconds     *int64    `parquet:"duration,optional"`
	ViewCount           int64     `parquet:"viewCount"`
	LikeCount           int64     `parquet:"likeCount"`
	CommentCount        int64     `parquet:"commentCount"`
	CategoryID          string    `parquet:"categoryId"`
	Transcript          string    `parquet:"transcript"`
	TranscriptAvailable bool      `parquet:"transcript_available"`
	TextForEmbedding    string    `parquet:"text_for_embedding"`
	IsShort             bool      `parquet:"is_short"`
	EmbeddingVector     []float32 `parquet:"embedding_vector,list"`
}

// WriteEmbeddedParquet 把向量数据集写成 Parquet 文件。
func WriteEmbeddedParquet(path string, records []model.EmbeddedRecord) error {
	rows := make([]embeddedRow, 0, len(records))
	for i := range records {
		r := &records[i]
		row := embeddedRow{
			ID:                  r.ID,
			Title:               r.Title,
			Description:         r.Description,
			ChannelID:           r.ChannelID,
			ChannelTitle:        r.ChannelTitle,
			PublishedAt:         r.PublishedAt,
			Tags:                r.Tags,
			ViewCount:           r.ViewCount,
			LikeCount:           r.LikeCount,
			CommentCount:        r.CommentCount,
			CategoryID:          r.CategoryID,
			Transcript:          r.Transcript,
			TranscriptAvailable: r.TranscriptAvailable,
			TextForEmbedding:    r.TextForEmbedding,
			IsShort:             r.IsShort,
			EmbeddingVector:     r.Embedding,
		}
		if r.DurationSeconds != nil {
			d := int64(*r.DurationSeconds)
			row.DurationSeconds = &d
		}
		rows = append(rows, row)
	}

	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		return fmt.Errorf("创建目录失败: %w", err)
	}
	tmp := path + ".tmp"
	if err := parquet.WriteFile(tmp, rows); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("写入 parquet 文件失败: %w", err)
	}
	return os.Rename(tmp, path)
}

// ReadEmbeddedParquet 读取 WriteEmbeddedParquet 写出的文件。
func ReadEmbeddedParquet(path string) ([]model.EmbeddedRecord, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apperr.Wrapf(apperr.InputNotFound, "dataset.read", err, "input file %s not found", path)
		}
		return nil, err
	}
	rows, err := parquet.ReadFile[embeddedRow](path)
	if err != nil {
		return nil, fmt.Errorf("读取 parquet 文件失败: %w", err)
	}
	out := make([]model.EmbeddedRecord, 0, len(rows))
	for _, row := range rows {
		rec := model.EmbeddedRecord{
			MergedRecord: model.MergedRecord{
				VideoRecord: model.VideoRecord{
					ID:           row.ID,
					Title:        row.Title,
					Description:  row.Description,
					ChannelID:    row.ChannelID,
					ChannelTitle: row.ChannelTitle,
					PublishedAt:  row.PublishedAt,
					Tags:         row.Tags,
					ViewCount:    row.ViewCount,
					LikeCount:    row.LikeCount,
					CommentCount: row.CommentCount,
					CategoryID:   row.CategoryID,
				},
				Transcript:          row.Transcript,
				TranscriptAvailable: row.TranscriptAvailable,
			},
			TextForEmbedding: row.TextForEmbedding,
			IsShort:          row.IsShort,
			Embedding:        row.EmbeddingVector,
		}
		if row.DurationSeconds != nil {
			d := int(*row.DurationSeconds)
			rec.DurationSeconds = &d
			rec.DurationRaw = fmt.Sprint(d)
		}
		out = append(out, rec)
	}
	return out, nil
}

// ReadEmbeddedAny 优先读取 Parquet，不存在时回退到 CSV。
func ReadEmbeddedAny(parquetPath, csvPath string) ([]model.EmbeddedRecord, error) {
	if parquetPath != "" {
		records, err := ReadEmbeddedParquet(parquetPath)
		if err == nil {
			return records, nil
		}
		if !apperr.Is(err, apperr.InputNotFound) {
			return nil, err
		}
	}
	return ReadEmbedded(csvPath)
}
