package pipeline

import (
	"context"
	"fmt"
	"strings"

	"querytube-go/internal/model"
	"querytube-go/pkg/apperr"
	"querytube-go/pkg/embedding"
	"querytube-go/pkg/log"
)

// DefaultEmbedBatchSize 是每次请求 Embedding API 的文本数量。
const DefaultEmbedBatchSize = 64

// EmbedStats 汇总向量化阶段的结果。
type EmbedStats struct {
	Input      int
	Embedded   int
	Skipped    int
	Shorts     int
	Dimensions int
}

// Producer 把合并后的记录转换为带向量的记录。
type Producer struct {
	client             embedding.Client
	batchSize          int
	onlyWithTranscript bool
}

// NewProducer 创建 Producer；batchSize <= 0 时使用默认值。
func NewProducer(client embedding.Client, batchSize int, onlyWithTranscript bool) *Producer {
	if batchSize <= 0 {
		batchSize = DefaultEmbedBatchSize
	}
	return &Producer{client: client, batchSize: batchSize, onlyWithTranscript: onlyWithTranscript}
}

// TextForEmbedding 按标题、描述、字幕的顺序用单个空格拼接，空字段不占位。
func TextForEmbedding(title, description, transcript string) string {
	parts := make([]string, 0, 3)
	for _, p := range []string{title, description, transcript} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}

// Embed 为所有记录计算向量。任何一批失败都会让整个调用失败，不返回部分结果。
func (p *Producer) Embed(ctx context.Context, records []model.MergedRecord) ([]model.EmbeddedRecord, EmbedStats, error) {
	stats := EmbedStats{Input: len(records)}

	pending := make([]model.EmbeddedRecord, 0, len(records))
	for _, r := range records {
		if p.onlyWithTranscript && !r.TranscriptAvailable {
			stats.Skipped++
			continue
		}
		text := TextForEmbedding(r.Title, r.Description, r.Transcript)
		if text == "" {
			stats.Skipped++
			log.Warnw("[EmbeddingProducer] 记录没有可用文本，跳过", "id", r.ID)
			continue
		}
		rec := model.EmbeddedRecord{
			MergedRecord:     r,
			TextForEmbedding: text,
			IsShort:          model.IsShortDuration(r.Duration()),
		}
		if rec.IsShort {
			stats.Shorts++
		}
		pending = append(pending, rec)
	}

	for start := 0; start < len(pending); start += p.batchSize {
		end := start + p.batchSize
		if end > len(pending) {
			end = len(pending)
		}
		texts := make([]string, 0, end-start)
		for i := start; i < end; i++ {
			texts = append(texts, pending[i].TextForEmbedding)
		}

		vectors, err := p.client.CreateEmbeddings(ctx, texts)
		if err != nil {
			return nil, stats, apperr.Wrapf(apperr.UpstreamUnavailable, "embed", err, "embedding batch %d-%d failed", start, end)
		}
		if len(vectors) != len(texts) {
			return nil, stats, apperr.New(apperr.UpstreamUnavailable, "embed",
				fmt.Sprintf("embedding batch %d-%d returned %d vectors", start, end, len(vectors)))
		}
		for i, vec := range vectors {
			if stats.Dimensions == 0 {
				stats.Dimensions = len(vec)
			}
			if len(vec) != stats.Dimensions {
				return nil, stats, apperr.New(apperr.UpstreamUnavailable, "embed",
					fmt.Sprintf("record %s has %d dims, expected %d", pending[start+i].ID, len(vec), stats.Dimensions))
			}
			pending[start+i].Embedding = vec
		}
		log.Infof("[EmbeddingProducer] 已完成 %d/%d 条记录的向量化", end, len(pending))
	}

	stats.Embedded = len(pending)
	return pending, stats, nil
}
