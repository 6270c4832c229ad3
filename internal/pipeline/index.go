package pipeline

import (
	"context"
	"fmt"

	"querytube-go/internal/model"
	"querytube-go/pkg/log"
	"querytube-go/pkg/vectorindex"
)

// DefaultUpsertBatchSize 是写入向量索引的批大小。
const DefaultUpsertBatchSize = 500

// IndexStats 汇总写入索引的结果。
type IndexStats struct {
	Records           int
	Entries           int
	DroppedDuplicates int
	Disambiguated     int
	Dimensions        int
}

// BuildEntries 把向量记录转换为索引条目。
// ID 和文本都相同的重复记录直接丢弃；仍然重复的 ID 依次加上 _1、_2 后缀，
// 原始 ID 保存在 original_id 元数据中。
func BuildEntries(records []model.EmbeddedRecord) ([]vectorindex.Entry, IndexStats) {
	stats := IndexStats{Records: len(records)}
	seenContent := make(map[string]struct{}, len(records))
	used := make(map[string]struct{}, len(records))
	suffix := make(map[string]int)

	entries := make([]vectorindex.Entry, 0, len(records))
	for i := range records {
		r := &records[i]
		contentKey := r.ID + "\x00" + r.TextForEmbedding
		if _, dup := seenContent[contentKey]; dup {
			stats.DroppedDuplicates++
			continue
		}
		seenContent[contentKey] = struct{}{}

		id := r.ID
		if _, taken := used[id]; taken {
			for {
				suffix[r.ID]++
				id = fmt.Sprintf("%s_%d", r.ID, suffix[r.ID])
				if _, taken := used[id]; !taken {
					break
				}
			}
			stats.Disambiguated++
			log.Warnw("[Indexer] 重复的视频 ID，已追加后缀", "original_id", r.ID, "id", id)
		}
		used[id] = struct{}{}

		if stats.Dimensions == 0 {
			stats.Dimensions = len(r.Embedding)
		}
		entries = append(entries, vectorindex.Entry{
			ID:       id,
			Vector:   r.Embedding,
			Document: r.TextForEmbedding,
			Metadata: Metadata(r, int64(len(entries))),
		})
	}
	stats.Entries = len(entries)
	return entries, stats
}

// Metadata 生成只含标量的元数据，缺失值用 0 或空字符串代替。
func Metadata(r *model.EmbeddedRecord, position int64) vectorindex.Metadata {
	return vectorindex.Metadata{
		model.MetaOriginalID:          r.ID,
		model.MetaTitle:               r.Title,
		model.MetaDescription:         r.Description,
		model.MetaChannelID:           r.ChannelID,
		model.MetaChannelTitle:        r.ChannelTitle,
		model.MetaPublishedAt:         r.PublishedAt,
		model.MetaTags:                r.Tags,
		model.MetaViewCount:           r.ViewCount,
		model.MetaLikeCount:           r.LikeCount,
		model.MetaCommentCount:        r.CommentCount,
		model.MetaDuration:            int64(r.Duration()),
		model.MetaIsShort:             r.IsShort,
		model.MetaTranscript:          r.Transcript,
		model.MetaTranscriptAvailable: r.TranscriptAvailable,
		model.MetaCategoryID:          r.CategoryID,
		model.MetaPosition:            position,
	}
}

// UpsertBatched 分批写入索引，返回写入的条目数。
func UpsertBatched(ctx context.Context, idx vectorindex.Index, entries []vectorindex.Entry, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = DefaultUpsertBatchSize
	}
	written := 0
	for start := 0; start < len(entries); start += batchSize {
		end := start + batchSize
		if end > len(entries) {
			end = len(entries)
		}
		if err := idx.Upsert(ctx, entries[start:end]); err != nil {
			return written, fmt.Errorf("写入第 %d-%d 条记录失败: %w", start, end, err)
		}
		written = end
		log.Infof("[Indexer] 已写入 %d/%d 条记录", written, len(entries))
	}
	return written, nil
}
