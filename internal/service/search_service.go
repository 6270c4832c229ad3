// Package service 提供了检索相关的业务逻辑。
package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"querytube-go/internal/config"
	"querytube-go/internal/model"
	"querytube-go/internal/repository"
	"querytube-go/pkg/apperr"
	"querytube-go/pkg/embedding"
	"querytube-go/pkg/log"
	"querytube-go/pkg/textnorm"
	"querytube-go/pkg/vectorindex"
)

// ErrNotInitialized 在服务启动时索引未能加载时返回。
var ErrNotInitialized = apperr.New(apperr.UpstreamUnavailable, "search", "Search engine not initialized")

const (
	thumbnailURLFormat = "https://img.youtube.com/vi/%s/maxresdefault.jpg"
	videoURLFormat     = "https://www.youtube.com/watch?v=%s"
)

var (
	suffixedID = regexp.MustCompile(`^([A-Za-z0-9_-]{11})_\d+$`)
	plainID    = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)
)

// SearchService 接口定义了检索操作。
type SearchService interface {
	// Search 在 query 为空白时按写入顺序浏览，否则做语义检索，返回 [offset, offset+limit) 窗口。
	Search(ctx context.Context, query string, offset, limit int) (*model.SearchResult, error)
	// Count 返回索引中的文档数。
	Count(ctx context.Context) (int, error)
}

type searchService struct {
	index    vectorindex.Index
	embedder embedding.Client
	cache    repository.EmbeddingCacheRepository
	cfg      config.SearchConfig
}

// NewSearchService 创建一个新的 SearchService 实例。index 为 nil 时所有调用都返回 ErrNotInitialized。
func NewSearchService(index vectorindex.Index, embedder embedding.Client, cache repository.EmbeddingCacheRepository, cfg config.SearchConfig) SearchService {
	return &searchService{
		index:    index,
		embedder: embedder,
		cache:    cache,
		cfg:      cfg,
	}
}

func (s *searchService) Count(ctx context.Context) (int, error) {
	if s.index == nil {
		return 0, ErrNotInitialized
	}
	n, err := s.index.Count(ctx)
	if err != nil {
		return 0, s.mapError(err, "count")
	}
	return n, nil
}

func (s *searchService) Search(ctx context.Context, query string, offset, limit int) (*model.SearchResult, error) {
	if s.index == nil {
		return nil, ErrNotInitialized
	}
	if offset < 0 {
		offset = 0
	}
	if limit < 1 {
		limit = 1
	}
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	trimmed := strings.TrimSpace(query)

	total, countErr := s.index.Count(ctx)
	if countErr != nil {
		if errors.Is(countErr, vectorindex.ErrNotInitialized) || ctx.Err() != nil {
			return nil, s.mapError(countErr, "count")
		}
		log.Warnf("[SearchService] 获取索引文档数失败，has_more 退化为按 limit 判断, error: %v", countErr)
		total = -1
	}

	var (
		hits []vectorindex.Hit
		err  error
	)
	if trimmed == "" {
		log.Debugf("[SearchService] 浏览模式, offset: %d, limit: %d", offset, limit)
		hits, err = s.index.Get(ctx, limit, offset)
		if err != nil {
			return nil, s.mapError(err, "browse")
		}
		if len(hits) > limit {
			hits = hits[:limit]
		}
	} else {
		log.Infof("[SearchService] 开始执行语义检索, query: '%s', offset: %d, limit: %d", trimmed, offset, limit)
		hits, err = s.semantic(ctx, trimmed, offset, limit, total)
		if err != nil {
			return nil, err
		}
	}

	results := make([]model.VideoResult, 0, len(hits))
	for _, h := range hits {
		results = append(results, s.toResult(h))
	}

	res := &model.SearchResult{
		Query:        trimmed,
		LatencyMS:    time.Since(start).Milliseconds(),
		TotalResults: len(results),
		Results:      results,
	}
	if total >= 0 {
		res.Total = total
		res.HasMore = offset+len(results) < total
	} else {
		res.Total = offset + len(results)
		res.HasMore = len(results) == limit
	}
	log.Infof("[SearchService] 检索完成, query: '%s', 返回 %d 条, 耗时 %dms", trimmed, len(results), res.LatencyMS)
	return res, nil
}

// semantic 每次都从排名 0 开始取 offset+limit 个候选，再截取窗口。
func (s *searchService) semantic(ctx context.Context, query string, offset, limit, total int) ([]vectorindex.Hit, error) {
	k := offset + limit
	if total >= 0 && k > total {
		k = total
	}
	if k <= offset {
		return nil, nil
	}

	log.Debugf("[SearchService] 步骤1: 获取查询向量, query: %q", query)
	vec, err := s.queryVector(ctx, query)
	if err != nil {
		return nil, err
	}

	log.Debugf("[SearchService] 步骤2: 向量检索, k: %d", k)
	hits, err := s.index.Query(ctx, vec, k)
	if err != nil {
		return nil, s.mapError(err, "query")
	}
	if offset >= len(hits) {
		return nil, nil
	}
	end := offset + limit
	if end > len(hits) {
		end = len(hits)
	}
	return hits[offset:end], nil
}

// queryVector 用与建索引时相同的规则归一化查询文本，命中缓存时不再调用模型。
func (s *searchService) queryVector(ctx context.Context, query string) ([]float32, error) {
	text, ok := textnorm.Normalize(query)
	if !ok {
		text = strings.ToLower(query)
	}
	modelName := s.embedder.Model()
	if s.cache != nil {
		if vec, hit := s.cache.Get(ctx, modelName, text); hit {
			log.Debugf("[SearchService] 查询向量命中缓存, query: '%s'", text)
			return vec, nil
		}
	}
	vec, err := s.embedder.CreateEmbedding(ctx, text)
	if err != nil {
		log.Errorf("[SearchService] 向量化查询失败: %v", err)
		return nil, s.mapError(err, "embed")
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, modelName, text, vec); err != nil {
			log.Warnf("[SearchService] 写入查询向量缓存失败: %v", err)
		}
	}
	return vec, nil
}

func (s *searchService) mapError(err error, step string) error {
	op := "search." + step
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return apperr.Wrapf(apperr.Timeout, op, err, "Search timed out")
	case errors.Is(err, vectorindex.ErrNotInitialized):
		return ErrNotInitialized
	case apperr.Is(err, apperr.UpstreamUnavailable):
		return apperr.Wrapf(apperr.UpstreamUnavailable, op, err, "Search backend unavailable")
	default:
		return apperr.Wrapf(apperr.Internal, op, err, "Search failed")
	}
}

func (s *searchService) toResult(h vectorindex.Hit) model.VideoResult {
	md := h.Metadata
	id := RecoverVideoID(h.ID, md)
	r := model.VideoResult{
		VideoID:         id,
		Title:           strings.TrimSpace(md.String(model.MetaTitle)),
		Channel:         strings.TrimSpace(md.String(model.MetaChannelTitle)),
		Views:           md.Int(model.MetaViewCount),
		Likes:           md.Int(model.MetaLikeCount),
		CommentCount:    md.Int(model.MetaCommentCount),
		PublishedAt:     strings.TrimSpace(md.String(model.MetaPublishedAt)),
		Description:     strings.TrimSpace(md.String(model.MetaDescription)),
		Transcript:      Snippet(md.String(model.MetaTranscript), s.cfg.SnippetLength),
		Duration:        int(md.Int(model.MetaDuration)),
		IsShort:         md.Bool(model.MetaIsShort),
		SimilarityScore: vectorindex.Similarity(h.Distance),
	}
	if id != "" {
		r.ThumbnailURL = fmt.Sprintf(thumbnailURLFormat, id)
		r.VideoURL = fmt.Sprintf(videoURLFormat, id)
	}
	return r
}

// RecoverVideoID 依次尝试 original_id 元数据、带 _N 后缀的索引 ID、11 位的索引 ID。
func RecoverVideoID(indexID string, md vectorindex.Metadata) string {
	if id := strings.TrimSpace(md.String(model.MetaOriginalID)); id != "" {
		return id
	}
	indexID = strings.TrimSpace(indexID)
	if m := suffixedID.FindStringSubmatch(indexID); m != nil {
		return m[1]
	}
	if plainID.MatchString(indexID) {
		return indexID
	}
	return ""
}

// Snippet 截取前 n 个字符，n <= 0 时返回全文。
func Snippet(text string, n int) string {
	text = strings.TrimSpace(text)
	if n <= 0 || utf8.RuneCountInString(text) <= n {
		return text
	}
	runes := []rune(text)
	return strings.TrimSpace(string(runes[:n])) + "..."
}
