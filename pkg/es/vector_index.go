package es

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/elastic/go-elasticsearch/v8"

	"querytube-go/pkg/log"
	"querytube-go/pkg/vectorindex"
)

// maxResultWindow 对应 index.max_result_window 的默认值，from+size 不能超过它。
const maxResultWindow = 10000

// VectorIndex 用一个 ES 索引（或别名）实现 vectorindex.Index。
// cosine 相似度下 ES 的 _score = (1 + cos) / 2，因此距离 = 1 - cos = 2 - 2*_score。
type VectorIndex struct {
	client *elasticsearch.Client
	name   string
}

// NewVectorIndex 创建指向 name 的向量索引，name 可以是别名。
func NewVectorIndex(client *elasticsearch.Client, name string) *VectorIndex {
	return &VectorIndex{client: client, name: name}
}

// Name 返回索引或别名。
func (v *VectorIndex) Name() string {
	return v.name
}

type esDocument struct {
	Vector   []float32            `json:"vector,omitempty"`
	Document string               `json:"document"`
	Metadata vectorindex.Metadata `json:"metadata"`
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			ID     string     `json:"_id"`
			Score  float64    `json:"_score"`
			Source esDocument `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []map[string]struct {
		ID     string `json:"_id"`
		Status int    `json:"status"`
		Error  *struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error,omitempty"`
	} `json:"items"`
}

// Upsert 通过 _bulk 写入一批文档，相同 _id 会被覆盖。
func (v *VectorIndex) Upsert(ctx context.Context, entries []vectorindex.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, e := range entries {
		action := map[string]interface{}{
			"index": map[string]interface{}{"_index": v.name, "_id": e.ID},
		}
		if err := enc.Encode(action); err != nil {
			return fmt.Errorf("failed to encode bulk action: %w", err)
		}
		if err := enc.Encode(esDocument{Vector: e.Vector, Document: e.Document, Metadata: e.Metadata}); err != nil {
			return fmt.Errorf("failed to encode bulk document: %w", err)
		}
	}

	res, err := v.client.Bulk(
		&buf,
		v.client.Bulk.WithContext(ctx),
		v.client.Bulk.WithRefresh("true"),
	)
	if err != nil {
		return fmt.Errorf("elasticsearch bulk failed: %w", err)
	}
	var br bulkResponse
	if err := decodeResponse(res, &br); err != nil {
		return err
	}
	if br.Errors {
		for _, item := range br.Items {
			for _, result := range item {
				if result.Error != nil {
					log.Errorf("[ESIndex] 文档写入失败, id: %s, type: %s, reason: %s", result.ID, result.Error.Type, result.Error.Reason)
					return fmt.Errorf("bulk item %s failed: %s", result.ID, result.Error.Reason)
				}
			}
		}
		return fmt.Errorf("bulk request reported errors")
	}
	return nil
}

// Query 执行 kNN 检索，按距离升序返回。
func (v *VectorIndex) Query(ctx context.Context, vector []float32, k int) ([]vectorindex.Hit, error) {
	if k <= 0 {
		return []vectorindex.Hit{}, nil
	}
	if k > maxResultWindow {
		k = maxResultWindow
	}
	numCandidates := k * 2
	if numCandidates < 100 {
		numCandidates = 100
	}
	if numCandidates > maxResultWindow {
		numCandidates = maxResultWindow
	}
	body := map[string]interface{}{
		"knn": map[string]interface{}{
			"field":          "vector",
			"query_vector":   vector,
			"k":              k,
			"num_candidates": numCandidates,
		},
		"size":    k,
		"_source": []string{"document", "metadata"},
	}
	resp, err := v.search(ctx, body)
	if err != nil {
		return nil, err
	}
	hits := make([]vectorindex.Hit, 0, len(resp.Hits.Hits))
	for _, h := range resp.Hits.Hits {
		hits = append(hits, vectorindex.Hit{
			ID:       h.ID,
			Distance: ScoreToDistance(h.Score),
			Document: h.Source.Document,
			Metadata: h.Source.Metadata,
		})
	}
	return hits, nil
}

// Get 按写入顺序分页读取文档。
func (v *VectorIndex) Get(ctx context.Context, limit, offset int) ([]vectorindex.Hit, error) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 || offset >= maxResultWindow {
		return []vectorindex.Hit{}, nil
	}
	if offset+limit > maxResultWindow {
		limit = maxResultWindow - offset
	}
	body := map[string]interface{}{
		"query":   map[string]interface{}{"match_all": map[string]interface{}{}},
		"sort":    []interface{}{map[string]interface{}{"metadata.position": "asc"}},
		"from":    offset,
		"size":    limit,
		"_source": []string{"document", "metadata"},
	}
	resp, err := v.search(ctx, body)
	if err != nil {
		return nil, err
	}
	hits := make([]vectorindex.Hit, 0, len(resp.Hits.Hits))
	for _, h := range resp.Hits.Hits {
		hits = append(hits, vectorindex.Hit{ID: h.ID, Document: h.Source.Document, Metadata: h.Source.Metadata})
	}
	return hits, nil
}

// Count 返回文档数量。
func (v *VectorIndex) Count(ctx context.Context) (int, error) {
	res, err := v.client.Count(
		v.client.Count.WithContext(ctx),
		v.client.Count.WithIndex(v.name),
	)
	if err != nil {
		return 0, fmt.Errorf("elasticsearch count failed: %w", err)
	}
	var out struct {
		Count int `json:"count"`
	}
	if err := decodeResponse(res, &out); err != nil {
		return 0, err
	}
	return out.Count, nil
}

func (v *VectorIndex) search(ctx context.Context, body map[string]interface{}) (*searchResponse, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, fmt.Errorf("failed to encode es query: %w", err)
	}
	res, err := v.client.Search(
		v.client.Search.WithContext(ctx),
		v.client.Search.WithIndex(v.name),
		v.client.Search.WithBody(&buf),
	)
	if err != nil {
		log.Errorf("[ESIndex] 向 Elasticsearch 发送搜索请求失败: %v", err)
		return nil, fmt.Errorf("elasticsearch search failed: %w", err)
	}
	var resp searchResponse
	if err := decodeResponse(res, &resp); err != nil {
		log.Errorf("[ESIndex] Elasticsearch 返回错误: %v", err)
		return nil, err
	}
	return &resp, nil
}

// ScoreToDistance 把 cosine 相似度下的 _score 换算成 [0, 2] 的余弦距离。
func ScoreToDistance(score float64) float64 {
	d := 2 - 2*score
	if d < 0 {
		return 0
	}
	if d > vectorindex.MaxDistance {
		return vectorindex.MaxDistance
	}
	return d
}
