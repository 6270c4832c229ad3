package service

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"querytube-go/internal/config"
	"querytube-go/internal/model"
	"querytube-go/pkg/apperr"
	"querytube-go/pkg/embedding"
	"querytube-go/pkg/vectorindex"
)

var testDocs = []struct {
	id, title, transcript string
	duration              int64
}{
	{"abcdefghijk", "tokyo travel guide", "walking around shibuya at night", 600},
	{"bcdefghijkl", "cooking pasta at home", "", 90},
	{"cdefghijklm", "machine learning tools for beginners", "ai tools explained step by step", 1200},
	{"defghijklmn", "kyoto temples travel vlog", "", 0},
	{"efghijklmno", "best ai tools in 2024", "a long list of ai tools", 300},
	{"fghijklmnop", "street food in tokyo", "", 45},
}

func newTestIndex(t *testing.T, embedder embedding.Client) *vectorindex.Memory {
	t.Helper()
	idx := vectorindex.NewMemory()
	entries := make([]vectorindex.Entry, 0, len(testDocs))
	for i, d := range testDocs {
		text := d.title + " " + d.transcript
		vec, err := embedder.CreateEmbedding(context.Background(), text)
		require.NoError(t, err)
		entries = append(entries, vectorindex.Entry{
			ID:       d.id,
			Vector:   vec,
			Document: text,
			Metadata: vectorindex.Metadata{
				model.MetaOriginalID:   d.id,
				model.MetaTitle:        d.title,
				model.MetaChannelTitle: "channel",
				model.MetaViewCount:    int64(100 * (i + 1)),
				model.MetaDuration:     d.duration,
				model.MetaIsShort:      d.duration > 0 && d.duration < 120,
				model.MetaTranscript:   d.transcript,
				model.MetaPosition:     int64(i),
			},
		})
	}
	require.NoError(t, idx.Upsert(context.Background(), entries))
	return idx
}

func testSearchConfig() config.SearchConfig {
	return config.SearchConfig{Timeout: time.Second, SnippetLength: 20}
}

func resultIDs(res *model.SearchResult) []string {
	ids := make([]string, 0, len(res.Results))
	for _, r := range res.Results {
		ids = append(ids, r.VideoID)
	}
	return ids
}

func TestBrowseMode(t *testing.T) {
	embedder := embedding.NewHashClient(32)
	svc := NewSearchService(newTestIndex(t, embedder), embedder, nil, testSearchConfig())

	res, err := svc.Search(context.Background(), "   ", 1, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"bcdefghijkl", "cdefghijklm"}, resultIDs(res))
	assert.True(t, res.HasMore)
	assert.Equal(t, len(testDocs), res.Total)
	for _, r := range res.Results {
		assert.Equal(t, 1.0, r.SimilarityScore)
	}
	assert.True(t, res.Results[0].IsShort)
	assert.Equal(t, int64(200), res.Results[0].Views)

	res, err = svc.Search(context.Background(), "", 5, 10)
	require.NoError(t, err)
	assert.Len(t, res.Results, 1)
	assert.False(t, res.HasMore)

	res, err = svc.Search(context.Background(), "", 50, 10)
	require.NoError(t, err)
	assert.Empty(t, res.Results)
	assert.False(t, res.HasMore)
}

func TestSemanticSearchRanksBestMatchFirst(t *testing.T) {
	embedder := embedding.NewHashClient(64)
	svc := NewSearchService(newTestIndex(t, embedder), embedder, nil, testSearchConfig())

	res, err := svc.Search(context.Background(), "AI Tools", 0, 3)
	require.NoError(t, err)
	require.Len(t, res.Results, 3)
	assert.Equal(t, "AI Tools", res.Query)
	assert.Contains(t, []string{"cdefghijklm", "efghijklmno"}, res.Results[0].VideoID)
	for i := 1; i < len(res.Results); i++ {
		assert.GreaterOrEqual(t, res.Results[i-1].SimilarityScore, res.Results[i].SimilarityScore)
	}
	first := res.Results[0]
	assert.Equal(t, "https://img.youtube.com/vi/"+first.VideoID+"/maxresdefault.jpg", first.ThumbnailURL)
	assert.Equal(t, "https://www.youtube.com/watch?v="+first.VideoID, first.VideoURL)
	assert.LessOrEqual(t, len([]rune(first.Transcript)), 23)
	assert.True(t, res.HasMore)
	assert.Equal(t, 3, res.TotalResults)
}

func TestSearchPaginationIsConsistent(t *testing.T) {
	embedder := embedding.NewHashClient(16)
	svc := NewSearchService(newTestIndex(t, embedder), embedder, nil, testSearchConfig())
	ctx := context.Background()

	for _, q := range []string{"tokyo travel", "ai tools", "cooking at home"} {
		for n := 1; n <= 4; n++ {
			head, err := svc.Search(ctx, q, 0, n)
			require.NoError(t, err)
			tail, err := svc.Search(ctx, q, n, 2)
			require.NoError(t, err)
			all, err := svc.Search(ctx, q, 0, n+2)
			require.NoError(t, err)
			assert.Equal(t, resultIDs(all), append(resultIDs(head), resultIDs(tail)...), "query %q n=%d", q, n)
		}
	}

	res, err := svc.Search(ctx, "tokyo travel", len(testDocs), 5)
	require.NoError(t, err)
	assert.Empty(t, res.Results)
	assert.False(t, res.HasMore)
}

func TestSearchNotInitialized(t *testing.T) {
	embedder := embedding.NewHashClient(8)
	for _, idx := range []vectorindex.Index{nil, vectorindex.NewLive(nil)} {
		svc := NewSearchService(idx, embedder, nil, testSearchConfig())
		_, err := svc.Search(context.Background(), "anything", 0, 10)
		require.Error(t, err)
		assert.Equal(t, http.StatusInternalServerError, apperr.HTTPStatus(err))
		assert.Equal(t, "Search engine not initialized", apperr.PublicMessage(err))
	}
}

type blockingEmbedder struct{ *embedding.HashClient }

func (blockingEmbedder) CreateEmbedding(ctx context.Context, _ string) ([]float32, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestSearchTimeout(t *testing.T) {
	idx := newTestIndex(t, embedding.NewHashClient(8))
	cfg := testSearchConfig()
	cfg.Timeout = 20 * time.Millisecond
	svc := NewSearchService(idx, blockingEmbedder{embedding.NewHashClient(8)}, nil, cfg)

	_, err := svc.Search(context.Background(), "slow query", 0, 5)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.Timeout))
	assert.Equal(t, http.StatusGatewayTimeout, apperr.HTTPStatus(err))
}

type countingEmbedder struct {
	*embedding.HashClient
	calls int
}

func (c *countingEmbedder) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	c.calls++
	return c.HashClient.CreateEmbedding(ctx, text)
}

type mapCache struct {
	mu   sync.Mutex
	vecs map[string][]float32
}

func (m *mapCache) Get(_ context.Context, modelName, query string) ([]float32, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vecs[modelName+"|"+query]
	return v, ok
}

func (m *mapCache) Set(_ context.Context, modelName, query string, vec []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vecs[modelName+"|"+query] = vec
	return nil
}

func TestQueryVectorCache(t *testing.T) {
	embedder := &countingEmbedder{HashClient: embedding.NewHashClient(16)}
	cache := &mapCache{vecs: map[string][]float32{}}
	svc := NewSearchService(newTestIndex(t, embedder.HashClient), embedder, cache, testSearchConfig())

	first, err := svc.Search(context.Background(), "Tokyo Travel", 0, 3)
	require.NoError(t, err)
	second, err := svc.Search(context.Background(), "  tokyo travel ", 0, 3)
	require.NoError(t, err)

	assert.Equal(t, 1, embedder.calls)
	assert.Equal(t, resultIDs(first), resultIDs(second))
	assert.Contains(t, cache.vecs, "hash-bow|tokyo travel")
}

func TestRecoverVideoID(t *testing.T) {
	tests := []struct {
		id   string
		md   vectorindex.Metadata
		want string
	}{
		{"abcdefghijk_2", vectorindex.Metadata{model.MetaOriginalID: "abcdefghijk"}, "abcdefghijk"},
		{"abcdefghijk_2", vectorindex.Metadata{}, "abcdefghijk"},
		{"a-c_efghijk", nil, "a-c_efghijk"},
		{"row-17", vectorindex.Metadata{}, ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RecoverVideoID(tt.id, tt.md), tt.id)
	}
}

func TestResultWithoutRecoverableID(t *testing.T) {
	idx := vectorindex.NewMemory()
	require.NoError(t, idx.Upsert(context.Background(), []vectorindex.Entry{
		{ID: "row-17", Vector: []float32{1, 0}, Metadata: vectorindex.Metadata{model.MetaTitle: " untitled "}},
	}))
	svc := NewSearchService(idx, embedding.NewHashClient(2), nil, testSearchConfig())
	res, err := svc.Search(context.Background(), "", 0, 10)
	require.NoError(t, err)
	require.Len(t, res.Results, 1)
	r := res.Results[0]
	assert.Equal(t, "", r.VideoID)
	assert.Equal(t, "", r.ThumbnailURL)
	assert.Equal(t, "", r.VideoURL)
	assert.Equal(t, "untitled", r.Title)
}

func TestSnippet(t *testing.T) {
	assert.Equal(t, "short", Snippet(" short ", 10))
	assert.Equal(t, "abc...", Snippet("abcdef", 3))
	assert.Equal(t, "東京タ...", Snippet("東京タワーの夜景", 3))
	assert.Equal(t, "full text", Snippet("full text", 0))
	assert.Equal(t, "", Snippet("", 5))
}
