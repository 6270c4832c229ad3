package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"querytube-go/internal/config"
	"querytube-go/internal/middleware"
	"querytube-go/internal/model"
	"querytube-go/internal/service"
	"querytube-go/pkg/apperr"
	"querytube-go/pkg/embedding"
	"querytube-go/pkg/tasks"
	"querytube-go/pkg/token"
	"querytube-go/pkg/vectorindex"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var titles = []string{
	"ai tools for productivity",
	"tokyo travel guide",
	"cooking pasta at home",
	"best ai tools review",
	"kyoto travel vlog",
	"learning go concurrency",
	"street food tour",
}

func newSearchRouter(t *testing.T, idx vectorindex.Index) *gin.Engine {
	t.Helper()
	embedder := embedding.NewHashClient(32)
	if idx == nil {
		mem := vectorindex.NewMemory()
		entries := make([]vectorindex.Entry, 0, len(titles))
		for i, title := range titles {
			vec, err := embedder.CreateEmbedding(context.Background(), title)
			require.NoError(t, err)
			id := fmt.Sprintf("video%06d", i)
			entries = append(entries, vectorindex.Entry{
				ID: id, Vector: vec, Document: title,
				Metadata: vectorindex.Metadata{model.MetaOriginalID: id, model.MetaTitle: title},
			})
		}
		require.NoError(t, mem.Upsert(context.Background(), entries))
		idx = mem
	}
	cfg := config.SearchConfig{DefaultLimit: 10, MaxLimit: 5, MinQueryLength: 3, Timeout: time.Second}
	h := NewSearchHandler(service.NewSearchService(idx, embedder, nil, cfg), cfg)

	r := gin.New()
	r.GET("/initial-videos", h.InitialVideos)
	r.POST("/search", h.Search)
	return r
}

func doJSON(r http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var out map[string]interface{}
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return w, out
}

func TestSearchValidation(t *testing.T) {
	r := newSearchRouter(t, nil)

	w, body := doJSON(r, http.MethodPost, "/search", `{"query":"ai"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Invalid query provided. Query must be at least 3 characters long.", body["error"])

	w, _ = doJSON(r, http.MethodPost, "/search", `{"query":"   ai   "}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, body = doJSON(r, http.MethodPost, "/search", `{"query":"ai tools","offset":"abc"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, body, "error")

	w, _ = doJSON(r, http.MethodPost, "/search", `not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSearchReturnsRankedResults(t *testing.T) {
	r := newSearchRouter(t, nil)

	w, body := doJSON(r, http.MethodPost, "/search", `{"query":"ai tools","limit":2}`)
	require.Equal(t, http.StatusOK, w.Code)
	results := body["results"].([]interface{})
	require.Len(t, results, 2)
	top := results[0].(map[string]interface{})
	assert.Contains(t, top["title"], "ai tools")
	assert.Equal(t, true, body["has_more"])
	assert.Equal(t, float64(len(titles)), body["total"])

	// limit 超过上限时被截断
	w, body = doJSON(r, http.MethodPost, "/search", `{"query":"travel","offset":-4,"limit":500}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["results"], 5)
}

func TestInitialVideos(t *testing.T) {
	r := newSearchRouter(t, nil)

	w, body := doJSON(r, http.MethodGet, "/initial-videos?offset=5&limit=3", "")
	require.Equal(t, http.StatusOK, w.Code)
	videos := body["videos"].([]interface{})
	assert.Len(t, videos, 2)
	assert.Equal(t, false, body["has_more"])
	assert.Equal(t, "video000005", videos[0].(map[string]interface{})["video_id"])
	assert.Equal(t, float64(1), videos[0].(map[string]interface{})["similarity_score"])

	w, body = doJSON(r, http.MethodGet, "/initial-videos?offset=100", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, body["videos"])
	assert.Equal(t, false, body["has_more"])

	w, _ = doJSON(r, http.MethodGet, "/initial-videos?limit=ten", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSearchEngineNotInitialized(t *testing.T) {
	r := newSearchRouter(t, vectorindex.NewLive(nil))

	w, body := doJSON(r, http.MethodGet, "/initial-videos", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Search engine not initialized", body["error"])

	w, body = doJSON(r, http.MethodPost, "/search", `{"query":"ai tools"}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Search engine not initialized", body["error"])
}

type fakeAdminService struct {
	mu        sync.Mutex
	requested []service.RebuildRequest
	by        []string
	snapshots []*model.ProgressSnapshot
	calls     int
}

func (f *fakeAdminService) RequestRebuild(_ context.Context, req service.RebuildRequest, requestedBy string) (*tasks.IndexBuildTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if strings.HasSuffix(req.ObjectName, ".txt") {
		return nil, apperr.New(apperr.Validation, "admin.rebuild", "object_name must be a .csv or .parquet dataset")
	}
	f.requested = append(f.requested, req)
	f.by = append(f.by, requestedBy)
	return &tasks.IndexBuildTask{TaskID: "task-1", ObjectName: req.ObjectName, RequestedBy: requestedBy}, nil
}

func (f *fakeAdminService) ListGenerations(limit int) ([]model.GenerationDTO, error) {
	return []model.GenerationDTO{{TaskID: "task-1", IndexName: "youtube_videos_20240101000000", Status: model.GenerationActive}}, nil
}

func (f *fakeAdminService) CollectionStatus(context.Context) (*model.ProgressSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.snapshots) == 0 {
		return nil, apperr.New(apperr.InputNotFound, "admin.progress", "No collection run recorded")
	}
	i := f.calls
	if i >= len(f.snapshots) {
		i = len(f.snapshots) - 1
	}
	f.calls++
	return f.snapshots[i], nil
}

func newAdminRouter(t *testing.T, svc service.AdminService) (*gin.Engine, string) {
	t.Helper()
	m := token.NewJWTManager("handler-secret", 1)
	tok, err := m.GenerateToken("ops", token.RoleAdmin)
	require.NoError(t, err)

	h := NewAdminHandler(svc, 10*time.Millisecond)
	r := gin.New()
	admin := r.Group("/api/v1/admin", middleware.AuthMiddleware(m), middleware.AdminAuthMiddleware())
	admin.POST("/index/rebuild", h.RebuildIndex)
	admin.GET("/generations", h.ListGenerations)
	admin.GET("/collection/status", h.CollectionStatus)
	admin.GET("/collection/ws", h.CollectionStream)
	return r, tok
}

func TestAdminRebuildAndGenerations(t *testing.T) {
	svc := &fakeAdminService{}
	r, tok := newAdminRouter(t, svc)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/index/rebuild", bytes.NewBufferString(`{"object_name":"runs/r1/embedded.parquet"}`))
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusAccepted, w.Code)
	require.Len(t, svc.by, 1)
	assert.Equal(t, "ops", svc.by[0])

	// 空请求体使用本地数据集
	req = httptest.NewRequest(http.MethodPost, "/api/v1/admin/index/rebuild", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusAccepted, w.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/admin/index/rebuild", bytes.NewBufferString(`{"object_name":"notes.txt"}`))
	req.Header.Set("Authorization", "Bearer "+tok)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/admin/generations", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "youtube_videos_20240101000000")

	req = httptest.NewRequest(http.MethodGet, "/api/v1/admin/collection/status", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "No collection run recorded")
}

func TestCollectionStreamPushesUntilFinished(t *testing.T) {
	svc := &fakeAdminService{snapshots: []*model.ProgressSnapshot{
		{RunID: "r1", Status: model.ProgressRunning, Processed: 1, UpdatedAt: "t1"},
		{RunID: "r1", Status: model.ProgressRunning, Processed: 1, UpdatedAt: "t1"},
		{RunID: "r1", Status: model.ProgressRunning, Processed: 2, UpdatedAt: "t2"},
		{RunID: "r1", Status: model.ProgressFinished, Processed: 3, UpdatedAt: "t3"},
	}}
	r, tok := newAdminRouter(t, svc)
	srv := httptest.NewServer(r)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/admin/collection/ws?token=" + tok
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var processed []int
	for {
		var snap model.ProgressSnapshot
		if err := conn.ReadJSON(&snap); err != nil {
			break
		}
		processed = append(processed, snap.Processed)
	}
	assert.Equal(t, []int{1, 2, 3}, processed)
}

func TestCollectionStreamSendsFinalSnapshotWithinSameSecond(t *testing.T) {
	svc := &fakeAdminService{snapshots: []*model.ProgressSnapshot{
		{RunID: "r1", Status: model.ProgressRunning, Processed: 2, UpdatedAt: "t1"},
		{RunID: "r1", Status: model.ProgressFinished, Processed: 3, UpdatedAt: "t1"},
	}}
	r, tok := newAdminRouter(t, svc)
	srv := httptest.NewServer(r)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/admin/collection/ws?token=" + tok
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var got []model.ProgressSnapshot
	for {
		var snap model.ProgressSnapshot
		if err := conn.ReadJSON(&snap); err != nil {
			break
		}
		got = append(got, snap)
	}
	require.Len(t, got, 2)
	assert.Equal(t, 3, got[1].Processed)
	assert.Equal(t, model.ProgressFinished, got[1].Status)
}
