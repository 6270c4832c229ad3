package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"querytube-go/internal/config"
	"querytube-go/pkg/apperr"
)

func TestCreateEmbeddingsKeepsInputOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var req embeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "mini", req.Model)

		// 故意倒序返回
		type item struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		}
		data := make([]item, 0, len(req.Input))
		for i := len(req.Input) - 1; i >= 0; i-- {
			data = append(data, item{Index: i, Embedding: []float32{float32(len(req.Input[i])), 1}})
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": data})
	}))
	defer srv.Close()

	c := NewClient(config.EmbeddingConfig{BaseURL: srv.URL + "/v1/", Model: "mini", APIKey: "secret"})
	vectors, err := c.CreateEmbeddings(context.Background(), []string{"a", "bbb"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 1}, {3, 1}}, vectors)

	dims, err := Probe(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, 2, dims)
	assert.Equal(t, "mini", c.Model())
}

func TestCreateEmbeddingsUpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(config.EmbeddingConfig{BaseURL: srv.URL, Model: "mini"})
	_, err := c.CreateEmbedding(context.Background(), "hello")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.UpstreamUnavailable))

	_, err = Probe(context.Background(), c)
	assert.True(t, apperr.Is(err, apperr.UpstreamUnavailable))
}

func TestCreateEmbeddingsEmptyInput(t *testing.T) {
	c := NewClient(config.EmbeddingConfig{BaseURL: "http://127.0.0.1:0", Model: "mini"})
	vectors, err := c.CreateEmbeddings(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vectors)
}

func TestHashClientDeterministic(t *testing.T) {
	c := NewClient(config.EmbeddingConfig{Provider: "hash", Dimensions: 16})
	a, err := c.CreateEmbedding(context.Background(), "Travel vlog Japan")
	require.NoError(t, err)
	b, err := c.CreateEmbedding(context.Background(), "travel VLOG japan")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 16)

	empty, err := c.CreateEmbedding(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, float32(1), empty[0])
}
