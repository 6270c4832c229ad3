package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

// DefaultHashDimensions 是 hash 向量的默认维度。
const DefaultHashDimensions = 384

// HashClient 用词袋哈希生成向量，确定且无状态，用于本地运行和测试。
type HashClient struct {
	dims int
}

// NewHashClient 创建 HashClient，dims <= 0 时使用默认维度。
func NewHashClient(dims int) *HashClient {
	if dims <= 0 {
		dims = DefaultHashDimensions
	}
	return &HashClient{dims: dims}
}

func (h *HashClient) Model() string {
	return "hash-bow"
}

func (h *HashClient) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vec := make([]float32, h.dims)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		f := fnv.New32a()
		_, _ = f.Write([]byte(word))
		vec[int(f.Sum32()%uint32(h.dims))] += 1
	}
	var norm float64
	for _, x := range vec {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		// 空文本给一个固定方向，避免零向量
		vec[0] = 1
		return vec, nil
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec, nil
}

func (h *HashClient) CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, t := range texts {
		v, err := h.CreateEmbedding(ctx, t)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
