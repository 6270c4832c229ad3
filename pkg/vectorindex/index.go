// Package vectorindex 定义了向量索引的接口以及一个内存实现。
//
// 距离统一使用余弦距离（1 - cosine），取值范围 [0, 2]，越小越相似。
package vectorindex

import (
	"context"
	"errors"
)

// MaxDistance 是余弦距离的上界。
const MaxDistance = 2.0

// ErrDimensionMismatch 表示向量维度与索引中已有的不一致。
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// ErrNotInitialized 表示服务启动时索引没有加载成功。
var ErrNotInitialized = errors.New("vector index is not initialized")

// Metadata 只允许标量值：string、int64、float64、bool。
type Metadata map[string]interface{}

// Entry 是写入索引的一条记录。
type Entry struct {
	ID       string
	Vector   []float32
	Document string
	Metadata Metadata
}

// Hit 是查询返回的一条结果，Distance 越小越相似；浏览模式下 Distance 为 0。
type Hit struct {
	ID       string
	Distance float64
	Document string
	Metadata Metadata
}

// Index 是检索核心依赖的向量索引能力。
// Upsert 对相同 ID 执行覆盖；Query 按距离升序返回；Get 按写入顺序分页。
type Index interface {
	Upsert(ctx context.Context, entries []Entry) error
	Query(ctx context.Context, vector []float32, k int) ([]Hit, error)
	Get(ctx context.Context, limit, offset int) ([]Hit, error)
	Count(ctx context.Context) (int, error)
}

// String 读取字符串类型的元数据，缺失时返回空字符串。
func (m Metadata) String(key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return toString(v)
	}
}

// Int 读取整数类型的元数据，兼容 JSON 解码后的 float64 和字符串。
func (m Metadata) Int(key string) int64 {
	switch v := m[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	case float32:
		return int64(v)
	case string:
		return parseInt(v)
	}
	return 0
}

// Bool 读取布尔类型的元数据，兼容 "true"/"True" 字符串。
func (m Metadata) Bool(key string) bool {
	switch v := m[key].(type) {
	case bool:
		return v
	case string:
		return v == "true" || v == "True" || v == "1"
	case int64:
		return v != 0
	case float64:
		return v != 0
	}
	return false
}
