package repository

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"querytube-go/internal/model"
)

// ErrNoRedis 表示没有配置 Redis，调用方应当降级处理。
var ErrNoRedis = errors.New("redis is not configured")

// AttemptRepository 统计 Kafka 任务的失败次数。
type AttemptRepository interface {
	Incr(ctx context.Context, taskID string) (int64, error)
	Reset(ctx context.Context, taskID string) error
}

type attemptRepository struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewAttemptRepository 创建 AttemptRepository，计数 24 小时后过期。
func NewAttemptRepository(rdb *redis.Client) AttemptRepository {
	return &attemptRepository{rdb: rdb, ttl: 24 * time.Hour}
}

func attemptKey(taskID string) string {
	return fmt.Sprintf("kafka:attempts:%s", taskID)
}

func (r *attemptRepository) Incr(ctx context.Context, taskID string) (int64, error) {
	if r.rdb == nil {
		return 0, ErrNoRedis
	}
	n, err := r.rdb.Incr(ctx, attemptKey(taskID)).Result()
	if err != nil {
		return 0, err
	}
	_ = r.rdb.Expire(ctx, attemptKey(taskID), r.ttl).Err()
	return n, nil
}

func (r *attemptRepository) Reset(ctx context.Context, taskID string) error {
	if r.rdb == nil {
		return nil
	}
	return r.rdb.Del(ctx, attemptKey(taskID)).Err()
}

// EmbeddingCacheRepository 缓存查询文本的向量，避免重复请求 Embedding API。
type EmbeddingCacheRepository interface {
	Get(ctx context.Context, model, query string) ([]float32, bool)
	Set(ctx context.Context, model, query string, vec []float32) error
}

type embeddingCacheRepository struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewEmbeddingCacheRepository 创建向量缓存；rdb 为 nil 时所有读取都未命中。
func NewEmbeddingCacheRepository(rdb *redis.Client, ttl time.Duration) EmbeddingCacheRepository {
	return &embeddingCacheRepository{rdb: rdb, ttl: ttl}
}

// EmbeddingCacheKey 返回 query:vec:<model>:<sha1(query)>。
func EmbeddingCacheKey(model, query string) string {
	sum := sha1.Sum([]byte(query))
	return "query:vec:" + model + ":" + hex.EncodeToString(sum[:])
}

func (r *embeddingCacheRepository) Get(ctx context.Context, model, query string) ([]float32, bool) {
	if r.rdb == nil {
		return nil, false
	}
	raw, err := r.rdb.Get(ctx, EmbeddingCacheKey(model, query)).Bytes()
	if err != nil {
		return nil, false
	}
	var vec []float32
	if err := json.Unmarshal(raw, &vec); err != nil || len(vec) == 0 {
		return nil, false
	}
	return vec, true
}

func (r *embeddingCacheRepository) Set(ctx context.Context, model, query string, vec []float32) error {
	if r.rdb == nil {
		return nil
	}
	raw, err := json.Marshal(vec)
	if err != nil {
		return err
	}
	return r.rdb.Set(ctx, EmbeddingCacheKey(model, query), raw, r.ttl).Err()
}

// ProgressRepository 保存最近一次采集的进度快照。
type ProgressRepository interface {
	Save(ctx context.Context, snap model.ProgressSnapshot) error
	Latest(ctx context.Context) (*model.ProgressSnapshot, error)
}

const progressKey = "collector:progress:latest"

type progressRepository struct {
	rdb *redis.Client
}

// NewProgressRepository 创建 ProgressRepository。
func NewProgressRepository(rdb *redis.Client) ProgressRepository {
	return &progressRepository{rdb: rdb}
}

func (r *progressRepository) Save(ctx context.Context, snap model.ProgressSnapshot) error {
	if r.rdb == nil {
		return ErrNoRedis
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return r.rdb.Set(ctx, progressKey, raw, 7*24*time.Hour).Err()
}

// Latest 返回最近的快照；从未采集过时返回 nil, nil。
func (r *progressRepository) Latest(ctx context.Context) (*model.ProgressSnapshot, error) {
	if r.rdb == nil {
		return nil, ErrNoRedis
	}
	raw, err := r.rdb.Get(ctx, progressKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var snap model.ProgressSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}
