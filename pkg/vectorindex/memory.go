package vectorindex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"querytube-go/pkg/apperr"
)

// SnapshotFile 是内存索引持久化目录中的文件名。
const SnapshotFile = "index.json"

// Memory 是暴力检索的内存索引，适合本地运行和测试。
// 读操作持有共享锁，可以被任意多个请求并发调用。
type Memory struct {
	mu      sync.RWMutex
	dims    int
	entries []Entry
	pos     map[string]int
}

// NewMemory 创建一个空的内存索引。
func NewMemory() *Memory {
	return &Memory{pos: make(map[string]int)}
}

// Upsert 写入或覆盖记录，同一批内的维度必须一致。
func (m *Memory) Upsert(ctx context.Context, entries []Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if e.ID == "" {
			return errors.New("entry id is empty")
		}
		if m.dims == 0 {
			m.dims = len(e.Vector)
		}
		if len(e.Vector) != m.dims {
			return fmt.Errorf("%w: id=%s got %d want %d", ErrDimensionMismatch, e.ID, len(e.Vector), m.dims)
		}
		e.Vector = append([]float32(nil), e.Vector...)
		if i, ok := m.pos[e.ID]; ok {
			m.entries[i] = e
			continue
		}
		m.pos[e.ID] = len(m.entries)
		m.entries = append(m.entries, e)
	}
	return nil
}

// Query 返回距离最近的 k 条记录，距离相同时保持写入顺序。
func (m *Memory) Query(ctx context.Context, vector []float32, k int) ([]Hit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if k <= 0 || len(m.entries) == 0 {
		return []Hit{}, nil
	}
	if len(vector) != m.dims {
		return nil, fmt.Errorf("%w: query has %d dims, index has %d", ErrDimensionMismatch, len(vector), m.dims)
	}
	hits := make([]Hit, 0, len(m.entries))
	for i, e := range m.entries {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		hits = append(hits, Hit{
			ID:       e.ID,
			Distance: CosineDistance(vector, e.Vector),
			Document: e.Document,
			Metadata: e.Metadata,
		})
	}
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Distance < hits[j].Distance
	})
	if k < len(hits) {
		hits = hits[:k]
	}
	return hits, nil
}

// Get 按写入顺序分页返回记录，距离固定为 0。
func (m *Memory) Get(ctx context.Context, limit, offset int) ([]Hit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 || offset >= len(m.entries) {
		return []Hit{}, nil
	}
	end := offset + limit
	if end > len(m.entries) {
		end = len(m.entries)
	}
	hits := make([]Hit, 0, end-offset)
	for _, e := range m.entries[offset:end] {
		hits = append(hits, Hit{ID: e.ID, Document: e.Document, Metadata: e.Metadata})
	}
	return hits, nil
}

// Count 返回记录数。
func (m *Memory) Count(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries), ctx.Err()
}

type snapshotEntry struct {
	ID       string    `json:"id"`
	Vector   []float32 `json:"vector"`
	Document string    `json:"document"`
	Metadata Metadata  `json:"metadata"`
}

// Save 把索引写入目录，先写临时文件再重命名。
func (m *Memory) Save(dir string) error {
	m.mu.RLock()
	snapshot := make([]snapshotEntry, 0, len(m.entries))
	for _, e := range m.entries {
		snapshot = append(snapshot, snapshotEntry{ID: e.ID, Vector: e.Vector, Document: e.Document, Metadata: e.Metadata})
	}
	m.mu.RUnlock()

	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return fmt.Errorf("创建索引目录失败: %w", err)
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("序列化索引失败: %w", err)
	}
	tmp := filepath.Join(dir, SnapshotFile+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("写入索引快照失败: %w", err)
	}
	return os.Rename(tmp, filepath.Join(dir, SnapshotFile))
}

// LoadMemory 从目录读取 Save 写出的快照。
func LoadMemory(dir string) (*Memory, error) {
	data, err := os.ReadFile(filepath.Join(dir, SnapshotFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apperr.Wrapf(apperr.UpstreamUnavailable, "vectorindex.load", err, "vector index snapshot not found in %s", dir)
		}
		return nil, err
	}
	var snapshot []snapshotEntry
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, apperr.Wrapf(apperr.UpstreamUnavailable, "vectorindex.load", err, "vector index snapshot in %s is corrupt", dir)
	}
	m := NewMemory()
	entries := make([]Entry, 0, len(snapshot))
	for _, s := range snapshot {
		entries = append(entries, Entry{ID: s.ID, Vector: s.Vector, Document: s.Document, Metadata: s.Metadata})
	}
	if err := m.Upsert(context.Background(), entries); err != nil {
		return nil, err
	}
	return m, nil
}
