package vectorindex

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
)

// Builder 负责创建新的索引代次并在写入完成后切换为线上版本。
type Builder interface {
	NewGeneration(ctx context.Context, name string, dims int) (Index, error)
	Activate(ctx context.Context, name string) error
}

// Live 持有当前线上索引，切换代次时替换内部指针，读请求不受影响。
type Live struct {
	mu      sync.RWMutex
	current Index
}

// NewLive 用初始索引（可以为 nil）创建 Live。
func NewLive(idx Index) *Live {
	return &Live{current: idx}
}

// Swap 替换当前索引。
func (l *Live) Swap(idx Index) {
	l.mu.Lock()
	l.current = idx
	l.mu.Unlock()
}

// Current 返回当前索引，可能为 nil。
func (l *Live) Current() Index {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

func (l *Live) index() (Index, error) {
	idx := l.Current()
	if idx == nil {
		return nil, ErrNotInitialized
	}
	return idx, nil
}

func (l *Live) Upsert(ctx context.Context, entries []Entry) error {
	idx, err := l.index()
	if err != nil {
		return err
	}
	return idx.Upsert(ctx, entries)
}

func (l *Live) Query(ctx context.Context, vector []float32, k int) ([]Hit, error) {
	idx, err := l.index()
	if err != nil {
		return nil, err
	}
	return idx.Query(ctx, vector, k)
}

func (l *Live) Get(ctx context.Context, limit, offset int) ([]Hit, error) {
	idx, err := l.index()
	if err != nil {
		return nil, err
	}
	return idx.Get(ctx, limit, offset)
}

func (l *Live) Count(ctx context.Context) (int, error) {
	idx, err := l.index()
	if err != nil {
		return 0, err
	}
	return idx.Count(ctx)
}

// MemoryBuilder 在内存中构建代次，激活时写入快照目录并切换 Live。
type MemoryBuilder struct {
	live        *Live
	snapshotDir string

	mu      sync.Mutex
	pending map[string]*Memory
}

// NewMemoryBuilder 创建 MemoryBuilder；snapshotDir 为空时不落盘。
func NewMemoryBuilder(live *Live, snapshotDir string) *MemoryBuilder {
	return &MemoryBuilder{live: live, snapshotDir: snapshotDir, pending: make(map[string]*Memory)}
}

func (b *MemoryBuilder) NewGeneration(_ context.Context, name string, _ int) (Index, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m := NewMemory()
	b.pending[name] = m
	return m, nil
}

func (b *MemoryBuilder) Activate(_ context.Context, name string) error {
	b.mu.Lock()
	m, ok := b.pending[name]
	delete(b.pending, name)
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown generation %s", name)
	}
	if b.snapshotDir != "" {
		if err := m.Save(b.snapshotDir); err != nil {
			return err
		}
		// 同时保留按代次命名的副本，方便回滚
		if err := m.Save(filepath.Join(b.snapshotDir, "generations", name)); err != nil {
			return err
		}
	}
	b.live.Swap(m)
	return nil
}
