// Package pool 维护一组出站资源（通常是代理地址），按成功率和使用次数挑选下一个资源。
package pool

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"querytube-go/internal/model"
	"querytube-go/pkg/log"
)

const (
	initialRate   = 1.0
	successStep   = 0.1
	failureStep   = 0.3
	minRate       = 0.1
	unhealthyRate = 0.3
)

// ErrEmpty 表示资源池中没有任何资源。
var ErrEmpty = errors.New("resource pool is empty")

type resource struct {
	name     string
	rate     float64
	uses     int
	lastUsed time.Time
	healthy  bool
}

func (r *resource) score() float64 {
	return r.rate / float64(r.uses+1)
}

// Pool 是并发安全的资源池。
type Pool struct {
	mu        sync.Mutex
	resources []*resource
	maxUses   int
	cooldown  time.Duration
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
}

// New 创建资源池。maxUses <= 0 表示不限制单个资源的连续使用次数。
func New(names []string, maxUses int, cooldown time.Duration) *Pool {
	p := &Pool{maxUses: maxUses, cooldown: cooldown, now: time.Now, sleep: sleepCtx}
	seen := make(map[string]struct{}, len(names))
	for _, n := range names {
		if _, dup := seen[n]; dup || n == "" {
			continue
		}
		seen[n] = struct{}{}
		p.resources = append(p.resources, &resource{name: n, rate: initialRate, healthy: true})
	}
	return p
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Len 返回资源数量。
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.resources)
}

// Acquire 返回得分最高的健康资源；没有健康资源时先把全部资源恢复为健康再挑选。
// 选中的资源已达到使用上限时，等待冷却结束后清零计数。
func (p *Pool) Acquire(ctx context.Context) (string, error) {
	p.mu.Lock()
	if len(p.resources) == 0 {
		p.mu.Unlock()
		return "", ErrEmpty
	}

	var best *resource
	for _, r := range p.resources {
		if r.healthy && (best == nil || r.score() > best.score()) {
			best = r
		}
	}
	if best == nil {
		log.Warnf("[ResourcePool] 所有资源都不健康，重置健康状态")
		for _, r := range p.resources {
			r.healthy = true
		}
		for _, r := range p.resources {
			if best == nil || r.score() > best.score() {
				best = r
			}
		}
	}

	var wait time.Duration
	if p.maxUses > 0 && best.uses >= p.maxUses {
		if !best.lastUsed.IsZero() {
			wait = p.cooldown - p.now().Sub(best.lastUsed)
		}
		best.uses = 0
	}
	name := best.name
	p.mu.Unlock()

	if wait > 0 {
		log.Infof("[ResourcePool] 资源冷却中，等待 %.0fs", math.Ceil(wait.Seconds()))
		if err := p.sleep(ctx, wait); err != nil {
			return "", err
		}
	}
	return name, nil
}

func (p *Pool) find(name string) *resource {
	for _, r := range p.resources {
		if r.name == name {
			return r
		}
	}
	return nil
}

// MarkSuccess 记录一次成功使用。
func (p *Pool) MarkSuccess(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	r := p.find(name)
	if r == nil {
		return
	}
	r.uses++
	r.lastUsed = p.now()
	r.rate = math.Min(initialRate, r.rate+successStep)
	r.healthy = true
}

// MarkFailure 记录一次被拒绝的使用，成功率降到阈值以下时标记为不健康。
func (p *Pool) MarkFailure(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	r := p.find(name)
	if r == nil {
		return
	}
	r.rate = math.Max(minRate, r.rate-failureStep)
	if r.rate <= unhealthyRate+1e-9 {
		r.healthy = false
	}
}

// Stats 返回每个资源的当前状况。
func (p *Pool) Stats() []model.ResourceStat {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]model.ResourceStat, 0, len(p.resources))
	for _, r := range p.resources {
		out = append(out, model.ResourceStat{
			Name:        r.name,
			SuccessRate: math.Round(r.rate*100) / 100,
			Uses:        r.uses,
			Healthy:     r.healthy,
		})
	}
	return out
}
