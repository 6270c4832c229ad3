package collector

import (
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"querytube-go/internal/model"
)

// maxRecentErrors 是快照中保留的最近错误条数。
const maxRecentErrors = 10

// maxErrorLength 是单条错误信息保留的最大字符数。
const maxErrorLength = 120

// 采集状态
const (
	StatusRunning  = model.ProgressRunning
	StatusFinished = model.ProgressFinished
	StatusFailed   = model.ProgressFailed
)

// Tracker 记录一次采集的进度，所有方法都可以并发调用。
type Tracker struct {
	mu        sync.Mutex
	runID     string
	status    string
	total     int
	processed int
	succeeded int
	failed    int
	current   string
	kinds     map[string]int
	errors    []string
	startedAt time.Time
	updatedAt time.Time
	resources func() []model.ResourceStat
	now       func() time.Time
}

// NewTracker 创建一个新的 Tracker。
func NewTracker(runID string) *Tracker {
	t := &Tracker{runID: runID, status: StatusRunning, kinds: make(map[string]int), now: time.Now}
	t.startedAt = t.now()
	t.updatedAt = t.startedAt
	return t
}

// WithResources 让快照附带资源池的状态。
func (t *Tracker) WithResources(fn func() []model.ResourceStat) *Tracker {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resources = fn
	return t
}

func (t *Tracker) SetTotal(total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.total = total
	t.updatedAt = t.now()
}

func (t *Tracker) SetCurrent(item string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current = item
	t.updatedAt = t.now()
}

// Succeed 记录一个成功处理的条目及其字幕来源。
func (t *Tracker) Succeed(kind model.TranscriptKind) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.processed++
	t.succeeded++
	if kind != "" {
		t.kinds[string(kind)]++
	}
	t.updatedAt = t.now()
}

// Fail 记录一个失败的条目，错误信息只保留最近的若干条。
func (t *Tracker) Fail(item string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.processed++
	t.failed++
	msg := truncateRunes(fmt.Sprintf("%s: %v", item, err), maxErrorLength)
	t.errors = append(t.errors, msg)
	if len(t.errors) > maxRecentErrors {
		t.errors = t.errors[len(t.errors)-maxRecentErrors:]
	}
	t.updatedAt = t.now()
}

func (t *Tracker) Finish(status string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = status
	t.current = ""
	t.updatedAt = t.now()
}

// Snapshot 返回当前进度的副本。
func (t *Tracker) Snapshot() model.ProgressSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	kinds := make(map[string]int, len(t.kinds))
	for k, v := range t.kinds {
		kinds[k] = v
	}
	snap := model.ProgressSnapshot{
		RunID:           t.runID,
		Status:          t.status,
		Total:           t.total,
		Processed:       t.processed,
		Succeeded:       t.succeeded,
		Failed:          t.failed,
		Current:         t.current,
		StartedAt:       t.startedAt.Format(time.RFC3339),
		UpdatedAt:       t.updatedAt.Format(time.RFC3339),
		TranscriptKinds: kinds,
		RecentErrors:    append([]string(nil), t.errors...),
	}
	if t.processed > 0 && t.total > t.processed {
		perItem := t.updatedAt.Sub(t.startedAt) / time.Duration(t.processed)
		snap.ETASeconds = int((perItem * time.Duration(t.total-t.processed)).Seconds())
	}
	if t.resources != nil {
		snap.Resources = t.resources()
	}
	return snap
}

// truncateRunes 按字符截断，超出时以 "..." 结尾，总长度不超过 n。
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-3]) + "..."
}
