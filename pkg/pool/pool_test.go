package pool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquirePrefersLeastUsed(t *testing.T) {
	p := New([]string{"a", "b", "a", ""}, 0, 0)
	assert.Equal(t, 2, p.Len())

	first, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a", first)
	p.MarkSuccess(first)

	second, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "b", second)
}

func TestFailuresMarkUnhealthy(t *testing.T) {
	p := New([]string{"a", "b"}, 0, 0)
	p.MarkFailure("a")
	p.MarkFailure("a")
	stats := p.Stats()
	assert.InDelta(t, 0.4, stats[0].SuccessRate, 1e-9)
	assert.True(t, stats[0].Healthy)

	p.MarkFailure("a")
	stats = p.Stats()
	assert.InDelta(t, 0.1, stats[0].SuccessRate, 1e-9)
	assert.False(t, stats[0].Healthy)

	// 再失败也不会低于下限
	p.MarkFailure("a")
	assert.InDelta(t, 0.1, p.Stats()[0].SuccessRate, 1e-9)

	p.MarkSuccess("b")
	p.MarkSuccess("b")
	got, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "b", got)
}

func TestAllUnhealthyResets(t *testing.T) {
	p := New([]string{"a"}, 0, 0)
	for i := 0; i < 3; i++ {
		p.MarkFailure("a")
	}
	got, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a", got)
	assert.True(t, p.Stats()[0].Healthy)
}

func TestCooldownAfterMaxUses(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var slept time.Duration
	p := New([]string{"a"}, 2, 30*time.Second)
	p.now = func() time.Time { return now }
	p.sleep = func(_ context.Context, d time.Duration) error {
		slept += d
		return nil
	}

	for i := 0; i < 2; i++ {
		name, err := p.Acquire(context.Background())
		require.NoError(t, err)
		p.MarkSuccess(name)
	}
	assert.Zero(t, slept)

	now = now.Add(10 * time.Second)
	_, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 20*time.Second, slept)
	assert.Equal(t, 0, p.Stats()[0].Uses)
}

func TestAcquireEmptyAndCancelled(t *testing.T) {
	_, err := New(nil, 0, 0).Acquire(context.Background())
	assert.ErrorIs(t, err, ErrEmpty)

	p := New([]string{"a"}, 1, time.Hour)
	p.MarkSuccess("a")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.Acquire(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
