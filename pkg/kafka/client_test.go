package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"querytube-go/pkg/tasks"
)

type fakeCommitter struct{ commits int }

func (f *fakeCommitter) CommitMessages(context.Context, ...kafka.Message) error {
	f.commits++
	return nil
}

// fakeProcessor 前 failures 次调用返回 err，之后成功。failures < 0 表示一直失败。
type fakeProcessor struct {
	err      error
	failures int
	calls    int
}

func (f *fakeProcessor) Process(context.Context, tasks.IndexBuildTask) error {
	f.calls++
	if f.err != nil && (f.failures < 0 || f.calls <= f.failures) {
		return f.err
	}
	return nil
}

func init() {
	retryDelay = 0
}

type fakeAttempts struct {
	counts map[string]int64
	resets int
	err    error
}

func (f *fakeAttempts) Incr(_ context.Context, id string) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.counts[id]++
	return f.counts[id], nil
}

func (f *fakeAttempts) Reset(context.Context, string) error {
	f.resets++
	return nil
}

func message(t *testing.T, task tasks.IndexBuildTask) kafka.Message {
	raw, err := json.Marshal(task)
	require.NoError(t, err)
	return kafka.Message{Value: raw}
}

func TestHandleMessageSuccessCommits(t *testing.T) {
	c := &fakeCommitter{}
	a := &fakeAttempts{counts: map[string]int64{}}
	ok := handleMessage(context.Background(), c, message(t, tasks.IndexBuildTask{TaskID: "t1"}), &fakeProcessor{}, a, 3)
	assert.True(t, ok)
	assert.Equal(t, 1, c.commits)
	assert.Equal(t, 1, a.resets)
}

func TestHandleMessageRetriesUntilLimit(t *testing.T) {
	c := &fakeCommitter{}
	a := &fakeAttempts{counts: map[string]int64{}}
	p := &fakeProcessor{err: errors.New("boom"), failures: -1}
	m := message(t, tasks.IndexBuildTask{TaskID: "t1"})

	assert.True(t, handleMessage(context.Background(), c, m, p, a, 3))
	assert.Equal(t, 3, p.calls)
	assert.Equal(t, 1, c.commits)
	assert.Equal(t, 0, a.resets)
}

func TestHandleMessageRetriesLocallyUntilSuccess(t *testing.T) {
	c := &fakeCommitter{}
	a := &fakeAttempts{counts: map[string]int64{}}
	p := &fakeProcessor{err: errors.New("boom"), failures: 2}

	assert.True(t, handleMessage(context.Background(), c, message(t, tasks.IndexBuildTask{TaskID: "t1"}), p, a, 5))
	assert.Equal(t, 3, p.calls)
	assert.Equal(t, 1, c.commits)
	assert.Equal(t, 1, a.resets)
}

func TestHandleMessageCanceledIsNotCommitted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := &fakeCommitter{}
	p := &fakeProcessor{err: errors.New("boom"), failures: -1}

	assert.False(t, handleMessage(ctx, c, message(t, tasks.IndexBuildTask{TaskID: "t1"}), p, &fakeAttempts{counts: map[string]int64{}}, 3))
	assert.Equal(t, 1, p.calls)
	assert.Equal(t, 0, c.commits)
}

func TestHandleMessageMalformedIsCommitted(t *testing.T) {
	c := &fakeCommitter{}
	ok := handleMessage(context.Background(), c, kafka.Message{Value: []byte("{not json")}, &fakeProcessor{}, &fakeAttempts{}, 3)
	assert.True(t, ok)
	assert.Equal(t, 1, c.commits)
}

func TestHandleMessageCounterUnavailable(t *testing.T) {
	c := &fakeCommitter{}
	a := &fakeAttempts{err: errors.New("redis down")}
	p := &fakeProcessor{err: errors.New("boom"), failures: -1}
	ok := handleMessage(context.Background(), c, message(t, tasks.IndexBuildTask{TaskID: "t1"}), p, a, 3)
	assert.True(t, ok)
	assert.Equal(t, 3, p.calls)
	assert.Equal(t, 1, c.commits)
}

func TestBrokerList(t *testing.T) {
	assert.Equal(t, []string{"a:9092", "b:9092"}, brokerList(" a:9092, ,b:9092"))
	assert.Nil(t, brokerList(""))
}
