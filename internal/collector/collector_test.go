package collector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"querytube-go/internal/config"
	"querytube-go/internal/model"
	"querytube-go/pkg/apperr"
	"querytube-go/pkg/youtube"
)

type fakeSource struct {
	playlists   map[string][]string
	durations   map[string]string
	transcripts map[string]error
}

func (f *fakeSource) UploadsPlaylistID(_ context.Context, channelID string) (string, error) {
	if _, ok := f.playlists[channelID]; !ok {
		return "", apperr.New(apperr.InputNotFound, "test", "no channel")
	}
	return channelID, nil
}

func (f *fakeSource) PlaylistVideoIDs(_ context.Context, playlistID string, max int) ([]string, error) {
	ids := f.playlists[playlistID]
	if max > 0 && len(ids) > max {
		ids = ids[:max]
	}
	return ids, nil
}

func (f *fakeSource) Videos(_ context.Context, ids []string) ([]model.VideoRecord, error) {
	out := make([]model.VideoRecord, 0, len(ids))
	for _, id := range ids {
		out = append(out, model.VideoRecord{ID: id, DurationRaw: f.durations[id]})
	}
	return out, nil
}

func (f *fakeSource) Transcript(_ context.Context, id, _ string) (string, model.TranscriptKind, error) {
	if err := f.transcripts[id]; err != nil {
		return "", "", err
	}
	return "transcript of " + id, model.TranscriptManual, nil
}

type memoryPublisher struct {
	mu    sync.Mutex
	snaps []model.ProgressSnapshot
}

func (p *memoryPublisher) Save(_ context.Context, s model.ProgressSnapshot) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snaps = append(p.snaps, s)
	return nil
}

func TestCollectVideosDeduplicatesAndFilters(t *testing.T) {
	src := &fakeSource{
		playlists: map[string][]string{
			"UC1": {"abcdefghijk", "bcdefghijkl"},
			"UC2": {"bcdefghijkl", "cdefghijklm"},
		},
		durations: map[string]string{"abcdefghijk": "PT30S", "bcdefghijkl": "PT10M", "cdefghijklm": "garbage"},
	}
	c := New(src, config.YouTubeConfig{ChannelIDs: []string{"UC1", "missing", "UC2"}, MinDurationSeconds: 60}, NewTracker("run"), nil)

	videos, err := c.CollectVideos(context.Background())
	require.NoError(t, err)
	ids := make([]string, 0, len(videos))
	for _, v := range videos {
		ids = append(ids, v.ID)
	}
	assert.Equal(t, []string{"bcdefghijkl", "cdefghijklm"}, ids)
}

func TestCollectVideosRequiresChannels(t *testing.T) {
	_, err := New(&fakeSource{}, config.YouTubeConfig{}, NewTracker("run"), nil).CollectVideos(context.Background())
	assert.True(t, apperr.Is(err, apperr.Validation))
}

func TestCollectTranscripts(t *testing.T) {
	src := &fakeSource{transcripts: map[string]error{
		"bcdefghijkl": youtube.ErrNoTranscript,
		"cdefghijklm": errors.New("connection reset"),
	}}
	pub := &memoryPublisher{}
	c := New(src, config.YouTubeConfig{}, NewTracker("run"), pub)

	videos := []model.VideoRecord{{ID: "abcdefghijk"}, {ID: "bcdefghijkl"}, {ID: "cdefghijklm"}}
	out, err := c.CollectTranscripts(context.Background(), videos)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, model.TranscriptManual, out[0].SourceKind)

	snap := c.Tracker().Snapshot()
	assert.Equal(t, StatusFinished, snap.Status)
	assert.Equal(t, 3, snap.Processed)
	assert.Equal(t, 1, snap.Succeeded)
	assert.Equal(t, 2, snap.Failed)
	assert.Equal(t, 1, snap.TranscriptKinds["manual"])
	assert.Len(t, snap.RecentErrors, 2)
	assert.NotEmpty(t, pub.snaps)
	assert.Equal(t, StatusFinished, pub.snaps[len(pub.snaps)-1].Status)
}

func TestCollectTranscriptsStopsOnQuota(t *testing.T) {
	src := &fakeSource{transcripts: map[string]error{
		"bcdefghijkl": apperr.New(apperr.QuotaExceeded, "test", "quota"),
	}}
	c := New(src, config.YouTubeConfig{}, NewTracker("run"), nil)
	out, err := c.CollectTranscripts(context.Background(), []model.VideoRecord{{ID: "abcdefghijk"}, {ID: "bcdefghijkl"}, {ID: "cdefghijklm"}})
	assert.True(t, apperr.Is(err, apperr.QuotaExceeded))
	assert.Len(t, out, 1)
	assert.Equal(t, StatusFailed, c.Tracker().Snapshot().Status)
}

func TestTrackerKeepsRecentErrorsAndETA(t *testing.T) {
	tr := NewTracker("run")
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tr.startedAt = start
	clock := start
	tr.now = func() time.Time { return clock }

	tr.SetTotal(20)
	for i := 0; i < 15; i++ {
		clock = clock.Add(2 * time.Second)
		tr.Fail(fmt.Sprintf("v%d", i), errors.New("x"))
	}
	snap := tr.Snapshot()
	assert.Len(t, snap.RecentErrors, maxRecentErrors)
	assert.Equal(t, "v14: x", snap.RecentErrors[maxRecentErrors-1])
	assert.Equal(t, 10, snap.ETASeconds)

	// 快照是副本
	snap.TranscriptKinds["manual"] = 99
	assert.Zero(t, tr.Snapshot().TranscriptKinds["manual"])
}

func TestTrackerTruncatesErrorsByRune(t *testing.T) {
	tr := NewTracker("run")
	tr.Fail("abcdefghijk", errors.New(strings.Repeat("字幕", 100)))

	msg := tr.Snapshot().RecentErrors[0]
	assert.True(t, utf8.ValidString(msg))
	assert.Equal(t, maxErrorLength, utf8.RuneCountInString(msg))
	assert.True(t, strings.HasSuffix(msg, "..."))

	tr.Fail("short", errors.New("x"))
	assert.Equal(t, "short: x", tr.Snapshot().RecentErrors[1])
}
