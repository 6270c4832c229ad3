package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"querytube-go/internal/config"
	"querytube-go/internal/dataset"
	"querytube-go/internal/model"
	"querytube-go/internal/repository"
	"querytube-go/pkg/apperr"
	"querytube-go/pkg/embedding"
	"querytube-go/pkg/tasks"
	"querytube-go/pkg/vectorindex"
)

func testPipelineConfig(dir string) config.PipelineConfig {
	return config.PipelineConfig{
		DataDir:              dir,
		RawVideosFile:        "raw_videos.csv",
		RawTranscriptsFile:   "raw_transcripts.csv",
		CleanVideosFile:      "clean_videos.csv",
		CleanTranscriptsFile: "clean_transcripts.csv",
		MergedFile:           "merged.csv",
		EmbeddedCSVFile:      "embedded.csv",
		EmbeddedParquetFile:  "embedded.parquet",
		ReportFile:           "report.xlsx",
	}
}

func newGenerationRepo(t *testing.T) repository.GenerationRepository {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&model.IndexGeneration{}))
	return repository.NewGenerationRepository(db)
}

type recordingMirror struct {
	uploaded []string
}

func (m *recordingMirror) Upload(_ context.Context, runID, localPath string) (string, error) {
	m.uploaded = append(m.uploaded, filepath.Base(localPath))
	return runID + "/" + filepath.Base(localPath), nil
}

func (m *recordingMirror) Download(context.Context, string, string) error { return nil }

func seedRawFiles(t *testing.T, paths Paths) {
	t.Helper()
	require.NoError(t, dataset.WriteVideos(paths.RawVideos, []model.VideoRecord{
		{ID: "abcdefghijk", Title: "Japan Travel Vlog 🌸", Description: "Tokyo &amp; Kyoto", DurationRaw: "PT10M", PublishedAt: "2024-03-01T10:00:00Z", ViewCount: 100},
		{ID: "bcdefghijkl", Title: "Quick cooking tip", DurationRaw: "PT45S", PublishedAt: "bad"},
		{ID: "cdefghijklm", Title: "Guitar lesson", DurationRaw: "PTX"},
	}))
	require.NoError(t, dataset.WriteTranscripts(paths.RawTranscripts, []model.TranscriptRecord{
		{ID: "abcdefghijk", Transcript: "Welcome to Tokyo today we visit temples", SourceKind: model.TranscriptManual},
		{ID: "bcdefghijkl", Transcript: TranscriptErrorSentinel},
	}))
}

func TestRunnerStages(t *testing.T) {
	dir := t.TempDir()
	cfg := testPipelineConfig(dir)
	live := vectorindex.NewLive(nil)
	gens := newGenerationRepo(t)
	mirror := &recordingMirror{}

	r := NewRunner(cfg, "run1", embedding.NewHashClient(16), 2,
		vectorindex.NewMemoryBuilder(live, filepath.Join(dir, "index")), "youtube_videos", 2).
		WithGenerations(gens).
		WithMirror(mirror)
	r.now = func() time.Time { return time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC) }
	seedRawFiles(t, r.Paths())
	ctx := context.Background()

	cleanStats, err := r.Clean(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, cleanStats.MalformedDurations)
	assert.Equal(t, 1, cleanStats.MalformedDates)

	tStats, err := r.CleanTranscriptsStage(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, tStats.Dropped)

	mStats, err := r.Merge(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, mStats.Matched)

	merged, err := dataset.ReadMerged(r.Paths().Merged)
	require.NoError(t, err)
	require.Len(t, merged, 3)
	assert.True(t, merged[0].TranscriptAvailable)
	assert.Equal(t, "welcome to tokyo today we visit temples", merged[0].Transcript)
	assert.Equal(t, "tokyo kyoto", merged[0].Description)

	q, err := r.Report(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, q.Records)
	assert.Equal(t, 1, q.Shorts)
	assert.Equal(t, 1, q.UnknownDurations)
	_, err = os.Stat(r.Paths().Report)
	require.NoError(t, err)

	eStats, err := r.Embed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, eStats.Embedded)
	assert.Equal(t, 16, eStats.Dimensions)

	res, err := r.Index(ctx, "task-1", "tester")
	require.NoError(t, err)
	assert.Equal(t, "youtube_videos_20240506070809", res.IndexName)
	assert.Equal(t, 3, res.Written)

	count, err := live.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	gen, err := gens.FindByTaskID("task-1")
	require.NoError(t, err)
	assert.Equal(t, model.GenerationActive, gen.Status)
	assert.Equal(t, "hash-bow", gen.Model)

	_, err = vectorindex.LoadMemory(filepath.Join(dir, "index"))
	require.NoError(t, err)
	assert.Contains(t, mirror.uploaded, "merged.csv")
	assert.Contains(t, mirror.uploaded, "embedded.parquet")
}

func TestMergeRequiresInputs(t *testing.T) {
	r := NewRunner(testPipelineConfig(t.TempDir()), "run", nil, 0, nil, "p", 0)
	_, err := r.Merge(context.Background())
	assert.True(t, apperr.Is(err, apperr.InputNotFound))

	_, err = r.Embed(context.Background())
	assert.True(t, apperr.Is(err, apperr.UpstreamUnavailable))
}

type failingBuilder struct{}

func (b failingBuilder) NewGeneration(context.Context, string, int) (vectorindex.Index, error) {
	return vectorindex.NewMemory(), nil
}

func (b failingBuilder) Activate(context.Context, string) error {
	return assert.AnError
}

func TestBuildIndexFailureKeepsLiveIndex(t *testing.T) {
	previous := vectorindex.NewMemory()
	require.NoError(t, previous.Upsert(context.Background(), []vectorindex.Entry{{ID: "old", Vector: []float32{1, 0}}}))
	live := vectorindex.NewLive(previous)
	gens := newGenerationRepo(t)

	r := NewRunner(testPipelineConfig(t.TempDir()), "run", nil, 0, failingBuilder{}, "p", 0).WithGenerations(gens)
	_, err := r.BuildIndex(context.Background(), []model.EmbeddedRecord{embeddedRecord("abcdefghijk", "a", []float32{0, 1})}, "task-x", "")
	require.Error(t, err)

	n, _ := live.Count(context.Background())
	assert.Equal(t, 1, n)
	gen, err := gens.FindByTaskID("task-x")
	require.NoError(t, err)
	assert.Equal(t, model.GenerationFailed, gen.Status)

	_, err = r.BuildIndex(context.Background(), nil, "task-y", "")
	assert.True(t, apperr.Is(err, apperr.Validation))
}

func TestProcessorIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	cfg := testPipelineConfig(dir)
	live := vectorindex.NewLive(nil)
	gens := newGenerationRepo(t)
	r := NewRunner(cfg, "run", embedding.NewHashClient(4), 0, vectorindex.NewMemoryBuilder(live, ""), "p", 0).WithGenerations(gens)

	records := []model.EmbeddedRecord{
		embeddedRecord("abcdefghijk", "a", []float32{1, 0, 0, 0}),
		embeddedRecord("bcdefghijkl", "b", []float32{0, 1, 0, 0}),
	}
	records[0].TranscriptAvailable = true
	require.NoError(t, dataset.WriteEmbedded(r.Paths().EmbeddedCSV, records))

	p := NewProcessor(r, nil, gens)
	task := tasks.IndexBuildTask{TaskID: "t1", EmbedOnlyWithTranscript: true}
	require.NoError(t, p.Process(context.Background(), task))
	n, _ := live.Count(context.Background())
	assert.Equal(t, 1, n)

	// 重复投递不会再建一次索引
	require.NoError(t, p.Process(context.Background(), task))
	gensList, err := gens.List(10)
	require.NoError(t, err)
	assert.Len(t, gensList, 1)

	err = p.Process(context.Background(), tasks.IndexBuildTask{TaskID: "t2", ObjectName: "run/embedded.csv"})
	assert.Error(t, err)
}

func TestGenerationName(t *testing.T) {
	ts := time.Date(2024, 12, 31, 23, 59, 58, 0, time.FixedZone("x", 3600))
	assert.Equal(t, "youtube_videos_20241231225958", GenerationName("youtube_videos", ts))
}
