package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"querytube-go/internal/collector"
	"querytube-go/internal/config"
	"querytube-go/internal/dataset"
	"querytube-go/internal/model"
	"querytube-go/internal/repository"
	"querytube-go/pkg/apperr"
	"querytube-go/pkg/embedding"
	"querytube-go/pkg/log"
	"querytube-go/pkg/vectorindex"
)

// GenerationTimeLayout 是索引代次名称中时间戳的格式。
const GenerationTimeLayout = "20060102150405"

// Mirror 把阶段产物同步到对象存储。
type Mirror interface {
	Upload(ctx context.Context, runID, localPath string) (string, error)
	Download(ctx context.Context, object, localPath string) error
}

// Paths 是各阶段输入输出文件的完整路径。
type Paths struct {
	RawVideos        string
	RawTranscripts   string
	CleanVideos      string
	CleanTranscripts string
	Merged           string
	EmbeddedCSV      string
	EmbeddedParquet  string
	Report           string
}

// PathsFrom 把配置中的文件名拼接到数据目录下。
func PathsFrom(cfg config.PipelineConfig) Paths {
	j := func(name string) string { return filepath.Join(cfg.DataDir, name) }
	return Paths{
		RawVideos:        j(cfg.RawVideosFile),
		RawTranscripts:   j(cfg.RawTranscriptsFile),
		CleanVideos:      j(cfg.CleanVideosFile),
		CleanTranscripts: j(cfg.CleanTranscriptsFile),
		Merged:           j(cfg.MergedFile),
		EmbeddedCSV:      j(cfg.EmbeddedCSVFile),
		EmbeddedParquet:  j(cfg.EmbeddedParquetFile),
		Report:           j(cfg.ReportFile),
	}
}

// GenerationName 返回 <prefix>_<yyyymmddhhmmss>。
func GenerationName(prefix string, t time.Time) string {
	return fmt.Sprintf("%s_%s", prefix, t.UTC().Format(GenerationTimeLayout))
}

// IndexResult 是一次索引构建的结果。
type IndexResult struct {
	IndexName string
	Written   int
	Stats     IndexStats
}

// Runner 串行执行离线流水线的各个阶段，每个阶段读取上一阶段的文件并写出新文件。
type Runner struct {
	cfg         config.PipelineConfig
	paths       Paths
	runID       string
	embedder    embedding.Client
	embedBatch  int
	builder     vectorindex.Builder
	indexPrefix string
	upsertBatch int
	generations repository.GenerationRepository
	mirror      Mirror
	collector   *collector.Collector
	now         func() time.Time
}

// NewRunner 创建 Runner。embedder 和 builder 只在对应阶段使用，可以为 nil。
func NewRunner(cfg config.PipelineConfig, runID string, embedder embedding.Client, embedBatch int,
	builder vectorindex.Builder, indexPrefix string, upsertBatch int) *Runner {
	return &Runner{
		cfg:         cfg,
		paths:       PathsFrom(cfg),
		runID:       runID,
		embedder:    embedder,
		embedBatch:  embedBatch,
		builder:     builder,
		indexPrefix: indexPrefix,
		upsertBatch: upsertBatch,
		now:         time.Now,
	}
}

// WithGenerations 让索引阶段把代次记录写入数据库。
func (r *Runner) WithGenerations(repo repository.GenerationRepository) *Runner {
	r.generations = repo
	return r
}

// WithMirror 让每个阶段的产物上传到对象存储。
func (r *Runner) WithMirror(m Mirror) *Runner {
	r.mirror = m
	return r
}

// WithCollector 设置采集阶段使用的 Collector。
func (r *Runner) WithCollector(c *collector.Collector) *Runner {
	r.collector = c
	return r
}

// Paths 返回 Runner 使用的文件路径。
func (r *Runner) Paths() Paths {
	return r.paths
}

func (r *Runner) ensureDataDir() error {
	if r.cfg.DataDir == "" {
		return nil
	}
	return os.MkdirAll(r.cfg.DataDir, 0o755)
}

func (r *Runner) upload(ctx context.Context, paths ...string) {
	if r.mirror == nil {
		return
	}
	for _, p := range paths {
		if _, err := r.mirror.Upload(ctx, r.runID, p); err != nil {
			log.Warnf("[Pipeline] 产物上传失败，继续执行: %v", err)
		}
	}
}

// Collect 采集视频元数据和字幕。配额耗尽时已采集的部分仍会写盘，然后返回错误。
func (r *Runner) Collect(ctx context.Context) error {
	if r.collector == nil {
		return apperr.New(apperr.Validation, "collect", "collector is not configured")
	}
	if err := r.ensureDataDir(); err != nil {
		return err
	}
	videos, collectErr := r.collector.CollectVideos(ctx)
	if len(videos) > 0 {
		if err := dataset.WriteVideos(r.paths.RawVideos, videos); err != nil {
			return err
		}
		r.upload(ctx, r.paths.RawVideos)
	}
	if collectErr != nil {
		return collectErr
	}

	transcripts, collectErr := r.collector.CollectTranscripts(ctx, videos)
	if err := dataset.WriteTranscripts(r.paths.RawTranscripts, transcripts); err != nil {
		return err
	}
	r.upload(ctx, r.paths.RawTranscripts)
	log.Infof("[Pipeline] 采集完成: %d 个视频, %d 条字幕", len(videos), len(transcripts))
	return collectErr
}

// Clean 清洗原始视频元数据。
func (r *Runner) Clean(ctx context.Context) (CleanStats, error) {
	videos, err := dataset.ReadVideos(r.paths.RawVideos)
	if err != nil {
		return CleanStats{}, err
	}
	cleaned, stats := CleanVideos(videos)
	if err := dataset.WriteVideos(r.paths.CleanVideos, cleaned); err != nil {
		return stats, err
	}
	r.upload(ctx, r.paths.CleanVideos)
	log.Infow("[Pipeline] 视频元数据清洗完成", "records", stats.Records, "null_titles", stats.NullTitles,
		"null_descriptions", stats.NullDescriptions, "malformed_durations", stats.MalformedDurations,
		"malformed_dates", stats.MalformedDates)
	return stats, nil
}

// CleanTranscriptsStage 清洗原始字幕。
func (r *Runner) CleanTranscriptsStage(ctx context.Context) (CleanStats, error) {
	transcripts, err := dataset.ReadTranscripts(r.paths.RawTranscripts)
	if err != nil {
		return CleanStats{}, err
	}
	cleaned, stats := CleanTranscripts(transcripts)
	if err := dataset.WriteTranscripts(r.paths.CleanTranscripts, cleaned); err != nil {
		return stats, err
	}
	r.upload(ctx, r.paths.CleanTranscripts)
	log.Infow("[Pipeline] 字幕清洗完成", "records", stats.Records, "dropped", stats.Dropped)
	return stats, nil
}

// Merge 左连接清洗后的视频和字幕。
func (r *Runner) Merge(ctx context.Context) (MergeStats, error) {
	videos, err := dataset.ReadVideos(r.paths.CleanVideos)
	if err != nil {
		return MergeStats{}, err
	}
	transcripts, err := dataset.ReadTranscripts(r.paths.CleanTranscripts)
	if err != nil {
		return MergeStats{}, err
	}
	minLen := r.cfg.MinTranscriptLength
	if minLen <= 0 {
		minLen = DefaultMinTranscriptLength
	}
	merged, stats := Merge(videos, transcripts, minLen)
	if err := dataset.WriteMerged(r.paths.Merged, merged); err != nil {
		return stats, err
	}
	r.upload(ctx, r.paths.Merged)
	log.Infow("[Pipeline] 合并完成", "videos", stats.Videos, "transcripts", stats.Transcripts,
		"eligible", stats.Eligible, "rejected", stats.Rejected, "duplicates", stats.DuplicateTranscripts,
		"matched", stats.Matched)
	return stats, nil
}

// Embed 为合并后的记录计算向量，同时写出 CSV 和 Parquet。
func (r *Runner) Embed(ctx context.Context) (EmbedStats, error) {
	if r.embedder == nil {
		return EmbedStats{}, apperr.New(apperr.UpstreamUnavailable, "embed", "embedding client is not configured")
	}
	merged, err := dataset.ReadMerged(r.paths.Merged)
	if err != nil {
		return EmbedStats{}, err
	}
	producer := NewProducer(r.embedder, r.embedBatch, r.cfg.EmbedOnlyWithTranscript)
	records, stats, err := producer.Embed(ctx, merged)
	if err != nil {
		return stats, err
	}
	if err := dataset.WriteEmbedded(r.paths.EmbeddedCSV, records); err != nil {
		return stats, err
	}
	if err := dataset.WriteEmbeddedParquet(r.paths.EmbeddedParquet, records); err != nil {
		return stats, err
	}
	r.upload(ctx, r.paths.EmbeddedCSV, r.paths.EmbeddedParquet)
	log.Infow("[Pipeline] 向量化完成", "input", stats.Input, "embedded", stats.Embedded,
		"skipped", stats.Skipped, "shorts", stats.Shorts, "dims", stats.Dimensions, "model", r.embedder.Model())
	return stats, nil
}

// Index 读取向量数据集并构建新的索引代次。
func (r *Runner) Index(ctx context.Context, taskID, requestedBy string) (*IndexResult, error) {
	records, err := dataset.ReadEmbeddedAny(r.paths.EmbeddedParquet, r.paths.EmbeddedCSV)
	if err != nil {
		return nil, err
	}
	return r.BuildIndex(ctx, records, taskID, requestedBy)
}

// BuildIndex 把记录写入一个新的索引代次，全部写完后才切换为线上索引。
// 失败时线上索引保持不变。
func (r *Runner) BuildIndex(ctx context.Context, records []model.EmbeddedRecord, taskID, requestedBy string) (*IndexResult, error) {
	if r.builder == nil {
		return nil, apperr.New(apperr.UpstreamUnavailable, "index", "vector index backend is not configured")
	}
	entries, stats := BuildEntries(records)
	if len(entries) == 0 {
		return nil, apperr.New(apperr.Validation, "index", "no records to index")
	}

	name := GenerationName(r.indexPrefix, r.now())
	modelName := ""
	if r.embedder != nil {
		modelName = r.embedder.Model()
	}
	if r.generations != nil {
		gen := &model.IndexGeneration{
			TaskID:      taskID,
			IndexName:   name,
			Model:       modelName,
			Dimensions:  stats.Dimensions,
			RequestedBy: requestedBy,
		}
		if err := r.generations.Create(gen); err != nil {
			return nil, fmt.Errorf("记录索引代次失败: %w", err)
		}
	}
	fail := func(err error) (*IndexResult, error) {
		if r.generations != nil {
			if mErr := r.generations.MarkFailed(taskID, err.Error()); mErr != nil {
				log.Errorf("[Pipeline] 更新代次状态失败: %v", mErr)
			}
		}
		return nil, err
	}

	log.Infof("[Pipeline] 开始构建索引代次 %s, 条目: %d, 维度: %d", name, len(entries), stats.Dimensions)
	idx, err := r.builder.NewGeneration(ctx, name, stats.Dimensions)
	if err != nil {
		return fail(apperr.Wrap(apperr.UpstreamUnavailable, "index.create", err))
	}
	written, err := UpsertBatched(ctx, idx, entries, r.upsertBatch)
	if err != nil {
		return fail(err)
	}
	if err := r.builder.Activate(ctx, name); err != nil {
		return fail(apperr.Wrap(apperr.UpstreamUnavailable, "index.activate", err))
	}
	if r.generations != nil {
		if err := r.generations.MarkActive(taskID, written, stats.DroppedDuplicates+stats.Disambiguated, stats.Dimensions); err != nil {
			log.Errorf("[Pipeline] 更新代次状态失败: %v", err)
		}
	}
	log.Infow("[Pipeline] 索引构建完成", "index", name, "written", written,
		"dropped_duplicates", stats.DroppedDuplicates, "disambiguated", stats.Disambiguated)
	return &IndexResult{IndexName: name, Written: written, Stats: stats}, nil
}

// All 依次执行清洗、合并、向量化和索引；collect 为 true 时先执行采集。
func (r *Runner) All(ctx context.Context, collect bool, taskID, requestedBy string) error {
	if collect {
		if err := r.Collect(ctx); err != nil {
			return err
		}
	}
	if _, err := r.Clean(ctx); err != nil {
		return err
	}
	if _, err := r.CleanTranscriptsStage(ctx); err != nil {
		return err
	}
	if _, err := r.Merge(ctx); err != nil {
		return err
	}
	if _, err := r.Report(ctx); err != nil {
		log.Warnf("[Pipeline] 质量报告生成失败: %v", err)
	}
	if _, err := r.Embed(ctx); err != nil {
		return err
	}
	_, err := r.Index(ctx, taskID, requestedBy)
	return err
}
