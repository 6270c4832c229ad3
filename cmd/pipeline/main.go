// Package main 是离线流水线的命令行入口：采集、清洗、合并、向量化、建索引。
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"querytube-go/internal/bootstrap"
	"querytube-go/internal/collector"
	"querytube-go/internal/config"
	"querytube-go/internal/model"
	"querytube-go/internal/pipeline"
	"querytube-go/internal/repository"
	"querytube-go/pkg/database"
	"querytube-go/pkg/embedding"
	"querytube-go/pkg/kafka"
	"querytube-go/pkg/log"
	"querytube-go/pkg/pool"
	"querytube-go/pkg/tasks"
	"querytube-go/pkg/token"
	"querytube-go/pkg/youtube"
)

const usage = `用法: pipeline [-config path] <command> [flags]

命令:
  collect            采集频道视频元数据和字幕
  clean              清洗视频元数据
  clean-transcripts  清洗字幕
  merge              合并元数据和字幕
  embed              生成向量数据集 (CSV + Parquet)
  index              用向量数据集构建新的索引代次并切换别名
  report             生成数据质量报告
  all                依次执行 clean ... index (-collect 时先采集)
  enqueue-index      向 Kafka 投递索引重建任务
  token              签发管理接口使用的 JWT
`

func main() {
	global := flag.NewFlagSet("pipeline", flag.ExitOnError)
	configPath := global.String("config", "./configs/config.yaml", "配置文件路径")
	global.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	_ = global.Parse(os.Args[1:])
	if global.NArg() == 0 {
		global.Usage()
		os.Exit(2)
	}
	command, args := global.Arg(0), global.Args()[1:]

	config.Init(*configPath)
	cfg := config.Conf
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, &cfg, command, args); err != nil {
		log.Errorf("[Pipeline] 命令 %s 失败: %v", command, err)
		stop()
		log.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, command string, args []string) error {
	fs := flag.NewFlagSet(command, flag.ExitOnError)
	runID := fs.String("run-id", time.Now().UTC().Format(pipeline.GenerationTimeLayout), "本次运行的 ID，用于对象存储路径")
	requestedBy := fs.String("by", "cli", "记录在索引代次中的发起人")
	collect := fs.Bool("collect", false, "all: 先执行采集")
	object := fs.String("object", "", "enqueue-index: MinIO 中的向量数据集对象名")
	onlyTranscript := fs.Bool("only-with-transcript", cfg.Pipeline.EmbedOnlyWithTranscript, "只处理有字幕的视频")
	subject := fs.String("subject", "admin", "token: 令牌主体")
	role := fs.String("role", token.RoleAdmin, "token: 令牌角色")
	_ = fs.Parse(args)
	cfg.Pipeline.EmbedOnlyWithTranscript = *onlyTranscript

	switch command {
	case "token":
		tok, err := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.TokenExpireHours).GenerateToken(*subject, *role)
		if err != nil {
			return err
		}
		fmt.Println(tok)
		return nil

	case "enqueue-index":
		if !cfg.Kafka.Enabled {
			return fmt.Errorf("kafka 未启用")
		}
		kafka.InitProducer(cfg.Kafka)
		defer kafka.CloseProducer()
		task := tasks.IndexBuildTask{
			TaskID:                  uuid.NewString(),
			ObjectName:              *object,
			RequestedBy:             *requestedBy,
			EmbedOnlyWithTranscript: *onlyTranscript,
			RequestedAt:             time.Now().UTC(),
		}
		if err := kafka.ProduceIndexTask(ctx, task); err != nil {
			return err
		}
		log.Infof("[Pipeline] 已投递索引任务 %s", task.TaskID)
		return nil
	}

	runner, err := newRunner(ctx, cfg, command, *runID)
	if err != nil {
		return err
	}

	switch command {
	case "collect":
		return runner.Collect(ctx)
	case "clean":
		_, err = runner.Clean(ctx)
	case "clean-transcripts":
		_, err = runner.CleanTranscriptsStage(ctx)
	case "merge":
		_, err = runner.Merge(ctx)
	case "embed":
		_, err = runner.Embed(ctx)
	case "index":
		_, err = runner.Index(ctx, uuid.NewString(), *requestedBy)
	case "report":
		_, err = runner.Report(ctx)
	case "all":
		err = runner.All(ctx, *collect, uuid.NewString(), *requestedBy)
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("未知命令 %q", command)
	}
	return err
}

// newRunner 只初始化命令需要的依赖。
func newRunner(ctx context.Context, cfg *config.Config, command, runID string) (*pipeline.Runner, error) {
	needsEmbedder := command == "embed" || command == "all"
	needsIndex := command == "index" || command == "all"
	needsCollector := command == "collect" || command == "all"

	var embedder embedding.Client
	if needsEmbedder {
		embedder = embedding.NewClient(cfg.Embedding)
		if _, err := embedding.Probe(ctx, embedder); err != nil {
			return nil, err
		}
	}

	runner := pipeline.NewRunner(cfg.Pipeline, runID, embedder, cfg.Embedding.BatchSize, nil,
		cfg.Elasticsearch.IndexPrefix, cfg.Elasticsearch.BulkSize)

	if needsIndex {
		if embedder == nil {
			embedder = embedding.NewClient(cfg.Embedding)
		}
		_, builder, err := bootstrap.OpenIndex(ctx, cfg)
		if builder == nil {
			return nil, err
		}
		if err := database.InitDB(cfg.Database.Driver, cfg.Database.DSN, &model.IndexGeneration{}); err != nil {
			return nil, err
		}
		runner = pipeline.NewRunner(cfg.Pipeline, runID, embedder, cfg.Embedding.BatchSize, builder,
			cfg.Elasticsearch.IndexPrefix, cfg.Elasticsearch.BulkSize).
			WithGenerations(repository.NewGenerationRepository(database.DB))
	}

	mirror, err := bootstrap.OpenMirror(ctx, cfg.MinIO)
	if err != nil {
		log.Warnf("[Pipeline] MinIO 不可用，产物只保存在本地: %v", err)
	} else if mirror != nil {
		runner.WithMirror(mirror)
	}

	if needsCollector {
		if err := database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB); err != nil {
			log.Warnf("[Pipeline] Redis 不可用，进度不会发布: %v", err)
		}
		proxies := pool.New(cfg.YouTube.Proxies, cfg.YouTube.RequestsPerResource, cfg.YouTube.Cooldown)
		tracker := collector.NewTracker(runID).WithResources(proxies.Stats)
		var publisher collector.Publisher
		if database.RDB != nil {
			publisher = repository.NewProgressRepository(database.RDB)
		}
		runner.WithCollector(collector.New(youtube.NewClient(cfg.YouTube, proxies), cfg.YouTube, tracker, publisher))
	}
	return runner, nil
}
