// Package bootstrap 组装服务端和命令行共用的基础设施：向量索引、对象存储和代次记录。
package bootstrap

import (
	"context"

	"github.com/elastic/go-elasticsearch/v8"

	"querytube-go/internal/config"
	"querytube-go/internal/pipeline"
	"querytube-go/pkg/apperr"
	"querytube-go/pkg/es"
	"querytube-go/pkg/log"
	"querytube-go/pkg/storage"
	"querytube-go/pkg/vectorindex"
)

// 索引后端
const (
	BackendElasticsearch = "elasticsearch"
	BackendMemory        = "memory"
)

// OpenIndex 按 index.backend 打开线上索引并返回对应的代次构建器。
// 索引尚未建立时 Live 为空，检索返回 "Search engine not initialized"，构建器仍然可用。
func OpenIndex(ctx context.Context, cfg *config.Config) (*vectorindex.Live, vectorindex.Builder, error) {
	live := vectorindex.NewLive(nil)

	switch cfg.Index.Backend {
	case BackendMemory:
		m, err := vectorindex.LoadMemory(cfg.Index.SnapshotDir)
		if err != nil {
			log.Warnf("[Bootstrap] 加载本地索引快照失败: %v", err)
		} else {
			live.Swap(m)
			log.Infof("[Bootstrap] 已加载本地索引快照: %s", cfg.Index.SnapshotDir)
		}
		return live, vectorindex.NewMemoryBuilder(live, cfg.Index.SnapshotDir), nil

	case BackendElasticsearch, "":
		client, err := es.InitES(cfg.Elasticsearch)
		if err != nil {
			return live, nil, apperr.Wrapf(apperr.UpstreamUnavailable, "bootstrap.index", err, "elasticsearch is unavailable")
		}
		builder := &esBuilder{Builder: es.NewBuilder(client, cfg.Elasticsearch.Alias), client: client, alias: cfg.Elasticsearch.Alias, live: live}
		targets, err := builder.AliasTargets(ctx)
		if err != nil {
			return live, builder, apperr.Wrapf(apperr.UpstreamUnavailable, "bootstrap.index", err, "failed to resolve index alias")
		}
		if len(targets) == 0 {
			log.Warnf("[Bootstrap] 别名 '%s' 尚未指向任何索引，需要先执行一次建索引", cfg.Elasticsearch.Alias)
		} else {
			live.Swap(es.NewVectorIndex(client, cfg.Elasticsearch.Alias))
			log.Infof("[Bootstrap] 线上索引: %v (别名 '%s')", targets, cfg.Elasticsearch.Alias)
		}
		return live, builder, nil

	default:
		return live, nil, apperr.New(apperr.Validation, "bootstrap.index", "unknown index backend "+cfg.Index.Backend)
	}
}

// esBuilder 在别名切换后让同进程的 Live 也指向别名。
type esBuilder struct {
	*es.Builder
	client *elasticsearch.Client
	alias  string
	live   *vectorindex.Live
}

func (b *esBuilder) Activate(ctx context.Context, name string) error {
	if err := b.Builder.Activate(ctx, name); err != nil {
		return err
	}
	b.live.Swap(es.NewVectorIndex(b.client, b.alias))
	return nil
}

// OpenMirror 在启用 MinIO 时返回对象存储镜像，否则返回 nil。
func OpenMirror(ctx context.Context, cfg config.MinIOConfig) (pipeline.Mirror, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	store, err := storage.NewStore(ctx, cfg)
	if err != nil {
		return nil, apperr.Wrapf(apperr.UpstreamUnavailable, "bootstrap.minio", err, "minio is unavailable")
	}
	return store, nil
}
