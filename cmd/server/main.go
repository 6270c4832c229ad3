// Package main 是检索服务的入口点。
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"querytube-go/internal/bootstrap"
	"querytube-go/internal/config"
	"querytube-go/internal/handler"
	"querytube-go/internal/middleware"
	"querytube-go/internal/model"
	"querytube-go/internal/pipeline"
	"querytube-go/internal/repository"
	"querytube-go/internal/service"
	"querytube-go/pkg/database"
	"querytube-go/pkg/embedding"
	"querytube-go/pkg/kafka"
	"querytube-go/pkg/log"
	"querytube-go/pkg/token"
	"querytube-go/pkg/vectorindex"
)

func main() {
	configPath := "./configs/config.yaml"
	if p := os.Getenv("QUERYTUBE_CONFIG"); p != "" {
		configPath = p
	}

	// 1. 初始化配置
	config.Init(configPath)
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync()
	log.Info("日志记录器初始化成功")

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// 3. 初始化数据库和 Redis
	if err := database.InitDB(cfg.Database.Driver, cfg.Database.DSN, &model.IndexGeneration{}); err != nil {
		log.Fatal("数据库初始化失败", err)
	}
	if err := database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB); err != nil {
		log.Errorf("Redis 初始化失败，查询缓存和进度查询不可用: %v", err)
	}

	// 4. 初始化 Embedding 和向量索引，任一失败时检索接口返回 "Search engine not initialized"
	embeddingClient := embedding.NewClient(cfg.Embedding)
	live, builder, err := bootstrap.OpenIndex(ctx, &cfg)
	if err != nil {
		log.Errorf("向量索引初始化失败: %v", err)
	}
	var searchIndex vectorindex.Index = live
	if dims, err := embedding.Probe(ctx, embeddingClient); err != nil {
		log.Errorf("Embedding 模型不可用: %v", err)
		searchIndex = nil
	} else {
		log.Infof("Embedding 模型 '%s' 可用, 维度: %d", embeddingClient.Model(), dims)
	}

	// 5. 初始化 Repository
	generationRepo := repository.NewGenerationRepository(database.DB)
	progressRepo := repository.NewProgressRepository(database.RDB)
	attemptRepo := repository.NewAttemptRepository(database.RDB)
	cacheRepo := repository.NewEmbeddingCacheRepository(database.RDB, cfg.Search.CacheTTL)

	// 6. 启动后台 Kafka 消费者
	var enqueue service.TaskEnqueuer
	if cfg.Kafka.Enabled {
		if builder == nil {
			log.Warnf("索引构建器不可用，Kafka 消费者不会启动")
		} else {
			mirror, err := bootstrap.OpenMirror(ctx, cfg.MinIO)
			if err != nil {
				log.Errorf("MinIO 初始化失败，只能使用本地数据集: %v", err)
			}
			runner := pipeline.NewRunner(cfg.Pipeline, "server", embeddingClient, cfg.Embedding.BatchSize,
				builder, cfg.Elasticsearch.IndexPrefix, cfg.Elasticsearch.BulkSize).
				WithGenerations(generationRepo)
			processor := pipeline.NewProcessor(runner, mirror, generationRepo)
			go kafka.StartConsumer(ctx, cfg.Kafka, processor, attemptRepo)
		}
		kafka.InitProducer(cfg.Kafka)
		enqueue = kafka.ProduceIndexTask
	}

	// 7. 初始化 Service
	searchService := service.NewSearchService(searchIndex, embeddingClient, cacheRepo, cfg.Search)
	adminService := service.NewAdminService(enqueue, generationRepo, progressRepo)
	jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.TokenExpireHours)
	if cfg.JWT.Secret == "" {
		log.Warnf("未配置 jwt.secret，管理接口将拒绝所有请求")
	}

	// 8. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(middleware.RequestID(), middleware.RequestLogger(), gin.Recovery(), middleware.CORS(cfg.Server.AllowedOrigins))

	// 9. 注册路由
	searchHandler := handler.NewSearchHandler(searchService, cfg.Search)
	r.GET("/initial-videos", searchHandler.InitialVideos)
	r.POST("/search", searchHandler.Search)

	adminHandler := handler.NewAdminHandler(adminService, handler.DefaultProgressInterval)
	admin := r.Group("/api/v1/admin")
	// 管理员路由组，需要同时通过认证和管理员授权两个中间件
	admin.Use(middleware.AuthMiddleware(jwtManager), middleware.AdminAuthMiddleware())
	{
		admin.POST("/index/rebuild", adminHandler.RebuildIndex)
		admin.GET("/generations", adminHandler.ListGenerations)
		admin.GET("/collection/status", adminHandler.CollectionStatus)
		admin.GET("/collection/ws", adminHandler.CollectionStream)
	}

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("HTTP 服务器关闭失败: %v", err)
	}

	// 停止 Kafka 消费者并关闭生产者
	stop()
	kafka.CloseProducer()
	log.Info("服务已优雅关闭")
}
