// Package config 负责加载和管理应用程序的配置。
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// EnvPrefix 是环境变量覆盖配置时使用的前缀，例如 QUERYTUBE_YOUTUBE_API_KEY。
const EnvPrefix = "QUERYTUBE"

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	JWT           JWTConfig           `mapstructure:"jwt"`
	Log           LogConfig           `mapstructure:"log"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Index         IndexConfig         `mapstructure:"index"`
	MinIO         MinIOConfig         `mapstructure:"minio"`
	Embedding     EmbeddingConfig     `mapstructure:"embedding"`
	Pipeline      PipelineConfig      `mapstructure:"pipeline"`
	Search        SearchConfig        `mapstructure:"search"`
	YouTube       YouTubeConfig       `mapstructure:"youtube"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port           string   `mapstructure:"port" validate:"required"`
	Mode           string   `mapstructure:"mode" validate:"omitempty,oneof=debug release test"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	Driver string      `mapstructure:"driver" validate:"omitempty,oneof=mysql sqlite"`
	DSN    string      `mapstructure:"dsn"`
	Redis  RedisConfig `mapstructure:"redis"`
}

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// JWTConfig 存储管理接口 token 的配置。
type JWTConfig struct {
	Secret           string `mapstructure:"secret"`
	TokenExpireHours int    `mapstructure:"token_expire_hours" validate:"gte=0"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// KafkaConfig 存储 Kafka 相关的配置。
type KafkaConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Brokers     string `mapstructure:"brokers"`
	Topic       string `mapstructure:"topic"`
	GroupID     string `mapstructure:"group_id"`
	MaxAttempts int    `mapstructure:"max_attempts" validate:"gte=0"`
}

// ElasticsearchConfig 存储 Elasticsearch 相关的配置。
type ElasticsearchConfig struct {
	Addresses   string `mapstructure:"addresses"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	IndexPrefix string `mapstructure:"index_prefix"`
	Alias       string `mapstructure:"alias"`
	BulkSize    int    `mapstructure:"bulk_size" validate:"gte=0"`
}

// IndexConfig 决定向量索引使用哪个后端。
type IndexConfig struct {
	Backend     string `mapstructure:"backend" validate:"omitempty,oneof=elasticsearch memory"`
	SnapshotDir string `mapstructure:"snapshot_dir"`
}

// MinIOConfig 存储 MinIO 对象存储的配置。
type MinIOConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
	Prefix          string `mapstructure:"prefix"`
}

// EmbeddingConfig 存储 Embedding 模型相关的配置。
type EmbeddingConfig struct {
	Provider   string        `mapstructure:"provider" validate:"omitempty,oneof=openai hash"`
	APIKey     string        `mapstructure:"api_key"`
	BaseURL    string        `mapstructure:"base_url" validate:"required"`
	Model      string        `mapstructure:"model" validate:"required"`
	Dimensions int           `mapstructure:"dimensions" validate:"gte=0"`
	BatchSize  int           `mapstructure:"batch_size" validate:"gte=0"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// PipelineConfig 描述离线流水线各阶段的输入输出文件。
type PipelineConfig struct {
	DataDir                 string `mapstructure:"data_dir"`
	RawVideosFile           string `mapstructure:"raw_videos_file"`
	RawTranscriptsFile      string `mapstructure:"raw_transcripts_file"`
	CleanVideosFile         string `mapstructure:"clean_videos_file"`
	CleanTranscriptsFile    string `mapstructure:"clean_transcripts_file"`
	MergedFile              string `mapstructure:"merged_file"`
	EmbeddedCSVFile         string `mapstructure:"embedded_csv_file"`
	EmbeddedParquetFile     string `mapstructure:"embedded_parquet_file"`
	ReportFile              string `mapstructure:"report_file"`
	MinTranscriptLength     int    `mapstructure:"min_transcript_length" validate:"gte=0"`
	EmbedOnlyWithTranscript bool   `mapstructure:"embed_only_with_transcript"`
}

// SearchConfig 存储检索接口的分页和超时设置。
type SearchConfig struct {
	DefaultLimit   int           `mapstructure:"default_limit" validate:"gte=0"`
	MaxLimit       int           `mapstructure:"max_limit" validate:"gte=0"`
	MinQueryLength int           `mapstructure:"min_query_length" validate:"gte=0"`
	Timeout        time.Duration `mapstructure:"timeout"`
	SnippetLength  int           `mapstructure:"snippet_length" validate:"gte=0"`
	CacheTTL       time.Duration `mapstructure:"cache_ttl"`
}

// YouTubeConfig 存储采集器访问 YouTube 的设置。
type YouTubeConfig struct {
	APIKey              string        `mapstructure:"api_key"`
	BaseURL             string        `mapstructure:"base_url"`
	TranscriptURL       string        `mapstructure:"transcript_url"`
	ChannelIDs          []string      `mapstructure:"channel_ids"`
	MaxVideos           int           `mapstructure:"max_videos" validate:"gte=0"`
	MinDurationSeconds  int           `mapstructure:"min_duration_seconds" validate:"gte=0"`
	Language            string        `mapstructure:"language"`
	RequestTimeout      time.Duration `mapstructure:"request_timeout"`
	MaxRetries          int           `mapstructure:"max_retries" validate:"gte=0"`
	RequestsPerSecond   float64       `mapstructure:"requests_per_second" validate:"gte=0"`
	Proxies             []string      `mapstructure:"proxies"`
	RequestsPerResource int           `mapstructure:"requests_per_resource" validate:"gte=0"`
	Cooldown            time.Duration `mapstructure:"cooldown"`
}

// Init 初始化配置加载，从指定的路径读取 YAML 文件并解析到 Conf 变量中。
// 同目录或工作目录下的 .env 会先被加载，环境变量可以覆盖文件中的任意键。
func Init(configPath string) {
	cfg, err := Load(configPath)
	if err != nil {
		panic(err)
	}
	Conf = *cfg
}

// Load 读取配置文件并返回结果，不修改全局变量。
func Load(configPath string) (*Config, error) {
	// .env 不存在是正常情况
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("无法将配置解析到结构体中: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置校验失败: %w", err)
	}
	return &cfg, nil
}

// Validate 使用 validator 校验结构体标签。
func (c *Config) Validate() error {
	return validator.New().Struct(c)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "release")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "querytube.db")
	v.SetDefault("kafka.topic", "querytube-index-tasks")
	v.SetDefault("kafka.group_id", "querytube-index-consumer")
	v.SetDefault("kafka.max_attempts", 3)
	v.SetDefault("elasticsearch.index_prefix", "youtube_videos")
	v.SetDefault("elasticsearch.alias", "youtube_analysis_collection")
	v.SetDefault("elasticsearch.bulk_size", 500)
	v.SetDefault("index.backend", "elasticsearch")
	v.SetDefault("index.snapshot_dir", "data/vector_index")
	v.SetDefault("embedding.provider", "openai")
	v.SetDefault("embedding.model", "all-MiniLM-L6-v2")
	v.SetDefault("embedding.base_url", "http://localhost:8000/v1")
	v.SetDefault("embedding.batch_size", 64)
	v.SetDefault("embedding.timeout", 30*time.Second)
	v.SetDefault("pipeline.data_dir", "data")
	v.SetDefault("pipeline.raw_videos_file", "raw_videos.csv")
	v.SetDefault("pipeline.raw_transcripts_file", "raw_transcripts.csv")
	v.SetDefault("pipeline.clean_videos_file", "clean_videos.csv")
	v.SetDefault("pipeline.clean_transcripts_file", "clean_transcripts.csv")
	v.SetDefault("pipeline.merged_file", "merged_videos.csv")
	v.SetDefault("pipeline.embedded_csv_file", "embedded_videos.csv")
	v.SetDefault("pipeline.embedded_parquet_file", "embedded_videos.parquet")
	v.SetDefault("pipeline.report_file", "quality_report.xlsx")
	v.SetDefault("pipeline.min_transcript_length", 10)
	v.SetDefault("search.default_limit", 10)
	v.SetDefault("search.max_limit", 50)
	v.SetDefault("search.min_query_length", 3)
	v.SetDefault("search.timeout", 5*time.Second)
	v.SetDefault("search.snippet_length", 300)
	v.SetDefault("search.cache_ttl", 24*time.Hour)
	v.SetDefault("youtube.base_url", "https://www.googleapis.com/youtube/v3")
	v.SetDefault("youtube.transcript_url", "https://video.google.com/timedtext")
	v.SetDefault("youtube.max_videos", 500)
	v.SetDefault("youtube.language", "en")
	v.SetDefault("youtube.request_timeout", 10*time.Second)
	v.SetDefault("youtube.max_retries", 3)
	v.SetDefault("youtube.requests_per_second", 5)
	v.SetDefault("youtube.requests_per_resource", 50)
	v.SetDefault("youtube.cooldown", 30*time.Second)
	v.SetDefault("jwt.token_expire_hours", 24)

	// 只有 viper 已知的键才会被环境变量覆盖
	for _, key := range []string{
		"youtube.api_key", "embedding.api_key", "jwt.secret",
		"database.redis.addr", "database.redis.password",
		"elasticsearch.addresses", "elasticsearch.username", "elasticsearch.password",
		"kafka.brokers", "minio.endpoint", "minio.access_key_id", "minio.secret_access_key",
	} {
		v.SetDefault(key, "")
	}
}
