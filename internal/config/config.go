// Package config 负责加载和管理应用程序的配置。
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Log           LogConfig           `mapstructure:"log"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Tika          TikaConfig          `mapstructure:"tika"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	MinIO         MinIOConfig         `mapstructure:"minio"`
	Embedding     EmbeddingConfig     `mapstructure:"embedding"`
	LLM           LLMConfig           `mapstructure:"llm"`
	RAG           RAGConfig           `mapstructure:"rag"`
	Chat          ChatConfig          `mapstructure:"chat"`
	Events        EventsConfig        `mapstructure:"events"`
	Workers       WorkersConfig       `mapstructure:"workers"`
	Ticket        TicketConfig        `mapstructure:"ticket"`
	Schedule      ScheduleConfig      `mapstructure:"schedule"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
	// PublicBaseURL 用于拼接返回给前端的 sse_url，为空时返回相对路径。
	PublicBaseURL string `mapstructure:"public_base_url"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	MySQL MySQLConfig `mapstructure:"mysql"`
	Redis RedisConfig `mapstructure:"redis"`
}

// MySQLConfig 存储 MySQL 数据库的配置。
type MySQLConfig struct {
	DSN         string `mapstructure:"dsn"`
	AutoMigrate bool   `mapstructure:"auto_migrate"`
}

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// KafkaConfig 存储 Kafka 相关的配置。
type KafkaConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Brokers   string `mapstructure:"brokers"`
	Topic     string `mapstructure:"topic"`
	GroupID   string `mapstructure:"group_id"`
	Consumers int    `mapstructure:"consumers"`
}

// TikaConfig 存储 Tika 服务器相关的配置。
type TikaConfig struct {
	ServerURL string `mapstructure:"server_url"`
}

// ElasticsearchConfig 存储 Elasticsearch 相关的配置。
type ElasticsearchConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Addresses string `mapstructure:"addresses"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	IndexName string `mapstructure:"index_name"`
}

// MinIOConfig 存储 MinIO 对象存储的配置。
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
}

// EmbeddingConfig 存储 Embedding 模型相关的配置。
type EmbeddingConfig struct {
	APIKey    string        `mapstructure:"api_key"`
	BaseURL   string        `mapstructure:"base_url"`
	Model     string        `mapstructure:"model"`
	BatchSize int           `mapstructure:"batch_size"`
	CacheSize int           `mapstructure:"cache_size"`
	CacheTTL  time.Duration `mapstructure:"cache_ttl"`
}

// LLMConfig 存储生成后端相关的配置。
type LLMConfig struct {
	APIKey  string        `mapstructure:"api_key"`
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
	// Models 按模型名覆盖后端地址，未配置的模型使用默认 BaseURL。
	Models []LLMModelConfig `mapstructure:"models"`
	// TokenCacheSize 为 token 计数缓存的容量。
	TokenCacheSize int `mapstructure:"token_cache_size"`
	// Warmup 启动时在后台预热的模型列表。
	Warmup []string `mapstructure:"warmup"`
}

// LLMModelConfig 单个模型的后端覆盖配置。
type LLMModelConfig struct {
	Name    string `mapstructure:"name"`
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
}

// RAGConfig 存储文档检索增强相关的配置。
type RAGConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	ChunkSize         int           `mapstructure:"chunk_size"`
	ChunkOverlap      int           `mapstructure:"chunk_overlap"`
	TopK              int           `mapstructure:"top_k"`
	MinSimilarity     float64       `mapstructure:"min_similarity"`
	MaxFileSizeMB     int64         `mapstructure:"max_file_size_mb"`
	AllowedExtensions []string      `mapstructure:"allowed_extensions"`
	ProcessingTimeout time.Duration `mapstructure:"processing_timeout"`
}

// ChatConfig 存储对话生成相关的配置。
type ChatConfig struct {
	DefaultModel        string `mapstructure:"default_model"`
	MaxTotalTokens      int    `mapstructure:"max_total_tokens"`
	MaxGenerationTokens int    `mapstructure:"max_generation_tokens"`
}

// PromptBudget 返回历史消息可用的 token 预算。
func (c ChatConfig) PromptBudget() int {
	return c.MaxTotalTokens - c.MaxGenerationTokens
}

// EventsConfig 存储文档事件总线相关的配置。
type EventsConfig struct {
	HistorySize       int           `mapstructure:"history_size"`
	SubscriberBuffer  int           `mapstructure:"subscriber_buffer"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	HistoryTTL        time.Duration `mapstructure:"history_ttl"`
}

// WorkersConfig 存储 CPU 密集型任务协程池的配置。
type WorkersConfig struct {
	ExtractPoolSize int `mapstructure:"extract_pool_size"`
	EmbedPoolSize   int `mapstructure:"embed_pool_size"`
	IngestPoolSize  int `mapstructure:"ingest_pool_size"`
}

// TicketConfig 存储 SSE 订阅票据的配置。
type TicketConfig struct {
	Secret string        `mapstructure:"secret"`
	TTL    time.Duration `mapstructure:"ttl"`
}

// ScheduleConfig 存储定时任务的 cron 表达式。
type ScheduleConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	EventSweepSpec    string `mapstructure:"event_sweep_spec"`
	StaleDocumentSpec string `mapstructure:"stale_document_spec"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.mode", "release")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("database.mysql.auto_migrate", true)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.topic", "document_tasks")
	v.SetDefault("kafka.group_id", "baguette-pipeline")
	v.SetDefault("kafka.consumers", 2)

	v.SetDefault("elasticsearch.index_name", "document_chunks")
	v.SetDefault("minio.bucket_name", "baguette-documents")

	v.SetDefault("embedding.model", "sentence-transformers/all-MiniLM-L6-v2")
	v.SetDefault("embedding.batch_size", 32)
	v.SetDefault("embedding.cache_size", 4096)
	v.SetDefault("embedding.cache_ttl", time.Hour)

	v.SetDefault("llm.timeout", 10*time.Minute)
	v.SetDefault("llm.token_cache_size", 2048)

	v.SetDefault("rag.enabled", true)
	v.SetDefault("rag.chunk_size", 512)
	v.SetDefault("rag.chunk_overlap", 50)
	v.SetDefault("rag.top_k", 3)
	v.SetDefault("rag.min_similarity", 0.3)
	v.SetDefault("rag.max_file_size_mb", 50)
	v.SetDefault("rag.allowed_extensions", []string{".pdf", ".docx", ".txt", ".md", ".markdown", ".text", ".pptx", ".xlsx", ".doc"})
	v.SetDefault("rag.processing_timeout", 30*time.Minute)

	v.SetDefault("chat.default_model", "PleIAs/Baguettotron")
	v.SetDefault("chat.max_total_tokens", 8192)
	v.SetDefault("chat.max_generation_tokens", 2048)

	v.SetDefault("events.history_size", 50)
	v.SetDefault("events.subscriber_buffer", 64)
	v.SetDefault("events.heartbeat_interval", 15*time.Second)
	v.SetDefault("events.history_ttl", 30*time.Minute)

	v.SetDefault("workers.extract_pool_size", 4)
	v.SetDefault("workers.embed_pool_size", 2)
	v.SetDefault("workers.ingest_pool_size", 4)

	v.SetDefault("ticket.ttl", 30*time.Minute)

	v.SetDefault("schedule.enabled", true)
	v.SetDefault("schedule.event_sweep_spec", "@every 5m")
	v.SetDefault("schedule.stale_document_spec", "@every 10m")
}

// Load 读取指定路径的 YAML 文件，叠加默认值和 BAGUETTE_ 前缀的环境变量。
func Load(configPath string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("BAGUETTE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.ReadInConfig(); err != nil {
		return cfg, fmt.Errorf("读取配置文件失败: %w", err)
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("无法将配置解析到结构体中: %w", err)
	}
	return cfg, nil
}

// Init 初始化配置加载，从指定的路径读取 YAML 文件并解析到 Conf 变量中。
func Init(configPath string) {
	cfg, err := Load(configPath)
	if err != nil {
		panic(err)
	}
	Conf = cfg
}
