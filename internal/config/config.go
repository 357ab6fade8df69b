package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	fileKey := envKey + "_FILE"
	filePath := os.Getenv(fileKey)
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	val := strings.TrimSpace(string(data))
	os.Setenv(envKey, val)
}

type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	Database  DatabaseConfig
	RateLimit RateLimitConfig
	LLM       LLMConfig
	Image     ImageConfig
	R2        R2Config
	Pipeline  PipelineConfig
}

type ServerConfig struct {
	Port      string
	Env       string
	LogLevel  string
	ApiDomain string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type DatabaseConfig struct {
	Path string
}

type RateLimitConfig struct {
	BatchesPerHour int
}

type LLMConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout int // seconds
}

type ImageConfig struct {
	APIKey       string
	BaseURL      string
	Timeout      int // seconds, per generation call
	PollInterval int // seconds
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
}

// PipelineConfig holds the generation pipeline's tunables. The tolerance
// bands and similarity threshold are product parameters, not constants; they
// default to the values validated in production but remain overridable.
type PipelineConfig struct {
	ChunkSize          int
	PersistBatchSize   int
	Transactional      bool
	MaxRetries         int
	BackoffBaseMs      int
	BackoffMaxMs       int
	CaloriePassPct     float64
	CalorieFixPct      float64
	MacroPassGrams     float64
	MacroFixGrams      float64
	UploadConcurrency  int
	UploadTimeoutSec   int
	ImageSimilarity    float64
	ImageRegenLimit    int
	RetentionMinutes   int
	CleanupIntervalMin int
}

func (c PipelineConfig) Retention() time.Duration {
	return time.Duration(c.RetentionMinutes) * time.Minute
}

func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("LLM_API_KEY")
	readSecret("IMAGE_API_KEY")
	readSecret("R2_ACCOUNT_ID")
	readSecret("R2_ACCESS_KEY_ID")
	readSecret("R2_SECRET_ACCESS_KEY")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Environment variables
	viper.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	_ = viper.BindEnv("server.port", "SERVER_PORT")
	_ = viper.BindEnv("server.env", "SERVER_ENV")
	_ = viper.BindEnv("server.log_level", "LOG_LEVEL")
	_ = viper.BindEnv("server.api_domain", "API_DOMAIN")
	_ = viper.BindEnv("redis.addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = viper.BindEnv("redis.db", "REDIS_DB")
	_ = viper.BindEnv("database.path", "DATABASE_PATH")
	_ = viper.BindEnv("ratelimit.batches_per_hour", "RATELIMIT_BATCHES_PER_HOUR")
	_ = viper.BindEnv("llm.api_key", "LLM_API_KEY")
	_ = viper.BindEnv("llm.base_url", "LLM_BASE_URL")
	_ = viper.BindEnv("llm.model", "LLM_MODEL")
	_ = viper.BindEnv("llm.timeout", "LLM_TIMEOUT")
	_ = viper.BindEnv("image.api_key", "IMAGE_API_KEY")
	_ = viper.BindEnv("image.base_url", "IMAGE_BASE_URL")
	_ = viper.BindEnv("image.timeout", "IMAGE_TIMEOUT")
	_ = viper.BindEnv("image.poll_interval", "IMAGE_POLL_INTERVAL")
	_ = viper.BindEnv("r2.account_id", "R2_ACCOUNT_ID")
	_ = viper.BindEnv("r2.access_key_id", "R2_ACCESS_KEY_ID")
	_ = viper.BindEnv("r2.secret_access_key", "R2_SECRET_ACCESS_KEY")
	_ = viper.BindEnv("r2.bucket_name", "R2_BUCKET_NAME")
	_ = viper.BindEnv("r2.public_url", "R2_PUBLIC_URL")
	_ = viper.BindEnv("pipeline.chunk_size", "PIPELINE_CHUNK_SIZE")
	_ = viper.BindEnv("pipeline.persist_batch_size", "PIPELINE_PERSIST_BATCH_SIZE")
	_ = viper.BindEnv("pipeline.transactional", "PIPELINE_TRANSACTIONAL")
	_ = viper.BindEnv("pipeline.max_retries", "PIPELINE_MAX_RETRIES")
	_ = viper.BindEnv("pipeline.upload_concurrency", "PIPELINE_UPLOAD_CONCURRENCY")
	_ = viper.BindEnv("pipeline.retention_minutes", "PIPELINE_RETENTION_MINUTES")

	// Defaults
	viper.SetDefault("server.port", "8000")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("server.log_level", "info")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("database.path", "mealsmith.db")
	viper.SetDefault("ratelimit.batches_per_hour", 10)

	// LLM defaults (OpenAI-compatible chat completions)
	viper.SetDefault("llm.base_url", "https://api.openai.com/v1")
	viper.SetDefault("llm.model", "gpt-4o-mini")
	viper.SetDefault("llm.timeout", 60)

	// Image provider defaults
	viper.SetDefault("image.base_url", "https://api.openai.com/v1")
	viper.SetDefault("image.timeout", 45)
	viper.SetDefault("image.poll_interval", 3)

	// Pipeline defaults
	viper.SetDefault("pipeline.chunk_size", 5)
	viper.SetDefault("pipeline.persist_batch_size", 10)
	viper.SetDefault("pipeline.transactional", true)
	viper.SetDefault("pipeline.max_retries", 2)
	viper.SetDefault("pipeline.backoff_base_ms", 500)
	viper.SetDefault("pipeline.backoff_max_ms", 10000)
	viper.SetDefault("pipeline.calorie_pass_pct", 0.10)
	viper.SetDefault("pipeline.calorie_fix_pct", 0.15)
	viper.SetDefault("pipeline.macro_pass_grams", 5.0)
	viper.SetDefault("pipeline.macro_fix_grams", 10.0)
	viper.SetDefault("pipeline.upload_concurrency", 5)
	viper.SetDefault("pipeline.upload_timeout_sec", 30)
	viper.SetDefault("pipeline.image_similarity", 0.95)
	viper.SetDefault("pipeline.image_regen_limit", 3)
	viper.SetDefault("pipeline.retention_minutes", 30)
	viper.SetDefault("pipeline.cleanup_interval_min", 5)

	// Try to read config file (optional)
	_ = viper.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:      viper.GetString("server.port"),
			Env:       viper.GetString("server.env"),
			LogLevel:  viper.GetString("server.log_level"),
			ApiDomain: viper.GetString("server.api_domain"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		Database: DatabaseConfig{
			Path: viper.GetString("database.path"),
		},
		RateLimit: RateLimitConfig{
			BatchesPerHour: viper.GetInt("ratelimit.batches_per_hour"),
		},
		LLM: LLMConfig{
			APIKey:  viper.GetString("llm.api_key"),
			BaseURL: viper.GetString("llm.base_url"),
			Model:   viper.GetString("llm.model"),
			Timeout: viper.GetInt("llm.timeout"),
		},
		Image: ImageConfig{
			APIKey:       viper.GetString("image.api_key"),
			BaseURL:      viper.GetString("image.base_url"),
			Timeout:      viper.GetInt("image.timeout"),
			PollInterval: viper.GetInt("image.poll_interval"),
		},
		R2: R2Config{
			AccountID:       viper.GetString("r2.account_id"),
			AccessKeyID:     viper.GetString("r2.access_key_id"),
			SecretAccessKey: viper.GetString("r2.secret_access_key"),
			BucketName:      viper.GetString("r2.bucket_name"),
			PublicURL:       viper.GetString("r2.public_url"),
		},
		Pipeline: PipelineConfig{
			ChunkSize:          viper.GetInt("pipeline.chunk_size"),
			PersistBatchSize:   viper.GetInt("pipeline.persist_batch_size"),
			Transactional:      viper.GetBool("pipeline.transactional"),
			MaxRetries:         viper.GetInt("pipeline.max_retries"),
			BackoffBaseMs:      viper.GetInt("pipeline.backoff_base_ms"),
			BackoffMaxMs:       viper.GetInt("pipeline.backoff_max_ms"),
			CaloriePassPct:     viper.GetFloat64("pipeline.calorie_pass_pct"),
			CalorieFixPct:      viper.GetFloat64("pipeline.calorie_fix_pct"),
			MacroPassGrams:     viper.GetFloat64("pipeline.macro_pass_grams"),
			MacroFixGrams:      viper.GetFloat64("pipeline.macro_fix_grams"),
			UploadConcurrency:  viper.GetInt("pipeline.upload_concurrency"),
			UploadTimeoutSec:   viper.GetInt("pipeline.upload_timeout_sec"),
			ImageSimilarity:    viper.GetFloat64("pipeline.image_similarity"),
			ImageRegenLimit:    viper.GetInt("pipeline.image_regen_limit"),
			RetentionMinutes:   viper.GetInt("pipeline.retention_minutes"),
			CleanupIntervalMin: viper.GetInt("pipeline.cleanup_interval_min"),
		},
	}

	return cfg, nil
}
