// Package config loads engine configuration from the environment with an
// optional YAML overlay file.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Provider identifies an LLM or embedding backend.
type Provider string

const (
	ProviderOllama    Provider = "ollama"
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
)

// Engine holds the tuning knobs of the map-reduce pipeline.
type Engine struct {
	// TargetChunksPerBatch is the batch planner's chunk-count target.
	TargetChunksPerBatch int `yaml:"target_chunks_per_batch"`
	// MapWorkers bounds the per-job map worker pool width.
	MapWorkers int `yaml:"map_workers"`
	// MapRetryAttempts is the per-batch attempt budget (including the first).
	MapRetryAttempts int `yaml:"map_retry_attempts"`
	// MapRetryDelay is the fixed wait between per-batch attempts.
	MapRetryDelay time.Duration `yaml:"map_retry_delay"`
	// JobTimeout is the whole-job wall-clock budget.
	JobTimeout time.Duration `yaml:"job_timeout"`
	// AsyncThreshold routes queries whose estimate exceeds it to async jobs.
	AsyncThreshold time.Duration `yaml:"async_threshold"`
	// DedupWindow is the cooldown during which an identical query in the
	// same conversation reuses the in-flight job.
	DedupWindow time.Duration `yaml:"dedup_window"`
}

// Config holds all configuration values.
type Config struct {
	// SurrealDB connection
	SurrealDBURL       string `yaml:"surrealdb_url"`
	SurrealDBNamespace string `yaml:"surrealdb_namespace"`
	SurrealDBDatabase  string `yaml:"surrealdb_database"`
	SurrealDBUser      string `yaml:"surrealdb_user"`
	SurrealDBPass      string `yaml:"surrealdb_pass"`
	SurrealDBAuthLevel string `yaml:"surrealdb_auth_level"`

	// Text generation
	LLMProvider     Provider `yaml:"llm_provider"`
	LLMModel        string   `yaml:"llm_model"`
	OllamaHost      string   `yaml:"ollama_host"`
	OpenAIAPIKey    string   `yaml:"-"`
	AnthropicAPIKey string   `yaml:"-"`

	// Embeddings
	EmbedProvider  Provider `yaml:"embed_provider"`
	EmbedModel     string   `yaml:"embed_model"`
	EmbedDimension int      `yaml:"embed_dimension"`

	// HTTP server
	ServerPort string `yaml:"server_port"`

	// Logging
	LogFile  string     `yaml:"log_file"`
	LogLevel slog.Level `yaml:"-"`

	Engine Engine `yaml:"engine"`
}

// DefaultEngine returns the pipeline defaults.
func DefaultEngine() Engine {
	return Engine{
		TargetChunksPerBatch: 10,
		MapWorkers:           10,
		MapRetryAttempts:     2,
		MapRetryDelay:        time.Second,
		JobTimeout:           10 * time.Minute,
		AsyncThreshold:       5 * time.Second,
		DedupWindow:          30 * time.Second,
	}
}

// Load reads configuration from the environment. If MAPFOLD_CONFIG names a
// YAML file, its values are applied first and environment variables override.
func Load() (Config, error) {
	cfg := Config{
		SurrealDBURL:       "ws://localhost:8000/rpc",
		SurrealDBNamespace: "mapfold",
		SurrealDBDatabase:  "knowledge",
		SurrealDBUser:      "root",
		SurrealDBPass:      "root",
		SurrealDBAuthLevel: "root",

		LLMProvider: ProviderOllama,
		LLMModel:    "llama3.1",
		OllamaHost:  "http://localhost:11434",

		EmbedProvider:  ProviderOllama,
		EmbedModel:     "all-minilm:l6-v2",
		EmbedDimension: 384,

		ServerPort: "8585",

		LogFile: "/tmp/mapfold.log",

		Engine: DefaultEngine(),
	}

	if path := os.Getenv("MAPFOLD_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.SurrealDBURL = getEnv("SURREALDB_URL", cfg.SurrealDBURL)
	cfg.SurrealDBNamespace = getEnv("SURREALDB_NAMESPACE", cfg.SurrealDBNamespace)
	cfg.SurrealDBDatabase = getEnv("SURREALDB_DATABASE", cfg.SurrealDBDatabase)
	cfg.SurrealDBUser = getEnv("SURREALDB_USER", cfg.SurrealDBUser)
	cfg.SurrealDBPass = getEnv("SURREALDB_PASS", cfg.SurrealDBPass)
	cfg.SurrealDBAuthLevel = getEnv("SURREALDB_AUTH_LEVEL", cfg.SurrealDBAuthLevel)

	cfg.LLMProvider = Provider(getEnv("MAPFOLD_LLM_PROVIDER", string(cfg.LLMProvider)))
	cfg.LLMModel = getEnv("MAPFOLD_LLM_MODEL", cfg.LLMModel)
	cfg.OllamaHost = getEnv("OLLAMA_HOST", cfg.OllamaHost)
	cfg.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	cfg.AnthropicAPIKey = os.Getenv("ANTHROPIC_API_KEY")

	cfg.EmbedProvider = Provider(getEnv("MAPFOLD_EMBED_PROVIDER", string(cfg.EmbedProvider)))
	cfg.EmbedModel = getEnv("MAPFOLD_EMBED_MODEL", cfg.EmbedModel)
	cfg.EmbedDimension = getEnvInt("MAPFOLD_EMBED_DIMENSION", cfg.EmbedDimension)

	cfg.ServerPort = getEnv("MAPFOLD_SERVER_PORT", cfg.ServerPort)

	cfg.LogFile = getEnv("MAPFOLD_LOG_FILE", cfg.LogFile)
	cfg.LogLevel = parseLogLevel(getEnv("MAPFOLD_LOG_LEVEL", "INFO"))

	cfg.Engine.TargetChunksPerBatch = getEnvInt("MAPFOLD_TARGET_CHUNKS", cfg.Engine.TargetChunksPerBatch)
	cfg.Engine.MapWorkers = getEnvInt("MAPFOLD_MAP_WORKERS", cfg.Engine.MapWorkers)
	cfg.Engine.MapRetryAttempts = getEnvInt("MAPFOLD_MAP_RETRIES", cfg.Engine.MapRetryAttempts)
	cfg.Engine.JobTimeout = getEnvDuration("MAPFOLD_JOB_TIMEOUT", cfg.Engine.JobTimeout)
	cfg.Engine.AsyncThreshold = getEnvDuration("MAPFOLD_ASYNC_THRESHOLD", cfg.Engine.AsyncThreshold)
	cfg.Engine.DedupWindow = getEnvDuration("MAPFOLD_DEDUP_WINDOW", cfg.Engine.DedupWindow)

	return cfg, nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
