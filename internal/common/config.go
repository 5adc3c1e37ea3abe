// Package common provides shared utilities: configuration and logging.
package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Config holds all configuration for the mapping pipeline.
type Config struct {
	Environment string        `toml:"environment"`
	Server      ServerConfig  `toml:"server"`
	Storage     StorageConfig `toml:"storage"`
	Science     RPCConfig     `toml:"science"`
	Agent       RPCConfig     `toml:"agent"`
	Pipeline    PipelineConfig `toml:"pipeline"`
	Logging     LoggingConfig `toml:"logging"`
}

// ServerConfig holds HTTP server configuration for Intake/StatusQuery.
type ServerConfig struct {
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	StatusURLBase string `toml:"status_url_base"`
}

// StorageConfig groups connection settings for every backing store/queue.
type StorageConfig struct {
	SurrealDB SurrealDBConfig `toml:"surrealdb"`
	Redis     RedisConfig     `toml:"redis"`
	Queue     QueueConfig     `toml:"queue"`
}

// SurrealDBConfig holds JobStore/ControlCatalog connection settings.
type SurrealDBConfig struct {
	Endpoint  string `toml:"endpoint"`
	Namespace string `toml:"namespace"`
	Database  string `toml:"database"`
	Username  string `toml:"username"`
	Password  string `toml:"password"`
}

// RedisConfig holds EnrichmentCache/EmbeddingCache connection settings.
type RedisConfig struct {
	Address  string `toml:"address"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

// QueueConfig holds RequestQueue/DLQReader connection settings (§4.7).
type QueueConfig struct {
	Region              string `toml:"region"`
	Endpoint            string `toml:"endpoint"` // non-empty overrides the default SQS endpoint (LocalStack)
	AccessKeyID         string `toml:"access_key_id"`
	SecretAccessKey     string `toml:"secret_access_key"`
	QueueURL            string `toml:"queue_url"`
	DLQURL              string `toml:"dlq_url"`
	VisibilityTimeoutSec int   `toml:"visibility_timeout_sec"`
	MaxReceiveCount     int    `toml:"max_receive_count"`
}

// RPCConfig holds a collaborator client's connection and retry settings,
// shared shape for both ScienceClient and AgentClient (§4.5, §4.6).
type RPCConfig struct {
	BaseURL        string `toml:"base_url"`
	ReadTimeoutSec int    `toml:"read_timeout_sec"`
	TotalTimeoutSec int   `toml:"total_timeout_sec"`
	MaxRetries     int    `toml:"max_retries"`
	RateLimitPerSec float64 `toml:"rate_limit_per_sec"`
}

// GetReadTimeout returns the RPC's per-attempt read timeout.
func (c *RPCConfig) GetReadTimeout() time.Duration {
	if c.ReadTimeoutSec <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.ReadTimeoutSec) * time.Second
}

// GetTotalTimeout returns the RPC's overall client timeout.
func (c *RPCConfig) GetTotalTimeout() time.Duration {
	if c.TotalTimeoutSec <= 0 {
		return 120 * time.Second
	}
	return time.Duration(c.TotalTimeoutSec) * time.Second
}

// PipelineConfig holds the §6 workflow tunables.
type PipelineConfig struct {
	ModelVersion         string  `toml:"model_version"`
	EnrichmentVersion    string  `toml:"enrichment_version"`
	TopK                 int     `toml:"top_k"`
	RerankMin            float64 `toml:"rerank_min"`
	ReasoningConcurrency int     `toml:"reasoning_concurrency"`
	EmbedBatchSize       int     `toml:"embed_batch_size"`
	WorkflowBudgetSec    int     `toml:"workflow_budget_sec"`
	JobTTLSec            int64   `toml:"job_ttl_sec"`
	WorkerConcurrency    int     `toml:"worker_concurrency"`
}

// GetWorkflowBudget returns the overall per-run soft timeout.
func (c *PipelineConfig) GetWorkflowBudget() time.Duration {
	if c.WorkflowBudgetSec <= 0 {
		return 540 * time.Second
	}
	return time.Duration(c.WorkflowBudgetSec) * time.Second
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// NewDefaultConfig returns a Config populated with the §6 defaults.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Host:          "0.0.0.0",
			Port:          8080,
			StatusURLBase: "http://localhost:8080/mappings/",
		},
		Storage: StorageConfig{
			SurrealDB: SurrealDBConfig{
				Endpoint:  "ws://localhost:8000/rpc",
				Namespace: "ctrlmap",
				Database:  "ctrlmap",
			},
			Redis: RedisConfig{
				Address: "localhost:6379",
			},
			Queue: QueueConfig{
				Region:               "us-east-1",
				VisibilityTimeoutSec: 360,
				MaxReceiveCount:      3,
			},
		},
		Science: RPCConfig{
			ReadTimeoutSec:  30,
			TotalTimeoutSec: 120,
			MaxRetries:      3,
		},
		Agent: RPCConfig{
			ReadTimeoutSec:  60,
			TotalTimeoutSec: 120,
			MaxRetries:      2,
		},
		Pipeline: PipelineConfig{
			ModelVersion:         "v1",
			EnrichmentVersion:    "v1",
			TopK:                 20,
			RerankMin:            0.5,
			ReasoningConcurrency: 5,
			EmbedBatchSize:       32,
			WorkflowBudgetSec:    540,
			JobTTLSec:            604800,
			WorkerConcurrency:    5,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadConfig loads configuration from files with environment overrides,
// merging each path in order (later files override earlier) before
// applying CTRLMAP_* environment variables.
func LoadConfig(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for _, path := range paths {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)
	return config, nil
}

// applyEnvOverrides applies CTRLMAP_* environment variable overrides.
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("CTRLMAP_ENV"); env != "" {
		config.Environment = env
	}
	if host := os.Getenv("CTRLMAP_HOST"); host != "" {
		config.Server.Host = host
	}
	if port := os.Getenv("CTRLMAP_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if level := os.Getenv("CTRLMAP_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}

	if v := os.Getenv("CTRLMAP_SURREALDB_ENDPOINT"); v != "" {
		config.Storage.SurrealDB.Endpoint = v
	}
	if v := os.Getenv("CTRLMAP_SURREALDB_USERNAME"); v != "" {
		config.Storage.SurrealDB.Username = v
	}
	if v := os.Getenv("CTRLMAP_SURREALDB_PASSWORD"); v != "" {
		config.Storage.SurrealDB.Password = v
	}

	if v := os.Getenv("CTRLMAP_REDIS_ADDRESS"); v != "" {
		config.Storage.Redis.Address = v
	}
	if v := os.Getenv("CTRLMAP_REDIS_PASSWORD"); v != "" {
		config.Storage.Redis.Password = v
	}

	if v := os.Getenv("CTRLMAP_QUEUE_URL"); v != "" {
		config.Storage.Queue.QueueURL = v
	}
	if v := os.Getenv("CTRLMAP_DLQ_URL"); v != "" {
		config.Storage.Queue.DLQURL = v
	}
	if v := os.Getenv("CTRLMAP_QUEUE_ENDPOINT"); v != "" {
		config.Storage.Queue.Endpoint = v
	}
	if v := os.Getenv("CTRLMAP_AWS_ACCESS_KEY_ID"); v != "" {
		config.Storage.Queue.AccessKeyID = v
	}
	if v := os.Getenv("CTRLMAP_AWS_SECRET_ACCESS_KEY"); v != "" {
		config.Storage.Queue.SecretAccessKey = v
	}

	if v := os.Getenv("CTRLMAP_SCIENCE_BASE_URL"); v != "" {
		config.Science.BaseURL = v
	}
	if v := os.Getenv("CTRLMAP_AGENT_BASE_URL"); v != "" {
		config.Agent.BaseURL = v
	}
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}
