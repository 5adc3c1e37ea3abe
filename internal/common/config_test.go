package common

import "testing"

func TestConfig_DefaultPort(t *testing.T) {
	cfg := NewDefaultConfig()
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port default = %d, want %d", cfg.Server.Port, 8080)
	}
}

func TestConfig_PortEnvOverride(t *testing.T) {
	t.Setenv("CTRLMAP_PORT", "9090")

	cfg := NewDefaultConfig()
	applyEnvOverrides(cfg)

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d after env override, want %d", cfg.Server.Port, 9090)
	}
}

func TestConfig_PipelineDefaults(t *testing.T) {
	cfg := NewDefaultConfig()
	if cfg.Pipeline.TopK != 20 {
		t.Errorf("Pipeline.TopK default = %d, want 20", cfg.Pipeline.TopK)
	}
	if cfg.Pipeline.RerankMin != 0.5 {
		t.Errorf("Pipeline.RerankMin default = %v, want 0.5", cfg.Pipeline.RerankMin)
	}
	if cfg.Pipeline.ReasoningConcurrency != 5 {
		t.Errorf("Pipeline.ReasoningConcurrency default = %d, want 5", cfg.Pipeline.ReasoningConcurrency)
	}
	if cfg.Pipeline.EmbedBatchSize != 32 {
		t.Errorf("Pipeline.EmbedBatchSize default = %d, want 32", cfg.Pipeline.EmbedBatchSize)
	}
}

func TestConfig_QueueDefaults(t *testing.T) {
	cfg := NewDefaultConfig()
	if cfg.Storage.Queue.VisibilityTimeoutSec != 360 {
		t.Errorf("Queue.VisibilityTimeoutSec default = %d, want 360", cfg.Storage.Queue.VisibilityTimeoutSec)
	}
	if cfg.Storage.Queue.MaxReceiveCount != 3 {
		t.Errorf("Queue.MaxReceiveCount default = %d, want 3", cfg.Storage.Queue.MaxReceiveCount)
	}
}

func TestConfig_ScienceAgentTimeoutDefaults(t *testing.T) {
	cfg := NewDefaultConfig()
	if cfg.Science.GetReadTimeout().Seconds() != 30 {
		t.Errorf("Science read timeout default = %v, want 30s", cfg.Science.GetReadTimeout())
	}
	if cfg.Agent.GetReadTimeout().Seconds() != 60 {
		t.Errorf("Agent read timeout default = %v, want 60s", cfg.Agent.GetReadTimeout())
	}
}

func TestConfig_SurrealDBEnvOverride(t *testing.T) {
	t.Setenv("CTRLMAP_SURREALDB_ENDPOINT", "ws://db.example.com/rpc")

	cfg := NewDefaultConfig()
	applyEnvOverrides(cfg)

	if cfg.Storage.SurrealDB.Endpoint != "ws://db.example.com/rpc" {
		t.Errorf("SurrealDB.Endpoint = %q after env override, want %q", cfg.Storage.SurrealDB.Endpoint, "ws://db.example.com/rpc")
	}
}

func TestConfig_QueueURLEnvOverride(t *testing.T) {
	t.Setenv("CTRLMAP_QUEUE_URL", "https://sqs.us-east-1.amazonaws.com/123/mappings")

	cfg := NewDefaultConfig()
	applyEnvOverrides(cfg)

	if cfg.Storage.Queue.QueueURL != "https://sqs.us-east-1.amazonaws.com/123/mappings" {
		t.Errorf("Queue.QueueURL = %q after env override, want the SQS URL", cfg.Storage.Queue.QueueURL)
	}
}

func TestConfig_ScienceBaseURLEnvOverride(t *testing.T) {
	t.Setenv("CTRLMAP_SCIENCE_BASE_URL", "http://science.internal:9000")

	cfg := NewDefaultConfig()
	applyEnvOverrides(cfg)

	if cfg.Science.BaseURL != "http://science.internal:9000" {
		t.Errorf("Science.BaseURL = %q after env override, want %q", cfg.Science.BaseURL, "http://science.internal:9000")
	}
}

func TestConfig_IsProduction(t *testing.T) {
	cfg := &Config{Environment: "production"}
	if !cfg.IsProduction() {
		t.Error("IsProduction() = false, want true for environment=production")
	}
	cfg.Environment = "development"
	if cfg.IsProduction() {
		t.Error("IsProduction() = true, want false for environment=development")
	}
}
