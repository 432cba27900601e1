package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"judgecore/internal/judge/model"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "judge.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config failed: %v", err)
	}
	return path
}

func TestLoadAppConfigDefaults(t *testing.T) {
	path := writeConfig(t, `
executor:
  baseURL: http://judge0:2358
redis:
  addr: 127.0.0.1:6379
kafka:
  topics: [a, b]
`)
	cfg, err := loadAppConfig(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Server.Addr != defaultHTTPAddr || cfg.Orchestrator.TestDeadline != defaultTestDeadline {
		t.Fatalf("expected server defaults, got %+v", cfg.Server)
	}
	if cfg.Poller.MaxAttempts != 60 || cfg.Poller.Interval != time.Second {
		t.Fatalf("expected poller defaults, got %+v", cfg.Poller)
	}
	if cfg.Kafka.TopicWeights["a"] != 8 || cfg.Kafka.TopicWeights["b"] != 4 {
		t.Fatalf("expected default topic weights, got %v", cfg.Kafka.TopicWeights)
	}
	table := cfg.languageTable()
	if table[model.LanguagePython] != 71 {
		t.Fatalf("expected default language table, got %v", table)
	}
}

func TestLoadAppConfigEnvOverrides(t *testing.T) {
	t.Setenv("JUDGE0_API_KEY", "secret-key")
	t.Setenv("REDIS_PASSWORD", "redis-pass")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	path := writeConfig(t, `
executor:
  baseURL: http://judge0:2358
  apiKey: from-yaml
redis:
  addr: 127.0.0.1:6379
languages:
  Python: 100
`)
	cfg, err := loadAppConfig(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Executor.APIKey != "secret-key" || cfg.Redis.Password != "redis-pass" {
		t.Fatalf("expected env overrides, got %+v", cfg.Executor)
	}
	if len(cfg.Kafka.Brokers) != 2 {
		t.Fatalf("expected 2 brokers, got %v", cfg.Kafka.Brokers)
	}
	if cfg.languageTable()[model.LanguagePython] != 100 {
		t.Fatalf("expected configured language id")
	}
}

func TestLoadAppConfigRejects(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "no executor", body: "redis:\n  addr: x\n"},
		{name: "no redis", body: "executor:\n  baseURL: http://x\n"},
		{name: "bad policy", body: "executor:\n  baseURL: http://x\nredis:\n  addr: x\norchestrator:\n  earlyExit: sometimes\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("JUDGE0_BASE_URL", "")
			t.Setenv("REDIS_ADDR", "")
			if _, err := loadAppConfig(writeConfig(t, tt.body)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestLoadEnvMissingFileIsIgnored(t *testing.T) {
	if err := loadEnv(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("expected missing env file to be ignored, got %v", err)
	}
}

func TestSampleConfigParses(t *testing.T) {
	cfg, err := loadAppConfig(filepath.Join("..", "..", "configs", "judge_service.yaml"))
	if err != nil {
		t.Fatalf("load sample config failed: %v", err)
	}
	if !cfg.Server.RateLimit.Enabled || cfg.Server.RateLimit.Evaluate.IPMax != 20 {
		t.Fatalf("expected rate limit section, got %+v", cfg.Server.RateLimit)
	}
	if cfg.Server.RateLimit.Window != time.Minute {
		t.Fatalf("expected 1m window, got %s", cfg.Server.RateLimit.Window)
	}
	if len(cfg.Server.CORS.AllowedMethods) != 3 {
		t.Fatalf("expected cors methods, got %v", cfg.Server.CORS.AllowedMethods)
	}
}
