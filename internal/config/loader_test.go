package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.Server.Port != "8080" {
		t.Errorf("expected port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Retry.MaxAttempts != 4 {
		t.Errorf("expected retry max_attempts 4, got %d", cfg.Retry.MaxAttempts)
	}
	if cfg.Breaker.Timeout != 30*time.Second {
		t.Errorf("expected breaker timeout 30s, got %v", cfg.Breaker.Timeout)
	}
	if cfg.Midjourney.PollInitial != 5*time.Second {
		t.Errorf("expected poll_initial 5s, got %v", cfg.Midjourney.PollInitial)
	}
}

func TestLoadYAMLOverride(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "test.yaml")

	content := `
server:
  port: "9090"
  cors_origin: "http://example.com"
midjourney:
  base_url: "http://mj-proxy:8086"
  poll_multiplier: 2.0
logging:
  level: "debug"
`
	if err := os.WriteFile(yamlPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := Defaults()
	if err := loadYAML(&cfg, yamlPath); err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.Server.Port)
	}
	if cfg.Midjourney.BaseURL != "http://mj-proxy:8086" {
		t.Errorf("expected mj base url override, got %s", cfg.Midjourney.BaseURL)
	}
	if cfg.Midjourney.PollMultiplier != 2.0 {
		t.Errorf("expected poll_multiplier 2.0, got %v", cfg.Midjourney.PollMultiplier)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected log level debug, got %s", cfg.Logging.Level)
	}
	// Unchanged fields keep defaults
	if cfg.OpenAI.Model != "dall-e-3" {
		t.Errorf("expected default openai model, got %s", cfg.OpenAI.Model)
	}
}

func TestLoadYAMLMissing(t *testing.T) {
	cfg := Defaults()
	err := loadYAML(&cfg, "/nonexistent/path.yaml")
	if err != nil {
		t.Errorf("missing YAML should not error, got %v", err)
	}
}

func TestEnvOverride(t *testing.T) {
	cfg := Defaults()

	t.Setenv("IMAGEFORGE_PORT", "7070")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("IMAGEFORGE_RETRY_MAX_ATTEMPTS", "7")
	t.Setenv("IMAGEFORGE_LOG_LEVEL", "warn")
	t.Setenv("IMAGEFORGE_MJ_POLL_MAX", "45s")

	loadEnv(&cfg)

	if cfg.Server.Port != "7070" {
		t.Errorf("expected port 7070, got %s", cfg.Server.Port)
	}
	if cfg.OpenAI.APIKey != "sk-test" {
		t.Errorf("expected api key from env, got %s", cfg.OpenAI.APIKey)
	}
	if cfg.Retry.MaxAttempts != 7 {
		t.Errorf("expected retry max_attempts 7, got %d", cfg.Retry.MaxAttempts)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("expected log level warn, got %s", cfg.Logging.Level)
	}
	if cfg.Midjourney.PollMax != 45*time.Second {
		t.Errorf("expected poll_max 45s, got %v", cfg.Midjourney.PollMax)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty port", func(c *Config) { c.Server.Port = "" }},
		{"zero retry attempts", func(c *Config) { c.Retry.MaxAttempts = 0 }},
		{"jitter out of range", func(c *Config) { c.Retry.Jitter = 1.5 }},
		{"poll multiplier below one", func(c *Config) { c.Midjourney.PollMultiplier = 0.5 }},
		{"zero max polls", func(c *Config) { c.Task.MaxPolls = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			if err := validate(&cfg); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestLoadFromAppliesFullHierarchy(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "imageforge.yaml")

	content := `
server:
  port: "9191"
retry:
  max_attempts: 6
`
	if err := os.WriteFile(yamlPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("IMAGEFORGE_PORT", "9292") // env wins over YAML

	cfg, err := LoadFrom(yamlPath)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != "9292" {
		t.Errorf("expected env to win, got port %s", cfg.Server.Port)
	}
	if cfg.Retry.MaxAttempts != 6 {
		t.Errorf("expected YAML retry max_attempts 6, got %d", cfg.Retry.MaxAttempts)
	}
}
