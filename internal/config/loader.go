package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "imageforge.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "IMAGEFORGE_PORT")
	setString(&cfg.Server.CORSOrigin, "IMAGEFORGE_CORS_ORIGIN")
	setString(&cfg.Logging.Level, "IMAGEFORGE_LOG_LEVEL")
	setString(&cfg.Logging.Service, "IMAGEFORGE_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "IMAGEFORGE_LOG_ASYNC")

	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "IMAGEFORGE_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "IMAGEFORGE_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "IMAGEFORGE_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "IMAGEFORGE_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "IMAGEFORGE_PG_HEALTH_CHECK")

	setString(&cfg.NATS.URL, "NATS_URL")
	setInt64(&cfg.Cache.MaxSizeMB, "IMAGEFORGE_CACHE_SIZE_MB")

	setBool(&cfg.Telemetry.Enabled, "IMAGEFORGE_TELEMETRY_ENABLED")
	setString(&cfg.Telemetry.Endpoint, "IMAGEFORGE_OTLP_ENDPOINT")
	setFloat64(&cfg.Telemetry.SampleRate, "IMAGEFORGE_TELEMETRY_SAMPLE_RATE")

	setFloat64(&cfg.Rate.RequestsPerSecond, "IMAGEFORGE_RATE_RPS")
	setInt(&cfg.Rate.Burst, "IMAGEFORGE_RATE_BURST")
	setDuration(&cfg.Rate.CleanupInterval, "IMAGEFORGE_RATE_CLEANUP_INTERVAL")
	setDuration(&cfg.Rate.MaxIdleTime, "IMAGEFORGE_RATE_MAX_IDLE_TIME")

	setInt(&cfg.Breaker.MaxFailures, "IMAGEFORGE_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "IMAGEFORGE_BREAKER_TIMEOUT")

	setInt(&cfg.Retry.MaxAttempts, "IMAGEFORGE_RETRY_MAX_ATTEMPTS")
	setDuration(&cfg.Retry.BaseDelay, "IMAGEFORGE_RETRY_BASE_DELAY")
	setDuration(&cfg.Retry.MaxDelay, "IMAGEFORGE_RETRY_MAX_DELAY")
	setFloat64(&cfg.Retry.Jitter, "IMAGEFORGE_RETRY_JITTER")

	setDuration(&cfg.Task.MaxLifetime, "IMAGEFORGE_TASK_MAX_LIFETIME")
	setInt(&cfg.Task.MaxPolls, "IMAGEFORGE_TASK_MAX_POLLS")

	setString(&cfg.OpenAI.APIKey, "OPENAI_API_KEY")
	setString(&cfg.OpenAI.BaseURL, "IMAGEFORGE_OPENAI_BASE_URL")
	setString(&cfg.OpenAI.Model, "IMAGEFORGE_OPENAI_MODEL")
	setDuration(&cfg.OpenAI.Timeout, "IMAGEFORGE_OPENAI_TIMEOUT")
	setInt(&cfg.OpenAI.Concurrency, "IMAGEFORGE_OPENAI_CONCURRENCY")
	setDuration(&cfg.OpenAI.AcquireWait, "IMAGEFORGE_OPENAI_ACQUIRE_WAIT")

	setString(&cfg.Midjourney.BaseURL, "IMAGEFORGE_MJ_BASE_URL")
	setString(&cfg.Midjourney.APISecret, "IMAGEFORGE_MJ_API_SECRET")
	setDuration(&cfg.Midjourney.Timeout, "IMAGEFORGE_MJ_TIMEOUT")
	setInt(&cfg.Midjourney.Concurrency, "IMAGEFORGE_MJ_CONCURRENCY")
	setDuration(&cfg.Midjourney.AcquireWait, "IMAGEFORGE_MJ_ACQUIRE_WAIT")
	setDuration(&cfg.Midjourney.PollInitial, "IMAGEFORGE_MJ_POLL_INITIAL")
	setDuration(&cfg.Midjourney.PollMax, "IMAGEFORGE_MJ_POLL_MAX")
	setFloat64(&cfg.Midjourney.PollMultiplier, "IMAGEFORGE_MJ_POLL_MULTIPLIER")
	setDuration(&cfg.Midjourney.AccountCacheTTL, "IMAGEFORGE_MJ_ACCOUNT_CACHE_TTL")
	setString(&cfg.Midjourney.CallbackToken, "IMAGEFORGE_MJ_CALLBACK_TOKEN")

	setString(&cfg.Notify.DefaultURL, "IMAGEFORGE_NOTIFY_URL")
	setDuration(&cfg.Notify.Timeout, "IMAGEFORGE_NOTIFY_TIMEOUT")
	setInt(&cfg.Notify.MaxRetries, "IMAGEFORGE_NOTIFY_MAX_RETRIES")
	setDuration(&cfg.Notify.RetryDelay, "IMAGEFORGE_NOTIFY_RETRY_DELAY")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Postgres.DSN != "" && cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Rate.Burst < 1 {
		return errors.New("rate.burst must be >= 1")
	}
	if cfg.Retry.MaxAttempts < 1 {
		return errors.New("retry.max_attempts must be >= 1")
	}
	if cfg.Retry.Jitter < 0 || cfg.Retry.Jitter >= 1 {
		return errors.New("retry.jitter must be in [0, 1)")
	}
	if cfg.Midjourney.PollMultiplier < 1 {
		return errors.New("midjourney.poll_multiplier must be >= 1")
	}
	if cfg.Task.MaxPolls < 1 {
		return errors.New("task.max_polls must be >= 1")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
