// Package config provides hierarchical configuration loading for ImageForge.
// Precedence: defaults < YAML file < environment variables.
package config

import "time"

// Config holds all runtime configuration for the ImageForge core service.
type Config struct {
	Server     Server     `yaml:"server"`
	Logging    Logging    `yaml:"logging"`
	Postgres   Postgres   `yaml:"postgres"`
	NATS       NATS       `yaml:"nats"`
	Cache      Cache      `yaml:"cache"`
	Telemetry  Telemetry  `yaml:"telemetry"`
	Rate       Rate       `yaml:"rate"`
	Breaker    Breaker    `yaml:"breaker"`
	Retry      Retry      `yaml:"retry"`
	Task       Task       `yaml:"task"`
	OpenAI     OpenAI     `yaml:"openai"`
	Midjourney Midjourney `yaml:"midjourney"`
	Notify     Notify     `yaml:"notify"`
}

// Server holds HTTP server configuration.
type Server struct {
	Port       string `yaml:"port"`
	CORSOrigin string `yaml:"cors_origin"`
}

// Logging holds structured logging configuration.
type Logging struct {
	Level   string `yaml:"level"`
	Service string `yaml:"service"`
	Async   bool   `yaml:"async"`
}

// Postgres holds PostgreSQL connection configuration. An empty DSN selects
// the in-memory task store instead.
type Postgres struct {
	DSN             string        `yaml:"dsn"`
	MaxConns        int32         `yaml:"max_conns"`
	MinConns        int32         `yaml:"min_conns"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
	HealthCheck     time.Duration `yaml:"health_check"`
}

// NATS holds NATS JetStream configuration. An empty URL disables event
// publishing.
type NATS struct {
	URL string `yaml:"url"`
}

// Cache holds in-process cache configuration.
type Cache struct {
	MaxSizeMB int64 `yaml:"max_size_mb"`
}

// Telemetry holds OpenTelemetry exporter configuration.
type Telemetry struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint"`
	SampleRate float64 `yaml:"sample_rate"`
}

// Rate holds inbound per-IP rate limiter configuration.
type Rate struct {
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	CleanupInterval   time.Duration `yaml:"cleanup_interval"`
	MaxIdleTime       time.Duration `yaml:"max_idle_time"`
}

// Breaker holds circuit breaker configuration for provider clients.
type Breaker struct {
	MaxFailures int           `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Retry holds the submission/poll retry policy configuration.
type Retry struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	Jitter      float64       `yaml:"jitter"`
}

// Task holds per-task lifetime ceilings.
type Task struct {
	MaxLifetime time.Duration `yaml:"max_lifetime"`
	MaxPolls    int           `yaml:"max_polls"`
}

// OpenAI holds the DALL-E provider configuration.
type OpenAI struct {
	APIKey      string        `yaml:"api_key"`
	BaseURL     string        `yaml:"base_url"`
	Model       string        `yaml:"model"`
	Timeout     time.Duration `yaml:"timeout"`
	Concurrency int           `yaml:"concurrency"`
	AcquireWait time.Duration `yaml:"acquire_wait"`
}

// Midjourney holds the Midjourney proxy provider configuration.
type Midjourney struct {
	BaseURL         string        `yaml:"base_url"`
	APISecret       string        `yaml:"api_secret"`
	Timeout         time.Duration `yaml:"timeout"`
	Concurrency     int           `yaml:"concurrency"`
	AcquireWait     time.Duration `yaml:"acquire_wait"`
	PollInitial     time.Duration `yaml:"poll_initial"`
	PollMax         time.Duration `yaml:"poll_max"`
	PollMultiplier  float64       `yaml:"poll_multiplier"`
	AccountCacheTTL time.Duration `yaml:"account_cache_ttl"`
	CallbackToken   string        `yaml:"callback_token"`
}

// Notify holds outbound webhook notification configuration.
type Notify struct {
	DefaultURL string        `yaml:"default_url"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
	RetryDelay time.Duration `yaml:"retry_delay"`
}

// Defaults returns a Config with sensible default values for local development.
func Defaults() Config {
	return Config{
		Server: Server{
			Port:       "8080",
			CORSOrigin: "http://localhost:3000",
		},
		Logging: Logging{
			Level:   "info",
			Service: "imageforge-core",
		},
		Postgres: Postgres{
			MaxConns:        10,
			MinConns:        2,
			MaxConnLifetime: time.Hour,
			MaxConnIdleTime: 10 * time.Minute,
			HealthCheck:     time.Minute,
		},
		Cache: Cache{
			MaxSizeMB: 16,
		},
		Telemetry: Telemetry{
			Endpoint:   "localhost:4317",
			SampleRate: 1.0,
		},
		Rate: Rate{
			RequestsPerSecond: 20,
			Burst:             40,
			CleanupInterval:   5 * time.Minute,
			MaxIdleTime:       15 * time.Minute,
		},
		Breaker: Breaker{
			MaxFailures: 5,
			Timeout:     30 * time.Second,
		},
		Retry: Retry{
			MaxAttempts: 4,
			BaseDelay:   time.Second,
			MaxDelay:    30 * time.Second,
			Jitter:      0.2,
		},
		Task: Task{
			MaxLifetime: 15 * time.Minute,
			MaxPolls:    60,
		},
		OpenAI: OpenAI{
			BaseURL:     "https://api.openai.com",
			Model:       "dall-e-3",
			Timeout:     2 * time.Minute,
			Concurrency: 4,
			AcquireWait: 30 * time.Second,
		},
		Midjourney: Midjourney{
			BaseURL:         "http://localhost:8086",
			Timeout:         30 * time.Second,
			Concurrency:     3,
			AcquireWait:     30 * time.Second,
			PollInitial:     5 * time.Second,
			PollMax:         30 * time.Second,
			PollMultiplier:  1.5,
			AccountCacheTTL: time.Minute,
		},
		Notify: Notify{
			Timeout:    10 * time.Second,
			MaxRetries: 3,
			RetryDelay: 5 * time.Second,
		},
	}
}
