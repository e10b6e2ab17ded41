// Command imageforge runs the image generation broker: the HTTP API, the
// task orchestrator, and the provider adapters.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	ifhttp "github.com/Strob0t/ImageForge/internal/adapter/http"
	"github.com/Strob0t/ImageForge/internal/adapter/memstore"
	"github.com/Strob0t/ImageForge/internal/adapter/midjourney"
	ifnats "github.com/Strob0t/ImageForge/internal/adapter/nats"
	"github.com/Strob0t/ImageForge/internal/adapter/openai"
	ifotel "github.com/Strob0t/ImageForge/internal/adapter/otel"
	"github.com/Strob0t/ImageForge/internal/adapter/postgres"
	"github.com/Strob0t/ImageForge/internal/adapter/ristretto"
	"github.com/Strob0t/ImageForge/internal/adapter/ws"
	"github.com/Strob0t/ImageForge/internal/config"
	"github.com/Strob0t/ImageForge/internal/logger"
	"github.com/Strob0t/ImageForge/internal/middleware"
	"github.com/Strob0t/ImageForge/internal/port/eventstore"
	"github.com/Strob0t/ImageForge/internal/port/messagequeue"
	"github.com/Strob0t/ImageForge/internal/port/taskstore"
	"github.com/Strob0t/ImageForge/internal/resilience"
	"github.com/Strob0t/ImageForge/internal/service"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, logCloser := logger.New(logger.Config{
		Level:   cfg.Logging.Level,
		Service: cfg.Logging.Service,
		Async:   cfg.Logging.Async,
	})
	slog.SetDefault(log)
	defer logCloser.Close()

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"postgres", cfg.Postgres.DSN != "",
		"nats", cfg.NATS.URL != "",
	)

	ctx := context.Background()

	// --- Telemetry ---
	tel, err := ifotel.Init(ctx, cfg.Telemetry, cfg.Logging.Service)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			slog.Error("telemetry shutdown", "error", err)
		}
	}()

	// --- Infrastructure ---
	cache, err := ristretto.New(cfg.Cache.MaxSizeMB << 20)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer cache.Close()

	var (
		store  taskstore.Store
		events eventstore.Store
	)
	if cfg.Postgres.DSN != "" {
		pool, err := postgres.NewPool(ctx, cfg.Postgres)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		defer pool.Close()
		if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		store = postgres.NewStore(pool)
		events = postgres.NewEventStore(pool)
		slog.Info("postgres connected, migrations applied")
	} else {
		mem := memstore.New()
		store, events = mem, mem
		slog.Warn("no postgres dsn configured, using in-memory store")
	}

	var queue messagequeue.Queue
	if cfg.NATS.URL != "" {
		q, err := ifnats.Connect(ctx, cfg.NATS.URL)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer func() { _ = q.Drain() }()
		queue = q
		slog.Info("nats connected")
	}

	// --- Providers ---
	gates := make(map[string]resilience.Gate)

	var mjClient *midjourney.Client
	if cfg.Midjourney.BaseURL != "" {
		mjClient = midjourney.NewClient(midjourney.Config{
			BaseURL:         cfg.Midjourney.BaseURL,
			APISecret:       cfg.Midjourney.APISecret,
			Timeout:         cfg.Midjourney.Timeout,
			AccountCacheTTL: cfg.Midjourney.AccountCacheTTL,
		}, cache)
		mjClient.SetBreaker(resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout))
		gates[midjourney.Name] = resilience.Gate{
			Capacity:       cfg.Midjourney.Concurrency,
			AcquireTimeout: cfg.Midjourney.AcquireWait,
		}
	}

	var dalleClient *openai.Client
	if cfg.OpenAI.APIKey != "" {
		dalleClient = openai.NewClient(openai.Config{
			APIKey:  cfg.OpenAI.APIKey,
			BaseURL: cfg.OpenAI.BaseURL,
			Model:   cfg.OpenAI.Model,
			Timeout: cfg.OpenAI.Timeout,
		})
		dalleClient.SetBreaker(resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout))
		gates[openai.Name] = resilience.Gate{
			Capacity:       cfg.OpenAI.Concurrency,
			AcquireTimeout: cfg.OpenAI.AcquireWait,
		}
	} else {
		slog.Warn("no openai api key configured, dalle provider disabled")
	}

	// --- Services ---
	orch := service.NewOrchestrator(
		store,
		events,
		resilience.NewLimiter(gates),
		resilience.NewRetryPolicy(cfg.Retry.MaxAttempts, cfg.Retry.BaseDelay, cfg.Retry.MaxDelay, cfg.Retry.Jitter),
		cfg.Task,
		service.PollSettings{
			Initial:    cfg.Midjourney.PollInitial,
			Max:        cfg.Midjourney.PollMax,
			Multiplier: cfg.Midjourney.PollMultiplier,
		},
	)
	defer orch.Close()

	if mjClient != nil {
		orch.RegisterProvider(mjClient)
	}
	if dalleClient != nil {
		orch.RegisterProvider(dalleClient)
	}

	hub := ws.NewHub()
	orch.SetBroadcaster(hub)
	orch.SetNotifier(service.NewNotifier(cfg.Notify))
	if queue != nil {
		orch.SetQueue(queue)
	}
	if cfg.Telemetry.Enabled {
		metrics, err := ifotel.NewMetrics()
		if err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
		orch.SetMetrics(metrics)
	}

	// --- HTTP ---
	handlers := &ifhttp.Handlers{
		Orchestrator: orch,
		Midjourney:   mjClient,
	}

	rl := middleware.NewRateLimiter(cfg.Rate.RequestsPerSecond, cfg.Rate.Burst)
	stopCleanup := rl.StartCleanup(cfg.Rate.CleanupInterval, cfg.Rate.MaxIdleTime)
	defer stopCleanup()

	r := chi.NewRouter()
	r.Use(ifhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(ifhttp.SecurityHeaders)
	r.Use(ifhttp.Logger)
	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(rl.Handler)
	r.Use(middleware.Idempotency(cache))
	if cfg.Telemetry.Enabled {
		r.Use(ifotel.HTTPMiddleware(cfg.Logging.Service))
	}

	r.Get("/health", healthHandler(cfg, queue))
	r.Get("/ws", hub.HandleWS)
	ifhttp.MountRoutes(r, handlers, cfg.Midjourney)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
		}
	}()

	<-done
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}

// healthHandler returns an http.HandlerFunc that reports service health.
func healthHandler(cfg *config.Config, queue messagequeue.Queue) http.HandlerFunc {
	type healthStatus struct {
		Status string `json:"status"`
		Store  string `json:"store"`
		NATS   string `json:"nats"`
	}

	return func(w http.ResponseWriter, _ *http.Request) {
		status := healthStatus{
			Status: "ok",
			Store:  "memory",
			NATS:   "disabled",
		}
		if cfg.Postgres.DSN != "" {
			status.Store = "postgres"
		}
		if queue != nil {
			if queue.IsConnected() {
				status.NATS = "connected"
			} else {
				status.NATS = "disconnected"
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(status)
	}
}
