// Command workflowengine wires configuration, observability, and the
// workflow execution engine together and serves the engine's ambient HTTP
// surface (health + Prometheus metrics), the way cmd/conexus wired the
// teacher's MCP server.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/flowloom/workflowengine/internal/api"
	"github.com/flowloom/workflowengine/internal/config"
	"github.com/flowloom/workflowengine/internal/engine"
	"github.com/flowloom/workflowengine/internal/observability"
	"github.com/flowloom/workflowengine/internal/security/ratelimit"
	"github.com/flowloom/workflowengine/internal/state"
	"github.com/flowloom/workflowengine/internal/timeout"
)

const Version = "0.1.0-alpha"

func main() {
	ctx := context.Background()

	cfg, err := config.Load(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(observability.LoggerConfig{
		Level:         cfg.Logging.Level,
		Format:        cfg.Logging.Format,
		Output:        os.Stderr,
		AddSource:     true,
		SentryEnabled: cfg.Observability.Sentry.Enabled,
	})

	logger.Info("workflow engine starting",
		"version", Version,
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"max_active_workflows", cfg.Engine.MaxActiveWorkflows,
		"metrics_enabled", cfg.Observability.Metrics.Enabled,
		"tracing_enabled", cfg.Observability.Tracing.Enabled,
	)

	var metrics *observability.MetricsCollector
	if cfg.Observability.Metrics.Enabled {
		metrics = observability.NewMetricsCollector("workflowengine")
		metrics.SetSystemStartTime(time.Now())
		go startMetricsServer(cfg.Observability.Metrics, logger)
	} else {
		logger.Info("metrics collection disabled")
	}

	var tracerProvider *observability.TracerProvider
	if cfg.Observability.Tracing.Enabled {
		tracerProvider, err = observability.NewTracerProvider(observability.TracerConfig{
			ServiceName:    "workflowengine",
			ServiceVersion: Version,
			Environment:    cfg.Observability.Sentry.Environment,
			OTLPEndpoint:   cfg.Observability.Tracing.Endpoint,
			SamplingRate:   cfg.Observability.Tracing.SampleRate,
			Enabled:        true,
		})
		if err != nil {
			logger.Error("failed to initialize tracing provider", "error", err)
			os.Exit(1)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
				logger.Error("failed to shutdown tracer provider", "error", err)
			}
		}()
	} else {
		logger.Info("tracing disabled")
	}

	if cfg.Observability.Sentry.Enabled {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.Observability.Sentry.DSN,
			Environment:      cfg.Observability.Sentry.Environment,
			Release:          cfg.Observability.Sentry.Release,
			TracesSampleRate: cfg.Observability.Sentry.SampleRate,
			EnableTracing:    true,
		}); err != nil {
			logger.Error("failed to initialize Sentry", "error", err)
			os.Exit(1)
		}
		defer sentry.Flush(2 * time.Second)
	} else {
		logger.Info("Sentry disabled")
	}

	errorHandler := observability.NewErrorHandler(logger, metrics, cfg.Observability.Sentry.Enabled)

	breaker := buildCircuitBreaker(cfg, logger)
	coordinator := timeout.NewCoordinator(
		cfg.Engine.MaxActiveWorkflows,
		breaker,
		cfg.Engine.DefaultWorkflowTimeout,
		cfg.Engine.DefaultStepTimeout,
		cfg.Engine.DefaultInteractionTimeout,
		cfg.Engine.RecoveryTimeout,
	)

	stateManager := state.NewManager(state.NewInMemoryStore())
	eng := engine.New(stateManager, coordinator, logger, metrics)
	facade := api.New(eng, errorHandler, logger)
	_ = facade // exercised by embedders and by internal/api's own tests; the HTTP surface below only serves health/metrics

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := buildHTTPServer(addr, errorHandler, Version)

	go func() {
		logger.Info("HTTP surface listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("workflow engine shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server forced to shutdown", "error", err)
	}
	logger.Info("workflow engine stopped")
}

// buildCircuitBreaker wires the admission-control breaker's optional
// Redis-backed failure counter from RateLimitConfig (SPEC_FULL §11.1).
func buildCircuitBreaker(cfg *config.Config, logger *observability.Logger) *timeout.CircuitBreaker {
	if !cfg.CircuitBreaker.Enabled {
		return timeout.NewCircuitBreaker(timeout.BreakerConfig{Enabled: false}, nil)
	}

	limiter, err := ratelimit.NewRateLimiter(ratelimit.Config{
		Enabled:         true,
		Algorithm:       ratelimit.SlidingWindow,
		Redis:           ratelimit.RedisConfig(cfg.RateLimit.Redis),
		BurstMultiplier: cfg.RateLimit.BurstMultiplier,
		CleanupInterval: cfg.RateLimit.CleanupInterval,
	})
	if err != nil {
		logger.Error("failed to initialize circuit breaker rate limiter, falling back to in-memory", "error", err)
		limiter = nil
	}

	return timeout.NewCircuitBreaker(timeout.BreakerConfig{
		Enabled:          true,
		FailureThreshold: cfg.CircuitBreaker.FailureThreshold,
		Window:           cfg.CircuitBreaker.Window,
		CooldownPeriod:   cfg.CircuitBreaker.CooldownPeriod,
	}, limiter)
}

func startMetricsServer(cfg config.MetricsConfig, logger *observability.Logger) {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.Handler())

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	logger.Info("starting metrics server", "addr", addr, "path", cfg.Path)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("metrics server failed", "error", err)
	}
}

// buildHTTPServer builds the engine's minimal ambient HTTP surface: a
// health check and the Sentry/OTel-backed health-component rollup. The
// engine's actual Public API Surface (spec §6) is transport-agnostic and
// is called in-process through internal/api.Facade by an embedding
// tool-invocation loop, not over this HTTP mux.
func buildHTTPServer(addr string, errorHandler *observability.ErrorHandler, version string) *http.Server {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		health := errorHandler.CreateHealthCheck(r.Context(), version)
		w.Header().Set("Content-Type", "application/json")
		if health.Status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"name":"workflowengine","version":"%s","health_endpoint":"/health"}`, version)
	})

	return &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
}
