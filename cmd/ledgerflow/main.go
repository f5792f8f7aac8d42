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

	"github.com/jackc/pgx/v5/pgxpool"

	"ledgerflow/internal/common/config"
	"ledgerflow/internal/common/logging"
	"ledgerflow/internal/common/metrics"
	"ledgerflow/internal/common/types"
	ledgerapi "ledgerflow/internal/ledger/api"
	"ledgerflow/internal/ledger/consumer"
	"ledgerflow/internal/ledger/infrastructure/kafka"
	"ledgerflow/internal/ledger/infrastructure/postgres"
	"ledgerflow/internal/ledger/processor"
	"ledgerflow/internal/ledger/relay"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Setup structured logging
	logging.Setup(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	})

	// Generate correlation ID for startup
	startupCtx := logging.WithCorrelationID(context.Background(), types.NewCorrelationID())

	logging.InfoContext(startupCtx, "Starting ledgerflow transaction engine",
		"port", cfg.Port,
		"environment", cfg.Environment,
		"log_level", cfg.LogLevel,
	)

	// Config echo for local debugging; kept out of production logs.
	if cfg.IsDevelopment() {
		logging.DebugContext(startupCtx, "Effective configuration",
			"kafka_brokers", cfg.KafkaBrokers,
			"ingress_topic", cfg.IngressTopic,
			"ledger_topic", cfg.LedgerTopic,
			"dlq_topic", cfg.DLQTopic,
			"outbox_batch_size", cfg.OutboxBatchSize,
			"idempotency_window_hours", cfg.IdempotencyWindowHours,
		)
	}

	// Connect the shared connection pool; processor and relay both use it.
	pool, err := cfg.NewPostgresPool(startupCtx)
	if err != nil {
		logging.ErrorContext(startupCtx, "Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	store := postgres.NewDataStore(pool)

	proc := processor.New(store, processor.Config{
		IdempotencyWindow: cfg.IdempotencyWindow(),
		RetryAttempts:     cfg.ProcessorRetryAttempts,
		BackoffInitial:    time.Duration(cfg.ProcessorBackoffInitialMS) * time.Millisecond,
		BackoffMax:        time.Duration(cfg.ProcessorBackoffMaxMS) * time.Millisecond,
	})

	// One synchronous producer serves both the relay and the consumer's DLQ.
	producer, err := kafka.NewProducer(cfg.BrokerList(), cfg.NewSaramaProducerConfig())
	if err != nil {
		logging.ErrorContext(startupCtx, "Failed to connect to kafka", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	// Outbox relay
	relayCtx, relayCancel := context.WithCancel(context.Background())
	defer relayCancel()

	outboxRelay := relay.New(store.Outbox(), producer, relay.Config{
		Topic:          cfg.LedgerTopic,
		PollInterval:   cfg.OutboxPollInterval(),
		BatchSize:      cfg.OutboxBatchSize,
		MaxRetries:     cfg.OutboxMaxRetries,
		PublishTimeout: cfg.OutboxPublishTimeout(),
	})
	go outboxRelay.Run(relayCtx)

	// Kafka ingress
	ingress, err := consumer.New(consumer.Config{
		Brokers:  cfg.BrokerList(),
		GroupID:  cfg.ConsumerGroup,
		Topic:    cfg.IngressTopic,
		DLQTopic: cfg.DLQTopic,
	}, cfg.NewSaramaConsumerConfig(), proc, producer)
	if err != nil {
		logging.ErrorContext(startupCtx, "Failed to create ingress consumer", "error", err)
		os.Exit(1)
	}
	ingress.Start(context.Background())

	// HTTP ingress
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", healthHandler)
	mux.HandleFunc("GET /ready", readyHandler(cfg, pool))
	mux.Handle("GET /metrics", metrics.Handler())

	handler := ledgerapi.NewHandler(proc, store.Transactions())
	handler.RegisterRoutes(mux)

	logging.InfoContext(startupCtx, "Ledger context initialized")

	// Middleware chain: metrics -> correlation -> handler
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      metrics.Middleware(correlationMiddleware(mux)),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logging.Info("HTTP server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown: stop ingress first so no new work arrives, then
	// the HTTP server, then the relay so it can drain what the last
	// requests committed.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logging.Info("Shutting down")

	if err := ingress.Stop(); err != nil {
		logging.Error("Ingress consumer shutdown error", "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logging.Error("Server forced to shutdown", "error", err)
	}

	relayCancel()

	logging.Info("Stopped")
}

// requestTimeout is the maximum time allowed for processing a single request.
// It must cover the processor's worst case: all retry attempts plus backoff.
const requestTimeout = 10 * time.Second

// correlationMiddleware adds correlation ID and request timeout to each request.
func correlationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Check for existing correlation ID in header
		corrID := types.CorrelationID(r.Header.Get("X-Correlation-ID"))
		if corrID.IsEmpty() {
			corrID = types.NewCorrelationID()
		}

		ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
		defer cancel()

		ctx = logging.WithCorrelationID(ctx, corrID)

		w.Header().Set("X-Correlation-ID", corrID.String())

		logging.InfoContext(ctx, "HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
		)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// healthHandler returns basic health status.
func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status": "healthy",
	})
}

// readyHandler checks if the database is reachable.
func readyHandler(cfg *config.Config, pool *pgxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		if err := pool.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]any{
				"status": "unavailable",
				"error":  "database unreachable",
			})
			return
		}

		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"status":      "ready",
			"environment": cfg.Environment,
		})
	}
}
