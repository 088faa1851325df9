package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/campustrust/governance/anomaly"
	"github.com/campustrust/governance/campus"
	"github.com/campustrust/governance/internal/config"
	"github.com/campustrust/governance/internal/logger"
	"github.com/campustrust/governance/outbox"
	"github.com/campustrust/governance/rules"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
)

type Server struct {
	automation     *campus.Automation
	detector       *anomaly.Detector
	outbox         outbox.Store
	outboxName     string
	ping           func(context.Context) error
	requestTimeout time.Duration
	router         *chi.Mux
}

// ServerOptions carries the optional pieces of a Server
type ServerOptions struct {
	// OutboxName is reported by the health check
	OutboxName string
	// Ping checks the outbox backend; nil means always healthy
	Ping           func(context.Context) error
	RequestTimeout time.Duration
}

func NewServer(automation *campus.Automation, detector *anomaly.Detector, store outbox.Store, opts ServerOptions) *Server {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 60 * time.Second
	}
	if opts.OutboxName == "" {
		opts.OutboxName = config.BackendMemory
	}

	s := &Server{
		automation:     automation,
		detector:       detector,
		outbox:         store,
		outboxName:     opts.OutboxName,
		ping:           opts.Ping,
		requestTimeout: opts.RequestTimeout,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.requestTimeout))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Post("/anomaly", s.handleAnalyzeStudent)
		r.Post("/anomaly/class", s.handleAnalyzeClass)

		r.Route("/automation", func(r chi.Router) {
			r.Post("/evaluate", s.handleEvaluate)
			r.Post("/context", s.handleEvaluateContext)
			r.Get("/dashboard", s.handleDashboard)
			r.Get("/log", s.handleExecutionLog)

			r.Get("/rules", s.handleListRules)
			r.Post("/rules", s.handleCreateRule)
			r.Put("/rules/{name}/enabled", s.handleSetEnabled)
		})

		r.Get("/outbox/pending", s.handlePendingOutbox)
		r.Post("/hash", s.handleHash)
	})

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Helper functions
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	switch {
	case status >= 500:
		logger.ErrorHttp5xx()
		logger.Error("request failed", "status", status, "error", message, "details", errString(err))
	case status >= 400:
		logger.WarnHttp4xx()
	}

	response := ErrorResponse{Error: message}
	if err != nil {
		response.Details = err.Error()
	}
	respondJSON(w, status, response)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// queryLimit parses ?limit=, returning def when absent
func queryLimit(r *http.Request, def int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("limit must be a non-negative integer, got %q", raw)
	}
	return n, nil
}

// openOutbox builds the configured store and its health probe
func openOutbox(ctx context.Context, cfg *config.Config) (outbox.Store, func(context.Context) error, func() error, error) {
	switch cfg.Outbox.Backend {
	case config.BackendPostgres:
		db, err := sql.Open("postgres", cfg.Database.URL)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to open database: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, nil, nil, fmt.Errorf("failed to ping database: %w", err)
		}
		return outbox.NewPostgresStore(db), db.PingContext, db.Close, nil

	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			client.Close()
			return nil, nil, nil, fmt.Errorf("failed to ping redis: %w", err)
		}
		ping := func(ctx context.Context) error { return client.Ping(ctx).Err() }
		return outbox.NewRedisStore(client, cfg.Redis.Prefix), ping, client.Close, nil

	default:
		return outbox.NewMemoryStore(), nil, func() error { return nil }, nil
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(config.New(), os.Getenv("CAMPUS_CONFIG"))
	if err != nil {
		logger.Fatal("invalid configuration", "error", err)
	}

	if err := logger.Setup(ctx, logger.Options{
		Level:       cfg.Log.Level,
		OTELEnabled: cfg.Log.OTELEnabled,
		ServiceName: cfg.Log.ServiceName,
		SampleRate:  cfg.Log.SampleRate,
	}); err != nil {
		logger.Warn("logging setup degraded", "error", err)
	}

	loc, err := cfg.Anomaly.Location()
	if err != nil {
		logger.Fatal("invalid anomaly timezone", "error", err)
	}
	detector := anomaly.NewDetector(anomaly.WithLocation(loc), anomaly.WithLogger(logger.Logger))

	automation, err := campus.NewAutomation(
		campus.WithLogger(logger.Logger),
		campus.WithEngineOptions(rules.WithLogLimit(cfg.Engine.LogLimit)),
	)
	if err != nil {
		logger.Fatal("failed to create automation engine", "error", err)
	}

	store, ping, closeStore, err := openOutbox(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to open outbox", "backend", cfg.Outbox.Backend, "error", err)
	}
	defer closeStore()

	if cfg.Kafka.RelayEnabled() {
		publisher, err := outbox.NewKafkaPublisher(outbox.KafkaConfig{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
		})
		if err != nil {
			logger.Fatal("failed to create kafka publisher", "error", err)
		}
		defer publisher.Close()

		relay := outbox.NewRelay(store, publisher,
			outbox.WithBatchSize(cfg.Outbox.BatchSize),
			outbox.WithRelayLogger(logger.Logger))
		go func() {
			if err := relay.Run(ctx, cfg.Outbox.RelayInterval); err != nil {
				logger.Error("outbox relay stopped", "error", err)
			}
		}()
		logger.Info("outbox relay started", "topic", cfg.Kafka.Topic, "interval", cfg.Outbox.RelayInterval)
	}

	server := NewServer(automation, detector, store, ServerOptions{
		OutboxName:     cfg.Outbox.Backend,
		Ping:           ping,
		RequestTimeout: cfg.Server.RequestTimeout,
	})

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      server,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Server.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", "port", cfg.Server.Port, "outbox", cfg.Outbox.Backend)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed to start", "error", err)
		}
	}()

	<-ctx.Done()

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	if err := logger.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "logger shutdown error: %v\n", err)
	}

	logger.Info("server stopped")
}
