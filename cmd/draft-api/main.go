// Package main provides the draft API service entry point.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/drfirst/go-rxdraft/internal/api/handlers"
	"github.com/drfirst/go-rxdraft/internal/api/middleware"
	"github.com/drfirst/go-rxdraft/internal/auth"
	"github.com/drfirst/go-rxdraft/internal/backend"
	"github.com/drfirst/go-rxdraft/internal/cache"
	"github.com/drfirst/go-rxdraft/internal/config"
	"github.com/drfirst/go-rxdraft/internal/domain/draft"
	"github.com/drfirst/go-rxdraft/internal/infrastructure/postgres"
	"github.com/drfirst/go-rxdraft/internal/infrastructure/redpanda"
	"github.com/drfirst/go-rxdraft/internal/observability/logging"
	"github.com/drfirst/go-rxdraft/internal/observability/metrics"
	"github.com/drfirst/go-rxdraft/internal/observability/tracing"
	"github.com/drfirst/go-rxdraft/internal/render"
	"github.com/drfirst/go-rxdraft/pkg/circuitbreaker"
	"github.com/drfirst/go-rxdraft/pkg/idempotency"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cfg, err := config.Load("draft-api")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.ServiceName, cfg.LogLevel, cfg.IsDev())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := cfg.ValidateAPI(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tcfg := tracing.DefaultConfig(cfg.ServiceName)
	tcfg.ServiceVersion = version
	tcfg.Environment = cfg.Env
	tcfg.OTLPEndpoint = cfg.OTLPEndpoint
	tp, err := tracing.Init(ctx, tcfg)
	if err != nil {
		logger.Fatal("tracing init failed", zap.Error(err))
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(sctx); err != nil {
			logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	// Connect to database
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		logger.Fatal("database ping failed", zap.Error(err))
	}
	if err := postgres.Migrate(ctx, pool); err != nil {
		logger.Fatal("database migration failed", zap.Error(err))
	}
	logger.Info("connected to database")

	checks := map[string]handlers.Check{"postgres": pool.Ping}

	var c cache.Cache
	if cfg.RedisURL != "" {
		rc, err := cache.Dial(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal("failed to connect to redis", zap.Error(err))
		}
		defer rc.Close()
		c = cache.NewRedis(rc, "rxdraft:")
		checks["redis"] = func(ctx context.Context) error { return rc.Ping(ctx).Err() }
		logger.Info("connected to redis")
	} else {
		// Cooldowns and appointment snapshots are then per instance.
		c = cache.NewMemory()
		logger.Warn("REDIS_URL not set, using in-memory cache")
	}

	breakers := circuitbreaker.NewManager(logger, m.BreakerStateChanged)
	client, err := backend.NewClient(backend.Config{BaseURL: cfg.BackendURL}, breakers, logger)
	if err != nil {
		logger.Fatal("backend client creation failed", zap.Error(err))
	}

	prescriptions := postgres.NewPrescriptionStore(pool, redpanda.TopicPrescriptionSubmitted, logger)
	var source draft.Source = client
	if cfg.ImportSource == "local" {
		source = prescriptions
	}

	drafts := draft.NewStore(draft.StoreConfig{TTL: cfg.DraftTTL}, logger)
	drafts.OnExpire = func(n int) {
		m.DraftsExpired.Add(float64(n))
		m.DraftsActive.Set(float64(drafts.Len()))
	}
	drafts.Start()
	defer drafts.Stop()

	inbox := idempotency.NewInbox(idempotency.NewPGStore(pool), idempotency.DefaultInboxConfig(), logger)
	inbox.StartCleanup()
	defer inbox.Stop()

	renderer, err := render.New(render.Config{PrintDelay: cfg.PrintDelay})
	if err != nil {
		logger.Fatal("template parsing failed", zap.Error(err))
	}

	appointments := backend.NewAppointmentService(client, c, backend.AppointmentCacheConfig{
		Fresh:    cfg.AppointmentCacheFresh,
		MaxStale: cfg.AppointmentCacheMaxStale,
	}, logger)
	appointments.OnStale = m.AppointmentsStale.Inc
	otp := backend.NewOTPService(client, c, cfg.OTPCooldown, logger)

	validator, err := auth.NewValidator(auth.Config{
		Secret: []byte(cfg.JWTSecret),
		Issuer: cfg.JWTIssuer,
		Leeway: 30 * time.Second,
	})
	if err != nil {
		logger.Fatal("token validator creation failed", zap.Error(err))
	}

	// Initialize handlers
	draftHandler := handlers.NewDraftHandler(handlers.DraftDeps{
		Store:        drafts,
		Importer:     draft.NewImporter(source, logger),
		Renderer:     renderer,
		Directory:    client,
		Medicines:    client,
		Submitter:    prescriptions,
		Inbox:        inbox,
		Metrics:      m,
		VitalsPolicy: draft.ParsePolicy(cfg.VitalsPolicy),
	}, logger)
	prescriptionHandler := handlers.NewPrescriptionHandler(prescriptions, logger)
	invoiceHandler := handlers.NewInvoiceHandler(renderer, logger)
	appointmentHandler := handlers.NewAppointmentHandler(appointments, logger)
	catalogHandler := handlers.NewCatalogHandler(client, logger)
	authHandler := handlers.NewAuthHandler(otp, m, logger)
	health := handlers.NewHealthHandler(cfg.ServiceName, version, checks, breakers.GetHealthStatus, logger)

	// Setup router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS(cfg.CORSOrigins))
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Tracing(cfg.ServiceName))
	r.Use(middleware.Metrics(m))

	r.Get("/health", health.Health)
	r.Get("/ready", health.Ready)
	r.Handle("/metrics", metrics.Handler(reg))

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimit(cfg.RateLimitRPS))
			r.Mount("/auth", authHandler.Routes())
		})
		r.Group(func(r chi.Router) {
			r.Use(middleware.BearerAuth(validator))
			r.Mount("/drafts", draftHandler.Routes())
			r.Mount("/prescriptions", prescriptionHandler.Routes())
			r.Mount("/invoices", invoiceHandler.Routes())
			r.Mount("/appointments", appointmentHandler.Routes())
			r.Mount("/catalog", catalogHandler.Routes())
		})
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	idle := make(chan struct{})
	go func() {
		defer close(idle)
		<-ctx.Done()
		logger.Info("shutting down server")
		sctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(sctx); err != nil {
			logger.Error("shutdown error", zap.Error(err))
		}
	}()

	logger.Info("starting draft API", zap.String("port", cfg.Port), zap.String("version", version))
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server error", zap.Error(err))
	}
	<-idle

	logger.Info("server stopped")
}
