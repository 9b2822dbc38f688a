// Package main provides the print archiver entry point.
// It consumes submitted prescriptions, renders the printable page and
// stores it in object storage.
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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/drfirst/go-rxdraft/internal/api/handlers"
	"github.com/drfirst/go-rxdraft/internal/archive"
	"github.com/drfirst/go-rxdraft/internal/config"
	"github.com/drfirst/go-rxdraft/internal/infrastructure/objectstore"
	"github.com/drfirst/go-rxdraft/internal/infrastructure/redpanda"
	"github.com/drfirst/go-rxdraft/internal/observability/logging"
	"github.com/drfirst/go-rxdraft/internal/observability/metrics"
	"github.com/drfirst/go-rxdraft/internal/observability/tracing"
	"github.com/drfirst/go-rxdraft/internal/render"
	"github.com/drfirst/go-rxdraft/pkg/circuitbreaker"
)

var version = "dev"

func main() {
	cfg, err := config.Load("print-archiver")
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

	if err := cfg.ValidateArchiver(); err != nil {
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
		tp.Shutdown(sctx)
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	m := metrics.New(reg)

	// Archiving never blocks a prescription, so print delay is irrelevant here.
	renderer, err := render.New(render.Config{})
	if err != nil {
		logger.Fatal("template parsing failed", zap.Error(err))
	}

	breakers := circuitbreaker.NewManager(logger, m.BreakerStateChanged)
	cb, err := breakers.GetOrCreate("minio", circuitbreaker.DefaultConfig("minio"))
	if err != nil {
		logger.Fatal("circuit breaker creation failed", zap.Error(err))
	}
	store, err := objectstore.New(objectstore.Config{
		Endpoint:  cfg.MinioEndpoint,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
		Bucket:    cfg.MinioBucket,
		UseSSL:    cfg.MinioUseSSL,
	}, cb, logger)
	if err != nil {
		logger.Fatal("object store creation failed", zap.Error(err))
	}
	if err := store.EnsureBucket(ctx); err != nil {
		logger.Fatal("ensure bucket failed", zap.Error(err), zap.String("bucket", cfg.MinioBucket))
	}

	producerCfg := redpanda.DefaultProducerConfig()
	producerCfg.Brokers = cfg.KafkaBrokers
	producer, err := redpanda.NewProducer(producerCfg, logger)
	if err != nil {
		logger.Fatal("producer creation failed", zap.Error(err))
	}
	defer producer.Close()

	archiveCfg := archive.DefaultConfig()
	archiveCfg.Pool.Workers = cfg.ArchiveWorkers
	archiver, err := archive.New(renderer, store, producer, archiveCfg, logger)
	if err != nil {
		logger.Fatal("archiver creation failed", zap.Error(err))
	}
	archiver.OnResult = func(outcome string) { m.ArchiveResults.WithLabelValues(outcome).Inc() }
	archiver.Start()

	consumerCfg := redpanda.DefaultConsumerConfig()
	consumerCfg.Brokers = cfg.KafkaBrokers
	consumerCfg.GroupID = cfg.KafkaGroup
	consumerCfg.Topics = []string{redpanda.TopicPrescriptionSubmitted}
	consumer, err := redpanda.NewConsumer(consumerCfg, archiver.HandleBatch, logger)
	if err != nil {
		logger.Fatal("consumer creation failed", zap.Error(err))
	}
	consumer.Start()

	health := handlers.NewHealthHandler(cfg.ServiceName, version, map[string]handlers.Check{
		"redpanda": producer.Ping,
		"workers":  archiver.Ready,
	}, breakers.GetHealthStatus, logger)
	r := chi.NewRouter()
	r.Get("/health", health.Health)
	r.Get("/ready", health.Ready)
	r.Handle("/metrics", metrics.Handler(reg))
	server := &http.Server{Addr: ":" + cfg.Port, Handler: r, ReadTimeout: 5 * time.Second}

	go func() {
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("ops server error", zap.Error(err))
		}
	}()

	logger.Info("print archiver started",
		zap.String("group", cfg.KafkaGroup),
		zap.Int("workers", cfg.ArchiveWorkers),
		zap.String("version", version),
	)
	<-ctx.Done()

	logger.Info("shutting down")
	// Stop polling first so no batch is handed to a draining pool.
	if err := consumer.Stop(); err != nil {
		logger.Warn("consumer stop failed", zap.Error(err))
	}
	if err := archiver.Stop(); err != nil {
		logger.Warn("archiver stop failed", zap.Error(err))
	}
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	server.Shutdown(sctx)
	logger.Info("print archiver stopped")
}
