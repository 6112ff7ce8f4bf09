// Copyright 2025 James Ross
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/mammothbox/mammothbox/internal/admin"
	"github.com/mammothbox/mammothbox/internal/blobstore"
	"github.com/mammothbox/mammothbox/internal/catalog"
	"github.com/mammothbox/mammothbox/internal/config"
	"github.com/mammothbox/mammothbox/internal/eventhook"
	"github.com/mammothbox/mammothbox/internal/httpapi"
	"github.com/mammothbox/mammothbox/internal/obs"
	"github.com/mammothbox/mammothbox/internal/orchestrator"
	"github.com/mammothbox/mammothbox/internal/processor"
	"github.com/mammothbox/mammothbox/internal/queue"
	"github.com/mammothbox/mammothbox/internal/redisclient"
	"github.com/mammothbox/mammothbox/internal/schema"
	"github.com/mammothbox/mammothbox/internal/worker"
)

var version = "dev"

func main() {
	var role string
	var configPath string
	var showVersion bool

	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	fs.StringVar(&role, "role", "all", "Role to run: api|worker|reconciler|all")
	fs.StringVar(&configPath, "config", "config/config.yaml", "Path to YAML config")
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")
	_ = fs.Parse(os.Args[1:])

	if showVersion {
		fmt.Println(version)
		return
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := obs.NewLogger(obs.LoggerConfig{
		Level:      cfg.Observability.LogLevel,
		File:       cfg.Observability.LogFile,
		MaxSizeMB:  cfg.Observability.LogMaxSizeMB,
		MaxAgeDays: cfg.Observability.LogMaxAgeDays,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	tp, err := obs.MaybeInitTracing(cfg)
	if err != nil {
		logger.Warn("tracing init failed", obs.Err(err))
	}
	if tp != nil {
		defer func() { _ = tp.Shutdown(context.Background()) }()
	}

	store, err := openStore(cfg)
	if err != nil {
		logger.Fatal("failed to open catalog store", obs.Err(err))
	}
	defer store.Close()

	lineageSink, err := catalog.NewClickHouseSink(cfg.Storage.ClickHouseDSN)
	if err != nil {
		logger.Warn("failed to open clickhouse lineage sink, continuing without it", obs.Err(err))
	} else if attacher, ok := store.(catalog.LineageSinkAttacher); ok {
		store = attacher.WithLineageSink(lineageSink)
	}
	defer lineageSink.Close()

	blobs, err := openBlobstore(cfg)
	if err != nil {
		logger.Fatal("failed to open blob store", obs.Err(err))
	}

	backend, err := openQueueBackend(cfg)
	if err != nil {
		logger.Fatal("failed to open queue backend", obs.Err(err))
	}
	defer backend.Close()

	events := openEventPublisher(cfg, logger)
	defer events.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(cancel, logger)

	orch := orchestrator.New(store, blobs, backend, cfg.Limits, logger).WithEvents(events)
	adm := admin.New(store).WithEvents(events)
	reconciler := orchestrator.NewReconciler(store, backend, cfg.Outbox.StaleAfter, logger).WithEvents(events)

	opsSrv := obs.StartHTTPServer(cfg, func(c context.Context) error { return nil })
	defer func() { _ = opsSrv.Shutdown(context.Background()) }()

	obs.StartQueueLengthUpdater(ctx, backend, 5*time.Second, logger)

	switch role {
	case "api":
		runAPI(ctx, cfg, orch, adm, store, logger)
	case "worker":
		runWorker(ctx, cfg, store, backend, logger)
	case "reconciler":
		if err := reconciler.Start(ctx, cfg.Outbox.ReconcileSchedule); err != nil {
			logger.Fatal("failed to start reconciler", obs.Err(err))
		}
		<-ctx.Done()
	case "all":
		if err := reconciler.Start(ctx, cfg.Outbox.ReconcileSchedule); err != nil {
			logger.Fatal("failed to start reconciler", obs.Err(err))
		}
		go runWorker(ctx, cfg, store, backend, logger)
		runAPI(ctx, cfg, orch, adm, store, logger)
	default:
		logger.Fatal("unknown role", obs.String("role", role))
	}
}

func runAPI(ctx context.Context, cfg *config.Config, orch *orchestrator.Orchestrator, adm *admin.Service, store catalog.Store, logger *zap.Logger) {
	srv := httpapi.New(orch, adm, store, logger)
	server := &http.Server{Addr: cfg.HTTP.Addr, Handler: srv.Router()}
	logger.Info("ingestion api listening", obs.String("addr", cfg.HTTP.Addr))

	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil {
			logger.Error("api server stopped", obs.Err(err))
		}
	}
}

func runWorker(ctx context.Context, cfg *config.Config, store catalog.Store, backend queue.Backend, logger *zap.Logger) {
	mediaSvc := processor.NewHTTPMediaService(cfg.MediaService.URL, cfg.MediaService.Timeout)
	deciderCfg := schema.DeciderConfig{
		SampleSize:         cfg.SchemaDecider.SampleSize,
		StabilityThreshold: cfg.SchemaDecider.StabilityThreshold,
		MaxTopLevelKeys:    cfg.SchemaDecider.MaxTopLevelKeys,
		MaxDepth:           cfg.SchemaDecider.MaxDepth,
		SQLScoreThreshold:  cfg.SchemaDecider.SQLScoreThreshold,
	}
	registry := processor.Registry{
		catalog.JobTypeJSON:  processor.NewJsonProcessor(deciderCfg, cfg.AutoMigrate),
		catalog.JobTypeMedia: processor.NewMediaProcessor(mediaSvc),
	}
	sup := worker.New(cfg, backend, store, registry, logger)
	if err := sup.Run(ctx); err != nil {
		logger.Error("worker supervisor stopped", obs.Err(err))
	}
}

func openStore(cfg *config.Config) (catalog.Store, error) {
	switch cfg.Storage.Driver {
	case "postgres":
		return catalog.NewPostgresStore(catalog.PostgresConfig{
			DSN:             cfg.Storage.DSN,
			MaxOpenConns:    cfg.Storage.MaxOpenConns,
			MaxIdleConns:    cfg.Storage.MaxIdleConns,
			ConnMaxLifetime: cfg.Storage.ConnMaxLifetime,
		})
	default:
		return catalog.NewSQLiteStore(cfg.Storage.DSN)
	}
}

func openBlobstore(cfg *config.Config) (blobstore.Store, error) {
	switch cfg.Blobstore.Driver {
	case "s3":
		sess, err := blobstore.NewAWSSession(cfg.Blobstore.S3Region)
		if err != nil {
			return nil, err
		}
		return blobstore.NewS3Store(sess, cfg.Blobstore.S3Bucket), nil
	default:
		return blobstore.NewFilesystemStore(cfg.Blobstore.BasePath)
	}
}

func openQueueBackend(cfg *config.Config) (queue.Backend, error) {
	switch cfg.Queue.Driver {
	case "redis":
		client := redisclient.New(cfg)
		return queue.NewRedisBackend(client, cfg.Queue.MaxRetries), nil
	default:
		return queue.NewMemoryBackend(cfg.Queue.MaxRetries), nil
	}
}

func openEventPublisher(cfg *config.Config, logger *zap.Logger) *eventhook.Publisher {
	if cfg.EventHook.NATSURL == "" {
		return eventhook.NewNoop()
	}
	pub, err := eventhook.New(cfg.EventHook.NATSURL, cfg.EventHook.Subject, logger)
	if err != nil {
		logger.Warn("failed to connect lineage-event publisher, falling back to no-op", obs.Err(err))
		return eventhook.NewNoop()
	}
	return pub
}

func handleSignals(cancel context.CancelFunc, logger *zap.Logger) {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("signal received, shutting down", obs.String("signal", sig.String()))
	cancel()

	select {
	case sig2 := <-sigCh:
		logger.Warn("second signal received, forcing exit", obs.String("signal", sig2.String()))
		os.Exit(1)
	case <-time.After(5 * time.Second):
	}
}
