package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	gcsclient "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/loferreiranuno/momarq-crawler/internal/api"
	"github.com/loferreiranuno/momarq-crawler/internal/clock/system"
	"github.com/loferreiranuno/momarq-crawler/internal/config"
	"github.com/loferreiranuno/momarq-crawler/internal/control"
	"github.com/loferreiranuno/momarq-crawler/internal/crawler"
	"github.com/loferreiranuno/momarq-crawler/internal/discover"
	"github.com/loferreiranuno/momarq-crawler/internal/extract"
	"github.com/loferreiranuno/momarq-crawler/internal/id/uuid"
	"github.com/loferreiranuno/momarq-crawler/internal/lease"
	"github.com/loferreiranuno/momarq-crawler/internal/logging"
	"github.com/loferreiranuno/momarq-crawler/internal/metrics"
	pubsubpublisher "github.com/loferreiranuno/momarq-crawler/internal/publisher/pubsub"
	"github.com/loferreiranuno/momarq-crawler/internal/runner"
	"github.com/loferreiranuno/momarq-crawler/internal/storage/gcs"
	memorystorage "github.com/loferreiranuno/momarq-crawler/internal/storage/memory"
	"github.com/loferreiranuno/momarq-crawler/internal/storage/postgres"
	"github.com/loferreiranuno/momarq-crawler/internal/strategy"
	"github.com/loferreiranuno/momarq-crawler/internal/worker"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := buildJobStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("job store init failed", zap.Error(err))
	}
	defer closeStore()

	blobs, err := buildBlobStore(ctx, cfg)
	if err != nil {
		logger.Fatal("blob store init failed", zap.Error(err))
	}

	publisher, closePublisher, err := buildPublisher(ctx, cfg)
	if err != nil {
		logger.Fatal("publisher init failed", zap.Error(err))
	}
	defer closePublisher()

	providers, err := config.NewFileSource(cfg.Providers.Dir)
	if err != nil {
		logger.Fatal("provider config source init failed", zap.Error(err))
	}

	clock := system.New()
	ids := uuid.New()

	strategies := buildStrategies(cfg, logger)

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "worker"
	}
	workers := make([]*worker.Worker, 0, cfg.Worker.Count)
	for i := 0; i < cfg.Worker.Count; i++ {
		workerID := fmt.Sprintf("%s-%d", hostname, i)
		workerLog := logger.Named("worker").With(zap.String("worker_id", workerID))
		leases := lease.NewManager(store, clock, workerID, cfg.Worker.LeaseDuration(), workerLog)
		run := runner.New(store, providers, strategies, leases, clock, ids, runner.Options{
			Blobs:     blobs,
			Publisher: publisher,
		}, workerLog)
		workers = append(workers, worker.New(leases, run, cfg.Worker.PollInterval(), workerLog))
	}
	pool := worker.NewPool(workers)

	ctrl := control.New(store, clock, ids, logger.Named("control"))
	apiServer := api.NewServer(ctrl, api.Config{
		RequestTimeout: time.Duration(cfg.Server.TimeoutSeconds) * time.Second,
		APIKey:         apiKey(cfg),
	}, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("worker pool started", zap.Int("workers", cfg.Worker.Count))
		pool.Run(ctx)
	}()

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

// buildJobStore selects Postgres when a DSN is configured, otherwise
// the in-memory store. Jobs in the memory store do not survive a
// restart, which is fine for local development.
func buildJobStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (crawler.JobStore, func(), error) {
	if cfg.DB.DSN == "" {
		logger.Warn("no database dsn configured, using in-memory job store")
		return memorystorage.New(), func() {}, nil
	}
	store, err := postgres.NewJobStore(ctx, postgres.JobStoreConfig{
		DSN:             cfg.DB.DSN,
		MaxConns:        int32(cfg.DB.MaxConns),
		MinConns:        int32(cfg.DB.MinConns),
		MaxConnLifetime: time.Duration(cfg.DB.MaxLifetimeMins) * time.Minute,
	})
	if err != nil {
		return nil, nil, err
	}
	if err := store.EnsureSchema(ctx); err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("ensure schema: %w", err)
	}
	return store, store.Close, nil
}

func buildBlobStore(ctx context.Context, cfg config.Config) (crawler.BlobStore, error) {
	if cfg.Storage.GCSBucket == "" {
		return memorystorage.NewBlobStore(), nil
	}
	client, err := gcsclient.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("gcs client: %w", err)
	}
	return gcs.New(client, gcs.Config{
		Bucket: cfg.Storage.GCSBucket,
		Prefix: cfg.Storage.Prefix,
	})
}

func buildPublisher(ctx context.Context, cfg config.Config) (crawler.Publisher, func(), error) {
	if cfg.PubSub.ProjectID == "" {
		return nil, func() {}, nil
	}
	client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return nil, nil, fmt.Errorf("pubsub client: %w", err)
	}
	topic := client.Topic(cfg.PubSub.TopicName)
	closeFn := func() {
		topic.Stop()
		if err := client.Close(); err != nil {
			zap.L().Warn("pubsub client close failed", zap.Error(err))
		}
	}
	return pubsubpublisher.New(topic), closeFn, nil
}

// buildStrategies registers the generic HTTP strategy and, when the
// browser is enabled and Chrome is reachable, the rendering strategy.
func buildStrategies(cfg config.Config, logger *zap.Logger) map[string]crawler.Strategy {
	resolver := discover.New(http.DefaultClient, logger.Named("discover"))
	extractor := extract.New(logger.Named("extract"))

	fetcher := strategy.NewCollyFetcher(cfg.Worker.FetchTimeout(), logger.Named("fetch"))
	strategies := map[string]crawler.Strategy{
		runner.DefaultStrategyKind: strategy.NewGeneric(fetcher, resolver, extractor, logger.Named("generic")),
	}

	if cfg.Browser.Enabled {
		renderer, err := strategy.NewChromedpRenderer(strategy.RendererConfig{
			MaxConcurrency: cfg.Browser.MaxParallel,
			NavTimeout:     time.Duration(cfg.Browser.NavTimeoutSec) * time.Second,
			DomainQPS:      float64(cfg.Browser.DomainQPS),
			UserAgent:      cfg.Browser.UserAgent,
			ExecPath:       cfg.Browser.ExecPath,
		}, logger.Named("renderer"))
		if err != nil {
			logger.Warn("browser renderer init failed", zap.Error(err))
		} else {
			strategies["browser"] = strategy.NewBrowser(renderer, resolver, extractor, logger.Named("browser"))
		}
	}
	return strategies
}

func apiKey(cfg config.Config) string {
	if !cfg.Auth.Enabled {
		return ""
	}
	return cfg.Auth.APIKey
}
