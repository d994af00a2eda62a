package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"equipguard/internal/alerts"
	"equipguard/internal/api"
	"equipguard/internal/artifact"
	"equipguard/internal/config"
	"equipguard/internal/engine"
	"equipguard/internal/ingest"
	"equipguard/internal/metrics"
	"equipguard/internal/model"
	"equipguard/internal/modelstore"
	"equipguard/internal/observability"
	"equipguard/internal/storage"
)

func newServeCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the scoring API and score streamed readings",
		RunE: func(cmd *cobra.Command, _ []string) error {
			mgr, logger, err := root.load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, mgr, logger)
		},
	}
}

const shutdownTimeout = 5 * time.Second

// shutdownAPI waits for in-flight requests to finish, up to timeout.
func shutdownAPI(srv *http.Server, timeout time.Duration) error {
	if srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("api shutdown: %w", err)
	}
	return nil
}

// loadModels opens the configured store and decodes one consistent artifact set.
func loadModels(ctx context.Context, cfg config.ModelStoreConfig, logger *slog.Logger) (*engine.Models, error) {
	store, err := modelstore.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open model store: %w", err)
	}
	defer store.Close()
	bundle, err := artifact.Load(ctx, store)
	if err != nil {
		return nil, err
	}
	logger.Info("models loaded",
		"backend", cfg.Backend,
		"fingerprint", bundle.Fingerprint,
		"trained_at", bundle.CreatedAt,
		"trees", len(bundle.Classifier.Forest.Trees),
	)
	return engine.ModelsFromBundle(bundle), nil
}

func serve(ctx context.Context, mgr *config.Manager, logger *slog.Logger) error {
	cfg := mgr.Get()

	var store storage.Store
	if cfg.Storage.Enabled {
		s, err := storage.NewStore(cfg.Storage)
		if err != nil {
			return fmt.Errorf("open storage: %w", err)
		}
		if err := s.Init(ctx); err != nil {
			_ = s.Close()
			return fmt.Errorf("init storage: %w", err)
		}
		defer s.Close()
		store = s
		logger.Info("storage enabled", "driver", cfg.Storage.Driver)
	}

	models, loadErr := loadModels(ctx, cfg.ModelStore, logger)
	if loadErr != nil {
		logger.Error("models not loaded, serving in not-ready mode", "err", loadErr)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	obs := observability.NewPromObs(reg)

	metricsStore := metrics.NewStore(cfg.Metrics.StoreLimit)
	alertsStore := alerts.NewStore(cfg.Alerts.StoreLimit)
	eng := engine.NewEngine(cfg, logger, models, loadErr, metricsStore, alertsStore, store, obs)

	readings := make(chan model.SensorReading, cfg.Ingest.ChannelBuffer)
	eng.Start(ctx, readings)

	pipeline := ingest.NewPipeline(mgr, readings, logger, obs)
	ingest.StartTCPStream(ctx, pipeline)
	ingest.StartFileTail(ctx, pipeline)
	ingest.StartKafka(ctx, pipeline)
	if err := ingest.StartMQTT(ctx, pipeline); err != nil {
		logger.Error("mqtt ingest failed to connect", "err", err)
	}

	server := api.NewServer(mgr, metricsStore, alertsStore, eng, reg, logger, version)
	httpServer, _, err := api.Start(ctx, server)
	if err != nil {
		return err
	}

	stopWatch := make(chan struct{})
	go mgr.Watch(3*time.Second, func(next *config.Config) {
		eng.UpdateConfig(next)
		logger.Info("config reloaded", "path", mgr.Path())
	}, func(err error) {
		logger.Warn("config reload failed", "err", err)
	}, stopWatch)

	<-ctx.Done()
	close(stopWatch)
	logger.Info("shutting down")
	return shutdownAPI(httpServer, shutdownTimeout)
}
