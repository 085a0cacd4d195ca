package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gallery-pipeline/internal/classify"
	"gallery-pipeline/internal/derive"
	"gallery-pipeline/internal/logger"
	"gallery-pipeline/internal/models"
	"gallery-pipeline/internal/notify"
	"gallery-pipeline/internal/objectstore"
	"gallery-pipeline/internal/pipeline"
	"gallery-pipeline/internal/server"
	"gallery-pipeline/internal/storage"
	"gallery-pipeline/internal/tracker"
)

func main() {
	cfgPath := "config.yaml"
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		cfgPath = p
	}

	cfg, err := models.LoadConfig(cfgPath)
	if err != nil {
		slog.Error("failed to load config", logger.Err(err))
		os.Exit(1)
	}

	log := logger.New(os.Stdout, cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("service stopped with error", logger.Err(err))
		os.Exit(1)
	}
}

func run(cfg *models.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	trk, closeTracker, err := openTracker(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeTracker()

	uploader, err := openObjectStore(ctx, cfg)
	if err != nil {
		return err
	}

	svc := pipeline.NewService(pipeline.Deps{
		Store:    store,
		Tracker:  trk,
		Uploader: uploader,
		Generator: derive.NewGenerator(derive.ThumbnailOptions{
			MaxSize:   cfg.Pipeline.ThumbnailSize,
			Quality:   cfg.Pipeline.ThumbnailQuality,
			Watermark: cfg.Pipeline.WatermarkText,
		}),
		Classifier: classify.New(cfg.Classifier),
		Notifier:   notify.New(cfg.Kafka),
		Log:        log,
	}, pipeline.NewPool(cfg.Pipeline.Workers, cfg.Pipeline.QueueSize))

	srv := server.NewServer(cfg, svc, log)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var errs []error
	if err := srv.Stop(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	// queued jobs finish before the stores close
	if err := svc.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func openStore(ctx context.Context, cfg *models.Config, log *slog.Logger) (pipeline.Store, func(), error) {
	if cfg.DatabaseURL == "" {
		log.Warn("database_url not set, records are kept in memory")
		return storage.NewMemoryStorage(), func() {}, nil
	}

	if err := storage.RunMigrations(cfg.DatabaseURL, log); err != nil {
		return nil, nil, err
	}
	db, err := storage.NewStorage(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	return db, db.Close, nil
}

func openTracker(ctx context.Context, cfg *models.Config) (tracker.Tracker, func(), error) {
	switch cfg.Tracker.Driver {
	case "redis":
		rt, err := tracker.NewRedisTracker(cfg.Tracker.RedisURL, cfg.Tracker.TTL)
		if err != nil {
			return nil, nil, err
		}
		if err := rt.Ping(ctx); err != nil {
			_ = rt.Close()
			return nil, nil, err
		}
		return rt, func() { _ = rt.Close() }, nil
	default:
		return tracker.NewMemoryTracker(cfg.Tracker.TTL, cfg.Tracker.Capacity), func() {}, nil
	}
}

func openObjectStore(ctx context.Context, cfg *models.Config) (objectstore.Uploader, error) {
	if cfg.Storage.Driver == "s3" {
		return objectstore.NewS3Store(ctx, cfg.Storage)
	}
	base := cfg.Storage.PublicBaseURL
	if base == "" {
		base = "memory://objects"
	}
	return objectstore.NewMemoryStore(base), nil
}
