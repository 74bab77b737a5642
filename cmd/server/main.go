package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	h "github.com/veranemoloko/segment-uploader/internal/api/http"
	cfgpkg "github.com/veranemoloko/segment-uploader/internal/config"
	"github.com/veranemoloko/segment-uploader/internal/lifecycle"
	repo "github.com/veranemoloko/segment-uploader/internal/repository"
	svc "github.com/veranemoloko/segment-uploader/internal/service"
	"github.com/veranemoloko/segment-uploader/internal/storage"
	"github.com/veranemoloko/segment-uploader/internal/storage/s3"
	"github.com/veranemoloko/segment-uploader/internal/worker"
)

// logExtender stands in for a platform background-time facility; a server
// process keeps running anyway, so it only records the request.
type logExtender struct {
	logger *slog.Logger
}

func (e logExtender) RequestExtraTime() {
	e.logger.Info("extra execution time requested")
}

func (e logExtender) Release() {
	e.logger.Info("extra execution time released")
}

func main() {
	cfg, err := cfgpkg.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := cfgpkg.SetupLogger(cfg)
	logger.Info("configuration loaded successfully", "env", cfg.Environment)

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *cfgpkg.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	kv, closeKV, err := newKeyValueStore(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize state store: %w", err)
	}
	defer closeKV()

	objectStore, err := newObjectStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize object store: %w", err)
	}

	taskStorage := repo.NewTaskStorage(kv, cfg.StateKey, logger)
	uploadWorker := worker.NewUploadWorker(objectStore, logger)
	uploadService := svc.NewUploadService(taskStorage, uploadWorker, cfg, logger)

	if err := uploadService.RecoverPendingTasks(ctx); err != nil {
		logger.Error("failed to recover pending tasks, starting empty", "error", err)
	}

	controller := lifecycle.NewController(uploadService, logExtender{logger: logger}, logger)

	router := h.NewRouter(uploadService, controller, logger)
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      router,
		ReadTimeout:  cfg.HTTPTimeout,
		WriteTimeout: cfg.HTTPTimeout,
		IdleTimeout:  cfg.HTTPTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("server starting", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		var errs []error
		if err := server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("server shutdown: %w", err))
		} else {
			logger.Info("server stopped gracefully")
		}

		controller.Close()

		if err := uploadService.Close(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("upload service shutdown: %w", err))
		}
		return errors.Join(errs...)
	})

	return g.Wait()
}

func newKeyValueStore(cfg *cfgpkg.Config, logger *slog.Logger) (repo.KeyValueStore, func(), error) {
	switch cfg.StateBackend {
	case cfgpkg.StateBackendSQLite:
		store, err := repo.NewSQLiteStore(cfg.StateDir)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {
			if err := store.Close(); err != nil {
				logger.Error("failed to close sqlite store", "error", err)
			}
		}, nil
	case cfgpkg.StateBackendMemory:
		return repo.NewMemoryStore(), func() {}, nil
	default:
		store, err := repo.NewFileStore(cfg.StateDir, logger)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil
	}
}

func newObjectStore(ctx context.Context, cfg *cfgpkg.Config, logger *slog.Logger) (storage.ObjectStore, error) {
	if cfg.ObjectStore != cfgpkg.ObjectStoreS3 {
		logger.Info("using local object store", "dir", cfg.LocalStoreDir)
		return storage.NewFileStorage(cfg.LocalStoreDir, cfg.PublicBaseURL), nil
	}

	client, err := s3.NewClient(ctx, cfg.S3, cfg.PublicBaseURL, logger)
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx); err != nil {
		// Transfers classify and retry their own failures.
		logger.Warn("S3 bucket not reachable at startup", "bucket", cfg.S3.Bucket, "error", err)
	}
	return client, nil
}
