package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	imageeditor "github.com/Skryldev/image-editor"
	"github.com/Skryldev/image-editor/adapters/catalog"
	"github.com/Skryldev/image-editor/adapters/storage"
	"github.com/Skryldev/image-editor/config"
	"github.com/Skryldev/image-editor/core"
	"github.com/Skryldev/image-editor/export"
	"github.com/Skryldev/image-editor/hooks"
	"github.com/Skryldev/image-editor/httpapi"
	"github.com/Skryldev/image-editor/intake"
	"github.com/Skryldev/image-editor/preview"
	"github.com/Skryldev/image-editor/session"
)

func main() {
	// Config & logger (Load reads .env first)
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger := hooks.NewLogger(cfg.AppEnv, cfg.LogLevel)
	ctx := context.Background()

	// Processor + image backend
	editor := imageeditor.New(cfg)
	shutdownBackend, err := useBackend(editor, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialise image backend")
	}
	defer shutdownBackend()

	metrics := hooks.NewInMemoryMetrics()
	editor.SetLogger(hooks.NewZerologLogger(logger))
	editor.SetMetrics(metrics)
	editor.AddHook(hooks.NewLoggingHook(hooks.NewZerologLogger(logger)))
	editor.AddHook(hooks.NewMetricsHook(metrics))
	editor.Start()
	defer editor.Stop()

	store, err := newStorage(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialise storage")
	}

	cat, closeCatalog, err := newCatalog(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer closeCatalog()

	previews := preview.New(editor, store, cat, cfg.Server.PublicBaseURL, cfg.MaxImageBytes, logger)
	registry := session.NewRegistry()
	sessions := session.NewController(previews, registry, cfg.Session, logger)
	defer sessions.Close()

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go sessions.RunSweeper(sweepCtx, cfg.Session.IdleTTL)

	app := httpapi.NewApp(httpapi.App{
		Editor:   editor,
		Store:    store,
		Catalog:  cat,
		Intake:   intake.New(editor, store, cat, previews, cfg.Server.MaxUploadBytes, logger),
		Previews: previews,
		Export:   export.New(editor, store, cat, cfg.MaxImageBytes, logger),
		Sessions: sessions,
		Registry: registry,
		Metrics:  metrics,
		Config:   cfg.Server,
		Log:      logger,
	})
	server := httpapi.NewHTTPServer(cfg.Server, httpapi.NewRouter(app))

	// Start async
	go func() {
		logger.Info().
			Str("port", cfg.Server.Port).
			Str("backend", string(cfg.Backend)).
			Str("storage", string(cfg.Storage)).
			Msg("image editor listening")
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}

func newStorage(ctx context.Context, cfg config.Config) (core.StorageAdapter, error) {
	if cfg.Storage == config.StorageS3 {
		client, err := storage.NewAWSClient(ctx, cfg.S3)
		if err != nil {
			return nil, err
		}
		return storage.NewS3(client, cfg.S3.Bucket)
	}
	return storage.NewLocal(cfg.Local.RootDir, os.FileMode(cfg.Local.Permissions))
}

func newCatalog(ctx context.Context, cfg config.Config) (catalog.Catalog, func(), error) {
	if cfg.DatabaseURL == "" {
		return catalog.NewMemory(), func() {}, nil
	}
	pool, err := catalog.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	pg := catalog.NewPostgres(pool)
	if err := pg.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return pg, pool.Close, nil
}
