package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/italolelis/mod_downloader/internal/cleanup"
	"github.com/italolelis/mod_downloader/internal/config"
	"github.com/italolelis/mod_downloader/internal/download"
	"github.com/italolelis/mod_downloader/internal/http/rest"
	"github.com/italolelis/mod_downloader/internal/imagefetch"
	"github.com/italolelis/mod_downloader/internal/localfs"
	"github.com/italolelis/mod_downloader/internal/logctx"
	"github.com/italolelis/mod_downloader/internal/modio"
	"github.com/italolelis/mod_downloader/internal/notifier"
	"github.com/italolelis/mod_downloader/internal/storage"
	"github.com/italolelis/mod_downloader/internal/storage/sqlite"
	"github.com/italolelis/mod_downloader/internal/telemetry"
	"github.com/italolelis/mod_downloader/internal/transfer"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
)

var version = "dev"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()})
	logger := slog.New(logctx.NewTraceHandler(handler))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("mod downloader starting...", "log_level", cfg.LogLevel, "version", version)

	if err := run(logctx.WithLogger(ctx, logger), cfg); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("fatal error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logctx.LoggerFromContext(ctx)

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()

		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown telemetry", "err", err)
		}
	}()

	// =========================================================================
	// Start Database
	database, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		logger.Error("DB error", "err", err)

		return err
	}
	defer database.Close()

	repo := sqlite.NewInstrumentedDownloadRepository(database, tel)

	// =========================================================================
	// Start Download Manager
	resolver := modio.NewInstrumentedClient(modio.NewClient(modio.Config{
		BaseURL: cfg.ModioAPIURL,
		APIKey:  cfg.ModioAPIKey,
		Token:   cfg.ModioToken,
		GameID:  cfg.ModioGameID,
	}), tel)

	fs := afero.NewOsFs()

	manager := download.NewManager(ctx, resolver, localfs.New(fs), transfer.NewClient(nil),
		download.WithProgressInterval(cfg.ProgressInterval),
		download.WithSpeedSamples(cfg.SpeedSamples),
		download.WithTelemetry(tel),
	)

	// =========================================================================
	// Start Notification
	setupSubscribers(ctx, manager, repo, cfg)

	// =========================================================================
	// Start API Service
	images := imagefetch.NewFetcher(transfer.NewClient(nil), tel)
	server := setupServer(ctx, manager, repo, resolver, images, tel, cfg)

	logger.Info("waiting for downloads...",
		"target_dir", cfg.TargetDir,
		"progress_interval", cfg.ProgressInterval.String(),
		"staging_retention", cfg.KeepStagingFor.String(),
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Initializing API support", "host", cfg.Web.BindAddress)

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

		return nil
	})

	// =========================================================================
	// Start Cleanup
	g.Go(func() error {
		runCleanup(gctx, repo, fs, manager, cfg)

		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		logger.Info("start shutdown")

		// Give outstanding requests a deadline for completion.
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to gracefully shutdown the server", "err", err)

			if err = server.Close(); err != nil {
				return fmt.Errorf("could not stop server gracefully: %w", err)
			}
		}

		manager.Close(shutdownCtx)

		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	return ctx.Err()
}

func setupSubscribers(ctx context.Context, manager *download.Manager, repo storage.DownloadWriteRepository, cfg *config.Config) {
	logger := logctx.LoggerFromContext(ctx)

	manager.Subscribe(storage.HistoryListener(ctx, repo))

	if cfg.DiscordWebhookURL == "" {
		logger.Debug("discord notifications disabled")

		return
	}

	manager.Subscribe(notifier.EventListener(ctx, notifier.NewDiscordNotifier(cfg.DiscordWebhookURL)))
}

// setupServer prepares the handlers and services to create the http rest server.
func setupServer(
	ctx context.Context,
	manager *download.Manager,
	repo storage.DownloadReadRepository,
	logos rest.LogoResolver,
	images rest.ThumbnailFetcher,
	tel *telemetry.Telemetry,
	cfg *config.Config,
) *http.Server {
	handler := rest.NewDownloadsHandler(cfg.Web.Username, cfg.Web.Password, manager, repo, cfg.TargetDir)
	logosHandler := rest.NewLogosHandler(cfg.Web.Username, cfg.Web.Password, logos, images)

	r := chi.NewRouter()
	r.Use(telemetry.RequestID)
	r.Use(telemetry.HTTPLogging)
	r.Use(telemetry.NewHTTPMiddleware(tel).Middleware)

	r.Handle("/metrics", tel.Handler())
	r.Mount("/mods", logosHandler.Routes())
	r.Mount("/", handler.Routes())

	return &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      r,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}

func runCleanup(ctx context.Context, repo storage.DownloadReadRepository, fs afero.Fs, active cleanup.ActiveDownloads, cfg *config.Config) {
	logger := logctx.LoggerFromContext(ctx)

	cleanupTicker := time.NewTicker(cfg.CleanupInterval)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("cleanup goroutine shutting down.")

			return
		case <-cleanupTicker.C:
			failed, err := repo.GetDownloadsByStatus(ctx, storage.StatusFailed)
			if err != nil {
				logger.Error("failed to get failed downloads for cleanup", "err", err)

				continue
			}

			if _, err := cleanup.DeleteStaleStagingFiles(ctx, fs, active, failed, cfg.KeepStagingFor); err != nil {
				logger.Error("failed to delete stale staging files", "err", err)
			}
		}
	}
}
