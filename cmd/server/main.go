package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"

	"github.com/web3-frozen/tvl-extractor/internal/app"
	"github.com/web3-frozen/tvl-extractor/internal/config"
	"github.com/web3-frozen/tvl-extractor/internal/handler"
	"github.com/web3-frozen/tvl-extractor/internal/middleware"
	"github.com/web3-frozen/tvl-extractor/internal/pipeline"
	"github.com/web3-frozen/tvl-extractor/internal/report"
	"github.com/web3-frozen/tvl-extractor/internal/store"
	"github.com/web3-frozen/tvl-extractor/internal/telegram"
)

const runRetention = 90 * 24 * time.Hour

func main() {
	cfg := config.Load()
	logger := app.NewLogger(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.Build(cfg, logger)
	if err != nil {
		logger.Error("failed to build pipeline", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	// Results files
	w := report.NewWriter(cfg.OutputDir)
	a.Runner.Register("files", func(_ context.Context, out *pipeline.Output) error {
		if _, err := w.WriteResults(out); err != nil {
			return err
		}
		_, err := w.WriteTVLSummary(out.Result.Outcomes)
		return err
	})

	// Database (optional)
	var db *store.Store
	if cfg.DatabaseURL != "" {
		db, err = store.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		if err := db.Migrate(ctx); err != nil {
			logger.Error("failed to run migrations", "error", err)
			os.Exit(1)
		}
		logger.Info("database connected and migrated")
		a.Runner.Register("postgres", db.SaveRun)
	}

	// Telegram alerts (optional)
	if cfg.TelegramToken != "" && cfg.TelegramChatID != 0 {
		bot := telegram.NewBot(cfg.TelegramToken, logger)
		notifier := telegram.NewNotifier(bot, cfg.TelegramChatID, a.Cache, logger)
		a.Runner.Register("telegram", notifier.Notify)
		logger.Info("telegram alerts enabled")
	}

	// Scheduled runs
	runPipeline := func() {
		if _, err := a.RunOnce(ctx); err != nil {
			logger.Error("scheduled run failed", "error", err)
		}
	}
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(cfg.Schedule, runPipeline); err != nil {
		logger.Error("invalid schedule", "schedule", cfg.Schedule, "error", err)
		os.Exit(1)
	}
	if db != nil {
		_, _ = c.AddFunc("@daily", func() {
			n, err := db.CleanupOldRuns(ctx, runRetention)
			if err != nil {
				logger.Error("run cleanup failed", "error", err)
				return
			}
			logger.Info("old runs removed", "count", n)
		})
	}
	c.Start()
	go runPipeline()

	// HTTP routes
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Metrics())
	r.Use(middleware.CORS(cfg.FrontendOrigin))

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", handler.Health())
	if db != nil {
		r.Get("/readyz", handler.Ready(db))
	} else {
		r.Get("/readyz", handler.Ready())
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/report", handler.Report(a.Runner))
		r.Get("/outcomes", handler.Outcomes(a.Runner))
		r.Get("/chains/{chain}", handler.ChainTVL(a.Runner))
		if db != nil {
			r.Get("/entries", handler.ListEntries(db))
			r.Get("/runs", handler.ListRuns(db))
		}
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", "port", cfg.Port, "schedule", cfg.Schedule)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down gracefully")
	cancel()
	<-c.Stop().Done()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
}
