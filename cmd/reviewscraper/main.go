// Package main wires together the review scraper service binary.
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

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/productpulse/review-scraper/internal/api"
	"github.com/productpulse/review-scraper/internal/clock/system"
	"github.com/productpulse/review-scraper/internal/config"
	"github.com/productpulse/review-scraper/internal/extractor/amazon"
	"github.com/productpulse/review-scraper/internal/extractor/flipkart"
	collyfetcher "github.com/productpulse/review-scraper/internal/fetcher/colly"
	"github.com/productpulse/review-scraper/internal/id/uuid"
	"github.com/productpulse/review-scraper/internal/logging"
	"github.com/productpulse/review-scraper/internal/metrics"
	"github.com/productpulse/review-scraper/internal/orchestrator"
	"github.com/productpulse/review-scraper/internal/progress"
	"github.com/productpulse/review-scraper/internal/progress/sinks"
	"github.com/productpulse/review-scraper/internal/scraper"
	"github.com/productpulse/review-scraper/internal/storage/memory"
	"github.com/productpulse/review-scraper/internal/storage/postgres"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
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

	var store scraper.JobStore
	if cfg.DB.DSN != "" {
		pgStore, err := postgres.NewJobStore(ctx, postgres.Config{
			DSN:             cfg.DB.DSN,
			MaxConns:        int32(cfg.DB.MaxConns),
			MinConns:        int32(cfg.DB.MinConns),
			MaxConnLifetime: time.Duration(cfg.DB.ConnLifetimeMin) * time.Minute,
		})
		if err != nil {
			logger.Fatal("postgres store init failed", zap.Error(err))
		}
		defer pgStore.Close()
		if err := pgStore.EnsureSchema(ctx); err != nil {
			logger.Fatal("schema migration failed", zap.Error(err))
		}
		store = pgStore
		logger.Info("using postgres job store")
	} else {
		store = memory.NewJobStore()
		logger.Info("using in-memory job store, jobs will not survive restarts")
	}

	promSink, err := sinks.NewPrometheusSink(prometheus.DefaultRegisterer)
	if err != nil {
		logger.Fatal("progress metrics init failed", zap.Error(err))
	}
	hub := progress.NewHub(progress.Config{
		BufferSize:     cfg.Progress.BufferSize,
		MaxBatchEvents: cfg.Progress.MaxBatchEvents,
		MaxBatchWait:   time.Duration(cfg.Progress.MaxBatchWaitMs) * time.Millisecond,
		Logger:         logger.Named("progress"),
	}, sinks.NewLogSink(logger.Named("progress")), promSink)

	amazonFetcher := collyfetcher.New(collyfetcher.Config{
		Timeout: cfg.FetchTimeout(),
	})
	extractors := map[scraper.SourceType]scraper.Extractor{
		scraper.SourceAmazonReviews: amazon.New(amazon.Config{
			BaseURL:           cfg.Amazon.BaseURL,
			MaxPagesPerWindow: cfg.Amazon.MaxPagesPerWindow,
			MaxEmptyPages:     cfg.Amazon.MaxEmptyPages,
		}, amazonFetcher, logger),
		scraper.SourceAmazonCount: amazon.NewCounter(cfg.Amazon.BaseURL, amazonFetcher, logger),
		scraper.SourceFlipkartReviews: flipkart.New(flipkart.Config{
			Cookie:        cfg.Flipkart.Cookie,
			UserAgent:     cfg.Flipkart.UserAgent,
			Timeout:       cfg.FetchTimeout(),
			MaxPages:      cfg.Flipkart.MaxPages,
			MaxEmptyPages: cfg.Flipkart.MaxEmptyPages,
		}, logger),
	}

	orch := orchestrator.New(
		orchestrator.Config{
			MaxConcurrent: cfg.Scraper.MaxConcurrent,
			FetchTimeout:  cfg.FetchTimeout(),
			PageDelay:     cfg.PageDelay(),
		},
		store,
		extractors,
		scraper.NewRetryPolicy(cfg.Scraper.RetryMaxAttempts, cfg.RetryBase(), cfg.RetryMax()),
		system.New(),
		uuid.NewGenerator(),
		hub,
		logger,
	)
	if err := orch.Recover(ctx); err != nil {
		logger.Error("job recovery failed", zap.Error(err))
	}

	apiServer := api.NewServer(store, orch, logger, cfg)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       time.Duration(cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout:      time.Duration(cfg.Server.WriteTimeoutSec) * time.Second,
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownSec)*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	if err := orch.Shutdown(shutdownCtx); err != nil {
		logger.Error("orchestrator shutdown error", zap.Error(err))
	}
	if err := hub.Close(shutdownCtx); err != nil {
		logger.Error("progress hub close error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
