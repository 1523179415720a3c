// Package main wires together the crawler service binary.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/funding-crawler/internal/app"
	"github.com/JakeFAU/funding-crawler/internal/config"
	"github.com/JakeFAU/funding-crawler/internal/logging"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	runSource := flag.String("run", "", "Run one source by id, print its result, and exit")
	once := flag.Bool("once", false, "Run every active source once, sequentially, and exit")
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	services, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("init services failed", zap.Error(err))
		return
	}
	defer services.Close()

	switch {
	case *runSource != "":
		err = runOne(ctx, services, *runSource)
	case *once:
		err = runAll(ctx, services, cfg)
	default:
		err = serve(ctx, stop, services, cfg, logger)
	}
	if err != nil {
		logger.Error("fundcrawler exited with error", zap.Error(err))
	}
}

func runOne(ctx context.Context, services *app.App, sourceID string) error {
	result, err := services.Orchestrator.RunByID(ctx, sourceID)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	return nil
}

func runAll(ctx context.Context, services *app.App, cfg config.Config) error {
	_, total, err := services.Orchestrator.RunAll(ctx, cfg.Scheduler.Region, cfg.Crawler.SourceDelay)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "opportunities found: %d\n", total)
	return nil
}

func serve(ctx context.Context, stop context.CancelFunc, services *app.App, cfg config.Config, logger *zap.Logger) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           services.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		logger.Info("dispatcher started", zap.Int("workers", services.Dispatcher.Size()))
		services.Dispatcher.Run(ctx)
	}()
	go services.Scheduler.Run(ctx)

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
		return fmt.Errorf("server shutdown: %w", err)
	}
	<-done
	logger.Info("shutdown complete")
	return nil
}
