package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ent0n29/narrator/internal/app"
	"github.com/ent0n29/narrator/internal/config"
	"github.com/ent0n29/narrator/internal/observability"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	logger := observability.SetupLogging(cfg.LogLevel, cfg.LogFormat)

	ctx := context.Background()
	shutdownTracing, err := observability.SetupTracing(ctx, "narrator", cfg.OTLPEndpoint)
	if err != nil {
		log.Fatalf("tracing init failed: %v", err)
	}

	runCtx, runCancel := context.WithCancel(ctx)
	defer runCancel()

	built, err := app.Build(runCtx, cfg, logger)
	if err != nil {
		log.Fatalf("startup failed: %v", err)
	}

	// The model loads in the background; /readyz reports 503 until it is done.
	go func() {
		started := time.Now()
		info, err := built.LoadModel(runCtx)
		if err != nil {
			logger.Error("model load failed", slog.String("error", err.Error()))
			return
		}
		logger.Info("model loaded",
			slog.String("detail", info.Detail),
			slog.Duration("elapsed", time.Since(started)),
		)
	}()

	httpServer := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           built.API.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	built.Sessions.StartJanitor(runCtx, 5*time.Second)

	go func() {
		logger.Info("server listening", slog.String("addr", cfg.BindAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", slog.String("error", err.Error()))
		_ = httpServer.Close()
	}

	// Runs in flight stop at their next chunk boundary.
	runCancel()
	built.Driver.Wait()

	if err := built.Cleanup(); err != nil {
		logger.Warn("cleanup failed", slog.String("error", err.Error()))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("tracing shutdown failed", slog.String("error", err.Error()))
	}
	logger.Info("shutdown complete")
}
