package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sora-gateway/gateway/internal/config"
	"github.com/sora-gateway/gateway/internal/filecache"
	"github.com/sora-gateway/gateway/internal/httpapi"
	"github.com/sora-gateway/gateway/internal/limiter"
	"github.com/sora-gateway/gateway/internal/lock"
	"github.com/sora-gateway/gateway/internal/logger"
	"github.com/sora-gateway/gateway/internal/metrics"
	"github.com/sora-gateway/gateway/internal/orchestrator"
	"github.com/sora-gateway/gateway/internal/pow"
	"github.com/sora-gateway/gateway/internal/scheduler"
	"github.com/sora-gateway/gateway/internal/store/pgstore"
	"github.com/sora-gateway/gateway/internal/upstream"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log := logger.New(logger.FromConfig(cfg.LogLevel, cfg.LogFormat))
	log.Info("starting sora-gateway", "instance_id", logger.GetInstanceID(), "port", cfg.Port)

	gin.SetMode(cfg.GinMode)

	st, err := pgstore.Open(cfg.DatabaseURL, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns)
	if err != nil {
		log.Error("failed to open credential store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	tokenLock := lock.New(cfg.TokenLockTimeout, log)
	concurrencyLimiter := limiter.New(log)
	sched := scheduler.New(st, nil, tokenLock, concurrencyLimiter, log)

	solver := pow.NewSolver(cfg.PoWWorkerPoolSize, log)
	defer solver.Close()
	client := upstream.New(cfg.UpstreamBaseURL, cfg.UpstreamTimeout, solver, log)

	cache, err := filecache.New(cfg.CacheDir, cfg.CacheTTLSeconds, log)
	if err != nil {
		log.Error("failed to initialize file cache", "error", err)
		os.Exit(1)
	}
	cleanupCtx, stopCleanup := context.WithCancel(context.Background())
	defer stopCleanup()
	go cache.StartCleanupLoop(cleanupCtx)

	o := orchestrator.New(st, sched, tokenLock, concurrencyLimiter, client, cache, cfg.Models, cfg.PublicBaseURL, log)

	registry := metrics.NewRegistry()
	reporter := metrics.New()
	sched.SetMetrics(reporter)
	tokenLock.SetMetrics(reporter)
	concurrencyLimiter.SetMetrics(reporter)
	solver.SetMetrics(reporter)
	o.SetMetrics(reporter)

	cleanupTicker := time.NewTicker(time.Minute)
	defer cleanupTicker.Stop()
	go func() {
		for {
			select {
			case <-cleanupTicker.C:
				tokenLock.CleanupExpired()
			case <-cleanupCtx.Done():
				return
			}
		}
	}()

	server := httpapi.NewServer(o, cfg.Models, log)
	router := httpapi.NewRouter(server, registry)
	handler := httpapi.WithCORS(router, cfg.CORSAllowedOrigins)

	httpServer := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: handler,
	}

	go func() {
		log.Info("listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ServerShutdownTimeoutSeconds)*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error("server forced to shutdown", "error", err)
	}
	log.Info("shutdown complete")
}
