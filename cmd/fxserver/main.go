// cmd/fxserver serves the OHLCV engine over HTTP and WebSocket, with
// Prometheus metrics and a health endpoint on a separate listener.
//
// Usage:
//
//	go run ./cmd/fxserver -config fx.yaml
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"ohlcv-engine/config"
	"ohlcv-engine/internal/api"
	"ohlcv-engine/internal/ingest"
	"ohlcv-engine/internal/logger"
	"ohlcv-engine/internal/metrics"
	"ohlcv-engine/internal/prefs"
	"ohlcv-engine/internal/store/sqlite"
)

func main() {
	configPath := flag.String("config", os.Getenv("FX_CONFIG"), "Path to YAML config (optional)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("fxserver exited", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	level, _ := logger.ParseLevel(cfg.LogLevel)
	log, closeLog, err := logger.Setup("fxserver", level, cfg.EventLogPath())
	if err != nil {
		return err
	}
	defer closeLog()
	log.Info("starting", "data_dir", cfg.DataDir, "prefs", cfg.PrefsBackend(), "workers", cfg.Workers)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ---- Metrics & health ----
	reg := prometheus.NewRegistry()
	prom := metrics.NewMetrics(reg)
	health := metrics.NewHealthStatus()
	health.SetPrefsBackend(cfg.PrefsBackend())

	// ---- Cache store ----
	loc, err := sqlite.DataLocator(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("cache dir: %w", err)
	}
	cache := sqlite.New(loc)
	health.SetCacheDir(loc.Dir())
	probe := func() (uint64, uint64, error) {
		st, err := cache.Status()
		return st.Files, st.Bytes, err
	}
	health.CheckCache(probe)

	// ---- Preferences ----
	var (
		store prefs.Store
		rdb   *goredis.Client
	)
	if cfg.PrefsBackend() == "redis" {
		rdb = goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		health.CheckRedis(ctx, rdb)
		if !health.RedisConnected {
			log.Warn("redis unreachable at startup, preferences degraded", "addr", cfg.Redis.Addr)
		}
		store = prefs.NewRedisStore(rdb, nil)
	} else {
		store = prefs.NewFileStore(cfg.DataDir)
	}
	health.StartLivenessChecker(ctx, rdb, probe, 10*time.Second)

	// ---- Engine & API ----
	svc := ingest.New(cache,
		ingest.WithSettings(cfg.Indicators),
		ingest.WithMetrics(prom),
		ingest.WithHealth(health),
		ingest.WithLogger(log),
	)
	dispatcher := api.NewDispatcher(svc, store, prom, cfg.Workers, log)
	hub := api.NewHub()

	gin.SetMode(gin.ReleaseMode)
	apiSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.NewRouter(dispatcher, hub, cfg.AllowedOrigins),
		ReadHeaderTimeout: 5 * time.Second,
	}
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health, reg)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("api listening", "addr", cfg.HTTPAddr)
		if err := apiSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})
	g.Go(metricsSrv.ListenAndServe)
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		hub.CloseAll()
		return errors.Join(apiSrv.Shutdown(shutdownCtx), metricsSrv.Stop(shutdownCtx))
	})

	err = g.Wait()
	log.Info("stopped")
	return err
}
