package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/trailpack/trailpack/internal/changefeed"
	"github.com/trailpack/trailpack/internal/config"
	"github.com/trailpack/trailpack/internal/infra"
	"github.com/trailpack/trailpack/internal/logging"
	"github.com/trailpack/trailpack/internal/metrics"
	"github.com/trailpack/trailpack/internal/routes"
	"github.com/trailpack/trailpack/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, File: cfg.LogFile})

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("server exited cleanly")
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps := routes.Deps{Cfg: cfg, Logger: logger, Metrics: metrics.New()}

	switch cfg.StoreDriver {
	case config.DriverPostgres:
		db, err := infra.OpenPostgres(ctx, cfg.DatabaseURL, cfg.AppName, logger)
		if err != nil {
			return err
		}
		defer db.Close()
		deps.DB = db
	case config.DriverSQLite:
		db, err := infra.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return err
		}
		defer closeSQLite(db, logger)
		deps.SQLite = db
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.RedisURL != "" {
		cache, err := infra.OpenRedis(ctx, cfg.RedisURL, cfg.AppName, logger)
		if err != nil {
			return err
		}
		defer closeRedis(cache, logger)
		deps.Cache = cache
		deps.Feed = changefeed.NewRedisFeed(cache, logger)
	} else {
		hub := changefeed.NewHub()
		g.Go(func() error {
			hub.Run(gctx)
			return nil
		})
		deps.Feed = hub
		logger.Info("no REDIS_URL set, change notifications stay in process")
	}

	srv, err := server.New(deps)
	if err != nil {
		return fmt.Errorf("build server: %w", err)
	}

	g.Go(func() error {
		return srv.Listen()
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func closeSQLite(db *sql.DB, logger *slog.Logger) {
	if err := db.Close(); err != nil {
		logger.Warn("close sqlite", "error", err)
	}
}

func closeRedis(cache *redis.Client, logger *slog.Logger) {
	if err := cache.Close(); err != nil {
		logger.Warn("close redis", "error", err)
	}
}
