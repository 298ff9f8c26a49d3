package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/geocoder89/timetracker/internal/auth"
	"github.com/geocoder89/timetracker/internal/cache"
	"github.com/geocoder89/timetracker/internal/config"
	"github.com/geocoder89/timetracker/internal/db"
	httpx "github.com/geocoder89/timetracker/internal/http"
	"github.com/geocoder89/timetracker/internal/http/handlers"
	"github.com/geocoder89/timetracker/internal/http/middlewares"
	"github.com/geocoder89/timetracker/internal/observability"
	"github.com/geocoder89/timetracker/internal/redisclient"
	"github.com/geocoder89/timetracker/internal/repo/postgres"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	// Load the config set up
	cfg := config.Load()

	log := observability.NewLogger(cfg.Env)
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("api exited", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx := context.Background()

	shutdownTracer, err := observability.InitTracer(ctx, cfg.ServiceName, cfg.OTelEndpoint)
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	defer func() {
		sctx, cancel := config.WithTimeout(5 * time.Second)
		defer cancel()
		_ = shutdownTracer(sctx)
	}()

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	if err := db.Migrate(ctx, cfg.DBURL); err != nil {
		return err
	}

	pool, err := db.NewPool(ctx, cfg.DBURL)
	if err != nil {
		return fmt.Errorf("db connect: %w", err)
	}
	defer pool.Close()

	prom := observability.NewProm(prometheus.DefaultRegisterer)

	jobsRepo := postgres.NewJobsRepo(pool, prom)

	deps := httpx.Deps{
		Env:                  cfg.Env,
		ServiceName:          cfg.ServiceName,
		Log:                  log,
		Users:                postgres.NewUsersRepo(pool, prom, jobsRepo),
		RefreshTokens:        postgres.NewRefreshTokensRepo(pool, prom),
		Projects:             postgres.NewProjectsRepo(pool, prom),
		TimeEntries:          postgres.NewTimeEntriesRepo(pool, prom),
		JWT:                  auth.NewManager(cfg.JWTSecret, cfg.AccessTTL(), cfg.RefreshTTL()),
		RequireVerifiedEmail: cfg.RequireVerifiedEmail,
		Location:             loc,
		CORSOrigins:          cfg.CORSAllowedOrigins,
		Prom:                 prom,
		Gatherer:             prometheus.DefaultGatherer,
		Checks: []handlers.Check{
			{Name: "db", Ping: pool.Ping},
		},
	}

	switch cfg.CacheBackend {
	case "redis":
		rc := redisclient.New(redisclient.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer rc.Close()

		pctx, cancel := config.WithTimeout(2 * time.Second)
		err := rc.Ping(pctx)
		cancel()
		if err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}

		deps.Cache = cache.NewRedis(rc.Raw(), cfg.DashboardCacheTTL)
		deps.AuthLimiter = middlewares.NewRedisRateLimiter(rc.Raw(), 20, time.Minute)
		deps.APILimiter = middlewares.NewRedisRateLimiter(rc.Raw(), 300, time.Minute)
		deps.Checks = append(deps.Checks, handlers.Check{Name: "redis", Ping: rc.Ping})
	default:
		deps.Cache = cache.NewMemory(cfg.DashboardCacheTTL)
		deps.AuthLimiter = middlewares.NewRateLimiter(20, time.Minute)
		deps.APILimiter = middlewares.NewRateLimiter(300, time.Minute)
	}

	router := httpx.NewRouter(deps)

	// server set up
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)

	go func() {
		log.Info("Server starting", "port", cfg.Port, "env", cfg.Env, "cache", cfg.CacheBackend)
		err := srv.ListenAndServe()

		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-stop:
	}

	log.Info("server shutting down")

	shutdownCtx, cancel := config.WithTimeout(10 * time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	log.Info("shutdown complete")
	return nil
}
