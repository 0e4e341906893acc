package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"posdesk/backend/internal/cache"
	"posdesk/backend/internal/config"
	"posdesk/backend/internal/httpapi"
	"posdesk/backend/internal/jobs"
	"posdesk/backend/internal/lock"
	"posdesk/backend/internal/metrics"
	"posdesk/backend/internal/service"
	"posdesk/backend/internal/store"
	"posdesk/backend/internal/store/memory"
	pgstore "posdesk/backend/internal/store/postgres"
)

func main() {
	if err := run(); err != nil {
		slog.Default().Error("server exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := config.NewLogger(cfg)
	slog.SetDefault(logger)

	if err := validateSecurityConfig(cfg); err != nil {
		return fmt.Errorf("invalid security configuration: %w", err)
	}
	currency, err := cfg.Currency()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bootCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	repo, err := openRepository(bootCtx, cfg, logger)
	if err != nil {
		return err
	}
	closers := []func() error{repo.Close}

	var (
		reports cache.ReportCache = cache.NoopReportCache{}
		locker  lock.Locker       = lock.NewLocal()
	)
	if cfg.RedisAddr != "" {
		client := cache.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := client.Ping(bootCtx).Err(); err != nil {
			logger.Warn("redis unavailable, using local cache and locks", slog.Any("error", err))
			_ = client.Close()
		} else {
			reports, locker = redisBacked(client, cfg.LockTTL)
			closers = append(closers, client.Close)
			logger.Info("cache and locks: redis", slog.String("addr", cfg.RedisAddr))
		}
	}

	registry := metrics.New()
	svc := service.New(repo, service.Options{
		Settings:    config.StaticCurrency{Settings: currency},
		Locker:      locker,
		ReportCache: reports,
		ReportTTL:   cfg.ReportCacheTTL,
		Observer:    registry,
		Logger:      logger,
	})
	auth := httpapi.NewAuthManager(cfg.AuthSecret, cfg.ManagerPIN)
	api := httpapi.New(svc, auth, httpapi.Options{
		AllowedOrigin: cfg.AllowedOrigin,
		Logger:        logger,
		Metrics:       registry,
	})

	sweep, err := jobs.NewDraftSweep(svc, jobs.DraftSweepConfig{
		Spec:   cfg.DraftSweepSpec,
		MaxAge: cfg.DraftMaxAge,
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("draft sweep schedule %q: %w", cfg.DraftSweepSpec, err)
	}
	sweep.Start()

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("POS backend listening", slog.String("addr", cfg.Address()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			logger.Error("server error", slog.Any("error", err))
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", slog.Any("error", err))
	}
	sweep.Stop(shutdownCtx)
	if err := repo.Persist(shutdownCtx); err != nil {
		logger.Warn("final persist failed", slog.Any("error", err))
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.Warn("close error", slog.Any("error", err))
		}
	}

	logger.Info("server stopped")
	return nil
}

// openRepository prefers Postgres when DATABASE_URL is set and never falls
// back to the snapshot store in that case.
func openRepository(ctx context.Context, cfg config.Config, logger *slog.Logger) (store.Repository, error) {
	if cfg.DatabaseURL == "" {
		repo, err := memory.Open(cfg.SnapshotPath)
		if err != nil {
			return nil, fmt.Errorf("open snapshot %s: %w", cfg.SnapshotPath, err)
		}
		logger.Info("repository: in-memory", slog.String("snapshot", cfg.SnapshotPath))
		return repo, nil
	}

	applied, err := pgstore.Migrate(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("migrate postgres: %w", err)
	}
	pg, err := pgstore.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("postgres unavailable and DATABASE_URL is set: %w", err)
	}
	logger.Info("repository: postgres", slog.Bool("migrated", applied))
	return pg, nil
}

func redisBacked(client *redis.Client, lockTTL time.Duration) (cache.ReportCache, lock.Locker) {
	return cache.NewRedisReportCache(client), lock.NewRedis(client, lockTTL)
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if cfg.ManagerPIN == "" {
		return nil
	}
	if len(cfg.ManagerPIN) < 6 {
		return fmt.Errorf("MANAGER_PIN must be at least 6 digits")
	}
	if err := validatePINStrength(cfg.ManagerPIN); err != nil {
		return fmt.Errorf("MANAGER_PIN is too weak: %w", err)
	}
	return nil
}

// validatePINStrength rejects PINs that are all the same digit,
// sequential (ascending or descending), or from a known-weak list.
func validatePINStrength(pin string) error {
	known := map[string]bool{
		"123456": true, "654321": true, "000000": true, "121212": true,
		"112233": true, "123123": true, "102030": true, "696969": true,
	}
	if known[pin] {
		return fmt.Errorf("common PIN not allowed")
	}

	allSame := true
	for i := 1; i < len(pin); i++ {
		if pin[i] != pin[0] {
			allSame = false
			break
		}
	}
	if allSame {
		return fmt.Errorf("all-same-digit PIN not allowed")
	}

	ascending, descending := true, true
	for i := 1; i < len(pin); i++ {
		diff := int(pin[i]) - int(pin[i-1])
		if diff != 1 {
			ascending = false
		}
		if diff != -1 {
			descending = false
		}
	}
	if ascending || descending {
		return fmt.Errorf("sequential PIN not allowed")
	}

	return nil
}
