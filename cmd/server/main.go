package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/JohanSebastianOlayaReyes/EstancoPro-sub000/internal/cache"
	"github.com/JohanSebastianOlayaReyes/EstancoPro-sub000/internal/config"
	"github.com/JohanSebastianOlayaReyes/EstancoPro-sub000/internal/domain"
	"github.com/JohanSebastianOlayaReyes/EstancoPro-sub000/internal/httpapi"
	"github.com/JohanSebastianOlayaReyes/EstancoPro-sub000/internal/lock"
	"github.com/JohanSebastianOlayaReyes/EstancoPro-sub000/internal/metrics"
	"github.com/JohanSebastianOlayaReyes/EstancoPro-sub000/internal/service"
	"github.com/JohanSebastianOlayaReyes/EstancoPro-sub000/internal/store"
	"github.com/JohanSebastianOlayaReyes/EstancoPro-sub000/internal/store/memory"
	pgstore "github.com/JohanSebastianOlayaReyes/EstancoPro-sub000/internal/store/postgres"
)

func main() {
	cfg := config.Load()
	logger := newLogger(cfg)
	if err := validateSecurityConfig(cfg); err != nil {
		logger.Fatalf("invalid security configuration: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL, pgstore.Options{MaxTxAttempts: cfg.TxMaxAttempts})
		if err != nil {
			logger.Fatalf("postgres unavailable (%v) and DATABASE_URL is set; refusing to start with in-memory fallback", err)
		}
		closers = append(closers, pg.Close)
		if cfg.RunMigrations {
			if err := pg.Migrate(ctx); err != nil {
				logger.Fatalf("migrations failed: %v", err)
			}
		}
		if err := seedUsersIfEmpty(ctx, pg, logger); err != nil {
			logger.Fatalf("seed users: %v", err)
		}
		repo = pg
		logger.Info("repository: postgres")
	} else {
		repo = memory.NewSeeded()
		logger.Info("repository: in-memory")
	}

	deps := service.Deps{
		PresentationTTL: cfg.PresentationCacheTTL,
		DrawerLockTTL:   cfg.DrawerLockTTL,
		Logger:          logger,
	}
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			logger.WithError(err).Warn("redis unavailable, using noop cache and in-process drawer lock")
			_ = client.Close()
		} else {
			deps.Presentations = cache.NewRedisPresentationCache(client)
			deps.Locker = lock.NewRedis(client, 50*time.Millisecond, 100)
			closers = append(closers, client.Close)
			logger.Info("cache: redis, drawer lock: redis")
		}
	} else {
		logger.Info("cache: noop, drawer lock: in-process")
	}

	var m *metrics.Metrics
	if cfg.MetricsEnabled {
		m = metrics.New()
		deps.Metrics = m
	}

	svc := service.New(repo, deps)
	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, repo, logger)
	api := httpapi.New(svc, auth, cfg.AllowedOrigin, m, logger)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Infof("estanco backend listening on %s", cfg.Address())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("shutdown error")
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.WithError(err).Error("close error")
		}
	}

	logger.Info("server stopped")
}

func newLogger(cfg config.Config) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	if cfg.LogFormat == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	return nil
}

// seedUsersIfEmpty creates the first admin and cashier accounts of a fresh
// database from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD.
func seedUsersIfEmpty(ctx context.Context, users httpapi.UserStore, logger logrus.FieldLogger) error {
	existing, err := users.ListUsers(ctx)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}

	seeds := []struct {
		username string
		envKey   string
		role     string
	}{
		{"admin", "SEED_ADMIN_PASSWORD", httpapi.RoleAdmin},
		{"cashier", "SEED_CASHIER_PASSWORD", httpapi.RoleCashier},
	}
	for _, seed := range seeds {
		password := strings.TrimSpace(os.Getenv(seed.envKey))
		if password == "" {
			logger.Warnf("no users in database and %s is unset; %s account not created", seed.envKey, seed.username)
			continue
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return err
		}
		if err := users.CreateUser(ctx, domain.UserAccount{
			Username:  seed.username,
			Password:  string(hash),
			Role:      seed.role,
			Active:    true,
			CreatedAt: time.Now().UTC(),
		}); err != nil {
			return err
		}
		logger.Infof("seeded %s account", seed.username)
	}
	return nil
}
