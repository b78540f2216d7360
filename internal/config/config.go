package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Port                  string
	AllowedOrigin         string
	DatabaseURL           string
	RunMigrations         bool
	TxMaxAttempts         int
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	PresentationCacheTTL  time.Duration
	DrawerLockTTL         time.Duration
	AuthSecret            string
	AccessTokenTTLMinutes int
	LogLevel              string
	LogFormat             string
	MetricsEnabled        bool
}

// Load reads an optional .env file, then the process environment. Secrets
// have no defaults.
func Load() Config {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("PORT", "8080")
	v.SetDefault("ALLOWED_ORIGIN", "http://127.0.0.1:3000")
	v.SetDefault("DB_RUN_MIGRATIONS", true)
	v.SetDefault("DB_TX_MAX_ATTEMPTS", 3)
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("PRESENTATION_CACHE_TTL_SECONDS", 300)
	v.SetDefault("DRAWER_LOCK_TTL_SECONDS", 10)
	v.SetDefault("ACCESS_TOKEN_TTL_MINUTES", 480)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("METRICS_ENABLED", true)

	cfg := Config{
		Port:                  v.GetString("PORT"),
		AllowedOrigin:         v.GetString("ALLOWED_ORIGIN"),
		DatabaseURL:           strings.TrimSpace(v.GetString("DATABASE_URL")),
		RunMigrations:         v.GetBool("DB_RUN_MIGRATIONS"),
		TxMaxAttempts:         positiveOr(v.GetInt("DB_TX_MAX_ATTEMPTS"), 3),
		RedisAddr:             strings.TrimSpace(v.GetString("REDIS_ADDR")),
		RedisPassword:         v.GetString("REDIS_PASSWORD"),
		RedisDB:               v.GetInt("REDIS_DB"),
		PresentationCacheTTL:  time.Duration(positiveOr(v.GetInt("PRESENTATION_CACHE_TTL_SECONDS"), 300)) * time.Second,
		DrawerLockTTL:         time.Duration(positiveOr(v.GetInt("DRAWER_LOCK_TTL_SECONDS"), 10)) * time.Second,
		AuthSecret:            strings.TrimSpace(v.GetString("AUTH_SECRET")),
		AccessTokenTTLMinutes: positiveOr(v.GetInt("ACCESS_TOKEN_TTL_MINUTES"), 480),
		LogLevel:              strings.ToLower(strings.TrimSpace(v.GetString("LOG_LEVEL"))),
		LogFormat:             strings.ToLower(strings.TrimSpace(v.GetString("LOG_FORMAT"))),
		MetricsEnabled:        v.GetBool("METRICS_ENABLED"),
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func positiveOr(val int, fallback int) int {
	if val < 1 {
		return fallback
	}
	return val
}
