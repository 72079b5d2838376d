package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/securyflex/payment-engine/config"
	"github.com/securyflex/payment-engine/payment"
	"github.com/securyflex/payment-engine/ratelimit"
	"github.com/securyflex/payment-engine/scenarios"
	"github.com/securyflex/payment-engine/store/postgres"
	"github.com/securyflex/payment-engine/store/sqlite"
)

// appStore is what the commands need from either backend.
type appStore interface {
	payment.TxStore
	scenarios.Writer
	Ping(ctx context.Context) error
	Close() error
}

// openStore opens the configured backend with its schema applied.
func openStore(ctx context.Context, cfg config.Config) (appStore, error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		st, err := postgres.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		if err := st.RunMigrations(ctx); err != nil {
			st.Close()
			return nil, err
		}
		return st, nil
	case config.DriverSQLite:
		st, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

// newLimiter builds the batch rate limiter. An unreachable Redis is logged,
// not fatal: the handler lets requests through when the limiter errors.
func newLimiter(ctx context.Context, cfg config.Config, logger *slog.Logger) (*ratelimit.TokenBucket, *redis.Client) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis unreachable, rate limiting degraded", "addr", cfg.RedisAddr, "error", err)
	}

	bucket := ratelimit.NewTokenBucket(rdb, cfg.RateLimitCapacity, cfg.RateLimitRefill, 10*time.Minute,
		ratelimit.WithPrefix("payments:ratelimit:"))
	return bucket, rdb
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func closeQuietly(logger *slog.Logger, what string, c io.Closer) {
	if err := c.Close(); err != nil {
		logger.Error("close failed", "resource", what, "error", err)
	}
}
