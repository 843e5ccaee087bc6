package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-reasoner/pkg/config"
	"github.com/ekaya-inc/ekaya-reasoner/pkg/logging"
	"github.com/ekaya-inc/ekaya-reasoner/pkg/retry"
)

// DB wraps a pgxpool connection pool.
type DB struct {
	*pgxpool.Pool
}

// Options tunes the pool. Zero values fall back to the pool defaults below.
type Options struct {
	MaxConnections  int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	// ConnectAttempts bounds the initial ping; Postgres often starts after us in compose.
	ConnectAttempts int
}

// OptionsFrom maps the database section of the service config onto pool options.
func OptionsFrom(cfg *config.DatabaseConfig) Options {
	return Options{
		MaxConnections:  cfg.MaxConnections,
		MaxConnLifetime: cfg.MaxConnLifetime,
		ConnectAttempts: 5,
	}
}

// NewConnection creates a pool for url and waits until the server answers a ping.
func NewConnection(ctx context.Context, url string, opts Options, logger *zap.Logger) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	poolConfig.MaxConns = opts.MaxConnections
	if poolConfig.MaxConns == 0 {
		poolConfig.MaxConns = 25
	}

	poolConfig.MaxConnLifetime = opts.MaxConnLifetime
	if poolConfig.MaxConnLifetime == 0 {
		poolConfig.MaxConnLifetime = time.Hour
	}

	poolConfig.MaxConnIdleTime = opts.MaxConnIdleTime
	if poolConfig.MaxConnIdleTime == 0 {
		poolConfig.MaxConnIdleTime = time.Minute * 30
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	attempts := max(opts.ConnectAttempts, 1)
	err = retry.Do(ctx, retry.WithAttempts(attempts), func() error {
		return pool.Ping(ctx)
	})
	if err != nil {
		pool.Close()
		msg := logging.SanitizeError(err)
		logger.Error("Failed to connect to database",
			zap.String("url", logging.SanitizeConnectionString(url)),
			zap.Int("attempts", attempts),
			zap.String("error", msg))
		return nil, fmt.Errorf("failed to ping database: %s", msg)
	}

	logger.Info("Connected to database",
		zap.String("url", logging.SanitizeConnectionString(url)),
		zap.Int32("max_conns", poolConfig.MaxConns))
	return &DB{Pool: pool}, nil
}

// Close closes the connection pool.
func (db *DB) Close() {
	db.Pool.Close()
}
