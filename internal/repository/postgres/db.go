// Package postgres stores the pass history in PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/limiquantix/drsim/internal/config"
)

const connectTimeout = 10 * time.Second

// DB is the connection pool shared by the pass history and the readiness check.
type DB struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewDB connects to the pass history database. The pool is sized by
// max_open_conns, and max_idle_conns connections are kept warm between passes.
func NewDB(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 && cfg.MaxIdleConns <= cfg.MaxOpenConns {
		poolConfig.MinConns = int32(cfg.MaxIdleConns)
	}
	poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create pass history pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach pass history database %s:%d: %w", cfg.Host, cfg.Port, err)
	}

	logger = logger.With(zap.String("component", "postgres"), zap.String("database", cfg.Name))
	logger.Info("Pass history database ready", zap.Int32("max_conns", poolConfig.MaxConns))

	return &DB{pool: pool, logger: logger}, nil
}

// Close closes the pool.
func (db *DB) Close() {
	db.pool.Close()
	db.logger.Info("Pass history database closed")
}

// Health pings the database.
func (db *DB) Health(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// isUniqueViolation reports a pass stored twice under the same ID.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
