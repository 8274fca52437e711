package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"healthsync/internal/config"
	"healthsync/internal/types"
)

// NewPool creates a pgx connection pool from the database configuration and
// verifies connectivity with a ping before returning. A pool that cannot
// reach the store at startup is a deployment error, so we fail fast.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.ConnString())
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "invalid database configuration", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeStoreUnavailable, "failed to create database pool", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, types.NewAppError(types.ErrCodeStoreUnavailable, "database unreachable", err)
	}

	return pool, nil
}
