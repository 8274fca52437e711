// Package db provides PostgreSQL-backed repository implementations for
// healthsync. All repositories accept a DBTX interface that is satisfied by
// both *pgxpool.Pool (for normal queries) and pgx.Tx (for transactional
// execution), enabling clean transaction support.
package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"healthsync/internal/types"
)

// DBTX is the minimal interface shared by *pgxpool.Pool and pgx.Tx.
// Repositories accept this so the same code works inside or outside a
// transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// classifyDBError maps a pgx error onto the shared error taxonomy:
// constraint violations (SQLSTATE class 23) become ErrCodeConstraintViolation,
// connection-level failures (class 08, or context cancellation mid-query)
// become ErrCodeStoreUnavailable, and everything else is an internal DB error.
func classifyDBError(err error, message string) *types.AppError {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case len(pgErr.Code) >= 2 && pgErr.Code[:2] == "23":
			return types.NewAppError(types.ErrCodeConstraintViolation, message, err)
		case len(pgErr.Code) >= 2 && pgErr.Code[:2] == "08":
			return types.NewAppError(types.ErrCodeStoreUnavailable, message, err)
		}
		return types.NewAppError(types.ErrCodeInternalDB, message, err)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return types.NewAppError(types.ErrCodeStoreUnavailable, message, err)
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return types.NewAppError(types.ErrCodeStoreUnavailable, message, err)
	}
	return types.NewAppError(types.ErrCodeInternalDB, message, err)
}

// isNoRows reports whether err is pgx's no-rows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// isStoreUnavailable reports whether err was classified as a connection-level
// store failure.
func isStoreUnavailable(err error) bool {
	var appErr *types.AppError
	return errors.As(err, &appErr) && appErr.Code == types.ErrCodeStoreUnavailable
}
