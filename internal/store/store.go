package store

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/overlaywatch/canopy/internal/xerrors"
)

// Store is the shared relational handle used by all three binaries. Every
// method classifies the underlying driver error into the Store.Transient /
// Store.Permanent taxonomy from spec.md §7 so callers can decide whether to
// retry.
type Store struct {
	db *sqlx.DB
}

// Open dials postgres via the pgx stdlib driver and wraps it with sqlx for
// struct-scanning. maxConns bounds the pool; it should track the caller's
// own concurrency so a busy worker pool never queues behind starved
// connections. The pool is never sized below 8 connections.
func Open(ctx context.Context, databaseURL string, maxConns int) (*Store, error) {
	sqlDB, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, xerrors.New(xerrors.KindConfig, err)
	}
	if maxConns < 8 {
		maxConns = 8
	}
	sqlDB.SetMaxOpenConns(maxConns)
	sqlDB.SetMaxIdleConns(maxConns)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	db := sqlx.NewDb(sqlDB, "pgx")
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, classifyConnErr(err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// classifyConnErr distinguishes errors that would not be fixed by retrying
// (bad DSN, auth failure, missing database) from transient ones (network
// blip, server still starting). pgx reports the former as driver-level
// errors without a context deadline; anything touching context or the
// network is treated as transient and left for the caller's backoff policy.
func classifyConnErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return xerrors.New(xerrors.KindStoreTransient, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return xerrors.New(xerrors.KindStoreTransient, err)
	}
	return xerrors.New(xerrors.KindStorePermanent, err)
}

// wrapErr applies the same transient/permanent split to query errors.
// Constraint violations (duplicate key, foreign key) are permanent: retrying
// the identical statement will never succeed. Everything else — connection
// resets, timeouts, serialization failures — is transient.
func wrapErr(err error) error {
	if err == nil {
		return nil
	}
	if isConstraintViolation(err) {
		return xerrors.New(xerrors.KindStorePermanent, err)
	}
	return xerrors.New(xerrors.KindStoreTransient, err)
}

// isConstraintViolation reports whether err is a postgres constraint
// violation (SQLSTATE class 23). It degrades to false — i.e. "treat as
// transient and let the caller's backoff retry" — for any error it cannot
// classify, which is the safe direction for an unrecognized failure.
func isConstraintViolation(err error) bool {
	type sqlState interface{ SQLState() string }
	if pgErr, ok := err.(sqlState); ok {
		code := pgErr.SQLState()
		return len(code) >= 2 && code[:2] == "23"
	}
	return false
}
