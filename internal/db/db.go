package db

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/xtrntr/carauction/internal/store"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

const (
	defaultMaxTxRetries = 5
	retryBaseDelay      = 10 * time.Millisecond
	retryMaxDelay       = 500 * time.Millisecond
)

// DB wraps a PostgreSQL connection pool
type DB struct {
	Pool       *pgxpool.Pool
	MaxRetries int
	Logger     *logrus.Logger
}

var _ store.Store = (*DB)(nil)

// NewDB initializes a new database connection pool
func NewDB(ctx context.Context, connString string, maxRetries int, logger *logrus.Logger) (*DB, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if maxRetries <= 0 {
		maxRetries = defaultMaxTxRetries
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &DB{Pool: pool, MaxRetries: maxRetries, Logger: logger}, nil
}

// Close closes the database connection pool
func (db *DB) Close(ctx context.Context) error {
	db.Pool.Close()
	return nil
}

// WithTx runs fn in a READ COMMITTED transaction. Serialization failures and
// deadlocks restart the whole closure with a fresh transaction, so every read
// inside fn observes the latest committed state.
func (db *DB) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	var lastErr error
	for attempt := 1; attempt <= db.MaxRetries; attempt++ {
		lastErr = db.runTx(ctx, fn)
		if lastErr == nil || !isRetryable(lastErr) {
			return lastErr
		}

		delay := backoff(attempt)
		db.Logger.WithFields(logrus.Fields{
			"attempt": attempt,
			"delay":   delay,
			"error":   lastErr,
		}).Warn("transaction conflict, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("%w: transaction retries exhausted: %v", store.ErrConflict, lastErr)
}

func (db *DB) runTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	tx, err := db.Pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// serialization_failure, deadlock_detected
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// backoff is exponential with ±20% jitter, capped at retryMaxDelay
func backoff(attempt int) time.Duration {
	d := retryBaseDelay << (attempt - 1)
	if d > retryMaxDelay {
		d = retryMaxDelay
	}
	jitter := 0.8 + rand.Float64()*0.4
	return time.Duration(float64(d) * jitter)
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}
