package store

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const serializationFailureCode = "40001"

// maxConflictRetries bounds the serializable-conflict retry loop every
// store operation runs inside (spec.md §4.G: "bounded, e.g. 16
// attempts").
const maxConflictRetries = 16

// Store wraps a pgx/v5 connection pool and runs every operation as a
// single serializable transaction with automatic retry on SQLSTATE
// 40001, the shape spec.md §4.G requires: a begin/rollback/commit
// wrapper around arbitrary pgx work that retries the whole transaction
// body rather than a single call.
type Store struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// New wraps an already-configured pool.
func New(pool *pgxpool.Pool, logger *zap.Logger) *Store {
	return &Store{pool: pool, logger: logger}
}

// ErrConflictRetriesExhausted is returned when maxConflictRetries
// consecutive serialization failures occur.
var ErrConflictRetriesExhausted = errors.New("store: exhausted serialization-conflict retries")

// withSerializableTx runs fn inside a serializable transaction, retrying
// the whole transaction body on a SQLSTATE 40001 conflict.
func (s *Store) withSerializableTx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	var lastErr error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		err := s.runOnce(ctx, fn)
		if err == nil {
			return nil
		}
		if !isSerializationFailure(err) {
			return err
		}
		lastErr = err
		s.logger.Warn("serialization conflict, retrying", zap.Int("attempt", attempt+1), zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(rand.Intn(20)+5) * time.Millisecond):
		}
	}
	return fmt.Errorf("%w: %v", ErrConflictRetriesExhausted, lastErr)
}

func (s *Store) runOnce(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("store: begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
	}()

	if err := fn(ctx, tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return fmt.Errorf("store: rollback after %v: %w", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == serializationFailureCode
}
