package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/krkn12/cred30-sub003/internal/models"
)

// Store provides access to the query set and atomic unit-of-work scoping.
type Store struct {
	db      *pgxpool.Pool
	queries *Queries
}

// NewStore creates a store wrapper around a pgx connection pool.
func NewStore(db *pgxpool.Pool) *Store {
	return &Store{
		db:      db,
		queries: New(db),
	}
}

// Queries returns the non-transactional query set.
func (s *Store) Queries() *Queries {
	return s.queries
}

// RunInTx executes fn as one atomic unit of work. It commits on nil return
// and rolls back on error or panic, so no partial mutation is ever visible
// outside the scope. A panic inside fn is converted to an error rather than
// crossing the coordinator boundary.
func (s *Store) RunInTx(ctx context.Context, fn func(q *Queries) error) (err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", ClassifyError(err))
	}
	defer tx.Rollback(ctx)

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("unit of work panicked: %v", p)
		}
	}()

	if err := fn(s.queries.WithTx(tx)); err != nil {
		return ClassifyError(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", ClassifyError(err))
	}
	return nil
}

// Postgres error codes surfaced as ledger failure kinds.
const (
	pgCodeLockNotAvailable = "55P03"
	pgCodeQueryCanceled    = "57014"
	pgCodeDeadlockDetected = "40P01"
)

// ClassifyError maps low-level store errors onto the core failure kinds.
// Anything unrecognized passes through unchanged.
func ClassifyError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %w", models.ErrNotFound, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgCodeLockNotAvailable, pgCodeQueryCanceled, pgCodeDeadlockDetected:
			return fmt.Errorf("%w: %w", models.ErrLockTimeout, err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", models.ErrLockTimeout, err)
	}
	return err
}
