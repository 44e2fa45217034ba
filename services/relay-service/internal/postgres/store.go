// Package postgres implements relay.Store on PostgreSQL through pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stoik/cex/internal/relay"
)

// Store runs relay transactions on a pgx pool.
type Store struct {
	pool *pgxpool.Pool
}

var _ relay.Store = (*Store)(nil)

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// InTx runs fn in a read-committed transaction, so each stream poll sees
// rows committed since the previous one.
func (s *Store) InTx(ctx context.Context, fn func(tx relay.Tx) error) error {
	pgtx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer pgtx.Rollback(ctx)

	if err := fn(&tx{tx: pgtx}); err != nil {
		return err
	}
	if err := pgtx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", mapErr(err))
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close is a no-op; the pool belongs to the caller.
func (s *Store) Close() {}

const uniqueViolation = "23505"

// mapErr translates driver errors into the relay store errors.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return relay.ErrNoRows
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", relay.ErrDuplicate, pgErr.ConstraintName)
	}
	return err
}
