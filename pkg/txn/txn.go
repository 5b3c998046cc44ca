package txn

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Store runs functions inside database transactions. Every registration
// decision executes through WithinTx so that a failure after partial mutation
// rolls back the whole request.
type Store struct {
	db *sqlx.DB
}

// NewStore wraps a database handle.
func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for read-only queries that do not need
// transaction scope.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// WithinTx begins a serializable transaction, invokes fn, and commits when fn
// returns nil. Any error from fn rolls the transaction back and is returned
// unchanged so typed decision errors survive the boundary.
func (s *Store) WithinTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			return fmt.Errorf("rollback after %w: %v", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
