package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/avaprime/spooky-logic/repositories"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

// DefaultTxAttempts bounds how often InTransaction replays a function that
// lost a serialization race
const DefaultTxAttempts = 3

// SQLSTATE codes that are safe to retry from the start of the transaction
const (
	codeSerializationFailure pq.ErrorCode = "40001"
	codeDeadlockDetected     pq.ErrorCode = "40P01"
)

type txKey struct{}

// TransactionManager opens transactions on the pool. A Begin on a context
// that already carries a transaction joins it instead of opening a new one,
// so governance state saves nest inside a caller's transaction.
type TransactionManager struct {
	db       *DB
	logger   *zap.Logger
	attempts int
}

// NewTransactionManager creates a new transaction manager
func NewTransactionManager(db *DB, logger *zap.Logger) repositories.TransactionManager {
	return &TransactionManager{db: db, logger: logger, attempts: DefaultTxAttempts}
}

// Begin starts a transaction, or joins the one carried by ctx
func (tm *TransactionManager) Begin(ctx context.Context) (repositories.Transaction, error) {
	if outer, ok := ctx.Value(txKey{}).(*Transaction); ok {
		return &Transaction{tx: outer.tx, ctx: ctx, logger: tm.logger, joined: true}, nil
	}

	sqlTx, err := tm.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	tx := &Transaction{tx: sqlTx, logger: tm.logger}
	tx.ctx = context.WithValue(ctx, txKey{}, tx)
	return tx, nil
}

// InTransaction runs fn in a transaction, committing on success. fn is
// replayed from scratch when postgres aborts it with a serialization
// failure or a deadlock. Joined transactions are never replayed here; the
// outermost caller owns the retry.
func (tm *TransactionManager) InTransaction(ctx context.Context, fn func(ctx context.Context, tx repositories.Transaction) error) error {
	var err error
	for attempt := 1; attempt <= tm.attempts; attempt++ {
		err = tm.runOnce(ctx, fn)
		if err == nil || !IsRetryable(err) {
			return err
		}
		if _, joined := ctx.Value(txKey{}).(*Transaction); joined {
			return err
		}
		tm.logger.Warn("transaction aborted by postgres, retrying",
			zap.Int("attempt", attempt),
			zap.Error(err))
	}
	return fmt.Errorf("transaction failed after %d attempts: %w", tm.attempts, err)
}

func (tm *TransactionManager) runOnce(ctx context.Context, fn func(ctx context.Context, tx repositories.Transaction) error) error {
	tx, err := tm.Begin(ctx)
	if err != nil {
		return err
	}

	if err := fn(tx.Context(), tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			tm.logger.Error("failed to rollback transaction",
				zap.Error(rbErr),
				zap.NamedError("original_error", err))
		}
		return err
	}
	return tx.Commit()
}

// IsRetryable reports whether err is a postgres serialization failure or
// deadlock
func IsRetryable(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == codeSerializationFailure || pqErr.Code == codeDeadlockDetected
}

// Transaction is a *sql.Tx bound to the context that carries it
type Transaction struct {
	tx     *sql.Tx
	ctx    context.Context
	logger *zap.Logger
	joined bool
}

// Commit commits the transaction. It is a no-op on a joined transaction.
func (t *Transaction) Commit() error {
	if t.joined {
		return nil
	}
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Rollback rolls back the transaction. Rolling back a finished transaction
// is not an error. A joined transaction leaves the rollback to its owner.
func (t *Transaction) Rollback() error {
	if t.joined {
		return nil
	}
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("failed to rollback transaction: %w", err)
	}
	return nil
}

func (t *Transaction) Context() context.Context {
	return t.ctx
}

// Executor runs queries on either the pool or a transaction
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// GetExecutor returns the transaction carried by ctx, or the pool
func GetExecutor(ctx context.Context, db *DB) Executor {
	if tx, ok := ctx.Value(txKey{}).(*Transaction); ok {
		return tx.tx
	}
	return db.DB
}
