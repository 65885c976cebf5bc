package services

import (
	"context"

	"github.com/avaprime/spooky-logic/repositories"
)

// WithTransaction runs fn through txMgr, so a store that replays aborted
// transactions replays fn too. fn receives the transaction context for
// repositories to join. A panic in fn rolls back before propagating.
// Failures that are not already domain errors come back as internal errors.
func WithTransaction(ctx context.Context, txMgr repositories.TransactionManager, fn func(ctx context.Context, tx repositories.Transaction) error) error {
	err := txMgr.InTransaction(ctx, func(ctx context.Context, tx repositories.Transaction) error {
		defer func() {
			if p := recover(); p != nil {
				_ = tx.Rollback()
				panic(p)
			}
		}()
		return fn(ctx, tx)
	})
	if err != nil && GetErrorType(err) == "" {
		return WrapInternal("transaction failed", err)
	}
	return err
}
