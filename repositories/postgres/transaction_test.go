package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/avaprime/spooky-logic/repositories"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestTransactionManager_InTransaction(t *testing.T) {
	ctx := context.Background()

	t.Run("commits on success", func(t *testing.T) {
		db, mock := newMockDB(t)
		tm := NewTransactionManager(db, zap.NewNop())

		mock.ExpectBegin()
		mock.ExpectExec("DELETE FROM governance_votes").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := tm.InTransaction(ctx, func(ctx context.Context, _ repositories.Transaction) error {
			_, err := GetExecutor(ctx, db).ExecContext(ctx, "DELETE FROM governance_votes")
			return err
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back on error", func(t *testing.T) {
		db, mock := newMockDB(t)
		tm := NewTransactionManager(db, zap.NewNop())
		boom := errors.New("boom")

		mock.ExpectBegin()
		mock.ExpectRollback()

		err := tm.InTransaction(ctx, func(context.Context, repositories.Transaction) error { return boom })
		assert.ErrorIs(t, err, boom)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("replays serialization failures", func(t *testing.T) {
		db, mock := newMockDB(t)
		tm := NewTransactionManager(db, zap.NewNop())

		mock.ExpectBegin()
		mock.ExpectExec("UPDATE governance_proposals").WillReturnError(&pq.Error{Code: "40001"})
		mock.ExpectRollback()
		mock.ExpectBegin()
		mock.ExpectExec("UPDATE governance_proposals").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		calls := 0
		err := tm.InTransaction(ctx, func(ctx context.Context, _ repositories.Transaction) error {
			calls++
			_, err := GetExecutor(ctx, db).ExecContext(ctx, "UPDATE governance_proposals")
			return err
		})
		require.NoError(t, err)
		assert.Equal(t, 2, calls)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("gives up after the attempt limit", func(t *testing.T) {
		db, mock := newMockDB(t)
		tm := NewTransactionManager(db, zap.NewNop())

		for i := 0; i < DefaultTxAttempts; i++ {
			mock.ExpectBegin()
			mock.ExpectRollback()
		}

		err := tm.InTransaction(ctx, func(context.Context, repositories.Transaction) error {
			return &pq.Error{Code: "40P01"}
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "after 3 attempts")
		assert.True(t, IsRetryable(err))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("nested calls join the outer transaction", func(t *testing.T) {
		db, mock := newMockDB(t)
		tm := NewTransactionManager(db, zap.NewNop())

		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO governance_votes").WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		err := tm.InTransaction(ctx, func(ctx context.Context, _ repositories.Transaction) error {
			return tm.InTransaction(ctx, func(ctx context.Context, inner repositories.Transaction) error {
				_, err := GetExecutor(ctx, db).ExecContext(ctx, "INSERT INTO governance_votes")
				return err
			})
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(&pq.Error{Code: "40001"}))
	assert.True(t, IsRetryable(&pq.Error{Code: "40P01"}))
	assert.False(t, IsRetryable(&pq.Error{Code: "23505"}))
	assert.False(t, IsRetryable(errors.New("plain")))
}
