package services

import (
	"context"
	"errors"
	"testing"

	"github.com/avaprime/spooky-logic/repositories"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockTransactionManager runs the function it is handed with tx
type MockTransactionManager struct {
	mock.Mock
	tx *MockTransaction
}

func (m *MockTransactionManager) Begin(ctx context.Context) (repositories.Transaction, error) {
	args := m.Called(ctx)
	return m.tx, args.Error(0)
}

func (m *MockTransactionManager) InTransaction(ctx context.Context, fn func(ctx context.Context, tx repositories.Transaction) error) error {
	args := m.Called(ctx)
	if err := args.Error(0); err != nil {
		return err
	}
	return fn(m.tx.Context(), m.tx)
}

type MockTransaction struct {
	mock.Mock
	ctx context.Context
}

func (m *MockTransaction) Commit() error {
	return m.Called().Error(0)
}

func (m *MockTransaction) Rollback() error {
	return m.Called().Error(0)
}

func (m *MockTransaction) Context() context.Context {
	return m.ctx
}

type txCtxKey struct{}

func newMockTx() (*MockTransactionManager, *MockTransaction) {
	tx := &MockTransaction{ctx: context.WithValue(context.Background(), txCtxKey{}, "tx-1")}
	return &MockTransactionManager{tx: tx}, tx
}

func TestWithTransaction(t *testing.T) {
	base := errors.New("connection reset")

	tests := []struct {
		name      string
		beginErr  error
		fnErr     error
		wantCheck func(error) bool
		wantIs    error
	}{
		{name: "success"},
		{name: "domain error passes through", fnErr: ErrDuplicateVote, wantCheck: IsConflictError, wantIs: ErrDuplicateVote},
		{name: "plain error becomes internal", fnErr: base, wantCheck: IsInternalError, wantIs: base},
		{name: "manager failure becomes internal", beginErr: base, wantCheck: IsInternalError, wantIs: base},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			txMgr, _ := newMockTx()
			txMgr.On("InTransaction", mock.Anything).Return(tt.beginErr)

			var sawCtx interface{}
			err := WithTransaction(context.Background(), txMgr, func(ctx context.Context, tx repositories.Transaction) error {
				sawCtx = ctx.Value(txCtxKey{})
				return tt.fnErr
			})

			if tt.wantCheck == nil {
				require.NoError(t, err)
				assert.Equal(t, "tx-1", sawCtx)
				return
			}
			require.Error(t, err)
			assert.True(t, tt.wantCheck(err))
			assert.ErrorIs(t, err, tt.wantIs)
		})
	}
}

func TestWithTransaction_PanicRollsBack(t *testing.T) {
	txMgr, tx := newMockTx()
	txMgr.On("InTransaction", mock.Anything).Return(nil)
	tx.On("Rollback").Return(nil)

	assert.PanicsWithValue(t, "quorum lost", func() {
		_ = WithTransaction(context.Background(), txMgr, func(context.Context, repositories.Transaction) error {
			panic("quorum lost")
		})
	})
	tx.AssertCalled(t, "Rollback")
}
