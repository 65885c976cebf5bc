package postgres

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/avaprime/spooky-logic/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPolicyExecutionRepository_Record(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPolicyExecutionRepository(db, zap.NewNop())
	now := time.Now().UTC()

	exec := &models.PolicyExecution{
		RuleName:        "latency_spike_caching",
		Action:          "enable_caching",
		Success:         true,
		Improvement:     0.25,
		BaselineMetrics: json.RawMessage(`{"avg_latency":2000}`),
		ExecutedAt:      now,
	}

	mock.ExpectQuery("INSERT INTO policy_executions").
		WithArgs("latency_spike_caching", "enable_caching", true, 0.25,
			[]byte(`{"avg_latency":2000}`), nil, "", now).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(9))

	require.NoError(t, repo.Record(context.Background(), exec))
	assert.Equal(t, int64(9), exec.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPolicyExecutionRepository_Stats(t *testing.T) {
	t.Run("with history", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewPolicyExecutionRepository(db, zap.NewNop())
		now := time.Now().UTC()

		mock.ExpectQuery("SELECT COUNT").WithArgs("r1").
			WillReturnRows(sqlmock.NewRows([]string{"count", "successes", "avg", "max"}).AddRow(4, 3, 0.12, now))

		stats, err := repo.Stats(context.Background(), "r1")
		require.NoError(t, err)
		assert.Equal(t, 4, stats.Executions)
		assert.Equal(t, 3, stats.Successes)
		assert.InDelta(t, 0.12, stats.AvgImprovement, 1e-9)
		require.NotNil(t, stats.LastExecutedAt)
	})

	t.Run("no history", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewPolicyExecutionRepository(db, zap.NewNop())

		mock.ExpectQuery("SELECT COUNT").WithArgs("r2").
			WillReturnRows(sqlmock.NewRows([]string{"count", "successes", "avg", "max"}).AddRow(0, 0, 0.0, nil))

		stats, err := repo.Stats(context.Background(), "r2")
		require.NoError(t, err)
		assert.Equal(t, 0, stats.Executions)
		assert.Nil(t, stats.LastExecutedAt)
	})
}

func TestPolicyExecutionRepository_ListByRule(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPolicyExecutionRepository(db, zap.NewNop())
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT (.+) FROM policy_executions").WithArgs("r1", 100).
		WillReturnRows(sqlmock.NewRows([]string{"id", "rule_name", "action", "success", "improvement",
			"baseline_metrics", "new_metrics", "error", "executed_at"}).
			AddRow(1, "r1", "swap_agent", false, -1.0, nil, nil, "handler failed", now))

	execs, err := repo.ListByRule(context.Background(), "r1", 0)
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.Equal(t, "handler failed", execs[0].Error)
	assert.Equal(t, -1.0, execs[0].Improvement)
}
