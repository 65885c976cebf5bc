package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/avaprime/spooky-logic/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestExperimentRepository_RecordSample(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewExperimentRepository(db, zap.NewNop())
	now := time.Now().UTC()

	sample := &models.ExperimentSample{
		Experiment: "router-v2",
		Arm:        "variant_debate_tools",
		Score:      0.91,
		Cost:       0.02,
		LatencyMs:  1400,
		Domain:     "general",
		CreatedAt:  now,
	}

	mock.ExpectQuery("INSERT INTO experiment_samples").
		WithArgs("router-v2", "variant_debate_tools", 0.91, 0.02, 1400.0, "general", now).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(42))

	require.NoError(t, repo.RecordSample(context.Background(), sample))
	assert.Equal(t, int64(42), sample.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExperimentRepository_ListSamples(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewExperimentRepository(db, zap.NewNop())
	now := time.Now().UTC()

	rows := sqlmock.NewRows([]string{"id", "experiment", "arm", "score", "cost", "latency_ms", "domain", "created_at"}).
		AddRow(1, "exp", "control_single_pass", 0.7, 0.01, 900.0, "general", now).
		AddRow(2, "exp", "variant_debate_tools", 0.8, 0.02, 1200.0, "math", now)

	mock.ExpectQuery("SELECT (.+) FROM experiment_samples").WithArgs("exp").WillReturnRows(rows)

	samples, err := repo.ListSamples(context.Background(), "exp")
	require.NoError(t, err)
	require.Len(t, samples, 2)
	assert.Equal(t, "math", samples[1].Domain)
	assert.Equal(t, 0.8, samples[1].Score)
}

func TestExperimentRepository_GetExperiment(t *testing.T) {
	t.Run("not found", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewExperimentRepository(db, zap.NewNop())

		mock.ExpectQuery("SELECT (.+) FROM experiments").WithArgs("missing").WillReturnError(sql.ErrNoRows)

		_, err := repo.GetExperiment(context.Background(), "missing")
		assert.ErrorIs(t, err, ErrExperimentNotFound)
	})

	t.Run("found", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewExperimentRepository(db, zap.NewNop())
		now := time.Now().UTC()

		mock.ExpectQuery("SELECT (.+) FROM experiments").WithArgs("exp").
			WillReturnRows(sqlmock.NewRows([]string{"name", "arms", "domain", "created_at"}).
				AddRow("exp", "{a,b}", "general", now))

		exp, err := repo.GetExperiment(context.Background(), "exp")
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, exp.Arms)
	})
}
