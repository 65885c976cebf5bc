package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/avaprime/spooky-logic/models"
	"github.com/avaprime/spooky-logic/repositories"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

// ErrExperimentNotFound is returned when no experiment row matches
var ErrExperimentNotFound = fmt.Errorf("experiment %w", repositories.ErrNotFound)

// ExperimentRepository implements the repositories.ExperimentRepository interface
type ExperimentRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewExperimentRepository creates a new experiment repository
func NewExperimentRepository(db *DB, logger *zap.Logger) repositories.ExperimentRepository {
	return &ExperimentRepository{
		db:     db,
		logger: logger,
	}
}

// CreateExperiment registers an experiment
func (r *ExperimentRepository) CreateExperiment(ctx context.Context, exp *models.Experiment) error {
	query := `
		INSERT INTO experiments (name, arms, domain, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (name) DO UPDATE SET arms = EXCLUDED.arms, domain = EXCLUDED.domain
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query, exp.Name, pq.Array(exp.Arms), exp.Domain, exp.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create experiment: %w", err)
	}

	r.logger.Debug("experiment created", zap.String("name", exp.Name))
	return nil
}

// GetExperiment retrieves an experiment by name
func (r *ExperimentRepository) GetExperiment(ctx context.Context, name string) (*models.Experiment, error) {
	query := `
		SELECT name, arms, domain, created_at
		FROM experiments
		WHERE name = $1
	`

	executor := GetExecutor(ctx, r.db)
	exp := &models.Experiment{}
	err := executor.QueryRowContext(ctx, query, name).Scan(
		&exp.Name,
		pq.Array(&exp.Arms),
		&exp.Domain,
		&exp.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrExperimentNotFound, name)
		}
		return nil, fmt.Errorf("failed to get experiment: %w", err)
	}

	return exp, nil
}

// RecordSample appends a sample to an experiment
func (r *ExperimentRepository) RecordSample(ctx context.Context, s *models.ExperimentSample) error {
	query := `
		INSERT INTO experiment_samples (experiment, arm, score, cost, latency_ms, domain, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`

	executor := GetExecutor(ctx, r.db)
	err := executor.QueryRowContext(ctx, query,
		s.Experiment,
		s.Arm,
		s.Score,
		s.Cost,
		s.LatencyMs,
		s.Domain,
		s.CreatedAt,
	).Scan(&s.ID)
	if err != nil {
		return fmt.Errorf("failed to record sample: %w", err)
	}

	return nil
}

// ListSamples returns all samples of an experiment
func (r *ExperimentRepository) ListSamples(ctx context.Context, experiment string) ([]*models.ExperimentSample, error) {
	query := `
		SELECT id, experiment, arm, score, cost, latency_ms, domain, created_at
		FROM experiment_samples
		WHERE experiment = $1
		ORDER BY id ASC
	`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, experiment)
	if err != nil {
		return nil, fmt.Errorf("failed to list samples: %w", err)
	}
	defer rows.Close()

	var samples []*models.ExperimentSample
	for rows.Next() {
		s := &models.ExperimentSample{}
		if err := rows.Scan(&s.ID, &s.Experiment, &s.Arm, &s.Score, &s.Cost, &s.LatencyMs, &s.Domain, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan sample: %w", err)
		}
		samples = append(samples, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating samples: %w", err)
	}

	return samples, nil
}
