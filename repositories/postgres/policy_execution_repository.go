package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/avaprime/spooky-logic/models"
	"github.com/avaprime/spooky-logic/repositories"
	"go.uber.org/zap"
)

// PolicyExecutionRepository implements the repositories.PolicyExecutionRepository interface
type PolicyExecutionRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewPolicyExecutionRepository creates a new policy execution repository
func NewPolicyExecutionRepository(db *DB, logger *zap.Logger) repositories.PolicyExecutionRepository {
	return &PolicyExecutionRepository{
		db:     db,
		logger: logger,
	}
}

// Record stores an execution outcome
func (r *PolicyExecutionRepository) Record(ctx context.Context, e *models.PolicyExecution) error {
	query := `
		INSERT INTO policy_executions (rule_name, action, success, improvement, baseline_metrics, new_metrics, error, executed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`

	executor := GetExecutor(ctx, r.db)
	err := executor.QueryRowContext(ctx, query,
		e.RuleName,
		e.Action,
		e.Success,
		e.Improvement,
		nullableJSON(e.BaselineMetrics),
		nullableJSON(e.NewMetrics),
		e.Error,
		e.ExecutedAt,
	).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("failed to record policy execution: %w", err)
	}

	r.logger.Debug("policy execution recorded",
		zap.String("rule", e.RuleName),
		zap.Bool("success", e.Success))
	return nil
}

// ListByRule returns the most recent executions of a rule
func (r *PolicyExecutionRepository) ListByRule(ctx context.Context, ruleName string, limit int) ([]*models.PolicyExecution, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, rule_name, action, success, improvement, baseline_metrics, new_metrics, error, executed_at
		FROM policy_executions
		WHERE rule_name = $1
		ORDER BY executed_at DESC
		LIMIT $2
	`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, ruleName, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list policy executions: %w", err)
	}
	defer rows.Close()

	var execs []*models.PolicyExecution
	for rows.Next() {
		e := &models.PolicyExecution{}
		var baseline, current []byte
		var errMsg sql.NullString
		if err := rows.Scan(&e.ID, &e.RuleName, &e.Action, &e.Success, &e.Improvement, &baseline, &current, &errMsg, &e.ExecutedAt); err != nil {
			return nil, fmt.Errorf("failed to scan policy execution: %w", err)
		}
		e.BaselineMetrics = baseline
		e.NewMetrics = current
		e.Error = errMsg.String
		execs = append(execs, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating policy executions: %w", err)
	}

	return execs, nil
}

// Stats aggregates the execution history of a rule
func (r *PolicyExecutionRepository) Stats(ctx context.Context, ruleName string) (*models.PolicyRuleStats, error) {
	query := `
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN success THEN 1 ELSE 0 END), 0),
			COALESCE(AVG(improvement), 0),
			MAX(executed_at)
		FROM policy_executions
		WHERE rule_name = $1
	`

	executor := GetExecutor(ctx, r.db)
	stats := &models.PolicyRuleStats{RuleName: ruleName}
	var last sql.NullTime
	if err := executor.QueryRowContext(ctx, query, ruleName).Scan(
		&stats.Executions,
		&stats.Successes,
		&stats.AvgImprovement,
		&last,
	); err != nil {
		return nil, fmt.Errorf("failed to get policy rule stats: %w", err)
	}
	if last.Valid {
		stats.LastExecutedAt = &last.Time
	}

	return stats, nil
}

func nullableJSON(raw []byte) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return raw
}
