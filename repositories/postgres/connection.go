package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/avaprime/spooky-logic/config"
	"go.uber.org/zap"
)

// DB wraps the sql.DB connection pool
type DB struct {
	*sql.DB
	logger *zap.Logger
}

// NewDB creates a new database connection pool
func NewDB(cfg config.DatabaseConfig, logger *zap.Logger) (*DB, error) {
	dsn := cfg.DSN()

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("database connection established",
		zap.String("connection", cfg.LogString()))

	return &DB{
		DB:     db,
		logger: logger,
	}, nil
}

// WrapDB wraps an already opened pool, for example one created by sqlmock
func WrapDB(db *sql.DB, logger *zap.Logger) *DB {
	return &DB{DB: db, logger: logger}
}

// Close closes the database connection pool
func (db *DB) Close() error {
	db.logger.Info("closing database connection")
	return db.DB.Close()
}

// HealthCheck performs a health check on the database
func (db *DB) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}

	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("database query check failed: %w", err)
	}

	return nil
}

// InitSchema initializes the database schema
func (db *DB) InitSchema(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	db.logger.Info("database schema initialized successfully")
	return nil
}

const schema = `
	-- Governance proposals (replicated, last-writer-wins on crdt_ts)
	CREATE TABLE IF NOT EXISTS governance_proposals (
		id VARCHAR(255) PRIMARY KEY,
		tenant VARCHAR(255) NOT NULL,
		capability_id VARCHAR(255) NOT NULL,
		action VARCHAR(50) NOT NULL,
		title TEXT,
		rationale TEXT NOT NULL,
		parameters JSONB NOT NULL DEFAULT '{}',
		proposer VARCHAR(255),
		required_approvals INTEGER NOT NULL DEFAULT 1,
		status VARCHAR(50) NOT NULL,
		votes_for INTEGER NOT NULL DEFAULT 0,
		votes_against INTEGER NOT NULL DEFAULT 0,
		total_weight DOUBLE PRECISION NOT NULL DEFAULT 0,
		expires_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		executed_at TIMESTAMP,
		crdt_ts DOUBLE PRECISION NOT NULL
	);

	-- Governance votes
	CREATE TABLE IF NOT EXISTS governance_votes (
		proposal_id VARCHAR(255) NOT NULL,
		voter VARCHAR(255) NOT NULL,
		approve BOOLEAN NOT NULL,
		weight DOUBLE PRECISION NOT NULL DEFAULT 1,
		comment TEXT,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		crdt_ts DOUBLE PRECISION NOT NULL,
		PRIMARY KEY (proposal_id, voter)
	);

	-- Experiments and their samples
	CREATE TABLE IF NOT EXISTS experiments (
		name VARCHAR(255) PRIMARY KEY,
		arms TEXT[] NOT NULL,
		domain VARCHAR(100) NOT NULL DEFAULT 'general',
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS experiment_samples (
		id BIGSERIAL PRIMARY KEY,
		experiment VARCHAR(255) NOT NULL,
		arm VARCHAR(255) NOT NULL,
		score DOUBLE PRECISION NOT NULL,
		cost DOUBLE PRECISION NOT NULL,
		latency_ms DOUBLE PRECISION NOT NULL,
		domain VARCHAR(100) NOT NULL DEFAULT 'general',
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	-- Adaptive policy executions
	CREATE TABLE IF NOT EXISTS policy_executions (
		id BIGSERIAL PRIMARY KEY,
		rule_name VARCHAR(255) NOT NULL,
		action VARCHAR(100) NOT NULL,
		success BOOLEAN NOT NULL,
		improvement DOUBLE PRECISION NOT NULL,
		baseline_metrics JSONB,
		new_metrics JSONB,
		error TEXT,
		executed_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_governance_proposals_tenant ON governance_proposals(tenant);
	CREATE INDEX IF NOT EXISTS idx_governance_proposals_status ON governance_proposals(status);
	CREATE INDEX IF NOT EXISTS idx_experiment_samples_experiment ON experiment_samples(experiment, arm);
	CREATE INDEX IF NOT EXISTS idx_policy_executions_rule ON policy_executions(rule_name, executed_at);
`
