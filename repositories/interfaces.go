package repositories

import (
	"context"
	"errors"

	"github.com/avaprime/spooky-logic/models"
)

// ErrNotFound is wrapped by repository errors for missing rows
var ErrNotFound = errors.New("record not found")

// TransactionManager manages database transactions
type TransactionManager interface {
	// Begin starts a new transaction
	Begin(ctx context.Context) (Transaction, error)

	// InTransaction executes a function within a transaction
	// Automatically commits if function succeeds, rolls back on error
	InTransaction(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error
}

// Transaction represents a database transaction
type Transaction interface {
	// Commit commits the transaction
	Commit() error

	// Rollback rolls back the transaction
	Rollback() error

	// Context returns the transaction context
	Context() context.Context
}

// GovernanceRepository persists replicated governance state.
// Upserts only replace a stored row when the incoming timestamp is newer.
type GovernanceRepository interface {
	// InitSchema creates the governance tables if they do not exist
	InitSchema(ctx context.Context) error

	// UpsertProposal writes a proposal unless a newer version is stored
	UpsertProposal(ctx context.Context, proposal *models.Proposal) error

	// UpsertVote writes a vote unless a newer version is stored
	UpsertVote(ctx context.Context, vote *models.Vote) error

	// ListProposals returns every stored proposal
	ListProposals(ctx context.Context) ([]*models.Proposal, error)

	// ListVotes returns every stored vote
	ListVotes(ctx context.Context) ([]*models.Vote, error)
}

// ExperimentRepository persists experiment definitions and samples
type ExperimentRepository interface {
	// CreateExperiment registers an experiment, replacing its arms on conflict
	CreateExperiment(ctx context.Context, exp *models.Experiment) error

	// GetExperiment retrieves an experiment by name
	GetExperiment(ctx context.Context, name string) (*models.Experiment, error)

	// RecordSample appends a sample
	RecordSample(ctx context.Context, sample *models.ExperimentSample) error

	// ListSamples returns all samples of an experiment, oldest first
	ListSamples(ctx context.Context, experiment string) ([]*models.ExperimentSample, error)
}

// PolicyExecutionRepository persists adaptive policy execution history
type PolicyExecutionRepository interface {
	// Record stores an execution outcome
	Record(ctx context.Context, exec *models.PolicyExecution) error

	// ListByRule returns the most recent executions of a rule, newest first
	ListByRule(ctx context.Context, ruleName string, limit int) ([]*models.PolicyExecution, error)

	// Stats aggregates the execution history of a rule
	Stats(ctx context.Context, ruleName string) (*models.PolicyRuleStats, error)
}

// Repositories groups the SQL-backed stores built by a factory
type Repositories struct {
	Governance       GovernanceRepository
	Experiments      ExperimentRepository
	PolicyExecutions PolicyExecutionRepository
}
