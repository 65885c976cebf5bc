package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/avaprime/spooky-logic/models"
	"github.com/avaprime/spooky-logic/repositories"
	"go.uber.org/zap"
)

// GovernanceRepository implements the repositories.GovernanceRepository interface
type GovernanceRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewGovernanceRepository creates a new governance repository
func NewGovernanceRepository(db *DB, logger *zap.Logger) repositories.GovernanceRepository {
	return &GovernanceRepository{
		db:     db,
		logger: logger,
	}
}

// InitSchema creates the governance tables
func (r *GovernanceRepository) InitSchema(ctx context.Context) error {
	return r.db.InitSchema(ctx)
}

// UpsertProposal inserts a proposal or replaces a strictly older stored version
func (r *GovernanceRepository) UpsertProposal(ctx context.Context, p *models.Proposal) error {
	query := `
		INSERT INTO governance_proposals (
			id, tenant, capability_id, action, title, rationale, parameters, proposer,
			required_approvals, status, votes_for, votes_against, total_weight,
			expires_at, created_at, updated_at, executed_at, crdt_ts
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			votes_for = EXCLUDED.votes_for,
			votes_against = EXCLUDED.votes_against,
			total_weight = EXCLUDED.total_weight,
			parameters = EXCLUDED.parameters,
			updated_at = EXCLUDED.updated_at,
			executed_at = EXCLUDED.executed_at,
			crdt_ts = EXCLUDED.crdt_ts
		WHERE governance_proposals.crdt_ts < EXCLUDED.crdt_ts
	`

	params, err := p.ParametersJSON()
	if err != nil {
		return fmt.Errorf("failed to encode proposal parameters: %w", err)
	}

	executor := GetExecutor(ctx, r.db)
	_, err = executor.ExecContext(ctx, query,
		p.ID,
		p.Tenant,
		p.CapabilityID,
		p.Action,
		p.Title,
		p.Rationale,
		params,
		p.Proposer,
		p.RequiredApprovals,
		p.Status,
		p.VotesFor,
		p.VotesAgainst,
		p.TotalWeight,
		p.ExpiresAt,
		p.CreatedAt,
		p.UpdatedAt,
		p.ExecutedAt,
		p.TS,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert proposal: %w", err)
	}

	r.logger.Debug("proposal persisted", zap.String("id", p.ID), zap.Float64("ts", p.TS))
	return nil
}

// UpsertVote inserts a vote or replaces a strictly older stored version
func (r *GovernanceRepository) UpsertVote(ctx context.Context, v *models.Vote) error {
	query := `
		INSERT INTO governance_votes (proposal_id, voter, approve, weight, comment, created_at, crdt_ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (proposal_id, voter) DO UPDATE SET
			approve = EXCLUDED.approve,
			weight = EXCLUDED.weight,
			comment = EXCLUDED.comment,
			crdt_ts = EXCLUDED.crdt_ts
		WHERE governance_votes.crdt_ts < EXCLUDED.crdt_ts
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		v.ProposalID,
		v.Voter,
		v.Approve,
		v.Weight,
		v.Comment,
		v.CreatedAt,
		v.TS,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert vote: %w", err)
	}

	return nil
}

// ListProposals returns every stored proposal ordered by creation time
func (r *GovernanceRepository) ListProposals(ctx context.Context) ([]*models.Proposal, error) {
	query := `
		SELECT id, tenant, capability_id, action, title, rationale, parameters, proposer,
			required_approvals, status, votes_for, votes_against, total_weight,
			expires_at, created_at, updated_at, executed_at, crdt_ts
		FROM governance_proposals
		ORDER BY created_at ASC
	`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list proposals: %w", err)
	}
	defer rows.Close()

	var proposals []*models.Proposal
	for rows.Next() {
		p := &models.Proposal{}
		var params []byte
		var title, proposer sql.NullString
		var expiresAt, executedAt sql.NullTime

		if err := rows.Scan(
			&p.ID,
			&p.Tenant,
			&p.CapabilityID,
			&p.Action,
			&title,
			&p.Rationale,
			&params,
			&proposer,
			&p.RequiredApprovals,
			&p.Status,
			&p.VotesFor,
			&p.VotesAgainst,
			&p.TotalWeight,
			&expiresAt,
			&p.CreatedAt,
			&p.UpdatedAt,
			&executedAt,
			&p.TS,
		); err != nil {
			return nil, fmt.Errorf("failed to scan proposal: %w", err)
		}

		p.Title = title.String
		p.Proposer = proposer.String
		if expiresAt.Valid {
			p.ExpiresAt = &expiresAt.Time
		}
		if executedAt.Valid {
			p.ExecutedAt = &executedAt.Time
		}
		if len(params) > 0 {
			if err := json.Unmarshal(params, &p.Parameters); err != nil {
				return nil, fmt.Errorf("failed to decode proposal parameters: %w", err)
			}
		}

		proposals = append(proposals, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating proposals: %w", err)
	}

	return proposals, nil
}

// ListVotes returns every stored vote ordered by creation time
func (r *GovernanceRepository) ListVotes(ctx context.Context) ([]*models.Vote, error) {
	query := `
		SELECT proposal_id, voter, approve, weight, comment, created_at, crdt_ts
		FROM governance_votes
		ORDER BY created_at ASC
	`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list votes: %w", err)
	}
	defer rows.Close()

	var votes []*models.Vote
	for rows.Next() {
		v := &models.Vote{}
		var comment sql.NullString
		if err := rows.Scan(&v.ProposalID, &v.Voter, &v.Approve, &v.Weight, &comment, &v.CreatedAt, &v.TS); err != nil {
			return nil, fmt.Errorf("failed to scan vote: %w", err)
		}
		v.Comment = comment.String
		votes = append(votes, v)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating votes: %w", err)
	}

	return votes, nil
}
