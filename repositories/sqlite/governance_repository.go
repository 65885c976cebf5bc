// Package sqlite stores governance state in a local SQLite file for single
// node and development deployments.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/avaprime/spooky-logic/models"
	"github.com/avaprime/spooky-logic/repositories"
	"go.uber.org/zap"
	_ "modernc.org/sqlite" // SQLite driver
)

var schema = []string{`
CREATE TABLE IF NOT EXISTS governance_proposals (
	id                 TEXT PRIMARY KEY,
	tenant             TEXT NOT NULL,
	capability_id      TEXT NOT NULL,
	action             TEXT NOT NULL,
	title              TEXT NOT NULL DEFAULT '',
	rationale          TEXT NOT NULL DEFAULT '',
	parameters         TEXT NOT NULL DEFAULT '{}',
	proposer           TEXT NOT NULL DEFAULT '',
	required_approvals INTEGER NOT NULL DEFAULT 1,
	status             TEXT NOT NULL,
	votes_for          INTEGER NOT NULL DEFAULT 0,
	votes_against      INTEGER NOT NULL DEFAULT 0,
	total_weight       REAL NOT NULL DEFAULT 0,
	expires_at         TEXT,
	created_at         TEXT NOT NULL,
	updated_at         TEXT NOT NULL,
	executed_at        TEXT,
	crdt_ts            REAL NOT NULL
)`, `
CREATE TABLE IF NOT EXISTS governance_votes (
	proposal_id TEXT NOT NULL,
	voter       TEXT NOT NULL,
	approve     INTEGER NOT NULL,
	weight      REAL NOT NULL DEFAULT 1,
	comment     TEXT NOT NULL DEFAULT '',
	created_at  TEXT NOT NULL,
	crdt_ts     REAL NOT NULL,
	PRIMARY KEY (proposal_id, voter)
)`,
}

// GovernanceRepository implements repositories.GovernanceRepository on SQLite
type GovernanceRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open opens (creating if needed) the database at path. ":memory:" is accepted.
func Open(path string, logger *zap.Logger) (*GovernanceRepository, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// SQLite serializes writers; one connection also keeps :memory: databases shared
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure sqlite: %w", err)
	}

	logger.Info("governance sqlite store opened", zap.String("path", path))
	return &GovernanceRepository{db: db, logger: logger}, nil
}

// PathFromURL extracts the file path from a sqlite:///path URL
func PathFromURL(url string) string {
	path := strings.TrimPrefix(url, "sqlite://")
	if strings.HasPrefix(path, "//") {
		path = path[1:]
	}
	if path == "" || path == "/" {
		return ":memory:"
	}
	return path
}

// Close closes the database
func (r *GovernanceRepository) Close() error {
	return r.db.Close()
}

// Ping verifies the database is reachable
func (r *GovernanceRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// InitSchema creates the governance tables
func (r *GovernanceRepository) InitSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create governance schema: %w", err)
		}
	}
	return nil
}

// UpsertProposal inserts a proposal or replaces a strictly older stored version
func (r *GovernanceRepository) UpsertProposal(ctx context.Context, p *models.Proposal) error {
	query := `
		INSERT INTO governance_proposals (
			id, tenant, capability_id, action, title, rationale, parameters, proposer,
			required_approvals, status, votes_for, votes_against, total_weight,
			expires_at, created_at, updated_at, executed_at, crdt_ts
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			status = excluded.status,
			votes_for = excluded.votes_for,
			votes_against = excluded.votes_against,
			total_weight = excluded.total_weight,
			parameters = excluded.parameters,
			updated_at = excluded.updated_at,
			executed_at = excluded.executed_at,
			crdt_ts = excluded.crdt_ts
		WHERE governance_proposals.crdt_ts < excluded.crdt_ts
	`

	params, err := p.ParametersJSON()
	if err != nil {
		return fmt.Errorf("failed to encode proposal parameters: %w", err)
	}

	_, err = r.db.ExecContext(ctx, query,
		p.ID,
		p.Tenant,
		p.CapabilityID,
		string(p.Action),
		p.Title,
		p.Rationale,
		string(params),
		p.Proposer,
		p.RequiredApprovals,
		string(p.Status),
		p.VotesFor,
		p.VotesAgainst,
		p.TotalWeight,
		formatTimePtr(p.ExpiresAt),
		formatTime(p.CreatedAt),
		formatTime(p.UpdatedAt),
		formatTimePtr(p.ExecutedAt),
		p.TS,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert proposal: %w", err)
	}
	return nil
}

// UpsertVote inserts a vote or replaces a strictly older stored version
func (r *GovernanceRepository) UpsertVote(ctx context.Context, v *models.Vote) error {
	query := `
		INSERT INTO governance_votes (proposal_id, voter, approve, weight, comment, created_at, crdt_ts)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (proposal_id, voter) DO UPDATE SET
			approve = excluded.approve,
			weight = excluded.weight,
			comment = excluded.comment,
			crdt_ts = excluded.crdt_ts
		WHERE governance_votes.crdt_ts < excluded.crdt_ts
	`

	approve := 0
	if v.Approve {
		approve = 1
	}
	_, err := r.db.ExecContext(ctx, query,
		v.ProposalID, v.Voter, approve, v.Weight, v.Comment, formatTime(v.CreatedAt), v.TS)
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
		ORDER BY created_at ASC, id ASC
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list proposals: %w", err)
	}
	defer rows.Close()

	var proposals []*models.Proposal
	for rows.Next() {
		p := &models.Proposal{}
		var action, status, params, createdAt, updatedAt string
		var expiresAt, executedAt sql.NullString

		if err := rows.Scan(
			&p.ID, &p.Tenant, &p.CapabilityID, &action, &p.Title, &p.Rationale, &params, &p.Proposer,
			&p.RequiredApprovals, &status, &p.VotesFor, &p.VotesAgainst, &p.TotalWeight,
			&expiresAt, &createdAt, &updatedAt, &executedAt, &p.TS,
		); err != nil {
			return nil, fmt.Errorf("failed to scan proposal: %w", err)
		}

		p.Action = models.ProposalAction(action)
		p.Status = models.ProposalStatus(status)
		if p.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if p.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, err
		}
		if p.ExpiresAt, err = parseTimePtr(expiresAt); err != nil {
			return nil, err
		}
		if p.ExecutedAt, err = parseTimePtr(executedAt); err != nil {
			return nil, err
		}
		if params != "" && params != "{}" {
			if err := json.Unmarshal([]byte(params), &p.Parameters); err != nil {
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
		ORDER BY created_at ASC, voter ASC
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list votes: %w", err)
	}
	defer rows.Close()

	var votes []*models.Vote
	for rows.Next() {
		v := &models.Vote{}
		var approve int
		var createdAt string
		if err := rows.Scan(&v.ProposalID, &v.Voter, &approve, &v.Weight, &v.Comment, &createdAt, &v.TS); err != nil {
			return nil, fmt.Errorf("failed to scan vote: %w", err)
		}
		v.Approve = approve != 0
		if v.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		votes = append(votes, v)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating votes: %w", err)
	}
	return votes, nil
}

var _ repositories.GovernanceRepository = (*GovernanceRepository)(nil)

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", s, err)
	}
	return t, nil
}

func parseTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
