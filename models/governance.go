package models

import (
	"encoding/json"
	"time"
)

// ProposalStatus is the lifecycle state of a governance proposal
type ProposalStatus string

const (
	ProposalStatusActive   ProposalStatus = "active"
	ProposalStatusApproved ProposalStatus = "approved"
	ProposalStatusRejected ProposalStatus = "rejected"
	ProposalStatusExecuted ProposalStatus = "executed"
	ProposalStatusExpired  ProposalStatus = "expired"
)

// ProposalAction is the change a proposal asks for on a capability
type ProposalAction string

const (
	ProposalActionCreate    ProposalAction = "create"
	ProposalActionUpdate    ProposalAction = "update"
	ProposalActionDelete    ProposalAction = "delete"
	ProposalActionSuspend   ProposalAction = "suspend"
	ProposalActionActivate  ProposalAction = "activate"
	ProposalActionConfigure ProposalAction = "configure"
)

// Proposal is a governance change request voted on by the board
type Proposal struct {
	ID                string                 `json:"id" db:"id"`
	Tenant            string                 `json:"tenant" db:"tenant"`
	CapabilityID      string                 `json:"capability_id" db:"capability_id"`
	Action            ProposalAction         `json:"action" db:"action"`
	Title             string                 `json:"title,omitempty" db:"title"`
	Rationale         string                 `json:"rationale" db:"rationale"`
	Parameters        map[string]interface{} `json:"parameters,omitempty" db:"parameters"`
	Proposer          string                 `json:"proposer,omitempty" db:"proposer"`
	RequiredApprovals int                    `json:"required_approvals" db:"required_approvals"`
	Status            ProposalStatus         `json:"status" db:"status"`
	VotesFor          int                    `json:"votes_for" db:"votes_for"`
	VotesAgainst      int                    `json:"votes_against" db:"votes_against"`
	TotalWeight       float64                `json:"total_weight" db:"total_weight"`
	ExpiresAt         *time.Time             `json:"expires_at,omitempty" db:"expires_at"`
	CreatedAt         time.Time              `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time              `json:"updated_at" db:"updated_at"`
	ExecutedAt        *time.Time             `json:"executed_at,omitempty" db:"executed_at"`
	TS                float64                `json:"ts" db:"crdt_ts"`
}

// TableName returns the table name for the Proposal model
func (Proposal) TableName() string {
	return "governance_proposals"
}

// IsExpired reports whether the proposal deadline has passed
func (p *Proposal) IsExpired(now time.Time) bool {
	return p.ExpiresAt != nil && now.After(*p.ExpiresAt)
}

// IsFinal reports whether no further votes are accepted
func (p *Proposal) IsFinal() bool {
	return p.Status != ProposalStatusActive
}

// ParametersJSON returns the parameters encoded for storage
func (p *Proposal) ParametersJSON() ([]byte, error) {
	if p.Parameters == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(p.Parameters)
}

// Vote is one board member's ballot on a proposal
type Vote struct {
	ProposalID string    `json:"proposal_id" db:"proposal_id"`
	Voter      string    `json:"voter" db:"voter"`
	Approve    bool      `json:"approve" db:"approve"`
	Weight     float64   `json:"weight" db:"weight"`
	Comment    string    `json:"comment,omitempty" db:"comment"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	TS         float64   `json:"ts" db:"crdt_ts"`
}

// TableName returns the table name for the Vote model
func (Vote) TableName() string {
	return "governance_votes"
}

// Key is the replicated-state key of the vote
func (v *Vote) Key() string {
	return v.ProposalID + ":" + v.Voter
}

// ProposalFilter narrows proposal listings
type ProposalFilter struct {
	Tenant       string
	Status       ProposalStatus
	CapabilityID string
	Action       ProposalAction
	Voter        string
	Page         int
	Size         int
}
