package governance

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/avaprime/spooky-logic/internal/observability"
	"github.com/avaprime/spooky-logic/models"
	"github.com/avaprime/spooky-logic/repositories"
	"github.com/avaprime/spooky-logic/services"
	"github.com/avaprime/spooky-logic/services/eventbus"
	"go.uber.org/zap"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// ProposeRequest submits a proposal to the board
type ProposeRequest struct {
	ID                string                 `json:"id,omitempty" validate:"omitempty,identifier"`
	Tenant            string                 `json:"tenant" validate:"required"`
	CapabilityID      string                 `json:"capability_id" validate:"required"`
	Action            models.ProposalAction  `json:"action" validate:"required,oneof=create update delete suspend activate configure"`
	Title             string                 `json:"title,omitempty" validate:"max=200"`
	Rationale         string                 `json:"rationale" validate:"required,max=2000"`
	Parameters        map[string]interface{} `json:"parameters,omitempty"`
	Proposer          string                 `json:"proposer,omitempty"`
	RequiredApprovals int                    `json:"required_approvals,omitempty" validate:"omitempty,gte=1,lte=100"`
	ExpiresAt         *time.Time             `json:"expires_at,omitempty"`
}

// VoteRequest casts a ballot
type VoteRequest struct {
	ProposalID string  `json:"proposal_id" validate:"required"`
	Voter      string  `json:"voter" validate:"required"`
	Approve    bool    `json:"approve"`
	Weight     float64 `json:"weight,omitempty" validate:"omitempty,gt=0,lte=10"`
	Comment    string  `json:"comment,omitempty" validate:"max=1000"`
}

// Tally is the running vote count of a proposal
type Tally struct {
	VotesFor     int     `json:"votes_for"`
	VotesAgainst int     `json:"votes_against"`
	TotalWeight  float64 `json:"total_weight"`
}

// VoteResult is returned after a vote is recorded
type VoteResult struct {
	Vote     models.Vote     `json:"vote"`
	Proposal models.Proposal `json:"proposal"`
	Tally    Tally           `json:"current_tally"`
}

// Board lists every proposal with totals
type Board struct {
	Proposals          []models.Proposal `json:"proposals"`
	TotalProposals     int               `json:"total_proposals"`
	ActiveProposals    int               `json:"active_proposals"`
	CompletedProposals int               `json:"completed_proposals"`
}

// ProposalDetails is a proposal with its ballots
type ProposalDetails struct {
	models.Proposal
	Votes             []models.Vote `json:"votes"`
	VoteCount         int           `json:"vote_count"`
	ParticipationRate float64       `json:"participation_rate"`
}

// ProposalPage is one page of a filtered listing
type ProposalPage struct {
	Proposals []models.Proposal `json:"proposals"`
	Total     int               `json:"total"`
	Page      int               `json:"page"`
	Size      int               `json:"size"`
}

// ExecuteResult reports an executed (or dry-run) proposal
type ExecuteResult struct {
	Proposal   models.Proposal `json:"proposal"`
	ExecutedBy string          `json:"executed_by"`
	DryRun     bool            `json:"dry_run"`
}

// Service manages the governance board on top of the replicated State.
// repo and txMgr are optional; without them the board lives in memory.
type Service struct {
	mu        sync.Mutex
	state     *State
	repo      repositories.GovernanceRepository
	txMgr     repositories.TransactionManager
	publisher eventbus.Publisher
	metrics   *observability.Metrics
	nodeID    string
	now       func() time.Time
	logger    *zap.Logger
}

// NewService creates a new governance Service
func NewService(
	repo repositories.GovernanceRepository,
	txMgr repositories.TransactionManager,
	publisher eventbus.Publisher,
	metrics *observability.Metrics,
	nodeID string,
	logger *zap.Logger,
) *Service {
	return &Service{
		state:     NewState(),
		repo:      repo,
		txMgr:     txMgr,
		publisher: publisher,
		metrics:   metrics,
		nodeID:    nodeID,
		now:       time.Now,
		logger:    logger,
	}
}

// Load replays persisted proposals and votes into the in-memory state
func (s *Service) Load(ctx context.Context) error {
	if s.repo == nil {
		return nil
	}

	proposals, err := s.repo.ListProposals(ctx)
	if err != nil {
		return fmt.Errorf("failed to load proposals: %w", err)
	}
	votes, err := s.repo.ListVotes(ctx)
	if err != nil {
		return fmt.Errorf("failed to load votes: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range proposals {
		s.state.ApplyProposal(*p)
	}
	for _, v := range votes {
		s.state.ApplyVote(*v)
	}

	s.logger.Info("governance state loaded",
		zap.Int("proposals", len(proposals)),
		zap.Int("votes", len(votes)))
	return nil
}

// Propose adds a new active proposal
func (s *Service) Propose(ctx context.Context, req ProposeRequest) (*models.Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := req.ID
	if id == "" {
		id = s.nextProposalID()
	} else if _, exists := s.state.Proposals.Get(id); exists {
		return nil, services.NewDomainError(services.ErrorTypeConflict, "proposal already exists", nil).WithDetail("id", id)
	}

	required := req.RequiredApprovals
	if required <= 0 {
		required = 1
	}

	now := s.now().UTC()
	p := models.Proposal{
		ID:                id,
		Tenant:            req.Tenant,
		CapabilityID:      req.CapabilityID,
		Action:            req.Action,
		Title:             req.Title,
		Rationale:         req.Rationale,
		Parameters:        req.Parameters,
		Proposer:          req.Proposer,
		RequiredApprovals: required,
		Status:            models.ProposalStatusActive,
		ExpiresAt:         req.ExpiresAt,
		CreatedAt:         now,
		UpdatedAt:         now,
		TS:                s.nextTS(0),
	}

	if err := s.persist(ctx, &p, nil); err != nil {
		return nil, err
	}
	s.state.ApplyProposal(p)

	s.logger.Info("proposal submitted",
		zap.String("proposal_id", p.ID),
		zap.String("tenant", p.Tenant),
		zap.String("capability_id", p.CapabilityID),
		zap.String("action", string(p.Action)))
	return &p, nil
}

// Vote records a ballot and re-tallies the proposal
func (s *Service) Vote(ctx context.Context, req VoteRequest) (*VoteResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.state.Proposals.GetEntry(req.ProposalID)
	if !ok {
		return nil, services.NewNotFound("proposal not found", req.ProposalID)
	}
	p := entry.Value
	now := s.now().UTC()

	if p.Status == models.ProposalStatusActive && p.IsExpired(now) {
		p.Status = models.ProposalStatusExpired
		p.UpdatedAt = now
		p.TS = s.nextTS(entry.TS)
		if err := s.persist(ctx, &p, nil); err != nil {
			return nil, err
		}
		s.state.ApplyProposal(p)
	}
	if p.Status != models.ProposalStatusActive {
		return nil, services.NewDomainError(services.ErrorTypeValidation, "proposal is not active", nil).
			WithDetail("status", string(p.Status))
	}

	vote := models.Vote{
		ProposalID: req.ProposalID,
		Voter:      req.Voter,
		Approve:    req.Approve,
		Weight:     req.Weight,
		Comment:    req.Comment,
		CreatedAt:  now,
	}
	if vote.Weight == 0 {
		vote.Weight = 1.0
	}
	if _, exists := s.state.Votes.Get(vote.Key()); exists {
		return nil, services.ErrDuplicateVote
	}
	vote.TS = s.nextTS(0)

	tally := tallyOf(append(s.state.VotesFor(p.ID), vote))
	p.VotesFor = tally.VotesFor
	p.VotesAgainst = tally.VotesAgainst
	p.TotalWeight = tally.TotalWeight
	switch {
	case tally.VotesFor >= p.RequiredApprovals:
		p.Status = models.ProposalStatusApproved
	case tally.VotesAgainst >= p.RequiredApprovals:
		p.Status = models.ProposalStatusRejected
	}
	p.UpdatedAt = now
	p.TS = s.nextTS(entry.TS)

	if err := s.persist(ctx, &p, &vote); err != nil {
		return nil, err
	}
	s.state.ApplyVote(vote)
	s.state.ApplyProposal(p)

	s.logger.Info("vote recorded",
		zap.String("proposal_id", p.ID),
		zap.String("voter", vote.Voter),
		zap.Bool("approve", vote.Approve),
		zap.String("status", string(p.Status)))

	return &VoteResult{Vote: vote, Proposal: p, Tally: tally}, nil
}

// Board returns all proposals, oldest first, with totals
func (s *Service) Board(ctx context.Context) *Board {
	proposals := s.sortedProposals()

	board := &Board{Proposals: proposals, TotalProposals: len(proposals)}
	for _, p := range proposals {
		switch p.Status {
		case models.ProposalStatusActive:
			board.ActiveProposals++
		case models.ProposalStatusApproved, models.ProposalStatusRejected:
			board.CompletedProposals++
		}
	}
	return board
}

// GetProposal returns a proposal with its votes and participation rate
func (s *Service) GetProposal(ctx context.Context, id string) (*ProposalDetails, error) {
	p, ok := s.state.Proposals.Get(id)
	if !ok {
		return nil, services.NewNotFound("proposal not found", id)
	}

	votes := s.state.VotesFor(id)
	total := s.state.Proposals.Len()
	rate := math.Min(100, float64(len(votes))/math.Max(1, float64(total))*100)

	return &ProposalDetails{
		Proposal:          p,
		Votes:             votes,
		VoteCount:         len(votes),
		ParticipationRate: rate,
	}, nil
}

// ListProposals filters and paginates proposals
func (s *Service) ListProposals(ctx context.Context, filter models.ProposalFilter) *ProposalPage {
	var voted map[string]bool
	if filter.Voter != "" {
		voted = make(map[string]bool)
		for _, v := range s.state.Votes.ToMap() {
			if v.Voter == filter.Voter {
				voted[v.ProposalID] = true
			}
		}
	}

	var matched []models.Proposal
	for _, p := range s.sortedProposals() {
		if filter.Tenant != "" && p.Tenant != filter.Tenant {
			continue
		}
		if filter.Status != "" && p.Status != filter.Status {
			continue
		}
		if filter.CapabilityID != "" && p.CapabilityID != filter.CapabilityID {
			continue
		}
		if filter.Action != "" && p.Action != filter.Action {
			continue
		}
		if voted != nil && !voted[p.ID] {
			continue
		}
		matched = append(matched, p)
	}

	page, size := filter.Page, filter.Size
	if page < 1 {
		page = 1
	}
	if size <= 0 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}

	start := (page - 1) * size
	end := start + size
	if start > len(matched) {
		start = len(matched)
	}
	if end > len(matched) {
		end = len(matched)
	}

	return &ProposalPage{
		Proposals: matched[start:end],
		Total:     len(matched),
		Page:      page,
		Size:      size,
	}
}

// Execute marks an approved proposal executed. A dry run only validates.
func (s *Service) Execute(ctx context.Context, id, executor string, dryRun bool) (*ExecuteResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.state.Proposals.GetEntry(id)
	if !ok {
		return nil, services.NewNotFound("proposal not found", id)
	}
	p := entry.Value
	if p.Status != models.ProposalStatusApproved {
		return nil, services.NewDomainError(services.ErrorTypeValidation, "proposal is not approved", nil).
			WithDetail("status", string(p.Status))
	}

	result := &ExecuteResult{Proposal: p, ExecutedBy: executor, DryRun: dryRun}
	if dryRun {
		return result, nil
	}

	now := s.now().UTC()
	p.Status = models.ProposalStatusExecuted
	p.ExecutedAt = &now
	p.UpdatedAt = now
	p.TS = s.nextTS(entry.TS)

	if err := s.persist(ctx, &p, nil); err != nil {
		return nil, err
	}
	s.state.ApplyProposal(p)
	result.Proposal = p

	s.logger.Info("proposal executed",
		zap.String("proposal_id", p.ID),
		zap.String("executor", executor),
		zap.String("action", string(p.Action)))

	if s.publisher != nil {
		event := eventbus.NewEvent(eventbus.EventGovernanceExecuted, s.nodeID, map[string]interface{}{
			"proposal_id":   p.ID,
			"tenant":        p.Tenant,
			"capability_id": p.CapabilityID,
			"action":        string(p.Action),
			"parameters":    p.Parameters,
			"executed_by":   executor,
		})
		if err := s.publisher.Publish(ctx, event); err != nil {
			s.logger.Warn("failed to publish governance event", zap.String("proposal_id", p.ID), zap.Error(err))
		}
	}
	return result, nil
}

// Snapshot returns the replicated state
func (s *Service) Snapshot() Snapshot {
	return s.state.Snapshot()
}

// Merge folds a peer snapshot in, persists it and returns the merged state.
// Storage applies the same last-writer-wins guard, so writing every inbound
// register is safe.
func (s *Service) Merge(ctx context.Context, snap Snapshot) (Snapshot, int, error) {
	s.mu.Lock()
	changed := s.state.Merge(snap)
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.AddGovernanceMerged(changed)
	}

	if s.repo != nil && changed > 0 {
		err := s.inTx(ctx, func(ctx context.Context) error {
			for key := range snap.Proposals {
				p, _ := s.state.Proposals.Get(key)
				if err := s.repo.UpsertProposal(ctx, &p); err != nil {
					return err
				}
			}
			for key := range snap.Votes {
				v, _ := s.state.Votes.Get(key)
				if err := s.repo.UpsertVote(ctx, &v); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return Snapshot{}, changed, services.WrapInternal("failed to persist merged governance state", err)
		}
	}

	if changed > 0 {
		s.logger.Info("governance state merged", zap.Int("changed", changed))
	}
	return s.state.Snapshot(), changed, nil
}

func (s *Service) persist(ctx context.Context, p *models.Proposal, v *models.Vote) error {
	if s.repo == nil {
		return nil
	}
	err := s.inTx(ctx, func(ctx context.Context) error {
		if v != nil {
			if err := s.repo.UpsertVote(ctx, v); err != nil {
				return err
			}
		}
		return s.repo.UpsertProposal(ctx, p)
	})
	if err != nil {
		return services.WrapInternal("failed to persist governance state", err)
	}
	return nil
}

func (s *Service) inTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.txMgr == nil {
		return fn(ctx)
	}
	return services.WithTransaction(ctx, s.txMgr, func(ctx context.Context, _ repositories.Transaction) error {
		return fn(ctx)
	})
}

// nextProposalID must be called with s.mu held
func (s *Service) nextProposalID() string {
	n := s.state.Proposals.Len() + 1
	for {
		id := fmt.Sprintf("prop-%d", n)
		if _, exists := s.state.Proposals.Get(id); !exists {
			return id
		}
		n++
	}
}

// nextTS returns the current time in epoch seconds, strictly after prev
func (s *Service) nextTS(prev float64) float64 {
	ts := float64(s.now().UnixNano()) / float64(time.Second)
	if ts <= prev {
		ts = prev + 1e-6
	}
	return ts
}

func (s *Service) sortedProposals() []models.Proposal {
	m := s.state.Proposals.ToMap()
	proposals := make([]models.Proposal, 0, len(m))
	for _, p := range m {
		proposals = append(proposals, p)
	}
	sort.Slice(proposals, func(i, j int) bool {
		if proposals[i].CreatedAt.Equal(proposals[j].CreatedAt) {
			return proposals[i].ID < proposals[j].ID
		}
		return proposals[i].CreatedAt.Before(proposals[j].CreatedAt)
	})
	return proposals
}

func tallyOf(votes []models.Vote) Tally {
	var t Tally
	for _, v := range votes {
		if v.Approve {
			t.VotesFor++
		} else {
			t.VotesAgainst++
		}
		t.TotalWeight += v.Weight
	}
	return t
}
