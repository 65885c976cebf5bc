package governance

import (
	"github.com/avaprime/spooky-logic/internal/crdt"
	"github.com/avaprime/spooky-logic/models"
)

// State is the replicated governance board: proposals keyed by id and votes
// keyed by "proposal_id:voter", both last-writer-wins.
type State struct {
	Proposals *crdt.LWWMap[models.Proposal]
	Votes     *crdt.LWWMap[models.Vote]
}

// Snapshot is the wire form of State exchanged between replicas
type Snapshot struct {
	Proposals map[string]crdt.Entry[models.Proposal] `json:"proposals"`
	Votes     map[string]crdt.Entry[models.Vote]     `json:"votes"`
}

// NewState creates an empty board
func NewState() *State {
	return &State{
		Proposals: crdt.NewLWWMap[models.Proposal](),
		Votes:     crdt.NewLWWMap[models.Vote](),
	}
}

// ApplyProposal writes p at its own timestamp (now when zero)
func (s *State) ApplyProposal(p models.Proposal) {
	s.Proposals.Put(p.ID, p, p.TS)
}

// ApplyVote writes v at its own timestamp (now when zero)
func (s *State) ApplyVote(v models.Vote) {
	s.Votes.Put(v.Key(), v, v.TS)
}

// Snapshot copies the current registers
func (s *State) Snapshot() Snapshot {
	return Snapshot{
		Proposals: s.Proposals.Entries(),
		Votes:     s.Votes.Entries(),
	}
}

// Merge folds a peer snapshot in and reports how many registers changed.
// Registers without a timestamp take the value's own ts, then the current time.
func (s *State) Merge(snap Snapshot) int {
	now := crdt.Now()

	proposals := make(map[string]crdt.Entry[models.Proposal], len(snap.Proposals))
	for k, e := range snap.Proposals {
		if e.TS == 0 {
			e.TS = e.Value.TS
		}
		if e.TS == 0 {
			e.TS = now
		}
		e.Value.TS = e.TS
		proposals[k] = e
	}

	votes := make(map[string]crdt.Entry[models.Vote], len(snap.Votes))
	for k, e := range snap.Votes {
		if e.TS == 0 {
			e.TS = e.Value.TS
		}
		if e.TS == 0 {
			e.TS = now
		}
		e.Value.TS = e.TS
		votes[k] = e
	}

	return s.Proposals.MergeEntries(proposals) + s.Votes.MergeEntries(votes)
}

// VotesFor returns the votes cast on a proposal
func (s *State) VotesFor(proposalID string) []models.Vote {
	var votes []models.Vote
	for _, key := range s.Votes.Keys() {
		v, _ := s.Votes.Get(key)
		if v.ProposalID == proposalID {
			votes = append(votes, v)
		}
	}
	return votes
}
