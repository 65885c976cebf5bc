package governance

import (
	"testing"

	"github.com/avaprime/spooky-logic/internal/crdt"
	"github.com/avaprime/spooky-logic/models"
	"github.com/stretchr/testify/assert"
)

func TestState_Merge(t *testing.T) {
	t.Run("newer register wins", func(t *testing.T) {
		s := NewState()
		s.ApplyProposal(models.Proposal{ID: "p1", Status: models.ProposalStatusActive, TS: 10})

		n := s.Merge(Snapshot{Proposals: map[string]crdt.Entry[models.Proposal]{
			"p1": {Value: models.Proposal{ID: "p1", Status: models.ProposalStatusApproved}, TS: 11},
		}})

		assert.Equal(t, 1, n)
		p, _ := s.Proposals.Get("p1")
		assert.Equal(t, models.ProposalStatusApproved, p.Status)
		assert.Equal(t, 11.0, p.TS)
	})

	t.Run("tie keeps local", func(t *testing.T) {
		s := NewState()
		s.ApplyProposal(models.Proposal{ID: "p1", Status: models.ProposalStatusActive, TS: 10})

		n := s.Merge(Snapshot{Proposals: map[string]crdt.Entry[models.Proposal]{
			"p1": {Value: models.Proposal{ID: "p1", Status: models.ProposalStatusRejected}, TS: 10},
		}})

		assert.Equal(t, 0, n)
		p, _ := s.Proposals.Get("p1")
		assert.Equal(t, models.ProposalStatusActive, p.Status)
	})

	t.Run("missing timestamp uses value ts", func(t *testing.T) {
		s := NewState()
		s.Merge(Snapshot{Votes: map[string]crdt.Entry[models.Vote]{
			"p1:alice": {Value: models.Vote{ProposalID: "p1", Voter: "alice", TS: 5}},
		}})

		e, ok := s.Votes.GetEntry("p1:alice")
		assert.True(t, ok)
		assert.Equal(t, 5.0, e.TS)
	})
}

func TestState_VotesFor(t *testing.T) {
	s := NewState()
	s.ApplyVote(models.Vote{ProposalID: "p1", Voter: "a", TS: 1})
	s.ApplyVote(models.Vote{ProposalID: "p1", Voter: "b", TS: 1})
	s.ApplyVote(models.Vote{ProposalID: "p2", Voter: "a", TS: 1})

	assert.Len(t, s.VotesFor("p1"), 2)
	assert.Len(t, s.VotesFor("p3"), 0)
}
