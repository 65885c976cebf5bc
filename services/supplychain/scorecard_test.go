package supplychain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScore(t *testing.T) {
	tests := []struct {
		name string
		req  ScoreRequest
		want float64
		tier string
	}{
		{"everything verified", ScoreRequest{true, true, true, true, "NONE"}, 0.9, "A"},
		{"empty severity is penalized", ScoreRequest{true, true, true, true, ""}, 0.7, "B"},
		{"padded severity is unknown", ScoreRequest{true, true, true, true, " none "}, 0.7, "B"},
		{"lowercase low", ScoreRequest{true, true, true, true, "low"}, 0.85, "A"},
		{"no rekor", ScoreRequest{true, true, true, false, "NONE"}, 0.75, "B"},
		{"medium severity", ScoreRequest{true, true, true, false, "MEDIUM"}, 0.65, "C"},
		{"critical", ScoreRequest{true, true, false, false, "CRITICAL"}, 0.15, "D"},
		{"unknown severity", ScoreRequest{true, true, true, true, "WHATEVER"}, 0.7, "B"},
		{"clamped at zero", ScoreRequest{false, false, false, false, "HIGH"}, 0, "D"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			card := Evaluate(tt.req)
			assert.InDelta(t, tt.want, card.Score, 1e-9)
			assert.Equal(t, tt.tier, card.Tier)
		})
	}
}

func TestTier(t *testing.T) {
	assert.Equal(t, "A", Tier(0.85))
	assert.Equal(t, "B", Tier(0.7))
	assert.Equal(t, "C", Tier(0.5))
	assert.Equal(t, "D", Tier(0.49))
}
