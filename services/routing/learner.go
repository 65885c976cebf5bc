package routing

import (
	"github.com/avaprime/spooky-logic/services/supplychain"
	"go.uber.org/zap"
)

const (
	DefaultLearnerAlpha = 0.1
	DefaultTrustAlpha   = 0.2

	newCandidateWeight = 0.1
)

var tierModifiers = map[string]float64{"A": 1.1, "B": 1.0, "C": 0.8, "D": 0.5}

// Learner shifts weight toward candidates that win comparisons
type Learner struct {
	store  *WeightStore
	logger *zap.Logger
}

// NewLearner creates a Learner over store
func NewLearner(store *WeightStore, logger *zap.Logger) *Learner {
	return &Learner{store: store, logger: logger}
}

// Update multiplies the winner by (1+alpha) and every other candidate by
// (1-alpha/2), then normalizes. Roles without weights are left alone.
func (l *Learner) Update(role, winner string, alpha float64) (Weights, error) {
	if alpha <= 0 {
		alpha = DefaultLearnerAlpha
	}

	w, err := l.store.Update(role, func(w Weights) (Weights, bool) {
		if len(w) == 0 {
			return w, false
		}
		for k, v := range w {
			if k == winner {
				w[k] = v * (1 + alpha)
			} else {
				w[k] = v * (1 - alpha/2)
			}
		}
		return normalize(w), true
	})
	if err != nil {
		return nil, err
	}
	if len(w) == 0 {
		return w, nil
	}
	l.logger.Debug("router weights updated", zap.String("role", role), zap.String("winner", winner))
	return w, nil
}

// TrustAwareRouter adjusts candidate weights by supply chain trust tier
type TrustAwareRouter struct {
	store  *WeightStore
	logger *zap.Logger
}

// NewTrustAwareRouter creates a TrustAwareRouter over store
func NewTrustAwareRouter(store *WeightStore, logger *zap.Logger) *TrustAwareRouter {
	return &TrustAwareRouter{store: store, logger: logger}
}

// ApplyTrust scales the candidate by (1-alpha) + alpha*modifier, where the
// modifier comes from the tier of trustScore. Unknown candidates start at 0.1.
func (t *TrustAwareRouter) ApplyTrust(role, candidate string, trustScore, alpha float64) (Weights, error) {
	if alpha <= 0 {
		alpha = DefaultTrustAlpha
	}

	tier := supplychain.Tier(trustScore)
	modifier := tierModifiers[tier]

	w, err := t.store.Update(role, func(w Weights) (Weights, bool) {
		if _, ok := w[candidate]; !ok {
			w[candidate] = newCandidateWeight
		}
		w[candidate] *= (1 - alpha) + alpha*modifier
		return normalize(w), true
	})
	if err != nil {
		return nil, err
	}
	t.logger.Info("trust modifier applied",
		zap.String("role", role),
		zap.String("candidate", candidate),
		zap.String("tier", tier))
	return w, nil
}
