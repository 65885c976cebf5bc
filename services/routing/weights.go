package routing

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// Weights maps candidates to their routing weight
type Weights map[string]float64

type weightsFile struct {
	Roles map[string]Weights `yaml:"roles"`
}

// WeightStore keeps per-role candidate weights, optionally backed by a YAML
// file of the form roles -> role -> candidate -> weight
type WeightStore struct {
	mu    sync.RWMutex
	path  string
	roles map[string]Weights
}

// NewWeightStore loads the weights at path. A missing file starts empty;
// an empty path keeps the weights in memory only.
func NewWeightStore(path string) (*WeightStore, error) {
	s := &WeightStore{path: path, roles: make(map[string]Weights)}
	if path == "" {
		return s, nil
	}

	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read router weights: %w", err)
	}

	var file weightsFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("failed to parse router weights: %w", err)
	}
	for role, w := range file.Roles {
		s.roles[role] = w
	}
	return s, nil
}

// Get returns a copy of the weights of role
func (s *WeightStore) Get(role string) Weights {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(Weights, len(s.roles[role]))
	for k, v := range s.roles[role] {
		out[k] = v
	}
	return out
}

// All returns a copy of every role's weights
func (s *WeightStore) All() map[string]Weights {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]Weights, len(s.roles))
	for role, w := range s.roles {
		cp := make(Weights, len(w))
		for k, v := range w {
			cp[k] = v
		}
		out[role] = cp
	}
	return out
}

// Set replaces the weights of role and persists the store
func (s *WeightStore) Set(role string, w Weights) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.roles[role] = w
	return s.saveLocked()
}

// Update applies fn to a copy of role's weights and stores the result,
// holding the lock throughout so concurrent updates never interleave.
// When fn reports false nothing is stored.
func (s *WeightStore) Update(role string, fn func(Weights) (Weights, bool)) (Weights, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := make(Weights, len(s.roles[role]))
	for k, v := range s.roles[role] {
		cur[k] = v
	}
	next, ok := fn(cur)
	if !ok {
		return next, nil
	}
	s.roles[role] = next

	out := make(Weights, len(next))
	for k, v := range next {
		out[k] = v
	}
	return out, s.saveLocked()
}

func (s *WeightStore) saveLocked() error {
	if s.path == "" {
		return nil
	}
	raw, err := yaml.Marshal(weightsFile{Roles: s.roles})
	if err != nil {
		return fmt.Errorf("failed to encode router weights: %w", err)
	}
	if err := os.WriteFile(s.path, raw, 0o644); err != nil {
		return fmt.Errorf("failed to write router weights: %w", err)
	}
	return nil
}

// normalize scales w to sum to one and rounds each weight to four places
func normalize(w Weights) Weights {
	sum := 0.0
	for _, v := range w {
		sum += v
	}
	if sum == 0 {
		sum = 1
	}
	for k, v := range w {
		w[k] = math.Round(v/sum*10000) / 10000
	}
	return w
}
