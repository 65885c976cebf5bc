package experiments

import (
	"context"
	"errors"
	"time"

	"github.com/avaprime/spooky-logic/models"
	"github.com/avaprime/spooky-logic/repositories"
	"github.com/avaprime/spooky-logic/services"
	"go.uber.org/zap"
)

// CreateRequest registers a persistent experiment
type CreateRequest struct {
	Name   string   `json:"name" validate:"required,identifier"`
	Arms   []string `json:"arms" validate:"omitempty,dive,required"`
	Domain string   `json:"domain"`
}

// RecordRequest stores one persistent sample
type RecordRequest struct {
	Experiment string  `json:"experiment" validate:"required"`
	Arm        string  `json:"arm" validate:"required"`
	Score      float64 `json:"score"`
	Cost       float64 `json:"cost" validate:"gte=0"`
	LatencyMs  float64 `json:"latency_ms" validate:"gte=0"`
	Domain     string  `json:"domain"`
}

// StoreService persists experiments through an ExperimentRepository
type StoreService struct {
	repo   repositories.ExperimentRepository
	cfg    Config
	now    func() time.Time
	logger *zap.Logger
}

// NewStoreService creates a new StoreService
func NewStoreService(repo repositories.ExperimentRepository, cfg Config, logger *zap.Logger) *StoreService {
	if cfg.MinN <= 0 {
		cfg = DefaultConfig()
	}
	return &StoreService{repo: repo, cfg: cfg, now: time.Now, logger: logger}
}

// Create registers an experiment, defaulting to the standard arms
func (s *StoreService) Create(ctx context.Context, req CreateRequest) (*models.Experiment, error) {
	arms := req.Arms
	if len(arms) == 0 {
		arms = []string{DefaultArmA, DefaultArmB}
	}
	domain := req.Domain
	if domain == "" {
		domain = "general"
	}

	exp := &models.Experiment{
		Name:      req.Name,
		Arms:      arms,
		Domain:    domain,
		CreatedAt: s.now().UTC(),
	}
	if err := s.repo.CreateExperiment(ctx, exp); err != nil {
		return nil, services.WrapInternal("failed to create experiment", err)
	}

	s.logger.Info("experiment created",
		zap.String("experiment", exp.Name),
		zap.Strings("arms", exp.Arms))
	return exp, nil
}

// Record stores a sample for an existing experiment
func (s *StoreService) Record(ctx context.Context, req RecordRequest) (*models.ExperimentSample, error) {
	if _, err := s.get(ctx, req.Experiment); err != nil {
		return nil, err
	}

	domain := req.Domain
	if domain == "" {
		domain = "general"
	}
	sample := &models.ExperimentSample{
		Experiment: req.Experiment,
		Arm:        req.Arm,
		Score:      req.Score,
		Cost:       req.Cost,
		LatencyMs:  req.LatencyMs,
		Domain:     domain,
		CreatedAt:  s.now().UTC(),
	}
	if err := s.repo.RecordSample(ctx, sample); err != nil {
		return nil, services.WrapInternal("failed to record sample", err)
	}
	return sample, nil
}

// Summary compares two arms of a stored experiment. Empty arm names fall back
// to the experiment's first two arms.
func (s *StoreService) Summary(ctx context.Context, name, a, b string) (*Summary, error) {
	exp, err := s.get(ctx, name)
	if err != nil {
		return nil, err
	}

	if a == "" || b == "" {
		armA, armB := DefaultArmA, DefaultArmB
		if len(exp.Arms) >= 2 {
			armA, armB = exp.Arms[0], exp.Arms[1]
		}
		if a == "" {
			a = armA
		}
		if b == "" {
			b = armB
		}
	}

	samples, err := s.repo.ListSamples(ctx, name)
	if err != nil {
		return nil, services.WrapInternal("failed to list samples", err)
	}

	var resA, resB []Result
	for _, smp := range samples {
		r := Result{
			Arm:       smp.Arm,
			Score:     smp.Score,
			Cost:      smp.Cost,
			LatencyMs: smp.LatencyMs,
			Domain:    smp.Domain,
			Timestamp: smp.CreatedAt,
		}
		switch smp.Arm {
		case a:
			resA = append(resA, r)
		case b:
			resB = append(resB, r)
		}
	}

	summary := Compare(name, a, b, resA, resB, s.cfg)
	return &summary, nil
}

func (s *StoreService) get(ctx context.Context, name string) (*models.Experiment, error) {
	exp, err := s.repo.GetExperiment(ctx, name)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, services.NewNotFound("experiment not found", name)
		}
		return nil, services.WrapInternal("failed to load experiment", err)
	}
	return exp, nil
}
