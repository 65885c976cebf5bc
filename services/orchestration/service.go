package orchestration

import (
	"context"

	"github.com/avaprime/spooky-logic/internal/observability"
	"github.com/avaprime/spooky-logic/services"
	"github.com/avaprime/spooky-logic/services/eventbus"
	"github.com/avaprime/spooky-logic/services/playbook"
	"github.com/avaprime/spooky-logic/services/redteam"
	"github.com/avaprime/spooky-logic/services/tenants"
	"go.uber.org/zap"
)

// RunExperiment is the experiment every completed run is recorded under,
// with the playbook as the arm
const RunExperiment = "orchestration"

// Defaults applied to orchestrate requests
const (
	DefaultRisk = 2
)

// BudgetGate decides whether a run budget is allowed
type BudgetGate interface {
	AllowBudget(ctx context.Context, estimatedCost, maxBudget float64) (bool, error)
}

// PlaybookSelector picks a playbook for a risk level
type PlaybookSelector interface {
	SelectPlaybook(risk int) string
}

// ExperimentRecorder records run outcomes per arm
type ExperimentRecorder interface {
	Record(experiment, arm string, score, cost, latencyMs float64) error
}

// RunObserver feeds run outcomes to the adaptive policy metrics
type RunObserver interface {
	Observe(score float64, latencyMs int64, costUSD float64, ok bool)
}

// OrchestrateRequest is the body of POST /orchestrate
type OrchestrateRequest struct {
	Goal      string   `json:"goal" validate:"required,max=1000"`
	BudgetUSD *float64 `json:"budget_usd,omitempty" validate:"omitempty,gt=0,lte=1000"`
	Risk      *int     `json:"risk,omitempty" validate:"omitempty,gte=0,lte=5"`
	Tenant    string   `json:"tenant,omitempty"`
}

// OrchestrateResponse identifies the queued run
type OrchestrateResponse struct {
	RunID     string  `json:"run_id"`
	Playbook  string  `json:"playbook"`
	BudgetUSD float64 `json:"budget_usd"`
	Risk      int     `json:"risk"`
}

// Deps are the collaborators of the orchestration service. Tenants,
// Experiments, RunMetrics and Publisher may be nil.
type Deps struct {
	Gate        BudgetGate
	Router      PlaybookSelector
	Tenants     *tenants.Registry
	Pool        *Pool
	Experiments ExperimentRecorder
	RunMetrics  RunObserver
	Publisher   eventbus.Publisher
	Metrics     *observability.Metrics
}

// Service accepts orchestration requests
type Service struct {
	Deps
	budgetMax float64
	maxRisk   float64
	logger    *zap.Logger
}

// NewService creates the service and subscribes it to run completions.
// Goals scoring maxRisk or more on the red-team scan are refused up front.
func NewService(deps Deps, budgetMax, maxRisk float64, logger *zap.Logger) *Service {
	s := &Service{Deps: deps, budgetMax: budgetMax, maxRisk: maxRisk, logger: logger}
	deps.Pool.OnComplete(s.handleCompletion)
	return s
}

// Orchestrate gates the budget, selects a playbook and queues the run
func (s *Service) Orchestrate(ctx context.Context, req OrchestrateRequest) (*OrchestrateResponse, error) {
	budget := s.budgetMax
	if req.BudgetUSD != nil {
		budget = *req.BudgetUSD
	}
	risk := DefaultRisk
	if req.Risk != nil {
		risk = *req.Risk
	}

	var conductor *tenants.Conductor
	limit := s.budgetMax
	if req.Tenant != "" && s.Tenants != nil {
		c, ok := s.Tenants.Lookup(req.Tenant)
		if !ok {
			return nil, services.NewNotFound("tenant not found", req.Tenant)
		}
		conductor = c
		limit = c.Config().BudgetMaxUSD
	}

	scan, err := redteam.Guard(req.Goal, s.maxRisk)
	if err != nil {
		return nil, err
	}
	goal := req.Goal
	if len(scan.PII) > 0 {
		goal = redteam.Redact(goal)
		s.logger.Info("personal data redacted from goal", zap.Any("kinds", scan.PII))
	}

	allowed, err := s.Gate.AllowBudget(ctx, budget, limit)
	if err != nil {
		return nil, err
	}
	if !allowed {
		s.logger.Warn("budget denied", zap.Float64("budget_usd", budget), zap.Float64("max_usd", limit))
		return nil, services.ErrBudgetDenied
	}

	var name string
	if conductor != nil {
		name = conductor.ChoosePlaybook(risk)
	} else {
		name = s.Router.SelectPlaybook(risk)
	}

	run, err := s.Pool.Submit(Run{
		Playbook: name,
		Goal:     goal,
		Budget:   budget,
		Risk:     risk,
		Tenant:   req.Tenant,
	})
	if err != nil {
		return nil, err
	}

	if s.Metrics != nil {
		s.Metrics.IncSubmissions()
	}
	s.logger.Info("run submitted",
		zap.String("run_id", run.ID),
		zap.String("playbook", name),
		zap.Int("risk", risk),
		zap.String("tenant", req.Tenant))
	return &OrchestrateResponse{RunID: run.ID, Playbook: name, BudgetUSD: budget, Risk: risk}, nil
}

// GetRun returns a run's status
func (s *Service) GetRun(ctx context.Context, id string) (Run, error) {
	return s.Pool.Get(id)
}

func (s *Service) handleCompletion(ctx context.Context, run Run) {
	ok := run.Status == RunCompleted
	var result playbook.Result
	if run.Result != nil {
		result = *run.Result
	}

	if s.RunMetrics != nil {
		s.RunMetrics.Observe(result.Score, int64(result.LatencyMs), result.BudgetUsed, ok)
	}

	if ok {
		if s.Experiments != nil {
			if err := s.Experiments.Record(RunExperiment, run.Playbook, result.Score, result.BudgetUsed, result.LatencyMs); err != nil {
				s.logger.Warn("failed to record experiment result", zap.String("run_id", run.ID), zap.Error(err))
			}
		}
		if run.Tenant != "" && s.Tenants != nil {
			if c, found := s.Tenants.Lookup(run.Tenant); found {
				c.RecordResult(c.ArmFor(run.Playbook), result.Score, result.BudgetUsed)
			}
		}
	}

	if s.Publisher == nil {
		return
	}
	data := map[string]interface{}{
		"run_id":   run.ID,
		"playbook": run.Playbook,
		"status":   run.Status,
	}
	if run.Tenant != "" {
		data["tenant"] = run.Tenant
	}
	if ok {
		data["score"] = result.Score
		data["outcome"] = result.Status
		data["latency_ms"] = result.LatencyMs
		data["budget_used"] = result.BudgetUsed
	} else {
		data["error"] = run.Error
	}
	if err := s.Publisher.Publish(ctx, eventbus.NewEvent(eventbus.EventRunCompleted, "orchestration", data)); err != nil {
		s.logger.Warn("failed to publish run event", zap.String("run_id", run.ID), zap.Error(err))
	}
}
