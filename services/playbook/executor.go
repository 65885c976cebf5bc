package playbook

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/avaprime/spooky-logic/internal/observability"
	"github.com/avaprime/spooky-logic/services/llm"
	"github.com/avaprime/spooky-logic/services/redteam"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Run statuses
const (
	StatusSuccess  = "Success"
	StatusRejected = "Rejected"
)

// placeholderCost is charged per run until providers report usage
const placeholderCost = 0.01

var acceptIf = regexp.MustCompile(`accept_if\(conf>=(.*)\)`)

// Retrieval is the context found for a query
type Retrieval struct {
	Sources []string `json:"sources"`
	Context string   `json:"context"`
}

// Retriever finds context for a goal
type Retriever interface {
	HybridSearch(ctx context.Context, query string) (*Retrieval, error)
}

// EchoRetriever returns the query as its own context
type EchoRetriever struct{}

// HybridSearch implements Retriever
func (EchoRetriever) HybridSearch(ctx context.Context, query string) (*Retrieval, error) {
	return &Retrieval{Sources: []string{}, Context: "Context for: " + query}, nil
}

// RunRequest starts a playbook run
type RunRequest struct {
	Playbook string
	Goal     string
	Budget   float64
	Risk     int
}

// Result is the outcome of a run
type Result struct {
	Answer     string   `json:"answer"`
	Score      float64  `json:"score"`
	LatencyMs  float64  `json:"latency_ms"`
	BudgetUsed float64  `json:"budget_used"`
	Playbook   string   `json:"playbook"`
	Status     string   `json:"status"`
	RiskScore  float64  `json:"risk_score"`
	Matches    []string `json:"redteam_matches,omitempty"`
}

type stepState struct {
	goal                string
	interpretedGoal     string
	retrievedContext    string
	solution            string
	solutionConfidence  float64
	critique            string
	validatorConfidence float64
	score               float64
}

// Executor runs playbooks
type Executor struct {
	loader    *Loader
	client    llm.Client
	retriever Retriever
	metrics   *observability.Metrics
	tracer    trace.Tracer
	maxRisk   float64
	logger    *zap.Logger
}

// NewExecutor creates an Executor. Goals scoring maxRisk or more on the
// red-team scan are refused; zero disables the gate.
func NewExecutor(loader *Loader, client llm.Client, retriever Retriever, metrics *observability.Metrics, tracer trace.Tracer, maxRisk float64, logger *zap.Logger) *Executor {
	if retriever == nil {
		retriever = EchoRetriever{}
	}
	return &Executor{
		loader:    loader,
		client:    client,
		retriever: retriever,
		metrics:   metrics,
		tracer:    tracer,
		maxRisk:   maxRisk,
		logger:    logger,
	}
}

// Loader returns the executor's playbook loader
func (e *Executor) Loader() *Loader {
	return e.loader
}

// Run executes every step of the playbook in order. A decide step whose
// threshold is not met ends the run with status Rejected.
func (e *Executor) Run(ctx context.Context, req RunRequest) (*Result, error) {
	ctx, span := observability.StartSpan(ctx, e.tracer, "playbook.run",
		attribute.String("playbook", req.Playbook),
		attribute.Int("risk", req.Risk))
	defer span.End()

	scan, err := redteam.Guard(req.Goal, e.maxRisk)
	if err != nil {
		observability.SetError(ctx, err)
		return nil, err
	}

	pb, err := e.loader.Load(req.Playbook)
	if err != nil {
		observability.SetError(ctx, err)
		return nil, err
	}

	start := time.Now()
	state := &stepState{goal: req.Goal}

	for i, step := range pb.Steps {
		stepCtx, stepSpan := observability.StartSpan(ctx, e.tracer, "playbook.step",
			attribute.Int("index", i),
			attribute.String("action", step.Action),
			attribute.String("param", step.Param))

		rejected, threshold, err := e.runStep(stepCtx, step, state)
		if err != nil {
			observability.SetError(stepCtx, err)
			stepSpan.End()
			return nil, fmt.Errorf("step %d (%s): %w", i, step.Action, err)
		}
		stepSpan.End()

		if rejected {
			result := e.finish(req, start, state.score, StatusRejected,
				fmt.Sprintf("Solution rejected due to low confidence score: %v < %v", state.score, threshold))
			result.RiskScore, result.Matches = scan.RiskScore, scan.Matches
			return result, nil
		}
	}

	answer := state.solution
	if answer == "" {
		answer = "No solution was generated."
	}
	result := e.finish(req, start, state.score, StatusSuccess, answer)
	result.RiskScore, result.Matches = scan.RiskScore, scan.Matches
	return result, nil
}

func (e *Executor) runStep(ctx context.Context, step Step, state *stepState) (bool, float64, error) {
	switch step.Action {
	case ActionRoute:
		reply, err := e.client.Call(ctx, step.Param, "Interpret goal: "+state.goal)
		if err != nil {
			return false, 0, err
		}
		state.interpretedGoal = reply.Text

	case ActionRetrieve:
		retrieved, err := e.retriever.HybridSearch(ctx, state.goal)
		if err != nil {
			return false, 0, err
		}
		state.retrievedContext = retrieved.Context

	case ActionSolve:
		known := state.retrievedContext
		if known == "" {
			known = "No context"
		}
		reply, err := e.client.Call(ctx, step.Param, "Solve with context: "+known)
		if err != nil {
			return false, 0, err
		}
		state.solution = reply.Text
		state.solutionConfidence = reply.Confidence

	case ActionValidate:
		solution := state.solution
		if solution == "" {
			solution = "No solution provided"
		}
		reply, err := e.client.Call(ctx, step.Param, "Critique: "+solution)
		if err != nil {
			return false, 0, err
		}
		state.critique = reply.Text
		state.validatorConfidence = reply.Confidence
		state.score = (state.solutionConfidence + state.validatorConfidence) / 2

	case ActionDecide:
		m := acceptIf.FindStringSubmatch(step.Param)
		if m == nil {
			return false, 0, nil
		}
		threshold, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return false, 0, fmt.Errorf("invalid decide threshold %q", m[1])
		}
		return state.score < threshold, threshold, nil

	default:
		e.logger.Warn("unknown playbook action", zap.String("action", step.Action))
	}
	return false, 0, nil
}

func (e *Executor) finish(req RunRequest, start time.Time, score float64, status, answer string) *Result {
	elapsed := time.Since(start)
	latencyMs := float64(elapsed.Microseconds()) / 1000
	budgetUsed := min(req.Budget, placeholderCost)

	if e.metrics != nil {
		e.metrics.ObserveRun(score, elapsed.Milliseconds(), budgetUsed)
	}
	e.logger.Info("playbook finished",
		zap.String("playbook", req.Playbook),
		zap.String("status", status),
		zap.Float64("score", score),
		zap.Float64("latency_ms", latencyMs))

	return &Result{
		Answer:     answer,
		Score:      score,
		LatencyMs:  latencyMs,
		BudgetUsed: budgetUsed,
		Playbook:   req.Playbook,
		Status:     status,
	}
}
