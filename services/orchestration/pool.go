// Package orchestration accepts goals, runs their playbooks on an in-process
// worker pool and drives the adaptive policy loop.
package orchestration

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/avaprime/spooky-logic/internal/observability"
	"github.com/avaprime/spooky-logic/services"
	"github.com/avaprime/spooky-logic/services/playbook"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Finished runs are kept for lookups until they age out or the pool holds
// more than the cap
const (
	DefaultRunRetention    = time.Hour
	DefaultMaxFinishedRuns = 1000
)

// Run statuses
const (
	RunQueued    = "queued"
	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
)

// Runner executes a playbook run
type Runner interface {
	Run(ctx context.Context, req playbook.RunRequest) (*playbook.Result, error)
}

// Run is a submitted playbook execution
type Run struct {
	ID         string           `json:"run_id"`
	Playbook   string           `json:"playbook"`
	Goal       string           `json:"goal"`
	Budget     float64          `json:"budget_usd"`
	Risk       int              `json:"risk"`
	Tenant     string           `json:"tenant,omitempty"`
	Status     string           `json:"status"`
	Result     *playbook.Result `json:"result,omitempty"`
	Error      string           `json:"error,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
	StartedAt  *time.Time       `json:"started_at,omitempty"`
	FinishedAt *time.Time       `json:"finished_at,omitempty"`
}

// CompletionHandler is called once a run has finished, successfully or not
type CompletionHandler func(ctx context.Context, run Run)

// NewRunID returns an id of the form run-<12 hex>
func NewRunID() string {
	return "run-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// Pool executes runs on a fixed number of workers
type Pool struct {
	runner     Runner
	workers    int
	timeout    time.Duration
	queue      chan string
	onComplete []CompletionHandler
	metrics    *observability.Metrics
	logger     *zap.Logger

	mu          sync.Mutex
	runs        map[string]*Run
	finished    []string // completion order
	retention   time.Duration
	maxFinished int
	now         func() time.Time

	wg sync.WaitGroup
}

// NewPool creates a pool. Each run gets at most timeout to finish.
func NewPool(runner Runner, workers, queueSize int, timeout time.Duration, metrics *observability.Metrics, logger *zap.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 100
	}
	return &Pool{
		runner:  runner,
		workers: workers,
		timeout: timeout,
		queue:   make(chan string, queueSize),
		metrics: metrics,
		logger:  logger,
		runs:    make(map[string]*Run),

		retention:   DefaultRunRetention,
		maxFinished: DefaultMaxFinishedRuns,
		now:         time.Now,
	}
}

// WithRetention bounds how long and how many finished runs stay queryable.
// Zero disables the respective bound.
func (p *Pool) WithRetention(ttl time.Duration, maxFinished int) *Pool {
	p.retention = ttl
	p.maxFinished = maxFinished
	return p
}

// OnComplete registers a handler for finished runs. Handlers must be
// registered before Start.
func (p *Pool) OnComplete(h CompletionHandler) {
	p.onComplete = append(p.onComplete, h)
}

// Start launches the workers. They stop when ctx is cancelled.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
	p.logger.Info("worker pool started", zap.Int("workers", p.workers))
}

// Wait blocks until every worker has stopped
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Submit queues a run. It fails with a rate limit error when the queue is
// full.
func (p *Pool) Submit(run Run) (Run, error) {
	if run.ID == "" {
		run.ID = NewRunID()
	}
	run.Status = RunQueued
	run.CreatedAt = time.Now().UTC()

	p.mu.Lock()
	p.evictLocked()
	stored := run
	p.runs[run.ID] = &stored
	p.mu.Unlock()

	select {
	case p.queue <- run.ID:
		return run, nil
	default:
		p.mu.Lock()
		delete(p.runs, run.ID)
		p.mu.Unlock()
		return Run{}, services.NewDomainError(services.ErrorTypeRateLimit, "run queue is full", nil)
	}
}

// Get returns a copy of a run
func (p *Pool) Get(id string) (Run, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.evictLocked()
	run, ok := p.runs[id]
	if !ok {
		return Run{}, services.NewNotFound("run not found", id)
	}
	return *run, nil
}

func (p *Pool) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-p.queue:
			p.execute(ctx, id)
		}
	}
}

func (p *Pool) execute(ctx context.Context, id string) {
	started := time.Now().UTC()
	req, ok := p.markRunning(id, started)
	if !ok {
		return
	}

	runCtx := ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	result, err := p.runner.Run(runCtx, req)
	finished := p.now().UTC()

	p.mu.Lock()
	run := p.runs[id]
	run.FinishedAt = &finished
	if err != nil {
		run.Status = RunFailed
		run.Error = err.Error()
	} else {
		run.Status = RunCompleted
		run.Result = result
	}
	snapshot := *run
	p.finished = append(p.finished, id)
	p.evictLocked()
	p.mu.Unlock()

	if p.metrics != nil {
		p.metrics.ObserveWorkerTask(snapshot.Playbook, err == nil, finished.Sub(started))
	}
	if err != nil {
		p.logger.Error("run failed", zap.String("run_id", id), zap.String("playbook", snapshot.Playbook), zap.Error(err))
	} else {
		p.logger.Info("run completed",
			zap.String("run_id", id),
			zap.String("playbook", snapshot.Playbook),
			zap.String("status", result.Status))
	}

	for _, h := range p.onComplete {
		h(ctx, snapshot)
	}
}

func (p *Pool) markRunning(id string, started time.Time) (playbook.RunRequest, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	run, ok := p.runs[id]
	if !ok {
		return playbook.RunRequest{}, false
	}
	run.Status = RunRunning
	run.StartedAt = &started
	return playbook.RunRequest{Playbook: run.Playbook, Goal: run.Goal, Budget: run.Budget, Risk: run.Risk}, true
}

// evictLocked drops finished runs past the retention window, then the
// oldest ones above the cap. p.mu must be held.
func (p *Pool) evictLocked() {
	now := p.now()
	drop := 0
	for ; drop < len(p.finished); drop++ {
		run, ok := p.runs[p.finished[drop]]
		if !ok {
			continue
		}
		overCap := p.maxFinished > 0 && len(p.finished)-drop > p.maxFinished
		expired := p.retention > 0 && run.FinishedAt != nil && now.Sub(*run.FinishedAt) > p.retention
		if !overCap && !expired {
			break
		}
		delete(p.runs, p.finished[drop])
	}
	if drop > 0 {
		p.finished = append([]string(nil), p.finished[drop:]...)
	}
}
