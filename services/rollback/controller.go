// Package rollback stages the withdrawal of a capability from traffic.
package rollback

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/avaprime/spooky-logic/services"
	"github.com/avaprime/spooky-logic/services/eventbus"
	"go.uber.org/zap"
)

// DefaultStages are the shares of traffic pulled back at each stage
var DefaultStages = []float64{0.25, 0.5, 0.75, 1.0}

// DefaultInterval is the time spent in each stage
const DefaultInterval = 120 * time.Second

// Plan is a staged rollback of one capability
type Plan struct {
	CapabilityID string        `json:"capability_id"`
	Reason       string        `json:"reason"`
	StartedAt    time.Time     `json:"started_at"`
	Stages       []float64     `json:"stages"`
	Interval     time.Duration `json:"-"`
	IntervalSec  float64       `json:"interval_sec"`
	CurrentStage int           `json:"current_stage"`
	Active       bool          `json:"active"`
	Aborted      bool          `json:"aborted,omitempty"`
}

// TickResult reports the state of a plan after a tick
type TickResult struct {
	Active      bool     `json:"active"`
	BlastRadius *float64 `json:"blast_radius,omitempty"`
	Stage       *int     `json:"stage,omitempty"`
	Progressed  bool     `json:"progressed,omitempty"`
}

// StartRequest starts a rollback plan
type StartRequest struct {
	CapabilityID string    `json:"capability_id" validate:"required"`
	Reason       string    `json:"reason" validate:"required,max=500"`
	Stages       []float64 `json:"stages,omitempty" validate:"omitempty,dive,gt=0,lte=1"`
	IntervalSec  int       `json:"interval_sec,omitempty" validate:"omitempty,gte=1"`
}

// Controller holds rollback plans keyed by capability
type Controller struct {
	mu              sync.Mutex
	plans           map[string]*Plan
	defaultStages   []float64
	defaultInterval time.Duration
	publisher       eventbus.Publisher
	now             func() time.Time
	logger          *zap.Logger
}

// NewController creates a Controller. Empty stages or a non-positive
// interval fall back to DefaultStages and DefaultInterval.
func NewController(stages []float64, interval time.Duration, publisher eventbus.Publisher, logger *zap.Logger) *Controller {
	if len(stages) == 0 {
		stages = DefaultStages
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Controller{
		plans:           make(map[string]*Plan),
		defaultStages:   stages,
		defaultInterval: interval,
		publisher:       publisher,
		now:             time.Now,
		logger:          logger,
	}
}

// Start creates or replaces the plan of a capability
func (c *Controller) Start(ctx context.Context, req StartRequest) Plan {
	stages := req.Stages
	if len(stages) == 0 {
		stages = c.defaultStages
	}
	interval := c.defaultInterval
	if req.IntervalSec > 0 {
		interval = time.Duration(req.IntervalSec) * time.Second
	}

	plan := &Plan{
		CapabilityID: req.CapabilityID,
		Reason:       req.Reason,
		StartedAt:    c.now().UTC(),
		Stages:       append([]float64(nil), stages...),
		Interval:     interval,
		IntervalSec:  interval.Seconds(),
		Active:       true,
	}

	c.mu.Lock()
	c.plans[req.CapabilityID] = plan
	c.mu.Unlock()

	c.logger.Info("rollback started",
		zap.String("capability_id", req.CapabilityID),
		zap.String("reason", req.Reason),
		zap.Float64s("stages", plan.Stages),
		zap.Duration("interval", interval))
	c.publish(ctx, plan)
	return *plan
}

// Status returns the plan of a capability
func (c *Controller) Status(ctx context.Context, capabilityID string) (Plan, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	plan, ok := c.plans[capabilityID]
	if !ok {
		return Plan{}, services.ErrPlanNotFound
	}
	return *plan, nil
}

// Tick advances the plan to the stage implied by the elapsed time.
// The plan goes inactive once it reaches its last stage.
func (c *Controller) Tick(ctx context.Context, capabilityID string) TickResult {
	c.mu.Lock()
	plan, ok := c.plans[capabilityID]
	if !ok || !plan.Active {
		c.mu.Unlock()
		return TickResult{Active: false}
	}

	elapsed := c.now().Sub(plan.StartedAt)
	last := len(plan.Stages) - 1
	target := int(math.Floor(elapsed.Seconds() / plan.Interval.Seconds()))
	if target > last {
		target = last
	}

	progressed := false
	for plan.CurrentStage < target {
		plan.CurrentStage++
		progressed = true
	}
	if plan.CurrentStage >= last {
		plan.Active = false
	}

	stage := plan.CurrentStage
	blast := plan.Stages[stage]
	snapshot := *plan
	c.mu.Unlock()

	if progressed {
		c.logger.Info("rollback advanced",
			zap.String("capability_id", capabilityID),
			zap.Int("stage", stage),
			zap.Float64("blast_radius", blast),
			zap.Bool("active", snapshot.Active))
		c.publish(ctx, &snapshot)
	}

	return TickResult{Active: snapshot.Active, BlastRadius: &blast, Stage: &stage, Progressed: progressed}
}

// TickAll ticks every active plan
func (c *Controller) TickAll(ctx context.Context) int {
	c.mu.Lock()
	ids := make([]string, 0, len(c.plans))
	for id, p := range c.plans {
		if p.Active {
			ids = append(ids, id)
		}
	}
	c.mu.Unlock()

	advanced := 0
	for _, id := range ids {
		if c.Tick(ctx, id).Progressed {
			advanced++
		}
	}
	return advanced
}

// Run ticks every active plan at the given interval until ctx is done
func (c *Controller) Run(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.TickAll(ctx)
		}
	}
}

// Abort stops a plan and returns the capability to stage zero
func (c *Controller) Abort(ctx context.Context, capabilityID string) (Plan, error) {
	c.mu.Lock()
	plan, ok := c.plans[capabilityID]
	if !ok {
		c.mu.Unlock()
		return Plan{}, services.ErrPlanNotFound
	}
	plan.CurrentStage = 0
	plan.Active = false
	plan.Aborted = true
	snapshot := *plan
	c.mu.Unlock()

	c.logger.Info("rollback aborted", zap.String("capability_id", capabilityID))
	c.publish(ctx, &snapshot)
	return snapshot, nil
}

func (c *Controller) publish(ctx context.Context, plan *Plan) {
	if c.publisher == nil {
		return
	}
	event := eventbus.NewEvent(eventbus.EventRollbackAdvanced, "rollback", map[string]interface{}{
		"capability_id": plan.CapabilityID,
		"stage":         plan.CurrentStage,
		"blast_radius":  plan.Stages[plan.CurrentStage],
		"active":        plan.Active,
		"aborted":       plan.Aborted,
	})
	if err := c.publisher.Publish(ctx, event); err != nil {
		c.logger.Warn("failed to publish rollback event", zap.String("capability_id", plan.CapabilityID), zap.Error(err))
	}
}
