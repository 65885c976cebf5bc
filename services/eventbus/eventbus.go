// Package eventbus publishes control plane events (run completions,
// governance executions, capability promotions) to NATS, Kafka or a Redis
// stream. The "none" backend only logs and fans out in-process.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/avaprime/spooky-logic/config"
	"github.com/avaprime/spooky-logic/internal/observability"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Event types published by the control plane
const (
	EventRunCompleted        = "run.completed"
	EventGovernanceExecuted  = "governance.executed"
	EventCapabilityPromoted  = "capability.promoted"
	EventRollbackAdvanced    = "rollback.advanced"
	EventPackageInstalled    = "marketplace.installed"
	EventPolicyRuleExecuted  = "policy.executed"
	EventCapabilityIntegrate = "absorption.integrated"
)

// Event is the JSON envelope carried on every backend
type Event struct {
	ID     string                 `json:"id"`
	Type   string                 `json:"type"`
	Source string                 `json:"source"`
	TS     time.Time              `json:"ts"`
	Data   map[string]interface{} `json:"data,omitempty"`
}

// NewEvent builds an event with a fresh id and the current time
func NewEvent(eventType, source string, data map[string]interface{}) Event {
	return Event{
		ID:     uuid.NewString(),
		Type:   eventType,
		Source: source,
		TS:     time.Now().UTC(),
		Data:   data,
	}
}

// Handler processes a received event
type Handler func(ctx context.Context, event Event) error

// Publisher sends events
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// Subscriber receives events until ctx is cancelled
type Subscriber interface {
	Subscribe(ctx context.Context, handler Handler) error
}

// Bus is a publisher that can also be subscribed to
type Bus interface {
	Publisher
	Subscriber
}

// New creates the bus selected by cfg.Backend
func New(cfg config.EventBusConfig, logger *zap.Logger) (Bus, error) {
	topic := cfg.Topic
	if topic == "" {
		topic = "spooky.events"
	}

	switch cfg.Backend {
	case "", "none":
		return NewLocalBus(logger), nil
	case "nats":
		return NewNATSBus(cfg.NATSURL, topic, logger)
	case "kafka":
		return NewKafkaBus(cfg.KafkaBrokers, topic, logger)
	case "redis":
		return NewRedisBus(cfg.RedisAddr, topic, logger)
	default:
		return nil, fmt.Errorf("unsupported event bus backend %q", cfg.Backend)
	}
}

func encode(event Event) ([]byte, error) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.TS.IsZero() {
		event.TS = time.Now().UTC()
	}
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to encode event: %w", err)
	}
	return data, nil
}

func decode(data []byte) (Event, error) {
	var event Event
	if err := json.Unmarshal(data, &event); err != nil {
		return Event{}, fmt.Errorf("failed to decode event: %w", err)
	}
	return event, nil
}

// Instrumented counts published events per type and status
type Instrumented struct {
	Bus
	metrics *observability.Metrics
}

// NewInstrumented wraps bus with publish metrics
func NewInstrumented(bus Bus, metrics *observability.Metrics) *Instrumented {
	return &Instrumented{Bus: bus, metrics: metrics}
}

// Publish forwards the event and records the outcome
func (b *Instrumented) Publish(ctx context.Context, event Event) error {
	err := b.Bus.Publish(ctx, event)
	if b.metrics != nil {
		b.metrics.IncEventPublished(event.Type, err)
	}
	return err
}
