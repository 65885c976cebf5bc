package eventbus

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// LocalBus logs events and delivers them synchronously to in-process subscribers
type LocalBus struct {
	mu       sync.RWMutex
	handlers map[int]Handler
	nextID   int
	logger   *zap.Logger
}

// NewLocalBus creates a new LocalBus
func NewLocalBus(logger *zap.Logger) *LocalBus {
	return &LocalBus{handlers: make(map[int]Handler), logger: logger}
}

// Publish logs the event at debug and calls every subscriber
func (b *LocalBus) Publish(ctx context.Context, event Event) error {
	b.logger.Debug("event published",
		zap.String("type", event.Type),
		zap.String("source", event.Source),
		zap.Any("data", event.Data))

	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.handlers))
	for _, h := range b.handlers {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		if err := h(ctx, event); err != nil {
			b.logger.Warn("event handler failed",
				zap.String("type", event.Type),
				zap.Error(err))
		}
	}
	return nil
}

// Subscribe registers handler until ctx is done
func (b *LocalBus) Subscribe(ctx context.Context, handler Handler) error {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.handlers[id] = handler
	b.mu.Unlock()

	<-ctx.Done()

	b.mu.Lock()
	delete(b.handlers, id)
	b.mu.Unlock()
	return nil
}

// Close is a no-op
func (b *LocalBus) Close() error {
	return nil
}
