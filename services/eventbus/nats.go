package eventbus

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NATSBus publishes events on a NATS subject
type NATSBus struct {
	conn    *nats.Conn
	subject string
	logger  *zap.Logger
}

// NewNATSBus connects to url
func NewNATSBus(url, subject string, logger *zap.Logger) (*NATSBus, error) {
	if url == "" {
		url = nats.DefaultURL
	}
	conn, err := nats.Connect(url,
		nats.Name("spooky-logic"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}

	logger.Info("event bus connected", zap.String("backend", "nats"), zap.String("subject", subject))
	return &NATSBus{conn: conn, subject: subject, logger: logger}, nil
}

// Publish sends the event on the subject
func (b *NATSBus) Publish(ctx context.Context, event Event) error {
	data, err := encode(event)
	if err != nil {
		return err
	}
	if err := b.conn.Publish(b.subject, data); err != nil {
		return fmt.Errorf("failed to publish to nats: %w", err)
	}
	return b.conn.FlushWithContext(ctx)
}

// Subscribe delivers subject messages to handler until ctx is done
func (b *NATSBus) Subscribe(ctx context.Context, handler Handler) error {
	sub, err := b.conn.Subscribe(b.subject, func(msg *nats.Msg) {
		event, err := decode(msg.Data)
		if err != nil {
			b.logger.Warn("dropping malformed event", zap.Error(err))
			return
		}
		if err := handler(ctx, event); err != nil {
			b.logger.Warn("event handler failed", zap.String("type", event.Type), zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to nats: %w", err)
	}

	<-ctx.Done()
	return sub.Unsubscribe()
}

// Close drains the connection
func (b *NATSBus) Close() error {
	return b.conn.Drain()
}
