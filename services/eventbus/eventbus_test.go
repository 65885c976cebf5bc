package eventbus

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/avaprime/spooky-logic/config"
	"github.com/avaprime/spooky-logic/internal/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNew(t *testing.T) {
	t.Run("none is local", func(t *testing.T) {
		bus, err := New(config.EventBusConfig{Backend: "none"}, zap.NewNop())
		require.NoError(t, err)
		assert.IsType(t, &LocalBus{}, bus)
	})

	t.Run("kafka without brokers", func(t *testing.T) {
		_, err := New(config.EventBusConfig{Backend: "kafka"}, zap.NewNop())
		assert.Error(t, err)
	})

	t.Run("unsupported backend", func(t *testing.T) {
		_, err := New(config.EventBusConfig{Backend: "amqp"}, zap.NewNop())
		assert.Error(t, err)
	})
}

func TestLocalBus_PublishSubscribe(t *testing.T) {
	bus := NewLocalBus(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan Event, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		bus.Subscribe(ctx, func(_ context.Context, e Event) error {
			received <- e
			return nil
		})
	}()

	require.Eventually(t, func() bool {
		bus.mu.RLock()
		defer bus.mu.RUnlock()
		return len(bus.handlers) == 1
	}, time.Second, 5*time.Millisecond)

	event := NewEvent(EventRunCompleted, "test", map[string]interface{}{"run_id": "run-1"})
	require.NoError(t, bus.Publish(ctx, event))

	select {
	case got := <-received:
		assert.Equal(t, event.ID, got.ID)
		assert.Equal(t, "run-1", got.Data["run_id"])
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}

	cancel()
	<-done
	assert.Empty(t, bus.handlers)
}

func TestEncodeDecode(t *testing.T) {
	data, err := encode(Event{Type: EventGovernanceExecuted, Source: "node-1"})
	require.NoError(t, err)

	event, err := decode(data)
	require.NoError(t, err)
	assert.NotEmpty(t, event.ID)
	assert.False(t, event.TS.IsZero())
	assert.Equal(t, EventGovernanceExecuted, event.Type)

	_, err = decode([]byte("not json"))
	assert.Error(t, err)
}

type failingBus struct{ *LocalBus }

func (b *failingBus) Publish(context.Context, Event) error { return errors.New("broker down") }

func TestInstrumented_Publish(t *testing.T) {
	metrics := observability.NewMetrics()

	ok := NewInstrumented(NewLocalBus(zap.NewNop()), metrics)
	require.NoError(t, ok.Publish(context.Background(), NewEvent(EventRunCompleted, "t", nil)))

	bad := NewInstrumented(&failingBus{LocalBus: NewLocalBus(zap.NewNop())}, metrics)
	assert.Error(t, bad.Publish(context.Background(), NewEvent(EventRunCompleted, "t", nil)))

	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	assert.Contains(t, body, `spooky_events_published_total{status="ok",type="run.completed"} 1`)
	assert.Contains(t, body, `spooky_events_published_total{status="err",type="run.completed"} 1`)
}
