package capabilities

import (
	"context"
	"testing"

	"github.com/avaprime/spooky-logic/services"
	"github.com/avaprime/spooky-logic/services/eventbus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingPublisher struct {
	events []eventbus.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e eventbus.Event) error {
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func TestService_Report(t *testing.T) {
	svc := NewService(newTestManager(0), nil, zap.NewNop())
	ctx := context.Background()

	_, err := svc.Report(ctx, ReportRequest{CapabilityID: "cap-a", Success: true})
	assert.True(t, services.IsValidationError(err))

	svc.Add(ctx, QuarantineRequest{CapabilityID: "cap-a", Reason: "trial"})
	q, err := svc.Report(ctx, ReportRequest{CapabilityID: "cap-a", Success: true})
	require.NoError(t, err)
	assert.Equal(t, 1, q.Stats.Success)
}

func TestService_Ready(t *testing.T) {
	svc := NewService(newTestManager(0), nil, zap.NewNop())
	ctx := context.Background()
	svc.Add(ctx, QuarantineRequest{CapabilityID: "cap-a", Reason: "trial"})
	for i := 0; i < 3; i++ {
		_, _ = svc.Report(ctx, ReportRequest{CapabilityID: "cap-a", Success: true})
	}

	res, err := svc.Ready(ctx, ReadyRequest{CapabilityID: "cap-a"})
	require.NoError(t, err)
	assert.False(t, res.Ready)

	res, err = svc.Ready(ctx, ReadyRequest{CapabilityID: "cap-a", MinSuccess: 3})
	require.NoError(t, err)
	assert.True(t, res.Ready)
	assert.Equal(t, 3, res.Stats.Success)

	_, err = svc.Ready(ctx, ReadyRequest{CapabilityID: "missing"})
	assert.Error(t, err)
}

func TestService_Promote(t *testing.T) {
	ctx := context.Background()

	t.Run("not ready", func(t *testing.T) {
		svc := NewService(newTestManager(0), nil, zap.NewNop())
		svc.Add(ctx, QuarantineRequest{CapabilityID: "cap-a", Reason: "trial"})

		_, err := svc.Promote(ctx, "cap-a")
		assert.ErrorIs(t, err, services.ErrNotReadyToPromote)
		_, ok := svc.Quarantine().Get("cap-a")
		assert.True(t, ok)
	})

	t.Run("ready publishes and releases", func(t *testing.T) {
		pub := &recordingPublisher{}
		svc := NewService(newTestManager(0), pub, zap.NewNop())
		svc.Add(ctx, QuarantineRequest{CapabilityID: "cap-a", Reason: "trial"})
		for i := 0; i < DefaultMinSuccess; i++ {
			_, _ = svc.Report(ctx, ReportRequest{CapabilityID: "cap-a", Success: true})
		}

		q, err := svc.Promote(ctx, "cap-a")
		require.NoError(t, err)
		assert.Equal(t, DefaultMinSuccess, q.Stats.Success)
		require.Len(t, pub.events, 1)
		assert.Equal(t, eventbus.EventCapabilityPromoted, pub.events[0].Type)
		assert.Empty(t, svc.List(ctx))
	})

	t.Run("unknown", func(t *testing.T) {
		svc := NewService(newTestManager(0), nil, zap.NewNop())
		_, err := svc.Promote(ctx, "nope")
		assert.True(t, services.IsValidationError(err))
	})
}

func TestService_Remove(t *testing.T) {
	svc := NewService(newTestManager(0), nil, zap.NewNop())
	ctx := context.Background()
	svc.Add(ctx, QuarantineRequest{CapabilityID: "cap-a", Reason: "trial"})

	_, err := svc.Remove(ctx, "cap-a")
	require.NoError(t, err)
	_, err = svc.Remove(ctx, "cap-a")
	assert.Error(t, err)
}
