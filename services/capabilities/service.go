package capabilities

import (
	"context"

	"github.com/avaprime/spooky-logic/services"
	"github.com/avaprime/spooky-logic/services/eventbus"
	"go.uber.org/zap"
)

// QuarantineRequest places a capability in quarantine
type QuarantineRequest struct {
	CapabilityID string  `json:"capability_id" validate:"required"`
	Reason       string  `json:"reason" validate:"required,max=500"`
	CanaryRate   float64 `json:"canary_rate,omitempty" validate:"omitempty,gt=0,lte=1"`
}

// ReportRequest reports a canary outcome
type ReportRequest struct {
	CapabilityID string `json:"capability_id" validate:"required"`
	Success      bool   `json:"success"`
}

// ReadyRequest asks whether a capability has passed its canary
type ReadyRequest struct {
	CapabilityID string  `json:"capability_id" validate:"required"`
	MinSuccess   int     `json:"min_success,omitempty" validate:"omitempty,gte=1"`
	FailRatioMax float64 `json:"fail_ratio_max,omitempty" validate:"omitempty,gte=0,lte=1"`
}

// ReadyResult is the promotion readiness of a capability
type ReadyResult struct {
	CapabilityID string      `json:"capability_id"`
	Ready        bool        `json:"ready"`
	Stats        CanaryStats `json:"stats"`
}

// Service exposes verification and the quarantine lifecycle
type Service struct {
	quarantine *QuarantineManager
	publisher  eventbus.Publisher
	logger     *zap.Logger
}

// NewService creates a new capabilities Service
func NewService(quarantine *QuarantineManager, publisher eventbus.Publisher, logger *zap.Logger) *Service {
	return &Service{quarantine: quarantine, publisher: publisher, logger: logger}
}

// Quarantine returns the underlying manager
func (s *Service) Quarantine() *QuarantineManager {
	return s.quarantine
}

// Verify checks a capability bundle
func (s *Service) Verify(ctx context.Context, req VerifyRequest) *VerificationResult {
	result := Verify(req)
	s.logger.Info("capability bundle verified",
		zap.String("verification_id", result.VerificationID),
		zap.Bool("ok", result.OK),
		zap.Int("verified_signatures", result.VerifiedSignatures))
	return result
}

// Add quarantines a capability
func (s *Service) Add(ctx context.Context, req QuarantineRequest) Quarantined {
	q := s.quarantine.Add(req.CapabilityID, req.Reason, req.CanaryRate)
	s.logger.Info("capability quarantined",
		zap.String("capability_id", q.CapabilityID),
		zap.String("reason", q.Reason),
		zap.Float64("canary_rate", q.CanaryRate))
	return q
}

// List returns every quarantined capability
func (s *Service) List(ctx context.Context) []Quarantined {
	return s.quarantine.List()
}

// Report records a canary outcome
func (s *Service) Report(ctx context.Context, req ReportRequest) (Quarantined, error) {
	if !s.quarantine.Report(req.CapabilityID, req.Success) {
		return Quarantined{}, services.ErrNotQuarantined
	}
	q, _ := s.quarantine.Get(req.CapabilityID)
	return q, nil
}

// Ready reports promotion readiness, applying defaults for unset thresholds
func (s *Service) Ready(ctx context.Context, req ReadyRequest) (ReadyResult, error) {
	q, ok := s.quarantine.Get(req.CapabilityID)
	if !ok {
		return ReadyResult{}, services.ErrNotQuarantined
	}

	minSuccess := req.MinSuccess
	if minSuccess == 0 {
		minSuccess = DefaultMinSuccess
	}
	failRatioMax := req.FailRatioMax
	if failRatioMax == 0 {
		failRatioMax = DefaultFailRatioMax
	}

	return ReadyResult{
		CapabilityID: q.CapabilityID,
		Ready:        s.quarantine.ReadyToPromote(req.CapabilityID, minSuccess, failRatioMax),
		Stats:        q.Stats,
	}, nil
}

// Remove releases a capability without promotion
func (s *Service) Remove(ctx context.Context, id string) (Quarantined, error) {
	q, ok := s.quarantine.Remove(id)
	if !ok {
		return Quarantined{}, services.ErrNotQuarantined
	}
	s.logger.Info("capability released from quarantine", zap.String("capability_id", id))
	return q, nil
}

// Promote releases a capability that passed its canary and announces it
func (s *Service) Promote(ctx context.Context, id string) (Quarantined, error) {
	if _, ok := s.quarantine.Get(id); !ok {
		return Quarantined{}, services.ErrNotQuarantined
	}
	if !s.quarantine.ReadyToPromote(id, DefaultMinSuccess, DefaultFailRatioMax) {
		return Quarantined{}, services.ErrNotReadyToPromote
	}

	q, _ := s.quarantine.Remove(id)

	if s.publisher != nil {
		event := eventbus.NewEvent(eventbus.EventCapabilityPromoted, "capabilities", map[string]interface{}{
			"capability_id": id,
			"success":       q.Stats.Success,
			"fail":          q.Stats.Fail,
		})
		if err := s.publisher.Publish(ctx, event); err != nil {
			s.logger.Warn("failed to publish promotion event", zap.String("capability_id", id), zap.Error(err))
		}
	}

	s.logger.Info("capability promoted", zap.String("capability_id", id))
	return q, nil
}
