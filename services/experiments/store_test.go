package experiments

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/avaprime/spooky-logic/models"
	"github.com/avaprime/spooky-logic/repositories"
	"github.com/avaprime/spooky-logic/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type MockExperimentRepository struct {
	mock.Mock
}

func (m *MockExperimentRepository) CreateExperiment(ctx context.Context, exp *models.Experiment) error {
	args := m.Called(ctx, exp)
	return args.Error(0)
}

func (m *MockExperimentRepository) GetExperiment(ctx context.Context, name string) (*models.Experiment, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Experiment), args.Error(1)
}

func (m *MockExperimentRepository) RecordSample(ctx context.Context, sample *models.ExperimentSample) error {
	args := m.Called(ctx, sample)
	return args.Error(0)
}

func (m *MockExperimentRepository) ListSamples(ctx context.Context, experiment string) ([]*models.ExperimentSample, error) {
	args := m.Called(ctx, experiment)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.ExperimentSample), args.Error(1)
}

func TestStoreService_Create(t *testing.T) {
	repo := new(MockExperimentRepository)
	svc := NewStoreService(repo, DefaultConfig(), zap.NewNop())

	repo.On("CreateExperiment", mock.Anything, mock.MatchedBy(func(e *models.Experiment) bool {
		return e.Name == "router-v2" && len(e.Arms) == 2 && e.Arms[0] == DefaultArmA && e.Domain == "general"
	})).Return(nil)

	exp, err := svc.Create(context.Background(), CreateRequest{Name: "router-v2"})
	require.NoError(t, err)
	assert.Equal(t, []string{DefaultArmA, DefaultArmB}, exp.Arms)
	repo.AssertExpectations(t)
}

func TestStoreService_Record(t *testing.T) {
	t.Run("unknown experiment", func(t *testing.T) {
		repo := new(MockExperimentRepository)
		svc := NewStoreService(repo, DefaultConfig(), zap.NewNop())

		repo.On("GetExperiment", mock.Anything, "missing").
			Return(nil, fmt.Errorf("experiment %w", repositories.ErrNotFound))

		_, err := svc.Record(context.Background(), RecordRequest{Experiment: "missing", Arm: "a"})
		assert.True(t, services.IsNotFoundError(err))
		repo.AssertNotCalled(t, "RecordSample", mock.Anything, mock.Anything)
	})

	t.Run("database failure is internal", func(t *testing.T) {
		repo := new(MockExperimentRepository)
		svc := NewStoreService(repo, DefaultConfig(), zap.NewNop())

		repo.On("GetExperiment", mock.Anything, "exp").Return(nil, errors.New("connection refused"))

		_, err := svc.Record(context.Background(), RecordRequest{Experiment: "exp", Arm: "a"})
		assert.True(t, services.IsInternalError(err))
	})

	t.Run("stores sample with default domain", func(t *testing.T) {
		repo := new(MockExperimentRepository)
		svc := NewStoreService(repo, DefaultConfig(), zap.NewNop())

		repo.On("GetExperiment", mock.Anything, "exp").Return(&models.Experiment{Name: "exp"}, nil)
		repo.On("RecordSample", mock.Anything, mock.MatchedBy(func(s *models.ExperimentSample) bool {
			return s.Domain == "general" && s.Arm == "a" && s.Score == 0.9
		})).Return(nil)

		sample, err := svc.Record(context.Background(), RecordRequest{Experiment: "exp", Arm: "a", Score: 0.9})
		require.NoError(t, err)
		assert.Equal(t, "general", sample.Domain)
		repo.AssertExpectations(t)
	})
}

func TestStoreService_Summary(t *testing.T) {
	repo := new(MockExperimentRepository)
	svc := NewStoreService(repo, Config{PromoteUplift: 0.03, MaxCostDelta: 0.1, MinN: 2}, zap.NewNop())
	now := time.Now()

	repo.On("GetExperiment", mock.Anything, "exp").
		Return(&models.Experiment{Name: "exp", Arms: []string{"base", "cand"}}, nil)
	repo.On("ListSamples", mock.Anything, "exp").Return([]*models.ExperimentSample{
		{Arm: "base", Score: 0.5, CreatedAt: now},
		{Arm: "base", Score: 0.5, CreatedAt: now},
		{Arm: "cand", Score: 0.75, CreatedAt: now},
		{Arm: "cand", Score: 0.75, CreatedAt: now},
		{Arm: "other", Score: 0.1, CreatedAt: now},
	}, nil)

	s, err := svc.Summary(context.Background(), "exp", "", "")
	require.NoError(t, err)
	assert.Equal(t, "base", s.ArmA)
	assert.Equal(t, "cand", s.ArmB)
	assert.True(t, s.Ready)
	assert.Equal(t, 0.25, s.Uplift)
	assert.True(t, s.RecommendPromote)
}
