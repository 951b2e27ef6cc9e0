package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/michael-menard/storyflow/pkg/models"
	"github.com/michael-menard/storyflow/pkg/persistence"
)

// MockStoryRepository is a mock implementation of persistence.StoryRepository.
type MockStoryRepository struct {
	mock.Mock
}

func (m *MockStoryRepository) CreateStory(ctx context.Context, story *models.StoryArtifact, actor string) error {
	args := m.Called(ctx, story, actor)

	return args.Error(0)
}

func (m *MockStoryRepository) Story(ctx context.Context, storyID string) (*models.StoryArtifact, error) {
	args := m.Called(ctx, storyID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.StoryArtifact), args.Error(1)
}

func (m *MockStoryRepository) UpdateStory(ctx context.Context, story *models.StoryArtifact, actor, reason string) error {
	args := m.Called(ctx, story, actor, reason)

	return args.Error(0)
}

func (m *MockStoryRepository) UpdateStoryState(ctx context.Context, storyID string, newState models.StoryState, actor, reason string) error {
	args := m.Called(ctx, storyID, newState, actor, reason)

	return args.Error(0)
}

func (m *MockStoryRepository) StoriesByState(ctx context.Context, state models.StoryState) ([]*models.StoryArtifact, error) {
	args := m.Called(ctx, state)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.StoryArtifact), args.Error(1)
}

func (m *MockStoryRepository) StateTransitions(ctx context.Context, storyID string) ([]*persistence.StateTransition, error) {
	args := m.Called(ctx, storyID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*persistence.StateTransition), args.Error(1)
}

// MockWorkflowRepository is a mock implementation of
// persistence.WorkflowRepository.
type MockWorkflowRepository struct {
	mock.Mock
}

func (m *MockWorkflowRepository) SaveElaboration(ctx context.Context, storyID string, content map[string]any, readinessScore *int, gapsCount int, createdBy string) (*persistence.ElaborationRecord, error) {
	args := m.Called(ctx, storyID, content, readinessScore, gapsCount, createdBy)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*persistence.ElaborationRecord), args.Error(1)
}

func (m *MockWorkflowRepository) LatestElaboration(ctx context.Context, storyID string) (*persistence.ElaborationRecord, error) {
	args := m.Called(ctx, storyID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*persistence.ElaborationRecord), args.Error(1)
}

func (m *MockWorkflowRepository) SavePlan(ctx context.Context, storyID string, content map[string]any, createdBy string) (*persistence.PlanRecord, error) {
	args := m.Called(ctx, storyID, content, createdBy)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*persistence.PlanRecord), args.Error(1)
}

func (m *MockWorkflowRepository) LatestPlan(ctx context.Context, storyID string) (*persistence.PlanRecord, error) {
	args := m.Called(ctx, storyID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*persistence.PlanRecord), args.Error(1)
}

func (m *MockWorkflowRepository) SaveVerification(ctx context.Context, storyID, verificationType string, content map[string]any, verdict string, issuesCount int, createdBy string) (*persistence.VerificationRecord, error) {
	args := m.Called(ctx, storyID, verificationType, content, verdict, issuesCount, createdBy)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*persistence.VerificationRecord), args.Error(1)
}

func (m *MockWorkflowRepository) LatestVerification(ctx context.Context, storyID, verificationType string) (*persistence.VerificationRecord, error) {
	args := m.Called(ctx, storyID, verificationType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*persistence.VerificationRecord), args.Error(1)
}

func (m *MockWorkflowRepository) SaveProof(ctx context.Context, storyID string, content map[string]any, acsPassing, acsTotal, filesTouched int, createdBy string) (*persistence.ProofRecord, error) {
	args := m.Called(ctx, storyID, content, acsPassing, acsTotal, filesTouched, createdBy)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*persistence.ProofRecord), args.Error(1)
}

func (m *MockWorkflowRepository) LatestProof(ctx context.Context, storyID string) (*persistence.ProofRecord, error) {
	args := m.Called(ctx, storyID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*persistence.ProofRecord), args.Error(1)
}

func (m *MockWorkflowRepository) LogTokenUsage(ctx context.Context, usage persistence.TokenUsageInput) error {
	args := m.Called(ctx, usage)

	return args.Error(0)
}

func (m *MockWorkflowRepository) TokenTotal(ctx context.Context, storyID, phase string) (int64, error) {
	args := m.Called(ctx, storyID, phase)

	return args.Get(0).(int64), args.Error(1)
}

func (m *MockWorkflowRepository) SaveCheckpoint(ctx context.Context, storyID string, state []byte, createdBy string) (*persistence.CheckpointRecord, error) {
	args := m.Called(ctx, storyID, state, createdBy)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*persistence.CheckpointRecord), args.Error(1)
}

func (m *MockWorkflowRepository) LatestCheckpoint(ctx context.Context, storyID string) (*persistence.CheckpointRecord, error) {
	args := m.Called(ctx, storyID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*persistence.CheckpointRecord), args.Error(1)
}
