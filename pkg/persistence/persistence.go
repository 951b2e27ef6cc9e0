// Package persistence provides the data storage abstraction for stories and
// per-phase workflow artifacts.
package persistence

import (
	"context"
	"time"

	"github.com/michael-menard/storyflow/pkg/models"
)

// Persistence is the root storage handle. Node code never issues raw queries;
// everything goes through the repositories it exposes.
type Persistence interface {
	StoryRepository() StoryRepository
	WorkflowRepository() WorkflowRepository
	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// StateTransition is one audited story state change.
type StateTransition struct {
	ID        int64              `json:"id"`
	StoryID   string             `json:"story_id"`
	FromState *models.StoryState `json:"from_state,omitempty"`
	ToState   models.StoryState  `json:"to_state"`
	Actor     string             `json:"actor"`
	Reason    string             `json:"reason"`
	CreatedAt time.Time          `json:"created_at"`
}

// StoryRepository owns the stories table and its transition audit trail.
type StoryRepository interface {
	CreateStory(ctx context.Context, story *models.StoryArtifact, actor string) error
	Story(ctx context.Context, storyID string) (*models.StoryArtifact, error)
	UpdateStory(ctx context.Context, story *models.StoryArtifact, actor, reason string) error
	UpdateStoryState(ctx context.Context, storyID string, newState models.StoryState, actor, reason string) error
	StoriesByState(ctx context.Context, state models.StoryState) ([]*models.StoryArtifact, error)
	StateTransitions(ctx context.Context, storyID string) ([]*StateTransition, error)
}

// ElaborationRecord is one versioned elaboration checkpoint.
type ElaborationRecord struct {
	ID             int64          `json:"id"`
	StoryID        string         `json:"story_id"`
	Version        int            `json:"version"`
	Content        map[string]any `json:"content"`
	ReadinessScore *int           `json:"readiness_score,omitempty"`
	GapsCount      int            `json:"gaps_count"`
	CreatedBy      string         `json:"created_by"`
	CreatedAt      time.Time      `json:"created_at"`
}

// PlanRecord is one versioned implementation plan.
type PlanRecord struct {
	ID        int64          `json:"id"`
	StoryID   string         `json:"story_id"`
	Version   int            `json:"version"`
	Content   map[string]any `json:"content"`
	CreatedBy string         `json:"created_by"`
	CreatedAt time.Time      `json:"created_at"`
}

// VerificationRecord is one versioned verification (qa_verify, review, uat).
type VerificationRecord struct {
	ID          int64          `json:"id"`
	StoryID     string         `json:"story_id"`
	Version     int            `json:"version"`
	Type        string         `json:"type"`
	Content     map[string]any `json:"content"`
	Verdict     string         `json:"verdict"`
	IssuesCount int            `json:"issues_count"`
	CreatedBy   string         `json:"created_by"`
	CreatedAt   time.Time      `json:"created_at"`
}

// ProofRecord is one versioned completion proof.
type ProofRecord struct {
	ID             int64          `json:"id"`
	StoryID        string         `json:"story_id"`
	Version        int            `json:"version"`
	Content        map[string]any `json:"content"`
	ACsPassing     int            `json:"acs_passing"`
	ACsTotal       int            `json:"acs_total"`
	FilesTouched   int            `json:"files_touched"`
	AllACsVerified bool           `json:"all_acs_verified"`
	CreatedBy      string         `json:"created_by"`
	CreatedAt      time.Time      `json:"created_at"`
}

// TokenUsageInput is one LLM call's token accounting.
type TokenUsageInput struct {
	StoryID      string `json:"story_id"`
	Phase        string `json:"phase"`
	TokensInput  int64  `json:"tokens_input"`
	TokensOutput int64  `json:"tokens_output"`
	Model        string `json:"model"`
	AgentName    string `json:"agent_name"`
}

// CheckpointRecord is one serialized graph state snapshot. Checkpoints are
// append-only: a new row per save, never an in-place update.
type CheckpointRecord struct {
	ID        int64     `json:"id"`
	StoryID   string    `json:"story_id"`
	Version   int       `json:"version"`
	State     []byte    `json:"state"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

// WorkflowRepository owns the per-phase artifact tables. Each Save appends a
// new versioned row; Latest accessors return the newest version.
type WorkflowRepository interface {
	SaveElaboration(ctx context.Context, storyID string, content map[string]any, readinessScore *int, gapsCount int, createdBy string) (*ElaborationRecord, error)
	LatestElaboration(ctx context.Context, storyID string) (*ElaborationRecord, error)

	SavePlan(ctx context.Context, storyID string, content map[string]any, createdBy string) (*PlanRecord, error)
	LatestPlan(ctx context.Context, storyID string) (*PlanRecord, error)

	SaveVerification(ctx context.Context, storyID, verificationType string, content map[string]any, verdict string, issuesCount int, createdBy string) (*VerificationRecord, error)
	LatestVerification(ctx context.Context, storyID, verificationType string) (*VerificationRecord, error)

	SaveProof(ctx context.Context, storyID string, content map[string]any, acsPassing, acsTotal, filesTouched int, createdBy string) (*ProofRecord, error)
	LatestProof(ctx context.Context, storyID string) (*ProofRecord, error)

	LogTokenUsage(ctx context.Context, usage TokenUsageInput) error
	TokenTotal(ctx context.Context, storyID, phase string) (int64, error)

	SaveCheckpoint(ctx context.Context, storyID string, state []byte, createdBy string) (*CheckpointRecord, error)
	LatestCheckpoint(ctx context.Context, storyID string) (*CheckpointRecord, error)
}
