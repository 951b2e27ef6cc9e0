package models

import "time"

// StoryState represents the lifecycle state of a story row. This is the
// database-side vocabulary; the in-flight workflow position is WorkflowPhase.
type StoryState string

const (
	StoryStateDraft       StoryState = "draft"
	StoryStateBacklog     StoryState = "backlog"
	StoryStateReadyToWork StoryState = "ready-to-work"
	StoryStateInProgress  StoryState = "in-progress"
	StoryStateReadyForQA  StoryState = "ready-for-qa"
	StoryStateUAT         StoryState = "uat"
	StoryStateDone        StoryState = "done"
	StoryStateCancelled   StoryState = "cancelled"
)

// IsValid reports whether the state is a known story state.
func (s StoryState) IsValid() bool {
	switch s {
	case StoryStateDraft, StoryStateBacklog, StoryStateReadyToWork,
		StoryStateInProgress, StoryStateReadyForQA, StoryStateUAT,
		StoryStateDone, StoryStateCancelled:
		return true
	}

	return false
}

// StoryType classifies the kind of work a story represents.
type StoryType string

const (
	StoryTypeFeature        StoryType = "feature"
	StoryTypeEnhancement    StoryType = "enhancement"
	StoryTypeBug            StoryType = "bug"
	StoryTypeTechDebt       StoryType = "tech-debt"
	StoryTypeSpike          StoryType = "spike"
	StoryTypeInfrastructure StoryType = "infrastructure"
	StoryTypeDocumentation  StoryType = "documentation"
)

// PriorityLevel classifies story priority.
type PriorityLevel string

const (
	PriorityCritical PriorityLevel = "critical"
	PriorityHigh     PriorityLevel = "high"
	PriorityMedium   PriorityLevel = "medium"
	PriorityLow      PriorityLevel = "low"
)

// SurfaceType is the canonical (database-side, long-form) surface vocabulary.
// The filesystem YAML convention uses short forms; pkg/bridge translates.
type SurfaceType string

const (
	SurfaceFrontend       SurfaceType = "frontend"
	SurfaceBackend        SurfaceType = "backend"
	SurfaceInfrastructure SurfaceType = "infrastructure"
	SurfaceDatabase       SurfaceType = "database"
	SurfaceDocumentation  SurfaceType = "documentation"
)

// AcceptanceCriterion is a single testable requirement on a story.
type AcceptanceCriterion struct {
	ID          string `json:"id"          validate:"required"`
	Description string `json:"description" validate:"required"`
	Testable    bool   `json:"testable"`
	Automated   bool   `json:"automated"`
}

// Risk captures a known risk on a story.
type Risk struct {
	ID          string  `json:"id"          validate:"required"`
	Description string  `json:"description" validate:"required"`
	Severity    string  `json:"severity"    validate:"oneof=high medium low"`
	Mitigation  *string `json:"mitigation,omitempty"`
}

// StoryScope bounds the packages and surfaces a story may touch.
type StoryScope struct {
	Packages []string      `json:"packages"`
	Surfaces []SurfaceType `json:"surfaces"`
}

// StoryArtifact is the durable record of a story. Created on first workflow
// invocation, mutated at phase boundaries, never hard-deleted.
type StoryArtifact struct {
	Schema       int                   `json:"schema"`
	ID           string                `json:"id"       validate:"required"`
	Feature      string                `json:"feature"  validate:"required"`
	Type         StoryType             `json:"type"     validate:"required"`
	State        StoryState            `json:"state"    validate:"required"`
	Title        string                `json:"title"    validate:"required"`
	Goal         string                `json:"goal"`
	Points       *int                  `json:"points,omitempty"`
	Priority     PriorityLevel         `json:"priority"`
	BlockedBy    *string               `json:"blocked_by,omitempty"`
	DependsOn    []string              `json:"depends_on"`
	FollowUpFrom *string               `json:"follow_up_from,omitempty"`
	Scope        StoryScope            `json:"scope"`
	NonGoals     []string              `json:"non_goals"`
	ACs          []AcceptanceCriterion `json:"acs"`
	Risks        []Risk                `json:"risks"`
	CreatedAt    time.Time             `json:"created_at"`
	UpdatedAt    time.Time             `json:"updated_at"`
}
