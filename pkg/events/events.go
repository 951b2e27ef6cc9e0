// Package events defines the story workflow lifecycle notifications
// published on the event bus.
package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/michael-menard/storyflow/pkg/models"
)

type EventType string

// Topic carries every story workflow event.
const Topic = "storyflow.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Run lifecycle.
	RunStartedEvent  EventType = "run.started"
	RunFinishedEvent EventType = "run.finished"
	RunFailedEvent   EventType = "run.failed"

	// Phase transitions.
	PhaseEnteredEvent   EventType = "phase.entered"
	PhaseCompletedEvent EventType = "phase.completed"
	PhaseBlockedEvent   EventType = "phase.blocked"
	PhaseEscalatedEvent EventType = "phase.escalated"

	// Persistence and gates.
	CheckpointSavedEvent EventType = "checkpoint.saved"
	GateDecidedEvent     EventType = "gate.decided"
)

type BaseEvent struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	StoryID   string         `json:"story_id"`
	RunID     string         `json:"run_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func NewBaseEvent(eventType EventType, storyID string) BaseEvent {
	return BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		StoryID:   storyID,
		Metadata:  make(map[string]any),
	}
}

type RunStarted struct {
	BaseEvent

	Phase models.WorkflowPhase `json:"phase"`
}

func (e RunStarted) GetType() EventType {
	return RunStartedEvent
}

type RunFinished struct {
	BaseEvent

	Phase         models.WorkflowPhase `json:"phase"`
	NodesExecuted int                  `json:"nodes_executed"`
	Duration      time.Duration        `json:"duration"`
}

func (e RunFinished) GetType() EventType {
	return RunFinishedEvent
}

type RunFailed struct {
	BaseEvent

	Phase    models.WorkflowPhase `json:"phase"`
	Error    string               `json:"error"`
	Duration time.Duration        `json:"duration"`
}

func (e RunFailed) GetType() EventType {
	return RunFailedEvent
}

type PhaseEntered struct {
	BaseEvent

	Phase models.WorkflowPhase `json:"phase"`
	From  models.WorkflowPhase `json:"from"`
}

func (e PhaseEntered) GetType() EventType {
	return PhaseEnteredEvent
}

type PhaseCompleted struct {
	BaseEvent

	Phase      models.WorkflowPhase `json:"phase"`
	Next       models.WorkflowPhase `json:"next"`
	DurationMs int64                `json:"duration_ms"`
}

func (e PhaseCompleted) GetType() EventType {
	return PhaseCompletedEvent
}

type PhaseBlocked struct {
	BaseEvent

	Phase  models.WorkflowPhase `json:"phase"`
	NodeID string               `json:"node_id"`
	Reason string               `json:"reason"`
}

func (e PhaseBlocked) GetType() EventType {
	return PhaseBlockedEvent
}

type PhaseEscalated struct {
	BaseEvent

	Phase  models.WorkflowPhase `json:"phase"`
	NodeID string               `json:"node_id"`
	Reason string               `json:"reason"`
}

func (e PhaseEscalated) GetType() EventType {
	return PhaseEscalatedEvent
}

type CheckpointSaved struct {
	BaseEvent

	Phase   models.WorkflowPhase `json:"phase"`
	Version int                  `json:"version"`
}

func (e CheckpointSaved) GetType() EventType {
	return CheckpointSavedEvent
}

type GateDecided struct {
	BaseEvent

	Gate     models.GateType     `json:"gate"`
	Decision models.GateDecision `json:"decision"`
	Waived   bool                `json:"waived"`
	Actor    string              `json:"actor,omitempty"`
}

func (e GateDecided) GetType() EventType {
	return GateDecidedEvent
}
