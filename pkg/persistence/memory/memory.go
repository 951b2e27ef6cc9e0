// Package memory provides an in-memory persistence implementation for tests
// and local development.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/michael-menard/storyflow/pkg/models"
	"github.com/michael-menard/storyflow/pkg/persistence"
)

// Persistence is an in-memory implementation of persistence.Persistence.
// Safe for concurrent use.
type Persistence struct {
	storyRepo    *StoryRepository
	workflowRepo *WorkflowRepository
}

// NewPersistence creates an empty in-memory persistence layer.
func NewPersistence() *Persistence {
	return &Persistence{
		storyRepo: &StoryRepository{stories: make(map[string]*models.StoryArtifact)},
		workflowRepo: &WorkflowRepository{
			elaborations:  make(map[string][]*persistence.ElaborationRecord),
			plans:         make(map[string][]*persistence.PlanRecord),
			verifications: make(map[string][]*persistence.VerificationRecord),
			proofs:        make(map[string][]*persistence.ProofRecord),
			checkpoints:   make(map[string][]*persistence.CheckpointRecord),
		},
	}
}

func (p *Persistence) StoryRepository() persistence.StoryRepository {
	return p.storyRepo
}

func (p *Persistence) WorkflowRepository() persistence.WorkflowRepository {
	return p.workflowRepo
}

// Workflow returns the concrete workflow repository, exposing the test
// helpers the interface hides.
func (p *Persistence) Workflow() *WorkflowRepository {
	return p.workflowRepo
}

func (p *Persistence) HealthCheck(_ context.Context) error { return nil }

func (p *Persistence) Close(_ context.Context) error { return nil }

// StoryRepository is the in-memory story store.
type StoryRepository struct {
	mu          sync.RWMutex
	stories     map[string]*models.StoryArtifact
	transitions []*persistence.StateTransition
	nextID      int64
}

func (r *StoryRepository) CreateStory(_ context.Context, story *models.StoryArtifact, actor string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.stories[story.ID]; exists {
		return persistence.NewStoryError("CreateStory", story.ID, persistence.ErrStoryAlreadyExists)
	}

	if !story.State.IsValid() {
		return persistence.NewStoryError("CreateStory", story.ID, persistence.ErrInvalidStoryState)
	}

	now := time.Now().UTC()

	if story.CreatedAt.IsZero() {
		story.CreatedAt = now
	}

	story.UpdatedAt = now

	copied := *story
	r.stories[story.ID] = &copied

	r.nextID++
	r.transitions = append(r.transitions, &persistence.StateTransition{
		ID:        r.nextID,
		StoryID:   story.ID,
		ToState:   story.State,
		Actor:     actor,
		Reason:    "Story created",
		CreatedAt: now,
	})

	return nil
}

func (r *StoryRepository) Story(_ context.Context, storyID string) (*models.StoryArtifact, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	story, ok := r.stories[storyID]
	if !ok {
		return nil, persistence.NewStoryError("Story", storyID, persistence.ErrStoryNotFound)
	}

	copied := *story

	return &copied, nil
}

func (r *StoryRepository) UpdateStory(_ context.Context, story *models.StoryArtifact, actor, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.stories[story.ID]
	if !ok {
		return persistence.NewStoryError("UpdateStory", story.ID, persistence.ErrStoryNotFound)
	}

	if !story.State.IsValid() {
		return persistence.NewStoryError("UpdateStory", story.ID, persistence.ErrInvalidStoryState)
	}

	fromState := existing.State
	story.UpdatedAt = time.Now().UTC()

	copied := *story
	r.stories[story.ID] = &copied

	if fromState != story.State {
		r.nextID++
		r.transitions = append(r.transitions, &persistence.StateTransition{
			ID:        r.nextID,
			StoryID:   story.ID,
			FromState: &fromState,
			ToState:   story.State,
			Actor:     actor,
			Reason:    reason,
			CreatedAt: story.UpdatedAt,
		})
	}

	return nil
}

func (r *StoryRepository) UpdateStoryState(_ context.Context, storyID string, newState models.StoryState, actor, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	story, ok := r.stories[storyID]
	if !ok {
		return persistence.NewStoryError("UpdateStoryState", storyID, persistence.ErrStoryNotFound)
	}

	if !newState.IsValid() {
		return persistence.NewStoryError("UpdateStoryState", storyID, persistence.ErrInvalidStoryState)
	}

	fromState := story.State
	story.State = newState
	story.UpdatedAt = time.Now().UTC()

	r.nextID++
	r.transitions = append(r.transitions, &persistence.StateTransition{
		ID:        r.nextID,
		StoryID:   storyID,
		FromState: &fromState,
		ToState:   newState,
		Actor:     actor,
		Reason:    reason,
		CreatedAt: story.UpdatedAt,
	})

	return nil
}

func (r *StoryRepository) StoriesByState(_ context.Context, state models.StoryState) ([]*models.StoryArtifact, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stories := make([]*models.StoryArtifact, 0)

	for _, story := range r.stories {
		if story.State == state {
			copied := *story
			stories = append(stories, &copied)
		}
	}

	return stories, nil
}

func (r *StoryRepository) StateTransitions(_ context.Context, storyID string) ([]*persistence.StateTransition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	transitions := make([]*persistence.StateTransition, 0)

	for _, t := range r.transitions {
		if t.StoryID == storyID {
			copied := *t
			transitions = append(transitions, &copied)
		}
	}

	return transitions, nil
}

// WorkflowRepository is the in-memory workflow artifact store.
type WorkflowRepository struct {
	mu            sync.RWMutex
	elaborations  map[string][]*persistence.ElaborationRecord
	plans         map[string][]*persistence.PlanRecord
	verifications map[string][]*persistence.VerificationRecord
	proofs        map[string][]*persistence.ProofRecord
	checkpoints   map[string][]*persistence.CheckpointRecord
	tokenUsage    []persistence.TokenUsageInput
	nextID        int64
}

func (r *WorkflowRepository) SaveElaboration(_ context.Context, storyID string, content map[string]any, readinessScore *int, gapsCount int, createdBy string) (*persistence.ElaborationRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	record := &persistence.ElaborationRecord{
		ID:             r.nextID,
		StoryID:        storyID,
		Version:        len(r.elaborations[storyID]) + 1,
		Content:        content,
		ReadinessScore: readinessScore,
		GapsCount:      gapsCount,
		CreatedBy:      createdBy,
		CreatedAt:      time.Now().UTC(),
	}
	r.elaborations[storyID] = append(r.elaborations[storyID], record)

	return record, nil
}

func (r *WorkflowRepository) LatestElaboration(_ context.Context, storyID string) (*persistence.ElaborationRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	records := r.elaborations[storyID]
	if len(records) == 0 {
		return nil, &persistence.ArtifactError{Op: "LatestElaboration", StoryID: storyID, ArtifactKind: "elaboration", Err: persistence.ErrArtifactNotFound}
	}

	return records[len(records)-1], nil
}

func (r *WorkflowRepository) SavePlan(_ context.Context, storyID string, content map[string]any, createdBy string) (*persistence.PlanRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	record := &persistence.PlanRecord{
		ID:        r.nextID,
		StoryID:   storyID,
		Version:   len(r.plans[storyID]) + 1,
		Content:   content,
		CreatedBy: createdBy,
		CreatedAt: time.Now().UTC(),
	}
	r.plans[storyID] = append(r.plans[storyID], record)

	return record, nil
}

func (r *WorkflowRepository) LatestPlan(_ context.Context, storyID string) (*persistence.PlanRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	records := r.plans[storyID]
	if len(records) == 0 {
		return nil, &persistence.ArtifactError{Op: "LatestPlan", StoryID: storyID, ArtifactKind: "plan", Err: persistence.ErrArtifactNotFound}
	}

	return records[len(records)-1], nil
}

func (r *WorkflowRepository) SaveVerification(_ context.Context, storyID, verificationType string, content map[string]any, verdict string, issuesCount int, createdBy string) (*persistence.VerificationRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	version := 0

	for _, v := range r.verifications[storyID] {
		if v.Type == verificationType {
			version = v.Version
		}
	}

	r.nextID++
	record := &persistence.VerificationRecord{
		ID:          r.nextID,
		StoryID:     storyID,
		Version:     version + 1,
		Type:        verificationType,
		Content:     content,
		Verdict:     verdict,
		IssuesCount: issuesCount,
		CreatedBy:   createdBy,
		CreatedAt:   time.Now().UTC(),
	}
	r.verifications[storyID] = append(r.verifications[storyID], record)

	return record, nil
}

func (r *WorkflowRepository) LatestVerification(_ context.Context, storyID, verificationType string) (*persistence.VerificationRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var latest *persistence.VerificationRecord

	for _, v := range r.verifications[storyID] {
		if v.Type == verificationType {
			latest = v
		}
	}

	if latest == nil {
		return nil, &persistence.ArtifactError{Op: "LatestVerification", StoryID: storyID, ArtifactKind: "verification", Err: persistence.ErrArtifactNotFound}
	}

	return latest, nil
}

func (r *WorkflowRepository) SaveProof(_ context.Context, storyID string, content map[string]any, acsPassing, acsTotal, filesTouched int, createdBy string) (*persistence.ProofRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	record := &persistence.ProofRecord{
		ID:             r.nextID,
		StoryID:        storyID,
		Version:        len(r.proofs[storyID]) + 1,
		Content:        content,
		ACsPassing:     acsPassing,
		ACsTotal:       acsTotal,
		FilesTouched:   filesTouched,
		AllACsVerified: acsTotal > 0 && acsPassing == acsTotal,
		CreatedBy:      createdBy,
		CreatedAt:      time.Now().UTC(),
	}
	r.proofs[storyID] = append(r.proofs[storyID], record)

	return record, nil
}

func (r *WorkflowRepository) LatestProof(_ context.Context, storyID string) (*persistence.ProofRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	records := r.proofs[storyID]
	if len(records) == 0 {
		return nil, &persistence.ArtifactError{Op: "LatestProof", StoryID: storyID, ArtifactKind: "proof", Err: persistence.ErrArtifactNotFound}
	}

	return records[len(records)-1], nil
}

func (r *WorkflowRepository) LogTokenUsage(_ context.Context, usage persistence.TokenUsageInput) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tokenUsage = append(r.tokenUsage, usage)

	return nil
}

func (r *WorkflowRepository) TokenTotal(_ context.Context, storyID, phase string) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var total int64

	for _, usage := range r.tokenUsage {
		if usage.StoryID == storyID && usage.Phase == phase {
			total += usage.TokensInput + usage.TokensOutput
		}
	}

	return total, nil
}

func (r *WorkflowRepository) SaveCheckpoint(_ context.Context, storyID string, state []byte, createdBy string) (*persistence.CheckpointRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	record := &persistence.CheckpointRecord{
		ID:        r.nextID,
		StoryID:   storyID,
		Version:   len(r.checkpoints[storyID]) + 1,
		State:     append([]byte(nil), state...),
		CreatedBy: createdBy,
		CreatedAt: time.Now().UTC(),
	}
	r.checkpoints[storyID] = append(r.checkpoints[storyID], record)

	return record, nil
}

func (r *WorkflowRepository) LatestCheckpoint(_ context.Context, storyID string) (*persistence.CheckpointRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	records := r.checkpoints[storyID]
	if len(records) == 0 {
		return nil, &persistence.ArtifactError{Op: "LatestCheckpoint", StoryID: storyID, ArtifactKind: "checkpoint", Err: persistence.ErrCheckpointNotFound}
	}

	return records[len(records)-1], nil
}

// CheckpointCount reports how many checkpoints a story has. Used by tests to
// assert diff-based save skipping.
func (r *WorkflowRepository) CheckpointCount(storyID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.checkpoints[storyID])
}
