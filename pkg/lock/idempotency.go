package lock

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/michael-menard/storyflow/pkg/models"
)

// PhaseRunStatus describes what the guard remembers about a phase run.
type PhaseRunStatus string

const (
	RunNotStarted PhaseRunStatus = "not_started"
	RunInProgress PhaseRunStatus = "in_progress"
	RunCompleted  PhaseRunStatus = "completed"
)

// PhaseRecord is one remembered phase execution.
type PhaseRecord struct {
	StoryID     string
	Phase       models.WorkflowPhase
	Status      PhaseRunStatus
	StartedAt   time.Time
	CompletedAt time.Time
}

// RecordStore remembers phase executions across runs.
type RecordStore interface {
	PhaseRecord(ctx context.Context, storyID string, phase models.WorkflowPhase) (*PhaseRecord, error)
	MarkStarted(ctx context.Context, storyID string, phase models.WorkflowPhase) error
	MarkCompleted(ctx context.Context, storyID string, phase models.WorkflowPhase) error
}

// Decision is the guard's verdict on entering a phase.
type Decision struct {
	Allowed     bool
	PriorStatus PhaseRunStatus
	Reason      string
}

// Guard grades re-entry into a phase by enforcement level: advisory logs,
// warning warns, soft_gate requires explicit confirmation, hard_gate refuses.
type Guard struct {
	store  RecordStore
	mode   models.EnforcementLevel
	logger *slog.Logger
}

func NewGuard(store RecordStore, mode models.EnforcementLevel, logger *slog.Logger) *Guard {
	if !mode.IsValid() {
		mode = models.EnforcementWarning
	}

	return &Guard{
		store:  store,
		mode:   mode,
		logger: logger.With("module", "lock"),
	}
}

// Check decides whether a phase may run. First runs are always allowed and
// marked started. Re-runs escalate with the guard's mode; confirmed conveys
// explicit operator approval and satisfies soft_gate.
func (g *Guard) Check(ctx context.Context, storyID string, phase models.WorkflowPhase, confirmed bool) (*Decision, error) {
	record, err := g.store.PhaseRecord(ctx, storyID, phase)
	if err != nil {
		return nil, &LockError{Op: "check", StoryID: storyID, Phase: phase, Err: err}
	}

	prior := RunNotStarted
	if record != nil {
		prior = record.Status
	}

	if prior == RunNotStarted {
		if err := g.store.MarkStarted(ctx, storyID, phase); err != nil {
			return nil, &LockError{Op: "check", StoryID: storyID, Phase: phase, Err: err}
		}

		return &Decision{Allowed: true, PriorStatus: prior}, nil
	}

	decision := g.decideRerun(ctx, storyID, phase, prior, confirmed)
	if decision.Allowed {
		if err := g.store.MarkStarted(ctx, storyID, phase); err != nil {
			return nil, &LockError{Op: "check", StoryID: storyID, Phase: phase, Err: err}
		}
	}

	return decision, nil
}

func (g *Guard) decideRerun(ctx context.Context, storyID string, phase models.WorkflowPhase, prior PhaseRunStatus, confirmed bool) *Decision {
	attrs := []any{"story_id", storyID, "phase", phase, "prior_status", prior, "mode", g.mode}

	switch g.mode {
	case models.EnforcementAdvisory:
		g.logger.InfoContext(ctx, "Phase re-run detected", attrs...)

		return &Decision{Allowed: true, PriorStatus: prior}

	case models.EnforcementWarning:
		g.logger.WarnContext(ctx, "Phase re-run detected", attrs...)

		return &Decision{Allowed: true, PriorStatus: prior}

	case models.EnforcementSoftGate:
		if confirmed {
			g.logger.WarnContext(ctx, "Phase re-run confirmed by operator", attrs...)

			return &Decision{Allowed: true, PriorStatus: prior}
		}

		g.logger.WarnContext(ctx, "Phase re-run requires confirmation", attrs...)

		return &Decision{
			Allowed:     false,
			PriorStatus: prior,
			Reason:      "phase already ran, confirmation required",
		}

	default:
		g.logger.ErrorContext(ctx, "Phase re-run refused", attrs...)

		return &Decision{
			Allowed:     false,
			PriorStatus: prior,
			Reason:      "phase already ran, hard gate refuses re-entry",
		}
	}
}

// Complete records that the phase finished.
func (g *Guard) Complete(ctx context.Context, storyID string, phase models.WorkflowPhase) error {
	if err := g.store.MarkCompleted(ctx, storyID, phase); err != nil {
		return &LockError{Op: "complete", StoryID: storyID, Phase: phase, Err: err}
	}

	return nil
}

type recordKey struct {
	storyID string
	phase   models.WorkflowPhase
}

// MemoryRecordStore is a single-process RecordStore.
type MemoryRecordStore struct {
	mu      sync.Mutex
	records map[recordKey]*PhaseRecord
}

func NewMemoryRecordStore() *MemoryRecordStore {
	return &MemoryRecordStore{records: make(map[recordKey]*PhaseRecord)}
}

func (s *MemoryRecordStore) PhaseRecord(_ context.Context, storyID string, phase models.WorkflowPhase) (*PhaseRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[recordKey{storyID: storyID, phase: phase}]
	if !ok {
		return nil, nil
	}

	copied := *record

	return &copied, nil
}

func (s *MemoryRecordStore) MarkStarted(_ context.Context, storyID string, phase models.WorkflowPhase) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[recordKey{storyID: storyID, phase: phase}] = &PhaseRecord{
		StoryID:   storyID,
		Phase:     phase,
		Status:    RunInProgress,
		StartedAt: time.Now().UTC(),
	}

	return nil
}

func (s *MemoryRecordStore) MarkCompleted(_ context.Context, storyID string, phase models.WorkflowPhase) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := recordKey{storyID: storyID, phase: phase}

	record, ok := s.records[key]
	if !ok {
		record = &PhaseRecord{StoryID: storyID, Phase: phase, StartedAt: time.Now().UTC()}
		s.records[key] = record
	}

	record.Status = RunCompleted
	record.CompletedAt = time.Now().UTC()

	return nil
}
