// Package budget enforces per-phase token budgets over the workflow
// repository's token accounting. Enforcement escalates from advisory
// logging to a hard gate that blocks the phase before the budget would be
// exceeded, not after.
package budget

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/michael-menard/storyflow/pkg/models"
	"github.com/michael-menard/storyflow/pkg/persistence"
)

// DefaultPhaseLimit applies when a phase has no explicit budget.
const DefaultPhaseLimit int64 = 500_000

// Config holds per-phase budgets and the enforcement level.
type Config struct {
	// PhaseLimits maps phase name to its token budget. Missing phases use
	// DefaultLimit.
	PhaseLimits map[string]int64 `koanf:"phase_limits"`

	// DefaultLimit applies to phases absent from PhaseLimits. Zero means
	// DefaultPhaseLimit.
	DefaultLimit int64 `koanf:"default_limit"`

	Level models.EnforcementLevel `koanf:"level"`
}

// CheckResult is the tracker's verdict on spending more tokens in a phase.
type CheckResult struct {
	Allowed    bool
	Used       int64
	Estimated  int64
	Limit      int64
	Level      models.EnforcementLevel
	Reason     string
	WouldBlock bool
}

// Delta expresses a refusal as a routing update. Nil when the check passed.
func (r *CheckResult) Delta(nodeID string) *models.StateDelta {
	if r.Allowed {
		return nil
	}

	return &models.StateDelta{
		RoutingFlags: map[string]models.RoutingFlag{nodeID: models.RouteBlocked},
		NodeResults:  map[string]any{nodeID + ":budget": r},
	}
}

// Tracker accounts token usage per story and phase and grades overruns.
type Tracker struct {
	repo   persistence.WorkflowRepository
	cfg    Config
	logger *slog.Logger
}

func NewTracker(repo persistence.WorkflowRepository, cfg Config, logger *slog.Logger) *Tracker {
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = DefaultPhaseLimit
	}

	if !cfg.Level.IsValid() {
		cfg.Level = models.EnforcementWarning
	}

	return &Tracker{
		repo:   repo,
		cfg:    cfg,
		logger: logger.With("module", "budget"),
	}
}

// Record logs one LLM call's token usage against the story and phase.
func (t *Tracker) Record(ctx context.Context, usage persistence.TokenUsageInput) error {
	if err := t.repo.LogTokenUsage(ctx, usage); err != nil {
		return fmt.Errorf("recording token usage for %s/%s: %w", usage.StoryID, usage.Phase, err)
	}

	return nil
}

// Limit returns the budget for a phase.
func (t *Tracker) Limit(phase string) int64 {
	if limit, ok := t.cfg.PhaseLimits[phase]; ok && limit > 0 {
		return limit
	}

	return t.cfg.DefaultLimit
}

// Check decides whether an upcoming call estimated at estimatedTokens may
// run. The overrun condition is projected, so a hard gate stops the phase
// before the budget is spent. confirmed conveys operator approval and
// satisfies a soft gate.
func (t *Tracker) Check(ctx context.Context, storyID, phase string, estimatedTokens int64, confirmed bool) (*CheckResult, error) {
	used, err := t.repo.TokenTotal(ctx, storyID, phase)
	if err != nil {
		return nil, fmt.Errorf("reading token total for %s/%s: %w", storyID, phase, err)
	}

	limit := t.Limit(phase)

	result := &CheckResult{
		Allowed:   true,
		Used:      used,
		Estimated: estimatedTokens,
		Limit:     limit,
		Level:     t.cfg.Level,
	}

	if used+estimatedTokens <= limit {
		return result, nil
	}

	result.WouldBlock = true
	attrs := []any{
		"story_id", storyID,
		"phase", phase,
		"used", used,
		"estimated", estimatedTokens,
		"limit", limit,
		"level", t.cfg.Level,
	}

	switch t.cfg.Level {
	case models.EnforcementAdvisory:
		t.logger.InfoContext(ctx, "Token budget would be exceeded", attrs...)

	case models.EnforcementWarning:
		t.logger.WarnContext(ctx, "Token budget would be exceeded", attrs...)

	case models.EnforcementSoftGate:
		if confirmed {
			t.logger.WarnContext(ctx, "Token budget overrun confirmed by operator", attrs...)

			break
		}

		result.Allowed = false
		result.Reason = "token budget exceeded, confirmation required"
		t.logger.WarnContext(ctx, "Token budget soft gate tripped", attrs...)

	default:
		result.Allowed = false
		result.Reason = "token budget exceeded, hard gate blocks the phase"
		t.logger.ErrorContext(ctx, "Token budget hard gate tripped", attrs...)
	}

	return result, nil
}
