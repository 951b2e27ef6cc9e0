// Package gates evaluates quality gates on the story workflow. The
// commitment gate decides whether a story is ready to move from planning
// into implementation.
package gates

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/michael-menard/storyflow/pkg/models"
)

// Default commitment gate thresholds.
const (
	DefaultMinReadiness = 85
	DefaultMaxBlockers  = 0
	DefaultMaxUnknowns  = 5
)

// Thresholds configures the commitment gate criteria.
type Thresholds struct {
	MinReadiness int `json:"min_readiness"`
	MaxBlockers  int `json:"max_blockers"`
	MaxUnknowns  int `json:"max_unknowns"`
}

// DefaultThresholds returns the standard gate configuration.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinReadiness: DefaultMinReadiness,
		MaxBlockers:  DefaultMaxBlockers,
		MaxUnknowns:  DefaultMaxUnknowns,
	}
}

// GateInput is the measured state the gate evaluates.
type GateInput struct {
	ReadinessScore int `json:"readiness_score"`
	BlockerCount   int `json:"blocker_count"`
	UnknownCount   int `json:"unknown_count"`
}

// GateCheckResult is the outcome of one criterion.
type GateCheckResult struct {
	Criterion string `json:"criterion"`
	Operator  string `json:"operator"`
	Threshold int    `json:"threshold"`
	Actual    int    `json:"actual"`
	Passed    bool   `json:"passed"`
}

// OverrideAuditEntry records a human override of a gate decision. Overrides
// are never silent.
type OverrideAuditEntry struct {
	GateType   models.GateType     `json:"gate_type"`
	Overridden models.GateDecision `json:"overridden"`
	NewValue   models.GateDecision `json:"new_value"`
	Actor      string              `json:"actor"`
	Reason     string              `json:"reason"`
	Timestamp  time.Time           `json:"timestamp"`
}

// CommitmentGateResult is the overall gate outcome.
type CommitmentGateResult struct {
	Decision models.GateDecision `json:"decision"`
	Checks   []GateCheckResult   `json:"checks"`
	Override *OverrideAuditEntry `json:"override,omitempty"`
}

// Passed reports whether the gate allows the story to proceed.
func (r *CommitmentGateResult) Passed() bool {
	return r.Decision == models.GatePass || r.Decision == models.GateWaived
}

// CommitmentGate evaluates readiness thresholds before implementation.
type CommitmentGate struct {
	thresholds Thresholds
	logger     *slog.Logger
}

// NewCommitmentGate creates a gate with the given thresholds.
func NewCommitmentGate(thresholds Thresholds, logger *slog.Logger) *CommitmentGate {
	return &CommitmentGate{
		thresholds: thresholds,
		logger:     logger.With("module", "gates"),
	}
}

// Evaluate runs every criterion and produces the overall decision. All
// criteria must pass for the gate to pass; any failure fails the gate.
func (g *CommitmentGate) Evaluate(ctx context.Context, storyID string, input GateInput) *CommitmentGateResult {
	checks := []GateCheckResult{
		{
			Criterion: "readiness_score",
			Operator:  ">=",
			Threshold: g.thresholds.MinReadiness,
			Actual:    input.ReadinessScore,
			Passed:    input.ReadinessScore >= g.thresholds.MinReadiness,
		},
		{
			Criterion: "blocker_count",
			Operator:  "<=",
			Threshold: g.thresholds.MaxBlockers,
			Actual:    input.BlockerCount,
			Passed:    input.BlockerCount <= g.thresholds.MaxBlockers,
		},
		{
			Criterion: "unknown_count",
			Operator:  "<=",
			Threshold: g.thresholds.MaxUnknowns,
			Actual:    input.UnknownCount,
			Passed:    input.UnknownCount <= g.thresholds.MaxUnknowns,
		},
	}

	decision := models.GatePass

	for _, check := range checks {
		if !check.Passed {
			decision = models.GateFail

			g.logger.WarnContext(ctx, "Gate criterion failed",
				"story_id", storyID,
				"criterion", check.Criterion,
				"operator", check.Operator,
				"threshold", check.Threshold,
				"actual", check.Actual)
		}
	}

	return &CommitmentGateResult{Decision: decision, Checks: checks}
}

// Override replaces a failed decision with a waiver and records who did it
// and why. An empty actor or reason is rejected.
func (g *CommitmentGate) Override(ctx context.Context, result *CommitmentGateResult, actor, reason string) error {
	if actor == "" || reason == "" {
		return fmt.Errorf("gate override requires both actor and reason")
	}

	entry := &OverrideAuditEntry{
		GateType:   models.GateQAGate,
		Overridden: result.Decision,
		NewValue:   models.GateWaived,
		Actor:      actor,
		Reason:     reason,
		Timestamp:  time.Now().UTC(),
	}

	result.Override = entry
	result.Decision = models.GateWaived

	g.logger.WarnContext(ctx, "Gate decision overridden",
		"gate", string(entry.GateType),
		"was", string(entry.Overridden),
		"now", string(entry.NewValue),
		"actor", actor,
		"reason", reason)

	return nil
}

// Delta converts a gate result into the state update the graph applies.
func (r *CommitmentGateResult) Delta(nodeID string) *models.StateDelta {
	route := models.RouteBlocked
	if r.Passed() {
		route = models.RouteProceed
	}

	delta := &models.StateDelta{
		GateDecisions: map[models.GateType]models.GateDecision{models.GateQAGate: r.Decision},
		RoutingFlags:  map[string]models.RoutingFlag{nodeID: route},
		NodeResults:   map[string]any{nodeID: r},
	}

	return delta
}
