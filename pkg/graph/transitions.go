// Package graph drives a story's phase state machine: an explicit
// transition table plus an executor that walks nodes phase by phase,
// applying each node's delta atomically and checkpointing at phase
// boundaries.
package graph

import (
	"github.com/michael-menard/storyflow/pkg/models"
)

// NextPhase returns the phase that follows p on the main path. ok is false
// for terminal and side states.
func NextPhase(p models.WorkflowPhase) (models.WorkflowPhase, bool) {
	main := models.MainPhases()
	for i, phase := range main {
		if phase == p && i+1 < len(main) {
			return main[i+1], true
		}
	}

	return "", false
}

// CanTransition reports whether the state machine permits moving from one
// phase to another. Permitted moves: one step forward on the main path,
// re-entering the same phase (retry), any main phase into a side state,
// and a side state back into any main phase (operator unblock).
func CanTransition(from, to models.WorkflowPhase) bool {
	if !from.IsValid() || !to.IsValid() {
		return false
	}

	if from == to {
		return !from.IsTerminal()
	}

	if from.IsTerminal() {
		return false
	}

	if to.IsSideState() {
		return !from.IsSideState()
	}

	if from.IsSideState() {
		return !to.IsSideState()
	}

	next, ok := NextPhase(from)

	return ok && next == to
}

// PhaseForRoute resolves a routing flag into the phase the story moves to.
// ok is false for proceed past the last phase.
func PhaseForRoute(current models.WorkflowPhase, flag models.RoutingFlag) (models.WorkflowPhase, bool) {
	switch flag {
	case models.RouteRetry:
		return current, true
	case models.RouteBlocked:
		return models.PhaseBlocked, true
	case models.RouteEscalate:
		return models.PhaseEscalated, true
	case models.RouteComplete:
		return models.PhaseComplete, true
	default:
		return NextPhase(current)
	}
}
