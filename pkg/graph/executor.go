package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/michael-menard/storyflow/pkg/eventbus"
	"github.com/michael-menard/storyflow/pkg/events"
	"github.com/michael-menard/storyflow/pkg/lock"
	"github.com/michael-menard/storyflow/pkg/models"
	"github.com/michael-menard/storyflow/pkg/nodes/loaddb"
	"github.com/michael-menard/storyflow/pkg/nodes/savedb"
	"github.com/michael-menard/storyflow/pkg/protocol"
)

// DefaultMaxPhaseRetries bounds retry loops within one phase before the
// story is parked in blocked.
const DefaultMaxPhaseRetries = 3

// ErrRerunRefused is returned when the idempotency guard refuses to re-enter
// a phase that already ran.
var ErrRerunRefused = errors.New("phase re-run refused by idempotency guard")

// PhaseNodes maps each main phase to the nodes that run in it, in order.
// Phases absent from the map pass through with no work.
type PhaseNodes map[models.WorkflowPhase][]protocol.Node

// Options configures an Executor.
type Options struct {
	// Locker serializes phase entry across concurrent runs. Nil means a
	// process-local lock.
	Locker lock.PhaseLocker

	// Guard grades phase re-runs. Nil disables idempotency checks.
	Guard *lock.Guard

	// Bus receives run/phase/checkpoint events. Nil disables publication.
	// Publish failures are logged, never fatal.
	Bus eventbus.EventPublisher

	// MaxPhaseRetries bounds retry routing per phase. Zero means
	// DefaultMaxPhaseRetries.
	MaxPhaseRetries int

	// Confirmed conveys operator approval for soft-gated re-runs.
	Confirmed bool
}

// RunResult summarizes one graph run.
type RunResult struct {
	State         *models.GraphState
	RunID         string
	NodesExecuted int
	Retries       int
	Duration      time.Duration
}

// Executor walks a story through the phase state machine.
type Executor struct {
	loader *loaddb.Loader
	saver  *savedb.Saver
	nodes  PhaseNodes
	opts   Options
	logger *slog.Logger
}

func NewExecutor(loader *loaddb.Loader, saver *savedb.Saver, nodes PhaseNodes, opts Options, logger *slog.Logger) *Executor {
	if opts.Locker == nil {
		opts.Locker = lock.NewMemoryLocker()
	}

	if opts.MaxPhaseRetries <= 0 {
		opts.MaxPhaseRetries = DefaultMaxPhaseRetries
	}

	return &Executor{
		loader: loader,
		saver:  saver,
		nodes:  nodes,
		opts:   opts,
		logger: logger.With("module", "graph"),
	}
}

// Run loads the story's state and advances it until it reaches a terminal
// or side state. The returned state is also checkpointed, so a blocked or
// escalated story is durably inspectable.
func (e *Executor) Run(ctx context.Context, storyID string) (*RunResult, error) {
	runID := uuid.New().String()
	started := time.Now()
	logger := e.logger.With("story_id", storyID, "run_id", runID)

	state, err := e.loader.Load(ctx, storyID)
	if err != nil {
		return nil, fmt.Errorf("loading state for %s: %w", storyID, err)
	}

	result := &RunResult{State: state, RunID: runID}

	e.publish(ctx, storyID, events.RunStarted{
		BaseEvent: e.baseEvent(events.RunStartedEvent, storyID, runID),
		Phase:     state.Phase,
	})

	for !state.Phase.IsTerminal() && !state.Phase.IsSideState() {
		if err := e.runPhase(ctx, state, result, logger); err != nil {
			e.publish(ctx, storyID, events.RunFailed{
				BaseEvent: e.baseEvent(events.RunFailedEvent, storyID, runID),
				Phase:     state.Phase,
				Error:     err.Error(),
				Duration:  time.Since(started),
			})

			result.Duration = time.Since(started)

			return result, err
		}
	}

	if err := e.checkpoint(ctx, state, runID); err != nil {
		return result, err
	}

	result.Duration = time.Since(started)

	e.publish(ctx, storyID, events.RunFinished{
		BaseEvent:     e.baseEvent(events.RunFinishedEvent, storyID, runID),
		Phase:         state.Phase,
		NodesExecuted: result.NodesExecuted,
		Duration:      result.Duration,
	})

	logger.InfoContext(ctx, "Graph run finished",
		"phase", state.Phase,
		"nodes_executed", result.NodesExecuted,
		"retries", result.Retries)

	return result, nil
}

// runPhase executes one phase under its lock and checkpoints the outcome.
// It mutates state.Phase according to the nodes' routing flags.
func (e *Executor) runPhase(ctx context.Context, state *models.GraphState, result *RunResult, logger *slog.Logger) error {
	phase := state.Phase
	phaseStart := time.Now()

	if e.opts.Guard != nil {
		decision, err := e.opts.Guard.Check(ctx, state.StoryID, phase, e.opts.Confirmed)
		if err != nil {
			return err
		}

		if !decision.Allowed {
			return fmt.Errorf("%w: %s/%s: %s", ErrRerunRefused, state.StoryID, phase, decision.Reason)
		}
	}

	lease, err := e.opts.Locker.Acquire(ctx, state.StoryID, phase, result.RunID, 0)
	if err != nil {
		return err
	}

	defer func() {
		if err := e.opts.Locker.Release(ctx, lease); err != nil {
			logger.WarnContext(ctx, "Phase lock release failed", "phase", phase, "error", err)
		}
	}()

	retries := 0
	route := models.RouteProceed

phaseLoop:
	for {
		route = models.RouteProceed
		routedBy := ""

		for _, node := range e.nodes[phase] {
			delta, err := node.Execute(ctx, state)
			if err != nil {
				return fmt.Errorf("node %s in phase %s: %w", node.ID(), phase, err)
			}

			state.Apply(delta)
			result.NodesExecuted++

			flag := state.RouteFor(node.ID())
			if flag != models.RouteProceed {
				route = flag
				routedBy = node.ID()

				break
			}
		}

		switch route {
		case models.RouteProceed, models.RouteSkip, models.RouteComplete:
			break phaseLoop

		case models.RouteRetry:
			retries++
			result.Retries++

			if retries > e.opts.MaxPhaseRetries {
				logger.WarnContext(ctx, "Phase retry budget exhausted",
					"phase", phase, "retries", retries)

				state.Phase = models.PhaseBlocked

				e.publish(ctx, state.StoryID, events.PhaseBlocked{
					BaseEvent: e.baseEvent(events.PhaseBlockedEvent, state.StoryID, result.RunID),
					Phase:     phase,
					NodeID:    routedBy,
					Reason:    "retry budget exhausted",
				})

				return e.checkpoint(ctx, state, result.RunID)
			}

			// Clear the retry flag so the re-run starts clean.
			delete(state.RoutingFlags, routedBy)

			continue

		case models.RouteBlocked:
			state.Phase = models.PhaseBlocked

			e.publish(ctx, state.StoryID, events.PhaseBlocked{
				BaseEvent: e.baseEvent(events.PhaseBlockedEvent, state.StoryID, result.RunID),
				Phase:     phase,
				NodeID:    routedBy,
				Reason:    "node routed blocked",
			})

			return e.checkpoint(ctx, state, result.RunID)

		case models.RouteEscalate:
			state.Phase = models.PhaseEscalated

			e.publish(ctx, state.StoryID, events.PhaseEscalated{
				BaseEvent: e.baseEvent(events.PhaseEscalatedEvent, state.StoryID, result.RunID),
				Phase:     phase,
				NodeID:    routedBy,
				Reason:    "node routed escalate",
			})

			return e.checkpoint(ctx, state, result.RunID)
		}
	}

	next, ok := PhaseForRoute(phase, route)
	if !ok {
		next = models.PhaseComplete
	}

	state.Phase = next

	// Entering complete is gated on every required gate being settled in
	// the story's favor. A violating state parks in blocked instead.
	if next == models.PhaseComplete {
		if validation := models.SafeValidateGraphState(state); !validation.Valid {
			logger.WarnContext(ctx, "Completion refused, state invalid",
				"phase", phase, "violations", len(validation.Violations))

			state.Phase = models.PhaseBlocked

			e.publish(ctx, state.StoryID, events.PhaseBlocked{
				BaseEvent: e.baseEvent(events.PhaseBlockedEvent, state.StoryID, result.RunID),
				Phase:     phase,
				Reason:    validation.Violations[0].Message,
			})

			return e.checkpoint(ctx, state, result.RunID)
		}
	}

	if e.opts.Guard != nil {
		if err := e.opts.Guard.Complete(ctx, state.StoryID, phase); err != nil {
			logger.WarnContext(ctx, "Recording phase completion failed", "phase", phase, "error", err)
		}
	}

	e.publish(ctx, state.StoryID, events.PhaseCompleted{
		BaseEvent:  e.baseEvent(events.PhaseCompletedEvent, state.StoryID, result.RunID),
		Phase:      phase,
		Next:       next,
		DurationMs: time.Since(phaseStart).Milliseconds(),
	})

	e.publish(ctx, state.StoryID, events.PhaseEntered{
		BaseEvent: e.baseEvent(events.PhaseEnteredEvent, state.StoryID, result.RunID),
		Phase:     next,
		From:      phase,
	})

	return e.checkpoint(ctx, state, result.RunID)
}

func (e *Executor) checkpoint(ctx context.Context, state *models.GraphState, runID string) error {
	record, err := e.saver.Save(ctx, state, runID)
	if err != nil {
		return fmt.Errorf("checkpointing %s at %s: %w", state.StoryID, state.Phase, err)
	}

	if record != nil {
		e.publish(ctx, state.StoryID, events.CheckpointSaved{
			BaseEvent: e.baseEvent(events.CheckpointSavedEvent, state.StoryID, runID),
			Phase:     state.Phase,
			Version:   record.Version,
		})
	}

	return nil
}

func (e *Executor) baseEvent(eventType events.EventType, storyID, runID string) events.BaseEvent {
	base := events.NewBaseEvent(eventType, storyID)
	base.RunID = runID

	return base
}

func (e *Executor) publish(ctx context.Context, key string, event eventbus.Event) {
	if e.opts.Bus == nil {
		return
	}

	if err := e.opts.Bus.Publish(ctx, key, event); err != nil {
		e.logger.WarnContext(ctx, "Event publish failed",
			"event_type", event.GetType(), "error", err)
	}
}
