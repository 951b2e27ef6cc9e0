package graph

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/michael-menard/storyflow/pkg/eventbus"
	"github.com/michael-menard/storyflow/pkg/events"
	"github.com/michael-menard/storyflow/pkg/lock"
	"github.com/michael-menard/storyflow/pkg/mocks"
	"github.com/michael-menard/storyflow/pkg/models"
	"github.com/michael-menard/storyflow/pkg/nodes/loaddb"
	"github.com/michael-menard/storyflow/pkg/nodes/savedb"
	"github.com/michael-menard/storyflow/pkg/persistence/memory"
	"github.com/michael-menard/storyflow/pkg/protocol"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubNode struct {
	id    string
	calls int
	fn    func(calls int, state *models.GraphState) *models.StateDelta
}

func (n *stubNode) ID() string { return n.id }

func (n *stubNode) Execute(_ context.Context, state *models.GraphState) (*models.StateDelta, error) {
	n.calls++

	if n.fn == nil {
		return &models.StateDelta{
			RoutingFlags: map[string]models.RoutingFlag{n.id: models.RouteProceed},
		}, nil
	}

	return n.fn(n.calls, state), nil
}

type capturingBus struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (b *capturingBus) Publish(_ context.Context, _ string, event eventbus.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)

	return nil
}

func (b *capturingBus) typesSeen() []events.EventType {
	b.mu.Lock()
	defer b.mu.Unlock()

	seen := make([]events.EventType, 0, len(b.events))
	for _, event := range b.events {
		seen = append(seen, event.GetType())
	}

	return seen
}

func newExecutor(t *testing.T, nodes PhaseNodes, opts Options) (*Executor, *memory.Persistence) {
	t.Helper()

	store := memory.NewPersistence()
	loader := loaddb.NewLoader(store, testLogger())
	saver := savedb.NewSaver(store, testLogger())

	return NewExecutor(loader, saver, nodes, opts, testLogger()), store
}

func proceedingNodes() PhaseNodes {
	nodes := make(PhaseNodes)
	for _, phase := range models.MainPhases() {
		if phase.IsTerminal() {
			continue
		}

		nodes[phase] = []protocol.Node{&stubNode{id: string(phase) + "-work"}}
	}

	return nodes
}

// passGatesDelta settles every required gate so the complete phase
// validates, and routes the given flag.
func passGatesDelta(nodeID string, flag models.RoutingFlag) *models.StateDelta {
	decisions := make(map[models.GateType]models.GateDecision)
	paths := make(map[models.ArtifactType]string)

	for _, gate := range models.RequiredGates() {
		decisions[gate] = models.GatePass
		paths[models.ArtifactForGate(gate)] = "plans/future/gallery/in-progress/GAL-101/" + string(gate) + ".yaml"
	}

	return &models.StateDelta{
		GateDecisions: decisions,
		ArtifactPaths: paths,
		RoutingFlags:  map[string]models.RoutingFlag{nodeID: flag},
	}
}

func TestRunAdvancesThroughAllPhases(t *testing.T) {
	// Gates must pass for the complete phase to validate.
	nodes := proceedingNodes()
	nodes[models.PhaseQAGate] = []protocol.Node{&stubNode{
		id: "qa-gate",
		fn: func(_ int, _ *models.GraphState) *models.StateDelta {
			return passGatesDelta("qa-gate", models.RouteProceed)
		},
	}}

	bus := &capturingBus{}
	executor, _ := newExecutor(t, nodes, Options{Bus: bus})

	result, err := executor.Run(t.Context(), "GAL-101")
	require.NoError(t, err)

	assert.Equal(t, models.PhaseComplete, result.State.Phase)
	assert.Equal(t, len(nodes), result.NodesExecuted)
	assert.Zero(t, result.Retries)

	seen := bus.typesSeen()
	assert.Contains(t, seen, events.RunStartedEvent)
	assert.Contains(t, seen, events.RunFinishedEvent)
	assert.Contains(t, seen, events.PhaseCompletedEvent)
	assert.Contains(t, seen, events.CheckpointSavedEvent)

	for _, event := range bus.events {
		if saved, ok := event.(events.CheckpointSaved); ok {
			assert.Positive(t, saved.Version)
		}
	}
}

func TestRunCompleteRouteTerminates(t *testing.T) {
	// A complete route ends the run immediately; later phases never execute.
	sentinel := &stubNode{id: "impl"}

	nodes := PhaseNodes{
		models.PhaseCreated: []protocol.Node{&stubNode{id: "triage"}},
		models.PhaseElaborating: []protocol.Node{&stubNode{
			id: "elab",
			fn: func(_ int, _ *models.GraphState) *models.StateDelta {
				return passGatesDelta("elab", models.RouteComplete)
			},
		}},
		models.PhaseImplementing: []protocol.Node{sentinel},
	}

	executor, _ := newExecutor(t, nodes, Options{})

	result, err := executor.Run(t.Context(), "GAL-101")
	require.NoError(t, err)

	assert.Equal(t, models.PhaseComplete, result.State.Phase)
	assert.Zero(t, sentinel.calls)
}

func TestRunBlocksCompletionWithPendingGates(t *testing.T) {
	// Proceeding past the last phase with undecided gates parks the story
	// in blocked instead of completing it.
	bus := &capturingBus{}
	executor, store := newExecutor(t, proceedingNodes(), Options{Bus: bus})

	result, err := executor.Run(t.Context(), "GAL-101")
	require.NoError(t, err)

	assert.Equal(t, models.PhaseBlocked, result.State.Phase)
	assert.Contains(t, bus.typesSeen(), events.PhaseBlockedEvent)

	loader := loaddb.NewLoader(store, testLogger())
	reloaded, err := loader.Load(t.Context(), "GAL-101")
	require.NoError(t, err)
	assert.Equal(t, models.PhaseBlocked, reloaded.Phase)
}

func TestRunCompleteRouteWithPendingGatesBlocks(t *testing.T) {
	nodes := PhaseNodes{
		models.PhaseCreated: []protocol.Node{&stubNode{
			id: "triage",
			fn: func(_ int, _ *models.GraphState) *models.StateDelta {
				return &models.StateDelta{
					RoutingFlags: map[string]models.RoutingFlag{"triage": models.RouteComplete},
				}
			},
		}},
	}

	executor, _ := newExecutor(t, nodes, Options{})

	result, err := executor.Run(t.Context(), "GAL-101")
	require.NoError(t, err)
	assert.Equal(t, models.PhaseBlocked, result.State.Phase)
}

func TestRunStopsOnBlockedRoute(t *testing.T) {
	nodes := proceedingNodes()
	nodes[models.PhaseImplementing] = []protocol.Node{&stubNode{
		id: "impl",
		fn: func(_ int, _ *models.GraphState) *models.StateDelta {
			return &models.StateDelta{
				RoutingFlags: map[string]models.RoutingFlag{"impl": models.RouteBlocked},
			}
		},
	}}

	bus := &capturingBus{}
	executor, store := newExecutor(t, nodes, Options{Bus: bus})

	result, err := executor.Run(t.Context(), "GAL-101")
	require.NoError(t, err)

	assert.Equal(t, models.PhaseBlocked, result.State.Phase)
	assert.Contains(t, bus.typesSeen(), events.PhaseBlockedEvent)

	// The blocked state is durably checkpointed.
	loader := loaddb.NewLoader(store, testLogger())
	reloaded, err := loader.Load(t.Context(), "GAL-101")
	require.NoError(t, err)
	assert.Equal(t, models.PhaseBlocked, reloaded.Phase)
}

func TestRunStopsOnEscalateRoute(t *testing.T) {
	nodes := PhaseNodes{
		models.PhaseCreated: []protocol.Node{&stubNode{
			id: "triage",
			fn: func(_ int, _ *models.GraphState) *models.StateDelta {
				return &models.StateDelta{
					RoutingFlags: map[string]models.RoutingFlag{"triage": models.RouteEscalate},
				}
			},
		}},
	}

	executor, _ := newExecutor(t, nodes, Options{})

	result, err := executor.Run(t.Context(), "GAL-101")
	require.NoError(t, err)
	assert.Equal(t, models.PhaseEscalated, result.State.Phase)
}

func TestRunRetriesThenSucceeds(t *testing.T) {
	flaky := &stubNode{id: "flaky"}
	flaky.fn = func(calls int, _ *models.GraphState) *models.StateDelta {
		flag := models.RouteProceed
		if calls < 3 {
			flag = models.RouteRetry
		}

		return &models.StateDelta{
			RoutingFlags: map[string]models.RoutingFlag{"flaky": flag},
		}
	}

	nodes := PhaseNodes{
		models.PhaseCreated: []protocol.Node{flaky},
		models.PhaseQAGate: []protocol.Node{&stubNode{
			id: "qa-gate",
			fn: func(_ int, _ *models.GraphState) *models.StateDelta {
				return passGatesDelta("qa-gate", models.RouteProceed)
			},
		}},
	}
	executor, _ := newExecutor(t, nodes, Options{})

	result, err := executor.Run(t.Context(), "GAL-101")
	require.NoError(t, err)

	assert.Equal(t, 3, flaky.calls)
	assert.Equal(t, 2, result.Retries)
	assert.Equal(t, models.PhaseComplete, result.State.Phase)
}

func TestRunRetryBudgetExhaustedBlocks(t *testing.T) {
	stuck := &stubNode{id: "stuck"}
	stuck.fn = func(_ int, _ *models.GraphState) *models.StateDelta {
		return &models.StateDelta{
			RoutingFlags: map[string]models.RoutingFlag{"stuck": models.RouteRetry},
		}
	}

	nodes := PhaseNodes{models.PhaseCreated: []protocol.Node{stuck}}
	executor, _ := newExecutor(t, nodes, Options{MaxPhaseRetries: 2})

	result, err := executor.Run(t.Context(), "GAL-101")
	require.NoError(t, err)

	assert.Equal(t, models.PhaseBlocked, result.State.Phase)
	assert.Equal(t, 3, stuck.calls)
}

func TestRunGuardHardGateRefusesSecondRun(t *testing.T) {
	guard := lock.NewGuard(lock.NewMemoryRecordStore(), models.EnforcementHardGate, testLogger())

	stopper := &stubNode{id: "stop"}
	stopper.fn = func(_ int, _ *models.GraphState) *models.StateDelta {
		return &models.StateDelta{
			RoutingFlags: map[string]models.RoutingFlag{"stop": models.RouteBlocked},
		}
	}

	nodes := PhaseNodes{models.PhaseCreated: []protocol.Node{stopper}}

	store := memory.NewPersistence()
	loader := loaddb.NewLoader(store, testLogger())
	saver := savedb.NewSaver(store, testLogger())

	first := NewExecutor(loader, saver, nodes, Options{Guard: guard}, testLogger())
	_, err := first.Run(t.Context(), "GAL-101")
	require.NoError(t, err)

	// Rewind the story so the second run re-enters the same phase.
	state, err := loader.Load(t.Context(), "GAL-101")
	require.NoError(t, err)
	state.Phase = models.PhaseCreated
	_, err = saver.Save(t.Context(), state, "test")
	require.NoError(t, err)

	second := NewExecutor(loader, saver, nodes, Options{Guard: guard}, testLogger())
	_, err = second.Run(t.Context(), "GAL-101")
	require.ErrorIs(t, err, ErrRerunRefused)
}

func TestRunFailsFastWhenPhaseLockHeld(t *testing.T) {
	locker := lock.NewMemoryLocker()

	_, err := locker.Acquire(t.Context(), "GAL-101", models.PhaseCreated, "other-run", 0)
	require.NoError(t, err)

	nodes := PhaseNodes{models.PhaseCreated: []protocol.Node{&stubNode{id: "work"}}}
	executor, _ := newExecutor(t, nodes, Options{Locker: locker})

	_, err = executor.Run(t.Context(), "GAL-101")
	require.ErrorIs(t, err, lock.ErrLockHeld)
}

func TestRunToleratesPublishFailures(t *testing.T) {
	bus := &mocks.MockEventBus{}
	bus.On("Publish", mock.Anything, mock.Anything, mock.Anything).
		Return(errors.New("broker down"))

	nodes := PhaseNodes{
		models.PhaseCreated: []protocol.Node{&stubNode{
			id: "triage",
			fn: func(_ int, _ *models.GraphState) *models.StateDelta {
				return &models.StateDelta{
					RoutingFlags: map[string]models.RoutingFlag{"triage": models.RouteBlocked},
				}
			},
		}},
	}

	executor, _ := newExecutor(t, nodes, Options{Bus: bus})

	result, err := executor.Run(t.Context(), "GAL-101")
	require.NoError(t, err)
	assert.Equal(t, models.PhaseBlocked, result.State.Phase)
}

func TestRunPhaseWithNoNodesPassesThrough(t *testing.T) {
	// Only one phase routes blocked; everything before it is empty and
	// passes through.
	nodes := PhaseNodes{
		models.PhaseImplementing: []protocol.Node{&stubNode{
			id: "impl",
			fn: func(_ int, _ *models.GraphState) *models.StateDelta {
				return &models.StateDelta{
					RoutingFlags: map[string]models.RoutingFlag{"impl": models.RouteBlocked},
				}
			},
		}},
	}

	executor, _ := newExecutor(t, nodes, Options{})

	result, err := executor.Run(t.Context(), "GAL-101")
	require.NoError(t, err)
	assert.Equal(t, models.PhaseBlocked, result.State.Phase)
	assert.Equal(t, 1, result.NodesExecuted)
}
