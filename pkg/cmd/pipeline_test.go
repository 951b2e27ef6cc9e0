package cmd

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/michael-menard/storyflow/pkg/budget"
	"github.com/michael-menard/storyflow/pkg/eventbus"
	"github.com/michael-menard/storyflow/pkg/events"
	"github.com/michael-menard/storyflow/pkg/models"
	"github.com/michael-menard/storyflow/pkg/persistence"
	"github.com/michael-menard/storyflow/pkg/persistence/memory"
)

type capturingPublisher struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (p *capturingPublisher) Publish(_ context.Context, _ string, event eventbus.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)

	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testState(t *testing.T, phase models.WorkflowPhase) *models.GraphState {
	t.Helper()

	state, err := models.CreateInitialState(models.InitialStateParams{StoryID: "GAL-101"})
	require.NoError(t, err)

	state.Phase = phase

	return state
}

func TestPipelineGatePassesWithReadyElaboration(t *testing.T) {
	store := memory.NewPersistence()

	readiness := 92
	_, err := store.WorkflowRepository().SaveElaboration(t.Context(), "GAL-101",
		map[string]any{"summary": "well understood"}, &readiness, 1, "elaborator")
	require.NoError(t, err)

	nodes := NewPhaseNodes(store, PipelineOptions{}, testLogger())
	state := testState(t, models.PhaseQAGate)

	for _, node := range nodes[models.PhaseQAGate] {
		delta, execErr := node.Execute(t.Context(), state)
		require.NoError(t, execErr)
		state.Apply(delta)
	}

	assert.Equal(t, models.GatePass, state.GateDecisions[models.GateQAGate])
	assert.Equal(t, models.RouteProceed, state.RouteFor("commitment_gate"))
	assert.Equal(t, "db://elaborations/GAL-101/v1", state.ArtifactPaths[models.ArtifactQAGate])
}

func TestPipelineGateFailsWithoutElaboration(t *testing.T) {
	store := memory.NewPersistence()

	nodes := NewPhaseNodes(store, PipelineOptions{}, testLogger())
	state := testState(t, models.PhaseQAGate)

	for _, node := range nodes[models.PhaseQAGate] {
		delta, err := node.Execute(t.Context(), state)
		require.NoError(t, err)
		state.Apply(delta)
	}

	assert.Equal(t, models.GateFail, state.GateDecisions[models.GateQAGate])
	assert.Equal(t, models.RouteBlocked, state.RouteFor("commitment_gate"))
}

func TestPipelineGateCountsUnrecoverableErrorsAsBlockers(t *testing.T) {
	store := memory.NewPersistence()

	readiness := 95
	_, err := store.WorkflowRepository().SaveElaboration(t.Context(), "GAL-101",
		map[string]any{}, &readiness, 0, "elaborator")
	require.NoError(t, err)

	nodes := NewPhaseNodes(store, PipelineOptions{}, testLogger())
	state := testState(t, models.PhaseQAGate)
	state.Errors = append(state.Errors, models.NodeError{
		NodeID:    "implementer",
		Message:   "compile failed",
		Timestamp: time.Now().UTC(),
	})

	for _, node := range nodes[models.PhaseQAGate] {
		delta, execErr := node.Execute(t.Context(), state)
		require.NoError(t, execErr)
		state.Apply(delta)
	}

	assert.Equal(t, models.GateFail, state.GateDecisions[models.GateQAGate])
}

func TestPipelineBudgetNodeBlocksExhaustedPhase(t *testing.T) {
	store := memory.NewPersistence()
	tracker := budget.NewTracker(store.WorkflowRepository(), budget.Config{
		DefaultLimit: 100,
		Level:        models.EnforcementHardGate,
	}, testLogger())

	require.NoError(t, tracker.Record(t.Context(), persistence.TokenUsageInput{
		StoryID:      "GAL-101",
		Phase:        "implementing",
		TokensInput:  80,
		TokensOutput: 40,
		Model:        "llama3.1:8b",
		AgentName:    "developer",
	}))

	nodes := NewPhaseNodes(store, PipelineOptions{Budget: tracker}, testLogger())
	require.Len(t, nodes[models.PhaseImplementing], 1)

	state := testState(t, models.PhaseImplementing)

	delta, err := nodes[models.PhaseImplementing][0].Execute(t.Context(), state)
	require.NoError(t, err)
	state.Apply(delta)

	assert.Equal(t, models.RouteBlocked, state.RouteFor("budget_check"))
}

func TestPipelineGatePublishesDecision(t *testing.T) {
	store := memory.NewPersistence()
	bus := &capturingPublisher{}

	readiness := 92
	_, err := store.WorkflowRepository().SaveElaboration(t.Context(), "GAL-101",
		map[string]any{}, &readiness, 0, "elaborator")
	require.NoError(t, err)

	nodes := NewPhaseNodes(store, PipelineOptions{Bus: bus}, testLogger())
	state := testState(t, models.PhaseQAGate)

	for _, node := range nodes[models.PhaseQAGate] {
		delta, execErr := node.Execute(t.Context(), state)
		require.NoError(t, execErr)
		state.Apply(delta)
	}

	require.Len(t, bus.events, 1)

	decided, ok := bus.events[0].(events.GateDecided)
	require.True(t, ok)
	assert.Equal(t, models.GateQAGate, decided.Gate)
	assert.Equal(t, models.GatePass, decided.Decision)
	assert.False(t, decided.Waived)
	assert.Equal(t, "GAL-101", decided.StoryID)
}

func TestPipelineOmitsOptionalNodes(t *testing.T) {
	nodes := NewPhaseNodes(memory.NewPersistence(), PipelineOptions{}, testLogger())

	assert.Empty(t, nodes[models.PhaseElaborating])
	assert.Empty(t, nodes[models.PhaseImplementing])
	assert.Len(t, nodes[models.PhaseQAGate], 1)
}
