package runner

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tmc/langchaingo/llms"

	"github.com/michael-menard/storyflow/pkg/llm"
	"github.com/michael-menard/storyflow/pkg/models"
)

type stubModel struct{}

func (stubModel) GenerateContent(_ context.Context, _ []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	return &llms.ContentResponse{}, nil
}

func (stubModel) Call(_ context.Context, _ string, _ ...llms.CallOption) (string, error) {
	return "", nil
}

func stubSelector(assignments map[string]string) *llm.Selector {
	cfg := &llm.Config{
		Assignments:     assignments,
		DefaultFallback: "openai:gpt-4o-mini",
		OllamaURL:       "http://localhost:11434",
		ProbeTTL:        time.Minute,
	}

	return llm.NewSelector(cfg, testLogger(),
		llm.WithAvailabilityProbe(func(_ context.Context) bool { return false }),
		llm.WithClientFactory(func(_, _ string) (llms.Model, error) { return stubModel{}, nil }),
	)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testState(t *testing.T) *models.GraphState {
	t.Helper()

	state, err := models.CreateInitialState(models.InitialStateParams{StoryID: "GAL-001"})
	require.NoError(t, err)

	return state
}

func TestToolNodeSuccess(t *testing.T) {
	phase := models.PhaseElaborating

	node := NewToolNode("elaborate", func(_ context.Context, _ *models.GraphState) (*models.StateDelta, error) {
		return &models.StateDelta{Phase: &phase}, nil
	}, Options{Logger: testLogger()})

	delta, err := node.Execute(t.Context(), testState(t))
	require.NoError(t, err)
	assert.Equal(t, phase, *delta.Phase)
}

func TestToolNodeFailureIsCapturedNotPropagated(t *testing.T) {
	node := NewToolNode("elaborate", func(_ context.Context, _ *models.GraphState) (*models.StateDelta, error) {
		return nil, errors.New("database on fire")
	}, Options{Logger: testLogger()})

	delta, err := node.Execute(t.Context(), testState(t))
	require.NoError(t, err, "the runner must never propagate a node error")
	require.Len(t, delta.Errors, 1)
	assert.Equal(t, "elaborate", delta.Errors[0].NodeID)
	assert.False(t, delta.Errors[0].Recoverable)
	assert.Equal(t, models.RouteBlocked, delta.RoutingFlags["elaborate"])
}

func TestToolNodeRecoverableErrorRoutesToRetry(t *testing.T) {
	sentinel := errors.New("transient")

	node := NewToolNode("save", func(_ context.Context, _ *models.GraphState) (*models.StateDelta, error) {
		return nil, sentinel
	}, Options{
		Logger:      testLogger(),
		Recoverable: func(err error) bool { return errors.Is(err, sentinel) },
	})

	delta, err := node.Execute(t.Context(), testState(t))
	require.NoError(t, err)
	assert.True(t, delta.Errors[0].Recoverable)
	assert.Equal(t, models.RouteRetry, delta.RoutingFlags["save"])
}

func TestToolNodeEscalateRoute(t *testing.T) {
	node := NewToolNode("gate", func(_ context.Context, _ *models.GraphState) (*models.StateDelta, error) {
		return nil, errors.New("cannot evaluate gate")
	}, Options{Logger: testLogger(), NonRecoverableRoute: models.RouteEscalate})

	delta, err := node.Execute(t.Context(), testState(t))
	require.NoError(t, err)
	assert.Equal(t, models.RouteEscalate, delta.RoutingFlags["gate"])
}

func TestToolNodeTimeout(t *testing.T) {
	node := NewToolNode("slow", func(ctx context.Context, _ *models.GraphState) (*models.StateDelta, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Second):
			return &models.StateDelta{}, nil
		}
	}, Options{Logger: testLogger(), Timeout: 20 * time.Millisecond})

	delta, err := node.Execute(t.Context(), testState(t))
	require.NoError(t, err)
	require.Len(t, delta.Errors, 1)
	assert.Equal(t, string(CategoryTimeout), delta.Errors[0].Code)
}

func TestToolNodePanicIsCaptured(t *testing.T) {
	node := NewToolNode("panicky", func(_ context.Context, _ *models.GraphState) (*models.StateDelta, error) {
		panic("nil map write")
	}, Options{Logger: testLogger()})

	delta, err := node.Execute(t.Context(), testState(t))
	require.NoError(t, err)
	require.Len(t, delta.Errors, 1)
	assert.Contains(t, delta.Errors[0].Message, "nil map write")
	assert.NotEmpty(t, delta.Errors[0].Stack)
	assert.Equal(t, models.RouteBlocked, delta.RoutingFlags["panicky"])
}

func TestToolNodeRecordsMetrics(t *testing.T) {
	metrics := NewMetrics(16, Thresholds{}, nil)

	okNode := NewToolNode("ok", func(_ context.Context, _ *models.GraphState) (*models.StateDelta, error) {
		return &models.StateDelta{}, nil
	}, Options{Logger: testLogger(), Metrics: metrics})

	failNode := NewToolNode("fail", func(_ context.Context, _ *models.GraphState) (*models.StateDelta, error) {
		return nil, errors.New("boom")
	}, Options{Logger: testLogger(), Metrics: metrics})

	state := testState(t)

	_, err := okNode.Execute(t.Context(), state)
	require.NoError(t, err)
	_, err = failNode.Execute(t.Context(), state)
	require.NoError(t, err)

	snapshot := metrics.Snapshot()
	assert.Equal(t, int64(1), snapshot.Successes)
	assert.Equal(t, int64(1), snapshot.Failures)
	assert.Equal(t, int64(1), snapshot.ByCategory[CategoryOther])
}

func TestLLMNodeRecordsModelUsed(t *testing.T) {
	selector := stubSelector(map[string]string{"reviewer": "openai:gpt-4o"})

	node := NewLLMNode("review", "reviewer", selector, func(_ context.Context, _ *models.GraphState, selection *llm.Selection) (*models.StateDelta, error) {
		assert.Equal(t, "openai:gpt-4o", selection.ModelUsed)

		return &models.StateDelta{}, nil
	}, Options{Logger: testLogger()})

	delta, err := node.Execute(t.Context(), testState(t))
	require.NoError(t, err)

	result, ok := delta.NodeResults["review:model"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "openai:gpt-4o", result["used"])
	assert.Equal(t, false, result["fellback"])
}

func TestLLMNodeUnknownRoleBecomesNodeError(t *testing.T) {
	selector := stubSelector(map[string]string{})

	node := NewLLMNode("review", "ghost", selector, func(_ context.Context, _ *models.GraphState, _ *llm.Selection) (*models.StateDelta, error) {
		t.Fatal("body must not run without a model")

		return nil, nil
	}, Options{Logger: testLogger()})

	delta, err := node.Execute(t.Context(), testState(t))
	require.NoError(t, err)
	require.Len(t, delta.Errors, 1)
	assert.Contains(t, delta.Errors[0].Message, "no model assigned")
}
