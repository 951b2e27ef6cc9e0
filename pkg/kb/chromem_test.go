package kb

import (
	"context"
	"io"
	"log/slog"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testEmbedding maps text onto a 3-axis keyword space so similarity is
// deterministic without a real model.
func testEmbedding(_ context.Context, text string) ([]float32, error) {
	lowered := strings.ToLower(text)
	vec := []float32{1, 0, 0}

	if strings.Contains(lowered, "upload") {
		vec = []float32{0, 1, 0}
	}

	if strings.Contains(lowered, "cache") {
		vec = []float32{0, 0, 1}
	}

	if strings.Contains(lowered, "upload") && strings.Contains(lowered, "cache") {
		vec = []float32{0, 1, 1}
	}

	var norm float32
	for _, v := range vec {
		norm += v * v
	}

	norm = float32(math.Sqrt(float64(norm)))
	for i := range vec {
		vec[i] /= norm
	}

	return vec, nil
}

func newTestStore(t *testing.T) *ChromemStore {
	t.Helper()

	store, err := NewChromemStore("", testEmbedding, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	return store
}

func TestSearchEmptyStore(t *testing.T) {
	store := newTestStore(t)

	response, err := store.Search(t.Context(), "anything", SearchOptions{})
	require.NoError(t, err)
	assert.Empty(t, response.Results)
	assert.Zero(t, response.Metadata.Total)
	assert.False(t, response.Metadata.FallbackMode)
}

func TestWriteAndSearchLearning(t *testing.T) {
	store := newTestStore(t)
	ctx := t.Context()

	require.NoError(t, store.WriteLearning(ctx, &Learning{
		StoryID: "GAL-001",
		Content: "Chunked upload avoids gateway timeouts on large files",
		Tags:    []string{"upload", "performance"},
	}))
	require.NoError(t, store.WriteLearning(ctx, &Learning{
		StoryID: "SET-004",
		Content: "Cache invalidation must follow set mutations",
		Tags:    []string{"cache"},
	}))

	response, err := store.Search(ctx, "upload timeout handling", SearchOptions{Limit: 1})
	require.NoError(t, err)
	require.Len(t, response.Results, 1)
	assert.Contains(t, response.Results[0].Content, "upload")
	assert.Equal(t, "GAL-001", response.Results[0].Metadata["story_id"])
}

func TestSearchIdenticalContentScoresHigh(t *testing.T) {
	store := newTestStore(t)
	ctx := t.Context()

	content := "Chunked upload avoids gateway timeouts"
	require.NoError(t, store.WriteLearning(ctx, &Learning{StoryID: "GAL-001", Content: content}))

	response, err := store.Search(ctx, content, SearchOptions{Limit: 1})
	require.NoError(t, err)
	require.Len(t, response.Results, 1)
	assert.InDelta(t, 1.0, float64(response.Results[0].Score), 0.01)
}

func TestWriteLearningGeneratesID(t *testing.T) {
	store := newTestStore(t)

	learning := &Learning{StoryID: "GAL-001", Content: "something worth keeping"}
	require.NoError(t, store.WriteLearning(t.Context(), learning))
	assert.NotEmpty(t, learning.ID)
	assert.False(t, learning.CreatedAt.IsZero())
}

func TestWriteLearningRejectsEmptyContent(t *testing.T) {
	store := newTestStore(t)

	err := store.WriteLearning(t.Context(), &Learning{StoryID: "GAL-001"})
	assert.Error(t, err)
}

func TestSearchLimitCappedAtCollectionSize(t *testing.T) {
	store := newTestStore(t)
	ctx := t.Context()

	require.NoError(t, store.WriteLearning(ctx, &Learning{StoryID: "GAL-001", Content: "only entry"}))

	response, err := store.Search(ctx, "entry", SearchOptions{Limit: 50})
	require.NoError(t, err)
	assert.Len(t, response.Results, 1)
}
