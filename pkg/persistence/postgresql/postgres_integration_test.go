//go:build integration
// +build integration

package postgresql

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/michael-menard/storyflow/pkg/models"
	"github.com/michael-menard/storyflow/pkg/persistence"
)

var postgresContainer *postgres.PostgresContainer

func TestMain(m *testing.M) {
	code := m.Run()

	if postgresContainer != nil {
		_ = postgresContainer.Terminate(context.Background())
	}

	os.Exit(code)
}

func setupTestDB(t *testing.T) *Persistence {
	t.Helper()

	ctx := context.Background()

	if postgresContainer == nil || !postgresContainer.IsRunning() {
		var err error
		postgresContainer, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("storyflow_test"),
			postgres.WithUsername("storyflow"),
			postgres.WithPassword("storyflow"),
			postgres.BasicWaitStrategies(),
		)
		require.NoError(t, err)
	}

	databaseURL, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, err := NewPersistence(ctx, logger, databaseURL)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close(ctx) })

	return store
}

func testStory(id string) *models.StoryArtifact {
	return &models.StoryArtifact{
		Schema:   1,
		ID:       id,
		Feature:  "gallery",
		Type:     models.StoryTypeFeature,
		State:    models.StoryStateBacklog,
		Title:    "Publish gallery thumbnails",
		Goal:     "Thumbnails render before a gallery goes live",
		Priority: models.PriorityMedium,
		Scope: models.StoryScope{
			Surfaces: []models.SurfaceType{models.SurfaceFrontend, models.SurfaceBackend},
		},
		ACs: []models.AcceptanceCriterion{
			{ID: "AC-1", Description: "Thumbnails exist for every image"},
		},
	}
}

func TestStoryLifecycle(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	repo := store.StoryRepository()

	story := testStory("GAL-9001")
	require.NoError(t, repo.CreateStory(ctx, story, "tester"))

	loaded, err := repo.Story(ctx, "GAL-9001")
	require.NoError(t, err)
	assert.Equal(t, story.Title, loaded.Title)
	assert.Equal(t, models.StoryStateBacklog, loaded.State)
	assert.Len(t, loaded.ACs, 1)

	require.NoError(t, repo.UpdateStoryState(ctx, "GAL-9001", models.StoryStateInProgress, "tester", "work started"))

	transitions, err := repo.StateTransitions(ctx, "GAL-9001")
	require.NoError(t, err)
	require.Len(t, transitions, 2)
	assert.Equal(t, models.StoryStateInProgress, transitions[len(transitions)-1].ToState)

	loaded.Title = "Publish gallery thumbnails reliably"
	loaded.State = models.StoryStateReadyForQA
	require.NoError(t, repo.UpdateStory(ctx, loaded, "tester", "scope refined"))

	updated, err := repo.Story(ctx, "GAL-9001")
	require.NoError(t, err)
	assert.Equal(t, "Publish gallery thumbnails reliably", updated.Title)
	assert.Equal(t, models.StoryStateReadyForQA, updated.State)
}

func TestStoryNotFound(t *testing.T) {
	store := setupTestDB(t)

	_, err := store.StoryRepository().Story(context.Background(), "GAL-0000")
	assert.True(t, persistence.IsStoryNotFound(err))
}

func TestCheckpointRoundTrip(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	repo := store.WorkflowRepository()

	state, err := models.CreateInitialState(models.InitialStateParams{StoryID: "GAL-9002"})
	require.NoError(t, err)

	payload, err := models.SerializeState(state)
	require.NoError(t, err)

	saved, err := repo.SaveCheckpoint(ctx, "GAL-9002", payload, "tester")
	require.NoError(t, err)
	assert.Equal(t, 1, saved.Version)

	latest, err := repo.LatestCheckpoint(ctx, "GAL-9002")
	require.NoError(t, err)

	restored, err := models.DeserializeState(latest.State)
	require.NoError(t, err)
	assert.True(t, models.StatesEqual(state, restored))

	// Checkpoints append, never overwrite.
	second, err := repo.SaveCheckpoint(ctx, "GAL-9002", payload, "tester")
	require.NoError(t, err)
	assert.Equal(t, 2, second.Version)
}

func TestTokenUsageAccumulatesPerPhase(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	repo := store.WorkflowRepository()

	for _, tokens := range []int64{100, 250} {
		require.NoError(t, repo.LogTokenUsage(ctx, persistence.TokenUsageInput{
			StoryID:      "GAL-9003",
			Phase:        "implementing",
			TokensInput:  tokens,
			TokensOutput: tokens,
			Model:        "llama3.1:8b",
			AgentName:    "developer",
		}))
	}

	total, err := repo.TokenTotal(ctx, "GAL-9003", "implementing")
	require.NoError(t, err)
	assert.Equal(t, int64(700), total)

	other, err := repo.TokenTotal(ctx, "GAL-9003", "planning")
	require.NoError(t, err)
	assert.Zero(t, other)
}

func TestVersionedElaborations(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	repo := store.WorkflowRepository()

	readiness := 72
	first, err := repo.SaveElaboration(ctx, "GAL-9004", map[string]any{"summary": "draft"}, &readiness, 3, "elaborator")
	require.NoError(t, err)
	assert.Equal(t, 1, first.Version)

	readiness = 90
	second, err := repo.SaveElaboration(ctx, "GAL-9004", map[string]any{"summary": "refined"}, &readiness, 0, "elaborator")
	require.NoError(t, err)
	assert.Equal(t, 2, second.Version)

	latest, err := repo.LatestElaboration(ctx, "GAL-9004")
	require.NoError(t, err)
	assert.Equal(t, 2, latest.Version)
	require.NotNil(t, latest.ReadinessScore)
	assert.Equal(t, 90, *latest.ReadinessScore)
}
