// Package loaddb populates the graph state from persistence at workflow
// start. It restores the newest checkpoint when one exists and builds a
// fresh initial state otherwise.
package loaddb

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/michael-menard/storyflow/pkg/models"
	"github.com/michael-menard/storyflow/pkg/persistence"
)

// Loader resolves the starting state for a workflow run. Loading is
// idempotent: repeated loads with no intervening save yield equal states.
type Loader struct {
	store  persistence.Persistence
	logger *slog.Logger
}

// NewLoader creates a Loader.
func NewLoader(store persistence.Persistence, logger *slog.Logger) *Loader {
	return &Loader{store: store, logger: logger.With("module", "loaddb")}
}

// Load returns the state to resume from. A stored checkpoint wins; without
// one a fresh initial state is created. The state is validated before it is
// handed to the graph.
func (l *Loader) Load(ctx context.Context, storyID string) (*models.GraphState, error) {
	checkpoint, err := l.store.WorkflowRepository().LatestCheckpoint(ctx, storyID)

	switch {
	case err == nil:
		state, err := models.DeserializeState(checkpoint.State)
		if err != nil {
			return nil, fmt.Errorf("failed to restore checkpoint %d for story %s: %w",
				checkpoint.Version, storyID, err)
		}

		if err := models.ValidateGraphState(state); err != nil {
			return nil, fmt.Errorf("checkpoint %d for story %s is invalid: %w",
				checkpoint.Version, storyID, err)
		}

		l.logger.InfoContext(ctx, "Restored state from checkpoint",
			"story_id", storyID, "version", checkpoint.Version, "phase", string(state.Phase))

		return state, nil
	case persistence.IsCheckpointNotFound(err):
		state, err := models.CreateInitialState(models.InitialStateParams{StoryID: storyID})
		if err != nil {
			return nil, err
		}

		l.logger.InfoContext(ctx, "No checkpoint found, starting fresh", "story_id", storyID)

		return state, nil
	default:
		return nil, err
	}
}
