// Package savedb checkpoints the graph state at phase boundaries. Saving is
// diff-based: when the state is unchanged since the last checkpoint, no new
// row is written.
package savedb

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/michael-menard/storyflow/pkg/models"
	"github.com/michael-menard/storyflow/pkg/persistence"
)

// Saver persists graph state checkpoints.
type Saver struct {
	store  persistence.Persistence
	logger *slog.Logger
}

// NewSaver creates a Saver.
func NewSaver(store persistence.Persistence, logger *slog.Logger) *Saver {
	return &Saver{store: store, logger: logger.With("module", "savedb")}
}

// Save writes a new checkpoint unless the state equals the latest stored
// one (timestamps excluded). It returns the written record, nil when the
// save was skipped.
func (s *Saver) Save(ctx context.Context, state *models.GraphState, createdBy string) (*persistence.CheckpointRecord, error) {
	repo := s.store.WorkflowRepository()

	data, err := models.SerializeState(state)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize state for story %s: %w", state.StoryID, err)
	}

	latest, err := repo.LatestCheckpoint(ctx, state.StoryID)
	if err == nil {
		// Both sides of the comparison come from serialized bytes so that
		// JSON's type flattening (numbers, nested structs in NodeResults)
		// cannot make an unchanged state look different.
		stored, derr := models.DeserializeState(latest.State)
		current, nerr := models.DeserializeState(data)

		if derr == nil && nerr == nil && models.StatesEqual(stored, current) {
			s.logger.DebugContext(ctx, "State unchanged, skipping checkpoint",
				"story_id", state.StoryID, "version", latest.Version)

			return nil, nil
		}

		if derr != nil {
			// An unreadable previous checkpoint must not block progress;
			// write a fresh one.
			s.logger.WarnContext(ctx, "Could not compare with previous checkpoint",
				"story_id", state.StoryID, "error", derr)
		}
	} else if !persistence.IsCheckpointNotFound(err) {
		return nil, err
	}

	record, err := repo.SaveCheckpoint(ctx, state.StoryID, data, createdBy)
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "Saved checkpoint",
		"story_id", state.StoryID, "version", record.Version, "phase", string(state.Phase))

	return record, nil
}
