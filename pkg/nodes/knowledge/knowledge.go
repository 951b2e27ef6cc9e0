// Package knowledge retrieves knowledge-base context for a story before a
// phase runs. The knowledge base is an optional collaborator: when it is
// unavailable the retriever degrades to an empty response instead of
// failing the workflow.
package knowledge

import (
	"context"
	"log/slog"
	"strings"

	"github.com/michael-menard/storyflow/pkg/kb"
	"github.com/michael-menard/storyflow/pkg/models"
)

// DefaultLimit caps retrieved context entries per query.
const DefaultLimit = 5

// Retriever serves knowledge-base context queries with degraded-mode
// tolerance.
type Retriever struct {
	store  kb.KnowledgeBase
	logger *slog.Logger
}

func NewRetriever(store kb.KnowledgeBase, logger *slog.Logger) *Retriever {
	return &Retriever{
		store:  store,
		logger: logger.With("module", "knowledge"),
	}
}

// Retrieve runs a similarity query. On any knowledge-base failure it logs a
// warning and returns an empty response with FallbackMode set, never an
// error: callers proceed without context rather than blocking the phase.
func (r *Retriever) Retrieve(ctx context.Context, query string, opts kb.SearchOptions) *kb.SearchResponse {
	if opts.Limit <= 0 {
		opts.Limit = DefaultLimit
	}

	if strings.TrimSpace(query) == "" {
		return &kb.SearchResponse{Metadata: kb.SearchMetadata{FallbackMode: false}}
	}

	resp, err := r.store.Search(ctx, query, opts)
	if err != nil {
		r.logger.WarnContext(ctx, "Knowledge base unavailable, proceeding without context",
			"query", query, "error", err)

		return &kb.SearchResponse{Metadata: kb.SearchMetadata{FallbackMode: true}}
	}

	return resp
}

// RetrieveForStory queries context relevant to the story's current phase and
// returns a delta recording the results under the given node ID. The query
// is built from the story identifier and phase; results land in NodeResults
// so downstream LLM nodes can fold them into prompts.
func (r *Retriever) RetrieveForStory(ctx context.Context, nodeID string, state *models.GraphState, tags []string) *models.StateDelta {
	query := state.StoryID + " " + string(state.Phase)

	resp := r.Retrieve(ctx, query, kb.SearchOptions{Tags: tags})

	if resp.Metadata.FallbackMode {
		r.logger.WarnContext(ctx, "Phase runs without knowledge context",
			"story_id", state.StoryID, "phase", state.Phase)
	}

	return &models.StateDelta{
		NodeResults: map[string]any{nodeID: resp},
	}
}
