package kb

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/philippgille/chromem-go"
)

const (
	defaultCollection  = "learnings"
	defaultSearchLimit = 10
)

// ChromemStore is the embedded knowledge base built on chromem-go. It keeps
// everything local (no external vector service) and persists to disk when a
// path is given.
type ChromemStore struct {
	db         *chromem.DB
	collection *chromem.Collection
	logger     *slog.Logger
}

// NewChromemStore opens (or creates) a persistent store at path. An empty
// path yields an in-memory store, which tests use. The embedding function is
// injectable so callers can plug a real embedder or a deterministic one.
func NewChromemStore(path string, embed chromem.EmbeddingFunc, logger *slog.Logger) (*ChromemStore, error) {
	var (
		db  *chromem.DB
		err error
	)

	if path == "" {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(path, false)
		if err != nil {
			return nil, fmt.Errorf("failed to open knowledge base at %s: %w", path, err)
		}
	}

	collection, err := db.GetOrCreateCollection(defaultCollection, nil, embed)
	if err != nil {
		return nil, fmt.Errorf("failed to open collection %s: %w", defaultCollection, err)
	}

	return &ChromemStore{
		db:         db,
		collection: collection,
		logger:     logger.With("module", "kb"),
	}, nil
}

// Search runs a similarity query against the learnings collection.
func (s *ChromemStore) Search(ctx context.Context, query string, opts SearchOptions) (*SearchResponse, error) {
	if query == "" {
		return nil, fmt.Errorf("query cannot be empty")
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	// chromem rejects nResults above the document count.
	count := s.collection.Count()
	if count == 0 {
		return &SearchResponse{Results: []SearchResult{}}, nil
	}

	if limit > count {
		limit = count
	}

	var where map[string]string
	if len(opts.Tags) > 0 {
		where = map[string]string{"tags": strings.Join(opts.Tags, ",")}
	}

	hits, err := s.collection.Query(ctx, query, limit, where, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query knowledge base: %w", err)
	}

	results := make([]SearchResult, 0, len(hits))
	for _, hit := range hits {
		results = append(results, SearchResult{
			ID:       hit.ID,
			Content:  hit.Content,
			Score:    hit.Similarity,
			Metadata: hit.Metadata,
		})
	}

	return &SearchResponse{
		Results:  results,
		Metadata: SearchMetadata{Total: len(results)},
	}, nil
}

// WriteLearning stores one learning entry.
func (s *ChromemStore) WriteLearning(ctx context.Context, learning *Learning) error {
	if learning.Content == "" {
		return fmt.Errorf("learning content cannot be empty")
	}

	if learning.ID == "" {
		learning.ID = uuid.New().String()
	}

	if learning.CreatedAt.IsZero() {
		learning.CreatedAt = time.Now().UTC()
	}

	doc := chromem.Document{
		ID:      learning.ID,
		Content: learning.Content,
		Metadata: map[string]string{
			"story_id":   learning.StoryID,
			"tags":       strings.Join(learning.Tags, ","),
			"created_at": learning.CreatedAt.Format(time.RFC3339),
		},
	}

	err := s.collection.AddDocuments(ctx, []chromem.Document{doc}, 1)
	if err != nil {
		return fmt.Errorf("failed to write learning: %w", err)
	}

	s.logger.DebugContext(ctx, "Stored learning",
		"id", learning.ID, "story_id", learning.StoryID, "tags", learning.Tags)

	return nil
}
