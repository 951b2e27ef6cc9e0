// Package kb defines the knowledge-base collaborator contract and an
// embedded implementation. The knowledge base stores learnings extracted
// from completed stories and serves similarity queries during workflow runs.
package kb

import (
	"context"
	"time"
)

// SearchOptions bounds a similarity query.
type SearchOptions struct {
	// Limit caps the number of results. Zero means the default of 10.
	Limit int

	// Tags filters results to entries carrying all the given tags.
	Tags []string
}

// SearchResult is one similarity hit.
type SearchResult struct {
	ID       string            `json:"id"`
	Content  string            `json:"content"`
	Score    float32           `json:"score"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// SearchMetadata describes how the search was served. FallbackMode is true
// when the primary store was unavailable and a degraded answer (possibly
// empty) was returned instead.
type SearchMetadata struct {
	Total        int  `json:"total"`
	FallbackMode bool `json:"fallback_mode"`
}

// SearchResponse carries results plus serving metadata.
type SearchResponse struct {
	Results  []SearchResult `json:"results"`
	Metadata SearchMetadata `json:"metadata"`
}

// Learning is one knowledge entry extracted from a completed story.
type Learning struct {
	ID        string    `json:"id"`
	StoryID   string    `json:"story_id"`
	Content   string    `json:"content"`
	Tags      []string  `json:"tags,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// KnowledgeBase is the collaborator contract. Implementations must be safe
// for concurrent use.
type KnowledgeBase interface {
	Search(ctx context.Context, query string, opts SearchOptions) (*SearchResponse, error)
	WriteLearning(ctx context.Context, learning *Learning) error
}
