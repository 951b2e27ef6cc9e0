// Package learnings persists knowledge extracted from completed stories.
// Writes are detached from the calling workflow: a knowledge-base outage
// must never block or fail story completion.
package learnings

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/michael-menard/storyflow/pkg/kb"
	"github.com/michael-menard/storyflow/pkg/models"
)

// DefaultSimilarityThreshold is the score above which a candidate learning
// is considered a duplicate of an existing knowledge-base entry.
const DefaultSimilarityThreshold float32 = 0.85

const writeTimeout = 30 * time.Second

// Candidate is one learning extracted from a completed story, before
// deduplication.
type Candidate struct {
	Content string
	Tags    []string
}

// Persister deduplicates candidate learnings against the knowledge base and
// writes the survivors.
type Persister struct {
	store     kb.KnowledgeBase
	threshold float32
	logger    *slog.Logger
}

// PersisterOption adjusts a Persister.
type PersisterOption func(*Persister)

// WithSimilarityThreshold overrides the duplicate-detection threshold.
func WithSimilarityThreshold(threshold float32) PersisterOption {
	return func(p *Persister) {
		p.threshold = threshold
	}
}

func NewPersister(store kb.KnowledgeBase, logger *slog.Logger, opts ...PersisterOption) *Persister {
	p := &Persister{
		store:     store,
		threshold: DefaultSimilarityThreshold,
		logger:    logger.With("module", "learnings"),
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Persist writes the candidates to the knowledge base in a detached task.
// It returns immediately; the returned channel closes when the task is done,
// which lets tests observe completion. Every failure inside the task is
// logged and swallowed.
func (p *Persister) Persist(ctx context.Context, state *models.GraphState, candidates []Candidate) <-chan struct{} {
	done := make(chan struct{})

	// The write must survive the caller's cancellation. Only the timeout
	// bounds it.
	detached := context.WithoutCancel(ctx)

	go func() {
		defer close(done)

		writeCtx, cancel := context.WithTimeout(detached, writeTimeout)
		defer cancel()

		p.persist(writeCtx, state, candidates)
	}()

	return done
}

func (p *Persister) persist(ctx context.Context, state *models.GraphState, candidates []Candidate) {
	written := 0
	skipped := 0

	for _, candidate := range candidates {
		content := strings.TrimSpace(candidate.Content)
		if content == "" {
			continue
		}

		duplicate, err := p.isDuplicate(ctx, content)
		if err != nil {
			p.logger.WarnContext(ctx, "Learning dedup check failed, writing anyway",
				"story_id", state.StoryID, "error", err)
		}

		if duplicate {
			skipped++

			continue
		}

		learning := &kb.Learning{
			StoryID: state.StoryID,
			Content: content,
			Tags:    mergeTags(generateTags(state), candidate.Tags),
		}

		if err := p.store.WriteLearning(ctx, learning); err != nil {
			p.logger.WarnContext(ctx, "Failed to persist learning",
				"story_id", state.StoryID, "error", err)

			continue
		}

		written++
	}

	p.logger.InfoContext(ctx, "Persisted learnings",
		"story_id", state.StoryID,
		"written", written,
		"skipped_duplicates", skipped)
}

func (p *Persister) isDuplicate(ctx context.Context, content string) (bool, error) {
	resp, err := p.store.Search(ctx, content, kb.SearchOptions{Limit: 1})
	if err != nil {
		return false, err
	}

	if resp.Metadata.FallbackMode || len(resp.Results) == 0 {
		return false, nil
	}

	return resp.Results[0].Score >= p.threshold, nil
}

// generateTags derives baseline tags from the story: its feature prefix and
// the phase the learning was captured in.
func generateTags(state *models.GraphState) []string {
	tags := []string{"learning"}

	if id, _, found := strings.Cut(state.StoryID, "-"); found && id != "" {
		tags = append(tags, strings.ToLower(id))
	}

	if state.Phase != "" {
		tags = append(tags, string(state.Phase))
	}

	return tags
}

func mergeTags(base, extra []string) []string {
	seen := make(map[string]struct{}, len(base)+len(extra))
	merged := make([]string, 0, len(base)+len(extra))

	for _, tag := range append(base, extra...) {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" {
			continue
		}

		if _, dup := seen[tag]; dup {
			continue
		}

		seen[tag] = struct{}{}
		merged = append(merged, tag)
	}

	return merged
}
