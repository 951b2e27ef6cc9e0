package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"github.com/michael-menard/storyflow/pkg/models"
	"github.com/michael-menard/storyflow/pkg/persistence"
)

// SyncDirection selects which side of the bridge is the source of truth for
// a sync pass.
type SyncDirection string

const (
	DirectionYAMLToDB      SyncDirection = "yaml-to-db"
	DirectionDBToYAML      SyncDirection = "db-to-yaml"
	DirectionBidirectional SyncDirection = "bidirectional"
)

// ConflictStrategy decides the winner when a bidirectional sync finds both
// sides changed.
type ConflictStrategy string

const (
	StrategyYAMLWins   ConflictStrategy = "yaml-wins"
	StrategyDBWins     ConflictStrategy = "db-wins"
	StrategyNewestWins ConflictStrategy = "newest-wins"
)

// StorySource identifies where a loaded story came from.
type StorySource string

const (
	SourceDatabase   StorySource = "db"
	SourceFilesystem StorySource = "yaml"
)

// SyncOptions configures one sync pass.
type SyncOptions struct {
	Stage     string
	Direction SyncDirection
	Strategy  ConflictStrategy
	Actor     string
}

// SyncResult reports what a sync pass actually did. A repeated pass with no
// intervening change reports no writes on either side.
type SyncResult struct {
	StoryID     string        `json:"story_id"`
	Direction   SyncDirection `json:"direction"`
	DBCreated   bool          `json:"db_created"`
	DBUpdated   bool          `json:"db_updated"`
	FileWritten bool          `json:"file_written"`
	Winner      StorySource   `json:"winner,omitempty"`
	Warnings    []string      `json:"warnings,omitempty"`
}

// Bridge moves story artifacts between the filesystem YAML convention and
// the database repositories.
type Bridge struct {
	store    persistence.Persistence
	reader   *Reader
	writer   *Writer
	resolver *PathResolver
	logger   *slog.Logger
}

// NewBridge creates a Bridge rooted at the resolver's workspace.
func NewBridge(store persistence.Persistence, resolver *PathResolver, logger *slog.Logger) *Bridge {
	return &Bridge{
		store:    store,
		reader:   NewReader(logger),
		writer:   NewWriter(logger),
		resolver: resolver,
		logger:   logger.With("module", "bridge"),
	}
}

// Reader exposes the bridge's YAML reader for callers that work on raw files.
func (b *Bridge) Reader() *Reader { return b.reader }

// Writer exposes the bridge's YAML writer.
func (b *Bridge) Writer() *Writer { return b.writer }

// Resolver exposes the bridge's path resolver.
func (b *Bridge) Resolver() *PathResolver { return b.resolver }

// LoadStory fetches a story, database first. When the database has no row it
// falls back to the YAML file under the stage directory.
func (b *Bridge) LoadStory(ctx context.Context, storyID, stage string) (*models.StoryArtifact, StorySource, error) {
	story, err := b.store.StoryRepository().Story(ctx, storyID)
	if err == nil {
		return story, SourceDatabase, nil
	}

	if !persistence.IsStoryNotFound(err) {
		return nil, "", err
	}

	feature := b.resolver.InferFeature(storyID)
	path := b.resolver.ArtifactPath(feature, stage, storyID, FileStory)

	result, readErr := b.reader.ReadStory(path)
	if readErr != nil {
		return nil, "", fmt.Errorf("story %s not in database and not readable at %s: %w", storyID, path, readErr)
	}

	artifact, convErr := result.Document.ToStoryArtifact()
	if convErr != nil {
		return nil, "", convErr
	}

	return artifact, SourceFilesystem, nil
}

// SaveStory persists a story to the database (create or full update) and
// mirrors it to the YAML file. The mirror write is skipped when the on-disk
// content already matches.
func (b *Bridge) SaveStory(ctx context.Context, story *models.StoryArtifact, stage, actor string) error {
	repo := b.store.StoryRepository()

	_, err := repo.Story(ctx, story.ID)

	switch {
	case err == nil:
		if err := repo.UpdateStory(ctx, story, actor, "Story saved via bridge"); err != nil {
			return err
		}
	case persistence.IsStoryNotFound(err):
		if err := repo.CreateStory(ctx, story, actor); err != nil {
			return err
		}
	default:
		return err
	}

	doc, err := FromStoryArtifact(story)
	if err != nil {
		return err
	}

	path := b.resolver.ArtifactPath(story.Feature, stage, story.ID, FileStory)

	_, err = b.writer.WriteStoryIfChanged(path, doc)

	return err
}

// SyncStory reconciles one story between the filesystem and the database
// according to the requested direction and conflict strategy.
func (b *Bridge) SyncStory(ctx context.Context, storyID string, opts SyncOptions) (*SyncResult, error) {
	result := &SyncResult{StoryID: storyID, Direction: opts.Direction}

	switch opts.Direction {
	case DirectionYAMLToDB:
		return result, b.syncYAMLToDB(ctx, storyID, opts, result)
	case DirectionDBToYAML:
		return result, b.syncDBToYAML(ctx, storyID, opts, result)
	case DirectionBidirectional:
		return result, b.syncBidirectional(ctx, storyID, opts, result)
	default:
		return nil, fmt.Errorf("unknown sync direction %q", opts.Direction)
	}
}

func (b *Bridge) syncYAMLToDB(ctx context.Context, storyID string, opts SyncOptions, result *SyncResult) error {
	yamlStory, path, err := b.readStoryFile(ctx, storyID, opts.Stage)
	if err != nil {
		return err
	}

	repo := b.store.StoryRepository()

	dbStory, err := repo.Story(ctx, storyID)

	switch {
	case persistence.IsStoryNotFound(err):
		if err := repo.CreateStory(ctx, yamlStory, opts.Actor); err != nil {
			return err
		}

		result.DBCreated = true
		b.logger.InfoContext(ctx, "Created story from file", "story_id", storyID, "path", path)

		return nil
	case err != nil:
		return err
	}

	if storiesEquivalent(dbStory, yamlStory) {
		b.logger.DebugContext(ctx, "Story unchanged, skipping database update", "story_id", storyID)

		return nil
	}

	if err := repo.UpdateStory(ctx, yamlStory, opts.Actor, "Synced from file"); err != nil {
		return err
	}

	result.DBUpdated = true

	return nil
}

func (b *Bridge) syncDBToYAML(ctx context.Context, storyID string, opts SyncOptions, result *SyncResult) error {
	dbStory, err := b.store.StoryRepository().Story(ctx, storyID)
	if err != nil {
		return err
	}

	doc, err := FromStoryArtifact(dbStory)
	if err != nil {
		return err
	}

	path := b.resolver.ArtifactPath(dbStory.Feature, opts.Stage, storyID, FileStory)

	written, err := b.writer.WriteStoryIfChanged(path, doc)
	if err != nil {
		return err
	}

	result.FileWritten = written

	return nil
}

func (b *Bridge) syncBidirectional(ctx context.Context, storyID string, opts SyncOptions, result *SyncResult) error {
	yamlStory, _, yamlErr := b.readStoryFile(ctx, storyID, opts.Stage)
	if yamlErr != nil && !isFileMissing(yamlErr) {
		return yamlErr
	}

	dbStory, dbErr := b.store.StoryRepository().Story(ctx, storyID)
	if dbErr != nil && !persistence.IsStoryNotFound(dbErr) {
		return dbErr
	}

	switch {
	case yamlStory == nil && dbStory == nil:
		return persistence.NewStoryError("SyncStory", storyID, persistence.ErrStoryNotFound)
	case yamlStory == nil:
		return b.syncDBToYAML(ctx, storyID, opts, result)
	case dbStory == nil:
		return b.syncYAMLToDB(ctx, storyID, opts, result)
	}

	if storiesEquivalent(dbStory, yamlStory) {
		return nil
	}

	winner := b.resolveConflict(ctx, storyID, opts.Strategy, yamlStory, dbStory)
	result.Winner = winner

	if winner == SourceFilesystem {
		if err := b.store.StoryRepository().UpdateStory(ctx, yamlStory, opts.Actor, "Conflict resolved toward file"); err != nil {
			return err
		}

		result.DBUpdated = true

		return nil
	}

	return b.syncDBToYAML(ctx, storyID, opts, result)
}

// resolveConflict picks the winning side. Newest-wins compares the updated_at
// timestamps and breaks ties toward the database so repeated runs are
// deterministic.
func (b *Bridge) resolveConflict(ctx context.Context, storyID string, strategy ConflictStrategy, yamlStory, dbStory *models.StoryArtifact) StorySource {
	switch strategy {
	case StrategyYAMLWins:
		return SourceFilesystem
	case StrategyDBWins:
		return SourceDatabase
	case StrategyNewestWins:
		if yamlStory.UpdatedAt.After(dbStory.UpdatedAt) {
			return SourceFilesystem
		}

		return SourceDatabase
	default:
		b.logger.WarnContext(ctx, "Unknown conflict strategy, defaulting to db-wins",
			"story_id", storyID, "strategy", string(strategy))

		return SourceDatabase
	}
}

func (b *Bridge) readStoryFile(ctx context.Context, storyID, stage string) (*models.StoryArtifact, string, error) {
	feature := b.resolver.InferFeature(storyID)
	path := b.resolver.ArtifactPath(feature, stage, storyID, FileStory)

	result, err := b.reader.ReadStory(path)
	if err != nil {
		return nil, path, err
	}

	for _, warning := range result.Warnings {
		b.logger.WarnContext(ctx, "Story file warning", "story_id", storyID, "warning", warning)
	}

	artifact, err := result.Document.ToStoryArtifact()
	if err != nil {
		return nil, path, err
	}

	return artifact, path, nil
}

func isFileMissing(err error) bool {
	return errors.Is(err, ErrArtifactFileNotFound)
}

// storiesEquivalent compares two stories ignoring timestamps, which both
// sides stamp independently.
func storiesEquivalent(a, c *models.StoryArtifact) bool {
	return reflect.DeepEqual(normalizeStory(a), normalizeStory(c))
}

func normalizeStory(story *models.StoryArtifact) *models.StoryArtifact {
	copied := *story
	copied.CreatedAt = time.Time{}
	copied.UpdatedAt = time.Time{}
	copied.DependsOn = emptySlice(copied.DependsOn)
	copied.NonGoals = emptySlice(copied.NonGoals)
	copied.Scope.Packages = emptySlice(copied.Scope.Packages)

	if copied.Scope.Surfaces == nil {
		copied.Scope.Surfaces = []models.SurfaceType{}
	}

	if copied.ACs == nil {
		copied.ACs = []models.AcceptanceCriterion{}
	}

	if copied.Risks == nil {
		copied.Risks = []models.Risk{}
	}

	return &copied
}

func emptySlice(values []string) []string {
	if values == nil {
		return []string{}
	}

	return values
}
