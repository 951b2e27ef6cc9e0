package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/michael-menard/storyflow/pkg/models"
	"github.com/michael-menard/storyflow/pkg/persistence"
)

// StoryRepository handles story-related database operations.
type StoryRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewStoryRepository creates a new story repository.
func NewStoryRepository(db *sql.DB, logger *slog.Logger) *StoryRepository {
	return &StoryRepository{db: db, logger: logger}
}

const storyColumns = `
	story_id
  , schema
  , feature_id
  , type
  , state
  , title
  , goal
  , points
  , priority
  , blocked_by
  , depends_on
  , follow_up_from
  , packages
  , surfaces
  , non_goals
  , acs
  , risks
  , created_at
  , updated_at
`

// CreateStory inserts a story and records the initial state transition.
func (r *StoryRepository) CreateStory(ctx context.Context, story *models.StoryArtifact, actor string) error {
	if !story.State.IsValid() {
		return persistence.NewStoryError("CreateStory", story.ID, persistence.ErrInvalidStoryState)
	}

	now := time.Now().UTC()

	if story.CreatedAt.IsZero() {
		story.CreatedAt = now
	}

	story.UpdatedAt = now

	dependsOn, packages, surfaces, nonGoals, acs, risks, err := marshalStoryJSON(story)
	if err != nil {
		return persistence.NewStoryError("CreateStory", story.ID, err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return persistence.NewStoryError("CreateStory", story.ID, fmt.Errorf("failed to begin transaction: %w", err))
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO stories (
			story_id, schema, feature_id, type, state, title, goal, points, priority,
			blocked_by, depends_on, follow_up_from, packages, surfaces, non_goals,
			acs, risks, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	`,
		story.ID, story.Schema, story.Feature, story.Type, story.State, story.Title,
		story.Goal, story.Points, story.Priority, story.BlockedBy, dependsOn,
		story.FollowUpFrom, packages, surfaces, nonGoals, acs, risks,
		story.CreatedAt, story.UpdatedAt,
	)
	if err != nil {
		_ = tx.Rollback()

		return persistence.NewStoryError("CreateStory", story.ID, fmt.Errorf("failed to insert story: %w", err))
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO story_state_transitions (story_id, from_state, to_state, actor, reason)
		VALUES ($1, NULL, $2, $3, $4)
	`, story.ID, story.State, actor, "Story created")
	if err != nil {
		_ = tx.Rollback()

		return persistence.NewStoryError("CreateStory", story.ID, fmt.Errorf("failed to record transition: %w", err))
	}

	err = tx.Commit()
	if err != nil {
		return persistence.NewStoryError("CreateStory", story.ID, fmt.Errorf("failed to commit: %w", err))
	}

	return nil
}

// Story returns a story by its identifier.
func (r *StoryRepository) Story(ctx context.Context, storyID string) (*models.StoryArtifact, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+storyColumns+` FROM stories WHERE story_id = $1`, storyID)

	story, err := scanStory(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewStoryError("Story", storyID, persistence.ErrStoryNotFound)
		}

		return nil, persistence.NewStoryError("Story", storyID, err)
	}

	return story, nil
}

// UpdateStory replaces the full story document. When the state changes as
// part of the update, a transition row is recorded in the same transaction.
func (r *StoryRepository) UpdateStory(ctx context.Context, story *models.StoryArtifact, actor, reason string) error {
	if !story.State.IsValid() {
		return persistence.NewStoryError("UpdateStory", story.ID, persistence.ErrInvalidStoryState)
	}

	dependsOn, packages, surfaces, nonGoals, acs, risks, err := marshalStoryJSON(story)
	if err != nil {
		return persistence.NewStoryError("UpdateStory", story.ID, err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return persistence.NewStoryError("UpdateStory", story.ID, fmt.Errorf("failed to begin transaction: %w", err))
	}

	var fromState models.StoryState

	err = tx.QueryRowContext(ctx, `SELECT state FROM stories WHERE story_id = $1 FOR UPDATE`, story.ID).Scan(&fromState)
	if err != nil {
		_ = tx.Rollback()

		if errors.Is(err, sql.ErrNoRows) {
			return persistence.NewStoryError("UpdateStory", story.ID, persistence.ErrStoryNotFound)
		}

		return persistence.NewStoryError("UpdateStory", story.ID, err)
	}

	story.UpdatedAt = time.Now().UTC()

	_, err = tx.ExecContext(ctx, `
		UPDATE stories SET
			schema = $2, feature_id = $3, type = $4, state = $5, title = $6,
			goal = $7, points = $8, priority = $9, blocked_by = $10,
			depends_on = $11, follow_up_from = $12, packages = $13,
			surfaces = $14, non_goals = $15, acs = $16, risks = $17,
			updated_at = $18
		WHERE story_id = $1
	`,
		story.ID, story.Schema, story.Feature, story.Type, story.State,
		story.Title, story.Goal, story.Points, story.Priority, story.BlockedBy,
		dependsOn, story.FollowUpFrom, packages, surfaces, nonGoals, acs, risks,
		story.UpdatedAt,
	)
	if err != nil {
		_ = tx.Rollback()

		return persistence.NewStoryError("UpdateStory", story.ID, fmt.Errorf("failed to update story: %w", err))
	}

	if fromState != story.State {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO story_state_transitions (story_id, from_state, to_state, actor, reason)
			VALUES ($1, $2, $3, $4, $5)
		`, story.ID, fromState, story.State, actor, reason)
		if err != nil {
			_ = tx.Rollback()

			return persistence.NewStoryError("UpdateStory", story.ID, fmt.Errorf("failed to record transition: %w", err))
		}
	}

	err = tx.Commit()
	if err != nil {
		return persistence.NewStoryError("UpdateStory", story.ID, fmt.Errorf("failed to commit: %w", err))
	}

	return nil
}

// UpdateStoryState transitions a story to a new state with an audit record.
func (r *StoryRepository) UpdateStoryState(ctx context.Context, storyID string, newState models.StoryState, actor, reason string) error {
	if !newState.IsValid() {
		return persistence.NewStoryError("UpdateStoryState", storyID, persistence.ErrInvalidStoryState)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return persistence.NewStoryError("UpdateStoryState", storyID, fmt.Errorf("failed to begin transaction: %w", err))
	}

	var fromState models.StoryState

	err = tx.QueryRowContext(ctx, `SELECT state FROM stories WHERE story_id = $1 FOR UPDATE`, storyID).Scan(&fromState)
	if err != nil {
		_ = tx.Rollback()

		if errors.Is(err, sql.ErrNoRows) {
			return persistence.NewStoryError("UpdateStoryState", storyID, persistence.ErrStoryNotFound)
		}

		return persistence.NewStoryError("UpdateStoryState", storyID, err)
	}

	_, err = tx.ExecContext(ctx, `UPDATE stories SET state = $1, updated_at = NOW() WHERE story_id = $2`, newState, storyID)
	if err != nil {
		_ = tx.Rollback()

		return persistence.NewStoryError("UpdateStoryState", storyID, fmt.Errorf("failed to update state: %w", err))
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO story_state_transitions (story_id, from_state, to_state, actor, reason)
		VALUES ($1, $2, $3, $4, $5)
	`, storyID, fromState, newState, actor, reason)
	if err != nil {
		_ = tx.Rollback()

		return persistence.NewStoryError("UpdateStoryState", storyID, fmt.Errorf("failed to record transition: %w", err))
	}

	err = tx.Commit()
	if err != nil {
		return persistence.NewStoryError("UpdateStoryState", storyID, fmt.Errorf("failed to commit: %w", err))
	}

	return nil
}

// StoriesByState returns every story currently in the given state.
func (r *StoryRepository) StoriesByState(ctx context.Context, state models.StoryState) ([]*models.StoryArtifact, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+storyColumns+` FROM stories WHERE state = $1 ORDER BY created_at`, state)
	if err != nil {
		return nil, fmt.Errorf("failed to query stories: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	stories := make([]*models.StoryArtifact, 0)

	for rows.Next() {
		story, err := scanStory(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan story: %w", err)
		}

		stories = append(stories, story)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating stories: %w", err)
	}

	return stories, nil
}

// StateTransitions returns the audited transition history of a story, oldest first.
func (r *StoryRepository) StateTransitions(ctx context.Context, storyID string) ([]*persistence.StateTransition, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, story_id, from_state, to_state, actor, reason, created_at
		FROM story_state_transitions
		WHERE story_id = $1
		ORDER BY created_at, id
	`, storyID)
	if err != nil {
		return nil, fmt.Errorf("failed to query transitions: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	transitions := make([]*persistence.StateTransition, 0)

	for rows.Next() {
		var (
			t         persistence.StateTransition
			fromState sql.NullString
		)

		err := rows.Scan(&t.ID, &t.StoryID, &fromState, &t.ToState, &t.Actor, &t.Reason, &t.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transition: %w", err)
		}

		if fromState.Valid {
			state := models.StoryState(fromState.String)
			t.FromState = &state
		}

		transitions = append(transitions, &t)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating transitions: %w", err)
	}

	return transitions, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStory(row rowScanner) (*models.StoryArtifact, error) {
	var (
		story                                  models.StoryArtifact
		points                                 sql.NullInt64
		blockedBy, followUpFrom                sql.NullString
		dependsOnRaw, packagesRaw, surfacesRaw []byte
		nonGoalsRaw, acsRaw, risksRaw          []byte
	)

	err := row.Scan(
		&story.ID, &story.Schema, &story.Feature, &story.Type, &story.State,
		&story.Title, &story.Goal, &points, &story.Priority, &blockedBy,
		&dependsOnRaw, &followUpFrom, &packagesRaw, &surfacesRaw, &nonGoalsRaw,
		&acsRaw, &risksRaw, &story.CreatedAt, &story.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if points.Valid {
		p := int(points.Int64)
		story.Points = &p
	}

	if blockedBy.Valid {
		story.BlockedBy = &blockedBy.String
	}

	if followUpFrom.Valid {
		story.FollowUpFrom = &followUpFrom.String
	}

	for raw, target := range map[*[]byte]any{
		&dependsOnRaw: &story.DependsOn,
		&packagesRaw:  &story.Scope.Packages,
		&surfacesRaw:  &story.Scope.Surfaces,
		&nonGoalsRaw:  &story.NonGoals,
		&acsRaw:       &story.ACs,
		&risksRaw:     &story.Risks,
	} {
		if len(*raw) == 0 {
			continue
		}

		err := json.Unmarshal(*raw, target)
		if err != nil {
			return nil, fmt.Errorf("failed to decode story JSON column: %w", err)
		}
	}

	story.CreatedAt = story.CreatedAt.UTC()
	story.UpdatedAt = story.UpdatedAt.UTC()

	return &story, nil
}

func marshalStoryJSON(story *models.StoryArtifact) (dependsOn, packages, surfaces, nonGoals, acs, risks []byte, err error) {
	for _, field := range []struct {
		name   string
		value  any
		target *[]byte
	}{
		{"depends_on", emptyIfNil(story.DependsOn), &dependsOn},
		{"packages", emptyIfNil(story.Scope.Packages), &packages},
		{"surfaces", story.Scope.Surfaces, &surfaces},
		{"non_goals", emptyIfNil(story.NonGoals), &nonGoals},
		{"acs", story.ACs, &acs},
		{"risks", story.Risks, &risks},
	} {
		data, marshalErr := json.Marshal(field.value)
		if marshalErr != nil {
			return nil, nil, nil, nil, nil, nil, fmt.Errorf("failed to encode %s: %w", field.name, marshalErr)
		}

		*field.target = data
	}

	return dependsOn, packages, surfaces, nonGoals, acs, risks, nil
}

func emptyIfNil(values []string) []string {
	if values == nil {
		return []string{}
	}

	return values
}
