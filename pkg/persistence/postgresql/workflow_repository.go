package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/michael-menard/storyflow/pkg/persistence"
)

// WorkflowRepository handles the per-phase workflow artifact tables. Every
// save appends a new versioned row; history is never rewritten.
type WorkflowRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewWorkflowRepository creates a new workflow artifact repository.
func NewWorkflowRepository(db *sql.DB, logger *slog.Logger) *WorkflowRepository {
	return &WorkflowRepository{db: db, logger: logger}
}

// SaveElaboration appends a new elaboration version for the story.
func (r *WorkflowRepository) SaveElaboration(ctx context.Context, storyID string, content map[string]any, readinessScore *int, gapsCount int, createdBy string) (*persistence.ElaborationRecord, error) {
	contentJSON, err := json.Marshal(content)
	if err != nil {
		return nil, &persistence.ArtifactError{Op: "SaveElaboration", StoryID: storyID, ArtifactKind: "elaboration", Err: err}
	}

	record := &persistence.ElaborationRecord{
		StoryID:        storyID,
		Content:        content,
		ReadinessScore: readinessScore,
		GapsCount:      gapsCount,
		CreatedBy:      createdBy,
	}

	err = r.db.QueryRowContext(ctx, `
		INSERT INTO elaborations (story_id, version, content, readiness_score, gaps_count, created_by)
		VALUES ($1, (SELECT COALESCE(MAX(version), 0) + 1 FROM elaborations WHERE story_id = $1), $2, $3, $4, $5)
		RETURNING id, version, created_at
	`, storyID, contentJSON, readinessScore, gapsCount, createdBy).Scan(&record.ID, &record.Version, &record.CreatedAt)
	if err != nil {
		return nil, &persistence.ArtifactError{Op: "SaveElaboration", StoryID: storyID, ArtifactKind: "elaboration", Err: err}
	}

	record.CreatedAt = record.CreatedAt.UTC()

	return record, nil
}

// LatestElaboration returns the newest elaboration version for the story.
func (r *WorkflowRepository) LatestElaboration(ctx context.Context, storyID string) (*persistence.ElaborationRecord, error) {
	record := &persistence.ElaborationRecord{StoryID: storyID}

	var (
		contentRaw     []byte
		readinessScore sql.NullInt64
	)

	err := r.db.QueryRowContext(ctx, `
		SELECT id, version, content, readiness_score, gaps_count, created_by, created_at
		FROM elaborations
		WHERE story_id = $1
		ORDER BY version DESC
		LIMIT 1
	`, storyID).Scan(&record.ID, &record.Version, &contentRaw, &readinessScore, &record.GapsCount, &record.CreatedBy, &record.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &persistence.ArtifactError{Op: "LatestElaboration", StoryID: storyID, ArtifactKind: "elaboration", Err: persistence.ErrArtifactNotFound}
		}

		return nil, &persistence.ArtifactError{Op: "LatestElaboration", StoryID: storyID, ArtifactKind: "elaboration", Err: err}
	}

	if readinessScore.Valid {
		score := int(readinessScore.Int64)
		record.ReadinessScore = &score
	}

	err = json.Unmarshal(contentRaw, &record.Content)
	if err != nil {
		return nil, &persistence.ArtifactError{Op: "LatestElaboration", StoryID: storyID, ArtifactKind: "elaboration", Err: err}
	}

	record.CreatedAt = record.CreatedAt.UTC()

	return record, nil
}

// SavePlan appends a new implementation plan version for the story.
func (r *WorkflowRepository) SavePlan(ctx context.Context, storyID string, content map[string]any, createdBy string) (*persistence.PlanRecord, error) {
	contentJSON, err := json.Marshal(content)
	if err != nil {
		return nil, &persistence.ArtifactError{Op: "SavePlan", StoryID: storyID, ArtifactKind: "plan", Err: err}
	}

	record := &persistence.PlanRecord{StoryID: storyID, Content: content, CreatedBy: createdBy}

	err = r.db.QueryRowContext(ctx, `
		INSERT INTO implementation_plans (story_id, version, content, created_by)
		VALUES ($1, (SELECT COALESCE(MAX(version), 0) + 1 FROM implementation_plans WHERE story_id = $1), $2, $3)
		RETURNING id, version, created_at
	`, storyID, contentJSON, createdBy).Scan(&record.ID, &record.Version, &record.CreatedAt)
	if err != nil {
		return nil, &persistence.ArtifactError{Op: "SavePlan", StoryID: storyID, ArtifactKind: "plan", Err: err}
	}

	record.CreatedAt = record.CreatedAt.UTC()

	return record, nil
}

// LatestPlan returns the newest plan version for the story.
func (r *WorkflowRepository) LatestPlan(ctx context.Context, storyID string) (*persistence.PlanRecord, error) {
	record := &persistence.PlanRecord{StoryID: storyID}

	var contentRaw []byte

	err := r.db.QueryRowContext(ctx, `
		SELECT id, version, content, created_by, created_at
		FROM implementation_plans
		WHERE story_id = $1
		ORDER BY version DESC
		LIMIT 1
	`, storyID).Scan(&record.ID, &record.Version, &contentRaw, &record.CreatedBy, &record.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &persistence.ArtifactError{Op: "LatestPlan", StoryID: storyID, ArtifactKind: "plan", Err: persistence.ErrArtifactNotFound}
		}

		return nil, &persistence.ArtifactError{Op: "LatestPlan", StoryID: storyID, ArtifactKind: "plan", Err: err}
	}

	err = json.Unmarshal(contentRaw, &record.Content)
	if err != nil {
		return nil, &persistence.ArtifactError{Op: "LatestPlan", StoryID: storyID, ArtifactKind: "plan", Err: err}
	}

	record.CreatedAt = record.CreatedAt.UTC()

	return record, nil
}

// SaveVerification appends a new verification version for the story and type.
func (r *WorkflowRepository) SaveVerification(ctx context.Context, storyID, verificationType string, content map[string]any, verdict string, issuesCount int, createdBy string) (*persistence.VerificationRecord, error) {
	contentJSON, err := json.Marshal(content)
	if err != nil {
		return nil, &persistence.ArtifactError{Op: "SaveVerification", StoryID: storyID, ArtifactKind: "verification", Err: err}
	}

	record := &persistence.VerificationRecord{
		StoryID:     storyID,
		Type:        verificationType,
		Content:     content,
		Verdict:     verdict,
		IssuesCount: issuesCount,
		CreatedBy:   createdBy,
	}

	err = r.db.QueryRowContext(ctx, `
		INSERT INTO verifications (story_id, version, type, content, verdict, issues_count, created_by)
		VALUES ($1, (SELECT COALESCE(MAX(version), 0) + 1 FROM verifications WHERE story_id = $1 AND type = $2), $2, $3, $4, $5, $6)
		RETURNING id, version, created_at
	`, storyID, verificationType, contentJSON, verdict, issuesCount, createdBy).Scan(&record.ID, &record.Version, &record.CreatedAt)
	if err != nil {
		return nil, &persistence.ArtifactError{Op: "SaveVerification", StoryID: storyID, ArtifactKind: "verification", Err: err}
	}

	record.CreatedAt = record.CreatedAt.UTC()

	return record, nil
}

// LatestVerification returns the newest verification of the given type.
func (r *WorkflowRepository) LatestVerification(ctx context.Context, storyID, verificationType string) (*persistence.VerificationRecord, error) {
	record := &persistence.VerificationRecord{StoryID: storyID, Type: verificationType}

	var contentRaw []byte

	err := r.db.QueryRowContext(ctx, `
		SELECT id, version, content, verdict, issues_count, created_by, created_at
		FROM verifications
		WHERE story_id = $1 AND type = $2
		ORDER BY version DESC
		LIMIT 1
	`, storyID, verificationType).Scan(&record.ID, &record.Version, &contentRaw, &record.Verdict, &record.IssuesCount, &record.CreatedBy, &record.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &persistence.ArtifactError{Op: "LatestVerification", StoryID: storyID, ArtifactKind: "verification", Err: persistence.ErrArtifactNotFound}
		}

		return nil, &persistence.ArtifactError{Op: "LatestVerification", StoryID: storyID, ArtifactKind: "verification", Err: err}
	}

	err = json.Unmarshal(contentRaw, &record.Content)
	if err != nil {
		return nil, &persistence.ArtifactError{Op: "LatestVerification", StoryID: storyID, ArtifactKind: "verification", Err: err}
	}

	record.CreatedAt = record.CreatedAt.UTC()

	return record, nil
}

// SaveProof appends a new proof version for the story.
func (r *WorkflowRepository) SaveProof(ctx context.Context, storyID string, content map[string]any, acsPassing, acsTotal, filesTouched int, createdBy string) (*persistence.ProofRecord, error) {
	contentJSON, err := json.Marshal(content)
	if err != nil {
		return nil, &persistence.ArtifactError{Op: "SaveProof", StoryID: storyID, ArtifactKind: "proof", Err: err}
	}

	record := &persistence.ProofRecord{
		StoryID:        storyID,
		Content:        content,
		ACsPassing:     acsPassing,
		ACsTotal:       acsTotal,
		FilesTouched:   filesTouched,
		AllACsVerified: acsTotal > 0 && acsPassing == acsTotal,
		CreatedBy:      createdBy,
	}

	err = r.db.QueryRowContext(ctx, `
		INSERT INTO proofs (story_id, version, content, acs_passing, acs_total, files_touched, all_acs_verified, created_by)
		VALUES ($1, (SELECT COALESCE(MAX(version), 0) + 1 FROM proofs WHERE story_id = $1), $2, $3, $4, $5, $6, $7)
		RETURNING id, version, created_at
	`, storyID, contentJSON, acsPassing, acsTotal, filesTouched, record.AllACsVerified, createdBy).Scan(&record.ID, &record.Version, &record.CreatedAt)
	if err != nil {
		return nil, &persistence.ArtifactError{Op: "SaveProof", StoryID: storyID, ArtifactKind: "proof", Err: err}
	}

	record.CreatedAt = record.CreatedAt.UTC()

	return record, nil
}

// LatestProof returns the newest proof version for the story.
func (r *WorkflowRepository) LatestProof(ctx context.Context, storyID string) (*persistence.ProofRecord, error) {
	record := &persistence.ProofRecord{StoryID: storyID}

	var contentRaw []byte

	err := r.db.QueryRowContext(ctx, `
		SELECT id, version, content, acs_passing, acs_total, files_touched, all_acs_verified, created_by, created_at
		FROM proofs
		WHERE story_id = $1
		ORDER BY version DESC
		LIMIT 1
	`, storyID).Scan(&record.ID, &record.Version, &contentRaw, &record.ACsPassing, &record.ACsTotal, &record.FilesTouched, &record.AllACsVerified, &record.CreatedBy, &record.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &persistence.ArtifactError{Op: "LatestProof", StoryID: storyID, ArtifactKind: "proof", Err: persistence.ErrArtifactNotFound}
		}

		return nil, &persistence.ArtifactError{Op: "LatestProof", StoryID: storyID, ArtifactKind: "proof", Err: err}
	}

	err = json.Unmarshal(contentRaw, &record.Content)
	if err != nil {
		return nil, &persistence.ArtifactError{Op: "LatestProof", StoryID: storyID, ArtifactKind: "proof", Err: err}
	}

	record.CreatedAt = record.CreatedAt.UTC()

	return record, nil
}

// LogTokenUsage appends one token accounting row.
func (r *WorkflowRepository) LogTokenUsage(ctx context.Context, usage persistence.TokenUsageInput) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO token_usage (story_id, phase, tokens_input, tokens_output, model, agent_name)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, usage.StoryID, usage.Phase, usage.TokensInput, usage.TokensOutput, usage.Model, usage.AgentName)
	if err != nil {
		return fmt.Errorf("failed to log token usage for story %s: %w", usage.StoryID, err)
	}

	return nil
}

// TokenTotal returns the cumulative tokens (input + output) used by a story
// in the given phase.
func (r *WorkflowRepository) TokenTotal(ctx context.Context, storyID, phase string) (int64, error) {
	var total int64

	err := r.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(tokens_input + tokens_output), 0)
		FROM token_usage
		WHERE story_id = $1 AND phase = $2
	`, storyID, phase).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum token usage for story %s: %w", storyID, err)
	}

	return total, nil
}

// SaveCheckpoint appends a new graph state checkpoint.
func (r *WorkflowRepository) SaveCheckpoint(ctx context.Context, storyID string, state []byte, createdBy string) (*persistence.CheckpointRecord, error) {
	record := &persistence.CheckpointRecord{StoryID: storyID, State: state, CreatedBy: createdBy}

	err := r.db.QueryRowContext(ctx, `
		INSERT INTO graph_checkpoints (story_id, version, state, created_by)
		VALUES ($1, (SELECT COALESCE(MAX(version), 0) + 1 FROM graph_checkpoints WHERE story_id = $1), $2, $3)
		RETURNING id, version, created_at
	`, storyID, state, createdBy).Scan(&record.ID, &record.Version, &record.CreatedAt)
	if err != nil {
		return nil, &persistence.ArtifactError{Op: "SaveCheckpoint", StoryID: storyID, ArtifactKind: "checkpoint", Err: err}
	}

	record.CreatedAt = record.CreatedAt.UTC()

	return record, nil
}

// LatestCheckpoint returns the newest checkpoint for the story.
func (r *WorkflowRepository) LatestCheckpoint(ctx context.Context, storyID string) (*persistence.CheckpointRecord, error) {
	record := &persistence.CheckpointRecord{StoryID: storyID}

	err := r.db.QueryRowContext(ctx, `
		SELECT id, version, state, created_by, created_at
		FROM graph_checkpoints
		WHERE story_id = $1
		ORDER BY version DESC
		LIMIT 1
	`, storyID).Scan(&record.ID, &record.Version, &record.State, &record.CreatedBy, &record.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &persistence.ArtifactError{Op: "LatestCheckpoint", StoryID: storyID, ArtifactKind: "checkpoint", Err: persistence.ErrCheckpointNotFound}
		}

		return nil, &persistence.ArtifactError{Op: "LatestCheckpoint", StoryID: storyID, ArtifactKind: "checkpoint", Err: err}
	}

	record.CreatedAt = record.CreatedAt.UTC()

	return record, nil
}
