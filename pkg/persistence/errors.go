// Package persistence provides standardized error types for storage operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrStoryNotFound indicates a story was not found by the given identifier.
	ErrStoryNotFound = errors.New("story not found")

	// ErrStoryAlreadyExists indicates a story with the same identifier already exists.
	ErrStoryAlreadyExists = errors.New("story already exists")

	// ErrInvalidStoryState indicates an invalid story state was provided.
	ErrInvalidStoryState = errors.New("invalid story state")

	// ErrCheckpointNotFound indicates no checkpoint exists for the story.
	ErrCheckpointNotFound = errors.New("checkpoint not found")

	// ErrArtifactNotFound indicates no artifact row exists for the story.
	ErrArtifactNotFound = errors.New("artifact not found")
)

// StoryError wraps story-related errors with additional context.
type StoryError struct {
	Op      string // Operation being performed (e.g., "CreateStory", "UpdateStoryState")
	StoryID string // Story ID if applicable
	Err     error  // Underlying error
	Message string // Additional context message
}

func (e *StoryError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s operation failed for story %s: %s (%v)", e.Op, e.StoryID, e.Message, e.Err)
	}

	return fmt.Sprintf("%s operation failed for story %s: %v", e.Op, e.StoryID, e.Err)
}

func (e *StoryError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for story errors.
func (e *StoryError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewStoryError creates a new story error with context.
func NewStoryError(op, storyID string, err error) *StoryError {
	return &StoryError{
		Op:      op,
		StoryID: storyID,
		Err:     err,
	}
}

// ArtifactError wraps workflow artifact errors with additional context.
type ArtifactError struct {
	Op           string // Operation being performed
	StoryID      string // Story ID
	ArtifactKind string // elaboration, plan, verification, proof, checkpoint
	Err          error  // Underlying error
}

func (e *ArtifactError) Error() string {
	return fmt.Sprintf("%s operation failed for %s of story %s: %v", e.Op, e.ArtifactKind, e.StoryID, e.Err)
}

func (e *ArtifactError) Unwrap() error {
	return e.Err
}

func (e *ArtifactError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsStoryNotFound checks if an error indicates a story was not found.
func IsStoryNotFound(err error) bool {
	return errors.Is(err, ErrStoryNotFound)
}

// IsCheckpointNotFound checks if an error indicates no checkpoint exists.
func IsCheckpointNotFound(err error) bool {
	return errors.Is(err, ErrCheckpointNotFound)
}

// IsArtifactNotFound checks if an error indicates no artifact row exists.
func IsArtifactNotFound(err error) bool {
	return errors.Is(err, ErrArtifactNotFound)
}
