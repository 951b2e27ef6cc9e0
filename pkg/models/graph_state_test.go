package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateInitialState(t *testing.T) {
	state, err := CreateInitialState(InitialStateParams{StoryID: "STORY-042"})
	require.NoError(t, err)

	assert.Equal(t, "STORY-042", state.StoryID)
	assert.Equal(t, PhaseCreated, state.Phase)
	assert.Empty(t, state.Errors)
	assert.Empty(t, state.EvidenceRefs)
	assert.Empty(t, state.ArtifactPaths)
	assert.Equal(t, GraphStateSchemaVersion, state.SchemaVersion)

	for _, gate := range RequiredGates() {
		assert.Equal(t, GatePending, state.GateDecisions[gate])
	}
}

func TestCreateInitialState_MissingStoryID(t *testing.T) {
	_, err := CreateInitialState(InitialStateParams{})
	require.Error(t, err)

	var validationErr *ValidationError

	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, "story_id", validationErr.Violations[0].Field)
}

func TestSafeValidateGraphState_SettledGateRequiresArtifact(t *testing.T) {
	state, err := CreateInitialState(InitialStateParams{StoryID: "STORY-001"})
	require.NoError(t, err)

	state.GateDecisions[GateCodeReview] = GatePass

	result := SafeValidateGraphState(state)
	require.False(t, result.Valid)
	assert.Contains(t, result.Violations[0].Message, "code_review")

	state.ArtifactPaths[ArtifactCodeReview] = "plans/future/gallery/mvp/STORY-001/REVIEW.yaml"

	result = SafeValidateGraphState(state)
	assert.True(t, result.Valid)
}

func TestSafeValidateGraphState_CompleteRequiresGates(t *testing.T) {
	state, err := CreateInitialState(InitialStateParams{StoryID: "STORY-001"})
	require.NoError(t, err)

	state.Phase = PhaseComplete

	result := SafeValidateGraphState(state)
	require.False(t, result.Valid)
	// One violation per required gate still pending.
	assert.Len(t, result.Violations, len(RequiredGates()))

	for _, gate := range RequiredGates() {
		state.GateDecisions[gate] = GateWaived
		state.ArtifactPaths[ArtifactForGate(gate)] = "plans/future/gallery/mvp/STORY-001/" + string(gate) + ".yaml"
	}

	result = SafeValidateGraphState(state)
	assert.True(t, result.Valid)
}

func TestValidateGraphState_UnknownVocabulary(t *testing.T) {
	state, err := CreateInitialState(InitialStateParams{StoryID: "STORY-001"})
	require.NoError(t, err)

	state.Phase = WorkflowPhase("daydreaming")
	state.RoutingFlags["seed"] = RoutingFlag("sideways")

	err = ValidateGraphState(state)
	require.Error(t, err)

	var validationErr *ValidationError

	require.ErrorAs(t, err, &validationErr)
	assert.Len(t, validationErr.Violations, 2)
}

func TestGraphState_Apply(t *testing.T) {
	state, err := CreateInitialState(InitialStateParams{StoryID: "STORY-001"})
	require.NoError(t, err)

	phase := PhaseElaborating
	delta := &StateDelta{
		Phase:         &phase,
		ArtifactPaths: map[ArtifactType]string{ArtifactElaboration: "ELABORATION.yaml"},
		RoutingFlags:  map[string]RoutingFlag{"elaborate": RouteProceed},
		Errors: []NodeError{
			{NodeID: "elaborate", Message: "transient", Timestamp: time.Now().UTC(), Recoverable: true},
		},
		NodeResults: map[string]any{"elaborate": "ok"},
	}

	state.Apply(delta)

	assert.Equal(t, PhaseElaborating, state.Phase)
	assert.Equal(t, "ELABORATION.yaml", state.ArtifactPaths[ArtifactElaboration])
	assert.Equal(t, RouteProceed, state.RouteFor("elaborate"))
	assert.Len(t, state.Errors, 1)
	assert.Equal(t, "ok", state.NodeResults["elaborate"])

	// Applying an empty delta leaves content untouched.
	before := len(state.Errors)
	state.Apply(&StateDelta{})
	assert.Len(t, state.Errors, before)
}

func TestGraphState_RouteForDefaultsToProceed(t *testing.T) {
	state, err := CreateInitialState(InitialStateParams{StoryID: "STORY-001"})
	require.NoError(t, err)

	assert.Equal(t, RouteProceed, state.RouteFor("never-ran"))
}
