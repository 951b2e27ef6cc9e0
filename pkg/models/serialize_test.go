package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerializeState_RoundTrip(t *testing.T) {
	state, err := CreateInitialState(InitialStateParams{StoryID: "STORY-042"})
	require.NoError(t, err)

	state.Phase = PhaseQAGate
	state.ArtifactPaths[ArtifactQAGate] = "plans/future/gallery/mvp/STORY-042/qa_gate.yaml"
	state.GateDecisions[GateQAGate] = GatePass
	state.RoutingFlags["qa_gate"] = RouteProceed
	state.Errors = append(state.Errors, NodeError{
		NodeID:      "fanout-qa",
		Message:     "worker timed out",
		Code:        "timeout",
		Timestamp:   time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		Recoverable: true,
	})
	state.EvidenceRefs = append(state.EvidenceRefs, EvidenceRef{
		Type:        "test",
		Path:        "EVIDENCE.yaml",
		Timestamp:   time.Date(2026, 3, 1, 10, 5, 0, 0, time.UTC),
		Description: "unit test run",
	})

	data, err := SerializeState(state)
	require.NoError(t, err)

	restored, err := DeserializeState(data)
	require.NoError(t, err)

	assert.Equal(t, state, restored)
}

func TestDeserializeState_UnknownSchemaVersion(t *testing.T) {
	state, err := CreateInitialState(InitialStateParams{StoryID: "STORY-042"})
	require.NoError(t, err)

	data, err := SerializeState(state)
	require.NoError(t, err)

	var raw map[string]any

	require.NoError(t, json.Unmarshal(data, &raw))
	raw["schema_version"] = 99
	data, err = json.Marshal(raw)
	require.NoError(t, err)

	_, err = DeserializeState(data)
	require.Error(t, err)

	var versionErr *SchemaVersionError

	require.ErrorAs(t, err, &versionErr)
	assert.Equal(t, 99, versionErr.Found)
	assert.Equal(t, GraphStateSchemaVersion, versionErr.Supported)
}

func TestDeserializeState_Garbage(t *testing.T) {
	_, err := DeserializeState([]byte("not json"))
	require.Error(t, err)
}
