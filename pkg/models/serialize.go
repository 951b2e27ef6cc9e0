package models

import (
	"encoding/json"
	"fmt"
)

// SerializeState encodes a graph state for checkpointing. The encoded form
// carries the schema version tag and round-trips exactly through
// DeserializeState.
func SerializeState(s *GraphState) ([]byte, error) {
	if s == nil {
		return nil, NewValidationError("state", "state is nil")
	}

	if s.SchemaVersion == 0 {
		s.SchemaVersion = GraphStateSchemaVersion
	}

	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize graph state: %w", err)
	}

	return data, nil
}

// DeserializeState decodes a previously serialized graph state. An unknown
// schema version fails with SchemaVersionError rather than silently coercing.
func DeserializeState(data []byte) (*GraphState, error) {
	var versionProbe struct {
		SchemaVersion int `json:"schema_version"`
	}

	if err := json.Unmarshal(data, &versionProbe); err != nil {
		return nil, fmt.Errorf("failed to read graph state envelope: %w", err)
	}

	if versionProbe.SchemaVersion != GraphStateSchemaVersion {
		return nil, &SchemaVersionError{
			Found:     versionProbe.SchemaVersion,
			Supported: GraphStateSchemaVersion,
		}
	}

	var state GraphState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to deserialize graph state: %w", err)
	}

	state.CreatedAt = state.CreatedAt.UTC()
	state.UpdatedAt = state.UpdatedAt.UTC()

	for i := range state.Errors {
		state.Errors[i].Timestamp = state.Errors[i].Timestamp.UTC()
	}

	for i := range state.EvidenceRefs {
		state.EvidenceRefs[i].Timestamp = state.EvidenceRefs[i].Timestamp.UTC()
	}

	return &state, nil
}
