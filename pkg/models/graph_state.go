package models

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// GraphStateSchemaVersion tags serialized state for forward-compatible
// deserialization. Bump when the serialized shape changes.
const GraphStateSchemaVersion = 1

var validate = validator.New()

// NodeError records a node execution failure. Entries are append-only and
// never mutated after insertion.
type NodeError struct {
	NodeID      string    `json:"node_id"   validate:"required"`
	Message     string    `json:"message"   validate:"required"`
	Code        string    `json:"code"`
	Timestamp   time.Time `json:"timestamp"`
	Stack       string    `json:"stack,omitempty"`
	Recoverable bool      `json:"recoverable"`
}

// EvidenceRef points at captured test/build/http/screenshot/log evidence.
type EvidenceRef struct {
	Type        string    `json:"type" validate:"required"`
	Path        string    `json:"path" validate:"required"`
	Timestamp   time.Time `json:"timestamp"`
	Description string    `json:"description"`
}

// GraphState is the single mutable object threaded through a graph run. It is
// exclusively owned by the currently executing run; persisted rows are only
// referenced via ArtifactPaths, never held live.
type GraphState struct {
	SchemaVersion int                       `json:"schema_version"`
	StoryID       string                    `json:"story_id" validate:"required"`
	Phase         WorkflowPhase             `json:"phase"    validate:"required"`
	ArtifactPaths map[ArtifactType]string   `json:"artifact_paths"`
	GateDecisions map[GateType]GateDecision `json:"gate_decisions"`
	RoutingFlags  map[string]RoutingFlag    `json:"routing_flags"`
	Errors        []NodeError               `json:"errors"`
	EvidenceRefs  []EvidenceRef             `json:"evidence_refs"`
	NodeResults   map[string]any            `json:"node_results,omitempty"`
	CreatedAt     time.Time                 `json:"created_at"`
	UpdatedAt     time.Time                 `json:"updated_at"`
}

// InitialStateParams are the inputs required to start a graph run.
type InitialStateParams struct {
	StoryID string
}

// CreateInitialState produces a state with all required fields defaulted and
// phase set to created.
func CreateInitialState(params InitialStateParams) (*GraphState, error) {
	if params.StoryID == "" {
		return nil, NewValidationError("story_id", "story ID is required")
	}

	now := time.Now().UTC()

	return &GraphState{
		SchemaVersion: GraphStateSchemaVersion,
		StoryID:       params.StoryID,
		Phase:         PhaseCreated,
		ArtifactPaths: make(map[ArtifactType]string),
		GateDecisions: pendingGateDecisions(),
		RoutingFlags:  make(map[string]RoutingFlag),
		Errors:        []NodeError{},
		EvidenceRefs:  []EvidenceRef{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

func pendingGateDecisions() map[GateType]GateDecision {
	decisions := make(map[GateType]GateDecision, len(RequiredGates()))
	for _, g := range RequiredGates() {
		decisions[g] = GatePending
	}

	return decisions
}

// ValidationResult is the outcome of SafeValidateGraphState.
type ValidationResult struct {
	Valid      bool        `json:"valid"`
	Violations []Violation `json:"violations,omitempty"`
}

// ValidateGraphState enforces the structural and cross-field invariants on a
// state and returns a ValidationError describing every violation found.
func ValidateGraphState(s *GraphState) error {
	result := SafeValidateGraphState(s)
	if result.Valid {
		return nil
	}

	return &ValidationError{Violations: result.Violations}
}

// SafeValidateGraphState is the non-throwing variant of ValidateGraphState:
// it always returns a result, never an error.
func SafeValidateGraphState(s *GraphState) ValidationResult {
	violations := []Violation{}

	if s == nil {
		return ValidationResult{Valid: false, Violations: []Violation{{Field: "state", Message: "state is nil"}}}
	}

	if err := validate.Struct(s); err != nil {
		if fieldErrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range fieldErrs {
				violations = append(violations, Violation{
					Field:   fe.Field(),
					Message: fmt.Sprintf("failed %q check", fe.Tag()),
				})
			}
		} else {
			violations = append(violations, Violation{Field: "state", Message: err.Error()})
		}
	}

	if !s.Phase.IsValid() {
		violations = append(violations, Violation{
			Field:   "phase",
			Message: fmt.Sprintf("unknown workflow phase %q", s.Phase),
		})
	}

	for gate, decision := range s.GateDecisions {
		if !decision.IsValid() {
			violations = append(violations, Violation{
				Field:   "gate_decisions",
				Message: fmt.Sprintf("unknown decision %q for gate %s", decision, gate),
			})

			continue
		}

		// A settled gate must have the artifact it inspected on record.
		if decision != GatePending {
			artifact := ArtifactForGate(gate)
			if _, ok := s.ArtifactPaths[artifact]; !ok {
				violations = append(violations, Violation{
					Field:   "artifact_paths",
					Message: fmt.Sprintf("gate %s decided %s but artifact %s is missing", gate, decision, artifact),
				})
			}
		}
	}

	for node, flag := range s.RoutingFlags {
		if !flag.IsValid() {
			violations = append(violations, Violation{
				Field:   "routing_flags",
				Message: fmt.Sprintf("unknown routing flag %q from node %s", flag, node),
			})
		}
	}

	if s.Phase == PhaseComplete {
		for _, gate := range RequiredGates() {
			decision := s.GateDecisions[gate]
			if decision != GatePass && decision != GateWaived {
				violations = append(violations, Violation{
					Field:   "gate_decisions",
					Message: fmt.Sprintf("phase is complete but gate %s is %s", gate, decision),
				})
			}
		}
	}

	return ValidationResult{Valid: len(violations) == 0, Violations: violations}
}

// StateDelta is the partial update a node returns. The executor applies the
// whole delta atomically so the next node never observes a half-applied one.
type StateDelta struct {
	Phase         *WorkflowPhase            `json:"phase,omitempty"`
	ArtifactPaths map[ArtifactType]string   `json:"artifact_paths,omitempty"`
	GateDecisions map[GateType]GateDecision `json:"gate_decisions,omitempty"`
	RoutingFlags  map[string]RoutingFlag    `json:"routing_flags,omitempty"`
	Errors        []NodeError               `json:"errors,omitempty"`
	EvidenceRefs  []EvidenceRef             `json:"evidence_refs,omitempty"`
	NodeResults   map[string]any            `json:"node_results,omitempty"`
}

// Apply merges a delta into the state. ArtifactPaths only grow, Errors and
// EvidenceRefs only append.
func (s *GraphState) Apply(delta *StateDelta) {
	if delta == nil {
		return
	}

	if delta.Phase != nil {
		s.Phase = *delta.Phase
	}

	for artifact, path := range delta.ArtifactPaths {
		if s.ArtifactPaths == nil {
			s.ArtifactPaths = make(map[ArtifactType]string)
		}

		s.ArtifactPaths[artifact] = path
	}

	for gate, decision := range delta.GateDecisions {
		if s.GateDecisions == nil {
			s.GateDecisions = make(map[GateType]GateDecision)
		}

		s.GateDecisions[gate] = decision
	}

	for node, flag := range delta.RoutingFlags {
		if s.RoutingFlags == nil {
			s.RoutingFlags = make(map[string]RoutingFlag)
		}

		s.RoutingFlags[node] = flag
	}

	s.Errors = append(s.Errors, delta.Errors...)
	s.EvidenceRefs = append(s.EvidenceRefs, delta.EvidenceRefs...)

	for key, value := range delta.NodeResults {
		if s.NodeResults == nil {
			s.NodeResults = make(map[string]any)
		}

		s.NodeResults[key] = value
	}

	s.UpdatedAt = time.Now().UTC()
}

// RouteFor returns the routing flag a node set, defaulting to proceed when
// the node recorded nothing.
func (s *GraphState) RouteFor(nodeID string) RoutingFlag {
	if flag, ok := s.RoutingFlags[nodeID]; ok {
		return flag
	}

	return RouteProceed
}
