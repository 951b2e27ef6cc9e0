// Package models defines the core domain models for story workflow orchestration
package models

// WorkflowPhase represents the position of a story in the workflow state machine.
type WorkflowPhase string

const (
	PhaseCreated      WorkflowPhase = "created"
	PhaseElaborating  WorkflowPhase = "elaborating"
	PhasePlanning     WorkflowPhase = "planning"
	PhaseImplementing WorkflowPhase = "implementing"
	PhaseCodeReview   WorkflowPhase = "code_review"
	PhaseQAVerify     WorkflowPhase = "qa_verify"
	PhaseUIUXReview   WorkflowPhase = "uiux_review"
	PhaseQAGate       WorkflowPhase = "qa_gate"
	PhaseComplete     WorkflowPhase = "complete"

	// Side states, reachable from any main phase.
	PhaseBlocked   WorkflowPhase = "blocked"
	PhaseEscalated WorkflowPhase = "escalated"
)

// MainPhases lists the forward path through the workflow, in order.
func MainPhases() []WorkflowPhase {
	return []WorkflowPhase{
		PhaseCreated,
		PhaseElaborating,
		PhasePlanning,
		PhaseImplementing,
		PhaseCodeReview,
		PhaseQAVerify,
		PhaseUIUXReview,
		PhaseQAGate,
		PhaseComplete,
	}
}

// IsTerminal reports whether the phase ends graph execution.
func (p WorkflowPhase) IsTerminal() bool {
	return p == PhaseComplete
}

// IsSideState reports whether the phase is a blocked/escalated side state.
func (p WorkflowPhase) IsSideState() bool {
	return p == PhaseBlocked || p == PhaseEscalated
}

// IsValid reports whether the phase is a known workflow phase.
func (p WorkflowPhase) IsValid() bool {
	switch p {
	case PhaseCreated, PhaseElaborating, PhasePlanning, PhaseImplementing,
		PhaseCodeReview, PhaseQAVerify, PhaseUIUXReview, PhaseQAGate,
		PhaseComplete, PhaseBlocked, PhaseEscalated:
		return true
	}

	return false
}

// RoutingFlag is set by a node to drive the conditional edge out of its phase.
type RoutingFlag string

const (
	RouteProceed  RoutingFlag = "proceed"
	RouteRetry    RoutingFlag = "retry"
	RouteBlocked  RoutingFlag = "blocked"
	RouteEscalate RoutingFlag = "escalate"
	RouteSkip     RoutingFlag = "skip"
	RouteComplete RoutingFlag = "complete"
)

// IsValid reports whether the routing flag is a known value.
func (f RoutingFlag) IsValid() bool {
	switch f {
	case RouteProceed, RouteRetry, RouteBlocked, RouteEscalate, RouteSkip, RouteComplete:
		return true
	}

	return false
}

// GateType identifies a quality gate evaluated during the workflow.
type GateType string

const (
	GateCodeReview GateType = "code_review"
	GateQAVerify   GateType = "qa_verify"
	GateUIUXReview GateType = "uiux_review"
	GateQAGate     GateType = "qa_gate"
)

// RequiredGates lists every gate a story must clear before completion.
func RequiredGates() []GateType {
	return []GateType{GateCodeReview, GateQAVerify, GateUIUXReview, GateQAGate}
}

// ArtifactForGate returns the artifact kind a gate inspects.
func ArtifactForGate(g GateType) ArtifactType {
	switch g {
	case GateCodeReview:
		return ArtifactCodeReview
	case GateQAVerify:
		return ArtifactQAVerify
	case GateUIUXReview:
		return ArtifactUIUXReview
	case GateQAGate:
		return ArtifactQAGate
	}

	return ""
}

// GateDecision is the outcome of a gate evaluation.
type GateDecision string

const (
	GatePending  GateDecision = "PENDING"
	GatePass     GateDecision = "PASS"
	GateConcerns GateDecision = "CONCERNS"
	GateFail     GateDecision = "FAIL"
	GateWaived   GateDecision = "WAIVED"
)

// IsValid reports whether the decision is a known value.
func (d GateDecision) IsValid() bool {
	switch d {
	case GatePending, GatePass, GateConcerns, GateFail, GateWaived:
		return true
	}

	return false
}

// ArtifactType identifies a kind of artifact referenced from graph state.
type ArtifactType string

const (
	ArtifactStoryDoc    ArtifactType = "story_doc"
	ArtifactElaboration ArtifactType = "elaboration"
	ArtifactPlan        ArtifactType = "plan"
	ArtifactProof       ArtifactType = "proof"
	ArtifactCodeReview  ArtifactType = "code_review"
	ArtifactQAVerify    ArtifactType = "qa_verify"
	ArtifactUIUXReview  ArtifactType = "uiux_review"
	ArtifactQAGate      ArtifactType = "qa_gate"
	ArtifactEvidence    ArtifactType = "evidence"
)

// EnforcementLevel grades how strictly a guard (idempotency, token budget)
// reacts when its condition trips.
type EnforcementLevel string

const (
	EnforcementAdvisory EnforcementLevel = "advisory"
	EnforcementWarning  EnforcementLevel = "warning"
	EnforcementSoftGate EnforcementLevel = "soft_gate"
	EnforcementHardGate EnforcementLevel = "hard_gate"
)

// IsValid reports whether the enforcement level is a known value.
func (l EnforcementLevel) IsValid() bool {
	switch l {
	case EnforcementAdvisory, EnforcementWarning, EnforcementSoftGate, EnforcementHardGate:
		return true
	}

	return false
}
