package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/michael-menard/storyflow/pkg/budget"
	"github.com/michael-menard/storyflow/pkg/eventbus"
	"github.com/michael-menard/storyflow/pkg/events"
	"github.com/michael-menard/storyflow/pkg/graph"
	"github.com/michael-menard/storyflow/pkg/kb"
	"github.com/michael-menard/storyflow/pkg/models"
	"github.com/michael-menard/storyflow/pkg/nodes/gates"
	"github.com/michael-menard/storyflow/pkg/nodes/knowledge"
	"github.com/michael-menard/storyflow/pkg/nodes/learnings"
	"github.com/michael-menard/storyflow/pkg/persistence"
	"github.com/michael-menard/storyflow/pkg/runner"
)

// PipelineOptions configures the default node pipeline. Knowledge and
// Budget are optional; phases whose collaborator is absent simply run
// without that node.
type PipelineOptions struct {
	Knowledge  kb.KnowledgeBase
	Budget     *budget.Tracker
	Thresholds gates.Thresholds
	Metrics    *runner.Metrics

	// Bus receives gate decision events. Nil disables publication;
	// publish failures are logged, never fatal.
	Bus eventbus.EventPublisher

	// Confirmed conveys operator approval for soft-gated budget overruns.
	Confirmed bool
}

// NewPhaseNodes assembles the standard pipeline: knowledge retrieval while
// elaborating, a budget check before implementation work, and the
// commitment gate plus learnings capture at the final gate.
func NewPhaseNodes(store persistence.Persistence, opts PipelineOptions, logger *slog.Logger) graph.PhaseNodes {
	if opts.Thresholds == (gates.Thresholds{}) {
		opts.Thresholds = gates.DefaultThresholds()
	}

	runnerOpts := runner.Options{Metrics: opts.Metrics, Logger: logger}
	nodes := graph.PhaseNodes{}

	if opts.Knowledge != nil {
		retriever := knowledge.NewRetriever(opts.Knowledge, logger)

		nodes[models.PhaseElaborating] = append(nodes[models.PhaseElaborating],
			runner.NewToolNode("knowledge_retrieval", func(ctx context.Context, state *models.GraphState) (*models.StateDelta, error) {
				return retriever.RetrieveForStory(ctx, "knowledge_retrieval", state, nil), nil
			}, runnerOpts))
	}

	if opts.Budget != nil {
		tracker := opts.Budget
		confirmed := opts.Confirmed

		nodes[models.PhaseImplementing] = append(nodes[models.PhaseImplementing],
			runner.NewToolNode("budget_check", func(ctx context.Context, state *models.GraphState) (*models.StateDelta, error) {
				result, err := tracker.Check(ctx, state.StoryID, string(state.Phase), 0, confirmed)
				if err != nil {
					return nil, err
				}

				return result.Delta("budget_check"), nil
			}, runnerOpts))
	}

	gate := gates.NewCommitmentGate(opts.Thresholds, logger)

	nodes[models.PhaseQAGate] = append(nodes[models.PhaseQAGate],
		runner.NewToolNode("commitment_gate", commitmentGateBody(store, gate, opts.Bus, logger), runnerOpts))

	if opts.Knowledge != nil {
		persister := learnings.NewPersister(opts.Knowledge, logger)

		nodes[models.PhaseQAGate] = append(nodes[models.PhaseQAGate],
			runner.NewToolNode("learnings_capture", func(ctx context.Context, state *models.GraphState) (*models.StateDelta, error) {
				persister.Persist(ctx, state, recoveryCandidates(state))

				return &models.StateDelta{}, nil
			}, runnerOpts))
	}

	return nodes
}

// commitmentGateBody evaluates the commitment gate against the story's
// latest elaboration. The gate's artifact path is recorded alongside the
// decision so a settled gate always points at what it inspected, and the
// decision is announced on the bus.
func commitmentGateBody(store persistence.Persistence, gate *gates.CommitmentGate, bus eventbus.EventPublisher, logger *slog.Logger) runner.NodeFunc {
	return func(ctx context.Context, state *models.GraphState) (*models.StateDelta, error) {
		input := gates.GateInput{}
		artifactPath := "db://elaborations/" + state.StoryID

		record, err := store.WorkflowRepository().LatestElaboration(ctx, state.StoryID)

		switch {
		case err == nil:
			if record.ReadinessScore != nil {
				input.ReadinessScore = *record.ReadinessScore
			}

			input.UnknownCount = record.GapsCount
			artifactPath = fmt.Sprintf("db://elaborations/%s/v%d", state.StoryID, record.Version)
		case persistence.IsArtifactNotFound(err):
			// No elaboration on record scores zero and fails the gate.
		default:
			return nil, err
		}

		for _, nodeErr := range state.Errors {
			if !nodeErr.Recoverable {
				input.BlockerCount++
			}
		}

		result := gate.Evaluate(ctx, state.StoryID, input)

		if bus != nil {
			decided := events.GateDecided{
				BaseEvent: events.NewBaseEvent(events.GateDecidedEvent, state.StoryID),
				Gate:      models.GateQAGate,
				Decision:  result.Decision,
				Waived:    result.Decision == models.GateWaived,
			}

			if result.Override != nil {
				decided.Actor = result.Override.Actor
			}

			if err := bus.Publish(ctx, state.StoryID, decided); err != nil {
				logger.WarnContext(ctx, "Gate decision publish failed",
					"story_id", state.StoryID, "error", err)
			}
		}

		delta := result.Delta("commitment_gate")
		delta.ArtifactPaths = map[models.ArtifactType]string{models.ArtifactQAGate: artifactPath}

		return delta, nil
	}
}

// recoveryCandidates turns errors the run recovered from into learning
// candidates worth remembering for future stories.
func recoveryCandidates(state *models.GraphState) []learnings.Candidate {
	seen := make(map[string]bool)

	var candidates []learnings.Candidate

	for _, nodeErr := range state.Errors {
		if !nodeErr.Recoverable || seen[nodeErr.Message] {
			continue
		}

		seen[nodeErr.Message] = true

		candidates = append(candidates, learnings.Candidate{
			Content: fmt.Sprintf("Recovered from %s failure in node %s: %s",
				nodeErr.Code, nodeErr.NodeID, nodeErr.Message),
			Tags: []string{"recovery", nodeErr.Code},
		})
	}

	return candidates
}
