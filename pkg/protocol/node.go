// Package protocol defines the interfaces and contracts for workflow nodes.
package protocol

import (
	"context"
	"log/slog"

	"github.com/michael-menard/storyflow/pkg/models"
)

// Node executes one step of the story workflow. Implementations receive the
// current graph state and return a partial update; they never mutate the
// state they are given.
type Node interface {
	// ID returns the node's identifier within the graph.
	ID() string

	// Execute runs the node against the state and returns the delta to apply.
	Execute(ctx context.Context, state *models.GraphState) (*models.StateDelta, error)
}

// NodeFactory creates node instances and provides metadata about the node type.
type NodeFactory interface {
	// Create creates a new node instance with the given configuration
	Create(ctx context.Context, id string, config map[string]any) (Node, error)

	// ID returns the unique identifier for this node type
	ID() string

	// Name returns the human-readable name for this node type
	Name() string

	// Description returns a description of what this node does
	Description() string

	// Schema returns the JSON schema for configuring this node
	Schema() map[string]any
}

// Dependencies contains the common dependencies node factories need.
type Dependencies struct {
	Logger *slog.Logger
}
