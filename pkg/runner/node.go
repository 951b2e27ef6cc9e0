// Package runner wraps workflow node bodies with the cross-cutting concerns
// every node needs: timeouts, panic and error capture, routing flags,
// metrics, and tracing. Node authors write pure state-in, delta-out
// functions and never deal with any of this directly.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/michael-menard/storyflow/pkg/llm"
	"github.com/michael-menard/storyflow/pkg/models"
	"github.com/michael-menard/storyflow/pkg/otelhelper"
	"github.com/michael-menard/storyflow/pkg/protocol"
)

// NodeFunc is a tool node body: current state in, partial update out.
type NodeFunc func(ctx context.Context, state *models.GraphState) (*models.StateDelta, error)

// LLMNodeFunc is an LLM-powered node body. The runner resolves the agent
// role to a client before invocation.
type LLMNodeFunc func(ctx context.Context, state *models.GraphState, selection *llm.Selection) (*models.StateDelta, error)

// RecoverablePredicate decides whether a failure should be retried. The
// default treats every error as non-recoverable.
type RecoverablePredicate func(err error) bool

// Options configures the execution wrapper.
type Options struct {
	// Timeout bounds a single execution. Zero means no timeout.
	Timeout time.Duration

	// Recoverable marks errors that should route to retry. Nil means none.
	Recoverable RecoverablePredicate

	// NonRecoverableRoute is the routing flag set on non-recoverable
	// failures: blocked (default) or escalate.
	NonRecoverableRoute models.RoutingFlag

	Metrics *Metrics
	Tracer  trace.Tracer
	Logger  *slog.Logger
}

func (o *Options) normalize() {
	if o.NonRecoverableRoute != models.RouteBlocked && o.NonRecoverableRoute != models.RouteEscalate {
		o.NonRecoverableRoute = models.RouteBlocked
	}

	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

type toolNode struct {
	id   string
	fn   NodeFunc
	opts Options
}

// NewToolNode wraps an I/O-performing node body. The returned node never
// propagates an error out of Execute; failures are folded into the delta as
// a NodeError plus a routing flag.
func NewToolNode(id string, fn NodeFunc, opts Options) protocol.Node {
	opts.normalize()

	return &toolNode{id: id, fn: fn, opts: opts}
}

func (n *toolNode) ID() string { return n.id }

func (n *toolNode) Execute(ctx context.Context, state *models.GraphState) (*models.StateDelta, error) {
	return run(ctx, n.id, state, n.opts, n.fn)
}

type llmNode struct {
	id       string
	role     string
	selector *llm.Selector
	fn       LLMNodeFunc
	opts     Options
}

// NewLLMNode wraps an LLM-powered node body. The agent role is resolved to
// a client before the body runs, and the model actually used is recorded in
// the node's result for observability.
func NewLLMNode(id, agentRole string, selector *llm.Selector, fn LLMNodeFunc, opts Options) protocol.Node {
	opts.normalize()

	return &llmNode{id: id, role: agentRole, selector: selector, fn: fn, opts: opts}
}

func (n *llmNode) ID() string { return n.id }

func (n *llmNode) Execute(ctx context.Context, state *models.GraphState) (*models.StateDelta, error) {
	return run(ctx, n.id, state, n.opts, func(ctx context.Context, state *models.GraphState) (*models.StateDelta, error) {
		selection, err := n.selector.GetLLMForAgent(ctx, n.role)
		if err != nil {
			return nil, err
		}

		if span := trace.SpanFromContext(ctx); span != nil {
			span.SetAttributes(
				attribute.String(otelhelper.AgentRoleKey, n.role),
				attribute.String(otelhelper.ModelKey, selection.ModelUsed),
			)
		}

		delta, err := n.fn(ctx, state, selection)
		if err != nil {
			return nil, err
		}

		if delta.NodeResults == nil {
			delta.NodeResults = make(map[string]any)
		}

		delta.NodeResults[n.id+":model"] = map[string]any{
			"assigned": selection.ModelAssigned,
			"used":     selection.ModelUsed,
			"fellback": selection.FellBack,
		}

		return delta, nil
	})
}

func run(ctx context.Context, id string, state *models.GraphState, opts Options, fn NodeFunc) (*models.StateDelta, error) {
	if opts.Tracer != nil {
		var span trace.Span

		ctx, span = otelhelper.StartSpan(ctx, opts.Tracer, "node."+id,
			attribute.String(otelhelper.NodeIDKey, id),
			attribute.String(otelhelper.StoryIDKey, state.StoryID),
			attribute.String(otelhelper.PhaseKey, string(state.Phase)),
		)
		defer span.End()
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	start := time.Now()
	delta, err := invoke(ctx, state, fn)
	elapsed := time.Since(start)

	if err == nil {
		if opts.Metrics != nil {
			opts.Metrics.RecordSuccess(id, elapsed)
		}

		return delta, nil
	}

	category := categorize(err)
	recoverable := opts.Recoverable != nil && opts.Recoverable(err)

	route := opts.NonRecoverableRoute
	if recoverable {
		route = models.RouteRetry
	}

	if opts.Metrics != nil {
		opts.Metrics.RecordFailure(id, elapsed, category)

		if recoverable {
			opts.Metrics.RecordRetry(id)
		}
	}

	if span := trace.SpanFromContext(ctx); span != nil {
		otelhelper.SetError(span, err, attribute.String(otelhelper.NodeIDKey, id))
	}

	opts.Logger.ErrorContext(ctx, "Node execution failed",
		"node_id", id,
		"story_id", state.StoryID,
		"category", string(category),
		"recoverable", recoverable,
		"route", string(route),
		"error", err)

	nodeErr := models.NodeError{
		NodeID:      id,
		Message:     err.Error(),
		Code:        string(category),
		Timestamp:   time.Now().UTC(),
		Recoverable: recoverable,
	}

	var panicErr *panicError
	if errors.As(err, &panicErr) {
		nodeErr.Stack = panicErr.stack
	}

	return &models.StateDelta{
		Errors:       []models.NodeError{nodeErr},
		RoutingFlags: map[string]models.RoutingFlag{id: route},
	}, nil
}

func invoke(ctx context.Context, state *models.GraphState, fn NodeFunc) (delta *models.StateDelta, err error) {
	defer func() {
		if r := recover(); r != nil {
			delta = nil
			err = &panicError{value: r, stack: string(debug.Stack())}
		}
	}()

	return fn(ctx, state)
}

type panicError struct {
	value any
	stack string
}

func (e *panicError) Error() string {
	return fmt.Sprintf("node panicked: %v", e.value)
}

func categorize(err error) ErrorCategory {
	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryTimeout
	}

	var validationErr *models.ValidationError
	if errors.As(err, &validationErr) {
		return CategoryValidation
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return CategoryNetwork
	}

	var externalErr *models.ExternalServiceError
	if errors.As(err, &externalErr) {
		return CategoryNetwork
	}

	return CategoryOther
}
