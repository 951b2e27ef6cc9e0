// Package lock guards phase execution: a phase lock keeps two concurrent
// runs of the same story out of the same phase, and an idempotency guard
// grades re-running a phase that already ran.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/michael-menard/storyflow/pkg/models"
)

// DefaultLeaseTTL bounds how long a crashed holder can keep a phase locked.
const DefaultLeaseTTL = 10 * time.Minute

var (
	ErrLockHeld     = errors.New("phase lock already held")
	ErrLeaseExpired = errors.New("phase lock lease expired")
	ErrNotHolder    = errors.New("phase lock held by another owner")
)

// Lease is proof of a held phase lock. Release it when the phase finishes.
type Lease struct {
	StoryID string
	Phase   models.WorkflowPhase
	Owner   string
	Token   string
	Expires time.Time
}

// PhaseLocker serializes phase entry per story. Acquire fails fast with
// ErrLockHeld when another run holds the phase.
type PhaseLocker interface {
	Acquire(ctx context.Context, storyID string, phase models.WorkflowPhase, owner string, ttl time.Duration) (*Lease, error)
	Release(ctx context.Context, lease *Lease) error
}

// LockError wraps a lock failure with its story and phase.
type LockError struct {
	Op      string
	StoryID string
	Phase   models.WorkflowPhase
	Err     error
}

func (e *LockError) Error() string {
	return fmt.Sprintf("lock %s %s/%s: %v", e.Op, e.StoryID, e.Phase, e.Err)
}

func (e *LockError) Unwrap() error {
	return e.Err
}

func lockKey(storyID string, phase models.WorkflowPhase) string {
	return fmt.Sprintf("storyflow:lock:%s:%s", storyID, phase)
}
