package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/michael-menard/storyflow/pkg/models"
)

type memoryEntry struct {
	token   string
	expires time.Time
}

// MemoryLocker is a single-process PhaseLocker. Expired leases are treated
// as free and overwritten on the next Acquire.
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]memoryEntry
	now   func() time.Time
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{
		locks: make(map[string]memoryEntry),
		now:   time.Now,
	}
}

func (m *MemoryLocker) Acquire(_ context.Context, storyID string, phase models.WorkflowPhase, owner string, ttl time.Duration) (*Lease, error) {
	if ttl <= 0 {
		ttl = DefaultLeaseTTL
	}

	key := lockKey(storyID, phase)
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	if entry, held := m.locks[key]; held && entry.expires.After(now) {
		return nil, &LockError{Op: "acquire", StoryID: storyID, Phase: phase, Err: ErrLockHeld}
	}

	token := uuid.New().String()
	m.locks[key] = memoryEntry{token: token, expires: now.Add(ttl)}

	return &Lease{
		StoryID: storyID,
		Phase:   phase,
		Owner:   owner,
		Token:   token,
		Expires: now.Add(ttl),
	}, nil
}

func (m *MemoryLocker) Release(_ context.Context, lease *Lease) error {
	key := lockKey(lease.StoryID, lease.Phase)

	m.mu.Lock()
	defer m.mu.Unlock()

	entry, held := m.locks[key]
	if !held {
		return &LockError{Op: "release", StoryID: lease.StoryID, Phase: lease.Phase, Err: ErrLeaseExpired}
	}

	if entry.token != lease.Token {
		return &LockError{Op: "release", StoryID: lease.StoryID, Phase: lease.Phase, Err: ErrNotHolder}
	}

	delete(m.locks, key)

	return nil
}
