package lock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/michael-menard/storyflow/pkg/models"
)

// releaseScript deletes the lock key only when the caller still holds it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker is a cross-process PhaseLocker backed by SET NX with a TTL.
// The lease token guards Release against deleting a lock re-acquired by
// another run after expiry.
type RedisLocker struct {
	client redis.UniversalClient
}

func NewRedisLocker(client redis.UniversalClient) *RedisLocker {
	return &RedisLocker{client: client}
}

func (r *RedisLocker) Acquire(ctx context.Context, storyID string, phase models.WorkflowPhase, owner string, ttl time.Duration) (*Lease, error) {
	if ttl <= 0 {
		ttl = DefaultLeaseTTL
	}

	key := lockKey(storyID, phase)
	token := uuid.New().String()

	acquired, err := r.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, &LockError{Op: "acquire", StoryID: storyID, Phase: phase, Err: err}
	}

	if !acquired {
		return nil, &LockError{Op: "acquire", StoryID: storyID, Phase: phase, Err: ErrLockHeld}
	}

	return &Lease{
		StoryID: storyID,
		Phase:   phase,
		Owner:   owner,
		Token:   token,
		Expires: time.Now().Add(ttl),
	}, nil
}

func (r *RedisLocker) Release(ctx context.Context, lease *Lease) error {
	key := lockKey(lease.StoryID, lease.Phase)

	deleted, err := releaseScript.Run(ctx, r.client, []string{key}, lease.Token).Int()
	if err != nil {
		return &LockError{Op: "release", StoryID: lease.StoryID, Phase: lease.Phase, Err: err}
	}

	if deleted == 0 {
		return &LockError{Op: "release", StoryID: lease.StoryID, Phase: lease.Phase, Err: ErrNotHolder}
	}

	return nil
}
