package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrLocked is returned by TryLock when the lock is already held.
var ErrLocked = errors.New("lock is already held")

// SelectLockKey guards the step that promotes the next entry to active.
const SelectLockKey = "crowdqueue:lock:select"

// releaseScript deletes the key only while it still holds our token.
const releaseScript = `
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	end
	return 0
`

// TryLock acquires key with SET NX PX. The returned unlock func must be
// called to release it; ErrLocked means another holder has it.
func TryLock(ctx context.Context, r *Redis, key string, ttl time.Duration) (unlock func(), err error) {
	token := uuid.NewString()

	ok, err := r.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("cache lock %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLocked
	}
	return func() {
		// Background context: release even if the caller's context is done.
		_ = r.client.Eval(context.Background(), releaseScript, []string{key}, token).Err()
	}, nil
}

// IsLocked reports whether the lock key exists.
func IsLocked(ctx context.Context, r *Redis, key string) bool {
	n, _ := r.client.Exists(ctx, key).Result()
	return n > 0
}

// Locker adapts TryLock to the service's locking interface.
type Locker struct {
	r *Redis
}

// NewLocker returns a Locker backed by r.
func NewLocker(r *Redis) *Locker {
	return &Locker{r: r}
}

// TryLock acquires key for ttl.
func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	return TryLock(ctx, l.r, key, ttl)
}
