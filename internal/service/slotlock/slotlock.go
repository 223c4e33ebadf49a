// Package slotlock caps concurrent provider work per user with numbered
// Redis slot keys. A fetch task must hold a slot while it talks to the
// provider; when every slot is taken the task reschedules itself instead of
// blocking a worker.
package slotlock

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/appliedtrack/mailpipe/internal/domain"
	"github.com/appliedtrack/mailpipe/internal/observability"
)

// Locker acquires per-user slots via SET NX EX. The value is a random owner
// token so a release never deletes a slot that expired and was re-acquired by
// someone else.
type Locker struct {
	redis *redis.Client
	slots int
	ttl   time.Duration
}

// New builds a Locker with the given slot count and TTL.
func New(rdb *redis.Client, slots int, ttl time.Duration) *Locker {
	return &Locker{redis: rdb, slots: slots, ttl: ttl}
}

// Acquire tries every slot in order and claims the first free one. It returns
// domain.ErrLockBusy when all slots are held. The returned release func is
// idempotent and safe on every exit path.
func (l *Locker) Acquire(ctx domain.Context, uid string) (func(), error) {
	owner := uuid.New().String()
	for slot := 0; slot < l.slots; slot++ {
		key := slotKey(uid, slot)
		ok, err := l.redis.SetNX(ctx, key, owner, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("op=slotlock.acquire: %w", err)
		}
		if !ok {
			continue
		}
		released := false
		release := func() {
			if released {
				return
			}
			released = true
			// compare-and-delete so an expired slot claimed by another
			// worker is left alone
			_ = releaseScript.Run(ctx, l.redis, []string{key}, owner).Err()
		}
		return release, nil
	}
	observability.LockAcquireBusyTotal.Inc()
	return nil, fmt.Errorf("op=slotlock.acquire: user %s: %w", uid, domain.ErrLockBusy)
}

func slotKey(uid string, slot int) string {
	return "lock:user:" + uid + ":" + strconv.Itoa(slot)
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)
