package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"medibook/pkg/config"
)

// SlotLockRepository is the distributed exclusive lock on a
// (doctor, slot) pair. Redis is the single arbiter of concurrent
// claims across all process instances; both operations are atomic on
// the server side, so there is no read-then-write window.
type SlotLockRepository interface {
	// Acquire creates the lock key only if absent, with the given TTL.
	// false means another caller holds the slot.
	Acquire(ctx context.Context, doctorID string, slotTime time.Time, token string, ttl time.Duration) (bool, error)
	// Release deletes the key only if its value still equals token.
	// A mismatched or absent token is a no-op, not an error.
	Release(ctx context.Context, doctorID string, slotTime time.Time, token string) error
}

// Compare-and-delete: never remove a lock that another owner
// re-acquired after our own TTL expiry.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("del", KEYS[1])
else
  return 0
end
`)

type redisSlotLockRepository struct {
	client *redis.Client
}

func NewSlotLockRepository(cfg *config.Config) SlotLockRepository {
	return &redisSlotLockRepository{client: cfg.Client.Redis}
}

func LockKey(doctorID string, slotTime time.Time) string {
	return fmt.Sprintf("lock:%s:%s", doctorID, slotTime.UTC().Format(time.RFC3339))
}

func (r *redisSlotLockRepository) Acquire(ctx context.Context, doctorID string, slotTime time.Time, token string, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, LockKey(doctorID, slotTime), token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire slot lock: %w", err)
	}
	return ok, nil
}

func (r *redisSlotLockRepository) Release(ctx context.Context, doctorID string, slotTime time.Time, token string) error {
	if err := releaseScript.Run(ctx, r.client, []string{LockKey(doctorID, slotTime)}, token).Err(); err != nil {
		return fmt.Errorf("failed to release slot lock: %w", err)
	}
	return nil
}
