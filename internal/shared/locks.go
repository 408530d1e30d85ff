package shared

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ReconcileLockKey builds the redis key guarding reconciliation of one warehouse.
func ReconcileLockKey(companyID, warehouseID int64) string {
	return fmt.Sprintf("stockledger:reconcile:%d:%d:lock", companyID, warehouseID)
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// KeyLocker hands out short-lived exclusive locks stored in redis.
type KeyLocker struct {
	client redis.UniversalClient
}

// NewKeyLocker constructs a locker. A nil client yields a locker that always
// succeeds, which is what single-process deployments and tests want.
func NewKeyLocker(client redis.UniversalClient) *KeyLocker {
	return &KeyLocker{client: client}
}

// Acquire takes key for ttl. The returned release func only deletes the key
// while this caller still owns it.
func (l *KeyLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	if l == nil || l.client == nil {
		return func(context.Context) error { return nil }, nil
	}
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("shared: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLockHeld, key)
	}
	release := func(ctx context.Context) error {
		return releaseScript.Run(ctx, l.client, []string{key}, token).Err()
	}
	return release, nil
}
