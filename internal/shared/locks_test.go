package shared

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestKeyLockerExclusive(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	locker := NewKeyLocker(client)
	ctx := context.Background()
	key := ReconcileLockKey(1, 7)

	release, err := locker.Acquire(ctx, key, time.Minute)
	require.NoError(t, err)

	_, err = locker.Acquire(ctx, key, time.Minute)
	require.ErrorIs(t, err, ErrLockHeld)

	require.NoError(t, release(ctx))
	require.False(t, mr.Exists(key))

	release, err = locker.Acquire(ctx, key, time.Minute)
	require.NoError(t, err)
	require.NoError(t, release(ctx))
}

func TestKeyLockerReleaseKeepsForeignOwner(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	locker := NewKeyLocker(client)
	ctx := context.Background()
	key := ReconcileLockKey(1, 8)

	release, err := locker.Acquire(ctx, key, time.Second)
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)
	other, err := locker.Acquire(ctx, key, time.Minute)
	require.NoError(t, err)

	require.NoError(t, release(ctx))
	require.True(t, mr.Exists(key))
	require.NoError(t, other(ctx))
}

func TestNilKeyLocker(t *testing.T) {
	release, err := NewKeyLocker(nil).Acquire(context.Background(), "k", time.Second)
	require.NoError(t, err)
	require.NoError(t, release(context.Background()))
}
