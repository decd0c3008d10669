package redislock_test

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/go-device-sessions/sessions/redislock"
)

// Integration tests are opt-in and require DEVSESS_TEST_REDIS_ADDR.

func setupTestLocker(t *testing.T, options ...redislock.Option) *redislock.Locker {
	t.Helper()

	addr := strings.TrimSpace(os.Getenv("DEVSESS_TEST_REDIS_ADDR"))
	if addr == "" {
		t.Skip("integration test skipped: DEVSESS_TEST_REDIS_ADDR is not set")
	}

	client, err := redislock.NewClient(context.Background(), addr, "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return redislock.New(client, options...)
}

func TestLocker_ExcludesSecondHolder(t *testing.T) {
	locker := setupTestLocker(t)
	key := "it-" + ulid.Make().String()

	unlock, err := locker.Lock(context.Background(), key)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(ctx, key)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()

	ctx2, cancel2 := context.WithTimeout(context.Background(), time.Second)
	defer cancel2()
	unlock, err = locker.Lock(ctx2, key)
	require.NoError(t, err)
	unlock()
}

func TestLocker_ExpiredHolderDoesNotReleaseNewHolder(t *testing.T) {
	locker := setupTestLocker(t, redislock.WithTTL(100*time.Millisecond), redislock.WithoutRenewal())
	key := "it-" + ulid.Make().String()

	stale, err := locker.Lock(context.Background(), key)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	current, err := locker.Lock(ctx, key)
	require.NoError(t, err)
	defer current()

	stale()

	short, cancelShort := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancelShort()
	_, err = locker.Lock(short, key)
	require.Error(t, err, "stale release must not free the current holder")
}

func TestLocker_RenewsLeaseWhileHeld(t *testing.T) {
	locker := setupTestLocker(t, redislock.WithTTL(150*time.Millisecond))
	key := "it-" + ulid.Make().String()

	unlock, err := locker.Lock(context.Background(), key)
	require.NoError(t, err)

	time.Sleep(500 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(ctx, key)
	require.ErrorIs(t, err, context.DeadlineExceeded, "a live holder keeps the lock past its TTL")

	unlock()
	unlock()

	ctx2, cancel2 := context.WithTimeout(context.Background(), time.Second)
	defer cancel2()
	next, err := locker.Lock(ctx2, key)
	require.NoError(t, err)
	next()
}
