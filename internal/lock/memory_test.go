package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLocker(t *testing.T) *MemoryLocker {
	t.Helper()
	m := NewMemoryLocker()
	t.Cleanup(m.Stop)
	return m
}

func TestMemoryLocker_AcquireRelease(t *testing.T) {
	ctx := context.Background()
	m := newTestLocker(t)
	key := Keys.KeyRedeem("abc")

	ok, err := m.Acquire(ctx, key, "owner", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = m.Acquire(ctx, key, "owner", time.Minute)
	require.NoError(t, err)
	require.False(t, ok, "second acquire must fail while held")

	held, err := m.IsHeld(ctx, key)
	require.NoError(t, err)
	require.True(t, held)

	released, err := m.Release(ctx, key, "intruder")
	require.NoError(t, err)
	require.False(t, released, "only the owner can release")

	released, err = m.Release(ctx, key, "owner")
	require.NoError(t, err)
	require.True(t, released)

	released, err = m.Release(ctx, key, "owner")
	require.NoError(t, err)
	require.False(t, released)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestMemoryLocker_Expiry(t *testing.T) {
	ctx := context.Background()
	clock := &testClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	m := NewMemoryLocker(WithClock(clock.Now))
	t.Cleanup(m.Stop)

	ok, err := m.Acquire(ctx, "k", "owner", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	clock.Advance(59 * time.Second)
	extended, err := m.Extend(ctx, "k", "owner", time.Minute)
	require.NoError(t, err)
	require.True(t, extended)

	clock.Advance(59 * time.Second)
	held, err := m.IsHeld(ctx, "k")
	require.NoError(t, err)
	require.True(t, held, "extension restarts the TTL")

	clock.Advance(time.Second)
	held, err = m.IsHeld(ctx, "k")
	require.NoError(t, err)
	require.False(t, held, "lock expires exactly at its deadline")

	extended, err = m.Extend(ctx, "k", "owner", time.Minute)
	require.NoError(t, err)
	require.False(t, extended)

	ok, err = m.Acquire(ctx, "k", "owner", time.Minute)
	require.NoError(t, err)
	require.True(t, ok, "expired lock can be taken")
}

func TestMemoryLocker_StaleOwnerCannotTouchNextHolder(t *testing.T) {
	ctx := context.Background()
	clock := &testClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	m := NewMemoryLocker(WithClock(clock.Now))
	t.Cleanup(m.Stop)

	ok, err := m.Acquire(ctx, "k", "first", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	clock.Advance(time.Minute)
	ok, err = m.Acquire(ctx, "k", "second", time.Minute)
	require.NoError(t, err)
	require.True(t, ok, "expired lock can be taken")

	extended, err := m.Extend(ctx, "k", "first", time.Hour)
	require.NoError(t, err)
	require.False(t, extended)

	released, err := m.Release(ctx, "k", "first")
	require.NoError(t, err)
	require.False(t, released)

	held, err := m.IsHeld(ctx, "k")
	require.NoError(t, err)
	require.True(t, held, "second holder keeps the lock")

	clock.Advance(59 * time.Second)
	held, err = m.IsHeld(ctx, "k")
	require.NoError(t, err)
	require.True(t, held, "stale extend must not have changed the deadline")

	released, err = m.Release(ctx, "k", "second")
	require.NoError(t, err)
	require.True(t, released)
}

func TestMemoryLocker_Cleanup(t *testing.T) {
	ctx := context.Background()
	clock := &testClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	m := NewMemoryLocker(WithClock(clock.Now), WithCleanupInterval(5*time.Millisecond))
	t.Cleanup(m.Stop)

	_, err := m.Acquire(ctx, "short", "owner", time.Second)
	require.NoError(t, err)
	_, err = m.Acquire(ctx, "long", "owner", time.Hour)
	require.NoError(t, err)
	require.Equal(t, 2, m.Len())

	clock.Advance(time.Minute)
	require.Eventually(t, func() bool { return m.Len() == 1 }, time.Second, 5*time.Millisecond)

	held, err := m.IsHeld(ctx, "long")
	require.NoError(t, err)
	require.True(t, held)
}

func TestMemoryLocker_AcquireWithRetryWaitsForRelease(t *testing.T) {
	ctx := context.Background()
	m := newTestLocker(t)

	ok, err := m.Acquire(ctx, "k", "owner", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	go func() {
		time.Sleep(30 * time.Millisecond)
		_, _ = m.Release(ctx, "k", "owner")
	}()

	ok, err = m.AcquireWithRetry(ctx, "k", "waiter", time.Minute, 50, 5*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestMemoryLocker_AcquireWithRetryCancelled(t *testing.T) {
	m := newTestLocker(t)

	ok, err := m.Acquire(context.Background(), "k", "owner", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	ok, err = m.AcquireWithRetry(ctx, "k", "waiter", time.Minute, 1000, 5*time.Millisecond)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.False(t, ok)
}

func TestMemoryLocker_ConcurrentAcquire(t *testing.T) {
	ctx := context.Background()
	m := newTestLocker(t)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := m.Acquire(ctx, Keys.Reconcile(), NewOwner(), time.Minute)
			assert.NoError(t, err)
			if ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), wins.Load())
}

func TestLock_Wrapper(t *testing.T) {
	ctx := context.Background()
	m := newTestLocker(t)

	l := NewLock(m, Keys.Reconcile())
	require.False(t, l.IsHeld())
	require.NoError(t, l.Release(ctx), "releasing an unheld lock is a no-op")

	ok, err := l.Acquire(ctx, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, l.IsHeld())
	require.Equal(t, Keys.Reconcile(), l.Key())

	other := NewLock(m, Keys.Reconcile())
	ok, err = other.Acquire(ctx, time.Minute)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, l.Extend(ctx, time.Minute))
	require.NoError(t, l.Release(ctx))
	require.False(t, l.IsHeld())

	ok, err = other.Acquire(ctx, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestLock_ExpiredHolderReleaseKeepsNewHolder(t *testing.T) {
	ctx := context.Background()
	clock := &testClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	m := NewMemoryLocker(WithClock(clock.Now))
	t.Cleanup(m.Stop)

	slow := NewLock(m, Keys.KeyRedeem("abc"))
	ok, err := slow.Acquire(ctx, time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	clock.Advance(2 * time.Second)
	fast := NewLock(m, Keys.KeyRedeem("abc"))
	ok, err = fast.Acquire(ctx, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	// slow still believes it holds the lock; its release must not free fast's.
	require.True(t, slow.IsHeld())
	require.NoError(t, slow.Release(ctx))

	held, err := m.IsHeld(ctx, Keys.KeyRedeem("abc"))
	require.NoError(t, err)
	require.True(t, held)
	require.True(t, fast.IsHeld())
}
