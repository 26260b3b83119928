package lock

import (
	"context"
	"sync"
	"time"
)

// DefaultCleanupInterval is how often a MemoryLocker drops expired entries.
const DefaultCleanupInterval = 30 * time.Second

// MemoryLocker implements Locker with a map of owned expiry deadlines.
// Locks live only as long as the process.
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]entry
	now   func() time.Time

	stopOnce sync.Once
	stop     chan struct{}
}

type entry struct {
	owner     string
	expiresAt time.Time
}

// MemoryOption configures a MemoryLocker.
type MemoryOption func(*memoryOptions)

type memoryOptions struct {
	now             func() time.Time
	cleanupInterval time.Duration
}

// WithClock replaces time.Now for expiry decisions.
func WithClock(now func() time.Time) MemoryOption {
	return func(o *memoryOptions) { o.now = now }
}

// WithCleanupInterval overrides DefaultCleanupInterval.
func WithCleanupInterval(d time.Duration) MemoryOption {
	return func(o *memoryOptions) { o.cleanupInterval = d }
}

// NewMemoryLocker creates a new in-memory locker.
// Call Stop to end its background cleanup.
func NewMemoryLocker(opts ...MemoryOption) *MemoryLocker {
	o := memoryOptions{now: time.Now, cleanupInterval: DefaultCleanupInterval}
	for _, opt := range opts {
		opt(&o)
	}

	m := &MemoryLocker{
		locks: make(map[string]entry),
		now:   o.now,
		stop:  make(chan struct{}),
	}
	go m.cleanupLoop(o.cleanupInterval)
	return m
}

// Stop ends the background cleanup goroutine. Held locks remain usable.
func (m *MemoryLocker) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
}

func (m *MemoryLocker) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.cleanup()
		}
	}
}

func (m *MemoryLocker) cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for key, e := range m.locks {
		if !now.Before(e.expiresAt) {
			delete(m.locks, key)
		}
	}
}

// liveLocked returns the unexpired entry of key, dropping it if it has expired.
// Caller must hold m.mu.
func (m *MemoryLocker) liveLocked(key string, now time.Time) (entry, bool) {
	e, ok := m.locks[key]
	if !ok {
		return entry{}, false
	}
	if !now.Before(e.expiresAt) {
		delete(m.locks, key)
		return entry{}, false
	}
	return e, true
}

// Acquire takes key for ttl unless it is already held.
func (m *MemoryLocker) Acquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if _, held := m.liveLocked(key, now); held {
		return false, nil
	}
	m.locks[key] = entry{owner: owner, expiresAt: now.Add(ttl)}
	return true, nil
}

// AcquireWithRetry calls Acquire up to maxRetries+1 times, sleeping retryDelay between attempts.
func (m *MemoryLocker) AcquireWithRetry(ctx context.Context, key, owner string, ttl time.Duration, maxRetries int, retryDelay time.Duration) (bool, error) {
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for attempt := 0; ; attempt++ {
		acquired, err := m.Acquire(ctx, key, owner, ttl)
		if err != nil || acquired {
			return acquired, err
		}
		if attempt >= maxRetries {
			return false, nil
		}

		if timer == nil {
			timer = time.NewTimer(retryDelay)
		} else {
			timer.Reset(retryDelay)
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-timer.C:
		}
	}
}

// Release drops key if owner holds it. It reports whether anything was released.
func (m *MemoryLocker) Release(_ context.Context, key, owner string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.liveLocked(key, m.now())
	if !ok || e.owner != owner {
		return false, nil
	}
	delete(m.locks, key)
	return true, nil
}

// Extend pushes the expiry of key to ttl from now if owner holds it.
func (m *MemoryLocker) Extend(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	e, ok := m.liveLocked(key, now)
	if !ok || e.owner != owner {
		return false, nil
	}
	e.expiresAt = now.Add(ttl)
	m.locks[key] = e
	return true, nil
}

// IsHeld reports whether key is currently held.
func (m *MemoryLocker) IsHeld(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	_, held := m.liveLocked(key, m.now())
	return held, nil
}

// Len returns the number of entries, expired ones included until cleanup runs.
func (m *MemoryLocker) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}

var _ Locker = (*MemoryLocker)(nil)
