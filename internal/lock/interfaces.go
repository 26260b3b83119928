// Package lock provides named, expiring locks used to serialize key
// redemptions and reconciliation cycles within one process.
package lock

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Locker hands out named locks that expire on their own after a TTL.
// Every acquisition is tagged with an owner token; only that owner can
// release or extend it, so a holder whose lock expired cannot free the
// next holder's lock.
type Locker interface {
	// Acquire takes key for ttl on behalf of owner. It returns false if key is already held.
	Acquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)

	// AcquireWithRetry is Acquire repeated up to maxRetries more times,
	// retryDelay apart, until the key is free or ctx is done.
	AcquireWithRetry(ctx context.Context, key, owner string, ttl time.Duration, maxRetries int, retryDelay time.Duration) (bool, error)

	// Release frees key. It returns false if key is not held by owner.
	Release(ctx context.Context, key, owner string) (bool, error)

	// Extend resets the TTL of key. It returns false if key is not held by owner.
	Extend(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)

	// IsHeld reports whether key is currently held.
	IsHeld(ctx context.Context, key string) (bool, error)
}

// NewOwner returns a fresh owner token.
func NewOwner() string {
	return uuid.NewString()
}

// Lock binds one key of a Locker to a unique owner token and remembers
// whether this caller holds it.
type Lock struct {
	locker Locker
	key    string
	owner  string
	held   bool
}

// NewLock returns an unheld Lock for key with its own owner token.
func NewLock(locker Locker, key string) *Lock {
	return &Lock{locker: locker, key: key, owner: NewOwner()}
}

// Key returns the lock name.
func (l *Lock) Key() string {
	return l.key
}

// Acquire takes the lock without waiting.
func (l *Lock) Acquire(ctx context.Context, ttl time.Duration) (bool, error) {
	return l.record(l.locker.Acquire(ctx, l.key, l.owner, ttl))
}

// AcquireWithRetry takes the lock, retrying while another caller holds it.
func (l *Lock) AcquireWithRetry(ctx context.Context, ttl time.Duration, maxRetries int, retryDelay time.Duration) (bool, error) {
	return l.record(l.locker.AcquireWithRetry(ctx, l.key, l.owner, ttl, maxRetries, retryDelay))
}

func (l *Lock) record(acquired bool, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	l.held = acquired
	return acquired, nil
}

// Release frees the lock if this caller holds it. A lock that expired and
// was taken by someone else is left alone.
func (l *Lock) Release(ctx context.Context) error {
	if !l.held {
		return nil
	}
	l.held = false
	_, err := l.locker.Release(ctx, l.key, l.owner)
	return err
}

// Extend resets the TTL. If the lock already expired, the Lock is marked unheld.
func (l *Lock) Extend(ctx context.Context, ttl time.Duration) error {
	if !l.held {
		return nil
	}
	extended, err := l.locker.Extend(ctx, l.key, l.owner, ttl)
	if err != nil {
		return err
	}
	l.held = extended
	return nil
}

// IsHeld reports whether this caller holds the lock.
func (l *Lock) IsHeld() bool {
	return l.held
}

// Keys names the locks used by the services.
var Keys = lockKeys{}

type lockKeys struct{}

// KeyRedeem guards validation and commit of one key's redemption.
func (lockKeys) KeyRedeem(keyID string) string {
	return "lock:key:redeem:" + keyID
}

// Reconcile guards the expiry reconciliation cycle.
func (lockKeys) Reconcile() string {
	return "lock:reconcile"
}
