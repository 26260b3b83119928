package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/prn-tf/premium-keys/internal/domain"
	"github.com/prn-tf/premium-keys/internal/keystore"
	"github.com/prn-tf/premium-keys/internal/lock"
	"github.com/prn-tf/premium-keys/internal/metrics"
	"github.com/prn-tf/premium-keys/internal/platform"
)

// ExpiryMessage is sent privately to a member whose premium role was removed.
const ExpiryMessage = "Your premium role has expired. Thank you for being a premium member! " +
	"Ask an administrator to generate a new premium key for you."

// Reconciler periodically removes the premium role from holders of expired keys.
type Reconciler struct {
	store    *keystore.Store
	sync     *SyncService
	revoker  *RoleRevoker
	platform platform.Client
	notifier *platform.Notifier
	locker   lock.Locker
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	config   ReconcilerConfig

	// Control
	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// ReconcilerConfig contains reconciliation configuration.
type ReconcilerConfig struct {
	// Interval is the wait between the end of one cycle and the start of the next.
	Interval time.Duration

	// ManualWait is how long RunOnce waits for a running cycle to finish.
	ManualWait time.Duration
}

// DefaultReconcilerConfig returns sensible defaults.
func DefaultReconcilerConfig() ReconcilerConfig {
	return ReconcilerConfig{
		Interval:   10 * time.Minute,
		ManualWait: 2 * time.Minute,
	}
}

// NewReconciler creates a new Reconciler. syncSvc may be nil when no
// secondary store is configured.
func NewReconciler(
	store *keystore.Store,
	syncSvc *SyncService,
	revoker *RoleRevoker,
	client platform.Client,
	notifier *platform.Notifier,
	locker lock.Locker,
	m *metrics.Metrics,
	logger zerolog.Logger,
	config ReconcilerConfig,
) *Reconciler {
	if config.Interval <= 0 {
		config.Interval = DefaultReconcilerConfig().Interval
	}
	if config.ManualWait <= 0 {
		config.ManualWait = DefaultReconcilerConfig().ManualWait
	}
	return &Reconciler{
		store:    store,
		sync:     syncSvc,
		revoker:  revoker,
		platform: client,
		notifier: notifier,
		locker:   locker,
		metrics:  m,
		logger:   logger.With().Str("service", "reconciler").Logger(),
		config:   config,
	}
}

// ReconcileResult contains the result of one reconciliation cycle.
type ReconcileResult struct {
	// Expired is the number of expired, redeemed keys examined.
	Expired int `json:"expired"`

	// UsersSkipped counts holders left alone because another key is still active.
	UsersSkipped int `json:"users_skipped"`

	// RolesRemoved counts guild role removals.
	RolesRemoved int `json:"roles_removed"`

	// MessagesSent counts expiry direct messages delivered.
	MessagesSent int `json:"messages_sent"`

	// Errors is the number of errors encountered.
	Errors int `json:"errors"`

	Pull *SyncResult `json:"pull,omitempty"`
	Push *SyncResult `json:"push,omitempty"`

	// Duration is how long the cycle took.
	Duration time.Duration `json:"duration"`
}

// Run executes a cycle immediately and then one per interval until ctx is done.
// The interval is measured from the end of a cycle, so cycles never overlap.
func (r *Reconciler) Run(ctx context.Context) error {
	r.logger.Info().Dur("interval", r.config.Interval).Msg("Starting reconciler")

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("Reconciler stopped")
			return nil
		case <-timer.C:
			if _, err := r.cycle(ctx, false); err != nil && !errors.Is(err, ErrReconcileInProgress) {
				r.logger.Error().Err(err).Msg("Reconciliation cycle failed")
			}
			timer.Reset(r.config.Interval)
		}
	}
}

// Start runs the loop in a background goroutine.
func (r *Reconciler) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.running = true
	r.cancel = cancel
	r.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		_ = r.Run(ctx)
	}(r.done)
}

// Stop cancels the background loop and waits for the current cycle to end.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	cancel, done := r.cancel, r.done
	r.mu.Unlock()

	cancel()
	<-done
}

// RunOnce executes a single cycle, waiting for a cycle already in progress
// to finish first. It returns ErrReconcileInProgress if the wait runs out.
func (r *Reconciler) RunOnce(ctx context.Context) (*ReconcileResult, error) {
	return r.cycle(ctx, true)
}

func (r *Reconciler) cycle(ctx context.Context, wait bool) (*ReconcileResult, error) {
	start := time.Now()

	held, err := r.acquire(ctx, wait)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := held.Release(context.WithoutCancel(ctx)); err != nil {
			r.logger.Error().Err(err).Msg("Failed to release reconcile lock")
		}
	}()

	result := &ReconcileResult{}

	// Pull first so keys written elsewhere are considered, then push local state.
	if r.sync != nil {
		if pull, err := r.sync.Pull(ctx); err != nil {
			result.Errors++
			r.logger.Error().Err(err).Msg("Failed to pull keys")
		} else {
			result.Pull = &pull
		}
		if _, err := r.sync.Push(ctx); err != nil {
			result.Errors++
			r.logger.Error().Err(err).Msg("Failed to push keys")
		}
	}

	// Syncing may have taken a while; keep the lock for the holder pass.
	if err := held.Extend(ctx, r.lockTTL()); err != nil {
		r.logger.Warn().Err(err).Msg("Failed to extend reconcile lock")
	}

	expired := r.store.ListExpiredRedeemed()
	result.Expired = len(expired)

	seen := make(map[int64]struct{}, len(expired))
	for _, rec := range expired {
		if ctx.Err() != nil {
			break
		}

		userID := *rec.RedeemedBy
		if _, done := seen[userID]; done {
			continue
		}
		seen[userID] = struct{}{}

		r.reconcileHolder(ctx, rec, result)
	}

	if r.sync != nil {
		if push, err := r.sync.Push(ctx); err != nil {
			result.Errors++
			r.logger.Error().Err(err).Msg("Failed to push keys")
		} else {
			result.Push = &push
		}
	}

	result.Duration = time.Since(start)
	r.metrics.RecordReconcileRun(result.Duration, result.Errors)
	r.metrics.SetKeyStats(r.store.Stats())

	r.logger.Info().
		Int("expired_keys", result.Expired).
		Int("users_skipped", result.UsersSkipped).
		Int("roles_removed", result.RolesRemoved).
		Int("messages_sent", result.MessagesSent).
		Int("errors", result.Errors).
		Dur("duration", result.Duration).
		Msg("Reconciliation cycle completed")

	return result, nil
}

// reconcileHolder revokes the role of one expired key's holder and notifies them.
func (r *Reconciler) reconcileHolder(ctx context.Context, rec domain.KeyRecord, result *ReconcileResult) {
	userID := *rec.RedeemedBy

	revoked, err := r.revoker.RevokeIfInactive(ctx, userID, metrics.ReasonExpiry)
	if err != nil {
		result.Errors++
	}
	if revoked == nil {
		return
	}
	if revoked.StillActive {
		result.UsersSkipped++
		return
	}

	for _, guildID := range revoked.Guilds {
		result.RolesRemoved++
		r.notifier.RoleExpired(ctx, rec, guildID)

		if err := r.platform.SendDirectMessage(ctx, userID, ExpiryMessage); err != nil {
			r.metrics.RecordNotificationError()
			r.logger.Warn().
				Err(err).
				Int64("user_id", userID).
				Msg("Could not send expiry message")
			continue
		}
		result.MessagesSent++
	}
}

// lockTTL bounds how long a stalled cycle can block the next one.
func (r *Reconciler) lockTTL() time.Duration {
	if r.config.Interval < 5*time.Minute {
		return 5 * time.Minute
	}
	return r.config.Interval
}

// acquire takes the reconcile lock. With wait set it retries until
// ManualWait elapses; otherwise a held lock yields ErrReconcileInProgress at once.
func (r *Reconciler) acquire(ctx context.Context, wait bool) (*lock.Lock, error) {
	ttl := r.lockTTL()
	l := lock.NewLock(r.locker, lock.Keys.Reconcile())

	var acquired bool
	var err error
	if wait {
		delay := 50 * time.Millisecond
		acquired, err = l.AcquireWithRetry(ctx, ttl, int(r.config.ManualWait/delay), delay)
	} else {
		acquired, err = l.Acquire(ctx, ttl)
	}
	if err != nil {
		return nil, err
	}

	if !acquired {
		r.logger.Debug().Msg("Reconcile lock held, skipping cycle")
		return nil, ErrReconcileInProgress
	}
	return l, nil
}
