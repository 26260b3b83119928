package service

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/prn-tf/premium-keys/internal/domain"
	"github.com/prn-tf/premium-keys/internal/keystore"
	"github.com/prn-tf/premium-keys/internal/lock"
	"github.com/prn-tf/premium-keys/internal/metrics"
	"github.com/prn-tf/premium-keys/internal/platform"
	"github.com/prn-tf/premium-keys/internal/repository"
	"github.com/prn-tf/premium-keys/internal/storage"
)

const (
	testRole       int64 = 500
	testLogChannel int64 = 900
	guildA         int64 = 10
	guildB         int64 = 20
)

var baseTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	clock    *domain.FixedClock
	store    *keystore.Store
	backend  *storage.MemoryBackend
	client   *platform.MemoryClient
	locker   *lock.MemoryLocker
	metrics  *metrics.Metrics
	notifier *platform.Notifier
	revoker  *RoleRevoker
	keys     *KeyService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		clock:   domain.NewFixedClock(baseTime),
		backend: storage.NewMemoryBackend(),
		locker:  lock.NewMemoryLocker(),
		metrics: metrics.New("test"),
	}
	t.Cleanup(f.locker.Stop)

	logger := zerolog.Nop()
	f.store = keystore.New(storage.NewJSONStore(f.backend), logger, keystore.WithClock(f.clock.Now), keystore.WithMetrics(f.metrics))
	f.client = platform.NewMemoryClient([]int64{guildA, guildB}, logger)
	f.notifier = platform.NewNotifier(f.client, testLogChannel, 0, f.metrics, logger)
	f.revoker = NewRoleRevoker(f.store, f.client, testRole, f.metrics, logger)

	f.keys = f.newKeyService(nil)

	return f
}

func (f *fixture) newKeyService(syncSvc *SyncService) *KeyService {
	cfg := DefaultKeyServiceConfig()
	cfg.PremiumRoleID = testRole
	cfg.RoleGrantTimeout = time.Second
	return NewKeyService(f.store, f.client, f.revoker, syncSvc, f.locker, f.notifier, f.metrics, zerolog.Nop(), cfg)
}

// withSync attaches a sync service over repo and rebuilds the key service around it.
func (f *fixture) withSync(repo repository.KeyRepository) *SyncService {
	svc := NewSyncService(f.store, repo, f.metrics, zerolog.Nop())
	f.keys = f.newKeyService(svc)
	return svc
}

// addKey inserts a key expiring ttl after the fixture's current time.
func (f *fixture) addKey(t *testing.T, id string, ttl time.Duration, redeemer *int64) domain.KeyRecord {
	t.Helper()
	ctx := context.Background()

	rec, err := f.store.Add(ctx, id, int64(ttl/time.Second), f.clock.Now().Add(ttl), nil)
	if err != nil {
		t.Fatalf("add %s: %v", id, err)
	}
	if redeemer != nil {
		f.store.SetRedeemed(ctx, id, *redeemer)
		rec.RedeemedBy = domain.Int64Ptr(*redeemer)
	}
	return rec
}

// auditMessages returns the contents posted to the audit channel.
func (f *fixture) auditMessages() []string {
	var out []string
	for _, m := range f.client.Messages() {
		if m.ChannelID == testLogChannel {
			out = append(out, m.Content)
		}
	}
	return out
}

// MockKeyRepository is a mock implementation of repository.KeyRepository.
type MockKeyRepository struct {
	mu        sync.Mutex
	rows      map[string]*domain.KeyRecord
	listErr   error
	insertErr map[string]error
	deleteErr error
	updates   int
}

func NewMockKeyRepository() *MockKeyRepository {
	return &MockKeyRepository{
		rows:      make(map[string]*domain.KeyRecord),
		insertErr: make(map[string]error),
	}
}

func (m *MockKeyRepository) Insert(ctx context.Context, rec *domain.KeyRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.insertErr[rec.ID]; err != nil {
		return err
	}
	if _, exists := m.rows[rec.ID]; exists {
		return domain.ErrDuplicateKey
	}
	c := rec.Clone()
	m.rows[rec.ID] = &c
	return nil
}

func (m *MockKeyRepository) GetByKey(ctx context.Context, keyID string) (*domain.KeyRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[keyID]
	if !ok {
		return nil, domain.ErrKeyNotFound
	}
	c := row.Clone()
	return &c, nil
}

func (m *MockKeyRepository) List(ctx context.Context) ([]*domain.KeyRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	out := make([]*domain.KeyRecord, 0, len(m.rows))
	for _, row := range m.rows {
		c := row.Clone()
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MockKeyRepository) UpdateRedeemedBy(ctx context.Context, keyID string, redeemedBy *int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[keyID]
	if !ok {
		return domain.ErrKeyNotFound
	}
	row.RedeemedBy = nil
	if redeemedBy != nil {
		row.RedeemedBy = domain.Int64Ptr(*redeemedBy)
	}
	m.updates++
	return nil
}

func (m *MockKeyRepository) Delete(ctx context.Context, keyID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return m.deleteErr
	}
	if _, ok := m.rows[keyID]; !ok {
		return domain.ErrKeyNotFound
	}
	delete(m.rows, keyID)
	return nil
}

func (m *MockKeyRepository) Stats(ctx context.Context, now time.Time) (domain.KeyStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	records := make([]domain.KeyRecord, 0, len(m.rows))
	for _, row := range m.rows {
		records = append(records, *row)
	}
	return domain.ComputeStats(records, now), nil
}

func (m *MockKeyRepository) row(id string) *domain.KeyRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rows[id]
}

// flakyPlatform fails member lookups in one guild.
type flakyPlatform struct {
	*platform.MemoryClient
	failGuild int64
	err       error
}

func (p *flakyPlatform) GetMember(ctx context.Context, guildID, userID int64) (*domain.Member, error) {
	if guildID == p.failGuild {
		return nil, p.err
	}
	return p.MemoryClient.GetMember(ctx, guildID, userID)
}
