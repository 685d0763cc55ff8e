package usecase

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/arklim/session-service/internal/core/domain"
	"github.com/arklim/session-service/internal/core/port"
	"github.com/arklim/session-service/internal/infra/security"
	"github.com/arklim/session-service/internal/repository/memory"
)

var (
	testKeyOnce sync.Once
	testKeys    []*rsa.PrivateKey
)

func testKey(t *testing.T, idx int) *rsa.PrivateKey {
	t.Helper()
	testKeyOnce.Do(func() {
		for i := 0; i < 2; i++ {
			key, err := rsa.GenerateKey(rand.Reader, 2048)
			if err != nil {
				panic(err)
			}
			testKeys = append(testKeys, key)
		}
	})
	return testKeys[idx]
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 10, 19, 15, 0, 0, 0, time.UTC)}
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

func testHandshake() domain.HandshakeInfo {
	return domain.HandshakeInfo{
		CookieDomain:         "example.com",
		CookieSecure:         true,
		AccessTokenPath:      "/",
		RefreshTokenPath:     "/auth/session/refresh",
		AntiCsrfEnabled:      true,
		AccessTokenValidity:  time.Hour,
		RefreshTokenValidity: 100 * 24 * time.Hour,
	}
}

type fakeEventPublisher struct {
	mu        sync.Mutex
	created   []domain.SessionCreatedEvent
	refreshed []domain.SessionRefreshedEvent
	revoked   []domain.SessionRevokedEvent
	thefts    []domain.TokenTheftDetectedEvent
}

func (f *fakeEventPublisher) PublishSessionCreated(_ context.Context, event domain.SessionCreatedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, event)
	return nil
}

func (f *fakeEventPublisher) PublishSessionRefreshed(_ context.Context, event domain.SessionRefreshedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshed = append(f.refreshed, event)
	return nil
}

func (f *fakeEventPublisher) PublishSessionRevoked(_ context.Context, event domain.SessionRevokedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked = append(f.revoked, event)
	return nil
}

func (f *fakeEventPublisher) PublishTokenTheftDetected(_ context.Context, event domain.TokenTheftDetectedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.thefts = append(f.thefts, event)
	return nil
}

type fakeMetrics struct {
	mu         sync.Mutex
	operations map[string]int
	thefts     int
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{operations: make(map[string]int)}
}

func (m *fakeMetrics) ObserveOperation(operation, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.operations[operation+"/"+outcome]++
}

func (m *fakeMetrics) ObserveTokenTheft() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.thefts++
}

// failingStore wraps a SessionStore and fails the selected operations.
type failingStore struct {
	port.SessionStore
	failCreate bool
	failDelete bool
	failGet    bool
}

var errStoreDown = errors.New("store unavailable")

func (s *failingStore) Create(ctx context.Context, record domain.SessionRecord) error {
	if s.failCreate {
		return errStoreDown
	}
	return s.SessionStore.Create(ctx, record)
}

func (s *failingStore) Get(ctx context.Context, handle string) (*domain.SessionRecord, error) {
	if s.failGet {
		return nil, errStoreDown
	}
	return s.SessionStore.Get(ctx, handle)
}

func (s *failingStore) Delete(ctx context.Context, handle string) (bool, error) {
	if s.failDelete {
		return false, errStoreDown
	}
	return s.SessionStore.Delete(ctx, handle)
}

type serviceFixture struct {
	service   *SessionService
	store     *memory.SessionStore
	codec     *security.JWTCodec
	clock     *testClock
	events    *fakeEventPublisher
	metrics   *fakeMetrics
	handshake *HandshakeCache
}

type fixtureOption func(*fixtureConfig)

type fixtureConfig struct {
	handshake domain.HandshakeInfo
	store     func(*memory.SessionStore) port.SessionStore
	provider  *security.StaticKeyProvider
}

func withHandshake(info domain.HandshakeInfo) fixtureOption {
	return func(c *fixtureConfig) { c.handshake = info }
}

func withStore(wrap func(*memory.SessionStore) port.SessionStore) fixtureOption {
	return func(c *fixtureConfig) { c.store = wrap }
}

func withKeyProvider(provider *security.StaticKeyProvider) fixtureOption {
	return func(c *fixtureConfig) { c.provider = provider }
}

func newServiceFixture(t *testing.T, opts ...fixtureOption) *serviceFixture {
	t.Helper()

	cfg := fixtureConfig{handshake: testHandshake()}
	for _, opt := range opts {
		opt(&cfg)
	}

	clock := newTestClock()
	store := memory.NewSessionStore().WithClock(clock.Now)

	var sessions port.SessionStore = store
	if cfg.store != nil {
		sessions = cfg.store(store)
	}

	provider := cfg.provider
	if provider == nil {
		var err error
		provider, err = security.NewStaticKeyProvider("k1", testKey(t, 0))
		if err != nil {
			t.Fatalf("NewStaticKeyProvider returned error: %v", err)
		}
	}
	codec, err := security.NewJWTCodec(provider, "session-service")
	if err != nil {
		t.Fatalf("NewJWTCodec returned error: %v", err)
	}
	codec.WithClock(clock.Now)

	logger := zaptest.NewLogger(t)
	handshake := NewHandshakeCache(NewStaticHandshakeSource(cfg.handshake), logger)
	events := &fakeEventPublisher{}
	metrics := newFakeMetrics()

	service := NewSessionService(sessions, codec, handshake, events, logger).
		WithClock(clock.Now).
		WithMetrics(metrics)

	return &serviceFixture{
		service:   service,
		store:     store,
		codec:     codec,
		clock:     clock,
		events:    events,
		metrics:   metrics,
		handshake: handshake,
	}
}

// fakeRequest is a RequestCarrier over fixed token values.
type fakeRequest struct {
	access   string
	refresh  string
	antiCsrf string
}

func (r fakeRequest) AccessToken() (string, bool)   { return r.access, r.access != "" }
func (r fakeRequest) RefreshToken() (string, bool)  { return r.refresh, r.refresh != "" }
func (r fakeRequest) AntiCsrfToken() (string, bool) { return r.antiCsrf, r.antiCsrf != "" }

// fakeResponse records what the flow writes.
type fakeResponse struct {
	access        string
	accessPath    string
	refresh       string
	refreshPath   string
	idRefresh     string
	antiCsrf      string
	cleared       int
	clearedDomain string
}

func (r *fakeResponse) AttachAccessToken(token string, _ time.Time, _ string, path string, _ bool) {
	r.access = token
	r.accessPath = path
}

func (r *fakeResponse) AttachRefreshToken(token string, _ time.Time, _ string, path string, _ bool) {
	r.refresh = token
	r.refreshPath = path
}

func (r *fakeResponse) SetIDRefreshToken(token string, _ time.Time) {
	r.idRefresh = token
}

func (r *fakeResponse) SetAntiCsrfToken(token string) {
	r.antiCsrf = token
}

func (r *fakeResponse) ClearSessionTokens(domain string, _ bool, _, _ string) {
	r.cleared++
	r.clearedDomain = domain
	r.access = ""
	r.refresh = ""
	r.idRefresh = ""
}
