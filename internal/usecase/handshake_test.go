package usecase

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/arklim/session-service/internal/core/domain"
)

type countingHandshakeSource struct {
	mu    sync.Mutex
	info  domain.HandshakeInfo
	err   error
	delay time.Duration
	calls atomic.Int32
}

func (s *countingHandshakeSource) FetchHandshake(context.Context) (domain.HandshakeInfo, error) {
	s.calls.Add(1)
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info, s.err
}

func (s *countingHandshakeSource) set(info domain.HandshakeInfo, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.info = info
	s.err = err
}

func TestHandshakeCache_FetchesOnce(t *testing.T) {
	source := &countingHandshakeSource{info: testHandshake(), delay: 20 * time.Millisecond}
	cache := NewHandshakeCache(source, zaptest.NewLogger(t))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			info, err := cache.Get(context.Background())
			if err != nil {
				t.Errorf("Get returned error: %v", err)
				return
			}
			if info.RefreshTokenPath != "/auth/session/refresh" {
				t.Errorf("unexpected handshake %+v", info)
			}
		}()
	}
	wg.Wait()

	if _, err := cache.Get(context.Background()); err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if calls := source.calls.Load(); calls != 1 {
		t.Fatalf("expected a single fetch, got %d", calls)
	}
}

func TestHandshakeCache_Invalidate(t *testing.T) {
	source := &countingHandshakeSource{info: testHandshake()}
	cache := NewHandshakeCache(source, zaptest.NewLogger(t))

	if _, err := cache.Get(context.Background()); err != nil {
		t.Fatalf("Get returned error: %v", err)
	}

	updated := testHandshake()
	updated.AccessTokenValidity = 5 * time.Minute
	source.set(updated, nil)

	info, err := cache.Get(context.Background())
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if info.AccessTokenValidity != time.Hour {
		t.Fatalf("cached value must be served until invalidated, got %v", info.AccessTokenValidity)
	}

	cache.Invalidate()
	info, err = cache.Get(context.Background())
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if info.AccessTokenValidity != 5*time.Minute {
		t.Fatalf("expected refreshed value, got %v", info.AccessTokenValidity)
	}
	if calls := source.calls.Load(); calls != 2 {
		t.Fatalf("expected two fetches, got %d", calls)
	}
}

func TestHandshakeCache_FailedFetchRetries(t *testing.T) {
	errUnavailable := errors.New("unavailable")
	source := &countingHandshakeSource{err: errUnavailable}
	cache := NewHandshakeCache(source, zaptest.NewLogger(t))

	if _, err := cache.Get(context.Background()); !errors.Is(err, errUnavailable) {
		t.Fatalf("expected fetch error, got %v", err)
	}

	source.set(testHandshake(), nil)
	if _, err := cache.Get(context.Background()); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if calls := source.calls.Load(); calls != 2 {
		t.Fatalf("expected failed fetch not to be cached, got %d calls", calls)
	}
}

func TestHandshakeCache_RejectsInvalidHandshake(t *testing.T) {
	invalid := testHandshake()
	invalid.RefreshTokenValidity = 0
	cache := NewHandshakeCache(&countingHandshakeSource{info: invalid}, zaptest.NewLogger(t))

	if _, err := cache.Get(context.Background()); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestHandshakeCache_ReloadKeepsValueOnFailure(t *testing.T) {
	source := &countingHandshakeSource{info: testHandshake()}
	cache := NewHandshakeCache(source, zaptest.NewLogger(t))

	if _, err := cache.Get(context.Background()); err != nil {
		t.Fatalf("Get returned error: %v", err)
	}

	source.set(domain.HandshakeInfo{}, errors.New("down"))
	if _, err := cache.Reload(context.Background()); err == nil {
		t.Fatalf("expected reload error")
	}

	info, err := cache.Get(context.Background())
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if info.AccessTokenValidity != time.Hour {
		t.Fatalf("expected previous handshake to survive a failed reload, got %+v", info)
	}
}

func TestHandshakeCache_NilSource(t *testing.T) {
	cache := NewHandshakeCache(nil, nil)
	if _, err := cache.Get(context.Background()); err == nil {
		t.Fatalf("expected error without a source")
	}
}

type blockingHandshakeSource struct {
	started  chan struct{}
	release  chan struct{}
	fetchErr atomic.Value
}

func (s *blockingHandshakeSource) FetchHandshake(ctx context.Context) (domain.HandshakeInfo, error) {
	close(s.started)
	select {
	case <-s.release:
	case <-ctx.Done():
		s.fetchErr.Store(ctx.Err())
		return domain.HandshakeInfo{}, ctx.Err()
	}
	return testHandshake(), nil
}

func TestHandshakeCache_CancelledCallerDoesNotFailWaiters(t *testing.T) {
	source := &blockingHandshakeSource{started: make(chan struct{}), release: make(chan struct{})}
	cache := NewHandshakeCache(source, zaptest.NewLogger(t))

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := cache.Get(firstCtx)
		firstErr <- err
	}()
	<-source.started

	secondErr := make(chan error, 1)
	go func() {
		_, err := cache.Get(context.Background())
		secondErr <- err
	}()

	cancelFirst()
	if err := <-firstErr; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancelled caller to stop waiting, got %v", err)
	}

	close(source.release)
	if err := <-secondErr; err != nil {
		t.Fatalf("expected waiting caller to get the handshake, got %v", err)
	}
	if err, _ := source.fetchErr.Load().(error); err != nil {
		t.Fatalf("fetch must not follow the first caller's context, got %v", err)
	}
	if _, err := cache.Get(context.Background()); err != nil {
		t.Fatalf("expected cached handshake, got %v", err)
	}
}
