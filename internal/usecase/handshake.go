package usecase

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/arklim/session-service/internal/core/domain"
	"github.com/arklim/session-service/internal/core/port"
)

// handshakeFetchTimeout bounds a shared fetch once it no longer follows the caller's context.
const handshakeFetchTimeout = 10 * time.Second

// StaticHandshakeSource serves a handshake fixed at construction, typically from config.
type StaticHandshakeSource struct {
	info domain.HandshakeInfo
}

// NewStaticHandshakeSource wraps info.
func NewStaticHandshakeSource(info domain.HandshakeInfo) *StaticHandshakeSource {
	return &StaticHandshakeSource{info: info}
}

// FetchHandshake implements port.HandshakeSource.
func (s *StaticHandshakeSource) FetchHandshake(context.Context) (domain.HandshakeInfo, error) {
	return s.info, nil
}

// HandshakeCache holds the process-wide handshake. It is fetched on first use and after
// Invalidate; concurrent misses share one fetch and the value is swapped as a whole.
type HandshakeCache struct {
	source  port.HandshakeSource
	current atomic.Pointer[domain.HandshakeInfo]
	group   singleflight.Group
	logger  *zap.Logger
}

// NewHandshakeCache constructs an empty cache over source.
func NewHandshakeCache(source port.HandshakeSource, logger *zap.Logger) *HandshakeCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HandshakeCache{source: source, logger: logger}
}

// Get returns the cached handshake, fetching it when absent. A failed fetch leaves the cache
// empty so the next call retries.
func (c *HandshakeCache) Get(ctx context.Context) (domain.HandshakeInfo, error) {
	if info := c.current.Load(); info != nil {
		return *info, nil
	}

	return c.shared(ctx, func(fetchCtx context.Context) (domain.HandshakeInfo, error) {
		if info := c.current.Load(); info != nil {
			return *info, nil
		}
		return c.fetch(fetchCtx)
	})
}

// Invalidate drops the cached value; the next Get fetches again.
func (c *HandshakeCache) Invalidate() {
	c.current.Store(nil)
	c.logger.Debug("handshake invalidated")
}

// Reload fetches a fresh handshake and replaces the cached one only on success.
func (c *HandshakeCache) Reload(ctx context.Context) (domain.HandshakeInfo, error) {
	return c.shared(ctx, c.fetch)
}

// shared runs fn once for all concurrent callers. A caller whose context ends stops waiting,
// but the fetch keeps running for the others.
func (c *HandshakeCache) shared(ctx context.Context, fn func(context.Context) (domain.HandshakeInfo, error)) (domain.HandshakeInfo, error) {
	result := c.group.DoChan("handshake", func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), handshakeFetchTimeout)
		defer cancel()
		return fn(fetchCtx)
	})

	select {
	case <-ctx.Done():
		return domain.HandshakeInfo{}, ctx.Err()
	case res := <-result:
		if res.Err != nil {
			return domain.HandshakeInfo{}, res.Err
		}
		return res.Val.(domain.HandshakeInfo), nil
	}
}

func (c *HandshakeCache) fetch(ctx context.Context) (domain.HandshakeInfo, error) {
	if c.source == nil {
		return domain.HandshakeInfo{}, fmt.Errorf("handshake source not configured")
	}

	info, err := c.source.FetchHandshake(ctx)
	if err != nil {
		return domain.HandshakeInfo{}, fmt.Errorf("fetch handshake: %w", err)
	}
	if err := info.Validate(); err != nil {
		return domain.HandshakeInfo{}, err
	}

	stored := info
	c.current.Store(&stored)
	c.logger.Info("handshake loaded",
		zap.Bool("anti_csrf_enabled", info.AntiCsrfEnabled),
		zap.Duration("access_token_validity", info.AccessTokenValidity),
		zap.Duration("refresh_token_validity", info.RefreshTokenValidity),
	)
	return info, nil
}
