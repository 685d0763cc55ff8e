package middleware

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/arklim/session-service/internal/core/port"
)

const rateLimitProblemType = "https://session-service.example.com/errors/rate-limit-exceeded"

// IdentifierFunc names the caller a limit is counted against.
type IdentifierFunc func(*gin.Context) (string, bool)

// RateLimitRule is a sliding window of Limit attempts per Window for one route.
type RateLimitRule struct {
	Name       string
	Limit      int
	Window     time.Duration
	Identifier IdentifierFunc
}

func (r RateLimitRule) enabled() bool {
	return r.Identifier != nil && r.Limit > 0 && r.Window > 0
}

// RateLimiter guards session creation and refresh against bursts from one client.
type RateLimiter struct {
	store  port.RateLimitStore
	logger *zap.Logger
	now    func() time.Time
}

// ProblemDetails is the RFC 9457 body of a 429 response.
type ProblemDetails struct {
	Type       string `json:"type"`
	Title      string `json:"title"`
	Status     int    `json:"status"`
	Detail     string `json:"detail"`
	Instance   string `json:"instance"`
	RetryAfter int    `json:"retry_after"`
	TraceID    string `json:"trace_id,omitempty"`
}

// window is the outcome of counting one attempt.
type window struct {
	allowed   bool
	remaining int
	reset     time.Time
}

func NewRateLimiter(store port.RateLimitStore, logger *zap.Logger) *RateLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RateLimiter{store: store, logger: logger, now: time.Now}
}

// WithClock replaces time.Now.
func (rl *RateLimiter) WithClock(now func() time.Time) *RateLimiter {
	if now != nil {
		rl.now = now
	}
	return rl
}

// ClientIPIdentifier counts attempts per client IP as resolved by gin.
func ClientIPIdentifier() IdentifierFunc {
	return func(c *gin.Context) (string, bool) {
		ip := c.ClientIP()
		return ip, ip != ""
	}
}

// RateLimit enforces rule. Store failures let the request through.
func (rl *RateLimiter) RateLimit(rule RateLimitRule) gin.HandlerFunc {
	if !rule.enabled() || rl.store == nil {
		return func(c *gin.Context) { c.Next() }
	}

	return func(c *gin.Context) {
		identifier, ok := rule.Identifier(c)
		if !ok {
			c.Next()
			return
		}

		now := rl.now()
		w, err := rl.count(c, rule, rule.Name+":"+identifier, now)
		if err != nil {
			rl.logger.Warn("rate limit check failed, allowing request",
				zap.String("rule", rule.Name),
				zap.String("identifier", identifier),
				zap.Error(err),
			)
			c.Next()
			return
		}

		headers := c.Writer.Header()
		headers.Set("X-RateLimit-Limit", strconv.Itoa(rule.Limit))
		headers.Set("X-RateLimit-Remaining", strconv.Itoa(w.remaining))
		headers.Set("X-RateLimit-Reset", strconv.FormatInt(w.reset.Unix(), 10))

		if w.allowed {
			c.Next()
			return
		}

		retryAfter := int(math.Ceil(max(w.reset.Sub(now), 0).Seconds()))
		headers.Set("Retry-After", strconv.Itoa(retryAfter))
		rl.logger.Info("session request rate limited",
			zap.String("rule", rule.Name),
			zap.String("identifier", identifier),
			zap.Int("retry_after", retryAfter),
		)

		instance := c.FullPath()
		if instance == "" {
			instance = c.Request.URL.Path
		}
		c.AbortWithStatusJSON(http.StatusTooManyRequests, ProblemDetails{
			Type:       rateLimitProblemType,
			Title:      "Rate Limit Exceeded",
			Status:     http.StatusTooManyRequests,
			Detail:     "Too many requests. Try again in " + strconv.Itoa(retryAfter) + " seconds.",
			Instance:   instance,
			RetryAfter: retryAfter,
			TraceID:    GetTraceID(c),
		})
	}
}

// count reads the window for key and records the attempt when it fits.
func (rl *RateLimiter) count(c *gin.Context, rule RateLimitRule, key string, now time.Time) (window, error) {
	ctx := c.Request.Context()

	snapshot, err := rl.store.Snapshot(ctx, key, rule.Window, now)
	if err != nil {
		return window{}, err
	}

	w := window{reset: now.Add(rule.Window)}
	if snapshot.Count > 0 && !snapshot.Oldest.IsZero() {
		w.reset = snapshot.Oldest.Add(rule.Window)
	}
	if snapshot.Count >= rule.Limit {
		return w, nil
	}

	if err := rl.store.RecordAttempt(ctx, key, now, rule.Window); err != nil {
		return window{}, err
	}
	w.allowed = true
	w.remaining = max(rule.Limit-snapshot.Count-1, 0)
	return w, nil
}
