package logger

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the service logger: JSON in production, colored console elsewhere.
// level overrides the environment default when set ("debug", "info", ...).
func New(env, level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if env != "production" {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	if level != "" {
		lvl, err := zap.ParseAtomicLevel(level)
		if err != nil {
			return nil, fmt.Errorf("parse log level: %w", err)
		}
		cfg.Level = lvl
	}
	return cfg.Build(zap.Fields(zap.String("env", env)))
}

// RequestIDKey and TraceIDKey carry request identifiers on a context.Context.
type (
	RequestIDKey struct{}
	TraceIDKey   struct{}
)

// FromContext returns base annotated with the request and trace ids found on ctx.
func FromContext(ctx context.Context, base *zap.Logger) *zap.Logger {
	if base == nil {
		base = zap.NewNop()
	}
	if ctx == nil {
		return base
	}

	fields := make([]zap.Field, 0, 2)
	if id, ok := ctx.Value(RequestIDKey{}).(string); ok && id != "" {
		fields = append(fields, zap.String("request_id", id))
	}
	if id, ok := ctx.Value(TraceIDKey{}).(string); ok && id != "" {
		fields = append(fields, zap.String("trace_id", id))
	}
	if len(fields) == 0 {
		return base
	}
	return base.With(fields...)
}

// MaskIP keeps the network half of an address: 192.168.1.100 -> 192.168.*.*,
// IPv6 keeps the first four groups.
func MaskIP(ip string) string {
	if ip == "" {
		return ""
	}
	if parsed := net.ParseIP(ip); parsed != nil && parsed.To4() != nil {
		parts := strings.Split(parsed.To4().String(), ".")
		return parts[0] + "." + parts[1] + ".*.*"
	}
	if parts := strings.Split(ip, ":"); len(parts) >= 4 {
		return strings.Join(parts[:4], ":") + ":*:*:*:*"
	}
	return "***"
}

// MaskString keeps two characters at each end: "01JA3Z8K5QW" -> "01***QW".
func MaskString(s string) string {
	switch {
	case s == "":
		return ""
	case len(s) <= 4:
		return "***"
	default:
		return s[:2] + "***" + s[len(s)-2:]
	}
}

// MaskToken reports only that a token was present and its length.
func MaskToken(token string) string {
	if token == "" {
		return ""
	}
	return "[token len=" + strconv.Itoa(len(token)) + "]"
}
