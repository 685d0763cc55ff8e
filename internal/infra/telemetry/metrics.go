package telemetry

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/arklim/session-service/internal/core/port"
)

// Operation outcomes recorded on session_operations_total.
const (
	OutcomeOK              = "ok"
	OutcomeUnauthorised    = "unauthorised"
	OutcomeTryRefreshToken = "try_refresh_token"
	OutcomeTheftDetected   = "token_theft_detected"
	OutcomeGeneralError    = "general_error"
)

// SessionMetrics counts session lifecycle operations and theft detections.
type SessionMetrics struct {
	Operations *prometheus.CounterVec
	Thefts     prometheus.Counter
}

// NewSessionMetrics registers the session collectors, reusing them if already registered.
func NewSessionMetrics(reg prometheus.Registerer, namespace string) (*SessionMetrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "session"
	}

	operations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "operations_total",
		Help:      "Session lifecycle operations partitioned by operation and outcome.",
	}, []string{"operation", "outcome"})
	if err := reg.Register(operations); err != nil {
		already, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			return nil, fmt.Errorf("register operations collector: %w", err)
		}
		existing, ok := already.ExistingCollector.(*prometheus.CounterVec)
		if !ok {
			return nil, fmt.Errorf("existing operations collector has unexpected type %T", already.ExistingCollector)
		}
		operations = existing
	}

	thefts := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "token_theft_total",
		Help:      "Refresh token reuse events that revoked a session.",
	})
	if err := reg.Register(thefts); err != nil {
		already, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			return nil, fmt.Errorf("register theft collector: %w", err)
		}
		existing, ok := already.ExistingCollector.(prometheus.Counter)
		if !ok {
			return nil, fmt.Errorf("existing theft collector has unexpected type %T", already.ExistingCollector)
		}
		thefts = existing
	}

	return &SessionMetrics{Operations: operations, Thefts: thefts}, nil
}

// ObserveOperation implements port.SessionMetrics.
func (m *SessionMetrics) ObserveOperation(operation, outcome string) {
	if m == nil {
		return
	}
	m.Operations.WithLabelValues(operation, outcome).Inc()
}

// ObserveTokenTheft implements port.SessionMetrics.
func (m *SessionMetrics) ObserveTokenTheft() {
	if m == nil {
		return
	}
	m.Thefts.Inc()
}

var _ port.SessionMetrics = (*SessionMetrics)(nil)
