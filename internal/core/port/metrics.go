package port

// SessionMetrics records outcomes of session lifecycle operations.
type SessionMetrics interface {
	ObserveOperation(operation, outcome string)
	ObserveTokenTheft()
}
