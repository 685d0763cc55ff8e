package usecase

import (
	"errors"
	"fmt"
)

// SessionErrorKind classifies session failures for callers and transports.
type SessionErrorKind string

const (
	KindGeneral            SessionErrorKind = "GENERAL_ERROR"
	KindUnauthorised       SessionErrorKind = "UNAUTHORISED"
	KindTryRefreshToken    SessionErrorKind = "TRY_REFRESH_TOKEN"
	KindTokenTheftDetected SessionErrorKind = "TOKEN_THEFT_DETECTED"
)

// Sentinels for errors.Is matching against *SessionError.
var (
	ErrGeneral            = &SessionError{Kind: KindGeneral}
	ErrUnauthorised       = &SessionError{Kind: KindUnauthorised}
	ErrTryRefreshToken    = &SessionError{Kind: KindTryRefreshToken}
	ErrTokenTheftDetected = &SessionError{Kind: KindTokenTheftDetected}
)

// SessionError carries the kind of a failed session operation. Theft errors also name the
// affected lineage so callers can alert on it.
type SessionError struct {
	Kind          SessionErrorKind
	Message       string
	Err           error
	SessionHandle string
	UserID        string
}

func (e *SessionError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

// Is matches any *SessionError of the same kind.
func (e *SessionError) Is(target error) bool {
	other, ok := target.(*SessionError)
	if !ok {
		return false
	}
	return other.Kind == e.Kind
}

// KindOf returns the kind of err. Errors that are not session errors count as general errors.
func KindOf(err error) SessionErrorKind {
	if err == nil {
		return ""
	}
	var sessionErr *SessionError
	if errors.As(err, &sessionErr) {
		return sessionErr.Kind
	}
	return KindGeneral
}

func unauthorised(message string, err error) *SessionError {
	return &SessionError{Kind: KindUnauthorised, Message: message, Err: err}
}

func generalError(message string, err error) *SessionError {
	return &SessionError{Kind: KindGeneral, Message: message, Err: err}
}
