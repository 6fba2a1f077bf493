package resilience

import (
	"errors"
	"net"
	"strings"
	"syscall"
)

// TransientError marks an error as safe to retry.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps err as explicitly transient.
func NewTransientError(err error) *TransientError {
	return &TransientError{Err: err}
}

// IsTransient reports whether the error (or any error in its chain) is a
// TransientError, a network timeout, or a recognizable storage contention
// condition such as a serialization failure, deadlock, or a locked SQLite
// database.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	// Driver errors arrive wrapped with their message intact; match the
	// contention conditions both backends surface as text.
	msg := strings.ToLower(err.Error())
	transientPatterns := []string{
		"database is locked",  // sqlite busy writer
		"database table is locked",
		"deadlock detected",       // postgres 40P01
		"serialization failure",   // postgres 40001
		"could not serialize",
		"connection reset by peer",
		"broken pipe",
		"conn busy",
		"i/o timeout",
		"unexpected eof",
	}
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}
