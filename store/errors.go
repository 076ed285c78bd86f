package store

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
)

var (
	// ErrUnavailable marks a transient backend failure (timeout, lost
	// connection). Callers may retry.
	ErrUnavailable = errors.New("store: backend unavailable")

	// ErrConflict indicates a uniqueness violation.
	ErrConflict = errors.New("store: conflict")
)

// Classify wraps transient failures with ErrUnavailable and returns other
// errors unchanged.
func Classify(err error) error {
	if err == nil || errors.Is(err, ErrUnavailable) {
		return err
	}
	if IsTransient(err) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}

// IsTransient reports whether err looks like a timeout or connectivity
// failure rather than a logical error.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUnavailable) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
