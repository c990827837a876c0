package domain

import (
	"context"
	"database/sql/driver"
	"errors"
	"net"
)

// Failure kinds reported by the remote store.
var (
	ErrConstraintViolation = errors.New("constraint violation")
	ErrNotFound            = errors.New("resource not found")
	ErrNetworkFailure      = errors.New("network failure")
	ErrAuthRequired        = errors.New("authentication required")
	ErrInvalidInput        = errors.New("invalid input")
)

// Kind is the classified form of a store error.
type Kind int

const (
	KindUnknown Kind = iota
	KindConstraintViolation
	KindNotFound
	KindNetworkFailure
	KindAuthRequired
)

func (k Kind) String() string {
	switch k {
	case KindConstraintViolation:
		return "constraint_violation"
	case KindNotFound:
		return "not_found"
	case KindNetworkFailure:
		return "network_failure"
	case KindAuthRequired:
		return "auth_required"
	}
	return "unknown"
}

// Classify maps err onto the store failure taxonomy. Errors that carry no
// recognised sentinel but look like transport problems are reported as
// network failures.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrConstraintViolation):
		return KindConstraintViolation
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrAuthRequired):
		return KindAuthRequired
	case errors.Is(err, ErrNetworkFailure), IsTransient(err):
		return KindNetworkFailure
	}
	return KindUnknown
}

// IsTransient reports whether err comes from the connection rather than the data.
func IsTransient(err error) bool {
	if errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, net.ErrClosed) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
