package services

import (
	"errors"
	"fmt"

	"github.com/chachabrian/mooveit-rides/internal/repository"
)

// Kind classifies a failed operation so callers can map it to a stable
// external status.
type Kind string

const (
	KindUnauthorized         Kind = "unauthorized"
	KindNotFound             Kind = "not_found"
	KindInvalidState         Kind = "invalid_state"
	KindInsufficientCapacity Kind = "insufficient_capacity"
	KindRideNotActive        Kind = "ride_not_active"
	KindDuplicateBooking     Kind = "duplicate_booking"
	KindSelfBookingForbidden Kind = "self_booking_forbidden"
	KindAlreadyTerminal      Kind = "already_terminal"
	KindUpstreamFailure      Kind = "upstream_failure"
	KindValidation           Kind = "validation"
)

// Sentinels for errors.Is; they match any *Error of the same kind.
var (
	ErrUnauthorized         = &Error{Kind: KindUnauthorized}
	ErrNotFound             = &Error{Kind: KindNotFound}
	ErrInvalidState         = &Error{Kind: KindInvalidState}
	ErrInsufficientCapacity = &Error{Kind: KindInsufficientCapacity}
	ErrRideNotActive        = &Error{Kind: KindRideNotActive}
	ErrDuplicateBooking     = &Error{Kind: KindDuplicateBooking}
	ErrSelfBookingForbidden = &Error{Kind: KindSelfBookingForbidden}
	ErrAlreadyTerminal      = &Error{Kind: KindAlreadyTerminal}
	ErrUpstreamFailure      = &Error{Kind: KindUpstreamFailure}
	ErrValidation           = &Error{Kind: KindValidation}
)

type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func newError(op string, kind Kind, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

func upstream(op string, err error) *Error {
	return &Error{Kind: KindUpstreamFailure, Op: op, Message: "upstream failure", Err: err}
}

// storeError translates repository errors; notFound names the missing entity.
func storeError(op, notFound string, err error) error {
	var e *Error
	switch {
	case err == nil:
		return nil
	case errors.As(err, &e):
		return err
	case errors.Is(err, repository.ErrNotFound):
		return newError(op, KindNotFound, notFound+" not found")
	case errors.Is(err, repository.ErrDuplicate):
		return newError(op, KindDuplicateBooking, "an active booking already exists for this ride")
	}
	return upstream(op, err)
}
