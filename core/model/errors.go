package model

import (
	"context"
	"errors"
	"fmt"
)

// Error kinds returned by the coordination engine. Callers match them with
// errors.Is.
var (
	ErrInvalidConfig       = errors.New("invalid config")
	ErrInvalidInput        = errors.New("invalid input")
	ErrInvalidTransition   = errors.New("invalid transition")
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrResourceUnavailable = errors.New("resource unavailable")
	ErrNoEligibleCandidate = errors.New("no eligible candidate")
	ErrContention          = errors.New("contention")
	ErrTimeout             = errors.New("timeout")
	ErrNotFound            = errors.New("not found")
	// ErrConflict is returned by stores when a versioned write loses a race.
	ErrConflict = errors.New("version conflict")
	// ErrCapacity is returned when a responder has no free task slot.
	ErrCapacity = errors.New("responder at capacity")
	// ErrUnknownReservation is returned for tokens the ledger does not hold.
	ErrUnknownReservation = errors.New("unknown reservation")
)

// Error carries an error kind together with the failing operation.
type Error struct {
	Kind error
	Op   string
	Msg  string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Kind.Error()
	if e.Msg != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Msg)
	}
	if e.Op != "" {
		return e.Op + ": " + msg
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Kind }

// Errorf builds an *Error of the given kind.
func Errorf(kind error, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// FromContext maps a context error to ErrTimeout. Other errors are returned
// unchanged.
func FromContext(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &Error{Kind: ErrTimeout, Op: op, Msg: err.Error()}
	}
	return err
}

var kindNames = []struct {
	kind error
	name string
}{
	{ErrInvalidConfig, "invalid_config"},
	{ErrInvalidInput, "invalid_input"},
	{ErrInvalidTransition, "invalid_transition"},
	{ErrInsufficientStock, "insufficient_stock"},
	{ErrResourceUnavailable, "resource_unavailable"},
	{ErrNoEligibleCandidate, "no_eligible_candidate"},
	{ErrContention, "contention"},
	{ErrTimeout, "timeout"},
	{ErrNotFound, "not_found"},
	{ErrConflict, "conflict"},
	{ErrCapacity, "capacity"},
	{ErrUnknownReservation, "unknown_reservation"},
}

// KindName returns a stable label for the kind of err: "ok" for nil and
// "internal" for errors without a known kind.
func KindName(err error) string {
	if err == nil {
		return "ok"
	}
	for _, k := range kindNames {
		if errors.Is(err, k.kind) {
			return k.name
		}
	}
	return "internal"
}
