package game

import (
	"errors"
	"fmt"

	"battleships/cmd/internal/gateway"
)

// Sentinel error kinds (stable for errors.Is).
var (
	ErrInvalidState              = errors.New("invalid_state")
	ErrInvalidShipsConfiguration = errors.New("invalid_ships_configuration")
	ErrSessionTerminated         = errors.New("session_terminated")

	ErrRequestInFlight = gateway.ErrRequestInFlight
	ErrServerRejected  = gateway.ErrServerRejected
)

// OpError is a typed operation error with a stable Op + Kind contract for callers/tests.
type OpError struct {
	Op   string
	Kind error
	Msg  string
}

func (e OpError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, e.Kind, e.Msg)
}

func (e OpError) Unwrap() error { return e.Kind }

func invalidState(op, msg string) error {
	return OpError{Op: op, Kind: ErrInvalidState, Msg: msg}
}

// TerminatedError reports that the session ended. Reason is the server supplied
// reason, or a local one such as "disconnected".
type TerminatedError struct {
	Reason string
	Cause  error
}

func (e TerminatedError) Error() string {
	return fmt.Sprintf("%v: %s", ErrSessionTerminated, e.Reason)
}

func (e TerminatedError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrSessionTerminated}
	}
	return []error{ErrSessionTerminated, e.Cause}
}

// IsTerminated reports whether err carries a session termination and returns its reason.
func IsTerminated(err error) (string, bool) {
	var te TerminatedError
	if errors.As(err, &te) {
		return te.Reason, true
	}
	return "", errors.Is(err, ErrSessionTerminated)
}

func reasonOf(err error) string {
	if r, ok := gateway.Reason(err); ok {
		return r
	}
	if errors.Is(err, gateway.ErrDisconnected) {
		return ReasonDisconnected
	}
	return err.Error()
}
