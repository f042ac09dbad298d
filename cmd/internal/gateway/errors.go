package gateway

import (
	"errors"
	"fmt"
)

// Sentinel errors (stable for errors.Is).
var (
	ErrRequestInFlight  = errors.New("request_in_flight")
	ErrServerRejected   = errors.New("server_rejected")
	ErrNotConnected     = errors.New("not_connected")
	ErrAlreadyConnected = errors.New("already_connected")
	ErrClosed           = errors.New("gateway_closed")
	ErrDisconnected     = errors.New("disconnected")
	ErrBadResponse      = errors.New("bad_response")
	ErrSubprotocol      = errors.New("subprotocol_mismatch")
)

// ServerError is an explicit error returned by the server in a response envelope.
type ServerError struct {
	Event   string
	Message string
}

func (e ServerError) Error() string {
	return fmt.Sprintf("%s: %v: %s", e.Event, ErrServerRejected, e.Message)
}

func (e ServerError) Unwrap() error { return ErrServerRejected }

// Reason returns the server message of a ServerError anywhere in err's chain.
func Reason(err error) (string, bool) {
	var se ServerError
	if errors.As(err, &se) {
		return se.Message, true
	}
	return "", false
}
