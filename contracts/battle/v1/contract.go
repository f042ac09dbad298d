// Package v1 is the battle session wire contract shared by the client and the game server.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const (
	Version = 1

	// ResponseSuffix is appended to a request name to form its correlated response type.
	ResponseSuffix = "Response"
)

// Client requests.
const (
	TypeCreate         = "create"
	TypeJoin           = "join"
	TypeAccept         = "accept"
	TypeReady          = "ready"
	TypeShoot          = "shoot"
	TypeRequestRematch = "requestRematch"
)

// Server pushes.
const (
	TypeGuestJoined          = "guestJoined"
	TypeGuestAccepted        = "guestAccepted"
	TypePlayerLeft           = "playerLeft"
	TypePlayerReady          = "playerReady"
	TypePlayerShoot          = "playerShoot"
	TypePlayerRequestRematch = "playerRequestRematch"
	TypeBattleStarted        = "battleStarted"
	TypeGameOver             = "gameOver"
	TypeRematch              = "rematch"
)

// PushEvents lists every unsolicited server event, in no particular order.
var PushEvents = []string{
	TypeGuestJoined,
	TypeGuestAccepted,
	TypePlayerLeft,
	TypePlayerReady,
	TypePlayerShoot,
	TypePlayerRequestRematch,
	TypeBattleStarted,
	TypeGameOver,
	TypeRematch,
}

var requestTypes = map[string]struct{}{
	TypeCreate:         {},
	TypeJoin:           {},
	TypeAccept:         {},
	TypeReady:          {},
	TypeShoot:          {},
	TypeRequestRematch: {},
}

var pushTypes = func() map[string]struct{} {
	m := make(map[string]struct{}, len(PushEvents))
	for _, t := range PushEvents {
		m[t] = struct{}{}
	}
	return m
}()

// ResponseType returns the response event name correlated with request name.
func ResponseType(name string) string { return name + ResponseSuffix }

// IsPushEvent reports whether typ is a server push.
func IsPushEvent(typ string) bool {
	_, ok := pushTypes[typ]
	return ok
}

// IsRequest reports whether typ is a known client request.
func IsRequest(typ string) bool {
	_, ok := requestTypes[typ]
	return ok
}

// IsResponse reports whether typ is the response to a known client request.
func IsResponse(typ string) bool {
	if len(typ) <= len(ResponseSuffix) || typ[len(typ)-len(ResponseSuffix):] != ResponseSuffix {
		return false
	}
	return IsRequest(typ[:len(typ)-len(ResponseSuffix)])
}

type Envelope struct {
	V       int             `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	TS      time.Time       `json:"ts"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate checks the envelope header. Payload may be empty for requests without arguments.
func (e Envelope) Validate() error {
	if e.V != Version {
		return fmt.Errorf("invalid protocol version: got=%d want=%d", e.V, Version)
	}
	if e.Type == "" {
		return errors.New("missing type")
	}
	if !IsRequest(e.Type) && !IsResponse(e.Type) && !IsPushEvent(e.Type) {
		return fmt.Errorf("unsupported type: %s", e.Type)
	}
	if e.ID == "" {
		return errors.New("missing id")
	}
	if e.TS.IsZero() {
		return errors.New("missing ts")
	}
	return nil
}

// Reply is the payload of every "<name>Response" envelope. Exactly one of Error or Response is meaningful.
type Reply struct {
	Error    string          `json:"error,omitempty"`
	Response json.RawMessage `json:"response,omitempty"`
}
