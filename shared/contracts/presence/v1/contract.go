// Package v1 defines the presence feed protocol v1.
//
// It is shared between the server and panel clients so the wire format has
// one authoritative definition.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is embedded into every envelope.
const Version = "v1"

// Subprotocol is negotiated during the websocket handshake.
const Subprotocol = "vigil.presence.v1"

// Type constants (wire-stable).
const (
	// TypeHello starts the feed (client -> server).
	TypeHello = "hello"
	// TypeHelloAck acknowledges the hello (server -> client).
	TypeHelloAck = "hello_ack"

	// TypeSnapshotFetch asks for the presence of every account (client -> server).
	TypeSnapshotFetch = "snapshot_fetch"
	// TypeSnapshot carries the presence of every account (server -> client).
	TypeSnapshot = "snapshot"

	// TypePresenceEvent announces one transition (server -> client).
	TypePresenceEvent = "presence_event"

	// TypeError is a generic error envelope (server -> client).
	TypeError = "error"
)

var clientTypes = map[string]struct{}{
	TypeHello:         {},
	TypeSnapshotFetch: {},
}

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	TS      time.Time       `json:"ts"`
	Payload json.RawMessage `json:"payload"`
}

// Validate checks an inbound (client -> server) envelope.
func (e Envelope) Validate() error {
	if e.V != Version {
		return fmt.Errorf("invalid protocol version: got=%q want=%q", e.V, Version)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing type")
	}
	if _, ok := clientTypes[e.Type]; !ok {
		return fmt.Errorf("unsupported type: %s", e.Type)
	}
	if strings.TrimSpace(e.ID) == "" {
		return errors.New("missing id")
	}
	if e.TS.IsZero() {
		return errors.New("missing ts")
	}
	if len(e.Payload) == 0 {
		return errors.New("missing payload")
	}
	return nil
}

// HelloPayload is sent by the client. It carries nothing yet.
type HelloPayload struct{}

// HelloAckPayload identifies the feed connection and its viewer.
type HelloAckPayload struct {
	ConnectionID string `json:"connection_id"`
	Username     string `json:"username"`
}

// AccountPresence is one row of a snapshot.
type AccountPresence struct {
	Username         string     `json:"username"`
	Enabled          bool       `json:"enabled"`
	Admin            bool       `json:"admin"`
	LoggedIn         bool       `json:"logged_in"`
	SessionID        string     `json:"session_id,omitempty"`
	LastLoginAt      *time.Time `json:"last_login_at,omitempty"`
	LastKnownAddress string     `json:"last_known_address,omitempty"`
}

// SnapshotPayload lists every account.
type SnapshotPayload struct {
	Accounts []AccountPresence `json:"accounts"`
}

// PresenceEventPayload is one transition.
type PresenceEventPayload struct {
	Event     string    `json:"event"`
	Username  string    `json:"username"`
	SessionID string    `json:"session_id,omitempty"`
	Surface   string    `json:"surface,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	LoggedIn  bool      `json:"logged_in"`
	At        time.Time `json:"at"`
}

// ErrorPayload reports a problem with the previous client envelope.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
