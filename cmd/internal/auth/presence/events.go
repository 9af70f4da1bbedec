package presence

import (
	"time"

	"vigil/cmd/internal/auth/ledger"
)

// EventType names a presence transition.
type EventType string

const (
	EventLogin         EventType = "login"
	EventLogout        EventType = "logout"
	EventTakeover      EventType = "takeover"
	EventExpired       EventType = "expired"
	EventPartnerLogout EventType = "partner_logout"
	EventEnabled       EventType = "enabled"
	EventDisabled      EventType = "disabled"
	EventCreated       EventType = "created"
	EventDeleted       EventType = "deleted"
)

// Event is published after a transition commits.
type Event struct {
	Type      EventType        `json:"type"`
	Username  string           `json:"username"`
	SessionID string           `json:"session_id,omitempty"`
	Surface   ledger.Surface   `json:"surface,omitempty"`
	Reason    ledger.EndReason `json:"reason,omitempty"`
	LoggedIn  bool             `json:"logged_in"`
	At        time.Time        `json:"at"`
}

// EventSink receives events. Publish must not block.
type EventSink interface {
	Publish(Event)
}

func eventForReason(r ledger.EndReason) EventType {
	switch r {
	case ledger.ReasonExpired:
		return EventExpired
	case ledger.ReasonPartnerLogout:
		return EventPartnerLogout
	case ledger.ReasonDisabled:
		return EventDisabled
	case ledger.ReasonDeleted:
		return EventDeleted
	default:
		return EventLogout
	}
}
