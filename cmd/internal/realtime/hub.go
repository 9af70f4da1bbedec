package realtime

import (
	"encoding/json"
	"log/slog"
	"sync"

	"vigil/cmd/internal/auth/presence"
	"vigil/cmd/internal/metrics"
	v1 "vigil/shared/contracts/presence/v1"
)

// Hub fans presence events out to every connected feed client.
// It implements presence.EventSink.
type Hub struct {
	log     *slog.Logger
	metrics *metrics.Metrics

	mu      sync.RWMutex
	clients map[string]*Client
}

// NewHub constructs a Hub.
func NewHub(log *slog.Logger, m *metrics.Metrics) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{log: log, metrics: m, clients: make(map[string]*Client)}
}

// Register adds c to the fan-out set.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c.ID] = c
	h.mu.Unlock()
	h.metrics.FeedClients(1)
}

// Unregister removes the client with id. Unknown ids are ignored.
func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	_, ok := h.clients[id]
	delete(h.clients, id)
	h.mu.Unlock()
	if ok {
		h.metrics.FeedClients(-1)
	}
}

// Len reports connected clients.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish delivers e to every client without blocking. Clients whose queue is
// full are closed. A client whose own session the event ends receives it and
// is then closed.
func (h *Hub) Publish(e presence.Event) {
	payload, err := json.Marshal(v1.PresenceEventPayload{
		Event:     string(e.Type),
		Username:  e.Username,
		SessionID: e.SessionID,
		Surface:   string(e.Surface),
		Reason:    string(e.Reason),
		LoggedIn:  e.LoggedIn,
		At:        e.At,
	})
	if err != nil {
		h.log.Error("feed.publish.encode_fail", slog.Any("err", err))
		return
	}
	env := newEnvelope(v1.TypePresenceEvent, payload, e.At)

	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if !c.offer(outbound{env: env, closeAfter: endsViewer(c, e)}) {
			h.log.Info("feed.client.dropped", slog.String("connection_id", c.ID), slog.String("username", c.Username))
			c.Close()
		}
	}
}

// endsViewer reports whether e means c's own session is no longer authoritative.
func endsViewer(c *Client, e presence.Event) bool {
	if c.Username != e.Username {
		return false
	}
	switch e.Type {
	case presence.EventLogin, presence.EventTakeover:
		return e.SessionID != c.SessionID
	case presence.EventCreated, presence.EventEnabled:
		return false
	default:
		return true
	}
}
