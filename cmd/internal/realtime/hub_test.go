package realtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vigil/cmd/internal/auth/presence"
	"vigil/cmd/internal/metrics"
)

func TestHub_PublishFansOut(t *testing.T) {
	h := NewHub(nil, nil)
	a := NewClient("c1", "root", "S1", wsMinSendQueueSize)
	b := NewClient("c2", "ops", "S2", wsMinSendQueueSize)
	h.Register(a)
	h.Register(b)

	h.Publish(presence.Event{Type: presence.EventLogin, Username: "alice", SessionID: "S3", LoggedIn: true, At: time.Now()})

	for _, c := range []*Client{a, b} {
		select {
		case o := <-c.send:
			assert.Equal(t, "presence_event", o.env.Type)
			assert.False(t, o.closeAfter)
		default:
			t.Fatalf("client %s got nothing", c.ID)
		}
	}
}

func TestHub_DropsSlowClient(t *testing.T) {
	m := metrics.New()
	h := NewHub(nil, m)
	slow := NewClient("slow", "root", "S1", 1)
	h.Register(slow)

	for i := 0; i < wsMinSendQueueSize+1; i++ {
		h.Publish(presence.Event{Type: presence.EventLogin, Username: "alice", At: time.Now()})
	}

	select {
	case <-slow.Done():
	default:
		t.Fatal("slow client was not closed")
	}

	h.Unregister("slow")
	h.Unregister("slow")
	assert.Zero(t, h.Len())
}

func TestEndsViewer(t *testing.T) {
	c := NewClient("c", "root", "S1", 0)
	tests := []struct {
		name string
		e    presence.Event
		want bool
	}{
		{"other account", presence.Event{Type: presence.EventLogout, Username: "alice"}, false},
		{"own logout", presence.Event{Type: presence.EventLogout, Username: "root", SessionID: "S1"}, true},
		{"own disable", presence.Event{Type: presence.EventDisabled, Username: "root"}, true},
		{"own takeover", presence.Event{Type: presence.EventTakeover, Username: "root", SessionID: "S2"}, true},
		{"own login echo", presence.Event{Type: presence.EventLogin, Username: "root", SessionID: "S1"}, false},
		{"own enable", presence.Event{Type: presence.EventEnabled, Username: "root"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, endsViewer(c, tt.e))
		})
	}
}

func TestClient_OfferAfterClose(t *testing.T) {
	c := NewClient("c", "root", "S1", 0)
	c.Close()
	c.Close()
	require.False(t, c.offer(outbound{}))
}

func TestFrameLimiter(t *testing.T) {
	l := newFrameLimiter(3, time.Hour)
	for i := 0; i < 3; i++ {
		require.True(t, l.Allow(), "frame %d", i)
	}
	assert.False(t, l.Allow())
}

func TestLoadGatewayConfigFromEnv(t *testing.T) {
	t.Setenv("VIGIL_WS_ALLOWED_ORIGINS", "https://panel.example.com, http://localhost")
	t.Setenv("VIGIL_WS_SEND_QUEUE", "2")
	t.Setenv("VIGIL_WS_RATE_WINDOW", "bogus")
	t.Setenv("VIGIL_WS_ORIGIN_REQUIRED", "false")

	cfg := LoadGatewayConfigFromEnv(DefaultGatewayConfig())
	assert.Equal(t, []string{"https://panel.example.com", "http://localhost"}, cfg.AllowedOrigins)
	assert.Equal(t, wsMinSendQueueSize, cfg.SendQueueSize)
	assert.Equal(t, rateLimitWindow, cfg.RateWindow)
	assert.False(t, cfg.OriginRequired)
}
