// Package main provides a CI-friendly smoke test for the vigil presence feed.
//
// It validates:
//   - panel login for an admin account
//   - handshake + subprotocol selection on /panel/presence/ws
//   - hello/hello_ack and the initial snapshot
//   - login and logout events for a probe account on the app surface (optional)
//   - snapshot_fetch
//   - the feed closing once the viewer's own session ends
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"

	v1 "vigil/shared/contracts/presence/v1"
)

const maxReadBytes = 1 << 20 // 1MiB

type feedClient struct {
	conn   *websocket.Conn
	viewer string

	inbox chan v1.Envelope
	errCh chan error
}

func main() {
	var (
		baseURL  = flag.String("url", "http://127.0.0.1:8080", "vigil base URL")
		origin   = flag.String("origin", "http://localhost", "Origin header to send (browser-like WS handshake)")
		admin    = flag.String("admin", "admin", "admin username")
		adminPW  = flag.String("admin-password", os.Getenv("VIGIL_SMOKE_ADMIN_PASSWORD"), "admin password")
		probe    = flag.String("probe", "", "optional non-admin account to log in and out on /app")
		probePW  = flag.String("probe-password", os.Getenv("VIGIL_SMOKE_PROBE_PASSWORD"), "probe password")
		timeout  = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose  = flag.Bool("v", false, "Verbose output")
		noOrigin = flag.Bool("no-origin", false, "omit the Origin header")
	)
	flag.Parse()

	base, err := validateBaseURL(*baseURL)
	if err != nil {
		fatalf("invalid -url: %v", err)
	}
	if *noOrigin {
		*origin = ""
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}
	if *adminPW == "" {
		fatalf("-admin-password (or VIGIL_SMOKE_ADMIN_PASSWORD) is required")
	}

	root := context.Background()
	httpc := &http.Client{Timeout: *timeout}

	handle := mustLogin(httpc, base, "/panel/login", *admin, *adminPW)
	if *verbose {
		fmt.Printf("panel login ok: %s\n", *admin)
	}

	c := mustConnect(root, base, *origin, handle, *timeout)
	defer closeWS(c.conn)

	snap := c.mustReadUntilType(root, v1.TypeSnapshot, *timeout)
	mustSnapshotShows(snap, *admin, true)
	if *verbose {
		fmt.Printf("feed connected: viewer=%s\n", c.viewer)
	}

	if *probe != "" {
		probeHandle := mustLogin(httpc, base, "/app/api/login", *probe, *probePW)
		c.mustReadEvent(root, "login", *probe, *timeout)

		mustPost(httpc, base, "/app/api/logout", probeHandle, http.StatusOK)
		c.mustReadEvent(root, "logout", *probe, *timeout)
		if *verbose {
			fmt.Printf("probe login/logout observed: %s\n", *probe)
		}
	}

	mustWrite(root, c.conn, v1.Envelope{
		V:       v1.Version,
		Type:    v1.TypeSnapshotFetch,
		ID:      "smoke-snapshot",
		TS:      time.Now().UTC(),
		Payload: mustJSON(struct{}{}),
	}, *timeout)
	snap = c.mustReadUntilType(root, v1.TypeSnapshot, *timeout)
	mustSnapshotShows(snap, *admin, true)

	mustPost(httpc, base, "/panel/logout", handle, http.StatusNoContent)
	c.mustCloseWith(root, websocket.StatusPolicyViolation, *timeout)

	fmt.Printf("OK: viewer=%s probe=%q\n", c.viewer, *probe)
}

func validateBaseURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return nil, errors.New("missing host")
	}
	return u, nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

func endpoint(base *url.URL, path string) string {
	u := *base
	u.Path = strings.TrimRight(u.Path, "/") + path
	return u.String()
}

func wsEndpoint(base *url.URL, path string) string {
	u := *base
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + path
	return u.String()
}

func mustLogin(httpc *http.Client, base *url.URL, path, username, password string) string {
	body := mustJSON(map[string]string{"username": username, "password": password})
	resp, err := httpc.Post(endpoint(base, path), "application/json", bytes.NewReader(body))
	if err != nil {
		fatalf("login %s via %s: %v", username, path, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxReadBytes))
	if resp.StatusCode != http.StatusOK {
		fatalf("login %s via %s: status=%d body=%s", username, path, resp.StatusCode, raw)
	}

	var out struct {
		Session struct {
			Handle string `json:"handle"`
		} `json:"session"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		fatalf("login %s: decode: %v", username, err)
	}
	if out.Session.Handle == "" {
		fatalf("login %s: response carries no session handle", username)
	}
	return out.Session.Handle
}

func mustPost(httpc *http.Client, base *url.URL, path, handle string, want int) {
	req, err := http.NewRequest(http.MethodPost, endpoint(base, path), nil)
	if err != nil {
		fatalf("build %s: %v", path, err)
	}
	req.Header.Set("Authorization", "Bearer "+handle)
	resp, err := httpc.Do(req)
	if err != nil {
		fatalf("post %s: %v", path, err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != want {
		fatalf("post %s: status=%d want=%d", path, resp.StatusCode, want)
	}
}

func mustConnect(parent context.Context, base *url.URL, origin, handle string, stepTimeout time.Duration) *feedClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	h.Set("Authorization", "Bearer "+handle)
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, wsEndpoint(base, "/panel/presence/ws"), &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect: %v", err)
	}
	if got := conn.Subprotocol(); got != v1.Subprotocol {
		fatalf("subprotocol mismatch: got=%q want=%q", got, v1.Subprotocol)
	}
	conn.SetReadLimit(maxReadBytes)

	c := &feedClient{
		conn:  conn,
		inbox: make(chan v1.Envelope, 512),
		errCh: make(chan error, 1),
	}
	c.startReadLoop()

	mustWrite(parent, conn, v1.Envelope{
		V:       v1.Version,
		Type:    v1.TypeHello,
		ID:      "smoke-hello",
		TS:      time.Now().UTC(),
		Payload: mustJSON(v1.HelloPayload{}),
	}, stepTimeout)

	ack := c.mustReadUntilType(parent, v1.TypeHelloAck, stepTimeout)
	var p v1.HelloAckPayload
	if err := json.Unmarshal(ack.Payload, &p); err != nil {
		fatalf("unmarshal hello_ack payload: %v", err)
	}
	if strings.TrimSpace(p.ConnectionID) == "" || strings.TrimSpace(p.Username) == "" {
		fatalf("hello_ack incomplete: %+v", p)
	}
	c.viewer = p.Username
	return c
}

func (c *feedClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			mt, data, err := c.conn.Read(context.Background())
			if err != nil {
				select {
				case c.errCh <- err:
				default:
				}
				return
			}
			if mt != websocket.MessageText {
				select {
				case c.errCh <- fmt.Errorf("unsupported message type: %v", mt):
				default:
				}
				return
			}

			var env v1.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad json: %w", err):
				default:
				}
				return
			}
			if env.V != v1.Version || env.Type == "" {
				select {
				case c.errCh <- fmt.Errorf("bad envelope: v=%q type=%q", env.V, env.Type):
				default:
				}
				return
			}

			select {
			case c.inbox <- env:
			default:
				select {
				case c.errCh <- errors.New("inbox overflow: consumer too slow"):
				default:
				}
				return
			}
		}
	}()
}

func mustSnapshotShows(env v1.Envelope, username string, loggedIn bool) {
	var p v1.SnapshotPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		fatalf("unmarshal snapshot: %v", err)
	}
	for _, a := range p.Accounts {
		if a.Username == username {
			if a.LoggedIn != loggedIn {
				fatalf("snapshot: %s logged_in=%v want %v", username, a.LoggedIn, loggedIn)
			}
			return
		}
	}
	fatalf("snapshot: %s missing (%d accounts)", username, len(p.Accounts))
}

// mustReadEvent waits for a presence_event of the given kind for username.
// Events for other accounts are skipped.
func (c *feedClient) mustReadEvent(parent context.Context, event, username string, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		env := c.next(ctx, "presence_event "+event)
		if env.Type != v1.TypePresenceEvent {
			continue
		}
		var p v1.PresenceEventPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			fatalf("unmarshal presence_event: %v", err)
		}
		if p.Username == username && p.Event == event {
			if p.At.IsZero() {
				fatalf("presence_event %s for %s missing at", event, username)
			}
			return
		}
	}
}

// mustReadUntilType skips presence events until wantType arrives.
func (c *feedClient) mustReadUntilType(parent context.Context, wantType string, stepTimeout time.Duration) v1.Envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		env := c.next(ctx, wantType)
		switch env.Type {
		case wantType:
			return env
		case v1.TypePresenceEvent:
			continue
		default:
			fatalf("unexpected envelope type: got=%q want=%q", env.Type, wantType)
		}
	}
}

func (c *feedClient) next(ctx context.Context, waitingFor string) v1.Envelope {
	select {
	case <-ctx.Done():
		fatalf("timeout waiting for %q: %v", waitingFor, ctx.Err())
	case err := <-c.errCh:
		fatalf("connection error while waiting for %q: %v", waitingFor, err)
	case env, ok := <-c.inbox:
		if !ok {
			fatalf("connection closed while waiting for %q", waitingFor)
		}
		if env.Type == v1.TypeError {
			var ep v1.ErrorPayload
			_ = json.Unmarshal(env.Payload, &ep)
			fatalf("server error: code=%q msg=%q", ep.Code, ep.Message)
		}
		return env
	}
	panic("unreachable")
}

// mustCloseWith waits for the server to close the feed with code.
func (c *feedClient) mustCloseWith(parent context.Context, code websocket.StatusCode, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for close %d", code)
		case err := <-c.errCh:
			if got := websocket.CloseStatus(err); got != code {
				fatalf("close status: got=%d want=%d (%v)", got, code, err)
			}
			return
		case _, ok := <-c.inbox:
			if !ok {
				select {
				case err := <-c.errCh:
					if got := websocket.CloseStatus(err); got != code {
						fatalf("close status: got=%d want=%d (%v)", got, code, err)
					}
					return
				case <-ctx.Done():
					fatalf("timeout waiting for close %d", code)
				}
			}
		}
	}
}

func mustWrite(parent context.Context, conn *websocket.Conn, env v1.Envelope, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		fatalf("marshal envelope: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write failed: %v", err)
	}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
