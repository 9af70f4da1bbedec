package partner

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
)

// Notice names the session that ended.
type Notice struct {
	Username        string
	SessionID       string
	RevocationToken string
	Reason          string
}

// Notifier delivers one logout notice.
type Notifier interface {
	NotifyLogout(ctx context.Context, n Notice) error
}

// NopNotifier is used when no partner is configured.
type NopNotifier struct{}

func (NopNotifier) NotifyLogout(context.Context, Notice) error { return nil }

// HTTPNotifier calls the partner's logout endpoint.
// Success is a 2xx response whose JSON body has "status": "success".
type HTTPNotifier struct {
	endpoint string
	method   string
	client   *http.Client
}

// NewHTTPNotifier builds a notifier from cfg. client may be nil.
func NewHTTPNotifier(cfg Config, client *http.Client) (*HTTPNotifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !cfg.Enabled() {
		return nil, errors.New("partner: logout url is required")
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &HTTPNotifier{endpoint: cfg.LogoutURL, method: cfg.Method, client: client}, nil
}

type partnerReply struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

const maxReplyBytes = 64 << 10

func (h *HTTPNotifier) NotifyLogout(ctx context.Context, n Notice) error {
	form := url.Values{}
	form.Set("username", n.Username)
	form.Set("revocation_token", n.RevocationToken)

	req, err := h.newRequest(ctx, form)
	if err != nil {
		return &SyncError{Kind: ErrUnreachable, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return classifyTransport(ctx, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return classifyTransport(ctx, err)
	}

	var reply partnerReply
	_ = json.Unmarshal(body, &reply)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &SyncError{Kind: ErrRemoteRejected, Status: resp.StatusCode, Message: reply.Message}
	}
	if !strings.EqualFold(reply.Status, "success") {
		msg := reply.Message
		if msg == "" {
			msg = "unexpected reply status " + strings.TrimSpace(reply.Status)
		}
		return &SyncError{Kind: ErrRemoteRejected, Status: resp.StatusCode, Message: msg}
	}
	return nil
}

func (h *HTTPNotifier) newRequest(ctx context.Context, form url.Values) (*http.Request, error) {
	if h.method == http.MethodPost {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, strings.NewReader(form.Encode()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req, nil
	}

	u, err := url.Parse(h.endpoint)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	for k, vs := range form {
		q[k] = vs
	}
	u.RawQuery = q.Encode()
	return http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
}

func classifyTransport(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &SyncError{Kind: ErrTimeout, Err: err}
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &SyncError{Kind: ErrTimeout, Err: err}
	}
	return &SyncError{Kind: ErrUnreachable, Err: err}
}
