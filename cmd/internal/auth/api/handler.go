package authapi

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"vigil/cmd/account"
	"vigil/cmd/internal/auth/guard"
	"vigil/cmd/internal/auth/ledger"
	"vigil/cmd/internal/auth/presence"
	"vigil/cmd/internal/metrics"
	"vigil/cmd/security/token"
)

// Presence is the subset of the presence controller the HTTP surfaces use.
type Presence interface {
	guard.SessionValidator

	Login(ctx context.Context, in presence.LoginInput) (presence.Session, error)
	Logout(ctx context.Context, username string) error
	EndSession(ctx context.Context, username, sessionID string, reason ledger.EndReason) (bool, error)
	LogoutFromPartner(ctx context.Context, username, sessionID string) (bool, error)
	Takeover(ctx context.Context, in presence.TakeoverInput) (presence.Session, error)
	SetEnabled(ctx context.Context, username string, enabled bool) (account.Account, error)
	CreateAccount(ctx context.Context, in presence.CreateAccountInput) (account.Account, error)
	DeleteAccount(ctx context.Context, username string) error
	Status(ctx context.Context, username string) (account.Account, error)
	List(ctx context.Context) ([]account.Account, error)
	Count(ctx context.Context) (int, error)
	History(ctx context.Context, username string, limit int) ([]ledger.Record, error)
}

// Handles issues and verifies session handles.
type Handles interface {
	guard.HandleVerifier
	Issue(username, sessionID string, now time.Time) (string, time.Time, error)
}

// RevocationVerifier checks tokens presented by the partner.
type RevocationVerifier interface {
	Verify(tok string) (token.RevocationClaims, error)
}

// Handler serves the /app, /panel and /partner surfaces.
type Handler struct {
	log      *slog.Logger
	cfg      Config
	presence Presence
	handles  Handles

	revocations RevocationVerifier
	feed        http.Handler
	metrics     *metrics.Metrics

	app   *guard.Guard
	panel *guard.Guard

	limiter *loginLimiter
	now     func() time.Time
}

// HandlerOption configures optional dependencies.
type HandlerOption func(*Handler)

// WithRevocationVerifier enables the inbound partner logout endpoint.
func WithRevocationVerifier(v RevocationVerifier) HandlerOption {
	return func(h *Handler) { h.revocations = v }
}

// WithFeed mounts the live presence feed for administrators.
func WithFeed(feed http.Handler) HandlerOption {
	return func(h *Handler) { h.feed = feed }
}

// WithMetrics records guard rejections.
func WithMetrics(m *metrics.Metrics) HandlerOption {
	return func(h *Handler) { h.metrics = m }
}

// WithClock overrides time.Now for handle issuance and verification.
func WithClock(now func() time.Time) HandlerOption {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

// NewHandler constructs a Handler and the guards for both surfaces.
func NewHandler(log *slog.Logger, p Presence, handles Handles, cfg Config, opts ...HandlerOption) (*Handler, error) {
	if log == nil {
		log = slog.Default()
	}
	if p == nil {
		return nil, errors.New("authapi: nil presence controller")
	}
	if handles == nil {
		return nil, errors.New("authapi: nil handle codec")
	}

	h := &Handler{
		log:      log,
		cfg:      cfg.normalized(),
		presence: p,
		handles:  handles,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(h)
	}

	guardOpts := []guard.Option{guard.WithMetrics(h.metrics), guard.WithClock(h.now)}
	h.app = guard.New(log, handles, p, h.cfg.appCookie(), guardOpts...)
	h.panel = guard.New(log, handles, p, h.cfg.panelCookie(), append(guardOpts, guard.WithLoginRedirect("/panel/login"))...)
	h.limiter = newLoginLimiter(h.cfg.LoginIPMax, h.cfg.LoginWindow)
	return h, nil
}

// Routes mounts every surface on r.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/app/api", func(r chi.Router) {
		r.Post("/login", h.handleAppLogin)
		r.Post("/logout", h.handleAppLogout)
		r.Get("/status", h.handleAppStatus)
		r.Post("/status", h.handleAppStatus)
		r.Get("/health", h.handleAppHealth)
	})

	r.Route("/panel", func(r chi.Router) {
		r.Get("/login", h.handlePanelLoginForm)
		r.Post("/login", h.handlePanelLogin)
		r.Post("/logout", h.handlePanelLogout)
		r.With(h.panel.Require).Get("/me", h.handlePanelMe)
		r.With(h.panel.RequireBrowser).Get("/", h.handleDashboard)

		r.Group(func(r chi.Router) {
			r.Use(h.panel.RequireAdmin)

			r.Get("/accounts", h.handleListAccounts)
			r.Post("/accounts", h.handleCreateAccount)
			r.Route("/accounts/{username}", func(r chi.Router) {
				r.Delete("/", h.handleDeleteAccount)
				r.Post("/enable", h.handleSetEnabled(true))
				r.Post("/disable", h.handleSetEnabled(false))
				r.Post("/takeover", h.handleTakeover)
				r.Post("/logout", h.handleForceLogout)
				r.Get("/presence", h.handlePresence)
				r.Get("/sessions", h.handleHistory)
			})
			if h.feed != nil {
				r.Handle("/presence/ws", h.feed)
			}
		})
	})

	if h.revocations != nil {
		r.Post("/partner/logout", h.handlePartnerLogout)
	}
}

// issueSession signs a handle for sess. If signing fails that session is
// ended so presence does not point at a session nobody holds.
func (h *Handler) issueSession(ctx context.Context, sess presence.Session) (sessionResponse, error) {
	handle, exp, err := h.handles.Issue(sess.Username, sess.SessionID, h.now())
	if err != nil {
		if _, lerr := h.presence.EndSession(context.WithoutCancel(ctx), sess.Username, sess.SessionID, ledger.ReasonAborted); lerr != nil {
			h.log.Error("auth.session.rollback.fail", "username", sess.Username, "err", lerr)
		}
		return sessionResponse{}, err
	}
	return sessionResponse{
		Handle:          handle,
		SessionID:       sess.SessionID,
		ExpiresAt:       exp,
		RevocationToken: sess.RevocationToken,
	}, nil
}

func usernameParam(r *http.Request) string {
	return account.NormalizeUsername(chi.URLParam(r, "username"))
}

func clientIP(r *http.Request, trustProxy bool) net.IP {
	if trustProxy {
		if ip := parseForwardedIP(r.Header.Get("X-Forwarded-For")); ip != nil {
			return ip
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return ip
		}
	}
	return nil
}

func parseForwardedIP(raw string) net.IP {
	if raw == "" {
		return nil
	}
	for _, p := range strings.Split(raw, ",") {
		if ip := net.ParseIP(strings.TrimSpace(p)); ip != nil {
			return ip
		}
	}
	return nil
}

func ipString(ip net.IP) string {
	if ip == nil {
		return ""
	}
	return ip.String()
}

func clientDescriptor(r *http.Request) string {
	ua := strings.TrimSpace(r.UserAgent())
	if len(ua) > 512 {
		ua = ua[:512]
	}
	return ua
}
