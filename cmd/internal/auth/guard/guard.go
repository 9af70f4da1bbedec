// Package guard authenticates requests against the authoritative session of
// their account. A request whose handle is valid but whose session has been
// replaced or ended loses its cookie and is sent back to login. The guard
// never changes presence.
package guard

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"vigil/cmd/account"
	"vigil/cmd/internal/auth/presence"
	"vigil/cmd/internal/metrics"
	"vigil/cmd/security/token"
)

// HandleVerifier checks a session handle's signature and lifetime.
// *token.HandleCodec satisfies it.
type HandleVerifier interface {
	Verify(handle string, now time.Time) (token.HandleClaims, error)
}

// SessionValidator reports whether a session is still authoritative.
// *presence.Controller satisfies it.
type SessionValidator interface {
	ValidateSession(ctx context.Context, username, sessionID string) (account.Account, error)
}

// Principal is the authenticated caller.
type Principal struct {
	Username  string
	SessionID string
	Admin     bool
	ExpiresAt time.Time
}

type principalKey struct{}

// WithPrincipal returns ctx carrying p.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the principal stored by the guard.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// Rejection reasons, also used as metric labels.
const (
	ReasonMissing   = "missing"
	ReasonInvalid   = "invalid_handle"
	ReasonMismatch  = "mismatch"
	ReasonNoAccount = "no_account"
	ReasonForbidden = "forbidden"
	ReasonError     = "error"
)

// ErrUnauthenticated wraps every rejection returned by Authenticate.
var ErrUnauthenticated = errors.New("unauthenticated")

// Rejection describes why a request was not authenticated.
type Rejection struct {
	Reason string
	Err    error
}

func (r *Rejection) Error() string {
	if r.Err == nil {
		return "guard: " + r.Reason
	}
	return "guard: " + r.Reason + ": " + r.Err.Error()
}

func (r *Rejection) Unwrap() []error {
	if r.Reason == ReasonError {
		return []error{r.Err}
	}
	if r.Err == nil {
		return []error{ErrUnauthenticated}
	}
	return []error{ErrUnauthenticated, r.Err}
}

// Guard is the request-authentication middleware of one surface.
type Guard struct {
	log       *slog.Logger
	handles   HandleVerifier
	sessions  SessionValidator
	cookie    CookieConfig
	metrics   *metrics.Metrics
	loginPath string
	now       func() time.Time
}

// Option configures a Guard.
type Option func(*Guard)

// WithMetrics counts rejections.
func WithMetrics(m *metrics.Metrics) Option { return func(g *Guard) { g.metrics = m } }

// WithLoginRedirect makes RequireBrowser redirect to path.
func WithLoginRedirect(path string) Option { return func(g *Guard) { g.loginPath = path } }

// WithClock sets the time source used for handle expiry (tests).
func WithClock(now func() time.Time) Option {
	return func(g *Guard) {
		if now != nil {
			g.now = now
		}
	}
}

// New builds a Guard for the surface whose session cookie is described by cookie.
func New(log *slog.Logger, handles HandleVerifier, sessions SessionValidator, cookie CookieConfig, opts ...Option) *Guard {
	if log == nil {
		log = slog.Default()
	}
	g := &Guard{
		log:       log,
		handles:   handles,
		sessions:  sessions,
		cookie:    cookie.withDefaults(),
		loginPath: "/",
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

// HandleFrom extracts the session handle: the surface cookie first, then an
// Authorization bearer token.
func (g *Guard) HandleFrom(r *http.Request) string {
	if c, err := r.Cookie(g.cookie.Name); err == nil {
		if v := strings.TrimSpace(c.Value); v != "" {
			return v
		}
	}
	return bearerToken(r)
}

// Authenticate resolves the caller of r. It has no side effects.
func (g *Guard) Authenticate(r *http.Request) (Principal, error) {
	handle := g.HandleFrom(r)
	if handle == "" {
		return Principal{}, &Rejection{Reason: ReasonMissing}
	}
	claims, err := g.handles.Verify(handle, g.now())
	if err != nil {
		return Principal{}, &Rejection{Reason: ReasonInvalid, Err: err}
	}
	acct, err := g.sessions.ValidateSession(r.Context(), claims.Username, claims.SessionID)
	switch {
	case errors.Is(err, presence.ErrMismatch):
		return Principal{}, &Rejection{Reason: ReasonMismatch, Err: err}
	case errors.Is(err, presence.ErrNoAccount):
		return Principal{}, &Rejection{Reason: ReasonNoAccount, Err: err}
	case err != nil:
		return Principal{}, &Rejection{Reason: ReasonError, Err: err}
	}
	return Principal{
		Username:  acct.Username,
		SessionID: claims.SessionID,
		Admin:     acct.Admin,
		ExpiresAt: claims.ExpiresAt,
	}, nil
}

func (g *Guard) reject(w http.ResponseWriter, r *http.Request, rej *Rejection) {
	g.metrics.GuardRejected(rej.Reason)
	if rej.Reason == ReasonError {
		g.log.Error("auth.guard.fail", slog.String("path", r.URL.Path), slog.Any("err", rej.Err))
		return
	}
	if rej.Reason != ReasonMissing {
		g.ClearCookie(w)
		g.log.Info("auth.guard.reject", slog.String("path", r.URL.Path), slog.String("reason", rej.Reason))
	}
}

// Require is middleware for JSON routes. Rejected callers get 401
// session_revoked (or 401 unauthenticated when no handle was sent).
func (g *Guard) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := g.Authenticate(r)
		if err != nil {
			g.respondJSON(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}

// RequireBrowser is middleware for page routes. Rejected callers are
// redirected to the login page with 303 See Other.
func (g *Guard) RequireBrowser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := g.Authenticate(r)
		if err != nil {
			var rej *Rejection
			if errors.As(err, &rej) {
				g.reject(w, r, rej)
				if rej.Reason == ReasonError {
					writeError(w, http.StatusServiceUnavailable, "server_busy", "please retry later")
					return
				}
			}
			target := g.loginPath
			if r.Method == http.MethodGet {
				target += "?next=" + url.QueryEscape(r.URL.RequestURI())
			}
			http.Redirect(w, r, target, http.StatusSeeOther)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}

// RequireAdmin wraps Require and additionally demands an admin account.
func (g *Guard) RequireAdmin(next http.Handler) http.Handler {
	return g.Require(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, _ := PrincipalFrom(r.Context())
		if !p.Admin {
			g.metrics.GuardRejected(ReasonForbidden)
			writeError(w, http.StatusForbidden, "forbidden", "administrator access required")
			return
		}
		next.ServeHTTP(w, r)
	}))
}

func (g *Guard) respondJSON(w http.ResponseWriter, r *http.Request, err error) {
	var rej *Rejection
	if !errors.As(err, &rej) {
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	g.reject(w, r, rej)
	switch rej.Reason {
	case ReasonError:
		writeError(w, http.StatusServiceUnavailable, "server_busy", "please retry later")
	case ReasonMissing:
		writeError(w, http.StatusUnauthorized, "unauthenticated", "authentication required")
	default:
		writeError(w, http.StatusUnauthorized, "session_revoked", "session is no longer active; please log in again")
	}
}

func bearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if raw == "" {
		return ""
	}
	scheme, rest, ok := strings.Cut(raw, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(rest)
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error apiError `json:"error"`
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: apiError{Code: code, Message: msg}})
}
