package authapi

import (
	"errors"
	"net/http"
	"strings"

	"vigil/cmd/internal/auth/guard"
	"vigil/cmd/internal/auth/ledger"
	"vigil/cmd/internal/auth/presence"
)

// Companion app JSON API. Responses keep the flat {success, ...} shape the
// app's clients parse.

func (h *Handler) handleAppLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ip := clientIP(r, h.cfg.TrustProxy)
	ua := clientDescriptor(r)
	const surface = string(ledger.SurfaceApp)

	if ok, retry := h.limiter.allow(ip, h.now()); !ok {
		h.auditLoginRateLimited(ctx, surface, ip, ua)
		writeAppRateLimited(w, retry)
		return
	}

	req, err := decodeCredentials(w, r, h.cfg.MaxBodyBytes)
	if err != nil {
		writeAppError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid JSON data")
		return
	}
	username := strings.TrimSpace(req.Username)
	if username == "" || req.Password == "" {
		writeAppError(w, http.StatusBadRequest, "MISSING_CREDENTIALS", "Username and password are required")
		return
	}

	sess, err := h.presence.Login(ctx, presence.LoginInput{
		Username:         username,
		Credential:       req.Password,
		OriginAddress:    ipString(ip),
		ClientDescriptor: ua,
		Surface:          ledger.SurfaceApp,
	})
	if err != nil {
		h.auditLoginFailed(ctx, surface, username, ip, ua, loginFailure(err))
		status, code, msg := appLoginError(err)
		if status == http.StatusInternalServerError {
			h.log.Error("app.login.fail", "err", err)
		}
		writeAppError(w, status, code, msg)
		return
	}

	sr, err := h.issueSession(ctx, sess)
	if err != nil {
		h.log.Error("app.login.issue.fail", "err", err)
		writeAppError(w, http.StatusInternalServerError, "SERVER_ERROR", "Internal server error")
		return
	}
	h.app.SetCookie(w, sr.Handle, sr.ExpiresAt)
	h.auditLoginSuccess(ctx, surface, sess.Username, sess.SessionID, ip, ua)

	last := sess.StartedAt
	writeJSON(w, http.StatusOK, appLoginResponse{
		Success: true,
		Message: "Login successful",
		User:    userResponse{Username: sess.Username, Enabled: true, LastLogin: &last},
		Session: sr,
	})
}

// handleAppLogout ends the caller's session if its handle is still current.
// A stale handle only clears the cookie; the newer session stays.
func (h *Handler) handleAppLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p, err := h.app.Authenticate(r)
	if err == nil {
		if _, err := h.presence.EndSession(ctx, p.Username, p.SessionID, ledger.ReasonLogout); err != nil {
			h.log.Error("app.logout.fail", "username", p.Username, "err", err)
			writeAppError(w, http.StatusInternalServerError, "SERVER_ERROR", "Internal server error")
			return
		}
		h.auditLogout(ctx, string(ledger.SurfaceApp), p.Username, p.SessionID, clientIP(r, h.cfg.TrustProxy), clientDescriptor(r))
	}
	h.app.ClearCookie(w)
	writeJSON(w, http.StatusOK, appMessageResponse{Success: true, Message: "Logged out successfully"})
}

func (h *Handler) handleAppStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p, err := h.app.Authenticate(r)
	if err == nil {
		acct, serr := h.presence.Status(ctx, p.Username)
		if serr != nil {
			h.log.Error("app.status.fail", "err", serr)
			writeAppError(w, http.StatusInternalServerError, "SERVER_ERROR", "Internal server error")
			return
		}
		u := toUserResponse(acct)
		writeJSON(w, http.StatusOK, appStatusResponse{Success: true, Authenticated: true, User: &u})
		return
	}

	var rej *guard.Rejection
	if !errors.As(err, &rej) || rej.Reason == guard.ReasonError {
		h.log.Error("app.status.fail", "err", err)
		writeAppError(w, http.StatusInternalServerError, "SERVER_ERROR", "Internal server error")
		return
	}

	msg := "Not logged in"
	switch rej.Reason {
	case guard.ReasonNoAccount:
		msg = "User not found"
	case guard.ReasonMismatch:
		msg = "Session ended"
		if claims, verr := h.handles.Verify(h.app.HandleFrom(r), h.now()); verr == nil {
			if acct, serr := h.presence.Status(ctx, claims.Username); serr == nil && !acct.Enabled {
				msg = "Account disabled"
			}
		}
	}
	if rej.Reason != guard.ReasonMissing {
		h.app.ClearCookie(w)
	}
	writeJSON(w, http.StatusOK, appStatusResponse{Success: false, Authenticated: false, Message: msg})
}

func (h *Handler) handleAppHealth(w http.ResponseWriter, r *http.Request) {
	n, err := h.presence.Count(r.Context())
	if err != nil {
		h.log.Error("app.health.fail", "err", err)
		writeJSON(w, http.StatusInternalServerError, appHealthResponse{
			Success:   false,
			Status:    "unhealthy",
			Database:  "unavailable",
			Timestamp: h.now(),
			Error:     "database unavailable",
		})
		return
	}
	writeJSON(w, http.StatusOK, appHealthResponse{
		Success:   true,
		Status:    "healthy",
		Database:  "connected",
		UserCount: n,
		Timestamp: h.now(),
	})
}

// appLoginError maps a login failure to status, code and message. Unknown
// accounts and wrong credentials share one answer.
func appLoginError(err error) (int, string, string) {
	switch {
	case errors.Is(err, presence.ErrInvalidInput):
		return http.StatusBadRequest, "MISSING_CREDENTIALS", "Username and password are required"
	case errors.Is(err, presence.ErrNotFound), errors.Is(err, presence.ErrBadCredential):
		return http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid username or password"
	case errors.Is(err, presence.ErrDisabled):
		return http.StatusForbidden, "ACCOUNT_DISABLED", "Account is disabled"
	case errors.Is(err, presence.ErrAlreadyActive):
		return http.StatusConflict, "ALREADY_LOGGED_IN", "User already logged in elsewhere"
	default:
		return http.StatusInternalServerError, "SERVER_ERROR", "Internal server error"
	}
}

func loginFailure(err error) string {
	switch {
	case errors.Is(err, presence.ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, presence.ErrNotFound):
		return "not_found"
	case errors.Is(err, presence.ErrBadCredential):
		return "bad_credential"
	case errors.Is(err, presence.ErrDisabled):
		return "disabled"
	case errors.Is(err, presence.ErrAlreadyActive):
		return "already_active"
	default:
		return "error"
	}
}
