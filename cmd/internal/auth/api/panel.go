package authapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"vigil/cmd/internal/auth/guard"
	"vigil/cmd/internal/auth/ledger"
	"vigil/cmd/internal/auth/presence"
)

func (h *Handler) handlePanelLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ip := clientIP(r, h.cfg.TrustProxy)
	ua := clientDescriptor(r)
	const surface = string(ledger.SurfacePanel)

	if ok, retry := h.limiter.allow(ip, h.now()); !ok {
		h.auditLoginRateLimited(ctx, surface, ip, ua)
		writeRateLimited(w, retry)
		return
	}

	req, err := decodeCredentials(w, r, h.cfg.MaxBodyBytes)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	username := strings.TrimSpace(req.Username)
	if username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "username and password are required")
		return
	}

	sess, err := h.presence.Login(ctx, presence.LoginInput{
		Username:         username,
		Credential:       req.Password,
		OriginAddress:    ipString(ip),
		ClientDescriptor: ua,
		Surface:          ledger.SurfacePanel,
	})
	if err != nil {
		h.auditLoginFailed(ctx, surface, username, ip, ua, loginFailure(err))
		switch {
		case errors.Is(err, presence.ErrInvalidInput):
			writeError(w, http.StatusBadRequest, "invalid_request", "username and password are required")
		case errors.Is(err, presence.ErrNotFound), errors.Is(err, presence.ErrBadCredential):
			writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid username or password")
		case errors.Is(err, presence.ErrDisabled):
			writeError(w, http.StatusForbidden, "account_disabled", "account is disabled")
		case errors.Is(err, presence.ErrAlreadyActive):
			writeError(w, http.StatusConflict, "already_logged_in", "account is already logged in elsewhere")
		default:
			h.log.Error("panel.login.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		}
		return
	}

	sr, err := h.issueSession(ctx, sess)
	if err != nil {
		h.log.Error("panel.login.issue.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	h.panel.SetCookie(w, sr.Handle, sr.ExpiresAt)
	h.auditLoginSuccess(ctx, surface, sess.Username, sess.SessionID, ip, ua)

	acct, err := h.presence.Status(ctx, sess.Username)
	if err != nil {
		h.log.Warn("panel.login.status.fail", "err", err)
		last := sess.StartedAt
		acct.Username, acct.Enabled, acct.LastLoginAt = sess.Username, true, &last
	}
	writeJSON(w, http.StatusOK, panelLoginResponse{User: toUserResponse(acct), Session: sr})
}

func (h *Handler) handlePanelLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p, err := h.panel.Authenticate(r)
	if err == nil {
		if _, err := h.presence.EndSession(ctx, p.Username, p.SessionID, ledger.ReasonLogout); err != nil {
			h.log.Error("panel.logout.fail", "username", p.Username, "err", err)
			writeError(w, http.StatusInternalServerError, "server_error", "internal error")
			return
		}
		h.auditLogout(ctx, string(ledger.SurfacePanel), p.Username, p.SessionID, clientIP(r, h.cfg.TrustProxy), clientDescriptor(r))
	}
	h.panel.ClearCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handlePanelMe(w http.ResponseWriter, r *http.Request) {
	p, _ := guard.PrincipalFrom(r.Context())
	acct, err := h.presence.Status(r.Context(), p.Username)
	if err != nil {
		h.writePresenceError(w, "panel.me", err)
		return
	}
	writeJSON(w, http.StatusOK, toPresenceResponse(acct))
}

// handlePanelLoginForm describes the login form. Browser routes redirect
// here; only same-site relative next targets are echoed back.
func (h *Handler) handlePanelLoginForm(w http.ResponseWriter, r *http.Request) {
	out := loginFormResponse{Method: http.MethodPost, Action: "/panel/login", Fields: []string{"username", "password"}}
	if next := r.URL.Query().Get("next"); strings.HasPrefix(next, "/panel") && !strings.HasPrefix(next, "//") {
		out.Next = next
	}
	writeJSON(w, http.StatusOK, out)
}

// handleDashboard is the panel landing page. Every panel user sees their own
// presence and the totals; admins also get the full listing.
func (h *Handler) handleDashboard(w http.ResponseWriter, r *http.Request) {
	p, _ := guard.PrincipalFrom(r.Context())
	accts, err := h.presence.List(r.Context())
	if err != nil {
		h.writePresenceError(w, "panel.dashboard", err)
		return
	}
	var out dashboardResponse
	for _, a := range accts {
		out.Count++
		if a.Presence.LoggedIn() {
			out.Active++
		}
		if a.Username == p.Username {
			out.Viewer = toPresenceResponse(a)
		}
		if p.Admin {
			out.Accounts = append(out.Accounts, toPresenceResponse(a))
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// ---- administration ----

func (h *Handler) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	accts, err := h.presence.List(r.Context())
	if err != nil {
		h.writePresenceError(w, "panel.accounts.list", err)
		return
	}
	out := accountListResponse{Accounts: make([]presenceResponse, 0, len(accts)), Count: len(accts)}
	for _, a := range accts {
		if a.Presence.LoggedIn() {
			out.Active++
		}
		out.Accounts = append(out.Accounts, toPresenceResponse(a))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	acct, err := h.presence.CreateAccount(r.Context(), presence.CreateAccountInput{
		Username:   req.Username,
		Credential: req.Password,
		Enabled:    enabled,
		Admin:      req.Admin,
	})
	if err != nil {
		h.writePresenceError(w, "panel.accounts.create", err)
		return
	}
	h.adminAudit(r, "account.created", acct.Username)
	writeJSON(w, http.StatusCreated, toPresenceResponse(acct))
}

func (h *Handler) handleSetEnabled(enabled bool) http.HandlerFunc {
	action := "account.disabled"
	if enabled {
		action = "account.enabled"
	}
	return func(w http.ResponseWriter, r *http.Request) {
		username := usernameParam(r)
		if !enabled && h.isSelf(r, username) {
			writeError(w, http.StatusBadRequest, "invalid_request", "cannot disable your own account")
			return
		}
		acct, err := h.presence.SetEnabled(r.Context(), username, enabled)
		if err != nil {
			h.writePresenceError(w, "panel.accounts.set_enabled", err)
			return
		}
		h.adminAudit(r, action, username)
		writeJSON(w, http.StatusOK, toPresenceResponse(acct))
	}
}

func (h *Handler) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	username := usernameParam(r)
	if h.isSelf(r, username) {
		writeError(w, http.StatusBadRequest, "invalid_request", "cannot delete your own account")
		return
	}
	if err := h.presence.DeleteAccount(r.Context(), username); err != nil {
		h.writePresenceError(w, "panel.accounts.delete", err)
		return
	}
	h.adminAudit(r, "account.deleted", username)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleTakeover(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p, _ := guard.PrincipalFrom(ctx)
	username := usernameParam(r)

	surface := ledger.SurfacePanel
	if s := r.URL.Query().Get("surface"); s != "" {
		surface = ledger.ParseSurface(s)
	}

	sess, err := h.presence.Takeover(ctx, presence.TakeoverInput{
		Username:         username,
		Actor:            p.Username,
		OriginAddress:    ipString(clientIP(r, h.cfg.TrustProxy)),
		ClientDescriptor: clientDescriptor(r),
		Surface:          surface,
	})
	if err != nil {
		h.writePresenceError(w, "panel.accounts.takeover", err)
		return
	}
	sr, err := h.issueSession(ctx, sess)
	if err != nil {
		h.log.Error("panel.accounts.takeover.issue.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	h.adminAudit(r, "account.takeover", username)
	writeJSON(w, http.StatusOK, takeoverResponse{Username: sess.Username, Session: sr})
}

func (h *Handler) handleForceLogout(w http.ResponseWriter, r *http.Request) {
	username := usernameParam(r)
	if _, err := h.presence.Status(r.Context(), username); err != nil {
		h.writePresenceError(w, "panel.accounts.logout", err)
		return
	}
	if err := h.presence.Logout(r.Context(), username); err != nil {
		h.writePresenceError(w, "panel.accounts.logout", err)
		return
	}
	h.adminAudit(r, "account.logout", username)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handlePresence(w http.ResponseWriter, r *http.Request) {
	acct, err := h.presence.Status(r.Context(), usernameParam(r))
	if err != nil {
		h.writePresenceError(w, "panel.accounts.presence", err)
		return
	}
	writeJSON(w, http.StatusOK, toPresenceResponse(acct))
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := h.cfg.HistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		limit = min(n, h.cfg.HistoryLimit)
	}

	username := usernameParam(r)
	recs, err := h.presence.History(r.Context(), username, limit)
	if err != nil {
		h.writePresenceError(w, "panel.accounts.history", err)
		return
	}
	out := historyResponse{Username: username, Sessions: make([]recordResponse, 0, len(recs))}
	for _, rec := range recs {
		out.Sessions = append(out.Sessions, toRecordResponse(rec))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) isSelf(r *http.Request, username string) bool {
	p, ok := guard.PrincipalFrom(r.Context())
	return ok && p.Username == username
}

func (h *Handler) adminAudit(r *http.Request, action, target string) {
	p, _ := guard.PrincipalFrom(r.Context())
	h.auditAdmin(r.Context(), action, p.Username, target, clientIP(r, h.cfg.TrustProxy), clientDescriptor(r))
}

func (h *Handler) writePresenceError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, presence.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, presence.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "account not found")
	case errors.Is(err, presence.ErrExists):
		writeError(w, http.StatusConflict, "already_exists", "account already exists")
	case errors.Is(err, presence.ErrDisabled):
		writeError(w, http.StatusConflict, "account_disabled", "account is disabled")
	default:
		h.log.Error(op+".fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
	}
}
