package authapi

import (
	"errors"
	"net/http"
	"strings"

	"vigil/cmd/account"
	"vigil/cmd/internal/auth/presence"
)

// handlePartnerLogout lets the partner system end a session it was told
// about. The revocation token names both the account and the session, so a
// token for an earlier session cannot end a newer one.
func (h *Handler) handlePartnerLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ip := clientIP(r, h.cfg.TrustProxy)

	var req partnerLogoutRequest
	if isJSONRequest(r) {
		if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, partnerStatus{Status: "error", Message: "invalid request body"})
			return
		}
	} else {
		r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxBodyBytes)
		if err := r.ParseForm(); err != nil {
			writeJSON(w, http.StatusBadRequest, partnerStatus{Status: "error", Message: "invalid request body"})
			return
		}
		req.RevocationToken = r.PostFormValue("revocation_token")
		req.Username = r.PostFormValue("username")
	}

	claims, err := h.revocations.Verify(strings.TrimSpace(req.RevocationToken))
	if err != nil {
		h.log.Info("partner.logout.reject", "ip", ipString(ip), "err", err)
		writeJSON(w, http.StatusUnauthorized, partnerStatus{Status: "error", Message: "invalid revocation token"})
		return
	}
	if u := account.NormalizeUsername(req.Username); u != "" && u != claims.Subject {
		h.log.Info("partner.logout.reject", "ip", ipString(ip), "reason", "username_mismatch")
		writeJSON(w, http.StatusUnauthorized, partnerStatus{Status: "error", Message: "invalid revocation token"})
		return
	}

	ended, err := h.presence.LogoutFromPartner(ctx, claims.Subject, claims.SessionID)
	if errors.Is(err, presence.ErrInvalidInput) {
		h.log.Info("partner.logout.reject", "ip", ipString(ip), "reason", "malformed_session")
		writeJSON(w, http.StatusUnauthorized, partnerStatus{Status: "error", Message: "invalid revocation token"})
		return
	}
	if err != nil && !errors.Is(err, presence.ErrNotFound) {
		h.log.Error("partner.logout.fail", "username", claims.Subject, "err", err)
		writeJSON(w, http.StatusInternalServerError, partnerStatus{Status: "error", Message: "internal error"})
		return
	}
	h.auditPartnerLogout(ctx, claims.Subject, claims.SessionID, ip, ended)
	writeJSON(w, http.StatusOK, partnerStatus{Status: "success", Ended: &ended})
}
