package authapi

import (
	"context"
	"log/slog"
	"net"
	"strings"
)

// Audit lines go to the structured log under the "audit" group. The session
// ledger already records every session, so no separate audit table exists.

func (h *Handler) auditLoginFailed(ctx context.Context, surface, username string, ip net.IP, ua, reason string) {
	h.audit(ctx, "auth.login.failed", username, "", ip, ua, slog.String("surface", surface), slog.String("reason", reason))
}

func (h *Handler) auditLoginSuccess(ctx context.Context, surface, username, sessionID string, ip net.IP, ua string) {
	h.audit(ctx, "auth.login.success", username, sessionID, ip, ua, slog.String("surface", surface))
}

func (h *Handler) auditLoginRateLimited(ctx context.Context, surface string, ip net.IP, ua string) {
	h.audit(ctx, "auth.login.rate_limited", "", "", ip, ua, slog.String("surface", surface))
}

func (h *Handler) auditLogout(ctx context.Context, surface, username, sessionID string, ip net.IP, ua string) {
	h.audit(ctx, "auth.logout", username, sessionID, ip, ua, slog.String("surface", surface))
}

func (h *Handler) auditAdmin(ctx context.Context, action, actor, target string, ip net.IP, ua string) {
	h.audit(ctx, "admin."+action, target, "", ip, ua, slog.String("actor", actor))
}

func (h *Handler) auditPartnerLogout(ctx context.Context, username, sessionID string, ip net.IP, ended bool) {
	h.audit(ctx, "partner.logout", username, sessionID, ip, "", slog.Bool("ended", ended))
}

func (h *Handler) audit(ctx context.Context, action, username, sessionID string, ip net.IP, ua string, extra ...slog.Attr) {
	if h == nil || h.log == nil {
		return
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return
	}

	attrs := []slog.Attr{slog.String("action", action)}
	if username != "" {
		attrs = append(attrs, slog.String("username", username))
	}
	if sessionID != "" {
		attrs = append(attrs, slog.String("session_id", sessionID))
	}
	if ip != nil {
		attrs = append(attrs, slog.String("ip", ip.String()))
	}
	if ua = strings.TrimSpace(ua); ua != "" {
		attrs = append(attrs, slog.String("user_agent", ua))
	}
	attrs = append(attrs, extra...)

	h.log.LogAttrs(ctx, slog.LevelInfo, "audit", slog.Attr{Key: "audit", Value: slog.GroupValue(attrs...)})
}
