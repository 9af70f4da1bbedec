package authapi

import (
	"net/http"
	"testing"
	"time"
)

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("VIGIL_AUTH_TRUST_PROXY", "true")
	t.Setenv("VIGIL_AUTH_MAX_BODY_BYTES", "-5")
	t.Setenv("VIGIL_AUTH_LOGIN_IP_MAX", "7")
	t.Setenv("VIGIL_AUTH_LOGIN_WINDOW", "90s")
	t.Setenv("VIGIL_AUTH_APP_COOKIE", "companion")
	t.Setenv("VIGIL_AUTH_COOKIE_SECURE", "nope")

	cfg := LoadConfigFromEnv(DefaultConfig())
	if !cfg.TrustProxy {
		t.Fatalf("expected TrustProxy")
	}
	if cfg.MaxBodyBytes != 1<<20 {
		t.Fatalf("expected default body limit, got %d", cfg.MaxBodyBytes)
	}
	if cfg.LoginIPMax != 7 || cfg.LoginWindow != 90*time.Second {
		t.Fatalf("unexpected login limits: %d per %v", cfg.LoginIPMax, cfg.LoginWindow)
	}
	if cfg.AppCookieName != "companion" || cfg.PanelCookieName != "vigil_panel_session" {
		t.Fatalf("unexpected cookie names: %q %q", cfg.AppCookieName, cfg.PanelCookieName)
	}
	if !cfg.CookieSecure {
		t.Fatalf("invalid bool must keep the secure default")
	}
}

func TestSurfaceCookies(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CookieDomain = "example.com"

	app, panel := cfg.appCookie(), cfg.panelCookie()
	if app.Path != "/app" || panel.Path != "/panel" {
		t.Fatalf("unexpected paths: %q %q", app.Path, panel.Path)
	}
	if panel.SameSite != http.SameSiteStrictMode {
		t.Fatalf("panel cookie must be SameSite=Strict")
	}
	if app.Domain != "example.com" || !app.Secure {
		t.Fatalf("unexpected app cookie: %+v", app)
	}
}
