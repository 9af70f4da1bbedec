package authapi

import (
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"vigil/cmd/internal/auth/guard"
)

// Config controls the HTTP surfaces and their security defaults.
type Config struct {
	TrustProxy   bool  `toml:"trust_proxy"`
	MaxBodyBytes int64 `toml:"max_body_bytes"`

	// Login attempts allowed per client address within LoginWindow.
	LoginIPMax  int           `toml:"login_ip_max"`
	LoginWindow time.Duration `toml:"login_window"`

	AppCookieName   string `toml:"app_cookie"`
	PanelCookieName string `toml:"panel_cookie"`
	CookieDomain    string `toml:"cookie_domain"`
	CookieSecure    bool   `toml:"cookie_secure"`

	HistoryLimit int `toml:"history_limit"`
}

// DefaultConfig returns safe defaults.
func DefaultConfig() Config {
	return Config{
		TrustProxy:      false,
		MaxBodyBytes:    1 << 20, // 1 MiB
		LoginIPMax:      20,
		LoginWindow:     5 * time.Minute,
		AppCookieName:   "vigil_app_session",
		PanelCookieName: "vigil_panel_session",
		CookieSecure:    true,
		HistoryLimit:    50,
	}
}

// LoadConfigFromEnv overlays VIGIL_AUTH_* variables on base.
func LoadConfigFromEnv(base Config) Config {
	cfg := base
	cfg.TrustProxy = envBool("VIGIL_AUTH_TRUST_PROXY", cfg.TrustProxy)
	cfg.MaxBodyBytes = envInt64("VIGIL_AUTH_MAX_BODY_BYTES", cfg.MaxBodyBytes)
	cfg.LoginIPMax = envInt("VIGIL_AUTH_LOGIN_IP_MAX", cfg.LoginIPMax)
	cfg.LoginWindow = envDuration("VIGIL_AUTH_LOGIN_WINDOW", cfg.LoginWindow)
	cfg.AppCookieName = envString("VIGIL_AUTH_APP_COOKIE", cfg.AppCookieName)
	cfg.PanelCookieName = envString("VIGIL_AUTH_PANEL_COOKIE", cfg.PanelCookieName)
	cfg.CookieDomain = envString("VIGIL_AUTH_COOKIE_DOMAIN", cfg.CookieDomain)
	cfg.CookieSecure = envBool("VIGIL_AUTH_COOKIE_SECURE", cfg.CookieSecure)
	cfg.HistoryLimit = envInt("VIGIL_AUTH_HISTORY_LIMIT", cfg.HistoryLimit)
	return cfg.normalized()
}

func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = d.MaxBodyBytes
	}
	if c.LoginIPMax <= 0 {
		c.LoginIPMax = d.LoginIPMax
	}
	if c.LoginWindow <= 0 {
		c.LoginWindow = d.LoginWindow
	}
	if strings.TrimSpace(c.AppCookieName) == "" {
		c.AppCookieName = d.AppCookieName
	}
	if strings.TrimSpace(c.PanelCookieName) == "" {
		c.PanelCookieName = d.PanelCookieName
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = d.HistoryLimit
	}
	return c
}

func (c Config) appCookie() guard.CookieConfig {
	return guard.CookieConfig{
		Name:     c.AppCookieName,
		Path:     "/app",
		Domain:   c.CookieDomain,
		Secure:   c.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
}

func (c Config) panelCookie() guard.CookieConfig {
	return guard.CookieConfig{
		Name:     c.PanelCookieName,
		Path:     "/panel",
		Domain:   c.CookieDomain,
		Secure:   c.CookieSecure,
		SameSite: http.SameSiteStrictMode,
	}
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envInt64(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
