package partner

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config controls outbound notifications.
type Config struct {
	// LogoutURL is the partner endpoint. Empty disables notifications.
	LogoutURL string `toml:"logout_url"`

	// Method is GET (query parameters) or POST (form body).
	Method string `toml:"method"`

	// Timeout bounds one notification end to end.
	Timeout time.Duration `toml:"timeout"`

	// MaxInFlight bounds concurrent notifications; extra ones are dropped.
	MaxInFlight int `toml:"max_in_flight"`
}

// DefaultConfig returns the defaults (disabled, GET, 10s).
func DefaultConfig() Config {
	return Config{
		Method:      http.MethodGet,
		Timeout:     10 * time.Second,
		MaxInFlight: 64,
	}
}

// Enabled reports whether a partner endpoint is configured.
func (c Config) Enabled() bool { return strings.TrimSpace(c.LogoutURL) != "" }

// LoadConfigFromEnv overlays VIGIL_PARTNER_* variables on base.
func LoadConfigFromEnv(base Config) (Config, error) {
	cfg := base
	if v, ok := os.LookupEnv("VIGIL_PARTNER_LOGOUT_URL"); ok {
		cfg.LogoutURL = strings.TrimSpace(v)
	}
	if v := strings.TrimSpace(os.Getenv("VIGIL_PARTNER_METHOD")); v != "" {
		cfg.Method = v
	}
	if v := strings.TrimSpace(os.Getenv("VIGIL_PARTNER_TIMEOUT")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("VIGIL_PARTNER_TIMEOUT: %w", err)
		}
		cfg.Timeout = d
	}
	if v := strings.TrimSpace(os.Getenv("VIGIL_PARTNER_MAX_IN_FLIGHT")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("VIGIL_PARTNER_MAX_IN_FLIGHT: %w", err)
		}
		cfg.MaxInFlight = n
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate normalizes Method and checks bounds.
func (c *Config) Validate() error {
	c.Method = strings.ToUpper(strings.TrimSpace(c.Method))
	if c.Method == "" {
		c.Method = http.MethodGet
	}
	if c.Method != http.MethodGet && c.Method != http.MethodPost {
		return fmt.Errorf("partner: method must be GET or POST, got %q", c.Method)
	}
	if c.Timeout <= 0 || c.Timeout > 2*time.Minute {
		return fmt.Errorf("partner: timeout out of range (0, 2m]")
	}
	if c.MaxInFlight <= 0 {
		return fmt.Errorf("partner: max_in_flight must be positive")
	}
	if c.Enabled() {
		u, err := url.Parse(c.LogoutURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("partner: invalid logout url")
		}
	}
	return nil
}
