package app

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"vigil/cmd/security/token"
)

// ValidateSecurityConfig enforces vigil's security policy at startup.
// Startup fails rather than running with weaker settings.
func ValidateSecurityConfig(cfg Config) error {
	if err := cfg.Token.Validate(); err != nil {
		switch {
		case errors.Is(err, token.ErrSecretTooShort):
			return fmt.Errorf("security policy: VIGIL_PARTNER_TOKEN_SECRET is too short (min %d bytes)", token.MinSecretBytes)
		default:
			return fmt.Errorf("security policy: %w", err)
		}
	}
	if _, err := token.NewHandleCodec(cfg.Token); err != nil {
		return errors.New("security policy: VIGIL_PASETO_V4_SECRET_KEY_HEX is not a valid v4 secret key")
	}
	if strings.EqualFold(cfg.Token.RevocationSecret, cfg.Token.PasetoV4SecretKeyHex) {
		return errors.New("security policy: revocation secret must differ from the handle signing key")
	}

	if cfg.Partner.Enabled() {
		u, err := url.Parse(cfg.Partner.LogoutURL)
		if err != nil {
			return fmt.Errorf("security policy: partner url: %w", err)
		}
		if u.User != nil {
			return errors.New("security policy: partner url must not embed credentials")
		}
	}

	b := cfg.Bootstrap
	if (b.AdminUser == "") != (b.AdminPassword == "") {
		return errors.New("security policy: bootstrap admin needs both VIGIL_BOOTSTRAP_ADMIN_USER and VIGIL_BOOTSTRAP_ADMIN_PASSWORD")
	}
	return nil
}

// securityWarnings lists settings that are allowed but unsafe outside development.
func securityWarnings(cfg Config) []string {
	var out []string
	if !cfg.Auth.CookieSecure {
		out = append(out, "session cookies are not marked Secure")
	}
	if cfg.Feed.DevInsecure {
		out = append(out, "presence feed origin check is disabled")
	}
	if u, err := url.Parse(cfg.Partner.LogoutURL); cfg.Partner.Enabled() && err == nil && u.Scheme == "http" {
		out = append(out, "partner logout url is plain http")
	}
	return out
}
