package token

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// MinSecretBytes is the minimum length of the shared revocation secret.
const MinSecretBytes = 32

// Config controls both codecs.
type Config struct {
	// Issuer is set as "iss" on handles and revocation tokens.
	Issuer string `toml:"issuer"`

	// HandleTTL bounds the lifetime of a session handle.
	HandleTTL time.Duration `toml:"handle_ttl"`

	// ClockSkew is tolerated when validating handle time claims.
	ClockSkew time.Duration `toml:"clock_skew"`

	// PasetoV4SecretKeyHex is the hex Ed25519 secret key for handles.
	PasetoV4SecretKeyHex string `toml:"paseto_v4_secret_key_hex"`

	// RevocationSecret is the HS256 key shared with the partner service.
	RevocationSecret string `toml:"revocation_secret"`
}

// DefaultConfig returns defaults suitable for development. Keys are left empty.
func DefaultConfig() Config {
	return Config{
		Issuer:    "vigil",
		HandleTTL: 12 * time.Hour,
		ClockSkew: 30 * time.Second,
	}
}

// LoadConfigFromEnv overlays environment variables on base and validates
// the result. Returns an error wrapping ErrConfig for malformed or missing values.
func LoadConfigFromEnv(base Config) (Config, error) {
	cfg, err := OverlayEnv(base)
	if err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// OverlayEnv overlays environment variables on base without requiring keys.
// Malformed values still fail.
func OverlayEnv(base Config) (Config, error) {
	cfg := base

	if v := strings.TrimSpace(os.Getenv("VIGIL_AUTH_ISSUER")); v != "" {
		cfg.Issuer = v
	}
	for _, d := range []struct {
		key string
		dst *time.Duration
		min time.Duration
	}{
		{"VIGIL_AUTH_HANDLE_TTL", &cfg.HandleTTL, time.Minute},
		{"VIGIL_AUTH_CLOCK_SKEW", &cfg.ClockSkew, 0},
	} {
		v := strings.TrimSpace(os.Getenv(d.key))
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil || parsed < d.min {
			return Config{}, fmt.Errorf("%w: %s", ErrConfig, d.key)
		}
		*d.dst = parsed
	}
	if v := strings.TrimSpace(os.Getenv("VIGIL_PASETO_V4_SECRET_KEY_HEX")); v != "" {
		cfg.PasetoV4SecretKeyHex = v
	}
	if v := strings.TrimSpace(os.Getenv("VIGIL_PARTNER_TOKEN_SECRET")); v != "" {
		cfg.RevocationSecret = v
	}
	return cfg, nil
}

// Validate checks required keys and bounds.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Issuer) == "" {
		return fmt.Errorf("%w: empty issuer", ErrConfig)
	}
	if c.HandleTTL <= 0 {
		return fmt.Errorf("%w: handle ttl must be positive", ErrConfig)
	}
	if c.ClockSkew < 0 {
		return fmt.Errorf("%w: negative clock skew", ErrConfig)
	}
	if c.PasetoV4SecretKeyHex == "" {
		return fmt.Errorf("%w: VIGIL_PASETO_V4_SECRET_KEY_HEX is required", ErrConfig)
	}
	if c.RevocationSecret == "" {
		return fmt.Errorf("%w: VIGIL_PARTNER_TOKEN_SECRET is required", ErrConfig)
	}
	if len(c.RevocationSecret) < MinSecretBytes {
		return ErrSecretTooShort
	}
	return nil
}
