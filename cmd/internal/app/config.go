package app

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	authapi "vigil/cmd/internal/auth/api"
	"vigil/cmd/internal/auth/presence"
	"vigil/cmd/internal/partner"
	"vigil/cmd/internal/realtime"
	"vigil/cmd/security/password"
	"vigil/cmd/security/token"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StoreBolt     = "bolt"
	StorePostgres = "postgres"
)

// Config contains all runtime configuration.
//
// Values are layered: defaults, then the optional TOML file, then VIGIL_*
// environment variables, then command line flags.
type Config struct {
	HTTPAddr  string `toml:"http_addr"`
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`

	ReadHeaderTimeout time.Duration `toml:"read_header_timeout"`
	ReadTimeout       time.Duration `toml:"read_timeout"`
	WriteTimeout      time.Duration `toml:"write_timeout"`
	IdleTimeout       time.Duration `toml:"idle_timeout"`
	MaxHeaderBytes    int           `toml:"max_header_bytes"`
	ShutdownTimeout   time.Duration `toml:"shutdown_timeout"`

	// Store selects the backend. Empty means postgres when DatabaseURL is
	// set and memory otherwise.
	Store    string `toml:"store"`
	BoltPath string `toml:"bolt_path"`

	DatabaseURL string `toml:"database_url"`
	DBMaxConns  int32  `toml:"db_max_conns"`
	DBMinConns  int32  `toml:"db_min_conns"`
	AutoMigrate bool   `toml:"auto_migrate"`

	// If true, /readyz returns 503 unless a durable store is configured and reachable.
	ReadinessRequireDB bool `toml:"readiness_require_db"`

	Bootstrap BootstrapConfig `toml:"bootstrap"`

	Presence presence.Config        `toml:"presence"`
	Auth     authapi.Config         `toml:"auth"`
	Token    token.Config           `toml:"token"`
	Password password.Config        `toml:"password"`
	Partner  partner.Config         `toml:"partner"`
	Feed     realtime.GatewayConfig `toml:"feed"`
}

// BootstrapConfig names an admin account created at startup if missing.
type BootstrapConfig struct {
	AdminUser     string `toml:"admin_user"`
	AdminPassword string `toml:"admin_password"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:  "0.0.0.0:8080",
		LogLevel:  "info",
		LogFormat: "json",

		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
		ShutdownTimeout:   10 * time.Second,

		BoltPath:    "vigil.db",
		DBMaxConns:  10,
		AutoMigrate: true,

		Presence: presence.DefaultConfig(),
		Auth:     authapi.DefaultConfig(),
		Token:    token.DefaultConfig(),
		Password: password.DefaultConfig(),
		Partner:  partner.DefaultConfig(),
		Feed:     realtime.DefaultGatewayConfig(),
	}
}

// LoadConfig builds a Config from defaults, the TOML file at path (or
// VIGIL_CONFIG when path is empty) and the environment.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = EnvString("VIGIL_CONFIG", "")
	}
	if path != "" {
		if err := decodeConfigFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decodeConfigFile(path string, cfg *Config) error {
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("config: %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		sort.Strings(keys)
		return fmt.Errorf("config: %s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	return nil
}

func applyEnv(cfg *Config) error {
	cfg.HTTPAddr = EnvString("VIGIL_HTTP_ADDR", cfg.HTTPAddr)
	cfg.LogLevel = EnvString("VIGIL_LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = EnvString("VIGIL_LOG_FORMAT", cfg.LogFormat)

	cfg.ReadHeaderTimeout = EnvDuration("VIGIL_HTTP_READ_HEADER_TIMEOUT", cfg.ReadHeaderTimeout)
	cfg.ReadTimeout = EnvDuration("VIGIL_HTTP_READ_TIMEOUT", cfg.ReadTimeout)
	cfg.WriteTimeout = EnvDuration("VIGIL_HTTP_WRITE_TIMEOUT", cfg.WriteTimeout)
	cfg.IdleTimeout = EnvDuration("VIGIL_HTTP_IDLE_TIMEOUT", cfg.IdleTimeout)
	cfg.MaxHeaderBytes = EnvInt("VIGIL_HTTP_MAX_HEADER_BYTES", cfg.MaxHeaderBytes)
	cfg.ShutdownTimeout = EnvDuration("VIGIL_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)

	cfg.Store = EnvString("VIGIL_STORE", cfg.Store)
	cfg.BoltPath = EnvString("VIGIL_BOLT_PATH", cfg.BoltPath)
	cfg.DatabaseURL = EnvString("VIGIL_DATABASE_URL", cfg.DatabaseURL)
	cfg.DBMaxConns = EnvInt32("VIGIL_DB_MAX_CONNS", cfg.DBMaxConns)
	cfg.DBMinConns = EnvInt32("VIGIL_DB_MIN_CONNS", cfg.DBMinConns)
	cfg.AutoMigrate = EnvBool("VIGIL_AUTO_MIGRATE", cfg.AutoMigrate)
	cfg.ReadinessRequireDB = EnvBool("VIGIL_READINESS_REQUIRE_DB", cfg.ReadinessRequireDB)

	cfg.Bootstrap.AdminUser = EnvString("VIGIL_BOOTSTRAP_ADMIN_USER", cfg.Bootstrap.AdminUser)
	cfg.Bootstrap.AdminPassword = EnvString("VIGIL_BOOTSTRAP_ADMIN_PASSWORD", cfg.Bootstrap.AdminPassword)

	cfg.Presence.SessionTTL = EnvDuration("VIGIL_SESSION_TTL", cfg.Presence.SessionTTL)
	cfg.Presence.OrphanGrace = EnvDuration("VIGIL_ORPHAN_GRACE", cfg.Presence.OrphanGrace)
	cfg.Presence.ReapInterval = EnvDuration("VIGIL_REAP_INTERVAL", cfg.Presence.ReapInterval)

	cfg.Auth = authapi.LoadConfigFromEnv(cfg.Auth)
	cfg.Feed = realtime.LoadGatewayConfigFromEnv(cfg.Feed)

	var err error
	if cfg.Token, err = token.OverlayEnv(cfg.Token); err != nil {
		return err
	}
	if cfg.Password, err = password.FromEnv(cfg.Password); err != nil {
		return err
	}
	if cfg.Partner, err = partner.LoadConfigFromEnv(cfg.Partner); err != nil {
		return err
	}
	return nil
}

// StoreKind resolves the effective backend name.
func (c Config) StoreKind() (string, error) {
	kind := strings.ToLower(strings.TrimSpace(c.Store))
	if kind == "" {
		if c.DatabaseURL != "" {
			return StorePostgres, nil
		}
		return StoreMemory, nil
	}
	switch kind {
	case StoreMemory, StoreBolt, StorePostgres:
		return kind, nil
	default:
		return "", fmt.Errorf("config: unknown store %q (want memory, bolt or postgres)", c.Store)
	}
}
