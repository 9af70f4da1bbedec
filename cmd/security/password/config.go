package password

import (
	"fmt"
	"math"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// Argon2idParams controls Argon2id hashing cost.
// MemoryKiB is in KiB as required by argon2.IDKey.
type Argon2idParams struct {
	MemoryKiB   uint32 `toml:"memory_kib"`
	Iterations  uint32 `toml:"iterations"`
	Parallelism uint8  `toml:"parallelism"`
	SaltLength  uint32 `toml:"salt_len"`
	KeyLength   uint32 `toml:"key_len"`
}

// Policy controls credential validation and anti-DoS boundaries.
type Policy struct {
	MinLength      int  `toml:"min_len"`
	MaxLength      int  `toml:"max_len"`
	RejectVeryWeak bool `toml:"reject_very_weak"`
}

// Config is the single configuration surface for this package.
type Config struct {
	Params Argon2idParams `toml:"argon2"`
	Policy Policy         `toml:"policy"`
}

// DefaultConfig returns the production baseline.
func DefaultConfig() Config {
	// Clamp to [1..4] to keep resource usage predictable in containers.
	threads := runtime.NumCPU()
	if threads <= 0 {
		threads = 1
	}
	if threads > 4 {
		threads = 4
	}

	return Config{
		Params: Argon2idParams{
			MemoryKiB:   64 * 1024,
			Iterations:  3,
			Parallelism: uint8(threads), // #nosec G115 -- clamped to [1..4] above.
			SaltLength:  16,
			KeyLength:   32,
		},
		Policy: Policy{
			MinLength:      8,
			MaxLength:      256,
			RejectVeryWeak: true,
		},
	}
}

// FastConfig returns the cheapest parameters Verify still accepts.
// Meant for tests and local development only.
func FastConfig() Config {
	cfg := DefaultConfig()
	cfg.Params.MemoryKiB = 8 * 1024
	cfg.Params.Iterations = 1
	cfg.Params.Parallelism = 1
	return cfg
}

// FromEnv overlays environment variables on base.
//
// Env surface:
//   - VIGIL_PASSWORD_MIN_LEN, VIGIL_PASSWORD_MAX_LEN
//   - VIGIL_PASSWORD_REJECT_VERY_WEAK (true/false)
//   - VIGIL_ARGON2_MEMORY_KIB, VIGIL_ARGON2_ITERATIONS, VIGIL_ARGON2_PARALLELISM
//   - VIGIL_ARGON2_SALT_LEN, VIGIL_ARGON2_KEY_LEN
func FromEnv(base Config) (Config, error) {
	cfg := base

	ints := []struct {
		key      string
		min, max int
		set      func(int)
	}{
		{"VIGIL_PASSWORD_MIN_LEN", 1, 1024, func(n int) { cfg.Policy.MinLength = n }},
		{"VIGIL_PASSWORD_MAX_LEN", 1, 4096, func(n int) { cfg.Policy.MaxLength = n }},
	}
	for _, f := range ints {
		if v, ok := os.LookupEnv(f.key); ok {
			n, err := atoiPositiveInt(v, f.min, f.max)
			if err != nil {
				return Config{}, fmt.Errorf("%s: %w", f.key, err)
			}
			f.set(n)
		}
	}

	if v, ok := os.LookupEnv("VIGIL_PASSWORD_REJECT_VERY_WEAK"); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return Config{}, fmt.Errorf("VIGIL_PASSWORD_REJECT_VERY_WEAK: %w", err)
		}
		cfg.Policy.RejectVeryWeak = b
	}

	u32s := []struct {
		key      string
		min, max uint32
		dst      *uint32
	}{
		{"VIGIL_ARGON2_MEMORY_KIB", 8 * 1024, 1024 * 1024, &cfg.Params.MemoryKiB},
		{"VIGIL_ARGON2_ITERATIONS", 1, 20, &cfg.Params.Iterations},
		{"VIGIL_ARGON2_SALT_LEN", 8, 64, &cfg.Params.SaltLength},
		{"VIGIL_ARGON2_KEY_LEN", 16, 64, &cfg.Params.KeyLength},
	}
	for _, f := range u32s {
		if v, ok := os.LookupEnv(f.key); ok {
			u, err := atou32(v, f.min, f.max)
			if err != nil {
				return Config{}, fmt.Errorf("%s: %w", f.key, err)
			}
			*f.dst = u
		}
	}

	if v, ok := os.LookupEnv("VIGIL_ARGON2_PARALLELISM"); ok {
		u, err := atou32(v, 1, math.MaxUint8)
		if err != nil {
			return Config{}, fmt.Errorf("VIGIL_ARGON2_PARALLELISM: %w", err)
		}
		cfg.Params.Parallelism = uint8(u) // #nosec G115 -- bounded above.
	}

	return cfg, cfg.Check()
}

// Check validates the final configuration.
func (c Config) Check() error {
	if c.Policy.MinLength > c.Policy.MaxLength {
		return fmt.Errorf(
			"password policy invalid: min_len(%d) > max_len(%d)",
			c.Policy.MinLength,
			c.Policy.MaxLength,
		)
	}
	if c.Params.MemoryKiB == 0 || c.Params.Iterations == 0 || c.Params.Parallelism == 0 {
		return fmt.Errorf("argon2 params must be positive")
	}
	if c.Params.SaltLength < 8 || c.Params.KeyLength < 16 {
		return fmt.Errorf("argon2 salt/key too short")
	}
	return nil
}

func atoiPositiveInt(s string, minVal, maxVal int) (int, error) {
	i64, err := strconv.ParseInt(strings.TrimSpace(s), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("not an integer")
	}
	i := int(i64)
	if i < minVal || i > maxVal {
		return 0, fmt.Errorf("out of range [%d..%d]", minVal, maxVal)
	}
	return i, nil
}

func atou32(s string, minVal, maxVal uint32) (uint32, error) {
	u64, err := strconv.ParseUint(strings.TrimSpace(s), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("not an unsigned integer")
	}
	u := uint32(u64)
	if u < minVal || u > maxVal {
		return 0, fmt.Errorf("out of range [%d..%d]", minVal, maxVal)
	}
	return u, nil
}
