package password

import "sync"

// Hasher binds a Config to the credential-verification contract used by the
// presence controller.
type Hasher struct {
	cfg Config

	dummyOnce sync.Once
	dummyHash string
}

// NewHasher returns a Hasher for cfg.
func NewHasher(cfg Config) *Hasher {
	return &Hasher{cfg: cfg}
}

// Hash validates policy and hashes credential.
func (h *Hasher) Hash(credential string) (string, error) {
	return h.cfg.Hash(credential)
}

// Verify reports whether credential matches encodedHash.
func (h *Hasher) Verify(credential, encodedHash string) (bool, error) {
	return h.cfg.Verify(encodedHash, credential)
}

// Equalize burns one verification worth of CPU against a fixed hash.
// Call it on paths that reject before any real verify happens.
func (h *Hasher) Equalize(credential string) {
	h.dummyOnce.Do(func() {
		p := h.cfg
		p.Policy.RejectVeryWeak = false
		p.Policy.MinLength = 1
		h.dummyHash, _ = p.Hash("vigil-timing-equalizer")
	})
	if h.dummyHash != "" {
		_, _ = h.cfg.Verify(h.dummyHash, credential)
	}
}

// NeedsRehash reports whether encodedHash was produced with weaker parameters
// than the current configuration.
func (h *Hasher) NeedsRehash(encodedHash string) bool {
	got, _, _, err := decode(encodedHash)
	if err != nil {
		return true
	}
	want := h.cfg.Params
	return got.MemoryKiB < want.MemoryKiB ||
		got.Iterations < want.Iterations ||
		got.KeyLength < want.KeyLength
}
