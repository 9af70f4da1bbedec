package password

import "testing"

const benchCredential = "correct horse battery staple 42"

// BenchmarkHasher_Login measures what one successful login costs the
// presence controller: a verify plus the rehash check.
func BenchmarkHasher_Login(b *testing.B) {
	h := NewHasher(DefaultConfig())
	enc, err := h.Hash(benchCredential)
	if err != nil {
		b.Fatalf("hash: %v", err)
	}

	for b.Loop() {
		ok, err := h.Verify(benchCredential, enc)
		if err != nil || !ok {
			b.Fatalf("verify: ok=%v err=%v", ok, err)
		}
		if h.NeedsRehash(enc) {
			b.Fatalf("fresh hash reported as outdated")
		}
	}
}

// BenchmarkHasher_Equalize should track BenchmarkHasher_Login closely, or
// unknown usernames become distinguishable by timing.
func BenchmarkHasher_Equalize(b *testing.B) {
	h := NewHasher(DefaultConfig())
	h.Equalize("warm-up")

	for b.Loop() {
		h.Equalize(benchCredential)
	}
}
