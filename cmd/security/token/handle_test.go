package token

import (
	"testing"
	"time"

	paseto "aidanwoods.dev/go-paseto"
)

func TestHandleCodec_RoundTrip(t *testing.T) {
	c, err := NewHandleCodec(testConfig(t))
	if err != nil {
		t.Fatalf("NewHandleCodec: %v", err)
	}
	now := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

	h, exp, err := c.Issue("alice", "01J0000000000000000000000A", now)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if !exp.Equal(now.Add(c.TTL())) {
		t.Fatalf("exp mismatch: %v", exp)
	}

	claims, err := c.Verify(h, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Username != "alice" || claims.SessionID != "01J0000000000000000000000A" {
		t.Fatalf("claims mismatch: %+v", claims)
	}
}

func TestHandleCodec_Rejects(t *testing.T) {
	cfg := testConfig(t)
	c, err := NewHandleCodec(cfg)
	if err != nil {
		t.Fatalf("NewHandleCodec: %v", err)
	}
	now := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	h, _, err := c.Issue("alice", "S1", now)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	other := cfg
	other.PasetoV4SecretKeyHex = paseto.NewV4AsymmetricSecretKey().ExportHex()
	foreign, err := NewHandleCodec(other)
	if err != nil {
		t.Fatalf("NewHandleCodec: %v", err)
	}

	otherIssuer := cfg
	otherIssuer.Issuer = "someone-else"
	wrongIss, err := NewHandleCodec(otherIssuer)
	if err != nil {
		t.Fatalf("NewHandleCodec: %v", err)
	}

	cases := []struct {
		name  string
		codec *HandleCodec
		tok   string
		at    time.Time
	}{
		{"expired", c, h, now.Add(cfg.HandleTTL + time.Hour)},
		{"foreign key", foreign, h, now},
		{"wrong issuer", wrongIss, h, now},
		{"garbage", c, "v4.public.garbage", now},
		{"empty", c, "", now},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := tc.codec.Verify(tc.tok, tc.at); err != ErrInvalidHandle {
				t.Fatalf("expected ErrInvalidHandle, got %v", err)
			}
		})
	}
}

func TestNewHandleCodec_BadKey(t *testing.T) {
	cfg := testConfig(t)
	cfg.PasetoV4SecretKeyHex = "zz"
	if _, err := NewHandleCodec(cfg); err != ErrConfig {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}
