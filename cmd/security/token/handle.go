package token

import (
	"time"

	paseto "aidanwoods.dev/go-paseto"
)

// HandleClaims is the identity envelope carried by a session handle.
type HandleClaims struct {
	Username  string
	SessionID string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// HandleCodec issues and verifies PASETO v4.public session handles.
type HandleCodec struct {
	issuer    string
	ttl       time.Duration
	clockSkew time.Duration

	secret paseto.V4AsymmetricSecretKey
	public paseto.V4AsymmetricPublicKey
}

// NewHandleCodec builds a HandleCodec from cfg.
func NewHandleCodec(cfg Config) (*HandleCodec, error) {
	secret, err := paseto.NewV4AsymmetricSecretKeyFromHex(cfg.PasetoV4SecretKeyHex)
	if err != nil {
		return nil, ErrConfig
	}
	if cfg.HandleTTL <= 0 {
		return nil, ErrConfig
	}
	return &HandleCodec{
		issuer:    cfg.Issuer,
		ttl:       cfg.HandleTTL,
		clockSkew: cfg.ClockSkew,
		secret:    secret,
		public:    secret.Public(),
	}, nil
}

// TTL returns the configured handle lifetime.
func (c *HandleCodec) TTL() time.Duration { return c.ttl }

// PublicKeyHex exports the verification key.
func (c *HandleCodec) PublicKeyHex() string { return c.public.ExportHex() }

// Issue signs a handle for (username, sessionID).
func (c *HandleCodec) Issue(username, sessionID string, now time.Time) (string, time.Time, error) {
	if username == "" || sessionID == "" {
		return "", time.Time{}, ErrInvalidHandle
	}
	exp := now.Add(c.ttl)

	tok := paseto.NewToken()
	tok.SetIssuer(c.issuer)
	tok.SetSubject(username)
	tok.SetIssuedAt(now)
	tok.SetNotBefore(now)
	tok.SetExpiration(exp)
	_ = tok.Set("sid", sessionID)

	return tok.V4Sign(c.secret, nil), exp, nil
}

// Verify checks signature, issuer and time claims.
func (c *HandleCodec) Verify(handle string, now time.Time) (HandleClaims, error) {
	if handle == "" || len(handle) > 4096 {
		return HandleClaims{}, ErrInvalidHandle
	}

	// Fresh parser per call so rules do not accumulate. Expiry is checked
	// against the caller's clock by ValidAt, not the wall clock.
	p := paseto.NewParserWithoutExpiryCheck()
	p.AddRule(paseto.IssuedBy(c.issuer))
	p.AddRule(paseto.ValidAt(now.Add(c.clockSkew)))

	parsed, err := p.ParseV4Public(c.public, handle, nil)
	if err != nil {
		return HandleClaims{}, ErrInvalidHandle
	}

	sub, err := parsed.GetSubject()
	if err != nil || sub == "" {
		return HandleClaims{}, ErrInvalidHandle
	}
	sid, err := parsed.GetString("sid")
	if err != nil || sid == "" {
		return HandleClaims{}, ErrInvalidHandle
	}
	iat, _ := parsed.GetIssuedAt()
	exp, _ := parsed.GetExpiration()

	return HandleClaims{
		Username:  sub,
		SessionID: sid,
		IssuedAt:  iat,
		ExpiresAt: exp,
	}, nil
}
