package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// RevocationScope is the only scope a revocation token may carry.
const RevocationScope = "logout"

// RevocationClaims names one session that may be logged out.
type RevocationClaims struct {
	jwt.RegisteredClaims
	SessionID string `json:"sid"`
	Scope     string `json:"scope"`
}

// RevocationCodec signs and verifies HS256 revocation tokens.
type RevocationCodec struct {
	issuer string
	secret []byte
}

// NewRevocationCodec builds a RevocationCodec from cfg.
func NewRevocationCodec(cfg Config) (*RevocationCodec, error) {
	if cfg.RevocationSecret == "" {
		return nil, ErrConfig
	}
	if len(cfg.RevocationSecret) < MinSecretBytes {
		return nil, ErrSecretTooShort
	}
	return &RevocationCodec{issuer: cfg.Issuer, secret: []byte(cfg.RevocationSecret)}, nil
}

// Issue returns the revocation token for a session. The output depends only
// on its inputs, so it can be re-derived at logout time.
func (c *RevocationCodec) Issue(username, sessionID string, startedAt time.Time) (string, error) {
	if username == "" || sessionID == "" {
		return "", ErrInvalidRevocation
	}
	claims := RevocationClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   c.issuer,
			Subject:  username,
			ID:       sessionID,
			IssuedAt: jwt.NewNumericDate(startedAt.UTC().Truncate(time.Second)),
		},
		SessionID: sessionID,
		Scope:     RevocationScope,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
}

// Verify parses a revocation token and returns its claims.
func (c *RevocationCodec) Verify(tokenString string) (RevocationClaims, error) {
	if tokenString == "" || len(tokenString) > 4096 {
		return RevocationClaims{}, ErrInvalidRevocation
	}

	claims := &RevocationClaims{}
	tok, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(c.issuer),
		jwt.WithIssuedAt(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenMalformed) || errors.Is(err, jwt.ErrTokenSignatureInvalid) {
			return RevocationClaims{}, ErrInvalidRevocation
		}
		return RevocationClaims{}, errors.Join(ErrInvalidRevocation, err)
	}
	if !tok.Valid || claims.Subject == "" || claims.SessionID == "" || claims.Scope != RevocationScope {
		return RevocationClaims{}, ErrInvalidRevocation
	}
	return *claims, nil
}
