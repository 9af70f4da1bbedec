// Package token issues and verifies the two bearer artifacts of a session.
//
// The session handle is a PASETO v4.public token carrying the username (sub)
// and the session ID (sid). It only proves that vigil minted the pair; whether
// the session is still authoritative is decided by the presence controller.
//
// The revocation token is an HS256 JWT shared with the partner service. It
// lets the partner (and vigil, inbound) name exactly one session to log out
// without ever exchanging a credential. It is derived deterministically from
// the session record so it never needs to be stored.
//
// Environment:
//   - VIGIL_PASETO_V4_SECRET_KEY_HEX (required)
//   - VIGIL_PARTNER_TOKEN_SECRET (required, >= 32 bytes)
//   - VIGIL_AUTH_ISSUER, VIGIL_AUTH_HANDLE_TTL, VIGIL_AUTH_CLOCK_SKEW
package token
