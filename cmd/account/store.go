package account

import (
	"context"
	"time"
)

// Presence is the authoritative session slot of an account.
// An empty SessionID means logged out.
type Presence struct {
	SessionID string
}

// LoggedIn reports whether a session currently owns the account.
func (p Presence) LoggedIn() bool { return p.SessionID != "" }

// Account is the unit of identity.
type Account struct {
	Username       string
	CredentialHash string
	Enabled        bool
	Admin          bool

	Presence Presence

	LastLoginAt      *time.Time
	LastKnownAddress string

	// Version increases on every write and guards presence compare-and-set.
	Version int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// CreateInput describes a new account. CredentialHash must already be hashed.
type CreateInput struct {
	Username       string
	CredentialHash string
	Enabled        bool
	Admin          bool
	Now            time.Time
}

// PresenceUpdate replaces the presence slot of an account.
// LastLoginAt and LastKnownAddress are only written when LastLoginAt is set.
type PresenceUpdate struct {
	SessionID        string
	LastLoginAt      *time.Time
	LastKnownAddress string
	Now              time.Time
}

// Store is the account persistence boundary.
type Store interface {
	Create(ctx context.Context, in CreateInput) (Account, error)
	GetByUsername(ctx context.Context, username string) (Account, error)
	List(ctx context.Context) ([]Account, error)
	Count(ctx context.Context) (int, error)

	// UpdatePresence writes the presence slot only if the stored Version equals
	// expectVersion. A lost race returns ConflictError{Field: "version"}.
	UpdatePresence(ctx context.Context, username string, expectVersion int64, upd PresenceUpdate) (Account, error)

	// SetEnabled flips the enabled flag and bumps Version.
	SetEnabled(ctx context.Context, username string, enabled bool, now time.Time) (Account, error)

	// SetCredential replaces the stored credential hash and bumps Version.
	SetCredential(ctx context.Context, username, credentialHash string, now time.Time) (Account, error)

	Delete(ctx context.Context, username string) error
}

func checkCreate(op string, in *CreateInput) error {
	in.Username = NormalizeUsername(in.Username)
	if !ValidUsername(in.Username) {
		return invalid(op, "invalid username")
	}
	if in.CredentialHash == "" {
		return invalid(op, "credential hash is required")
	}
	if in.Now.IsZero() {
		in.Now = time.Now().UTC()
	}
	return nil
}

func applyPresence(a *Account, upd PresenceUpdate) {
	a.Presence = Presence{SessionID: upd.SessionID}
	if upd.LastLoginAt != nil {
		t := upd.LastLoginAt.UTC()
		a.LastLoginAt = &t
		a.LastKnownAddress = upd.LastKnownAddress
	}
	a.Version++
	a.UpdatedAt = upd.Now
}

func nowOr(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}
