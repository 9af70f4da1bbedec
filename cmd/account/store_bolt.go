package account

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

var accountsBucket = []byte("accounts")

// BoltStore persists accounts in a bbolt database.
// The database handle is owned by the caller; the store must NOT close it.
type BoltStore struct {
	db *bbolt.DB
}

// NewBoltStore returns a BoltStore and makes sure its bucket exists.
func NewBoltStore(db *bbolt.DB) (*BoltStore, error) {
	if db == nil {
		return nil, fmt.Errorf("account: nil bolt db")
	}
	err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(accountsBucket)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("account: create bucket: %w", err)
	}
	return &BoltStore{db: db}, nil
}

// boltAccount is the on-disk shape; it keeps the JSON stable if Account grows.
type boltAccount struct {
	Username         string     `json:"username"`
	CredentialHash   string     `json:"credential_hash"`
	Enabled          bool       `json:"enabled"`
	Admin            bool       `json:"admin"`
	SessionID        string     `json:"session_id,omitempty"`
	LastLoginAt      *time.Time `json:"last_login_at,omitempty"`
	LastKnownAddress string     `json:"last_known_address,omitempty"`
	Version          int64      `json:"version"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

func toBolt(a Account) boltAccount {
	return boltAccount{
		Username:         a.Username,
		CredentialHash:   a.CredentialHash,
		Enabled:          a.Enabled,
		Admin:            a.Admin,
		SessionID:        a.Presence.SessionID,
		LastLoginAt:      a.LastLoginAt,
		LastKnownAddress: a.LastKnownAddress,
		Version:          a.Version,
		CreatedAt:        a.CreatedAt,
		UpdatedAt:        a.UpdatedAt,
	}
}

func (b boltAccount) account() Account {
	return Account{
		Username:         b.Username,
		CredentialHash:   b.CredentialHash,
		Enabled:          b.Enabled,
		Admin:            b.Admin,
		Presence:         Presence{SessionID: b.SessionID},
		LastLoginAt:      b.LastLoginAt,
		LastKnownAddress: b.LastKnownAddress,
		Version:          b.Version,
		CreatedAt:        b.CreatedAt,
		UpdatedAt:        b.UpdatedAt,
	}
}

func boltGet(b *bbolt.Bucket, username string) (Account, bool, error) {
	data := b.Get([]byte(username))
	if data == nil {
		return Account{}, false, nil
	}
	var rec boltAccount
	if err := json.Unmarshal(data, &rec); err != nil {
		return Account{}, false, fmt.Errorf("account: decode %q: %w", username, err)
	}
	return rec.account(), true, nil
}

func boltPut(b *bbolt.Bucket, a Account) error {
	data, err := json.Marshal(toBolt(a))
	if err != nil {
		return err
	}
	return b.Put([]byte(a.Username), data)
}

func (s *BoltStore) Create(ctx context.Context, in CreateInput) (Account, error) {
	const op = "account.Create"
	if err := ctx.Err(); err != nil {
		return Account{}, err
	}
	if err := checkCreate(op, &in); err != nil {
		return Account{}, err
	}

	a := Account{
		Username:       in.Username,
		CredentialHash: in.CredentialHash,
		Enabled:        in.Enabled,
		Admin:          in.Admin,
		Version:        1,
		CreatedAt:      in.Now.UTC(),
		UpdatedAt:      in.Now.UTC(),
	}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(accountsBucket)
		if b.Get([]byte(a.Username)) != nil {
			return ConflictError{Op: op, Field: "username"}
		}
		return boltPut(b, a)
	})
	if err != nil {
		return Account{}, err
	}
	return a, nil
}

func (s *BoltStore) GetByUsername(ctx context.Context, username string) (Account, error) {
	const op = "account.GetByUsername"
	if err := ctx.Err(); err != nil {
		return Account{}, err
	}
	username = NormalizeUsername(username)

	var out Account
	err := s.db.View(func(tx *bbolt.Tx) error {
		a, ok, err := boltGet(tx.Bucket(accountsBucket), username)
		if err != nil {
			return err
		}
		if !ok {
			return NotFoundError{Op: op, Username: username}
		}
		out = a
		return nil
	})
	return out, err
}

func (s *BoltStore) List(ctx context.Context) ([]Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []Account
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(accountsBucket).ForEach(func(k, v []byte) error {
			var rec boltAccount
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("account: decode %q: %w", k, err)
			}
			out = append(out, rec.account())
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) Count(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var n int
	err := s.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket(accountsBucket).Stats().KeyN
		return nil
	})
	return n, err
}

func (s *BoltStore) UpdatePresence(ctx context.Context, username string, expectVersion int64, upd PresenceUpdate) (Account, error) {
	const op = "account.UpdatePresence"
	if err := ctx.Err(); err != nil {
		return Account{}, err
	}
	username = NormalizeUsername(username)
	upd.Now = nowOr(upd.Now)

	var out Account
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(accountsBucket)
		a, ok, err := boltGet(b, username)
		if err != nil {
			return err
		}
		if !ok {
			return NotFoundError{Op: op, Username: username}
		}
		if a.Version != expectVersion {
			return ConflictError{Op: op, Field: "version"}
		}
		applyPresence(&a, upd)
		out = a
		return boltPut(b, a)
	})
	if err != nil {
		return Account{}, err
	}
	return out, nil
}

func (s *BoltStore) SetEnabled(ctx context.Context, username string, enabled bool, now time.Time) (Account, error) {
	const op = "account.SetEnabled"
	if err := ctx.Err(); err != nil {
		return Account{}, err
	}
	username = NormalizeUsername(username)

	var out Account
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(accountsBucket)
		a, ok, err := boltGet(b, username)
		if err != nil {
			return err
		}
		if !ok {
			return NotFoundError{Op: op, Username: username}
		}
		a.Enabled = enabled
		a.Version++
		a.UpdatedAt = nowOr(now)
		out = a
		return boltPut(b, a)
	})
	if err != nil {
		return Account{}, err
	}
	return out, nil
}

func (s *BoltStore) SetCredential(ctx context.Context, username, credentialHash string, now time.Time) (Account, error) {
	const op = "account.SetCredential"
	if err := ctx.Err(); err != nil {
		return Account{}, err
	}
	if credentialHash == "" {
		return Account{}, invalid(op, "credential hash is required")
	}
	username = NormalizeUsername(username)

	var out Account
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(accountsBucket)
		a, ok, err := boltGet(b, username)
		if err != nil {
			return err
		}
		if !ok {
			return NotFoundError{Op: op, Username: username}
		}
		a.CredentialHash = credentialHash
		a.Version++
		a.UpdatedAt = nowOr(now)
		out = a
		return boltPut(b, a)
	})
	if err != nil {
		return Account{}, err
	}
	return out, nil
}

func (s *BoltStore) Delete(ctx context.Context, username string) error {
	const op = "account.Delete"
	if err := ctx.Err(); err != nil {
		return err
	}
	username = NormalizeUsername(username)

	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(accountsBucket)
		if b.Get([]byte(username)) == nil {
			return NotFoundError{Op: op, Username: username}
		}
		return b.Delete([]byte(username))
	})
}
