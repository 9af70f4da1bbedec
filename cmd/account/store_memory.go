package account

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps accounts in process memory. Used when no database is configured.
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[string]Account
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{accounts: make(map[string]Account)}
}

func (s *MemoryStore) Create(ctx context.Context, in CreateInput) (Account, error) {
	const op = "account.Create"
	if err := ctx.Err(); err != nil {
		return Account{}, err
	}
	if err := checkCreate(op, &in); err != nil {
		return Account{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[in.Username]; ok {
		return Account{}, ConflictError{Op: op, Field: "username"}
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
	s.accounts[a.Username] = a
	return a, nil
}

func (s *MemoryStore) GetByUsername(ctx context.Context, username string) (Account, error) {
	const op = "account.GetByUsername"
	if err := ctx.Err(); err != nil {
		return Account{}, err
	}
	username = NormalizeUsername(username)

	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[username]
	if !ok {
		return Account{}, NotFoundError{Op: op, Username: username}
	}
	return a, nil
}

func (s *MemoryStore) List(ctx context.Context) ([]Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	out := make([]Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		out = append(out, a)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (s *MemoryStore) Count(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.accounts), nil
}

func (s *MemoryStore) UpdatePresence(ctx context.Context, username string, expectVersion int64, upd PresenceUpdate) (Account, error) {
	const op = "account.UpdatePresence"
	if err := ctx.Err(); err != nil {
		return Account{}, err
	}
	username = NormalizeUsername(username)
	upd.Now = nowOr(upd.Now)

	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[username]
	if !ok {
		return Account{}, NotFoundError{Op: op, Username: username}
	}
	if a.Version != expectVersion {
		return Account{}, ConflictError{Op: op, Field: "version"}
	}
	applyPresence(&a, upd)
	s.accounts[username] = a
	return a, nil
}

func (s *MemoryStore) SetEnabled(ctx context.Context, username string, enabled bool, now time.Time) (Account, error) {
	const op = "account.SetEnabled"
	if err := ctx.Err(); err != nil {
		return Account{}, err
	}
	username = NormalizeUsername(username)

	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[username]
	if !ok {
		return Account{}, NotFoundError{Op: op, Username: username}
	}
	a.Enabled = enabled
	a.Version++
	a.UpdatedAt = nowOr(now)
	s.accounts[username] = a
	return a, nil
}

func (s *MemoryStore) SetCredential(ctx context.Context, username, credentialHash string, now time.Time) (Account, error) {
	const op = "account.SetCredential"
	if err := ctx.Err(); err != nil {
		return Account{}, err
	}
	if credentialHash == "" {
		return Account{}, invalid(op, "credential hash is required")
	}
	username = NormalizeUsername(username)

	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[username]
	if !ok {
		return Account{}, NotFoundError{Op: op, Username: username}
	}
	a.CredentialHash = credentialHash
	a.Version++
	a.UpdatedAt = nowOr(now)
	s.accounts[username] = a
	return a, nil
}

func (s *MemoryStore) Delete(ctx context.Context, username string) error {
	const op = "account.Delete"
	if err := ctx.Err(); err != nil {
		return err
	}
	username = NormalizeUsername(username)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[username]; !ok {
		return NotFoundError{Op: op, Username: username}
	}
	delete(s.accounts, username)
	return nil
}
