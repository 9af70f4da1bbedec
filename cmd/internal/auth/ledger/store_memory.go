package ledger

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps the ledger in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
	open    map[string]string // username -> record id
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]Record),
		open:    make(map[string]string),
	}
}

func (s *MemoryStore) Open(ctx context.Context, in OpenInput) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	if err := checkOpen(&in); err != nil {
		return Record{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.open[in.Username]; ok {
		return Record{}, ErrOpenExists
	}
	if _, ok := s.records[in.ID]; ok {
		return Record{}, ErrInvalidInput
	}
	rec := in.record()
	s.records[rec.ID] = rec
	s.open[rec.Username] = rec.ID
	return rec, nil
}

func (s *MemoryStore) FindOpen(ctx context.Context, username string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.open[username]
	if !ok {
		return Record{}, ErrNotFound
	}
	return s.records[id], nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (s *MemoryStore) Close(ctx context.Context, id string, at time.Time, reason EndReason) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok || !rec.IsOpen() {
		return false, nil
	}
	end := at.UTC()
	rec.EndedAt = &end
	rec.EndReason = reason
	s.records[id] = rec
	if s.open[rec.Username] == id {
		delete(s.open, rec.Username)
	}
	return true, nil
}

func (s *MemoryStore) ListByAccount(ctx context.Context, username string, limit int) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	var out []Record
	for _, rec := range s.records {
		if rec.Username == username {
			out = append(out, rec)
		}
	}
	s.mu.RUnlock()

	sortNewestFirst(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) ListOpenStartedBefore(ctx context.Context, cutoff time.Time) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	var out []Record
	for _, id := range s.open {
		if rec := s.records[id]; rec.StartedAt.Before(cutoff) {
			out = append(out, rec)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

func (s *MemoryStore) DeleteByAccount(ctx context.Context, username string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, rec := range s.records {
		if rec.Username == username {
			delete(s.records, id)
			n++
		}
	}
	delete(s.open, username)
	return n, nil
}

// sortNewestFirst orders by StartedAt desc, then ID desc (ULIDs sort by time).
func sortNewestFirst(recs []Record) {
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].StartedAt.Equal(recs[j].StartedAt) {
			return recs[i].StartedAt.After(recs[j].StartedAt)
		}
		return recs[i].ID > recs[j].ID
	})
}
