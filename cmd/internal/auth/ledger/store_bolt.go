package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

var (
	sessionsBucket  = []byte("sessions")
	openBucket      = []byte("sessions_open")       // username -> id
	byAccountBucket = []byte("sessions_by_account") // username \x00 id -> nil
)

// BoltStore persists the ledger in a bbolt database.
// The database handle is owned by the caller; the store must NOT close it.
type BoltStore struct {
	db *bbolt.DB
}

// NewBoltStore returns a BoltStore and makes sure its buckets exist.
func NewBoltStore(db *bbolt.DB) (*BoltStore, error) {
	if db == nil {
		return nil, fmt.Errorf("ledger: nil bolt db")
	}
	err := db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{sessionsBucket, openBucket, byAccountBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ledger: create buckets: %w", err)
	}
	return &BoltStore{db: db}, nil
}

type boltRecord struct {
	ID               string     `json:"id"`
	Username         string     `json:"username"`
	StartedAt        time.Time  `json:"started_at"`
	EndedAt          *time.Time `json:"ended_at,omitempty"`
	OriginAddress    string     `json:"origin_address,omitempty"`
	ClientDescriptor string     `json:"client_descriptor,omitempty"`
	Surface          Surface    `json:"surface"`
	EndReason        EndReason  `json:"end_reason,omitempty"`
}

func accountKey(username, id string) []byte {
	k := make([]byte, 0, len(username)+1+len(id))
	k = append(k, username...)
	k = append(k, 0)
	return append(k, id...)
}

func getRecord(b *bbolt.Bucket, id string) (Record, bool, error) {
	data := b.Get([]byte(id))
	if data == nil {
		return Record{}, false, nil
	}
	var br boltRecord
	if err := json.Unmarshal(data, &br); err != nil {
		return Record{}, false, fmt.Errorf("ledger: decode %q: %w", id, err)
	}
	return Record(br), true, nil
}

func putRecord(b *bbolt.Bucket, rec Record) error {
	data, err := json.Marshal(boltRecord(rec))
	if err != nil {
		return err
	}
	return b.Put([]byte(rec.ID), data)
}

func (s *BoltStore) Open(ctx context.Context, in OpenInput) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	if err := checkOpen(&in); err != nil {
		return Record{}, err
	}

	rec := in.record()
	err := s.db.Update(func(tx *bbolt.Tx) error {
		open := tx.Bucket(openBucket)
		if open.Get([]byte(rec.Username)) != nil {
			return ErrOpenExists
		}
		sessions := tx.Bucket(sessionsBucket)
		if sessions.Get([]byte(rec.ID)) != nil {
			return fmt.Errorf("%w: duplicate id", ErrInvalidInput)
		}
		if err := putRecord(sessions, rec); err != nil {
			return err
		}
		if err := open.Put([]byte(rec.Username), []byte(rec.ID)); err != nil {
			return err
		}
		return tx.Bucket(byAccountBucket).Put(accountKey(rec.Username, rec.ID), nil)
	})
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

func (s *BoltStore) FindOpen(ctx context.Context, username string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	var out Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		id := tx.Bucket(openBucket).Get([]byte(username))
		if id == nil {
			return ErrNotFound
		}
		rec, ok, err := getRecord(tx.Bucket(sessionsBucket), string(id))
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotFound
		}
		out = rec
		return nil
	})
	return out, err
}

func (s *BoltStore) Get(ctx context.Context, id string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	var out Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		rec, ok, err := getRecord(tx.Bucket(sessionsBucket), id)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotFound
		}
		out = rec
		return nil
	})
	return out, err
}

func (s *BoltStore) Close(ctx context.Context, id string, at time.Time, reason EndReason) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	closed := false
	err := s.db.Update(func(tx *bbolt.Tx) error {
		sessions := tx.Bucket(sessionsBucket)
		rec, ok, err := getRecord(sessions, id)
		if err != nil || !ok || !rec.IsOpen() {
			return err
		}
		end := at.UTC()
		rec.EndedAt = &end
		rec.EndReason = reason
		if err := putRecord(sessions, rec); err != nil {
			return err
		}
		open := tx.Bucket(openBucket)
		if bytes.Equal(open.Get([]byte(rec.Username)), []byte(id)) {
			if err := open.Delete([]byte(rec.Username)); err != nil {
				return err
			}
		}
		closed = true
		return nil
	})
	return closed, err
}

func (s *BoltStore) ListByAccount(ctx context.Context, username string, limit int) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []Record
	prefix := accountKey(username, "")
	err := s.db.View(func(tx *bbolt.Tx) error {
		sessions := tx.Bucket(sessionsBucket)
		c := tx.Bucket(byAccountBucket).Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			rec, ok, err := getRecord(sessions, string(k[len(prefix):]))
			if err != nil {
				return err
			}
			if ok {
				out = append(out, rec)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortNewestFirst(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *BoltStore) ListOpenStartedBefore(ctx context.Context, cutoff time.Time) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		sessions := tx.Bucket(sessionsBucket)
		return tx.Bucket(openBucket).ForEach(func(_, id []byte) error {
			rec, ok, err := getRecord(sessions, string(id))
			if err != nil {
				return err
			}
			if ok && rec.StartedAt.Before(cutoff) {
				out = append(out, rec)
			}
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) DeleteByAccount(ctx context.Context, username string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	n := 0
	prefix := accountKey(username, "")
	err := s.db.Update(func(tx *bbolt.Tx) error {
		sessions := tx.Bucket(sessionsBucket)
		idx := tx.Bucket(byAccountBucket)

		var keys [][]byte
		c := idx.Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			keys = append(keys, append([]byte(nil), k...))
		}
		for _, k := range keys {
			if err := sessions.Delete(k[len(prefix):]); err != nil {
				return err
			}
			if err := idx.Delete(k); err != nil {
				return err
			}
			n++
		}
		return tx.Bucket(openBucket).Delete([]byte(username))
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}
