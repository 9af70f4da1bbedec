package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.etcd.io/bbolt"

	"vigil/cmd/account"
	"vigil/cmd/internal/auth/ledger"
	"vigil/cmd/internal/migrate"
)

// backend holds the account and ledger stores plus whatever handle they share.
// The app owns the handle; the stores never close it.
type backend struct {
	kind     string
	accounts account.Store
	sessions ledger.Store

	pool *pgxpool.Pool
	bolt *bbolt.DB
}

// openBackend opens the store selected by cfg.
func openBackend(ctx context.Context, cfg Config, log Logger) (*backend, error) {
	kind, err := cfg.StoreKind()
	if err != nil {
		return nil, err
	}

	switch kind {
	case StoreMemory:
		log.Info("store.memory", "note", "state is lost on restart")
		return &backend{
			kind:     kind,
			accounts: account.NewMemoryStore(),
			sessions: ledger.NewMemoryStore(),
		}, nil

	case StoreBolt:
		if dir := filepath.Dir(cfg.BoltPath); dir != "." {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return nil, fmt.Errorf("store: bolt dir: %w", err)
			}
		}
		db, err := bbolt.Open(cfg.BoltPath, 0o600, &bbolt.Options{Timeout: time.Second})
		if err != nil {
			return nil, fmt.Errorf("store: open bolt %s: %w", cfg.BoltPath, err)
		}
		accts, err := account.NewBoltStore(db)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		sessions, err := ledger.NewBoltStore(db)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		log.Info("store.bolt", "path", cfg.BoltPath)
		return &backend{kind: kind, accounts: accts, sessions: sessions, bolt: db}, nil

	case StorePostgres:
		pool, err := NewDBPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if cfg.AutoMigrate {
			if err := migrate.Up(ctx, pool); err != nil {
				pool.Close()
				return nil, fmt.Errorf("store: migrate: %w", err)
			}
		}
		accts, err := account.NewPostgresStore(pool)
		if err != nil {
			pool.Close()
			return nil, err
		}
		sessions, err := ledger.NewPostgresStore(pool, "")
		if err != nil {
			pool.Close()
			return nil, err
		}
		log.Info("store.postgres", "auto_migrate", cfg.AutoMigrate)
		return &backend{kind: kind, accounts: accts, sessions: sessions, pool: pool}, nil
	}
	return nil, fmt.Errorf("store: unsupported kind %q", kind)
}

// durable reports whether state survives a restart.
func (b *backend) durable() bool { return b.kind != StoreMemory }

// ping checks the underlying handle is usable.
func (b *backend) ping(ctx context.Context) error {
	switch {
	case b.pool != nil:
		return PingDB(ctx, b.pool, 2*time.Second)
	case b.bolt != nil:
		return b.bolt.View(func(*bbolt.Tx) error { return nil })
	}
	return nil
}

// Close releases the shared handle.
func (b *backend) Close(_ context.Context) error {
	var err error
	if b.pool != nil {
		b.pool.Close()
	}
	if b.bolt != nil {
		err = errors.Join(err, b.bolt.Close())
	}
	return err
}
