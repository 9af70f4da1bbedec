package ledger

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"
)

func TestBoltStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T, _ ...string) Store {
		db, err := bbolt.Open(filepath.Join(t.TempDir(), "ledger.db"), 0o600, nil)
		require.NoError(t, err)
		t.Cleanup(func() { _ = db.Close() })

		s, err := NewBoltStore(db)
		require.NoError(t, err)
		return s
	})
}
