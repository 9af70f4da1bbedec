package account

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements account persistence over PostgreSQL.
//
// The pgx pool is owned by the caller; this store must NOT close it.
// Schema identifiers are quoted via pgx.Identifier.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the Postgres schema used by the store (default "vigil").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return fmt.Errorf("account: empty schema")
		}
		if !pgIdentRe.MatchString(schema) {
			return fmt.Errorf("account: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{pool: pool, schema: "vigil"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, fmt.Errorf("account: nil pool")
	}
	return st, nil
}

const accountColumns = `username, credential_hash, enabled, admin, session_id,
	last_login_at, last_known_address, version, created_at, updated_at`

func (s *PostgresStore) table() string {
	return pgx.Identifier{s.schema, "accounts"}.Sanitize()
}

func scanAccount(row pgx.Row) (Account, error) {
	var (
		a         Account
		sessionID *string
		lastAddr  *string
	)
	err := row.Scan(
		&a.Username,
		&a.CredentialHash,
		&a.Enabled,
		&a.Admin,
		&sessionID,
		&a.LastLoginAt,
		&lastAddr,
		&a.Version,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return Account{}, err
	}
	if sessionID != nil {
		a.Presence.SessionID = *sessionID
	}
	if lastAddr != nil {
		a.LastKnownAddress = *lastAddr
	}
	return a, nil
}

func (s *PostgresStore) Create(ctx context.Context, in CreateInput) (Account, error) {
	const op = "account.Create"
	if err := checkCreate(op, &in); err != nil {
		return Account{}, err
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO `+s.table()+` (username, credential_hash, enabled, admin, version, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, 1, $5, $5)
		 RETURNING `+accountColumns,
		in.Username, in.CredentialHash, in.Enabled, in.Admin, in.Now.UTC(),
	)
	a, err := scanAccount(row)
	if err != nil {
		if pgIsUniqueViolation(err) {
			return Account{}, ConflictError{Op: op, Field: "username"}
		}
		return Account{}, err
	}
	return a, nil
}

func (s *PostgresStore) GetByUsername(ctx context.Context, username string) (Account, error) {
	const op = "account.GetByUsername"
	username = NormalizeUsername(username)

	row := s.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM `+s.table()+` WHERE username = $1`,
		username,
	)
	a, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, NotFoundError{Op: op, Username: username}
		}
		return Account{}, err
	}
	return a, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]Account, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+accountColumns+` FROM `+s.table()+` ORDER BY username`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM `+s.table()).Scan(&n)
	return n, err
}

func (s *PostgresStore) UpdatePresence(ctx context.Context, username string, expectVersion int64, upd PresenceUpdate) (Account, error) {
	const op = "account.UpdatePresence"
	username = NormalizeUsername(username)
	now := nowOr(upd.Now)

	var sessionID *string
	if upd.SessionID != "" {
		sessionID = &upd.SessionID
	}
	var lastAddr *string
	if upd.LastLoginAt != nil && upd.LastKnownAddress != "" {
		lastAddr = &upd.LastKnownAddress
	}

	row := s.pool.QueryRow(ctx,
		`UPDATE `+s.table()+`
		    SET session_id = $3,
		        last_login_at = COALESCE($4, last_login_at),
		        last_known_address = CASE WHEN $4::timestamptz IS NULL THEN last_known_address ELSE $5 END,
		        version = version + 1,
		        updated_at = $6
		  WHERE username = $1 AND version = $2
		  RETURNING `+accountColumns,
		username, expectVersion, sessionID, upd.LastLoginAt, lastAddr, now,
	)
	a, err := scanAccount(row)
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		if pgIsUniqueViolation(err) {
			return Account{}, ConflictError{Op: op, Field: "session_id"}
		}
		return Account{}, err
	}

	// Distinguish a lost race from a missing row.
	if _, gerr := s.GetByUsername(ctx, username); gerr != nil {
		if IsNotFound(gerr) {
			return Account{}, NotFoundError{Op: op, Username: username}
		}
		return Account{}, gerr
	}
	return Account{}, ConflictError{Op: op, Field: "version"}
}

func (s *PostgresStore) SetEnabled(ctx context.Context, username string, enabled bool, now time.Time) (Account, error) {
	const op = "account.SetEnabled"
	username = NormalizeUsername(username)

	row := s.pool.QueryRow(ctx,
		`UPDATE `+s.table()+`
		    SET enabled = $2, version = version + 1, updated_at = $3
		  WHERE username = $1
		  RETURNING `+accountColumns,
		username, enabled, nowOr(now),
	)
	a, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, NotFoundError{Op: op, Username: username}
		}
		return Account{}, err
	}
	return a, nil
}

func (s *PostgresStore) SetCredential(ctx context.Context, username, credentialHash string, now time.Time) (Account, error) {
	const op = "account.SetCredential"
	if credentialHash == "" {
		return Account{}, invalid(op, "credential hash is required")
	}
	username = NormalizeUsername(username)

	row := s.pool.QueryRow(ctx,
		`UPDATE `+s.table()+`
		    SET credential_hash = $2, version = version + 1, updated_at = $3
		  WHERE username = $1
		  RETURNING `+accountColumns,
		username, credentialHash, nowOr(now),
	)
	a, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, NotFoundError{Op: op, Username: username}
		}
		return Account{}, err
	}
	return a, nil
}

func (s *PostgresStore) Delete(ctx context.Context, username string) error {
	const op = "account.Delete"
	username = NormalizeUsername(username)

	tag, err := s.pool.Exec(ctx, `DELETE FROM `+s.table()+` WHERE username = $1`, username)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return NotFoundError{Op: op, Username: username}
	}
	return nil
}

func pgIsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23505" // unique_violation
}
