package ledger

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

// PostgresStore implements the ledger over PostgreSQL.
//
// The one-open-record rule is the partial unique index
// uq_sessions_open_per_account (username) WHERE ended_at IS NULL.
// Records cascade with their account row.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// NewPostgresStore constructs a PostgresStore. An empty schema selects "vigil".
func NewPostgresStore(pool *pgxpool.Pool, schema string) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("ledger: nil pool")
	}
	schema = strings.TrimSpace(schema)
	if schema == "" {
		schema = "vigil"
	}
	if !pgIdentRe.MatchString(schema) {
		return nil, fmt.Errorf("ledger: invalid schema identifier")
	}
	return &PostgresStore{pool: pool, schema: schema}, nil
}

const recordColumns = `id, username, started_at, ended_at, origin_address, client_descriptor, surface, end_reason`

func (s *PostgresStore) table() string {
	return pgx.Identifier{s.schema, "sessions"}.Sanitize()
}

func scanRecord(row pgx.Row) (Record, error) {
	var (
		rec     Record
		origin  *string
		client  *string
		surface string
		reason  *string
	)
	if err := row.Scan(&rec.ID, &rec.Username, &rec.StartedAt, &rec.EndedAt, &origin, &client, &surface, &reason); err != nil {
		return Record{}, err
	}
	if origin != nil {
		rec.OriginAddress = *origin
	}
	if client != nil {
		rec.ClientDescriptor = *client
	}
	rec.Surface = Surface(surface)
	if reason != nil {
		rec.EndReason = EndReason(*reason)
	}
	return rec, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (s *PostgresStore) Open(ctx context.Context, in OpenInput) (Record, error) {
	if err := checkOpen(&in); err != nil {
		return Record{}, err
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+s.table()+` (id, username, started_at, origin_address, client_descriptor, surface)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		in.ID, in.Username, in.StartedAt, nullIfEmpty(in.OriginAddress), nullIfEmpty(in.ClientDescriptor), string(in.Surface),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case "23505": // unique_violation
				if strings.Contains(pgErr.ConstraintName, "open") {
					return Record{}, ErrOpenExists
				}
				return Record{}, fmt.Errorf("%w: duplicate id", ErrInvalidInput)
			case "23503": // foreign_key_violation
				return Record{}, fmt.Errorf("%w: unknown account", ErrInvalidInput)
			}
		}
		return Record{}, err
	}
	return in.record(), nil
}

func (s *PostgresStore) FindOpen(ctx context.Context, username string) (Record, error) {
	rec, err := scanRecord(s.pool.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM `+s.table()+` WHERE username = $1 AND ended_at IS NULL`,
		username,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	return rec, err
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Record, error) {
	rec, err := scanRecord(s.pool.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM `+s.table()+` WHERE id = $1`,
		id,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	return rec, err
}

func (s *PostgresStore) Close(ctx context.Context, id string, at time.Time, reason EndReason) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE `+s.table()+`
		    SET ended_at = $2, end_reason = $3
		  WHERE id = $1 AND ended_at IS NULL`,
		id, at.UTC(), string(reason),
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) ListByAccount(ctx context.Context, username string, limit int) ([]Record, error) {
	q := `SELECT ` + recordColumns + ` FROM ` + s.table() + ` WHERE username = $1 ORDER BY started_at DESC, id DESC`
	args := []any{username}
	if limit > 0 {
		q += ` LIMIT $2`
		args = append(args, limit)
	}
	return s.query(ctx, q, args...)
}

func (s *PostgresStore) ListOpenStartedBefore(ctx context.Context, cutoff time.Time) ([]Record, error) {
	return s.query(ctx,
		`SELECT `+recordColumns+` FROM `+s.table()+`
		  WHERE ended_at IS NULL AND started_at < $1
		  ORDER BY started_at`,
		cutoff.UTC(),
	)
}

func (s *PostgresStore) DeleteByAccount(ctx context.Context, username string) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM `+s.table()+` WHERE username = $1`, username)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) query(ctx context.Context, q string, args ...any) ([]Record, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
