package app

import (
	"context"
	"fmt"
	"io"

	"github.com/jackc/pgx/v5/pgxpool"

	"vigil/cmd/internal/migrate"
)

// migrator backs the migrate subcommands.
type migrator struct {
	pool *pgxpool.Pool
	log  Logger
	out  io.Writer
}

func (m *migrator) up(ctx context.Context) error {
	before, err := migrate.Version(ctx, m.pool)
	if err != nil {
		return err
	}
	if err := migrate.Up(ctx, m.pool); err != nil {
		return err
	}
	after, err := migrate.Version(ctx, m.pool)
	if err != nil {
		return err
	}
	m.log.Info("migrate.up", "from", before, "to", after)
	_, err = fmt.Fprintf(m.out, "schema version %d -> %d\n", before, after)
	return err
}

func (m *migrator) down(ctx context.Context) error {
	before, err := migrate.Version(ctx, m.pool)
	if err != nil {
		return err
	}
	if err := migrate.Down(ctx, m.pool); err != nil {
		return err
	}
	after, err := migrate.Version(ctx, m.pool)
	if err != nil {
		return err
	}
	m.log.Info("migrate.down", "from", before, "to", after)
	_, err = fmt.Fprintf(m.out, "schema version %d -> %d\n", before, after)
	return err
}

func (m *migrator) status(ctx context.Context) error {
	v, err := migrate.Version(ctx, m.pool)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(m.out, "schema version %d\n", v)
	return err
}
