package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Version is stamped at build time with -ldflags "-X vigil/cmd/internal/app.Version=...".
var Version = "dev"

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	logLevel   string
	logFormat  string
}

func (g *globalFlags) bind(fs *pflag.FlagSet) {
	fs.StringVar(&g.configPath, "config", "", "path to a TOML config file (default $VIGIL_CONFIG)")
	fs.StringVar(&g.logLevel, "log-level", "", "log level: debug, info, warn, error")
	fs.StringVar(&g.logFormat, "log-format", "", "log format: json, text, pretty")
}

// load builds the effective Config; explicitly set flags win over file and env.
func (g *globalFlags) load(fs *pflag.FlagSet) (Config, error) {
	cfg, err := LoadConfig(g.configPath)
	if err != nil {
		return Config{}, err
	}
	if fs.Changed("log-level") {
		cfg.LogLevel = g.logLevel
	}
	if fs.Changed("log-format") {
		cfg.LogFormat = g.logFormat
	}
	return cfg, nil
}

// NewRootCommand assembles the vigil CLI.
func NewRootCommand() *cobra.Command {
	var g globalFlags
	root := &cobra.Command{
		Use:           "vigil",
		Short:         "vigil is a single-session presence gateway",
		Long:          "vigil lets each account hold at most one live session and keeps a partner system in sync when it ends.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	g.bind(root.PersistentFlags())

	root.AddCommand(newServeCommand(&g), newMigrateCommand(&g), newVersionCommand())
	return root
}

// Execute runs the CLI and reports errors on stderr.
func Execute() error {
	root := NewRootCommand()
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(root.ErrOrStderr(), "vigil:", err)
		return err
	}
	return nil
}

func newServeCommand(g *globalFlags) *cobra.Command {
	var addr, store string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP gateway",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.load(cmd.Flags())
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.HTTPAddr = addr
			}
			if cmd.Flags().Changed("store") {
				cfg.Store = store
			}

			log := NewLogger(cfg.LogLevel, cfg.LogFormat)
			a, err := New(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			return a.Run(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default $VIGIL_HTTP_ADDR or 0.0.0.0:8080)")
	cmd.Flags().StringVar(&store, "store", "", "store backend: memory, bolt, postgres")
	return cmd
}

func newMigrateCommand(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the Postgres schema",
	}

	run := func(fn func(ctx context.Context, a *migrator) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.load(cmd.Flags())
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return errNoDatabase
			}
			log := NewLogger(cfg.LogLevel, cfg.LogFormat)
			pool, err := NewDBPool(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer pool.Close()
			return fn(cmd.Context(), &migrator{pool: pool, log: log, out: cmd.OutOrStdout()})
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE:  run(func(ctx context.Context, m *migrator) error { return m.up(ctx) }),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the most recent migration",
			Args:  cobra.NoArgs,
			RunE:  run(func(ctx context.Context, m *migrator) error { return m.down(ctx) }),
		},
		&cobra.Command{
			Use:   "status",
			Short: "Print the current schema version",
			Args:  cobra.NoArgs,
			RunE:  run(func(ctx context.Context, m *migrator) error { return m.status(ctx) }),
		},
	)
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "vigil", Version)
		},
	}
}

var errNoDatabase = errors.New("migrate: VIGIL_DATABASE_URL is required")
