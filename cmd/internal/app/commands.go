package app

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"sqlident/cmd/identity"
	"sqlident/cmd/internal/auth/session"

	"github.com/pressly/goose/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type cli struct {
	v          *viper.Viper
	configPath string
}

// NewRootCommand builds the sqlident command tree. Every setting can come
// from the config file, SQLIDENT_* environment variables or flags.
func NewRootCommand() *cobra.Command {
	c := &cli{v: NewViper()}

	root := &cobra.Command{
		Use:           "sqlident",
		Short:         "SQL-backed session token identity service",
		Long:          `sqlident issues opaque session tokens, resolves them back to user ids and keeps them in SQLite, MySQL or PostgreSQL.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&c.configPath, "config", "c", "", "Path to config file (yaml, json or toml)")
	pf.String("backend", "", "Storage backend: sqlite, mysql or postgres")
	pf.String("dsn", "", "Data source name for the backend")
	pf.String("log-level", "", "Log level: debug, info, warn, error")
	pf.String("log-format", "", "Log format: json or pretty")

	root.AddCommand(
		c.newServeCommand(),
		c.newMigrateCommand(),
		c.newRevokeCommand(),
		c.newPruneCommand(),
	)
	return root
}

// configFlags are the flags that override a config key of the same name
// (log-level -> log_level). Command-specific flags such as --id are not listed.
var configFlags = map[string]bool{
	"backend":        true,
	"dsn":            true,
	"log-level":      true,
	"log-format":     true,
	"http-addr":      true,
	"auto-migrate":   true,
	"demo-login":     true,
	"trust-proxy":    true,
	"max-idle":       true,
	"prune-interval": true,
}

// bindFlags binds the running command's flags onto viper. It runs at
// execution time because sibling commands share keys like max_idle.
func (c *cli) bindFlags(fs *pflag.FlagSet) error {
	var errs []error
	fs.VisitAll(func(f *pflag.Flag) {
		if configFlags[f.Name] {
			errs = append(errs, c.v.BindPFlag(strings.ReplaceAll(f.Name, "-", "_"), f))
		}
	})
	return errors.Join(errs...)
}

func (c *cli) setup(cmd *cobra.Command) (Config, *slog.Logger, error) {
	if err := c.bindFlags(cmd.Flags()); err != nil {
		return Config{}, nil, err
	}
	cfg, err := LoadConfig(c.v, c.configPath)
	if err != nil {
		return Config{}, nil, err
	}
	return cfg, NewLogger(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat), nil
}

func (c *cli) newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Long:  `Start the identity HTTP server: /me, /auth/logout, health probes and /metrics.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := c.setup(cmd)
			if err != nil {
				return err
			}

			a, err := New(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()

			return a.Run(cmd.Context())
		},
	}

	f := cmd.Flags()
	f.String("http-addr", "", "Listen address (host:port)")
	f.Bool("auto-migrate", false, "Apply pending migrations on startup")
	f.Bool("demo-login", false, "Mount POST /auth/login without credential checks (development only)")
	f.Bool("trust-proxy", false, "Honour X-Forwarded-For for client addresses")
	f.Duration("max-idle", 0, "Expire sessions idle for longer than this (0 disables)")
	f.Duration("prune-interval", 0, "Run the idle-session janitor this often (0 disables)")

	return cmd
}

func (c *cli) newMigrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Database migration tools",
		Long:  `Manage the identities schema: apply, roll back and inspect migrations.`,
	}

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Rollback migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withMigrator(cmd, func(p *goose.Provider) error {
				for i := 0; i < steps; i++ {
					res, err := p.Down(cmd.Context())
					if errors.Is(err, goose.ErrNoNextVersion) {
						fmt.Fprintln(cmd.OutOrStdout(), "no migrations to roll back")
						return nil
					}
					if err != nil {
						return fmt.Errorf("down migration failed: %w", err)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "rolled back %s\n", res.Source.Path)
				}
				return nil
			})
		},
	}
	down.Flags().IntVarP(&steps, "steps", "n", 1, "Number of migrations to roll back")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Run all pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return c.withMigrator(cmd, func(p *goose.Provider) error {
					results, err := p.Up(cmd.Context())
					if err != nil {
						return fmt.Errorf("migration failed: %w", err)
					}
					for _, r := range results {
						fmt.Fprintf(cmd.OutOrStdout(), "applied %s (%s)\n", r.Source.Path, r.Duration)
					}
					if len(results) == 0 {
						fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
					}
					return nil
				})
			},
		},
		down,
		&cobra.Command{
			Use:   "status",
			Short: "Show migration status",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return c.withMigrator(cmd, func(p *goose.Provider) error {
					version, err := p.GetDBVersion(cmd.Context())
					if err != nil {
						return fmt.Errorf("failed to get migration version: %w", err)
					}
					statuses, err := p.Status(cmd.Context())
					if err != nil {
						return fmt.Errorf("failed to get detailed status: %w", err)
					}

					out := cmd.OutOrStdout()
					fmt.Fprintf(out, "current version: %d\n", version)
					for _, st := range statuses {
						fmt.Fprintf(out, "  %-8s %s\n", st.State, st.Source.Path)
					}
					return nil
				})
			},
		},
	)
	return cmd
}

func (c *cli) withMigrator(cmd *cobra.Command, fn func(p *goose.Provider) error) error {
	cfg, log, err := c.setup(cmd)
	if err != nil {
		return err
	}
	db, err := identity.Open(cmd.Context(), cfg.IdentityOptions())
	if err != nil {
		return err
	}
	defer db.Close()

	p, err := identity.NewMigrator(db)
	if err != nil {
		return err
	}
	log.Debug("migrate.begin", "backend", db.Backend(), "command", cmd.Name())
	return fn(p)
}

func (c *cli) withSessions(cmd *cobra.Command, fn func(cfg Config, svc *session.Service) error) error {
	cfg, log, err := c.setup(cmd)
	if err != nil {
		return err
	}
	db, err := OpenDB(cmd.Context(), cfg, log)
	if err != nil {
		return err
	}
	defer db.Close()

	svc, err := session.NewService(cfg.SessionConfig(), db.Store())
	if err != nil {
		return err
	}
	return fn(cfg, svc)
}

func (c *cli) newRevokeCommand() *cobra.Command {
	var (
		id     int64
		userID string
	)
	cmd := &cobra.Command{
		Use:   "revoke",
		Short: "Revoke sessions by id or by user",
		Long:  `Delete one session by its numeric id, or every session of a user (logout everywhere).`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withSessions(cmd, func(_ Config, svc *session.Service) error {
				out := cmd.OutOrStdout()
				if userID != "" {
					n, err := svc.RevokeAll(cmd.Context(), userID)
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "revoked %d session(s) for %s\n", n, userID)
					return nil
				}

				if err := svc.Revoke(cmd.Context(), id); err != nil {
					if identity.IsNotFound(err) {
						return fmt.Errorf("session %d not found", id)
					}
					return err
				}
				fmt.Fprintf(out, "revoked session %d\n", id)
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&id, "id", 0, "Session id")
	cmd.Flags().StringVar(&userID, "user", "", "User id")
	cmd.MarkFlagsMutuallyExclusive("id", "user")
	cmd.MarkFlagsOneRequired("id", "user")
	return cmd
}

func (c *cli) newPruneCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete sessions idle longer than max_idle",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withSessions(cmd, func(cfg Config, svc *session.Service) error {
				if cfg.MaxIdle <= 0 {
					return fmt.Errorf("%w: max_idle must be set to prune", ErrConfig)
				}
				n, err := svc.Prune(cmd.Context(), time.Now())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "pruned %d idle session(s)\n", n)
				return nil
			})
		},
	}
	cmd.Flags().Duration("max-idle", 0, "Idle threshold (overrides config)")
	return cmd
}
