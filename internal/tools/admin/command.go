package admin

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/gatherly-app/gatherly-backend/internal/config"
	"github.com/gatherly-app/gatherly-backend/internal/database"
	"github.com/gatherly-app/gatherly-backend/internal/repository"
	"github.com/gatherly-app/gatherly-backend/internal/tools/common"
	"github.com/gatherly-app/gatherly-backend/internal/tools/ui"
)

type options struct {
	envFile string
	timeout time.Duration
	ci      bool
}

func NewRootCommand() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "gatherly-admin",
		Short: "Operational tooling for the gatherly backend",
	}
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "path to env file")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "operation timeout")
	cmd.PersistentFlags().BoolVar(&opts.ci, "ci", false, "non-interactive machine-readable output")

	cmd.AddCommand(
		newMigrateCommand(opts),
		newStatusCommand(opts),
		newSeedCommand(opts),
		newPurgeLinksCommand(opts),
	)
	return cmd
}

func newMigrateCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			details, err := run(opts, "migrate", func(ctx context.Context) ([]string, error) {
				cfg, db, err := loadConfigDB(opts.envFile)
				if err != nil {
					return nil, err
				}
				defer closeDB(db)
				if err := database.Migrate(db); err != nil {
					return nil, err
				}
				return []string{"schema migration applied", "service: " + cfg.OTELServiceName}, nil
			})
			return finish(opts, "migrate", details, err)
		},
	}
}

func newStatusCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check database connectivity",
		RunE: func(cmd *cobra.Command, args []string) error {
			details, err := run(opts, "status", func(ctx context.Context) ([]string, error) {
				cfg, db, err := loadConfigDB(opts.envFile)
				if err != nil {
					return nil, err
				}
				defer closeDB(db)
				sqlDB, err := db.DB()
				if err != nil {
					return nil, err
				}
				if err := sqlDB.PingContext(ctx); err != nil {
					return nil, fmt.Errorf("db ping: %w", err)
				}
				return []string{"database reachable", "service: " + cfg.OTELServiceName}, nil
			})
			return finish(opts, "status", details, err)
		},
	}
}

func newSeedCommand(opts *options) *cobra.Command {
	var bootstrapAdminEmail string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Promote the bootstrap admin account",
		RunE: func(cmd *cobra.Command, args []string) error {
			details, err := run(opts, "seed", func(ctx context.Context) ([]string, error) {
				cfg, db, err := loadConfigDB(opts.envFile)
				if err != nil {
					return nil, err
				}
				defer closeDB(db)
				email := cfg.BootstrapAdminEmail
				if bootstrapAdminEmail != "" {
					email = bootstrapAdminEmail
				}
				if email == "" {
					return []string{"no bootstrap admin email configured, nothing to do"}, nil
				}
				if err := database.Seed(db, email); err != nil {
					return nil, err
				}
				return []string{"admin promotion attempted for: " + email}, nil
			})
			return finish(opts, "seed", details, err)
		},
	}
	cmd.Flags().StringVar(&bootstrapAdminEmail, "bootstrap-admin-email", "", "override bootstrap admin email")
	return cmd
}

// newPurgeLinksCommand removes expired staged account links. Expired rows are
// inert either way; this keeps the table from growing unbounded.
func newPurgeLinksCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "purge-links",
		Short: "Delete expired pending account links",
		RunE: func(cmd *cobra.Command, args []string) error {
			details, err := run(opts, "purge-links", func(ctx context.Context) ([]string, error) {
				_, db, err := loadConfigDB(opts.envFile)
				if err != nil {
					return nil, err
				}
				defer closeDB(db)
				n, err := repository.NewPendingLinkRepository(db).DeleteExpired(time.Now().UTC())
				if err != nil {
					return nil, err
				}
				return []string{fmt.Sprintf("purged %d expired pending links", n)}, nil
			})
			return finish(opts, "purge-links", details, err)
		},
	}
}

func run(opts *options, title string, fn func(context.Context) ([]string, error)) ([]string, error) {
	if opts.ci {
		ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
		defer cancel()
		return fn(ctx)
	}
	return ui.Run(title, fn)
}

func finish(opts *options, title string, details []string, err error) error {
	if opts.ci {
		common.PrintCIResult(err == nil, title, details, err)
	}
	if err != nil {
		os.Exit(3)
	}
	return nil
}

func loadConfigDB(envFile string) (*config.Config, *gorm.DB, error) {
	if err := common.LoadEnvFile(envFile); err != nil {
		return nil, nil, err
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	db, err := database.Open(cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, db, nil
}

func closeDB(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
