package main

import (
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver for database/sql (migrations)
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-reasoner/pkg/database"
	"github.com/ekaya-inc/ekaya-reasoner/pkg/logging"
)

func migrateCmd(flags *globalFlags) *cobra.Command {
	var statusOnly bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(flags)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			// Run migrations using database/sql (required by golang-migrate)
			sqlDB, err := sql.Open("pgx", cfg.Database.URL())
			if err != nil {
				return fmt.Errorf("failed to open database: %s", logging.SanitizeError(err))
			}
			defer sqlDB.Close()

			if !statusOnly {
				if err := database.RunMigrations(sqlDB, logger); err != nil {
					return err
				}
			}

			version, dirty, err := database.MigrationVersion(sqlDB, logger)
			if err != nil {
				return err
			}
			logger.Info("Migration status", zap.Uint("version", version), zap.Bool("dirty", dirty))
			fmt.Fprintf(cmd.OutOrStdout(), "schema version %d (dirty: %t)\n", version, dirty)
			return nil
		},
	}

	cmd.Flags().BoolVar(&statusOnly, "status", false, "Only print the current version")
	return cmd
}

func installCmd(flags *globalFlags) *cobra.Command {
	var tenant string

	cmd := &cobra.Command{
		Use:   "install <schema.yaml>...",
		Short: "Validate and install a schema as the tenant's active version",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tbox, err := loadSchema(args)
			if err != nil {
				return err
			}

			a, err := newApp(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := a.schemas.Install(cmd.Context(), tenant, tbox)
			if err != nil {
				return err
			}
			if result.Changed {
				fmt.Fprintf(cmd.OutOrStdout(), "installed %s for %s\n", result.Hash, tenant)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "%s already active for %s\n", result.Hash, tenant)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&tenant, "tenant", "t", "", "Tenant id")
	_ = cmd.MarkFlagRequired("tenant")
	return cmd
}
