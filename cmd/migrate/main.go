package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/hackgods/clinic-smartflow/internal/db"
	"github.com/hackgods/clinic-smartflow/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	logger := logging.New(os.Getenv("LOG_LEVEL"))

	rootCmd := &cobra.Command{
		Use:           "migrate",
		Short:         "Apply the SmartFlow database schema",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().String("dsn", "", "Postgres DSN (defaults to POSTGRES_DSN)")

	rootCmd.AddCommand(upCmd(logger), downCmd(logger), forceCmd(logger), versionCmd())

	if err := rootCmd.Execute(); err != nil {
		logger.Error("migrate failed", "error", err)
		os.Exit(1)
	}
}

func openMigrator(cmd *cobra.Command) (*migrate.Migrate, error) {
	dsn, _ := cmd.Flags().GetString("dsn")
	if dsn == "" {
		dsn = strings.TrimSpace(os.Getenv("POSTGRES_DSN"))
	}
	if dsn == "" {
		return nil, errors.New("POSTGRES_DSN is required")
	}
	return db.NewMigrator(dsn)
}

func closeMigrator(m *migrate.Migrate) {
	_, _ = m.Close()
}

func upCmd(logger *logging.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := openMigrator(cmd)
			if err != nil {
				return err
			}
			defer closeMigrator(m)

			if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
				return fmt.Errorf("migrate up: %w", err)
			}
			logger.Info("migrations complete")
			return nil
		},
	}
}

func downCmd(logger *logging.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			steps, _ := cmd.Flags().GetInt("steps")
			m, err := openMigrator(cmd)
			if err != nil {
				return err
			}
			defer closeMigrator(m)

			if steps > 0 {
				err = m.Steps(-steps)
			} else {
				err = m.Down()
			}
			if err != nil && !errors.Is(err, migrate.ErrNoChange) {
				return fmt.Errorf("migrate down: %w", err)
			}
			logger.Info("rollback complete", "steps", steps)
			return nil
		},
	}
	cmd.Flags().Int("steps", 1, "Number of migrations to roll back (0 rolls back everything)")
	return cmd
}

func forceCmd(logger *logging.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "force <version>",
		Short: "Set the schema version without running migrations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid version: %w", err)
			}
			m, err := openMigrator(cmd)
			if err != nil {
				return err
			}
			defer closeMigrator(m)

			if err := m.Force(version); err != nil {
				return fmt.Errorf("force version: %w", err)
			}
			logger.Info("forced schema version", "version", version)
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := openMigrator(cmd)
			if err != nil {
				return err
			}
			defer closeMigrator(m)

			version, dirty, err := m.Version()
			if errors.Is(err, migrate.ErrNilVersion) {
				fmt.Fprintln(cmd.OutOrStdout(), "no migrations applied")
				return nil
			}
			if err != nil {
				return fmt.Errorf("read version: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "version %d (dirty=%t)\n", version, dirty)
			return nil
		},
	}
}
