package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/careflow/careflow-api/internal/repository/postgres"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, lg, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := postgres.NewDB(cfg.Database)
			if err != nil {
				return err
			}
			defer db.Close()

			n, err := postgres.Migrate(cmd.Context(), db)
			if err != nil {
				return fmt.Errorf("migration failed after %d applied: %w", n, err)
			}
			lg.Info("migrations complete", "applied", n)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "List migrations and whether they are applied",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := postgres.NewDB(cfg.Database)
			if err != nil {
				return err
			}
			defer db.Close()

			done, err := postgres.Applied(cmd.Context(), db)
			if err != nil {
				return err
			}
			migrations, err := postgres.LoadMigrations()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, m := range migrations {
				state := "pending"
				if done[m.Version] {
					state = "applied"
				}
				fmt.Fprintf(out, "%03d  %-40s %s\n", m.Version, m.Name, state)
			}
			return nil
		},
	})

	return cmd
}
