package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"telemetra.io/internal/migrate"
	"telemetra.io/migrations"
)

func newMigrateCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply, roll back or inspect schema migrations",
	}

	withManager := func(fn func(ctx context.Context, m *migrate.Manager) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			dsn, err := a.requireDSN()
			if err != nil {
				return err
			}
			db, err := a.openDB(dsn)
			if err != nil {
				return fmt.Errorf("open db: %w", err)
			}
			defer func(db *sql.DB) { _ = db.Close() }(db)
			return fn(cmd.Context(), migrate.NewManager(db, migrations.Schema, migrations.Seeds))
		}
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: withManager(func(ctx context.Context, m *migrate.Manager) error {
			applied, err := m.Up(ctx)
			for _, name := range applied {
				fmt.Fprintf(a.out, "applied %s\n", name)
			}
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				fmt.Fprintln(a.out, "schema is up to date")
			}
			return nil
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migration",
		Args:  cobra.NoArgs,
		RunE: withManager(func(ctx context.Context, m *migrate.Manager) error {
			name, err := m.Down(ctx)
			if errors.Is(err, migrate.ErrNothingApplied) {
				fmt.Fprintln(a.out, "nothing to roll back")
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "rolled back %s\n", name)
			return nil
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "List migrations and whether they are applied",
		Args:  cobra.NoArgs,
		RunE: withManager(func(ctx context.Context, m *migrate.Manager) error {
			items, err := m.Status(ctx)
			if err != nil {
				return err
			}
			for _, it := range items {
				mark := " "
				if it.Applied {
					mark = "x"
				}
				fmt.Fprintf(a.out, "[%s] %s\n", mark, it.Name)
			}
			return nil
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "seed",
		Short: "Load demo seed data",
		Args:  cobra.NoArgs,
		RunE: withManager(func(ctx context.Context, m *migrate.Manager) error {
			applied, err := m.Seed(ctx)
			for _, name := range applied {
				fmt.Fprintf(a.out, "seeded %s\n", name)
			}
			return err
		}),
	})

	return cmd
}
