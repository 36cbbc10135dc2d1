// Command telemetra is the operator CLI: schema migrations, tenant
// bootstrap and token inspection.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"telemetra.io/internal/auth"
	"telemetra.io/internal/config"
	"telemetra.io/internal/store/pg"
)

var version = "0.1.0"

// app holds the dependencies commands reach for, so tests can swap them.
type app struct {
	in  io.Reader
	out io.Writer

	configPath string
	dsn        string

	openDB     func(dsn string) (*sql.DB, error)
	openStore  func(dsn string) (auth.Store, func(), error)
	loadConfig func(path string) (*config.Config, error)
}

func defaultApp() *app {
	return &app{
		in:         os.Stdin,
		out:        os.Stdout,
		openDB:     openDB,
		openStore:  openPgStore,
		loadConfig: config.Load,
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "telemetra",
		Short:         "Telemetra operator CLI",
		Long:          "Operator tooling for the Telemetra API: database migrations, company bootstrap and token inspection.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetIn(a.in)
	root.SetOut(a.out)

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", os.Getenv("TELEMETRA_CONFIG"), "path to YAML config")
	root.PersistentFlags().StringVar(&a.dsn, "dsn", os.Getenv("TELEMETRA_DATABASE_DSN"), "PostgreSQL DSN")

	root.AddCommand(newMigrateCmd(a))
	root.AddCommand(newFoundCompanyCmd(a))
	root.AddCommand(newTokenCmd(a))
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(defaultApp()).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "telemetra: %v\n", err)
		os.Exit(1)
	}
}

func (a *app) requireDSN() (string, error) {
	if a.dsn != "" {
		return a.dsn, nil
	}
	if a.configPath != "" {
		cfg, err := a.loadConfig(a.configPath)
		if err != nil {
			return "", err
		}
		if cfg.Database.DSN != "" {
			return cfg.Database.DSN, nil
		}
	}
	return "", fmt.Errorf("missing DSN: provide --dsn or TELEMETRA_DATABASE_DSN")
}

func openDB(dsn string) (*sql.DB, error) {
	st, err := pg.Open(dsn, pg.PoolConfig{MaxOpenConns: 2, MaxIdleConns: 1})
	if err != nil {
		return nil, err
	}
	return st.DB(), nil
}

func openPgStore(dsn string) (auth.Store, func(), error) {
	st, err := pg.Open(dsn, pg.PoolConfig{MaxOpenConns: 4, MaxIdleConns: 2})
	if err != nil {
		return nil, nil, err
	}
	return st, func() { _ = st.Close() }, nil
}
