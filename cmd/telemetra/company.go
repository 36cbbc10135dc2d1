package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"telemetra.io/internal/audit"
	"telemetra.io/internal/auth"
)

func newFoundCompanyCmd(a *app) *cobra.Command {
	var (
		req           auth.FoundCompanyRequest
		passwordStdin bool
	)
	cmd := &cobra.Command{
		Use:   "found-company",
		Short: "Create a company together with its founding admin",
		Long: `Create a company, its founding admin identity and the admin membership
in one transaction. The admin password is read from TELEMETRA_ADMIN_PASSWORD
or, with --password-stdin, from the first line of standard input.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			secret, err := readSecret(a, passwordStdin)
			if err != nil {
				return err
			}
			req.AdminSecret = secret

			if a.configPath == "" {
				return errors.New("--config is required to load the signing key")
			}
			cfg, err := a.loadConfig(a.configPath)
			if err != nil {
				return err
			}
			dsn := a.dsn
			if dsn == "" {
				dsn = cfg.Database.DSN
			}
			if dsn == "" {
				return errors.New("missing DSN: provide --dsn or database.dsn")
			}
			store, closeStore, err := a.openStore(dsn)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer closeStore()

			svc, err := auth.NewService(store,
				auth.WithSigningKey(cfg.Auth.SigningKey),
				auth.WithAlgorithm(cfg.Auth.Algorithm),
				auth.WithIssuer(cfg.Auth.Issuer),
				auth.WithAccessTTL(cfg.Auth.AccessTTL),
				auth.WithRefreshTTL(cfg.Auth.RefreshTTL),
			)
			if err != nil {
				return err
			}
			company, admin, err := svc.FoundCompany(cmd.Context(), req)
			if err != nil {
				return err
			}
			_ = audit.LogEvent(cmd.Context(), "auth.company.founded", map[string]any{
				"company_id":   company.ID,
				"admin_id":     admin.ID,
				"identity_ref": auth.IdentityRef(admin.Handle),
			})
			enc := json.NewEncoder(a.out)
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{
				"company": company,
				"admin":   admin,
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&req.Name, "name", "", "company name")
	f.StringVar(&req.Address, "address", "", "company address")
	f.StringVar(&req.AdminHandle, "admin-email", "", "founding admin email")
	f.StringVar(&req.AdminName, "admin-name", "", "founding admin display name")
	f.BoolVar(&passwordStdin, "password-stdin", false, "read the admin password from stdin")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("admin-email")
	_ = cmd.MarkFlagRequired("admin-name")
	return cmd
}

func readSecret(a *app, fromStdin bool) (string, error) {
	if fromStdin {
		line, err := bufio.NewReader(a.in).ReadString('\n')
		if err != nil && line == "" {
			return "", fmt.Errorf("read password: %w", err)
		}
		return strings.TrimRight(line, "\r\n"), nil
	}
	if v := os.Getenv("TELEMETRA_ADMIN_PASSWORD"); v != "" {
		return v, nil
	}
	return "", errors.New("admin password required: set TELEMETRA_ADMIN_PASSWORD or use --password-stdin")
}
