package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"telemetra.io/internal/auth"
)

func newTokenCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Token utilities",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "inspect TOKEN",
		Short: "Verify a token with the configured key and print its claims",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.configPath == "" {
				return errors.New("--config is required to load the signing key")
			}
			cfg, err := a.loadConfig(a.configPath)
			if err != nil {
				return err
			}
			codec, err := auth.NewCodec([]byte(cfg.Auth.SigningKey), cfg.Auth.Algorithm, cfg.Auth.Issuer, time.Now)
			if err != nil {
				return err
			}
			claims, err := codec.Parse(strings.TrimSpace(args[0]))
			if err != nil {
				return fmt.Errorf("token rejected: %w", err)
			}
			enc := json.NewEncoder(a.out)
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{
				"subject":    claims.Subject,
				"class":      claims.Class,
				"name":       claims.Name,
				"jti":        claims.ID,
				"issued_at":  claims.IssuedAt.UTC().Format(time.RFC3339),
				"expires_at": claims.ExpiresAt.UTC().Format(time.RFC3339),
			})
		},
	})
	return cmd
}
