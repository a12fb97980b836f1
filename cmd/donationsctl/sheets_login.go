package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"donations/internal/source/sheets"
)

func newSheetsLoginCmd(a *app) *cobra.Command {
	var (
		port      int
		timeout   time.Duration
		tokenFile string
	)
	cmd := &cobra.Command{
		Use:   "sheets-login",
		Short: "Authorize read access to the donations spreadsheet and store the OAuth token",
		Long: "Runs the OAuth consent flow for the client in GOOGLE_OAUTH_CLIENT_JSON or GOOGLE_OAUTH_CLIENT_FILE " +
			"and writes the resulting token to the file the Sheets source reads from GOOGLE_OAUTH_TOKEN_FILE.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			secret, err := sheets.ReadClientSecret(os.Getenv("GOOGLE_OAUTH_CLIENT_JSON"), os.Getenv("GOOGLE_OAUTH_CLIENT_FILE"))
			if err != nil {
				return err
			}
			cfg, err := sheets.OAuthConfig(secret, fmt.Sprintf("http://localhost:%d/callback", port))
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			tok, err := sheets.Authorize(ctx, cfg, fmt.Sprintf(":%d", port), func(u string) {
				fmt.Fprintf(a.out, "Open this URL in your browser to authorize:\n%s\n", u)
			})
			if err != nil {
				return err
			}
			if err := sheets.SaveToken(tokenFile, tok); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Token saved to %s\n", tokenFile)
			return nil
		},
	}
	defaultToken := os.Getenv("GOOGLE_OAUTH_TOKEN_FILE")
	if defaultToken == "" {
		defaultToken = "token.json"
	}
	cmd.Flags().IntVar(&port, "port", 8085, "Local port for the OAuth redirect")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "How long to wait for consent")
	cmd.Flags().StringVar(&tokenFile, "token-file", defaultToken, "Where to write the token")
	return cmd
}
