package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-intercom/internal/api"
	"github.com/nerrad567/gray-logic-intercom/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-intercom/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-intercom/internal/sip/digest"
	"github.com/nerrad567/gray-logic-intercom/migrations"
)

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "intercom %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}

// tokenCmd mints an operator token signed with the configured secret, for
// provisioning panels and home-automation controllers.
func tokenCmd(configPath *string) *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an operator access token for the control API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if ttl == 0 {
				ttl = time.Duration(cfg.Security.JWT.AccessTokenTTL) * time.Minute
			}
			token, err := api.IssueToken(cfg.Security.JWT.Secret, subject, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "operator", "token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default security.jwt.access_token_ttl)")
	return cmd
}

// digestCmd computes a digest answer offline, to compare against what a
// SIP server expects when registration keeps failing with 401.
func digestCmd() *cobra.Command {
	var (
		creds     digest.Credentials
		challenge string
		method    string
		uri       string
		proxy     bool
	)

	cmd := &cobra.Command{
		Use:   "digest",
		Short: "Compute the digest response for a captured challenge",
		Example: `  intercom digest --username door1 --domain pbx.local --password secret \
    --challenge 'Digest realm="pbx.local", nonce="abc123"'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if creds.Password == "" {
				creds.Password = os.Getenv("INTERCOM_SIP_PASSWORD")
			}
			if err := creds.Validate(); err != nil {
				return err
			}
			if challenge == "" {
				return errors.New("--challenge is required")
			}

			header := digest.HeaderWWWAuthenticate
			if proxy {
				header = digest.HeaderProxyAuthenticate
			}
			ch, err := digest.ParseChallenge(header, challenge)
			if err != nil {
				return err
			}
			if uri == "" {
				uri = "sip:" + creds.Domain
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "response: %s\n", digest.ComputeResponse(creds, ch, method, uri))
			fmt.Fprintf(out, "%s: %s\n", ch.ResponseHeader(), digest.Authorization(creds, ch, method, uri))
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&creds.Username, "username", "", "SIP username")
	f.StringVar(&creds.Domain, "domain", "", "SIP domain")
	f.StringVar(&creds.Password, "password", "", "SIP password (env INTERCOM_SIP_PASSWORD)")
	f.StringVar(&challenge, "challenge", "", "WWW-Authenticate or Proxy-Authenticate value")
	f.StringVar(&method, "method", "REGISTER", "request method")
	f.StringVar(&uri, "uri", "", "request URI (default sip:<domain>)")
	f.BoolVar(&proxy, "proxy", false, "challenge came from a proxy (407)")
	return cmd
}

func migrateCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Inspect or roll back the database schema",
	}

	openDB := func() (*database.DB, error) {
		cfg, err := config.Load(*configPath)
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
		return database.Open(cfg.Database)
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "List applied and pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			applied, pending, err := db.MigrationStatus(cmd.Context(), migrations.FS)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, m := range applied {
				fmt.Fprintf(out, "applied  %s  %s\n", m.Version, m.AppliedAt.Format(time.RFC3339))
			}
			for _, m := range pending {
				fmt.Fprintf(out, "pending  %s  %s\n", m.Version, m.Name)
			}
			return nil
		},
	}

	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()
			return db.MigrateDown(cmd.Context(), migrations.FS)
		},
	}

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()
			return db.Migrate(cmd.Context(), migrations.FS)
		},
	}

	cmd.AddCommand(status, up, down)
	return cmd
}
