package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"trade-export/internal/middleware"
)

func newTokenCmd(rt *runtime) *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an HS256 bearer token for local use",
		Long: `Signs a token with JWT_SECRET for the given subject. The subject is the
identity the server assigns to requests carrying the token.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if rt.cfg.Auth.OIDCEnabled() {
				return fmt.Errorf("AUTH_ISSUER_URL is set; tokens come from the identity provider")
			}
			token, err := middleware.IssueHS256(rt.cfg.Auth.JWTSecret, subject, rt.cfg.Auth.Audience, ttl)
			if err != nil {
				return err
			}
			if getOutputFormat(cmd) == "json" {
				return printJSON(cmd.OutOrStdout(), map[string]string{"token": token})
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "Token subject (required)")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}
