package cli

import (
	"time"

	"govgate/internal/domain"
	"govgate/internal/infra/token"

	"github.com/spf13/cobra"
)

func newTokenCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue and inspect capability tokens",
	}
	cmd.AddCommand(newTokenIssueCommand(), newTokenInspectCommand())
	return cmd
}

func newTokenIssueCommand() *cobra.Command {
	var (
		subject string
		scope   []string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue a token signed with TOKEN_SIGNING_KEY",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			codec, err := newCodec()
			if err != nil {
				return err
			}
			raw, claims, err := codec.Issue(subject, scope, ttl)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), domain.IssuedToken{Token: raw, Claims: claims})
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "subject id the token speaks for")
	cmd.Flags().StringArrayVar(&scope, "scope", nil, "granted scope (repeatable)")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("subject")
	_ = cmd.MarkFlagRequired("scope")
	return cmd
}

func newTokenInspectCommand() *cobra.Command {
	var scope string
	cmd := &cobra.Command{
		Use:   "inspect <token>",
		Short: "Verify a token and print its claims without consuming its nonce",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			codec, err := newCodec()
			if err != nil {
				return err
			}
			claims, err := codec.Verify(args[0], scope)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), claims)
		},
	}
	cmd.Flags().StringVar(&scope, "scope", "", "require this scope")
	return cmd
}

func newCodec() (*token.Codec, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return token.NewCodec(token.Config{
		Key:    []byte(cfg.TokenSigningKey),
		Issuer: cfg.TokenIssuer,
		MaxTTL: cfg.TokenMaxTTL,
	})
}
