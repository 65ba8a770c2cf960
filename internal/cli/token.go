package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/loglineos/ledger/internal/authz"
)

// NewTokenCommand groups bearer token lifecycle subcommands.
func NewTokenCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue, revoke, rotate, and list bearer tokens",
	}
	cmd.AddCommand(newTokenIssueCommand(opts, false))
	cmd.AddCommand(newTokenIssueCommand(opts, true))
	cmd.AddCommand(newTokenRevokeCommand(opts))
	cmd.AddCommand(newTokenListCommand(opts))
	return cmd
}

func newTokenIssueCommand(opts *RootOptions, rotate bool) *cobra.Command {
	var (
		walletID    string
		tenantID    string
		scopes      []string
		ttl         time.Duration
		description string
	)

	use, short := "issue", "Issue a new bearer token"
	if rotate {
		use, short = "rotate", "Revoke all wallet tokens and issue a fresh one"
	}

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := &OutputFormatter{
				Format:    opts.Format,
				Writer:    cmd.OutOrStdout(),
				ErrWriter: cmd.ErrOrStderr(),
				Verbose:   opts.Verbose,
			}

			if walletID == "" || tenantID == "" {
				return NewExitError(ExitCommandError, "--wallet and --tenant-id are required")
			}

			env, err := OpenEnv(opts)
			if err != nil {
				return err
			}
			defer env.Close()

			req := authz.IssueRequest{
				WalletID:    walletID,
				TenantID:    tenantID,
				Scopes:      scopes,
				TTL:         ttl,
				Description: description,
				CreatedBy:   opts.UserID,
			}

			var issued authz.Issued
			if rotate {
				issued, err = env.Auth.Rotate(cmd.Context(), req)
			} else {
				issued, err = env.Auth.Issue(cmd.Context(), req)
			}
			if err != nil {
				formatter.Error(ErrCodeGeneric, err.Error(), nil)
				return WrapExitError(ExitFailure, use, err)
			}

			if opts.Format == "json" {
				return formatter.Success(issued)
			}
			// The secret is shown exactly once.
			return formatter.Success(fmt.Sprintf("token: %s\nhash: %s (store the token now, it cannot be recovered)",
				issued.Secret, issued.HashPreview))
		},
	}

	cmd.Flags().StringVar(&walletID, "wallet", "", "wallet id the token belongs to")
	cmd.Flags().StringVar(&tenantID, "tenant-id", "", "tenant the token is bound to")
	cmd.Flags().StringSliceVar(&scopes, "scope", nil, "granted scope (repeatable)")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default from config)")
	cmd.Flags().StringVar(&description, "description", "", "human-readable purpose")
	return cmd
}

func newTokenRevokeCommand(opts *RootOptions) *cobra.Command {
	var walletID string

	cmd := &cobra.Command{
		Use:   "revoke",
		Short: "Revoke all active tokens of a wallet",
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := &OutputFormatter{
				Format:    opts.Format,
				Writer:    cmd.OutOrStdout(),
				ErrWriter: cmd.ErrOrStderr(),
				Verbose:   opts.Verbose,
			}

			if walletID == "" {
				return NewExitError(ExitCommandError, "--wallet is required")
			}

			env, err := OpenEnv(opts)
			if err != nil {
				return err
			}
			defer env.Close()

			n, err := env.Auth.Revoke(cmd.Context(), walletID)
			if err != nil {
				formatter.Error(ErrCodeGeneric, err.Error(), nil)
				return WrapExitError(ExitFailure, "revoke", err)
			}

			if opts.Format == "json" {
				return formatter.Success(map[string]any{"revoked": n})
			}
			return formatter.Success(fmt.Sprintf("revoked %d token(s)", n))
		},
	}

	cmd.Flags().StringVar(&walletID, "wallet", "", "wallet id")
	return cmd
}

func newTokenListCommand(opts *RootOptions) *cobra.Command {
	var walletID string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tokens of a wallet",
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := &OutputFormatter{
				Format:    opts.Format,
				Writer:    cmd.OutOrStdout(),
				ErrWriter: cmd.ErrOrStderr(),
				Verbose:   opts.Verbose,
			}

			if walletID == "" {
				return NewExitError(ExitCommandError, "--wallet is required")
			}

			env, err := OpenEnv(opts)
			if err != nil {
				return err
			}
			defer env.Close()

			tokens, err := env.Auth.List(cmd.Context(), walletID)
			if err != nil {
				formatter.Error(ErrCodeGeneric, err.Error(), nil)
				return WrapExitError(ExitFailure, "list", err)
			}

			if opts.Format == "json" {
				return formatter.Success(tokens)
			}
			for _, tok := range tokens {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %-8s exp=%d  %v  %s\n",
					tok.HashPreview, tok.Status, tok.ExpiresAt, tok.Scopes, tok.Description)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d token(s)\n", len(tokens))
			return nil
		},
	}

	cmd.Flags().StringVar(&walletID, "wallet", "", "wallet id")
	return cmd
}
