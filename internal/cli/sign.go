package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewSignCommand signs a span through a wallet key.
func NewSignCommand(opts *RootOptions) *cobra.Command {
	var (
		walletID string
		kid      string
		file     string
	)

	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Sign a span with a wallet key",
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := &OutputFormatter{
				Format:    opts.Format,
				Writer:    cmd.OutOrStdout(),
				ErrWriter: cmd.ErrOrStderr(),
				Verbose:   opts.Verbose,
			}

			if walletID == "" || kid == "" {
				return NewExitError(ExitCommandError, "--wallet and --kid are required")
			}

			sp, err := readSpan(file, cmd.InOrStdin())
			if err != nil {
				formatter.Error(ErrCodeGeneric, err.Error(), nil)
				return WrapExitError(ExitCommandError, "reading span", err)
			}

			env, err := OpenEnv(opts)
			if err != nil {
				return err
			}
			defer env.Close()

			res, err := env.Wallets.SignSpan(cmd.Context(), walletID, kid, sp)
			if err != nil {
				formatter.Error(ErrCodeDenied, err.Error(), nil)
				return WrapExitError(ExitFailure, "sign", err)
			}

			if opts.Format == "json" {
				return formatter.Success(res)
			}
			return formatter.Success(fmt.Sprintf("signed %s with %s/%s", res.PayloadHash, walletID, kid))
		},
	}

	cmd.Flags().StringVar(&walletID, "wallet", "", "wallet id")
	cmd.Flags().StringVar(&kid, "kid", "", "key id within the wallet")
	cmd.Flags().StringVar(&file, "file", "", "span JSON file (stdin when omitted)")
	return cmd
}
