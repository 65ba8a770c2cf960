package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/loglineos/ledger/internal/seed"
)

// NewSeedCommand applies a CUE seed directory to the ledger.
func NewSeedCommand(opts *RootOptions) *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Apply CUE seed definitions (kernels, manifest, wallets)",
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := &OutputFormatter{
				Format:    opts.Format,
				Writer:    cmd.OutOrStdout(),
				ErrWriter: cmd.ErrOrStderr(),
				Verbose:   opts.Verbose,
			}

			if dir == "" {
				return NewExitError(ExitCommandError, "--dir is required")
			}

			defs, err := seed.Load(dir)
			if err != nil {
				formatter.Error(ErrCodeSeed, err.Error(), nil)
				return WrapExitError(ExitCommandError, "loading seed", err)
			}
			formatter.VerboseLog("loaded %d kernels, %d wallets from %s", len(defs.Kernels), len(defs.Wallets), dir)

			env, err := OpenEnv(opts)
			if err != nil {
				return err
			}
			defer env.Close()

			sess := env.Store.Bind(opts.UserID, opts.TenantID)
			sum, err := seed.Apply(cmd.Context(), defs, sess, env.Wallets.Registry())
			if err != nil {
				formatter.Error(ErrCodeSeed, err.Error(), nil)
				return WrapExitError(ExitCommandError, "applying seed", err)
			}

			if opts.Format == "json" {
				return formatter.Success(sum)
			}
			return formatter.Success(fmt.Sprintf("seeded %d functions, manifest=%v, %d wallets",
				sum.Functions, sum.Manifest, sum.Wallets))
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "", "seed directory containing CUE files")
	return cmd
}
