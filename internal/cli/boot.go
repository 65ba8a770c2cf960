package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/loglineos/ledger/internal/kernel"
)

// NewBootCommand boots a function span through the kernel state machine.
// CLI boots carry no authorization context; the manifest and signature
// gates still apply.
func NewBootCommand(opts *RootOptions) *cobra.Command {
	var (
		bootID string
		input  string
	)

	cmd := &cobra.Command{
		Use:   "boot",
		Short: "Boot and execute a function span",
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := &OutputFormatter{
				Format:    opts.Format,
				Writer:    cmd.OutOrStdout(),
				ErrWriter: cmd.ErrOrStderr(),
				Verbose:   opts.Verbose,
			}

			if bootID == "" {
				return NewExitError(ExitCommandError, "--id is required")
			}

			var in map[string]any
			if input != "" {
				if err := json.Unmarshal([]byte(input), &in); err != nil {
					return WrapExitError(ExitCommandError, "parsing --input", err)
				}
			}

			env, err := OpenEnv(opts)
			if err != nil {
				return err
			}
			defer env.Close()

			sess := env.Store.Bind(opts.UserID, opts.TenantID)
			res, err := env.Kernel.Boot(cmd.Context(), sess, kernel.Request{
				BootID: bootID,
				Input:  in,
				Caller: opts.UserID,
			})
			if err != nil {
				formatter.Error(ErrCodeGeneric, err.Error(), nil)
				return WrapExitError(ExitCommandError, "boot", err)
			}

			if opts.Format == "json" {
				if err := formatter.Success(res); err != nil {
					return err
				}
			} else {
				switch res.State {
				case kernel.StateDenied:
					formatter.Error(ErrCodeDenied, fmt.Sprintf("denied: %s", res.Reason), nil)
				case kernel.StateError:
					formatter.Error(ErrCodeGeneric, fmt.Sprintf("execution failed: %s", res.Error), res.SpanID)
				default:
					formatter.Success(fmt.Sprintf("executed in %dms, span %s", res.DurationMS, res.SpanID))
				}
			}

			if res.State != kernel.StateExecuted || !res.OK {
				return NewExitError(ExitFailure, string(res.State))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&bootID, "id", "", "function span id to boot")
	cmd.Flags().StringVar(&input, "input", "", "JSON input payload")
	return cmd
}
