package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/loglineos/ledger/internal/seed"
	"github.com/loglineos/ledger/internal/server"
)

// NewServeCommand runs the HTTP service.
func NewServeCommand(opts *RootOptions) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the ledger HTTP service",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := OpenEnv(opts)
			if err != nil {
				return err
			}
			defer env.Close()

			if env.Config.SeedDir != "" {
				defs, err := seed.Load(env.Config.SeedDir)
				if err != nil {
					return WrapExitError(ExitCommandError, "loading seed", err)
				}
				sess := env.Store.Bind(opts.UserID, opts.TenantID)
				sum, err := seed.Apply(cmd.Context(), defs, sess, env.Wallets.Registry())
				if err != nil {
					return WrapExitError(ExitCommandError, "applying seed", err)
				}
				env.Log.Info().
					Int("functions", sum.Functions).
					Bool("manifest", sum.Manifest).
					Int("wallets", sum.Wallets).
					Msg("seed applied")
			}

			addr := env.Config.Listen
			if listen != "" {
				addr = listen
			}

			srv := server.New(server.Options{
				Store:   env.Store,
				Wallets: env.Wallets,
				Invoker: env.Invoker,
				Auth:    env.Auth,
				Kernel:  env.Kernel,
				Log:     env.Log,
			})
			httpSrv := &http.Server{
				Addr:              addr,
				Handler:           srv.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			errc := make(chan error, 1)
			go func() {
				env.Log.Info().Str("listen", addr).Msg("serving")
				errc <- httpSrv.ListenAndServe()
			}()

			select {
			case err := <-errc:
				if err != nil && !errors.Is(err, http.ErrServerClosed) {
					return WrapExitError(ExitCommandError, "server", err)
				}
				return nil
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				env.Log.Info().Msg("shutting down")
				return httpSrv.Shutdown(shutdownCtx)
			}
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "override the configured listen address")
	return cmd
}
