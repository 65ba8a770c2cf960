package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/loglineos/ledger/internal/authz"
	"github.com/loglineos/ledger/internal/config"
	"github.com/loglineos/ledger/internal/kernel"
	"github.com/loglineos/ledger/internal/ledger"
	"github.com/loglineos/ledger/internal/secret"
	"github.com/loglineos/ledger/internal/wallet"
)

// Env is the wired service graph every command operates on. Commands
// open it from the config file, use it, and close it.
type Env struct {
	Config  config.Config
	Store   *ledger.Store
	Secrets secret.Store
	Wallets *wallet.Service
	Invoker *wallet.Invoker
	Auth    *authz.Authorizer
	Kernel  *kernel.Kernel
	Log     zerolog.Logger
}

// OpenEnv loads configuration and wires the full service graph. The
// kernel registry starts with the built-in runtimes.
func OpenEnv(opts *RootOptions) (*Env, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "loading config", err)
	}

	log, err := newLogger(cfg.LogLevel, opts.Verbose)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "configuring logger", err)
	}

	store, err := ledger.Open(cfg.DBPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "opening ledger", err)
	}

	secrets, err := secret.NewDir(cfg.SecretDir)
	if err != nil {
		store.Close()
		return nil, WrapExitError(ExitCommandError, "opening secret store", err)
	}

	reg, err := wallet.NewRegistry(store.DB())
	if err != nil {
		store.Close()
		return nil, WrapExitError(ExitCommandError, "opening wallet registry", err)
	}
	wallets := wallet.NewService(reg, secrets, wallet.NewNonceStore(cfg.NonceTTL.Std()))

	auth, err := authz.New(store, secrets, cfg.PepperRef, cfg.CacheTTL.Std())
	if err != nil {
		store.Close()
		return nil, WrapExitError(ExitCommandError, "opening authorizer", err)
	}
	auth.TokenTTL = cfg.TokenTTL.Std()

	env := &Env{
		Config:  cfg,
		Store:   store,
		Secrets: secrets,
		Wallets: wallets,
		Auth:    auth,
		Kernel:  kernel.New(builtinRuntimes()),
		Log:     log,
	}
	if len(cfg.Providers) > 0 {
		env.Invoker = wallet.NewInvoker(wallets, cfg.Providers)
	}
	return env, nil
}

// Close releases the environment.
func (e *Env) Close() error {
	return e.Store.Close()
}

func newLogger(level string, verbose bool) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Logger{}, fmt.Errorf("unknown log level %q", level)
	}
	if verbose && lvl > zerolog.DebugLevel {
		lvl = zerolog.DebugLevel
	}
	return zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Logger(), nil
}

// builtinRuntimes registers the runtimes every deployment carries.
func builtinRuntimes() *kernel.Registry {
	reg := kernel.NewRegistry()

	// echo returns its input untouched, for wiring checks.
	reg.Register("echo", kernel.RuntimeFunc(func(_ context.Context, caps kernel.Capabilities) (map[string]any, error) {
		return caps.Input, nil
	}))

	// hash answers with the content hash of the input.
	reg.Register("hash", kernel.RuntimeFunc(func(_ context.Context, caps kernel.Capabilities) (map[string]any, error) {
		sum, err := caps.Hash(caps.Input)
		if err != nil {
			return nil, err
		}
		return map[string]any{"hash": sum, "at": caps.Now().UTC().Format(time.RFC3339Nano)}, nil
	}))

	return reg
}
