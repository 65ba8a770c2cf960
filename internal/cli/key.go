package cli

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/loglineos/ledger/internal/span"
	"github.com/loglineos/ledger/internal/wallet"
)

// NewKeyCommand groups wallet key lifecycle subcommands.
func NewKeyCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Register, rotate, revoke, and list wallet keys",
	}
	cmd.AddCommand(newKeyRegisterCommand(opts))
	cmd.AddCommand(newKeyRotateCommand(opts))
	cmd.AddCommand(newKeyRevokeCommand(opts))
	cmd.AddCommand(newKeyListCommand(opts))
	return cmd
}

// generateKeypair mints an Ed25519 seed, stores it under the secret
// reference, and returns the public key hex.
func generateKeypair(env *Env, cmd *cobra.Command, secretRef string) (string, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	seed := priv.Seed()
	if err := env.Secrets.Put(cmd.Context(), secretRef, []byte(hex.EncodeToString(seed))); err != nil {
		return "", fmt.Errorf("store seed: %w", err)
	}
	return hex.EncodeToString(pub), nil
}

func newKeyRegisterCommand(opts *RootOptions) *cobra.Command {
	var (
		walletID     string
		kid          string
		keyType      string
		secretRef    string
		capabilities []string
		owner        string
		tenantID     string
	)

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a key in a wallet (generates an Ed25519 keypair for signing keys)",
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
			if secretRef == "" {
				secretRef = fmt.Sprintf("wallets/%s/%s", walletID, kid)
			}

			env, err := OpenEnv(opts)
			if err != nil {
				return err
			}
			defer env.Close()

			if err := env.Wallets.Registry().EnsureWallet(cmd.Context(), walletID, owner, tenantID); err != nil {
				formatter.Error(ErrCodeGeneric, err.Error(), nil)
				return WrapExitError(ExitFailure, "ensure wallet", err)
			}

			item := wallet.KeyItem{
				WalletID:     walletID,
				Kid:          kid,
				Type:         keyType,
				SecretRef:    secretRef,
				Capabilities: capabilities,
			}
			if keyType == wallet.TypeEd25519 {
				pubHex, err := generateKeypair(env, cmd, secretRef)
				if err != nil {
					formatter.Error(ErrCodeGeneric, err.Error(), nil)
					return WrapExitError(ExitFailure, "register", err)
				}
				item.PublicKey = pubHex
			}

			if err := env.Wallets.Registry().RegisterKey(cmd.Context(), item); err != nil {
				formatter.Error(ErrCodeGeneric, err.Error(), nil)
				return WrapExitError(ExitFailure, "register", err)
			}

			if opts.Format == "json" {
				item.SecretRef = ""
				return formatter.Success(item)
			}
			out := fmt.Sprintf("registered %s/%s (%s)", walletID, kid, keyType)
			if item.PublicKey != "" {
				pub, _ := hex.DecodeString(item.PublicKey)
				out += fmt.Sprintf("\nkey id: %s", span.KeyID(pub))
			}
			return formatter.Success(out)
		},
	}

	cmd.Flags().StringVar(&walletID, "wallet", "", "wallet id")
	cmd.Flags().StringVar(&kid, "kid", "", "key id within the wallet")
	cmd.Flags().StringVar(&keyType, "type", wallet.TypeEd25519, "key type (ed25519|provider_key)")
	cmd.Flags().StringVar(&secretRef, "secret-ref", "", "secret store reference (derived when empty)")
	cmd.Flags().StringSliceVar(&capabilities, "capability", nil, "granted capability (repeatable)")
	cmd.Flags().StringVar(&owner, "owner", "cli:operator", "wallet owner on first creation")
	cmd.Flags().StringVar(&tenantID, "tenant-id", "system", "wallet tenant on first creation")
	return cmd
}

func newKeyRotateCommand(opts *RootOptions) *cobra.Command {
	var (
		walletID string
		kid      string
	)

	cmd := &cobra.Command{
		Use:   "rotate",
		Short: "Rotate a signing key in place (new keypair, same kid and capabilities)",
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

			env, err := OpenEnv(opts)
			if err != nil {
				return err
			}
			defer env.Close()

			secretRef := fmt.Sprintf("wallets/%s/%s", walletID, kid)
			pubHex, err := generateKeypair(env, cmd, secretRef)
			if err != nil {
				formatter.Error(ErrCodeGeneric, err.Error(), nil)
				return WrapExitError(ExitFailure, "rotate", err)
			}

			if err := env.Wallets.Registry().RotateKey(cmd.Context(), walletID, kid, secretRef, pubHex); err != nil {
				formatter.Error(ErrCodeGeneric, err.Error(), nil)
				return WrapExitError(ExitFailure, "rotate", err)
			}

			if opts.Format == "json" {
				return formatter.Success(map[string]any{"rotated": kid, "public_key": pubHex})
			}
			return formatter.Success(fmt.Sprintf("rotated %s/%s", walletID, kid))
		},
	}

	cmd.Flags().StringVar(&walletID, "wallet", "", "wallet id")
	cmd.Flags().StringVar(&kid, "kid", "", "key id within the wallet")
	return cmd
}

func newKeyRevokeCommand(opts *RootOptions) *cobra.Command {
	var (
		walletID string
		kid      string
	)

	cmd := &cobra.Command{
		Use:   "revoke",
		Short: "Revoke a wallet key",
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

			env, err := OpenEnv(opts)
			if err != nil {
				return err
			}
			defer env.Close()

			if err := env.Wallets.Registry().RevokeKey(cmd.Context(), walletID, kid); err != nil {
				formatter.Error(ErrCodeGeneric, err.Error(), nil)
				return WrapExitError(ExitFailure, "revoke", err)
			}

			if opts.Format == "json" {
				return formatter.Success(map[string]any{"revoked": kid})
			}
			return formatter.Success(fmt.Sprintf("revoked %s/%s", walletID, kid))
		},
	}

	cmd.Flags().StringVar(&walletID, "wallet", "", "wallet id")
	cmd.Flags().StringVar(&kid, "kid", "", "key id within the wallet")
	return cmd
}

func newKeyListCommand(opts *RootOptions) *cobra.Command {
	var walletID string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List keys in a wallet",
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

			keys, err := env.Wallets.Registry().ListKeys(cmd.Context(), walletID)
			if err != nil {
				formatter.Error(ErrCodeGeneric, err.Error(), nil)
				return WrapExitError(ExitFailure, "list", err)
			}

			if opts.Format == "json" {
				for i := range keys {
					keys[i].SecretRef = ""
				}
				return formatter.Success(keys)
			}
			for _, k := range keys {
				fmt.Fprintf(cmd.OutOrStdout(), "%-12s %-13s %-8s %v\n", k.Kid, k.Type, k.Status, k.Capabilities)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d key(s)\n", len(keys))
			return nil
		},
	}

	cmd.Flags().StringVar(&walletID, "wallet", "", "wallet id")
	return cmd
}
