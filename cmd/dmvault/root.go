// Package main provides the dmvault CLI commands.
package main

import (
	"context"
	"fmt"
	"os"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/forest6511/dmvault/pkg/config"
	"github.com/forest6511/dmvault/pkg/keyring"
	"github.com/forest6511/dmvault/pkg/vault"
)

var (
	flagConfig  string
	flagRoot    string
	flagKeyring string

	cfg  *config.Config
	ring *keyring.Keyring
)

var rootCmd = &cobra.Command{
	Use:   "dmvault",
	Short: "dmvault is a local encrypted-vault manager",
	Long: `dmvault stores files and key/value secrets on disk in encrypted form,
tracks their version history in a local database, and validates the key
identity used for encryption before trusting it.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		path := flagConfig
		if path == "" {
			path = config.DefaultPath()
		}
		var err error
		if cfg, err = config.Load(path); err != nil {
			return err
		}

		ring = keyring.Open(cfg.ResolveKeyringDir(flagKeyring))
		ring.Passphrase = promptPassphrase
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Config file (default: ~/"+config.FileName+")")
	rootCmd.PersistentFlags().StringVar(&flagRoot, "vault", "", "Vault root directory (default: current directory)")
	rootCmd.PersistentFlags().StringVar(&flagKeyring, "keyring", "", "Keyring directory (default: ~/.dmvault/keyring)")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(fileCmd)
	rootCmd.AddCommand(secretCmd)
	rootCmd.AddCommand(keysCmd)
	rootCmd.AddCommand(verifyCmd)
}

// newVault builds an unopened vault handle for the resolved root.
func newVault() *vault.Vault {
	v := vault.New(cfg.ResolveRoot(flagRoot), ring)
	v.ValidateBeforeMutate = cfg.ValidatePolicy()
	return v
}

// openVault opens the vault at the resolved root; callers must Close it.
func openVault(ctx context.Context) (*vault.Vault, error) {
	v := newVault()
	if err := v.Open(ctx); err != nil {
		return nil, err
	}
	return v, nil
}

// promptPassphrase supplies passphrases for protected keyring keys:
// environment first, then an interactive prompt when stdin is a
// terminal.
func promptPassphrase(fingerprint string) ([]byte, error) {
	if p := os.Getenv(config.EnvPassphrase); p != "" {
		return []byte(p), nil
	}
	if !term.IsTerminal(int(syscall.Stdin)) {
		return nil, fmt.Errorf("passphrase required for key %s; set %s", fingerprint, config.EnvPassphrase)
	}
	fmt.Fprintf(os.Stderr, "Enter passphrase for key %s: ", shortID(fingerprint))
	passphrase, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("failed to read passphrase: %w", err)
	}
	return passphrase, nil
}

// shortID abbreviates a fingerprint for display.
func shortID(fingerprint string) string {
	if len(fingerprint) > 16 {
		return fingerprint[:16]
	}
	return fingerprint
}
