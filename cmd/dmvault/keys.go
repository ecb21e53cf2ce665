package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/forest6511/dmvault/pkg/keyring"
	"github.com/forest6511/dmvault/pkg/vault"
)

func init() {
	keysCmd.AddCommand(keysValidateCmd)
	keysCmd.AddCommand(keysListCmd)
}

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Key identity operations",
}

// keysValidateCmd is a pure diagnostic: it touches only the keyring,
// never the vault, and takes no lock.
var keysValidateCmd = &cobra.Command{
	Use:   "validate <key-id>",
	Short: "Check whether a key identity is usable for encryption",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		k, status, err := ring.Resolve(args[0])
		if err != nil {
			return err
		}

		fmt.Printf("Key '%s': %s\n", args[0], status)
		if k != nil {
			printKeyDetail(k)
		}

		switch status {
		case keyring.StatusValid:
			return nil
		case keyring.StatusNotFound:
			return fmt.Errorf("%w: %s", keyring.ErrKeyNotFound, args[0])
		case keyring.StatusAmbiguous:
			return fmt.Errorf("%w: %s", keyring.ErrAmbiguousKey, args[0])
		default:
			return fmt.Errorf("%w: %s", vault.ErrInvalidKey, args[0])
		}
	},
}

var keysListCmd = &cobra.Command{
	Use:   "list",
	Short: "List key identities in the keyring",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		keys, err := ring.List()
		if err != nil {
			return err
		}
		if len(keys) == 0 {
			fmt.Printf("No keys in keyring (%s)\n", ring.Dir())
			return nil
		}
		fmt.Printf("Keys in %s:\n", ring.Dir())
		for _, k := range keys {
			marker := " "
			if !k.Usable() {
				marker = "!"
			}
			name := k.Name
			if name == "" {
				name = "-"
			}
			fmt.Printf("  %s %s  %s\n", marker, shortID(k.Fingerprint), name)
		}
		return nil
	},
}

func printKeyDetail(k *keyring.Key) {
	fmt.Printf("  Fingerprint:  %s\n", k.Fingerprint)
	if k.Name != "" {
		fmt.Printf("  Name:         %s\n", k.Name)
	}
	fmt.Printf("  Capabilities: %s\n", strings.Join(k.Capabilities, ","))
	fmt.Printf("  Private key:  %t\n", k.HasPrivateKey())
	if k.ExpiresAt != nil {
		state := "expires"
		if k.Expired() {
			state = "expired"
		}
		fmt.Printf("  Expiry:       %s %s\n", state, k.ExpiresAt.Format("2006-01-02"))
	}
	if k.Revoked {
		fmt.Println("  Revoked:      true")
	}
}
