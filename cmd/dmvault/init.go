package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// initCmd binds a validated key identity to a fresh vault.
var initCmd = &cobra.Command{
	Use:   "init <key-id>",
	Short: "Initialize a new vault bound to a key identity",
	Long: `Initialize a new vault in the current directory (or --vault) and bind
it to the given key identity. The key must exist in the keyring, be
unexpired, unrevoked, and encrypt-capable. Re-running init against an
existing vault fails; it never resets state.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v := newVault()
		if err := v.Init(cmd.Context(), args[0]); err != nil {
			return err
		}
		defer v.Close()

		fmt.Printf("Vault initialized at %s\n", v.Root())
		fmt.Printf("Bound key: %s\n", v.Identity().KeyID)
		return nil
	},
}
