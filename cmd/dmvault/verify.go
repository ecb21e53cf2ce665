package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/forest6511/dmvault/pkg/vault"
)

var verifyRepair bool

func init() {
	verifyCmd.Flags().BoolVar(&verifyRepair, "repair", false, "Delete orphan blobs left by interrupted commits")
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Audit blob/metadata consistency",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := openVault(cmd.Context())
		if err != nil {
			return err
		}
		defer v.Close()

		var result *vault.VerifyResult
		if verifyRepair {
			result, err = v.Repair(cmd.Context())
		} else {
			result, err = v.Verify(cmd.Context())
		}
		if err != nil {
			return err
		}

		for _, blob := range result.OrphanBlobs {
			if verifyRepair {
				fmt.Printf("Removed orphan blob: %s\n", blob)
			} else {
				fmt.Printf("Orphan blob: %s\n", blob)
			}
		}
		for _, ref := range result.MissingBlobs {
			fmt.Printf("Missing blob: %s\n", ref)
		}

		chain, err := v.VerifyAudit()
		if err != nil {
			fmt.Printf("Audit log: unavailable (%v)\n", err)
		} else if chain.Valid {
			fmt.Printf("Audit log: %d event(s), chain intact\n", chain.Events)
		} else {
			fmt.Printf("Audit log: chain broken at event %d (%s)\n", chain.BadSeq, chain.Message)
		}

		if len(result.MissingBlobs) > 0 {
			return fmt.Errorf("vault: %d version(s) reference missing blobs", len(result.MissingBlobs))
		}
		if len(result.OrphanBlobs) > 0 && !verifyRepair {
			fmt.Printf("%d orphan blob(s); run 'dmvault verify --repair' to remove them\n", len(result.OrphanBlobs))
			return nil
		}
		fmt.Println("Vault is consistent")
		return nil
	},
}
