package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// Secret command flags
var (
	secretAddTags    string
	secretUpdateTags string
	secretListTags   string
)

func init() {
	secretCmd.AddCommand(secretAddCmd)
	secretCmd.AddCommand(secretListCmd)
	secretCmd.AddCommand(secretUpdateCmd)
	secretCmd.AddCommand(secretRemoveCmd)
	secretCmd.AddCommand(secretShowCmd)

	secretAddCmd.Flags().StringVarP(&secretAddTags, "tags", "t", "", "Comma-separated tags (e.g., prod,api)")
	secretUpdateCmd.Flags().StringVarP(&secretUpdateTags, "tags", "t", "", "Comma-separated tags; replaces the existing set")
	secretListCmd.Flags().StringVarP(&secretListTags, "tags", "t", "", "Only list secrets whose tags intersect this comma-separated set")
}

var secretCmd = &cobra.Command{
	Use:   "secret",
	Short: "Secret management operations",
}

// splitTags parses a comma-separated tag list, dropping empty items.
func splitTags(s string) []string {
	if s == "" {
		return nil
	}
	var tags []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

var secretAddCmd = &cobra.Command{
	Use:   "add <name> <value>",
	Short: "Add a new secret to the vault",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := openVault(cmd.Context())
		if err != nil {
			return err
		}
		defer v.Close()

		if err := v.AddSecret(cmd.Context(), args[0], args[1], splitTags(secretAddTags)); err != nil {
			return err
		}
		fmt.Printf("Secret '%s' added\n", args[0])
		return nil
	},
}

var secretListCmd = &cobra.Command{
	Use:   "list",
	Short: "List secrets in the vault",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := openVault(cmd.Context())
		if err != nil {
			return err
		}
		defer v.Close()

		secrets, err := v.ListSecrets(cmd.Context(), splitTags(secretListTags))
		if err != nil {
			return err
		}
		if len(secrets) == 0 {
			fmt.Println("No secrets found in vault")
			return nil
		}
		fmt.Println("Secrets in vault:")
		for _, s := range secrets {
			if len(s.Tags) > 0 {
				fmt.Printf("  %s  tags: %s\n", s.Name, strings.Join(s.Tags, ","))
			} else {
				fmt.Printf("  %s\n", s.Name)
			}
		}
		return nil
	},
}

var secretUpdateCmd = &cobra.Command{
	Use:   "update <name> <value>",
	Short: "Replace a secret's value and tags",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := openVault(cmd.Context())
		if err != nil {
			return err
		}
		defer v.Close()

		if err := v.UpdateSecret(cmd.Context(), args[0], args[1], splitTags(secretUpdateTags)); err != nil {
			return err
		}
		fmt.Printf("Secret '%s' updated\n", args[0])
		return nil
	},
}

var secretRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove a secret from the vault",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := openVault(cmd.Context())
		if err != nil {
			return err
		}
		defer v.Close()

		if err := v.RemoveSecret(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("Secret '%s' removed\n", args[0])
		return nil
	},
}

var secretShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Decrypt and print one secret",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := openVault(cmd.Context())
		if err != nil {
			return err
		}
		defer v.Close()

		s, err := v.ShowSecret(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("%s\n", s.Value)
		return nil
	},
}
