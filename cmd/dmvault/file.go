package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/forest6511/dmvault/pkg/vault"
)

// File command flags
var (
	fileUpdateFrom    string
	fileExportVersion int64
	fileExportRel     bool
	fileExportYes     bool
)

func init() {
	fileCmd.AddCommand(fileAddCmd)
	fileCmd.AddCommand(fileListCmd)
	fileCmd.AddCommand(fileUpdateCmd)
	fileCmd.AddCommand(fileRemoveCmd)
	fileCmd.AddCommand(fileExportCmd)

	fileUpdateCmd.Flags().StringVar(&fileUpdateFrom, "from", "", "Read the new content from this path instead of the recorded original path")

	fileExportCmd.Flags().Int64Var(&fileExportVersion, "version", 0, "Export a specific version (default: current)")
	fileExportCmd.Flags().BoolVarP(&fileExportRel, "relative", "r", false, "Export to the current directory instead of the original path")
	fileExportCmd.Flags().BoolVarP(&fileExportYes, "yes", "y", false, "Overwrite an existing destination without asking")
}

var fileCmd = &cobra.Command{
	Use:   "file",
	Short: "File management operations",
}

var fileAddCmd = &cobra.Command{
	Use:   "add <path>",
	Short: "Add a new file to the vault",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := openVault(cmd.Context())
		if err != nil {
			return err
		}
		defer v.Close()

		obj, err := v.AddFile(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("File '%s' added to vault (version %d)\n", obj.Name, obj.CurrentVersion)
		return nil
	},
}

var fileListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all files in the vault",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := openVault(cmd.Context())
		if err != nil {
			return err
		}
		defer v.Close()

		files, err := v.ListFiles(cmd.Context())
		if err != nil {
			return err
		}
		if len(files) == 0 {
			fmt.Println("Vault is empty")
			return nil
		}
		fmt.Println("Files in vault:")
		for _, f := range files {
			fmt.Printf("  %s  v%d  %s\n", f.Name, f.CurrentVersion, f.OriginalPath)
		}
		return nil
	},
}

var fileUpdateCmd = &cobra.Command{
	Use:   "update <name>",
	Short: "Store a new version of a tracked file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := openVault(cmd.Context())
		if err != nil {
			return err
		}
		defer v.Close()

		obj, err := v.UpdateFile(cmd.Context(), args[0], fileUpdateFrom)
		if err != nil {
			return err
		}
		fmt.Printf("File '%s' updated (version %d)\n", obj.Name, obj.CurrentVersion)
		return nil
	},
}

var fileRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove a file and all its versions from the vault",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := openVault(cmd.Context())
		if err != nil {
			return err
		}
		defer v.Close()

		if err := v.RemoveFile(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("File '%s' removed from vault\n", args[0])
		return nil
	},
}

var fileExportCmd = &cobra.Command{
	Use:   "export <name>",
	Short: "Decrypt a file from the vault to disk",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := openVault(cmd.Context())
		if err != nil {
			return err
		}
		defer v.Close()

		opts := vault.ExportOptions{
			Version:   fileExportVersion,
			Relative:  fileExportRel || cfg.Export.Relative,
			AssumeYes: fileExportYes || cfg.Export.AssumeYes,
			Confirm:   confirmOverwrite,
		}
		dest, err := v.ExportFile(cmd.Context(), args[0], opts)
		if err != nil {
			return err
		}
		fmt.Printf("File exported to %s\n", dest)
		return nil
	},
}

// confirmOverwrite asks before clobbering an existing destination. In a
// non-interactive session the answer is always no, so scripted callers
// must pass --yes.
func confirmOverwrite(dest string) bool {
	if !term.IsTerminal(int(syscall.Stdin)) {
		return false
	}
	fmt.Fprintf(os.Stderr, "File '%s' already exists. Overwrite? (y/N): ", dest)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(line)), "y")
}
