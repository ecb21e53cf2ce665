package vault

import (
	"context"
	"database/sql"
	"fmt"
	"os"
)

// stagedCommit is the two-phase discipline shared by every mutation that
// touches both the filesystem and the metadata store: run the filesystem
// stage, then the metadata commit, and undo the stage when the commit
// fails. undo may be nil when the stage is already tolerant of replays
// (blob deletion). If undo itself fails, the error carries
// ErrOrphanedBlob so an operator knows to run a repair pass.
func (v *Vault) stagedCommit(
	ctx context.Context,
	stage func() error,
	undo func() error,
	commit func(ctx context.Context, tx *sql.Tx) error,
) error {
	if err := stage(); err != nil {
		return err
	}

	if err := v.withTx(ctx, commit); err != nil {
		if undo != nil {
			if uerr := undo(); uerr != nil {
				return fmt.Errorf("%w: %v (commit error: %v)", ErrOrphanedBlob, uerr, err)
			}
		}
		return err
	}
	return nil
}

// writeBlob stores ciphertext under the objects directory.
func (v *Vault) writeBlob(blobID string, ciphertext []byte) error {
	if err := os.MkdirAll(v.objectsDir(), DirMode); err != nil {
		return fmt.Errorf("vault: failed to create objects directory: %w", err)
	}
	if err := os.WriteFile(v.blobPath(blobID), ciphertext, FileMode); err != nil {
		return fmt.Errorf("vault: failed to write ciphertext blob: %w", err)
	}
	return nil
}

// removeBlob deletes a ciphertext blob, treating an already-missing blob
// as success so removal stays idempotent across interrupted runs.
func (v *Vault) removeBlob(blobID string) error {
	err := os.Remove(v.blobPath(blobID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("vault: failed to remove ciphertext blob: %w", err)
	}
	return nil
}
