package vault

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/forest6511/dmvault/pkg/audit"
)

// VerifyResult reports blob/row correspondence in both directions.
// A consistent vault has no entries in either list.
type VerifyResult struct {
	// OrphanBlobs are ciphertext blobs on disk with no version row,
	// typically left by an interrupted commit.
	OrphanBlobs []string
	// MissingBlobs are version rows whose ciphertext blob is gone.
	// These cannot be repaired automatically; the data is lost unless
	// the blob is restored from backup.
	MissingBlobs []string
}

// Consistent reports whether blobs and version rows correspond 1:1.
func (r *VerifyResult) Consistent() bool {
	return len(r.OrphanBlobs) == 0 && len(r.MissingBlobs) == 0
}

// Verify audits the one-to-one correspondence between ciphertext blobs
// under the objects directory and file_versions rows. Read-only.
func (v *Vault) Verify(ctx context.Context) (*VerifyResult, error) {
	lock, err := acquireLock(v.lockPath(), lockShared)
	if err != nil {
		return nil, err
	}
	defer lock.release()

	return v.verifyLocked(ctx)
}

func (v *Vault) verifyLocked(ctx context.Context) (*VerifyResult, error) {
	rows, err := v.db.QueryContext(ctx, `SELECT name, version, blob_id FROM file_versions`)
	if err != nil {
		return nil, fmt.Errorf("vault: failed to query version rows: %w", err)
	}
	defer rows.Close()

	referenced := make(map[string]string) // blob_id -> "name@version"
	for rows.Next() {
		var name, blobID string
		var version int64
		if err := rows.Scan(&name, &version, &blobID); err != nil {
			return nil, fmt.Errorf("vault: failed to scan version row: %w", err)
		}
		referenced[blobID] = fmt.Sprintf("%s@%d", name, version)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("vault: error iterating version rows: %w", err)
	}

	result := &VerifyResult{}

	entries, err := os.ReadDir(v.objectsDir())
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("vault: failed to read objects directory: %w", err)
	}
	onDisk := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), blobExtension) {
			continue
		}
		blobID := strings.TrimSuffix(e.Name(), blobExtension)
		onDisk[blobID] = struct{}{}
		if _, ok := referenced[blobID]; !ok {
			result.OrphanBlobs = append(result.OrphanBlobs, blobID)
		}
	}

	for blobID, ref := range referenced {
		if _, ok := onDisk[blobID]; !ok {
			result.MissingBlobs = append(result.MissingBlobs, ref)
		}
	}

	return result, nil
}

// VerifyAudit checks the audit log's HMAC chain. Returns
// audit.ErrKeyNotSet when the vault has no audit key.
func (v *Vault) VerifyAudit() (*audit.VerifyResult, error) {
	return v.audit.Verify()
}

// Repair deletes orphaned ciphertext blobs found by Verify. Missing
// blobs are reported, not repaired. The returned result lists the
// orphans that were removed.
func (v *Vault) Repair(ctx context.Context) (*VerifyResult, error) {
	lock, err := acquireLock(v.lockPath(), lockExclusive)
	if err != nil {
		return nil, err
	}
	defer lock.release()

	if err := v.gate(); err != nil {
		return nil, err
	}

	result, err := v.verifyLocked(ctx)
	if err != nil {
		return nil, err
	}

	for _, blobID := range result.OrphanBlobs {
		if err := v.removeBlob(blobID); err != nil {
			return nil, err
		}
	}
	if n := len(result.OrphanBlobs); n > 0 {
		_ = v.audit.Log(audit.OpVaultRepair, fmt.Sprintf("%d orphans", n),
			audit.ResultSuccess, "")
	}
	return result, nil
}
