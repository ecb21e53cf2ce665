package vault

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"

	"github.com/forest6511/dmvault/pkg/audit"
)

// FileObject is one logical file under vault management.
type FileObject struct {
	Name           string
	CurrentVersion int64
	OriginalPath   string
	ContentHash    string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// FileVersion is one immutable historical record of a tracked file.
type FileVersion struct {
	Name        string
	Version     int64
	BlobID      string
	ContentHash string
	CreatedAt   time.Time
}

// FileState is the tagged per-name state: a name is either absent or
// present at some fully committed version. There is no in-between state
// observable outside a transaction.
type FileState struct {
	Present bool
	Version int64
}

// ExportOptions controls where ExportFile writes plaintext and how it
// treats an existing destination.
type ExportOptions struct {
	// Version selects a historical version; zero means current.
	Version int64
	// Relative exports to the file's base name in the working directory
	// instead of the recorded original path.
	Relative bool
	// AssumeYes overwrites an existing destination without asking.
	AssumeYes bool
	// Confirm, when set, is asked before overwriting an existing
	// destination. Ignored when AssumeYes is set.
	Confirm func(dest string) bool
}

// normName canonicalizes a tracked name so visually identical names
// cannot coexist as distinct rows.
func normName(s string) string {
	return norm.NFC.String(s)
}

func hashContent(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// trackedName derives the vault-scoped name from a user-supplied path or
// name argument.
func trackedName(arg string) string {
	return normName(filepath.Base(filepath.Clean(arg)))
}

// AddFile ingests the file at path as a new tracked object at version 1.
// The name must not already be tracked. Ciphertext is written before the
// metadata commit; a failed commit deletes the staged blob so no orphan
// survives the call.
func (v *Vault) AddFile(ctx context.Context, path string) (*FileObject, error) {
	lock, err := acquireLock(v.lockPath(), lockExclusive)
	if err != nil {
		return nil, err
	}
	defer lock.release()

	if err := v.gate(); err != nil {
		return nil, err
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("vault: failed to resolve source path: %w", err)
	}
	name := trackedName(abs)

	state, err := v.fileState(ctx, v.db, name)
	if err != nil {
		return nil, err
	}
	if state.Present {
		_ = v.audit.Log(audit.OpFileAdd, name, audit.ResultError, "already exists")
		return nil, fmt.Errorf("%w: %q", ErrFileExists, name)
	}

	plaintext, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSourceNotFound, abs, err)
	}
	contentHash := hashContent(plaintext)

	ciphertext, err := v.gw.Encrypt(plaintext, v.identity.KeyID)
	if err != nil {
		_ = v.audit.Log(audit.OpFileAdd, name, audit.ResultError, "encrypt failed")
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	blobID := uuid.NewString()
	now := time.Now().UTC()
	obj := &FileObject{
		Name:           name,
		CurrentVersion: 1,
		OriginalPath:   abs,
		ContentHash:    contentHash,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err = v.stagedCommit(ctx,
		func() error { return v.writeBlob(blobID, ciphertext) },
		func() error { return v.removeBlob(blobID) },
		func(ctx context.Context, tx *sql.Tx) error {
			// Re-check under the transaction; the flock already
			// serializes writers, this guards the invariant itself.
			state, err := v.fileState(ctx, tx, name)
			if err != nil {
				return err
			}
			if state.Present {
				return fmt.Errorf("%w: %q", ErrFileExists, name)
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO files (name, current_version, original_path, content_hash, created_at, updated_at)
				 VALUES (?, 1, ?, ?, ?, ?)`,
				name, abs, contentHash, now, now); err != nil {
				return fmt.Errorf("vault: failed to insert file row: %w", err)
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO file_versions (name, version, blob_id, content_hash, created_at)
				 VALUES (?, 1, ?, ?, ?)`,
				name, blobID, contentHash, now); err != nil {
				return fmt.Errorf("vault: failed to insert version row: %w", err)
			}
			return nil
		})
	if err != nil {
		return nil, err
	}

	_ = v.audit.Log(audit.OpFileAdd, name, audit.ResultSuccess, "")
	return obj, nil
}

// UpdateFile appends a new version of a tracked file. The plaintext is
// re-read from the recorded original path, or from fromPath when given.
// Prior versions are retained untouched.
func (v *Vault) UpdateFile(ctx context.Context, nameOrPath, fromPath string) (*FileObject, error) {
	lock, err := acquireLock(v.lockPath(), lockExclusive)
	if err != nil {
		return nil, err
	}
	defer lock.release()

	if err := v.gate(); err != nil {
		return nil, err
	}

	name := trackedName(nameOrPath)
	obj, err := v.getFile(ctx, name)
	if err != nil {
		return nil, err
	}

	source := obj.OriginalPath
	if fromPath != "" {
		if source, err = filepath.Abs(fromPath); err != nil {
			return nil, fmt.Errorf("vault: failed to resolve source path: %w", err)
		}
	}

	plaintext, err := os.ReadFile(source)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSourceNotFound, source, err)
	}
	contentHash := hashContent(plaintext)

	ciphertext, err := v.gw.Encrypt(plaintext, v.identity.KeyID)
	if err != nil {
		_ = v.audit.Log(audit.OpFileUpdate, name, audit.ResultError, "encrypt failed")
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	blobID := uuid.NewString()
	now := time.Now().UTC()

	err = v.stagedCommit(ctx,
		func() error { return v.writeBlob(blobID, ciphertext) },
		func() error { return v.removeBlob(blobID) },
		func(ctx context.Context, tx *sql.Tx) error {
			// The next version number is read under the same transaction
			// that inserts it, so two racing updates can never both
			// claim v+1.
			var maxVersion int64
			if err := tx.QueryRowContext(ctx,
				`SELECT COALESCE(MAX(version), 0) FROM file_versions WHERE name = ?`,
				name).Scan(&maxVersion); err != nil {
				return fmt.Errorf("vault: failed to read version history: %w", err)
			}
			next := maxVersion + 1

			if _, err := tx.ExecContext(ctx,
				`INSERT INTO file_versions (name, version, blob_id, content_hash, created_at)
				 VALUES (?, ?, ?, ?, ?)`,
				name, next, blobID, contentHash, now); err != nil {
				return fmt.Errorf("vault: failed to insert version row: %w", err)
			}
			res, err := tx.ExecContext(ctx,
				`UPDATE files SET current_version = ?, content_hash = ?, updated_at = ? WHERE name = ?`,
				next, contentHash, now, name)
			if err != nil {
				return fmt.Errorf("vault: failed to advance current version: %w", err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("vault: failed to get rows affected: %w", err)
			}
			if n == 0 {
				return fmt.Errorf("%w: %q", ErrFileNotFound, name)
			}

			obj.CurrentVersion = next
			obj.ContentHash = contentHash
			obj.UpdatedAt = now
			return nil
		})
	if err != nil {
		return nil, err
	}

	_ = v.audit.Log(audit.OpFileUpdate, name, audit.ResultSuccess, "")
	return obj, nil
}

// ExportFile decrypts a tracked file's current (or requested) version
// and writes the plaintext to its destination. The vault itself is not
// mutated. Returns the destination path written.
func (v *Vault) ExportFile(ctx context.Context, nameOrPath string, opts ExportOptions) (string, error) {
	lock, err := acquireLock(v.lockPath(), lockShared)
	if err != nil {
		return "", err
	}
	defer lock.release()

	name := trackedName(nameOrPath)
	obj, err := v.getFile(ctx, name)
	if err != nil {
		return "", err
	}

	version := opts.Version
	if version == 0 {
		version = obj.CurrentVersion
	}

	// Ciphertext is only ever read through a committed version row,
	// never by scanning the objects directory.
	var blobID string
	err = v.db.QueryRowContext(ctx,
		`SELECT blob_id FROM file_versions WHERE name = ? AND version = ?`,
		name, version).Scan(&blobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("%w: %q version %d", ErrVersionUnknown, name, version)
		}
		return "", fmt.Errorf("vault: failed to read version row: %w", err)
	}

	ciphertext, err := os.ReadFile(v.blobPath(blobID))
	if err != nil {
		return "", fmt.Errorf("vault: failed to read ciphertext blob: %w", err)
	}

	plaintext, err := v.gw.Decrypt(ciphertext, v.identity.KeyID)
	if err != nil {
		_ = v.audit.Log(audit.OpFileExport, name, audit.ResultError, "decrypt failed")
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	dest := obj.OriginalPath
	if opts.Relative {
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("vault: failed to resolve working directory: %w", err)
		}
		dest = filepath.Join(cwd, filepath.Base(obj.OriginalPath))
	}

	if _, err := os.Stat(dest); err == nil && !opts.AssumeYes {
		if opts.Confirm == nil || !opts.Confirm(dest) {
			return "", fmt.Errorf("%w: %s", ErrDestinationExists, dest)
		}
	}

	if err := os.WriteFile(dest, plaintext, FileMode); err != nil {
		return "", fmt.Errorf("vault: failed to write exported file: %w", err)
	}

	_ = v.audit.Log(audit.OpFileExport, name, audit.ResultSuccess, "")
	return dest, nil
}

// RemoveFile deletes a tracked file: every version's ciphertext blob,
// then all metadata rows in one transaction. Blob deletion tolerates
// already-missing blobs so an interrupted remove can be retried.
func (v *Vault) RemoveFile(ctx context.Context, nameOrPath string) error {
	lock, err := acquireLock(v.lockPath(), lockExclusive)
	if err != nil {
		return err
	}
	defer lock.release()

	if err := v.gate(); err != nil {
		return err
	}

	name := trackedName(nameOrPath)
	if _, err := v.getFile(ctx, name); err != nil {
		return err
	}

	blobIDs, err := v.versionBlobs(ctx, name)
	if err != nil {
		return err
	}

	err = v.stagedCommit(ctx,
		func() error {
			for _, id := range blobIDs {
				if err := v.removeBlob(id); err != nil {
					return err
				}
			}
			return nil
		},
		nil, // blob deletion is idempotent, nothing to undo
		func(ctx context.Context, tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM file_versions WHERE name = ?`, name); err != nil {
				return fmt.Errorf("vault: failed to delete version rows: %w", err)
			}
			res, err := tx.ExecContext(ctx,
				`DELETE FROM files WHERE name = ?`, name)
			if err != nil {
				return fmt.Errorf("vault: failed to delete file row: %w", err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("vault: failed to get rows affected: %w", err)
			}
			if n == 0 {
				return fmt.Errorf("%w: %q", ErrFileNotFound, name)
			}
			return nil
		})
	if err != nil {
		return err
	}

	_ = v.audit.Log(audit.OpFileRemove, name, audit.ResultSuccess, "")
	return nil
}

// ListFiles returns every tracked file ordered by name. Nothing is
// decrypted.
func (v *Vault) ListFiles(ctx context.Context) ([]*FileObject, error) {
	lock, err := acquireLock(v.lockPath(), lockShared)
	if err != nil {
		return nil, err
	}
	defer lock.release()

	rows, err := v.db.QueryContext(ctx,
		`SELECT name, current_version, original_path, content_hash, created_at, updated_at
		 FROM files ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("vault: failed to query files: %w", err)
	}
	defer rows.Close()

	var out []*FileObject
	for rows.Next() {
		var o FileObject
		if err := rows.Scan(&o.Name, &o.CurrentVersion, &o.OriginalPath,
			&o.ContentHash, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, fmt.Errorf("vault: failed to scan file row: %w", err)
		}
		out = append(out, &o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("vault: error iterating file rows: %w", err)
	}
	return out, nil
}

// FileVersions returns the full version history for a tracked name,
// oldest first.
func (v *Vault) FileVersions(ctx context.Context, nameOrPath string) ([]*FileVersion, error) {
	lock, err := acquireLock(v.lockPath(), lockShared)
	if err != nil {
		return nil, err
	}
	defer lock.release()

	name := trackedName(nameOrPath)
	if _, err := v.getFile(ctx, name); err != nil {
		return nil, err
	}

	rows, err := v.db.QueryContext(ctx,
		`SELECT name, version, blob_id, content_hash, created_at
		 FROM file_versions WHERE name = ? ORDER BY version`, name)
	if err != nil {
		return nil, fmt.Errorf("vault: failed to query versions: %w", err)
	}
	defer rows.Close()

	var out []*FileVersion
	for rows.Next() {
		var fv FileVersion
		if err := rows.Scan(&fv.Name, &fv.Version, &fv.BlobID, &fv.ContentHash, &fv.CreatedAt); err != nil {
			return nil, fmt.Errorf("vault: failed to scan version row: %w", err)
		}
		out = append(out, &fv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("vault: error iterating version rows: %w", err)
	}
	return out, nil
}

// State reports whether a name is tracked and at which version.
func (v *Vault) State(ctx context.Context, nameOrPath string) (FileState, error) {
	return v.fileState(ctx, v.db, trackedName(nameOrPath))
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (v *Vault) fileState(ctx context.Context, q querier, name string) (FileState, error) {
	var version int64
	err := q.QueryRowContext(ctx,
		`SELECT current_version FROM files WHERE name = ?`, name).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return FileState{}, nil
	}
	if err != nil {
		return FileState{}, fmt.Errorf("vault: failed to read file state: %w", err)
	}
	return FileState{Present: true, Version: version}, nil
}

func (v *Vault) getFile(ctx context.Context, name string) (*FileObject, error) {
	var o FileObject
	err := v.db.QueryRowContext(ctx,
		`SELECT name, current_version, original_path, content_hash, created_at, updated_at
		 FROM files WHERE name = ?`, name).
		Scan(&o.Name, &o.CurrentVersion, &o.OriginalPath, &o.ContentHash, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %q", ErrFileNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("vault: failed to read file row: %w", err)
	}
	return &o, nil
}

func (v *Vault) versionBlobs(ctx context.Context, name string) ([]string, error) {
	rows, err := v.db.QueryContext(ctx,
		`SELECT blob_id FROM file_versions WHERE name = ?`, name)
	if err != nil {
		return nil, fmt.Errorf("vault: failed to query version blobs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("vault: failed to scan blob id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("vault: error iterating blob ids: %w", err)
	}
	return ids, nil
}
