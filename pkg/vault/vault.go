// Package vault implements the encrypted-vault engine: it keeps ciphertext
// blobs on disk and their metadata rows in a local SQLite store in strict
// one-to-one correspondence, gated behind key validation. The encryption
// itself is delegated to a keyring.Gateway.
package vault

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/forest6511/dmvault/pkg/audit"
	"github.com/forest6511/dmvault/pkg/keyring"
)

const (
	DBFileName    = "vault.db"
	LockFileName  = "vault.lock"
	ObjectsDir    = "objects"
	AuditDir      = "audit"
	FileMode      = 0600 // Owner read/write only
	DirMode       = 0700 // Owner read/write/execute only
	blobExtension = ".bin"
)

// Identity is the singleton binding between a vault and its key.
type Identity struct {
	KeyID     string
	CreatedAt time.Time
}

// Vault orchestrates ciphertext blobs, metadata rows, and the key
// validation gate for one vault root.
type Vault struct {
	root     string
	gw       keyring.Gateway
	db       *sql.DB
	identity *Identity
	audit    *audit.Logger

	// ValidateBeforeMutate controls whether every mutating operation
	// re-validates the bound key first. On by default; the diagnostic
	// 'keys validate' command exists either way.
	ValidateBeforeMutate bool
}

// New returns a Vault handle for root. The vault is not opened; call
// Init for a fresh root or Open for an existing one.
func New(root string, gw keyring.Gateway) *Vault {
	return &Vault{
		root:                 root,
		gw:                   gw,
		audit:                audit.NewLogger(filepath.Join(root, AuditDir)),
		ValidateBeforeMutate: true,
	}
}

// Root returns the vault root directory.
func (v *Vault) Root() string {
	return v.root
}

// Identity returns the bound key identity, or nil before Open/Init.
func (v *Vault) Identity() *Identity {
	return v.identity
}

func (v *Vault) dbPath() string {
	return filepath.Join(v.root, DBFileName)
}

func (v *Vault) lockPath() string {
	return filepath.Join(v.root, LockFileName)
}

func (v *Vault) objectsDir() string {
	return filepath.Join(v.root, ObjectsDir)
}

func (v *Vault) blobPath(blobID string) string {
	return filepath.Join(v.objectsDir(), blobID+blobExtension)
}

func (v *Vault) exists() bool {
	_, err := os.Stat(v.dbPath())
	return err == nil
}

// hasIdentity reports whether the metadata store holds a committed
// identity row. The store file alone proves nothing: a crash between
// schema creation and the identity commit leaves the file behind empty.
func (v *Vault) hasIdentity(ctx context.Context) (bool, error) {
	db, err := openDB(v.dbPath())
	if err != nil {
		return false, err
	}
	defer db.Close()

	var tables int
	err = db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'vault_identity'`).
		Scan(&tables)
	if err != nil {
		return false, fmt.Errorf("vault: failed to inspect metadata store: %w", err)
	}
	if tables == 0 {
		return false, nil
	}

	var rows int
	err = db.QueryRowContext(ctx, `SELECT COUNT(*) FROM vault_identity`).Scan(&rows)
	if err != nil {
		return false, fmt.Errorf("vault: failed to read vault identity: %w", err)
	}
	return rows > 0, nil
}

// Init creates a fresh vault at the root and binds it to the key
// identified by keyID. The identifier must pass the validation gate;
// the full fingerprint is what gets bound. Re-running Init against an
// initialized vault fails with ErrAlreadyInitialized, never resets
// state. A metadata store without a committed identity row is the
// residue of an interrupted init and is replaced, not refused.
func (v *Vault) Init(ctx context.Context, keyID string) (err error) {
	status, err := v.gw.Validate(keyID)
	if err != nil {
		return fmt.Errorf("vault: key validation: %w", err)
	}
	if status != keyring.StatusValid {
		return fmt.Errorf("%w: key %q is %s", ErrInvalidKey, keyID, status)
	}

	if err := os.MkdirAll(v.root, DirMode); err != nil {
		return fmt.Errorf("vault: failed to create vault root: %w", err)
	}

	lock, err := acquireLock(v.lockPath(), lockExclusive)
	if err != nil {
		return err
	}
	defer lock.release()

	if v.exists() {
		initialized, err := v.hasIdentity(ctx)
		if err != nil {
			return err
		}
		if initialized {
			return ErrAlreadyInitialized
		}
		if err := os.Remove(v.dbPath()); err != nil {
			return fmt.Errorf("vault: failed to clear interrupted init: %w", err)
		}
	}

	if err := os.MkdirAll(v.objectsDir(), DirMode); err != nil {
		return fmt.Errorf("vault: failed to create objects directory: %w", err)
	}

	// Create the store file owner-only before the driver touches it, so
	// it is never readable by anyone else, not even transiently.
	f, err := os.OpenFile(v.dbPath(), os.O_CREATE|os.O_EXCL|os.O_WRONLY, FileMode)
	if err != nil {
		return fmt.Errorf("vault: failed to create metadata store: %w", err)
	}
	f.Close()

	db, err := openDB(v.dbPath())
	if err != nil {
		_ = os.Remove(v.dbPath())
		return err
	}
	// A half-built store must not survive a failed init: a retry starts
	// clean instead of hitting ErrAlreadyInitialized against a vault
	// that was never bound.
	defer func() {
		if err != nil {
			db.Close()
			_ = os.Remove(v.dbPath())
		}
	}()

	if err = createSchema(ctx, db); err != nil {
		return err
	}

	// Bind the full fingerprint, not the possibly-abbreviated input.
	boundID := keyID
	if resolver, ok := v.gw.(interface {
		Resolve(string) (*keyring.Key, keyring.Status, error)
	}); ok {
		if k, st, err := resolver.Resolve(keyID); err == nil && st == keyring.StatusValid {
			boundID = k.Fingerprint
		}
	}

	now := time.Now().UTC()
	_, err = db.ExecContext(ctx,
		`INSERT INTO vault_identity (id, key_id, created_at) VALUES (1, ?, ?)`,
		boundID, now)
	if err != nil {
		return fmt.Errorf("vault: failed to store vault identity: %w", err)
	}

	v.db = db
	v.identity = &Identity{KeyID: boundID, CreatedAt: now}

	if err := v.audit.InitKey(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to initialize audit log: %v\n", err)
	} else {
		_ = v.audit.Log(audit.OpVaultInit, boundID, audit.ResultSuccess, "")
	}

	return nil
}

// Open loads an existing vault: opens the metadata store and reads the
// bound identity. Fails with ErrVaultNotFound when the root holds no
// vault, including a store left behind by an interrupted init.
func (v *Vault) Open(ctx context.Context) error {
	if !v.exists() {
		return ErrVaultNotFound
	}
	initialized, err := v.hasIdentity(ctx)
	if err != nil {
		return err
	}
	if !initialized {
		return ErrVaultNotFound
	}

	db, err := openDB(v.dbPath())
	if err != nil {
		return err
	}

	var keyID string
	var createdAt time.Time
	err = db.QueryRowContext(ctx,
		`SELECT key_id, created_at FROM vault_identity WHERE id = 1`).
		Scan(&keyID, &createdAt)
	if err != nil {
		db.Close()
		if errors.Is(err, sql.ErrNoRows) {
			return ErrVaultNotFound
		}
		return fmt.Errorf("vault: failed to read vault identity: %w", err)
	}

	v.db = db
	v.identity = &Identity{KeyID: keyID, CreatedAt: createdAt}

	if err := v.audit.LoadKey(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: audit log unavailable: %v\n", err)
	}

	return nil
}

// Close releases the metadata store connection.
func (v *Vault) Close() error {
	if v.db == nil {
		return nil
	}
	err := v.db.Close()
	v.db = nil
	return err
}

// gate aborts a mutating operation before any disk or metadata side
// effect when the bound key no longer validates.
func (v *Vault) gate() error {
	if !v.ValidateBeforeMutate {
		return nil
	}
	status, err := v.gw.Validate(v.identity.KeyID)
	if err != nil {
		return fmt.Errorf("vault: key validation: %w", err)
	}
	if status != keyring.StatusValid {
		return fmt.Errorf("%w: bound key %q is %s", ErrInvalidKey, v.identity.KeyID, status)
	}
	return nil
}

func openDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("vault: failed to open metadata store: %w", err)
	}
	// Single connection keeps SQLite happy for short-lived CLI use.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return db, nil
}
