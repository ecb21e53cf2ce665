package vault

import "errors"

// Sentinel errors surfaced by vault operations. The CLI maps these onto
// three exit-code classes: name conflicts (not-found / already-exists),
// key failures, and storage/IO failures.
var (
	ErrVaultNotFound      = errors.New("vault: no vault at this location, run 'dmvault init <key-id>' first")
	ErrAlreadyInitialized = errors.New("vault: vault already initialized at this location")
	ErrVaultBusy          = errors.New("vault: vault is in use by another process")

	ErrFileNotFound   = errors.New("vault: file not tracked in vault")
	ErrFileExists     = errors.New("vault: file already tracked in vault")
	ErrVersionUnknown = errors.New("vault: no such file version")
	ErrSourceNotFound = errors.New("vault: source file not readable")

	ErrSecretNotFound = errors.New("vault: secret not found in vault")
	ErrSecretExists   = errors.New("vault: secret already exists in vault")

	ErrDestinationExists = errors.New("vault: destination already exists")

	ErrInvalidKey       = errors.New("vault: key validation failed")
	ErrEncryptionFailed = errors.New("vault: encryption failed")
	ErrDecryptionFailed = errors.New("vault: decryption failed")

	// ErrOrphanedBlob is raised when a failed commit leaves a ciphertext
	// blob behind and the cleanup itself also fails. The operator should
	// run 'dmvault verify --repair'.
	ErrOrphanedBlob = errors.New("vault: orphaned ciphertext blob left after failed commit")
)
