package main

import (
	"errors"

	"github.com/forest6511/dmvault/pkg/keyring"
	"github.com/forest6511/dmvault/pkg/vault"
)

// Exit codes: one per broad error class.
const (
	exitOK       = 0
	exitGeneric  = 1
	exitConflict = 2 // not-found / already-exists / overwrite refusal
	exitKey      = 3 // key validation and crypto failures
	exitStorage  = 4 // storage, I/O, and lock contention
)

var conflictErrors = []error{
	vault.ErrVaultNotFound,
	vault.ErrAlreadyInitialized,
	vault.ErrFileNotFound,
	vault.ErrFileExists,
	vault.ErrVersionUnknown,
	vault.ErrSourceNotFound,
	vault.ErrSecretNotFound,
	vault.ErrSecretExists,
	vault.ErrDestinationExists,
}

var keyErrors = []error{
	vault.ErrInvalidKey,
	vault.ErrEncryptionFailed,
	vault.ErrDecryptionFailed,
	keyring.ErrKeyNotFound,
	keyring.ErrKeyUnusable,
	keyring.ErrAmbiguousKey,
	keyring.ErrNoPrivateKey,
	keyring.ErrPassphraseNeeded,
	keyring.ErrBadPassphrase,
}

var storageErrors = []error{
	vault.ErrVaultBusy,
	vault.ErrOrphanedBlob,
	keyring.ErrCorruptKeyFile,
}

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	for _, target := range conflictErrors {
		if errors.Is(err, target) {
			return exitConflict
		}
	}
	for _, target := range keyErrors {
		if errors.Is(err, target) {
			return exitKey
		}
	}
	for _, target := range storageErrors {
		if errors.Is(err, target) {
			return exitStorage
		}
	}
	return exitGeneric
}
