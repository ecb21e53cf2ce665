package vault

import (
	"fmt"
	"os"
)

type lockMode int

const (
	// lockExclusive is held for the duration of any mutating command.
	lockExclusive lockMode = iota
	// lockShared lets read-only commands overlap each other while still
	// failing fast against a concurrent writer.
	lockShared
)

// vaultLock is an advisory lock scoped to the vault root. Acquisition is
// non-blocking: contention surfaces as ErrVaultBusy instead of waiting,
// so a stuck process never wedges other invocations silently.
type vaultLock struct {
	file *os.File
}

func acquireLock(path string, mode lockMode) (*vaultLock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, FileMode)
	if err != nil {
		return nil, fmt.Errorf("vault: failed to open lock file: %w", err)
	}
	if err := flockFile(f, mode); err != nil {
		f.Close()
		return nil, err
	}
	return &vaultLock{file: f}, nil
}

// release unlocks and closes the lock file. Safe to call exactly once on
// every exit path; the deferred call pattern in each command guarantees
// that.
func (l *vaultLock) release() {
	if l.file == nil {
		return
	}
	_ = funlockFile(l.file)
	_ = l.file.Close()
	l.file = nil
}
