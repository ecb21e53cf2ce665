//go:build !windows

package vault

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

func flockFile(f *os.File, mode lockMode) error {
	how := unix.LOCK_EX
	if mode == lockShared {
		how = unix.LOCK_SH
	}
	err := unix.Flock(int(f.Fd()), how|unix.LOCK_NB)
	if err != nil {
		if errors.Is(err, unix.EWOULDBLOCK) {
			return ErrVaultBusy
		}
		return fmt.Errorf("vault: failed to acquire lock: %w", err)
	}
	return nil
}

func funlockFile(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_UN)
}
