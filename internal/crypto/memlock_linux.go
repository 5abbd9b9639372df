//go:build linux

package crypto

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// LockMemory pins b in RAM so key material is never paged to swap
func LockMemory(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	if err := unix.Mlock(b); err != nil {
		return fmt.Errorf("mlock: %w", err)
	}
	return nil
}

// UnlockMemory releases a LockMemory pin
func UnlockMemory(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	if err := unix.Munlock(b); err != nil {
		return fmt.Errorf("munlock: %w", err)
	}
	return nil
}
