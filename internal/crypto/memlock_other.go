//go:build !linux

package crypto

import (
	"fmt"
	"runtime"
)

// LockMemory is not supported on non-Linux platforms
func LockMemory(b []byte) error {
	return fmt.Errorf("memory locking is only supported on Linux (current OS: %s)", runtime.GOOS)
}

// UnlockMemory is a no-op on non-Linux platforms
func UnlockMemory(b []byte) error {
	return nil
}
