package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"io"

	"github.com/hashicorp/vault/shamir"
)

const (
	// GuardSecretSize is the length of the biometric guard secret
	GuardSecretSize = 32

	guardThreshold   = 2
	guardTotalShares = 2
)

// GuardShares is a 2-of-2 split of the biometric guard secret.
// Neither share alone reveals anything about the secret.
type GuardShares struct {
	// DeviceShare lives in the OS keychain behind the biometric prompt
	DeviceShare []byte

	// StoredShare lives in secure storage next to Digest
	StoredShare []byte

	// Digest is SHA-256 of the secret, used to verify a recombination
	Digest []byte
}

// NewGuardShares generates a fresh guard secret and splits it
func NewGuardShares() (*GuardShares, error) {
	secret := make([]byte, GuardSecretSize)
	defer ZeroBytes(secret)

	if _, err := io.ReadFull(rand.Reader, secret); err != nil {
		return nil, fmt.Errorf("failed to generate guard secret: %w", err)
	}

	return SplitGuardSecret(secret)
}

// SplitGuardSecret splits secret 2-of-2 with Shamir's Secret Sharing
func SplitGuardSecret(secret []byte) (*GuardShares, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("secret cannot be empty")
	}

	shares, err := shamir.Split(secret, guardTotalShares, guardThreshold)
	if err != nil {
		return nil, fmt.Errorf("failed to split guard secret: %w", err)
	}

	digest := sha256.Sum256(secret)
	return &GuardShares{
		DeviceShare: shares[0],
		StoredShare: shares[1],
		Digest:      digest[:],
	}, nil
}

// VerifyGuardShares recombines both shares and checks the result against digest.
// The recombined secret is wiped before returning.
func VerifyGuardShares(deviceShare, storedShare, digest []byte) error {
	if err := ValidateShare(deviceShare); err != nil {
		return fmt.Errorf("device share: %w", err)
	}
	if err := ValidateShare(storedShare); err != nil {
		return fmt.Errorf("stored share: %w", err)
	}

	secret, err := shamir.Combine([][]byte{deviceShare, storedShare})
	if err != nil {
		return fmt.Errorf("failed to combine guard shares: %w", err)
	}
	defer ZeroBytes(secret)

	sum := sha256.Sum256(secret)
	if subtle.ConstantTimeCompare(sum[:], digest) != 1 {
		return fmt.Errorf("guard secret mismatch")
	}
	return nil
}

// ValidateShare checks if a share appears to be valid
// Note: This only checks format, not cryptographic validity
func ValidateShare(share []byte) error {
	if len(share) == 0 {
		return fmt.Errorf("share cannot be empty")
	}
	// Shamir shares carry a 1-byte x-coordinate tag after the share data
	if len(share) < GuardSecretSize+1 {
		return fmt.Errorf("share too short: expected at least %d bytes, got %d", GuardSecretSize+1, len(share))
	}
	return nil
}
