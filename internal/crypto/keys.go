package crypto

import (
	"crypto/ed25519"
	"fmt"
	"log/slog"
	"sync/atomic"

	algotypes "github.com/algorand/go-algorand-sdk/v2/types"
)

// SeedSize is the ed25519 seed length produced by the derivation engine
const SeedSize = ed25519.SeedSize

// KeyPair is an in-memory ed25519 signing key and its chain address.
// The private half never leaves process memory: it is not serializable,
// it is not printed by fmt or slog, and Zero wipes it.
type KeyPair struct {
	address    string
	publicKey  ed25519.PublicKey
	privateKey ed25519.PrivateKey
	locked     bool
	zeroed     atomic.Bool
}

// NewKeyPairFromSeed builds a keypair from a 32-byte seed.
// The caller keeps ownership of seed and should zero it afterwards.
func NewKeyPairFromSeed(seed []byte) (*KeyPair, error) {
	if len(seed) != SeedSize {
		return nil, fmt.Errorf("seed must be %d bytes, got %d", SeedSize, len(seed))
	}

	privateKey := ed25519.NewKeyFromSeed(seed)
	publicKey := make(ed25519.PublicKey, ed25519.PublicKeySize)
	copy(publicKey, privateKey.Public().(ed25519.PublicKey))

	address, err := AddressFromPublicKey(publicKey)
	if err != nil {
		ZeroBytes(privateKey)
		return nil, err
	}

	kp := &KeyPair{
		address:    address,
		publicKey:  publicKey,
		privateKey: privateKey,
	}
	// Best effort: keep the key out of swap. RLIMIT_MEMLOCK may refuse it.
	kp.locked = LockMemory(privateKey) == nil

	return kp, nil
}

// AddressFromPublicKey encodes an ed25519 public key as an Algorand address
func AddressFromPublicKey(publicKey ed25519.PublicKey) (string, error) {
	if len(publicKey) != ed25519.PublicKeySize {
		return "", fmt.Errorf("public key must be %d bytes, got %d", ed25519.PublicKeySize, len(publicKey))
	}
	var addr algotypes.Address
	copy(addr[:], publicKey)
	return addr.String(), nil
}

// Address returns the public chain address. Safe to persist and log.
func (k *KeyPair) Address() string {
	return k.address
}

// PublicKey returns a copy of the public key
func (k *KeyPair) PublicKey() ed25519.PublicKey {
	out := make(ed25519.PublicKey, len(k.publicKey))
	copy(out, k.publicKey)
	return out
}

// PrivateKey exposes the live private key buffer for signing.
// Callers must not retain it past the scope of the signing call.
func (k *KeyPair) PrivateKey() (ed25519.PrivateKey, error) {
	if k.zeroed.Load() {
		return nil, fmt.Errorf("key material has been zeroed")
	}
	return k.privateKey, nil
}

// Sign signs msg with the private key
func (k *KeyPair) Sign(msg []byte) ([]byte, error) {
	sk, err := k.PrivateKey()
	if err != nil {
		return nil, err
	}
	return ed25519.Sign(sk, msg), nil
}

// Zero wipes the private key. Idempotent.
func (k *KeyPair) Zero() {
	if k == nil || !k.zeroed.CompareAndSwap(false, true) {
		return
	}
	ZeroBytes(k.privateKey)
	if k.locked {
		_ = UnlockMemory(k.privateKey)
	}
}

// Zeroed reports whether Zero has been called
func (k *KeyPair) Zeroed() bool {
	return k.zeroed.Load()
}

// String keeps the private key out of fmt output
func (k *KeyPair) String() string {
	return fmt.Sprintf("KeyPair{address: %s}", k.address)
}

// GoString keeps the private key out of %#v output
func (k *KeyPair) GoString() string {
	return k.String()
}

// LogValue keeps the private key out of structured logs
func (k *KeyPair) LogValue() slog.Value {
	return slog.GroupValue(slog.String("address", k.address))
}

// ZeroBytes overwrites b with zeros
func ZeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
