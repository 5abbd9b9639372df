package storage

import (
	"bytes"
	"context"
	"fmt"

	"github.com/better-wallet/wallet-core/internal/kms"
)

// SealedStore encrypts every value with a KMS provider before it reaches the
// inner store. The (service, key) pair is bound into the plaintext so a
// sealed value copied under another key fails to open.
type SealedStore struct {
	inner    SecureStore
	provider kms.Provider
}

// NewSealedStore wraps inner
func NewSealedStore(inner SecureStore, provider kms.Provider) *SealedStore {
	return &SealedStore{inner: inner, provider: provider}
}

func binding(service, key string) []byte {
	return []byte(service + "\x00" + key + "\x00")
}

func (s *SealedStore) Get(ctx context.Context, service, key string) ([]byte, error) {
	sealed, err := s.inner.Get(ctx, service, key)
	if err != nil {
		return nil, err
	}

	plaintext, err := s.provider.Decrypt(ctx, sealed)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s item: %w", service, err)
	}

	prefix := binding(service, key)
	if !bytes.HasPrefix(plaintext, prefix) {
		return nil, fmt.Errorf("sealed %s item is bound to another key", service)
	}
	return plaintext[len(prefix):], nil
}

func (s *SealedStore) Set(ctx context.Context, service, key string, value []byte) error {
	if err := validateItemKey(service, key); err != nil {
		return err
	}

	plaintext := append(binding(service, key), value...)
	sealed, err := s.provider.Encrypt(ctx, plaintext)
	if err != nil {
		return fmt.Errorf("failed to seal %s item: %w", service, err)
	}
	return s.inner.Set(ctx, service, key, sealed)
}

func (s *SealedStore) Delete(ctx context.Context, service, key string) error {
	return s.inner.Delete(ctx, service, key)
}

var _ SecureStore = (*SealedStore)(nil)
