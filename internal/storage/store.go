package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned by Get when no value exists for (service, key)
var ErrNotFound = errors.New("secure item not found")

// Service names partition Secure Storage
const (
	ServiceOptIn   = "optin"
	ServiceAddress = "address"
	ServiceGuard   = "guard"
	ServiceSession = "session"
)

// SecureStore is the platform key-value secure storage. Values are opaque
// bytes; private keys and seeds are never written to it.
type SecureStore interface {
	Get(ctx context.Context, service, key string) ([]byte, error)
	Set(ctx context.Context, service, key string, value []byte) error
	Delete(ctx context.Context, service, key string) error
}

func validateItemKey(service, key string) error {
	if service == "" {
		return fmt.Errorf("service is required")
	}
	if key == "" {
		return fmt.Errorf("key is required")
	}
	if strings.ContainsAny(service, ":\x00") {
		return fmt.Errorf("invalid service name %q", service)
	}
	return nil
}
