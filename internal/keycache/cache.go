// Package keycache holds derived keypairs in memory, one per wallet scope.
package keycache

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/better-wallet/wallet-core/internal/crypto"
	"github.com/better-wallet/wallet-core/internal/logger"
	"github.com/better-wallet/wallet-core/internal/metrics"
	apperrors "github.com/better-wallet/wallet-core/pkg/errors"
	"github.com/better-wallet/wallet-core/pkg/types"
)

// Deriver produces the keypair for a scope
type Deriver interface {
	Derive(scope types.WalletScope) (*crypto.KeyPair, error)
}

// errEvicted is returned when a key is dropped while a derivation for it was in flight
var errEvicted = errors.New("key evicted during derivation")

type entry struct {
	mu      sync.RWMutex
	kp      *crypto.KeyPair
	evicted bool
}

// pending marks a derivation in flight; an eviction of its scope aborts it
type pending struct {
	aborted bool
}

// Cache maps a WalletScope to its keypair. Keys only ever live here, in
// process memory; eviction zeroes them.
type Cache struct {
	deriver Deriver
	metrics *metrics.Metrics

	mu      sync.Mutex
	entries map[types.WalletScope]*entry
	pending map[types.WalletScope]*pending

	flight singleflight.Group
}

// New creates an empty cache. m may be nil.
func New(deriver Deriver, m *metrics.Metrics) *Cache {
	return &Cache{
		deriver: deriver,
		metrics: m,
		entries: make(map[types.WalletScope]*entry),
		pending: make(map[types.WalletScope]*pending),
	}
}

// GetOrDerive returns the cached keypair for scope, deriving it once if absent.
// Concurrent callers for the same scope share a single derivation.
// The returned keypair may be zeroed by a later Evict; use Use to sign.
func (c *Cache) GetOrDerive(ctx context.Context, scope types.WalletScope) (*crypto.KeyPair, error) {
	e, err := c.lookup(ctx, scope)
	if err != nil {
		return nil, err
	}
	return e.kp, nil
}

// Use runs fn with the scope's keypair. The entry cannot be evicted while fn runs.
func (c *Cache) Use(ctx context.Context, scope types.WalletScope, fn func(kp *crypto.KeyPair) error) error {
	for attempt := 0; attempt < 2; attempt++ {
		e, err := c.lookup(ctx, scope)
		if err != nil {
			return err
		}

		e.mu.RLock()
		if e.evicted {
			e.mu.RUnlock()
			continue
		}
		err = fn(e.kp)
		e.mu.RUnlock()
		return err
	}
	return apperrors.DerivationFailed(errEvicted)
}

// Evict zeroes and drops the keypair for scope
func (c *Cache) Evict(scope types.WalletScope) {
	c.mu.Lock()
	e, ok := c.entries[scope]
	delete(c.entries, scope)
	if p, inFlight := c.pending[scope]; inFlight {
		p.aborted = true
	}
	c.mu.Unlock()

	if ok {
		e.zero()
		c.metrics.CacheEvictions(1)
	}
}

// EvictAll zeroes every cached keypair
func (c *Cache) EvictAll() {
	c.mu.Lock()
	old := c.entries
	c.entries = make(map[types.WalletScope]*entry)
	for _, p := range c.pending {
		p.aborted = true
	}
	c.mu.Unlock()

	for _, e := range old {
		e.zero()
	}
	c.metrics.CacheEvictions(len(old))
}

// Len reports the number of cached keys
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) lookup(ctx context.Context, scope types.WalletScope) (*entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	e, ok := c.entries[scope]
	c.mu.Unlock()
	if ok {
		c.metrics.CacheHit()
		return e, nil
	}

	ch := c.flight.DoChan(scope.Key(), func() (interface{}, error) {
		return c.derive(ctx, scope)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*entry), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Cache) derive(ctx context.Context, scope types.WalletScope) (*entry, error) {
	c.mu.Lock()
	if e, ok := c.entries[scope]; ok {
		c.mu.Unlock()
		return e, nil
	}
	p := &pending{}
	c.pending[scope] = p
	c.mu.Unlock()

	kp, err := c.deriver.Derive(scope)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending[scope] == p {
		delete(c.pending, scope)
	}
	if err != nil {
		return nil, err
	}
	c.metrics.Derivation()

	if p.aborted {
		kp.Zero()
		logger.FromContext(ctx).Debug("discarding key derived across an eviction", slog.String("scope", scope.String()))
		return nil, apperrors.DerivationFailed(errEvicted)
	}

	e := &entry{kp: kp}
	c.entries[scope] = e
	return e, nil
}

func (e *entry) zero() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.evicted = true
	e.kp.Zero()
}
