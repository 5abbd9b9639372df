// Package keyexec signs Algorand transactions with keys held in the scope cache.
package keyexec

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	algocrypto "github.com/algorand/go-algorand-sdk/v2/crypto"
	"github.com/algorand/go-algorand-sdk/v2/encoding/msgpack"
	algotypes "github.com/algorand/go-algorand-sdk/v2/types"

	"github.com/better-wallet/wallet-core/internal/crypto"
	"github.com/better-wallet/wallet-core/internal/logger"
	"github.com/better-wallet/wallet-core/internal/metrics"
	apperrors "github.com/better-wallet/wallet-core/pkg/errors"
	"github.com/better-wallet/wallet-core/pkg/types"
)

// KeySource is the scope cache as seen by the signer
type KeySource interface {
	Use(ctx context.Context, scope types.WalletScope, fn func(kp *crypto.KeyPair) error) error
	Evict(scope types.WalletScope)
}

// SignFunc signs one msgpack-encoded unsigned transaction. An *AppError is
// returned to the caller as is; any other error counts as a signing failure.
type SignFunc func(sk ed25519.PrivateKey, unsigned []byte) ([]byte, error)

// signError marks a failure of the chain library itself, the only kind the
// signer retries with a fresh key
type signError struct {
	err error
}

func (e *signError) Error() string { return e.err.Error() }
func (e *signError) Unwrap() error { return e.err }

// Signer signs for a scope. Signing within one scope is serialized; different
// scopes sign in parallel.
type Signer struct {
	keys    KeySource
	sign    SignFunc
	metrics *metrics.Metrics

	mu    sync.Mutex
	locks map[string]*scopeLock
}

// scopeLock is dropped from Signer.locks once no caller holds or waits on it
type scopeLock struct {
	mu   sync.Mutex
	refs int
}

// Option configures a Signer
type Option func(*Signer)

// WithSignFunc replaces the Algorand signing function
func WithSignFunc(fn SignFunc) Option {
	return func(s *Signer) { s.sign = fn }
}

// WithMetrics records signature counts
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Signer) { s.metrics = m }
}

// NewSigner creates a signer over keys
func NewSigner(keys KeySource, opts ...Option) *Signer {
	s := &Signer{
		keys:  keys,
		sign:  SignAlgorandTransaction,
		locks: make(map[string]*scopeLock),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SignAlgorandTransaction decodes an unsigned transaction and returns the
// msgpack-encoded SignedTxn
func SignAlgorandTransaction(sk ed25519.PrivateKey, unsigned []byte) ([]byte, error) {
	var tx algotypes.Transaction
	if err := msgpack.Decode(unsigned, &tx); err != nil {
		return nil, apperrors.BadRequest(fmt.Sprintf("not an unsigned transaction: %v", err))
	}

	_, signed, err := algocrypto.SignTransaction(sk, tx)
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}
	return signed, nil
}

// Sign signs one envelope with the scope's key. envelope.RawBytes is never modified.
func (s *Signer) Sign(ctx context.Context, scope types.WalletScope, envelope types.TransactionEnvelope) ([]byte, error) {
	signed, err := s.SignGroup(ctx, scope, []types.TransactionEnvelope{envelope})
	if err != nil {
		return nil, err
	}
	return signed[0], nil
}

// SignGroup signs envelopes in order under one lock acquisition
func (s *Signer) SignGroup(ctx context.Context, scope types.WalletScope, envelopes []types.TransactionEnvelope) ([][]byte, error) {
	if len(envelopes) == 0 {
		return nil, apperrors.BadRequest("no transactions to sign")
	}

	unsigned := make([][]byte, len(envelopes))
	for i, env := range envelopes {
		if len(env.RawBytes) == 0 {
			return nil, apperrors.BadRequest(fmt.Sprintf("transaction %d is empty", i))
		}
		unsigned[i] = append([]byte(nil), env.RawBytes...)
	}

	unlock := s.lockScope(scope)
	defer unlock()

	signed, err := s.signAll(ctx, scope, unsigned)
	if err == nil {
		s.metrics.Signature(true)
		return signed, nil
	}

	var se *signError
	if !errors.As(err, &se) {
		s.metrics.Signature(false)
		return nil, err
	}

	logger.FromContext(ctx).Warn("signing failed, retrying with a re-derived key",
		slog.String("scope", scope.String()),
		slog.String("error", err.Error()),
	)
	s.keys.Evict(scope)

	signed, err = s.signAll(ctx, scope, unsigned)
	if err != nil {
		s.metrics.Signature(false)
		if errors.As(err, &se) {
			return nil, apperrors.SigningFailed(se.err)
		}
		return nil, err
	}
	s.metrics.Signature(true)
	return signed, nil
}

// Address returns the scope's public address, deriving the key if needed
func (s *Signer) Address(ctx context.Context, scope types.WalletScope) (string, error) {
	var address string
	err := s.keys.Use(ctx, scope, func(kp *crypto.KeyPair) error {
		address = kp.Address()
		return nil
	})
	return address, err
}

func (s *Signer) signAll(ctx context.Context, scope types.WalletScope, unsigned [][]byte) ([][]byte, error) {
	out := make([][]byte, len(unsigned))
	err := s.keys.Use(ctx, scope, func(kp *crypto.KeyPair) error {
		sk, err := kp.PrivateKey()
		if err != nil {
			return &signError{err: err}
		}
		for i, raw := range unsigned {
			signed, err := s.sign(sk, raw)
			if err != nil {
				if _, ok := apperrors.IsAppError(err); ok {
					return err
				}
				return &signError{err: err}
			}
			out[i] = signed
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Signer) lockScope(scope types.WalletScope) func() {
	key := scope.Key()

	s.mu.Lock()
	l, ok := s.locks[key]
	if !ok {
		l = &scopeLock{}
		s.locks[key] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()

		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}
