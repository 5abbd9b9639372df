package keyexec

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/better-wallet/wallet-core/internal/algotest"
	"github.com/better-wallet/wallet-core/internal/derivation"
	"github.com/better-wallet/wallet-core/internal/keycache"
	apperrors "github.com/better-wallet/wallet-core/pkg/errors"
	"github.com/better-wallet/wallet-core/pkg/types"
)

func claims() types.IdentityClaims {
	return types.IdentityClaims{
		Issuer:   "https://accounts.google.com",
		Subject:  "109876543210",
		Audience: "client-id",
		Provider: types.ProviderGoogle,
	}
}

func newSigner(t *testing.T, opts ...Option) (*Signer, *keycache.Cache, *derivation.Engine) {
	t.Helper()
	engine := derivation.NewEngine()
	cache := keycache.New(engine, nil)
	return NewSigner(cache, opts...), cache, engine
}

func TestSign_ProducesVerifiableSignature(t *testing.T) {
	s, _, _ := newSigner(t)
	ctx := context.Background()
	scope := types.PersonalScope(claims(), 0)

	address, err := s.Address(ctx, scope)
	require.NoError(t, err)

	unsigned := algotest.Payment(address, 5)
	original := append([]byte(nil), unsigned...)

	signed, err := s.Sign(ctx, scope, types.TransactionEnvelope{RawBytes: unsigned})
	require.NoError(t, err)

	assert.Equal(t, original, unsigned, "input bytes must not be mutated")
	assert.True(t, algotest.Verify(algotest.PublicKey(address), signed))

	stx, err := algotest.DecodeSigned(signed)
	require.NoError(t, err)
	assert.Equal(t, address, stx.Txn.Sender.String())
}

func TestSign_ScopesSignWithDifferentKeys(t *testing.T) {
	s, _, _ := newSigner(t)
	ctx := context.Background()

	personal := types.PersonalScope(claims(), 0)
	business := types.BusinessScope(claims(), "biz-1", 0)

	pAddr, err := s.Address(ctx, personal)
	require.NoError(t, err)
	bAddr, err := s.Address(ctx, business)
	require.NoError(t, err)
	require.NotEqual(t, pAddr, bAddr)

	signed, err := s.Sign(ctx, business, types.TransactionEnvelope{RawBytes: algotest.OptIn(bAddr, 31566704)})
	require.NoError(t, err)
	assert.True(t, algotest.Verify(algotest.PublicKey(bAddr), signed))
	assert.False(t, algotest.Verify(algotest.PublicKey(pAddr), signed))
}

func TestSignGroup_PreservesOrder(t *testing.T) {
	s, _, _ := newSigner(t)
	ctx := context.Background()
	scope := types.BusinessScope(claims(), "biz-1", 0)

	address, err := s.Address(ctx, scope)
	require.NoError(t, err)

	assets := []uint64{31566704, 3198568509}
	envs := make([]types.TransactionEnvelope, len(assets))
	for i, id := range assets {
		envs[i] = types.TransactionEnvelope{RawBytes: algotest.OptIn(address, id)}
	}

	signed, err := s.SignGroup(ctx, scope, envs)
	require.NoError(t, err)
	require.Len(t, signed, 2)

	for i, raw := range signed {
		stx, err := algotest.DecodeSigned(raw)
		require.NoError(t, err)
		assert.Equal(t, assets[i], uint64(stx.Txn.XferAsset))
	}
}

func TestSign_BadInput(t *testing.T) {
	s, _, engine := newSigner(t)
	ctx := context.Background()
	scope := types.PersonalScope(claims(), 0)

	_, err := s.SignGroup(ctx, scope, nil)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeBadRequest))

	_, err = s.Sign(ctx, scope, types.TransactionEnvelope{})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeBadRequest))
	assert.Zero(t, engine.Derivations())

	_, err = s.Sign(ctx, scope, types.TransactionEnvelope{RawBytes: []byte{0xc1, 0xc1}})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeBadRequest))
}

func TestSign_InvalidScope(t *testing.T) {
	s, _, _ := newSigner(t)
	scope := types.WalletScope{Claims: claims(), AccountType: types.AccountTypeBusiness}

	_, err := s.Sign(context.Background(), scope, types.TransactionEnvelope{RawBytes: []byte{1}})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidScope))
}

func TestSign_RetriesOnceWithFreshKey(t *testing.T) {
	var calls atomic.Int32
	flaky := func(sk ed25519.PrivateKey, unsigned []byte) ([]byte, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("transient failure")
		}
		return SignAlgorandTransaction(sk, unsigned)
	}

	s, _, engine := newSigner(t, WithSignFunc(flaky))
	ctx := context.Background()
	scope := types.PersonalScope(claims(), 0)

	address, err := s.Address(ctx, scope)
	require.NoError(t, err)
	require.Equal(t, uint64(1), engine.Derivations())

	signed, err := s.Sign(ctx, scope, types.TransactionEnvelope{RawBytes: algotest.Payment(address, 1)})
	require.NoError(t, err)
	assert.True(t, algotest.Verify(algotest.PublicKey(address), signed))
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, uint64(2), engine.Derivations(), "retry must use a re-derived key")
}

func TestSign_SurfacesSigningFailureAfterRetry(t *testing.T) {
	var calls atomic.Int32
	broken := func(ed25519.PrivateKey, []byte) ([]byte, error) {
		calls.Add(1)
		return nil, errors.New("library exploded")
	}

	s, _, _ := newSigner(t, WithSignFunc(broken))
	_, err := s.Sign(context.Background(), types.PersonalScope(claims(), 0), types.TransactionEnvelope{RawBytes: []byte{1}})

	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeSigningFailed))
	assert.Equal(t, int32(2), calls.Load())
}

func TestSign_SerializesPerScope(t *testing.T) {
	var (
		active  atomic.Int32
		maxSeen atomic.Int32
	)
	slow := func(sk ed25519.PrivateKey, unsigned []byte) ([]byte, error) {
		n := active.Add(1)
		defer active.Add(-1)
		for {
			m := maxSeen.Load()
			if n <= m || maxSeen.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		return bytes.Clone(unsigned), nil
	}

	s, _, _ := newSigner(t, WithSignFunc(slow))
	scope := types.PersonalScope(claims(), 0)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.Sign(context.Background(), scope, types.TransactionEnvelope{RawBytes: []byte{1}})
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxSeen.Load())
}

func TestSign_ReleasesScopeLocks(t *testing.T) {
	s, _, _ := newSigner(t, WithSignFunc(func(sk ed25519.PrivateKey, unsigned []byte) ([]byte, error) {
		return bytes.Clone(unsigned), nil
	}))

	var wg sync.WaitGroup
	for i := uint32(0); i < 16; i++ {
		wg.Add(1)
		go func(index uint32) {
			defer wg.Done()
			scope := types.PersonalScope(claims(), index%4)
			_, err := s.Sign(context.Background(), scope, types.TransactionEnvelope{RawBytes: []byte{1}})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	assert.Empty(t, s.locks)
}
