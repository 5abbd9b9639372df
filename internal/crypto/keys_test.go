package crypto

import (
	"bytes"
	"crypto/ed25519"
	"fmt"
	"log/slog"
	"testing"

	algotypes "github.com/algorand/go-algorand-sdk/v2/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSeed(b byte) []byte {
	return bytes.Repeat([]byte{b}, SeedSize)
}

func TestNewKeyPairFromSeed(t *testing.T) {
	t.Run("deterministic", func(t *testing.T) {
		a, err := NewKeyPairFromSeed(testSeed(7))
		require.NoError(t, err)
		b, err := NewKeyPairFromSeed(testSeed(7))
		require.NoError(t, err)

		assert.Equal(t, a.Address(), b.Address())
		assert.Equal(t, a.PublicKey(), b.PublicKey())
	})

	t.Run("address round-trips through the sdk decoder", func(t *testing.T) {
		kp, err := NewKeyPairFromSeed(testSeed(1))
		require.NoError(t, err)

		addr, err := algotypes.DecodeAddress(kp.Address())
		require.NoError(t, err)
		assert.Equal(t, []byte(kp.PublicKey()), addr[:])
		assert.Len(t, kp.Address(), 58)
	})

	t.Run("wrong seed length", func(t *testing.T) {
		_, err := NewKeyPairFromSeed(make([]byte, 16))
		assert.Error(t, err)
	})
}

func TestKeyPair_Sign(t *testing.T) {
	kp, err := NewKeyPairFromSeed(testSeed(3))
	require.NoError(t, err)

	msg := []byte("hello")
	sig, err := kp.Sign(msg)
	require.NoError(t, err)
	assert.True(t, ed25519.Verify(kp.PublicKey(), msg, sig))
}

func TestKeyPair_Zero(t *testing.T) {
	kp, err := NewKeyPairFromSeed(testSeed(4))
	require.NoError(t, err)

	sk, err := kp.PrivateKey()
	require.NoError(t, err)

	kp.Zero()
	assert.True(t, kp.Zeroed())
	assert.Equal(t, make([]byte, len(sk)), []byte(sk), "private key buffer should be wiped")

	_, err = kp.Sign([]byte("x"))
	assert.Error(t, err)

	_, err = kp.PrivateKey()
	assert.Error(t, err)

	// idempotent
	kp.Zero()
	assert.NotEmpty(t, kp.Address())
}

func TestKeyPair_NeverPrintsPrivateKey(t *testing.T) {
	kp, err := NewKeyPairFromSeed(testSeed(5))
	require.NoError(t, err)
	sk, err := kp.PrivateKey()
	require.NoError(t, err)
	hexKey := fmt.Sprintf("%x", []byte(sk))

	for _, out := range []string{
		fmt.Sprintf("%v", kp),
		fmt.Sprintf("%+v", kp),
		fmt.Sprintf("%#v", kp),
		kp.LogValue().String(),
	} {
		assert.NotContains(t, out, hexKey)
		assert.Contains(t, out, kp.Address())
	}

	var buf bytes.Buffer
	slog.New(slog.NewJSONHandler(&buf, nil)).Info("key", "kp", kp)
	assert.NotContains(t, buf.String(), hexKey)
}

func TestZeroBytes(t *testing.T) {
	b := []byte{1, 2, 3}
	ZeroBytes(b)
	assert.Equal(t, []byte{0, 0, 0}, b)
}
