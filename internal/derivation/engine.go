// Package derivation turns an authenticated identity and an account selector
// into a deterministic ed25519 keypair. Nothing it produces is persisted.
package derivation

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"strconv"
	"sync/atomic"

	"golang.org/x/crypto/hkdf"

	"github.com/better-wallet/wallet-core/internal/crypto"
	apperrors "github.com/better-wallet/wallet-core/pkg/errors"
	"github.com/better-wallet/wallet-core/pkg/types"
)

const (
	saltDomain    = "wallet-core/v1"
	subjectDomain = "wallet-core/subject/v1"
	seedInfo      = "ed25519-seed"

	// noBusiness stands in for an absent business id so "" can never
	// collide with a real identifier in the salt encoding
	noBusiness = "-"
)

// Engine derives keypairs. It holds no key state and is safe for concurrent use.
type Engine struct {
	derivations atomic.Uint64
}

// NewEngine creates a derivation engine
func NewEngine() *Engine {
	return &Engine{}
}

// Derive returns the keypair for scope. Equal scopes always yield the same
// keypair; any field difference yields an unrelated one.
func (e *Engine) Derive(scope types.WalletScope) (*crypto.KeyPair, error) {
	if err := scope.Validate(); err != nil {
		return nil, apperrors.InvalidScope(err.Error())
	}

	e.derivations.Add(1)

	salt := Salt(scope)
	ikm := subjectIKM(scope.Claims.Subject)
	defer crypto.ZeroBytes(ikm)

	seed := make([]byte, crypto.SeedSize)
	defer crypto.ZeroBytes(seed)

	reader := hkdf.New(sha256.New, ikm, salt, []byte(seedInfo))
	if _, err := io.ReadFull(reader, seed); err != nil {
		return nil, apperrors.DerivationFailed(fmt.Errorf("failed to expand seed: %w", err))
	}

	kp, err := crypto.NewKeyPairFromSeed(seed)
	if err != nil {
		return nil, apperrors.DerivationFailed(err)
	}
	return kp, nil
}

// Derivations returns how many KDF runs this engine has performed
func (e *Engine) Derivations() uint64 {
	return e.derivations.Load()
}

// Salt is the domain-separated digest of every non-secret scope field
func Salt(scope types.WalletScope) []byte {
	businessID := scope.BusinessID
	if businessID == "" {
		businessID = noBusiness
	}

	h := sha256.New()
	for _, field := range []string{
		saltDomain,
		scope.Claims.Issuer,
		scope.Claims.Audience,
		string(scope.Claims.Provider),
		string(scope.AccountType),
		strconv.FormatUint(uint64(scope.AccountIndex), 10),
		businessID,
	} {
		writeField(h, field)
	}
	return h.Sum(nil)
}

func subjectIKM(subject string) []byte {
	h := sha256.New()
	writeField(h, subjectDomain)
	writeField(h, subject)
	return h.Sum(nil)
}

func writeField(w io.Writer, field string) {
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(field)))
	_, _ = w.Write(n[:])
	_, _ = io.WriteString(w, field)
}
