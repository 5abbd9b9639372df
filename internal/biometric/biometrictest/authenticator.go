// Package biometrictest provides a scriptable biometric.Authenticator.
package biometrictest

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/better-wallet/wallet-core/internal/biometric"
)

// Authenticator plays back a fixed outcome. On success it releases whatever
// device share was last stored, so a gate enrolled against it verifies.
type Authenticator struct {
	Unavailable bool

	mu      sync.Mutex
	outcome biometric.Outcome
	err     error
	share   []byte
	block   chan struct{}

	prompts atomic.Int32
}

// New returns an available authenticator that answers success
func New() *Authenticator {
	return &Authenticator{outcome: biometric.OutcomeSuccess}
}

// SetOutcome changes the answer for subsequent prompts
func (a *Authenticator) SetOutcome(o biometric.Outcome) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.outcome = o
}

// SetError makes subsequent prompts fail with err
func (a *Authenticator) SetError(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.err = err
}

// Hold makes prompts block until the returned release func is called
func (a *Authenticator) Hold() (release func()) {
	ch := make(chan struct{})
	a.mu.Lock()
	a.block = ch
	a.mu.Unlock()

	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

// Prompts returns how many OS dialogs were shown
func (a *Authenticator) Prompts() int {
	return int(a.prompts.Load())
}

// CorruptShare flips a bit in the stored device share
func (a *Authenticator) CorruptShare() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.share) > 0 {
		a.share[0] ^= 0xff
	}
}

func (a *Authenticator) Available(context.Context) bool {
	return !a.Unavailable
}

func (a *Authenticator) Prompt(_ context.Context, _ string) (biometric.PromptResult, error) {
	a.prompts.Add(1)

	a.mu.Lock()
	block := a.block
	a.mu.Unlock()
	if block != nil {
		<-block
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return biometric.PromptResult{}, a.err
	}
	res := biometric.PromptResult{Outcome: a.outcome}
	if a.outcome == biometric.OutcomeSuccess {
		res.DeviceShare = append([]byte(nil), a.share...)
	}
	return res, nil
}

func (a *Authenticator) StoreDeviceShare(_ context.Context, share []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.share = append([]byte(nil), share...)
	return nil
}

var _ biometric.Authenticator = (*Authenticator)(nil)
