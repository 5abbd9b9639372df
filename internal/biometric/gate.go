// Package biometric gates value-moving actions behind the OS biometric prompt.
package biometric

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/better-wallet/wallet-core/internal/crypto"
	"github.com/better-wallet/wallet-core/internal/logger"
	"github.com/better-wallet/wallet-core/internal/metrics"
	"github.com/better-wallet/wallet-core/internal/storage"
	"github.com/better-wallet/wallet-core/pkg/types"
)

const (
	DefaultCooldown = 10 * time.Second
	DefaultDebounce = 1500 * time.Millisecond

	promptKey = "prompt"
)

// GuardStore holds the storage half of the guard secret
type GuardStore interface {
	Get(ctx context.Context) (*storage.GuardRecord, error)
	Put(ctx context.Context, rec *storage.GuardRecord) error
	Delete(ctx context.Context) error
}

// Options tune a single Authenticate call
type Options struct {
	// ForcePrompt ignores the success cooldown
	ForcePrompt bool

	// FailIfUnsupported denies instead of allowing when there is no hardware
	FailIfUnsupported bool
}

// Config configures the gate. Zero durations take the defaults.
type Config struct {
	Enabled  bool
	Cooldown time.Duration
	Debounce time.Duration

	// Now is the clock; nil means time.Now
	Now func() time.Time
}

// Gate is the single serialization point for biometric prompts.
// At most one OS dialog is ever on screen; callers arriving while it is up
// share its answer.
type Gate struct {
	auth    Authenticator
	guards  GuardStore
	metrics *metrics.Metrics

	cooldown time.Duration
	debounce time.Duration
	now      func() time.Time

	mu         sync.Mutex
	enabled    bool
	state      types.AuthGateState
	lastResult bool

	flight singleflight.Group
}

// NewGate creates a gate. m may be nil.
func NewGate(auth Authenticator, guards GuardStore, cfg Config, m *metrics.Metrics) *Gate {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Gate{
		auth:     auth,
		guards:   guards,
		metrics:  m,
		cooldown: cfg.Cooldown,
		debounce: cfg.Debounce,
		now:      cfg.Now,
		enabled:  cfg.Enabled,
	}
}

// Authenticate returns whether the user is authorized for the action described
// by reason. It never returns true while the gate is locked out.
// If ctx ends first the caller gets false; the prompt itself runs to completion
// and its result still updates the gate.
func (g *Gate) Authenticate(ctx context.Context, reason string, opts Options) bool {
	log := logger.FromContext(ctx)

	g.mu.Lock()
	if !g.enabled {
		g.mu.Unlock()
		g.metrics.Prompt("disabled")
		return true
	}
	if g.state.LockedOut {
		g.mu.Unlock()
		g.metrics.Prompt("locked_out")
		log.Warn("biometric gate is locked out")
		return false
	}
	now := g.now()
	if !opts.ForcePrompt && !g.state.LastSuccessAt.IsZero() && now.Sub(g.state.LastSuccessAt) < g.cooldown {
		g.mu.Unlock()
		g.metrics.Prompt("cooldown")
		return true
	}
	g.mu.Unlock()

	if !g.auth.Available(ctx) {
		g.metrics.Prompt("unsupported")
		log.Info("biometric hardware unavailable", slog.Bool("fail_if_unsupported", opts.FailIfUnsupported))
		return !opts.FailIfUnsupported
	}

	detached := context.WithoutCancel(ctx)
	ch := g.flight.DoChan(promptKey, func() (interface{}, error) {
		return g.prompt(detached, reason), nil
	})

	select {
	case res := <-ch:
		if res.Shared {
			g.metrics.Prompt("joined")
		}
		return res.Val.(bool)
	case <-ctx.Done():
		log.Info("caller stopped waiting for biometric prompt", slog.String("reason", ctx.Err().Error()))
		return false
	}
}

// prompt runs at most one OS dialog and records its result
func (g *Gate) prompt(ctx context.Context, reason string) bool {
	g.mu.Lock()
	if g.state.LockedOut {
		g.mu.Unlock()
		return false
	}
	if at := g.state.LastAttemptAt; !at.IsZero() && g.now().Sub(at) < g.debounce {
		result := g.lastResult
		g.mu.Unlock()
		g.metrics.Prompt("debounced")
		return result
	}
	g.mu.Unlock()

	log := logger.FromContext(ctx)
	res, err := g.auth.Prompt(ctx, reason)
	defer crypto.ZeroBytes(res.DeviceShare)

	var (
		ok      bool
		locked  bool
		lastErr string
	)
	switch {
	case err != nil:
		lastErr = err.Error()
	case res.Outcome == OutcomeSuccess:
		if verr := g.verifyShare(ctx, res.DeviceShare); verr != nil {
			lastErr = verr.Error()
		} else {
			ok = true
		}
	case res.Outcome == OutcomeLockout:
		locked = true
		lastErr = "biometric lockout"
	default:
		lastErr = res.Outcome.String()
	}

	g.mu.Lock()
	at := g.now()
	g.state.LastAttemptAt = at
	if ok {
		g.state.LastSuccessAt = at
	}
	if locked {
		g.state.LockedOut = true
	}
	g.state.LastError = lastErr
	g.lastResult = ok
	g.mu.Unlock()

	switch {
	case ok:
		g.metrics.Prompt("prompted_success")
	case locked:
		g.metrics.Prompt("locked_out")
		log.Warn("biometric lockout reported, gate closed until device unlock")
	default:
		g.metrics.Prompt("prompted_denied")
		log.Info("biometric prompt not granted", slog.String("error", lastErr))
	}
	return ok
}

func (g *Gate) verifyShare(ctx context.Context, deviceShare []byte) error {
	rec, err := g.guards.Get(ctx)
	if err != nil {
		return fmt.Errorf("failed to load guard record: %w", err)
	}
	if rec == nil {
		return fmt.Errorf("biometric guard is not enrolled")
	}
	return crypto.VerifyGuardShares(deviceShare, rec.StoredShare, rec.Digest)
}

// Enroll creates a fresh guard secret, hands one share to the OS keychain and
// keeps the other with its digest in secure storage
func (g *Gate) Enroll(ctx context.Context) error {
	shares, err := crypto.NewGuardShares()
	if err != nil {
		return err
	}
	defer crypto.ZeroBytes(shares.DeviceShare)

	if err := g.auth.StoreDeviceShare(ctx, shares.DeviceShare); err != nil {
		return fmt.Errorf("failed to store device share: %w", err)
	}
	if err := g.guards.Put(ctx, &storage.GuardRecord{
		StoredShare: shares.StoredShare,
		Digest:      shares.Digest,
		EnrolledAt:  g.now().UTC(),
	}); err != nil {
		return fmt.Errorf("failed to store guard record: %w", err)
	}

	logger.FromContext(ctx).Info("biometric guard enrolled")
	return nil
}

// Enrolled reports whether a guard record exists
func (g *Gate) Enrolled(ctx context.Context) (bool, error) {
	rec, err := g.guards.Get(ctx)
	if err != nil {
		return false, err
	}
	return rec != nil, nil
}

// ClearLockout is the device-unlock signal
func (g *Gate) ClearLockout() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state.LockedOut = false
	g.state.LastError = ""
}

// SetEnabled turns biometric protection on or off for the account
func (g *Gate) SetEnabled(enabled bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.enabled = enabled
}

// Enabled reports whether the gate prompts at all
func (g *Gate) Enabled() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.enabled
}

// State returns a copy of the gate state
func (g *Gate) State() types.AuthGateState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}
