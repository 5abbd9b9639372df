package biometric

import (
	"context"
	"errors"
)

// Outcome is what the OS biometric subsystem reports for one prompt.
// There is no passcode fallback: these are the only results.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeDenied
	OutcomeLockout
	OutcomeUnsupported
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeDenied:
		return "denied"
	case OutcomeLockout:
		return "lockout"
	case OutcomeUnsupported:
		return "unsupported"
	default:
		return "unknown"
	}
}

// PromptResult carries the device share released by a successful prompt
type PromptResult struct {
	Outcome     Outcome
	DeviceShare []byte
}

// Authenticator is the OS biometric subsystem
type Authenticator interface {
	// Available reports whether biometric hardware is present and enrolled
	Available(ctx context.Context) bool

	// Prompt shows one OS dialog and blocks until the user answers
	Prompt(ctx context.Context, reason string) (PromptResult, error)

	// StoreDeviceShare puts the guard share behind biometric access control
	StoreDeviceShare(ctx context.Context, share []byte) error
}

// ErrUnsupported is returned by authenticators without biometric hardware
var ErrUnsupported = errors.New("biometric authentication is not supported on this device")

// Unsupported is an Authenticator for hosts without biometric hardware
type Unsupported struct{}

func (Unsupported) Available(context.Context) bool { return false }

func (Unsupported) Prompt(context.Context, string) (PromptResult, error) {
	return PromptResult{Outcome: OutcomeUnsupported}, nil
}

func (Unsupported) StoreDeviceShare(context.Context, []byte) error { return ErrUnsupported }
