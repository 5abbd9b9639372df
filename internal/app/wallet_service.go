// Package app is the wallet surface the UI layer calls.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/better-wallet/wallet-core/internal/biometric"
	"github.com/better-wallet/wallet-core/internal/identity"
	"github.com/better-wallet/wallet-core/internal/keycache"
	"github.com/better-wallet/wallet-core/internal/keyexec"
	"github.com/better-wallet/wallet-core/internal/logger"
	"github.com/better-wallet/wallet-core/internal/optin"
	"github.com/better-wallet/wallet-core/internal/session"
	"github.com/better-wallet/wallet-core/internal/sponsor"
	"github.com/better-wallet/wallet-core/internal/storage"
	apperrors "github.com/better-wallet/wallet-core/pkg/errors"
	"github.com/better-wallet/wallet-core/pkg/types"
)

// Deps are the collaborators of a WalletService
type Deps struct {
	Keys      *keycache.Cache
	Session   *session.Resolver
	Gate      *biometric.Gate
	Signer    *keyexec.Signer
	Submitter *sponsor.Submitter
	OptIns    *optin.Coordinator
	Addresses *storage.AddressRepository

	// Verifier is optional; without it only pre-verified claims can sign in
	Verifier *identity.Verifier

	// FailIfUnsupported denies value-moving actions on devices without biometrics
	FailIfUnsupported bool
}

// WalletService handles wallet operations for the signed-in user
type WalletService struct {
	keys              *keycache.Cache
	session           *session.Resolver
	gate              *biometric.Gate
	signer            *keyexec.Signer
	submitter         *sponsor.Submitter
	optIns            *optin.Coordinator
	addresses         *storage.AddressRepository
	verifier          *identity.Verifier
	failIfUnsupported bool
}

// NewWalletService creates a new wallet service
func NewWalletService(deps Deps) *WalletService {
	return &WalletService{
		keys:              deps.Keys,
		session:           deps.Session,
		gate:              deps.Gate,
		signer:            deps.Signer,
		submitter:         deps.Submitter,
		optIns:            deps.OptIns,
		addresses:         deps.Addresses,
		verifier:          deps.Verifier,
		failIfUnsupported: deps.FailIfUnsupported,
	}
}

// SignIn captures verified identity claims. Switching to another identity
// zeroes every cached key first. The biometric guard is enrolled on first use.
func (s *WalletService) SignIn(ctx context.Context, claims types.IdentityClaims) error {
	if current, ok := s.session.Identity(); ok && current != claims {
		s.keys.EvictAll()
	}
	if err := s.session.SetIdentity(ctx, claims); err != nil {
		return err
	}

	if !s.gate.Enabled() {
		return nil
	}
	enrolled, err := s.gate.Enrolled(ctx)
	if err != nil {
		return fmt.Errorf("failed to check biometric enrollment: %w", err)
	}
	if enrolled {
		return nil
	}
	if err := s.gate.Enroll(ctx); err != nil {
		if errors.Is(err, biometric.ErrUnsupported) {
			logger.FromContext(ctx).Info("biometric enrollment skipped, hardware unavailable")
			return nil
		}
		return fmt.Errorf("failed to enroll biometric guard: %w", err)
	}
	return nil
}

// SignInWithToken verifies an OIDC ID token and signs in with its claims
func (s *WalletService) SignInWithToken(ctx context.Context, provider types.Provider, idToken string) (types.IdentityClaims, error) {
	if s.verifier == nil {
		return types.IdentityClaims{}, apperrors.BadRequest("identity token verification is not configured")
	}
	claims, err := s.verifier.Verify(ctx, provider, idToken)
	if err != nil {
		return types.IdentityClaims{}, err
	}
	if err := s.SignIn(ctx, claims); err != nil {
		return types.IdentityClaims{}, err
	}
	return claims, nil
}

// SignOut zeroes every cached key and forgets the session
func (s *WalletService) SignOut(ctx context.Context) error {
	s.keys.EvictAll()
	return s.session.Clear(ctx)
}

// SwitchAccount changes the active account
func (s *WalletService) SwitchAccount(ctx context.Context, accountType types.AccountType, index uint32, businessID string, role types.Role) error {
	return s.session.SwitchTo(ctx, accountType, index, businessID, role)
}

// Identity returns the signed-in identity
func (s *WalletService) Identity() (types.IdentityClaims, bool) {
	return s.session.Identity()
}

// ActiveAccount returns the active account context
func (s *WalletService) ActiveAccount() types.AccountContext {
	return s.session.ActiveContext()
}

// ActiveAddress returns the public address of the active scope. Addresses are
// persisted once derived so later lookups skip derivation.
func (s *WalletService) ActiveAddress(ctx context.Context) (string, error) {
	scope, err := s.session.ActiveScope(ctx)
	if err != nil {
		return "", err
	}

	address, err := s.addresses.Get(ctx, scope)
	if err != nil {
		logger.FromContext(ctx).Warn("stored address unreadable, deriving", slog.String("error", err.Error()))
	}
	if address != "" {
		return address, nil
	}

	address, err = s.signer.Address(ctx, scope)
	if err != nil {
		return "", err
	}
	if err := s.addresses.Put(ctx, scope, address); err != nil {
		return "", fmt.Errorf("failed to store address: %w", err)
	}
	return address, nil
}

// AuthenticateForAction runs the biometric gate. It returns AuthLockedOut when
// the device has locked biometrics and AuthDenied for any other refusal.
func (s *WalletService) AuthenticateForAction(ctx context.Context, reason string) error {
	if s.gate.Authenticate(ctx, reason, biometric.Options{FailIfUnsupported: s.failIfUnsupported}) {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.gate.State().LockedOut {
		return apperrors.ErrAuthLockedOut
	}
	return apperrors.ErrAuthDenied
}

// SignForActiveScope signs envelope with the active scope's key. Value-moving
// transactions pass the biometric gate first. Whether a transaction moves
// value is read from its bytes; valueMoving can only add the gate.
func (s *WalletService) SignForActiveScope(ctx context.Context, envelope types.TransactionEnvelope, valueMoving bool) ([]byte, error) {
	scope, err := s.session.ActiveScope(ctx)
	if err != nil {
		return nil, err
	}
	if valueMoving || keyexec.RequiresApproval(envelope.RawBytes) {
		if err := s.AuthenticateForAction(ctx, "Approve transaction"); err != nil {
			return nil, err
		}
	}
	return s.signer.Sign(ctx, scope, envelope)
}

// SubmitSponsoredGroup submits already signed user transactions behind sponsor
func (s *WalletService) SubmitSponsoredGroup(ctx context.Context, sponsorTxn types.SponsorTransaction, userTxns [][]byte) (types.Outcome, error) {
	return s.submitter.Submit(ctx, sponsorTxn, userTxns)
}

// SignAndSubmit gates once, signs envelopes in order and submits them behind sponsor
func (s *WalletService) SignAndSubmit(ctx context.Context, sponsorTxn types.SponsorTransaction, envelopes []types.TransactionEnvelope) (types.Outcome, error) {
	scope, err := s.session.ActiveScope(ctx)
	if err != nil {
		return types.Failed(err.Error()), err
	}
	if err := s.AuthenticateForAction(ctx, "Approve transaction"); err != nil {
		return types.Failed(err.Error()), err
	}

	signed, err := s.signer.SignGroup(ctx, scope, envelopes)
	if err != nil {
		return types.Failed(err.Error()), err
	}
	return s.submitter.Submit(ctx, sponsorTxn, signed)
}

// EnsureOptedIn brings targetID to the required opt-ins. An empty targetID
// means the active account: its business id, or its address when personal.
func (s *WalletService) EnsureOptedIn(ctx context.Context, targetID string) (types.OptInResult, error) {
	if targetID == "" {
		account := s.session.ActiveContext()
		if account.AccountType == types.AccountTypeBusiness {
			targetID = account.BusinessID
		} else {
			address, err := s.ActiveAddress(ctx)
			if err != nil {
				return types.OptInResult{State: types.OptInFailed, Reason: err.Error()}, err
			}
			targetID = address
		}
	}
	return s.optIns.EnsureOptedIn(ctx, targetID)
}

// InvalidateOptIn forgets the cached opt-in state of targetID
func (s *WalletService) InvalidateOptIn(ctx context.Context, targetID string) error {
	return s.optIns.Invalidate(ctx, targetID)
}

// BiometricState returns the gate state
func (s *WalletService) BiometricState() types.AuthGateState {
	return s.gate.State()
}

// ClearBiometricLockout is called when the device reports a successful unlock
func (s *WalletService) ClearBiometricLockout() {
	s.gate.ClearLockout()
}
