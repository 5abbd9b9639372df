// Package session tracks who is signed in and which account is active, and
// turns that into the WalletScope the signer derives from.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/better-wallet/wallet-core/internal/logger"
	"github.com/better-wallet/wallet-core/internal/storage"
	apperrors "github.com/better-wallet/wallet-core/pkg/errors"
	"github.com/better-wallet/wallet-core/pkg/types"
)

// Store persists the active account between restarts. Identity claims are
// never stored: the key is a function of them.
type Store interface {
	Get(ctx context.Context) (*storage.SessionRecord, error)
	Put(ctx context.Context, rec *storage.SessionRecord) error
	Delete(ctx context.Context) error
}

// Resolver is the account context resolver. Its zero account is personal/0.
type Resolver struct {
	store Store

	mu      sync.RWMutex
	claims  *types.IdentityClaims
	account types.AccountContext

	// resume is the account restored from storage, applied at the next sign-in
	resume *types.AccountContext
}

// NewResolver creates a resolver. store may be nil for an unpersisted session.
func NewResolver(store Store) *Resolver {
	return &Resolver{
		store:   store,
		account: defaultAccount(),
	}
}

func defaultAccount() types.AccountContext {
	return types.AccountContext{AccountType: types.AccountTypePersonal, Role: types.RoleOwner}
}

// SetIdentity records the claims captured at sign-in. The active account
// becomes the one restored from storage, if any, otherwise personal/0.
func (r *Resolver) SetIdentity(ctx context.Context, claims types.IdentityClaims) error {
	if err := claims.Validate(); err != nil {
		return apperrors.InvalidScope(err.Error())
	}

	r.mu.RLock()
	account := defaultAccount()
	if r.resume != nil {
		account = *r.resume
	}
	r.mu.RUnlock()

	if err := r.persist(ctx, account); err != nil {
		return err
	}

	r.mu.Lock()
	r.claims = &claims
	r.account = account
	r.resume = nil
	r.mu.Unlock()
	return nil
}

// Identity returns the current claims, if signed in
func (r *Resolver) Identity() (types.IdentityClaims, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.claims == nil {
		return types.IdentityClaims{}, false
	}
	return *r.claims, true
}

// ActiveContext returns the raw session account state, role included
func (r *Resolver) ActiveContext() types.AccountContext {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.account
}

// ActiveScope returns the scope to derive for the active account.
// Only owners may derive a business key; everyone else gets PermissionDenied.
func (r *Resolver) ActiveScope(ctx context.Context) (types.WalletScope, error) {
	r.mu.RLock()
	claims, account := r.claims, r.account
	r.mu.RUnlock()

	if claims == nil {
		return types.WalletScope{}, apperrors.ErrUnauthorized
	}
	if !account.IsOwner() {
		logger.FromContext(ctx).Info("refusing business key derivation for non-owner",
			slog.String("business_id", account.BusinessID),
			slog.String("role", string(account.Role)),
		)
		return types.WalletScope{}, apperrors.PermissionDenied("only the business owner can sign for this account")
	}

	return types.WalletScope{
		Claims:       *claims,
		AccountType:  account.AccountType,
		AccountIndex: account.AccountIndex,
		BusinessID:   account.BusinessID,
	}, nil
}

// SwitchTo changes the active account. Cached keys are left alone; the new
// scope is derived lazily on first use.
func (r *Resolver) SwitchTo(ctx context.Context, accountType types.AccountType, index uint32, businessID string, role types.Role) error {
	account := types.AccountContext{
		AccountType:  accountType,
		AccountIndex: index,
		BusinessID:   businessID,
		Role:         role,
	}
	if accountType == types.AccountTypePersonal {
		account.Role = types.RoleOwner
	}
	if err := account.Validate(); err != nil {
		return apperrors.BadRequest(err.Error())
	}

	r.mu.RLock()
	claims := r.claims
	r.mu.RUnlock()
	if claims == nil {
		return apperrors.ErrUnauthorized
	}

	if err := r.persist(ctx, account); err != nil {
		return err
	}

	r.mu.Lock()
	r.account = account
	r.mu.Unlock()

	logger.FromContext(ctx).Info("active account switched",
		slog.String("account_type", string(account.AccountType)),
		slog.Uint64("account_index", uint64(account.AccountIndex)),
		slog.String("business_id", account.BusinessID),
	)
	return nil
}

// Clear signs out: forgets the claims and the persisted session
func (r *Resolver) Clear(ctx context.Context) error {
	r.mu.Lock()
	r.claims = nil
	r.account = defaultAccount()
	r.resume = nil
	r.mu.Unlock()

	if r.store == nil {
		return nil
	}
	if err := r.store.Delete(ctx); err != nil {
		return fmt.Errorf("failed to clear saved session: %w", err)
	}
	return nil
}

// Restore loads the saved active account, reporting whether one was found.
// The user is still signed out afterwards; the account takes effect at the
// next SetIdentity.
func (r *Resolver) Restore(ctx context.Context) (bool, error) {
	if r.store == nil {
		return false, nil
	}

	rec, err := r.store.Get(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to load saved session: %w", err)
	}
	if rec == nil {
		return false, nil
	}
	if err := rec.Account.Validate(); err != nil {
		return false, fmt.Errorf("saved session has invalid account: %w", err)
	}

	account := rec.Account
	r.mu.Lock()
	r.claims = nil
	r.account = account
	r.resume = &account
	r.mu.Unlock()
	return true, nil
}

func (r *Resolver) persist(ctx context.Context, account types.AccountContext) error {
	if r.store == nil {
		return nil
	}
	if err := r.store.Put(ctx, &storage.SessionRecord{Account: account}); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}
