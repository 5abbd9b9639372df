package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/better-wallet/wallet-core/pkg/types"
)

func getJSON(ctx context.Context, store SecureStore, service, key string, out any) (bool, error) {
	raw, err := store.Get(ctx, service, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("failed to decode %s item: %w", service, err)
	}
	return true, nil
}

func setJSON(ctx context.Context, store SecureStore, service, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s item: %w", service, err)
	}
	return store.Set(ctx, service, key, raw)
}

// OptInRepository caches completed opt-in state per business or account
type OptInRepository struct {
	store SecureStore
}

// NewOptInRepository creates a new OptInRepository
func NewOptInRepository(store SecureStore) *OptInRepository {
	return &OptInRepository{store: store}
}

// Get returns the cached record, or nil if none exists
func (r *OptInRepository) Get(ctx context.Context, targetID string) (*types.OptInRecord, error) {
	var rec types.OptInRecord
	found, err := getJSON(ctx, r.store, ServiceOptIn, targetID, &rec)
	if err != nil || !found {
		return nil, err
	}
	return &rec, nil
}

// MarkOptedIn writes the terminal opted-in record
func (r *OptInRepository) MarkOptedIn(ctx context.Context, targetID string, assetIDs []uint64, txID string) error {
	return setJSON(ctx, r.store, ServiceOptIn, targetID, types.OptInRecord{
		TargetID:  targetID,
		OptedIn:   true,
		AssetIDs:  assetIDs,
		TxID:      txID,
		UpdatedAt: time.Now().UTC(),
	})
}

// Delete drops the record so the next check goes to the network
func (r *OptInRepository) Delete(ctx context.Context, targetID string) error {
	return r.store.Delete(ctx, ServiceOptIn, targetID)
}

// AddressRepository remembers the public address of each derived scope
type AddressRepository struct {
	store SecureStore
}

// NewAddressRepository creates a new AddressRepository
func NewAddressRepository(store SecureStore) *AddressRepository {
	return &AddressRepository{store: store}
}

// Get returns the stored address for scope, or "" if none
func (r *AddressRepository) Get(ctx context.Context, scope types.WalletScope) (string, error) {
	raw, err := r.store.Get(ctx, ServiceAddress, scope.Key())
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// Put stores the address for scope
func (r *AddressRepository) Put(ctx context.Context, scope types.WalletScope, address string) error {
	return r.store.Set(ctx, ServiceAddress, scope.Key(), []byte(address))
}

// GuardRecord is the storage half of the biometric guard secret
type GuardRecord struct {
	StoredShare []byte    `json:"stored_share"`
	Digest      []byte    `json:"digest"`
	EnrolledAt  time.Time `json:"enrolled_at"`
}

const guardKey = "device"

// GuardRepository holds the enrolled biometric guard record
type GuardRepository struct {
	store SecureStore
}

// NewGuardRepository creates a new GuardRepository
func NewGuardRepository(store SecureStore) *GuardRepository {
	return &GuardRepository{store: store}
}

// Get returns the guard record, or nil if the device is not enrolled
func (r *GuardRepository) Get(ctx context.Context) (*GuardRecord, error) {
	var rec GuardRecord
	found, err := getJSON(ctx, r.store, ServiceGuard, guardKey, &rec)
	if err != nil || !found {
		return nil, err
	}
	return &rec, nil
}

// Put replaces the guard record
func (r *GuardRepository) Put(ctx context.Context, rec *GuardRecord) error {
	return setJSON(ctx, r.store, ServiceGuard, guardKey, rec)
}

// Delete removes the guard record
func (r *GuardRepository) Delete(ctx context.Context) error {
	return r.store.Delete(ctx, ServiceGuard, guardKey)
}

// SessionRecord is the persisted session. It holds the active account only;
// identity claims are key material in all but name and stay in memory.
type SessionRecord struct {
	Account types.AccountContext `json:"account"`
}

const sessionKey = "current"

// SessionRepository persists the active account across restarts
type SessionRepository struct {
	store SecureStore
}

// NewSessionRepository creates a new SessionRepository
func NewSessionRepository(store SecureStore) *SessionRepository {
	return &SessionRepository{store: store}
}

// Get returns the saved session, or nil if signed out
func (r *SessionRepository) Get(ctx context.Context) (*SessionRecord, error) {
	var rec SessionRecord
	found, err := getJSON(ctx, r.store, ServiceSession, sessionKey, &rec)
	if err != nil || !found {
		return nil, err
	}
	return &rec, nil
}

// Put saves the session
func (r *SessionRepository) Put(ctx context.Context, rec *SessionRecord) error {
	return setJSON(ctx, r.store, ServiceSession, sessionKey, rec)
}

// Delete clears the saved session
func (r *SessionRepository) Delete(ctx context.Context) error {
	return r.store.Delete(ctx, ServiceSession, sessionKey)
}
