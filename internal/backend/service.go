// Package backend adapts the transaction preparation and submission services.
package backend

import (
	"context"
	"errors"

	"github.com/better-wallet/wallet-core/pkg/types"
)

// ErrAddressMissing means the backend has no on-chain address for the target yet
var ErrAddressMissing = errors.New("target has no registered address")

// SignedGroup is an atomic group as submitted: the sponsor first, then the
// user transactions in order
type SignedGroup struct {
	SponsorTxn []byte
	UserTxns   [][]byte
}

// PreparationService produces unsigned transactions and opt-in status
type PreparationService interface {
	OptInStatus(ctx context.Context, targetID string, assetIDs []uint64) (*types.OptInStatus, error)
	PrepareOptIns(ctx context.Context, targetID string, assetIDs []uint64) ([]types.WireBatchEntry, error)
	RegisterAddress(ctx context.Context, targetID, address string) error
}

// SubmissionService broadcasts a signed group and waits for its outcome
type SubmissionService interface {
	Submit(ctx context.Context, group SignedGroup) (*types.SubmissionResponse, error)
}
