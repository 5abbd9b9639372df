// Package optin brings an account to the set of asset opt-ins it requires,
// using one sponsored atomic group per attempt.
package optin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/better-wallet/wallet-core/internal/backend"
	"github.com/better-wallet/wallet-core/internal/logger"
	"github.com/better-wallet/wallet-core/internal/metrics"
	apperrors "github.com/better-wallet/wallet-core/pkg/errors"
	"github.com/better-wallet/wallet-core/pkg/types"
)

// ScopeResolver yields the active scope, refusing non-owners of a business
type ScopeResolver interface {
	ActiveScope(ctx context.Context) (types.WalletScope, error)
}

// Signer signs the opt-in transactions of a batch
type Signer interface {
	SignGroup(ctx context.Context, scope types.WalletScope, envelopes []types.TransactionEnvelope) ([][]byte, error)
	Address(ctx context.Context, scope types.WalletScope) (string, error)
}

// GroupSubmitter submits [sponsor, opt-ins...]
type GroupSubmitter interface {
	Submit(ctx context.Context, sponsor types.SponsorTransaction, userTxns [][]byte) (types.Outcome, error)
}

// RecordStore persists completed opt-ins
type RecordStore interface {
	Get(ctx context.Context, targetID string) (*types.OptInRecord, error)
	MarkOptedIn(ctx context.Context, targetID string, assetIDs []uint64, txID string) error
	Delete(ctx context.Context, targetID string) error
}

// Coordinator runs the opt-in state machine per target id
type Coordinator struct {
	scopes    ScopeResolver
	prep      backend.PreparationService
	signer    Signer
	submitter GroupSubmitter
	records   RecordStore
	assetIDs  []uint64
	metrics   *metrics.Metrics

	group singleflight.Group

	mu     sync.Mutex
	states map[string]types.OptInState
}

// NewCoordinator creates a coordinator for the given required assets. m may be nil.
func NewCoordinator(
	scopes ScopeResolver,
	prep backend.PreparationService,
	signer Signer,
	submitter GroupSubmitter,
	records RecordStore,
	assetIDs []uint64,
	m *metrics.Metrics,
) *Coordinator {
	return &Coordinator{
		scopes:    scopes,
		prep:      prep,
		signer:    signer,
		submitter: submitter,
		records:   records,
		assetIDs:  slices.Clone(assetIDs),
		metrics:   m,
		states:    make(map[string]types.OptInState),
	}
}

type ensureResult struct {
	result types.OptInResult
	err    error
}

// EnsureOptedIn makes targetID hold every required asset. Concurrent calls
// for the same target share one run. A caller that gives up gets ctx.Err();
// the run itself continues and still records its outcome.
func (c *Coordinator) EnsureOptedIn(ctx context.Context, targetID string) (types.OptInResult, error) {
	if targetID == "" {
		return types.OptInResult{State: types.OptInFailed, Reason: "missing target id"}, apperrors.BadRequest("target id is required")
	}

	work := context.WithoutCancel(ctx)
	ch := c.group.DoChan(targetID, func() (any, error) {
		result, err := c.ensure(work, targetID)
		return ensureResult{result: result, err: err}, nil
	})

	select {
	case res := <-ch:
		r := res.Val.(ensureResult)
		return r.result, r.err
	case <-ctx.Done():
		return types.OptInResult{State: types.OptInFailed, TargetID: targetID, Reason: "canceled"}, ctx.Err()
	}
}

// State reports the last state reached for targetID
func (c *Coordinator) State(targetID string) types.OptInState {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s, ok := c.states[targetID]; ok {
		return s
	}
	return types.OptInUnknown
}

// Invalidate clears the cached record so the next call checks the network again
func (c *Coordinator) Invalidate(ctx context.Context, targetID string) error {
	if err := c.records.Delete(ctx, targetID); err != nil {
		return fmt.Errorf("failed to invalidate opt-in record: %w", err)
	}
	c.setState(ctx, targetID, types.OptInUnknown)
	return nil
}

func (c *Coordinator) setState(ctx context.Context, targetID string, state types.OptInState) {
	c.mu.Lock()
	c.states[targetID] = state
	c.mu.Unlock()

	logger.FromContext(ctx).Debug("opt-in state",
		slog.String("target_id", targetID),
		slog.String("state", string(state)),
	)
}

func (c *Coordinator) finish(ctx context.Context, result types.OptInResult, err error) (types.OptInResult, error) {
	c.setState(ctx, result.TargetID, result.State)
	c.metrics.OptIn(string(result.State), result.FromCache)
	if err != nil {
		logger.FromContext(ctx).Warn("opt-in failed",
			slog.String("target_id", result.TargetID),
			slog.String("reason", result.Reason),
			slog.String("error", err.Error()),
		)
	}
	return result, err
}

func (c *Coordinator) fail(ctx context.Context, targetID string, err error) (types.OptInResult, error) {
	return c.finish(ctx, types.OptInResult{State: types.OptInFailed, TargetID: targetID, Reason: err.Error()}, err)
}

func (c *Coordinator) ensure(ctx context.Context, targetID string) (types.OptInResult, error) {
	log := logger.FromContext(ctx).With(slog.String("target_id", targetID))
	c.setState(ctx, targetID, types.OptInChecking)

	rec, err := c.records.Get(ctx, targetID)
	if err != nil {
		log.Warn("opt-in cache unreadable, checking backend", slog.String("error", err.Error()))
	}
	if rec != nil && rec.OptedIn {
		return c.finish(ctx, types.OptInResult{State: types.OptInSatisfied, TargetID: targetID, FromCache: true}, nil)
	}

	scope, err := c.scopes.ActiveScope(ctx)
	if err != nil {
		return c.fail(ctx, targetID, err)
	}

	status, err := c.checkStatus(ctx, scope, targetID)
	if err != nil {
		return c.fail(ctx, targetID, err)
	}

	if len(status.MissingAssets) == 0 {
		if err := c.records.MarkOptedIn(ctx, targetID, c.assetIDs, ""); err != nil {
			log.Error("failed to persist opt-in record", slog.String("error", err.Error()))
		}
		return c.finish(ctx, types.OptInResult{State: types.OptInAlreadySatisfied, TargetID: targetID}, nil)
	}

	c.setState(ctx, targetID, types.OptInNeedsSignature)
	batch, err := c.prepare(ctx, targetID, status.MissingAssets)
	if err != nil {
		return c.fail(ctx, targetID, err)
	}

	c.setState(ctx, targetID, types.OptInSigning)
	envelopes := make([]types.TransactionEnvelope, len(batch.OptIns))
	for i, entry := range batch.OptIns {
		envelopes[i] = types.TransactionEnvelope{RawBytes: entry.RawBytes}
	}
	signed, err := c.signer.SignGroup(ctx, scope, envelopes)
	if err != nil {
		return c.fail(ctx, targetID, err)
	}

	c.setState(ctx, targetID, types.OptInSubmitting)
	outcome, err := c.submitter.Submit(ctx, batch.Sponsor, signed)
	if err != nil {
		return c.finish(ctx, types.OptInResult{
			State:      types.OptInFailed,
			TargetID:   targetID,
			Submission: &outcome,
			Reason:     outcome.Reason,
		}, err)
	}
	if !outcome.Succeeded() {
		return c.finish(ctx, types.OptInResult{
			State:      types.OptInFailed,
			TargetID:   targetID,
			Submission: &outcome,
			Reason:     outcome.Reason,
		}, apperrors.SubmissionRejected(outcome.Reason))
	}

	if err := c.records.MarkOptedIn(ctx, targetID, c.assetIDs, outcome.TxID); err != nil {
		log.Error("failed to persist opt-in record", slog.String("error", err.Error()))
	}
	log.Info("opt-in complete",
		slog.String("status", string(outcome.Status)),
		slog.Int("assets", len(batch.OptIns)),
	)
	return c.finish(ctx, types.OptInResult{State: types.OptInSatisfied, TargetID: targetID, Submission: &outcome}, nil)
}

// checkStatus queries the backend. A missing address is registered from the
// owner's key and the check is retried exactly once.
func (c *Coordinator) checkStatus(ctx context.Context, scope types.WalletScope, targetID string) (*types.OptInStatus, error) {
	status, err := c.prep.OptInStatus(ctx, targetID, c.assetIDs)
	if err == nil {
		return status, nil
	}
	if !errors.Is(err, backend.ErrAddressMissing) {
		return nil, fmt.Errorf("failed to check opt-in status: %w", err)
	}

	address, err := c.signer.Address(ctx, scope)
	if err != nil {
		return nil, err
	}
	logger.FromContext(ctx).Info("registering missing address",
		slog.String("target_id", targetID),
		slog.String("address", address),
	)
	if err := c.prep.RegisterAddress(ctx, targetID, address); err != nil {
		return nil, fmt.Errorf("failed to register address: %w", err)
	}

	status, err = c.prep.OptInStatus(ctx, targetID, c.assetIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to check opt-in status after registering address: %w", err)
	}
	return status, nil
}

func (c *Coordinator) prepare(ctx context.Context, targetID string, missing []uint64) (*types.DecodedBatch, error) {
	entries, err := c.prep.PrepareOptIns(ctx, targetID, missing)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare opt-ins: %w", err)
	}

	batch, err := types.DecodeBatch(entries)
	if err != nil {
		return nil, apperrors.BadRequest(fmt.Sprintf("invalid opt-in batch: %v", err))
	}
	if len(batch.OptIns) == 0 {
		return nil, apperrors.BadRequest("opt-in batch has no opt-in transactions")
	}
	for _, entry := range batch.OptIns {
		if !slices.Contains(missing, entry.AssetID) {
			return nil, apperrors.BadRequest(fmt.Sprintf("opt-in batch contains unrequested asset %d", entry.AssetID))
		}
	}
	return batch, nil
}
