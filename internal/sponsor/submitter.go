// Package sponsor submits sponsored atomic groups and classifies the result.
package sponsor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/better-wallet/wallet-core/internal/backend"
	"github.com/better-wallet/wallet-core/internal/logger"
	"github.com/better-wallet/wallet-core/internal/metrics"
	apperrors "github.com/better-wallet/wallet-core/pkg/errors"
	"github.com/better-wallet/wallet-core/pkg/types"
)

// DefaultTimeout bounds one submission
const DefaultTimeout = 20 * time.Second

// DefaultIdempotencyPatterns are the error fragments the submission service
// uses to say the group's effect is already on chain
var DefaultIdempotencyPatterns = []string{
	"already opted in",
	"already done",
	"has already opted in",
}

// Config configures the submitter. Zero values take the defaults.
type Config struct {
	Timeout  time.Duration
	Patterns []string
}

// Submitter assembles [sponsor, user...] and submits it once. It never retries:
// a timed-out group may already be on chain.
type Submitter struct {
	service  backend.SubmissionService
	timeout  time.Duration
	patterns []string
	metrics  *metrics.Metrics
}

// NewSubmitter creates a submitter. m may be nil.
func NewSubmitter(service backend.SubmissionService, cfg Config, m *metrics.Metrics) *Submitter {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if len(cfg.Patterns) == 0 {
		cfg.Patterns = DefaultIdempotencyPatterns
	}

	patterns := make([]string, 0, len(cfg.Patterns))
	for _, p := range cfg.Patterns {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			patterns = append(patterns, p)
		}
	}

	return &Submitter{
		service:  service,
		timeout:  cfg.Timeout,
		patterns: patterns,
		metrics:  m,
	}
}

type submitResult struct {
	resp *types.SubmissionResponse
	err  error
}

// Submit sends sponsor followed by userTxns in caller order.
// On timeout it returns Failed("timeout") together with ErrSubmissionTimeout;
// the in-flight call keeps running and its late result is only logged.
func (s *Submitter) Submit(ctx context.Context, sponsor types.SponsorTransaction, userTxns [][]byte) (types.Outcome, error) {
	if len(sponsor.RawBytes) == 0 {
		return types.Failed("missing sponsor transaction"), apperrors.BadRequest("missing sponsor transaction")
	}
	if len(userTxns) == 0 {
		return types.Failed("no user transactions"), apperrors.BadRequest("no user transactions")
	}

	group := backend.SignedGroup{
		SponsorTxn: append([]byte(nil), sponsor.RawBytes...),
		UserTxns:   make([][]byte, len(userTxns)),
	}
	for i, raw := range userTxns {
		if len(raw) == 0 {
			return types.Failed("empty user transaction"), apperrors.BadRequest(fmt.Sprintf("user transaction %d is empty", i))
		}
		group.UserTxns[i] = append([]byte(nil), raw...)
	}

	log := logger.FromContext(ctx).With(slog.Int("group_size", len(group.UserTxns)+1))
	start := time.Now()

	// The network call outlives the caller: an abandoned or timed-out
	// submission is still allowed to reach the node.
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*s.timeout)
	done := make(chan submitResult, 1)
	go func() {
		defer cancel()
		resp, err := s.service.Submit(callCtx, group)
		done <- submitResult{resp: resp, err: err}
	}()

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	select {
	case res := <-done:
		outcome := s.classify(ctx, res)
		s.metrics.Submission(string(outcome.Status), time.Since(start))
		return outcome, nil

	case <-timer.C:
		log.Warn("group submission timed out, status unknown", slog.Duration("timeout", s.timeout))
		go s.discardLate(log, done)
		s.metrics.Submission("timeout", time.Since(start))
		return types.Failed("timeout"), apperrors.ErrSubmissionTimeout

	case <-ctx.Done():
		log.Info("caller abandoned group submission", slog.String("reason", ctx.Err().Error()))
		go s.discardLate(log, done)
		return types.Failed("canceled"), ctx.Err()
	}
}

func (s *Submitter) classify(ctx context.Context, res submitResult) types.Outcome {
	log := logger.FromContext(ctx)

	if res.err != nil {
		var be *backend.BackendError
		if errors.As(res.err, &be) && s.IsIdempotent(be.Message) {
			log.Warn("treating backend error as already done", slog.String("error", be.Message))
			return types.AlreadyDone(be.Message)
		}
		log.Error("group submission failed", slog.String("error", res.err.Error()))
		return types.Failed(res.err.Error())
	}
	if res.resp == nil {
		return types.Failed("empty submission response")
	}
	if res.resp.Success {
		log.Info("group confirmed",
			slog.String("tx_id", res.resp.TransactionID),
			slog.Uint64("round", res.resp.ConfirmedRound),
		)
		return types.Confirmed(res.resp.TransactionID, res.resp.ConfirmedRound)
	}
	if s.IsIdempotent(res.resp.Error) {
		log.Warn("treating submission error as already done", slog.String("error", res.resp.Error))
		return types.AlreadyDone(res.resp.Error)
	}

	log.Info("group rejected", slog.String("error", res.resp.Error))
	return types.Failed(res.resp.Error)
}

// IsIdempotent reports whether a submission error means "already on chain"
func (s *Submitter) IsIdempotent(message string) bool {
	lower := strings.ToLower(message)
	for _, p := range s.patterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

func (s *Submitter) discardLate(log *slog.Logger, done <-chan submitResult) {
	res := <-done
	switch {
	case res.err != nil && errors.Is(res.err, context.DeadlineExceeded):
		log.Warn("late submission never completed", slog.String("error", res.err.Error()))
	case res.err != nil:
		log.Warn("late submission failed", slog.String("error", res.err.Error()))
	case res.resp != nil:
		log.Warn("late submission result discarded",
			slog.Bool("success", res.resp.Success),
			slog.String("tx_id", res.resp.TransactionID),
			slog.String("error", res.resp.Error),
		)
	}
}
