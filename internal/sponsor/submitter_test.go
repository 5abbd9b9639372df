package sponsor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/better-wallet/wallet-core/internal/backend"
	apperrors "github.com/better-wallet/wallet-core/pkg/errors"
	"github.com/better-wallet/wallet-core/pkg/types"
)

type mockSubmission struct {
	mu       sync.Mutex
	groups   []backend.SignedGroup
	resp     *types.SubmissionResponse
	err      error
	delay    time.Duration
	finished chan struct{}
}

func (m *mockSubmission) Submit(_ context.Context, group backend.SignedGroup) (*types.SubmissionResponse, error) {
	m.mu.Lock()
	m.groups = append(m.groups, group)
	m.mu.Unlock()

	if m.finished != nil {
		defer close(m.finished)
	}
	time.Sleep(m.delay)
	return m.resp, m.err
}

func (m *mockSubmission) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.groups)
}

var sponsorTx = types.SponsorTransaction{RawBytes: []byte("sponsor")}

func TestSubmit_SponsorFirst(t *testing.T) {
	svc := &mockSubmission{resp: &types.SubmissionResponse{Success: true, TransactionID: "TX1", ConfirmedRound: 42}}
	s := NewSubmitter(svc, Config{}, nil)

	user := [][]byte{[]byte("transfer"), []byte("opt-in")}
	outcome, err := s.Submit(context.Background(), sponsorTx, user)
	require.NoError(t, err)

	assert.Equal(t, types.Confirmed("TX1", 42), outcome)
	require.Equal(t, 1, svc.calls())
	group := svc.groups[0]
	assert.Equal(t, []byte("sponsor"), group.SponsorTxn)
	assert.Equal(t, user, group.UserTxns, "user transactions keep caller order")
}

func TestSubmit_Classification(t *testing.T) {
	tests := []struct {
		name   string
		resp   *types.SubmissionResponse
		err    error
		status types.OutcomeStatus
		reason string
	}{
		{
			name:   "already opted in",
			resp:   &types.SubmissionResponse{Error: "Error: already opted in"},
			status: types.OutcomeAlreadyDone,
			reason: "Error: already opted in",
		},
		{
			name:   "case insensitive",
			resp:   &types.SubmissionResponse{Error: "account HAS ALREADY OPTED IN to asset 31566704"},
			status: types.OutcomeAlreadyDone,
		},
		{
			name:   "already done",
			resp:   &types.SubmissionResponse{Error: "operation already done"},
			status: types.OutcomeAlreadyDone,
		},
		{
			name:   "other rejection",
			resp:   &types.SubmissionResponse{Error: "overspend"},
			status: types.OutcomeFailed,
			reason: "overspend",
		},
		{
			name:   "transport error",
			err:    errors.New("connection refused"),
			status: types.OutcomeFailed,
			reason: "connection refused",
		},
		{
			name:   "backend error already opted in",
			err:    fmt.Errorf("submit group: %w", &backend.BackendError{Code: "BAD_REQUEST", Message: "Account already opted in to asset 31566704"}),
			status: types.OutcomeAlreadyDone,
			reason: "Account already opted in to asset 31566704",
		},
		{
			name:   "backend error rejection",
			err:    &backend.BackendError{Message: "overspend"},
			status: types.OutcomeFailed,
			reason: "backend error: overspend",
		},
		{
			name:   "empty response",
			status: types.OutcomeFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockSubmission{resp: tt.resp, err: tt.err}
			outcome, err := NewSubmitter(svc, Config{}, nil).Submit(context.Background(), sponsorTx, [][]byte{[]byte("u")})
			require.NoError(t, err)
			assert.Equal(t, tt.status, outcome.Status)
			if tt.reason != "" {
				assert.Equal(t, tt.reason, outcome.Reason)
			}
			assert.Equal(t, 1, svc.calls(), "no automatic retries")
		})
	}
}

func TestSubmit_CustomPatterns(t *testing.T) {
	s := NewSubmitter(&mockSubmission{}, Config{Patterns: []string{"  Duplicate Txn "}}, nil)

	assert.True(t, s.IsIdempotent("rejected: duplicate txn in pool"))
	assert.False(t, s.IsIdempotent("already opted in"))
}

func TestSubmit_Validation(t *testing.T) {
	svc := &mockSubmission{}
	s := NewSubmitter(svc, Config{}, nil)
	ctx := context.Background()

	_, err := s.Submit(ctx, types.SponsorTransaction{}, [][]byte{[]byte("u")})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeBadRequest))

	_, err = s.Submit(ctx, sponsorTx, nil)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeBadRequest))

	_, err = s.Submit(ctx, sponsorTx, [][]byte{nil})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeBadRequest))

	assert.Zero(t, svc.calls())
}

func TestSubmit_Timeout(t *testing.T) {
	svc := &mockSubmission{
		delay:    45 * time.Millisecond,
		resp:     &types.SubmissionResponse{Success: true, TransactionID: "LATE"},
		finished: make(chan struct{}),
	}
	s := NewSubmitter(svc, Config{Timeout: 30 * time.Millisecond}, nil)

	outcome, err := s.Submit(context.Background(), sponsorTx, [][]byte{[]byte("u")})
	assert.ErrorIs(t, err, apperrors.ErrSubmissionTimeout)
	assert.Equal(t, types.Failed("timeout"), outcome)
	assert.False(t, outcome.Succeeded())

	select {
	case <-svc.finished:
	case <-time.After(time.Second):
		t.Fatal("in-flight submission was interrupted by the timeout")
	}
}

func TestSubmit_CallerCancelDoesNotInterruptNetworkCall(t *testing.T) {
	svc := &mockSubmission{
		delay:    50 * time.Millisecond,
		resp:     &types.SubmissionResponse{Success: true},
		finished: make(chan struct{}),
	}
	s := NewSubmitter(svc, Config{Timeout: time.Second}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	outcome, err := s.Submit(ctx, sponsorTx, [][]byte{[]byte("u")})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, types.OutcomeFailed, outcome.Status)

	select {
	case <-svc.finished:
	case <-time.After(time.Second):
		t.Fatal("network call did not complete after the caller left")
	}
}
