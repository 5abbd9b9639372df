package backend

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNode struct {
	sent    []byte
	sendErr error
	waitErr error
	round   uint64
}

func (f *fakeNode) SendRawTransaction(ctx context.Context, raw []byte) (string, error) {
	f.sent = append([]byte(nil), raw...)
	if f.sendErr != nil {
		return "", f.sendErr
	}
	return "TXID", nil
}

func (f *fakeNode) WaitForConfirmation(ctx context.Context, txID string, waitRounds uint64) (uint64, error) {
	if f.waitErr != nil {
		return 0, f.waitErr
	}
	return f.round, nil
}

func TestAlgodSubmitter_Submit(t *testing.T) {
	group := SignedGroup{SponsorTxn: []byte("S"), UserTxns: [][]byte{[]byte("A"), []byte("B")}}

	t.Run("confirmed", func(t *testing.T) {
		node := &fakeNode{round: 77}
		s := &AlgodSubmitter{node: node, waitRounds: 4}

		resp, err := s.Submit(context.Background(), group)
		require.NoError(t, err)
		assert.True(t, resp.Success)
		assert.Equal(t, "TXID", resp.TransactionID)
		assert.Equal(t, uint64(77), resp.ConfirmedRound)
		assert.True(t, bytes.Equal([]byte("SAB"), node.sent), "sponsor must lead the concatenated group")
	})

	t.Run("node rejection is a response", func(t *testing.T) {
		s := &AlgodSubmitter{node: &fakeNode{sendErr: errors.New("HTTP 400: asset 1 already opted in")}}

		resp, err := s.Submit(context.Background(), group)
		require.NoError(t, err)
		assert.False(t, resp.Success)
		assert.Contains(t, resp.Error, "already opted in")
	})

	t.Run("confirmation failure keeps tx id", func(t *testing.T) {
		s := &AlgodSubmitter{node: &fakeNode{waitErr: errors.New("pool error")}}

		resp, err := s.Submit(context.Background(), group)
		require.NoError(t, err)
		assert.False(t, resp.Success)
		assert.Equal(t, "TXID", resp.TransactionID)
	})

	t.Run("expired context is an error", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		s := &AlgodSubmitter{node: &fakeNode{sendErr: errors.New("context canceled")}}

		_, err := s.Submit(ctx, group)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestNewAlgodSubmitter(t *testing.T) {
	s, err := NewAlgodSubmitter("http://localhost:4001", "token")
	require.NoError(t, err)
	assert.NotNil(t, s)
}
