package backend

import (
	"bytes"
	"context"
	"fmt"

	"github.com/algorand/go-algorand-sdk/v2/client/v2/algod"
	"github.com/algorand/go-algorand-sdk/v2/transaction"

	"github.com/better-wallet/wallet-core/pkg/types"
)

const defaultWaitRounds = 10

// node is the slice of algod the submitter needs
type node interface {
	SendRawTransaction(ctx context.Context, raw []byte) (string, error)
	WaitForConfirmation(ctx context.Context, txID string, waitRounds uint64) (uint64, error)
}

type sdkNode struct {
	client *algod.Client
}

func (n *sdkNode) SendRawTransaction(ctx context.Context, raw []byte) (string, error) {
	return n.client.SendRawTransaction(raw).Do(ctx)
}

func (n *sdkNode) WaitForConfirmation(ctx context.Context, txID string, waitRounds uint64) (uint64, error) {
	info, err := transaction.WaitForConfirmation(n.client, txID, waitRounds, ctx)
	if err != nil {
		return 0, err
	}
	return info.ConfirmedRound, nil
}

// AlgodSubmitter submits groups straight to an algod node instead of the backend
type AlgodSubmitter struct {
	node       node
	waitRounds uint64
}

// NewAlgodSubmitter connects to the algod REST API at address
func NewAlgodSubmitter(address, token string) (*AlgodSubmitter, error) {
	client, err := algod.MakeClient(address, token)
	if err != nil {
		return nil, fmt.Errorf("failed to create algod client: %w", err)
	}
	return &AlgodSubmitter{node: &sdkNode{client: client}, waitRounds: defaultWaitRounds}, nil
}

// Submit concatenates the group and waits for confirmation. Node rejections
// come back as an unsuccessful response carrying the node's message; only
// transport failures and context expiry are returned as errors.
func (s *AlgodSubmitter) Submit(ctx context.Context, group SignedGroup) (*types.SubmissionResponse, error) {
	var buf bytes.Buffer
	buf.Write(group.SponsorTxn)
	for _, raw := range group.UserTxns {
		buf.Write(raw)
	}

	txID, err := s.node.SendRawTransaction(ctx, buf.Bytes())
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return &types.SubmissionResponse{Success: false, Error: err.Error()}, nil
	}

	round, err := s.node.WaitForConfirmation(ctx, txID, s.waitRounds)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return &types.SubmissionResponse{Success: false, Error: err.Error(), TransactionID: txID}, nil
	}

	return &types.SubmissionResponse{Success: true, TransactionID: txID, ConfirmedRound: round}, nil
}

var _ SubmissionService = (*AlgodSubmitter)(nil)
