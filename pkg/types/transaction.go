package types

import (
	"encoding/base64"
	"fmt"
	"time"
)

// TransactionEnvelope is an unsigned transaction as produced by the backend.
// RawBytes is opaque to everything but the signer, which never mutates it.
type TransactionEnvelope struct {
	RawBytes []byte `json:"raw_bytes"`
	GroupID  string `json:"group_id,omitempty"`
}

// SponsorTransaction is the backend fee-payer transaction, already signed.
// It is always placed first in the group it accompanies.
type SponsorTransaction struct {
	RawBytes []byte `json:"raw_bytes"`
}

// EntryKind tags an entry of a prepared batch
type EntryKind string

const (
	EntryKindSponsor EntryKind = "sponsor"
	EntryKindOptIn   EntryKind = "opt-in"
)

// TransactionBatchEntry is one decoded entry of a prepared opt-in batch
type TransactionBatchEntry struct {
	Kind     EntryKind
	AssetID  uint64
	RawBytes []byte
}

// WireBatchEntry is the transport shape of a batch entry
type WireBatchEntry struct {
	Type        string `json:"type"`
	AssetID     uint64 `json:"asset_id,omitempty"`
	Transaction string `json:"transaction"`
}

// DecodedBatch separates the sponsor from the opt-in entries, preserving order
type DecodedBatch struct {
	Sponsor SponsorTransaction
	OptIns  []TransactionBatchEntry
}

// DecodeBatch validates and decodes the backend batch once at the boundary.
// Exactly one sponsor entry must be present.
func DecodeBatch(entries []WireBatchEntry) (*DecodedBatch, error) {
	var (
		batch       DecodedBatch
		sponsorSeen bool
	)

	for i, e := range entries {
		raw, err := base64.StdEncoding.DecodeString(e.Transaction)
		if err != nil {
			return nil, fmt.Errorf("entry %d: invalid base64 transaction: %w", i, err)
		}
		if len(raw) == 0 {
			return nil, fmt.Errorf("entry %d: empty transaction", i)
		}

		switch EntryKind(e.Type) {
		case EntryKindSponsor:
			if sponsorSeen {
				return nil, fmt.Errorf("entry %d: more than one sponsor transaction", i)
			}
			sponsorSeen = true
			batch.Sponsor = SponsorTransaction{RawBytes: raw}
		case EntryKindOptIn:
			if e.AssetID == 0 {
				return nil, fmt.Errorf("entry %d: opt-in without asset id", i)
			}
			batch.OptIns = append(batch.OptIns, TransactionBatchEntry{
				Kind:     EntryKindOptIn,
				AssetID:  e.AssetID,
				RawBytes: raw,
			})
		default:
			return nil, fmt.Errorf("entry %d: unknown entry type %q", i, e.Type)
		}
	}

	if !sponsorSeen {
		return nil, fmt.Errorf("batch has no sponsor transaction")
	}
	return &batch, nil
}

// OutcomeStatus classifies a group submission
type OutcomeStatus string

const (
	OutcomeConfirmed   OutcomeStatus = "confirmed"
	OutcomeAlreadyDone OutcomeStatus = "already_done"
	OutcomeFailed      OutcomeStatus = "failed"
)

// Outcome is the classified result of a sponsored group submission
type Outcome struct {
	Status OutcomeStatus `json:"status"`
	TxID   string        `json:"tx_id,omitempty"`
	Round  uint64        `json:"round,omitempty"`
	Reason string        `json:"reason,omitempty"`
}

// Confirmed builds a confirmed outcome
func Confirmed(txID string, round uint64) Outcome {
	return Outcome{Status: OutcomeConfirmed, TxID: txID, Round: round}
}

// AlreadyDone builds an idempotent-success outcome
func AlreadyDone(reason string) Outcome {
	return Outcome{Status: OutcomeAlreadyDone, Reason: reason}
}

// Failed builds a failed outcome
func Failed(reason string) Outcome {
	return Outcome{Status: OutcomeFailed, Reason: reason}
}

// Succeeded reports whether the group is known to be on chain
func (o Outcome) Succeeded() bool {
	return o.Status == OutcomeConfirmed || o.Status == OutcomeAlreadyDone
}

// SubmissionResponse is what the submission service returns
type SubmissionResponse struct {
	Success        bool   `json:"success"`
	Error          string `json:"error,omitempty"`
	TransactionID  string `json:"transaction_id,omitempty"`
	ConfirmedRound uint64 `json:"confirmed_round,omitempty"`
}

// AuthGateState is the biometric gate's process-lifetime state
type AuthGateState struct {
	LastAttemptAt time.Time `json:"last_attempt_at"`
	LastSuccessAt time.Time `json:"last_success_at"`
	LockedOut     bool      `json:"locked_out"`
	LastError     string    `json:"last_error,omitempty"`
}
