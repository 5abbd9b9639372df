package types

import "time"

// OptInRecord caches the completed opt-in state of a business or personal account.
// Once OptedIn is true the record is terminal until explicitly invalidated.
type OptInRecord struct {
	TargetID  string    `json:"target_id"`
	OptedIn   bool      `json:"opted_in"`
	AssetIDs  []uint64  `json:"asset_ids,omitempty"`
	TxID      string    `json:"tx_id,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// OptInState is the per-target coordinator state
type OptInState string

const (
	OptInUnknown          OptInState = "unknown"
	OptInChecking         OptInState = "checking"
	OptInAlreadySatisfied OptInState = "already_satisfied"
	OptInNeedsSignature   OptInState = "needs_signature"
	OptInSigning          OptInState = "signing"
	OptInSubmitting       OptInState = "submitting"
	OptInSatisfied        OptInState = "satisfied"
	OptInFailed           OptInState = "failed"
)

// OptInStatus is the authoritative backend view of an account's opt-ins
type OptInStatus struct {
	Address       string   `json:"address"`
	MissingAssets []uint64 `json:"missing_assets"`
}

// OptInResult is returned by EnsureOptedIn
type OptInResult struct {
	State      OptInState `json:"state"`
	TargetID   string     `json:"target_id"`
	FromCache  bool       `json:"from_cache"`
	Submission *Outcome   `json:"submission,omitempty"`
	Reason     string     `json:"reason,omitempty"`
}

// Satisfied reports whether the target holds every required opt-in
func (r OptInResult) Satisfied() bool {
	return r.State == OptInSatisfied || r.State == OptInAlreadySatisfied
}
