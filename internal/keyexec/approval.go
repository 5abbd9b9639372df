package keyexec

import (
	"github.com/algorand/go-algorand-sdk/v2/encoding/msgpack"
	algotypes "github.com/algorand/go-algorand-sdk/v2/types"
)

// RequiresApproval reports whether an unsigned transaction can move value or
// hand over control of the account. Anything that does not decode counts as
// value-moving.
func RequiresApproval(unsigned []byte) bool {
	var tx algotypes.Transaction
	if err := msgpack.Decode(unsigned, &tx); err != nil {
		return true
	}
	if !tx.RekeyTo.IsZero() {
		return true
	}

	switch tx.Type {
	case algotypes.PaymentTx:
		return tx.Amount > 0 || !tx.CloseRemainderTo.IsZero()
	case algotypes.AssetTransferTx:
		// a zero-amount transfer to self is an opt-in; clawback moves someone else's funds
		return tx.AssetAmount > 0 ||
			!tx.AssetCloseTo.IsZero() ||
			!tx.AssetSender.IsZero() ||
			tx.AssetReceiver != tx.Sender
	default:
		return true
	}
}
