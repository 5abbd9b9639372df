package keyexec

import (
	"testing"

	"github.com/algorand/go-algorand-sdk/v2/encoding/msgpack"
	algotypes "github.com/algorand/go-algorand-sdk/v2/types"
	"github.com/stretchr/testify/assert"

	"github.com/better-wallet/wallet-core/internal/algotest"
)

func decodeTx(t *testing.T, raw []byte) algotypes.Transaction {
	t.Helper()
	var tx algotypes.Transaction
	if err := msgpack.Decode(raw, &tx); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return tx
}

func TestRequiresApproval(t *testing.T) {
	sender := algotypes.Address{1, 2, 3}.String()
	other := algotypes.Address{9, 9, 9}

	closeOut := decodeTx(t, algotest.Payment(sender, 0))
	closeOut.CloseRemainderTo = other

	rekey := decodeTx(t, algotest.Payment(sender, 0))
	rekey.RekeyTo = other

	assetClose := decodeTx(t, algotest.OptIn(sender, 1))
	assetClose.AssetCloseTo = other

	assetSend := decodeTx(t, algotest.OptIn(sender, 1))
	assetSend.AssetAmount = 5
	assetSend.AssetReceiver = other

	clawback := decodeTx(t, algotest.OptIn(sender, 1))
	clawback.AssetSender = other

	appCall := decodeTx(t, algotest.Payment(sender, 0))
	appCall.Type = algotypes.ApplicationCallTx
	appCall.Receiver = algotypes.Address{}

	tests := []struct {
		name string
		raw  []byte
		want bool
	}{
		{"payment with amount", algotest.Payment(sender, 1), true},
		{"zero payment to self", algotest.Payment(sender, 0), false},
		{"payment closing the account", msgpack.Encode(closeOut), true},
		{"rekey", msgpack.Encode(rekey), true},
		{"asset opt-in", algotest.OptIn(sender, 1), false},
		{"asset close-out", msgpack.Encode(assetClose), true},
		{"asset transfer", msgpack.Encode(assetSend), true},
		{"asset clawback", msgpack.Encode(clawback), true},
		{"application call", msgpack.Encode(appCall), true},
		{"undecodable bytes", []byte{1, 2, 3}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RequiresApproval(tt.raw))
		})
	}
}
