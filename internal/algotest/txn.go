// Package algotest builds Algorand transactions for tests.
package algotest

import (
	"crypto/ed25519"
	"fmt"

	"github.com/algorand/go-algorand-sdk/v2/encoding/msgpack"
	"github.com/algorand/go-algorand-sdk/v2/types"
)

// GenesisID of the network the test transactions target
const GenesisID = "testnet-v1.0"

func header(sender string) types.Header {
	addr, err := types.DecodeAddress(sender)
	if err != nil {
		panic(fmt.Sprintf("algotest: bad sender %q: %v", sender, err))
	}
	return types.Header{
		Sender:      addr,
		Fee:         1000,
		FirstValid:  1000,
		LastValid:   2000,
		GenesisID:   GenesisID,
		GenesisHash: types.Digest{1, 2, 3},
	}
}

// Payment returns an unsigned msgpack payment from sender to itself
func Payment(sender string, amount uint64) []byte {
	h := header(sender)
	tx := types.Transaction{
		Type:   types.PaymentTx,
		Header: h,
		PaymentTxnFields: types.PaymentTxnFields{
			Receiver: h.Sender,
			Amount:   types.MicroAlgos(amount),
		},
	}
	return msgpack.Encode(tx)
}

// OptIn returns an unsigned zero-amount asset transfer to sender
func OptIn(sender string, assetID uint64) []byte {
	h := header(sender)
	tx := types.Transaction{
		Type:   types.AssetTransferTx,
		Header: h,
		AssetTransferTxnFields: types.AssetTransferTxnFields{
			XferAsset:     types.AssetIndex(assetID),
			AssetReceiver: h.Sender,
		},
	}
	return msgpack.Encode(tx)
}

// DecodeSigned decodes a msgpack SignedTxn
func DecodeSigned(raw []byte) (types.SignedTxn, error) {
	var stx types.SignedTxn
	err := msgpack.Decode(raw, &stx)
	return stx, err
}

// Verify checks the signature of a msgpack SignedTxn against pub
func Verify(pub ed25519.PublicKey, raw []byte) bool {
	stx, err := DecodeSigned(raw)
	if err != nil {
		return false
	}
	msg := append([]byte("TX"), msgpack.Encode(stx.Txn)...)
	return ed25519.Verify(pub, msg, stx.Sig[:])
}

// PublicKey extracts the ed25519 key from an address string
func PublicKey(address string) ed25519.PublicKey {
	addr, err := types.DecodeAddress(address)
	if err != nil {
		panic(fmt.Sprintf("algotest: bad address %q: %v", address, err))
	}
	return ed25519.PublicKey(addr[:])
}
