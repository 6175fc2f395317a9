package domain

import (
	"github.com/ethereum/go-ethereum/common"
)

// Signature is one node's secp256k1 signature over a report digest.
type Signature struct {
	Signer common.Address
	Sig    []byte // r || s || v, 65 bytes
}

// Report is a signed attestation of an observed metric value for a market.
// It is built once per market per cycle and is never persisted by the oracle.
type Report struct {
	MarketID    uint64
	ActualValue int64
	Payload     []byte      // abi.encode(uint256 marketId, uint256 actualValue)
	Digest      common.Hash // keccak256(Payload)
	Signatures  []Signature // ordered by signer address
}

// RawSignatures returns the signatures in report order.
func (r Report) RawSignatures() [][]byte {
	out := make([][]byte, len(r.Signatures))
	for i, s := range r.Signatures {
		out[i] = s.Sig
	}
	return out
}
