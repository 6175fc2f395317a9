// Package report encodes resolved market values into the binary layout the
// resolution contract decodes and gathers node signatures over it.
package report

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/predictx-oracle/internal/crypto"
	"github.com/alanyoungcy/predictx-oracle/internal/domain"
)

var reportArgs = mustArgs("uint256", "uint256")

func mustArgs(types ...string) abi.Arguments {
	args := make(abi.Arguments, 0, len(types))
	for _, t := range types {
		typ, err := abi.NewType(t, "", nil)
		if err != nil {
			panic(fmt.Sprintf("report: abi type %s: %v", t, err))
		}
		args = append(args, abi.Argument{Type: typ})
	}
	return args
}

// Encode returns abi.encode(uint256 marketId, uint256 actualValue). The
// layout is two 32-byte big-endian words, so equal inputs always produce
// equal bytes.
func Encode(marketID uint64, actualValue int64) ([]byte, error) {
	if actualValue < 0 {
		return nil, fmt.Errorf("report: %w: negative value %d cannot be encoded as uint256", domain.ErrEncoding, actualValue)
	}
	payload, err := reportArgs.Pack(new(big.Int).SetUint64(marketID), big.NewInt(actualValue))
	if err != nil {
		return nil, fmt.Errorf("report: %w: %v", domain.ErrEncoding, err)
	}
	return payload, nil
}

// Decode reverses Encode.
func Decode(payload []byte) (marketID uint64, actualValue int64, err error) {
	vals, err := reportArgs.Unpack(payload)
	if err != nil {
		return 0, 0, fmt.Errorf("report: %w: %v", domain.ErrDecode, err)
	}
	id, ok1 := vals[0].(*big.Int)
	v, ok2 := vals[1].(*big.Int)
	if !ok1 || !ok2 || !id.IsUint64() || !v.IsInt64() {
		return 0, 0, fmt.Errorf("report: %w: payload values out of range", domain.ErrDecode)
	}
	return id.Uint64(), v.Int64(), nil
}

// Digest is keccak256(payload).
func Digest(payload []byte) common.Hash {
	return ethcrypto.Keccak256Hash(payload)
}

// SignatureCollector gathers node signatures over a payload.
type SignatureCollector interface {
	CollectSignatures(ctx context.Context, payload []byte) ([]domain.Signature, error)
}

// Builder produces signed attestations.
type Builder struct {
	collector SignatureCollector
	allowed   []common.Address
}

// NewBuilder creates a Builder backed by the node set. When allowed is
// non-empty every signature in a built report must come from it.
func NewBuilder(collector SignatureCollector, allowed ...common.Address) *Builder {
	return &Builder{collector: collector, allowed: allowed}
}

// Build encodes (marketID, value), hashes it and collects a quorum of
// verified signatures. Nothing is returned unless every step succeeds.
func (b *Builder) Build(ctx context.Context, marketID uint64, value int64) (domain.Report, error) {
	payload, err := Encode(marketID, value)
	if err != nil {
		return domain.Report{}, err
	}
	digest := Digest(payload)

	sigs, err := b.collector.CollectSignatures(ctx, payload)
	if err != nil {
		return domain.Report{}, fmt.Errorf("report: collect signatures: %w", err)
	}

	rep := domain.Report{
		MarketID:    marketID,
		ActualValue: value,
		Payload:     payload,
		Digest:      digest,
		Signatures:  sigs,
	}
	if err := Verify(rep, b.allowed); err != nil {
		return domain.Report{}, err
	}
	return rep, nil
}

// Verify checks that the payload matches the digest and that every
// signature recovers to its claimed signer. When allowed is non-empty each
// signer must also be in it.
func Verify(rep domain.Report, allowed []common.Address) error {
	if Digest(rep.Payload) != rep.Digest {
		return fmt.Errorf("report: %w: digest does not match payload", domain.ErrSigningFailed)
	}
	if len(rep.Signatures) == 0 {
		return fmt.Errorf("report: %w: no signatures", domain.ErrSigningFailed)
	}

	allow := make(map[common.Address]bool, len(allowed))
	for _, a := range allowed {
		allow[a] = true
	}

	seen := make(map[common.Address]bool, len(rep.Signatures))
	for _, s := range rep.Signatures {
		addr, err := crypto.RecoverSigner(rep.Digest, s.Sig)
		if err != nil {
			return fmt.Errorf("report: %w: %v", domain.ErrSigningFailed, err)
		}
		if addr != s.Signer {
			return fmt.Errorf("report: %w: signature claims %s but recovers to %s",
				domain.ErrSigningFailed, s.Signer.Hex(), addr.Hex())
		}
		if len(allow) > 0 && !allow[addr] {
			return fmt.Errorf("report: %w: signer %s not in node set", domain.ErrSigningFailed, addr.Hex())
		}
		if seen[addr] {
			return fmt.Errorf("report: %w: duplicate signer %s", domain.ErrSigningFailed, addr.Hex())
		}
		seen[addr] = true
	}
	return nil
}
