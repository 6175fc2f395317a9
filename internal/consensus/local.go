package consensus

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/predictx-oracle/internal/domain"
)

// MetricFetcher is the node-local view of the external data API.
type MetricFetcher interface {
	FetchMetric(ctx context.Context, endpointPath, jsonPath, token string) (int64, error)
}

// DigestSigner signs 32-byte digests with a node key.
type DigestSigner interface {
	Address() common.Address
	SignDigest(digest common.Hash) ([]byte, error)
}

// LocalNode runs observations and signing in-process.
type LocalNode struct {
	fetcher MetricFetcher
	signer  DigestSigner
}

var _ NodeRuntime = (*LocalNode)(nil)

// NewLocalNode pairs a fetcher with a node key.
func NewLocalNode(fetcher MetricFetcher, signer DigestSigner) *LocalNode {
	return &LocalNode{fetcher: fetcher, signer: signer}
}

// Address returns the node's signing address.
func (n *LocalNode) Address() common.Address { return n.signer.Address() }

// FetchMetric implements NodeRuntime.
func (n *LocalNode) FetchMetric(ctx context.Context, endpointPath, jsonPath, token string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return n.fetcher.FetchMetric(ctx, endpointPath, jsonPath, token)
}

// SignReport implements NodeRuntime.
func (n *LocalNode) SignReport(ctx context.Context, payload []byte) (domain.Signature, error) {
	if err := ctx.Err(); err != nil {
		return domain.Signature{}, err
	}
	sig, err := n.signer.SignDigest(ethcrypto.Keccak256Hash(payload))
	if err != nil {
		return domain.Signature{}, err
	}
	return domain.Signature{Signer: n.signer.Address(), Sig: sig}, nil
}
