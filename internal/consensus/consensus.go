// Package consensus fans the same observation out to every oracle node and
// reduces the independent results into one agreed value.
package consensus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/predictx-oracle/internal/crypto"
	"github.com/alanyoungcy/predictx-oracle/internal/domain"
)

// NodeRuntime is what a single oracle node can do on behalf of the set.
type NodeRuntime interface {
	// FetchMetric performs the node's own outbound API call.
	FetchMetric(ctx context.Context, endpointPath, jsonPath, token string) (int64, error)
	// SignReport hashes payload with keccak256 and signs the digest.
	SignReport(ctx context.Context, payload []byte) (domain.Signature, error)
}

// Node is one member of the executing node set. When Signer is set, only
// signatures that recover to it count for the node.
type Node struct {
	ID      string
	Runtime NodeRuntime
	Signer  common.Address
}

// NodeFunc is the closure broadcast to every node. It must not share mutable
// state with other invocations.
type NodeFunc func(ctx context.Context, node Node) (int64, error)

// Aggregator reduces the successful node values. values is never empty.
type Aggregator interface {
	Aggregate(values []int64) (int64, error)
}

// NodeFailure is a single node's error from a broadcast.
type NodeFailure struct {
	NodeID string
	Err    error
}

// QuorumError reports that too few nodes returned a result.
type QuorumError struct {
	Required  int
	Succeeded int
	Total     int
	Failures  []NodeFailure
}

func (e *QuorumError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s: %v", f.NodeID, f.Err))
	}
	return fmt.Sprintf("consensus: quorum not met: %d of %d nodes succeeded, %d required [%s]",
		e.Succeeded, e.Total, e.Required, strings.Join(parts, "; "))
}

func (e *QuorumError) Unwrap() error { return domain.ErrQuorum }

// NodeSet runs closures across a fixed membership with a quorum threshold.
type NodeSet struct {
	nodes   []Node
	quorum  int
	timeout time.Duration
	logger  *slog.Logger
}

// NewNodeSet validates membership and quorum. A zero timeout means the
// caller's context is the only bound.
func NewNodeSet(nodes []Node, quorum int, timeout time.Duration, logger *slog.Logger) (*NodeSet, error) {
	if len(nodes) == 0 {
		return nil, errors.New("consensus: node set is empty")
	}
	if quorum < 1 || quorum > len(nodes) {
		return nil, fmt.Errorf("consensus: quorum %d out of range [1, %d]", quorum, len(nodes))
	}
	seen := make(map[string]bool, len(nodes))
	signers := make(map[common.Address]string, len(nodes))
	for _, n := range nodes {
		if n.ID == "" || n.Runtime == nil {
			return nil, errors.New("consensus: node needs an id and a runtime")
		}
		if seen[n.ID] {
			return nil, fmt.Errorf("consensus: duplicate node id %q", n.ID)
		}
		seen[n.ID] = true
		if n.Signer == (common.Address{}) {
			continue
		}
		if other, ok := signers[n.Signer]; ok {
			return nil, fmt.Errorf("consensus: nodes %q and %q share signer %s", other, n.ID, n.Signer.Hex())
		}
		signers[n.Signer] = n.ID
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &NodeSet{
		nodes:   nodes,
		quorum:  quorum,
		timeout: timeout,
		logger:  logger.With(slog.String("component", "consensus")),
	}, nil
}

// Size returns the number of member nodes.
func (s *NodeSet) Size() int { return len(s.nodes) }

// Quorum returns the minimum number of successful node results.
func (s *NodeSet) Quorum() int { return s.quorum }

// Signers returns the pinned signer of every node, in membership order. It
// returns nil unless every node is pinned.
func (s *NodeSet) Signers() []common.Address {
	out := make([]common.Address, 0, len(s.nodes))
	for _, n := range s.nodes {
		if n.Signer == (common.Address{}) {
			return nil
		}
		out = append(out, n.Signer)
	}
	return out
}

// Nodes returns a copy of the membership.
func (s *NodeSet) Nodes() []Node {
	out := make([]Node, len(s.nodes))
	copy(out, s.nodes)
	return out
}

// RunDistributed executes fn on every node concurrently, waits for all of
// them (or the node timeout), drops failures and reduces the rest with agg.
// Fewer than quorum successes fails closed with a *QuorumError.
func (s *NodeSet) RunDistributed(ctx context.Context, fn NodeFunc, agg Aggregator) (int64, error) {
	values, failures := broadcast[int64](ctx, s, fn)

	for _, f := range failures {
		s.logger.WarnContext(ctx, "node observation failed",
			slog.String("node", f.NodeID),
			slog.String("error", f.Err.Error()),
		)
	}

	if len(values) < s.quorum {
		return 0, &QuorumError{
			Required:  s.quorum,
			Succeeded: len(values),
			Total:     len(s.nodes),
			Failures:  failures,
		}
	}
	return agg.Aggregate(values)
}

// CollectSignatures asks every node to sign payload and returns at least
// quorum signatures ordered by signer address. A signature that does not
// recover to its claimed signer, or to the node's pinned signer, is a node
// failure. Duplicate signers count once.
func (s *NodeSet) CollectSignatures(ctx context.Context, payload []byte) ([]domain.Signature, error) {
	digest := ethcrypto.Keccak256Hash(payload)
	sigs, failures := broadcast(ctx, s, func(ctx context.Context, n Node) (domain.Signature, error) {
		sig, err := n.Runtime.SignReport(ctx, payload)
		if err != nil {
			return domain.Signature{}, err
		}
		if err := checkSignature(n, digest, sig); err != nil {
			return domain.Signature{}, err
		}
		return sig, nil
	})

	for _, f := range failures {
		s.logger.WarnContext(ctx, "node signature rejected",
			slog.String("node", f.NodeID),
			slog.String("error", f.Err.Error()),
		)
	}

	uniq := make(map[common.Address]domain.Signature, len(sigs))
	for _, sig := range sigs {
		uniq[sig.Signer] = sig
	}
	out := make([]domain.Signature, 0, len(uniq))
	for _, sig := range uniq {
		out = append(out, sig)
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i].Signer.Hex()) < strings.ToLower(out[j].Signer.Hex())
	})

	if len(out) < s.quorum {
		return nil, &QuorumError{
			Required:  s.quorum,
			Succeeded: len(out),
			Total:     len(s.nodes),
			Failures:  failures,
		}
	}
	return out, nil
}

func checkSignature(n Node, digest common.Hash, sig domain.Signature) error {
	addr, err := crypto.RecoverSigner(digest, sig.Sig)
	if err != nil {
		return fmt.Errorf("consensus: %w: %v", domain.ErrSigningFailed, err)
	}
	if addr != sig.Signer {
		return fmt.Errorf("consensus: %w: signature claims %s but recovers to %s",
			domain.ErrSigningFailed, sig.Signer.Hex(), addr.Hex())
	}
	if n.Signer != (common.Address{}) && addr != n.Signer {
		return fmt.Errorf("consensus: %w: signer %s is not pinned signer %s",
			domain.ErrSigningFailed, addr.Hex(), n.Signer.Hex())
	}
	return nil
}

// broadcast runs call on every node and joins. Failures never cancel the
// other nodes. Successful results keep membership order.
func broadcast[T any](ctx context.Context, s *NodeSet, call func(context.Context, Node) (T, error)) ([]T, []NodeFailure) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	results := make([]T, len(s.nodes))
	errs := make([]error, len(s.nodes))

	var g errgroup.Group
	for i, n := range s.nodes {
		g.Go(func() error {
			v, err := call(ctx, n)
			if err == nil {
				// A node that ignores ctx can still report after the deadline.
				err = ctx.Err()
			}
			results[i], errs[i] = v, err
			return nil
		})
	}
	_ = g.Wait()

	values := make([]T, 0, len(s.nodes))
	var failures []NodeFailure
	for i, n := range s.nodes {
		if errs[i] != nil {
			failures = append(failures, NodeFailure{NodeID: n.ID, Err: errs[i]})
			continue
		}
		values = append(values, results[i])
	}
	return values, failures
}
