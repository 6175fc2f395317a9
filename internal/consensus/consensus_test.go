package consensus

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/predictx-oracle/internal/crypto"
	"github.com/alanyoungcy/predictx-oracle/internal/domain"
)

type fakeRuntime struct {
	value int64
	err   error
	delay time.Duration
}

func (f *fakeRuntime) FetchMetric(ctx context.Context, _, _, _ string) (int64, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	return f.value, f.err
}

func (f *fakeRuntime) SignReport(context.Context, []byte) (domain.Signature, error) {
	return domain.Signature{}, errors.New("not a signer")
}

// forgedRuntime claims an address it cannot sign for.
type forgedRuntime struct {
	fakeRuntime
	claim common.Address
}

func (f *forgedRuntime) SignReport(context.Context, []byte) (domain.Signature, error) {
	sig := make([]byte, 65)
	for i := range 64 {
		sig[i] = 0x01
	}
	sig[64] = 27
	return domain.Signature{Signer: f.claim, Sig: sig}, nil
}

func nodesOf(rts ...NodeRuntime) []Node {
	out := make([]Node, len(rts))
	for i, rt := range rts {
		out[i] = Node{ID: string(rune('a' + i)), Runtime: rt}
	}
	return out
}

func fetchAll(ctx context.Context, n Node) (int64, error) {
	return n.Runtime.FetchMetric(ctx, "/m", "v", "tok")
}

func TestMedianAggregation(t *testing.T) {
	tests := []struct {
		name   string
		values []int64
		want   int64
	}{
		{"outlier ignored", []int64{10, 12, 1000000}, 12},
		{"unsorted", []int64{1000000, 10, 12}, 12},
		{"single", []int64{7}, 7},
		{"even picks upper middle", []int64{1, 2, 3, 4}, 3},
		{"negatives", []int64{-5, -1, -3}, -3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MedianAggregation{}.Aggregate(tt.values)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := MedianAggregation{}.Aggregate(nil)
	assert.Error(t, err)
}

func TestMedianAggregation_DoesNotMutateInput(t *testing.T) {
	in := []int64{3, 1, 2}
	_, err := MedianAggregation{}.Aggregate(in)
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 1, 2}, in)
}

func TestNewNodeSet_Validation(t *testing.T) {
	rt := &fakeRuntime{}

	_, err := NewNodeSet(nil, 1, 0, nil)
	assert.Error(t, err)

	_, err = NewNodeSet(nodesOf(rt), 2, 0, nil)
	assert.Error(t, err)

	_, err = NewNodeSet(nodesOf(rt), 0, 0, nil)
	assert.Error(t, err)

	_, err = NewNodeSet([]Node{{ID: "a", Runtime: rt}, {ID: "a", Runtime: rt}}, 1, 0, nil)
	assert.Error(t, err)

	addr := common.HexToAddress("0x3333333333333333333333333333333333333333")
	_, err = NewNodeSet([]Node{
		{ID: "a", Runtime: rt, Signer: addr},
		{ID: "b", Runtime: rt, Signer: addr},
	}, 1, 0, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "share signer")
}

func TestNodeSet_Signers(t *testing.T) {
	rt := &fakeRuntime{}
	a := common.HexToAddress("0x1111111111111111111111111111111111111111")
	b := common.HexToAddress("0x2222222222222222222222222222222222222222")

	set, err := NewNodeSet([]Node{
		{ID: "a", Runtime: rt, Signer: a},
		{ID: "b", Runtime: rt, Signer: b},
	}, 1, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, []common.Address{a, b}, set.Signers())

	set, err = NewNodeSet([]Node{
		{ID: "a", Runtime: rt, Signer: a},
		{ID: "b", Runtime: rt},
	}, 1, 0, nil)
	require.NoError(t, err)
	assert.Nil(t, set.Signers())
}

func TestRunDistributed_MedianOfAllNodes(t *testing.T) {
	set, err := NewNodeSet(nodesOf(
		&fakeRuntime{value: 10},
		&fakeRuntime{value: 12},
		&fakeRuntime{value: 1000000},
	), 2, time.Second, nil)
	require.NoError(t, err)

	v, err := set.RunDistributed(context.Background(), fetchAll, MedianAggregation{})
	require.NoError(t, err)
	assert.Equal(t, int64(12), v)
}

func TestRunDistributed_FailuresExcludedNotZero(t *testing.T) {
	set, err := NewNodeSet(nodesOf(
		&fakeRuntime{value: 100},
		&fakeRuntime{err: errors.New("http 500")},
		&fakeRuntime{value: 102},
	), 2, time.Second, nil)
	require.NoError(t, err)

	v, err := set.RunDistributed(context.Background(), fetchAll, MedianAggregation{})
	require.NoError(t, err)
	// Upper median of {100, 102}; a zero from the failed node would give 100.
	assert.Equal(t, int64(102), v)
}

func TestRunDistributed_QuorumFailsClosed(t *testing.T) {
	set, err := NewNodeSet(nodesOf(
		&fakeRuntime{value: 42},
		&fakeRuntime{err: errors.New("http 500")},
		&fakeRuntime{err: errors.New("bad json")},
	), 2, time.Second, nil)
	require.NoError(t, err)

	v, err := set.RunDistributed(context.Background(), fetchAll, MedianAggregation{})
	require.Error(t, err)
	assert.Zero(t, v)
	assert.ErrorIs(t, err, domain.ErrQuorum)

	var qe *QuorumError
	require.True(t, errors.As(err, &qe))
	assert.Equal(t, 2, qe.Required)
	assert.Equal(t, 1, qe.Succeeded)
	assert.Equal(t, 3, qe.Total)
	assert.Len(t, qe.Failures, 2)
}

func TestRunDistributed_NodeTimeout(t *testing.T) {
	set, err := NewNodeSet(nodesOf(
		&fakeRuntime{value: 1},
		&fakeRuntime{value: 2, delay: time.Second},
		&fakeRuntime{value: 3, delay: time.Second},
	), 2, 50*time.Millisecond, nil)
	require.NoError(t, err)

	start := time.Now()
	_, err = set.RunDistributed(context.Background(), fetchAll, MedianAggregation{})
	assert.ErrorIs(t, err, domain.ErrQuorum)
	assert.Less(t, time.Since(start), 900*time.Millisecond)
}

func newTestSigner(t *testing.T) *crypto.Signer {
	t.Helper()
	pk, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	return crypto.NewSigner(pk)
}

type staticFetcher int64

func (s staticFetcher) FetchMetric(context.Context, string, string, string) (int64, error) {
	return int64(s), nil
}

func TestCollectSignatures_SortedAndRecoverable(t *testing.T) {
	signers := []*crypto.Signer{newTestSigner(t), newTestSigner(t), newTestSigner(t)}
	set, err := NewNodeSet(nodesOf(
		NewLocalNode(staticFetcher(1), signers[0]),
		NewLocalNode(staticFetcher(1), signers[1]),
		NewLocalNode(staticFetcher(1), signers[2]),
	), 3, time.Second, nil)
	require.NoError(t, err)

	payload := []byte("payload")
	sigs, err := set.CollectSignatures(context.Background(), payload)
	require.NoError(t, err)
	require.Len(t, sigs, 3)

	for i := 1; i < len(sigs); i++ {
		assert.Less(t, strings.ToLower(sigs[i-1].Signer.Hex()), strings.ToLower(sigs[i].Signer.Hex()))
	}

	digest := ethcrypto.Keccak256Hash(payload)
	for _, s := range sigs {
		addr, err := crypto.RecoverSigner(digest, s.Sig)
		require.NoError(t, err)
		assert.Equal(t, s.Signer, addr)
	}
}

func TestCollectSignatures_QuorumCountsDistinctSigners(t *testing.T) {
	shared := newTestSigner(t)
	set, err := NewNodeSet(nodesOf(
		NewLocalNode(staticFetcher(1), shared),
		NewLocalNode(staticFetcher(1), shared),
		&fakeRuntime{},
	), 2, time.Second, nil)
	require.NoError(t, err)

	_, err = set.CollectSignatures(context.Background(), []byte("p"))
	assert.ErrorIs(t, err, domain.ErrQuorum)
}

func TestRemoteNode_RoundTrip(t *testing.T) {
	signer := newTestSigner(t)
	local := NewLocalNode(staticFetcher(1500000), signer)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer node-key" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case "/api/node/observe":
			var req ObserveRequest
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "tok", req.Token)
			v, _ := local.FetchMetric(r.Context(), req.EndpointPath, req.JSONPath, req.Token)
			_ = json.NewEncoder(w).Encode(ObserveResponse{NodeID: "peer", Value: v})
		case "/api/node/sign":
			var req SignRequest
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			sig, _ := local.SignReport(r.Context(), req.Payload)
			_ = json.NewEncoder(w).Encode(SignResponse{NodeID: "peer", Signer: sig.Signer, Signature: sig.Sig})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	remote := NewRemoteNode(srv.URL+"/", "node-key", time.Second)

	v, err := remote.FetchMetric(context.Background(), "/m", "v", "tok")
	require.NoError(t, err)
	assert.Equal(t, int64(1500000), v)

	sig, err := remote.SignReport(context.Background(), []byte("payload"))
	require.NoError(t, err)
	assert.Equal(t, signer.Address(), sig.Signer)

	addr, err := crypto.RecoverSigner(ethcrypto.Keccak256Hash([]byte("payload")), sig.Sig)
	require.NoError(t, err)
	assert.Equal(t, signer.Address(), addr)

	bad := NewRemoteNode(srv.URL, "wrong", time.Second)
	_, err = bad.FetchMetric(context.Background(), "/m", "v", "tok")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestCollectSignatures_ForgedSignatureIsNodeFailure(t *testing.T) {
	honest := []*crypto.Signer{newTestSigner(t), newTestSigner(t)}
	forged := &forgedRuntime{claim: newTestSigner(t).Address()}
	nodes := nodesOf(
		NewLocalNode(staticFetcher(1), honest[0]),
		NewLocalNode(staticFetcher(1), honest[1]),
		forged,
	)

	set, err := NewNodeSet(nodes, 2, time.Second, nil)
	require.NoError(t, err)

	sigs, err := set.CollectSignatures(context.Background(), []byte("payload"))
	require.NoError(t, err)
	require.Len(t, sigs, 2)
	for _, s := range sigs {
		assert.NotEqual(t, forged.claim, s.Signer)
	}

	set, err = NewNodeSet(nodes, 3, time.Second, nil)
	require.NoError(t, err)

	_, err = set.CollectSignatures(context.Background(), []byte("payload"))
	assert.ErrorIs(t, err, domain.ErrQuorum)

	var qe *QuorumError
	require.True(t, errors.As(err, &qe))
	assert.Equal(t, 2, qe.Succeeded)
	require.Len(t, qe.Failures, 1)
	assert.Equal(t, "c", qe.Failures[0].NodeID)
	assert.ErrorIs(t, qe.Failures[0].Err, domain.ErrSigningFailed)
}

func TestCollectSignatures_RemoteSignerMustMatchPin(t *testing.T) {
	rogue := NewLocalNode(staticFetcher(1), newTestSigner(t))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req SignRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		sig, _ := rogue.SignReport(r.Context(), req.Payload)
		_ = json.NewEncoder(w).Encode(SignResponse{NodeID: "c", Signer: sig.Signer, Signature: sig.Sig})
	}))
	defer srv.Close()

	a := NewLocalNode(staticFetcher(1), newTestSigner(t))
	b := NewLocalNode(staticFetcher(1), newTestSigner(t))
	pinned := newTestSigner(t).Address()
	nodes := []Node{
		{ID: "a", Runtime: a, Signer: a.Address()},
		{ID: "b", Runtime: b, Signer: b.Address()},
		{ID: "c", Runtime: NewRemoteNode(srv.URL, "node-key", time.Second), Signer: pinned},
	}

	set, err := NewNodeSet(nodes, 3, time.Second, nil)
	require.NoError(t, err)

	_, err = set.CollectSignatures(context.Background(), []byte("payload"))
	require.ErrorIs(t, err, domain.ErrQuorum)
	var qe *QuorumError
	require.True(t, errors.As(err, &qe))
	require.Len(t, qe.Failures, 1)
	assert.Equal(t, "c", qe.Failures[0].NodeID)
	assert.Contains(t, qe.Failures[0].Err.Error(), "pinned signer")

	set, err = NewNodeSet(nodes, 2, time.Second, nil)
	require.NoError(t, err)

	sigs, err := set.CollectSignatures(context.Background(), []byte("payload"))
	require.NoError(t, err)
	require.Len(t, sigs, 2)
	for _, s := range sigs {
		assert.NotEqual(t, rogue.Address(), s.Signer)
	}
}
