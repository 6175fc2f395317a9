package chain

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/predictx-oracle/internal/domain"
)

// fakeBackend answers registry calls from an in-memory market list and
// records sent transactions.
type fakeBackend struct {
	mu sync.Mutex

	markets   []marketTuple
	callFails int // number of CallContract failures before succeeding
	calls     int
	rawMarket []byte // overrides getMarket output when set

	estimate    uint64
	estimateErr error
	baseFee     *big.Int
	sent        []*types.Transaction
}

func (f *fakeBackend) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.callFails > 0 {
		f.callFails--
		return nil, errors.New("connection reset")
	}

	switch {
	case bytes.Equal(msg.Data[:4], registryABI.Methods["nextMarketId"].ID):
		return registryABI.Methods["nextMarketId"].Outputs.Pack(big.NewInt(int64(len(f.markets))))
	case bytes.Equal(msg.Data[:4], registryABI.Methods["getMarket"].ID):
		if f.rawMarket != nil {
			return f.rawMarket, nil
		}
		args, err := registryABI.Methods["getMarket"].Inputs.Unpack(msg.Data[4:])
		if err != nil {
			return nil, err
		}
		id := args[0].(*big.Int).Int64()
		if id >= int64(len(f.markets)) {
			return nil, errors.New("execution reverted: market does not exist")
		}
		return registryABI.Methods["getMarket"].Outputs.Pack(f.markets[id])
	}
	return nil, errors.New("unknown selector")
}

func (f *fakeBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return f.estimate, f.estimateErr
}

func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return uint64(len(f.sent)), nil
}

func (f *fakeBackend) SuggestGasTipCap(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (f *fakeBackend) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return &types.Header{Number: big.NewInt(1), BaseFee: f.baseFee}, nil
}

func (f *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, tx)
	return nil
}

func sampleTuple() marketTuple {
	return marketTuple{
		Description:     "Will @predictx reach 1.5M followers?",
		EndpointPath:    "/users/by/username/predictx?user.fields=public_metrics",
		JsonPath:        "data.public_metrics.followers_count",
		TargetValue:     big.NewInt(1_500_000),
		Operator:        uint8(domain.OperatorGreaterThanOrEqual),
		BettingDeadline: big.NewInt(50),
		ResolutionDate:  big.NewInt(100),
		CreatedAt:       big.NewInt(10),
		Status:          uint8(domain.MarketStatusOpen),
		Creator:         common.HexToAddress("0x00000000000000000000000000000000000000c0"),
	}
}

var registryAddr = common.HexToAddress("0x0000000000000000000000000000000000001234")

func TestLookupNetwork(t *testing.T) {
	n, err := LookupNetwork("ethereum-testnet-sepolia", false)
	require.NoError(t, err)
	assert.Equal(t, uint64(11155111), n.ChainID)
	assert.Equal(t, uint64(16015286601757825753), n.ChainSelector)
	assert.Equal(t, "ethereum-testnet-sepolia", n.Name)

	_, err = LookupNetwork("no-such-chain", true)
	assert.ErrorIs(t, err, domain.ErrUnknownChain)

	_, err = LookupNetwork("ethereum-mainnet", false)
	assert.ErrorIs(t, err, domain.ErrUnknownChain)

	_, err = LookupNetwork("ethereum-mainnet", true)
	assert.NoError(t, err)

	assert.Contains(t, NetworkNames(), "polygon-testnet-amoy")
}

func TestRegistryReader_MarketCountAndGetMarket(t *testing.T) {
	fb := &fakeBackend{markets: []marketTuple{sampleTuple(), sampleTuple()}}
	r := NewRegistryReader(fb, registryAddr, nil)

	n, err := r.MarketCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(2), n)

	m, err := r.GetMarket(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), m.ID)
	assert.Equal(t, "data.public_metrics.followers_count", m.JSONPath)
	assert.Equal(t, "/users/by/username/predictx?user.fields=public_metrics", m.EndpointPath)
	assert.Equal(t, 0, m.TargetValue.Cmp(big.NewInt(1_500_000)))
	assert.Equal(t, domain.OperatorGreaterThanOrEqual, m.Operator)
	assert.Equal(t, int64(100), m.ResolutionDate)
	assert.Equal(t, int64(50), m.BettingDeadline)
	assert.Equal(t, int64(10), m.CreatedAt)
	assert.Equal(t, domain.MarketStatusOpen, m.Status)
	assert.Equal(t, common.HexToAddress("0x00000000000000000000000000000000000000c0"), m.Creator)
}

func TestRegistryReader_ReadsAreIdempotent(t *testing.T) {
	fb := &fakeBackend{markets: []marketTuple{sampleTuple()}}
	r := NewRegistryReader(fb, registryAddr, nil)

	first, err := r.GetMarket(context.Background(), 0)
	require.NoError(t, err)
	second, err := r.GetMarket(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestRegistryReader_RetriesTransientFailures(t *testing.T) {
	fb := &fakeBackend{markets: []marketTuple{sampleTuple()}, callFails: 2}
	r := NewRegistryReader(fb, registryAddr, nil, WithRetries(2, time.Millisecond))

	n, err := r.MarketCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)
	assert.Equal(t, 3, fb.calls)

	fb.callFails = 5
	_, err = r.MarketCount(context.Background())
	assert.Error(t, err)
}

func TestRegistryReader_DecodeFailureIsMarketScoped(t *testing.T) {
	fb := &fakeBackend{markets: []marketTuple{sampleTuple()}, rawMarket: []byte{0x01, 0x02}}
	r := NewRegistryReader(fb, registryAddr, nil)

	_, err := r.GetMarket(context.Background(), 0)
	assert.ErrorIs(t, err, domain.ErrDecode)

	// The count read is unaffected.
	_, err = r.MarketCount(context.Background())
	assert.NoError(t, err)
}

func testReport() domain.Report {
	payload := common.LeftPadBytes([]byte{5}, 32)
	payload = append(payload, common.LeftPadBytes([]byte{42}, 32)...)
	return domain.Report{
		MarketID:    5,
		ActualValue: 42,
		Payload:     payload,
		Digest:      ethcrypto.Keccak256Hash(payload),
		Signatures:  []domain.Signature{{Sig: bytes.Repeat([]byte{1}, 65)}},
	}
}

func newWriter(t *testing.T, fb *fakeBackend) *ReportWriter {
	t.Helper()
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	return NewReportWriter(fb, key, 11155111, nil)
}

var receiver = common.HexToAddress("0x000000000000000000000000000000000000beef")

func TestReportWriter_Sends(t *testing.T) {
	fb := &fakeBackend{estimate: 200_000, baseFee: big.NewInt(10)}
	w := newWriter(t, fb)

	hash, err := w.WriteReport(context.Background(), receiver, testReport(), 500_000)
	require.NoError(t, err)
	require.Len(t, fb.sent, 1)

	tx := fb.sent[0]
	assert.Equal(t, tx.Hash(), hash)
	assert.Equal(t, receiver, *tx.To())
	assert.Equal(t, uint64(500_000), tx.Gas())
	assert.Equal(t, uint64(11155111), tx.ChainId().Uint64())

	sender, err := types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx)
	require.NoError(t, err)
	assert.Equal(t, w.From(), sender)

	args, err := receiverABI.Methods["onReport"].Inputs.Unpack(tx.Data()[4:])
	require.NoError(t, err)
	assert.Equal(t, testReport().Payload, args[1].([]byte))

	meta, err := metadataArgs.Unpack(args[0].([]byte))
	require.NoError(t, err)
	assert.Equal(t, [32]byte(testReport().Digest), meta[0].([32]byte))
	assert.Len(t, meta[1].([][]byte), 1)
}

func TestReportWriter_Failures(t *testing.T) {
	t.Run("zero receiver", func(t *testing.T) {
		fb := &fakeBackend{estimate: 1}
		_, err := newWriter(t, fb).WriteReport(context.Background(), common.Address{}, testReport(), 500_000)
		assert.ErrorIs(t, err, domain.ErrInvalidReceiver)
		assert.Empty(t, fb.sent)
	})

	t.Run("estimate above budget", func(t *testing.T) {
		fb := &fakeBackend{estimate: 600_000}
		_, err := newWriter(t, fb).WriteReport(context.Background(), receiver, testReport(), 500_000)
		assert.ErrorIs(t, err, domain.ErrInsufficientGas)
		assert.Empty(t, fb.sent)
	})

	t.Run("already resolved revert", func(t *testing.T) {
		fb := &fakeBackend{estimateErr: errors.New("execution reverted: market already resolved")}
		_, err := newWriter(t, fb).WriteReport(context.Background(), receiver, testReport(), 500_000)
		assert.ErrorIs(t, err, domain.ErrWriteRejected)
		assert.Empty(t, fb.sent)
	})
}
