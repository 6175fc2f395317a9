package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"math/big"
	"sync"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/predictx-oracle/internal/domain"
)

// ReportWriter submits signed reports to a receiver contract's
// onReport(bytes metadata, bytes report) entry point.
type ReportWriter struct {
	backend Backend
	key     *ecdsa.PrivateKey
	from    common.Address
	chainID *big.Int
	logger  *slog.Logger

	mu sync.Mutex // serialises nonce selection
}

// NewReportWriter creates a writer that signs transactions with key.
func NewReportWriter(backend Backend, key *ecdsa.PrivateKey, chainID uint64, logger *slog.Logger) *ReportWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReportWriter{
		backend: backend,
		key:     key,
		from:    ethcrypto.PubkeyToAddress(key.PublicKey),
		chainID: new(big.Int).SetUint64(chainID),
		logger:  logger.With(slog.String("component", "report_writer")),
	}
}

// From returns the sender address.
func (w *ReportWriter) From() common.Address { return w.from }

// EncodeMetadata returns abi.encode(bytes32 digest, bytes[] signatures).
func EncodeMetadata(rep domain.Report) ([]byte, error) {
	meta, err := metadataArgs.Pack([32]byte(rep.Digest), rep.RawSignatures())
	if err != nil {
		return nil, fmt.Errorf("chain: %w: metadata: %v", domain.ErrEncoding, err)
	}
	return meta, nil
}

// WriteReport broadcasts rep to receiver with gasLimit as the gas budget and
// returns the transaction hash. Acceptance into the mempool is not finality;
// the caller does not wait for a receipt.
func (w *ReportWriter) WriteReport(ctx context.Context, receiver common.Address, rep domain.Report, gasLimit uint64) (common.Hash, error) {
	if receiver == (common.Address{}) {
		return common.Hash{}, fmt.Errorf("chain: %w: zero address", domain.ErrInvalidReceiver)
	}
	if gasLimit == 0 {
		return common.Hash{}, fmt.Errorf("chain: %w: zero gas limit", domain.ErrInsufficientGas)
	}

	meta, err := EncodeMetadata(rep)
	if err != nil {
		return common.Hash{}, err
	}
	data, err := receiverABI.Pack("onReport", meta, rep.Payload)
	if err != nil {
		return common.Hash{}, fmt.Errorf("chain: %w: onReport calldata: %v", domain.ErrEncoding, err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	estimate, err := w.backend.EstimateGas(ctx, ethereum.CallMsg{From: w.from, To: &receiver, Data: data})
	if err != nil {
		if ctx.Err() != nil {
			return common.Hash{}, fmt.Errorf("chain: estimate gas: %w", ctx.Err())
		}
		return common.Hash{}, fmt.Errorf("chain: %w: %v", domain.ErrWriteRejected, err)
	}
	if estimate > gasLimit {
		return common.Hash{}, fmt.Errorf("chain: %w: estimated %d exceeds limit %d", domain.ErrInsufficientGas, estimate, gasLimit)
	}

	nonce, err := w.backend.PendingNonceAt(ctx, w.from)
	if err != nil {
		return common.Hash{}, fmt.Errorf("chain: pending nonce: %w", err)
	}
	tip, err := w.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("chain: gas tip: %w", err)
	}
	head, err := w.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return common.Hash{}, fmt.Errorf("chain: latest header: %w", err)
	}

	feeCap := new(big.Int).Set(tip)
	if head.BaseFee != nil {
		feeCap.Add(feeCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   w.chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gasLimit,
		To:        &receiver,
		Data:      data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(w.chainID), w.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("chain: %w: sign tx: %v", domain.ErrSigningFailed, err)
	}

	if err := w.backend.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("chain: send transaction: %w", err)
	}

	w.logger.DebugContext(ctx, "report transaction sent",
		slog.Uint64("market_id", rep.MarketID),
		slog.String("tx_hash", signed.Hash().Hex()),
		slog.Uint64("nonce", nonce),
		slog.Uint64("gas_estimate", estimate),
	)
	return signed.Hash(), nil
}
