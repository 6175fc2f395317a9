package chain

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/predictx-oracle/internal/domain"
)

// RegistryReader reads market state from the registry contract at the
// latest block.
type RegistryReader struct {
	backend   Backend
	registry  common.Address
	retries   int
	baseDelay time.Duration
	logger    *slog.Logger
}

// ReaderOption configures a RegistryReader.
type ReaderOption func(*RegistryReader)

// WithRetries sets how many extra attempts a failed call gets and the first
// backoff delay (doubled on each attempt).
func WithRetries(n int, baseDelay time.Duration) ReaderOption {
	return func(r *RegistryReader) {
		if n >= 0 {
			r.retries = n
		}
		if baseDelay > 0 {
			r.baseDelay = baseDelay
		}
	}
}

// NewRegistryReader creates a reader for the registry at addr.
func NewRegistryReader(backend Backend, addr common.Address, logger *slog.Logger, opts ...ReaderOption) *RegistryReader {
	if logger == nil {
		logger = slog.Default()
	}
	r := &RegistryReader{
		backend:   backend,
		registry:  addr,
		retries:   2,
		baseDelay: 250 * time.Millisecond,
		logger:    logger.With(slog.String("component", "registry_reader")),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// MarketCount returns nextMarketId(), the number of markets ever created.
func (r *RegistryReader) MarketCount(ctx context.Context) (uint64, error) {
	out, err := r.call(ctx, "nextMarketId")
	if err != nil {
		return 0, err
	}
	vals, err := registryABI.Unpack("nextMarketId", out)
	if err != nil {
		return 0, fmt.Errorf("chain: nextMarketId: %w: %v", domain.ErrDecode, err)
	}
	n, ok := vals[0].(*big.Int)
	if !ok || !n.IsUint64() {
		return 0, fmt.Errorf("chain: nextMarketId: %w: unexpected value %v", domain.ErrDecode, vals[0])
	}
	return n.Uint64(), nil
}

// GetMarket returns the descriptor for id.
func (r *RegistryReader) GetMarket(ctx context.Context, id uint64) (domain.MarketDescriptor, error) {
	out, err := r.call(ctx, "getMarket", new(big.Int).SetUint64(id))
	if err != nil {
		return domain.MarketDescriptor{}, err
	}
	m, err := decodeMarket(id, out)
	if err != nil {
		return domain.MarketDescriptor{}, fmt.Errorf("chain: getMarket(%d): %w", id, err)
	}
	return m, nil
}

func (r *RegistryReader) call(ctx context.Context, method string, args ...any) ([]byte, error) {
	data, err := registryABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("chain: pack %s: %w", method, err)
	}
	msg := ethereum.CallMsg{To: &r.registry, Data: data}

	delay := r.baseDelay
	for attempt := 0; ; attempt++ {
		out, err := r.backend.CallContract(ctx, msg, nil)
		if err == nil {
			return out, nil
		}
		if attempt >= r.retries || ctx.Err() != nil {
			return nil, fmt.Errorf("chain: call %s: %w", method, err)
		}

		r.logger.WarnContext(ctx, "registry call failed, retrying",
			slog.String("method", method),
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()),
		)
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("chain: call %s: %w", method, ctx.Err())
		case <-time.After(delay):
		}
		delay *= 2
	}
}

func decodeMarket(id uint64, out []byte) (m domain.MarketDescriptor, err error) {
	vals, err := registryABI.Unpack("getMarket", out)
	if err != nil {
		return m, fmt.Errorf("%w: %v", domain.ErrDecode, err)
	}
	if len(vals) != 1 {
		return m, fmt.Errorf("%w: expected 1 return value, got %d", domain.ErrDecode, len(vals))
	}

	// ConvertType panics on shape mismatch.
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: %v", domain.ErrDecode, rec)
		}
	}()
	t := *abi.ConvertType(vals[0], new(marketTuple)).(*marketTuple)

	if t.TargetValue == nil {
		return m, fmt.Errorf("%w: missing targetValue", domain.ErrDecode)
	}
	return domain.MarketDescriptor{
		ID:              id,
		Description:     t.Description,
		EndpointPath:    t.EndpointPath,
		JSONPath:        t.JsonPath,
		TargetValue:     t.TargetValue,
		Operator:        domain.ComparisonOperator(t.Operator),
		BettingDeadline: bigUnix(t.BettingDeadline),
		ResolutionDate:  bigUnix(t.ResolutionDate),
		CreatedAt:       bigUnix(t.CreatedAt),
		Status:          domain.MarketStatus(t.Status),
		Creator:         t.Creator,
	}, nil
}

// bigUnix narrows a uint48 timestamp; uint48 always fits int64.
func bigUnix(v *big.Int) int64 {
	if v == nil {
		return 0
	}
	return v.Int64()
}
