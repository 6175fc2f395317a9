package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/alanyoungcy/predictx-oracle/internal/chain"
	"github.com/alanyoungcy/predictx-oracle/internal/consensus"
	"github.com/alanyoungcy/predictx-oracle/internal/domain"
)

// BearerTokenSecret is the logical id of the data API credential.
const BearerTokenSecret = "X_API_BEARER_TOKEN"

// MarketReader reads the market registry.
type MarketReader interface {
	MarketCount(ctx context.Context) (uint64, error)
	GetMarket(ctx context.Context, id uint64) (domain.MarketDescriptor, error)
}

// Distributor runs a closure across the node set and aggregates the results.
type Distributor interface {
	RunDistributed(ctx context.Context, fn consensus.NodeFunc, agg consensus.Aggregator) (int64, error)
}

// ReportBuilder produces signed attestations.
type ReportBuilder interface {
	Build(ctx context.Context, marketID uint64, value int64) (domain.Report, error)
}

// ReportWriter submits attestations on-chain.
type ReportWriter interface {
	WriteReport(ctx context.Context, receiver common.Address, rep domain.Report, gasLimit uint64) (common.Hash, error)
}

// Notifier delivers operator alerts.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// MarketError attributes a market-scoped failure to the step it happened in.
type MarketError struct {
	MarketID uint64
	Step     domain.Step
	Err      error
}

func (e *MarketError) Error() string {
	return fmt.Sprintf("market #%d: %s: %v", e.MarketID, e.Step, e.Err)
}

func (e *MarketError) Unwrap() error { return e.Err }

// ResolverConfig is the static part of a resolution cycle.
type ResolverConfig struct {
	ChainName         string
	AllowMainnet      bool
	ResolutionAddress common.Address
	GasLimit          uint64
}

// Resolver runs one resolution cycle at a time over the market registry.
// It keeps no state between cycles.
type Resolver struct {
	cfg         ResolverConfig
	reader      MarketReader
	nodes       Distributor
	builder     ReportBuilder
	writer      ReportWriter
	secrets     domain.SecretStore
	aggregation consensus.Aggregator
	hooks       Hooks
	now         func() time.Time
	logger      *slog.Logger
}

// Hooks are optional observers of a cycle. Nil fields are skipped and hook
// failures never change a cycle's outcome.
type Hooks struct {
	Recorder domain.ResolutionRecorder
	Bus      domain.SignalBus
	Notifier Notifier
	Archive  *CycleArchiver
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithClock overrides the wall clock used for eligibility.
func WithClock(now func() time.Time) ResolverOption {
	return func(r *Resolver) { r.now = now }
}

// WithHooks attaches observers.
func WithHooks(h Hooks) ResolverOption {
	return func(r *Resolver) { r.hooks = h }
}

// WithAggregation replaces the median reduction.
func WithAggregation(agg consensus.Aggregator) ResolverOption {
	return func(r *Resolver) { r.aggregation = agg }
}

// NewResolver wires a Resolver from its collaborators.
func NewResolver(
	cfg ResolverConfig,
	reader MarketReader,
	nodes Distributor,
	builder ReportBuilder,
	writer ReportWriter,
	secrets domain.SecretStore,
	logger *slog.Logger,
	opts ...ResolverOption,
) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Resolver{
		cfg:         cfg,
		reader:      reader,
		nodes:       nodes,
		builder:     builder,
		writer:      writer,
		secrets:     secrets,
		aggregation: consensus.MedianAggregation{},
		now:         time.Now,
		logger:      logger.With(slog.String("component", "resolver")),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// RunCycle enumerates every market in ascending id order and resolves the
// eligible ones. Market failures are logged and skipped. The returned error
// is non-nil only for cycle-fatal failures (unknown chain, unreadable market
// count, missing credential) or cancellation; the result is always filled
// with whatever was done up to that point.
func (r *Resolver) RunCycle(ctx context.Context) (domain.CycleResult, error) {
	result := domain.CycleResult{
		ID:        uuid.NewString(),
		ChainName: r.cfg.ChainName,
		StartedAt: r.now().UTC(),
	}
	log := r.logger.With(slog.String("cycle_id", result.ID))
	log.InfoContext(ctx, "PredictX: Checking for markets to resolve...")

	err := r.runCycle(ctx, log, &result)
	result.FinishedAt = r.now().UTC()
	if err != nil {
		result.Error = err.Error()
		log.ErrorContext(ctx, "resolution cycle aborted",
			slog.String("error", err.Error()),
			slog.Int("resolved", result.Resolved),
		)
		r.notify(ctx, "cycle_failed", "Resolution cycle failed", err.Error())
	} else {
		log.InfoContext(ctx, fmt.Sprintf("Done. Found %d markets ready to resolve.", result.Resolved),
			slog.Uint64("market_count", result.MarketCount),
			slog.Int("resolved", result.Resolved),
			slog.Int("skipped", result.Skipped),
			slog.Int("failed", result.Failed),
			slog.Duration("duration", result.Duration()),
		)
	}

	r.finishCycle(ctx, log, result)
	return result, err
}

func (r *Resolver) runCycle(ctx context.Context, log *slog.Logger, result *domain.CycleResult) error {
	network, err := chain.LookupNetwork(r.cfg.ChainName, r.cfg.AllowMainnet)
	if err != nil {
		return err
	}
	log = log.With(slog.String("chain", network.Name))

	count, err := r.reader.MarketCount(ctx)
	if err != nil {
		return fmt.Errorf("read market count: %w", err)
	}
	result.MarketCount = count
	log.InfoContext(ctx, fmt.Sprintf("Found %d total markets", count))

	now := r.now()
	var token string
	for id := uint64(0); id < count; id++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("cycle interrupted before market #%d: %w", id, err)
		}

		m, err := r.reader.GetMarket(ctx, id)
		if err != nil {
			r.fail(ctx, log, result, &MarketError{MarketID: id, Step: domain.StepReadMarket, Err: err}, 0)
			continue
		}

		if m.Status.Terminal() {
			r.record(ctx, result, domain.MarketOutcome{MarketID: id, Kind: domain.OutcomeSkipped, Status: m.Status})
			continue
		}
		if !m.Due(now) {
			r.record(ctx, result, domain.MarketOutcome{MarketID: id, Kind: domain.OutcomeNotDue, Status: m.Status})
			continue
		}

		if token == "" {
			token, err = r.secrets.GetSecret(ctx, BearerTokenSecret)
			if err != nil {
				return fmt.Errorf("get secret %s: %w", BearerTokenSecret, err)
			}
		}

		r.resolveMarket(ctx, log, result, m, token)
	}
	return nil
}

// resolveMarket runs fetch, build and write for one eligible market.
func (r *Resolver) resolveMarket(ctx context.Context, log *slog.Logger, result *domain.CycleResult, m domain.MarketDescriptor, token string) {
	log.InfoContext(ctx, fmt.Sprintf("Market #%d: endpoint=%s, target=%s, resolving...", m.ID, m.EndpointPath, m.TargetValue),
		slog.Uint64("market_id", m.ID),
		slog.String("operator", m.Operator.String()),
	)

	endpointPath, jsonPath := m.EndpointPath, m.JSONPath
	value, err := r.nodes.RunDistributed(ctx, func(ctx context.Context, n consensus.Node) (int64, error) {
		return n.Runtime.FetchMetric(ctx, endpointPath, jsonPath, token)
	}, r.aggregation)
	if err != nil {
		r.fail(ctx, log, result, &MarketError{MarketID: m.ID, Step: domain.StepFetchMetric, Err: err}, 0)
		return
	}
	log.InfoContext(ctx, fmt.Sprintf("Fetched value for market #%d: %d", m.ID, value),
		slog.Uint64("market_id", m.ID),
	)

	rep, err := r.builder.Build(ctx, m.ID, value)
	if err != nil {
		r.fail(ctx, log, result, &MarketError{MarketID: m.ID, Step: domain.StepBuildReport, Err: err}, value)
		return
	}

	txHash, err := r.writer.WriteReport(ctx, r.cfg.ResolutionAddress, rep, r.cfg.GasLimit)
	if err != nil {
		r.fail(ctx, log, result, &MarketError{MarketID: m.ID, Step: domain.StepWriteReport, Err: err}, value)
		return
	}

	log.InfoContext(ctx, fmt.Sprintf("Resolved market #%d (value=%d) tx: %s", m.ID, value, txHash.Hex()),
		slog.Uint64("market_id", m.ID),
		slog.String("tx_hash", txHash.Hex()),
	)
	r.record(ctx, result, domain.MarketOutcome{
		MarketID: m.ID,
		Kind:     domain.OutcomeResolved,
		Status:   m.Status,
		Value:    value,
		TxHash:   txHash.Hex(),
	})
	r.notify(ctx, "market_resolved",
		fmt.Sprintf("Market #%d resolved", m.ID),
		fmt.Sprintf("%s\nvalue=%d target %s %s\ntx: %s", m.Description, value, m.Operator, m.TargetValue, txHash.Hex()))
}

func (r *Resolver) fail(ctx context.Context, log *slog.Logger, result *domain.CycleResult, merr *MarketError, value int64) {
	attrs := []any{
		slog.Uint64("market_id", merr.MarketID),
		slog.String("step", string(merr.Step)),
		slog.String("error", merr.Err.Error()),
	}
	if errors.Is(merr.Err, domain.ErrWriteRejected) {
		log.WarnContext(ctx, "market report rejected", attrs...)
	} else {
		log.ErrorContext(ctx, "market resolution failed", attrs...)
	}

	r.record(ctx, result, domain.MarketOutcome{
		MarketID: merr.MarketID,
		Kind:     domain.OutcomeFailed,
		Step:     merr.Step,
		Value:    value,
		Error:    merr.Error(),
	})
	r.notify(ctx, "market_failed", fmt.Sprintf("Market #%d failed", merr.MarketID), merr.Error())
}
