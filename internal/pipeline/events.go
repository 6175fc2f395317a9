package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/alanyoungcy/predictx-oracle/internal/domain"
)

// hookTimeout bounds each observer call so a slow store cannot stall a
// cycle.
const hookTimeout = 5 * time.Second

// MarketEvent is published on domain.ChannelMarkets for every market outcome.
type MarketEvent struct {
	CycleID  string    `json:"cycle_id"`
	MarketID uint64    `json:"market_id"`
	Outcome  string    `json:"outcome"`
	Status   string    `json:"status"`
	Step     string    `json:"step,omitempty"`
	Value    int64     `json:"value,omitempty"`
	TxHash   string    `json:"tx_hash,omitempty"`
	Error    string    `json:"error,omitempty"`
	At       time.Time `json:"at"`
}

// CycleEvent is published on domain.ChannelCycles when a cycle ends.
type CycleEvent struct {
	CycleID     string    `json:"cycle_id"`
	ChainName   string    `json:"chain_name"`
	Summary     string    `json:"summary"`
	MarketCount uint64    `json:"market_count"`
	Resolved    int       `json:"resolved"`
	Skipped     int       `json:"skipped"`
	Failed      int       `json:"failed"`
	Error       string    `json:"error,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
}

// NewCycleEvent flattens a cycle result for publishing and archiving.
func NewCycleEvent(c domain.CycleResult) CycleEvent {
	return CycleEvent{
		CycleID:     c.ID,
		ChainName:   c.ChainName,
		Summary:     c.Summary(),
		MarketCount: c.MarketCount,
		Resolved:    c.Resolved,
		Skipped:     c.Skipped,
		Failed:      c.Failed,
		Error:       c.Error,
		StartedAt:   c.StartedAt,
		FinishedAt:  c.FinishedAt,
	}
}

// NewMarketEvent flattens a market outcome for publishing and archiving.
func NewMarketEvent(cycleID string, o domain.MarketOutcome) MarketEvent {
	return MarketEvent{
		CycleID:  cycleID,
		MarketID: o.MarketID,
		Outcome:  string(o.Kind),
		Status:   o.Status.String(),
		Step:     string(o.Step),
		Value:    o.Value,
		TxHash:   o.TxHash,
		Error:    o.Error,
		At:       o.At,
	}
}

// record tallies an outcome on the cycle and forwards it to the observers.
func (r *Resolver) record(ctx context.Context, result *domain.CycleResult, o domain.MarketOutcome) {
	o.At = r.now().UTC()
	switch o.Kind {
	case domain.OutcomeResolved:
		result.Resolved++
	case domain.OutcomeFailed:
		result.Failed++
	default:
		result.Skipped++
	}
	result.Outcomes = append(result.Outcomes, o)

	hctx, cancel := hookContext(ctx)
	defer cancel()

	if r.hooks.Recorder != nil {
		if err := r.hooks.Recorder.RecordOutcome(hctx, result.ID, o); err != nil {
			r.logger.WarnContext(ctx, "record outcome failed",
				slog.Uint64("market_id", o.MarketID),
				slog.String("error", err.Error()),
			)
		}
	}
	if r.hooks.Bus != nil && o.Kind != domain.OutcomeNotDue {
		r.publish(hctx, domain.ChannelMarkets, NewMarketEvent(result.ID, o))
	}
}

// finishCycle hands the completed cycle to the observers.
func (r *Resolver) finishCycle(ctx context.Context, log *slog.Logger, result domain.CycleResult) {
	hctx, cancel := hookContext(ctx)
	defer cancel()

	if r.hooks.Recorder != nil {
		if err := r.hooks.Recorder.RecordCycle(hctx, result); err != nil {
			log.WarnContext(ctx, "record cycle failed", slog.String("error", err.Error()))
		}
	}
	if r.hooks.Bus != nil {
		r.publish(hctx, domain.ChannelCycles, NewCycleEvent(result))
	}
	if r.hooks.Archive != nil {
		if err := r.hooks.Archive.Archive(hctx, result); err != nil {
			log.WarnContext(ctx, "archive cycle failed", slog.String("error", err.Error()))
		}
	}
}

func (r *Resolver) publish(ctx context.Context, channel string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		r.logger.WarnContext(ctx, "marshal event failed", slog.String("error", err.Error()))
		return
	}
	if err := r.hooks.Bus.Publish(ctx, channel, payload); err != nil {
		r.logger.WarnContext(ctx, "publish event failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
	}
}

func (r *Resolver) notify(ctx context.Context, event, title, message string) {
	if r.hooks.Notifier == nil {
		return
	}
	hctx, cancel := hookContext(ctx)
	defer cancel()
	if err := r.hooks.Notifier.Notify(hctx, event, title, message); err != nil {
		r.logger.WarnContext(ctx, "notify failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

// hookContext survives cycle cancellation so a timed-out cycle is still
// recorded.
func hookContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), hookTimeout)
}
