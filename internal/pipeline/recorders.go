package pipeline

import (
	"context"
	"errors"

	"github.com/alanyoungcy/predictx-oracle/internal/domain"
)

// Recorders fans a cycle's history out to several recorders. Every recorder
// is called even when an earlier one fails; the errors are joined.
type Recorders []domain.ResolutionRecorder

// RecordOutcome implements domain.ResolutionRecorder.
func (rs Recorders) RecordOutcome(ctx context.Context, cycleID string, o domain.MarketOutcome) error {
	var errs []error
	for _, r := range rs {
		if err := r.RecordOutcome(ctx, cycleID, o); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RecordCycle implements domain.ResolutionRecorder.
func (rs Recorders) RecordCycle(ctx context.Context, c domain.CycleResult) error {
	var errs []error
	for _, r := range rs {
		if err := r.RecordCycle(ctx, c); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// CacheRecorder keeps the latest outcome of each market that reached the
// pipeline. Not-due markets are left alone so their last real result stays.
type CacheRecorder struct {
	Cache domain.OutcomeCache
}

// RecordOutcome implements domain.ResolutionRecorder.
func (c CacheRecorder) RecordOutcome(ctx context.Context, _ string, o domain.MarketOutcome) error {
	if o.Kind == domain.OutcomeNotDue {
		return nil
	}
	return c.Cache.SetLatest(ctx, o)
}

// RecordCycle implements domain.ResolutionRecorder.
func (CacheRecorder) RecordCycle(context.Context, domain.CycleResult) error { return nil }

// Audit event names.
const (
	AuditMarketResolved = "market_resolved"
	AuditMarketFailed   = "market_failed"
	AuditCycleCompleted = "cycle_completed"
	AuditCycleFailed    = "cycle_failed"
	AuditCycleTriggered = "cycle_triggered"
)

// AuditRecorder writes resolved and failed markets and every cycle summary to
// the audit log.
type AuditRecorder struct {
	Store domain.AuditStore
}

// RecordOutcome implements domain.ResolutionRecorder.
func (a AuditRecorder) RecordOutcome(ctx context.Context, cycleID string, o domain.MarketOutcome) error {
	switch o.Kind {
	case domain.OutcomeResolved:
		return a.Store.Log(ctx, AuditMarketResolved, map[string]any{
			"cycle_id":  cycleID,
			"market_id": o.MarketID,
			"value":     o.Value,
			"tx_hash":   o.TxHash,
		})
	case domain.OutcomeFailed:
		return a.Store.Log(ctx, AuditMarketFailed, map[string]any{
			"cycle_id":  cycleID,
			"market_id": o.MarketID,
			"step":      string(o.Step),
			"error":     o.Error,
		})
	}
	return nil
}

// RecordCycle implements domain.ResolutionRecorder.
func (a AuditRecorder) RecordCycle(ctx context.Context, c domain.CycleResult) error {
	event := AuditCycleCompleted
	if c.Error != "" {
		event = AuditCycleFailed
	}
	return a.Store.Log(ctx, event, map[string]any{
		"cycle_id":     c.ID,
		"chain_name":   c.ChainName,
		"market_count": c.MarketCount,
		"resolved":     c.Resolved,
		"skipped":      c.Skipped,
		"failed":       c.Failed,
		"error":        c.Error,
		"duration_ms":  c.Duration().Milliseconds(),
	})
}
