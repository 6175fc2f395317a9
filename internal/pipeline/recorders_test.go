package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/predictx-oracle/internal/domain"
)

type memOutcomeCache struct {
	latest map[uint64]domain.MarketOutcome
}

func (m *memOutcomeCache) SetLatest(_ context.Context, o domain.MarketOutcome) error {
	m.latest[o.MarketID] = o
	return nil
}

func (m *memOutcomeCache) GetLatest(_ context.Context, id uint64) (domain.MarketOutcome, error) {
	o, ok := m.latest[id]
	if !ok {
		return o, domain.ErrNotFound
	}
	return o, nil
}

type memAudit struct {
	events []string
	detail []map[string]any
}

func (m *memAudit) Log(_ context.Context, event string, detail map[string]any) error {
	m.events = append(m.events, event)
	m.detail = append(m.detail, detail)
	return nil
}

func (m *memAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func TestRecorders_CallsEveryRecorder(t *testing.T) {
	boom := errors.New("boom")
	failing := &memRecorder{err: boom}
	ok := &memRecorder{}

	rs := Recorders{failing, ok}
	err := rs.RecordOutcome(context.Background(), "c1", domain.MarketOutcome{MarketID: 1})
	assert.ErrorIs(t, err, boom)
	assert.Len(t, ok.outcomes, 1)

	err = rs.RecordCycle(context.Background(), domain.CycleResult{ID: "c1"})
	assert.ErrorIs(t, err, boom)
	assert.Len(t, ok.cycles, 1)

	assert.NoError(t, Recorders{ok}.RecordCycle(context.Background(), domain.CycleResult{}))
}

func TestCacheRecorder_SkipsNotDue(t *testing.T) {
	cache := &memOutcomeCache{latest: map[uint64]domain.MarketOutcome{}}
	rec := CacheRecorder{Cache: cache}

	require.NoError(t, rec.RecordOutcome(context.Background(), "c1",
		domain.MarketOutcome{MarketID: 3, Kind: domain.OutcomeResolved, Value: 9}))
	require.NoError(t, rec.RecordOutcome(context.Background(), "c2",
		domain.MarketOutcome{MarketID: 3, Kind: domain.OutcomeNotDue}))

	got, err := cache.GetLatest(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeResolved, got.Kind)
	assert.Equal(t, int64(9), got.Value)
}

func TestAuditRecorder(t *testing.T) {
	audit := &memAudit{}
	rec := AuditRecorder{Store: audit}
	ctx := context.Background()

	require.NoError(t, rec.RecordOutcome(ctx, "c1", domain.MarketOutcome{MarketID: 1, Kind: domain.OutcomeResolved, TxHash: "0xabc"}))
	require.NoError(t, rec.RecordOutcome(ctx, "c1", domain.MarketOutcome{MarketID: 2, Kind: domain.OutcomeSkipped}))
	require.NoError(t, rec.RecordOutcome(ctx, "c1", domain.MarketOutcome{MarketID: 3, Kind: domain.OutcomeFailed, Step: domain.StepFetchMetric}))
	require.NoError(t, rec.RecordCycle(ctx, domain.CycleResult{ID: "c1"}))
	require.NoError(t, rec.RecordCycle(ctx, domain.CycleResult{ID: "c2", Error: "rpc down"}))

	assert.Equal(t, []string{AuditMarketResolved, AuditMarketFailed, AuditCycleCompleted, AuditCycleFailed}, audit.events)
	assert.Equal(t, "0xabc", audit.detail[0]["tx_hash"])
	assert.Equal(t, "fetch_metric", audit.detail[1]["step"])
}
