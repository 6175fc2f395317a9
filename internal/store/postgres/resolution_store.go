package postgres

import (
	"context"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/predictx-oracle/internal/domain"
)

// ResolutionStore implements domain.ResolutionStore using PostgreSQL.
// Market ids are stored as NUMERIC so the full uint64 range fits.
type ResolutionStore struct {
	pool *pgxpool.Pool
}

// NewResolutionStore creates a new ResolutionStore backed by the given pool.
func NewResolutionStore(pool *pgxpool.Pool) *ResolutionStore {
	return &ResolutionStore{pool: pool}
}

const cycleSelectCols = `id, chain_name, market_count, resolved, skipped, failed,
	error, started_at, finished_at`

const outcomeSelectCols = `market_id::TEXT, kind, status, step, value, tx_hash,
	error, recorded_at`

// RecordOutcome inserts one market outcome for cycleID.
func (s *ResolutionStore) RecordOutcome(ctx context.Context, cycleID string, o domain.MarketOutcome) error {
	const query = `
		INSERT INTO resolution_outcomes (
			cycle_id, market_id, kind, status, step, value, tx_hash, error, recorded_at
		) VALUES ($1, $2::NUMERIC, $3, $4, $5, $6, $7, $8, $9)`

	_, err := s.pool.Exec(ctx, query,
		cycleID, strconv.FormatUint(o.MarketID, 10), string(o.Kind), int16(o.Status),
		string(o.Step), o.Value, o.TxHash, o.Error, o.At,
	)
	if err != nil {
		return fmt.Errorf("postgres: record outcome %d: %w", o.MarketID, err)
	}
	return nil
}

// RecordCycle upserts the cycle summary row.
func (s *ResolutionStore) RecordCycle(ctx context.Context, c domain.CycleResult) error {
	const query = `
		INSERT INTO resolution_cycles (
			id, chain_name, market_count, resolved, skipped, failed, error, started_at, finished_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			market_count = EXCLUDED.market_count,
			resolved     = EXCLUDED.resolved,
			skipped      = EXCLUDED.skipped,
			failed       = EXCLUDED.failed,
			error        = EXCLUDED.error,
			finished_at  = EXCLUDED.finished_at`

	_, err := s.pool.Exec(ctx, query,
		c.ID, c.ChainName, int64(c.MarketCount), c.Resolved, c.Skipped, c.Failed,
		c.Error, c.StartedAt, c.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: record cycle %s: %w", c.ID, err)
	}
	return nil
}

// ListCycles returns cycle summaries, newest first. Outcomes are not loaded.
func (s *ResolutionStore) ListCycles(ctx context.Context, opts domain.ListOpts) ([]domain.CycleResult, error) {
	q := newListQuery(`SELECT ` + cycleSelectCols + ` FROM resolution_cycles WHERE 1=1`).
		window("started_at", opts)

	rows, err := s.pool.Query(ctx, q.String(), q.args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list cycles: %w", err)
	}
	cycles, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.CycleResult, error) {
		var c domain.CycleResult
		var count int64
		err := row.Scan(&c.ID, &c.ChainName, &count, &c.Resolved, &c.Skipped, &c.Failed,
			&c.Error, &c.StartedAt, &c.FinishedAt)
		c.MarketCount = uint64(count)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: scan cycles: %w", err)
	}
	return cycles, nil
}

// ListOutcomes returns a market's outcome history, newest first.
func (s *ResolutionStore) ListOutcomes(ctx context.Context, marketID uint64, opts domain.ListOpts) ([]domain.MarketOutcome, error) {
	q := newListQuery(
		`SELECT `+outcomeSelectCols+` FROM resolution_outcomes WHERE market_id = $1::NUMERIC`,
		strconv.FormatUint(marketID, 10),
	).window("recorded_at", opts)

	rows, err := s.pool.Query(ctx, q.String(), q.args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list outcomes %d: %w", marketID, err)
	}
	outcomes, err := pgx.CollectRows(rows, scanOutcome)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan outcomes %d: %w", marketID, err)
	}
	return outcomes, nil
}

func scanOutcome(row pgx.CollectableRow) (domain.MarketOutcome, error) {
	var (
		o      domain.MarketOutcome
		id     string
		kind   string
		status int16
		step   string
	)
	if err := row.Scan(&id, &kind, &status, &step, &o.Value, &o.TxHash, &o.Error, &o.At); err != nil {
		return o, err
	}
	parsed, err := strconv.ParseUint(id, 10, 64)
	if err != nil {
		return o, fmt.Errorf("market id %q: %w", id, err)
	}
	o.MarketID = parsed
	o.Kind = domain.OutcomeKind(kind)
	o.Status = domain.MarketStatus(status)
	o.Step = domain.Step(step)
	return o, nil
}

var _ domain.ResolutionStore = (*ResolutionStore)(nil)
