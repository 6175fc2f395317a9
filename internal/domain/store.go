package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// ResolutionRecorder keeps a history of resolution attempts. It is an
// observer of the pipeline; recording failures never affect a cycle.
type ResolutionRecorder interface {
	RecordOutcome(ctx context.Context, cycleID string, outcome MarketOutcome) error
	RecordCycle(ctx context.Context, result CycleResult) error
}

// ResolutionStore persists and queries resolution history.
type ResolutionStore interface {
	ResolutionRecorder
	ListCycles(ctx context.Context, opts ListOpts) ([]CycleResult, error)
	ListOutcomes(ctx context.Context, marketID uint64, opts ListOpts) ([]MarketOutcome, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// SecretStore resolves secrets by logical identifier.
type SecretStore interface {
	GetSecret(ctx context.Context, id string) (string, error)
}
