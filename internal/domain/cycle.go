package domain

import (
	"fmt"
	"time"
)

// Step names a stage of the per-market resolution pipeline.
type Step string

const (
	StepReadMarket  Step = "read_market"
	StepFetchMetric Step = "fetch_metric"
	StepBuildReport Step = "build_report"
	StepWriteReport Step = "write_report"
)

// OutcomeKind classifies what happened to a market in a cycle.
type OutcomeKind string

const (
	OutcomeResolved OutcomeKind = "resolved"
	OutcomeSkipped  OutcomeKind = "skipped"
	OutcomeNotDue   OutcomeKind = "not_due"
	OutcomeFailed   OutcomeKind = "failed"
)

// MarketOutcome records a single market's result within a cycle.
type MarketOutcome struct {
	MarketID uint64
	Kind     OutcomeKind
	Status   MarketStatus
	Step     Step   // set for failures
	Value    int64  // agreed value, set once fetched
	TxHash   string // set for resolved markets
	Error    string
	At       time.Time
}

// CycleResult summarises one complete pass over the market registry.
type CycleResult struct {
	ID          string
	ChainName   string
	StartedAt   time.Time
	FinishedAt  time.Time
	MarketCount uint64
	Resolved    int
	Skipped     int
	Failed      int
	Outcomes    []MarketOutcome
	Error       string // cycle-fatal error, if any
}

// Summary is the human-readable result returned to the trigger.
func (c CycleResult) Summary() string {
	return fmt.Sprintf("Found %d markets to resolve", c.Resolved)
}

// Duration returns the wall-clock time the cycle took.
func (c CycleResult) Duration() time.Duration {
	if c.FinishedAt.IsZero() {
		return 0
	}
	return c.FinishedAt.Sub(c.StartedAt)
}
