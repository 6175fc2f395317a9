package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// MarketStatus is the on-chain lifecycle state of a market. The ordering is
// significant: every status at or above MarketStatusResolved is terminal.
type MarketStatus uint8

const (
	MarketStatusOpen      MarketStatus = 0
	MarketStatusClosed    MarketStatus = 1
	MarketStatusResolved  MarketStatus = 2
	MarketStatusCancelled MarketStatus = 3
)

// String returns the lower-case status name.
func (s MarketStatus) String() string {
	switch s {
	case MarketStatusOpen:
		return "open"
	case MarketStatusClosed:
		return "closed"
	case MarketStatusResolved:
		return "resolved"
	case MarketStatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether the contract will no longer accept a resolution.
func (s MarketStatus) Terminal() bool {
	return s >= MarketStatusResolved
}

// ComparisonOperator is how the receiving contract compares the reported value
// against the target. The oracle only carries it for logging.
type ComparisonOperator uint8

const (
	OperatorGreaterThanOrEqual ComparisonOperator = 0
	OperatorLessThanOrEqual    ComparisonOperator = 1
	OperatorGreaterThan        ComparisonOperator = 2
	OperatorLessThan           ComparisonOperator = 3
	OperatorEqual              ComparisonOperator = 4
)

// String returns the operator symbol.
func (o ComparisonOperator) String() string {
	switch o {
	case OperatorGreaterThanOrEqual:
		return ">="
	case OperatorLessThanOrEqual:
		return "<="
	case OperatorGreaterThan:
		return ">"
	case OperatorLessThan:
		return "<"
	case OperatorEqual:
		return "="
	default:
		return "?"
	}
}

// MarketDescriptor is a read-only snapshot of a market taken from the
// registry contract during a resolution cycle.
type MarketDescriptor struct {
	ID              uint64
	Description     string
	EndpointPath    string
	JSONPath        string
	TargetValue     *big.Int
	Operator        ComparisonOperator
	BettingDeadline int64 // unix seconds
	ResolutionDate  int64 // unix seconds
	CreatedAt       int64 // unix seconds
	Status          MarketStatus
	Creator         common.Address
}

// Due reports whether the market's resolution date has been reached at now.
func (m MarketDescriptor) Due(now time.Time) bool {
	return m.ResolutionDate <= now.Unix()
}

// Eligible reports whether the market is a resolution candidate at now:
// not yet resolved or cancelled, and past its resolution date.
func (m MarketDescriptor) Eligible(now time.Time) bool {
	return !m.Status.Terminal() && m.Due(now)
}
