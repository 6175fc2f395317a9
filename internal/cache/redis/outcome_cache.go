package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/predictx-oracle/internal/domain"
)

// outcomeTTL keeps a market's latest outcome visible across a few cycles.
const outcomeTTL = 24 * time.Hour

// OutcomeCache implements domain.OutcomeCache with one JSON hash per market.
//
// Key schema:
//
//	{ns}:outcome:{marketID} - hash with field "data" containing JSON
type OutcomeCache struct {
	client *Client
	ttl    time.Duration
}

// NewOutcomeCache creates an OutcomeCache backed by the given Client.
func NewOutcomeCache(c *Client) *OutcomeCache {
	return &OutcomeCache{client: c, ttl: outcomeTTL}
}

func (oc *OutcomeCache) key(marketID uint64) string {
	return oc.client.Key("outcome", strconv.FormatUint(marketID, 10))
}

// SetLatest stores outcome as the market's most recent result.
func (oc *OutcomeCache) SetLatest(ctx context.Context, outcome domain.MarketOutcome) error {
	data, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("redis: marshal outcome %d: %w", outcome.MarketID, err)
	}

	key := oc.key(outcome.MarketID)
	pipe := oc.client.rdb.TxPipeline()
	pipe.HSet(ctx, key, "data", data)
	pipe.Expire(ctx, key, oc.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set outcome %d: %w", outcome.MarketID, err)
	}
	return nil
}

// GetLatest returns the market's most recent outcome, or domain.ErrNotFound.
func (oc *OutcomeCache) GetLatest(ctx context.Context, marketID uint64) (domain.MarketOutcome, error) {
	data, err := oc.client.rdb.HGet(ctx, oc.key(marketID), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.MarketOutcome{}, domain.ErrNotFound
		}
		return domain.MarketOutcome{}, fmt.Errorf("redis: get outcome %d: %w", marketID, err)
	}

	var out domain.MarketOutcome
	if err := json.Unmarshal(data, &out); err != nil {
		return domain.MarketOutcome{}, fmt.Errorf("redis: unmarshal outcome %d: %w", marketID, err)
	}
	return out, nil
}

var _ domain.OutcomeCache = (*OutcomeCache)(nil)
