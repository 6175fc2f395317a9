package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"

	"github.com/alanyoungcy/predictx-oracle/internal/domain"
)

// CycleArchiver writes each finished cycle, with every market outcome, to
// object storage as JSON.
type CycleArchiver struct {
	blob   domain.BlobWriter
	prefix string
}

// NewCycleArchiver creates an archiver writing under prefix.
func NewCycleArchiver(blob domain.BlobWriter, prefix string) *CycleArchiver {
	if prefix == "" {
		prefix = "cycles"
	}
	return &CycleArchiver{blob: blob, prefix: prefix}
}

type archivedCycle struct {
	CycleEvent
	Outcomes []MarketEvent `json:"outcomes"`
}

// Key returns the object key for a cycle: <prefix>/YYYY/MM/DD/<id>.json.
func (a *CycleArchiver) Key(c domain.CycleResult) string {
	return path.Join(a.prefix, c.StartedAt.UTC().Format("2006/01/02"), c.ID+".json")
}

// Archive uploads c.
func (a *CycleArchiver) Archive(ctx context.Context, c domain.CycleResult) error {
	doc := archivedCycle{CycleEvent: NewCycleEvent(c), Outcomes: make([]MarketEvent, 0, len(c.Outcomes))}
	for _, o := range c.Outcomes {
		doc.Outcomes = append(doc.Outcomes, NewMarketEvent(c.ID, o))
	}

	body, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("pipeline: marshal cycle %s: %w", c.ID, err)
	}
	if err := a.blob.Put(ctx, a.Key(c), bytes.NewReader(body), "application/json"); err != nil {
		return fmt.Errorf("pipeline: archive cycle %s: %w", c.ID, err)
	}
	return nil
}
