package search

import (
	"context"
	"errors"
	"log/slog"

	"github.com/erazemk/shramba/internal/db"
	"github.com/erazemk/shramba/internal/metrics"
	"github.com/erazemk/shramba/internal/model"
)

// Synchronizer is the single path by which item mutations reach the search
// collaborator.
type Synchronizer struct {
	index     Index
	refresher *Refresher
	logger    *slog.Logger
}

// NewSynchronizer wires an index and an optional embedding refresher.
func NewSynchronizer(index Index, refresher *Refresher, logger *slog.Logger) *Synchronizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Synchronizer{index: index, refresher: refresher, logger: logger}
}

// Track starts a change set for one unit of work.
func (s *Synchronizer) Track() *Changes {
	return &Changes{s: s}
}

// Search queries the index when it supports queries.
func (s *Synchronizer) Search(ctx context.Context, q db.Querier, query string, limit int) ([]Hit, error) {
	searcher, ok := s.index.(Searcher)
	if !ok {
		return nil, errors.New("search index does not answer queries")
	}
	return searcher.Search(ctx, q, query, limit)
}

// Changes records the index writes of one unit of work. Upsert and Delete
// write the lexical index on the unit's transaction; Publish hands the
// upserted items to the embedding refresher once the unit has committed.
type Changes struct {
	s        *Synchronizer
	upserted []string
}

// Upsert indexes the item's current searchable content.
func (c *Changes) Upsert(ctx context.Context, q db.Querier, item *model.Item) error {
	if err := c.s.index.Upsert(ctx, q, DocumentFor(item)); err != nil {
		metrics.IndexOperationsTotal.WithLabelValues("upsert", "error").Inc()
		return err
	}
	metrics.IndexOperationsTotal.WithLabelValues("upsert", "ok").Inc()
	c.upserted = append(c.upserted, item.ID)
	return nil
}

// Delete removes the item from the index.
func (c *Changes) Delete(ctx context.Context, q db.Querier, itemID string) error {
	if err := c.s.index.Delete(ctx, q, itemID); err != nil {
		metrics.IndexOperationsTotal.WithLabelValues("delete", "error").Inc()
		return err
	}
	metrics.IndexOperationsTotal.WithLabelValues("delete", "ok").Inc()
	return nil
}

// Publish schedules embedding refreshes for every upserted item. Call it only
// after the unit of work committed.
func (c *Changes) Publish() {
	if c.s.refresher == nil {
		return
	}
	seen := make(map[string]bool, len(c.upserted))
	for _, id := range c.upserted {
		if seen[id] {
			continue
		}
		seen[id] = true
		c.s.refresher.Enqueue(id)
	}
}
