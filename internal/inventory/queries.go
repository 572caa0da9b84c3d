package inventory

import (
	"context"

	"github.com/erazemk/shramba/internal/apperr"
	"github.com/erazemk/shramba/internal/model"
	"github.com/erazemk/shramba/internal/store"
)

// Get returns an item with its aliases, or NOT_FOUND.
func (e *Engine) Get(ctx context.Context, id string) (*model.Item, error) {
	item, err := getItem(ctx, e.db, id)
	if err != nil {
		return nil, apperr.Wrap(err)
	}
	return item, nil
}

// List returns items matching the filter.
func (e *Engine) List(ctx context.Context, f store.ItemFilter) ([]model.Item, error) {
	items, err := store.ListItems(ctx, e.db, f)
	if err != nil {
		return nil, apperr.Wrap(err)
	}
	return items, nil
}

// History returns the full ledger of an item, oldest first. It works for
// removed items too; NOT_FOUND means the id never existed.
func (e *Engine) History(ctx context.Context, id string) ([]model.ActivityEntry, error) {
	entries, err := store.GetItemHistory(ctx, e.db, id)
	if err != nil {
		return nil, apperr.Wrap(err)
	}
	if len(entries) > 0 {
		return entries, nil
	}
	if _, err := e.Get(ctx, id); err != nil {
		return nil, err
	}
	return []model.ActivityEntry{}, nil
}

// Activity returns ledger entries for feed views, newest first.
func (e *Engine) Activity(ctx context.Context, f model.ActivityFilter) ([]model.ActivityEntry, error) {
	if f.Action != "" && !f.Action.Valid() {
		return nil, apperr.Invalidf("unknown action %q", f.Action)
	}
	if !f.Since.IsZero() && !f.Until.IsZero() && f.Until.Before(f.Since) {
		return nil, apperr.Invalidf("until must not be before since")
	}
	entries, err := store.ListActivity(ctx, e.db, f)
	if err != nil {
		return nil, apperr.Wrap(err)
	}
	return entries, nil
}

// SearchResult is an item matched by a lexical search.
type SearchResult struct {
	Item model.Item `json:"item"`
	Rank float64    `json:"rank"`
}

// Search runs a lexical query against the index, best match first.
func (e *Engine) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	hits, err := e.sync.Search(ctx, e.db, query, limit)
	if err != nil {
		return nil, apperr.Wrap(err)
	}

	results := make([]SearchResult, 0, len(hits))
	for _, h := range hits {
		item, err := store.GetItem(ctx, e.db, h.ItemID)
		if err != nil {
			return nil, apperr.Wrap(err)
		}
		if item == nil {
			continue
		}
		results = append(results, SearchResult{Item: *item, Rank: h.Rank})
	}
	return results, nil
}
