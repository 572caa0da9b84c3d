package inventory

import (
	"context"
	"database/sql"

	"github.com/erazemk/shramba/internal/apperr"
	"github.com/erazemk/shramba/internal/model"
	"github.com/erazemk/shramba/internal/search"
	"github.com/erazemk/shramba/internal/store"
)

// AddAlias binds an alternate search string to an item and re-indexes it.
func (e *Engine) AddAlias(ctx context.Context, itemID, alias string) (*model.Alias, error) {
	alias = model.NormalizeName(alias)
	if alias == "" {
		return nil, apperr.Invalidf("alias must not be empty")
	}

	a := &model.Alias{ID: store.NewID(), ItemID: itemID, Alias: alias}
	err := e.unit(ctx, func(tx *sql.Tx, changes *search.Changes) error {
		item, err := getItem(ctx, tx, itemID)
		if err != nil {
			return err
		}
		for _, existing := range item.Aliases {
			if existing == alias {
				return apperr.New(apperr.AlreadyExists, "item already has alias %q", alias)
			}
		}

		a.CreatedAt = e.now()
		if err := store.InsertAlias(ctx, tx, a); err != nil {
			if store.IsUniqueViolation(err) {
				return apperr.New(apperr.AlreadyExists, "item already has alias %q", alias)
			}
			return err
		}
		item.Aliases = append(item.Aliases, alias)
		return e.reindexTx(ctx, tx, changes, item, "alias added: "+alias)
	})
	if err != nil {
		return nil, err
	}
	mutated(model.ActionUpdated)
	return a, nil
}

// RemoveAlias unbinds an alias from an item and re-indexes it.
func (e *Engine) RemoveAlias(ctx context.Context, itemID, alias string) error {
	alias = model.NormalizeName(alias)
	err := e.unit(ctx, func(tx *sql.Tx, changes *search.Changes) error {
		if _, err := getItem(ctx, tx, itemID); err != nil {
			return err
		}
		deleted, err := store.DeleteAlias(ctx, tx, itemID, alias)
		if err != nil {
			return err
		}
		if !deleted {
			return apperr.NotFoundf("item has no alias %q", alias)
		}
		item, err := getItem(ctx, tx, itemID)
		if err != nil {
			return err
		}
		return e.reindexTx(ctx, tx, changes, item, "alias removed: "+alias)
	})
	if err != nil {
		return err
	}
	mutated(model.ActionUpdated)
	return nil
}

// ListAliases returns an item's aliases.
func (e *Engine) ListAliases(ctx context.Context, itemID string) ([]model.Alias, error) {
	if _, err := e.Get(ctx, itemID); err != nil {
		return nil, err
	}
	aliases, err := store.ListAliases(ctx, e.db, itemID)
	if err != nil {
		return nil, apperr.Wrap(err)
	}
	return aliases, nil
}

// reindexTx refreshes the index for an alias change and records it as an
// update of the item.
func (e *Engine) reindexTx(ctx context.Context, tx *sql.Tx, changes *search.Changes, item *model.Item, note string) error {
	if err := changes.Upsert(ctx, tx, item); err != nil {
		return err
	}
	return e.record(ctx, tx, &model.ActivityEntry{
		ItemID:   item.ID,
		ItemName: item.Name,
		Action:   model.ActionUpdated,
		Note:     note,
	})
}
