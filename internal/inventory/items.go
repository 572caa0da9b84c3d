package inventory

import (
	"context"
	"database/sql"
	"strings"

	"github.com/erazemk/shramba/internal/apperr"
	"github.com/erazemk/shramba/internal/db"
	"github.com/erazemk/shramba/internal/model"
	"github.com/erazemk/shramba/internal/search"
	"github.com/erazemk/shramba/internal/store"
)

// AddInput describes a new item.
type AddInput struct {
	BinID           string         `json:"bin_id"`
	CategoryID      *string        `json:"category_id"`
	Name            string         `json:"name"`
	Description     string         `json:"description"`
	Quantity        model.Quantity `json:"quantity"`
	Source          model.Source   `json:"source"`
	SourceReference string         `json:"source_reference"`
	Notes           string         `json:"notes"`
	PhotoRef        string         `json:"photo_ref"`
	// Note is written to the ledger entry.
	Note string `json:"note"`
}

// Add creates an item and records it as added.
func (e *Engine) Add(ctx context.Context, in AddInput) (*model.Item, error) {
	var item *model.Item
	err := e.unit(ctx, func(tx *sql.Tx, changes *search.Changes) error {
		var err error
		item, err = e.AddTx(ctx, tx, changes, in)
		return err
	})
	if err != nil {
		return nil, err
	}
	mutated(model.ActionAdded)
	return item, nil
}

// AddTx is the add path on an open transaction. Session commits use it to
// turn pending items into items inside their own unit of work.
func (e *Engine) AddTx(ctx context.Context, q db.Querier, changes *search.Changes, in AddInput) (*model.Item, error) {
	name := model.NormalizeName(in.Name)
	if name == "" {
		return nil, apperr.Invalidf("item name must not be empty")
	}
	quantity, err := in.Quantity.Normalize()
	if err != nil {
		return nil, err
	}
	source := in.Source
	if source == "" {
		source = model.SourceManual
	}
	if !source.Valid() {
		return nil, apperr.Invalidf("unknown item source %q", source)
	}

	if _, err := requireBin(ctx, q, in.BinID); err != nil {
		return nil, err
	}
	categoryID := in.CategoryID
	if categoryID != nil && *categoryID == "" {
		categoryID = nil
	}
	if categoryID != nil {
		if err := requireCategory(ctx, q, *categoryID); err != nil {
			return nil, err
		}
	}

	now := e.now()
	item := &model.Item{
		ID:              store.NewID(),
		BinID:           in.BinID,
		CategoryID:      categoryID,
		Name:            name,
		Description:     in.Description,
		Quantity:        quantity,
		Source:          source,
		SourceReference: in.SourceReference,
		Notes:           in.Notes,
		PhotoRef:        in.PhotoRef,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := store.InsertItem(ctx, q, item); err != nil {
		return nil, err
	}
	if err := changes.Upsert(ctx, q, item); err != nil {
		return nil, err
	}
	err = e.record(ctx, q, &model.ActivityEntry{
		ItemID:        item.ID,
		ItemName:      item.Name,
		Action:        model.ActionAdded,
		QuantityDelta: intPtr(quantity.Value),
		ToBinID:       strPtr(item.BinID),
		Note:          in.Note,
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// ItemPatch changes the non-nil fields of an item. A CategoryID pointing at ""
// clears the category.
type ItemPatch struct {
	Name        *string         `json:"name"`
	Description *string         `json:"description"`
	CategoryID  *string         `json:"category_id"`
	Notes       *string         `json:"notes"`
	PhotoRef    *string         `json:"photo_ref"`
	Quantity    *model.Quantity `json:"quantity"`
	Note        string          `json:"note"`
}

// Update applies a patch and records the changed fields. A patch that changes
// nothing writes no ledger entry.
func (e *Engine) Update(ctx context.Context, id string, patch ItemPatch) (*model.Item, error) {
	var item *model.Item
	var changed bool
	err := e.unit(ctx, func(tx *sql.Tx, changes *search.Changes) error {
		var err error
		if item, err = getItem(ctx, tx, id); err != nil {
			return err
		}
		before := *item

		var fields []string
		if patch.Name != nil {
			name := model.NormalizeName(*patch.Name)
			if name == "" {
				return apperr.Invalidf("item name must not be empty")
			}
			if name != item.Name {
				item.Name = name
				fields = append(fields, "name")
			}
		}
		if patch.Description != nil && *patch.Description != item.Description {
			item.Description = *patch.Description
			fields = append(fields, "description")
		}
		if patch.Notes != nil && *patch.Notes != item.Notes {
			item.Notes = *patch.Notes
			fields = append(fields, "notes")
		}
		if patch.PhotoRef != nil && *patch.PhotoRef != item.PhotoRef {
			item.PhotoRef = *patch.PhotoRef
			fields = append(fields, "photo")
		}
		if patch.CategoryID != nil {
			next := patch.CategoryID
			if *next == "" {
				next = nil
			} else if err := requireCategory(ctx, tx, *next); err != nil {
				return err
			}
			if !sameRef(item.CategoryID, next) {
				item.CategoryID = next
				fields = append(fields, "category")
			}
		}
		if patch.Quantity != nil {
			q, err := patch.Quantity.Normalize()
			if err != nil {
				return err
			}
			if before.Quantity.IsBoolean() && (q.Type != before.Quantity.Type || q.Value != before.Quantity.Value) {
				return apperr.Invalidf("boolean items cannot change quantity; remove the item instead")
			}
			if q != item.Quantity {
				item.Quantity = q
				fields = append(fields, "quantity")
			}
		}

		if len(fields) == 0 {
			return nil
		}
		changed = true
		item.UpdatedAt = e.now()
		if err := store.UpdateItem(ctx, tx, item); err != nil {
			return err
		}
		if searchableChanged(&before, item) {
			if err := changes.Upsert(ctx, tx, item); err != nil {
				return err
			}
		}

		entry := &model.ActivityEntry{
			ItemID:   item.ID,
			ItemName: item.Name,
			Action:   model.ActionUpdated,
			Note:     joinNote("changed "+strings.Join(fields, ", "), patch.Note),
		}
		if delta := item.Quantity.Value - before.Quantity.Value; delta != 0 {
			entry.QuantityDelta = intPtr(delta)
		}
		return e.record(ctx, tx, entry)
	})
	if err != nil {
		return nil, err
	}
	if changed {
		mutated(model.ActionUpdated)
	}
	return item, nil
}

// UseResult reports a use. Removed is set when a boolean item was used up and
// deleted, in which case Item holds its last state.
type UseResult struct {
	Item    *model.Item `json:"item"`
	Removed bool        `json:"removed"`
}

// Use consumes quantity from an item. Counted items stay in the catalog at
// zero; a boolean item must be used with quantity 1 and is removed.
func (e *Engine) Use(ctx context.Context, id string, quantity int, note string) (*UseResult, error) {
	if quantity <= 0 {
		return nil, apperr.Invalidf("quantity must be positive, got %d", quantity)
	}

	result := &UseResult{}
	err := e.unit(ctx, func(tx *sql.Tx, changes *search.Changes) error {
		item, err := getItem(ctx, tx, id)
		if err != nil {
			return err
		}
		result.Item = item

		entry := &model.ActivityEntry{
			ItemID:        item.ID,
			ItemName:      item.Name,
			Action:        model.ActionUsed,
			QuantityDelta: intPtr(-quantity),
			FromBinID:     strPtr(item.BinID),
			Note:          note,
		}

		if item.Quantity.IsBoolean() {
			if quantity != 1 {
				return apperr.Invalidf("boolean items can only be used with quantity 1")
			}
			if err := store.DeleteItem(ctx, tx, item.ID); err != nil {
				return err
			}
			if err := changes.Delete(ctx, tx, item.ID); err != nil {
				return err
			}
			result.Removed = true
			return e.record(ctx, tx, entry)
		}

		if remaining := item.Quantity.Value - quantity; remaining < 0 {
			return apperr.Invalidf("cannot use %d, only %d left", quantity, item.Quantity.Value).
				WithDetails(map[string]int{"available": item.Quantity.Value, "requested": quantity})
		}
		item.Quantity.Value -= quantity
		item.UpdatedAt = e.now()
		if err := store.UpdateItem(ctx, tx, item); err != nil {
			return err
		}
		return e.record(ctx, tx, entry)
	})
	if err != nil {
		return nil, err
	}
	mutated(model.ActionUsed)
	return result, nil
}

// Remove deletes an item entirely. Its ledger history stays queryable.
func (e *Engine) Remove(ctx context.Context, id, reason string) error {
	err := e.unit(ctx, func(tx *sql.Tx, changes *search.Changes) error {
		return e.removeTx(ctx, tx, changes, id, reason)
	})
	if err != nil {
		return err
	}
	mutated(model.ActionRemoved)
	return nil
}

func (e *Engine) removeTx(ctx context.Context, tx *sql.Tx, changes *search.Changes, id, reason string) error {
	item, err := getItem(ctx, tx, id)
	if err != nil {
		return err
	}
	if err := store.DeleteItem(ctx, tx, item.ID); err != nil {
		return err
	}
	if err := changes.Delete(ctx, tx, item.ID); err != nil {
		return err
	}
	return e.record(ctx, tx, &model.ActivityEntry{
		ItemID:        item.ID,
		ItemName:      item.Name,
		Action:        model.ActionRemoved,
		QuantityDelta: intPtr(-item.Quantity.Value),
		FromBinID:     strPtr(item.BinID),
		Note:          reason,
	})
}

func searchableChanged(before, after *model.Item) bool {
	return before.Name != after.Name || before.Description != after.Description || before.Notes != after.Notes
}

func sameRef(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func joinNote(parts ...string) string {
	var kept []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "; ")
}
