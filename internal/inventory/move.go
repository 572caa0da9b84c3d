package inventory

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/erazemk/shramba/internal/apperr"
	"github.com/erazemk/shramba/internal/metrics"
	"github.com/erazemk/shramba/internal/model"
	"github.com/erazemk/shramba/internal/search"
	"github.com/erazemk/shramba/internal/store"
)

// MoveResult reports a move. NewItem is set only for a split, in which case
// Item is the source left behind with the remaining quantity.
type MoveResult struct {
	Item    *model.Item `json:"item"`
	NewItem *model.Item `json:"new_item,omitempty"`
	Split   bool        `json:"split"`
}

// Move relocates an item to another bin. Without a quantity, or with one at
// least the item's quantity, the item itself changes bin. A smaller quantity
// splits it: the source keeps the rest and a new item in the destination gets
// the moved part. Either way exactly one ledger entry is written.
func (e *Engine) Move(ctx context.Context, id, toBinID string, quantity *int) (*MoveResult, error) {
	var result *MoveResult
	err := e.unit(ctx, func(tx *sql.Tx, changes *search.Changes) error {
		var err error
		result, err = e.moveTx(ctx, tx, changes, id, toBinID, quantity)
		return err
	})
	if err != nil {
		return nil, err
	}
	mutated(model.ActionMoved)
	return result, nil
}

func (e *Engine) moveTx(ctx context.Context, tx *sql.Tx, changes *search.Changes, id, toBinID string, quantity *int) (*MoveResult, error) {
	item, err := getItem(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if quantity != nil {
		if item.Quantity.IsBoolean() {
			return nil, apperr.Invalidf("boolean items move whole; omit the quantity")
		}
		if *quantity <= 0 {
			return nil, apperr.Invalidf("quantity must be positive, got %d", *quantity)
		}
	}
	if _, err := requireBin(ctx, tx, toBinID); err != nil {
		return nil, err
	}
	if toBinID == item.BinID {
		return nil, apperr.Invalidf("item is already in bin %s", toBinID)
	}

	fromBinID := item.BinID
	now := e.now()

	if quantity == nil || *quantity >= item.Quantity.Value {
		item.BinID = toBinID
		item.UpdatedAt = now
		if err := store.UpdateItem(ctx, tx, item); err != nil {
			return nil, err
		}
		err := e.record(ctx, tx, &model.ActivityEntry{
			ItemID:    item.ID,
			ItemName:  item.Name,
			Action:    model.ActionMoved,
			FromBinID: strPtr(fromBinID),
			ToBinID:   strPtr(toBinID),
		})
		if err != nil {
			return nil, err
		}
		return &MoveResult{Item: item}, nil
	}

	moved := *quantity
	before := item.Quantity.Value

	item.Quantity.Value = before - moved
	item.UpdatedAt = now
	if err := store.UpdateItem(ctx, tx, item); err != nil {
		return nil, err
	}

	split := *item
	split.ID = store.NewID()
	split.BinID = toBinID
	split.Quantity.Value = moved
	split.CreatedAt = now
	split.UpdatedAt = now
	if err := store.InsertItem(ctx, tx, &split); err != nil {
		return nil, err
	}
	if err := store.CopyAliases(ctx, tx, item.ID, split.ID, now); err != nil {
		return nil, err
	}
	if err := changes.Upsert(ctx, tx, &split); err != nil {
		return nil, err
	}

	err = e.record(ctx, tx, &model.ActivityEntry{
		ItemID:        item.ID,
		RelatedItemID: strPtr(split.ID),
		ItemName:      item.Name,
		Action:        model.ActionMoved,
		QuantityDelta: intPtr(-moved),
		FromBinID:     strPtr(fromBinID),
		ToBinID:       strPtr(toBinID),
		Split: &model.SplitDetails{
			Split:          true,
			SourceItemID:   item.ID,
			NewItemID:      split.ID,
			QuantityMoved:  moved,
			QuantityBefore: before,
		},
	})
	if err != nil {
		return nil, err
	}
	return &MoveResult{Item: item, NewItem: &split, Split: true}, nil
}

// MoveBulk moves each item whole into toBinID. Each item is its own atomic
// unit; failures are collected, never abort the batch.
func (e *Engine) MoveBulk(ctx context.Context, ids []string, toBinID string) model.BulkResult {
	return e.bulk(ctx, "move", ids, func(id string) error {
		_, err := e.Move(ctx, id, toBinID, nil)
		return err
	})
}

// DeleteBulk removes each item in its own atomic unit.
func (e *Engine) DeleteBulk(ctx context.Context, ids []string, reason string) model.BulkResult {
	return e.bulk(ctx, "delete", ids, func(id string) error {
		return e.Remove(ctx, id, reason)
	})
}

// AddBulk adds each input to binID in its own atomic unit. Succeeded holds
// the new item ids; failures are keyed by input position, items[i]. A
// missing bin fails the whole call.
func (e *Engine) AddBulk(ctx context.Context, binID string, inputs []AddInput) (model.BulkResult, error) {
	if _, err := requireBin(ctx, e.db, binID); err != nil {
		return model.BulkResult{}, apperr.Wrap(err)
	}
	result := model.BulkResult{Succeeded: []string{}, Failed: []model.BulkFailure{}}
	for i, in := range inputs {
		key := fmt.Sprintf("items[%d]", i)
		if err := ctx.Err(); err != nil {
			result.Failed = append(result.Failed, cancelled(key))
			continue
		}
		in.BinID = binID
		item, err := e.Add(ctx, in)
		if err != nil {
			result.Failed = append(result.Failed, e.bulkFailure("add", key, err))
			continue
		}
		result.Succeeded = append(result.Succeeded, item.ID)
	}
	return result, nil
}

func (e *Engine) bulk(ctx context.Context, op string, ids []string, fn func(id string) error) model.BulkResult {
	result := model.BulkResult{Succeeded: []string{}, Failed: []model.BulkFailure{}}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			result.Failed = append(result.Failed, cancelled(id))
			continue
		}
		if err := fn(id); err != nil {
			result.Failed = append(result.Failed, e.bulkFailure(op, id, err))
			continue
		}
		result.Succeeded = append(result.Succeeded, id)
	}
	return result
}

func (e *Engine) bulkFailure(op, id string, err error) model.BulkFailure {
	de := apperr.As(err)
	if de.Code == apperr.Internal {
		e.logger.Error("bulk item operation failed", "operation", op, "item_id", id, "error", err)
	}
	metrics.BulkFailuresTotal.WithLabelValues(op, string(de.Code)).Inc()
	return model.BulkFailure{ID: id, Code: string(de.Code), Error: de.Message}
}

func cancelled(id string) model.BulkFailure {
	return model.BulkFailure{ID: id, Code: string(apperr.Internal), Error: "request cancelled"}
}
