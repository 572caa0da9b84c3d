package store

import (
	"context"
	"fmt"

	"github.com/erazemk/shramba/internal/db"
	"github.com/erazemk/shramba/internal/model"
)

const itemColumns = `id, bin_id, category_id, name, description, quantity_type, quantity_value, quantity_label,
	source, source_reference, notes, photo_ref, created_at, updated_at`

// InsertItem inserts an item. The quantity must already be normalised.
func InsertItem(ctx context.Context, q db.Querier, item *model.Item) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO items (`+itemColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.BinID, item.CategoryID, item.Name, item.Description,
		item.Quantity.Type, item.Quantity.Value, item.Quantity.Label,
		item.Source, item.SourceReference, item.Notes, item.PhotoRef, item.CreatedAt, item.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting item: %w", err)
	}
	return nil
}

// GetItem returns an item by ID, with its aliases.
func GetItem(ctx context.Context, q db.Querier, id string) (*model.Item, error) {
	items, err := queryItems(ctx, q, `SELECT `+itemColumns+` FROM items WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	item := &items[0]

	aliases, err := ListAliases(ctx, q, id)
	if err != nil {
		return nil, err
	}
	for _, a := range aliases {
		item.Aliases = append(item.Aliases, a.Alias)
	}
	return item, nil
}

// ItemFilter narrows ListItems. Zero values match everything.
type ItemFilter struct {
	BinID      string
	CategoryID string
	Limit      int
}

// ListItems returns items ordered by name.
func ListItems(ctx context.Context, q db.Querier, f ItemFilter) ([]model.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM items WHERE 1=1`
	var args []any
	if f.BinID != "" {
		query += ` AND bin_id = ?`
		args = append(args, f.BinID)
	}
	if f.CategoryID != "" {
		query += ` AND category_id = ?`
		args = append(args, f.CategoryID)
	}
	query += ` ORDER BY name, created_at`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	return queryItems(ctx, q, query, args...)
}

func queryItems(ctx context.Context, q db.Querier, query string, args ...any) ([]model.Item, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying items: %w", err)
	}
	defer rows.Close()

	var items []model.Item
	for rows.Next() {
		var it model.Item
		if err := rows.Scan(&it.ID, &it.BinID, &it.CategoryID, &it.Name, &it.Description,
			&it.Quantity.Type, &it.Quantity.Value, &it.Quantity.Label,
			&it.Source, &it.SourceReference, &it.Notes, &it.PhotoRef, &it.CreatedAt, &it.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning item: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// UpdateItem writes every mutable field of an item, including its bin.
func UpdateItem(ctx context.Context, q db.Querier, item *model.Item) error {
	_, err := q.ExecContext(ctx,
		`UPDATE items SET bin_id = ?, category_id = ?, name = ?, description = ?,
		                  quantity_type = ?, quantity_value = ?, quantity_label = ?,
		                  notes = ?, photo_ref = ?, updated_at = ?
		 WHERE id = ?`,
		item.BinID, item.CategoryID, item.Name, item.Description,
		item.Quantity.Type, item.Quantity.Value, item.Quantity.Label,
		item.Notes, item.PhotoRef, item.UpdatedAt, item.ID,
	)
	if err != nil {
		return fmt.Errorf("updating item: %w", err)
	}
	return nil
}

// DeleteItem hard-deletes an item. Aliases and embeddings cascade; the
// activity ledger is untouched.
func DeleteItem(ctx context.Context, q db.Querier, id string) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM items WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting item: %w", err)
	}
	return nil
}

// CountItemsInBin returns the number of items held directly in a bin.
func CountItemsInBin(ctx context.Context, q db.Querier, binID string) (int, error) {
	var count int
	err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM items WHERE bin_id = ?`, binID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting items in bin: %w", err)
	}
	return count, nil
}
