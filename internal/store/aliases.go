package store

import (
	"context"
	"fmt"
	"time"

	"github.com/erazemk/shramba/internal/db"
	"github.com/erazemk/shramba/internal/model"
)

// InsertAlias inserts an alias.
func InsertAlias(ctx context.Context, q db.Querier, a *model.Alias) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO item_aliases (id, item_id, alias, created_at) VALUES (?, ?, ?, ?)`,
		a.ID, a.ItemID, a.Alias, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting alias: %w", err)
	}
	return nil
}

// DeleteAlias deletes one alias of an item and reports whether it existed.
func DeleteAlias(ctx context.Context, q db.Querier, itemID, alias string) (bool, error) {
	res, err := q.ExecContext(ctx, `DELETE FROM item_aliases WHERE item_id = ? AND alias = ?`, itemID, alias)
	if err != nil {
		return false, fmt.Errorf("deleting alias: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("deleting alias: %w", err)
	}
	return n > 0, nil
}

// ListAliases returns an item's aliases in creation order.
func ListAliases(ctx context.Context, q db.Querier, itemID string) ([]model.Alias, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, item_id, alias, created_at FROM item_aliases WHERE item_id = ? ORDER BY created_at, alias`,
		itemID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing aliases: %w", err)
	}
	defer rows.Close()

	var aliases []model.Alias
	for rows.Next() {
		var a model.Alias
		if err := rows.Scan(&a.ID, &a.ItemID, &a.Alias, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning alias: %w", err)
		}
		aliases = append(aliases, a)
	}
	return aliases, rows.Err()
}

// CopyAliases copies every alias of item from onto item to.
func CopyAliases(ctx context.Context, q db.Querier, from, to string, now time.Time) error {
	aliases, err := ListAliases(ctx, q, from)
	if err != nil {
		return err
	}
	for _, a := range aliases {
		if err := InsertAlias(ctx, q, &model.Alias{ID: NewID(), ItemID: to, Alias: a.Alias, CreatedAt: now}); err != nil {
			return err
		}
	}
	return nil
}
