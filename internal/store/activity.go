package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/erazemk/shramba/internal/db"
	"github.com/erazemk/shramba/internal/model"
)

const activityColumns = `seq, id, item_id, related_item_id, item_name, action, quantity_delta,
	from_bin_id, to_bin_id, note, details, created_at`

// AppendActivity writes a ledger entry and sets its Seq. It must run on the
// same Querier as the mutation it records.
func AppendActivity(ctx context.Context, q db.Querier, e *model.ActivityEntry) error {
	var details *string
	if e.Split != nil {
		data, err := json.Marshal(e.Split)
		if err != nil {
			return fmt.Errorf("encoding split details: %w", err)
		}
		s := string(data)
		details = &s
	}

	res, err := q.ExecContext(ctx,
		`INSERT INTO activity_log (id, item_id, related_item_id, item_name, action, quantity_delta,
		                           from_bin_id, to_bin_id, note, details, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.ItemID, e.RelatedItemID, e.ItemName, e.Action, e.QuantityDelta,
		e.FromBinID, e.ToBinID, e.Note, details, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("appending activity: %w", err)
	}
	e.Seq, _ = res.LastInsertId()
	return nil
}

// GetItemHistory returns every entry that names the item, either as the
// subject or as the new item of a split, oldest first.
func GetItemHistory(ctx context.Context, q db.Querier, itemID string) ([]model.ActivityEntry, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+activityColumns+` FROM activity_log
		 WHERE item_id = ? OR related_item_id = ?
		 ORDER BY created_at, seq`,
		itemID, itemID,
	)
	if err != nil {
		return nil, fmt.Errorf("getting item history: %w", err)
	}
	defer rows.Close()

	return scanActivity(rows)
}

// ListActivity returns ledger entries matching the filter, newest first. A bin
// filter matches entries moving into or out of the bin.
func ListActivity(ctx context.Context, q db.Querier, f model.ActivityFilter) ([]model.ActivityEntry, error) {
	query := `SELECT ` + activityColumns + ` FROM activity_log WHERE 1=1`
	var args []any

	if f.ItemID != "" {
		query += ` AND (item_id = ? OR related_item_id = ?)`
		args = append(args, f.ItemID, f.ItemID)
	}
	if f.BinID != "" {
		query += ` AND (from_bin_id = ? OR to_bin_id = ?)`
		args = append(args, f.BinID, f.BinID)
	}
	if f.Action != "" {
		query += ` AND action = ?`
		args = append(args, f.Action)
	}
	if !f.Since.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, f.Since.UTC())
	}
	if !f.Until.IsZero() {
		query += ` AND created_at < ?`
		args = append(args, f.Until.UTC())
	}

	query += ` ORDER BY created_at DESC, seq DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing activity: %w", err)
	}
	defer rows.Close()

	return scanActivity(rows)
}

func scanActivity(rows *sql.Rows) ([]model.ActivityEntry, error) {
	var entries []model.ActivityEntry
	for rows.Next() {
		var e model.ActivityEntry
		var delta sql.NullInt64
		var details sql.NullString
		if err := rows.Scan(&e.Seq, &e.ID, &e.ItemID, &e.RelatedItemID, &e.ItemName, &e.Action, &delta,
			&e.FromBinID, &e.ToBinID, &e.Note, &details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning activity: %w", err)
		}
		if delta.Valid {
			d := int(delta.Int64)
			e.QuantityDelta = &d
		}
		if details.Valid {
			var split model.SplitDetails
			if err := json.Unmarshal([]byte(details.String), &split); err != nil {
				return nil, fmt.Errorf("decoding split details of %s: %w", e.ID, err)
			}
			e.Split = &split
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
