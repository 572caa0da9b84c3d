package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/erazemk/shramba/internal/db"
	"github.com/erazemk/shramba/internal/model"
)

const sessionImageColumns = `id, session_id, image_ref, thumbnail_ref, original_filename, width, height, size_bytes,
	extraction_status, extracted_data, extraction_error, discarded, created_at`

// InsertSessionImage inserts a staged image.
func InsertSessionImage(ctx context.Context, q db.Querier, img *model.SessionImage) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO session_images (id, session_id, image_ref, thumbnail_ref, original_filename,
		                             width, height, size_bytes, extraction_status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		img.ID, img.SessionID, img.ImageRef, img.ThumbnailRef, img.OriginalFilename,
		img.Width, img.Height, img.SizeBytes, img.ExtractionStatus, img.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting session image: %w", err)
	}
	return nil
}

// GetSessionImage returns a staged image by ID.
func GetSessionImage(ctx context.Context, q db.Querier, id string) (*model.SessionImage, error) {
	images, err := querySessionImages(ctx, q, `SELECT `+sessionImageColumns+` FROM session_images WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(images) == 0 {
		return nil, nil
	}
	return &images[0], nil
}

// ListSessionImages returns a session's images in upload order.
func ListSessionImages(ctx context.Context, q db.Querier, sessionID string) ([]model.SessionImage, error) {
	return querySessionImages(ctx, q,
		`SELECT `+sessionImageColumns+` FROM session_images WHERE session_id = ? ORDER BY created_at, id`, sessionID)
}

func querySessionImages(ctx context.Context, q db.Querier, query string, args ...any) ([]model.SessionImage, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying session images: %w", err)
	}
	defer rows.Close()

	var images []model.SessionImage
	for rows.Next() {
		var img model.SessionImage
		var extracted sql.NullString
		if err := rows.Scan(&img.ID, &img.SessionID, &img.ImageRef, &img.ThumbnailRef, &img.OriginalFilename,
			&img.Width, &img.Height, &img.SizeBytes, &img.ExtractionStatus, &extracted, &img.ExtractionError,
			&img.Discarded, &img.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning session image: %w", err)
		}
		if extracted.Valid {
			var ex model.Extraction
			if err := json.Unmarshal([]byte(extracted.String), &ex); err != nil {
				return nil, fmt.Errorf("decoding extraction of %s: %w", img.ID, err)
			}
			img.Extraction = &ex
		}
		images = append(images, img)
	}
	return images, rows.Err()
}

// SetExtractionStatus updates the extraction status and error of an image.
func SetExtractionStatus(ctx context.Context, q db.Querier, id string, status model.ExtractionStatus, errMsg string) error {
	_, err := q.ExecContext(ctx,
		`UPDATE session_images SET extraction_status = ?, extraction_error = ? WHERE id = ?`,
		status, errMsg, id,
	)
	if err != nil {
		return fmt.Errorf("setting extraction status: %w", err)
	}
	return nil
}

// SetExtraction stores a completed extraction payload.
func SetExtraction(ctx context.Context, q db.Querier, id string, ex *model.Extraction) error {
	data, err := json.Marshal(ex)
	if err != nil {
		return fmt.Errorf("encoding extraction: %w", err)
	}
	_, err = q.ExecContext(ctx,
		`UPDATE session_images SET extraction_status = ?, extracted_data = ?, extraction_error = '' WHERE id = ?`,
		model.ExtractionDone, string(data), id,
	)
	if err != nil {
		return fmt.Errorf("storing extraction: %w", err)
	}
	return nil
}

// DiscardSessionImages marks every image of a session as discarded.
func DiscardSessionImages(ctx context.Context, q db.Querier, sessionID string) error {
	_, err := q.ExecContext(ctx, `UPDATE session_images SET discarded = 1 WHERE session_id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("discarding session images: %w", err)
	}
	return nil
}

const pendingItemColumns = `id, session_id, source_image_id, category_id, name, description,
	quantity_type, quantity_value, quantity_label, source, confidence, notes, created_at, updated_at`

// InsertPendingItem inserts a pending item. The quantity must already be
// normalised.
func InsertPendingItem(ctx context.Context, q db.Querier, p *model.PendingItem) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO pending_items (`+pendingItemColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.SessionID, p.SourceImageID, p.CategoryID, p.Name, p.Description,
		p.Quantity.Type, p.Quantity.Value, p.Quantity.Label, p.Source, p.Confidence, p.Notes,
		p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting pending item: %w", err)
	}
	return nil
}

// GetPendingItem returns a pending item by ID.
func GetPendingItem(ctx context.Context, q db.Querier, id string) (*model.PendingItem, error) {
	items, err := queryPendingItems(ctx, q, `SELECT `+pendingItemColumns+` FROM pending_items WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	return &items[0], nil
}

// ListPendingItems returns a session's pending items in creation order.
func ListPendingItems(ctx context.Context, q db.Querier, sessionID string) ([]model.PendingItem, error) {
	return queryPendingItems(ctx, q,
		`SELECT `+pendingItemColumns+` FROM pending_items WHERE session_id = ? ORDER BY created_at, id`, sessionID)
}

func queryPendingItems(ctx context.Context, q db.Querier, query string, args ...any) ([]model.PendingItem, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying pending items: %w", err)
	}
	defer rows.Close()

	var items []model.PendingItem
	for rows.Next() {
		var p model.PendingItem
		if err := rows.Scan(&p.ID, &p.SessionID, &p.SourceImageID, &p.CategoryID, &p.Name, &p.Description,
			&p.Quantity.Type, &p.Quantity.Value, &p.Quantity.Label, &p.Source, &p.Confidence, &p.Notes,
			&p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning pending item: %w", err)
		}
		items = append(items, p)
	}
	return items, rows.Err()
}

// UpdatePendingItem writes every mutable field of a pending item.
func UpdatePendingItem(ctx context.Context, q db.Querier, p *model.PendingItem) error {
	_, err := q.ExecContext(ctx,
		`UPDATE pending_items SET category_id = ?, name = ?, description = ?,
		                          quantity_type = ?, quantity_value = ?, quantity_label = ?,
		                          notes = ?, updated_at = ?
		 WHERE id = ?`,
		p.CategoryID, p.Name, p.Description,
		p.Quantity.Type, p.Quantity.Value, p.Quantity.Label,
		p.Notes, p.UpdatedAt, p.ID,
	)
	if err != nil {
		return fmt.Errorf("updating pending item: %w", err)
	}
	return nil
}

// DeletePendingItem deletes a pending item.
func DeletePendingItem(ctx context.Context, q db.Querier, id string) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM pending_items WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting pending item: %w", err)
	}
	return nil
}
