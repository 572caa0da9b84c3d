package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/erazemk/shramba/internal/db"
	"github.com/erazemk/shramba/internal/model"
)

const binColumns = `b.id, b.location_id, b.parent_bin_id, b.name, b.description, b.created_at, b.updated_at,
	l.name AS location_name,
	(SELECT COUNT(*) FROM items i WHERE i.bin_id = b.id) AS item_count`

const binFrom = ` FROM bins b JOIN locations l ON l.id = b.location_id`

// InsertBin inserts a bin.
func InsertBin(ctx context.Context, q db.Querier, bin *model.Bin) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO bins (id, location_id, parent_bin_id, name, description, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		bin.ID, bin.LocationID, bin.ParentBinID, bin.Name, bin.Description, bin.CreatedAt, bin.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting bin: %w", err)
	}
	return nil
}

// GetBin returns a bin by ID.
func GetBin(ctx context.Context, q db.Querier, id string) (*model.Bin, error) {
	bins, err := queryBins(ctx, q, `SELECT `+binColumns+binFrom+` WHERE b.id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(bins) == 0 {
		return nil, nil
	}
	return &bins[0], nil
}

// FindBin returns the bin with the given name under (location, parent). A nil
// parent looks among root bins only.
func FindBin(ctx context.Context, q db.Querier, locationID string, parentID *string, name string) (*model.Bin, error) {
	query := `SELECT ` + binColumns + binFrom + ` WHERE b.location_id = ? AND b.name = ?`
	args := []any{locationID, name}
	if parentID == nil {
		query += ` AND b.parent_bin_id IS NULL`
	} else {
		query += ` AND b.parent_bin_id = ?`
		args = append(args, *parentID)
	}

	bins, err := queryBins(ctx, q, query, args...)
	if err != nil {
		return nil, err
	}
	if len(bins) == 0 {
		return nil, nil
	}
	return &bins[0], nil
}

// BinFilter narrows ListBins. Zero values match everything; RootOnly limits
// the result to bins without a parent.
type BinFilter struct {
	LocationID string
	ParentID   string
	RootOnly   bool
}

// ListBins returns bins ordered by location and name.
func ListBins(ctx context.Context, q db.Querier, f BinFilter) ([]model.Bin, error) {
	query := `SELECT ` + binColumns + binFrom + ` WHERE 1=1`
	var args []any

	if f.LocationID != "" {
		query += ` AND b.location_id = ?`
		args = append(args, f.LocationID)
	}
	if f.ParentID != "" {
		query += ` AND b.parent_bin_id = ?`
		args = append(args, f.ParentID)
	} else if f.RootOnly {
		query += ` AND b.parent_bin_id IS NULL`
	}

	query += ` ORDER BY l.name, b.name`
	return queryBins(ctx, q, query, args...)
}

func queryBins(ctx context.Context, q db.Querier, query string, args ...any) ([]model.Bin, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying bins: %w", err)
	}
	defer rows.Close()

	var bins []model.Bin
	for rows.Next() {
		var b model.Bin
		if err := rows.Scan(&b.ID, &b.LocationID, &b.ParentBinID, &b.Name, &b.Description,
			&b.CreatedAt, &b.UpdatedAt, &b.LocationName, &b.ItemCount); err != nil {
			return nil, fmt.Errorf("scanning bin: %w", err)
		}
		bins = append(bins, b)
	}
	return bins, rows.Err()
}

// UpdateBin writes a bin's mutable fields.
func UpdateBin(ctx context.Context, q db.Querier, bin *model.Bin) error {
	_, err := q.ExecContext(ctx,
		`UPDATE bins SET name = ?, description = ?, parent_bin_id = ?, updated_at = ? WHERE id = ?`,
		bin.Name, bin.Description, bin.ParentBinID, bin.UpdatedAt, bin.ID,
	)
	if err != nil {
		return fmt.Errorf("updating bin: %w", err)
	}
	return nil
}

// DeleteBin deletes a bin row. Its bin_images rows go with it.
func DeleteBin(ctx context.Context, q db.Querier, id string) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM bins WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting bin: %w", err)
	}
	return nil
}

// CountChildBins returns the number of bins nested directly in a bin.
func CountChildBins(ctx context.Context, q db.Querier, binID string) (int, error) {
	var count int
	err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM bins WHERE parent_bin_id = ?`, binID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting child bins: %w", err)
	}
	return count, nil
}

// BinAncestry returns the ids from the root bin down to id, inclusive.
func BinAncestry(ctx context.Context, q db.Querier, id string) ([]string, error) {
	rows, err := q.QueryContext(ctx,
		`WITH RECURSIVE ancestry(id, parent_bin_id, depth) AS (
		     SELECT id, parent_bin_id, 0 FROM bins WHERE id = ?
		     UNION ALL
		     SELECT b.id, b.parent_bin_id, a.depth + 1
		     FROM bins b JOIN ancestry a ON b.id = a.parent_bin_id
		     WHERE a.depth < 1000
		 )
		 SELECT id FROM ancestry ORDER BY depth DESC`, id,
	)
	if err != nil {
		return nil, fmt.Errorf("walking bin ancestry: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var binID string
		if err := rows.Scan(&binID); err != nil {
			return nil, fmt.Errorf("scanning bin ancestry: %w", err)
		}
		ids = append(ids, binID)
	}
	return ids, rows.Err()
}

// InsertBinImage inserts a bin image.
func InsertBinImage(ctx context.Context, q db.Querier, img *model.BinImage) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO bin_images (id, bin_id, image_ref, thumbnail_ref, caption, is_primary,
		                         source_session_id, source_session_image_id, width, height, size_bytes, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		img.ID, img.BinID, img.ImageRef, img.ThumbnailRef, img.Caption, img.IsPrimary,
		img.SourceSessionID, img.SourceSessionImageID, img.Width, img.Height, img.SizeBytes, img.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting bin image: %w", err)
	}
	return nil
}

// BinImageFilter narrows ListBinImages.
type BinImageFilter struct {
	BinID     string
	SessionID string
}

// ListBinImages returns bin images, primary first, then oldest first.
func ListBinImages(ctx context.Context, q db.Querier, f BinImageFilter) ([]model.BinImage, error) {
	query := `SELECT id, bin_id, image_ref, thumbnail_ref, caption, is_primary,
	                 source_session_id, source_session_image_id, width, height, size_bytes, created_at
	          FROM bin_images WHERE 1=1`
	var args []any
	if f.BinID != "" {
		query += ` AND bin_id = ?`
		args = append(args, f.BinID)
	}
	if f.SessionID != "" {
		query += ` AND source_session_id = ?`
		args = append(args, f.SessionID)
	}
	query += ` ORDER BY is_primary DESC, created_at`

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing bin images: %w", err)
	}
	defer rows.Close()

	var images []model.BinImage
	for rows.Next() {
		var img model.BinImage
		if err := rows.Scan(&img.ID, &img.BinID, &img.ImageRef, &img.ThumbnailRef, &img.Caption, &img.IsPrimary,
			&img.SourceSessionID, &img.SourceSessionImageID, &img.Width, &img.Height, &img.SizeBytes,
			&img.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning bin image: %w", err)
		}
		images = append(images, img)
	}
	return images, rows.Err()
}

// HasPrimaryBinImage reports whether a bin already has a primary image.
func HasPrimaryBinImage(ctx context.Context, q db.Querier, binID string) (bool, error) {
	var exists bool
	err := q.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM bin_images WHERE bin_id = ? AND is_primary = 1)`, binID,
	).Scan(&exists)
	if err != nil && err != sql.ErrNoRows {
		return false, fmt.Errorf("checking primary bin image: %w", err)
	}
	return exists, nil
}

// GetBinImage returns one image of a bin, or nil if the bin has no image with
// that id.
func GetBinImage(ctx context.Context, q db.Querier, binID, id string) (*model.BinImage, error) {
	var img model.BinImage
	err := q.QueryRowContext(ctx,
		`SELECT id, bin_id, image_ref, thumbnail_ref, caption, is_primary,
		        source_session_id, source_session_image_id, width, height, size_bytes, created_at
		 FROM bin_images WHERE id = ? AND bin_id = ?`, id, binID,
	).Scan(&img.ID, &img.BinID, &img.ImageRef, &img.ThumbnailRef, &img.Caption, &img.IsPrimary,
		&img.SourceSessionID, &img.SourceSessionImageID, &img.Width, &img.Height, &img.SizeBytes,
		&img.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting bin image: %w", err)
	}
	return &img, nil
}

// DeleteBinImage removes an image row.
func DeleteBinImage(ctx context.Context, q db.Querier, id string) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM bin_images WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting bin image: %w", err)
	}
	return nil
}

// SetPrimaryBinImage makes id the only primary image of its bin.
func SetPrimaryBinImage(ctx context.Context, q db.Querier, binID, id string) error {
	_, err := q.ExecContext(ctx,
		`UPDATE bin_images SET is_primary = (id = ?) WHERE bin_id = ?`, id, binID)
	if err != nil {
		return fmt.Errorf("setting primary bin image: %w", err)
	}
	return nil
}

// CountItemsWithPhoto counts items whose photo is ref.
func CountItemsWithPhoto(ctx context.Context, q db.Querier, ref string) (int, error) {
	var n int
	err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM items WHERE photo_ref = ?`, ref).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting items with photo: %w", err)
	}
	return n, nil
}
