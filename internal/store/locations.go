package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/erazemk/shramba/internal/db"
	"github.com/erazemk/shramba/internal/model"
)

const locationColumns = `id, name, description, created_at, updated_at`

// InsertLocation inserts a location.
func InsertLocation(ctx context.Context, q db.Querier, loc *model.Location) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO locations (id, name, description, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		loc.ID, loc.Name, loc.Description, loc.CreatedAt, loc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting location: %w", err)
	}
	return nil
}

// GetLocation returns a location by ID.
func GetLocation(ctx context.Context, q db.Querier, id string) (*model.Location, error) {
	return getLocation(ctx, q, `SELECT `+locationColumns+` FROM locations WHERE id = ?`, id)
}

// GetLocationByName returns a location by its exact name.
func GetLocationByName(ctx context.Context, q db.Querier, name string) (*model.Location, error) {
	return getLocation(ctx, q, `SELECT `+locationColumns+` FROM locations WHERE name = ?`, name)
}

func getLocation(ctx context.Context, q db.Querier, query string, arg any) (*model.Location, error) {
	loc := &model.Location{}
	err := q.QueryRowContext(ctx, query, arg).
		Scan(&loc.ID, &loc.Name, &loc.Description, &loc.CreatedAt, &loc.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting location: %w", err)
	}
	return loc, nil
}

// ListLocations returns all locations ordered by name.
func ListLocations(ctx context.Context, q db.Querier) ([]model.Location, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+locationColumns+` FROM locations ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("listing locations: %w", err)
	}
	defer rows.Close()

	var locations []model.Location
	for rows.Next() {
		var loc model.Location
		if err := rows.Scan(&loc.ID, &loc.Name, &loc.Description, &loc.CreatedAt, &loc.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning location: %w", err)
		}
		locations = append(locations, loc)
	}
	return locations, rows.Err()
}

// UpdateLocation writes a location's mutable fields.
func UpdateLocation(ctx context.Context, q db.Querier, loc *model.Location) error {
	_, err := q.ExecContext(ctx,
		`UPDATE locations SET name = ?, description = ?, updated_at = ? WHERE id = ?`,
		loc.Name, loc.Description, loc.UpdatedAt, loc.ID,
	)
	if err != nil {
		return fmt.Errorf("updating location: %w", err)
	}
	return nil
}

// DeleteLocation deletes a location row.
func DeleteLocation(ctx context.Context, q db.Querier, id string) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM locations WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting location: %w", err)
	}
	return nil
}

// CountBinsInLocation returns the number of bins owned by a location.
func CountBinsInLocation(ctx context.Context, q db.Querier, locationID string) (int, error) {
	var count int
	err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM bins WHERE location_id = ?`, locationID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting bins: %w", err)
	}
	return count, nil
}
