package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/erazemk/shramba/internal/db"
	"github.com/erazemk/shramba/internal/model"
)

const categoryColumns = `id, parent_id, name, description, created_at, updated_at`

// InsertCategory inserts a category.
func InsertCategory(ctx context.Context, q db.Querier, c *model.Category) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO categories (id, parent_id, name, description, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.ParentID, c.Name, c.Description, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting category: %w", err)
	}
	return nil
}

// GetCategory returns a category by ID.
func GetCategory(ctx context.Context, q db.Querier, id string) (*model.Category, error) {
	c := &model.Category{}
	err := q.QueryRowContext(ctx, `SELECT `+categoryColumns+` FROM categories WHERE id = ?`, id).
		Scan(&c.ID, &c.ParentID, &c.Name, &c.Description, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting category: %w", err)
	}
	return c, nil
}

// FindCategory returns the category with the given name under parent. A nil
// parent looks among root categories only.
func FindCategory(ctx context.Context, q db.Querier, parentID *string, name string) (*model.Category, error) {
	query := `SELECT ` + categoryColumns + ` FROM categories WHERE name = ?`
	args := []any{name}
	if parentID == nil {
		query += ` AND parent_id IS NULL`
	} else {
		query += ` AND parent_id = ?`
		args = append(args, *parentID)
	}

	c := &model.Category{}
	err := q.QueryRowContext(ctx, query, args...).
		Scan(&c.ID, &c.ParentID, &c.Name, &c.Description, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding category: %w", err)
	}
	return c, nil
}

// ListCategories returns all categories ordered by name.
func ListCategories(ctx context.Context, q db.Querier) ([]model.Category, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+categoryColumns+` FROM categories ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("listing categories: %w", err)
	}
	defer rows.Close()

	var categories []model.Category
	for rows.Next() {
		var c model.Category
		if err := rows.Scan(&c.ID, &c.ParentID, &c.Name, &c.Description, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning category: %w", err)
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

// UpdateCategory writes a category's mutable fields.
func UpdateCategory(ctx context.Context, q db.Querier, c *model.Category) error {
	_, err := q.ExecContext(ctx,
		`UPDATE categories SET parent_id = ?, name = ?, description = ?, updated_at = ? WHERE id = ?`,
		c.ParentID, c.Name, c.Description, c.UpdatedAt, c.ID,
	)
	if err != nil {
		return fmt.Errorf("updating category: %w", err)
	}
	return nil
}

// DeleteCategory deletes a category row.
func DeleteCategory(ctx context.Context, q db.Querier, id string) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM categories WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting category: %w", err)
	}
	return nil
}

// CategoryDescendants returns every category below id, deepest first.
func CategoryDescendants(ctx context.Context, q db.Querier, id string) ([]string, error) {
	rows, err := q.QueryContext(ctx,
		`WITH RECURSIVE subtree(id, depth) AS (
		     SELECT id, 1 FROM categories WHERE parent_id = ?
		     UNION ALL
		     SELECT c.id, s.depth + 1
		     FROM categories c JOIN subtree s ON c.parent_id = s.id
		     WHERE s.depth < 1000
		 )
		 SELECT id FROM subtree ORDER BY depth DESC, id`, id,
	)
	if err != nil {
		return nil, fmt.Errorf("walking category subtree: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var cid string
		if err := rows.Scan(&cid); err != nil {
			return nil, fmt.Errorf("scanning category subtree: %w", err)
		}
		ids = append(ids, cid)
	}
	return ids, rows.Err()
}

// CategoryAncestry returns the ids from the root category down to id, inclusive.
func CategoryAncestry(ctx context.Context, q db.Querier, id string) ([]string, error) {
	rows, err := q.QueryContext(ctx,
		`WITH RECURSIVE ancestry(id, parent_id, depth) AS (
		     SELECT id, parent_id, 0 FROM categories WHERE id = ?
		     UNION ALL
		     SELECT c.id, c.parent_id, a.depth + 1
		     FROM categories c JOIN ancestry a ON c.id = a.parent_id
		     WHERE a.depth < 1000
		 )
		 SELECT id FROM ancestry ORDER BY depth DESC`, id,
	)
	if err != nil {
		return nil, fmt.Errorf("walking category ancestry: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var cid string
		if err := rows.Scan(&cid); err != nil {
			return nil, fmt.Errorf("scanning category ancestry: %w", err)
		}
		ids = append(ids, cid)
	}
	return ids, rows.Err()
}

// CountItemsInCategories returns the number of items in any of the given
// categories.
func CountItemsInCategories(ctx context.Context, q db.Querier, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	var count int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM items WHERE category_id IN (`+placeholders+`)`, args...,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting items in categories: %w", err)
	}
	return count, nil
}
