package catalog

import (
	"context"
	"database/sql"
	"slices"

	"github.com/erazemk/shramba/internal/apperr"
	"github.com/erazemk/shramba/internal/db"
	"github.com/erazemk/shramba/internal/model"
	"github.com/erazemk/shramba/internal/store"
)

// CategoryInput describes a new category.
type CategoryInput struct {
	ParentID    *string `json:"parent_id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
}

// CategoryPatch changes the non-nil fields of a category. A ParentID pointing
// at "" makes it a root category.
type CategoryPatch struct {
	ParentID    *string `json:"parent_id"`
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

// CreateCategory creates a category, unique by name under its parent.
func (s *Service) CreateCategory(ctx context.Context, in CategoryInput) (*model.Category, error) {
	name, err := requireName("category", in.Name)
	if err != nil {
		return nil, err
	}
	parent := in.ParentID
	if parent != nil && *parent == "" {
		parent = nil
	}

	now := s.now()
	c := &model.Category{
		ID:          store.NewID(),
		ParentID:    parent,
		Name:        name,
		Description: in.Description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err = db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if parent != nil {
			if _, err := getCategory(ctx, tx, *parent); err != nil {
				return err
			}
		}
		if err := checkCategoryName(ctx, tx, parent, name, ""); err != nil {
			return err
		}
		return store.InsertCategory(ctx, tx, c)
	})
	if err != nil {
		return nil, translate(err, "category")
	}
	return c, nil
}

func checkCategoryName(ctx context.Context, q db.Querier, parent *string, name, self string) error {
	existing, err := store.FindCategory(ctx, q, parent, name)
	if err != nil {
		return err
	}
	if existing != nil && existing.ID != self {
		return apperr.New(apperr.AlreadyExists, "category %q already exists here", name)
	}
	return nil
}

// GetCategory returns a category or NOT_FOUND.
func (s *Service) GetCategory(ctx context.Context, id string) (*model.Category, error) {
	return getCategory(ctx, s.db, id)
}

func getCategory(ctx context.Context, q db.Querier, id string) (*model.Category, error) {
	c, err := store.GetCategory(ctx, q, id)
	if err != nil {
		return nil, apperr.Wrap(err)
	}
	if c == nil {
		return nil, apperr.NotFoundf("category %s not found", id)
	}
	return c, nil
}

// ListCategories returns all categories ordered by name.
func (s *Service) ListCategories(ctx context.Context) ([]model.Category, error) {
	categories, err := store.ListCategories(ctx, s.db)
	if err != nil {
		return nil, apperr.Wrap(err)
	}
	return categories, nil
}

// UpdateCategory applies a patch, rejecting a parent that would create a
// cycle.
func (s *Service) UpdateCategory(ctx context.Context, id string, patch CategoryPatch) (*model.Category, error) {
	var c *model.Category
	err := db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var err error
		if c, err = getCategory(ctx, tx, id); err != nil {
			return err
		}

		if patch.ParentID != nil {
			if *patch.ParentID == "" {
				c.ParentID = nil
			} else {
				parentID := *patch.ParentID
				if _, err := getCategory(ctx, tx, parentID); err != nil {
					return err
				}
				ancestry, err := store.CategoryAncestry(ctx, tx, parentID)
				if err != nil {
					return err
				}
				if slices.Contains(ancestry, id) {
					return apperr.Invalidf("category cannot be placed under itself or its descendants")
				}
				c.ParentID = &parentID
			}
		}
		if patch.Name != nil {
			if c.Name, err = requireName("category", *patch.Name); err != nil {
				return err
			}
		}
		if patch.Description != nil {
			c.Description = *patch.Description
		}
		if err := checkCategoryName(ctx, tx, c.ParentID, c.Name, id); err != nil {
			return err
		}

		c.UpdatedAt = s.now()
		return store.UpdateCategory(ctx, tx, c)
	})
	if err != nil {
		return nil, translate(err, "category")
	}
	return c, nil
}

// DeleteCategory deletes a category together with its descendants, deepest
// first, and returns the ids of the cascaded descendants. If the category or
// any descendant still classifies an item nothing is deleted.
func (s *Service) DeleteCategory(ctx context.Context, id string) ([]string, error) {
	var cascaded []string
	err := db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := getCategory(ctx, tx, id); err != nil {
			return err
		}
		descendants, err := store.CategoryDescendants(ctx, tx, id)
		if err != nil {
			return err
		}

		items, err := store.CountItemsInCategories(ctx, tx, append([]string{id}, descendants...))
		if err != nil {
			return err
		}
		if items > 0 {
			return apperr.New(apperr.HasDependencies, "category or its subcategories still hold %d item(s)", items).
				WithDetails(map[string]int{"items": items, "subcategories": len(descendants)})
		}

		for _, cid := range descendants {
			if err := store.DeleteCategory(ctx, tx, cid); err != nil {
				return err
			}
		}
		if err := store.DeleteCategory(ctx, tx, id); err != nil {
			return err
		}
		cascaded = descendants
		return nil
	})
	if err != nil {
		return nil, translate(err, "category")
	}
	if cascaded == nil {
		cascaded = []string{}
	}
	return cascaded, nil
}
