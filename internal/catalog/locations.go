package catalog

import (
	"context"
	"database/sql"

	"github.com/erazemk/shramba/internal/apperr"
	"github.com/erazemk/shramba/internal/db"
	"github.com/erazemk/shramba/internal/model"
	"github.com/erazemk/shramba/internal/store"
)

// LocationInput describes a new location.
type LocationInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LocationPatch changes the non-nil fields of a location.
type LocationPatch struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

// CreateLocation creates a location with a unique name.
func (s *Service) CreateLocation(ctx context.Context, in LocationInput) (*model.Location, error) {
	name, err := requireName("location", in.Name)
	if err != nil {
		return nil, err
	}

	now := s.now()
	loc := &model.Location{
		ID:          store.NewID(),
		Name:        name,
		Description: in.Description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err = db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		existing, err := store.GetLocationByName(ctx, tx, name)
		if err != nil {
			return err
		}
		if existing != nil {
			return apperr.New(apperr.AlreadyExists, "location %q already exists", name)
		}
		return store.InsertLocation(ctx, tx, loc)
	})
	if err != nil {
		return nil, translate(err, "location")
	}
	return loc, nil
}

// GetLocation returns a location or NOT_FOUND.
func (s *Service) GetLocation(ctx context.Context, id string) (*model.Location, error) {
	return getLocation(ctx, s.db, id)
}

func getLocation(ctx context.Context, q db.Querier, id string) (*model.Location, error) {
	loc, err := store.GetLocation(ctx, q, id)
	if err != nil {
		return nil, apperr.Wrap(err)
	}
	if loc == nil {
		return nil, apperr.NotFoundf("location %s not found", id)
	}
	return loc, nil
}

// ListLocations returns all locations ordered by name.
func (s *Service) ListLocations(ctx context.Context) ([]model.Location, error) {
	locations, err := store.ListLocations(ctx, s.db)
	if err != nil {
		return nil, apperr.Wrap(err)
	}
	return locations, nil
}

// UpdateLocation applies a patch to a location.
func (s *Service) UpdateLocation(ctx context.Context, id string, patch LocationPatch) (*model.Location, error) {
	var loc *model.Location
	err := db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var err error
		if loc, err = getLocation(ctx, tx, id); err != nil {
			return err
		}
		if patch.Name != nil {
			name, err := requireName("location", *patch.Name)
			if err != nil {
				return err
			}
			if name != loc.Name {
				existing, err := store.GetLocationByName(ctx, tx, name)
				if err != nil {
					return err
				}
				if existing != nil {
					return apperr.New(apperr.AlreadyExists, "location %q already exists", name)
				}
			}
			loc.Name = name
		}
		if patch.Description != nil {
			loc.Description = *patch.Description
		}
		loc.UpdatedAt = s.now()
		return store.UpdateLocation(ctx, tx, loc)
	})
	if err != nil {
		return nil, translate(err, "location")
	}
	return loc, nil
}

// DeleteLocation deletes a location without bins. A location that still owns
// bins is never cascaded.
func (s *Service) DeleteLocation(ctx context.Context, id string) error {
	err := db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := getLocation(ctx, tx, id); err != nil {
			return err
		}
		bins, err := store.CountBinsInLocation(ctx, tx, id)
		if err != nil {
			return err
		}
		if bins > 0 {
			return apperr.New(apperr.HasDependencies, "location still has %d bin(s)", bins).
				WithDetails(map[string]int{"bins": bins})
		}
		return store.DeleteLocation(ctx, tx, id)
	})
	return translate(err, "location")
}
