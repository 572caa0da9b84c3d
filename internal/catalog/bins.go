package catalog

import (
	"context"
	"database/sql"
	"slices"
	"time"

	"github.com/erazemk/shramba/internal/apperr"
	"github.com/erazemk/shramba/internal/db"
	"github.com/erazemk/shramba/internal/metrics"
	"github.com/erazemk/shramba/internal/model"
	"github.com/erazemk/shramba/internal/store"
)

// BinInput describes a new bin. ParentBinID nests it inside another bin of the
// same location.
type BinInput struct {
	LocationID  string  `json:"location_id"`
	ParentBinID *string `json:"parent_bin_id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
}

// BinPatch changes the non-nil fields of a bin. A ParentBinID pointing at ""
// moves the bin to the root of its location.
type BinPatch struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	ParentBinID *string `json:"parent_bin_id"`
}

// CreateBin creates a bin, unique by name among its siblings.
func (s *Service) CreateBin(ctx context.Context, in BinInput) (*model.Bin, error) {
	name, err := requireName("bin", in.Name)
	if err != nil {
		return nil, err
	}

	var bin *model.Bin
	err = db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := getLocation(ctx, tx, in.LocationID); err != nil {
			return err
		}
		parent := in.ParentBinID
		if parent != nil && *parent == "" {
			parent = nil
		}
		if parent != nil {
			if err := checkParentBin(ctx, tx, in.LocationID, *parent); err != nil {
				return err
			}
		}

		created, err := CreateBinTx(ctx, tx, in.LocationID, parent, name, in.Description, s.now())
		if err != nil {
			return err
		}
		bin = created
		return nil
	})
	if err != nil {
		return nil, translate(err, "bin")
	}
	return s.GetBin(ctx, bin.ID)
}

// CreateBinTx inserts a bin on an open transaction after checking sibling
// uniqueness. The caller has validated the location and parent.
func CreateBinTx(ctx context.Context, q db.Querier, locationID string, parentID *string, name, description string, now time.Time) (*model.Bin, error) {
	existing, err := store.FindBin(ctx, q, locationID, parentID, name)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, apperr.New(apperr.AlreadyExists, "bin %q already exists here", name).
			WithDetails(map[string]string{"bin_id": existing.ID})
	}

	bin := &model.Bin{
		ID:          store.NewID(),
		LocationID:  locationID,
		ParentBinID: parentID,
		Name:        name,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := store.InsertBin(ctx, q, bin); err != nil {
		return nil, err
	}
	return bin, nil
}

// checkParentBin verifies that parentID exists in the given location.
func checkParentBin(ctx context.Context, q db.Querier, locationID, parentID string) error {
	parent, err := store.GetBin(ctx, q, parentID)
	if err != nil {
		return err
	}
	if parent == nil {
		return apperr.NotFoundf("parent bin %s not found", parentID)
	}
	if parent.LocationID != locationID {
		return apperr.Invalidf("parent bin %s belongs to another location", parentID)
	}
	return nil
}

// GetBin returns a bin with its location name and item count, or NOT_FOUND.
func (s *Service) GetBin(ctx context.Context, id string) (*model.Bin, error) {
	return getBin(ctx, s.db, id)
}

func getBin(ctx context.Context, q db.Querier, id string) (*model.Bin, error) {
	bin, err := store.GetBin(ctx, q, id)
	if err != nil {
		return nil, apperr.Wrap(err)
	}
	if bin == nil {
		return nil, apperr.NotFoundf("bin %s not found", id)
	}
	return bin, nil
}

// ListBins returns bins matching the filter.
func (s *Service) ListBins(ctx context.Context, f store.BinFilter) ([]model.Bin, error) {
	bins, err := store.ListBins(ctx, s.db, f)
	if err != nil {
		return nil, apperr.Wrap(err)
	}
	return bins, nil
}

// BinPath returns the bins from the location's root down to id.
func (s *Service) BinPath(ctx context.Context, id string) ([]model.Bin, error) {
	ids, err := store.BinAncestry(ctx, s.db, id)
	if err != nil {
		return nil, apperr.Wrap(err)
	}
	if len(ids) == 0 {
		return nil, apperr.NotFoundf("bin %s not found", id)
	}

	path := make([]model.Bin, 0, len(ids))
	for _, binID := range ids {
		bin, err := getBin(ctx, s.db, binID)
		if err != nil {
			return nil, err
		}
		path = append(path, *bin)
	}
	return path, nil
}

// ListBinImages returns the images attached to a bin, primary first.
func (s *Service) ListBinImages(ctx context.Context, binID string) ([]model.BinImage, error) {
	if _, err := s.GetBin(ctx, binID); err != nil {
		return nil, err
	}
	images, err := store.ListBinImages(ctx, s.db, store.BinImageFilter{BinID: binID})
	if err != nil {
		return nil, apperr.Wrap(err)
	}
	return images, nil
}

// UpdateBin applies a patch. Reparenting stays within the bin's location and
// must not create a cycle.
func (s *Service) UpdateBin(ctx context.Context, id string, patch BinPatch) (*model.Bin, error) {
	err := db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		bin, err := getBin(ctx, tx, id)
		if err != nil {
			return err
		}

		if patch.ParentBinID != nil {
			if *patch.ParentBinID == "" {
				bin.ParentBinID = nil
			} else {
				parentID := *patch.ParentBinID
				if err := checkParentBin(ctx, tx, bin.LocationID, parentID); err != nil {
					return err
				}
				ancestry, err := store.BinAncestry(ctx, tx, parentID)
				if err != nil {
					return err
				}
				if slices.Contains(ancestry, id) {
					return apperr.Invalidf("bin cannot be nested inside itself or its descendants")
				}
				bin.ParentBinID = &parentID
			}
		}
		if patch.Name != nil {
			if bin.Name, err = requireName("bin", *patch.Name); err != nil {
				return err
			}
		}
		if patch.Description != nil {
			bin.Description = *patch.Description
		}

		sibling, err := store.FindBin(ctx, tx, bin.LocationID, bin.ParentBinID, bin.Name)
		if err != nil {
			return err
		}
		if sibling != nil && sibling.ID != id {
			return apperr.New(apperr.AlreadyExists, "bin %q already exists here", bin.Name)
		}

		bin.UpdatedAt = s.now()
		return store.UpdateBin(ctx, tx, bin)
	})
	if err != nil {
		return nil, translate(err, "bin")
	}
	return s.GetBin(ctx, id)
}

// DeleteBin deletes an empty bin. Bins with nested bins or items are never
// cascaded. The bin's image files are removed after the deletion commits.
func (s *Service) DeleteBin(ctx context.Context, id string) error {
	var images []model.BinImage
	err := db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := getBin(ctx, tx, id); err != nil {
			return err
		}
		children, err := store.CountChildBins(ctx, tx, id)
		if err != nil {
			return err
		}
		items, err := store.CountItemsInBin(ctx, tx, id)
		if err != nil {
			return err
		}
		if children > 0 || items > 0 {
			return apperr.New(apperr.HasDependencies, "bin still has %d nested bin(s) and %d item(s)", children, items).
				WithDetails(map[string]int{"bins": children, "items": items})
		}

		if images, err = store.ListBinImages(ctx, tx, store.BinImageFilter{BinID: id}); err != nil {
			return err
		}
		return store.DeleteBin(ctx, tx, id)
	})
	if err != nil {
		return translate(err, "bin")
	}

	for _, img := range images {
		s.removeFile(img.ImageRef)
		s.removeFile(img.ThumbnailRef)
	}
	return nil
}

// DeleteBins deletes each bin in its own unit and reports per-id failures.
func (s *Service) DeleteBins(ctx context.Context, ids []string) model.BulkResult {
	result := model.BulkResult{Succeeded: []string{}, Failed: []model.BulkFailure{}}
	for _, id := range ids {
		if err := s.DeleteBin(ctx, id); err != nil {
			f := bulkFailure(id, err)
			metrics.BulkFailuresTotal.WithLabelValues("delete_bins", f.Code).Inc()
			if f.Code == string(apperr.Internal) {
				s.logger.Error("bulk bin delete failed", "bin_id", id, "error", err)
			}
			result.Failed = append(result.Failed, f)
			continue
		}
		result.Succeeded = append(result.Succeeded, id)
	}
	return result
}

func (s *Service) removeFile(ref string) {
	if ref == "" || s.images == nil {
		return
	}
	if _, err := s.images.Delete(ref); err != nil {
		metrics.ImageCleanupFailures.Inc()
		s.logger.Warn("failed to delete bin image", "ref", ref, "error", err)
	}
}
