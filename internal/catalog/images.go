package catalog

import (
	"context"
	"database/sql"
	"path"

	"github.com/erazemk/shramba/internal/apperr"
	"github.com/erazemk/shramba/internal/db"
	"github.com/erazemk/shramba/internal/imaging"
	"github.com/erazemk/shramba/internal/model"
	"github.com/erazemk/shramba/internal/store"
)

// BinImageInput is a photo uploaded straight to a bin.
type BinImageInput struct {
	Data    []byte
	Caption string
	// Primary makes the photo the bin's primary image. The first photo of a
	// bin is primary either way.
	Primary bool
}

// AddBinImage normalises a photo, stores it with its thumbnail under the bin
// and records it. A bin has at most one primary image.
func (s *Service) AddBinImage(ctx context.Context, binID string, in BinImageInput) (*model.BinImage, error) {
	if len(in.Data) == 0 {
		return nil, apperr.Invalidf("image is empty")
	}
	if s.images == nil {
		return nil, apperr.Invalidf("image storage is not configured")
	}
	if _, err := s.GetBin(ctx, binID); err != nil {
		return nil, err
	}

	processed, err := imaging.Process(in.Data, s.imageOpts)
	if err != nil {
		return nil, apperr.Invalidf("%v", err)
	}

	img := &model.BinImage{
		ID:        store.NewID(),
		BinID:     binID,
		Caption:   in.Caption,
		Width:     processed.Width,
		Height:    processed.Height,
		SizeBytes: int64(len(processed.Data)),
		CreatedAt: s.now(),
	}
	prefix := path.Join("bins", binID, img.ID)
	if img.ImageRef, err = s.images.Save(prefix, processed.Data); err != nil {
		return nil, apperr.Wrap(err)
	}
	if img.ThumbnailRef, err = s.images.Save(path.Join(prefix, "thumb"), processed.Thumbnail); err != nil {
		s.removeFile(img.ImageRef)
		return nil, apperr.Wrap(err)
	}

	err = db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := getBin(ctx, tx, binID); err != nil {
			return err
		}
		hasPrimary, err := store.HasPrimaryBinImage(ctx, tx, binID)
		if err != nil {
			return err
		}
		img.IsPrimary = in.Primary || !hasPrimary
		if err := store.InsertBinImage(ctx, tx, img); err != nil {
			return err
		}
		if img.IsPrimary && hasPrimary {
			return store.SetPrimaryBinImage(ctx, tx, binID, img.ID)
		}
		return nil
	})
	if err != nil {
		s.removeFile(img.ImageRef)
		s.removeFile(img.ThumbnailRef)
		return nil, translate(err, "bin image")
	}
	s.logger.Info("bin image added", "bin", binID, "image", img.ID, "primary", img.IsPrimary)
	return img, nil
}

// RemoveBinImage deletes an image of a bin. When it was the primary, the
// oldest remaining image takes over. Files are deleted best-effort after the
// row is gone, except the full image while an item still uses it as its photo.
func (s *Service) RemoveBinImage(ctx context.Context, binID, imageID string) error {
	var img *model.BinImage
	var shared bool
	err := db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var err error
		if img, err = getBinImage(ctx, tx, binID, imageID); err != nil {
			return err
		}
		if err := store.DeleteBinImage(ctx, tx, img.ID); err != nil {
			return err
		}
		users, err := store.CountItemsWithPhoto(ctx, tx, img.ImageRef)
		if err != nil {
			return err
		}
		shared = users > 0
		if !img.IsPrimary {
			return nil
		}
		rest, err := store.ListBinImages(ctx, tx, store.BinImageFilter{BinID: binID})
		if err != nil || len(rest) == 0 {
			return err
		}
		return store.SetPrimaryBinImage(ctx, tx, binID, rest[0].ID)
	})
	if err != nil {
		return translate(err, "bin image")
	}

	if !shared {
		s.removeFile(img.ImageRef)
	}
	s.removeFile(img.ThumbnailRef)
	s.logger.Info("bin image removed", "bin", binID, "image", imageID)
	return nil
}

// SetPrimaryBinImage makes imageID the bin's only primary image.
func (s *Service) SetPrimaryBinImage(ctx context.Context, binID, imageID string) (*model.BinImage, error) {
	var img *model.BinImage
	err := db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var err error
		if img, err = getBinImage(ctx, tx, binID, imageID); err != nil {
			return err
		}
		if img.IsPrimary {
			return nil
		}
		img.IsPrimary = true
		return store.SetPrimaryBinImage(ctx, tx, binID, imageID)
	})
	if err != nil {
		return nil, translate(err, "bin image")
	}
	return img, nil
}

func getBinImage(ctx context.Context, q db.Querier, binID, imageID string) (*model.BinImage, error) {
	if _, err := getBin(ctx, q, binID); err != nil {
		return nil, err
	}
	img, err := store.GetBinImage(ctx, q, binID, imageID)
	if err != nil {
		return nil, err
	}
	if img == nil {
		return nil, apperr.NotFoundf("image %s not found in bin %s", imageID, binID)
	}
	return img, nil
}
