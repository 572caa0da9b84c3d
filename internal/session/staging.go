package session

import (
	"context"
	"database/sql"
	"errors"
	"path"
	"strings"

	"github.com/erazemk/shramba/internal/apperr"
	"github.com/erazemk/shramba/internal/db"
	"github.com/erazemk/shramba/internal/imaging"
	"github.com/erazemk/shramba/internal/model"
	"github.com/erazemk/shramba/internal/store"
	"github.com/erazemk/shramba/internal/vision"
)

// ImageInput is an uploaded image.
type ImageInput struct {
	Data     []byte
	Filename string
	// Extract queues vision extraction once the image is stored.
	Extract bool
	// Hint is passed to the vision model as context.
	Hint string
}

// ExtractionResult reports a finished queued extraction.
type ExtractionResult struct {
	ImageID string
	Items   []model.PendingItem
	Err     error
}

// Upload is the outcome of AddImage. Done is nil when no extraction was
// queued; otherwise it receives exactly one result and is then closed.
type Upload struct {
	Image *model.SessionImage
	Done  <-chan ExtractionResult
}

// AddImage normalises an image, stores it and its thumbnail, and records it
// under the session. When extraction is requested it runs in the background
// and the image is returned with status queued.
func (m *Manager) AddImage(ctx context.Context, sessionID string, in ImageInput) (*Upload, error) {
	if len(in.Data) == 0 {
		return nil, apperr.Invalidf("image is empty")
	}
	if int64(len(in.Data)) > m.maxImageBytes {
		return nil, apperr.Invalidf("image is %d bytes, the limit is %d", len(in.Data), m.maxImageBytes)
	}
	if in.Extract && m.extractor == nil {
		return nil, apperr.Invalidf("%v", vision.ErrNotConfigured)
	}
	if _, err := m.mutable(ctx, m.db, sessionID); err != nil {
		return nil, apperr.Wrap(err)
	}

	processed, err := imaging.Process(in.Data, m.imageOpts)
	if err != nil {
		return nil, apperr.Invalidf("%v", err)
	}

	imageID := store.NewID()
	prefix := path.Join("sessions", sessionID, imageID)
	ref, err := m.images.Save(prefix, processed.Data)
	if err != nil {
		return nil, apperr.Wrap(err)
	}
	thumb, err := m.images.Save(path.Join(prefix, "thumb"), processed.Thumbnail)
	if err != nil {
		m.removeFiles([]string{ref})
		return nil, apperr.Wrap(err)
	}

	var filename string
	if in.Filename != "" {
		filename = path.Base(strings.ReplaceAll(in.Filename, `\`, "/"))
	}

	status := model.ExtractionNone
	if in.Extract {
		status = model.ExtractionQueued
	}
	img := &model.SessionImage{
		ID:               imageID,
		SessionID:        sessionID,
		ImageRef:         ref,
		ThumbnailRef:     thumb,
		OriginalFilename: filename,
		Width:            processed.Width,
		Height:           processed.Height,
		SizeBytes:        int64(len(processed.Data)),
		ExtractionStatus: status,
		CreatedAt:        m.now(),
	}

	err = m.tx(ctx, func(tx *sql.Tx) error {
		s, err := m.mutable(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if err := store.InsertSessionImage(ctx, tx, img); err != nil {
			return err
		}
		return m.touch(ctx, tx, s)
	})
	if err != nil {
		m.removeFiles([]string{ref, thumb})
		return nil, err
	}

	upload := &Upload{Image: img}
	if in.Extract {
		upload.Done = m.queueExtraction(sessionID, imageID, in.Hint)
	}
	return upload, nil
}

func (m *Manager) queueExtraction(sessionID, imageID, hint string) <-chan ExtractionResult {
	done := make(chan ExtractionResult, 1)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer close(done)

		ctx, cancel := context.WithTimeout(m.bgCtx, extractionTimeout)
		defer cancel()

		items, err := m.Extract(ctx, sessionID, imageID, hint)
		if err != nil {
			m.logger.Warn("queued extraction failed", "session", sessionID, "image", imageID, "error", err)
			m.markFailed(imageID, err)
		}
		done <- ExtractionResult{ImageID: imageID, Items: items, Err: err}
	}()
	return done
}

// Extract runs vision extraction for one staged image and stages a pending
// item per candidate. The vision call happens outside any transaction.
func (m *Manager) Extract(ctx context.Context, sessionID, imageID, hint string) ([]model.PendingItem, error) {
	if m.extractor == nil {
		return nil, apperr.Invalidf("%v", vision.ErrNotConfigured)
	}
	if _, err := m.mutable(ctx, m.db, sessionID); err != nil {
		return nil, apperr.Wrap(err)
	}
	img, err := sessionImage(ctx, m.db, sessionID, imageID)
	if err != nil {
		return nil, apperr.Wrap(err)
	}
	categories, err := store.ListCategories(ctx, m.db)
	if err != nil {
		return nil, apperr.Wrap(err)
	}
	data, err := m.images.Read(img.ImageRef)
	if err != nil {
		return nil, apperr.Wrap(err)
	}

	names := make([]string, len(categories))
	byName := make(map[string]string, len(categories))
	for i, c := range categories {
		names[i] = c.Name
		byName[strings.ToLower(c.Name)] = c.ID
	}

	ex, err := m.extractor.Extract(ctx, vision.Request{
		Image:      data,
		MediaType:  "image/jpeg",
		Hint:       hint,
		Categories: names,
	})
	if err != nil {
		m.markFailed(imageID, err)
		return nil, apperr.Wrap(err)
	}

	var items []model.PendingItem
	err = m.tx(ctx, func(tx *sql.Tx) error {
		s, err := m.mutable(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if err := store.SetExtraction(ctx, tx, imageID, ex); err != nil {
			return err
		}
		now := m.now()
		items = make([]model.PendingItem, 0, len(ex.Candidates))
		for _, c := range ex.Candidates {
			quantity, err := c.Quantity.Normalize()
			if err != nil {
				quantity = model.Quantity{Type: model.QuantityBoolean, Value: 1}
			}
			p := model.PendingItem{
				ID:            store.NewID(),
				SessionID:     sessionID,
				SourceImageID: &img.ID,
				Name:          c.Name,
				Description:   c.Description,
				Quantity:      quantity,
				Source:        model.PendingVision,
				Confidence:    &c.Confidence,
				CreatedAt:     now,
				UpdatedAt:     now,
			}
			if id, ok := byName[strings.ToLower(c.CategorySuggestion)]; ok {
				p.CategoryID = &id
			}
			if err := store.InsertPendingItem(ctx, tx, &p); err != nil {
				return err
			}
			items = append(items, p)
		}
		return m.touch(ctx, tx, s)
	})
	if err != nil {
		return nil, err
	}
	m.logger.Info("image extracted", "session", sessionID, "image", imageID, "candidates", len(items))
	return items, nil
}

// markFailed records an extraction failure on its own, outside the caller's
// context, so a cancelled request still leaves the image in a final state.
func (m *Manager) markFailed(imageID string, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), dbTimeout)
	defer cancel()
	msg := cause.Error()
	if errors.Is(cause, context.Canceled) {
		msg = "extraction cancelled"
	}
	if err := store.SetExtractionStatus(ctx, m.db, imageID, model.ExtractionFailed, msg); err != nil {
		m.logger.Error("failed to record extraction failure", "image", imageID, "error", err)
	}
}

func sessionImage(ctx context.Context, q db.Querier, sessionID, imageID string) (*model.SessionImage, error) {
	img, err := store.GetSessionImage(ctx, q, imageID)
	if err != nil {
		return nil, err
	}
	if img == nil || img.SessionID != sessionID {
		return nil, apperr.NotFoundf("image %s not found in session %s", imageID, sessionID)
	}
	if img.Discarded {
		return nil, apperr.Invalidf("image %s was discarded", imageID)
	}
	return img, nil
}

// PendingInput describes a manually staged item.
type PendingInput struct {
	Name          string         `json:"name"`
	Description   string         `json:"description"`
	Quantity      model.Quantity `json:"quantity"`
	CategoryID    *string        `json:"category_id"`
	SourceImageID *string        `json:"source_image_id"`
	Notes         string         `json:"notes"`
}

// AddPending stages an item by hand.
func (m *Manager) AddPending(ctx context.Context, sessionID string, in PendingInput) (*model.PendingItem, error) {
	name := model.NormalizeName(in.Name)
	if name == "" {
		return nil, apperr.Invalidf("item name must not be empty")
	}
	quantity, err := in.Quantity.Normalize()
	if err != nil {
		return nil, err
	}

	var p *model.PendingItem
	err = m.tx(ctx, func(tx *sql.Tx) error {
		s, err := m.mutable(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		categoryID := nonEmpty(in.CategoryID)
		if err := checkCategory(ctx, tx, categoryID); err != nil {
			return err
		}
		imageID := nonEmpty(in.SourceImageID)
		if imageID != nil {
			if _, err := sessionImage(ctx, tx, sessionID, *imageID); err != nil {
				return err
			}
		}

		now := m.now()
		p = &model.PendingItem{
			ID:            store.NewID(),
			SessionID:     sessionID,
			SourceImageID: imageID,
			CategoryID:    categoryID,
			Name:          name,
			Description:   in.Description,
			Quantity:      quantity,
			Source:        model.PendingManual,
			Notes:         in.Notes,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := store.InsertPendingItem(ctx, tx, p); err != nil {
			return err
		}
		return m.touch(ctx, tx, s)
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// PendingPatch changes the non-nil fields of a pending item. A CategoryID
// pointing at "" clears the category.
type PendingPatch struct {
	Name        *string         `json:"name"`
	Description *string         `json:"description"`
	Quantity    *model.Quantity `json:"quantity"`
	CategoryID  *string         `json:"category_id"`
	Notes       *string         `json:"notes"`
}

// UpdatePending edits a staged item.
func (m *Manager) UpdatePending(ctx context.Context, sessionID, pendingID string, patch PendingPatch) (*model.PendingItem, error) {
	var p *model.PendingItem
	err := m.tx(ctx, func(tx *sql.Tx) error {
		s, err := m.mutable(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if p, err = pendingItem(ctx, tx, sessionID, pendingID); err != nil {
			return err
		}

		if patch.Name != nil {
			name := model.NormalizeName(*patch.Name)
			if name == "" {
				return apperr.Invalidf("item name must not be empty")
			}
			p.Name = name
		}
		if patch.Description != nil {
			p.Description = *patch.Description
		}
		if patch.Notes != nil {
			p.Notes = *patch.Notes
		}
		if patch.Quantity != nil {
			q, err := patch.Quantity.Normalize()
			if err != nil {
				return err
			}
			p.Quantity = q
		}
		if patch.CategoryID != nil {
			categoryID := nonEmpty(patch.CategoryID)
			if err := checkCategory(ctx, tx, categoryID); err != nil {
				return err
			}
			p.CategoryID = categoryID
		}

		p.UpdatedAt = m.now()
		if err := store.UpdatePendingItem(ctx, tx, p); err != nil {
			return err
		}
		return m.touch(ctx, tx, s)
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// RemovePending drops a staged item.
func (m *Manager) RemovePending(ctx context.Context, sessionID, pendingID string) error {
	return m.tx(ctx, func(tx *sql.Tx) error {
		s, err := m.mutable(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if _, err := pendingItem(ctx, tx, sessionID, pendingID); err != nil {
			return err
		}
		if err := store.DeletePendingItem(ctx, tx, pendingID); err != nil {
			return err
		}
		return m.touch(ctx, tx, s)
	})
}

func pendingItem(ctx context.Context, q db.Querier, sessionID, pendingID string) (*model.PendingItem, error) {
	p, err := store.GetPendingItem(ctx, q, pendingID)
	if err != nil {
		return nil, err
	}
	if p == nil || p.SessionID != sessionID {
		return nil, apperr.NotFoundf("pending item %s not found in session %s", pendingID, sessionID)
	}
	return p, nil
}

func checkCategory(ctx context.Context, q db.Querier, id *string) error {
	if id == nil {
		return nil
	}
	c, err := store.GetCategory(ctx, q, *id)
	if err != nil {
		return err
	}
	if c == nil {
		return apperr.NotFoundf("category %s not found", *id)
	}
	return nil
}
