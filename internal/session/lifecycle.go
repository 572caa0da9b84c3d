package session

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/erazemk/shramba/internal/apperr"
	"github.com/erazemk/shramba/internal/catalog"
	"github.com/erazemk/shramba/internal/db"
	"github.com/erazemk/shramba/internal/inventory"
	"github.com/erazemk/shramba/internal/metrics"
	"github.com/erazemk/shramba/internal/model"
	"github.com/erazemk/shramba/internal/store"
)

// Target names where a session's items should land. Both fields are
// optional; a bin given together with a location must belong to it.
type Target struct {
	BinID      *string `json:"target_bin_id"`
	LocationID *string `json:"target_location_id"`
}

// Result is a session together with a non-fatal warning.
type Result struct {
	Session *model.Session `json:"session"`
	Warning string         `json:"warning,omitempty"`
}

// Create opens a new pending session. It is refused with SESSION_BLOCKED
// while any pending session is stale; the error details list them.
func (m *Manager) Create(ctx context.Context, target Target) (*Result, error) {
	target = Target{BinID: nonEmpty(target.BinID), LocationID: nonEmpty(target.LocationID)}

	var res *Result
	err := m.tx(ctx, func(tx *sql.Tx) error {
		stale, err := m.staleSessions(ctx, tx)
		if err != nil {
			return err
		}
		if len(stale) > 0 {
			return apperr.New(apperr.SessionBlocked,
				"%d stale session(s) must be resumed, committed or cancelled first", len(stale)).
				WithDetails(stale)
		}
		if err := checkTarget(ctx, tx, target); err != nil {
			return err
		}

		now := m.now()
		s := &model.Session{
			ID:               store.NewID(),
			Status:           model.SessionPending,
			TargetBinID:      target.BinID,
			TargetLocationID: target.LocationID,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if err := store.InsertSession(ctx, tx, s); err != nil {
			return err
		}
		m.annotate(s)

		warning, err := sharedBinWarning(ctx, tx, s)
		if err != nil {
			return err
		}
		res = &Result{Session: s, Warning: warning}
		return nil
	})
	if err != nil {
		return nil, err
	}
	transitioned(model.SessionPending)
	m.logger.Info("session created", "session", res.Session.ID)
	return res, nil
}

func (m *Manager) staleSessions(ctx context.Context, q db.Querier) ([]model.StaleSession, error) {
	sessions, err := store.ListSessionsByStatus(ctx, q, model.SessionPending)
	if err != nil {
		return nil, err
	}
	stale := []model.StaleSession{}
	for i := range sessions {
		s := &sessions[i]
		m.annotate(s)
		if !s.Stale {
			continue
		}
		counts, err := store.CountSessionContents(ctx, q, s.ID)
		if err != nil {
			return nil, err
		}
		stale = append(stale, model.StaleSession{
			ID:           s.ID,
			CreatedAt:    s.CreatedAt,
			UpdatedAt:    s.UpdatedAt,
			IdleMinutes:  s.IdleMinutes,
			PendingItems: counts.PendingItems,
		})
	}
	return stale, nil
}

// checkTarget verifies that the referenced bin and location exist and agree.
func checkTarget(ctx context.Context, q db.Querier, t Target) error {
	var bin *model.Bin
	if t.BinID != nil {
		var err error
		if bin, err = store.GetBin(ctx, q, *t.BinID); err != nil {
			return err
		}
		if bin == nil {
			return apperr.NotFoundf("bin %s not found", *t.BinID)
		}
	}
	if t.LocationID != nil {
		loc, err := store.GetLocation(ctx, q, *t.LocationID)
		if err != nil {
			return err
		}
		if loc == nil {
			return apperr.NotFoundf("location %s not found", *t.LocationID)
		}
		if bin != nil && bin.LocationID != loc.ID {
			return apperr.Invalidf("bin %s is not in location %s", bin.ID, loc.ID)
		}
	}
	return nil
}

func sharedBinWarning(ctx context.Context, q db.Querier, s *model.Session) (string, error) {
	if s.TargetBinID == nil {
		return "", nil
	}
	others, err := store.PendingSessionsTargetingBin(ctx, q, *s.TargetBinID, s.ID)
	if err != nil || len(others) == 0 {
		return "", err
	}
	ids := make([]string, len(others))
	for i, o := range others {
		ids[i] = o.ID
	}
	return fmt.Sprintf("bin %s is also targeted by pending session(s) %s", *s.TargetBinID, strings.Join(ids, ", ")), nil
}

// Active returns the pending sessions with their staging counts.
func (m *Manager) Active(ctx context.Context) ([]model.ActiveSession, error) {
	sessions, err := store.ListSessionsByStatus(ctx, m.db, model.SessionPending)
	if err != nil {
		return nil, apperr.Wrap(err)
	}
	active := make([]model.ActiveSession, 0, len(sessions))
	for _, s := range sessions {
		m.annotate(&s)
		counts, err := store.CountSessionContents(ctx, m.db, s.ID)
		if err != nil {
			return nil, apperr.Wrap(err)
		}
		active = append(active, model.ActiveSession{Session: s, PendingItems: counts.PendingItems, Images: counts.Images})
	}
	return active, nil
}

// Get returns a session with its images and pending items.
func (m *Manager) Get(ctx context.Context, id string) (*model.SessionDetail, error) {
	s, err := m.getSession(ctx, m.db, id)
	if err != nil {
		return nil, apperr.Wrap(err)
	}
	images, err := store.ListSessionImages(ctx, m.db, id)
	if err != nil {
		return nil, apperr.Wrap(err)
	}
	pending, err := store.ListPendingItems(ctx, m.db, id)
	if err != nil {
		return nil, apperr.Wrap(err)
	}
	if images == nil {
		images = []model.SessionImage{}
	}
	if pending == nil {
		pending = []model.PendingItem{}
	}
	return &model.SessionDetail{Session: *s, Images: images, PendingItems: pending}, nil
}

// History returns finished sessions, newest first.
func (m *Manager) History(ctx context.Context, f store.SessionHistoryFilter) ([]model.Session, error) {
	switch f.Status {
	case "", model.SessionCommitted, model.SessionCancelled:
	default:
		return nil, apperr.Invalidf("history status must be committed or cancelled, got %q", f.Status)
	}
	if f.Limit <= 0 {
		f.Limit = 50
	}
	sessions, err := store.ListSessionHistory(ctx, m.db, f)
	if err != nil {
		return nil, apperr.Wrap(err)
	}
	if sessions == nil {
		sessions = []model.Session{}
	}
	return sessions, nil
}

// Resume marks a pending session as active again, clearing staleness.
func (m *Manager) Resume(ctx context.Context, id string) (*model.Session, error) {
	var s *model.Session
	err := m.tx(ctx, func(tx *sql.Tx) error {
		var err error
		if s, err = m.pending(ctx, tx, id); err != nil {
			return err
		}
		return m.touch(ctx, tx, s)
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// SetTarget replaces the session's target bin and location.
func (m *Manager) SetTarget(ctx context.Context, id string, target Target) (*Result, error) {
	target = Target{BinID: nonEmpty(target.BinID), LocationID: nonEmpty(target.LocationID)}

	var res *Result
	err := m.tx(ctx, func(tx *sql.Tx) error {
		s, err := m.mutable(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := checkTarget(ctx, tx, target); err != nil {
			return err
		}
		now := m.now()
		if err := store.UpdateSessionTarget(ctx, tx, id, target.BinID, target.LocationID, now); err != nil {
			return err
		}
		s.TargetBinID, s.TargetLocationID, s.UpdatedAt = target.BinID, target.LocationID, now
		m.annotate(s)

		warning, err := sharedBinWarning(ctx, tx, s)
		if err != nil {
			return err
		}
		res = &Result{Session: s, Warning: warning}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// CommitResult is the stored commit summary together with the committed
// session.
type CommitResult struct {
	model.CommitSummary
	Session *model.Session `json:"session"`
}

// Commit turns every pending item into an item and promotes every staged
// image into the target bin, all in one transaction. binID overrides the
// session's own target. On failure nothing is committed, copied files are
// removed again and the session stays pending.
func (m *Manager) Commit(ctx context.Context, id string, binID *string) (*CommitResult, error) {
	start := time.Now()
	binID = nonEmpty(binID)

	changes := m.engine.Track()
	var summary *model.CommitSummary
	var committed *model.Session
	var copied []string

	err := m.tx(ctx, func(tx *sql.Tx) error {
		s, err := m.pending(ctx, tx, id)
		if err != nil {
			return err
		}
		now := m.now()

		bin, created, err := m.resolveTarget(ctx, tx, s, binID, now)
		if err != nil {
			return err
		}
		summary = &model.CommitSummary{
			ItemsAdded:  []string{},
			ImagesSaved: []string{},
			TargetBinID: bin.ID,
			BinCreated:  created,
		}

		promoted, err := m.promoteImages(ctx, tx, s.ID, bin.ID, now, summary, &copied)
		if err != nil {
			return err
		}

		pending, err := store.ListPendingItems(ctx, tx, s.ID)
		if err != nil {
			return err
		}
		for _, p := range pending {
			in := inventory.AddInput{
				BinID:           bin.ID,
				CategoryID:      p.CategoryID,
				Name:            p.Name,
				Description:     p.Description,
				Quantity:        p.Quantity,
				Source:          p.Source.ItemSource(),
				SourceReference: s.ID,
				Notes:           p.Notes,
				Note:            "committed from session " + s.ID,
			}
			if p.SourceImageID != nil {
				in.PhotoRef = promoted[*p.SourceImageID]
			}
			item, err := m.engine.AddTx(ctx, tx, changes, in)
			if err != nil {
				return fmt.Errorf("adding pending item %q: %w", p.Name, err)
			}
			summary.ItemsAdded = append(summary.ItemsAdded, item.ID)
		}

		if s.TargetBinID == nil || *s.TargetBinID != bin.ID {
			if err := store.UpdateSessionTarget(ctx, tx, s.ID, &bin.ID, &bin.LocationID, now); err != nil {
				return err
			}
		}
		ok, err := store.FinishSession(ctx, tx, s.ID, model.SessionCommitted, model.SessionSummary{Commit: summary}, now)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.Invalidf("session %s is no longer pending", s.ID)
		}
		committed, err = m.getSession(ctx, tx, s.ID)
		return err
	})
	if err != nil {
		m.removeFiles(copied)
		if apperr.CodeOf(err) == apperr.Internal {
			m.logger.Error("session commit failed", "session", id, "error", err)
		}
		return nil, err
	}

	changes.Publish()
	transitioned(model.SessionCommitted)
	metrics.SessionCommitDuration.Observe(time.Since(start).Seconds())
	m.logger.Info("session committed", "session", id, "bin", summary.TargetBinID,
		"items", len(summary.ItemsAdded), "images", len(summary.ImagesSaved))
	return &CommitResult{CommitSummary: *summary, Session: committed}, nil
}

// resolveTarget picks the commit bin: the explicit bin, then the session's
// bin, then the default bin of the session's location, created if needed.
func (m *Manager) resolveTarget(ctx context.Context, q db.Querier, s *model.Session, binID *string, now time.Time) (*model.Bin, bool, error) {
	if binID == nil {
		binID = s.TargetBinID
	}
	if binID != nil {
		bin, err := store.GetBin(ctx, q, *binID)
		if err != nil {
			return nil, false, err
		}
		if bin == nil {
			return nil, false, apperr.NotFoundf("bin %s not found", *binID)
		}
		return bin, false, nil
	}

	if s.TargetLocationID == nil {
		return nil, false, apperr.New(apperr.NoTarget, "session %s has no target bin or location", s.ID)
	}
	loc, err := store.GetLocation(ctx, q, *s.TargetLocationID)
	if err != nil {
		return nil, false, err
	}
	if loc == nil {
		return nil, false, apperr.NotFoundf("location %s not found", *s.TargetLocationID)
	}
	bin, err := store.FindBin(ctx, q, loc.ID, nil, model.DefaultBinName)
	if err != nil {
		return nil, false, err
	}
	if bin != nil {
		return bin, false, nil
	}
	bin, err = catalog.CreateBinTx(ctx, q, loc.ID, nil, model.DefaultBinName, "", now)
	if err != nil {
		return nil, false, err
	}
	return bin, true, nil
}

// promoteImages copies the session's images into the bin and records them.
// It returns the promoted ref per session image id. Every file written is
// appended to copied so a failed commit can remove it.
func (m *Manager) promoteImages(ctx context.Context, q db.Querier, sessionID, binID string, now time.Time, summary *model.CommitSummary, copied *[]string) (map[string]string, error) {
	images, err := store.ListSessionImages(ctx, q, sessionID)
	if err != nil {
		return nil, err
	}
	hasPrimary, err := store.HasPrimaryBinImage(ctx, q, binID)
	if err != nil {
		return nil, err
	}

	promoted := make(map[string]string, len(images))
	for _, img := range images {
		if img.Discarded {
			continue
		}
		ref, err := m.images.CopyToBin(img.ImageRef, binID)
		if err != nil {
			return nil, fmt.Errorf("copying image %s: %w", img.ID, err)
		}
		*copied = append(*copied, ref)

		var thumb string
		if img.ThumbnailRef != "" {
			if thumb, err = m.images.CopyToBin(img.ThumbnailRef, binID); err != nil {
				return nil, fmt.Errorf("copying thumbnail of %s: %w", img.ID, err)
			}
			*copied = append(*copied, thumb)
		}

		bi := &model.BinImage{
			ID:                   store.NewID(),
			BinID:                binID,
			ImageRef:             ref,
			ThumbnailRef:         thumb,
			IsPrimary:            !hasPrimary,
			SourceSessionID:      &sessionID,
			SourceSessionImageID: &img.ID,
			Width:                img.Width,
			Height:               img.Height,
			SizeBytes:            img.SizeBytes,
			CreatedAt:            now,
		}
		if err := store.InsertBinImage(ctx, q, bi); err != nil {
			return nil, err
		}
		hasPrimary = true
		promoted[img.ID] = ref
		summary.ImagesSaved = append(summary.ImagesSaved, bi.ID)
	}
	return promoted, nil
}

// Cancel abandons a pending session. Its images are marked discarded and
// their files deleted best-effort; pending items are kept for the record.
// The cancelled session is returned with its summary.
func (m *Manager) Cancel(ctx context.Context, id, reason string) (*model.Session, error) {
	summary := &model.CancelSummary{Reason: strings.TrimSpace(reason)}
	var images []model.SessionImage
	var cancelled *model.Session

	err := m.tx(ctx, func(tx *sql.Tx) error {
		s, err := m.pending(ctx, tx, id)
		if err != nil {
			return err
		}
		if images, err = store.ListSessionImages(ctx, tx, s.ID); err != nil {
			return err
		}
		ok, err := store.FinishSession(ctx, tx, s.ID, model.SessionCancelled, model.SessionSummary{Cancel: summary}, m.now())
		if err != nil {
			return err
		}
		if !ok {
			return apperr.Invalidf("session %s is no longer pending", s.ID)
		}
		if err := store.DiscardSessionImages(ctx, tx, s.ID); err != nil {
			return err
		}
		cancelled, err = m.getSession(ctx, tx, s.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	refs := make([]string, 0, 2*len(images))
	for _, img := range images {
		refs = append(refs, img.ImageRef, img.ThumbnailRef)
	}
	m.removeFiles(refs)

	transitioned(model.SessionCancelled)
	m.logger.Info("session cancelled", "session", id, "images_discarded", len(images))
	return cancelled, nil
}
