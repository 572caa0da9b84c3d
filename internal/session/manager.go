// Package session implements staging sessions: a disposable area where
// images and candidate items collect before one atomic commit turns them into
// inventory.
package session

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/erazemk/shramba/internal/apperr"
	"github.com/erazemk/shramba/internal/db"
	"github.com/erazemk/shramba/internal/imaging"
	"github.com/erazemk/shramba/internal/inventory"
	"github.com/erazemk/shramba/internal/metrics"
	"github.com/erazemk/shramba/internal/model"
	"github.com/erazemk/shramba/internal/store"
	"github.com/erazemk/shramba/internal/vision"
)

const (
	// DefaultStaleAfter is how long a pending session may sit idle.
	DefaultStaleAfter = 30 * time.Minute
	// DefaultMaxImageBytes caps uploaded images.
	DefaultMaxImageBytes = 10 << 20

	extractionTimeout = 2 * time.Minute
	dbTimeout         = 5 * time.Second
)

// Options tunes a Manager. Zero values fall back to defaults.
type Options struct {
	Clock         clockwork.Clock
	Logger        *slog.Logger
	StaleAfter    time.Duration
	MaxImageBytes int64
	Image         imaging.Options
}

// Manager runs the session state machine pending → committed | cancelled.
type Manager struct {
	db        *sql.DB
	engine    *inventory.Engine
	images    imaging.Store
	extractor vision.Extractor

	clock         clockwork.Clock
	logger        *slog.Logger
	staleAfter    time.Duration
	maxImageBytes int64
	imageOpts     imaging.Options

	// Queued extractions outlive the request that started them.
	bgCtx  context.Context
	stop   context.CancelFunc
	wg     sync.WaitGroup
	closed sync.Once
}

// New creates a session manager. extractor may be nil when vision is not
// configured; images then can only be staged without extraction.
func New(database *sql.DB, engine *inventory.Engine, images imaging.Store, extractor vision.Extractor, opts Options) *Manager {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = DefaultStaleAfter
	}
	if opts.MaxImageBytes <= 0 {
		opts.MaxImageBytes = DefaultMaxImageBytes
	}
	if opts.Image == (imaging.Options{}) {
		opts.Image = imaging.DefaultOptions()
	}

	ctx, stop := context.WithCancel(context.Background())
	return &Manager{
		db:            database,
		engine:        engine,
		images:        images,
		extractor:     extractor,
		clock:         opts.Clock,
		logger:        opts.Logger,
		staleAfter:    opts.StaleAfter,
		maxImageBytes: opts.MaxImageBytes,
		imageOpts:     opts.Image,
		bgCtx:         ctx,
		stop:          stop,
	}
}

// Close cancels queued extractions and waits for them to finish.
func (m *Manager) Close() {
	m.closed.Do(func() {
		m.stop()
		m.wg.Wait()
	})
}

func (m *Manager) now() time.Time {
	return m.clock.Now().UTC()
}

func (m *Manager) tx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return apperr.Wrap(db.WithTx(ctx, m.db, fn))
}

// annotate fills in the computed staleness fields.
func (m *Manager) annotate(s *model.Session) {
	idle := m.now().Sub(s.UpdatedAt)
	if idle < 0 {
		idle = 0
	}
	s.IdleMinutes = int(idle / time.Minute)
	s.Stale = s.Status == model.SessionPending && idle >= m.staleAfter
}

func (m *Manager) getSession(ctx context.Context, q db.Querier, id string) (*model.Session, error) {
	s, err := store.GetSession(ctx, q, id)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, apperr.NotFoundf("session %s not found", id)
	}
	m.annotate(s)
	return s, nil
}

// pending loads a session that must still be pending.
func (m *Manager) pending(ctx context.Context, q db.Querier, id string) (*model.Session, error) {
	s, err := m.getSession(ctx, q, id)
	if err != nil {
		return nil, err
	}
	if s.Status != model.SessionPending {
		return nil, apperr.Invalidf("session %s is %s", id, s.Status)
	}
	return s, nil
}

// mutable loads a session that accepts staging changes: pending and not stale.
func (m *Manager) mutable(ctx context.Context, q db.Querier, id string) (*model.Session, error) {
	s, err := m.pending(ctx, q, id)
	if err != nil {
		return nil, err
	}
	if s.Stale {
		return nil, apperr.New(apperr.SessionStale,
			"session %s has been idle for %d minutes; resume, commit or cancel it", id, s.IdleMinutes)
	}
	return s, nil
}

func (m *Manager) touch(ctx context.Context, q db.Querier, s *model.Session) error {
	now := m.now()
	if err := store.TouchSession(ctx, q, s.ID, now); err != nil {
		return err
	}
	s.UpdatedAt = now
	m.annotate(s)
	return nil
}

// removeFiles deletes image files best-effort. Failures are logged and
// counted, never returned.
func (m *Manager) removeFiles(refs []string) {
	for _, ref := range refs {
		if ref == "" {
			continue
		}
		if _, err := m.images.Delete(ref); err != nil {
			metrics.ImageCleanupFailures.Inc()
			m.logger.Warn("failed to delete image file", "ref", ref, "error", err)
		}
	}
}

func transitioned(status model.SessionStatus) {
	metrics.SessionTransitionsTotal.WithLabelValues(string(status)).Inc()
}

// nonEmpty turns a pointer to "" into nil.
func nonEmpty(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	return s
}
