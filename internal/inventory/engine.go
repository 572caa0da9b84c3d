// Package inventory implements the item lifecycle: add, update, use, remove
// and move (with split). Every mutation writes exactly one ledger entry and
// its index update in the same transaction as the item change.
package inventory

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/erazemk/shramba/internal/apperr"
	"github.com/erazemk/shramba/internal/db"
	"github.com/erazemk/shramba/internal/metrics"
	"github.com/erazemk/shramba/internal/model"
	"github.com/erazemk/shramba/internal/search"
	"github.com/erazemk/shramba/internal/store"
)

// Engine performs item mutations.
type Engine struct {
	db     *sql.DB
	sync   *search.Synchronizer
	clock  clockwork.Clock
	logger *slog.Logger
}

// New creates an engine. Every item mutation reaches the search index through
// syncer.
func New(database *sql.DB, syncer *search.Synchronizer, clock clockwork.Clock, logger *slog.Logger) *Engine {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{db: database, sync: syncer, clock: clock, logger: logger}
}

// Track starts a search change set for a unit of work that calls the *Tx
// methods directly. Publish it after the unit commits.
func (e *Engine) Track() *search.Changes {
	return e.sync.Track()
}

func (e *Engine) now() time.Time {
	return e.clock.Now().UTC()
}

// unit runs fn as one atomic unit and publishes its index changes once it
// committed.
func (e *Engine) unit(ctx context.Context, fn func(tx *sql.Tx, changes *search.Changes) error) error {
	changes := e.sync.Track()
	err := db.WithTx(ctx, e.db, func(tx *sql.Tx) error {
		return fn(tx, changes)
	})
	if err != nil {
		return apperr.Wrap(err)
	}
	changes.Publish()
	return nil
}

// record appends a ledger entry stamped with the engine's clock.
func (e *Engine) record(ctx context.Context, q db.Querier, entry *model.ActivityEntry) error {
	entry.ID = store.NewID()
	entry.CreatedAt = e.now()
	return store.AppendActivity(ctx, q, entry)
}

func mutated(action model.Action) {
	metrics.ItemMutationsTotal.WithLabelValues(string(action)).Inc()
}

func getItem(ctx context.Context, q db.Querier, id string) (*model.Item, error) {
	item, err := store.GetItem(ctx, q, id)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, apperr.NotFoundf("item %s not found", id)
	}
	return item, nil
}

func requireBin(ctx context.Context, q db.Querier, id string) (*model.Bin, error) {
	bin, err := store.GetBin(ctx, q, id)
	if err != nil {
		return nil, err
	}
	if bin == nil {
		return nil, apperr.NotFoundf("bin %s not found", id)
	}
	return bin, nil
}

func requireCategory(ctx context.Context, q db.Querier, id string) error {
	c, err := store.GetCategory(ctx, q, id)
	if err != nil {
		return err
	}
	if c == nil {
		return apperr.NotFoundf("category %s not found", id)
	}
	return nil
}

func intPtr(n int) *int { return &n }

func strPtr(s string) *string { return &s }
