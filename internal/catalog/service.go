// Package catalog enforces the structural rules of the Location → Bin and
// Category hierarchies: uniqueness, acyclic parents, and deletion blocked by
// dependents.
package catalog

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/erazemk/shramba/internal/apperr"
	"github.com/erazemk/shramba/internal/imaging"
	"github.com/erazemk/shramba/internal/model"
	"github.com/erazemk/shramba/internal/store"
)

// Service manages locations, bins and categories.
type Service struct {
	db        *sql.DB
	images    imaging.Store
	imageOpts imaging.Options
	clock     clockwork.Clock
	logger    *slog.Logger
}

// New creates a catalog service. images may be nil, in which case bin photos
// cannot be uploaded and image files are left alone when a bin is deleted.
func New(database *sql.DB, images imaging.Store, clock clockwork.Clock, logger *slog.Logger) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{db: database, images: images, imageOpts: imaging.DefaultOptions(), clock: clock, logger: logger}
}

// SetImageOptions sets how uploaded bin photos are normalised.
func (s *Service) SetImageOptions(opts imaging.Options) {
	s.imageOpts = opts
}

func (s *Service) now() time.Time {
	return s.clock.Now().UTC()
}

// requireName normalises a name and rejects an empty one.
func requireName(kind, name string) (string, error) {
	name = model.NormalizeName(name)
	if name == "" {
		return "", apperr.Invalidf("%s name must not be empty", kind)
	}
	return name, nil
}

// translate maps storage constraint failures that slipped past the explicit
// checks onto domain codes; anything else becomes INTERNAL.
func translate(err error, kind string) error {
	switch {
	case err == nil:
		return nil
	case store.IsUniqueViolation(err):
		return apperr.New(apperr.AlreadyExists, "%s already exists", kind)
	case store.IsForeignKeyViolation(err):
		return apperr.New(apperr.HasDependencies, "%s is still referenced", kind)
	}
	return apperr.Wrap(err)
}

func bulkFailure(id string, err error) model.BulkFailure {
	e := apperr.As(err)
	return model.BulkFailure{ID: id, Code: string(e.Code), Error: e.Message}
}
