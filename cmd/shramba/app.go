package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jonboulle/clockwork"

	"github.com/erazemk/shramba/internal/catalog"
	"github.com/erazemk/shramba/internal/config"
	"github.com/erazemk/shramba/internal/db"
	"github.com/erazemk/shramba/internal/imaging"
	"github.com/erazemk/shramba/internal/inventory"
	"github.com/erazemk/shramba/internal/search"
	"github.com/erazemk/shramba/internal/session"
	"github.com/erazemk/shramba/internal/vision"
)

// app holds the wired services for one process.
type app struct {
	cfg       *config.Config
	db        *sql.DB
	clock     clockwork.Clock
	logger    *slog.Logger
	catalog   *catalog.Service
	engine    *inventory.Engine
	sessions  *session.Manager
	refresher *search.Refresher
}

// openDB opens the database and brings its schema up to date.
func openDB(ctx context.Context, path string) (*sql.DB, error) {
	database, err := db.Open(path)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx, database); err != nil {
		database.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}
	return database, nil
}

// openApp wires every service from cfg. Embeddings and vision extraction are
// enabled only when their API keys are set.
func openApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	database, err := openDB(ctx, cfg.DatabasePath)
	if err != nil {
		return nil, err
	}
	logger.Info("database ready", "path", cfg.DatabasePath)

	images, err := imaging.NewFS(cfg.ImageDir)
	if err != nil {
		database.Close()
		return nil, err
	}

	a := &app{cfg: cfg, db: database, clock: clockwork.NewRealClock(), logger: logger}

	if cfg.Voyage.APIKey != "" {
		var voyageOpts []search.VoyageOption
		if cfg.Voyage.BaseURL != "" {
			voyageOpts = append(voyageOpts, search.WithVoyageBaseURL(cfg.Voyage.BaseURL))
		}
		embedder, err := search.NewVoyage(cfg.Voyage.APIKey, cfg.Voyage.Model, voyageOpts...)
		if err != nil {
			database.Close()
			return nil, err
		}
		a.refresher = search.NewRefresher(database, embedder, logger, 0)
		a.refresher.Start(ctx, 2)
		logger.Info("embedding refresh enabled", "model", embedder.Model())
	}

	var extractor vision.Extractor
	client, err := vision.NewClient(vision.Config{
		APIKey:            cfg.Anthropic.APIKey,
		Model:             cfg.Anthropic.Model,
		RequestsPerMinute: cfg.Anthropic.RequestsPerMinute,
		Logger:            logger,
	})
	switch {
	case errors.Is(err, vision.ErrNotConfigured):
		logger.Info("vision extraction disabled, no Anthropic API key")
	case err != nil:
		a.close()
		return nil, err
	default:
		extractor = client
	}

	imageOpts := imaging.Options{
		MaxDimension:  cfg.Images.MaxDimension,
		ThumbnailSize: cfg.Images.ThumbnailSize,
		Quality:       cfg.Images.Quality,
	}
	a.catalog = catalog.New(database, images, a.clock, logger)
	a.catalog.SetImageOptions(imageOpts)
	a.engine = inventory.New(database, search.NewSynchronizer(search.NewFTS(), a.refresher, logger), a.clock, logger)
	a.sessions = session.New(database, a.engine, images, extractor, session.Options{
		Clock:         a.clock,
		Logger:        logger,
		StaleAfter:    cfg.Sessions.StaleAfter,
		MaxImageBytes: cfg.Sessions.MaxImageBytes,
		Image:         imageOpts,
	})
	return a, nil
}

// close stops background work before closing the database.
func (a *app) close() {
	if a.sessions != nil {
		a.sessions.Close()
	}
	if a.refresher != nil {
		a.refresher.Close()
	}
	a.db.Close()
}
