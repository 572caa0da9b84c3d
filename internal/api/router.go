// Package api exposes the catalog, the item lifecycle and staging sessions
// over HTTP. Every /api route requires a bearer service token.
package api

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/erazemk/shramba/internal/apperr"
	"github.com/erazemk/shramba/internal/catalog"
	"github.com/erazemk/shramba/internal/inventory"
	"github.com/erazemk/shramba/internal/session"
)

// Deps are the services the router dispatches to.
type Deps struct {
	DB          *sql.DB
	Catalog     *catalog.Service
	Engine      *inventory.Engine
	Sessions    *session.Manager
	TokenSecret string
	// MaxImageBytes bounds image uploads; zero means session.DefaultMaxImageBytes.
	MaxImageBytes int64
	Clock         clockwork.Clock
	Logger        *slog.Logger
}

// NewRouter creates the router with all endpoints registered.
func NewRouter(d Deps) http.Handler {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Clock == nil {
		d.Clock = clockwork.NewRealClock()
	}
	if d.MaxImageBytes <= 0 {
		d.MaxImageBytes = session.DefaultMaxImageBytes
	}
	rs := responder{logger: d.Logger}

	mux := http.NewServeMux()

	authHandler := &AuthHandler{DB: d.DB, Clock: d.Clock, responder: rs}
	catalogHandler := &CatalogHandler{Catalog: d.Catalog, MaxImageBytes: d.MaxImageBytes, responder: rs}
	itemsHandler := &ItemsHandler{Engine: d.Engine, responder: rs}
	sessionsHandler := &SessionsHandler{Sessions: d.Sessions, MaxImageBytes: d.MaxImageBytes, responder: rs}

	authMW := AuthMiddleware(d.TokenSecret, d.DB, d.Logger)
	handle := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, authMW(h))
	}

	// Ops, unauthenticated.
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", healthz(d.DB))

	handle("POST /api/auth/revoke", authHandler.Revoke)

	// Locations.
	handle("GET /api/locations", catalogHandler.ListLocations)
	handle("POST /api/locations", catalogHandler.CreateLocation)
	handle("GET /api/locations/{id}", catalogHandler.GetLocation)
	handle("PUT /api/locations/{id}", catalogHandler.UpdateLocation)
	handle("DELETE /api/locations/{id}", catalogHandler.DeleteLocation)

	// Bins.
	handle("GET /api/bins", catalogHandler.ListBins)
	handle("POST /api/bins", catalogHandler.CreateBin)
	handle("POST /api/bins/delete", catalogHandler.DeleteBins)
	handle("GET /api/bins/{id}", catalogHandler.GetBin)
	handle("PUT /api/bins/{id}", catalogHandler.UpdateBin)
	handle("DELETE /api/bins/{id}", catalogHandler.DeleteBin)
	handle("GET /api/bins/{id}/images", catalogHandler.ListBinImages)
	handle("POST /api/bins/{id}/images", catalogHandler.AddBinImage)
	handle("DELETE /api/bins/{id}/images/{image}", catalogHandler.RemoveBinImage)
	handle("POST /api/bins/{id}/images/{image}/primary", catalogHandler.SetPrimaryBinImage)

	// Categories.
	handle("GET /api/categories", catalogHandler.ListCategories)
	handle("POST /api/categories", catalogHandler.CreateCategory)
	handle("GET /api/categories/{id}", catalogHandler.GetCategory)
	handle("PUT /api/categories/{id}", catalogHandler.UpdateCategory)
	handle("DELETE /api/categories/{id}", catalogHandler.DeleteCategory)

	// Items.
	handle("GET /api/items", itemsHandler.List)
	handle("POST /api/items", itemsHandler.Create)
	handle("POST /api/items/bulk", itemsHandler.AddBulk)
	handle("POST /api/items/move", itemsHandler.MoveBulk)
	handle("POST /api/items/delete", itemsHandler.DeleteBulk)
	handle("GET /api/items/{id}", itemsHandler.Get)
	handle("PUT /api/items/{id}", itemsHandler.Update)
	handle("DELETE /api/items/{id}", itemsHandler.Delete)
	handle("POST /api/items/{id}/use", itemsHandler.Use)
	handle("POST /api/items/{id}/move", itemsHandler.Move)
	handle("GET /api/items/{id}/history", itemsHandler.History)
	handle("GET /api/items/{id}/aliases", itemsHandler.ListAliases)
	handle("POST /api/items/{id}/aliases", itemsHandler.AddAlias)
	handle("DELETE /api/items/{id}/aliases", itemsHandler.RemoveAlias)

	// Ledger and search.
	handle("GET /api/activity", itemsHandler.Activity)
	handle("GET /api/search", itemsHandler.Search)

	// Sessions.
	handle("GET /api/sessions", sessionsHandler.Active)
	handle("POST /api/sessions", sessionsHandler.Create)
	handle("GET /api/sessions/history", sessionsHandler.History)
	handle("GET /api/sessions/{id}", sessionsHandler.Get)
	handle("PUT /api/sessions/{id}/target", sessionsHandler.SetTarget)
	handle("POST /api/sessions/{id}/resume", sessionsHandler.Resume)
	handle("POST /api/sessions/{id}/images", sessionsHandler.AddImage)
	handle("POST /api/sessions/{id}/images/{image}/extract", sessionsHandler.Extract)
	handle("POST /api/sessions/{id}/items", sessionsHandler.AddPending)
	handle("PUT /api/sessions/{id}/items/{pending}", sessionsHandler.UpdatePending)
	handle("DELETE /api/sessions/{id}/items/{pending}", sessionsHandler.RemovePending)
	handle("POST /api/sessions/{id}/commit", sessionsHandler.Commit)
	handle("POST /api/sessions/{id}/cancel", sessionsHandler.Cancel)

	mux.HandleFunc("/api/", func(w http.ResponseWriter, r *http.Request) {
		jsonError(w, http.StatusNotFound, apperr.NotFound, "no such endpoint")
	})

	return mux
}

func healthz(database *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := database.PingContext(ctx); err != nil {
			jsonResponse(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
