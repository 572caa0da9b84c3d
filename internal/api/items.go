package api

import (
	"net/http"
	"strings"

	"github.com/erazemk/shramba/internal/inventory"
	"github.com/erazemk/shramba/internal/model"
	"github.com/erazemk/shramba/internal/store"
)

// ItemsHandler handles items, their aliases and the activity ledger.
type ItemsHandler struct {
	Engine *inventory.Engine
	responder
}

type useRequest struct {
	Quantity *int   `json:"quantity"`
	Note     string `json:"note"`
}

type moveRequest struct {
	ToBinID  string `json:"to_bin_id"`
	Quantity *int   `json:"quantity"`
}

type bulkMoveRequest struct {
	IDs     []string `json:"ids"`
	ToBinID string   `json:"to_bin_id"`
}

type bulkAddRequest struct {
	BinID           string               `json:"bin_id"`
	Source          model.Source         `json:"source"`
	SourceReference string               `json:"source_reference"`
	Items           []inventory.AddInput `json:"items"`
}

type bulkDeleteRequest struct {
	IDs    []string `json:"ids"`
	Reason string   `json:"reason"`
}

type aliasRequest struct {
	Alias string `json:"alias"`
}

// List handles GET /api/items. Filters: bin_id, category_id, limit.
func (h *ItemsHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	q := r.URL.Query()
	items, err := h.Engine.List(r.Context(), store.ItemFilter{
		BinID:      q.Get("bin_id"),
		CategoryID: q.Get("category_id"),
		Limit:      limit,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if items == nil {
		items = []model.Item{}
	}
	jsonResponse(w, http.StatusOK, items)
}

// Create handles POST /api/items.
func (h *ItemsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req inventory.AddInput
	if err := decodeJSON(w, r, &req); err != nil {
		badBody(w)
		return
	}
	if req.Source == "" {
		req.Source = model.SourceManual
	}
	item, err := h.Engine.Add(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	jsonResponse(w, http.StatusCreated, item)
}

// Get handles GET /api/items/{id}.
func (h *ItemsHandler) Get(w http.ResponseWriter, r *http.Request) {
	item, err := h.Engine.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, item)
}

// Update handles PUT /api/items/{id}.
func (h *ItemsHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req inventory.ItemPatch
	if err := decodeJSON(w, r, &req); err != nil {
		badBody(w)
		return
	}
	item, err := h.Engine.Update(r.Context(), r.PathValue("id"), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, item)
}

// Delete handles DELETE /api/items/{id}?reason=.
func (h *ItemsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.Engine.Remove(r.Context(), r.PathValue("id"), r.URL.Query().Get("reason")); err != nil {
		h.fail(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, map[string]string{"message": "item removed"})
}

// Use handles POST /api/items/{id}/use. The quantity defaults to 1.
func (h *ItemsHandler) Use(w http.ResponseWriter, r *http.Request) {
	var req useRequest
	if err := decodeOptionalJSON(w, r, &req); err != nil {
		badBody(w)
		return
	}
	quantity := 1
	if req.Quantity != nil {
		quantity = *req.Quantity
	}
	res, err := h.Engine.Use(r.Context(), r.PathValue("id"), quantity, req.Note)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, res)
}

// Move handles POST /api/items/{id}/move.
func (h *ItemsHandler) Move(w http.ResponseWriter, r *http.Request) {
	var req moveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badBody(w)
		return
	}
	res, err := h.Engine.Move(r.Context(), r.PathValue("id"), req.ToBinID, req.Quantity)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, res)
}

// MoveBulk handles POST /api/items/move. Each item is moved independently;
// the response lists successes and per-item failures.
func (h *ItemsHandler) MoveBulk(w http.ResponseWriter, r *http.Request) {
	var req bulkMoveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badBody(w)
		return
	}
	jsonResponse(w, http.StatusOK, h.Engine.MoveBulk(r.Context(), req.IDs, req.ToBinID))
}

// AddBulk handles POST /api/items/bulk. Every item lands in bin_id and
// shares the request's source; items are added independently.
func (h *ItemsHandler) AddBulk(w http.ResponseWriter, r *http.Request) {
	var req bulkAddRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badBody(w)
		return
	}
	if req.Source == "" {
		req.Source = model.SourceManual
	}
	for i := range req.Items {
		req.Items[i].Source = req.Source
		req.Items[i].SourceReference = req.SourceReference
	}
	res, err := h.Engine.AddBulk(r.Context(), req.BinID, req.Items)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, res)
}

// DeleteBulk handles POST /api/items/delete.
func (h *ItemsHandler) DeleteBulk(w http.ResponseWriter, r *http.Request) {
	var req bulkDeleteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badBody(w)
		return
	}
	jsonResponse(w, http.StatusOK, h.Engine.DeleteBulk(r.Context(), req.IDs, req.Reason))
}

// History handles GET /api/items/{id}/history.
func (h *ItemsHandler) History(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Engine.History(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, entries)
}

// ListAliases handles GET /api/items/{id}/aliases.
func (h *ItemsHandler) ListAliases(w http.ResponseWriter, r *http.Request) {
	aliases, err := h.Engine.ListAliases(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if aliases == nil {
		aliases = []model.Alias{}
	}
	jsonResponse(w, http.StatusOK, aliases)
}

// AddAlias handles POST /api/items/{id}/aliases.
func (h *ItemsHandler) AddAlias(w http.ResponseWriter, r *http.Request) {
	var req aliasRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badBody(w)
		return
	}
	alias, err := h.Engine.AddAlias(r.Context(), r.PathValue("id"), req.Alias)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	jsonResponse(w, http.StatusCreated, alias)
}

// RemoveAlias handles DELETE /api/items/{id}/aliases?alias=.
func (h *ItemsHandler) RemoveAlias(w http.ResponseWriter, r *http.Request) {
	if err := h.Engine.RemoveAlias(r.Context(), r.PathValue("id"), r.URL.Query().Get("alias")); err != nil {
		h.fail(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, map[string]string{"message": "alias removed"})
}

// Activity handles GET /api/activity. Filters: item_id, bin_id, action,
// since, until (RFC 3339), limit.
func (h *ItemsHandler) Activity(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := model.ActivityFilter{
		ItemID: q.Get("item_id"),
		BinID:  q.Get("bin_id"),
		Action: model.Action(strings.ToLower(q.Get("action"))),
	}
	var err error
	if f.Since, err = queryTime(r, "since"); err != nil {
		h.fail(w, r, err)
		return
	}
	if f.Until, err = queryTime(r, "until"); err != nil {
		h.fail(w, r, err)
		return
	}
	if f.Limit, err = queryInt(r, "limit"); err != nil {
		h.fail(w, r, err)
		return
	}

	entries, err := h.Engine.Activity(r.Context(), f)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if entries == nil {
		entries = []model.ActivityEntry{}
	}
	jsonResponse(w, http.StatusOK, entries)
}

// Search handles GET /api/search?q=&limit=.
func (h *ItemsHandler) Search(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	results, err := h.Engine.Search(r.Context(), r.URL.Query().Get("q"), limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, results)
}
