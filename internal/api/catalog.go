package api

import (
	"net/http"
	"strconv"

	"github.com/erazemk/shramba/internal/apperr"
	"github.com/erazemk/shramba/internal/catalog"
	"github.com/erazemk/shramba/internal/model"
	"github.com/erazemk/shramba/internal/store"
)

// CatalogHandler handles locations, bins and categories.
type CatalogHandler struct {
	Catalog       *catalog.Service
	MaxImageBytes int64
	responder
}

type idsRequest struct {
	IDs []string `json:"ids"`
}

// ListLocations handles GET /api/locations.
func (h *CatalogHandler) ListLocations(w http.ResponseWriter, r *http.Request) {
	locations, err := h.Catalog.ListLocations(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if locations == nil {
		locations = []model.Location{}
	}
	jsonResponse(w, http.StatusOK, locations)
}

// CreateLocation handles POST /api/locations.
func (h *CatalogHandler) CreateLocation(w http.ResponseWriter, r *http.Request) {
	var req catalog.LocationInput
	if err := decodeJSON(w, r, &req); err != nil {
		badBody(w)
		return
	}
	loc, err := h.Catalog.CreateLocation(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	jsonResponse(w, http.StatusCreated, loc)
}

// GetLocation handles GET /api/locations/{id}.
func (h *CatalogHandler) GetLocation(w http.ResponseWriter, r *http.Request) {
	loc, err := h.Catalog.GetLocation(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, loc)
}

// UpdateLocation handles PUT /api/locations/{id}.
func (h *CatalogHandler) UpdateLocation(w http.ResponseWriter, r *http.Request) {
	var req catalog.LocationPatch
	if err := decodeJSON(w, r, &req); err != nil {
		badBody(w)
		return
	}
	loc, err := h.Catalog.UpdateLocation(r.Context(), r.PathValue("id"), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, loc)
}

// DeleteLocation handles DELETE /api/locations/{id}.
func (h *CatalogHandler) DeleteLocation(w http.ResponseWriter, r *http.Request) {
	if err := h.Catalog.DeleteLocation(r.Context(), r.PathValue("id")); err != nil {
		h.fail(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, map[string]string{"message": "location deleted"})
}

// ListBins handles GET /api/bins. Filters: location_id, parent_id, root=true.
func (h *CatalogHandler) ListBins(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.BinFilter{
		LocationID: q.Get("location_id"),
		ParentID:   q.Get("parent_id"),
		RootOnly:   q.Get("root") == "true",
	}
	bins, err := h.Catalog.ListBins(r.Context(), f)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if bins == nil {
		bins = []model.Bin{}
	}
	jsonResponse(w, http.StatusOK, bins)
}

// CreateBin handles POST /api/bins.
func (h *CatalogHandler) CreateBin(w http.ResponseWriter, r *http.Request) {
	var req catalog.BinInput
	if err := decodeJSON(w, r, &req); err != nil {
		badBody(w)
		return
	}
	bin, err := h.Catalog.CreateBin(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	jsonResponse(w, http.StatusCreated, bin)
}

// GetBin handles GET /api/bins/{id}. The response carries the bin's path
// from its root bin.
func (h *CatalogHandler) GetBin(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	bin, err := h.Catalog.GetBin(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	path, err := h.Catalog.BinPath(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, map[string]any{
		"bin":  bin,
		"path": path,
	})
}

// UpdateBin handles PUT /api/bins/{id}.
func (h *CatalogHandler) UpdateBin(w http.ResponseWriter, r *http.Request) {
	var req catalog.BinPatch
	if err := decodeJSON(w, r, &req); err != nil {
		badBody(w)
		return
	}
	bin, err := h.Catalog.UpdateBin(r.Context(), r.PathValue("id"), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, bin)
}

// DeleteBin handles DELETE /api/bins/{id}.
func (h *CatalogHandler) DeleteBin(w http.ResponseWriter, r *http.Request) {
	if err := h.Catalog.DeleteBin(r.Context(), r.PathValue("id")); err != nil {
		h.fail(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, map[string]string{"message": "bin deleted"})
}

// DeleteBins handles POST /api/bins/delete.
func (h *CatalogHandler) DeleteBins(w http.ResponseWriter, r *http.Request) {
	var req idsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badBody(w)
		return
	}
	jsonResponse(w, http.StatusOK, h.Catalog.DeleteBins(r.Context(), req.IDs))
}

// ListBinImages handles GET /api/bins/{id}/images.
func (h *CatalogHandler) ListBinImages(w http.ResponseWriter, r *http.Request) {
	images, err := h.Catalog.ListBinImages(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if images == nil {
		images = []model.BinImage{}
	}
	jsonResponse(w, http.StatusOK, images)
}

// AddBinImage handles POST /api/bins/{id}/images as multipart/form-data with
// an "image" file and optional "caption" and "primary" fields.
func (h *CatalogHandler) AddBinImage(w http.ResponseWriter, r *http.Request) {
	data, _, ok := readImageUpload(w, r, h.MaxImageBytes)
	if !ok {
		return
	}
	primary := false
	if v := r.FormValue("primary"); v != "" {
		var err error
		if primary, err = strconv.ParseBool(v); err != nil {
			jsonError(w, http.StatusBadRequest, apperr.InvalidInput, "primary must be a boolean")
			return
		}
	}

	img, err := h.Catalog.AddBinImage(r.Context(), r.PathValue("id"), catalog.BinImageInput{
		Data:    data,
		Caption: r.FormValue("caption"),
		Primary: primary,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	jsonResponse(w, http.StatusCreated, img)
}

// RemoveBinImage handles DELETE /api/bins/{id}/images/{image}.
func (h *CatalogHandler) RemoveBinImage(w http.ResponseWriter, r *http.Request) {
	if err := h.Catalog.RemoveBinImage(r.Context(), r.PathValue("id"), r.PathValue("image")); err != nil {
		h.fail(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, map[string]string{"message": "image removed"})
}

// SetPrimaryBinImage handles POST /api/bins/{id}/images/{image}/primary.
func (h *CatalogHandler) SetPrimaryBinImage(w http.ResponseWriter, r *http.Request) {
	img, err := h.Catalog.SetPrimaryBinImage(r.Context(), r.PathValue("id"), r.PathValue("image"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, img)
}

// ListCategories handles GET /api/categories.
func (h *CatalogHandler) ListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.Catalog.ListCategories(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if categories == nil {
		categories = []model.Category{}
	}
	jsonResponse(w, http.StatusOK, categories)
}

// CreateCategory handles POST /api/categories.
func (h *CatalogHandler) CreateCategory(w http.ResponseWriter, r *http.Request) {
	var req catalog.CategoryInput
	if err := decodeJSON(w, r, &req); err != nil {
		badBody(w)
		return
	}
	c, err := h.Catalog.CreateCategory(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	jsonResponse(w, http.StatusCreated, c)
}

// GetCategory handles GET /api/categories/{id}.
func (h *CatalogHandler) GetCategory(w http.ResponseWriter, r *http.Request) {
	c, err := h.Catalog.GetCategory(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, c)
}

// UpdateCategory handles PUT /api/categories/{id}.
func (h *CatalogHandler) UpdateCategory(w http.ResponseWriter, r *http.Request) {
	var req catalog.CategoryPatch
	if err := decodeJSON(w, r, &req); err != nil {
		badBody(w)
		return
	}
	c, err := h.Catalog.UpdateCategory(r.Context(), r.PathValue("id"), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, c)
}

// DeleteCategory handles DELETE /api/categories/{id}. Empty descendants are
// deleted with it and listed in the response.
func (h *CatalogHandler) DeleteCategory(w http.ResponseWriter, r *http.Request) {
	cascaded, err := h.Catalog.DeleteCategory(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, map[string]any{
		"message":             "category deleted",
		"deleted_descendants": cascaded,
	})
}
