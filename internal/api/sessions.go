package api

import (
	"net/http"
	"strconv"

	"github.com/erazemk/shramba/internal/apperr"
	"github.com/erazemk/shramba/internal/model"
	"github.com/erazemk/shramba/internal/session"
	"github.com/erazemk/shramba/internal/store"
)

// SessionsHandler handles staging sessions.
type SessionsHandler struct {
	Sessions      *session.Manager
	MaxImageBytes int64
	responder
}

type extractRequest struct {
	Context string `json:"context"`
}

type commitRequest struct {
	BinID *string `json:"bin_id"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

// Active handles GET /api/sessions.
func (h *SessionsHandler) Active(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.Sessions.Active(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if sessions == nil {
		sessions = []model.ActiveSession{}
	}
	jsonResponse(w, http.StatusOK, sessions)
}

// Create handles POST /api/sessions. A session blocked by stale ones
// responds 409 with the stale sessions in details.
func (h *SessionsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req session.Target
	if err := decodeOptionalJSON(w, r, &req); err != nil {
		badBody(w)
		return
	}
	res, err := h.Sessions.Create(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	jsonResponse(w, http.StatusCreated, res)
}

// History handles GET /api/sessions/history. Filters: bin_id, status, limit.
func (h *SessionsHandler) History(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	q := r.URL.Query()
	sessions, err := h.Sessions.History(r.Context(), store.SessionHistoryFilter{
		BinID:  q.Get("bin_id"),
		Status: model.SessionStatus(q.Get("status")),
		Limit:  limit,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if sessions == nil {
		sessions = []model.Session{}
	}
	jsonResponse(w, http.StatusOK, sessions)
}

// Get handles GET /api/sessions/{id}.
func (h *SessionsHandler) Get(w http.ResponseWriter, r *http.Request) {
	detail, err := h.Sessions.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, detail)
}

// SetTarget handles PUT /api/sessions/{id}/target.
func (h *SessionsHandler) SetTarget(w http.ResponseWriter, r *http.Request) {
	var req session.Target
	if err := decodeJSON(w, r, &req); err != nil {
		badBody(w)
		return
	}
	res, err := h.Sessions.SetTarget(r.Context(), r.PathValue("id"), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, res)
}

// Resume handles POST /api/sessions/{id}/resume.
func (h *SessionsHandler) Resume(w http.ResponseWriter, r *http.Request) {
	s, err := h.Sessions.Resume(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, s)
}

// AddImage handles POST /api/sessions/{id}/images as multipart/form-data
// with an "image" file and optional "extract" and "context" fields. With
// extraction requested the response is 202 and candidates appear on the
// session once the background extraction finishes.
func (h *SessionsHandler) AddImage(w http.ResponseWriter, r *http.Request) {
	data, filename, ok := readImageUpload(w, r, h.MaxImageBytes)
	if !ok {
		return
	}

	extract := false
	if v := r.FormValue("extract"); v != "" {
		var err error
		if extract, err = strconv.ParseBool(v); err != nil {
			jsonError(w, http.StatusBadRequest, apperr.InvalidInput, "extract must be a boolean")
			return
		}
	}

	upload, err := h.Sessions.AddImage(r.Context(), r.PathValue("id"), session.ImageInput{
		Data:     data,
		Filename: filename,
		Extract:  extract,
		Hint:     r.FormValue("context"),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	status := http.StatusCreated
	if upload.Done != nil {
		status = http.StatusAccepted
	}
	jsonResponse(w, status, upload.Image)
}

// Extract handles POST /api/sessions/{id}/images/{image}/extract. It runs
// extraction synchronously and returns the staged candidates.
func (h *SessionsHandler) Extract(w http.ResponseWriter, r *http.Request) {
	var req extractRequest
	if err := decodeOptionalJSON(w, r, &req); err != nil {
		badBody(w)
		return
	}
	items, err := h.Sessions.Extract(r.Context(), r.PathValue("id"), r.PathValue("image"), req.Context)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if items == nil {
		items = []model.PendingItem{}
	}
	jsonResponse(w, http.StatusOK, items)
}

// AddPending handles POST /api/sessions/{id}/items.
func (h *SessionsHandler) AddPending(w http.ResponseWriter, r *http.Request) {
	var req session.PendingInput
	if err := decodeJSON(w, r, &req); err != nil {
		badBody(w)
		return
	}
	p, err := h.Sessions.AddPending(r.Context(), r.PathValue("id"), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	jsonResponse(w, http.StatusCreated, p)
}

// UpdatePending handles PUT /api/sessions/{id}/items/{pending}.
func (h *SessionsHandler) UpdatePending(w http.ResponseWriter, r *http.Request) {
	var req session.PendingPatch
	if err := decodeJSON(w, r, &req); err != nil {
		badBody(w)
		return
	}
	p, err := h.Sessions.UpdatePending(r.Context(), r.PathValue("id"), r.PathValue("pending"), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, p)
}

// RemovePending handles DELETE /api/sessions/{id}/items/{pending}.
func (h *SessionsHandler) RemovePending(w http.ResponseWriter, r *http.Request) {
	if err := h.Sessions.RemovePending(r.Context(), r.PathValue("id"), r.PathValue("pending")); err != nil {
		h.fail(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, map[string]string{"message": "pending item removed"})
}

// Commit handles POST /api/sessions/{id}/commit. The response is the commit
// summary with the committed session under "session".
func (h *SessionsHandler) Commit(w http.ResponseWriter, r *http.Request) {
	var req commitRequest
	if err := decodeOptionalJSON(w, r, &req); err != nil {
		badBody(w)
		return
	}
	res, err := h.Sessions.Commit(r.Context(), r.PathValue("id"), req.BinID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, res)
}

// Cancel handles POST /api/sessions/{id}/cancel and returns the cancelled
// session.
func (h *SessionsHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := decodeOptionalJSON(w, r, &req); err != nil {
		badBody(w)
		return
	}
	s, err := h.Sessions.Cancel(r.Context(), r.PathValue("id"), req.Reason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, s)
}
