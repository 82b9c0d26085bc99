package api

import (
	"net/http"

	"github.com/ashureev/portal-state/internal/domain"
	"github.com/ashureev/portal-state/internal/identity"
	"github.com/ashureev/portal-state/internal/session"
	"github.com/go-chi/chi/v5"
)

type sessionResponse struct {
	DocumentID string               `json:"documentId"`
	Record     domain.SessionRecord `json:"record"`
	Restored   bool                 `json:"restored"`
	Pending    bool                 `json:"pending"`
	Generating bool                 `json:"generating"`
}

type generationRequest struct {
	Active *bool `json:"active" validate:"required"`
}

func (h *Handler) sessionCache(r *http.Request) *session.Cache {
	return session.NewCache(h.namespace(r))
}

// OpenSession restores a document's workspace or seeds a fresh one.
func (h *Handler) OpenSession(w http.ResponseWriter, r *http.Request) {
	profileID := identity.ProfileIDFromContext(r.Context())
	documentID := chi.URLParam(r, "documentID")

	rec, restored := h.sessionCache(r).Open(r.Context(), documentID)
	JSON(w, http.StatusOK, sessionResponse{
		DocumentID: documentID,
		Record:     rec,
		Restored:   restored,
		Pending:    h.writer.Pending(profileID, documentID),
		Generating: h.writer.Generating(profileID, documentID),
	})
}

// SaveSession queues a debounced save. With ?flush=true it saves at once.
func (h *Handler) SaveSession(w http.ResponseWriter, r *http.Request) {
	profileID := identity.ProfileIDFromContext(r.Context())
	documentID := chi.URLParam(r, "documentID")

	var snap session.Snapshot
	if err := decode(w, r, &snap); err != nil {
		Error(w, http.StatusBadRequest, "invalid session snapshot")
		return
	}

	cache := h.sessionCache(r)
	if r.URL.Query().Get("flush") == "true" {
		if h.writer.Generating(profileID, documentID) {
			Error(w, http.StatusConflict, "generation in progress")
			return
		}
		h.writer.Cancel(profileID, documentID)
		rec, err := cache.Save(r.Context(), documentID, snap)
		Stored(w, r, http.StatusOK, rec, err)
		return
	}

	scheduled := h.writer.Schedule(cache, documentID, snap)
	JSON(w, http.StatusAccepted, map[string]bool{"scheduled": scheduled})
}

// FlushSession writes the pending snapshot of a document now.
func (h *Handler) FlushSession(w http.ResponseWriter, r *http.Request) {
	profileID := identity.ProfileIDFromContext(r.Context())
	documentID := chi.URLParam(r, "documentID")

	flushed, err := h.writer.Flush(r.Context(), profileID, documentID)
	Stored(w, r, http.StatusOK, map[string]bool{"flushed": flushed}, err)
}

// SetGeneration marks a quiz generation as running or finished.
func (h *Handler) SetGeneration(w http.ResponseWriter, r *http.Request) {
	profileID := identity.ProfileIDFromContext(r.Context())
	documentID := chi.URLParam(r, "documentID")

	var req generationRequest
	if err := decode(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "active is required")
		return
	}

	h.writer.SetGenerating(profileID, documentID, *req.Active)
	JSON(w, http.StatusOK, map[string]bool{"generating": *req.Active})
}

// ClearSession drops the stored and pending state of a document.
func (h *Handler) ClearSession(w http.ResponseWriter, r *http.Request) {
	profileID := identity.ProfileIDFromContext(r.Context())
	documentID := chi.URLParam(r, "documentID")

	h.writer.Cancel(profileID, documentID)
	if err := h.sessionCache(r).Clear(r.Context(), documentID); err != nil {
		Error(w, http.StatusInternalServerError, "failed to clear session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
