package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/ashureev/portal-state/internal/domain"
	"github.com/ashureev/portal-state/internal/identity"
	"github.com/ashureev/portal-state/internal/portal"
)

// GetAnalytics returns cached analytics for a course of the current identity.
func (h *Handler) GetAnalytics(w http.ResponseWriter, r *http.Request) {
	token := h.tokens(r).Token(r.Context())
	if token == "" {
		Error(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	courseID := domain.CourseID(r.URL.Query().Get("courseId"))
	data, err := h.analytics.Get(r.Context(), token, courseID)
	if err != nil {
		if errors.Is(err, portal.ErrUnauthorized) {
			_ = h.expire(r)
			Error(w, http.StatusUnauthorized, "token expired")
			return
		}
		slog.Warn("Analytics fetch failed",
			"profile_id", identity.ProfileIDFromContext(r.Context()),
			"course_id", courseID,
			"error", err)
		Error(w, http.StatusBadGateway, "failed to fetch analytics")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		slog.Debug("Failed to write analytics response", "error", err)
	}
}

// ClearAnalytics drops the cached analytics of the current identity, or of
// every identity with ?all=true.
func (h *Handler) ClearAnalytics(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("all") == "true" {
		h.analytics.Clear()
	} else {
		h.analytics.Invalidate(h.tokens(r).Token(r.Context()))
	}
	w.WriteHeader(http.StatusNoContent)
}
