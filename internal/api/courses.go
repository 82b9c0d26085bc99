package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/ashureev/portal-state/internal/courses"
	"github.com/ashureev/portal-state/internal/domain"
	"github.com/ashureev/portal-state/internal/identity"
	"github.com/ashureev/portal-state/internal/portal"
)

type selectCourseRequest struct {
	CourseID domain.CourseID `json:"courseId"`
}

type refreshCoursesRequest struct {
	Current domain.CourseID `json:"current"`
}

type selectionResponse struct {
	Scope    string          `json:"scope"`
	Selected domain.CourseID `json:"selected"`
}

func (h *Handler) courses(r *http.Request) *courses.Store {
	ns := h.namespace(r)
	return courses.New(ns, h.tokens(r), h.portal)
}

// GetCourseSelection returns the stored pick of the current identity.
func (h *Handler) GetCourseSelection(w http.ResponseWriter, r *http.Request) {
	s := h.courses(r)
	JSON(w, http.StatusOK, selectionResponse{Scope: s.Scope(r.Context()), Selected: s.Selected(r.Context())})
}

// SelectCourse stores the pick of the current identity. An empty id clears it.
func (h *Handler) SelectCourse(w http.ResponseWriter, r *http.Request) {
	var req selectCourseRequest
	if err := decode(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s := h.courses(r)
	err := s.Select(r.Context(), req.CourseID)
	Stored(w, r, http.StatusOK, selectionResponse{Scope: s.Scope(r.Context()), Selected: req.CourseID}, err)
}

// RefreshCourses fetches the course list and reconciles the selection.
func (h *Handler) RefreshCourses(w http.ResponseWriter, r *http.Request) {
	var req refreshCoursesRequest
	if err := decodeOptional(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := h.courses(r).Refresh(r.Context(), req.Current)
	if err != nil {
		if errors.Is(err, portal.ErrUnauthorized) {
			_ = h.expire(r)
			Error(w, http.StatusUnauthorized, "token expired")
			return
		}
		slog.Warn("Course refresh failed",
			"profile_id", identity.ProfileIDFromContext(r.Context()),
			"error", err)
		Error(w, http.StatusBadGateway, "failed to fetch courses")
		return
	}
	JSON(w, http.StatusOK, res)
}
