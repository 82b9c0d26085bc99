// Package api provides HTTP handlers for the portal state API.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/ashureev/portal-state/internal/analytics"
	"github.com/ashureev/portal-state/internal/auth"
	"github.com/ashureev/portal-state/internal/courses"
	"github.com/ashureev/portal-state/internal/domain"
	"github.com/ashureev/portal-state/internal/identity"
	"github.com/ashureev/portal-state/internal/keyed"
	"github.com/ashureev/portal-state/internal/realtime"
	"github.com/ashureev/portal-state/internal/session"
	"github.com/ashureev/portal-state/internal/store"
	"github.com/go-chi/chi/v5"
)

const maxBodyBytes = 1 << 20

// PersistedHeader is set to "false" when a response carries state that
// could not be written to storage.
const PersistedHeader = "X-Portal-Persisted"

// Deps are the services the handlers act on.
type Deps struct {
	Repo      store.Repository
	KV        *keyed.Store
	Writer    *session.Writer
	Analytics *analytics.Cache
	Portal    courses.Fetcher
	Hub       *realtime.Hub
	Weights   domain.Weights
}

// Handler serves the portal state API for the requesting profile and tab.
type Handler struct {
	repo      store.Repository
	kv        *keyed.Store
	writer    *session.Writer
	analytics *analytics.Cache
	portal    courses.Fetcher
	hub       *realtime.Hub
	weights   domain.Weights
}

// NewHandler creates a new Handler.
func NewHandler(deps Deps) *Handler {
	return &Handler{
		repo:      deps.Repo,
		kv:        deps.KV,
		writer:    deps.Writer,
		analytics: deps.Analytics,
		portal:    deps.Portal,
		hub:       deps.Hub,
		weights:   deps.Weights,
	}
}

// RegisterRoutes registers the API routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/me", h.GetMe)

		r.Route("/sessions/{documentID}", func(r chi.Router) {
			r.Get("/", h.OpenSession)
			r.Put("/", h.SaveSession)
			r.Delete("/", h.ClearSession)
			r.Post("/flush", h.FlushSession)
			r.Post("/generation", h.SetGeneration)
		})

		r.Route("/library", func(r chi.Router) {
			r.Get("/", h.ListQuizzes)
			r.Post("/", h.SaveQuiz)
			r.Delete("/", h.ClearLibrary)
			r.Get("/{quizID}", h.GetQuiz)
			r.Delete("/{quizID}", h.DeleteQuiz)
			r.Put("/{quizID}/server-id", h.AttachServerID)
		})

		r.Get("/usage", h.GetUsage)
		r.Post("/usage/{counter}", h.IncrementUsage)

		r.Get("/courses/selection", h.GetCourseSelection)
		r.Put("/courses/selection", h.SelectCourse)
		r.Post("/courses/refresh", h.RefreshCourses)

		r.Put("/auth/token", h.SetToken)
		r.Delete("/auth/token", h.Logout)
		r.Post("/auth/expired", h.ExpireToken)

		r.Get("/analytics", h.GetAnalytics)
		r.Delete("/analytics/cache", h.ClearAnalytics)
	})
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// Stored writes v like JSON. A non-nil err means v was not persisted; it is
// logged and flagged in PersistedHeader, and the in-memory result is still
// returned.
func Stored(w http.ResponseWriter, r *http.Request, status int, v interface{}, err error) {
	if err != nil {
		slog.Warn("Storage write failed, answering with in-memory state",
			"profile_id", identity.ProfileIDFromContext(r.Context()),
			"path", r.URL.Path,
			"error", err)
		w.Header().Set(PersistedHeader, "false")
		if errors.Is(err, store.ErrQuotaExceeded) {
			w.Header().Set(PersistedHeader+"-Reason", "quota")
		}
	}
	JSON(w, status, v)
}

// errEmptyBody is returned by decode when the request has no body.
var errEmptyBody = errors.New("request body is empty")

// decode reads a JSON body into v and validates its struct tags.
func decode(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	return domain.Validate(v)
}

// decodeOptional is decode that accepts an empty body.
func decodeOptional(w http.ResponseWriter, r *http.Request, v interface{}) error {
	if err := decode(w, r, v); err != nil && !errors.Is(err, errEmptyBody) {
		return err
	}
	return nil
}

// namespace returns the requesting tab's view of its profile's store.
func (h *Handler) namespace(r *http.Request) *keyed.Namespace {
	return h.kv.Namespace(identity.ProfileIDFromContext(r.Context()), identity.TabIDFromContext(r.Context()))
}

func (h *Handler) tokens(r *http.Request) *auth.Tokens {
	return auth.New(h.namespace(r))
}

// GetMe returns the current profile and tab.
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	profileID := identity.ProfileIDFromContext(r.Context())
	if profileID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	profile, err := h.repo.GetProfile(r.Context(), profileID)
	if err != nil || profile == nil {
		Error(w, http.StatusUnauthorized, "profile not found")
		return
	}

	tabs := []string{}
	if h.hub != nil {
		tabs = h.hub.Tabs(profileID)
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"profile_id":     profile.ProfileID,
		"label":          profile.Label,
		"tab_id":         identity.TabIDFromContext(r.Context()),
		"authenticated":  h.tokens(r).Token(r.Context()) != "",
		"connected_tabs": tabs,
	})
}
