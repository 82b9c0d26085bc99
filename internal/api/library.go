package api

import (
	"errors"
	"net/http"

	"github.com/ashureev/portal-state/internal/domain"
	"github.com/ashureev/portal-state/internal/library"
	"github.com/go-chi/chi/v5"
)

type attachServerIDRequest struct {
	ServerQuizID string `json:"serverQuizId" validate:"required"`
}

func (h *Handler) library(r *http.Request) *library.Library {
	return library.New(h.namespace(r))
}

// ListQuizzes returns the saved quizzes, newest first.
func (h *Handler) ListQuizzes(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, h.library(r).List(r.Context()))
}

// GetQuiz returns one saved quiz.
func (h *Handler) GetQuiz(w http.ResponseWriter, r *http.Request) {
	quiz, ok := h.library(r).Get(r.Context(), chi.URLParam(r, "quizID"))
	if !ok {
		Error(w, http.StatusNotFound, "quiz not found")
		return
	}
	JSON(w, http.StatusOK, quiz)
}

// SaveQuiz adds a quiz to the library.
func (h *Handler) SaveQuiz(w http.ResponseWriter, r *http.Request) {
	var req domain.NewQuiz
	if err := decode(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid quiz")
		return
	}
	quiz, err := h.library(r).Save(r.Context(), req)
	Stored(w, r, http.StatusCreated, quiz, err)
}

// DeleteQuiz removes a quiz. Unknown ids are not an error.
func (h *Handler) DeleteQuiz(w http.ResponseWriter, r *http.Request) {
	if err := h.library(r).Delete(r.Context(), chi.URLParam(r, "quizID")); err != nil {
		Error(w, http.StatusInternalServerError, "failed to delete quiz")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AttachServerID links a saved quiz to its server-side copy.
func (h *Handler) AttachServerID(w http.ResponseWriter, r *http.Request) {
	var req attachServerIDRequest
	if err := decode(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "serverQuizId is required")
		return
	}

	quiz, err := h.library(r).AttachServerID(r.Context(), chi.URLParam(r, "quizID"), req.ServerQuizID)
	if errors.Is(err, library.ErrNotFound) {
		Error(w, http.StatusNotFound, "quiz not found")
		return
	}
	Stored(w, r, http.StatusOK, quiz, err)
}

// ClearLibrary empties the library.
func (h *Handler) ClearLibrary(w http.ResponseWriter, r *http.Request) {
	if err := h.library(r).Clear(r.Context()); err != nil {
		Error(w, http.StatusInternalServerError, "failed to clear library")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
