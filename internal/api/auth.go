package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/ashureev/portal-state/internal/auth"
	"github.com/ashureev/portal-state/internal/identity"
)

type setTokenRequest struct {
	Token string `json:"token" validate:"required"`
}

// SetToken stores the identity token after a login.
func (h *Handler) SetToken(w http.ResponseWriter, r *http.Request) {
	var req setTokenRequest
	if err := decode(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "token is required")
		return
	}

	tokens := h.tokens(r)
	previous := tokens.Token(r.Context())
	if err := tokens.SetToken(r.Context(), req.Token); err != nil {
		if errors.Is(err, auth.ErrEmptyToken) {
			Error(w, http.StatusBadRequest, "token is required")
			return
		}
		Stored(w, r, http.StatusOK, map[string]bool{"authenticated": false}, err)
		return
	}
	if previous != "" {
		h.analytics.Invalidate(previous)
	}
	JSON(w, http.StatusOK, map[string]bool{"authenticated": true})
}

// Logout drops the identity token.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	tokens := h.tokens(r)
	previous := tokens.Token(r.Context())
	if err := tokens.Logout(r.Context()); err != nil {
		Error(w, http.StatusInternalServerError, "failed to log out")
		return
	}
	h.analytics.Invalidate(previous)
	w.WriteHeader(http.StatusNoContent)
}

// ExpireToken is called when the frontend saw the API reject the token.
func (h *Handler) ExpireToken(w http.ResponseWriter, r *http.Request) {
	if err := h.expire(r); err != nil {
		Error(w, http.StatusInternalServerError, "failed to expire token")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// expire drops a rejected token and everything cached for it.
func (h *Handler) expire(r *http.Request) error {
	tokens := h.tokens(r)
	previous := tokens.Token(r.Context())
	h.analytics.Invalidate(previous)
	if err := tokens.Expire(r.Context()); err != nil {
		slog.Warn("Failed to expire token",
			"profile_id", identity.ProfileIDFromContext(r.Context()),
			"error", err)
		return err
	}
	return nil
}
