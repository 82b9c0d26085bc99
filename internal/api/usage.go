package api

import (
	"errors"
	"net/http"

	"github.com/ashureev/portal-state/internal/usage"
	"github.com/go-chi/chi/v5"
)

type incrementRequest struct {
	Amount *float64 `json:"amount"`
}

func (h *Handler) usage(r *http.Request) *usage.Counters {
	return usage.New(h.namespace(r), h.weights)
}

// GetUsage returns the counters and the hours-saved estimate.
func (h *Handler) GetUsage(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, h.usage(r).Summary(r.Context()))
}

// IncrementUsage bumps one counter, by one unless an amount is given.
func (h *Handler) IncrementUsage(w http.ResponseWriter, r *http.Request) {
	var req incrementRequest
	if err := decodeOptional(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	amount := 1.0
	if req.Amount != nil {
		amount = *req.Amount
	}

	counters := h.usage(r)
	updated, err := counters.Increment(r.Context(), chi.URLParam(r, "counter"), amount)
	switch {
	case errors.Is(err, usage.ErrUnknownCounter):
		Error(w, http.StatusNotFound, "unknown counter")
		return
	case errors.Is(err, usage.ErrInvalidAmount):
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	Stored(w, r, http.StatusOK, usage.Summary{Counters: updated, Hours: h.weights.Hours(updated)}, err)
}
