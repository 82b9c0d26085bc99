// Package usage counts time-saving actions per profile and converts them
// into an estimate of hours saved.
package usage

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/ashureev/portal-state/internal/domain"
	"github.com/ashureev/portal-state/internal/events"
	"github.com/ashureev/portal-state/internal/keyed"
)

// Key is the storage key of the counters.
const Key = "time_saved_counters"

var (
	// ErrUnknownCounter is returned for counter names outside the fixed set.
	ErrUnknownCounter = errors.New("unknown counter")
	// ErrInvalidAmount is returned for zero, negative or non-finite increments.
	ErrInvalidAmount = errors.New("amount must be a positive number")
)

// Summary is the counters together with the derived hours.
type Summary struct {
	Counters domain.UsageCounters `json:"counters"`
	Hours    float64              `json:"hours"`
}

// Counters reads and bumps the usage counters of one profile.
type Counters struct {
	ns      *keyed.Namespace
	weights domain.Weights
}

// New creates a counter store using weights for the hours estimate.
func New(ns *keyed.Namespace, weights domain.Weights) *Counters {
	return &Counters{ns: ns, weights: weights}
}

// Get returns the stored counters. Malformed data reads as all zero.
func (c *Counters) Get(ctx context.Context) domain.UsageCounters {
	counters, _ := keyed.Read[domain.UsageCounters](ctx, c.ns, Key)
	return counters.Sanitize()
}

// Hours returns the saved-hours estimate for the stored counters.
func (c *Counters) Hours(ctx context.Context) float64 {
	return c.weights.Hours(c.Get(ctx))
}

// Summary returns counters and hours read in one pass.
func (c *Counters) Summary(ctx context.Context) Summary {
	counters := c.Get(ctx)
	return Summary{Counters: counters, Hours: c.weights.Hours(counters)}
}

// Increment adds amount to the named counter and broadcasts
// TopicTimeSavedUpdated. The updated counters are returned even when the
// write fails, together with the error.
func (c *Counters) Increment(ctx context.Context, name string, amount float64) (domain.UsageCounters, error) {
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount <= 0 {
		return c.Get(ctx), ErrInvalidAmount
	}
	counters := c.Get(ctx)
	field := counters.Field(name)
	if field == nil {
		return counters, fmt.Errorf("%w: %q", ErrUnknownCounter, name)
	}
	*field += amount

	if err := c.ns.Write(ctx, Key, counters); err != nil {
		return counters, err
	}
	c.ns.Notify(ctx, events.TopicTimeSavedUpdated)
	return counters, nil
}
