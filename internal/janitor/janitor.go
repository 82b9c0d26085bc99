// Package janitor evicts profiles that have not been seen for a while,
// together with every key they own.
package janitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/portal-state/internal/store"
)

// EvictCallback is called before an idle profile's data is deleted.
type EvictCallback func(profileID string)

// Janitor periodically sweeps idle profiles.
type Janitor struct {
	repo     store.Repository
	ttl      time.Duration
	interval time.Duration
	policy   store.RetryPolicy
	onEvict  EvictCallback
	log      *slog.Logger
}

// New creates a janitor. onEvict may be nil.
func New(repo store.Repository, ttl, interval time.Duration, policy store.RetryPolicy, onEvict EvictCallback) *Janitor {
	return &Janitor{
		repo:     repo,
		ttl:      ttl,
		interval: interval,
		policy:   policy,
		onEvict:  onEvict,
		log:      slog.Default().With("component", "janitor"),
	}
}

// Start runs the sweep loop in a goroutine until ctx is done.
func (j *Janitor) Start(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	go func() {
		defer ticker.Stop()
		j.log.Info("Janitor started", "interval", j.interval, "ttl", j.ttl)

		for {
			select {
			case <-ticker.C:
				if _, err := j.Sweep(ctx); err != nil {
					j.log.Error("Janitor sweep failed", "error", err)
				}
			case <-ctx.Done():
				j.log.Info("Janitor shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

// Sweep deletes every profile idle for longer than the TTL and returns how
// many were removed. A failure on one profile does not stop the sweep.
func (j *Janitor) Sweep(ctx context.Context) (int, error) {
	stale, err := j.repo.GetStaleProfiles(ctx, j.ttl)
	if err != nil {
		return 0, fmt.Errorf("get stale profiles: %w", err)
	}
	if len(stale) == 0 {
		return 0, nil
	}

	j.log.Info("Janitor found idle profiles", "count", len(stale))

	evicted := 0
	for _, profile := range stale {
		if j.onEvict != nil {
			j.onEvict(profile.ProfileID)
		}

		var removed int64
		err := store.WithRetry(ctx, j.policy, "delete_profile", func(ctx context.Context) error {
			n, err := j.repo.DeleteProfile(ctx, profile.ProfileID)
			removed = n
			return err
		})
		if err != nil {
			if ctx.Err() != nil {
				j.log.Debug("Janitor interrupted, cleanup may be incomplete", "profile_id", profile.ProfileID)
				return evicted, nil
			}
			j.log.Warn("Janitor failed to delete profile after retries",
				"profile_id", profile.ProfileID,
				"error", err)
			continue
		}

		evicted++
		j.log.Info("Janitor evicted profile",
			"profile_id", profile.ProfileID,
			"last_seen_at", profile.LastSeenAt,
			"entries", removed)
	}

	j.log.Info("Janitor sweep completed", "evicted", evicted)
	return evicted, nil
}
