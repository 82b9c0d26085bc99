// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ashureev/portal-state/internal/domain"
)

// ErrQuotaExceeded is returned when a write would push a profile's stored
// bytes past the configured quota.
var ErrQuotaExceeded = errors.New("storage quota exceeded")

// Repository persists profiles and their key-value entries.
// Values are opaque UTF-8 text; every write replaces the whole value.
type Repository interface {
	// GetProfile retrieves a profile by id. It returns nil, nil when absent.
	GetProfile(ctx context.Context, profileID string) (*domain.Profile, error)

	// UpsertProfile creates or updates a profile record.
	UpsertProfile(ctx context.Context, profile *domain.Profile) error

	// UpdateLastSeen updates the last_seen_at timestamp for a profile.
	UpdateLastSeen(ctx context.Context, profileID string, lastSeen time.Time) error

	// GetStaleProfiles retrieves profiles idle for longer than ttl.
	GetStaleProfiles(ctx context.Context, ttl time.Duration) ([]*domain.Profile, error)

	// DeleteProfile removes a profile and all its entries.
	// It returns the number of entries removed.
	DeleteProfile(ctx context.Context, profileID string) (int64, error)

	// GetValue returns the stored value for key and whether it exists.
	GetValue(ctx context.Context, profileID, key string) (string, bool, error)

	// SetValue overwrites the value for key in a single operation.
	SetValue(ctx context.Context, profileID, key, value string) error

	// DeleteValue removes key. Removing a missing key is not an error.
	DeleteValue(ctx context.Context, profileID, key string) error

	// ListKeys returns the profile's keys starting with prefix, sorted.
	ListKeys(ctx context.Context, profileID, prefix string) ([]string, error)

	// Ping verifies connectivity.
	Ping(ctx context.Context) error

	// Close releases the underlying resources.
	Close() error
}
