// Package domain contains the core types of the portal state service.
package domain

import (
	"time"
)

// Profile is an anonymous per-device owner of a key-value namespace.
// It plays the role of a browser profile: every tab opened from the same
// device shares one profile and therefore one set of stores.
type Profile struct {
	ProfileID  string    `json:"profile_id"`
	Label      string    `json:"label"`
	LastSeenAt time.Time `json:"last_seen_at"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// IsStale reports whether the profile has been idle for longer than ttl.
func (p *Profile) IsStale(ttl time.Duration, now time.Time) bool {
	return now.Sub(p.LastSeenAt) > ttl
}
