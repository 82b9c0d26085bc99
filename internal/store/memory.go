package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/portal-state/internal/domain"
)

// MemoryStore is a Repository kept entirely in memory.
// It backs tests and ephemeral deployments.
type MemoryStore struct {
	mu       sync.RWMutex
	quota    int64
	profiles map[string]domain.Profile
	entries  map[string]map[string]string
}

// NewMemory creates an empty in-memory repository.
func NewMemory(quota int64) *MemoryStore {
	return &MemoryStore{
		quota:    quota,
		profiles: make(map[string]domain.Profile),
		entries:  make(map[string]map[string]string),
	}
}

func (m *MemoryStore) GetProfile(_ context.Context, profileID string) (*domain.Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[profileID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *MemoryStore) UpsertProfile(_ context.Context, profile *domain.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := *profile
	if existing, ok := m.profiles[profile.ProfileID]; ok {
		p.CreatedAt = existing.CreatedAt
	}
	m.profiles[profile.ProfileID] = p
	return nil
}

func (m *MemoryStore) UpdateLastSeen(_ context.Context, profileID string, lastSeen time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[profileID]
	if !ok {
		return nil
	}
	p.LastSeenAt = lastSeen
	p.UpdatedAt = time.Now()
	m.profiles[profileID] = p
	return nil
}

func (m *MemoryStore) GetStaleProfiles(_ context.Context, ttl time.Duration) ([]*domain.Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	now := time.Now()
	var stale []*domain.Profile
	for _, p := range m.profiles {
		if p.IsStale(ttl, now) {
			p := p
			stale = append(stale, &p)
		}
	}
	return stale, nil
}

func (m *MemoryStore) DeleteProfile(_ context.Context, profileID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := int64(len(m.entries[profileID]))
	delete(m.entries, profileID)
	delete(m.profiles, profileID)
	return removed, nil
}

func (m *MemoryStore) GetValue(_ context.Context, profileID, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.entries[profileID][key]
	return v, ok, nil
}

func (m *MemoryStore) SetValue(_ context.Context, profileID, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	bucket := m.entries[profileID]
	if m.quota > 0 {
		var used int64
		for k, v := range bucket {
			if k != key {
				used += int64(len(k) + len(v))
			}
		}
		if used+int64(len(key)+len(value)) > m.quota {
			return fmt.Errorf("set entry %q: %w", key, ErrQuotaExceeded)
		}
	}

	if bucket == nil {
		bucket = make(map[string]string)
		m.entries[profileID] = bucket
	}
	bucket[key] = value
	return nil
}

func (m *MemoryStore) DeleteValue(_ context.Context, profileID, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries[profileID], key)
	return nil
}

func (m *MemoryStore) ListKeys(_ context.Context, profileID, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []string
	for k := range m.entries[profileID] {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }

var (
	_ Repository = (*MemoryStore)(nil)
	_ Repository = (*SQLiteStore)(nil)
)
