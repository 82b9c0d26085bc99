// Package analytics caches course analytics fetched from the portal API.
package analytics

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/portal-state/internal/domain"
	"golang.org/x/sync/singleflight"
)

// DefaultTTL is used when the cache is created with a non-positive TTL.
const DefaultTTL = 5 * time.Minute

// fetchTimeout bounds a shared upstream call. The call does not follow the
// cancellation of any single caller.
const fetchTimeout = 30 * time.Second

// Fetcher loads analytics for one course.
type Fetcher interface {
	Analytics(ctx context.Context, token string, courseID domain.CourseID) (json.RawMessage, error)
}

type entry struct {
	data      json.RawMessage
	expiresAt time.Time
}

// Cache is a TTL cache in front of a Fetcher. Concurrent misses for the same
// identity and course share one upstream call.
type Cache struct {
	fetcher Fetcher
	ttl     time.Duration
	now     func() time.Time

	mu      sync.RWMutex
	entries map[string]entry
	group   singleflight.Group
}

// New creates an analytics cache.
func New(fetcher Fetcher, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		fetcher: fetcher,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]entry),
	}
}

// Identity returns the cache scope of token: a hex SHA-256 of the whole
// token. Tokens of one issuer share long prefixes, so no prefix is used.
func Identity(token string) string {
	if token == "" {
		return "guest"
	}
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func cacheKey(token string, courseID domain.CourseID) string {
	return Identity(token) + "|" + string(courseID)
}

// Get returns cached analytics or fetches them. Errors are not cached.
// A caller whose ctx ends stops waiting; the shared fetch carries on for
// the other callers and still fills the cache.
func (c *Cache) Get(ctx context.Context, token string, courseID domain.CourseID) (json.RawMessage, error) {
	key := cacheKey(token, courseID)

	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if ok && c.now().Before(e.expiresAt) {
		return e.data, nil
	}

	ch := c.group.DoChan(key, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fetchTimeout)
		defer cancel()

		data, err := c.fetcher.Analytics(fetchCtx, token, courseID)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[key] = entry{data: data, expiresAt: c.now().Add(c.ttl)}
		c.mu.Unlock()
		return data, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(json.RawMessage), nil
	}
}

// Invalidate drops every entry cached for token's identity.
func (c *Cache) Invalidate(token string) {
	prefix := Identity(token) + "|"
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
		}
	}
}

// Clear drops all entries.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry)
}

// Len returns the number of cached entries, expired ones included.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
