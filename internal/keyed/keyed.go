// Package keyed is the read/validate/write layer every portal store sits on.
//
// A Namespace is one profile's view of the persistent key-value store, as
// seen from one tab. Reads never fail: missing, unparsable or mis-shaped
// values come back as absent. Writes replace whole values and announce the
// change on the event bus so other tabs can re-read.
package keyed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ashureev/portal-state/internal/events"
	"github.com/ashureev/portal-state/internal/store"
)

// Validator is implemented by persisted types that check their own shape.
type Validator interface {
	Validate() error
}

// Store binds a repository to an event bus.
type Store struct {
	repo store.Repository
	bus  events.Bus
	log  *slog.Logger
}

// New creates a keyed store.
func New(repo store.Repository, bus events.Bus, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{repo: repo, bus: bus, log: log}
}

// Bus returns the event bus used for notifications.
func (s *Store) Bus() events.Bus {
	return s.bus
}

// Namespace returns the view of profileID's entries for the tab origin.
// origin may be empty for background work.
func (s *Store) Namespace(profileID, origin string) *Namespace {
	return &Namespace{
		store:     s,
		profileID: profileID,
		origin:    origin,
		log:       s.log.With("profile_id", profileID),
	}
}

// Namespace is a profile-scoped handle on the keyed store.
type Namespace struct {
	store     *Store
	profileID string
	origin    string
	log       *slog.Logger
}

// ProfileID returns the owning profile.
func (n *Namespace) ProfileID() string { return n.profileID }

// Origin returns the tab this namespace acts for.
func (n *Namespace) Origin() string { return n.origin }

// WithOrigin returns a copy of n acting for another tab.
func (n *Namespace) WithOrigin(origin string) *Namespace {
	c := *n
	c.origin = origin
	return &c
}

// Write serializes value and stores it under key in one repository call,
// then publishes a storage event. Failures are logged and returned; the
// caller's in-memory value stays authoritative until the next write.
func (n *Namespace) Write(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		n.log.Warn("keyed write: serialize failed", "key", key, "error", err)
		return fmt.Errorf("serialize %q: %w", key, err)
	}
	if err := n.store.repo.SetValue(ctx, n.profileID, key, string(raw)); err != nil {
		n.log.Warn("keyed write failed", "key", key, "error", err)
		return err
	}
	n.publish(ctx, events.Event{Topic: events.TopicStorage, Key: key})
	return nil
}

// Remove deletes key and publishes a storage event.
func (n *Namespace) Remove(ctx context.Context, key string) error {
	if err := n.store.repo.DeleteValue(ctx, n.profileID, key); err != nil {
		n.log.Warn("keyed remove failed", "key", key, "error", err)
		return err
	}
	n.publish(ctx, events.Event{Topic: events.TopicStorage, Key: key})
	return nil
}

// Notify publishes a named event for the profile.
func (n *Namespace) Notify(ctx context.Context, topic string) {
	n.publish(ctx, events.Event{Topic: topic})
}

// Subscribe registers fn for every event of the profile.
func (n *Namespace) Subscribe(fn events.Handler) func() {
	return n.store.bus.Subscribe(n.profileID, fn)
}

// Keys lists the keys starting with prefix. Errors yield an empty list.
func (n *Namespace) Keys(ctx context.Context, prefix string) []string {
	keys, err := n.store.repo.ListKeys(ctx, n.profileID, prefix)
	if err != nil {
		n.log.Warn("keyed list failed", "prefix", prefix, "error", err)
		return nil
	}
	return keys
}

func (n *Namespace) publish(ctx context.Context, ev events.Event) {
	ev.ProfileID = n.profileID
	ev.Origin = n.origin
	if err := n.store.bus.Publish(ctx, ev); err != nil {
		n.log.Warn("event publish failed", "topic", ev.Topic, "key", ev.Key, "error", err)
	}
}

// Has reports whether key holds any value, well-formed or not.
func (n *Namespace) Has(ctx context.Context, key string) bool {
	_, ok := n.raw(ctx, key)
	return ok
}

func (n *Namespace) raw(ctx context.Context, key string) ([]byte, bool) {
	v, ok, err := n.store.repo.GetValue(ctx, n.profileID, key)
	if err != nil {
		n.log.Warn("keyed read failed", "key", key, "error", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	return []byte(v), true
}

// Read loads key and decodes it as T. See Decode for the validity rules.
func Read[T any](ctx context.Context, n *Namespace, key string) (T, bool) {
	raw, ok := n.raw(ctx, key)
	if !ok {
		var zero T
		return zero, false
	}
	v, ok := Decode[T](raw)
	if !ok {
		n.log.Debug("keyed read: discarding malformed value", "key", key)
	}
	return v, ok
}

// Decode parses raw as T. It reports false, with the zero value, when the
// JSON is invalid, is null, or when T implements Validator and the decoded
// value fails validation.
func Decode[T any](raw []byte) (T, bool) {
	var zero T
	if len(raw) == 0 || string(raw) == "null" {
		return zero, false
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return zero, false
	}
	if val, ok := any(&v).(Validator); ok {
		if err := val.Validate(); err != nil {
			return zero, false
		}
	}
	return v, true
}
