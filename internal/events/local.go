package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrClosed is returned when publishing on a closed bus.
var ErrClosed = errors.New("event bus closed")

// LocalBus fans events out to subscribers in this process.
type LocalBus struct {
	mu     sync.RWMutex
	subs   map[string]map[uint64]Handler
	nextID uint64
	closed bool
}

// NewLocalBus creates an empty in-process bus.
func NewLocalBus() *LocalBus {
	return &LocalBus{subs: make(map[string]map[uint64]Handler)}
}

// Publish delivers ev to the profile's subscribers synchronously.
func (b *LocalBus) Publish(_ context.Context, ev Event) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrClosed
	}
	// Snapshot handlers so they may subscribe or unsubscribe while running.
	handlers := make([]Handler, 0, len(b.subs[ev.ProfileID]))
	for _, fn := range b.subs[ev.ProfileID] {
		handlers = append(handlers, fn)
	}
	b.mu.RUnlock()

	for _, fn := range handlers {
		dispatch(fn, ev)
	}
	return nil
}

// Subscribe registers fn for profileID.
func (b *LocalBus) Subscribe(profileID string, fn Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	if _, ok := b.subs[profileID]; !ok {
		b.subs[profileID] = make(map[uint64]Handler)
	}
	b.subs[profileID][id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if subs, ok := b.subs[profileID]; ok {
				delete(subs, id)
				if len(subs) == 0 {
					delete(b.subs, profileID)
				}
			}
		})
	}
}

// Subscribers returns the number of subscriptions for profileID.
func (b *LocalBus) Subscribers(profileID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[profileID])
}

// Close drops all subscriptions.
func (b *LocalBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subs = make(map[string]map[uint64]Handler)
	return nil
}

func dispatch(fn Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("event handler panicked", "topic", ev.Topic, "profile_id", ev.ProfileID, "panic", r)
		}
	}()
	fn(ev)
}
