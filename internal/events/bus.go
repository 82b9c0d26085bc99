// Package events provides the change-notification bus shared by all tabs of
// a profile, in this process and, when configured, across processes.
package events

import (
	"context"
)

// Topics published by the stores.
const (
	// TopicStorage fires on every keyed-store write or removal. Key carries
	// the affected key.
	TopicStorage = "storage"

	TopicQuizLibraryUpdated     = "quizLibraryUpdated"
	TopicTimeSavedUpdated       = "timeSavedUpdated"
	TopicAISessionUpdated       = "aiSessionUpdated"
	TopicCourseSelectionUpdated = "courseSelectionUpdated"
	TopicAuthChanged            = "authChanged"
	TopicAuthExpired            = "authExpired"
)

// Event is a change notification scoped to one profile.
type Event struct {
	ProfileID string `json:"profile_id"`
	Topic     string `json:"topic"`
	Key       string `json:"key,omitempty"`
	// Origin is the tab that caused the event, if any.
	Origin string `json:"origin,omitempty"`
}

// Handler receives events. Handlers run on the publisher's goroutine for the
// local bus and on the forwarder goroutine for the Redis bus; they must not
// block.
type Handler func(Event)

// Bus is a publish/subscribe facility keyed by profile.
type Bus interface {
	// Publish delivers ev to every subscriber of ev.ProfileID.
	Publish(ctx context.Context, ev Event) error

	// Subscribe registers fn for events of profileID and returns a function
	// that removes the subscription.
	Subscribe(profileID string, fn Handler) (unsubscribe func())

	// Close releases resources. Publishing after Close is an error.
	Close() error
}
