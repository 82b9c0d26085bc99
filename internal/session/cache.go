// Package session persists AI workspace conversations and draft quizzes,
// one record per document.
package session

import (
	"context"
	"strings"
	"time"

	"github.com/ashureev/portal-state/internal/domain"
	"github.com/ashureev/portal-state/internal/events"
	"github.com/ashureev/portal-state/internal/keyed"
	"github.com/google/uuid"
)

const keyPrefix = "ai_session:"

// GreetingText seeds every fresh workspace conversation.
const GreetingText = "Hi! I've read this material. Ask me anything about it, or generate a quiz to check understanding."

// Key returns the storage key of a document's session.
func Key(documentID string) string {
	return keyPrefix + documentID
}

// Snapshot is the mutable part of a session record.
type Snapshot struct {
	Messages       []domain.Message  `json:"messages"`
	DraftQuestions []domain.Question `json:"draftQuestions"`
	DraftConfig    domain.QuizConfig `json:"draftConfig"`
}

// Cache reads and writes session records in a profile namespace.
type Cache struct {
	ns  *keyed.Namespace
	now func() time.Time
}

// NewCache creates a session cache over ns.
func NewCache(ns *keyed.Namespace) *Cache {
	return &Cache{ns: ns, now: time.Now}
}

// Namespace returns the underlying namespace.
func (c *Cache) Namespace() *keyed.Namespace { return c.ns }

// Load returns the stored record for documentID. Missing, corrupt and
// legacy-shaped records (messages not a list) are reported as absent.
// Malformed messages inside an otherwise readable record are dropped.
func (c *Cache) Load(ctx context.Context, documentID string) (domain.SessionRecord, bool) {
	rec, ok := keyed.Read[domain.SessionRecord](ctx, c.ns, Key(documentID))
	if !ok {
		return domain.SessionRecord{}, false
	}
	rec.Messages = domain.PersistableMessages(rec.Messages)
	if rec.DraftQuestions == nil {
		rec.DraftQuestions = []domain.Question{}
	}
	return rec, true
}

// Save stamps updatedAt and overwrites the whole record. Typing
// placeholders are dropped. The returned record is what was written.
func (c *Cache) Save(ctx context.Context, documentID string, snap Snapshot) (domain.SessionRecord, error) {
	rec := domain.SessionRecord{
		Messages:       domain.PersistableMessages(snap.Messages),
		DraftQuestions: snap.DraftQuestions,
		DraftConfig:    snap.DraftConfig,
		UpdatedAt:      c.now().UTC(),
	}
	if rec.DraftQuestions == nil {
		rec.DraftQuestions = []domain.Question{}
	}

	if err := c.ns.Write(ctx, Key(documentID), rec); err != nil {
		return rec, err
	}
	c.ns.Notify(ctx, events.TopicAISessionUpdated)
	return rec, nil
}

// Clear removes the document's record. It is used when the user starts a
// new session for the document.
func (c *Cache) Clear(ctx context.Context, documentID string) error {
	if err := c.ns.Remove(ctx, Key(documentID)); err != nil {
		return err
	}
	c.ns.Notify(ctx, events.TopicAISessionUpdated)
	return nil
}

// Open restores the stored record or, when there is none, returns a fresh
// unsaved record holding only the greeting.
func (c *Cache) Open(ctx context.Context, documentID string) (rec domain.SessionRecord, restored bool) {
	if rec, ok := c.Load(ctx, documentID); ok {
		return rec, true
	}
	return Fresh(), false
}

// Documents lists the ids of documents that have a stored session.
func (c *Cache) Documents(ctx context.Context) []string {
	keys := c.ns.Keys(ctx, keyPrefix)
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		ids = append(ids, strings.TrimPrefix(k, keyPrefix))
	}
	return ids
}

// Fresh returns a new conversation seeded with the greeting.
func Fresh() domain.SessionRecord {
	return domain.SessionRecord{
		Messages: []domain.Message{{
			ID:   uuid.NewString(),
			Role: domain.RoleAI,
			Text: GreetingText,
		}},
		DraftQuestions: []domain.Question{},
		DraftConfig:    domain.DefaultQuizConfig(),
	}
}
