package domain

import (
	"time"
)

// Role identifies the author of a chat message.
type Role string

const (
	// RoleUser marks messages typed by the user.
	RoleUser Role = "user"
	// RoleAI marks messages produced by the assistant.
	RoleAI Role = "ai"
)

// Message is a single entry of an AI workspace conversation.
type Message struct {
	ID   string `json:"id" validate:"required"`
	Role Role   `json:"role" validate:"oneof=user ai"`
	Text string `json:"text"`
	// IsTyping marks an in-flight placeholder while a reply streams in.
	// Placeholders only live in memory; they are stripped before persisting.
	IsTyping bool `json:"isTyping,omitempty"`
}

// SessionRecord is the persisted AI workspace state for one document.
type SessionRecord struct {
	Messages       []Message  `json:"messages" validate:"required"`
	DraftQuestions []Question `json:"draftQuestions"`
	DraftConfig    QuizConfig `json:"draftConfig"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// Validate checks the record shape after decoding.
func (r *SessionRecord) Validate() error {
	return validate.Struct(r)
}

// Valid reports whether m has an id and a known role.
func (m Message) Valid() bool {
	return validate.Struct(m) == nil
}

// PersistableMessages returns a copy of msgs without typing placeholders
// and malformed entries. The result is never nil so it always encodes as a
// JSON array.
func PersistableMessages(msgs []Message) []Message {
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if m.IsTyping || !m.Valid() {
			continue
		}
		out = append(out, m)
	}
	return out
}
