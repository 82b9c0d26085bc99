// Package library keeps the user's collection of saved quizzes.
package library

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"slices"
	"strconv"
	"time"

	"github.com/ashureev/portal-state/internal/domain"
	"github.com/ashureev/portal-state/internal/events"
	"github.com/ashureev/portal-state/internal/keyed"
	"github.com/google/uuid"
)

// Key is the storage key of the whole collection.
const Key = "quiz_library"

// ErrNotFound is returned when a quiz id is not in the library.
var ErrNotFound = errors.New("quiz not found")

// Library reads and mutates the saved-quiz collection of a profile.
// Every successful mutation broadcasts TopicQuizLibraryUpdated.
type Library struct {
	ns    *keyed.Namespace
	now   func() time.Time
	newID func() string
}

// New creates a library over ns.
func New(ns *keyed.Namespace) *Library {
	return &Library{ns: ns, now: time.Now, newID: newID}
}

// List returns the well-formed quizzes, newest first.
func (l *Library) List(ctx context.Context) []domain.SavedQuiz {
	quizzes := l.load(ctx)
	slices.SortStableFunc(quizzes, func(a, b domain.SavedQuiz) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return quizzes
}

// Get returns the quiz with id.
func (l *Library) Get(ctx context.Context, id string) (domain.SavedQuiz, bool) {
	for _, q := range l.load(ctx) {
		if q.ID == id {
			return q, true
		}
	}
	return domain.SavedQuiz{}, false
}

// Save adds a new quiz with a fresh id and creation time at the front of
// the collection.
func (l *Library) Save(ctx context.Context, in domain.NewQuiz) (domain.SavedQuiz, error) {
	quiz := domain.SavedQuiz{
		ID:            l.newID(),
		MaterialID:    in.MaterialID,
		MaterialTitle: in.MaterialTitle,
		ServerQuizID:  in.ServerQuizID,
		CreatedAt:     l.now().UTC(),
		Config:        in.Config,
		Questions:     in.Questions,
	}
	if quiz.Questions == nil {
		quiz.Questions = []domain.Question{}
	}

	next := append([]domain.SavedQuiz{quiz}, l.load(ctx)...)
	if err := l.persist(ctx, next); err != nil {
		return quiz, err
	}
	return quiz, nil
}

// Delete removes the quiz with id. Deleting an unknown id still rewrites
// the collection and broadcasts so every tab converges.
func (l *Library) Delete(ctx context.Context, id string) error {
	current := l.load(ctx)
	next := slices.DeleteFunc(current, func(q domain.SavedQuiz) bool { return q.ID == id })
	return l.persist(ctx, next)
}

// AttachServerID links a saved quiz to its server-side copy. It returns
// ErrNotFound, without writing, when id is unknown.
func (l *Library) AttachServerID(ctx context.Context, id, serverQuizID string) (domain.SavedQuiz, error) {
	quizzes := l.load(ctx)
	idx := slices.IndexFunc(quizzes, func(q domain.SavedQuiz) bool { return q.ID == id })
	if idx < 0 {
		return domain.SavedQuiz{}, ErrNotFound
	}
	quizzes[idx].ServerQuizID = serverQuizID
	if err := l.persist(ctx, quizzes); err != nil {
		return quizzes[idx], err
	}
	return quizzes[idx], nil
}

// Clear empties the collection.
func (l *Library) Clear(ctx context.Context) error {
	return l.persist(ctx, []domain.SavedQuiz{})
}

// load returns the stored entries in stored order, dropping malformed ones.
func (l *Library) load(ctx context.Context) []domain.SavedQuiz {
	entries, ok := keyed.Read[[]json.RawMessage](ctx, l.ns, Key)
	if !ok {
		return []domain.SavedQuiz{}
	}
	quizzes := make([]domain.SavedQuiz, 0, len(entries))
	for _, raw := range entries {
		if q, ok := keyed.Decode[domain.SavedQuiz](raw); ok {
			quizzes = append(quizzes, q)
		}
	}
	return quizzes
}

func (l *Library) persist(ctx context.Context, quizzes []domain.SavedQuiz) error {
	if quizzes == nil {
		quizzes = []domain.SavedQuiz{}
	}
	if err := l.ns.Write(ctx, Key, quizzes); err != nil {
		return err
	}
	l.ns.Notify(ctx, events.TopicQuizLibraryUpdated)
	return nil
}

// newID returns a random UUID, falling back to a timestamp with a random
// suffix when the UUID source fails.
func newID() string {
	if id, err := uuid.NewRandom(); err == nil {
		return id.String()
	}
	suffix := make([]byte, 4)
	_, _ = rand.Read(suffix)
	return strconv.FormatInt(time.Now().UnixMilli(), 10) + "-" + hex.EncodeToString(suffix)
}
