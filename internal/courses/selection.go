// Package courses remembers the selected course per identity and reconciles
// it with the course list fetched from the portal API.
package courses

import (
	"context"
	"fmt"

	"github.com/ashureev/portal-state/internal/domain"
	"github.com/ashureev/portal-state/internal/events"
	"github.com/ashureev/portal-state/internal/keyed"
)

const (
	keyPrefix      = "selected_course:"
	guestScope     = "guest"
	tokenPrefixLen = 16
)

// KeyFor returns the storage key holding token's selection. Only a bounded
// prefix of the token is used; an empty token maps to the guest scope.
func KeyFor(token string) string {
	if token == "" {
		return keyPrefix + guestScope
	}
	if len(token) > tokenPrefixLen {
		token = token[:tokenPrefixLen]
	}
	return keyPrefix + token
}

// IsSelectionKey reports whether key belongs to this store.
func IsSelectionKey(key string) bool {
	return len(key) > len(keyPrefix) && key[:len(keyPrefix)] == keyPrefix
}

// Fetcher loads the courses visible to an identity.
type Fetcher interface {
	Courses(ctx context.Context, token string) ([]domain.Course, error)
}

// TokenSource yields the current identity token ("" for a guest).
type TokenSource interface {
	Token(ctx context.Context) string
}

// Decision is the outcome of reconciling a selection with a course list.
type Decision struct {
	Selected domain.CourseID
	// Clear is set when the list is empty and the stored key must go.
	Clear bool
}

// Reconcile picks the selection for a fresh course list: the stored pick if
// still listed, else the in-memory pick if still listed, else the first
// course. An empty list clears the selection.
func Reconcile(stored, current domain.CourseID, courses []domain.Course) Decision {
	switch {
	case len(courses) == 0:
		return Decision{Clear: true}
	case domain.ContainsCourse(courses, stored):
		return Decision{Selected: stored}
	case domain.ContainsCourse(courses, current):
		return Decision{Selected: current}
	default:
		return Decision{Selected: courses[0].ID}
	}
}

// Result is a reconciled view for the current identity.
type Result struct {
	Courses  []domain.Course `json:"courses"`
	Selected domain.CourseID `json:"selected"`
	// Scope is the storage key of the identity the result belongs to.
	Scope string `json:"scope"`
}

// Store persists course selections in a profile namespace.
type Store struct {
	ns      *keyed.Namespace
	tokens  TokenSource
	fetcher Fetcher
}

// New creates a selection store.
func New(ns *keyed.Namespace, tokens TokenSource, fetcher Fetcher) *Store {
	return &Store{ns: ns, tokens: tokens, fetcher: fetcher}
}

// Namespace returns the underlying namespace.
func (s *Store) Namespace() *keyed.Namespace { return s.ns }

// Scope returns the storage key for the current identity.
func (s *Store) Scope(ctx context.Context) string {
	return KeyFor(s.tokens.Token(ctx))
}

// Selected returns the stored selection of the current identity.
func (s *Store) Selected(ctx context.Context) domain.CourseID {
	return s.stored(ctx, s.Scope(ctx))
}

func (s *Store) stored(ctx context.Context, key string) domain.CourseID {
	id, ok := keyed.Read[domain.CourseID](ctx, s.ns, key)
	if !ok {
		return ""
	}
	return id
}

// Select persists id for the current identity. An empty id clears it.
func (s *Store) Select(ctx context.Context, id domain.CourseID) error {
	key := s.Scope(ctx)
	var err error
	if id == "" {
		err = s.ns.Remove(ctx, key)
	} else {
		err = s.ns.Write(ctx, key, id)
	}
	if err != nil {
		return err
	}
	s.ns.Notify(ctx, events.TopicCourseSelectionUpdated)
	return nil
}

// Refresh fetches the course list for the current identity and reconciles
// the selection against it, with current as the caller's in-memory pick.
// Guests have no courses and skip the network. A fetch error leaves the
// stored selection untouched.
func (s *Store) Refresh(ctx context.Context, current domain.CourseID) (Result, error) {
	token := s.tokens.Token(ctx)
	key := KeyFor(token)

	courses := []domain.Course{}
	if token != "" {
		fetched, err := s.fetcher.Courses(ctx, token)
		if err != nil {
			return Result{Scope: key, Selected: current}, fmt.Errorf("fetch courses: %w", err)
		}
		if fetched != nil {
			courses = fetched
		}
	}

	stored := s.stored(ctx, key)
	decision := Reconcile(stored, current, courses)
	res := Result{Courses: courses, Selected: decision.Selected, Scope: key}

	var changed bool
	switch {
	case decision.Clear:
		if s.ns.Has(ctx, key) {
			changed = true
			if err := s.ns.Remove(ctx, key); err != nil {
				return res, nil
			}
		}
	case decision.Selected != stored:
		changed = true
		if err := s.ns.Write(ctx, key, decision.Selected); err != nil {
			// The selection stays valid in memory until the next write.
			return res, nil
		}
	}
	if changed {
		s.ns.Notify(ctx, events.TopicCourseSelectionUpdated)
	}
	return res, nil
}
