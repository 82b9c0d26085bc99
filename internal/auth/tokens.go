// Package auth persists the portal identity token of a profile and emits
// the "auth changed" and "auth expired" signals.
package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/ashureev/portal-state/internal/events"
	"github.com/ashureev/portal-state/internal/keyed"
)

// TokenKey is the storage key of the identity token.
const TokenKey = "auth_token"

// ErrEmptyToken is returned when setting a blank token.
var ErrEmptyToken = errors.New("token must not be empty")

// Tokens manages the identity token in a profile namespace.
type Tokens struct {
	ns *keyed.Namespace
}

// New creates a token manager over ns.
func New(ns *keyed.Namespace) *Tokens {
	return &Tokens{ns: ns}
}

// Token returns the current token, or "" for a guest.
func (t *Tokens) Token(ctx context.Context) string {
	token, ok := keyed.Read[string](ctx, t.ns, TokenKey)
	if !ok {
		return ""
	}
	return token
}

// SetToken stores token after a login and signals TopicAuthChanged.
func (t *Tokens) SetToken(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrEmptyToken
	}
	if err := t.ns.Write(ctx, TokenKey, token); err != nil {
		return err
	}
	t.ns.Notify(ctx, events.TopicAuthChanged)
	return nil
}

// Logout drops the token and signals TopicAuthChanged.
func (t *Tokens) Logout(ctx context.Context) error {
	if err := t.ns.Remove(ctx, TokenKey); err != nil {
		return err
	}
	t.ns.Notify(ctx, events.TopicAuthChanged)
	return nil
}

// Expire drops a token the API rejected and signals TopicAuthExpired.
// Session and library data are keyed by document and quiz, not identity,
// and are left untouched.
func (t *Tokens) Expire(ctx context.Context) error {
	if err := t.ns.Remove(ctx, TokenKey); err != nil {
		return err
	}
	t.ns.Notify(ctx, events.TopicAuthExpired)
	return nil
}
