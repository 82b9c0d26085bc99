// Package identity provides anonymous per-device profiles and per-tab ids.
package identity

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/ashureev/portal-state/internal/domain"
	"github.com/ashureev/portal-state/internal/store"
	"github.com/google/uuid"
)

const (
	ProfileCookieName = "portal_profile"
	TabHeaderName     = "X-Portal-Tab-ID"
	TabQueryParam     = "tab_id"
	DefaultTabID      = "default"
	profileCookieAge  = 365 * 24 * time.Hour
	lastSeenInterval  = time.Minute
)

type contextKey int

const (
	profileIDKey contextKey = iota
	tabIDKey
)

var (
	profileIDPattern = regexp.MustCompile(`^anon_[a-f0-9]{32}$`)
	tabIDPattern     = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)
)

// ProfileIDFromContext extracts the profile ID from the request context.
func ProfileIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(profileIDKey).(string); ok {
		return v
	}
	return ""
}

// TabIDFromContext extracts the tab ID from the request context.
func TabIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(tabIDKey).(string); ok {
		return v
	}
	return DefaultTabID
}

// WithProfile returns ctx carrying the profile and tab ids.
func WithProfile(ctx context.Context, profileID, tabID string) context.Context {
	ctx = context.WithValue(ctx, profileIDKey, profileID)
	return context.WithValue(ctx, tabIDKey, sanitizeTabID(tabID))
}

func generateProfileID() string {
	return "anon_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func isValidProfileID(id string) bool {
	return profileIDPattern.MatchString(id)
}

func sanitizeTabID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" || !tabIDPattern.MatchString(id) {
		return DefaultTabID
	}
	return id
}

func deriveLabel(profileID string) string {
	if len(profileID) > 13 {
		return "device-" + profileID[len(profileID)-8:]
	}
	return "device"
}

// ensureProfile creates the profile record on first sight and refreshes
// last_seen_at so the janitor keeps active devices.
func ensureProfile(ctx context.Context, repo store.Repository, profileID string) error {
	profile, err := repo.GetProfile(ctx, profileID)
	if err != nil {
		return fmt.Errorf("get profile: %w", err)
	}

	now := time.Now()
	if profile != nil {
		if now.Sub(profile.LastSeenAt) < lastSeenInterval {
			return nil
		}
		return repo.UpdateLastSeen(ctx, profileID, now)
	}

	return repo.UpsertProfile(ctx, &domain.Profile{
		ProfileID:  profileID,
		Label:      deriveLabel(profileID),
		LastSeenAt: now,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
}

func setProfileCookie(w http.ResponseWriter, id string, isDev bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     ProfileCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(profileCookieAge.Seconds()),
		Expires:  time.Now().Add(profileCookieAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !isDev,
	})
}

func getOrCreateProfileID(w http.ResponseWriter, r *http.Request, isDev bool) string {
	id := ""
	if c, err := r.Cookie(ProfileCookieName); err == nil && isValidProfileID(c.Value) {
		id = c.Value
	} else {
		id = generateProfileID()
	}
	setProfileCookie(w, id, isDev)
	return id
}

func tabIDFromRequest(r *http.Request) string {
	tab := r.Header.Get(TabHeaderName)
	if tab == "" {
		tab = r.URL.Query().Get(TabQueryParam)
	}
	return sanitizeTabID(tab)
}

// Middleware injects the device profile and the requesting tab's id.
func Middleware(repo store.Repository, isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			profileID := getOrCreateProfileID(w, r, isDev)

			if err := ensureProfile(r.Context(), repo, profileID); err != nil {
				slog.Error("Failed to initialize profile", "profile_id", profileID, "error", err)
				http.Error(w, `{"error":"failed to initialize profile"}`, http.StatusInternalServerError)
				return
			}

			ctx := WithProfile(r.Context(), profileID, tabIDFromRequest(r))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IPFromRequest returns a normalized remote IP for request logging.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
