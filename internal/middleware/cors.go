// Package middleware provides HTTP middleware for the portal state API.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

const preflightMaxAge = 10 * time.Minute

var (
	// allowedHeaders are the request headers the frontend sends.
	allowedHeaders = strings.Join([]string{"Content-Type", "Authorization", "X-Portal-Tab-ID"}, ", ")
	// exposedHeaders are response headers the frontend reads to learn that
	// state was answered from memory but not stored.
	exposedHeaders = strings.Join([]string{"X-Portal-Persisted", "X-Portal-Persisted-Reason"}, ", ")
	allowedMethods = strings.Join([]string{
		http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions,
	}, ", ")
)

// originPolicy is the parsed allowed-origin list.
type originPolicy struct {
	wildcard bool
	explicit map[string]struct{}
}

func newOriginPolicy(origins []string) originPolicy {
	p := originPolicy{explicit: make(map[string]struct{}, len(origins))}
	for _, o := range origins {
		o = strings.TrimSuffix(strings.TrimSpace(o), "/")
		switch o {
		case "":
		case "*":
			p.wildcard = true
		default:
			p.explicit[o] = struct{}{}
		}
	}
	return p
}

// credentialed reports whether origin is listed by name. Only those get
// cookies; a wildcard-echoed origin with credentials enables CSRF.
func (p originPolicy) credentialed(origin string) bool {
	_, ok := p.explicit[origin]
	return ok
}

func (p originPolicy) allows(origin string) bool {
	return p.wildcard || p.credentialed(origin)
}

// CORS returns middleware that handles CORS headers. Requests without an
// Origin header are passed through untouched.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	policy := newOriginPolicy(allowedOrigins)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			preflight := r.Method == http.MethodOptions

			if origin != "" {
				h := w.Header()
				h.Add("Vary", "Origin")
				if policy.allows(origin) {
					h.Set("Access-Control-Allow-Origin", origin)
					h.Set("Access-Control-Expose-Headers", exposedHeaders)
					if policy.credentialed(origin) {
						h.Set("Access-Control-Allow-Credentials", "true")
					}
					if preflight {
						h.Set("Access-Control-Allow-Methods", allowedMethods)
						h.Set("Access-Control-Allow-Headers", allowedHeaders)
						h.Set("Access-Control-Max-Age", strconv.Itoa(int(preflightMaxAge.Seconds())))
					}
				}
			}

			if preflight {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
