// Package portal is the HTTP client for the education portal's REST API.
package portal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ashureev/portal-state/internal/domain"
)

const maxBodyBytes = 4 << 20

var (
	// ErrUnauthorized is returned when the API rejects the identity token.
	ErrUnauthorized = errors.New("portal: unauthorized")
	// ErrNotConfigured is returned when no API base URL is set.
	ErrNotConfigured = errors.New("portal: api url not configured")
)

// StatusError reports an unexpected response status.
type StatusError struct {
	Status int
	Path   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("portal: %s returned status %d", e.Path, e.Status)
}

// Client calls the portal API on behalf of an identity token.
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        *slog.Logger
}

// NewClient creates a client for baseURL with the given request timeout.
func NewClient(baseURL string, timeout time.Duration, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		log:        log.With("component", "portal_client"),
	}
}

// Courses returns the courses visible to token.
func (c *Client) Courses(ctx context.Context, token string) ([]domain.Course, error) {
	var courses []domain.Course
	if err := c.get(ctx, token, "/courses", nil, &courses); err != nil {
		return nil, err
	}
	if courses == nil {
		courses = []domain.Course{}
	}
	return courses, nil
}

// Analytics returns the analytics document of a course as raw JSON.
func (c *Client) Analytics(ctx context.Context, token string, courseID domain.CourseID) (json.RawMessage, error) {
	query := url.Values{}
	if courseID != "" {
		query.Set("courseId", string(courseID))
	}
	var raw json.RawMessage
	if err := c.get(ctx, token, "/analytics", query, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func (c *Client) get(ctx context.Context, token, path string, query url.Values, out any) error {
	if c.baseURL == "" {
		return ErrNotConfigured
	}
	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("portal: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	c.log.DebugContext(ctx, "portal request", slog.String("path", path))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("portal: request %s: %w", path, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.log.Warn("failed to close response body", "error", closeErr)
		}
	}()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrUnauthorized
	case resp.StatusCode != http.StatusOK:
		return &StatusError{Status: resp.StatusCode, Path: path}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("portal: read %s: %w", path, err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("portal: decode %s: %w", path, err)
	}
	return nil
}
