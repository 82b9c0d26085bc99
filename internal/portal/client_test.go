package portal

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ashureev/portal-state/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/courses", func(w http.ResponseWriter, r *http.Request) {
		switch r.Header.Get("Authorization") {
		case "Bearer good":
			_, _ = w.Write([]byte(`[{"id":1,"title":"Algebra"},{"id":"b-2","title":"Biology"}]`))
		case "Bearer empty":
			_, _ = w.Write([]byte(`null`))
		case "Bearer broken":
			w.WriteHeader(http.StatusBadGateway)
		default:
			w.WriteHeader(http.StatusUnauthorized)
		}
	})
	mux.HandleFunc("/analytics", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer good" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"courseId":"` + r.URL.Query().Get("courseId") + `","avg":4.5}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_Courses(t *testing.T) {
	t.Parallel()
	c := NewClient(newServer(t).URL+"/", time.Second, nil)
	ctx := context.Background()

	courses, err := c.Courses(ctx, "good")
	require.NoError(t, err)
	assert.Equal(t, []domain.Course{
		{ID: "1", Title: "Algebra"},
		{ID: "b-2", Title: "Biology"},
	}, courses)

	courses, err = c.Courses(ctx, "empty")
	require.NoError(t, err)
	assert.NotNil(t, courses)
	assert.Empty(t, courses)

	_, err = c.Courses(ctx, "stale")
	require.ErrorIs(t, err, ErrUnauthorized)

	_, err = c.Courses(ctx, "broken")
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusBadGateway, statusErr.Status)
}

func TestClient_Analytics(t *testing.T) {
	t.Parallel()
	c := NewClient(newServer(t).URL, time.Second, nil)

	raw, err := c.Analytics(context.Background(), "good", "42")
	require.NoError(t, err)
	assert.JSONEq(t, `{"courseId":"42","avg":4.5}`, string(raw))

	_, err = c.Analytics(context.Background(), "", "42")
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestClient_NotConfigured(t *testing.T) {
	t.Parallel()
	c := NewClient("", time.Second, nil)
	_, err := c.Courses(context.Background(), "good")
	require.ErrorIs(t, err, ErrNotConfigured)
}
