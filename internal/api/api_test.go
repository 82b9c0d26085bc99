package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ashureev/portal-state/internal/analytics"
	"github.com/ashureev/portal-state/internal/domain"
	"github.com/ashureev/portal-state/internal/events"
	"github.com/ashureev/portal-state/internal/identity"
	"github.com/ashureev/portal-state/internal/keyed"
	"github.com/ashureev/portal-state/internal/portal"
	"github.com/ashureev/portal-state/internal/realtime"
	"github.com/ashureev/portal-state/internal/session"
	"github.com/ashureev/portal-state/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testProfile = "anon_0123456789abcdef0123456789abcdef"

type fakePortal struct {
	mu             sync.Mutex
	courses        map[string][]domain.Course
	analyticsCalls atomic.Int32
}

func (f *fakePortal) Courses(_ context.Context, token string) ([]domain.Course, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	list, ok := f.courses[token]
	if !ok {
		return nil, portal.ErrUnauthorized
	}
	return list, nil
}

func (f *fakePortal) Analytics(_ context.Context, token string, courseID domain.CourseID) (json.RawMessage, error) {
	f.analyticsCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.courses[token]; !ok {
		return nil, portal.ErrUnauthorized
	}
	return json.RawMessage(`{"courseId":"` + string(courseID) + `","completion":0.8}`), nil
}

type testAPI struct {
	router http.Handler
	repo   *store.MemoryStore
	bus    *events.LocalBus
	writer *session.Writer
	portal *fakePortal
}

func newTestAPI(t *testing.T, quota int64) *testAPI {
	t.Helper()
	repo := store.NewMemory(quota)
	bus := events.NewLocalBus()
	writer := session.NewWriter(time.Hour, nil)
	fake := &fakePortal{courses: map[string][]domain.Course{
		"token-a": {{ID: "10", Title: "Algebra"}, {ID: "20", Title: "Biology"}},
	}}

	h := NewHandler(Deps{
		Repo:      repo,
		KV:        keyed.New(repo, bus, nil),
		Writer:    writer,
		Analytics: analytics.New(fake, time.Minute),
		Portal:    fake,
		Hub:       realtime.NewHub(nil),
		Weights:   domain.DefaultWeights(),
	})

	r := chi.NewRouter()
	r.Use(identity.Middleware(repo, true))
	NewHealthHandler(repo, nil).RegisterHealth(r)
	h.RegisterRoutes(r)

	return &testAPI{router: r, repo: repo, bus: bus, writer: writer, portal: fake}
}

func (a *testAPI) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	req.AddCookie(&http.Cookie{Name: identity.ProfileCookieName, Value: testProfile})
	req.Header.Set(identity.TabHeaderName, "tab-1")

	rr := httptest.NewRecorder()
	a.router.ServeHTTP(rr, req)
	return rr
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func TestAPI_HealthAndMe(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t, 0)

	rr := a.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"healthy","checks":{"api":"ok","database":"ok"}}`, rr.Body.String())

	rr = a.do(t, http.MethodGet, "/api/me", "")
	require.Equal(t, http.StatusOK, rr.Code)
	me := decodeBody[map[string]any](t, rr)
	assert.Equal(t, testProfile, me["profile_id"])
	assert.Equal(t, "tab-1", me["tab_id"])
	assert.Equal(t, false, me["authenticated"])

	require.Equal(t, http.StatusOK, a.do(t, http.MethodPut, "/api/auth/token", `{"token":"token-a"}`).Code)
	me = decodeBody[map[string]any](t, a.do(t, http.MethodGet, "/api/me", ""))
	assert.Equal(t, true, me["authenticated"])
}

func TestAPI_SessionLifecycle(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t, 0)

	rr := a.do(t, http.MethodGet, "/api/sessions/doc-1", "")
	require.Equal(t, http.StatusOK, rr.Code)
	opened := decodeBody[sessionResponse](t, rr)
	assert.False(t, opened.Restored)
	require.Len(t, opened.Record.Messages, 1)
	assert.Equal(t, session.GreetingText, opened.Record.Messages[0].Text)

	snap := `{"messages":[{"id":"m1","role":"user","text":"quiz me"},{"id":"m2","role":"ai","text":"","isTyping":true}],"draftQuestions":[],"draftConfig":{"difficulty":"easy","count":3,"type":"open"}}`
	rr = a.do(t, http.MethodPut, "/api/sessions/doc-1?flush=true", snap)
	require.Equal(t, http.StatusOK, rr.Code)
	saved := decodeBody[domain.SessionRecord](t, rr)
	assert.Len(t, saved.Messages, 1)

	opened = decodeBody[sessionResponse](t, a.do(t, http.MethodGet, "/api/sessions/doc-1", ""))
	assert.True(t, opened.Restored)
	assert.Equal(t, "quiz me", opened.Record.Messages[0].Text)
	assert.Equal(t, 3, opened.Record.DraftConfig.Count)

	rr = a.do(t, http.MethodPut, "/api/sessions/doc-1", snap)
	require.Equal(t, http.StatusAccepted, rr.Code)
	assert.JSONEq(t, `{"scheduled":true}`, rr.Body.String())
	assert.True(t, decodeBody[sessionResponse](t, a.do(t, http.MethodGet, "/api/sessions/doc-1", "")).Pending)

	rr = a.do(t, http.MethodPost, "/api/sessions/doc-1/flush", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"flushed":true}`, rr.Body.String())

	require.Equal(t, http.StatusBadRequest, a.do(t, http.MethodPost, "/api/sessions/doc-1/generation", `{}`).Code)
	require.Equal(t, http.StatusOK, a.do(t, http.MethodPost, "/api/sessions/doc-1/generation", `{"active":true}`).Code)

	rr = a.do(t, http.MethodPut, "/api/sessions/doc-1", snap)
	require.Equal(t, http.StatusAccepted, rr.Code)
	assert.JSONEq(t, `{"scheduled":false}`, rr.Body.String())
	assert.Equal(t, http.StatusConflict, a.do(t, http.MethodPut, "/api/sessions/doc-1?flush=true", snap).Code)

	require.Equal(t, http.StatusOK, a.do(t, http.MethodPost, "/api/sessions/doc-1/generation", `{"active":false}`).Code)

	require.Equal(t, http.StatusNoContent, a.do(t, http.MethodDelete, "/api/sessions/doc-1", "").Code)
	opened = decodeBody[sessionResponse](t, a.do(t, http.MethodGet, "/api/sessions/doc-1", ""))
	assert.False(t, opened.Restored)

	assert.Equal(t, http.StatusBadRequest, a.do(t, http.MethodPut, "/api/sessions/doc-1", `{broken`).Code)
}

func TestAPI_Library(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t, 0)

	require.Equal(t, http.StatusBadRequest, a.do(t, http.MethodPost, "/api/library", `{"materialTitle":"no id"}`).Code)

	rr := a.do(t, http.MethodPost, "/api/library",
		`{"materialId":"mat-1","materialTitle":"Photosynthesis","config":{"difficulty":"medium","count":1,"type":"boolean"},"questions":[{"id":"q1","type":"boolean","text":"Plants need light?","correctAnswer":"true"}]}`)
	require.Equal(t, http.StatusCreated, rr.Code)
	quiz := decodeBody[domain.SavedQuiz](t, rr)
	require.NotEmpty(t, quiz.ID)
	assert.Equal(t, "mat-1", quiz.MaterialID)

	list := decodeBody[[]domain.SavedQuiz](t, a.do(t, http.MethodGet, "/api/library", ""))
	require.Len(t, list, 1)

	rr = a.do(t, http.MethodPut, "/api/library/"+quiz.ID+"/server-id", `{"serverQuizId":"srv-9"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "srv-9", decodeBody[domain.SavedQuiz](t, rr).ServerQuizID)

	assert.Equal(t, http.StatusNotFound, a.do(t, http.MethodPut, "/api/library/missing/server-id", `{"serverQuizId":"x"}`).Code)
	assert.Equal(t, http.StatusBadRequest, a.do(t, http.MethodPut, "/api/library/"+quiz.ID+"/server-id", `{}`).Code)
	assert.Equal(t, http.StatusNotFound, a.do(t, http.MethodGet, "/api/library/missing", "").Code)

	got := decodeBody[domain.SavedQuiz](t, a.do(t, http.MethodGet, "/api/library/"+quiz.ID, ""))
	assert.Equal(t, "srv-9", got.ServerQuizID)

	require.Equal(t, http.StatusNoContent, a.do(t, http.MethodDelete, "/api/library/"+quiz.ID, "").Code)
	require.Equal(t, http.StatusNoContent, a.do(t, http.MethodDelete, "/api/library/"+quiz.ID, "").Code)
	assert.Empty(t, decodeBody[[]domain.SavedQuiz](t, a.do(t, http.MethodGet, "/api/library", "")))

	require.Equal(t, http.StatusNoContent, a.do(t, http.MethodDelete, "/api/library", "").Code)
}

func TestAPI_LibraryOverQuotaStillAnswers(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t, 64)

	rr := a.do(t, http.MethodPost, "/api/library",
		`{"materialId":"mat-1","materialTitle":"`+strings.Repeat("x", 200)+`","questions":[]}`)
	require.Equal(t, http.StatusCreated, rr.Code)
	assert.Equal(t, "false", rr.Header().Get(PersistedHeader))
	assert.Equal(t, "quota", rr.Header().Get(PersistedHeader+"-Reason"))
	assert.Empty(t, decodeBody[[]domain.SavedQuiz](t, a.do(t, http.MethodGet, "/api/library", "")))
}

func TestAPI_Usage(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t, 0)

	rr := a.do(t, http.MethodPost, "/api/usage/quizzesGenerated", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"counters":{"materialsUploaded":0,"quizzesGenerated":1,"worksChecked":0},"hours":0.5}`, rr.Body.String())

	rr = a.do(t, http.MethodPost, "/api/usage/materialsUploaded", `{"amount":5}`)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = a.do(t, http.MethodGet, "/api/usage", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"counters":{"materialsUploaded":5,"quizzesGenerated":1,"worksChecked":0},"hours":1.5}`, rr.Body.String())

	assert.Equal(t, http.StatusBadRequest, a.do(t, http.MethodPost, "/api/usage/worksChecked", `{"amount":-2}`).Code)
	assert.Equal(t, http.StatusNotFound, a.do(t, http.MethodPost, "/api/usage/coffees", "").Code)
}

func TestAPI_CoursesAndAuth(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t, 0)

	rr := a.do(t, http.MethodGet, "/api/courses/selection", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"scope":"selected_course:guest","selected":""}`, rr.Body.String())

	require.Equal(t, http.StatusOK, a.do(t, http.MethodPut, "/api/auth/token", `{"token":"token-a"}`).Code)
	assert.Equal(t, http.StatusBadRequest, a.do(t, http.MethodPut, "/api/auth/token", `{"token":"   "}`).Code)

	rr = a.do(t, http.MethodPost, "/api/courses/refresh", "")
	require.Equal(t, http.StatusOK, rr.Code)
	res := decodeBody[map[string]any](t, rr)
	assert.Equal(t, "10", res["selected"])
	assert.Len(t, res["courses"], 2)

	rr = a.do(t, http.MethodPut, "/api/courses/selection", `{"courseId":20}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"scope":"selected_course:token-a","selected":"20"}`, rr.Body.String())

	rr = a.do(t, http.MethodPost, "/api/courses/refresh", `{"current":"10"}`)
	assert.Equal(t, "20", decodeBody[map[string]any](t, rr)["selected"])

	require.Equal(t, http.StatusNoContent, a.do(t, http.MethodDelete, "/api/auth/token", "").Code)
	rr = a.do(t, http.MethodGet, "/api/courses/selection", "")
	assert.JSONEq(t, `{"scope":"selected_course:guest","selected":""}`, rr.Body.String())
}

func TestAPI_RejectedTokenExpires(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t, 0)

	var expired atomic.Int32
	a.bus.Subscribe(testProfile, func(ev events.Event) {
		if ev.Topic == events.TopicAuthExpired {
			expired.Add(1)
		}
	})

	require.Equal(t, http.StatusOK, a.do(t, http.MethodPut, "/api/auth/token", `{"token":"stale-token"}`).Code)
	require.Equal(t, http.StatusUnauthorized, a.do(t, http.MethodPost, "/api/courses/refresh", "").Code)
	assert.Equal(t, int32(1), expired.Load())

	me := decodeBody[map[string]any](t, a.do(t, http.MethodGet, "/api/me", ""))
	assert.Equal(t, false, me["authenticated"])

	require.Equal(t, http.StatusNoContent, a.do(t, http.MethodPost, "/api/auth/expired", "").Code)
	assert.Equal(t, int32(2), expired.Load())
}

func TestAPI_Analytics(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t, 0)

	assert.Equal(t, http.StatusUnauthorized, a.do(t, http.MethodGet, "/api/analytics?courseId=10", "").Code)

	require.Equal(t, http.StatusOK, a.do(t, http.MethodPut, "/api/auth/token", `{"token":"token-a"}`).Code)
	for i := 0; i < 3; i++ {
		rr := a.do(t, http.MethodGet, "/api/analytics?courseId=10", "")
		require.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `{"courseId":"10","completion":0.8}`, rr.Body.String())
	}
	assert.Equal(t, int32(1), a.portal.analyticsCalls.Load())

	require.Equal(t, http.StatusNoContent, a.do(t, http.MethodDelete, "/api/analytics/cache", "").Code)
	require.Equal(t, http.StatusOK, a.do(t, http.MethodGet, "/api/analytics?courseId=10", "").Code)
	assert.Equal(t, int32(2), a.portal.analyticsCalls.Load())
}
