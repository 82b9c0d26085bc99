package courses

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ashureev/portal-state/internal/auth"
	"github.com/ashureev/portal-state/internal/domain"
	"github.com/ashureev/portal-state/internal/events"
	"github.com/ashureev/portal-state/internal/keyed"
	"github.com/ashureev/portal-state/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFetcher struct {
	mu      sync.Mutex
	courses map[string][]domain.Course
	err     error
	calls   atomic.Int32
}

func (f *fakeFetcher) Courses(_ context.Context, token string) ([]domain.Course, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.courses[token], nil
}

func (f *fakeFetcher) set(token string, courses ...domain.Course) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.courses == nil {
		f.courses = make(map[string][]domain.Course)
	}
	f.courses[token] = courses
}

func (f *fakeFetcher) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

type fixture struct {
	kv      *keyed.Store
	repo    *store.MemoryStore
	fetcher *fakeFetcher
}

func newFixture() *fixture {
	repo := store.NewMemory(0)
	return &fixture{
		kv:      keyed.New(repo, events.NewLocalBus(), nil),
		repo:    repo,
		fetcher: &fakeFetcher{},
	}
}

func (f *fixture) tab(origin string) (*Store, *auth.Tokens) {
	ns := f.kv.Namespace("p1", origin)
	tokens := auth.New(ns)
	return New(ns, tokens, f.fetcher), tokens
}

func course(id, title string) domain.Course {
	return domain.Course{ID: domain.CourseID(id), Title: title}
}

func TestKeyFor(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "selected_course:guest", KeyFor(""))
	assert.Equal(t, "selected_course:short", KeyFor("short"))
	assert.Equal(t, "selected_course:0123456789abcdef", KeyFor("0123456789abcdef-tail"))

	assert.True(t, IsSelectionKey(KeyFor("x")))
	assert.False(t, IsSelectionKey("selected_course:"))
	assert.False(t, IsSelectionKey("auth_token"))
}

func TestReconcile(t *testing.T) {
	t.Parallel()
	list := []domain.Course{course("1", "Algebra"), course("2", "Biology"), course("3", "Chemistry")}

	tests := []struct {
		name    string
		stored  domain.CourseID
		current domain.CourseID
		courses []domain.Course
		want    Decision
	}{
		{"empty list clears", "2", "3", nil, Decision{Clear: true}},
		{"stored wins", "2", "3", list, Decision{Selected: "2"}},
		{"current when stored stale", "9", "3", list, Decision{Selected: "3"}},
		{"first when both stale", "9", "8", list, Decision{Selected: "1"}},
		{"first when nothing picked", "", "", list, Decision{Selected: "1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Reconcile(tt.stored, tt.current, tt.courses))
		})
	}
}

func TestStore_RefreshReplacesStaleSelection(t *testing.T) {
	t.Parallel()
	f := newFixture()
	s, tokens := f.tab("tab-1")
	ctx := context.Background()

	require.NoError(t, tokens.SetToken(ctx, "token-a"))
	f.fetcher.set("token-a", course("1", "Algebra"), course("2", "Biology"))

	require.NoError(t, f.repo.SetValue(ctx, "p1", KeyFor("token-a"), `"42"`))

	res, err := s.Refresh(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, domain.CourseID("1"), res.Selected)
	assert.Equal(t, KeyFor("token-a"), res.Scope)
	assert.Len(t, res.Courses, 2)
	assert.Equal(t, domain.CourseID("1"), s.Selected(ctx))
}

func TestStore_RefreshKeepsValidStoredPick(t *testing.T) {
	t.Parallel()
	f := newFixture()
	s, tokens := f.tab("tab-1")
	ctx := context.Background()

	require.NoError(t, tokens.SetToken(ctx, "token-a"))
	f.fetcher.set("token-a", course("1", "Algebra"), course("2", "Biology"))
	// Numeric ids from older clients still decode.
	require.NoError(t, f.repo.SetValue(ctx, "p1", KeyFor("token-a"), `2`))

	var notified atomic.Int32
	s.Namespace().Subscribe(func(ev events.Event) {
		if ev.Topic == events.TopicCourseSelectionUpdated {
			notified.Add(1)
		}
	})

	res, err := s.Refresh(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, domain.CourseID("2"), res.Selected)
	assert.Equal(t, int32(0), notified.Load())
}

func TestStore_RefreshEmptyListClears(t *testing.T) {
	t.Parallel()
	f := newFixture()
	s, tokens := f.tab("tab-1")
	ctx := context.Background()

	require.NoError(t, tokens.SetToken(ctx, "token-a"))
	require.NoError(t, s.Select(ctx, "7"))

	res, err := s.Refresh(ctx, "7")
	require.NoError(t, err)
	assert.Empty(t, res.Courses)
	assert.Equal(t, domain.CourseID(""), res.Selected)

	_, ok, err := f.repo.GetValue(ctx, "p1", KeyFor("token-a"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_RefreshFetchErrorKeepsState(t *testing.T) {
	t.Parallel()
	f := newFixture()
	s, tokens := f.tab("tab-1")
	ctx := context.Background()

	require.NoError(t, tokens.SetToken(ctx, "token-a"))
	require.NoError(t, s.Select(ctx, "5"))
	f.fetcher.fail(errors.New("portal down"))

	res, err := s.Refresh(ctx, "5")
	require.Error(t, err)
	assert.Equal(t, domain.CourseID("5"), res.Selected)
	assert.Equal(t, domain.CourseID("5"), s.Selected(ctx))
}

func TestStore_GuestSkipsFetch(t *testing.T) {
	t.Parallel()
	f := newFixture()
	s, _ := f.tab("tab-1")
	ctx := context.Background()

	require.NoError(t, s.Select(ctx, "3"))
	assert.Equal(t, KeyFor(""), s.Scope(ctx))

	res, err := s.Refresh(ctx, "3")
	require.NoError(t, err)
	assert.Empty(t, res.Courses)
	assert.Equal(t, int32(0), f.fetcher.calls.Load())
	assert.Equal(t, domain.CourseID(""), s.Selected(ctx))
}

func TestStore_SelectionsAreScopedPerIdentity(t *testing.T) {
	t.Parallel()
	f := newFixture()
	s, tokens := f.tab("tab-1")
	ctx := context.Background()

	require.NoError(t, tokens.SetToken(ctx, "token-a"))
	require.NoError(t, s.Select(ctx, "1"))

	require.NoError(t, tokens.SetToken(ctx, "token-b"))
	assert.Equal(t, domain.CourseID(""), s.Selected(ctx))
	require.NoError(t, s.Select(ctx, "9"))

	require.NoError(t, tokens.SetToken(ctx, "token-a"))
	assert.Equal(t, domain.CourseID("1"), s.Selected(ctx))

	require.NoError(t, s.Select(ctx, ""))
	assert.Equal(t, domain.CourseID(""), s.Selected(ctx))
}

type recorder struct {
	mu      sync.Mutex
	results []Result
}

func (r *recorder) record(res Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, res)
}

func (r *recorder) last() (Result, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.results) == 0 {
		return Result{}, false
	}
	return r.results[len(r.results)-1], true
}

func (r *recorder) waitFor(t *testing.T, cond func(Result) bool) Result {
	t.Helper()
	var got Result
	require.Eventually(t, func() bool {
		res, ok := r.last()
		if ok && cond(res) {
			got = res
			return true
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)
	return got
}

func startWatcher(t *testing.T, s *Store) (*Watcher, *recorder) {
	t.Helper()
	rec := &recorder{}
	w := NewWatcher(s, rec.record, nil)
	w.Start(context.Background())
	t.Cleanup(w.Stop)
	return w, rec
}

func TestWatcher_RefreshesOnAuthChange(t *testing.T) {
	t.Parallel()
	f := newFixture()
	s, tokens := f.tab("tab-1")
	ctx := context.Background()

	f.fetcher.set("token-a", course("1", "Algebra"), course("2", "Biology"))
	f.fetcher.set("token-b", course("3", "Chemistry"))

	w, rec := startWatcher(t, s)

	require.NoError(t, tokens.SetToken(ctx, "token-a"))
	res := rec.waitFor(t, func(r Result) bool { return r.Scope == KeyFor("token-a") })
	assert.Equal(t, domain.CourseID("1"), res.Selected)

	_, err := w.Select(ctx, "2")
	require.NoError(t, err)
	assert.Equal(t, domain.CourseID("2"), w.Current().Selected)

	// Another identity must not inherit the previous pick.
	require.NoError(t, tokens.SetToken(ctx, "token-b"))
	res = rec.waitFor(t, func(r Result) bool { return r.Scope == KeyFor("token-b") })
	assert.Equal(t, domain.CourseID("3"), res.Selected)

	// The first identity's stored pick survives the switch.
	require.NoError(t, tokens.SetToken(ctx, "token-a"))
	res = rec.waitFor(t, func(r Result) bool { return r.Scope == KeyFor("token-a") })
	assert.Equal(t, domain.CourseID("2"), res.Selected)

	require.NoError(t, tokens.Expire(ctx))
	res = rec.waitFor(t, func(r Result) bool { return r.Scope == KeyFor("") })
	assert.Empty(t, res.Courses)
	assert.Equal(t, domain.CourseID(""), res.Selected)
}

func TestWatcher_AdoptsSelectionFromOtherTab(t *testing.T) {
	t.Parallel()
	f := newFixture()
	s, tokens := f.tab("tab-1")
	other, _ := f.tab("tab-2")
	ctx := context.Background()

	f.fetcher.set("token-a", course("1", "Algebra"), course("2", "Biology"))
	require.NoError(t, tokens.SetToken(ctx, "token-a"))

	w, rec := startWatcher(t, s)
	rec.waitFor(t, func(r Result) bool { return r.Selected == "1" })
	fetches := f.fetcher.calls.Load()

	require.NoError(t, other.Select(ctx, "2"))
	rec.waitFor(t, func(r Result) bool { return r.Selected == "2" })

	// A re-read does not hit the portal API.
	assert.Equal(t, fetches, f.fetcher.calls.Load())

	// Picks outside the fetched list are ignored.
	require.NoError(t, other.Select(ctx, "99"))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, domain.CourseID("2"), w.Current().Selected)
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	t.Parallel()
	f := newFixture()
	s, tokens := f.tab("tab-1")

	w := NewWatcher(s, nil, nil)
	w.Start(context.Background())
	w.Stop()
	w.Stop()

	// Events after Stop are ignored.
	require.NoError(t, tokens.SetToken(context.Background(), "token-a"))
	w.Refresh()
}
