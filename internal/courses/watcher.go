package courses

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/portal-state/internal/auth"
	"github.com/ashureev/portal-state/internal/domain"
	"github.com/ashureev/portal-state/internal/events"
)

const refreshTimeout = 15 * time.Second

// Watcher holds one tab's in-memory course selection and keeps it in sync
// with identity changes and with selections made in other tabs.
//
// Auth signals (and writes to the token key) trigger a full refresh against
// the portal API. A selection written by another tab only triggers a re-read
// of the stored pick against the last fetched list.
type Watcher struct {
	store    *Store
	onChange func(Result)
	log      *slog.Logger

	mu         sync.Mutex
	last       Result
	needFull   bool
	needReread bool

	wake        chan struct{}
	quit        chan struct{}
	unsubscribe func()
	stopOnce    sync.Once
	done        chan struct{}
}

// NewWatcher creates a watcher. onChange receives every refreshed result
// that differs from the previous one; it runs on the watcher goroutine.
func NewWatcher(store *Store, onChange func(Result), log *slog.Logger) *Watcher {
	if log == nil {
		log = slog.Default()
	}
	if onChange == nil {
		onChange = func(Result) {}
	}
	return &Watcher{
		store:    store,
		onChange: onChange,
		log:      log.With("component", "course_watcher", "tab_id", store.ns.Origin()),
		wake:     make(chan struct{}, 1),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start subscribes to the profile's events, queues an initial refresh and
// runs until ctx is done or Stop is called.
func (w *Watcher) Start(ctx context.Context) {
	w.unsubscribe = w.store.ns.Subscribe(w.handle)
	w.request(true)
	go w.loop(ctx)
}

// Stop unsubscribes and waits for the loop to exit.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		if w.unsubscribe != nil {
			w.unsubscribe()
		}
		close(w.quit)
	})
	<-w.done
}

// Current returns the last reconciled result.
func (w *Watcher) Current() Result {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last
}

// Select records the tab's pick and persists it for the current identity.
func (w *Watcher) Select(ctx context.Context, id domain.CourseID) (Result, error) {
	if err := w.store.Select(ctx, id); err != nil {
		return w.Current(), err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.last.Selected = id
	w.last.Scope = w.store.Scope(ctx)
	return w.last, nil
}

// Refresh queues a full refresh.
func (w *Watcher) Refresh() {
	w.request(true)
}

func (w *Watcher) handle(ev events.Event) {
	switch ev.Topic {
	case events.TopicAuthChanged, events.TopicAuthExpired:
		w.request(true)
	case events.TopicStorage:
		switch {
		case ev.Key == auth.TokenKey:
			w.request(true)
		case IsSelectionKey(ev.Key) && ev.Origin != w.store.ns.Origin():
			w.request(false)
		}
	}
}

func (w *Watcher) request(full bool) {
	w.mu.Lock()
	if full {
		w.needFull = true
	} else {
		w.needReread = true
	}
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.quit:
			return
		case <-w.wake:
			w.run(ctx)
		}
	}
}

func (w *Watcher) run(ctx context.Context) {
	w.mu.Lock()
	full, reread := w.needFull, w.needReread
	w.needFull, w.needReread = false, false
	prev := w.last
	w.mu.Unlock()

	var next Result
	switch {
	case full:
		current := prev.Selected
		// A different identity must not inherit the previous one's pick.
		if prev.Scope != "" && prev.Scope != w.store.Scope(ctx) {
			current = ""
		}
		refreshCtx, cancel := context.WithTimeout(ctx, refreshTimeout)
		res, err := w.store.Refresh(refreshCtx, current)
		cancel()
		if err != nil {
			w.log.Warn("Course refresh failed, keeping previous selection", "error", err)
			return
		}
		next = res
	case reread:
		next = prev
		stored := w.store.Selected(ctx)
		if w.store.Scope(ctx) == prev.Scope && domain.ContainsCourse(prev.Courses, stored) {
			next.Selected = stored
		}
	default:
		return
	}

	w.mu.Lock()
	w.last = next
	w.mu.Unlock()

	if !sameResult(prev, next) {
		w.onChange(next)
	}
}

func sameResult(a, b Result) bool {
	if a.Selected != b.Selected || a.Scope != b.Scope || len(a.Courses) != len(b.Courses) {
		return false
	}
	for i := range a.Courses {
		if a.Courses[i] != b.Courses[i] {
			return false
		}
	}
	return true
}
