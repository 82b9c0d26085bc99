package session

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// DefaultDebounce is the quiet period after the last change before a
// session is written.
const DefaultDebounce = 500 * time.Millisecond

const writeTimeout = 5 * time.Second

type pendingSave struct {
	cache      *Cache
	documentID string
	snap       Snapshot
	timer      *time.Timer
}

// Writer debounces session saves per (profile, document). Each Schedule
// replaces the pending snapshot and restarts the quiet period; the timer
// callback does the actual write. While a generation is running for a
// document its saves are held back.
type Writer struct {
	delay time.Duration
	log   *slog.Logger

	// writeMu is held from taking a pending snapshot until it is written, so
	// snapshots of the same document reach the store in schedule order.
	writeMu sync.Mutex

	mu         sync.Mutex
	pending    map[string]*pendingSave
	generating map[string]bool
	closed     bool
}

// NewWriter creates a debounced writer. A non-positive delay uses
// DefaultDebounce.
func NewWriter(delay time.Duration, log *slog.Logger) *Writer {
	if delay <= 0 {
		delay = DefaultDebounce
	}
	if log == nil {
		log = slog.Default()
	}
	return &Writer{
		delay:      delay,
		log:        log.With("component", "session_writer"),
		pending:    make(map[string]*pendingSave),
		generating: make(map[string]bool),
	}
}

func pendingKey(profileID, documentID string) string {
	return profileID + "/" + documentID
}

// Schedule queues snap for documentID. It reports false when the save was
// skipped because a generation is in progress or the writer is closed.
func (w *Writer) Schedule(cache *Cache, documentID string, snap Snapshot) bool {
	key := pendingKey(cache.ns.ProfileID(), documentID)

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed || w.generating[key] {
		return false
	}

	if p, ok := w.pending[key]; ok {
		p.timer.Stop()
		p.cache = cache
		p.snap = snap
		p.timer = w.arm(key, p)
		return true
	}

	p := &pendingSave{cache: cache, documentID: documentID, snap: snap}
	p.timer = w.arm(key, p)
	w.pending[key] = p
	return true
}

// arm must be called with w.mu held.
func (w *Writer) arm(key string, p *pendingSave) *time.Timer {
	return time.AfterFunc(w.delay, func() {
		w.writeMu.Lock()
		defer w.writeMu.Unlock()

		w.mu.Lock()
		if w.pending[key] != p || w.generating[key] {
			w.mu.Unlock()
			return
		}
		delete(w.pending, key)
		w.mu.Unlock()

		w.write(p)
	})
}

// Flush writes the pending snapshot for the document now. It reports
// whether there was one.
func (w *Writer) Flush(ctx context.Context, profileID, documentID string) (bool, error) {
	key := pendingKey(profileID, documentID)

	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	w.mu.Lock()
	p, ok := w.pending[key]
	if ok {
		p.timer.Stop()
		delete(w.pending, key)
	}
	w.mu.Unlock()

	if !ok {
		return false, nil
	}
	_, err := p.cache.Save(ctx, p.documentID, p.snap)
	return true, err
}

// Cancel drops the pending snapshot for the document, if any.
func (w *Writer) Cancel(profileID, documentID string) bool {
	key := pendingKey(profileID, documentID)

	w.mu.Lock()
	defer w.mu.Unlock()

	p, ok := w.pending[key]
	if !ok {
		return false
	}
	p.timer.Stop()
	delete(w.pending, key)
	return true
}

// CancelProfile drops every pending snapshot and generation flag of a
// profile and returns how many saves were dropped.
func (w *Writer) CancelProfile(profileID string) int {
	prefix := profileID + "/"

	w.mu.Lock()
	defer w.mu.Unlock()

	dropped := 0
	for key, p := range w.pending {
		if strings.HasPrefix(key, prefix) {
			p.timer.Stop()
			delete(w.pending, key)
			dropped++
		}
	}
	for key := range w.generating {
		if strings.HasPrefix(key, prefix) {
			delete(w.generating, key)
		}
	}
	return dropped
}

// SetGenerating marks a generation as running or finished. While running,
// new schedules are skipped and the pending snapshot (taken before the
// generation started) is held; when it finishes the quiet period restarts.
func (w *Writer) SetGenerating(profileID, documentID string, active bool) {
	key := pendingKey(profileID, documentID)

	w.mu.Lock()
	defer w.mu.Unlock()

	if active {
		w.generating[key] = true
		if p, ok := w.pending[key]; ok {
			p.timer.Stop()
		}
		return
	}

	delete(w.generating, key)
	if p, ok := w.pending[key]; ok && !w.closed {
		p.timer.Stop()
		p.timer = w.arm(key, p)
	}
}

// Generating reports whether a generation is running for the document.
func (w *Writer) Generating(profileID, documentID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.generating[pendingKey(profileID, documentID)]
}

// Pending reports whether a save is queued for the document.
func (w *Writer) Pending(profileID, documentID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.pending[pendingKey(profileID, documentID)]
	return ok
}

// Close stops accepting schedules and writes everything still pending.
func (w *Writer) Close(ctx context.Context) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	w.mu.Lock()
	w.closed = true
	queued := make([]*pendingSave, 0, len(w.pending))
	for key, p := range w.pending {
		p.timer.Stop()
		queued = append(queued, p)
		delete(w.pending, key)
	}
	w.mu.Unlock()

	var firstErr error
	for _, p := range queued {
		if _, err := p.cache.Save(ctx, p.documentID, p.snap); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if len(queued) > 0 {
		w.log.Info("Flushed pending sessions on close", "count", len(queued))
	}
	return firstErr
}

func (w *Writer) write(p *pendingSave) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if _, err := p.cache.Save(ctx, p.documentID, p.snap); err != nil {
		// The tab still holds the state; the next schedule retries.
		w.log.Warn("Debounced session save failed",
			"profile_id", p.cache.ns.ProfileID(),
			"document_id", p.documentID,
			"error", err)
	}
}
