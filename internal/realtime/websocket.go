package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/portal-state/internal/auth"
	"github.com/ashureev/portal-state/internal/courses"
	"github.com/ashureev/portal-state/internal/domain"
	"github.com/ashureev/portal-state/internal/events"
	"github.com/ashureev/portal-state/internal/identity"
	"github.com/ashureev/portal-state/internal/keyed"
	"github.com/ashureev/portal-state/internal/store"
	"github.com/coder/websocket"
)

const writeTimeout = 5 * time.Second

// Frame is a message exchanged with a tab.
type Frame struct {
	Type     string          `json:"type"`
	Topic    string          `json:"topic,omitempty"`
	Key      string          `json:"key,omitempty"`
	CourseID domain.CourseID `json:"courseId,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// CoursesFrame carries a tab's reconciled course list and selection.
type CoursesFrame struct {
	Type     string          `json:"type"`
	Courses  []domain.Course `json:"courses"`
	Selected domain.CourseID `json:"selected"`
	Scope    string          `json:"scope"`
}

// Frame types.
const (
	FrameEvent          = "event"
	FrameCourses        = "courses"
	FramePing           = "ping"
	FramePong           = "pong"
	FrameError          = "error"
	FrameSelectCourse   = "select_course"
	FrameRefreshCourses = "refresh_courses"
)

// WebSocketHandler upgrades tab connections and streams profile events.
type WebSocketHandler struct {
	repo          store.Repository
	kv            *keyed.Store
	hub           *Hub
	fetcher       courses.Fetcher
	allowedOrigin string
	isDev         bool
	log           *slog.Logger
}

// NewWebSocketHandler creates a new WebSocket handler.
func NewWebSocketHandler(repo store.Repository, kv *keyed.Store, hub *Hub, fetcher courses.Fetcher, allowedOrigin string, isDev bool) *WebSocketHandler {
	return &WebSocketHandler{
		repo:          repo,
		kv:            kv,
		hub:           hub,
		fetcher:       fetcher,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
		log:           slog.Default().With("component", "realtime"),
	}
}

// ShouldDeliver reports whether ev is forwarded to tabID. Storage events are
// not echoed back to the tab that wrote them.
func ShouldDeliver(ev events.Event, tabID string) bool {
	return !(ev.Topic == events.TopicStorage && ev.Origin == tabID)
}

func eventFrame(ev events.Event) Frame {
	return Frame{Type: FrameEvent, Topic: ev.Topic, Key: ev.Key}
}

func coursesFrame(res courses.Result) CoursesFrame {
	list := res.Courses
	if list == nil {
		list = []domain.Course{}
	}
	return CoursesFrame{Type: FrameCourses, Courses: list, Selected: res.Selected, Scope: res.Scope}
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	profileID := identity.ProfileIDFromContext(r.Context())
	tabID := identity.TabIDFromContext(r.Context())
	log := h.log.With("profile_id", profileID, "tab_id", tabID)
	log.Info("WebSocket connection request", "ip", identity.IPFromRequest(r))

	if profileID == "" {
		http.Error(w, "missing profile", http.StatusUnauthorized)
		return
	}
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		log.Error("Failed to accept WebSocket", "error", err)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "tab closed"); closeErr != nil {
			log.Debug("Failed to close websocket", "error", closeErr)
		}
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	tab := newTab(profileID, tabID, ws, log)
	ns := h.kv.Namespace(profileID, tabID)

	unsubscribe := ns.Subscribe(func(ev events.Event) {
		if ShouldDeliver(ev, tabID) {
			h.send(tab, eventFrame(ev))
		}
	})
	defer unsubscribe()

	watcher := courses.NewWatcher(courses.New(ns, auth.New(ns), h.fetcher), func(res courses.Result) {
		h.send(tab, coursesFrame(res))
	}, log)
	watcher.Start(ctx)
	defer watcher.Stop()

	h.hub.Register(tab)
	defer h.hub.Unregister(tab)

	go func() {
		defer cancel()
		h.writeLoop(ctx, tab)
	}()

	h.readLoop(ctx, tab, watcher)
	log.Info("Tab session ended")
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	h.log.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *WebSocketHandler) readLoop(ctx context.Context, tab *Tab, watcher *courses.Watcher) {
	for {
		_, message, err := tab.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || ctx.Err() != nil {
				tab.log.Debug("WebSocket closed by client")
			} else {
				tab.log.Warn("WebSocket read error", "error", err)
			}
			return
		}

		var msg Frame
		if err := json.Unmarshal(message, &msg); err != nil {
			h.send(tab, Frame{Type: FrameError, Error: "invalid frame"})
			continue
		}

		switch msg.Type {
		case FramePing:
			h.send(tab, Frame{Type: FramePong})
		case FrameSelectCourse:
			res, err := watcher.Select(ctx, msg.CourseID)
			if err != nil {
				h.send(tab, Frame{Type: FrameError, Error: "failed to save course selection"})
				continue
			}
			h.send(tab, coursesFrame(res))
		case FrameRefreshCourses:
			watcher.Refresh()
		default:
			h.send(tab, Frame{Type: FrameError, Error: "unknown frame type"})
		}

		go h.touch(tab.ProfileID)
	}
}

func (h *WebSocketHandler) writeLoop(ctx context.Context, tab *Tab) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-tab.send:
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := tab.conn.Write(writeCtx, websocket.MessageText, frame)
			cancel()
			if err != nil {
				if ctx.Err() == nil {
					tab.log.Debug("WebSocket write error", "error", err)
				}
				return
			}
		}
	}
}

func (h *WebSocketHandler) send(tab *Tab, frame any) {
	data, err := json.Marshal(frame)
	if err != nil {
		tab.log.Error("Failed to encode frame", "error", err)
		return
	}
	tab.enqueue(data)
}

func (h *WebSocketHandler) touch(profileID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.repo.UpdateLastSeen(ctx, profileID, time.Now()); err != nil {
		h.log.Warn("Failed to update last seen", "profile_id", profileID, "error", err)
	}
}
