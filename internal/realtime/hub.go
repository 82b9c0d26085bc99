// Package realtime streams profile events to connected tabs over WebSocket.
package realtime

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/coder/websocket"
)

const sendBuffer = 64

// Tab is one connected browser tab.
type Tab struct {
	ProfileID string
	TabID     string

	conn *websocket.Conn
	send chan []byte
	log  *slog.Logger
}

func newTab(profileID, tabID string, conn *websocket.Conn, log *slog.Logger) *Tab {
	return &Tab{
		ProfileID: profileID,
		TabID:     tabID,
		conn:      conn,
		send:      make(chan []byte, sendBuffer),
		log:       log,
	}
}

// enqueue queues a frame for the writer. Frames for a slow tab are dropped.
func (t *Tab) enqueue(frame []byte) bool {
	select {
	case t.send <- frame:
		return true
	default:
		t.log.Warn("Dropping frame for slow tab", "profile_id", t.ProfileID, "tab_id", t.TabID)
		return false
	}
}

func (t *Tab) close(reason string) {
	if t.conn == nil {
		return
	}
	_ = t.conn.Close(websocket.StatusNormalClosure, reason)
}

// Hub tracks the live tabs of every profile.
type Hub struct {
	mu     sync.RWMutex
	active map[string]map[string]*Tab
	log    *slog.Logger
}

// NewHub creates an empty hub.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		active: make(map[string]map[string]*Tab),
		log:    log.With("component", "realtime_hub"),
	}
}

// Get returns the live tab, or nil.
func (h *Hub) Get(profileID, tabID string) *Tab {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if tabs, ok := h.active[profileID]; ok {
		return tabs[tabID]
	}
	return nil
}

// Register adds a tab. A previous connection with the same tab id is closed.
func (h *Hub) Register(tab *Tab) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.active[tab.ProfileID]; !exists {
		h.active[tab.ProfileID] = make(map[string]*Tab)
	}

	if existing, exists := h.active[tab.ProfileID][tab.TabID]; exists && existing != tab {
		existing.close("tab replaced")
	}

	h.active[tab.ProfileID][tab.TabID] = tab
	h.log.Info("Tab registered", "profile_id", tab.ProfileID, "tab_id", tab.TabID)
}

// Unregister removes tab if it is still the registered connection.
func (h *Hub) Unregister(tab *Tab) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if tabs, ok := h.active[tab.ProfileID]; ok {
		if current, exists := tabs[tab.TabID]; exists && current == tab {
			delete(tabs, tab.TabID)
			if len(tabs) == 0 {
				delete(h.active, tab.ProfileID)
			}
			h.log.Info("Tab unregistered", "profile_id", tab.ProfileID, "tab_id", tab.TabID)
		}
	}
}

// Tabs lists the connected tab ids of a profile.
func (h *Hub) Tabs(profileID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.active[profileID]))
	for id := range h.active[profileID] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// CloseProfile disconnects every tab of a profile.
func (h *Hub) CloseProfile(profileID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	tabs, ok := h.active[profileID]
	if !ok {
		return
	}
	for id, tab := range tabs {
		tab.close("profile closed")
		h.log.Info("Tab closed", "profile_id", profileID, "tab_id", id)
	}
	delete(h.active, profileID)
}

// Shutdown disconnects every tab.
func (h *Hub) Shutdown(_ context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for profileID, tabs := range h.active {
		for _, tab := range tabs {
			tab.close("server shutting down")
		}
		delete(h.active, profileID)
	}
}
