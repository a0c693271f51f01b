// Package notify implements the Frontend notifier boundary (spec.md §6): a
// push channel the scheduler and resolver call at defined ordering points so
// a UI frontend can show progress without polling the store. The websocket
// hub backs the `sync.websocket` config toggle the teacher repo declares but
// never wires up (internal/config/config.go's SyncConfig.Websocket).
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/tonimelisma/nxsync/internal/pairstate"
)

// Notifier is the Frontend notifier contract (spec.md §6).
type Notifier interface {
	NotifySyncStarted(bindingID string)
	NotifySyncStopped(bindingID string)
	NotifyLocalFolders(bindings []*pairstate.ServerBinding)
	NotifyOnline(bindingID string)
	NotifyOffline(bindingID string, err error)
	NotifyPending(bindingID string, n int, orMore bool)
}

// Noop discards every notification; used by non-daemon CLI invocations and
// in tests where no frontend is attached.
type Noop struct{}

func (Noop) NotifySyncStarted(string)                            {}
func (Noop) NotifySyncStopped(string)                             {}
func (Noop) NotifyLocalFolders([]*pairstate.ServerBinding)        {}
func (Noop) NotifyOnline(string)                                  {}
func (Noop) NotifyOffline(string, error)                          {}
func (Noop) NotifyPending(string, int, bool)                      {}

// event is the wire payload broadcast to every connected frontend.
type event struct {
	Type      string `json:"type"`
	BindingID string `json:"binding_id,omitempty"`
	Count     int    `json:"count,omitempty"`
	OrMore    bool   `json:"or_more,omitempty"`
	Error     string `json:"error,omitempty"`
	Folders   []string `json:"folders,omitempty"`
}

// Hub is a websocket broadcast server implementing Notifier. Each connected
// frontend (e.g. a desktop tray app) receives every event as JSON.
type Hub struct {
	logger *slog.Logger

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

// NewHub creates an empty Hub. Call ServeHTTP from an http.Server to accept
// frontend connections.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}

	return &Hub{
		logger: logger,
		conns:  make(map[*websocket.Conn]struct{}),
	}
}

// ServeHTTP upgrades one frontend connection and keeps it registered until
// the client disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("notify: websocket accept failed", "error", err)
		return
	}

	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.conns, c)
		h.mu.Unlock()
		c.CloseNow()
	}()

	// Block until the client goes away; the hub only ever writes.
	ctx := r.Context()
	for {
		if _, _, err := c.Read(ctx); err != nil {
			return
		}
	}
}

func (h *Hub) broadcast(ev event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		h.logger.Warn("notify: marshal event failed", "error", err)
		return
	}

	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	ctx := context.Background()

	for _, c := range conns {
		if err := c.Write(ctx, websocket.MessageText, payload); err != nil {
			h.logger.Debug("notify: write to frontend failed, dropping", "error", err)
		}
	}
}

func (h *Hub) NotifySyncStarted(bindingID string) {
	h.broadcast(event{Type: "sync_started", BindingID: bindingID})
}

func (h *Hub) NotifySyncStopped(bindingID string) {
	h.broadcast(event{Type: "sync_stopped", BindingID: bindingID})
}

func (h *Hub) NotifyLocalFolders(bindings []*pairstate.ServerBinding) {
	folders := make([]string, len(bindings))
	for i, b := range bindings {
		folders[i] = b.LocalFolder
	}

	h.broadcast(event{Type: "local_folders", Folders: folders})
}

func (h *Hub) NotifyOnline(bindingID string) {
	h.broadcast(event{Type: "online", BindingID: bindingID})
}

func (h *Hub) NotifyOffline(bindingID string, err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}

	h.broadcast(event{Type: "offline", BindingID: bindingID, Error: msg})
}

func (h *Hub) NotifyPending(bindingID string, n int, orMore bool) {
	h.broadcast(event{Type: "pending", BindingID: bindingID, Count: n, OrMore: orMore})
}
