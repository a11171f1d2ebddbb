// Package livesync pushes table changes to connected browsers: a websocket
// hub fed by the store's in-process change events, an fsnotify watcher for
// external file edits, and an optional Redis fanout between instances.
package livesync

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/eltffn/dane-table-app/internal/store"
)

const writeWait = 10 * time.Second

// Message is the server→client frame: "init" on connect, "update" on change.
// Data carries the document bytes as stored, column order intact.
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Publisher forwards local updates to other instances. Implemented by
// RedisFanout; nil means single-instance operation.
type Publisher interface {
	Publish(ctx context.Context, data json.RawMessage) error
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4 * 1024,
	WriteBufferSize: 4 * 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := strings.TrimSpace(r.Header.Get("Origin"))
		if origin == "" {
			return true
		}
		return strings.Contains(origin, "://"+strings.TrimSpace(r.Host))
	},
}

// Hub tracks connected clients and broadcasts full-table snapshots. Clients
// always replace their whole state on receipt; there are no partial updates.
type Hub struct {
	store   *store.Store
	fanout  Publisher
	logger  *zap.Logger
	clients map[*websocket.Conn]struct{}
	mu      sync.Mutex
	// writeMu serializes broadcast loops; gorilla connections do not allow
	// concurrent writers.
	writeMu sync.Mutex
}

func NewHub(st *store.Store, fanout Publisher, logger *zap.Logger) *Hub {
	return &Hub{
		store:   st,
		fanout:  fanout,
		logger:  logger,
		clients: make(map[*websocket.Conn]struct{}),
	}
}

// Run consumes store change events until ctx is done, broadcasting each to
// local clients and, when configured, publishing to the fanout.
func (h *Hub) Run(ctx context.Context) {
	events, cancel := h.store.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case raw, ok := <-events:
			if !ok {
				return
			}
			h.Broadcast(raw)
			if h.fanout != nil {
				if err := h.fanout.Publish(ctx, raw); err != nil {
					h.logger.Warn("fanout publish failed", zap.Error(err))
				}
			}
		}
	}
}

// ServeHTTP upgrades the connection and immediately pushes the current table
// as an init message. The write lock is held from the snapshot read through
// registration, so a write landing in between is broadcast to this client
// rather than lost.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	h.writeMu.Lock()
	raw, err := h.store.ReadTableRaw()
	if err != nil {
		raw = []byte("{}")
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if werr := conn.WriteJSON(Message{Type: "init", Data: raw}); werr != nil {
		h.writeMu.Unlock()
		conn.Close()
		return
	}
	h.mu.Lock()
	h.clients[conn] = struct{}{}
	h.mu.Unlock()
	h.writeMu.Unlock()
	h.logger.Info("websocket client connected")

	// The protocol is server→client only; the read loop just detects close.
	go func() {
		defer func() {
			h.mu.Lock()
			delete(h.clients, conn)
			h.mu.Unlock()
			conn.Close()
			h.logger.Info("websocket client disconnected")
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// Broadcast pushes an update frame to every connected client, evicting
// clients whose writes fail.
func (h *Hub) Broadcast(raw json.RawMessage) {
	msg := Message{Type: "update", Data: raw}

	h.writeMu.Lock()
	defer h.writeMu.Unlock()

	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		conns = append(conns, conn)
	}
	h.mu.Unlock()

	for _, conn := range conns {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(msg); err != nil {
			h.mu.Lock()
			delete(h.clients, conn)
			h.mu.Unlock()
			conn.Close()
		}
	}
}

// ClientCount reports connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.Close()
		delete(h.clients, conn)
	}
}
