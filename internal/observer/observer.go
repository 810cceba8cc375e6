// Package observer re-broadcasts the Runtime's three typed event channels
// to websocket clients (spec.md §9 Runtime redesign; the introspection
// surface of §6 implies a live feed alongside the polling endpoints).
package observer

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/hive-mind/hivecore/internal/runtime"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true }, // local introspection tool, not a public API
}

// Hub fans Runtime events out to connected websocket clients.
type Hub struct {
	log *logrus.Entry

	mu      sync.Mutex
	clients map[*websocket.Conn]chan []byte
}

// NewHub builds a Hub and starts three forwarding goroutines, one per
// Runtime event channel.
func NewHub(rt *runtime.Runtime, log *logrus.Entry) *Hub {
	h := &Hub{log: log, clients: make(map[*websocket.Conn]chan []byte)}

	rt.Go("observer-swarm-forward", func(ctx context.Context) {
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-rt.SwarmEvents():
				if !ok {
					return
				}
				h.broadcast(ev)
			}
		}
	})
	rt.Go("observer-hook-forward", func(ctx context.Context) {
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-rt.HookEvents():
				if !ok {
					return
				}
				h.broadcast(ev)
			}
		}
	})
	rt.Go("observer-memory-forward", func(ctx context.Context) {
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-rt.MemoryEvents():
				if !ok {
					return
				}
				h.broadcast(ev)
			}
		}
	})

	return h
}

func (h *Hub) broadcast(ev any) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, ch := range h.clients {
		select {
		case ch <- payload:
		default:
			h.log.Debug("observer: client send buffer full, dropping event")
			_ = conn
		}
	}
}

// ServeWS upgrades the request and registers the connection until it
// closes.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("observer: upgrade failed")
		return
	}

	ch := make(chan []byte, 64)
	h.mu.Lock()
	h.clients[conn] = ch
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
		_ = conn.Close()
	}()

	for payload := range ch {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return
		}
	}
}

// ClientCount reports how many observers are currently connected.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
