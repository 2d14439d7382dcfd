// Package stream fans job events out to server-sent-event clients.
package stream

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// Maximum number of concurrent SSE connections allowed
	MaxConcurrentConnections = 256
	// Buffer size for each client's message channel
	ClientChannelBuffer = 64
	// How often to send keep-alive messages
	KeepAliveInterval = 30 * time.Second
	// Buffer size for hub broadcast queue
	HubBroadcastBuffer = 1024
)

// Message is one SSE event.
type Message struct {
	Type string `json:"type"`
	Msg  string `json:"msg"`
}

type hub struct {
	mu      sync.RWMutex
	clients map[chan Message]struct{}

	broadcast chan Message
	shutdown  chan struct{}
	once      sync.Once

	dropped  int64
	rejected int64
}

var manager = newHub()

func newHub() *hub {
	h := &hub{
		clients:   make(map[chan Message]struct{}),
		broadcast: make(chan Message, HubBroadcastBuffer),
		shutdown:  make(chan struct{}),
	}
	go h.run()
	return h
}

func (h *hub) run() {
	for {
		select {
		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				select {
				case c <- msg:
				default:
					// client queue full; drop this message for this client
					atomic.AddInt64(&h.dropped, 1)
				}
			}
			h.mu.RUnlock()
		case <-h.shutdown:
			return
		}
	}
}

// Subscribe registers a client channel. It returns nil when the hub is at
// capacity.
func Subscribe() chan Message {
	manager.mu.Lock()
	defer manager.mu.Unlock()
	if len(manager.clients) >= MaxConcurrentConnections {
		atomic.AddInt64(&manager.rejected, 1)
		return nil
	}
	c := make(chan Message, ClientChannelBuffer)
	manager.clients[c] = struct{}{}
	return c
}

// Unsubscribe removes and closes a client channel.
func Unsubscribe(c chan Message) {
	manager.mu.Lock()
	defer manager.mu.Unlock()
	if _, ok := manager.clients[c]; ok {
		delete(manager.clients, c)
		close(c)
	}
}

// ActiveConnections returns the number of subscribed clients.
func ActiveConnections() int {
	manager.mu.RLock()
	defer manager.mu.RUnlock()
	return len(manager.clients)
}

// Stats returns counters for monitoring.
func Stats() map[string]int64 {
	return map[string]int64{
		"active_connections":   int64(ActiveConnections()),
		"dropped_messages":     atomic.LoadInt64(&manager.dropped),
		"rejected_connections": atomic.LoadInt64(&manager.rejected),
	}
}

// Broadcast enqueues a message for fan-out without blocking callers.
func Broadcast(msg Message) {
	select {
	case manager.broadcast <- msg:
	default:
		atomic.AddInt64(&manager.dropped, 1)
	}
}

// Shutdown stops the hub and disconnects every client.
func Shutdown() {
	manager.once.Do(func() {
		close(manager.shutdown)
		manager.mu.Lock()
		for c := range manager.clients {
			delete(manager.clients, c)
			close(c)
		}
		manager.mu.Unlock()
		log.Println("Stream hub shutdown complete")
	})
}

// StreamHandler serves the SSE endpoint.
func StreamHandler(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}
	c := Subscribe()
	if c == nil {
		http.Error(w, "Server at capacity, please try again later", http.StatusServiceUnavailable)
		return
	}
	defer Unsubscribe(c)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Del("Content-Encoding")

	keepAlive := time.NewTicker(KeepAliveInterval)
	defer keepAlive.Stop()

	if _, err := io.WriteString(w, "data: {\"type\":\"connected\",\"msg\":\"SSE connection established\"}\n\n"); err != nil {
		return
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case msg, ok := <-c:
			if !ok {
				return
			}
			if _, err := io.WriteString(w, formatSSEResponse(msg)); err != nil {
				return
			}
			flusher.Flush()
		case <-keepAlive.C:
			if _, err := io.WriteString(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func formatSSEResponse(msg Message) string {
	return fmt.Sprintf("event: %s\ndata: %s\n\n", msg.Type, msg.Msg)
}
