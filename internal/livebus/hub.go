// Copyright 2025 James Ross
// Package livebus implements the Live Update Bus: an in-process fan-out hub
// that notifies websocket subscribers whenever an event is durably stored,
// so dashboards can show near-real-time activity without polling.
package livebus

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/llmscope/llmscope/internal/obs"
	"go.uber.org/zap"
)

// Tick is the payload broadcast to every subscriber on each stored event.
// It carries no payload beyond "something changed" — dashboards react by
// re-querying /events/recent, never by reading fields off the tick.
type Tick struct {
	Type string `json:"type"`
}

const tickType = "event_update"

// NewTick builds the broadcast payload for a freshly stored event.
func NewTick() Tick {
	return Tick{Type: tickType}
}

type subscriber struct {
	send chan Tick
	conn *websocket.Conn
}

// Hub is a per-subscriber bounded-channel fan-out: a slow or stalled
// websocket client never blocks delivery to the others, and is dropped
// instead once its buffer fills.
type Hub struct {
	mu         sync.RWMutex
	subs       map[*subscriber]bool
	register   chan *subscriber
	unregister chan *subscriber
	broadcast  chan Tick
	bufferSize int
	log        *zap.Logger
}

func NewHub(bufferSize int, log *zap.Logger) *Hub {
	if bufferSize <= 0 {
		bufferSize = 16
	}
	return &Hub{
		subs:       make(map[*subscriber]bool),
		register:   make(chan *subscriber),
		unregister: make(chan *subscriber),
		broadcast:  make(chan Tick, 256),
		bufferSize: bufferSize,
		log:        log,
	}
}

// Run drives the hub's event loop until stop is closed.
func (h *Hub) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			h.mu.Lock()
			for s := range h.subs {
				close(s.send)
			}
			h.subs = make(map[*subscriber]bool)
			h.mu.Unlock()
			return
		case s := <-h.register:
			h.mu.Lock()
			h.subs[s] = true
			h.mu.Unlock()
			obs.LiveBusSubscribers.Set(float64(len(h.subs)))
		case s := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.subs[s]; ok {
				delete(h.subs, s)
				close(s.send)
			}
			h.mu.Unlock()
			obs.LiveBusSubscribers.Set(float64(len(h.subs)))
		case tick := <-h.broadcast:
			h.mu.RLock()
			for s := range h.subs {
				select {
				case s.send <- tick:
				default:
					obs.LiveBusDisconnects.Inc()
					go func(s *subscriber) { h.unregister <- s }(s)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Publish enqueues tick for delivery to every current subscriber. Never
// blocks: the broadcast channel is generously buffered, and a tick published
// while that buffer is full is dropped (with a warning) rather than backing
// up the caller (the worker pool, on its hot path).
func (h *Hub) Publish(tick Tick) {
	select {
	case h.broadcast <- tick:
	default:
		h.log.Warn("live bus broadcast channel full, dropping tick")
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// ServeHTTP upgrades the request to a websocket and streams ticks to it
// until the connection closes or its send buffer overflows.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("live bus upgrade failed", obs.Err(err))
		return
	}

	s := &subscriber{send: make(chan Tick, h.bufferSize), conn: conn}
	h.register <- s

	go h.readLoop(s)
	h.writeLoop(s)
}

func (h *Hub) readLoop(s *subscriber) {
	defer func() { h.unregister <- s }()
	s.conn.SetReadLimit(512)
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(s *subscriber) {
	defer s.conn.Close()
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case tick, ok := <-s.send:
			if !ok {
				return
			}
			b, err := json.Marshal(tick)
			if err != nil {
				continue
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case <-ticker.C:
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
