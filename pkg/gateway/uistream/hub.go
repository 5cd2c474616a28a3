// Package uistream pushes session events to presentation clients over
// websockets.
package uistream

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// EventSnapshot is sent once to each new subscriber, before any published
// event.
const EventSnapshot = "snapshot"

var (
	ErrHubClosed          = errors.New("uistream: hub closed")
	ErrTooManySubscribers = errors.New("uistream: too many subscribers")
)

type Event struct {
	Seq  uint64    `json:"seq"`
	Type string    `json:"type"`
	At   time.Time `json:"at"`
	Data any       `json:"data,omitempty"`
}

type Config struct {
	// Buffer is the per-subscriber queue length. A subscriber whose queue is
	// full is dropped.
	Buffer         int
	MaxSubscribers int
	PingInterval   time.Duration
	WriteTimeout   time.Duration
}

func (c Config) withDefaults() Config {
	if c.Buffer <= 0 {
		c.Buffer = 64
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 20 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	return c
}

// Hub fans published events out to subscribers.
type Hub struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu     sync.Mutex
	seq    uint64
	nextID uint64
	subs   map[uint64]chan []byte
	closed bool
}

func NewHub(cfg Config, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		cfg:    cfg.withDefaults(),
		logger: logger,
		now:    time.Now,
		subs:   make(map[uint64]chan []byte),
	}
}

// Publish encodes the event once and queues it for every subscriber without
// blocking. Safe on a nil hub.
func (h *Hub) Publish(eventType string, data any) {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.seq++
	frame, err := json.Marshal(Event{Seq: h.seq, Type: eventType, At: h.now().UTC(), Data: data})
	if err != nil {
		h.logger.Error("encode ui event", "type", eventType, "error", err)
		return
	}
	for id, ch := range h.subs {
		select {
		case ch <- frame:
		default:
			h.logger.Warn("ui subscriber too slow, dropping", "subscriber", id)
			delete(h.subs, id)
			close(ch)
		}
	}
}

type Subscription struct {
	id     uint64
	hub    *Hub
	frames chan []byte
}

// Frames is closed when the subscription ends.
func (s *Subscription) Frames() <-chan []byte { return s.frames }

func (s *Subscription) Close() {
	if s == nil || s.hub == nil {
		return
	}
	s.hub.remove(s.id)
}

func (h *Hub) Subscribe() (*Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrHubClosed
	}
	if h.cfg.MaxSubscribers > 0 && len(h.subs) >= h.cfg.MaxSubscribers {
		return nil, ErrTooManySubscribers
	}
	h.nextID++
	ch := make(chan []byte, h.cfg.Buffer)
	h.subs[h.nextID] = ch
	return &Subscription{id: h.nextID, hub: h, frames: ch}, nil
}

func (h *Hub) remove(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(ch)
	}
}

func (h *Hub) Subscribers() int {
	if h == nil {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close ends every subscription. Later publishes are dropped.
func (h *Hub) Close() {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}
