package feed

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

const defaultHubBuffer = 256

// Hub is an in-process Source and Publisher with per-owner fan-out. A stream
// whose buffer is full is disconnected instead of losing events silently.
type Hub struct {
	mu      sync.Mutex
	buffer  int
	streams map[string]map[*hubStream]struct{}
	logger  *zap.Logger
}

func NewHub(buffer int, logger *zap.Logger) *Hub {
	if buffer <= 0 {
		buffer = defaultHubBuffer
	}
	return &Hub{
		buffer:  buffer,
		streams: make(map[string]map[*hubStream]struct{}),
		logger:  logger,
	}
}

type hubStream struct {
	hub     *Hub
	ownerID string
	ch      chan Event
	closed  bool
}

func (s *hubStream) Events() <-chan Event {
	return s.ch
}

func (s *hubStream) Close() error {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	s.hub.detach(s)
	return nil
}

// Open registers a stream for ownerID.
func (h *Hub) Open(ctx context.Context, ownerID string) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := &hubStream{hub: h, ownerID: ownerID, ch: make(chan Event, h.buffer)}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.streams[ownerID] == nil {
		h.streams[ownerID] = make(map[*hubStream]struct{})
	}
	h.streams[ownerID][s] = struct{}{}
	return s, nil
}

// Publish fans ev out to every open stream of ownerID.
func (h *Hub) Publish(ownerID string, ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for s := range h.streams[ownerID] {
		select {
		case s.ch <- ev:
		default:
			h.logger.Warn("Change feed subscriber fell behind, disconnecting",
				zap.String("owner_id", ownerID),
				zap.Int("buffer", h.buffer))
			h.detach(s)
		}
	}
}

// Subscribers returns the number of open streams for ownerID.
func (h *Hub) Subscribers(ownerID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.streams[ownerID])
}

// detach must be called with h.mu held.
func (h *Hub) detach(s *hubStream) {
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
	delete(h.streams[s.ownerID], s)
	if len(h.streams[s.ownerID]) == 0 {
		delete(h.streams, s.ownerID)
	}
}
