package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/xaenox/notesync/internal/models"
	"go.uber.org/zap"
)

// Stream is an open push channel for one owner. Events is closed when the
// stream disconnects or is closed; no further live updates follow.
type Stream interface {
	Events() <-chan Event
	Close() error
}

// Source opens owner-filtered streams.
type Source interface {
	Open(ctx context.Context, ownerID string) (Stream, error)
}

// Publisher accepts events produced by a writer.
type Publisher interface {
	Publish(ownerID string, ev Event)
}

// Loader reads the current row for partial events.
type Loader func(ctx context.Context, ownerID string, id int64) (models.Note, error)

// Sink receives translated events; *cache.Cache implements it.
type Sink interface {
	UpsertAll(notes []models.Note) int
	Evict(old models.Note)
}

// CacheHandler translates events into cache operations. A DELETE only
// removes the named row; descendants are removed by their own events.
func CacheHandler(sink Sink) func(Event) {
	return func(ev Event) {
		switch ev.Type {
		case Insert, Update:
			sink.UpsertAll([]models.Note{*ev.New})
		case Delete:
			sink.Evict(*ev.Old)
		}
	}
}

type State int

const (
	StateUnopened State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unopened"
	}
}

// ErrClosed is returned when opening a subscription that was already closed.
var ErrClosed = errors.New("subscription closed")

// Subscription is the handle for one owner's live channel.
type Subscription struct {
	id      uuid.UUID
	ownerID string
	onEvent func(Event)
	logger  *zap.Logger

	mu     sync.Mutex
	state  State
	stream Stream
	done   chan struct{}
}

// Subscribe opens exactly one stream for ownerID and delivers its events to
// onEvent sequentially on a dedicated goroutine. The returned handle must be
// closed once by the owning context.
func Subscribe(ctx context.Context, src Source, ownerID string, onEvent func(Event), logger *zap.Logger) (*Subscription, error) {
	sub := newSubscription(ownerID, onEvent, logger)
	if err := sub.open(ctx, src); err != nil {
		return nil, err
	}
	return sub, nil
}

func newSubscription(ownerID string, onEvent func(Event), logger *zap.Logger) *Subscription {
	return &Subscription{
		id:      uuid.New(),
		ownerID: ownerID,
		onEvent: onEvent,
		logger:  logger.With(zap.String("owner_id", ownerID)),
		done:    make(chan struct{}),
	}
}

func (s *Subscription) open(ctx context.Context, src Source) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateUnopened {
		return fmt.Errorf("open subscription %s: %w", s.id, ErrClosed)
	}
	stream, err := src.Open(ctx, s.ownerID)
	if err != nil {
		return fmt.Errorf("open change feed: %w", err)
	}
	s.stream = stream
	s.state = StateOpen
	go s.pump(stream)
	return nil
}

func (s *Subscription) pump(stream Stream) {
	defer close(s.done)
	for ev := range stream.Events() {
		if s.State() != StateOpen {
			continue
		}
		if owner := ev.OwnerID(); owner != "" && owner != s.ownerID {
			s.logger.Warn("Dropping change event for another owner",
				zap.String("event_owner", owner),
				zap.Int64("note_id", ev.NoteID()))
			continue
		}
		s.onEvent(ev)
	}
	if s.State() == StateOpen {
		s.logger.Warn("Change feed disconnected, no further live updates",
			zap.String("subscription_id", s.id.String()))
	}
}

// ID identifies the handle.
func (s *Subscription) ID() string {
	return s.id.String()
}

func (s *Subscription) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done is closed after the last event has been delivered.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Close releases the stream. Closing a closed subscription is a no-op.
func (s *Subscription) Close() error {
	s.mu.Lock()
	if s.state != StateOpen {
		s.state = StateClosed
		s.mu.Unlock()
		return nil
	}
	s.state = StateClosed
	stream := s.stream
	s.mu.Unlock()

	if err := stream.Close(); err != nil {
		return fmt.Errorf("close change feed: %w", err)
	}
	return nil
}
