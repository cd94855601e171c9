package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xaenox/notesync/internal/feed"
	"github.com/xaenox/notesync/internal/storage"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var ErrManagerClosed = errors.New("session manager closed")

// activateTimeout bounds a shared activation, which outlives the caller
// that started it.
const activateTimeout = 30 * time.Second

// Manager hands out at most one active session per owner, so a process
// never holds two caches for the same notes.
type Manager struct {
	store  storage.NoteStore
	source feed.Source
	logger *zap.Logger

	mu       sync.Mutex
	closed   bool
	sessions map[string]*Session
	group    singleflight.Group
}

func NewManager(store storage.NoteStore, source feed.Source, logger *zap.Logger) *Manager {
	return &Manager{
		store:    store,
		source:   source,
		logger:   logger,
		sessions: make(map[string]*Session),
	}
}

// Session returns the owner's live session, activating a new one on first
// use or after the previous one lost its change feed. Concurrent callers
// share a single activation; each waits for it only as long as its own ctx
// allows.
func (m *Manager) Session(ctx context.Context, ownerID string) (*Session, error) {
	id, err := uuid.Parse(ownerID)
	if err != nil {
		return nil, fmt.Errorf("session for owner %q: %w", ownerID, storage.ErrValidation)
	}
	owner := id.String()

	if s, err := m.lookup(owner); s != nil || err != nil {
		return s, err
	}

	ch := m.group.DoChan(owner, func() (any, error) {
		if s, err := m.lookup(owner); s != nil || err != nil {
			return s, err
		}

		actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), activateTimeout)
		defer cancel()
		s := New(owner, m.store, m.source, m.logger)
		if err := s.Activate(actx); err != nil {
			return nil, fmt.Errorf("activate session: %w", err)
		}

		m.mu.Lock()
		defer m.mu.Unlock()
		if m.closed {
			_ = s.Deactivate()
			return nil, ErrManagerClosed
		}
		m.sessions[owner] = s
		return s, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Session), nil
	}
}

// lookup returns a live session, dropping one whose feed has ended.
func (m *Manager) lookup(owner string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrManagerClosed
	}
	s, ok := m.sessions[owner]
	if !ok {
		return nil, nil
	}
	if s.Live() {
		return s, nil
	}
	m.logger.Info("Replacing session with a disconnected change feed", zap.String("owner_id", owner))
	delete(m.sessions, owner)
	if err := s.Deactivate(); err != nil {
		m.logger.Warn("Failed to deactivate stale session", zap.Error(err), zap.String("owner_id", owner))
	}
	return nil, nil
}

// Release deactivates the owner's session, if any.
func (m *Manager) Release(ownerID string) error {
	if id, err := uuid.Parse(ownerID); err == nil {
		ownerID = id.String()
	}
	m.mu.Lock()
	s, ok := m.sessions[ownerID]
	delete(m.sessions, ownerID)
	m.mu.Unlock()

	if !ok {
		return nil
	}
	return s.Deactivate()
}

// Active returns the number of held sessions.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Close deactivates every session; later Session calls fail.
func (m *Manager) Close() error {
	m.mu.Lock()
	m.closed = true
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	var errs []error
	for _, s := range sessions {
		if err := s.Deactivate(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
