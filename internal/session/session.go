// Package session composes the gateway, the change feed and a cache into
// one owner's live view of their notes.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/xaenox/notesync/internal/cache"
	"github.com/xaenox/notesync/internal/feed"
	"github.com/xaenox/notesync/internal/models"
	"github.com/xaenox/notesync/internal/storage"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var ErrAlreadyActive = errors.New("session already activated")

// Session owns the cache for one owner. Gateway results are written to the
// cache only while the session is active.
type Session struct {
	ownerID string
	store   storage.NoteStore
	source  feed.Source
	cache   *cache.Cache
	logger  *zap.Logger

	mu      sync.Mutex
	started bool
	active  atomic.Bool
	sub     *feed.Subscription
}

func New(ownerID string, store storage.NoteStore, source feed.Source, logger *zap.Logger) *Session {
	return &Session{
		ownerID: ownerID,
		store:   store,
		source:  source,
		cache:   cache.New(),
		logger:  logger.With(zap.String("owner_id", ownerID)),
	}
}

func (s *Session) OwnerID() string {
	return s.ownerID
}

func (s *Session) Cache() *cache.Cache {
	return s.cache
}

// Activate loads the root notes and opens the change feed concurrently. The
// two may complete in either order. On failure nothing stays acquired.
func (s *Session) Activate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return ErrAlreadyActive
	}
	s.started = true
	s.active.Store(true)

	var sub *feed.Subscription
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		roots, err := s.store.Find(gctx, s.ownerID, nil)
		if err != nil {
			return fmt.Errorf("initial load: %w", err)
		}
		s.apply(roots...)
		return nil
	})
	g.Go(func() error {
		var err error
		sub, err = feed.Subscribe(gctx, s.source, s.ownerID, feed.CacheHandler(s.cache), s.logger)
		return err
	})

	if err := g.Wait(); err != nil {
		s.active.Store(false)
		if sub != nil {
			if cerr := sub.Close(); cerr != nil {
				s.logger.Warn("Failed to release change feed after activation error", zap.Error(cerr))
			}
		}
		return err
	}

	s.sub = sub
	s.logger.Info("Session activated",
		zap.Int("notes", s.cache.Len()),
		zap.String("subscription_id", sub.ID()))
	return nil
}

// Deactivate releases the change feed. Calls in flight may still return,
// but their results no longer reach the cache.
func (s *Session) Deactivate() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active.Swap(false) {
		return nil
	}
	sub := s.sub
	s.sub = nil
	if sub == nil {
		return nil
	}
	s.logger.Info("Session deactivated", zap.String("subscription_id", sub.ID()))
	return sub.Close()
}

// Active reports whether the session accepts results.
func (s *Session) Active() bool {
	return s.active.Load()
}

// Live reports whether the change feed is still delivering.
func (s *Session) Live() bool {
	s.mu.Lock()
	sub := s.sub
	s.mu.Unlock()
	if sub == nil || !s.active.Load() {
		return false
	}
	select {
	case <-sub.Done():
		return false
	default:
		return true
	}
}

func (s *Session) apply(notes ...models.Note) {
	if !s.active.Load() {
		s.logger.Debug("Discarding result for inactive session", zap.Int("notes", len(notes)))
		return
	}
	s.cache.UpsertAll(notes)
}

func (s *Session) Create(ctx context.Context, in models.NewNote) (models.Note, error) {
	note, err := s.store.Create(ctx, s.ownerID, in)
	if err != nil {
		return models.Note{}, err
	}
	s.apply(note)
	return note, nil
}

// Open fetches one note so the cache holds its latest version.
func (s *Session) Open(ctx context.Context, id int64) (models.Note, error) {
	note, err := s.store.FindOne(ctx, s.ownerID, id)
	if err != nil {
		return models.Note{}, err
	}
	s.apply(note)
	return note, nil
}

// Expand loads the direct children of parentID.
func (s *Session) Expand(ctx context.Context, parentID int64) ([]models.Note, error) {
	notes, err := s.store.Find(ctx, s.ownerID, &parentID)
	if err != nil {
		return nil, err
	}
	s.apply(notes...)
	return notes, nil
}

// Refresh reloads the root notes, for use after the feed disconnected.
func (s *Session) Refresh(ctx context.Context) ([]models.Note, error) {
	notes, err := s.store.Find(ctx, s.ownerID, nil)
	if err != nil {
		return nil, err
	}
	s.apply(notes...)
	return notes, nil
}

func (s *Session) Update(ctx context.Context, id int64, patch models.NoteUpdate) (models.Note, error) {
	note, err := s.store.Update(ctx, s.ownerID, id, patch)
	if err != nil {
		return models.Note{}, err
	}
	s.apply(note)
	return note, nil
}

// Search returns matching notes and caches them.
func (s *Session) Search(ctx context.Context, keyword string) ([]models.Note, error) {
	notes, err := s.store.FindByKeyword(ctx, s.ownerID, keyword)
	if err != nil {
		return nil, err
	}
	s.apply(notes...)
	return notes, nil
}

// Delete removes the cached subtree right away and deletes it remotely. The
// subtree is restored if the remote delete fails for any reason other than
// the note being gone already.
func (s *Session) Delete(ctx context.Context, id int64) error {
	removed := s.cache.RemoveSubtree(id)
	err := s.store.Delete(ctx, s.ownerID, id)
	if err == nil || errors.Is(err, storage.ErrNotFound) {
		return err
	}
	if s.active.Load() && len(removed) > 0 {
		s.cache.Restore(removed)
		s.logger.Warn("Restored notes after failed delete",
			zap.Int64("note_id", id),
			zap.Int("notes", len(removed)),
			zap.Error(err))
	}
	return err
}

// Roots returns the cached root notes, newest first.
func (s *Session) Roots() []models.Note {
	return s.cache.ListRoots(s.ownerID)
}

// Children returns the cached children of parentID, newest first.
func (s *Session) Children(parentID int64) []models.Note {
	return s.cache.ListChildren(s.ownerID, parentID)
}

// Note returns the cached note.
func (s *Session) Note(id int64) (models.Note, bool) {
	return s.cache.Get(id)
}
