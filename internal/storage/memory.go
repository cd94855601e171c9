package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/xaenox/notesync/internal/feed"
	"github.com/xaenox/notesync/internal/models"
)

// MemoryStorage keeps notes in process and publishes a change event for
// every row it writes, like the database trigger does.
type MemoryStorage struct {
	mu        sync.RWMutex
	notes     map[int64]models.Note
	nextID    int64
	lastStamp time.Time
	now       func() time.Time
	publisher feed.Publisher
}

// NewMemoryStorage returns an empty store. publisher may be nil.
func NewMemoryStorage(publisher feed.Publisher) *MemoryStorage {
	return &MemoryStorage{
		notes:     make(map[int64]models.Note),
		now:       time.Now,
		publisher: publisher,
	}
}

// stamp returns a strictly increasing timestamp so created_at ordering and
// update versions stay total under a coarse clock.
func (s *MemoryStorage) stamp() time.Time {
	t := s.now().UTC().Truncate(time.Microsecond)
	if !t.After(s.lastStamp) {
		t = s.lastStamp.Add(time.Microsecond)
	}
	s.lastStamp = t
	return t
}

// publish must be called after s.mu is released; a remote publisher may
// block for a network round trip. Concurrent writers can publish out of
// commit order, which subscribers absorb through note versions.
func (s *MemoryStorage) publish(ownerID string, events ...feed.Event) {
	if s.publisher == nil {
		return
	}
	for _, ev := range events {
		s.publisher.Publish(ownerID, ev)
	}
}

func (s *MemoryStorage) Create(ctx context.Context, ownerID string, in models.NewNote) (models.Note, error) {
	const op = "create note"
	owner, err := normalizeOwner(op, ownerID)
	if err != nil {
		return models.Note{}, err
	}
	if err := validateParent(op, in.ParentID); err != nil {
		return models.Note{}, err
	}

	s.mu.Lock()
	if in.ParentID != nil {
		parent, ok := s.notes[*in.ParentID]
		if !ok || parent.OwnerID != owner {
			s.mu.Unlock()
			return models.Note{}, invalid(op, "parent note %d not found", *in.ParentID)
		}
	}

	s.nextID++
	now := s.stamp()
	note := models.Note{
		ID:        s.nextID,
		OwnerID:   owner,
		Title:     in.Title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if in.ParentID != nil {
		note.ParentID = models.Int64(*in.ParentID)
	}
	s.notes[note.ID] = note
	s.mu.Unlock()
	s.publish(owner, feed.Inserted(note))
	return note, nil
}

func (s *MemoryStorage) Find(ctx context.Context, ownerID string, parentID *int64) ([]models.Note, error) {
	const op = "find notes"
	owner, err := normalizeOwner(op, ownerID)
	if err != nil {
		return nil, err
	}
	if err := validateParent(op, parentID); err != nil {
		return nil, err
	}

	return s.filter(func(n models.Note) bool {
		if n.OwnerID != owner {
			return false
		}
		if parentID == nil {
			return n.IsRoot()
		}
		return n.HasParent(*parentID)
	}), nil
}

func (s *MemoryStorage) FindOne(ctx context.Context, ownerID string, id int64) (models.Note, error) {
	const op = "find note"
	owner, err := normalizeOwner(op, ownerID)
	if err != nil {
		return models.Note{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	note, ok := s.notes[id]
	if !ok || note.OwnerID != owner {
		return models.Note{}, notFound(op, id)
	}
	return note, nil
}

func (s *MemoryStorage) Update(ctx context.Context, ownerID string, id int64, patch models.NoteUpdate) (models.Note, error) {
	const op = "update note"
	owner, err := normalizeOwner(op, ownerID)
	if err != nil {
		return models.Note{}, err
	}
	if patch.Empty() {
		return models.Note{}, invalid(op, "no field to update")
	}

	s.mu.Lock()
	old, ok := s.notes[id]
	if !ok || old.OwnerID != owner {
		s.mu.Unlock()
		return models.Note{}, notFound(op, id)
	}
	note := old
	if patch.Title != nil {
		note.Title = *patch.Title
	}
	if patch.Content != nil {
		note.Content = *patch.Content
	}
	note.UpdatedAt = s.stamp()
	s.notes[id] = note
	s.mu.Unlock()
	s.publish(owner, feed.Updated(old, note))
	return note, nil
}

func (s *MemoryStorage) FindByKeyword(ctx context.Context, ownerID string, keyword string) ([]models.Note, error) {
	const op = "search notes"
	owner, err := normalizeOwner(op, ownerID)
	if err != nil {
		return nil, err
	}

	needle := strings.ToLower(keyword)
	return s.filter(func(n models.Note) bool {
		if n.OwnerID != owner {
			return false
		}
		return strings.Contains(strings.ToLower(n.Title), needle) ||
			strings.Contains(strings.ToLower(n.Content), needle)
	}), nil
}

// Delete removes the subtree under one lock, then emits one DELETE per row.
func (s *MemoryStorage) Delete(ctx context.Context, ownerID string, id int64) error {
	const op = "delete note"
	owner, err := normalizeOwner(op, ownerID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	root, ok := s.notes[id]
	if !ok || root.OwnerID != owner {
		s.mu.Unlock()
		return notFound(op, id)
	}

	removed := []models.Note{root}
	for i := 0; i < len(removed); i++ {
		for _, n := range s.notes {
			if n.HasParent(removed[i].ID) {
				removed = append(removed, n)
			}
		}
	}
	events := make([]feed.Event, len(removed))
	for i, n := range removed {
		delete(s.notes, n.ID)
		events[i] = feed.Deleted(n)
	}
	s.mu.Unlock()
	s.publish(owner, events...)
	return nil
}

func (s *MemoryStorage) Close() error {
	// Nothing to close for in-memory storage
	return nil
}

func (s *MemoryStorage) filter(keep func(models.Note) bool) []models.Note {
	s.mu.RLock()
	defer s.mu.RUnlock()

	notes := make([]models.Note, 0)
	for _, n := range s.notes {
		if keep(n) {
			notes = append(notes, n)
		}
	}
	sort.Slice(notes, func(i, j int) bool {
		if !notes[i].CreatedAt.Equal(notes[j].CreatedAt) {
			return notes[i].CreatedAt.After(notes[j].CreatedAt)
		}
		return notes[i].ID > notes[j].ID
	})
	return notes
}
