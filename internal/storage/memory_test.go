package storage

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaenox/notesync/internal/feed"
	"github.com/xaenox/notesync/internal/models"
)

const (
	alice = "6a0f4bbb-3cf6-4d9c-9f37-0f0c0c1b9e3a"
	bob   = "b2c7a1d0-8f3e-4a55-9e0c-1d2e3f405162"
)

type recorder struct {
	mu     sync.Mutex
	owners []string
	events []feed.Event
}

func (r *recorder) Publish(ownerID string, ev feed.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.owners = append(r.owners, ownerID)
	r.events = append(r.events, ev)
}

func (r *recorder) types() []feed.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]feed.EventType, len(r.events))
	for i, ev := range r.events {
		types[i] = ev.Type
	}
	return types
}

func TestMemoryCreateAndFindRoots(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage(nil)

	journal, err := s.Create(ctx, alice, models.NewNote{Title: "Journal"})
	require.NoError(t, err)
	diary, err := s.Create(ctx, alice, models.NewNote{Title: "Diary"})
	require.NoError(t, err)

	assert.NotZero(t, journal.ID)
	assert.Equal(t, alice, journal.OwnerID)
	assert.Nil(t, journal.ParentID)
	assert.True(t, diary.CreatedAt.After(journal.CreatedAt))
	assert.Equal(t, journal.CreatedAt, journal.UpdatedAt)

	roots, err := s.Find(ctx, alice, nil)
	require.NoError(t, err)
	require.Len(t, roots, 2)
	assert.Equal(t, "Diary", roots[0].Title)
	assert.Equal(t, "Journal", roots[1].Title)
}

func TestMemoryFindChildren(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage(nil)

	parent, err := s.Create(ctx, alice, models.NewNote{Title: "Journal"})
	require.NoError(t, err)
	child, err := s.Create(ctx, alice, models.NewNote{Title: "Monday", ParentID: models.Int64(parent.ID)})
	require.NoError(t, err)
	require.NotNil(t, child.ParentID)
	assert.Equal(t, parent.ID, *child.ParentID)

	children, err := s.Find(ctx, alice, models.Int64(parent.ID))
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, child.ID, children[0].ID)

	roots, err := s.Find(ctx, alice, nil)
	require.NoError(t, err)
	assert.Len(t, roots, 1)
}

func TestMemoryFindEmptyIsNotAnError(t *testing.T) {
	s := NewMemoryStorage(nil)

	notes, err := s.Find(context.Background(), alice, nil)
	require.NoError(t, err)
	assert.NotNil(t, notes)
	assert.Empty(t, notes)
}

func TestMemoryOwnerScoping(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage(nil)

	n, err := s.Create(ctx, alice, models.NewNote{Title: "Private"})
	require.NoError(t, err)

	roots, err := s.Find(ctx, bob, nil)
	require.NoError(t, err)
	assert.Empty(t, roots)

	_, err = s.FindOne(ctx, bob, n.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.Update(ctx, bob, n.ID, models.NoteUpdate{Title: models.String("x")})
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, s.Delete(ctx, bob, n.ID), ErrNotFound)

	_, err = s.Create(ctx, bob, models.NewNote{Title: "Child", ParentID: models.Int64(n.ID)})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestMemoryValidation(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage(nil)

	_, err := s.Create(ctx, "not-a-uuid", models.NewNote{Title: "x"})
	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, KindValidation, KindOf(err))

	_, err = s.Create(ctx, alice, models.NewNote{Title: "x", ParentID: models.Int64(0)})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = s.Create(ctx, alice, models.NewNote{Title: "x", ParentID: models.Int64(404)})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = s.Find(ctx, alice, models.Int64(-1))
	assert.ErrorIs(t, err, ErrValidation)
}

func TestMemoryOwnerIsNormalized(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage(nil)

	n, err := s.Create(ctx, "6A0F4BBB-3CF6-4D9C-9F37-0F0C0C1B9E3A", models.NewNote{Title: "Journal"})
	require.NoError(t, err)
	assert.Equal(t, alice, n.OwnerID)

	_, err = s.FindOne(ctx, alice, n.ID)
	assert.NoError(t, err)
}

func TestMemoryFindOneNotFound(t *testing.T) {
	_, err := NewMemoryStorage(nil).FindOne(context.Background(), alice, 7)

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestMemoryUpdate(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage(nil)

	n, err := s.Create(ctx, alice, models.NewNote{Title: "Journal"})
	require.NoError(t, err)

	updated, err := s.Update(ctx, alice, n.ID, models.NoteUpdate{Content: models.String("dear diary")})
	require.NoError(t, err)
	assert.Equal(t, "Journal", updated.Title)
	assert.Equal(t, "dear diary", updated.Content)
	assert.True(t, updated.UpdatedAt.After(n.UpdatedAt))
	assert.Equal(t, n.CreatedAt, updated.CreatedAt)

	renamed, err := s.Update(ctx, alice, n.ID, models.NoteUpdate{Title: models.String("Log")})
	require.NoError(t, err)
	assert.Equal(t, "Log", renamed.Title)
	assert.Equal(t, "dear diary", renamed.Content)

	_, err = s.Update(ctx, alice, n.ID, models.NoteUpdate{})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestMemoryFindByKeyword(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage(nil)

	journal, err := s.Create(ctx, alice, models.NewNote{Title: "Journal"})
	require.NoError(t, err)
	_, err = s.Update(ctx, alice, journal.ID, models.NoteUpdate{Content: models.String("my Diary entries")})
	require.NoError(t, err)
	_, err = s.Create(ctx, alice, models.NewNote{Title: "Diary"})
	require.NoError(t, err)
	_, err = s.Create(ctx, alice, models.NewNote{Title: "Groceries"})
	require.NoError(t, err)
	_, err = s.Create(ctx, bob, models.NewNote{Title: "diary"})
	require.NoError(t, err)

	found, err := s.FindByKeyword(ctx, alice, "diary")
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, "Diary", found[0].Title)
	assert.Equal(t, "Journal", found[1].Title)

	none, err := s.FindByKeyword(ctx, alice, "zzz")
	require.NoError(t, err)
	assert.Empty(t, none)

	all, err := s.FindByKeyword(ctx, alice, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestMemoryDeleteSubtree(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	s := NewMemoryStorage(rec)

	a, err := s.Create(ctx, alice, models.NewNote{Title: "A"})
	require.NoError(t, err)
	b, err := s.Create(ctx, alice, models.NewNote{Title: "B", ParentID: models.Int64(a.ID)})
	require.NoError(t, err)
	c, err := s.Create(ctx, alice, models.NewNote{Title: "C", ParentID: models.Int64(b.ID)})
	require.NoError(t, err)
	d, err := s.Create(ctx, alice, models.NewNote{Title: "D"})
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, alice, a.ID))

	for _, id := range []int64{a.ID, b.ID, c.ID} {
		_, err := s.FindOne(ctx, alice, id)
		assert.ErrorIs(t, err, ErrNotFound, "note %d", id)
	}
	_, err = s.FindOne(ctx, alice, d.ID)
	assert.NoError(t, err)

	assert.Equal(t, []feed.EventType{
		feed.Insert, feed.Insert, feed.Insert, feed.Insert,
		feed.Delete, feed.Delete, feed.Delete,
	}, rec.types())

	deleted := map[int64]bool{}
	for _, ev := range rec.events[4:] {
		require.NotNil(t, ev.Old)
		deleted[ev.Old.ID] = true
	}
	assert.Equal(t, map[int64]bool{a.ID: true, b.ID: true, c.ID: true}, deleted)

	assert.ErrorIs(t, s.Delete(ctx, alice, a.ID), ErrNotFound)
}

func TestMemoryPublishesUpdates(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	s := NewMemoryStorage(rec)

	n, err := s.Create(ctx, alice, models.NewNote{Title: "Journal"})
	require.NoError(t, err)
	_, err = s.Update(ctx, alice, n.ID, models.NoteUpdate{Title: models.String("Log")})
	require.NoError(t, err)

	require.Len(t, rec.events, 2)
	assert.Equal(t, []string{alice, alice}, rec.owners)

	ev := rec.events[1]
	assert.Equal(t, feed.Update, ev.Type)
	assert.Equal(t, "Journal", ev.Old.Title)
	assert.Equal(t, "Log", ev.New.Title)
	assert.Equal(t, alice, ev.OwnerID())
}

// stalledPublisher blocks every Publish until release is closed.
type stalledPublisher struct {
	entered chan struct{}
	release chan struct{}
}

func (p *stalledPublisher) Publish(ownerID string, ev feed.Event) {
	p.entered <- struct{}{}
	<-p.release
}

func TestMemoryReadsDoNotWaitForPublisher(t *testing.T) {
	ctx := context.Background()
	pub := &stalledPublisher{entered: make(chan struct{}, 1), release: make(chan struct{})}
	s := NewMemoryStorage(pub)

	created := make(chan models.Note, 1)
	go func() {
		n, err := s.Create(ctx, alice, models.NewNote{Title: "Journal"})
		assert.NoError(t, err)
		created <- n
	}()
	<-pub.entered

	roots, err := s.Find(ctx, alice, nil)
	require.NoError(t, err)
	require.Len(t, roots, 1)
	assert.Equal(t, "Journal", roots[0].Title)

	close(pub.release)
	n := <-created
	assert.Equal(t, roots[0].ID, n.ID)
}
