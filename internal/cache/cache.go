// Package cache holds one session's view of an owner's notes.
//
// Gateway results and change feed events both land here in any order. Each
// note carries its UpdatedAt as a version: an incoming record replaces the
// stored one only when it is at least as new, and removed ids keep a
// tombstone so that a late, older copy cannot bring them back. Tombstones
// left by a delete event are confirmed and survive Restore.
package cache

import (
	"sort"
	"sync"
	"time"

	"github.com/xaenox/notesync/internal/models"
)

// Cache is safe for concurrent use. None of its operations fail.
type Cache struct {
	mu         sync.RWMutex
	notes      map[int64]models.Note
	roots      map[int64]struct{}
	children   map[int64]map[int64]struct{}
	tombstones map[int64]tombstone
}

type tombstone struct {
	version   time.Time
	confirmed bool
}

func New() *Cache {
	return &Cache{
		notes:      make(map[int64]models.Note),
		roots:      make(map[int64]struct{}),
		children:   make(map[int64]map[int64]struct{}),
		tombstones: make(map[int64]tombstone),
	}
}

// UpsertAll stores every note that is not older than the stored copy or the
// tombstone for its id, replacing the whole record. Ids not named are left
// alone. It returns how many notes were applied.
func (c *Cache) UpsertAll(notes []models.Note) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	applied := 0
	for _, n := range notes {
		if c.upsert(n) {
			applied++
		}
	}
	return applied
}

func (c *Cache) upsert(n models.Note) bool {
	if ts, ok := c.tombstones[n.ID]; ok && !n.UpdatedAt.After(ts.version) {
		return false
	}
	if cur, ok := c.notes[n.ID]; ok {
		if n.UpdatedAt.Before(cur.UpdatedAt) {
			return false
		}
		c.unindex(cur)
	}
	delete(c.tombstones, n.ID)
	c.notes[n.ID] = n
	c.index(n)
	return true
}

// Remove drops id if present.
func (c *Cache) Remove(id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cur, ok := c.notes[id]; ok {
		c.remove(cur, cur.UpdatedAt, false)
	}
}

// Evict removes the row described by a delete event. The tombstone is kept
// even when the note was never cached or already removed locally, at the
// newer of both versions, and Restore will not clear it.
func (c *Cache) Evict(old models.Note) {
	c.mu.Lock()
	defer c.mu.Unlock()

	version := old.UpdatedAt
	if cur, ok := c.notes[old.ID]; ok {
		if cur.UpdatedAt.After(version) {
			version = cur.UpdatedAt
		}
		c.remove(cur, version, true)
		return
	}
	c.tombstone(old.ID, version, true)
}

// RemoveSubtree removes id and all cached descendants, returning the removed
// records. Use Restore to put them back.
func (c *Cache) RemoveSubtree(id int64) []models.Note {
	c.mu.Lock()
	defer c.mu.Unlock()

	root, ok := c.notes[id]
	if !ok {
		return nil
	}
	removed := []models.Note{root}
	for i := 0; i < len(removed); i++ {
		for childID := range c.children[removed[i].ID] {
			removed = append(removed, c.notes[childID])
		}
	}
	for _, n := range removed {
		c.remove(n, n.UpdatedAt, false)
	}
	return removed
}

// Restore reinserts records taken out by RemoveSubtree, ignoring the
// tombstones it left. Newer cached copies and delete events still win.
func (c *Cache) Restore(notes []models.Note) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	applied := 0
	for _, n := range notes {
		if ts, ok := c.tombstones[n.ID]; ok && !ts.confirmed && ts.version.Equal(n.UpdatedAt) {
			delete(c.tombstones, n.ID)
		}
		if c.upsert(n) {
			applied++
		}
	}
	return applied
}

func (c *Cache) Get(id int64) (models.Note, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	n, ok := c.notes[id]
	return n, ok
}

// ListRoots returns ownerID's root notes, newest first.
func (c *Cache) ListRoots(ownerID string) []models.Note {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.collect(c.roots, ownerID)
}

// ListChildren returns the direct children of parentID, newest first.
func (c *Cache) ListChildren(ownerID string, parentID int64) []models.Note {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.collect(c.children[parentID], ownerID)
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.notes)
}

// Snapshot returns every cached note ordered by id.
func (c *Cache) Snapshot() []models.Note {
	c.mu.RLock()
	defer c.mu.RUnlock()

	notes := make([]models.Note, 0, len(c.notes))
	for _, n := range c.notes {
		notes = append(notes, n)
	}
	sort.Slice(notes, func(i, j int) bool { return notes[i].ID < notes[j].ID })
	return notes
}

func (c *Cache) collect(ids map[int64]struct{}, ownerID string) []models.Note {
	notes := make([]models.Note, 0, len(ids))
	for id := range ids {
		if n := c.notes[id]; n.OwnerID == ownerID {
			notes = append(notes, n)
		}
	}
	SortNewestFirst(notes)
	return notes
}

func (c *Cache) remove(n models.Note, version time.Time, confirmed bool) {
	c.unindex(n)
	delete(c.notes, n.ID)
	c.tombstone(n.ID, version, confirmed)
}

// tombstone records version for id, keeping the newest one seen. Once
// confirmed, a tombstone stays confirmed. Unversioned records leave none.
func (c *Cache) tombstone(id int64, version time.Time, confirmed bool) {
	if version.IsZero() {
		return
	}
	ts, ok := c.tombstones[id]
	if !ok || version.After(ts.version) {
		ts.version = version
	}
	ts.confirmed = ts.confirmed || confirmed
	c.tombstones[id] = ts
}

func (c *Cache) index(n models.Note) {
	if n.IsRoot() {
		c.roots[n.ID] = struct{}{}
		return
	}
	siblings := c.children[*n.ParentID]
	if siblings == nil {
		siblings = make(map[int64]struct{})
		c.children[*n.ParentID] = siblings
	}
	siblings[n.ID] = struct{}{}
}

func (c *Cache) unindex(n models.Note) {
	if n.IsRoot() {
		delete(c.roots, n.ID)
		return
	}
	siblings := c.children[*n.ParentID]
	delete(siblings, n.ID)
	if len(siblings) == 0 {
		delete(c.children, *n.ParentID)
	}
}

// SortNewestFirst orders notes by CreatedAt descending, ties by id descending.
func SortNewestFirst(notes []models.Note) {
	sort.Slice(notes, func(i, j int) bool {
		if !notes[i].CreatedAt.Equal(notes[j].CreatedAt) {
			return notes[i].CreatedAt.After(notes[j].CreatedAt)
		}
		return notes[i].ID > notes[j].ID
	})
}
