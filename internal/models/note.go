package models

import (
	"time"
)

// Note is a single owner-scoped document. Title and Content are empty when
// the underlying column is NULL.
type Note struct {
	ID        int64     `json:"id"`
	OwnerID   string    `json:"owner_id"`
	ParentID  *int64    `json:"parent_id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsRoot reports whether the note has no parent.
func (n Note) IsRoot() bool {
	return n.ParentID == nil
}

// HasParent reports whether the note is a direct child of parentID.
func (n Note) HasParent(parentID int64) bool {
	return n.ParentID != nil && *n.ParentID == parentID
}

// NewNote is the input for creating a note.
type NewNote struct {
	Title    string
	ParentID *int64
}

// NoteUpdate carries the fields to change; nil fields are left untouched.
type NoteUpdate struct {
	Title   *string
	Content *string
}

// Empty reports whether the update sets no field.
func (u NoteUpdate) Empty() bool {
	return u.Title == nil && u.Content == nil
}

// Int64 returns a pointer to v, for optional ids.
func Int64(v int64) *int64 {
	return &v
}

// String returns a pointer to s, for optional fields of NoteUpdate.
func String(s string) *string {
	return &s
}
