// Package feed delivers row-level note mutations pushed by the backend and
// translates them into cache operations.
package feed

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/xaenox/notesync/internal/models"
)

// Channel is the PostgreSQL NOTIFY channel the notes trigger publishes on.
const Channel = "note_changes"

type EventType string

const (
	Insert EventType = "INSERT"
	Update EventType = "UPDATE"
	Delete EventType = "DELETE"
)

// Event is one row mutation. INSERT and UPDATE carry the new row, DELETE the
// old one. Partial events only carry id and owner because the row did not
// fit into a notification payload.
type Event struct {
	Type    EventType    `json:"eventType"`
	New     *models.Note `json:"new,omitempty"`
	Old     *models.Note `json:"old,omitempty"`
	Partial bool         `json:"partial,omitempty"`
}

// ErrMalformed is wrapped by Decode for payloads that are not valid events.
var ErrMalformed = errors.New("malformed change event")

// Decode parses and validates a notification payload.
func Decode(payload []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := ev.validate(); err != nil {
		return Event{}, err
	}
	return ev, nil
}

// Encode renders the event in the same shape the database trigger emits.
func Encode(ev Event) ([]byte, error) {
	return json.Marshal(ev)
}

func (e Event) validate() error {
	switch e.Type {
	case Insert, Update:
		if e.New == nil || e.New.ID <= 0 {
			return fmt.Errorf("%w: %s without new row id", ErrMalformed, e.Type)
		}
	case Delete:
		if e.Old == nil || e.Old.ID <= 0 {
			return fmt.Errorf("%w: DELETE without old row id", ErrMalformed)
		}
	default:
		return fmt.Errorf("%w: unknown event type %q", ErrMalformed, e.Type)
	}
	return nil
}

// NoteID returns the id of the affected row.
func (e Event) NoteID() int64 {
	if e.Type == Delete {
		return e.Old.ID
	}
	return e.New.ID
}

// OwnerID returns the owner of the affected row.
func (e Event) OwnerID() string {
	if e.New != nil && e.New.OwnerID != "" {
		return e.New.OwnerID
	}
	if e.Old != nil {
		return e.Old.OwnerID
	}
	return ""
}

// Inserted builds an INSERT event for n.
func Inserted(n models.Note) Event {
	return Event{Type: Insert, New: &n}
}

// Updated builds an UPDATE event carrying the previous and the new row.
func Updated(old, n models.Note) Event {
	return Event{Type: Update, New: &n, Old: &old}
}

// Deleted builds a DELETE event for the removed row.
func Deleted(old models.Note) Event {
	return Event{Type: Delete, Old: &old}
}
