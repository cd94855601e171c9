package storage

import (
	"context"

	"github.com/google/uuid"
	"github.com/xaenox/notesync/internal/models"
)

// NoteStore is the remote note gateway. Every operation is scoped to one
// owner and fails with an *Error whose Kind tells not-found, validation and
// transport failures apart.
type NoteStore interface {
	Create(ctx context.Context, ownerID string, in models.NewNote) (models.Note, error)
	// Find returns the direct children of parentID, or the owner's root notes
	// when parentID is nil, newest first. No match is an empty slice.
	Find(ctx context.Context, ownerID string, parentID *int64) ([]models.Note, error)
	FindOne(ctx context.Context, ownerID string, id int64) (models.Note, error)
	Update(ctx context.Context, ownerID string, id int64, patch models.NoteUpdate) (models.Note, error)
	// FindByKeyword matches keyword case-insensitively as a substring of the
	// title or the content, newest first.
	FindByKeyword(ctx context.Context, ownerID string, keyword string) ([]models.Note, error)
	// Delete removes the note and all of its descendants atomically.
	Delete(ctx context.Context, ownerID string, id int64) error
	Close() error
}

// normalizeOwner returns the canonical text form of an owner uuid.
func normalizeOwner(op, ownerID string) (string, error) {
	id, err := uuid.Parse(ownerID)
	if err != nil {
		return "", invalid(op, "malformed owner id %q: %v", ownerID, err)
	}
	return id.String(), nil
}

func validateID(op, field string, id int64) error {
	if id <= 0 {
		return invalid(op, "%s must be positive, got %d", field, id)
	}
	return nil
}

func validateParent(op string, parentID *int64) error {
	if parentID == nil {
		return nil
	}
	return validateID(op, "parent id", *parentID)
}
