package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/xaenox/notesync/internal/models"
	"go.uber.org/zap"
)

const noteColumns = `id, owner_id, parent_id, title, content, created_at, updated_at`

type PostgresStorage struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPostgresStorage opens a pool for dsn and verifies the connection.
// Migrations are applied separately with Migrate.
func NewPostgresStorage(ctx context.Context, dsn string, logger *zap.Logger) (*PostgresStorage, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxIdleConns(10)
	db.SetMaxOpenConns(20)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	return &PostgresStorage{db: db, logger: logger}, nil
}

// DB exposes the pool for migrations.
func (s *PostgresStorage) DB() *sql.DB {
	return s.db
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNote(row rowScanner) (models.Note, error) {
	var (
		note     models.Note
		parentID sql.NullInt64
		title    sql.NullString
		content  sql.NullString
	)
	if err := row.Scan(&note.ID, &note.OwnerID, &parentID, &title, &content, &note.CreatedAt, &note.UpdatedAt); err != nil {
		return models.Note{}, err
	}
	if parentID.Valid {
		note.ParentID = models.Int64(parentID.Int64)
	}
	note.Title = title.String
	note.Content = content.String
	return note, nil
}

func (s *PostgresStorage) queryNotes(ctx context.Context, op, query string, args ...any) ([]models.Note, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	notes := make([]models.Note, 0)
	for rows.Next() {
		note, err := scanNote(rows)
		if err != nil {
			return nil, classify(op, fmt.Errorf("scan note: %w", err))
		}
		notes = append(notes, note)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(op, err)
	}
	return notes, nil
}

// Create inserts the note only when the parent, if any, belongs to the same
// owner; otherwise no row is returned.
func (s *PostgresStorage) Create(ctx context.Context, ownerID string, in models.NewNote) (models.Note, error) {
	const op = "create note"
	owner, err := normalizeOwner(op, ownerID)
	if err != nil {
		return models.Note{}, err
	}
	if err := validateParent(op, in.ParentID); err != nil {
		return models.Note{}, err
	}

	query := `
		INSERT INTO notes (owner_id, title, parent_id)
		SELECT $1::uuid, NULLIF($2::text, ''), $3::bigint
		WHERE $3::bigint IS NULL
			OR EXISTS (SELECT 1 FROM notes WHERE id = $3::bigint AND owner_id = $1::uuid)
		RETURNING ` + noteColumns

	note, err := scanNote(s.db.QueryRowContext(ctx, query, owner, in.Title, in.ParentID))
	if errors.Is(err, sql.ErrNoRows) && in.ParentID != nil {
		return models.Note{}, invalid(op, "parent note %d not found", *in.ParentID)
	}
	if err != nil {
		return models.Note{}, classify(op, err)
	}
	return note, nil
}

func (s *PostgresStorage) Find(ctx context.Context, ownerID string, parentID *int64) ([]models.Note, error) {
	const op = "find notes"
	owner, err := normalizeOwner(op, ownerID)
	if err != nil {
		return nil, err
	}
	if err := validateParent(op, parentID); err != nil {
		return nil, err
	}

	if parentID == nil {
		return s.queryNotes(ctx, op, `
			SELECT `+noteColumns+`
			FROM notes
			WHERE owner_id = $1 AND parent_id IS NULL
			ORDER BY created_at DESC, id DESC`, owner)
	}
	return s.queryNotes(ctx, op, `
		SELECT `+noteColumns+`
		FROM notes
		WHERE owner_id = $1 AND parent_id = $2
		ORDER BY created_at DESC, id DESC`, owner, *parentID)
}

func (s *PostgresStorage) FindOne(ctx context.Context, ownerID string, id int64) (models.Note, error) {
	const op = "find note"
	owner, err := normalizeOwner(op, ownerID)
	if err != nil {
		return models.Note{}, err
	}

	note, err := scanNote(s.db.QueryRowContext(ctx, `
		SELECT `+noteColumns+`
		FROM notes
		WHERE id = $1 AND owner_id = $2`, id, owner))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Note{}, notFound(op, id)
	}
	if err != nil {
		return models.Note{}, classify(op, err)
	}
	return note, nil
}

func (s *PostgresStorage) Update(ctx context.Context, ownerID string, id int64, patch models.NoteUpdate) (models.Note, error) {
	const op = "update note"
	owner, err := normalizeOwner(op, ownerID)
	if err != nil {
		return models.Note{}, err
	}
	if patch.Empty() {
		return models.Note{}, invalid(op, "no field to update")
	}

	args := []any{id, owner}
	var sets []string
	if patch.Title != nil {
		args = append(args, *patch.Title)
		sets = append(sets, fmt.Sprintf("title = $%d", len(args)))
	}
	if patch.Content != nil {
		args = append(args, *patch.Content)
		sets = append(sets, fmt.Sprintf("content = $%d", len(args)))
	}

	query := `
		UPDATE notes
		SET ` + strings.Join(sets, ", ") + `
		WHERE id = $1 AND owner_id = $2
		RETURNING ` + noteColumns

	note, err := scanNote(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Note{}, notFound(op, id)
	}
	if err != nil {
		return models.Note{}, classify(op, err)
	}
	return note, nil
}

func (s *PostgresStorage) FindByKeyword(ctx context.Context, ownerID string, keyword string) ([]models.Note, error) {
	const op = "search notes"
	owner, err := normalizeOwner(op, ownerID)
	if err != nil {
		return nil, err
	}

	pattern := "%" + escapeLike(keyword) + "%"
	return s.queryNotes(ctx, op, `
		SELECT `+noteColumns+`
		FROM notes
		WHERE owner_id = $1
			AND (title ILIKE $2 ESCAPE '\' OR content ILIKE $2 ESCAPE '\')
		ORDER BY created_at DESC, id DESC`, owner, pattern)
}

// Delete runs delete_note_tree, which removes the note and its descendants
// in a single statement.
func (s *PostgresStorage) Delete(ctx context.Context, ownerID string, id int64) error {
	const op = "delete note"
	owner, err := normalizeOwner(op, ownerID)
	if err != nil {
		return err
	}

	var deleted int
	if err := s.db.QueryRowContext(ctx, `SELECT delete_note_tree($1, $2)`, id, owner).Scan(&deleted); err != nil {
		return classify(op, err)
	}
	if deleted == 0 {
		return notFound(op, id)
	}
	s.logger.Debug("Deleted note tree",
		zap.Int64("note_id", id),
		zap.String("owner_id", owner),
		zap.Int("rows", deleted))
	return nil
}

func (s *PostgresStorage) Close() error {
	return s.db.Close()
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
