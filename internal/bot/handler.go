package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/xaenox/notesync/internal/models"
	"github.com/xaenox/notesync/internal/session"
	"github.com/xaenox/notesync/internal/storage"
	"go.uber.org/zap"
)

// ownerNamespace scopes the uuid v5 owner ids derived from Telegram users.
var ownerNamespace = uuid.MustParse("9b1f0c52-5f0e-4c5e-9f55-2a4f0f5b7c11")

// OwnerFor maps a Telegram user to a stable owner id.
func OwnerFor(userID int64) string {
	return uuid.NewSHA1(ownerNamespace, []byte(strconv.FormatInt(userID, 10))).String()
}

// Sessions hands out the caller's session.
type Sessions interface {
	Session(ctx context.Context, ownerID string) (*session.Session, error)
}

// Handler turns chat commands into session operations and renders replies
// as MarkdownV2.
type Handler struct {
	sessions Sessions
	logger   *zap.Logger
}

func NewHandler(sessions Sessions, logger *zap.Logger) *Handler {
	return &Handler{sessions: sessions, logger: logger}
}

const welcome = `Welcome to notesync\! 📝
Send me any text and I will keep it as a note\. Notes can be nested and stay in sync with your other devices\.
Use /help to see all available commands\.`

const help = `Available commands:
/new title \- create a note
/child parent\_id title \- create a note under another one
/list \[parent\_id\] \- list root notes or the children of a note
/show id \- show a note
/rename id title \- change the title
/edit id content \- replace the content
/search keyword \- search titles and contents
/delete id \- delete a note and everything under it

Plain text creates a note titled with its first line\.`

// Handle runs one command for userID. An empty command treats args as the
// text of a new note.
func (h *Handler) Handle(ctx context.Context, userID int64, command, args string) string {
	switch command {
	case "start":
		return welcome
	case "help":
		return help
	}

	s, err := h.sessions.Session(ctx, OwnerFor(userID))
	if err != nil {
		h.logger.Error("Failed to open session", zap.Error(err), zap.Int64("user_id", userID))
		return "⚠️ " + escapeMarkdown("Sorry, your notes are unavailable right now. Please try again later.")
	}

	args = strings.TrimSpace(args)
	switch command {
	case "":
		return h.handleText(ctx, s, args)
	case "new":
		return h.handleNew(ctx, s, nil, args)
	case "child":
		parentID, title, err := splitID(args)
		if err != nil {
			return usage("/child parent_id title")
		}
		return h.handleNew(ctx, s, &parentID, title)
	case "list":
		return h.handleList(ctx, s, args)
	case "show":
		return h.handleShow(ctx, s, args)
	case "rename":
		id, title, err := splitID(args)
		if err != nil {
			return usage("/rename id title")
		}
		return h.handleUpdate(ctx, s, id, models.NoteUpdate{Title: models.String(title)})
	case "edit":
		id, content, err := splitID(args)
		if err != nil {
			return usage("/edit id content")
		}
		return h.handleUpdate(ctx, s, id, models.NoteUpdate{Content: models.String(content)})
	case "search":
		return h.handleSearch(ctx, s, args)
	case "delete":
		return h.handleDelete(ctx, s, args)
	default:
		return escapeMarkdown("Unknown command. Use /help to see available commands.")
	}
}

func (h *Handler) handleText(ctx context.Context, s *session.Session, text string) string {
	if text == "" {
		return escapeMarkdown("Send me some text to save it as a note.")
	}
	title, _, _ := strings.Cut(text, "\n")
	note, err := s.Create(ctx, models.NewNote{Title: strings.TrimSpace(title)})
	if err != nil {
		return h.failure("create note", s, err)
	}
	note, err = s.Update(ctx, note.ID, models.NoteUpdate{Content: models.String(text)})
	if err != nil {
		return h.failure("save note content", s, err)
	}
	return "Saved " + formatNote(note)
}

func (h *Handler) handleNew(ctx context.Context, s *session.Session, parentID *int64, title string) string {
	note, err := s.Create(ctx, models.NewNote{Title: title, ParentID: parentID})
	if err != nil {
		return h.failure("create note", s, err)
	}
	return "Created " + formatNote(note)
}

func (h *Handler) handleList(ctx context.Context, s *session.Session, args string) string {
	var notes []models.Note
	heading := "*Your notes:*"
	if args == "" {
		notes = s.Roots()
	} else {
		parentID, err := strconv.ParseInt(args, 10, 64)
		if err != nil {
			return usage("/list [parent_id]")
		}
		if _, err := s.Expand(ctx, parentID); err != nil {
			return h.failure("list children", s, err)
		}
		notes = s.Children(parentID)
		heading = fmt.Sprintf("*Notes under %d:*", parentID)
	}

	if len(notes) == 0 {
		return escapeMarkdown("You don't have any notes here yet.")
	}
	return heading + "\n" + formatList(notes)
}

func (h *Handler) handleShow(ctx context.Context, s *session.Session, args string) string {
	id, err := strconv.ParseInt(args, 10, 64)
	if err != nil {
		return usage("/show id")
	}
	note, err := s.Open(ctx, id)
	if err != nil {
		return h.failure("open note", s, err)
	}

	response := formatNote(note) + "\n"
	if note.Content != "" {
		response += "\n" + escapeMarkdown(note.Content) + "\n"
	}
	children, err := s.Expand(ctx, note.ID)
	if err != nil {
		return h.failure("load children", s, err)
	}
	if len(children) > 0 {
		response += "\n*Children:*\n" + formatList(children)
	}
	return response
}

func (h *Handler) handleUpdate(ctx context.Context, s *session.Session, id int64, patch models.NoteUpdate) string {
	note, err := s.Update(ctx, id, patch)
	if err != nil {
		return h.failure("update note", s, err)
	}
	return "Updated " + formatNote(note)
}

func (h *Handler) handleSearch(ctx context.Context, s *session.Session, keyword string) string {
	if keyword == "" {
		return usage("/search keyword")
	}
	notes, err := s.Search(ctx, keyword)
	if err != nil {
		return h.failure("search notes", s, err)
	}
	if len(notes) == 0 {
		return escapeMarkdown(fmt.Sprintf("Nothing matches %q.", keyword))
	}
	return "*Search results:*\n" + formatList(notes)
}

func (h *Handler) handleDelete(ctx context.Context, s *session.Session, args string) string {
	id, err := strconv.ParseInt(args, 10, 64)
	if err != nil {
		return usage("/delete id")
	}
	if err := s.Delete(ctx, id); err != nil {
		return h.failure("delete note", s, err)
	}
	return escapeMarkdown(fmt.Sprintf("Deleted note %d and everything under it.", id))
}

// failure logs unexpected errors and renders a reply by error kind.
func (h *Handler) failure(action string, s *session.Session, err error) string {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return escapeMarkdown("That note does not exist.")
	case errors.Is(err, storage.ErrValidation):
		return escapeMarkdown("That request is not valid: " + err.Error())
	}
	h.logger.Error("Failed to "+action,
		zap.Error(err),
		zap.String("owner_id", s.OwnerID()))
	return "⚠️ " + escapeMarkdown("Sorry, I couldn't "+action+". Please try again.")
}

func splitID(args string) (int64, string, error) {
	head, rest, _ := strings.Cut(args, " ")
	id, err := strconv.ParseInt(head, 10, 64)
	if err != nil {
		return 0, "", err
	}
	return id, strings.TrimSpace(rest), nil
}

func usage(syntax string) string {
	return escapeMarkdown("Usage: " + syntax)
}

func formatNote(n models.Note) string {
	title := n.Title
	if title == "" {
		title = "Untitled"
	}
	return fmt.Sprintf("*%s* `#%d`", escapeMarkdown(title), n.ID)
}

func formatList(notes []models.Note) string {
	var b strings.Builder
	for _, n := range notes {
		b.WriteString("• ")
		b.WriteString(formatNote(n))
		b.WriteString("\n")
	}
	return b.String()
}

// escapeMarkdown escapes the characters MarkdownV2 reserves.
func escapeMarkdown(text string) string {
	return markdownEscaper.Replace(text)
}

var markdownEscaper = func() *strings.Replacer {
	specialChars := []string{"\\", "_", "*", "[", "]", "(", ")", "~", "`", ">", "#", "+", "-", "=", "|", "{", "}", ".", "!"}
	pairs := make([]string, 0, len(specialChars)*2)
	for _, char := range specialChars {
		pairs = append(pairs, char, "\\"+char)
	}
	return strings.NewReplacer(pairs...)
}()
