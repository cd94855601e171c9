package storage

import (
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// Kind classifies a gateway failure.
type Kind int

const (
	KindTransport Kind = iota
	KindNotFound
	KindValidation
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindValidation:
		return "validation"
	default:
		return "transport"
	}
}

// Sentinels matched by errors.Is against any *Error of the same kind.
var (
	ErrNotFound   = errors.New("note not found")
	ErrTransport  = errors.New("note store unavailable")
	ErrValidation = errors.New("invalid note request")
)

// Error is returned by every NoteStore operation that fails.
type Error struct {
	Op   string
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for the error's kind.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Kind == KindNotFound
	case ErrTransport:
		return e.Kind == KindTransport
	case ErrValidation:
		return e.Kind == KindValidation
	}
	return false
}

// KindOf returns the kind of err, or KindTransport for foreign errors.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindTransport
}

func notFound(op string, id int64) error {
	return &Error{Op: op, Kind: KindNotFound, Err: fmt.Errorf("note %d: %w", id, ErrNotFound)}
}

func invalid(op, format string, args ...any) error {
	return &Error{Op: op, Kind: KindValidation, Err: fmt.Errorf(format, args...)}
}

// classify maps a driver error onto a Kind. SQLSTATE class 22 (data
// exception) and 23 (integrity constraint) are caller mistakes; everything
// else, connection failures included, is transport.
func classify(op string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "22", "23":
			return &Error{Op: op, Kind: KindValidation, Err: err}
		}
	}
	return &Error{Op: op, Kind: KindTransport, Err: err}
}
