package shared

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Kind classifies domain errors for callers that map them to transport codes.
type Kind string

const (
	KindValidation Kind = "validation"
	KindForbidden  Kind = "forbidden"
	KindNotFound   Kind = "not_found"
	KindConflict   Kind = "conflict"
)

var (
	// ErrValidation matches every validation error.
	ErrValidation = errors.New("validation failed")
	// ErrForbidden matches every authorization failure.
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrConflict matches invalid state transitions.
	ErrConflict = errors.New("conflict")
)

// Error is the structured error returned by domain services.
type Error struct {
	Kind    Kind
	Message string
	Fields  map[string][]string
}

func (e *Error) Error() string {
	if len(e.Fields) == 0 {
		return e.Message
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+strings.Join(e.Fields[k], "; "))
	}
	return e.Message + " (" + strings.Join(parts, ", ") + ")"
}

// Is lets errors.Is match the package sentinels by kind.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrValidation:
		return e.Kind == KindValidation
	case ErrForbidden:
		return e.Kind == KindForbidden
	case ErrNotFound:
		return e.Kind == KindNotFound
	case ErrConflict:
		return e.Kind == KindConflict
	}
	return false
}

// Field returns the messages recorded for a field path.
func (e *Error) Field(path string) []string {
	return e.Fields[path]
}

// Validation builds a single-field validation error.
func Validation(field, msg string) *Error {
	return &Error{Kind: KindValidation, Message: msg, Fields: map[string][]string{field: {msg}}}
}

// Forbidden builds an authorization failure.
func Forbidden(msg string) *Error {
	return &Error{Kind: KindForbidden, Message: msg}
}

// NotFound builds a not-found error for entity/id.
func NotFound(entity string, id int64) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("%s %d not found", entity, id)}
}

// InvalidTransition reports that the current status does not allow an action.
func InvalidTransition(current string, required ...string) *Error {
	msg := fmt.Sprintf("current status %s, required %s", current, strings.Join(required, " or "))
	return &Error{Kind: KindConflict, Message: msg, Fields: map[string][]string{"status": {msg}}}
}

// AsError unwraps err into *Error.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// FieldErrors accumulates validation messages keyed by field path.
type FieldErrors map[string][]string

// Add appends msg under field.
func (f FieldErrors) Add(field, msg string) {
	f[field] = append(f[field], msg)
}

// Addf appends a formatted message under field.
func (f FieldErrors) Addf(field, format string, args ...any) {
	f.Add(field, fmt.Sprintf(format, args...))
}

// Err returns nil when no field failed.
func (f FieldErrors) Err() error {
	if len(f) == 0 {
		return nil
	}
	return &Error{Kind: KindValidation, Message: "validation failed", Fields: map[string][]string(f)}
}

// LineField builds per-line field keys such as lines.0.qty.
func LineField(index int, field string) string {
	return fmt.Sprintf("lines.%d.%s", index, field)
}
