// Package threaterr provides the structured error type shared by the
// classification engine and its collaborators.
//
// Two kinds originate in the core: KindInvalidInput, raised per incident when
// the required title text is missing, and KindConfiguration, raised while a
// taxonomy model is being built. Storage and lookup failures from the
// collaborators use KindStorage and KindNotFound.
package threaterr

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds categorize errors by their nature.
const (
	// KindInvalidInput represents an incident that cannot be scored.
	KindInvalidInput = "invalid_input"

	// KindConfiguration represents an invalid taxonomy or runtime configuration.
	KindConfiguration = "configuration"

	// KindStorage represents a failure in a storage collaborator.
	KindStorage = "storage"

	// KindNotFound represents a lookup for a record that does not exist.
	KindNotFound = "not_found"
)

// Sentinel errors usable with errors.Is. Any *Error of the matching kind
// compares equal to the sentinel.
var (
	ErrInvalidInput  = errors.New("invalid input")
	ErrConfiguration = errors.New("invalid configuration")
	ErrStorage       = errors.New("storage operation failed")
	ErrNotFound      = errors.New("not found")
)

var kindSentinels = map[string]error{
	KindInvalidInput:  ErrInvalidInput,
	KindConfiguration: ErrConfiguration,
	KindStorage:       ErrStorage,
	KindNotFound:      ErrNotFound,
}

// Error is a structured error carrying the failed operation, its kind and,
// where it applies, the offending field.
type Error struct {
	// Op is the operation that failed (e.g. "taxonomy.New", "classifier.Classify").
	Op string

	// Kind categorizes the error (KindInvalidInput, KindConfiguration, ...).
	Kind string

	// Field names the offending field or path, e.g. "technology.malware.keywords".
	Field string

	// Message is a human-readable description.
	Message string

	// Cause is the underlying error, if any.
	Cause error
}

// New creates an error of the given kind.
func New(op, kind, message string) *Error {
	return &Error{
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// InvalidInput creates a KindInvalidInput error for field.
func InvalidInput(op, field, message string) *Error {
	return &Error{
		Op:      op,
		Kind:    KindInvalidInput,
		Field:   field,
		Message: message,
	}
}

// Configuration creates a KindConfiguration error for field.
func Configuration(op, field, message string) *Error {
	return &Error{
		Op:      op,
		Kind:    KindConfiguration,
		Field:   field,
		Message: message,
	}
}

// Storage wraps a backend failure as a KindStorage error.
func Storage(op string, cause error) *Error {
	return &Error{
		Op:    op,
		Kind:  KindStorage,
		Cause: cause,
	}
}

// NotFound creates a KindNotFound error for the given identifier.
func NotFound(op, id string) *Error {
	return &Error{
		Op:      op,
		Kind:    KindNotFound,
		Field:   id,
		Message: "record does not exist",
	}
}

// WithCause sets the underlying error and returns the same instance.
func (e *Error) WithCause(err error) *Error {
	e.Cause = err
	return e
}

// Error formats the error as "op (kind) field: message: cause".
func (e *Error) Error() string {
	var parts []string

	head := fmt.Sprintf("%s (%s)", e.Op, e.Kind)
	if e.Field != "" {
		head += " " + e.Field
	}
	parts = append(parts, head)

	if e.Message != "" {
		parts = append(parts, e.Message)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	return strings.Join(parts, ": ")
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is the sentinel for e's kind, or an *Error with
// the same kind (and the same Op when target sets one).
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}

	if sentinel, ok := kindSentinels[e.Kind]; ok && sentinel == target {
		return true
	}

	if t, ok := target.(*Error); ok {
		if t.Kind != "" && t.Kind == e.Kind {
			return t.Op == "" || t.Op == e.Op
		}
	}

	return false
}

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsInvalidInput reports whether err is an invalid-input error.
func IsInvalidInput(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

// IsConfiguration reports whether err is a configuration error.
func IsConfiguration(err error) bool {
	return errors.Is(err, ErrConfiguration)
}

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
