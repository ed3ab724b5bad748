// Package apperr defines the application error variants surfaced by the
// collection pipeline and the user-facing operations.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is the top-level error variant.
type Kind int

const (
	KindUnknown Kind = iota
	KindDatabase
	KindPermission
	KindCollection
)

func (k Kind) String() string {
	switch k {
	case KindDatabase:
		return "database"
	case KindPermission:
		return "permission"
	case KindCollection:
		return "collection"
	default:
		return "unknown"
	}
}

// Error codes, one per concrete variant.
const (
	CodeConnection          = "DATABASE_CONNECTION"
	CodeCorruption          = "DATABASE_CORRUPTION"
	CodeMigration           = "DATABASE_MIGRATION"
	CodeUsageStatsDenied    = "USAGE_STATS_NOT_GRANTED"
	CodeLocationDenied      = "LOCATION_PERMISSION_DENIED"
	CodeActivityDenied      = "ACTIVITY_RECOGNITION_DENIED"
	CodeNotificationsDenied = "NOTIFICATION_ACCESS_DENIED"
	CodeServiceUnavailable  = "SERVICE_UNAVAILABLE"
	CodeDataCorrupted       = "DATA_CORRUPTED"
	CodeUnknown             = "UNKNOWN"
)

// Error is a structured application error.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches another *Error by kind and code so sentinel comparisons work
// through wrapping.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Code == t.Code
}

func ConnectionError(cause error) *Error {
	return &Error{Kind: KindDatabase, Code: CodeConnection, Message: "database connection failed", Cause: cause}
}

func CorruptionError(cause error) *Error {
	return &Error{Kind: KindDatabase, Code: CodeCorruption, Message: "database corruption detected", Cause: cause}
}

func MigrationError(cause error) *Error {
	return &Error{Kind: KindDatabase, Code: CodeMigration, Message: "database migration failed", Cause: cause}
}

var (
	ErrUsageStatsNotGranted      = &Error{Kind: KindPermission, Code: CodeUsageStatsDenied, Message: "usage stats permission not granted"}
	ErrLocationPermissionDenied  = &Error{Kind: KindPermission, Code: CodeLocationDenied, Message: "location permission denied"}
	ErrActivityRecognitionDenied = &Error{Kind: KindPermission, Code: CodeActivityDenied, Message: "activity recognition permission denied"}
	ErrNotificationAccessDenied  = &Error{Kind: KindPermission, Code: CodeNotificationsDenied, Message: "notification access permission denied"}
)

func ServiceUnavailable(service string) *Error {
	return &Error{Kind: KindCollection, Code: CodeServiceUnavailable, Message: fmt.Sprintf("service %s is unavailable", service)}
}

func DataCorrupted(details string) *Error {
	return &Error{Kind: KindCollection, Code: CodeDataCorrupted, Message: "data corruption detected: " + details}
}

func Unknown(message string, cause error) *Error {
	if message == "" {
		message = "an unexpected error occurred"
	}
	return &Error{Kind: KindUnknown, Code: CodeUnknown, Message: message, Cause: cause}
}

// Category is the handling class of an error.
type Category int

const (
	// CategoryTransient errors are retried with backoff.
	CategoryTransient Category = iota
	// CategoryPermission errors skip the dependent action.
	CategoryPermission
	// CategoryIntegrity errors are fatal to the store instance.
	CategoryIntegrity
)

func (c Category) String() string {
	switch c {
	case CategoryPermission:
		return "permission"
	case CategoryIntegrity:
		return "integrity"
	default:
		return "transient"
	}
}

// Classify maps err to its handling category. Anything that is not an
// *Error with a permission or integrity variant is transient.
func Classify(err error) Category {
	var e *Error
	if !errors.As(err, &e) {
		return CategoryTransient
	}
	switch {
	case e.Kind == KindPermission:
		return CategoryPermission
	case e.Kind == KindDatabase && (e.Code == CodeMigration || e.Code == CodeCorruption):
		return CategoryIntegrity
	default:
		return CategoryTransient
	}
}

func IsPermission(err error) bool { return err != nil && Classify(err) == CategoryPermission }

func IsIntegrity(err error) bool { return err != nil && Classify(err) == CategoryIntegrity }

// From converts any error into an *Error, keeping existing variants.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Unknown(err.Error(), err)
}
