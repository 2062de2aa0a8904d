package core

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the import workflow. Callers match them with
// errors.Is; wrapped messages keep the lowercase patterns MapError relies on.
var (
	// ErrFileFormat wraps every pre-flight rejection of an uploaded file.
	ErrFileFormat = errors.New("invalid csv")

	// ErrMappingValidation is returned when a run starts without a name column.
	ErrMappingValidation = errors.New("mapping validation failed")

	// ErrUnauthenticated is returned when no user is attached to the request.
	ErrUnauthenticated = errors.New("not authenticated")

	// ErrPractitionerNotFound is returned when the user has no practitioner profile.
	ErrPractitionerNotFound = errors.New("practitioner not found")

	ErrSessionNotFound = errors.New("import session not found")
	ErrInvalidPhase    = errors.New("invalid session phase")
)

// FileFormatError describes why an uploaded file was rejected before any
// row was processed.
type FileFormatError struct {
	Reason string
}

func (e *FileFormatError) Error() string {
	return fmt.Sprintf("invalid csv: %s", e.Reason)
}

func (e *FileFormatError) Unwrap() error {
	return ErrFileFormat
}

func fileFormatError(format string, args ...any) error {
	return &FileFormatError{Reason: fmt.Sprintf(format, args...)}
}
