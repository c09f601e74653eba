package persistence

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingSteps is returned when a document has no "steps" field.
	ErrMissingSteps = errors.New("document has no steps")

	// ErrInvalidDocument is returned when a document cannot be parsed or
	// does not match the step document schema.
	ErrInvalidDocument = errors.New("invalid step document")
)

// ImportError reports why a document could not be imported. The
// canonical list is never modified when an import fails.
type ImportError struct {
	Path string
	Err  error
}

func (e *ImportError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("import: %v", e.Err)
	}
	return fmt.Sprintf("import %s: %v", e.Path, e.Err)
}

func (e *ImportError) Unwrap() error { return e.Err }
