package step

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	// ErrDuplicateID is returned when an id occurs twice in a step tree.
	ErrDuplicateID = errors.New("duplicate step id")

	// ErrInvalidStep is returned when a step payload does not fit its type.
	ErrInvalidStep = errors.New("invalid step")
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterStructValidation(validateStepPayload, Step{})
	return v
}

// validateStepPayload enforces the fields each step type needs.
func validateStepPayload(sl validator.StructLevel) {
	s := sl.Current().Interface().(Step)
	d := s.Data

	switch s.Type {
	case TypeMouseMove:
		if d.X == nil {
			sl.ReportError(d.X, "x", "X", "required_for_move", "")
		}
		if d.Y == nil {
			sl.ReportError(d.Y, "y", "Y", "required_for_move", "")
		}
	case TypeKeyPress:
		if strings.TrimSpace(d.Key) == "" {
			sl.ReportError(d.Key, "key", "Key", "required_for_key_press", "")
		}
	}
}

// Validate checks a single step (and its children) against its type rules.
func Validate(s Step) error {
	if err := validate.Struct(s); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return fmt.Errorf("%w %q: %v", ErrInvalidStep, s.ID, verrs)
		}
		return fmt.Errorf("%w %q: %v", ErrInvalidStep, s.ID, err)
	}
	return nil
}

// ValidateAll validates each step and checks id uniqueness across the
// whole tree.
func ValidateAll(steps []Step) error {
	for _, s := range steps {
		if err := Validate(s); err != nil {
			return err
		}
	}
	return CheckUniqueIDs(steps)
}

// CheckUniqueIDs reports the first id that appears more than once.
func CheckUniqueIDs(steps []Step) error {
	seen := make(map[string]struct{})
	var dup string
	Walk(steps, func(s Step) {
		if dup != "" {
			return
		}
		if _, ok := seen[s.ID]; ok {
			dup = s.ID
			return
		}
		seen[s.ID] = struct{}{}
	})
	if dup != "" {
		return fmt.Errorf("%w: %s", ErrDuplicateID, dup)
	}
	return nil
}
