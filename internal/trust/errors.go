package trust

import (
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/sells-group/phonetrust/internal/resilience"
)

// ErrInvalidInput is wrapped by every input validation failure. No state is
// written when it is returned.
var ErrInvalidInput = eris.New("trust: invalid input")

// Collaborator names reported in CollaboratorError.
const (
	CollaboratorStore  = "store"
	CollaboratorOCR    = "ocr"
	CollaboratorScorer = "scorer"
)

// CollaboratorError reports a failure of the store, the OCR engine or the
// trust-score function. Kind tells the caller whether a retry may help.
type CollaboratorError struct {
	Collaborator string
	Kind         resilience.Kind
	Err          error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("trust: %s %s failure: %v", e.Collaborator, e.Kind, e.Err)
}

func (e *CollaboratorError) Unwrap() error { return e.Err }

// Transient reports whether the failure is worth retrying.
func (e *CollaboratorError) Transient() bool { return e.Kind == resilience.KindTransient }

func collaboratorError(collaborator string, err error) *CollaboratorError {
	return &CollaboratorError{
		Collaborator: collaborator,
		Kind:         resilience.ClassifyError(err),
		Err:          err,
	}
}

func invalidf(format string, args ...any) error {
	return eris.Wrapf(ErrInvalidInput, format, args...)
}
