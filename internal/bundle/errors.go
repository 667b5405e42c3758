package bundle

import (
	"errors"

	"github.com/vk/starbundle/internal/backend"
	"github.com/vk/starbundle/internal/constraint"
	"github.com/vk/starbundle/internal/param"
	"github.com/vk/starbundle/internal/paramstore"
)

var (
	ErrParameterNotFound = paramstore.ErrParameterNotFound
	ErrAmbiguous         = paramstore.ErrAmbiguous
	ErrConstrained       = constraint.ErrConstrained
	ErrInvalidValue      = param.ErrInvalidValue
	ErrUnknownBackend    = backend.ErrUnknownBackend

	// ErrNameCollision is returned when a label is already in use and
	// overwrite was not requested.
	ErrNameCollision = errors.New("name already exists")
	ErrChecksFailed  = errors.New("checks failed")
	ErrUnknownKind   = errors.New("unknown kind")
)

// ParameterNotFoundError reports a query that matched nothing, with
// suggestions for similarly named qualifiers.
type ParameterNotFoundError = paramstore.NotFoundError

// ChecksFailedError carries the report of a failed pre-flight check.
type ChecksFailedError struct {
	Report *CheckReport
}

func (e *ChecksFailedError) Error() string {
	return "checks failed: " + e.Report.Message
}

func (e *ChecksFailedError) Is(target error) bool {
	return target == ErrChecksFailed
}
