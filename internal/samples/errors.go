package samples

import "github.com/zeebo/errs"

var (
	// ErrNotFound covers missing datasets and samples.
	ErrNotFound = errs.Class("not found")
	// ErrConflict is returned for duplicate names and blocked deletions.
	ErrConflict = errs.Class("conflict")
	// ErrValidation rejects a registration before anything is written.
	ErrValidation = errs.Class("validation failed")
	// ErrMissingField marks persisted metadata lacking a required key.
	ErrMissingField = errs.Class("missing field")
	// ErrUnsupportedImage marks descriptors whose images cannot be served.
	ErrUnsupportedImage = errs.Class("unsupported image type")
)
