package drivers

import "github.com/zeebo/errs"

var (
	// ErrUnsupportedScheme is returned when no backend is mapped to a locator prefix.
	ErrUnsupportedScheme = errs.Class("unsupported scheme")
	// ErrInvalidLocator is returned when a locator cannot be parsed for a backend.
	ErrInvalidLocator = errs.Class("invalid locator")
	// ErrNotFound is returned by backends that detect a missing object.
	ErrNotFound = errs.Class("object not found")
)
