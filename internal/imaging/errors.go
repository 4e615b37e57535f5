package imaging

import "github.com/zeebo/errs"

var (
	// ErrFormat marks payloads that cannot be decoded or have the wrong shape.
	ErrFormat = errs.Class("unsupported format")
	// ErrNotImplemented marks image types and containers not handled yet.
	ErrNotImplemented = errs.Class("not implemented")
)
