package drivers

import (
	"context"
	"io"
	"time"
)

// SignedURLExpiry bounds how long an object-store signed URL stays valid.
const SignedURLExpiry = 15 * time.Minute

// Driver is the capability set every storage backend implements. All
// methods take a full resource locator (scheme://...).
type Driver interface {
	Get(ctx context.Context, locator string) (io.ReadCloser, error)
	Put(ctx context.Context, locator string, data io.Reader) error
	Exists(ctx context.Context, locator string) (bool, error)
	Delete(ctx context.Context, locator string) error
	SignedURL(ctx context.Context, locator string) (string, error)
	Name() string
}

// HealthChecker is implemented by backends that can verify they are reachable
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}
