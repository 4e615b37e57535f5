package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"storj.io/common/lrucache"

	"github.com/FairForge/samplehub/internal/drivers"
	"github.com/FairForge/samplehub/internal/metrics"
)

// DefaultClientTTL is how long a constructed backend client is reused
// before it is rebuilt.
const DefaultClientTTL = 60 * time.Second

// NewClientCache returns a cache holding one client per backend kind for ttl.
func NewClientCache(ttl time.Duration) *lrucache.ExpiringLRUOf[drivers.Driver] {
	return lrucache.NewOf[drivers.Driver](lrucache.Options{
		Expiration: ttl,
		Capacity:   16,
		Name:       "storage-clients",
	})
}

// Factory builds a backend client.
type Factory func(ctx context.Context) (drivers.Driver, error)

// Router selects a backend by locator scheme. The scheme table is fixed
// once the router is in use; constructed clients are cached per kind and
// a slow client build only blocks lookups of the same kind.
type Router struct {
	schemes   map[string]drivers.Kind
	factories map[drivers.Kind]Factory
	clients   *lrucache.ExpiringLRUOf[drivers.Driver]
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// Option configures a Router
type Option func(*Router)

// WithClientCache injects the client cache
func WithClientCache(c *lrucache.ExpiringLRUOf[drivers.Driver]) Option {
	return func(r *Router) {
		r.clients = c
	}
}

// WithMetrics records cache lookups
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Router) {
		r.metrics = m
	}
}

// NewRouter creates a router with an empty scheme table
func NewRouter(logger *zap.Logger, opts ...Option) *Router {
	r := &Router{
		schemes:   make(map[string]drivers.Kind),
		factories: make(map[drivers.Kind]Factory),
		logger:    logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.clients == nil {
		r.clients = NewClientCache(DefaultClientTTL)
	}
	return r
}

// Register maps scheme (including "://") to a backend kind and its factory.
// Call during startup only.
func (r *Router) Register(scheme string, kind drivers.Kind, factory Factory) {
	if !strings.HasSuffix(scheme, "://") {
		scheme += "://"
	}
	r.schemes[scheme] = kind
	r.factories[kind] = factory
}

// Schemes returns the registered scheme prefixes
func (r *Router) Schemes() []string {
	out := make([]string, 0, len(r.schemes))
	for s := range r.schemes {
		out = append(out, s)
	}
	return out
}

// KindFor returns the backend kind serving locator
func (r *Router) KindFor(locator string) (drivers.Kind, error) {
	loc, err := drivers.ParseLocator(locator)
	if err != nil {
		return "", drivers.ErrUnsupportedScheme.Wrap(err)
	}
	kind, ok := r.schemes[loc.Scheme]
	if !ok {
		return "", drivers.ErrUnsupportedScheme.New("%q", loc.Scheme)
	}
	return kind, nil
}

// For returns the backend client for locator, building it on a cache miss
func (r *Router) For(ctx context.Context, locator string) (drivers.Driver, error) {
	kind, err := r.KindFor(locator)
	if err != nil {
		return nil, err
	}
	return r.client(ctx, kind)
}

func (r *Router) client(ctx context.Context, kind drivers.Kind) (drivers.Driver, error) {
	built := false
	d, err := r.clients.Get(ctx, string(kind), func() (drivers.Driver, error) {
		built = true
		r.logger.Debug("building storage client", zap.String("kind", string(kind)))
		return r.factories[kind](ctx)
	})
	r.metrics.ObserveClientCache(string(kind), !built)
	if err != nil {
		return nil, fmt.Errorf("create %s client: %w", kind, err)
	}
	return d, nil
}

// HealthCheck builds every registered client and runs the health check of
// those backends that have one, looking through retry wrappers.
func (r *Router) HealthCheck(ctx context.Context) error {
	var group errs.Group
	for kind := range r.factories {
		d, err := r.client(ctx, kind)
		if err != nil {
			group.Add(err)
			continue
		}
		for {
			w, ok := d.(interface{ Unwrap() drivers.Driver })
			if !ok {
				break
			}
			d = w.Unwrap()
		}
		if hc, ok := d.(drivers.HealthChecker); ok {
			if err := hc.HealthCheck(ctx); err != nil {
				group.Add(fmt.Errorf("%s: %w", kind, err))
			}
		}
	}
	return group.Err()
}
