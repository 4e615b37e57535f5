package drivers

import (
	"bytes"
	"context"
	"io"
	"sync"
)

// MemoryDriver keeps objects in process memory, keyed by the full locator.
// It backs the temp:// scheme and is meant for tests.
type MemoryDriver struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// NewMemoryDriver creates an empty in-memory driver
func NewMemoryDriver() *MemoryDriver {
	return &MemoryDriver{objects: make(map[string][]byte)}
}

// Name returns the driver name
func (d *MemoryDriver) Name() string {
	return "memory"
}

func (d *MemoryDriver) Get(ctx context.Context, locator string) (io.ReadCloser, error) {
	d.mu.RLock()
	data, ok := d.objects[locator]
	d.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound.New("%s", locator)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (d *MemoryDriver) Put(ctx context.Context, locator string, data io.Reader) error {
	buf, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.objects[locator] = buf
	d.mu.Unlock()
	return nil
}

func (d *MemoryDriver) Exists(ctx context.Context, locator string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.objects[locator]
	return ok, nil
}

func (d *MemoryDriver) Delete(ctx context.Context, locator string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.objects[locator]; !ok {
		return ErrNotFound.New("%s", locator)
	}
	delete(d.objects, locator)
	return nil
}

// SignedURL returns the locator unchanged.
func (d *MemoryDriver) SignedURL(ctx context.Context, locator string) (string, error) {
	return locator, nil
}

// Len returns the number of stored objects.
func (d *MemoryDriver) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.objects)
}
