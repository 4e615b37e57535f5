package drivers

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// LocalDriver implements the Driver interface for a networked filesystem
// mounted under a root directory. Locators look like file://relative/path.
type LocalDriver struct {
	basePath string
	baseURL  string
	logger   *zap.Logger
}

// NewLocalDriver creates a filesystem driver rooted at basePath. baseURL is
// the externally reachable server address used to build download links.
func NewLocalDriver(basePath, baseURL string, logger *zap.Logger) *LocalDriver {
	if abs, err := filepath.Abs(basePath); err == nil {
		basePath = abs
	}
	return &LocalDriver{
		basePath: filepath.Clean(basePath),
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		logger:   logger,
	}
}

// Name returns the driver name
func (d *LocalDriver) Name() string {
	return "local"
}

// resolve maps a locator onto a path under the root.
func (d *LocalDriver) resolve(locator string) (string, error) {
	loc, err := parseFor(locator, SchemeFile)
	if err != nil {
		return "", err
	}
	if strings.HasPrefix(loc.Path, "/") || filepath.IsAbs(loc.Path) {
		return "", ErrInvalidLocator.New("expected relative path, got absolute path %q", loc.Path)
	}

	fullPath := filepath.Join(d.basePath, filepath.FromSlash(loc.Path))
	rel, err := filepath.Rel(d.basePath, fullPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", ErrInvalidLocator.New("path %q escapes storage root", loc.Path)
	}
	return fullPath, nil
}

// Get opens the file behind locator
func (d *LocalDriver) Get(ctx context.Context, locator string) (io.ReadCloser, error) {
	fullPath, err := d.resolve(locator)
	if err != nil {
		return nil, err
	}

	d.logger.Debug("LocalDriver.Get",
		zap.String("locator", locator),
		zap.String("fullPath", fullPath))

	f, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound.Wrap(err)
		}
		return nil, fmt.Errorf("open %s: %w", locator, err)
	}
	return f, nil
}

// Put writes data to locator, creating parent directories as needed
func (d *LocalDriver) Put(ctx context.Context, locator string, data io.Reader) error {
	fullPath, err := d.resolve(locator)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(fullPath), 0750); err != nil {
		return fmt.Errorf("create parent directory: %w", err)
	}

	file, err := os.Create(fullPath)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}

	if _, err := io.Copy(file, data); err != nil {
		_ = file.Close()
		return fmt.Errorf("failed to copy data: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("close file: %w", err)
	}

	d.logger.Debug("LocalDriver.Put",
		zap.String("locator", locator),
		zap.String("fullPath", fullPath))
	return nil
}

// Exists reports whether a file is present at locator
func (d *LocalDriver) Exists(ctx context.Context, locator string) (bool, error) {
	fullPath, err := d.resolve(locator)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(fullPath); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat %s: %w", locator, err)
	}
	return true, nil
}

// Delete removes the file at locator
func (d *LocalDriver) Delete(ctx context.Context, locator string) error {
	fullPath, err := d.resolve(locator)
	if err != nil {
		return err
	}
	if err := os.Remove(fullPath); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound.Wrap(err)
		}
		return fmt.Errorf("remove %s: %w", locator, err)
	}
	return nil
}

// SignedURL returns the application download endpoint for locator. The
// locator is passed through unescaped.
func (d *LocalDriver) SignedURL(ctx context.Context, locator string) (string, error) {
	return d.baseURL + "/data/download?url=" + locator, nil
}

// HealthCheck verifies the root directory is reachable
func (d *LocalDriver) HealthCheck(ctx context.Context) error {
	if _, err := os.Stat(d.basePath); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}
