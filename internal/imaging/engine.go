package imaging

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"

	"go.uber.org/zap"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/FairForge/samplehub/internal/drivers"
	"github.com/FairForge/samplehub/internal/metrics"
)

// ImageType says how a sample payload turns into images.
type ImageType string

const (
	Type2D       ImageType = "2D"
	Type3D       ImageType = "3D"
	TypeFromData ImageType = "FROM_DATA"
	TypeCT       ImageType = "CT"
)

// Resolver hands out the backend for a locator.
type Resolver interface {
	For(ctx context.Context, locator string) (drivers.Driver, error)
}

// Request describes one derivation.
type Request struct {
	Type   ImageType
	Source string // data locator
	Prefix string // destination locator without extension
}

// Engine renders raw sample payloads into JPEG images.
type Engine struct {
	storage Resolver
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewEngine creates an engine reading and writing through storage
func NewEngine(storage Resolver, m *metrics.Metrics, logger *zap.Logger) *Engine {
	return &Engine{storage: storage, metrics: m, logger: logger}
}

// SliceLocator names the i-th image of a 3D sample.
func SliceLocator(prefix string, i int) string {
	return fmt.Sprintf("%s-%d.jpg", prefix, i)
}

// SingleLocator names the image of a 2D sample.
func SingleLocator(prefix string) string {
	return prefix + ".jpg"
}

// Derive renders the images for req and returns how many were written.
// Images uploaded before a failure are left in place.
func (e *Engine) Derive(ctx context.Context, req Request) (int, error) {
	var (
		n   int
		err error
	)
	switch req.Type {
	case Type2D:
		n, err = e.derive2D(ctx, req)
	case Type3D:
		n, err = e.derive3D(ctx, req)
	case TypeCT:
		return 0, ErrNotImplemented.New("image type %s not supported yet", req.Type)
	default:
		return 0, ErrFormat.New("image type %q not supported", req.Type)
	}
	e.metrics.AddImagesRendered(string(req.Type), n)
	return n, err
}

func (e *Engine) derive2D(ctx context.Context, req Request) (int, error) {
	switch drivers.Ext(req.Source) {
	case ".npz":
		return 0, ErrFormat.New("array bundles are not supported: %s", req.Source)
	case ".tfrecord":
		return 0, ErrNotImplemented.New("tfrecord payloads: %s", req.Source)
	case ".npy":
		arr, err := e.fetchArray(ctx, req.Source)
		if err != nil {
			return 0, err
		}
		img, err := ArrayImage(arr)
		if err != nil {
			return 0, err
		}
		if err := e.upload(ctx, img, SingleLocator(req.Prefix)); err != nil {
			return 0, err
		}
		return 1, nil
	}

	// anything else is decoded as a raster image
	img, err := e.fetchRaster(ctx, req.Source)
	if err != nil {
		return 0, err
	}
	if err := e.upload(ctx, img, SingleLocator(req.Prefix)); err != nil {
		return 0, err
	}
	return 1, nil
}

func (e *Engine) derive3D(ctx context.Context, req Request) (int, error) {
	if drivers.Ext(req.Source) != ".npy" {
		return 0, ErrFormat.New("cannot create images for image_type=%s data_url=%s", req.Type, req.Source)
	}

	arr, err := e.fetchArray(ctx, req.Source)
	if err != nil {
		return 0, err
	}
	if arr.NDim() < 3 {
		return 0, ErrFormat.New("3D payload needs at least 3 dimensions, got shape %v", arr.Shape)
	}

	count := arr.Shape[0]
	for i := 0; i < count; i++ {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		img, err := ArrayImage(arr.Slice(i))
		if err != nil {
			return i, fmt.Errorf("slice %d: %w", i, err)
		}
		if err := e.upload(ctx, img, SliceLocator(req.Prefix, i)); err != nil {
			return i, err
		}
	}

	e.logger.Debug("rendered slices",
		zap.String("source", req.Source),
		zap.Int("count", count))
	return count, nil
}

func (e *Engine) open(ctx context.Context, locator string) (io.ReadCloser, error) {
	d, err := e.storage.For(ctx, locator)
	if err != nil {
		return nil, err
	}
	rc, err := d.Get(ctx, locator)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", locator, err)
	}
	return rc, nil
}

func (e *Engine) fetchArray(ctx context.Context, locator string) (*Array, error) {
	rc, err := e.open(ctx, locator)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return DecodeNPY(rc)
}

func (e *Engine) fetchRaster(ctx context.Context, locator string) (image.Image, error) {
	rc, err := e.open(ctx, locator)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	img, _, err := image.Decode(rc)
	if err != nil {
		return nil, ErrFormat.New("decode %s: %v", locator, err)
	}
	return img, nil
}

func (e *Engine) upload(ctx context.Context, img image.Image, locator string) error {
	data, err := EncodeJPEG(img)
	if err != nil {
		return fmt.Errorf("encode %s: %w", locator, err)
	}
	d, err := e.storage.For(ctx, locator)
	if err != nil {
		return err
	}
	if err := d.Put(ctx, locator, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("upload %s: %w", locator, err)
	}
	return nil
}
