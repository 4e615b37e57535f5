package imaging

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/FairForge/samplehub/internal/drivers"
	"github.com/FairForge/samplehub/internal/imaging/imagingtest"
	"github.com/FairForge/samplehub/internal/metrics"
	"github.com/FairForge/samplehub/internal/storage"
)

func newTestEngine(t *testing.T) (*Engine, *drivers.MemoryDriver) {
	t.Helper()
	mem := drivers.NewMemoryDriver()
	r := storage.NewRouter(zap.NewNop())
	storage.RegisterMemory(r, mem)
	return NewEngine(r, metrics.New(), zap.NewNop()), mem
}

func put(t *testing.T, mem *drivers.MemoryDriver, locator string, data []byte) {
	t.Helper()
	require.NoError(t, mem.Put(context.Background(), locator, bytes.NewReader(data)))
}

func decodeStored(t *testing.T, mem *drivers.MemoryDriver, locator string) image.Image {
	t.Helper()
	rc, err := mem.Get(context.Background(), locator)
	require.NoError(t, err)
	defer rc.Close()
	img, err := jpeg.Decode(rc)
	require.NoError(t, err)
	return img
}

func TestEngine_Derive2D(t *testing.T) {
	ctx := context.Background()

	shapes := map[string][]int{
		"no channel axis": {6, 5},
		"one channel":     {6, 5, 1},
		"three channels":  {6, 5, 3},
	}
	for name, shape := range shapes {
		t.Run(name, func(t *testing.T) {
			engine, mem := newTestEngine(t)
			n := 1
			for _, d := range shape {
				n *= d
			}
			put(t, mem, "temp://data/s.npy", imagingtest.NPY(t, "<f8", shape, imagingtest.Ramp(n)))

			count, err := engine.Derive(ctx, Request{Type: Type2D, Source: "temp://data/s.npy", Prefix: "temp://images/ds/s"})
			require.NoError(t, err)
			assert.Equal(t, 1, count)

			img := decodeStored(t, mem, "temp://images/ds/s.jpg")
			assert.Equal(t, image.Rect(0, 0, 5, 6), img.Bounds())
		})
	}

	t.Run("column-major array", func(t *testing.T) {
		engine, mem := newTestEngine(t)
		put(t, mem, "temp://data/s.npy", imagingtest.FortranNPY(t, "<f8", []int{2, 3}, []float64{0, 5, 1, 4, 2, 3}))

		count, err := engine.Derive(ctx, Request{Type: Type2D, Source: "temp://data/s.npy", Prefix: "temp://images/ds/s"})
		require.NoError(t, err)
		assert.Equal(t, 1, count)
		assert.Equal(t, image.Rect(0, 0, 3, 2), decodeStored(t, mem, "temp://images/ds/s.jpg").Bounds())
	})

	t.Run("unsupported channel count", func(t *testing.T) {
		engine, mem := newTestEngine(t)
		put(t, mem, "temp://data/s.npy", imagingtest.NPY(t, "<f8", []int{2, 2, 4}, imagingtest.Ramp(16)))

		_, err := engine.Derive(ctx, Request{Type: Type2D, Source: "temp://data/s.npy", Prefix: "temp://images/ds/s"})
		require.Error(t, err)
		assert.NotEmpty(t, err.Error())
		assert.Equal(t, 1, mem.Len(), "nothing uploaded")
	})

	t.Run("re-encodes raster payloads", func(t *testing.T) {
		engine, mem := newTestEngine(t)
		src := image.NewRGBA(image.Rect(0, 0, 3, 2))
		src.Set(1, 1, color.RGBA{R: 255, A: 255})
		var buf bytes.Buffer
		require.NoError(t, png.Encode(&buf, src))
		put(t, mem, "temp://data/photo.PNG", buf.Bytes())

		count, err := engine.Derive(ctx, Request{Type: Type2D, Source: "temp://data/photo.PNG", Prefix: "temp://images/ds/photo"})
		require.NoError(t, err)
		assert.Equal(t, 1, count)
		assert.Equal(t, image.Rect(0, 0, 3, 2), decodeStored(t, mem, "temp://images/ds/photo.jpg").Bounds())
	})

	t.Run("undecodable payload", func(t *testing.T) {
		engine, mem := newTestEngine(t)
		put(t, mem, "temp://data/s.bin", []byte("opaque"))

		_, err := engine.Derive(ctx, Request{Type: Type2D, Source: "temp://data/s.bin", Prefix: "temp://images/ds/s"})
		assert.True(t, ErrFormat.Has(err))
	})

	t.Run("array bundles", func(t *testing.T) {
		engine, mem := newTestEngine(t)
		put(t, mem, "temp://data/s.npz", []byte("PK"))

		_, err := engine.Derive(ctx, Request{Type: Type2D, Source: "temp://data/s.npz", Prefix: "temp://images/ds/s"})
		assert.True(t, ErrFormat.Has(err))
	})

	t.Run("tfrecord", func(t *testing.T) {
		engine, _ := newTestEngine(t)
		_, err := engine.Derive(ctx, Request{Type: Type2D, Source: "temp://data/s.tfrecord", Prefix: "temp://images/ds/s"})
		assert.True(t, ErrNotImplemented.Has(err))
	})

	t.Run("missing payload", func(t *testing.T) {
		engine, _ := newTestEngine(t)
		_, err := engine.Derive(ctx, Request{Type: Type2D, Source: "temp://data/missing.npy", Prefix: "temp://images/ds/s"})
		assert.True(t, drivers.ErrNotFound.Has(err))
	})
}

func TestEngine_Derive3D(t *testing.T) {
	ctx := context.Background()

	t.Run("one image per slice", func(t *testing.T) {
		engine, mem := newTestEngine(t)
		put(t, mem, "temp://data/vol.npy", imagingtest.NPY(t, "<f4", []int{4, 6, 5}, make([]float32, 120)))

		count, err := engine.Derive(ctx, Request{Type: Type3D, Source: "temp://data/vol.npy", Prefix: "temp://images/ds/vol"})
		require.NoError(t, err)
		assert.Equal(t, 4, count)

		for i := 0; i < 4; i++ {
			img := decodeStored(t, mem, SliceLocator("temp://images/ds/vol", i))
			assert.Equal(t, image.Rect(0, 0, 5, 6), img.Bounds())
		}
		ok, _ := mem.Exists(ctx, "temp://images/ds/vol-4.jpg")
		assert.False(t, ok)
	})

	t.Run("rgb slices", func(t *testing.T) {
		engine, mem := newTestEngine(t)
		put(t, mem, "temp://data/vol.npy", imagingtest.NPY(t, "<f8", []int{2, 3, 3, 3}, imagingtest.Ramp(54)))

		count, err := engine.Derive(ctx, Request{Type: Type3D, Source: "temp://data/vol.npy", Prefix: "temp://images/ds/vol"})
		require.NoError(t, err)
		assert.Equal(t, 2, count)
	})

	t.Run("requires an array payload", func(t *testing.T) {
		engine, _ := newTestEngine(t)
		_, err := engine.Derive(ctx, Request{Type: Type3D, Source: "temp://data/vol.png", Prefix: "temp://images/ds/vol"})
		assert.True(t, ErrFormat.Has(err))
	})

	t.Run("requires three dimensions", func(t *testing.T) {
		engine, mem := newTestEngine(t)
		put(t, mem, "temp://data/flat.npy", imagingtest.NPY(t, "<f8", []int{3, 3}, imagingtest.Ramp(9)))
		_, err := engine.Derive(ctx, Request{Type: Type3D, Source: "temp://data/flat.npy", Prefix: "temp://images/ds/flat"})
		assert.True(t, ErrFormat.Has(err))
	})

	t.Run("bad slice shape", func(t *testing.T) {
		engine, mem := newTestEngine(t)
		put(t, mem, "temp://data/vol.npy", imagingtest.NPY(t, "<f8", []int{2, 2, 2, 5}, imagingtest.Ramp(40)))

		_, err := engine.Derive(ctx, Request{Type: Type3D, Source: "temp://data/vol.npy", Prefix: "temp://images/ds/vol"})
		assert.Error(t, err)
	})
}

func TestEngine_UnsupportedTypes(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.Derive(ctx, Request{Type: TypeCT, Source: "temp://x.npy", Prefix: "temp://images/x"})
	assert.True(t, ErrNotImplemented.Has(err))

	_, err = engine.Derive(ctx, Request{Type: "4D", Source: "temp://x.npy", Prefix: "temp://images/x"})
	assert.True(t, ErrFormat.Has(err))
}

func TestEngine_UploadTargetsPrefixBackend(t *testing.T) {
	ctx := context.Background()
	mem := drivers.NewMemoryDriver()
	root := t.TempDir()
	r := storage.NewRouter(zap.NewNop())
	storage.RegisterMemory(r, mem)
	r.Register(drivers.SchemeFile, drivers.KindFile, func(ctx context.Context) (drivers.Driver, error) {
		return drivers.NewLocalDriver(root, "", zap.NewNop()), nil
	})
	engine := NewEngine(r, nil, zap.NewNop())

	put(t, mem, "temp://data/s.npy", imagingtest.NPY(t, "<f8", []int{2, 2}, imagingtest.Ramp(4)))
	_, err := engine.Derive(ctx, Request{Type: Type2D, Source: "temp://data/s.npy", Prefix: "file://images/ds/s"})
	require.NoError(t, err)

	local, err := r.For(ctx, "file://images/ds/s.jpg")
	require.NoError(t, err)
	rc, err := local.Get(ctx, "file://images/ds/s.jpg")
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.NotEmpty(t, data)
}
