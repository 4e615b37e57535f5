package samples

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FairForge/samplehub/internal/imaging"
	"github.com/FairForge/samplehub/internal/imaging/imagingtest"
)

func TestRegisterSample_SyncDerivation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "file://")
	h.put(t, "file://data/s1.npy", imagingtest.NPY(t, "<f8", []int{5, 5, 3}, imagingtest.Ramp(75)))

	id, err := h.svc.RegisterSample(ctx, "mnist", "s1",
		register(`{"data": {"url": "file://data/s1.npy"}, "image": {"type": "2D"}, "label": 3}`))
	require.NoError(t, err)

	img := h.sample(t, id).Info.Image
	require.NotNil(t, img)
	assert.Equal(t, StatusCreated, img.Status)
	assert.Equal(t, "file://images/mnist/s1", img.URL)
	require.NotNil(t, img.Count)
	assert.Equal(t, 1, *img.Count)
	assert.Empty(t, img.Reason)
	assert.True(t, h.exists(t, "file://images/mnist/s1.jpg"))
	assert.Empty(t, h.queue.Enqueued())
}

func TestRegisterSample_SyncFailureIsRecorded(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "file://")
	h.put(t, "file://data/bad.npy", imagingtest.NPY(t, "<f8", []int{2, 2, 5}, imagingtest.Ramp(20)))

	id, err := h.svc.RegisterSample(ctx, "mnist", "bad",
		register(`{"data": {"url": "file://data/bad.npy"}, "image": {"type": "2D"}}`))
	require.NoError(t, err, "derivation failures never fail registration")

	img := h.sample(t, id).Info.Image
	assert.Equal(t, StatusFailed, img.Status)
	assert.NotEmpty(t, img.Reason)
	assert.Nil(t, img.Count)
}

func TestRegisterSample_AsyncDispatch(t *testing.T) {
	ctx := context.Background()

	t.Run("3D on the filesystem", func(t *testing.T) {
		h := newHarness(t, "file://")
		h.put(t, "file://data/vol.npy", imagingtest.NPY(t, "<f8", []int{3, 4, 4}, imagingtest.Ramp(48)))

		id, err := h.svc.RegisterSample(ctx, "mnist", "vol",
			register(`{"data": {"url": "file://data/vol.npy"}, "image": {"type": "3D"}}`))
		require.NoError(t, err)
		assert.Equal(t, []int64{id}, h.queue.Enqueued())
		assert.Equal(t, StatusCreating, h.sample(t, id).Info.Image.Status)

		require.NoError(t, h.deriver.Complete(ctx, id))

		img := h.sample(t, id).Info.Image
		assert.Equal(t, StatusCreated, img.Status)
		assert.Equal(t, 3, *img.Count)
		for _, name := range []string{"vol-0.jpg", "vol-1.jpg", "vol-2.jpg"} {
			assert.True(t, h.exists(t, "file://images/mnist/"+name), name)
		}
	})

	t.Run("2D on another backend", func(t *testing.T) {
		h := newHarness(t, "temp://")
		h.put(t, "temp://data/s.npy", imagingtest.NPY(t, "<f8", []int{2, 2}, imagingtest.Ramp(4)))

		id, err := h.svc.RegisterSample(ctx, "mnist", "s",
			register(`{"data": {"url": "temp://data/s.npy"}, "image": {"type": "2D"}}`))
		require.NoError(t, err)
		assert.Equal(t, []int64{id}, h.queue.Enqueued())
		assert.Equal(t, "temp://images/mnist/s", h.sample(t, id).Info.Image.URL)
	})

	t.Run("enqueue failure marks the descriptor failed", func(t *testing.T) {
		h := newHarness(t, "file://")
		h.queue.err = errQueueDown
		h.put(t, "file://data/vol.npy", imagingtest.NPY(t, "<f8", []int{1, 2, 2}, imagingtest.Ramp(4)))

		id, err := h.svc.RegisterSample(ctx, "mnist", "vol",
			register(`{"data": {"url": "file://data/vol.npy"}, "image": {"type": "3D"}}`))
		require.NoError(t, err)

		img := h.sample(t, id).Info.Image
		assert.Equal(t, StatusFailed, img.Status)
		assert.Contains(t, img.Reason, "enqueue derivation")
	})
}

func TestRegisterSample_Conflict(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "file://")
	h.put(t, "temp://a.npy", []byte("a"))
	h.put(t, "temp://b.npy", []byte("b"))

	id, err := h.svc.RegisterSample(ctx, "mnist", "dup", register(`{"data": {"url": "temp://a.npy"}, "split": "train"}`))
	require.NoError(t, err)
	before := h.sample(t, id)

	_, err = h.svc.RegisterSample(ctx, "mnist", "dup", register(`{"data": {"url": "temp://b.npy"}, "split": "test"}`))
	require.Error(t, err)
	assert.True(t, ErrConflict.Has(err))

	after := h.sample(t, id)
	assert.Equal(t, before, after)
	assert.Equal(t, "temp://a.npy", after.Info.DataURL())
}

func TestRegisterSample_Validation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "file://")
	h.put(t, "temp://present.npy", []byte("x"))

	tests := []struct {
		name string
		req  RegisterRequest
	}{
		{"no info", RegisterRequest{}},
		{"null info", register(`null`)},
		{"no data", register(`{"label": 1}`)},
		{"no data url", register(`{"data": {}}`)},
		{"image without type", register(`{"data": {"url": "temp://present.npy"}, "image": {}}`)},
		{"unknown image type", register(`{"data": {"url": "temp://present.npy"}, "image": {"type": "4D"}}`)},
		{"unsupported scheme", register(`{"data": {"url": "ftp://host/x.npy"}}`)},
		{"missing payload", register(`{"data": {"url": "temp://absent.npy"}}`)},
		{"absolute filesystem path", register(`{"data": {"url": "file:///etc/passwd"}}`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.svc.RegisterSample(ctx, "mnist", "s", tt.req)
			require.Error(t, err)
			assert.True(t, ErrValidation.Has(err), err.Error())
		})
	}

	t.Run("validation can be skipped", func(t *testing.T) {
		skip := false
		id, err := h.svc.RegisterSample(ctx, "mnist", "unchecked",
			RegisterRequest{Info: []byte(`{"data": {"url": "temp://absent.npy"}}`), Validate: &skip})
		require.NoError(t, err)
		assert.NotZero(t, id)
	})

	t.Run("unknown dataset", func(t *testing.T) {
		_, err := h.svc.RegisterSample(ctx, "cifar", "s", register(`{"data": {"url": "temp://present.npy"}}`))
		assert.True(t, ErrNotFound.Has(err))
	})
}

func TestRegisterSample_ImageStoreDisabled(t *testing.T) {
	h := newHarness(t, "")
	h.put(t, "temp://x.npy", []byte("x"))

	_, err := h.svc.RegisterSample(context.Background(), "mnist", "s",
		register(`{"data": {"url": "temp://x.npy"}, "image": {"type": "2D"}}`))
	assert.True(t, ErrValidation.Has(err))
}

func TestRegisterSample_FromData(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "file://")
	h.put(t, "s3://bucket/cat.JPG", []byte("jpeg"))
	h.put(t, "temp://dog.jpg", []byte("jpeg"))

	id, err := h.svc.RegisterSample(ctx, "mnist", "cat", register(`{"data": {"url": "s3://bucket/cat.JPG"}}`))
	require.NoError(t, err)
	img := h.sample(t, id).Info.Image
	require.NotNil(t, img)
	assert.Equal(t, imaging.TypeFromData, img.Type)
	assert.Equal(t, StatusCreated, img.Status)
	assert.Equal(t, "s3://bucket/cat.JPG", img.URL)
	assert.Nil(t, img.Count)
	assert.Empty(t, h.queue.Enqueued())

	id, err = h.svc.RegisterSample(ctx, "mnist", "dog", register(`{"data": {"url": "temp://dog.jpg"}}`))
	require.NoError(t, err)
	assert.Nil(t, h.sample(t, id).Info.Image, "only object stores get a FROM_DATA descriptor")
}

func TestRegisterSample_PreservesExtraFields(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "file://")
	h.put(t, "temp://x.npy", []byte("x"))

	id, err := h.svc.RegisterSample(ctx, "mnist", "s",
		register(`{"data": {"url": "temp://x.npy", "sha": "abc"}, "label": "cat", "patient": {"age": 42}}`))
	require.NoError(t, err)

	raw, err := json.Marshal(h.sample(t, id).Info)
	require.NoError(t, err)
	assert.JSONEq(t, `{"data": {"url": "temp://x.npy", "sha": "abc"}, "label": "cat", "patient": {"age": 42}}`, string(raw))
}

func TestRegisterSample_ImageExtraSurvivesDerivation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "file://")
	h.put(t, "file://data/s1.npy", imagingtest.NPY(t, "<f8", []int{4, 4}, imagingtest.Ramp(16)))

	id, err := h.svc.RegisterSample(ctx, "mnist", "s1",
		register(`{"data": {"url": "file://data/s1.npy"}, "image": {"type": "2D", "window": [0, 255], "colormap": "gray"}}`))
	require.NoError(t, err)

	img := h.sample(t, id).Info.Image
	require.Equal(t, StatusCreated, img.Status)
	assert.JSONEq(t, `[0, 255]`, string(img.Extra["window"]))

	raw, err := json.Marshal(img)
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"type": "2D", "url": "file://images/mnist/s1", "status": "CREATED", "count": 1, "window": [0, 255], "colormap": "gray"}`,
		string(raw))
}

func TestDeleteSample(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "file://")
	h.put(t, "temp://x.npy", []byte("x"))
	id, err := h.svc.RegisterSample(ctx, "mnist", "s", register(`{"data": {"url": "temp://x.npy"}}`))
	require.NoError(t, err)

	t.Run("purge removes the payload", func(t *testing.T) {
		deleted, err := h.svc.DeleteSample(ctx, "mnist", "s", true)
		require.NoError(t, err)
		assert.Equal(t, id, deleted)
		assert.False(t, h.exists(t, "temp://x.npy"))
	})

	t.Run("missing sample", func(t *testing.T) {
		_, err := h.svc.DeleteSample(ctx, "mnist", "s", false)
		assert.True(t, ErrNotFound.Has(err))
		_, err = h.svc.DeleteSample(ctx, "mnist", "s", true)
		assert.True(t, ErrNotFound.Has(err))
	})
}

func TestDatasets(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "file://")

	_, err := h.svc.CreateDataset(ctx, "mnist", nil)
	assert.True(t, ErrConflict.Has(err))

	_, err = h.svc.CreateDataset(ctx, "cifar", map[string]any{"classes": 10})
	require.NoError(t, err)

	list, err := h.svc.ListDatasets(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "cifar", list[0].Name)

	h.put(t, "temp://x.npy", []byte("x"))
	_, err = h.svc.RegisterSample(ctx, "cifar", "s", register(`{"data": {"url": "temp://x.npy"}}`))
	require.NoError(t, err)

	_, err = h.svc.DeleteDataset(ctx, "cifar")
	assert.True(t, ErrConflict.Has(err), "samples must be deleted first")

	_, err = h.svc.DeleteSample(ctx, "cifar", "s", false)
	require.NoError(t, err)
	_, err = h.svc.DeleteDataset(ctx, "cifar")
	require.NoError(t, err)

	_, err = h.svc.DeleteDataset(ctx, "cifar")
	assert.True(t, ErrNotFound.Has(err))

	n, err := h.svc.CountSamples(ctx, "mnist")
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = h.svc.CountSamples(ctx, "cifar")
	assert.True(t, ErrNotFound.Has(err))
}

func TestSampleImages(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "file://")
	h.put(t, "file://data/s1.npy", imagingtest.NPY(t, "<f8", []int{3, 3}, imagingtest.Ramp(9)))
	h.put(t, "temp://raw.bin", []byte("x"))

	_, err := h.svc.RegisterSample(ctx, "mnist", "s1",
		register(`{"data": {"url": "file://data/s1.npy"}, "image": {"type": "2D"}}`))
	require.NoError(t, err)
	_, err = h.svc.RegisterSample(ctx, "mnist", "raw", register(`{"data": {"url": "temp://raw.bin"}}`))
	require.NoError(t, err)

	urls, err := h.svc.SampleImages(ctx, "mnist", "s1", nil, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"http://localhost:8000/data/download?url=file://images/mnist/s1.jpg"}, urls)

	urls, err = h.svc.SampleImages(ctx, "mnist", "raw", nil, 0)
	require.NoError(t, err)
	assert.Empty(t, urls)

	_, err = h.svc.SampleImages(ctx, "mnist", "ghost", nil, 0)
	assert.True(t, ErrNotFound.Has(err))

	gallery, err := h.svc.GalleryImages(ctx, "mnist", Filter{})
	require.NoError(t, err)
	require.Len(t, gallery, 2)
	require.NotNil(t, gallery[0])
	assert.Contains(t, *gallery[0], "s1.jpg")
	assert.Nil(t, gallery[1])
}
