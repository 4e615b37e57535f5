package drivers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLocator(t *testing.T) {
	t.Run("splits scheme and path", func(t *testing.T) {
		loc, err := ParseLocator("s3://bucket/dir/sample.npy")
		require.NoError(t, err)
		assert.Equal(t, SchemeS3, loc.Scheme)
		assert.Equal(t, "bucket/dir/sample.npy", loc.Path)
		assert.Equal(t, "s3://bucket/dir/sample.npy", loc.String())
	})

	t.Run("rejects missing separator", func(t *testing.T) {
		_, err := ParseLocator("bucket/key")
		require.Error(t, err)
		assert.True(t, ErrInvalidLocator.Has(err))
	})

	t.Run("split at first slash", func(t *testing.T) {
		loc, err := ParseLocator("az://container/a/b/c.png")
		require.NoError(t, err)
		container, key, err := loc.Split()
		require.NoError(t, err)
		assert.Equal(t, "container", container)
		assert.Equal(t, "a/b/c.png", key)
	})

	t.Run("split needs a key", func(t *testing.T) {
		loc, err := ParseLocator("s3://bucket")
		require.NoError(t, err)
		_, _, err = loc.Split()
		assert.True(t, ErrInvalidLocator.Has(err))
	})

	t.Run("extension is lowercased", func(t *testing.T) {
		assert.Equal(t, ".jpg", Ext("gs://b/IMG.JPG"))
		assert.Equal(t, ".npy", Ext("file://x/y.npy"))
		assert.Equal(t, "", Ext("temp://noext"))
	})
}

func TestKind_IsObjectStore(t *testing.T) {
	assert.True(t, KindS3.IsObjectStore())
	assert.True(t, KindGCS.IsObjectStore())
	assert.True(t, KindAzure.IsObjectStore())
	assert.False(t, KindFile.IsObjectStore())
	assert.False(t, KindTemp.IsObjectStore())
}
