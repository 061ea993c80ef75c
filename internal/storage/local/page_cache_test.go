package local_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/archive-ingest/internal/storage/local"
)

func TestNew(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		cache, err := local.New(local.Config{BaseDir: t.TempDir()})
		require.NoError(t, err)
		assert.NotNil(t, cache)
	})

	t.Run("CreatesMissingDir", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "nested", "cache")
		_, err := local.New(local.Config{BaseDir: dir})
		require.NoError(t, err)
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("MissingBaseDir", func(t *testing.T) {
		_, err := local.New(local.Config{})
		assert.Error(t, err)
	})

	t.Run("BaseDirIsNotADirectory", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
		_, err := local.New(local.Config{BaseDir: file})
		assert.Error(t, err)
	})
}

func TestPutAndGet(t *testing.T) {
	t.Parallel()

	cache, err := local.New(local.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)
	ctx := context.Background()

	_, ok, err := cache.Get(ctx, "fest2004", "index-1.html")
	require.NoError(t, err)
	assert.False(t, ok)

	entry := local.Entry{
		Body: []byte{0x83, 0x65, 0x83, 0x58},
		Meta: local.Meta{
			Location:    "https://web.archive.org/web/2004id_/http://fest.example/",
			ContentType: "text/html; charset=Shift_JIS",
			StatusCode:  200,
		},
	}
	require.NoError(t, cache.Put(ctx, "fest2004", "index-1.html", entry))

	got, ok, err := cache.Get(ctx, "fest2004", "index-1.html")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, entry, got)
}

func TestPutRejectsTraversal(t *testing.T) {
	t.Parallel()

	cache, err := local.New(local.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)
	err = cache.Put(context.Background(), "src", "../../escape", local.Entry{Body: []byte("x")})
	assert.Error(t, err)
}

func TestGetHonorsCanceledContext(t *testing.T) {
	t.Parallel()

	cache, err := local.New(local.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err = cache.Get(ctx, "src", "page.html")
	assert.Error(t, err)
}
