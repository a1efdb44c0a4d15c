package imagestore

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAndHas(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "images")
	store := New(dir, slog.New(slog.DiscardHandler))

	assert.False(t, store.Has("front_door"))

	jpeg := []byte{0xff, 0xd8, 0xff, 0xe0}
	path, err := store.Write("front_door", jpeg)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "front_door.jpg"), path)
	assert.True(t, store.Has("front_door"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, jpeg, data)
}

func TestWriteReplaces(t *testing.T) {
	t.Parallel()

	store := New(t.TempDir(), slog.New(slog.DiscardHandler))

	_, err := store.Write("cam", []byte("old"))
	require.NoError(t, err)
	path, err := store.Write("cam", []byte("new"))
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))

	// no temp file left behind
	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}
