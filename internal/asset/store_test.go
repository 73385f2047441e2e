package asset

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFSStore_PutGetRoundTrip(t *testing.T) {
	store := NewFSStore(t.TempDir())
	ctx := context.Background()

	err := store.Put(ctx, RawKey("abc123"), []byte("raw-bytes"))
	require.NoError(t, err)

	data, err := store.Get(ctx, RawKey("abc123"))
	require.NoError(t, err)
	assert.Equal(t, []byte("raw-bytes"), data)
}

func TestFSStore_PutOverwrites(t *testing.T) {
	store := NewFSStore(t.TempDir())
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, DisplayKey("x"), []byte("v1")))
	require.NoError(t, store.Put(ctx, DisplayKey("x"), []byte("v2")))

	data, err := store.Get(ctx, DisplayKey("x"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), data)
}

func TestFSStore_GetMissing(t *testing.T) {
	store := NewFSStore(t.TempDir())

	_, err := store.Get(context.Background(), RawKey("nope"))
	assert.Error(t, err)
}

func TestFSStore_RejectsEscapingKey(t *testing.T) {
	dir := t.TempDir()
	store := NewFSStore(filepath.Join(dir, "assets"))

	err := store.Put(context.Background(), "../outside.jpg", []byte("x"))
	assert.Error(t, err)

	_, statErr := os.Stat(filepath.Join(dir, "outside.jpg"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "raw/id1.jpg", RawKey("id1"))
	assert.Equal(t, "display/id1.jpg", DisplayKey("id1"))
}
