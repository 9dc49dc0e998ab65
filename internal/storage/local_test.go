package storage

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStore_PutGetSize(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.Put(ctx, "raw/item-1_memo.mp3", strings.NewReader("audio-bytes"), "audio/mpeg"))

	size, err := store.Size(ctx, "raw/item-1_memo.mp3")
	require.NoError(t, err)
	assert.Equal(t, int64(len("audio-bytes")), size)

	rc, err := store.Get(ctx, "raw/item-1_memo.mp3")
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "audio-bytes", string(data))
}

func TestLocalStore_PutOverwrites(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.Put(ctx, "derived/item-1_web.txt", strings.NewReader("first"), "text/plain"))
	require.NoError(t, store.Put(ctx, "derived/item-1_web.txt", strings.NewReader("second"), "text/plain"))

	rc, err := store.Get(ctx, "derived/item-1_web.txt")
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))
}

func TestLocalStore_RejectsTraversal(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	for _, key := range []string{"../outside", "/etc/passwd", "raw/../../outside", "."} {
		assert.Error(t, store.Put(ctx, key, strings.NewReader("x"), ""), "key: %s", key)
	}
}

func TestLocalStore_MissingObject(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	_, err = store.Get(ctx, "raw/missing")
	assert.Error(t, err)

	_, err = store.Size(ctx, "raw/missing")
	assert.Error(t, err)

	// Deleting a missing object is not an error.
	assert.NoError(t, store.DeleteObject(ctx, "raw/missing"))
}
