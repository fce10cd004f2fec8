package storage_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/habiliai/agentmemory/errors"
	"github.com/habiliai/agentmemory/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotKey(t *testing.T) {
	assert.Equal(t, "graph/ws-1/agent-1/facts.db", storage.SnapshotKey("ws-1", "agent-1"))
}

func TestLocalSnapshotStore_DownloadMissing(t *testing.T) {
	store := storage.NewLocalSnapshotStore(t.TempDir())

	err := store.Download(t.Context(), storage.SnapshotKey("ws-1", "agent-1"), filepath.Join(t.TempDir(), "facts.db"))
	assert.ErrorIs(t, err, errors.ErrSnapshotNotFound)
}

func TestLocalSnapshotStore_RoundTrip(t *testing.T) {
	store := storage.NewLocalSnapshotStore(t.TempDir())
	ctx := t.Context()

	work := t.TempDir()
	src := filepath.Join(work, "facts.db")
	require.NoError(t, os.WriteFile(src, []byte("snapshot-bytes"), 0644))

	key := storage.SnapshotKey("ws-1", "agent-1")
	require.NoError(t, store.Upload(ctx, key, src))

	dest := filepath.Join(work, "restored.db")
	require.NoError(t, store.Download(ctx, key, dest))

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, []byte("snapshot-bytes"), data)
}

func TestLocalSnapshotStore_LastUploadWins(t *testing.T) {
	store := storage.NewLocalSnapshotStore(t.TempDir())
	ctx := t.Context()

	work := t.TempDir()
	key := storage.SnapshotKey("ws-1", "agent-1")

	first := filepath.Join(work, "first.db")
	require.NoError(t, os.WriteFile(first, []byte("first"), 0644))
	require.NoError(t, store.Upload(ctx, key, first))

	second := filepath.Join(work, "second.db")
	require.NoError(t, os.WriteFile(second, []byte("second"), 0644))
	require.NoError(t, store.Upload(ctx, key, second))

	dest := filepath.Join(work, "restored.db")
	require.NoError(t, store.Download(ctx, key, dest))

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), data)
}
