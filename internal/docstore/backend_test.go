package docstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/postbox/internal/digest"
)

// runBackendContract checks the behavior every Backend must share.
func runBackendContract(t *testing.T, newBackend func(t *testing.T) Backend) {
	t.Helper()
	ctx := context.Background()
	commit := Commit{Message: "test", Author: "tester"}

	t.Run("missing document reads as absent", func(t *testing.T) {
		b := newBackend(t)
		blob, err := b.Get(ctx, "data/none.json")
		require.NoError(t, err)
		assert.False(t, blob.Exists())
		assert.Empty(t, blob.Data)
	})

	t.Run("create then read", func(t *testing.T) {
		b := newBackend(t)
		data := []byte(`{"messages":[]}`)
		v, err := b.Put(ctx, "data/a.json", data, Absent, commit)
		require.NoError(t, err)
		assert.Equal(t, Version(digest.BlobSHA(data)), v)

		blob, err := b.Get(ctx, "data/a.json")
		require.NoError(t, err)
		assert.Equal(t, data, blob.Data)
		assert.Equal(t, v, blob.Version)
	})

	t.Run("create over existing conflicts", func(t *testing.T) {
		b := newBackend(t)
		v, err := b.Put(ctx, "data/a.json", []byte("one"), Absent, commit)
		require.NoError(t, err)

		_, err = b.Put(ctx, "data/a.json", []byte("two"), Absent, commit)
		require.Error(t, err)
		assert.True(t, IsConflict(err))
		var ce *ConflictError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, v, ce.Current)
	})

	t.Run("update with current version", func(t *testing.T) {
		b := newBackend(t)
		v1, err := b.Put(ctx, "data/nested/a.json", []byte("one"), Absent, commit)
		require.NoError(t, err)
		v2, err := b.Put(ctx, "data/nested/a.json", []byte("two"), v1, commit)
		require.NoError(t, err)
		assert.NotEqual(t, v1, v2)

		blob, err := b.Get(ctx, "data/nested/a.json")
		require.NoError(t, err)
		assert.Equal(t, "two", string(blob.Data))
	})

	t.Run("stale version conflicts and leaves document unchanged", func(t *testing.T) {
		b := newBackend(t)
		v1, err := b.Put(ctx, "data/a.json", []byte("one"), Absent, commit)
		require.NoError(t, err)
		_, err = b.Put(ctx, "data/a.json", []byte("two"), v1, commit)
		require.NoError(t, err)

		_, err = b.Put(ctx, "data/a.json", []byte("three"), v1, commit)
		require.Error(t, err)
		assert.True(t, IsConflict(err))
		assert.False(t, IsUnavailable(err))

		blob, err := b.Get(ctx, "data/a.json")
		require.NoError(t, err)
		assert.Equal(t, "two", string(blob.Data))
	})

	t.Run("update of missing document conflicts", func(t *testing.T) {
		b := newBackend(t)
		_, err := b.Put(ctx, "data/ghost.json", []byte("x"), Version("deadbeef"), commit)
		require.Error(t, err)
		assert.True(t, IsConflict(err))
	})
}

func TestMemoryBackend_Contract(t *testing.T) {
	runBackendContract(t, func(t *testing.T) Backend { return NewMemoryBackend() })
}

func TestFileBackend_Contract(t *testing.T) {
	runBackendContract(t, func(t *testing.T) Backend {
		b, err := NewFileBackend(t.TempDir())
		require.NoError(t, err)
		return b
	})
}

func TestSQLiteBackend_Contract(t *testing.T) {
	runBackendContract(t, func(t *testing.T) Backend {
		b, err := OpenSQLite(filepath.Join(t.TempDir(), "docs.db"))
		require.NoError(t, err)
		t.Cleanup(func() { b.Close() })
		return b
	})
}

func TestGitHubBackend_Contract(t *testing.T) {
	runBackendContract(t, func(t *testing.T) Backend {
		return newFakeGitHub(t).backend(t)
	})
}

func TestMemoryBackend_Intercept(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend()
	b.Intercept = func(path string) error {
		return unavailable("put", path, context.DeadlineExceeded)
	}

	_, err := b.Put(ctx, "data/a.json", []byte("x"), Absent, Commit{})
	require.Error(t, err)
	assert.True(t, IsUnavailable(err))
	assert.Empty(t, b.Paths())
}

func TestMemoryBackend_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewMemoryBackend().Get(ctx, "data/a.json")
	assert.True(t, IsUnavailable(err))
}

func TestMemoryBackend_RecordsCommits(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend()
	_, err := b.Put(ctx, "a", []byte("x"), Absent, Commit{Message: "first", Author: "alice"})
	require.NoError(t, err)

	commits := b.Commits()
	require.Len(t, commits, 1)
	assert.Equal(t, "first", commits[0].Message)
	assert.Equal(t, "alice", commits[0].Author)
}

func TestVersion_String(t *testing.T) {
	assert.Equal(t, "<absent>", Absent.String())
	assert.Equal(t, "3b18e512dba7", Version("3b18e512dba79e4c8300dd08aeb37f8e728b8dad").String())
	assert.Equal(t, "abc", Version("abc").String())
}
