package persistence

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexcodex/ccindex/framework/index"
)

func sampleFile(path, hash string, generation uint64) *index.File {
	f := index.NewFile(path, []string{"-std=c++17"})
	f.ContentHash = hash
	f.Generation = generation
	id := f.IDs().ToFuncID("c:@F@main#int ()")
	fn := f.Func(id)
	fn.ShortName = "main"
	fn.QualifiedName = "main"
	fn.Definition = f.Location(path, 1, 5, false)
	fn.Uses = index.AddUsage(fn.Uses, fn.Definition)
	return f
}

func TestCacheStoreRoundTrip(t *testing.T) {
	store, err := NewCacheStore(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Save(sampleFile("/src/main.cc", "abc", 3)))

	got, err := store.Load("/src/main.cc")
	require.NoError(t, err)
	assert.Equal(t, "/src/main.cc", got.Path)
	assert.Equal(t, "abc", got.ContentHash)
	assert.Equal(t, uint64(3), got.Generation)
	assert.Equal(t, []string{"-std=c++17"}, got.Args)

	id, ok := got.IDs().Lookup(index.KindFunc, "c:@F@main#int ()")
	require.True(t, ok)
	fn := got.Func(index.FuncID(id.Index))
	assert.Equal(t, "main", fn.QualifiedName)
	assert.Equal(t, 1, fn.Definition.Line())
	assert.Equal(t, "/src/main.cc", got.FilePath(fn.Definition.FileID()))
}

func TestCacheStoreUpsertAndList(t *testing.T) {
	store, err := NewCacheStore(":memory:")
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Save(sampleFile("/src/b.cc", "one", 1)))
	require.NoError(t, store.Save(sampleFile("/src/a.cc", "two", 1)))
	require.NoError(t, store.Save(sampleFile("/src/b.cc", "three", 2)))

	entries, err := store.List()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "/src/a.cc", entries[0].Path)
	assert.Equal(t, "/src/b.cc", entries[1].Path)
	assert.Equal(t, "three", entries[1].ContentHash)
	assert.Equal(t, uint64(2), entries[1].Generation)

	entry, err := store.Lookup("/src/b.cc")
	require.NoError(t, err)
	assert.Equal(t, "three", entry.ContentHash)
	assert.False(t, entry.IndexedAt.IsZero())
}

func TestCacheStoreMissingAndDeleted(t *testing.T) {
	store, err := NewCacheStore(":memory:")
	require.NoError(t, err)
	defer store.Close()

	_, err = store.Load("/src/none.cc")
	assert.ErrorIs(t, err, ErrNotCached)

	require.NoError(t, store.Save(sampleFile("/src/gone.cc", "x", 1)))
	require.NoError(t, store.Delete("/src/gone.cc"))
	require.NoError(t, store.Delete("/src/gone.cc"))
	_, err = store.Lookup("/src/gone.cc")
	assert.ErrorIs(t, err, ErrNotCached)

	assert.Error(t, store.Save(nil))
}

func TestCacheStoreIgnoresOtherFormatVersions(t *testing.T) {
	store, err := NewCacheStore(":memory:")
	require.NoError(t, err)
	defer store.Close()

	_, err = store.db.Exec(`INSERT INTO indexed_files (path, format_version, data) VALUES (?, ?, ?)`,
		"/src/old.cc", index.FormatVersion-1, []byte(`{}`))
	require.NoError(t, err)

	_, err = store.Load("/src/old.cc")
	assert.ErrorIs(t, err, ErrNotCached)
	entries, err := store.List()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCacheStoreCloseNil(t *testing.T) {
	var store *CacheStore
	assert.NoError(t, store.Close())
}
