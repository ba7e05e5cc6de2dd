package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexcodex/ccindex/framework/ast"
	"github.com/lexcodex/ccindex/framework/ast/asttest"
	"github.com/lexcodex/ccindex/framework/db"
	"github.com/lexcodex/ccindex/framework/index"
	"github.com/lexcodex/ccindex/framework/ipc"
	"github.com/lexcodex/ccindex/persistence"
)

// fakeParser indexes every file as main calling the function named by the
// file's current callee entry.
type fakeParser struct {
	mu      sync.Mutex
	callees map[string]string
	fail    map[string]error
	calls   int
}

func newFakeParser() *fakeParser {
	return &fakeParser{callees: make(map[string]string), fail: make(map[string]error)}
}

func (p *fakeParser) set(path, callee string) {
	p.mu.Lock()
	p.callees[path] = callee
	p.mu.Unlock()
}

func (p *fakeParser) Parse(_ context.Context, path string, args []string) (*ast.TranslationUnit, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if err := p.fail[path]; err != nil {
		return nil, &ast.ParseError{Path: path, Err: err}
	}
	callee := p.callees[path]
	if callee == "" {
		callee = "helper"
	}
	header := filepath.Join(filepath.Dir(path), "common.h")
	target := asttest.Decl(ast.KindFunction, "c:@F@"+callee+"#", callee, asttest.At(header, 1, 6))
	main := asttest.Def(ast.KindFunction, "c:@F@main_"+filepath.Base(path)+"#", "main", asttest.At(path, 2, 5),
		asttest.Body(asttest.Call(target, asttest.At(path, 3, 3))))
	tu := asttest.TU(path, target, main)
	tu.Args = args
	return tu, nil
}

func (p *fakeParser) parses() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func apply(t *testing.T, d *db.Database, res ipc.IndexResult) {
	t.Helper()
	require.Empty(t, res.Err)
	require.NoError(t, d.Apply(res.Update))
}

func callees(t *testing.T, d *db.Database, path string) []string {
	t.Helper()
	id, ok := d.Lookup(index.KindFunc, "c:@F@main_"+filepath.Base(path)+"#")
	require.True(t, ok)
	var out []string
	for _, ref := range d.Callees(index.FuncID(id.Index)) {
		out = append(out, ref.Symbol.ShortName)
	}
	return out
}

func TestIndexerDiffsAgainstPreviousIndex(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.cc")
	writeFile(t, path, "v1")
	parser := newFakeParser()
	ix := NewIndexer(parser, nil, nil)
	database := db.New()

	out := ix.Index(context.Background(), ipc.IndexJob{Path: path, Generation: 1})
	require.NoError(t, out.Commit())
	apply(t, database, out.Result)
	assert.Equal(t, []string{"helper"}, callees(t, database, path))
	assert.Contains(t, out.Result.Files, filepath.Join(dir, "common.h"))

	// Unchanged content is skipped without parsing.
	out = ix.Index(context.Background(), ipc.IndexJob{Path: path, Generation: 2})
	assert.True(t, out.Result.Skipped)
	assert.Nil(t, out.Result.Update)
	assert.Equal(t, 1, parser.parses())

	parser.set(path, "other")
	writeFile(t, path, "v2")
	out = ix.Index(context.Background(), ipc.IndexJob{Path: path, Generation: 3})
	require.NoError(t, out.Commit())
	apply(t, database, out.Result)
	assert.Equal(t, []string{"other"}, callees(t, database, path))
	gen, ok := database.Generation(path)
	require.True(t, ok)
	assert.Equal(t, uint64(3), gen)

	if helper, ok := database.Lookup(index.KindFunc, "c:@F@helper#"); ok {
		assert.Empty(t, database.Callers(index.FuncID(helper.Index)))
	}
}

func TestIndexerForceReparsesUnchangedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.cc")
	writeFile(t, path, "same")
	parser := newFakeParser()
	ix := NewIndexer(parser, nil, nil)

	out := ix.Index(context.Background(), ipc.IndexJob{Path: path, Generation: 1})
	require.NoError(t, out.Commit())

	parser.set(path, "changed_in_header")
	out = ix.Index(context.Background(), ipc.IndexJob{Path: path, Generation: 2, Force: true})
	assert.False(t, out.Result.Skipped)
	require.NotNil(t, out.Result.Update)
	assert.False(t, out.Result.Update.Empty())
	assert.Equal(t, 2, parser.parses())
}

func TestIndexerRemovedFileWithdrawsFacts(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gone.cc")
	writeFile(t, path, "x")
	cache := NewMemoryCache()
	ix := NewIndexer(newFakeParser(), cache, nil)
	database := db.New()

	out := ix.Index(context.Background(), ipc.IndexJob{Path: path, Generation: 1})
	require.NoError(t, out.Commit())
	apply(t, database, out.Result)
	_, ok := database.Lookup(index.KindFunc, "c:@F@main_gone.cc#")
	require.True(t, ok)

	require.NoError(t, os.Remove(path))
	out = ix.Index(context.Background(), ipc.IndexJob{Path: path, Generation: 2})
	require.NoError(t, out.Commit())
	apply(t, database, out.Result)
	assert.Empty(t, database.WorkspaceSymbols("main"))

	_, err := cache.Load(path)
	assert.ErrorIs(t, err, persistence.ErrNotCached)

	// A file that was never indexed has nothing to withdraw.
	out = ix.Index(context.Background(), ipc.IndexJob{Path: filepath.Join(dir, "never.cc"), Generation: 1})
	assert.True(t, out.Result.Skipped)
}

func TestIndexerParseFailureKeepsBaseline(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.cc")
	writeFile(t, path, "v1")
	parser := newFakeParser()
	cache := NewMemoryCache()
	ix := NewIndexer(parser, cache, nil)

	out := ix.Index(context.Background(), ipc.IndexJob{Path: path, Generation: 1})
	require.NoError(t, out.Commit())

	writeFile(t, path, "v2")
	parser.fail[path] = errors.New("clang exited 1")
	out = ix.Index(context.Background(), ipc.IndexJob{Path: path, Generation: 2})
	assert.Contains(t, out.Result.Err, "clang exited 1")
	assert.Nil(t, out.Result.Update)
	require.NoError(t, out.Commit())

	cached, err := cache.Load(path)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), cached.Generation)
}

func TestOutcomeRollbackRestoresBaseline(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.cc")
	writeFile(t, path, "v1")
	parser := newFakeParser()
	cache := NewMemoryCache()
	ix := NewIndexer(parser, cache, nil)

	first := ix.Index(context.Background(), ipc.IndexJob{Path: path, Generation: 1})
	require.NoError(t, first.Commit())

	writeFile(t, path, "v2")
	second := ix.Index(context.Background(), ipc.IndexJob{Path: path, Generation: 2})
	require.NoError(t, second.Commit())
	require.NoError(t, second.Rollback())

	cached, err := cache.Load(path)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), cached.Generation)
}

func TestIndexerWithSQLiteCache(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.cc")
	writeFile(t, path, "v1")
	store, err := persistence.NewCacheStore(filepath.Join(dir, "cache.db"))
	require.NoError(t, err)
	defer store.Close()

	out := NewIndexer(newFakeParser(), store, nil).Index(context.Background(), ipc.IndexJob{Path: path, Generation: 4})
	require.NoError(t, out.Commit())

	// A fresh indexer over the same cache sees the stored baseline.
	parser := newFakeParser()
	out = NewIndexer(parser, store, nil).Index(context.Background(), ipc.IndexJob{Path: path, Generation: 5})
	assert.True(t, out.Result.Skipped)
	assert.Zero(t, parser.parses())
}
