package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexcodex/ccindex/framework/ast"
	"github.com/lexcodex/ccindex/framework/ast/asttest"
	"github.com/lexcodex/ccindex/framework/index"
	"github.com/lexcodex/ccindex/framework/ipc"
	"github.com/lexcodex/ccindex/internal/runtime"
	"github.com/lexcodex/ccindex/persistence"
)

// nameParser defines one function named by the file's content.
type nameParser struct{}

func (nameParser) Parse(_ context.Context, path string, args []string) (*ast.TranslationUnit, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ast.ParseError{Path: path, Err: err}
	}
	name := strings.TrimSpace(string(data))
	tu := asttest.TU(path, asttest.Def(ast.KindFunction, "c:@F@"+name+"#", name, asttest.At(path, 1, 6)))
	tu.Args = args
	return tu, nil
}

func projectConfig(t *testing.T) (runtime.Config, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "a.cc")
	require.NoError(t, os.WriteFile(path, []byte("alpha"), 0o644))
	cfg := runtime.DefaultConfig()
	cfg.Workspace = dir
	cfg.Workers = 1
	cfg.SegmentSize = 1 << 16
	cfg.Watch = false
	cfg.Parser = nameParser{}
	require.NoError(t, cfg.Normalize())
	return cfg, path
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 1, exitCode(fmt.Errorf("drain: %w", &ipc.ProtocolError{Reason: "unknown tag"})))
	assert.Equal(t, 1, exitCode(ipc.ErrHandshakeTimeout))
	assert.Equal(t, 1, exitCode(os.ErrNotExist))
}

func TestIndexOnceDumpsDatabase(t *testing.T) {
	cfg, _ := projectConfig(t)
	data, err := indexOnce(context.Background(), cfg, index.SerializeOptions{TestStable: true})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"short_name":"alpha"`)
}

func TestInspectPrintsAndDiffs(t *testing.T) {
	cfg, path := projectConfig(t)
	var out bytes.Buffer
	require.NoError(t, inspect(context.Background(), &out, cfg, nameParser{}, path, false))
	assert.Contains(t, out.String(), "alpha")

	// Nothing cached yet: everything is an addition.
	require.NoError(t, os.MkdirAll(filepath.Dir(cfg.CachePath), 0o755))
	out.Reset()
	require.NoError(t, inspect(context.Background(), &out, cfg, nameParser{}, path, true))
	assert.Contains(t, out.String(), "+++ current/a.cc")

	tu, err := nameParser{}.Parse(context.Background(), path, nil)
	require.NoError(t, err)
	file, err := index.Extract(tu, nil)
	require.NoError(t, err)
	store, err := persistence.NewCacheStore(cfg.CachePath)
	require.NoError(t, err)
	require.NoError(t, store.Save(file))
	require.NoError(t, store.Close())

	out.Reset()
	require.NoError(t, inspect(context.Background(), &out, cfg, nameParser{}, path, true))
	assert.Equal(t, "no changes since the cached index\n", out.String())

	require.NoError(t, os.WriteFile(path, []byte("beta"), 0o644))
	out.Reset()
	require.NoError(t, inspect(context.Background(), &out, cfg, nameParser{}, path, true))
	assert.Contains(t, out.String(), `-      "short_name": "alpha"`)
	assert.Contains(t, out.String(), `+      "short_name": "beta"`)
}

func TestRootCommandWiring(t *testing.T) {
	root := newRootCmd()
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "client", "index", "worker", "inspect"} {
		assert.True(t, names[want], want)
	}

	root.SetArgs([]string{"worker"})
	assert.ErrorContains(t, root.Execute(), "worker needs")
}
