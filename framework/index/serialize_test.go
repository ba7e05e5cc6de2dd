package index

import (
	"testing"

	"github.com/segmentio/encoding/json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexcodex/ccindex/framework/ast"
	"github.com/lexcodex/ccindex/framework/ast/asttest"
)

func sampleFile(t *testing.T, path string) *File {
	t.Helper()
	g := asttest.Decl(ast.KindFunction, "c:@F@g#", "g", asttest.At(path, 1, 6))
	hidden := asttest.Decl(ast.KindFunction, "c:@F@sys#", "sys", asttest.SystemAt("/usr/include/s.h", 3, 6))
	method := asttest.Decl(ast.KindMethod, "c:@S@Box@F@open#", "open", asttest.At(path, 4, 8))
	box := asttest.Def(ast.KindStruct, "c:@S@Box", "Box", asttest.At(path, 3, 8), method)
	f := asttest.Def(ast.KindFunction, "c:@F@f#", "f", asttest.At(path, 6, 6),
		asttest.Body(asttest.Call(g, asttest.At(path, 6, 12))))
	file, err := Extract(asttest.TU(path, hidden, g, box, f), []string{"-std=c++17"})
	require.NoError(t, err)
	file.Generation = 4
	file.ContentHash = "abc"
	return file
}

func TestSerializeTestStable(t *testing.T) {
	data, err := Serialize(sampleFile(t, "a.cc"), SerializeOptions{TestStable: true})
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.NotContains(t, doc, "path")
	assert.NotContains(t, doc, "generation")
	assert.NotContains(t, string(data), "usr")
	assert.NotContains(t, string(data), "sys")

	funcs := doc["funcs"].([]any)
	require.Len(t, funcs, 3)
	f := funcs[2].(map[string]any)
	assert.Equal(t, "f", f["short_name"])
	assert.Equal(t, "a.cc:6:6", f["definition"])
	assert.Equal(t, []any{"1@a.cc:6:12"}, f["callees"])

	types := doc["types"].([]any)
	require.Len(t, types, 1)
	box := types[0].(map[string]any)
	assert.EqualValues(t, 1, box["id"])
	assert.Equal(t, []any{float64(2)}, box["funcs"])
}

func TestSerializeRoundTrip(t *testing.T) {
	// Paths containing ':' must survive location parsing.
	original := sampleFile(t, "C:/src/a.cc")
	data, err := Serialize(original, SerializeOptions{Indent: true})
	require.NoError(t, err)

	loaded, err := Deserialize(data)
	require.NoError(t, err)
	assert.Equal(t, original.Path, loaded.Path)
	assert.Equal(t, original.Args, loaded.Args)
	assert.Equal(t, uint64(4), loaded.Generation)
	assert.Equal(t, "abc", loaded.ContentHash)
	require.Len(t, loaded.Funcs, len(original.Funcs))
	assert.True(t, loaded.Funcs[0].System)

	again, err := Serialize(loaded, SerializeOptions{Indent: true})
	require.NoError(t, err)
	assert.Equal(t, string(data), string(again))

	id, ok := loaded.IDs().Lookup(KindFunc, "c:@F@f#")
	require.True(t, ok)
	fn := loaded.Func(FuncID(id.Index))
	require.Len(t, fn.Callees, 1)
	assert.Equal(t, "C:/src/a.cc", loaded.FilePath(fn.Callees[0].Loc.FileID()))
	assert.Equal(t, 12, fn.Callees[0].Loc.Column())
}

func TestDeserializeRejectsBadDocuments(t *testing.T) {
	_, err := Deserialize([]byte(`{"version":1,"types":[],"funcs":[],"vars":[]}`))
	require.ErrorIs(t, err, ErrFormatVersion)

	_, err = Deserialize([]byte(`not json`))
	require.Error(t, err)

	bad := `{"version":3,"types":[],"funcs":[{"id":0,"usr":"u","short_name":"f","qualified_name":"f","definition":"nowhere"}],"vars":[]}`
	_, err = Deserialize([]byte(bad))
	require.ErrorContains(t, err, "malformed location")

	dangling := `{"version":3,"types":[],"funcs":[{"id":0,"usr":"u","short_name":"f","qualified_name":"f","derived":[9]}],"vars":[]}`
	_, err = Deserialize([]byte(dangling))
	require.ErrorContains(t, err, "dangling")
}
