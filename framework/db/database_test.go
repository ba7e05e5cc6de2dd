package db

import (
	"testing"

	"github.com/segmentio/encoding/json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexcodex/ccindex/framework/ast"
	"github.com/lexcodex/ccindex/framework/ast/asttest"
	"github.com/lexcodex/ccindex/framework/index"
)

// version indexes a.cc declaring g and h, where f's body calls the named
// functions. g is called on line 4 and h on line 5.
func version(t *testing.T, generation uint64, callees ...string) *index.File {
	t.Helper()
	decls := map[string]*ast.Cursor{
		"g": asttest.Decl(ast.KindFunction, "c:@F@g#", "g", asttest.At("a.cc", 1, 6)),
		"h": asttest.Decl(ast.KindFunction, "c:@F@h#", "h", asttest.At("a.cc", 2, 6)),
	}
	lines := map[string]int{"g": 4, "h": 5}
	calls := make([]*ast.Cursor, 0, len(callees))
	for _, name := range callees {
		calls = append(calls, asttest.Call(decls[name], asttest.At("a.cc", lines[name], 3)))
	}
	f := asttest.Def(ast.KindFunction, "c:@F@f#", "f", asttest.At("a.cc", 3, 6), asttest.Body(calls...))
	file, err := index.Extract(asttest.TU("a.cc", decls["g"], decls["h"], f), nil)
	require.NoError(t, err)
	file.Generation = generation
	return file
}

func funcID(t *testing.T, d *Database, usr string) index.FuncID {
	t.Helper()
	id, ok := d.Lookup(index.KindFunc, usr)
	require.True(t, ok, "%s missing", usr)
	return index.FuncID(id.Index)
}

func TestMergeIdempotence(t *testing.T) {
	f := version(t, 0, "g", "h")
	once := New()
	require.NoError(t, once.Apply(Diff(nil, f)))

	twice := New()
	require.NoError(t, twice.Apply(Diff(nil, f)))
	require.NoError(t, twice.Apply(Diff(nil, f)))

	a, err := once.Snapshot(index.SerializeOptions{})
	require.NoError(t, err)
	b, err := twice.Snapshot(index.SerializeOptions{})
	require.NoError(t, err)
	assert.JSONEq(t, string(a), string(b))
}

func TestMergeCorrectnessReplacesCallee(t *testing.T) {
	v1 := version(t, 1, "g")
	v2 := version(t, 2, "h")

	update := Diff(v1, v2)
	require.Len(t, update.FuncsCallees, 1)
	callees := update.FuncsCallees[0]
	assert.Equal(t, "c:@F@f#", callees.USR)
	require.Equal(t, []string{"a.cc"}, update.Files)
	locG := index.Encode(1, 4, 3, false)
	locH := index.Encode(1, 5, 3, false)
	assert.Equal(t, []CallEdge{{USR: "c:@F@g#", Loc: locG}}, callees.ToRemove)
	assert.Equal(t, []CallEdge{{USR: "c:@F@h#", Loc: locH}}, callees.ToAdd)

	d := New()
	require.NoError(t, d.Apply(Diff(nil, v1)))
	require.NoError(t, d.Apply(update))

	refs := d.Callees(funcID(t, d, "c:@F@f#"))
	require.Len(t, refs, 1)
	assert.Equal(t, "h", refs[0].Symbol.ShortName)
	assert.Equal(t, QueryLocation{Path: "a.cc", Line: 4, Column: 2}, refs[0].Location)
	assert.Empty(t, d.Callers(funcID(t, d, "c:@F@g#")))
	assert.Len(t, d.Callers(funcID(t, d, "c:@F@h#")), 1)
}

func TestDiffOfIdenticalFilesIsEmpty(t *testing.T) {
	v := version(t, 1, "g")
	assert.True(t, Diff(v, version(t, 1, "g")).Empty())
	assert.False(t, Diff(nil, v).Empty())
}

func TestApplyRejectsStaleGeneration(t *testing.T) {
	d := New()
	require.NoError(t, d.Apply(Diff(nil, version(t, 5, "g"))))

	err := d.Apply(Diff(nil, version(t, 4, "h")))
	require.ErrorIs(t, err, ErrStaleUpdate)
	_, ok := d.Lookup(index.KindFunc, "c:@F@h#")
	assert.True(t, ok, "h is declared by every version")
	assert.Len(t, d.Callees(funcID(t, d, "c:@F@f#")), 1)
	assert.Equal(t, "g", d.Callees(funcID(t, d, "c:@F@f#"))[0].Symbol.ShortName)

	// Same generation re-applies; unstamped always applies.
	require.NoError(t, d.Apply(Diff(nil, version(t, 5, "g"))))
	require.NoError(t, d.Apply(&IndexUpdate{Path: "a.cc"}))
	g, ok := d.Generation("a.cc")
	require.True(t, ok)
	assert.Equal(t, uint64(5), g)
}

func TestRemovingFileWithdrawsItsFacts(t *testing.T) {
	v := version(t, 1, "g")
	d := New()
	require.NoError(t, d.Apply(Diff(nil, v)))

	require.NoError(t, d.Apply(Diff(v, index.NewFile("a.cc", nil))))
	f := funcID(t, d, "c:@F@f#")
	_, ok := d.Definition(index.SymbolID{Kind: index.KindFunc, Index: int(f)})
	assert.False(t, ok)
	assert.Empty(t, d.Callees(f))
	assert.Empty(t, d.WorkspaceSymbols("f"))
}

func TestDefinitionFromOtherFileSurvives(t *testing.T) {
	header := asttest.Def(ast.KindFunction, "c:@F@k#", "k", asttest.At("k.h", 1, 6))
	a, err := index.Extract(asttest.TU("a.cc", header), nil)
	require.NoError(t, err)

	decl := asttest.Decl(ast.KindFunction, "c:@F@k#", "k", asttest.At("b.cc", 1, 6))
	b, err := index.Extract(asttest.TU("b.cc", decl), nil)
	require.NoError(t, err)

	d := New()
	require.NoError(t, d.Apply(Diff(nil, a)))
	require.NoError(t, d.Apply(Diff(nil, b)))
	// b.cc goes away; the definition came from a.cc's view of k.h.
	require.NoError(t, d.Apply(Diff(b, index.NewFile("b.cc", nil))))

	id, ok := d.Lookup(index.KindFunc, "c:@F@k#")
	require.True(t, ok)
	loc, ok := d.Definition(id)
	require.True(t, ok)
	assert.Equal(t, QueryLocation{Path: "k.h", Line: 0, Column: 5}, loc)
	assert.Empty(t, d.Declarations(id))
}

func TestUpdateTravelsAsJSON(t *testing.T) {
	v1 := version(t, 1, "g")
	v2 := version(t, 2, "h")
	data, err := json.Marshal(Diff(v1, v2))
	require.NoError(t, err)
	var decoded IndexUpdate
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, *Diff(v1, v2), decoded)
}

// includer indexes path as a translation unit that includes w.h, where
// Widget and its method draw are defined, and calls draw from main.
func includer(t *testing.T, path string) *index.File {
	t.Helper()
	draw := asttest.Def(ast.KindMethod, "c:@S@Widget@F@draw#", "draw", asttest.At("/src/w.h", 2, 8))
	widget := asttest.Def(ast.KindClass, "c:@S@Widget", "Widget", asttest.At("/src/w.h", 1, 7), draw)
	main := asttest.Def(ast.KindFunction, "c:@F@main_"+path+"#", "main", asttest.At(path, 3, 5),
		asttest.Body(asttest.Call(draw, asttest.At(path, 4, 3))))
	file, err := index.Extract(asttest.TU(path, widget, main), nil)
	require.NoError(t, err)
	return file
}

func TestSharedHeaderFactsOutliveOneIncluder(t *testing.T) {
	a := includer(t, "/src/a.cc")
	b := includer(t, "/src/b.cc")
	d := New()
	require.NoError(t, d.Apply(Diff(nil, a)))
	require.NoError(t, d.Apply(Diff(nil, b)))

	widget, ok := d.Lookup(index.KindType, "c:@S@Widget")
	require.True(t, ok)
	draw, ok := d.Lookup(index.KindFunc, "c:@S@Widget@F@draw#")
	require.True(t, ok)
	require.Len(t, d.Callers(index.FuncID(draw.Index)), 2)

	// a.cc is deleted; b.cc still includes w.h.
	require.NoError(t, d.Apply(Diff(a, index.NewFile("/src/a.cc", nil))))

	assert.Len(t, d.WorkspaceSymbols("Widget"), 2, "Widget and Widget::draw")
	loc, ok := d.Definition(widget)
	require.True(t, ok, "Widget is still defined through b.cc")
	assert.Equal(t, QueryLocation{Path: "/src/w.h", Line: 0, Column: 6}, loc)
	assert.Len(t, d.Outline("/src/w.h"), 2)
	assert.NotEmpty(t, d.Uses(widget))
	callers := d.Callers(index.FuncID(draw.Index))
	require.Len(t, callers, 1, "only a.cc's call site is withdrawn")
	assert.Equal(t, "/src/b.cc", callers[0].Location.Path)

	// Once the last includer goes, so do the header's facts.
	require.NoError(t, d.Apply(Diff(b, index.NewFile("/src/b.cc", nil))))
	assert.Empty(t, d.WorkspaceSymbols("Widget"))
	_, ok = d.Definition(widget)
	assert.False(t, ok)
	assert.Empty(t, d.Outline("/src/w.h"))
	assert.Empty(t, d.Uses(widget))
}

func TestSharedHeaderWithdrawalIsIdempotent(t *testing.T) {
	a := includer(t, "/src/a.cc")
	b := includer(t, "/src/b.cc")
	d := New()
	require.NoError(t, d.Apply(Diff(nil, a)))
	require.NoError(t, d.Apply(Diff(nil, a)))
	require.NoError(t, d.Apply(Diff(nil, b)))

	removal := Diff(a, index.NewFile("/src/a.cc", nil))
	require.NoError(t, d.Apply(removal))
	require.NoError(t, d.Apply(removal))

	widget, ok := d.Lookup(index.KindType, "c:@S@Widget")
	require.True(t, ok)
	_, ok = d.Definition(widget)
	assert.True(t, ok, "a repeated withdrawal from a.cc leaves b.cc's claim")
}

func TestDefinitionFallsBackToRemainingProvider(t *testing.T) {
	// Two files disagree on where k is defined; the survivor's wins back.
	x, err := index.Extract(asttest.TU("x.cc", asttest.Def(ast.KindFunction, "c:@F@k#", "k", asttest.At("x.cc", 1, 6))), nil)
	require.NoError(t, err)
	y, err := index.Extract(asttest.TU("y.cc", asttest.Def(ast.KindFunction, "c:@F@k#", "k", asttest.At("y.cc", 7, 6))), nil)
	require.NoError(t, err)

	d := New()
	require.NoError(t, d.Apply(Diff(nil, x)))
	require.NoError(t, d.Apply(Diff(nil, y)))
	id, ok := d.Lookup(index.KindFunc, "c:@F@k#")
	require.True(t, ok)
	loc, ok := d.Definition(id)
	require.True(t, ok)
	assert.Equal(t, "y.cc", loc.Path)

	require.NoError(t, d.Apply(Diff(y, index.NewFile("y.cc", nil))))
	loc, ok = d.Definition(id)
	require.True(t, ok)
	assert.Equal(t, QueryLocation{Path: "x.cc", Line: 0, Column: 5}, loc)
}
