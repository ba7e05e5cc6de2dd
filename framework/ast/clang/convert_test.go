package clang

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexcodex/ccindex/framework/ast"
	"github.com/lexcodex/ccindex/framework/index"
)

func loadShapes(t *testing.T) *ast.TranslationUnit {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", "shapes.json"))
	require.NoError(t, err)
	tu, err := Convert("/src/shapes.cc", data, Options{SystemPrefixes: DefaultSystemPrefixes})
	require.NoError(t, err)
	return tu
}

func findDecl(t *testing.T, root *ast.Cursor, kind ast.Kind, name string, definition bool) *ast.Cursor {
	t.Helper()
	c := ast.Find(root, func(c *ast.Cursor) bool {
		return c.Kind == kind && c.Name == name && c.Definition == definition
	})
	require.NotNil(t, c, "%s %s", kind, name)
	return c
}

func TestConvertShapes(t *testing.T) {
	tu := loadShapes(t)
	assert.Equal(t, "/src/shapes.cc", tu.Path)

	shape := findDecl(t, tu.Root, ast.KindClass, "Shape", true)
	assert.Equal(t, "c:@N@geo@S@Shape", shape.USR)
	assert.Equal(t, ast.Position{Path: "/src/shapes.cc", Line: 2, Column: 7}, shape.Pos)

	circle := findDecl(t, tu.Root, ast.KindClass, "Circle", true)
	require.Len(t, circle.Bases, 1)
	assert.Same(t, shape, circle.Bases[0].Canonical())

	inClass := findDecl(t, circle, ast.KindMethod, "paint", false)
	outOfLine := findDecl(t, tu.Root, ast.KindMethod, "paint", true)
	assert.Same(t, circle, outOfLine.Semantic)
	assert.Equal(t, inClass.USR, outOfLine.USR)
	assert.Equal(t, "c:@N@geo@S@Circle@F@paint#void ()", outOfLine.USR)
	assert.Equal(t, ast.Position{Path: "/src/shapes.cc", Line: 12, Column: 19}, outOfLine.Pos)

	basePaint := findDecl(t, shape, ast.KindMethod, "paint", false)
	require.Len(t, inClass.Overrides, 1)
	assert.Same(t, basePaint, inClass.Overrides[0])
	assert.Empty(t, basePaint.Overrides)

	param := findDecl(t, tu.Root, ast.KindParameter, "s", true)
	assert.Equal(t, "c:/src/shapes.cc@15:23@s", param.USR)
	require.NotNil(t, param.Type)
	assert.Same(t, shape, param.Type.Canonical())

	member := ast.Find(tu.Root, func(c *ast.Cursor) bool {
		return c.Kind == ast.KindMemberRef && c.Name == "paint"
	})
	require.NotNil(t, member)
	assert.Same(t, basePaint, member.Referenced)
	assert.Equal(t, ast.Position{Path: "/src/shapes.cc", Line: 16, Column: 6}, member.Pos)
}

func TestConvertSkipsImplicitDeclarations(t *testing.T) {
	tu := loadShapes(t)
	implicit := ast.Find(tu.Root, func(c *ast.Cursor) bool { return c.Name == "__int128_t" })
	assert.Nil(t, implicit)

	var circles int
	ast.VisitChildren(tu.Root, func(c, _ *ast.Cursor) ast.VisitResult {
		if c.Kind == ast.KindClass && c.Name == "Circle" {
			circles++
		}
		return ast.VisitRecurse
	})
	assert.Equal(t, 1, circles)
}

func TestConvertedShapesExtract(t *testing.T) {
	f, err := index.Extract(loadShapes(t), []string{"-std=c++17"})
	require.NoError(t, err)

	ids := f.IDs()
	draw, ok := ids.Lookup(index.KindFunc, "c:@F@draw#void (geo::Shape *)")
	require.True(t, ok)
	basePaint, ok := ids.Lookup(index.KindFunc, "c:@N@geo@S@Shape@F@paint#void ()")
	require.True(t, ok)
	override, ok := ids.Lookup(index.KindFunc, "c:@N@geo@S@Circle@F@paint#void ()")
	require.True(t, ok)

	d := f.Func(index.FuncID(draw.Index))
	require.Len(t, d.Callees, 1)
	assert.Equal(t, index.FuncID(basePaint.Index), d.Callees[0].ID)
	assert.Equal(t, "16:6", lineCol(d.Callees[0].Loc))

	o := f.Func(index.FuncID(override.Index))
	assert.Equal(t, "geo::Circle::paint", o.QualifiedName)
	assert.Equal(t, index.FuncID(basePaint.Index), o.Base)
	assert.Equal(t, "12:19", lineCol(o.Definition))
	require.Len(t, o.Declarations, 1)
	assert.Equal(t, "8:8", lineCol(o.Declarations[0]))

	radius, ok := ids.Lookup(index.KindVar, "c:@N@geo@S@Circle@FI@radius")
	require.True(t, ok)
	r := f.Var(index.VarID(radius.Index))
	assert.Contains(t, lineCols(r.Uses), "13:3")
	assert.True(t, r.DeclaringType.Valid())
}

func TestConvertTemplatesMacrosAndSystemHeaders(t *testing.T) {
	tu, err := Convert("/src/box.cc", []byte(boxDump), Options{SystemPrefixes: []string{"/usr/include"}})
	require.NoError(t, err)

	errnoVar := findDecl(t, tu.Root, ast.KindVariable, "last_error", false)
	assert.True(t, errnoVar.Pos.System)
	assert.Equal(t, "/usr/include/errors.h", errnoVar.Pos.Path)

	box := findDecl(t, tu.Root, ast.KindClassTemplate, "Box", true)
	assert.Equal(t, "c:@ST@Box", box.USR)
	value := findDecl(t, box, ast.KindField, "value", true)
	assert.Equal(t, "c:@ST@Box@FI@value", value.USR)

	b := findDecl(t, tu.Root, ast.KindVariable, "b", true)
	require.NotNil(t, b.Type)
	assert.Same(t, box, b.Type.Canonical())
	assert.False(t, b.Pos.System)

	// The member reference on the instantiation resolves to the template.
	ref := ast.Find(tu.Root, func(c *ast.Cursor) bool { return c.Kind == ast.KindMemberRef })
	require.NotNil(t, ref)
	assert.Same(t, value, ref.Referenced)

	m := findDecl(t, tu.Root, ast.KindVariable, "m", true)
	assert.Equal(t, ast.Position{Path: "/src/box.cc", Line: 4, Column: 1}, m.Pos)
}

func TestConvertRejectsBadDumps(t *testing.T) {
	_, err := Convert("a.cc", []byte(`{"kind": "FunctionDecl"}`), Options{})
	assert.ErrorIs(t, err, ErrNotTranslationUnit)

	_, err = Convert("a.cc", []byte(`{"kind":`), Options{})
	assert.Error(t, err)
}

func TestSplitType(t *testing.T) {
	tests := []struct {
		spelling string
		name     string
		layers   int
	}{
		{"int", "int", 0},
		{"const geo::Shape &", "geo::Shape", 1},
		{"struct Node **", "Node", 2},
		{"Box<int>", "Box", 0},
		{"std::vector<Foo *> &&", "std::vector", 1},
		{"Foo [4]", "Foo", 0},
		{"void (*)(int)", "void", 0},
		{"Shape *const", "Shape", 1},
	}
	for _, tt := range tests {
		t.Run(tt.spelling, func(t *testing.T) {
			name, layers := splitType(tt.spelling)
			assert.Equal(t, tt.name, name)
			assert.Equal(t, tt.layers, layers)
		})
	}
}

func TestSanitizeArgs(t *testing.T) {
	args := []string{"/usr/bin/clang++", "-std=c++17", "-Iinclude", "-c", "-o", "a.o", "-MD", "-MF", "a.d", "src/a.cc", "-isystem", "/opt/sdk"}
	got := SanitizeArgs(args, "src/a.cc")
	assert.Equal(t, []string{"-std=c++17", "-Iinclude", "-isystem", "/opt/sdk"}, got)
	assert.Equal(t, []string{"/opt/sdk"}, SystemDirs(got))
	assert.Equal(t, "/build", WorkingDir([]string{"-working-directory=/build"}))
}

func lineCol(l index.Location) string {
	return fmt.Sprintf("%d:%d", l.Line(), l.Column())
}

func lineCols(ls []index.Location) []string {
	out := make([]string, 0, len(ls))
	for _, l := range ls {
		out = append(out, lineCol(l))
	}
	return out
}

const boxDump = `{
  "id": "0x1", "kind": "TranslationUnitDecl", "loc": {}, "range": {"begin": {}, "end": {}},
  "inner": [
    {"id": "0x5", "kind": "VarDecl",
     "loc": {"offset": 90, "file": "/usr/include/errors.h", "line": 10, "col": 12, "tokLen": 10},
     "range": {"begin": {"offset": 79, "col": 1, "tokLen": 6}, "end": {"offset": 90, "col": 12, "tokLen": 10}},
     "name": "last_error", "type": {"qualType": "int"}, "storageClass": "extern"},
    {"id": "0x50", "kind": "ClassTemplateDecl",
     "loc": {"offset": 29, "file": "/src/box.cc", "line": 1, "col": 30, "tokLen": 3},
     "range": {"begin": {"offset": 0, "col": 1, "tokLen": 8}, "end": {"offset": 45, "col": 46, "tokLen": 1}},
     "name": "Box",
     "inner": [
       {"id": "0x51", "kind": "TemplateTypeParmDecl",
        "loc": {"offset": 19, "col": 20, "tokLen": 1},
        "range": {"begin": {"offset": 10, "col": 11, "tokLen": 8}, "end": {"offset": 19, "col": 20, "tokLen": 1}},
        "name": "T", "tagUsed": "typename", "depth": 0, "index": 0},
       {"id": "0x52", "kind": "CXXRecordDecl",
        "loc": {"offset": 29, "col": 30, "tokLen": 3},
        "range": {"begin": {"offset": 22, "col": 23, "tokLen": 6}, "end": {"offset": 45, "col": 46, "tokLen": 1}},
        "name": "Box", "tagUsed": "struct", "completeDefinition": true,
        "inner": [
          {"id": "0x53", "kind": "CXXRecordDecl",
           "loc": {"offset": 29, "col": 30, "tokLen": 3},
           "range": {"begin": {"offset": 22, "col": 23, "tokLen": 6}, "end": {"offset": 29, "col": 30, "tokLen": 3}},
           "isImplicit": true, "name": "Box", "tagUsed": "struct"},
          {"id": "0x54", "kind": "FieldDecl",
           "loc": {"offset": 37, "col": 38, "tokLen": 5},
           "range": {"begin": {"offset": 35, "col": 36, "tokLen": 1}, "end": {"offset": 37, "col": 38, "tokLen": 5}},
           "name": "value", "type": {"qualType": "T"}}
        ]},
       {"id": "0x60", "kind": "ClassTemplateSpecializationDecl",
        "loc": {"offset": 29, "col": 30, "tokLen": 3},
        "range": {"begin": {"offset": 22, "col": 23, "tokLen": 6}, "end": {"offset": 45, "col": 46, "tokLen": 1}},
        "name": "Box", "tagUsed": "struct", "completeDefinition": true,
        "inner": [
          {"kind": "TemplateArgument", "type": {"qualType": "int"}},
          {"id": "0x61", "kind": "FieldDecl",
           "loc": {"offset": 37, "col": 38, "tokLen": 5},
           "range": {"begin": {"offset": 35, "col": 36, "tokLen": 1}, "end": {"offset": 37, "col": 38, "tokLen": 5}},
           "name": "value", "type": {"qualType": "int"}}
        ]}
     ]},
    {"id": "0x70", "kind": "VarDecl",
     "loc": {"offset": 56, "line": 2, "col": 10, "tokLen": 1},
     "range": {"begin": {"offset": 47, "col": 1, "tokLen": 3}, "end": {"offset": 56, "col": 10, "tokLen": 1}},
     "name": "b", "type": {"qualType": "Box<int>"}},
    {"id": "0x80", "kind": "FunctionDecl",
     "loc": {"offset": 63, "line": 3, "col": 5, "tokLen": 4},
     "range": {"begin": {"offset": 59, "col": 1, "tokLen": 3}, "end": {"offset": 85, "col": 27, "tokLen": 1}},
     "name": "peek", "type": {"qualType": "int ()"},
     "inner": [
       {"id": "0x81", "kind": "CompoundStmt",
        "range": {"begin": {"offset": 70, "col": 12, "tokLen": 1}, "end": {"offset": 85, "col": 27, "tokLen": 1}},
        "inner": [
          {"id": "0x82", "kind": "ReturnStmt",
           "range": {"begin": {"offset": 72, "col": 14, "tokLen": 6}, "end": {"offset": 81, "col": 23, "tokLen": 5}},
           "inner": [
             {"id": "0x83", "kind": "MemberExpr",
              "range": {"begin": {"offset": 79, "col": 21, "tokLen": 1}, "end": {"offset": 81, "col": 23, "tokLen": 5}},
              "name": "value", "isArrow": false, "referencedMemberDecl": "0x61",
              "inner": [
                {"id": "0x84", "kind": "DeclRefExpr",
                 "range": {"begin": {"offset": 79, "col": 21, "tokLen": 1}, "end": {"offset": 79, "col": 21, "tokLen": 1}},
                 "referencedDecl": {"id": "0x70", "kind": "VarDecl", "name": "b", "type": {"qualType": "Box<int>"}}}
              ]}
           ]}
        ]}
     ]},
    {"id": "0x90", "kind": "VarDecl",
     "loc": {"spellingLoc": {"offset": 95, "line": 3, "col": 40, "tokLen": 1},
             "expansionLoc": {"offset": 100, "line": 4, "col": 1, "tokLen": 7}},
     "range": {"begin": {"spellingLoc": {"offset": 95, "line": 3, "col": 40, "tokLen": 1},
                         "expansionLoc": {"offset": 100, "line": 4, "col": 1, "tokLen": 7}},
               "end": {"spellingLoc": {"offset": 95, "line": 3, "col": 40, "tokLen": 1},
                       "expansionLoc": {"offset": 100, "line": 4, "col": 1, "tokLen": 7}}},
     "name": "m", "type": {"qualType": "int"}}
  ]
}`
