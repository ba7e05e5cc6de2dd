// Package asttest builds cursor trees by hand so index and merge code can be
// tested without a compiler.
package asttest

import "github.com/lexcodex/ccindex/framework/ast"

// At returns a user-code position.
func At(path string, line, column int) ast.Position {
	return ast.Position{Path: path, Line: line, Column: column}
}

// SystemAt returns a position inside a system header.
func SystemAt(path string, line, column int) ast.Position {
	return ast.Position{Path: path, Line: line, Column: column, System: true}
}

// TU wraps children in a translation unit for path.
func TU(path string, children ...*ast.Cursor) *ast.TranslationUnit {
	root := &ast.Cursor{Kind: ast.KindTranslationUnit, Name: path, Pos: ast.Position{Path: path}}
	root.Add(children...)
	return &ast.TranslationUnit{Path: path, Root: root}
}

// Decl returns a declaration cursor.
func Decl(kind ast.Kind, usr, name string, pos ast.Position, children ...*ast.Cursor) *ast.Cursor {
	c := &ast.Cursor{Kind: kind, USR: usr, Name: name, Pos: pos}
	return c.Add(children...)
}

// Def returns a defining declaration cursor.
func Def(kind ast.Kind, usr, name string, pos ast.Position, children ...*ast.Cursor) *ast.Cursor {
	c := Decl(kind, usr, name, pos, children...)
	c.Definition = true
	return c
}

// Namespace returns a namespace cursor. An empty name is anonymous.
func Namespace(usr, name string, pos ast.Position, children ...*ast.Cursor) *ast.Cursor {
	return Def(ast.KindNamespace, usr, name, pos, children...)
}

// Ref returns a reference to target.
func Ref(kind ast.Kind, target *ast.Cursor, pos ast.Position) *ast.Cursor {
	return &ast.Cursor{Kind: kind, Name: target.Name, Pos: pos, Referenced: target}
}

// Call returns a call expression whose callee reference sits at pos.
func Call(target *ast.Cursor, pos ast.Position) *ast.Cursor {
	call := &ast.Cursor{Kind: ast.KindUnexposed, Pos: pos}
	return call.Add(Ref(ast.KindDeclRef, target, pos))
}

// Body returns a compound statement holding children.
func Body(children ...*ast.Cursor) *ast.Cursor {
	body := &ast.Cursor{Kind: ast.KindUnexposed}
	return body.Add(children...)
}

// Type returns a spelled type naming decl. A nil decl is a fundamental type.
func Type(spelling string, decl *ast.Cursor, pos ast.Position) *ast.TypeRef {
	return &ast.TypeRef{Spelling: spelling, Decl: decl, Pos: pos}
}

// PointerTo wraps t in a pointer layer.
func PointerTo(t *ast.TypeRef) *ast.TypeRef {
	return &ast.TypeRef{Spelling: t.Spelling + " *", Pos: t.Pos, Pointee: t}
}

// OutOfLine makes c semantically belong to scope while it stays lexically
// where it was added.
func OutOfLine(c, scope *ast.Cursor) *ast.Cursor {
	c.Semantic = scope
	return c
}
