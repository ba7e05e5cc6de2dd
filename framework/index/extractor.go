package index

import (
	"errors"
	"fmt"

	"github.com/lexcodex/ccindex/framework/ast"
)

// ErrNoTranslationUnit is returned when Extract is given nothing to walk.
var ErrNoTranslationUnit = errors.New("index: translation unit has no root cursor")

// Extract walks a parsed translation unit and builds its per-file index.
// Cursors without an identity string are dropped; the rest of the file is
// still indexed.
func Extract(tu *ast.TranslationUnit, args []string) (*File, error) {
	if tu == nil || tu.Root == nil {
		return nil, ErrNoTranslationUnit
	}
	if tu.Path == "" {
		return nil, fmt.Errorf("%w: empty path", ErrNoTranslationUnit)
	}
	if args == nil {
		args = tu.Args
	}
	e := &extractor{
		file:  NewFile(tu.Path, args),
		names: newQualifier(),
	}
	e.ids = e.file.IDs()
	ast.VisitChildren(tu.Root, e.visit)
	return e.file, nil
}

type extractor struct {
	file  *File
	ids   *IDCache
	names *qualifier
}

func (e *extractor) visit(c, _ *ast.Cursor) ast.VisitResult {
	switch {
	case c.Implicit:
	case c.Kind.IsDeclaration():
		e.onDeclaration(c)
	case c.Kind.IsReference():
		e.onReference(c)
	}
	return ast.VisitRecurse
}

func (e *extractor) loc(p ast.Position, interesting bool) Location {
	return e.file.Location(p.Path, p.Line, p.Column, interesting)
}

// mark keeps the System flag of a record: a fresh record inherits it from the
// position that introduced it, and any non-system sighting clears it.
func mark(d *Def, fresh, system bool) {
	if fresh {
		d.System = system
	} else if !system {
		d.System = false
	}
}

func (e *extractor) typeID(usr string, system bool) TypeID {
	_, seen := e.ids.Lookup(KindType, usr)
	id := e.ids.ToTypeID(usr)
	if id.Valid() {
		mark(&e.file.Type(id).Def, !seen, system)
	}
	return id
}

func (e *extractor) funcID(usr string, system bool) FuncID {
	_, seen := e.ids.Lookup(KindFunc, usr)
	id := e.ids.ToFuncID(usr)
	if id.Valid() {
		mark(&e.file.Func(id).Def, !seen, system)
	}
	return id
}

func (e *extractor) varID(usr string, system bool) VarID {
	_, seen := e.ids.Lookup(KindVar, usr)
	id := e.ids.ToVarID(usr)
	if id.Valid() {
		mark(&e.file.Var(id).Def, !seen, system)
	}
	return id
}

// name fills the display names of a record that was only referenced so far.
func (e *extractor) name(d *Def, c *ast.Cursor) {
	if d.ShortName == "" && d.QualifiedName == "" {
		d.ShortName = ShortName(c)
		d.QualifiedName = e.names.Qualified(c)
	}
}

func (e *extractor) onDeclaration(c *ast.Cursor) {
	if c.USR == "" {
		return
	}
	switch c.Kind.Category() {
	case ast.CategoryNamespace:
		// Namespaces only contribute to qualification.
	case ast.CategoryType:
		e.declareType(c)
	case ast.CategoryAlias:
		e.declareAlias(c)
	case ast.CategoryFunction:
		e.declareFunc(c)
	case ast.CategoryVariable:
		e.declareVar(c)
	case ast.CategoryNone:
	}
}

// declare records the names and the declaration or definition location of c.
// A second differing definition is kept as a declaration.
func (e *extractor) declare(d *Def, c *ast.Cursor) {
	d.ShortName = ShortName(c)
	d.QualifiedName = e.names.Qualified(c)
	loc := e.loc(c.Pos, false)
	if !loc.Valid() {
		return
	}
	switch {
	case c.Definition && !d.Definition.Valid():
		d.Definition = loc
	case c.Definition && d.Definition.SameAs(loc):
	default:
		d.Declarations = AddUsage(d.Declarations, loc)
	}
	d.Uses = AddUsage(d.Uses, loc)
}

// owner returns the type that declares c as a member, if any.
func (e *extractor) owner(c *ast.Cursor, system bool) TypeID {
	s := semanticScope(c)
	if s == nil || s.Kind.Category() != ast.CategoryType || s.USR == "" {
		return NoType
	}
	id := e.typeID(s.USR, system)
	e.name(&e.file.Type(id).Def, s)
	return id
}

// resolveType maps a spelled type to a type id via its canonical declaration.
func (e *extractor) resolveType(t *ast.TypeRef, system bool) TypeID {
	decl := t.Canonical()
	if decl == nil || decl.USR == "" {
		return NoType
	}
	id := e.typeID(decl.USR, system)
	if id.Valid() {
		e.name(&e.file.Type(id).Def, decl)
	}
	return id
}

func (e *extractor) declareType(c *ast.Cursor) {
	id := e.typeID(c.USR, c.Pos.System)
	e.declare(&e.file.Type(id).Def, c)

	if parent := e.owner(c, c.Pos.System); parent.Valid() && parent != id {
		p := e.file.Type(parent)
		p.Types = AddUnique(p.Types, id)
	}

	for _, base := range c.Bases {
		if base == nil {
			continue
		}
		pos := base.Pos
		if !pos.Valid() {
			pos = c.Pos
		}
		parent := e.resolveType(base, pos.System)
		if !parent.Valid() || parent == id {
			continue
		}
		child := e.file.Type(id)
		child.Parents = AddUnique(child.Parents, parent)
		p := e.file.Type(parent)
		p.Derived = AddUnique(p.Derived, id)
		p.Uses = AddUsage(p.Uses, e.loc(pos, true))
	}
}

func (e *extractor) declareAlias(c *ast.Cursor) {
	id := e.typeID(c.USR, c.Pos.System)
	e.declare(&e.file.Type(id).Def, c)

	if parent := e.owner(c, c.Pos.System); parent.Valid() {
		p := e.file.Type(parent)
		p.Types = AddUnique(p.Types, id)
	}
	if c.Type == nil {
		return
	}
	target := e.resolveType(c.Type, c.Pos.System)
	if !target.Valid() || target == id {
		return
	}
	e.file.Type(id).AliasOf = target
	if c.Type.Pos.Valid() {
		t := e.file.Type(target)
		t.Uses = AddUsage(t.Uses, e.loc(c.Type.Pos, true))
	}
}

func (e *extractor) declareFunc(c *ast.Cursor) {
	id := e.funcID(c.USR, c.Pos.System)
	e.declare(&e.file.Func(id).Def, c)

	if parent := e.owner(c, c.Pos.System); parent.Valid() {
		e.file.Func(id).DeclaringType = parent
		p := e.file.Type(parent)
		p.Funcs = AddUnique(p.Funcs, id)
	}

	for _, o := range c.Overrides {
		if o == nil || o.USR == "" {
			continue
		}
		base := e.funcID(o.USR, o.Pos.System)
		if base == id {
			continue
		}
		e.name(&e.file.Func(base).Def, o)
		fn := e.file.Func(id)
		if !fn.Base.Valid() {
			fn.Base = base
		}
		b := e.file.Func(base)
		b.Derived = AddUnique(b.Derived, id)
	}
}

func (e *extractor) declareVar(c *ast.Cursor) {
	id := e.varID(c.USR, c.Pos.System)
	e.declare(&e.file.Var(id).Def, c)

	if encl := c.EnclosingDeclaration(); encl != nil && encl.Kind.IsCallable() && encl.USR != "" {
		fid := e.funcID(encl.USR, encl.Pos.System)
		e.name(&e.file.Func(fid).Def, encl)
		fn := e.file.Func(fid)
		fn.Locals = AddUnique(fn.Locals, id)
	} else if parent := e.owner(c, c.Pos.System); parent.Valid() {
		e.file.Var(id).DeclaringType = parent
		p := e.file.Type(parent)
		p.Vars = AddUnique(p.Vars, id)
	}

	if c.Type == nil {
		return
	}
	target := e.resolveType(c.Type, c.Pos.System)
	if !target.Valid() {
		return
	}
	e.file.Var(id).VariableType = target
	pos := c.Type.Pos
	if !pos.Valid() {
		return
	}
	t := e.file.Type(target)
	t.Uses = AddUsage(t.Uses, e.loc(pos, true))
}

func (e *extractor) onReference(c *ast.Cursor) {
	ref := c.Referenced
	if ref == nil || ref.USR == "" {
		return
	}
	loc := e.loc(c.Pos, false)
	if !loc.Valid() {
		return
	}
	system := c.Pos.System

	switch ref.Kind.Category() {
	case ast.CategoryFunction:
		e.referenceFunc(c, ref, loc, system)
	case ast.CategoryType, ast.CategoryAlias:
		decl := ref
		for decl.Template != nil && decl.Template != decl {
			decl = decl.Template
		}
		if decl.USR == "" {
			return
		}
		id := e.typeID(decl.USR, system)
		t := e.file.Type(id)
		e.name(&t.Def, decl)
		t.Uses = AddUsage(t.Uses, loc.WithInteresting(true))
	case ast.CategoryVariable:
		id := e.varID(ref.USR, system)
		v := e.file.Var(id)
		e.name(&v.Def, ref)
		v.Uses = AddUsage(v.Uses, loc)
	case ast.CategoryNamespace, ast.CategoryNone:
	}
}

func (e *extractor) referenceFunc(c, ref *ast.Cursor, loc Location, system bool) {
	callee := e.funcID(ref.USR, system)
	e.name(&e.file.Func(callee).Def, ref)
	fn := e.file.Func(callee)
	fn.Uses = AddUsage(fn.Uses, loc)

	container := c.EnclosingDeclaration()
	if container != nil && container.Kind.IsCallable() && container.USR != "" {
		caller := e.funcID(container.USR, container.Pos.System)
		e.name(&e.file.Func(caller).Def, container)
		from := e.file.Func(caller)
		from.Callees = AddFuncRef(from.Callees, FuncRef{ID: callee, Loc: loc})
		to := e.file.Func(callee)
		to.Callers = AddFuncRef(to.Callers, FuncRef{ID: caller, Loc: loc})
	}

	if ref.Kind != ast.KindConstructor && ref.Kind != ast.KindDestructor {
		return
	}
	if container != nil && loc.SameAs(e.loc(container.Pos, false)) {
		return
	}
	if parent := e.owner(ref, system); parent.Valid() {
		t := e.file.Type(parent)
		t.Uses = AddUsage(t.Uses, loc)
	}
}
