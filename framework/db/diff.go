package db

import "github.com/lexcodex/ccindex/framework/index"

// Diff computes the update that replaces the facts previous contributed with
// the facts of current. A nil previous means the file was never indexed and
// yields only additions. System-only records take no part in the diff.
func Diff(previous, current *index.File) *IndexUpdate {
	if previous == nil {
		previous = index.NewFile(current.Path, nil)
	}
	u := &IndexUpdate{Path: current.Path, Generation: current.Generation}
	d := &differ{
		u:    u,
		ids:  make(map[string]int),
		prev: previous,
		cur:  current,
	}
	d.types()
	d.funcs()
	d.vars()
	return u
}

type differ struct {
	u         *IndexUpdate
	ids       map[string]int
	prev, cur *index.File
}

func live(d *index.Def) bool { return d != nil && d.USR != "" && !d.System }

// loc moves l from f's file table into the update's.
func (d *differ) loc(f *index.File, l index.Location) index.Location {
	if !l.Valid() {
		return index.NoLocation
	}
	path := f.FilePath(l.FileID())
	if path == "" {
		return index.NoLocation
	}
	return l.WithFile(d.u.fileID(path, d.ids))
}

func (d *differ) locs(f *index.File, in []index.Location) []index.Location {
	out := make([]index.Location, 0, len(in))
	for _, l := range in {
		if l = d.loc(f, l); l.Valid() {
			out = append(out, l)
		}
	}
	return out
}

func typeUSR(f *index.File, id index.TypeID) string {
	if !id.Valid() || int(id) >= len(f.Types) || !live(&f.Types[id].Def) {
		return ""
	}
	return f.Types[id].USR
}

func funcUSR(f *index.File, id index.FuncID) string {
	if !id.Valid() || int(id) >= len(f.Funcs) || !live(&f.Funcs[id].Def) {
		return ""
	}
	return f.Funcs[id].USR
}

func varUSR(f *index.File, id index.VarID) string {
	if !id.Valid() || int(id) >= len(f.Vars) || !live(&f.Vars[id].Def) {
		return ""
	}
	return f.Vars[id].USR
}

func usrs[T any](f *index.File, in []T, name func(*index.File, T) string) []string {
	out := make([]string, 0, len(in))
	for _, id := range in {
		if usr := name(f, id); usr != "" {
			out = append(out, usr)
		}
	}
	return out
}

func (d *differ) edges(f *index.File, in []index.FuncRef) []CallEdge {
	out := make([]CallEdge, 0, len(in))
	for _, r := range in {
		usr := funcUSR(f, r.ID)
		loc := d.loc(f, r.Loc)
		if usr == "" || !loc.Valid() {
			continue
		}
		out = append(out, CallEdge{USR: usr, Loc: loc})
	}
	return out
}

// setDiff returns the elements only in cur and the elements only in prev.
func setDiff[T comparable](prev, cur []T) (add, remove []T) {
	inPrev := make(map[T]struct{}, len(prev))
	for _, v := range prev {
		inPrev[v] = struct{}{}
	}
	inCur := make(map[T]struct{}, len(cur))
	for _, v := range cur {
		inCur[v] = struct{}{}
		if _, ok := inPrev[v]; !ok {
			add = append(add, v)
		}
	}
	for _, v := range prev {
		if _, ok := inCur[v]; !ok {
			remove = append(remove, v)
		}
	}
	return add, remove
}

func field[T comparable](list []MergeableUpdate[T], usr string, prev, cur []T) []MergeableUpdate[T] {
	add, remove := setDiff(prev, cur)
	if len(add) == 0 && len(remove) == 0 {
		return list
	}
	return append(list, MergeableUpdate[T]{USR: usr, ToAdd: add, ToRemove: remove})
}

// scalar emits the DefUpdate for next and withdraws a definition that moved
// away. prev is the same symbol as described by the previous index.
func scalar(removed []RemovedDef, defs []DefUpdate, prev, next *DefUpdate) ([]RemovedDef, []DefUpdate) {
	if prev != nil && prev.Definition.Valid() && (next == nil || !prev.Definition.SameAs(next.Definition)) {
		removed = append(removed, RemovedDef{USR: prev.USR, Definition: prev.Definition})
	}
	if next == nil || (prev != nil && *prev == *next) {
		return removed, defs
	}
	return removed, append(defs, *next)
}

func (d *differ) defUpdate(f *index.File, def *index.Def) DefUpdate {
	return DefUpdate{
		USR:           def.USR,
		Declared:      def.HasDeclInfo(),
		ShortName:     def.ShortName,
		QualifiedName: def.QualifiedName,
		Definition:    d.loc(f, def.Definition),
	}
}

func (d *differ) types() {
	prev := make(map[string]*index.TypeDef, len(d.prev.Types))
	for _, t := range d.prev.Types {
		if live(&t.Def) {
			prev[t.USR] = t
		}
	}
	seen := make(map[string]bool, len(d.cur.Types))
	for _, t := range d.cur.Types {
		if !live(&t.Def) {
			continue
		}
		seen[t.USR] = true
		d.typeFields(prev[t.USR], t)
	}
	for _, t := range d.prev.Types {
		if live(&t.Def) && !seen[t.USR] {
			d.typeFields(t, nil)
		}
	}
}

func (d *differ) typeScalar(f *index.File, t *index.TypeDef) *DefUpdate {
	if t == nil {
		return nil
	}
	s := d.defUpdate(f, &t.Def)
	s.AliasOf = typeUSR(f, t.AliasOf)
	return &s
}

func (d *differ) typeFields(p, c *index.TypeDef) {
	u := d.u
	var prevScalar, nextScalar *DefUpdate
	usr := ""
	if p != nil {
		usr = p.USR
		prevScalar = d.typeScalar(d.prev, p)
	} else {
		p = &index.TypeDef{}
	}
	if c != nil {
		usr = c.USR
		nextScalar = d.typeScalar(d.cur, c)
	} else {
		c = &index.TypeDef{}
	}
	u.TypesRemoved, u.TypesDef = scalar(u.TypesRemoved, u.TypesDef, prevScalar, nextScalar)

	u.TypesDeclarations = field(u.TypesDeclarations, usr, d.locs(d.prev, p.Declarations), d.locs(d.cur, c.Declarations))
	u.TypesUses = field(u.TypesUses, usr, d.locs(d.prev, p.Uses), d.locs(d.cur, c.Uses))
	u.TypesParents = field(u.TypesParents, usr, usrs(d.prev, p.Parents, typeUSR), usrs(d.cur, c.Parents, typeUSR))
	u.TypesDerived = field(u.TypesDerived, usr, usrs(d.prev, p.Derived, typeUSR), usrs(d.cur, c.Derived, typeUSR))
	u.TypesTypes = field(u.TypesTypes, usr, usrs(d.prev, p.Types, typeUSR), usrs(d.cur, c.Types, typeUSR))
	u.TypesFuncs = field(u.TypesFuncs, usr, usrs(d.prev, p.Funcs, funcUSR), usrs(d.cur, c.Funcs, funcUSR))
	u.TypesVars = field(u.TypesVars, usr, usrs(d.prev, p.Vars, varUSR), usrs(d.cur, c.Vars, varUSR))
}

func (d *differ) funcs() {
	prev := make(map[string]*index.FuncDef, len(d.prev.Funcs))
	for _, fn := range d.prev.Funcs {
		if live(&fn.Def) {
			prev[fn.USR] = fn
		}
	}
	seen := make(map[string]bool, len(d.cur.Funcs))
	for _, fn := range d.cur.Funcs {
		if !live(&fn.Def) {
			continue
		}
		seen[fn.USR] = true
		d.funcFields(prev[fn.USR], fn)
	}
	for _, fn := range d.prev.Funcs {
		if live(&fn.Def) && !seen[fn.USR] {
			d.funcFields(fn, nil)
		}
	}
}

func (d *differ) funcScalar(f *index.File, fn *index.FuncDef) *DefUpdate {
	if fn == nil {
		return nil
	}
	s := d.defUpdate(f, &fn.Def)
	s.DeclaringType = typeUSR(f, fn.DeclaringType)
	s.Base = funcUSR(f, fn.Base)
	return &s
}

func (d *differ) funcFields(p, c *index.FuncDef) {
	u := d.u
	var prevScalar, nextScalar *DefUpdate
	usr := ""
	if p != nil {
		usr = p.USR
		prevScalar = d.funcScalar(d.prev, p)
	} else {
		p = &index.FuncDef{Base: index.NoFunc}
	}
	if c != nil {
		usr = c.USR
		nextScalar = d.funcScalar(d.cur, c)
	} else {
		c = &index.FuncDef{Base: index.NoFunc}
	}
	u.FuncsRemoved, u.FuncsDef = scalar(u.FuncsRemoved, u.FuncsDef, prevScalar, nextScalar)

	u.FuncsDeclarations = field(u.FuncsDeclarations, usr, d.locs(d.prev, p.Declarations), d.locs(d.cur, c.Declarations))
	u.FuncsUses = field(u.FuncsUses, usr, d.locs(d.prev, p.Uses), d.locs(d.cur, c.Uses))
	u.FuncsDerived = field(u.FuncsDerived, usr, usrs(d.prev, p.Derived, funcUSR), usrs(d.cur, c.Derived, funcUSR))
	u.FuncsLocals = field(u.FuncsLocals, usr, usrs(d.prev, p.Locals, varUSR), usrs(d.cur, c.Locals, varUSR))
	u.FuncsCallers = field(u.FuncsCallers, usr, d.edges(d.prev, p.Callers), d.edges(d.cur, c.Callers))
	u.FuncsCallees = field(u.FuncsCallees, usr, d.edges(d.prev, p.Callees), d.edges(d.cur, c.Callees))
}

func (d *differ) vars() {
	prev := make(map[string]*index.VarDef, len(d.prev.Vars))
	for _, v := range d.prev.Vars {
		if live(&v.Def) {
			prev[v.USR] = v
		}
	}
	seen := make(map[string]bool, len(d.cur.Vars))
	for _, v := range d.cur.Vars {
		if !live(&v.Def) {
			continue
		}
		seen[v.USR] = true
		d.varFields(prev[v.USR], v)
	}
	for _, v := range d.prev.Vars {
		if live(&v.Def) && !seen[v.USR] {
			d.varFields(v, nil)
		}
	}
}

func (d *differ) varScalar(f *index.File, v *index.VarDef) *DefUpdate {
	if v == nil {
		return nil
	}
	s := d.defUpdate(f, &v.Def)
	s.DeclaringType = typeUSR(f, v.DeclaringType)
	s.VariableType = typeUSR(f, v.VariableType)
	return &s
}

func (d *differ) varFields(p, c *index.VarDef) {
	u := d.u
	var prevScalar, nextScalar *DefUpdate
	usr := ""
	if p != nil {
		usr = p.USR
		prevScalar = d.varScalar(d.prev, p)
	} else {
		p = &index.VarDef{}
	}
	if c != nil {
		usr = c.USR
		nextScalar = d.varScalar(d.cur, c)
	} else {
		c = &index.VarDef{}
	}
	u.VarsRemoved, u.VarsDef = scalar(u.VarsRemoved, u.VarsDef, prevScalar, nextScalar)

	u.VarsDeclarations = field(u.VarsDeclarations, usr, d.locs(d.prev, p.Declarations), d.locs(d.cur, c.Declarations))
	u.VarsUses = field(u.VarsUses, usr, d.locs(d.prev, p.Uses), d.locs(d.cur, c.Uses))
}
