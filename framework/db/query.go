package db

import (
	"sort"
	"strings"

	"github.com/lexcodex/ccindex/framework/index"
)

// QueryLocation is a resolved position with 0-based line and column.
type QueryLocation struct {
	Path   string `json:"path"`
	Line   int    `json:"line"`
	Column int    `json:"column"`
}

// SymbolKind is the coarse kind reported to editors.
type SymbolKind int

const (
	SymbolClass SymbolKind = iota + 1
	SymbolFunction
	SymbolMethod
	SymbolVariable
)

func (k SymbolKind) String() string {
	switch k {
	case SymbolClass:
		return "class"
	case SymbolFunction:
		return "function"
	case SymbolMethod:
		return "method"
	case SymbolVariable:
		return "variable"
	default:
		return "unknown"
	}
}

// Symbol is a query result describing one database record.
type Symbol struct {
	ID            index.SymbolID `json:"id"`
	USR           string         `json:"usr"`
	Kind          SymbolKind     `json:"kind"`
	ShortName     string         `json:"short_name"`
	QualifiedName string         `json:"qualified_name"`
	// Location is the definition, or the first declaration when the
	// definition is unknown.
	Location QueryLocation `json:"location"`
	HasLoc   bool          `json:"has_location"`
}

// Reference is a call edge resolved for display.
type Reference struct {
	Symbol   Symbol        `json:"symbol"`
	Location QueryLocation `json:"location"`
}

// Stats counts the database contents.
type Stats struct {
	Files int `json:"files"`
	Types int `json:"types"`
	Funcs int `json:"funcs"`
	Vars  int `json:"vars"`
}

func (d *Database) resolve(l index.Location) (QueryLocation, bool) {
	if !l.Valid() {
		return QueryLocation{}, false
	}
	path := d.store.FilePath(l.FileID())
	if path == "" {
		return QueryLocation{}, false
	}
	line, col := l.Line()-1, l.Column()-1
	if col < 0 {
		col = 0
	}
	return QueryLocation{Path: path, Line: line, Column: col}, true
}

func (d *Database) resolveAll(locs []index.Location) []QueryLocation {
	out := make([]QueryLocation, 0, len(locs))
	for _, l := range locs {
		if q, ok := d.resolve(l); ok {
			out = append(out, q)
		}
	}
	return out
}

// def returns the common fields of id, or nil when id is out of range.
func (d *Database) def(id index.SymbolID) *index.Def {
	switch id.Kind {
	case index.KindType:
		if id.Index > 0 && id.Index < len(d.store.Types) {
			return &d.store.Types[id.Index].Def
		}
	case index.KindFunc:
		if id.Index >= 0 && id.Index < len(d.store.Funcs) {
			return &d.store.Funcs[id.Index].Def
		}
	case index.KindVar:
		if id.Index >= 0 && id.Index < len(d.store.Vars) {
			return &d.store.Vars[id.Index].Def
		}
	}
	return nil
}

func (d *Database) symbol(id index.SymbolID) (Symbol, bool) {
	def := d.def(id)
	if def == nil {
		return Symbol{}, false
	}
	s := Symbol{ID: id, USR: def.USR, ShortName: def.ShortName, QualifiedName: def.QualifiedName}
	switch id.Kind {
	case index.KindType:
		s.Kind = SymbolClass
	case index.KindFunc:
		s.Kind = SymbolFunction
		if d.store.Funcs[id.Index].DeclaringType.Valid() {
			s.Kind = SymbolMethod
		}
	case index.KindVar:
		s.Kind = SymbolVariable
	}
	loc := def.Definition
	if !loc.Valid() && len(def.Declarations) > 0 {
		loc = def.Declarations[0]
	}
	s.Location, s.HasLoc = d.resolve(loc)
	return s, true
}

// forEach calls fn for every record of every table, skipping the
// unresolved type.
func (d *Database) forEach(fn func(index.SymbolID, *index.Def)) {
	for i := 1; i < len(d.store.Types); i++ {
		fn(index.SymbolID{Kind: index.KindType, Index: i}, &d.store.Types[i].Def)
	}
	for i, f := range d.store.Funcs {
		fn(index.SymbolID{Kind: index.KindFunc, Index: i}, &f.Def)
	}
	for i, v := range d.store.Vars {
		fn(index.SymbolID{Kind: index.KindVar, Index: i}, &v.Def)
	}
}

// Symbol describes id.
func (d *Database) Symbol(id index.SymbolID) (Symbol, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.symbol(id)
}

// WorkspaceSymbols returns every declared symbol whose qualified name
// contains query, ignoring case. The result is unordered.
func (d *Database) WorkspaceSymbols(query string) []Symbol {
	d.mu.RLock()
	defer d.mu.RUnlock()
	needle := strings.ToLower(query)
	var out []Symbol
	d.forEach(func(id index.SymbolID, def *index.Def) {
		if !def.HasDeclInfo() || !strings.Contains(strings.ToLower(def.QualifiedName), needle) {
			return
		}
		if s, ok := d.symbol(id); ok {
			out = append(out, s)
		}
	})
	return out
}

// Outline returns the symbols declared or defined in path, sorted by
// position.
func (d *Database) Outline(path string) []Symbol {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []Symbol
	d.forEach(func(id index.SymbolID, def *index.Def) {
		var at index.Location
		if d.inFile(def.Definition, path) {
			at = def.Definition
		} else {
			for _, l := range def.Declarations {
				if d.inFile(l, path) {
					at = l
					break
				}
			}
		}
		if !at.Valid() {
			return
		}
		s, ok := d.symbol(id)
		if !ok {
			return
		}
		s.Location, s.HasLoc = d.resolve(at)
		out = append(out, s)
	})
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].Location, out[j].Location
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		return a.Column < b.Column
	})
	return out
}

func (d *Database) inFile(l index.Location, path string) bool {
	return l.Valid() && d.store.FilePath(l.FileID()) == path
}

// Declarations returns the declaration locations of id.
func (d *Database) Declarations(id index.SymbolID) []QueryLocation {
	d.mu.RLock()
	defer d.mu.RUnlock()
	def := d.def(id)
	if def == nil {
		return nil
	}
	return d.resolveAll(def.Declarations)
}

// Definition returns the definition location of id.
func (d *Database) Definition(id index.SymbolID) (QueryLocation, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	def := d.def(id)
	if def == nil {
		return QueryLocation{}, false
	}
	return d.resolve(def.Definition)
}

// Uses returns every recorded usage of id.
func (d *Database) Uses(id index.SymbolID) []QueryLocation {
	d.mu.RLock()
	defer d.mu.RUnlock()
	def := d.def(id)
	if def == nil {
		return nil
	}
	return d.resolveAll(def.Uses)
}

func (d *Database) references(refs []index.FuncRef) []Reference {
	out := make([]Reference, 0, len(refs))
	for _, r := range refs {
		s, ok := d.symbol(index.SymbolID{Kind: index.KindFunc, Index: int(r.ID)})
		if !ok {
			continue
		}
		loc, ok := d.resolve(r.Loc)
		if !ok {
			continue
		}
		out = append(out, Reference{Symbol: s, Location: loc})
	}
	return out
}

func (d *Database) function(id index.FuncID) *index.FuncDef {
	if id < 0 || int(id) >= len(d.store.Funcs) {
		return nil
	}
	return d.store.Funcs[id]
}

func (d *Database) typeDef(id index.TypeID) *index.TypeDef {
	if !id.Valid() || int(id) >= len(d.store.Types) {
		return nil
	}
	return d.store.Types[id]
}

// Callers returns the call sites that invoke id.
func (d *Database) Callers(id index.FuncID) []Reference {
	d.mu.RLock()
	defer d.mu.RUnlock()
	fn := d.function(id)
	if fn == nil {
		return nil
	}
	return d.references(fn.Callers)
}

// Callees returns the functions id calls, with their call sites.
func (d *Database) Callees(id index.FuncID) []Reference {
	d.mu.RLock()
	defer d.mu.RUnlock()
	fn := d.function(id)
	if fn == nil {
		return nil
	}
	return d.references(fn.Callees)
}

// Base returns the method id overrides.
func (d *Database) Base(id index.FuncID) (Symbol, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	fn := d.function(id)
	if fn == nil || !fn.Base.Valid() {
		return Symbol{}, false
	}
	return d.symbol(index.SymbolID{Kind: index.KindFunc, Index: int(fn.Base)})
}

// Derived returns the derived types of a type or the overriding methods of a
// function.
func (d *Database) Derived(id index.SymbolID) []Symbol {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var ids []index.SymbolID
	switch id.Kind {
	case index.KindType:
		if t := d.typeDef(index.TypeID(id.Index)); t != nil {
			for _, c := range t.Derived {
				ids = append(ids, index.SymbolID{Kind: index.KindType, Index: int(c)})
			}
		}
	case index.KindFunc:
		if fn := d.function(index.FuncID(id.Index)); fn != nil {
			for _, c := range fn.Derived {
				ids = append(ids, index.SymbolID{Kind: index.KindFunc, Index: int(c)})
			}
		}
	case index.KindVar:
	}
	return d.symbols(ids)
}

// Parents returns the base classes of id.
func (d *Database) Parents(id index.TypeID) []Symbol {
	d.mu.RLock()
	defer d.mu.RUnlock()
	t := d.typeDef(id)
	if t == nil {
		return nil
	}
	ids := make([]index.SymbolID, 0, len(t.Parents))
	for _, p := range t.Parents {
		ids = append(ids, index.SymbolID{Kind: index.KindType, Index: int(p)})
	}
	return d.symbols(ids)
}

func (d *Database) symbols(ids []index.SymbolID) []Symbol {
	out := make([]Symbol, 0, len(ids))
	for _, id := range ids {
		if s, ok := d.symbol(id); ok {
			out = append(out, s)
		}
	}
	return out
}

// Lookup returns the global id of an identity string.
func (d *Database) Lookup(kind index.SymbolKind, usr string) (index.SymbolID, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.store.IDs().Lookup(kind, usr)
}

// FindQualified returns the ids of every record named exactly name.
func (d *Database) FindQualified(name string) []index.SymbolID {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []index.SymbolID
	d.forEach(func(id index.SymbolID, def *index.Def) {
		if def.QualifiedName == name {
			out = append(out, id)
		}
	})
	return out
}

// SymbolsAt returns the symbols with a usage, declaration or definition
// starting at or spanning the 0-based position. A record matches when the
// position falls between the recorded column and the end of its short name.
func (d *Database) SymbolsAt(path string, line, column int) []Symbol {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []Symbol
	hit := func(l index.Location, width int) bool {
		if !d.inFile(l, path) || l.Line()-1 != line {
			return false
		}
		start := l.Column() - 1
		return column >= start && column < start+max(width, 1)
	}
	d.forEach(func(id index.SymbolID, def *index.Def) {
		width := len(def.ShortName)
		found := hit(def.Definition, width)
		for _, l := range def.Declarations {
			found = found || hit(l, width)
		}
		for _, l := range def.Uses {
			found = found || hit(l, width)
		}
		if !found {
			return
		}
		if s, ok := d.symbol(id); ok {
			out = append(out, s)
		}
	})
	return out
}

// Stats counts records, not counting the unresolved type.
func (d *Database) Stats() Stats {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return Stats{
		Files: len(d.store.Files),
		Types: len(d.store.Types) - 1,
		Funcs: len(d.store.Funcs),
		Vars:  len(d.store.Vars),
	}
}
