package db

import (
	"errors"
	"fmt"
	"sync"

	"github.com/lexcodex/ccindex/framework/index"
)

// ErrStaleUpdate is returned by Apply for an update older than the last one
// applied for the same file.
var ErrStaleUpdate = errors.New("db: stale index update")

// Database is the merged, authoritative symbol store. One goroutine applies
// updates; any number may query concurrently.
type Database struct {
	mu sync.RWMutex
	// store reuses the per-file index layout with global ids and a global
	// file table.
	store       *index.File
	generations map[string]uint64
	owners      *owners
}

// New returns an empty database.
func New() *Database {
	return &Database{
		store:       index.NewFile("", nil),
		generations: make(map[string]uint64),
		owners:      newOwners(),
	}
}

// Generation returns the last applied generation for path.
func (d *Database) Generation(path string) (uint64, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	g, ok := d.generations[path]
	return g, ok
}

// Snapshot serializes the whole database in the index schema.
func (d *Database) Snapshot(opts index.SerializeOptions) ([]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	data, err := index.Serialize(d.store, opts)
	if err != nil {
		return nil, fmt.Errorf("db: snapshot: %w", err)
	}
	return data, nil
}

// Apply folds u into the database. Every removal listed in u runs before any
// addition, and readers observe either none or all of u. Applying the same
// update twice has the effect of applying it once.
//
// Facts are owned by the file that sent them. A fact several translation
// units provide, such as a class defined in a shared header, is only removed
// once every one of them has withdrawn it.
func (d *Database) Apply(u *IndexUpdate) error {
	if u == nil {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if u.Generation != 0 {
		if last, ok := d.generations[u.Path]; ok && u.Generation < last {
			return fmt.Errorf("%w: %s generation %d < %d", ErrStaleUpdate, u.Path, u.Generation, last)
		}
	}

	a := &applier{
		store:   d.store,
		ids:     d.store.IDs(),
		fileIDs: make([]int, len(u.Files)+1),
		owners:  d.owners,
		owner:   d.owners.file(u.Path),
	}
	for i, path := range u.Files {
		a.fileIDs[i+1] = d.store.FileID(path)
	}
	a.removals(u)
	a.definitions(u)
	a.additions(u)

	if u.Generation >= d.generations[u.Path] {
		d.generations[u.Path] = u.Generation
	}
	return nil
}

type applier struct {
	store   *index.File
	ids     *index.IDCache
	fileIDs []int
	owners  *owners
	// owner is the contributor number of the update's file.
	owner int
}

// loc maps a location in the update's file table to the global table.
func (a *applier) loc(l index.Location) index.Location {
	id := l.FileID()
	if !l.Valid() || id >= len(a.fileIDs) {
		return index.NoLocation
	}
	return l.WithFile(a.fileIDs[id])
}

func typeSym(id index.TypeID) index.SymbolID { return index.SymbolID{Kind: index.KindType, Index: int(id)} }
func funcSym(id index.FuncID) index.SymbolID { return index.SymbolID{Kind: index.KindFunc, Index: int(id)} }
func varSym(id index.VarID) index.SymbolID   { return index.SymbolID{Kind: index.KindVar, Index: int(id)} }

func (a *applier) removeLocs(sym index.SymbolID, f factField, list, locs []index.Location) []index.Location {
	for _, l := range locs {
		l = a.loc(l)
		if l.Valid() && a.owners.release(factKey{sym: sym, field: f, loc: l.Key()}, a.owner) {
			list = index.RemoveUsage(list, l)
		}
	}
	return list
}

func (a *applier) addLocs(sym index.SymbolID, f factField, list, locs []index.Location) []index.Location {
	for _, l := range locs {
		l = a.loc(l)
		if !l.Valid() {
			continue
		}
		a.owners.claim(factKey{sym: sym, field: f, loc: l.Key()}, a.owner)
		list = index.AddUsage(list, l)
	}
	return list
}

func (a *applier) removeEdges(sym index.SymbolID, f factField, list []index.FuncRef, edges []CallEdge) []index.FuncRef {
	for _, e := range edges {
		id, ok := a.ids.Lookup(index.KindFunc, e.USR)
		if !ok {
			continue
		}
		ref := index.FuncRef{ID: index.FuncID(id.Index), Loc: a.loc(e.Loc)}
		if a.owners.release(factKey{sym: sym, field: f, ref: id.Index, loc: ref.Loc.Key()}, a.owner) {
			list = index.RemoveFuncRef(list, ref)
		}
	}
	return list
}

func (a *applier) addEdges(sym index.SymbolID, f factField, list []index.FuncRef, edges []CallEdge) []index.FuncRef {
	for _, e := range edges {
		if e.USR == "" {
			continue
		}
		ref := index.FuncRef{ID: a.ids.ToFuncID(e.USR), Loc: a.loc(e.Loc)}
		a.owners.claim(factKey{sym: sym, field: f, ref: int(ref.ID), loc: ref.Loc.Key()}, a.owner)
		list = index.AddFuncRef(list, ref)
	}
	return list
}

func removeIDs[T ~int](a *applier, sym index.SymbolID, f factField, list []T, usrs []string, lookup func(string) (T, bool)) []T {
	for _, usr := range usrs {
		id, ok := lookup(usr)
		if ok && a.owners.release(factKey{sym: sym, field: f, ref: int(id)}, a.owner) {
			list = index.RemoveValue(list, id)
		}
	}
	return list
}

// mintIDs resolves usrs, minting ids for symbols the database has not seen.
// Callers mint before resolving the record they update.
func mintIDs[T ~int](usrs []string, mint func(string) T) []T {
	out := make([]T, 0, len(usrs))
	for _, usr := range usrs {
		if usr != "" {
			out = append(out, mint(usr))
		}
	}
	return out
}

func addIDs[T ~int](a *applier, sym index.SymbolID, f factField, list []T, ids []T) []T {
	for _, id := range ids {
		a.owners.claim(factKey{sym: sym, field: f, ref: int(id)}, a.owner)
		list = index.AddUnique(list, id)
	}
	return list
}

func (a *applier) lookupType(usr string) (index.TypeID, bool) {
	id, ok := a.ids.Lookup(index.KindType, usr)
	return index.TypeID(id.Index), ok
}

func (a *applier) lookupFunc(usr string) (index.FuncID, bool) {
	id, ok := a.ids.Lookup(index.KindFunc, usr)
	return index.FuncID(id.Index), ok
}

func (a *applier) lookupVar(usr string) (index.VarID, bool) {
	id, ok := a.ids.Lookup(index.KindVar, usr)
	return index.VarID(id.Index), ok
}

// each runs fn for every update whose symbol already exists in the table
// selected by kind. Removing from a symbol the database never saw is a no-op.
func each[T comparable](a *applier, kind index.SymbolKind, list []MergeableUpdate[T], fn func(index.SymbolID, MergeableUpdate[T])) {
	for _, m := range list {
		if m.USR == "" || len(m.ToRemove) == 0 {
			continue
		}
		if id, ok := a.ids.Lookup(kind, m.USR); ok {
			fn(id, m)
		}
	}
}

// withdraw releases this file's claim on a definition. When nobody provides
// it any more, the definition falls back to one another file still provides.
func (a *applier) withdraw(sym index.SymbolID, d *index.Def, r RemovedDef) {
	loc := a.loc(r.Definition)
	if !loc.Valid() {
		return
	}
	if a.owners.release(factKey{sym: sym, field: fieldDefinition, loc: loc.Key()}, a.owner) && d.Definition.SameAs(loc) {
		d.Definition = a.owners.definition(sym)
	}
}

func (a *applier) removals(u *IndexUpdate) {
	for _, r := range u.TypesRemoved {
		if id, ok := a.lookupType(r.USR); ok {
			a.withdraw(typeSym(id), &a.store.Type(id).Def, r)
		}
	}
	for _, r := range u.FuncsRemoved {
		if id, ok := a.lookupFunc(r.USR); ok {
			a.withdraw(funcSym(id), &a.store.Func(id).Def, r)
		}
	}
	for _, r := range u.VarsRemoved {
		if id, ok := a.lookupVar(r.USR); ok {
			a.withdraw(varSym(id), &a.store.Var(id).Def, r)
		}
	}

	types := func(id index.SymbolID) *index.TypeDef { return a.store.Type(index.TypeID(id.Index)) }
	funcs := func(id index.SymbolID) *index.FuncDef { return a.store.Func(index.FuncID(id.Index)) }
	vars := func(id index.SymbolID) *index.VarDef { return a.store.Var(index.VarID(id.Index)) }

	each(a, index.KindType, u.TypesDeclarations, func(id index.SymbolID, m MergeableUpdate[index.Location]) {
		t := types(id)
		t.Declarations = a.removeLocs(id, fieldDeclarations, t.Declarations, m.ToRemove)
	})
	each(a, index.KindType, u.TypesUses, func(id index.SymbolID, m MergeableUpdate[index.Location]) {
		t := types(id)
		t.Uses = a.removeLocs(id, fieldUses, t.Uses, m.ToRemove)
	})
	each(a, index.KindType, u.TypesParents, func(id index.SymbolID, m MergeableUpdate[string]) {
		t := types(id)
		t.Parents = removeIDs(a, id, fieldParents, t.Parents, m.ToRemove, a.lookupType)
	})
	each(a, index.KindType, u.TypesDerived, func(id index.SymbolID, m MergeableUpdate[string]) {
		t := types(id)
		t.Derived = removeIDs(a, id, fieldDerived, t.Derived, m.ToRemove, a.lookupType)
	})
	each(a, index.KindType, u.TypesTypes, func(id index.SymbolID, m MergeableUpdate[string]) {
		t := types(id)
		t.Types = removeIDs(a, id, fieldTypes, t.Types, m.ToRemove, a.lookupType)
	})
	each(a, index.KindType, u.TypesFuncs, func(id index.SymbolID, m MergeableUpdate[string]) {
		t := types(id)
		t.Funcs = removeIDs(a, id, fieldFuncs, t.Funcs, m.ToRemove, a.lookupFunc)
	})
	each(a, index.KindType, u.TypesVars, func(id index.SymbolID, m MergeableUpdate[string]) {
		t := types(id)
		t.Vars = removeIDs(a, id, fieldVars, t.Vars, m.ToRemove, a.lookupVar)
	})

	each(a, index.KindFunc, u.FuncsDeclarations, func(id index.SymbolID, m MergeableUpdate[index.Location]) {
		f := funcs(id)
		f.Declarations = a.removeLocs(id, fieldDeclarations, f.Declarations, m.ToRemove)
	})
	each(a, index.KindFunc, u.FuncsUses, func(id index.SymbolID, m MergeableUpdate[index.Location]) {
		f := funcs(id)
		f.Uses = a.removeLocs(id, fieldUses, f.Uses, m.ToRemove)
	})
	each(a, index.KindFunc, u.FuncsDerived, func(id index.SymbolID, m MergeableUpdate[string]) {
		f := funcs(id)
		f.Derived = removeIDs(a, id, fieldDerived, f.Derived, m.ToRemove, a.lookupFunc)
	})
	each(a, index.KindFunc, u.FuncsLocals, func(id index.SymbolID, m MergeableUpdate[string]) {
		f := funcs(id)
		f.Locals = removeIDs(a, id, fieldLocals, f.Locals, m.ToRemove, a.lookupVar)
	})
	each(a, index.KindFunc, u.FuncsCallers, func(id index.SymbolID, m MergeableUpdate[CallEdge]) {
		f := funcs(id)
		f.Callers = a.removeEdges(id, fieldCallers, f.Callers, m.ToRemove)
	})
	each(a, index.KindFunc, u.FuncsCallees, func(id index.SymbolID, m MergeableUpdate[CallEdge]) {
		f := funcs(id)
		f.Callees = a.removeEdges(id, fieldCallees, f.Callees, m.ToRemove)
	})

	each(a, index.KindVar, u.VarsDeclarations, func(id index.SymbolID, m MergeableUpdate[index.Location]) {
		v := vars(id)
		v.Declarations = a.removeLocs(id, fieldDeclarations, v.Declarations, m.ToRemove)
	})
	each(a, index.KindVar, u.VarsUses, func(id index.SymbolID, m MergeableUpdate[index.Location]) {
		v := vars(id)
		v.Uses = a.removeLocs(id, fieldUses, v.Uses, m.ToRemove)
	})
}

// scalar applies the names and definition of s to d. Values from a file that
// only references the symbol never overwrite known ones.
func (a *applier) scalar(sym index.SymbolID, d *index.Def, s DefUpdate) {
	set := func(dst *string, v string) {
		if v != "" && (s.Declared || *dst == "") {
			*dst = v
		}
	}
	set(&d.ShortName, s.ShortName)
	set(&d.QualifiedName, s.QualifiedName)
	if loc := a.loc(s.Definition); loc.Valid() {
		a.owners.claim(factKey{sym: sym, field: fieldDefinition, loc: loc.Key()}, a.owner)
		if s.Declared || !d.Definition.Valid() {
			d.Definition = loc
		}
	}
}

func (a *applier) definitions(u *IndexUpdate) {
	for _, s := range u.TypesDef {
		if s.USR == "" {
			continue
		}
		id := a.ids.ToTypeID(s.USR)
		var alias index.TypeID
		if s.AliasOf != "" {
			alias = a.ids.ToTypeID(s.AliasOf)
		}
		t := a.store.Type(id)
		a.scalar(typeSym(id), &t.Def, s)
		if alias.Valid() && (s.Declared || !t.AliasOf.Valid()) {
			t.AliasOf = alias
		}
	}
	for _, s := range u.FuncsDef {
		if s.USR == "" {
			continue
		}
		id := a.ids.ToFuncID(s.USR)
		var owner index.TypeID
		if s.DeclaringType != "" {
			owner = a.ids.ToTypeID(s.DeclaringType)
		}
		base := a.ids.ToFuncID(s.Base)
		f := a.store.Func(id)
		a.scalar(funcSym(id), &f.Def, s)
		if owner.Valid() && (s.Declared || !f.DeclaringType.Valid()) {
			f.DeclaringType = owner
		}
		if base.Valid() && base != id && (s.Declared || !f.Base.Valid()) {
			f.Base = base
		}
	}
	for _, s := range u.VarsDef {
		if s.USR == "" {
			continue
		}
		id := a.ids.ToVarID(s.USR)
		var owner, typ index.TypeID
		if s.DeclaringType != "" {
			owner = a.ids.ToTypeID(s.DeclaringType)
		}
		if s.VariableType != "" {
			typ = a.ids.ToTypeID(s.VariableType)
		}
		v := a.store.Var(id)
		a.scalar(varSym(id), &v.Def, s)
		if owner.Valid() && (s.Declared || !v.DeclaringType.Valid()) {
			v.DeclaringType = owner
		}
		if typ.Valid() && (s.Declared || !v.VariableType.Valid()) {
			v.VariableType = typ
		}
	}
}

func additions[T comparable](list []MergeableUpdate[T], fn func(MergeableUpdate[T])) {
	for _, m := range list {
		if m.USR != "" && len(m.ToAdd) > 0 {
			fn(m)
		}
	}
}

func (a *applier) additions(u *IndexUpdate) {
	additions(u.TypesDeclarations, func(m MergeableUpdate[index.Location]) {
		id := a.ids.ToTypeID(m.USR)
		t := a.store.Type(id)
		t.Declarations = a.addLocs(typeSym(id), fieldDeclarations, t.Declarations, m.ToAdd)
	})
	additions(u.TypesUses, func(m MergeableUpdate[index.Location]) {
		id := a.ids.ToTypeID(m.USR)
		t := a.store.Type(id)
		t.Uses = a.addLocs(typeSym(id), fieldUses, t.Uses, m.ToAdd)
	})
	additions(u.TypesParents, func(m MergeableUpdate[string]) {
		ids := mintIDs(m.ToAdd, a.ids.ToTypeID)
		id := a.ids.ToTypeID(m.USR)
		t := a.store.Type(id)
		t.Parents = addIDs(a, typeSym(id), fieldParents, t.Parents, ids)
	})
	additions(u.TypesDerived, func(m MergeableUpdate[string]) {
		ids := mintIDs(m.ToAdd, a.ids.ToTypeID)
		id := a.ids.ToTypeID(m.USR)
		t := a.store.Type(id)
		t.Derived = addIDs(a, typeSym(id), fieldDerived, t.Derived, ids)
	})
	additions(u.TypesTypes, func(m MergeableUpdate[string]) {
		ids := mintIDs(m.ToAdd, a.ids.ToTypeID)
		id := a.ids.ToTypeID(m.USR)
		t := a.store.Type(id)
		t.Types = addIDs(a, typeSym(id), fieldTypes, t.Types, ids)
	})
	additions(u.TypesFuncs, func(m MergeableUpdate[string]) {
		ids := mintIDs(m.ToAdd, a.ids.ToFuncID)
		id := a.ids.ToTypeID(m.USR)
		t := a.store.Type(id)
		t.Funcs = addIDs(a, typeSym(id), fieldFuncs, t.Funcs, ids)
	})
	additions(u.TypesVars, func(m MergeableUpdate[string]) {
		ids := mintIDs(m.ToAdd, a.ids.ToVarID)
		id := a.ids.ToTypeID(m.USR)
		t := a.store.Type(id)
		t.Vars = addIDs(a, typeSym(id), fieldVars, t.Vars, ids)
	})

	additions(u.FuncsDeclarations, func(m MergeableUpdate[index.Location]) {
		id := a.ids.ToFuncID(m.USR)
		f := a.store.Func(id)
		f.Declarations = a.addLocs(funcSym(id), fieldDeclarations, f.Declarations, m.ToAdd)
	})
	additions(u.FuncsUses, func(m MergeableUpdate[index.Location]) {
		id := a.ids.ToFuncID(m.USR)
		f := a.store.Func(id)
		f.Uses = a.addLocs(funcSym(id), fieldUses, f.Uses, m.ToAdd)
	})
	additions(u.FuncsDerived, func(m MergeableUpdate[string]) {
		ids := mintIDs(m.ToAdd, a.ids.ToFuncID)
		id := a.ids.ToFuncID(m.USR)
		f := a.store.Func(id)
		f.Derived = addIDs(a, funcSym(id), fieldDerived, f.Derived, ids)
	})
	additions(u.FuncsLocals, func(m MergeableUpdate[string]) {
		ids := mintIDs(m.ToAdd, a.ids.ToVarID)
		id := a.ids.ToFuncID(m.USR)
		f := a.store.Func(id)
		f.Locals = addIDs(a, funcSym(id), fieldLocals, f.Locals, ids)
	})
	additions(u.FuncsCallers, func(m MergeableUpdate[CallEdge]) {
		id := a.ids.ToFuncID(m.USR)
		f := a.store.Func(id)
		f.Callers = a.addEdges(funcSym(id), fieldCallers, f.Callers, m.ToAdd)
	})
	additions(u.FuncsCallees, func(m MergeableUpdate[CallEdge]) {
		id := a.ids.ToFuncID(m.USR)
		f := a.store.Func(id)
		f.Callees = a.addEdges(funcSym(id), fieldCallees, f.Callees, m.ToAdd)
	})

	additions(u.VarsDeclarations, func(m MergeableUpdate[index.Location]) {
		id := a.ids.ToVarID(m.USR)
		v := a.store.Var(id)
		v.Declarations = a.addLocs(varSym(id), fieldDeclarations, v.Declarations, m.ToAdd)
	})
	additions(u.VarsUses, func(m MergeableUpdate[index.Location]) {
		id := a.ids.ToVarID(m.USR)
		v := a.store.Var(id)
		v.Uses = a.addLocs(varSym(id), fieldUses, v.Uses, m.ToAdd)
	})
}
