package db

import "github.com/lexcodex/ccindex/framework/index"

// factField names the record field a fact belongs to.
type factField uint8

const (
	fieldDeclarations factField = iota + 1
	fieldUses
	fieldParents
	fieldDerived
	fieldTypes
	fieldFuncs
	fieldVars
	fieldLocals
	fieldCallers
	fieldCallees
	fieldDefinition
)

// factKey identifies one element of one field of one record. Locations are
// stored without the interesting bit so they match the way usages dedup.
type factKey struct {
	sym   index.SymbolID
	field factField
	ref   int
	loc   index.Location
}

// owners records which files contributed each fact. A header seen by many
// translation units contributes the same fact once per includer; the fact
// stays in the database until the last of them withdraws it.
type owners struct {
	files map[string]int
	by    map[factKey][]int
	// definitions lists, per symbol, every definition location some file
	// still provides, in the order they were claimed.
	definitions map[index.SymbolID][]index.Location
}

func newOwners() *owners {
	return &owners{
		files:       make(map[string]int),
		by:          make(map[factKey][]int),
		definitions: make(map[index.SymbolID][]index.Location),
	}
}

// file returns the contributor number of path.
func (o *owners) file(path string) int {
	if id, ok := o.files[path]; ok {
		return id
	}
	id := len(o.files) + 1
	o.files[path] = id
	return id
}

// claim records file as a contributor of k.
func (o *owners) claim(k factKey, file int) {
	list, known := o.by[k]
	o.by[k] = index.AddUnique(list, file)
	if k.field == fieldDefinition && !known {
		o.definitions[k.sym] = append(o.definitions[k.sym], k.loc)
	}
}

// release withdraws file from k and reports whether no contributor is left.
// A fact nobody claimed is free to go.
func (o *owners) release(k factKey, file int) bool {
	list, ok := o.by[k]
	if !ok {
		return true
	}
	list = index.RemoveValue(list, file)
	if len(list) > 0 {
		o.by[k] = list
		return false
	}
	delete(o.by, k)
	if k.field == fieldDefinition {
		defs := index.RemoveValue(o.definitions[k.sym], k.loc)
		if len(defs) == 0 {
			delete(o.definitions, k.sym)
		} else {
			o.definitions[k.sym] = defs
		}
	}
	return true
}

// definition returns a definition location still provided for sym.
func (o *owners) definition(sym index.SymbolID) index.Location {
	if defs := o.definitions[sym]; len(defs) > 0 {
		return defs[0]
	}
	return index.NoLocation
}

// contributors returns how many files provide k.
func (o *owners) contributors(k factKey) int { return len(o.by[k]) }
