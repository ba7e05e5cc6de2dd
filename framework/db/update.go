// Package db holds the global symbol database and the merge engine that folds
// per-file indexes into it.
package db

import "github.com/lexcodex/ccindex/framework/index"

// MergeableUpdate is the change to one set-valued field of one symbol.
type MergeableUpdate[T comparable] struct {
	USR      string `json:"usr"`
	ToAdd    []T    `json:"to_add,omitempty"`
	ToRemove []T    `json:"to_remove,omitempty"`
}

// CallEdge is a call edge endpoint keyed by identity.
type CallEdge struct {
	USR string         `json:"usr"`
	Loc index.Location `json:"loc"`
}

// RemovedDef withdraws a definition location this file no longer provides.
// The database clears the symbol's definition only if it still equals
// Definition, so a definition contributed by another file survives.
type RemovedDef struct {
	USR        string         `json:"usr"`
	Definition index.Location `json:"definition"`
}

// DefUpdate carries the scalar fields of a symbol as seen by one file.
// Declared is set when the file declares or defines the symbol; otherwise
// the values only fill fields the database does not know yet.
type DefUpdate struct {
	USR           string         `json:"usr"`
	Declared      bool           `json:"declared,omitempty"`
	ShortName     string         `json:"short_name,omitempty"`
	QualifiedName string         `json:"qualified_name,omitempty"`
	Definition    index.Location `json:"definition,omitempty"`
	// Scalar relationships, as identities. Which of them apply depends on
	// the table the update belongs to.
	AliasOf       string `json:"alias_of,omitempty"`
	DeclaringType string `json:"declaring_type,omitempty"`
	Base          string `json:"base,omitempty"`
	VariableType  string `json:"variable_type,omitempty"`
}

// IndexUpdate is the difference between two indexes of one file. Locations
// reference the update's own file table.
type IndexUpdate struct {
	Path       string   `json:"path"`
	Generation uint64   `json:"generation,omitempty"`
	Files      []string `json:"files,omitempty"`

	TypesRemoved []RemovedDef `json:"types_removed,omitempty"`
	FuncsRemoved []RemovedDef `json:"funcs_removed,omitempty"`
	VarsRemoved  []RemovedDef `json:"vars_removed,omitempty"`

	TypesDef []DefUpdate `json:"types_def,omitempty"`
	FuncsDef []DefUpdate `json:"funcs_def,omitempty"`
	VarsDef  []DefUpdate `json:"vars_def,omitempty"`

	TypesDeclarations []MergeableUpdate[index.Location] `json:"types_declarations,omitempty"`
	TypesUses         []MergeableUpdate[index.Location] `json:"types_uses,omitempty"`
	TypesParents      []MergeableUpdate[string]         `json:"types_parents,omitempty"`
	TypesDerived      []MergeableUpdate[string]         `json:"types_derived,omitempty"`
	TypesTypes        []MergeableUpdate[string]         `json:"types_types,omitempty"`
	TypesFuncs        []MergeableUpdate[string]         `json:"types_funcs,omitempty"`
	TypesVars         []MergeableUpdate[string]         `json:"types_vars,omitempty"`

	FuncsDeclarations []MergeableUpdate[index.Location] `json:"funcs_declarations,omitempty"`
	FuncsUses         []MergeableUpdate[index.Location] `json:"funcs_uses,omitempty"`
	FuncsDerived      []MergeableUpdate[string]         `json:"funcs_derived,omitempty"`
	FuncsLocals       []MergeableUpdate[string]         `json:"funcs_locals,omitempty"`
	FuncsCallers      []MergeableUpdate[CallEdge]       `json:"funcs_callers,omitempty"`
	FuncsCallees      []MergeableUpdate[CallEdge]       `json:"funcs_callees,omitempty"`

	VarsDeclarations []MergeableUpdate[index.Location] `json:"vars_declarations,omitempty"`
	VarsUses         []MergeableUpdate[index.Location] `json:"vars_uses,omitempty"`
}

// Empty reports whether applying u would change nothing.
func (u *IndexUpdate) Empty() bool {
	return len(u.TypesRemoved)+len(u.FuncsRemoved)+len(u.VarsRemoved) == 0 &&
		len(u.TypesDef)+len(u.FuncsDef)+len(u.VarsDef) == 0 &&
		len(u.TypesDeclarations)+len(u.TypesUses)+len(u.TypesParents)+len(u.TypesDerived)+
			len(u.TypesTypes)+len(u.TypesFuncs)+len(u.TypesVars) == 0 &&
		len(u.FuncsDeclarations)+len(u.FuncsUses)+len(u.FuncsDerived)+len(u.FuncsLocals)+
			len(u.FuncsCallers)+len(u.FuncsCallees) == 0 &&
		len(u.VarsDeclarations)+len(u.VarsUses) == 0
}

func (u *IndexUpdate) fileID(path string, ids map[string]int) int {
	if id, ok := ids[path]; ok {
		return id
	}
	u.Files = append(u.Files, path)
	ids[path] = len(u.Files)
	return len(u.Files)
}
