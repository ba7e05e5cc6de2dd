package index

// SymbolKind selects one of the three symbol tables.
type SymbolKind uint8

const (
	KindType SymbolKind = iota
	KindFunc
	KindVar
)

func (k SymbolKind) String() string {
	switch k {
	case KindType:
		return "type"
	case KindFunc:
		return "func"
	case KindVar:
		return "var"
	default:
		return "unknown"
	}
}

// SymbolID identifies a record in one of the tables of a File or Database.
type SymbolID struct {
	Kind  SymbolKind
	Index int
}

type (
	// TypeID indexes the type table. Index 0 is the unresolved/fundamental
	// type, so the zero TypeID means "no type".
	TypeID int
	// FuncID indexes the function table; NoFunc means none.
	FuncID int
	// VarID indexes the variable table; NoVar means none.
	VarID int
)

const (
	NoType TypeID = 0
	NoFunc FuncID = -1
	NoVar  VarID  = -1
)

// Valid reports whether id refers to a real (non-sentinel) type.
func (id TypeID) Valid() bool { return id > 0 }

// Valid reports whether id refers to a function.
func (id FuncID) Valid() bool { return id >= 0 }

// Valid reports whether id refers to a variable.
func (id VarID) Valid() bool { return id >= 0 }

// Def holds the fields common to every definition record.
type Def struct {
	USR           string
	ShortName     string
	QualifiedName string
	Declarations  []Location
	Definition    Location
	Uses          []Location
	// System marks records only seen in system headers; they are dropped
	// from serialized output and diffs but keep their id.
	System bool
}

// HasDeclInfo reports whether the record was declared or defined in this
// index, as opposed to only referenced.
func (d *Def) HasDeclInfo() bool {
	return d.Definition.Valid() || len(d.Declarations) > 0
}

// FuncRef is a call edge endpoint: the other function and the call site.
type FuncRef struct {
	ID  FuncID
	Loc Location
}

// TypeDef is the record for classes, structs, unions, enums and aliases.
type TypeDef struct {
	Def
	AliasOf TypeID
	Parents []TypeID
	Derived []TypeID
	Types   []TypeID
	Funcs   []FuncID
	Vars    []VarID
}

// FuncDef is the record for free functions, methods, constructors and
// destructors.
type FuncDef struct {
	Def
	DeclaringType TypeID
	Base          FuncID
	Derived       []FuncID
	Locals        []VarID
	Callers       []FuncRef
	Callees       []FuncRef
}

// VarDef is the record for variables, fields, parameters and enumerators.
type VarDef struct {
	Def
	DeclaringType TypeID
	VariableType  TypeID
}

func newTypeDef(usr string) *TypeDef {
	return &TypeDef{Def: Def{USR: usr}}
}

func newFuncDef(usr string) *FuncDef {
	return &FuncDef{Def: Def{USR: usr}, Base: NoFunc}
}

func newVarDef(usr string) *VarDef {
	return &VarDef{Def: Def{USR: usr}}
}

// File is the index of one translation unit.
type File struct {
	Path        string
	Args        []string
	Generation  uint64
	ContentHash string

	// Files is the local file table; Location file id n is Files[n-1].
	Files []string

	Types []*TypeDef
	Funcs []*FuncDef
	Vars  []*VarDef

	fileIDs map[string]int
	ids     *IDCache
}

// NewFile returns an empty index with the unresolved type at index 0.
func NewFile(path string, args []string) *File {
	f := &File{
		Path:    path,
		Args:    args,
		Types:   []*TypeDef{newTypeDef("")},
		fileIDs: make(map[string]int),
	}
	f.ids = newIDCache(f)
	return f
}

// IDs returns the identity cache that mints ids for this file.
func (f *File) IDs() *IDCache {
	if f.ids == nil {
		f.ids = newIDCache(f)
	}
	return f.ids
}

// Type resolves a type id. The returned record must be re-resolved after
// any call that mints ids.
func (f *File) Type(id TypeID) *TypeDef { return f.Types[id] }

// Func resolves a function id.
func (f *File) Func(id FuncID) *FuncDef { return f.Funcs[id] }

// Var resolves a variable id.
func (f *File) Var(id VarID) *VarDef { return f.Vars[id] }

// FileID returns the local id of path, adding it to the file table if new.
func (f *File) FileID(path string) int {
	if f.fileIDs == nil {
		f.fileIDs = make(map[string]int, len(f.Files))
		for i, p := range f.Files {
			f.fileIDs[p] = i + 1
		}
	}
	if id, ok := f.fileIDs[path]; ok {
		return id
	}
	f.Files = append(f.Files, path)
	id := len(f.Files)
	f.fileIDs[path] = id
	return id
}

// FilePath returns the path for a local file id, or "" when unknown.
func (f *File) FilePath(id int) string {
	if id <= 0 || id > len(f.Files) {
		return ""
	}
	return f.Files[id-1]
}

// Location encodes a path/line/column triple against the file table.
func (f *File) Location(path string, line, column int, interesting bool) Location {
	if path == "" || line <= 0 {
		return NoLocation
	}
	return Encode(f.FileID(path), line, column, interesting)
}
