package index

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/segmentio/encoding/json"
)

// FormatVersion is bumped whenever the serialized layout changes; caches
// written with another version are ignored.
const FormatVersion = 3

// ErrFormatVersion is returned by Deserialize for documents written by a
// different FormatVersion.
var ErrFormatVersion = errors.New("index: serialized format version mismatch")

// SerializeOptions tunes Serialize output.
type SerializeOptions struct {
	// TestStable omits identity strings and per-run header fields so output
	// can be compared across machines.
	TestStable bool
	// Indent pretty-prints the document.
	Indent bool
}

type fileDoc struct {
	Version     int      `json:"version"`
	Path        string   `json:"path,omitempty"`
	Args        []string `json:"args,omitempty"`
	Generation  uint64   `json:"generation,omitempty"`
	ContentHash string   `json:"content_hash,omitempty"`
	// Table sizes, so trailing omitted records keep their slots.
	TypeCount int       `json:"type_count,omitempty"`
	FuncCount int       `json:"func_count,omitempty"`
	VarCount  int       `json:"var_count,omitempty"`
	Types     []typeDoc `json:"types"`
	Funcs     []funcDoc `json:"funcs"`
	Vars      []varDoc  `json:"vars"`
}

type defDoc struct {
	ID            int      `json:"id"`
	USR           string   `json:"usr,omitempty"`
	ShortName     string   `json:"short_name"`
	QualifiedName string   `json:"qualified_name"`
	Declarations  []string `json:"declarations,omitempty"`
	Definition    string   `json:"definition,omitempty"`
	Uses          []string `json:"uses,omitempty"`
}

type typeDoc struct {
	defDoc
	AliasOf int   `json:"alias_of,omitempty"`
	Parents []int `json:"parents,omitempty"`
	Derived []int `json:"derived,omitempty"`
	Types   []int `json:"types,omitempty"`
	Funcs   []int `json:"funcs,omitempty"`
	Vars    []int `json:"vars,omitempty"`
}

type funcDoc struct {
	defDoc
	DeclaringType int      `json:"declaring_type,omitempty"`
	Base          *int     `json:"base,omitempty"`
	Derived       []int    `json:"derived,omitempty"`
	Locals        []int    `json:"locals,omitempty"`
	Callers       []string `json:"callers,omitempty"`
	Callees       []string `json:"callees,omitempty"`
}

type varDoc struct {
	defDoc
	DeclaringType int `json:"declaring_type,omitempty"`
	VariableType  int `json:"variable_type,omitempty"`
}

// Serialize renders f in the inspection/cache schema. System-only records
// and the unresolved type are omitted; ids keep their table positions.
func Serialize(f *File, opts SerializeOptions) ([]byte, error) {
	doc := fileDoc{
		Version: FormatVersion,
		Types:   []typeDoc{},
		Funcs:   []funcDoc{},
		Vars:    []varDoc{},
	}
	if !opts.TestStable {
		doc.Path = f.Path
		doc.Args = f.Args
		doc.Generation = f.Generation
		doc.ContentHash = f.ContentHash
		doc.TypeCount = len(f.Types)
		doc.FuncCount = len(f.Funcs)
		doc.VarCount = len(f.Vars)
	}
	w := docWriter{file: f, stable: opts.TestStable}

	for i, t := range f.Types {
		if i == 0 || t == nil || t.System {
			continue
		}
		doc.Types = append(doc.Types, typeDoc{
			defDoc:  w.def(i, &t.Def),
			AliasOf: int(t.AliasOf),
			Parents: ints(t.Parents),
			Derived: ints(t.Derived),
			Types:   ints(t.Types),
			Funcs:   ints(t.Funcs),
			Vars:    ints(t.Vars),
		})
	}
	for i, fn := range f.Funcs {
		if fn == nil || fn.System {
			continue
		}
		d := funcDoc{
			defDoc:        w.def(i, &fn.Def),
			DeclaringType: int(fn.DeclaringType),
			Derived:       ints(fn.Derived),
			Locals:        ints(fn.Locals),
			Callers:       w.refs(fn.Callers),
			Callees:       w.refs(fn.Callees),
		}
		if fn.Base.Valid() {
			base := int(fn.Base)
			d.Base = &base
		}
		doc.Funcs = append(doc.Funcs, d)
	}
	for i, v := range f.Vars {
		if v == nil || v.System {
			continue
		}
		doc.Vars = append(doc.Vars, varDoc{
			defDoc:        w.def(i, &v.Def),
			DeclaringType: int(v.DeclaringType),
			VariableType:  int(v.VariableType),
		})
	}

	if opts.Indent {
		return json.MarshalIndent(doc, "", "  ")
	}
	return json.Marshal(doc)
}

type docWriter struct {
	file   *File
	stable bool
}

func (w docWriter) def(id int, d *Def) defDoc {
	out := defDoc{
		ID:            id,
		ShortName:     d.ShortName,
		QualifiedName: d.QualifiedName,
		Declarations:  w.locs(d.Declarations),
		Uses:          w.locs(d.Uses),
	}
	if !w.stable {
		out.USR = d.USR
	}
	if d.Definition.Valid() {
		out.Definition = w.loc(d.Definition)
	}
	return out
}

func (w docWriter) loc(l Location) string {
	var b strings.Builder
	if l.Interesting() {
		b.WriteByte('*')
	}
	b.WriteString(w.file.FilePath(l.FileID()))
	b.WriteByte(':')
	b.WriteString(strconv.Itoa(l.Line()))
	b.WriteByte(':')
	b.WriteString(strconv.Itoa(l.Column()))
	return b.String()
}

func (w docWriter) locs(in []Location) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, l := range in {
		out = append(out, w.loc(l))
	}
	return out
}

func (w docWriter) refs(in []FuncRef) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, r := range in {
		out = append(out, strconv.Itoa(int(r.ID))+"@"+w.loc(r.Loc))
	}
	return out
}

func ints[T ~int](in []T) []int {
	if len(in) == 0 {
		return nil
	}
	out := make([]int, len(in))
	for i, v := range in {
		out[i] = int(v)
	}
	return out
}

func typed[T ~int](in []int) []T {
	if len(in) == 0 {
		return nil
	}
	out := make([]T, len(in))
	for i, v := range in {
		out[i] = T(v)
	}
	return out
}

// Deserialize parses a document produced by Serialize without TestStable.
// Omitted system records come back as empty placeholders so ids still line
// up.
func Deserialize(data []byte) (*File, error) {
	var doc fileDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("index: decode: %w", err)
	}
	if doc.Version != FormatVersion {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrFormatVersion, doc.Version, FormatVersion)
	}
	f := NewFile(doc.Path, doc.Args)
	f.Generation = doc.Generation
	f.ContentHash = doc.ContentHash
	r := docReader{file: f}

	for _, d := range doc.Types {
		if d.ID <= 0 {
			return nil, fmt.Errorf("index: type id %d out of range", d.ID)
		}
		for len(f.Types) <= d.ID {
			f.Types = append(f.Types, &TypeDef{Def: Def{System: true}})
		}
		t := &TypeDef{
			AliasOf: TypeID(d.AliasOf),
			Parents: typed[TypeID](d.Parents),
			Derived: typed[TypeID](d.Derived),
			Types:   typed[TypeID](d.Types),
			Funcs:   typed[FuncID](d.Funcs),
			Vars:    typed[VarID](d.Vars),
		}
		if err := r.def(&t.Def, d.defDoc, KindType); err != nil {
			return nil, err
		}
		f.Types[d.ID] = t
	}
	for _, d := range doc.Funcs {
		if d.ID < 0 {
			return nil, fmt.Errorf("index: func id %d out of range", d.ID)
		}
		for len(f.Funcs) <= d.ID {
			f.Funcs = append(f.Funcs, &FuncDef{Def: Def{System: true}, Base: NoFunc})
		}
		fn := &FuncDef{
			DeclaringType: TypeID(d.DeclaringType),
			Base:          NoFunc,
			Derived:       typed[FuncID](d.Derived),
			Locals:        typed[VarID](d.Locals),
		}
		if d.Base != nil {
			fn.Base = FuncID(*d.Base)
		}
		if err := r.def(&fn.Def, d.defDoc, KindFunc); err != nil {
			return nil, err
		}
		var err error
		if fn.Callers, err = r.refs(d.Callers); err != nil {
			return nil, err
		}
		if fn.Callees, err = r.refs(d.Callees); err != nil {
			return nil, err
		}
		f.Funcs[d.ID] = fn
	}
	for _, d := range doc.Vars {
		if d.ID < 0 {
			return nil, fmt.Errorf("index: var id %d out of range", d.ID)
		}
		for len(f.Vars) <= d.ID {
			f.Vars = append(f.Vars, &VarDef{Def: Def{System: true}})
		}
		v := &VarDef{
			DeclaringType: TypeID(d.DeclaringType),
			VariableType:  TypeID(d.VariableType),
		}
		if err := r.def(&v.Def, d.defDoc, KindVar); err != nil {
			return nil, err
		}
		f.Vars[d.ID] = v
	}
	for len(f.Types) < doc.TypeCount {
		f.Types = append(f.Types, &TypeDef{Def: Def{System: true}})
	}
	for len(f.Funcs) < doc.FuncCount {
		f.Funcs = append(f.Funcs, &FuncDef{Def: Def{System: true}, Base: NoFunc})
	}
	for len(f.Vars) < doc.VarCount {
		f.Vars = append(f.Vars, &VarDef{Def: Def{System: true}})
	}
	if err := validate(f); err != nil {
		return nil, err
	}
	// Rebuild the identity cache over the loaded tables.
	f.ids = newIDCache(f)
	return f, nil
}

type docReader struct {
	file *File
}

func (r docReader) def(d *Def, doc defDoc, kind SymbolKind) error {
	if doc.USR == "" {
		return fmt.Errorf("index: %s %d has no usr", kind, doc.ID)
	}
	d.USR = doc.USR
	d.ShortName = doc.ShortName
	d.QualifiedName = doc.QualifiedName
	var err error
	if d.Declarations, err = r.locs(doc.Declarations); err != nil {
		return err
	}
	if d.Uses, err = r.locs(doc.Uses); err != nil {
		return err
	}
	if doc.Definition != "" {
		if d.Definition, err = r.loc(doc.Definition); err != nil {
			return err
		}
	}
	return nil
}

// loc parses "[*]path:line:col". Paths may contain ':' so the numeric
// fields are split off from the right.
func (r docReader) loc(s string) (Location, error) {
	interesting := strings.HasPrefix(s, "*")
	rest := strings.TrimPrefix(s, "*")
	colAt := strings.LastIndexByte(rest, ':')
	if colAt <= 0 {
		return NoLocation, fmt.Errorf("index: malformed location %q", s)
	}
	lineAt := strings.LastIndexByte(rest[:colAt], ':')
	if lineAt <= 0 {
		return NoLocation, fmt.Errorf("index: malformed location %q", s)
	}
	line, err := strconv.Atoi(rest[lineAt+1 : colAt])
	if err != nil {
		return NoLocation, fmt.Errorf("index: malformed line in %q: %w", s, err)
	}
	col, err := strconv.Atoi(rest[colAt+1:])
	if err != nil {
		return NoLocation, fmt.Errorf("index: malformed column in %q: %w", s, err)
	}
	return r.file.Location(rest[:lineAt], line, col, interesting), nil
}

func (r docReader) locs(in []string) ([]Location, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make([]Location, 0, len(in))
	for _, s := range in {
		l, err := r.loc(s)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, nil
}

func (r docReader) refs(in []string) ([]FuncRef, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make([]FuncRef, 0, len(in))
	for _, s := range in {
		at := strings.IndexByte(s, '@')
		if at <= 0 {
			return nil, fmt.Errorf("index: malformed call edge %q", s)
		}
		id, err := strconv.Atoi(s[:at])
		if err != nil {
			return nil, fmt.Errorf("index: malformed call edge %q: %w", s, err)
		}
		l, err := r.loc(s[at+1:])
		if err != nil {
			return nil, err
		}
		out = append(out, FuncRef{ID: FuncID(id), Loc: l})
	}
	return out, nil
}

// validate checks that every cross reference points inside its table.
func validate(f *File) error {
	nt, nf, nv := len(f.Types), len(f.Funcs), len(f.Vars)
	checkT := func(id TypeID) bool { return id >= 0 && int(id) < nt }
	checkF := func(id FuncID) bool { return id >= 0 && int(id) < nf }
	checkV := func(id VarID) bool { return id >= 0 && int(id) < nv }

	for i, t := range f.Types {
		ok := checkT(t.AliasOf) && all(t.Parents, checkT) && all(t.Derived, checkT) &&
			all(t.Types, checkT) && all(t.Funcs, checkF) && all(t.Vars, checkV)
		if !ok {
			return fmt.Errorf("index: type %d has a dangling reference", i)
		}
	}
	for i, fn := range f.Funcs {
		ok := checkT(fn.DeclaringType) && (fn.Base == NoFunc || checkF(fn.Base)) &&
			all(fn.Derived, checkF) && all(fn.Locals, checkV)
		for _, r := range fn.Callers {
			ok = ok && checkF(r.ID)
		}
		for _, r := range fn.Callees {
			ok = ok && checkF(r.ID)
		}
		if !ok {
			return fmt.Errorf("index: func %d has a dangling reference", i)
		}
	}
	for i, v := range f.Vars {
		if !checkT(v.DeclaringType) || !checkT(v.VariableType) {
			return fmt.Errorf("index: var %d has a dangling reference", i)
		}
	}
	return nil
}

func all[T any](in []T, ok func(T) bool) bool {
	for _, v := range in {
		if !ok(v) {
			return false
		}
	}
	return true
}
