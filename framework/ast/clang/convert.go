package clang

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/segmentio/encoding/json"

	"github.com/lexcodex/ccindex/framework/ast"
)

// ErrNotTranslationUnit is returned for a dump whose root is not a
// TranslationUnitDecl.
var ErrNotTranslationUnit = errors.New("clang: dump root is not a translation unit")

// Options control how a dump is converted.
type Options struct {
	// Dir resolves relative file names printed in the dump.
	Dir string
	// SystemPrefixes mark the files whose entities are system entities.
	SystemPrefixes []string
}

// Convert turns the JSON AST dump of path into a cursor tree carrying
// synthesized identity strings.
func Convert(path string, data []byte, opts Options) (*ast.TranslationUnit, error) {
	var root node
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("clang: decode AST dump: %w", err)
	}
	if root.Kind != "TranslationUnitDecl" {
		return nil, fmt.Errorf("%w: got %q", ErrNotTranslationUnit, root.Kind)
	}
	cv := newConverter(path, opts)
	return cv.run(&root), nil
}

type pendingType struct {
	c        *ast.Cursor
	spelling string
	pos      ast.Position
	declID   string
}

type converter struct {
	opts  Options
	path  string
	paths map[string]string

	// Delta state of the location printer.
	lastFile string
	lastLine int

	byID  map[string]*ast.Cursor
	info  map[*ast.Cursor]*node
	decls []*ast.Cursor

	types     []pendingType
	bases     map[*ast.Cursor][]base
	links     []func()
	specs     []*ast.Cursor
	instances map[*ast.Cursor][]*node

	byQual    map[string][]*ast.Cursor
	byShort   map[string][]*ast.Cursor
	qualNames map[*ast.Cursor]string
	usrs      map[*ast.Cursor]string
}

func newConverter(path string, opts Options) *converter {
	cv := &converter{
		opts:      opts,
		paths:     make(map[string]string),
		byID:      make(map[string]*ast.Cursor),
		info:      make(map[*ast.Cursor]*node),
		bases:     make(map[*ast.Cursor][]base),
		instances: make(map[*ast.Cursor][]*node),
		byQual:    make(map[string][]*ast.Cursor),
		byShort:   make(map[string][]*ast.Cursor),
		qualNames: make(map[*ast.Cursor]string),
		usrs:      make(map[*ast.Cursor]string),
	}
	cv.path = cv.normalize(path)
	return cv
}

func (cv *converter) run(n *node) *ast.TranslationUnit {
	root := &ast.Cursor{Kind: ast.KindTranslationUnit, Name: cv.path, Pos: ast.Position{Path: cv.path}}
	cv.spans(n)
	cv.children(n.Inner, root)
	cv.link()
	return &ast.TranslationUnit{Path: cv.path, Root: root}
}

func (cv *converter) normalize(p string) string {
	if out, ok := cv.paths[p]; ok {
		return out
	}
	out := p
	if !filepath.IsAbs(out) && cv.opts.Dir != "" {
		out = filepath.Join(cv.opts.Dir, out)
	}
	out = filepath.Clean(out)
	cv.paths[p] = out
	return out
}

func (cv *converter) system(path string) bool {
	if path == cv.path {
		return false
	}
	for _, prefix := range cv.opts.SystemPrefixes {
		if prefix != "" && strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// position resolves l against the printer state. Every printed location
// must pass through here in document order.
func (cv *converter) position(l *sourceLoc) ast.Position {
	if l == nil {
		return ast.Position{}
	}
	if l.SpellingLoc != nil || l.ExpansionLoc != nil {
		cv.position(l.SpellingLoc)
		return cv.position(l.ExpansionLoc)
	}
	if l.File != "" {
		cv.lastFile = l.File
	}
	if l.Line != 0 {
		cv.lastLine = l.Line
	}
	if l.Col == 0 || cv.lastFile == "" || cv.lastLine == 0 {
		return ast.Position{}
	}
	path := cv.normalize(cv.lastFile)
	return ast.Position{Path: path, Line: cv.lastLine, Column: l.Col, System: cv.system(path)}
}

func (cv *converter) spans(n *node) (pos, begin, end ast.Position) {
	pos = cv.position(n.Loc)
	if n.Range != nil {
		begin = cv.position(n.Range.Begin)
		end = cv.position(n.Range.End)
	}
	if !begin.Valid() {
		begin = pos
	}
	if !end.Valid() {
		end = begin
	}
	return pos, begin, end
}

// skip consumes the locations of nodes that produce no cursor.
func (cv *converter) skip(nodes []*node) {
	for _, n := range nodes {
		cv.spans(n)
		cv.skip(n.Inner)
	}
}

func (cv *converter) children(nodes []*node, parent *ast.Cursor) {
	for _, n := range nodes {
		cv.build(n, parent)
	}
}

func (cv *converter) build(n *node, parent *ast.Cursor) {
	pos, begin, end := cv.spans(n)
	if n.IsImplicit {
		cv.skip(n.Inner)
		return
	}
	switch {
	case n.Kind == "NamespaceDecl":
		c := cv.declare(n, ast.KindNamespace, pos, parent)
		c.Definition = true
		cv.children(n.Inner, c)
	case isRecordKind(n.Kind):
		c := cv.declare(n, recordKind(n.TagUsed), pos, parent)
		cv.record(c, n)
		cv.children(n.Inner, c)
	case n.Kind == "EnumDecl":
		c := cv.declare(n, ast.KindEnum, pos, parent)
		c.Definition = len(n.Inner) > 0
		cv.children(n.Inner, c)
	case n.Kind == "ClassTemplateDecl":
		cv.classTemplate(n, pos, parent)
	case n.Kind == "ClassTemplateSpecializationDecl" || n.Kind == "ClassTemplatePartialSpecializationDecl":
		c := cv.declare(n, ast.KindClassTemplateSpecialization, pos, parent)
		cv.record(c, n)
		cv.specs = append(cv.specs, c)
		cv.children(n.Inner, c)
	case n.Kind == "FunctionTemplateDecl":
		cv.functionTemplate(n, pos, parent)
	case isFunctionKind(n.Kind):
		c := cv.declare(n, functionKind(n.Kind), pos, parent)
		cv.function(c, n)
		cv.children(n.Inner, c)
	case n.Kind == "FieldDecl", n.Kind == "ParmVarDecl":
		kind := ast.KindField
		if n.Kind == "ParmVarDecl" {
			kind = ast.KindParameter
		}
		c := cv.declare(n, kind, pos, parent)
		c.Definition = true
		cv.variable(c, n, begin)
		cv.children(n.Inner, c)
	case n.Kind == "VarDecl":
		c := cv.declare(n, ast.KindVariable, pos, parent)
		c.Definition = n.Init != "" || (n.StorageClass != "extern" && !parent.Kind.IsRecord())
		cv.variable(c, n, begin)
		cv.children(n.Inner, c)
	case n.Kind == "EnumConstantDecl":
		c := cv.declare(n, ast.KindEnumConstant, pos, parent)
		c.Definition = true
		cv.children(n.Inner, c)
	case n.Kind == "TypedefDecl" || n.Kind == "TypeAliasDecl":
		kind := ast.KindTypedef
		if n.Kind == "TypeAliasDecl" {
			kind = ast.KindTypeAlias
		}
		c := cv.declare(n, kind, pos, parent)
		c.Definition = true
		cv.types = append(cv.types, pendingType{c: c, spelling: n.qualType(), pos: begin, declID: namedDecl(n.Inner)})
		cv.skip(n.Inner)
	case n.Kind == "DeclRefExpr":
		var id string
		if n.ReferencedDecl != nil {
			id = n.ReferencedDecl.ID
		}
		cv.reference(ast.KindDeclRef, id, begin, parent)
		cv.skip(n.Inner)
	case n.Kind == "MemberExpr":
		// The member name ends the expression.
		c := cv.reference(ast.KindMemberRef, n.ReferencedMemberDecl, end, parent)
		cv.children(n.Inner, c)
	case n.Kind == "CXXConstructExpr" || n.Kind == "CXXTemporaryObjectExpr":
		cv.construct(n, begin, parent)
	case ignored[n.Kind]:
		cv.skip(n.Inner)
	default:
		c := &ast.Cursor{Kind: ast.KindUnexposed, Pos: begin}
		parent.Add(c)
		cv.children(n.Inner, c)
	}
}

var ignored = map[string]bool{
	"AccessSpecDecl":           true,
	"FriendDecl":               true,
	"StaticAssertDecl":         true,
	"TemplateArgument":         true,
	"TemplateTypeParmDecl":     true,
	"NonTypeTemplateParmDecl":  true,
	"TemplateTemplateParmDecl": true,
	"UsingDecl":                true,
	"UsingShadowDecl":          true,
	"UsingDirectiveDecl":       true,
	"FullComment":              true,
}

func recordKind(tag string) ast.Kind {
	switch tag {
	case "struct":
		return ast.KindStruct
	case "union":
		return ast.KindUnion
	default:
		return ast.KindClass
	}
}

func functionKind(kind string) ast.Kind {
	switch kind {
	case "CXXMethodDecl":
		return ast.KindMethod
	case "CXXConstructorDecl":
		return ast.KindConstructor
	case "CXXDestructorDecl":
		return ast.KindDestructor
	case "CXXConversionDecl":
		return ast.KindConversion
	default:
		return ast.KindFunction
	}
}

// namedDecl returns the declaration named by the first type node under
// nodes that names one.
func namedDecl(nodes []*node) string {
	for _, n := range nodes {
		if n.Decl != nil && n.Decl.ID != "" {
			return n.Decl.ID
		}
		if id := namedDecl(n.Inner); id != "" {
			return id
		}
	}
	return ""
}

func (cv *converter) declare(n *node, kind ast.Kind, pos ast.Position, parent *ast.Cursor) *ast.Cursor {
	c := &ast.Cursor{Kind: kind, Name: n.Name, Pos: pos}
	parent.Add(c)
	cv.register(n.ID, c)
	cv.info[c] = n
	cv.decls = append(cv.decls, c)
	return c
}

func (cv *converter) register(id string, c *ast.Cursor) {
	if id != "" {
		cv.byID[id] = c
	}
}

func (cv *converter) record(c *ast.Cursor, n *node) {
	c.Definition = n.CompleteDefinition
	if len(n.Bases) > 0 {
		cv.bases[c] = n.Bases
	}
}

func (cv *converter) function(c *ast.Cursor, n *node) {
	c.Definition = n.hasBody()
	c.Type = &ast.TypeRef{Spelling: n.qualType()}
}

func (cv *converter) variable(c *ast.Cursor, n *node, pos ast.Position) {
	if spelling := n.qualType(); spelling != "" {
		cv.types = append(cv.types, pendingType{c: c, spelling: spelling, pos: pos})
	}
}

// classTemplate folds the templated record into the template cursor so
// members belong to the template itself.
func (cv *converter) classTemplate(n *node, pos ast.Position, parent *ast.Cursor) {
	c := cv.declare(n, ast.KindClassTemplate, pos, parent)
	patterned := false
	for _, child := range n.Inner {
		if !patterned && isRecordKind(child.Kind) {
			patterned = true
			cv.spans(child)
			cv.register(child.ID, c)
			cv.record(c, child)
			cv.children(child.Inner, c)
			continue
		}
		if child.Kind == "ClassTemplateSpecializationDecl" {
			cv.register(child.ID, c)
			cv.instances[c] = append(cv.instances[c], child)
		}
		cv.spans(child)
		cv.skip(child.Inner)
	}
}

func (cv *converter) functionTemplate(n *node, pos ast.Position, parent *ast.Cursor) {
	c := cv.declare(n, ast.KindFunctionTemplate, pos, parent)
	var pattern *node
	for _, child := range n.Inner {
		if pattern == nil && isFunctionKind(child.Kind) {
			pattern = child
			cv.spans(child)
			cv.register(child.ID, c)
			cv.function(c, child)
			if n.ParentDeclContextID == "" {
				n.ParentDeclContextID = child.ParentDeclContextID
			}
			n.Virtual = child.Virtual
			n.StorageClass = child.StorageClass
			cv.children(child.Inner, c)
			continue
		}
		if isFunctionKind(child.Kind) {
			cv.register(child.ID, c)
		}
		cv.spans(child)
		cv.skip(child.Inner)
	}
}

func (cv *converter) reference(kind ast.Kind, id string, pos ast.Position, parent *ast.Cursor) *ast.Cursor {
	c := &ast.Cursor{Kind: kind, Pos: pos}
	parent.Add(c)
	if id != "" {
		cv.links = append(cv.links, func() {
			if target := cv.byID[id]; target != nil {
				c.Referenced = target
				c.Name = target.Name
			}
		})
	}
	return c
}

func (cv *converter) construct(n *node, pos ast.Position, parent *ast.Cursor) {
	c := &ast.Cursor{Kind: ast.KindConstructExpr, Pos: pos}
	parent.Add(c)
	spelling, ctorType := n.qualType(), ""
	if n.CtorType != nil {
		ctorType = n.CtorType.QualType
	}
	cv.links = append(cv.links, func() {
		name, layers := splitType(spelling)
		if layers > 0 || name == "" {
			return
		}
		if ctor := constructor(cv.lookupType(name), ctorType); ctor != nil {
			c.Referenced = ctor
			c.Name = ctor.Name
		}
	})
	cv.children(n.Inner, c)
}

// constructor picks the constructor of record with the given signature, or
// its only constructor.
func constructor(record *ast.Cursor, signature string) *ast.Cursor {
	if record == nil {
		return nil
	}
	var ctors []*ast.Cursor
	for _, child := range record.Children {
		if child.Kind != ast.KindConstructor {
			continue
		}
		if signature != "" && child.Type != nil && child.Type.Spelling == signature {
			return child
		}
		ctors = append(ctors, child)
	}
	if len(ctors) == 1 {
		return ctors[0]
	}
	return nil
}

// link resolves everything that needs the whole tree.
func (cv *converter) link() {
	for _, c := range cv.decls {
		if id := cv.info[c].ParentDeclContextID; id != "" {
			if scope := cv.byID[id]; scope != nil && scope != c {
				c.Semantic = scope
			}
		}
	}
	for c, nodes := range cv.instances {
		for _, inst := range nodes {
			cv.aliasMembers(inst, c)
		}
	}
	cv.indexNames()
	for _, link := range cv.links {
		link()
	}
	for _, p := range cv.types {
		p.c.Type = cv.typeRef(p.spelling, p.pos, p.declID)
	}
	for c, bases := range cv.bases {
		for _, b := range bases {
			if b.Type == nil {
				continue
			}
			c.Bases = append(c.Bases, cv.typeRef(b.Type.QualType, ast.Position{}, ""))
		}
	}
	for _, c := range cv.specs {
		c.Template = cv.primaryTemplate(c)
	}
	for _, c := range cv.decls {
		if c.Kind == ast.KindMethod || c.Kind == ast.KindDestructor {
			if base := cv.overridden(c, make(map[*ast.Cursor]bool)); base != nil {
				c.Overrides = []*ast.Cursor{base}
			}
		}
	}
	for _, c := range cv.decls {
		c.USR = cv.usr(c)
	}
}

// aliasMembers maps the members of an implicit instantiation onto the
// template's members with the same name.
func (cv *converter) aliasMembers(inst *node, template *ast.Cursor) {
	for _, member := range inst.Inner {
		if member.ID == "" || member.Name == "" {
			continue
		}
		for _, child := range template.Children {
			if child.Name == member.Name && child.Kind.IsDeclaration() {
				cv.register(member.ID, child)
				break
			}
		}
	}
}

func (cv *converter) primaryTemplate(spec *ast.Cursor) *ast.Cursor {
	for _, c := range cv.byShort[spec.Name] {
		if c.Kind == ast.KindClassTemplate && scopeOf(c) == scopeOf(spec) {
			return c
		}
	}
	return nil
}

func (cv *converter) overridden(m *ast.Cursor, seen map[*ast.Cursor]bool) *ast.Cursor {
	rec := scopeOf(m)
	if rec == nil || !rec.Kind.IsRecord() {
		return nil
	}
	return cv.virtualIn(rec, m, seen)
}

func (cv *converter) virtualIn(rec, m *ast.Cursor, seen map[*ast.Cursor]bool) *ast.Cursor {
	for _, b := range rec.Bases {
		parent := b.Canonical()
		if parent == nil || seen[parent] {
			continue
		}
		seen[parent] = true
		for _, cand := range parent.Children {
			if cand.Kind != m.Kind || !sameSignature(cand, m) {
				continue
			}
			if cv.isVirtual(cand, seen) {
				return cand
			}
		}
		if found := cv.virtualIn(parent, m, seen); found != nil {
			return found
		}
	}
	return nil
}

func (cv *converter) isVirtual(m *ast.Cursor, seen map[*ast.Cursor]bool) bool {
	if n := cv.info[m]; n != nil && n.Virtual {
		return true
	}
	return cv.overridden(m, seen) != nil
}

func sameSignature(a, b *ast.Cursor) bool {
	if a.Kind == ast.KindDestructor {
		return true
	}
	if a.Name != b.Name || a.Type == nil || b.Type == nil {
		return false
	}
	return a.Type.Spelling == b.Type.Spelling
}

// scopeOf returns the nearest declaring scope, nil at file scope.
func scopeOf(c *ast.Cursor) *ast.Cursor {
	for p := c.Semantic; p != nil; p = p.Semantic {
		if p.Kind == ast.KindTranslationUnit {
			return nil
		}
		if p.Kind.IsDeclaration() {
			return p
		}
	}
	return nil
}
