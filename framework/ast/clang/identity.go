package clang

import (
	"fmt"
	"strings"

	"github.com/lexcodex/ccindex/framework/ast"
)

// usr synthesizes a stable identity string in the spirit of clang's USRs.
// Redeclarations of one entity in different translation units yield the
// same string; entities with internal linkage embed their file.
func (cv *converter) usr(c *ast.Cursor) string {
	if u, ok := cv.usrs[c]; ok {
		return u
	}
	cv.usrs[c] = ""
	u := cv.identity(c)
	cv.usrs[c] = u
	return u
}

func (cv *converter) identity(c *ast.Cursor) string {
	if isLocal(c) {
		if c.Name == "" || !c.Pos.Valid() {
			return ""
		}
		return fmt.Sprintf("c:%s@%d:%d@%s", c.Pos.Path, c.Pos.Line, c.Pos.Column, c.Name)
	}
	prefix := "c:"
	if s := scopeOf(c); s != nil {
		if prefix = cv.usr(s); prefix == "" {
			return ""
		}
	}
	n := cv.info[c]
	switch c.Kind {
	case ast.KindNamespace:
		if c.Anonymous() {
			return prefix + "@aN@" + c.Pos.Path
		}
		return prefix + "@N@" + c.Name
	case ast.KindClass, ast.KindStruct:
		return prefix + anonymous("@S@", c)
	case ast.KindUnion:
		return prefix + anonymous("@U@", c)
	case ast.KindEnum:
		return prefix + anonymous("@E@", c)
	case ast.KindClassTemplate:
		return prefix + "@ST@" + c.Name
	case ast.KindClassTemplateSpecialization:
		return prefix + "@S@" + c.Name + ">" + strings.Join(templateArgs(n), "#")
	case ast.KindTypedef, ast.KindTypeAlias:
		return prefix + "@T@" + c.Name
	case ast.KindFunction, ast.KindMethod, ast.KindConstructor, ast.KindDestructor, ast.KindConversion:
		return prefix + "@F@" + c.Name + "#" + signature(c) + internal(c, n)
	case ast.KindFunctionTemplate:
		return prefix + "@FT@" + c.Name + "#" + signature(c) + internal(c, n)
	case ast.KindField:
		if c.Name == "" {
			return ""
		}
		return prefix + "@FI@" + c.Name
	case ast.KindVariable, ast.KindEnumConstant:
		if c.Name == "" {
			return ""
		}
		return prefix + "@" + c.Name + internal(c, n)
	}
	return ""
}

func anonymous(tag string, c *ast.Cursor) string {
	if !c.Anonymous() {
		return tag + c.Name
	}
	return fmt.Sprintf("%sa@%s:%d:%d", strings.TrimSuffix(tag, "@"), c.Pos.Path, c.Pos.Line, c.Pos.Column)
}

func signature(c *ast.Cursor) string {
	if c.Type == nil {
		return ""
	}
	return c.Type.Spelling
}

// internal tags file-scope statics with their file.
func internal(c *ast.Cursor, n *node) string {
	if n == nil || n.StorageClass != "static" {
		return ""
	}
	if s := scopeOf(c); s != nil && s.Kind.IsRecord() {
		return ""
	}
	return "@" + c.Pos.Path
}

func templateArgs(n *node) []string {
	if n == nil {
		return nil
	}
	var args []string
	for _, child := range n.Inner {
		if child.Kind == "TemplateArgument" && child.Type != nil {
			args = append(args, child.Type.QualType)
		}
	}
	return args
}

// isLocal reports whether c is a parameter or a variable declared inside a
// function.
func isLocal(c *ast.Cursor) bool {
	switch c.Kind {
	case ast.KindParameter:
		return true
	case ast.KindVariable:
		encl := c.EnclosingDeclaration()
		return encl != nil && encl.Kind.IsCallable()
	}
	return false
}

// indexNames builds the lookup tables used to resolve spelled type names.
func (cv *converter) indexNames() {
	for _, c := range cv.decls {
		cat := c.Kind.Category()
		if cat != ast.CategoryType && cat != ast.CategoryAlias {
			continue
		}
		if c.Anonymous() || c.Kind == ast.KindClassTemplateSpecialization {
			continue
		}
		qn := cv.qualName(c)
		cv.qualNames[c] = qn
		cv.byQual[qn] = append(cv.byQual[qn], c)
		cv.byShort[c.Name] = append(cv.byShort[c.Name], c)
	}
}

func (cv *converter) qualName(c *ast.Cursor) string {
	parts := []string{c.Name}
	for s := scopeOf(c); s != nil; s = scopeOf(s) {
		if s.Anonymous() {
			continue
		}
		parts = append(parts, s.Name)
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, "::")
}

// lookupType finds the declaration a spelled type name refers to. The
// spelling may be partially qualified.
func (cv *converter) lookupType(name string) *ast.Cursor {
	name = strings.TrimPrefix(name, "::")
	if name == "" {
		return nil
	}
	if found := preferDefinition(cv.byQual[name]); found != nil {
		return found
	}
	short := name
	if i := strings.LastIndex(name, "::"); i >= 0 {
		short = name[i+2:]
	}
	var matches []*ast.Cursor
	for _, c := range cv.byShort[short] {
		if strings.HasSuffix("::"+cv.qualNames[c], "::"+name) {
			matches = append(matches, c)
		}
	}
	return preferDefinition(matches)
}

func preferDefinition(cs []*ast.Cursor) *ast.Cursor {
	for _, c := range cs {
		if c.Definition {
			return c
		}
	}
	if len(cs) > 0 {
		return cs[0]
	}
	return nil
}

func (cv *converter) typeRef(spelling string, pos ast.Position, declID string) *ast.TypeRef {
	name, layers := splitType(spelling)
	var decl *ast.Cursor
	if declID != "" {
		decl = cv.byID[declID]
	}
	if decl == nil {
		decl = cv.lookupType(name)
	}
	if layers == 0 {
		return &ast.TypeRef{Spelling: spelling, Pos: pos, Decl: decl}
	}
	t := &ast.TypeRef{Spelling: name, Pos: pos, Decl: decl}
	for i := 0; i < layers; i++ {
		t = &ast.TypeRef{Spelling: spelling, Pos: pos, Pointee: t}
	}
	return t
}

var typeQualifiers = []string{"const ", "volatile ", "struct ", "class ", "union ", "enum ", "typename "}

// splitType reduces a printed type to the name of the declaration it is
// built on and the number of pointer or reference layers around it.
func splitType(spelling string) (string, int) {
	s := strings.TrimSpace(spelling)
	if i := strings.IndexAny(s, "(["); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	layers := 0
	for {
		switch {
		case strings.HasSuffix(s, "&&"):
			s, layers = strings.TrimSpace(s[:len(s)-2]), layers+1
		case strings.HasSuffix(s, "*"), strings.HasSuffix(s, "&"):
			s, layers = strings.TrimSpace(s[:len(s)-1]), layers+1
		case strings.HasSuffix(s, " const"):
			s = strings.TrimSpace(strings.TrimSuffix(s, " const"))
		case strings.HasSuffix(s, " volatile"):
			s = strings.TrimSpace(strings.TrimSuffix(s, " volatile"))
		default:
			return baseName(s), layers
		}
	}
}

func baseName(s string) string {
	for changed := true; changed; {
		changed = false
		for _, q := range typeQualifiers {
			if strings.HasPrefix(s, q) {
				s = strings.TrimPrefix(s, q)
				changed = true
			}
		}
	}
	if i := strings.IndexByte(s, '<'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
