package index

import "github.com/lexcodex/ccindex/framework/ast"

// AnonymousName is the short name given to unnamed records.
const AnonymousName = "<anonymous>"

// qualifier composes qualified names, caching the qualification of each
// container by its identity string.
type qualifier struct {
	cache map[string]string
}

func newQualifier() *qualifier {
	return &qualifier{cache: make(map[string]string)}
}

// ShortName returns the name a record is displayed under. Anonymous
// namespaces have no name of their own.
func ShortName(c *ast.Cursor) string {
	if !c.Anonymous() {
		return c.Name
	}
	if c.Kind == ast.KindNamespace {
		return ""
	}
	return AnonymousName
}

// Qualified returns the fully qualified name of c. An anonymous namespace
// qualifies as its parent, except at file scope where it contributes an
// empty leading component, so g inside it becomes "::g".
func (q *qualifier) Qualified(c *ast.Cursor) string {
	prefix, scoped := q.scope(c)
	if c.Kind == ast.KindNamespace && c.Anonymous() {
		return prefix
	}
	if !scoped {
		return ShortName(c)
	}
	return prefix + "::" + ShortName(c)
}

func (q *qualifier) scope(c *ast.Cursor) (string, bool) {
	s := semanticScope(c)
	if s == nil {
		return "", false
	}
	if s.USR != "" {
		if name, ok := q.cache[s.USR]; ok {
			return name, true
		}
	}
	name := q.Qualified(s)
	if s.USR != "" {
		q.cache[s.USR] = name
	}
	return name, true
}

// semanticScope returns the nearest declaring scope of c, skipping
// statements and other non-declaration cursors. Nil means file scope.
func semanticScope(c *ast.Cursor) *ast.Cursor {
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
