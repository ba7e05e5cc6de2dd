package ast

// Kind enumerates the cursor kinds produced by a parser.
type Kind int

const (
	KindInvalid Kind = iota
	KindTranslationUnit

	KindNamespace
	KindClass
	KindStruct
	KindUnion
	KindEnum
	KindClassTemplate
	KindClassTemplateSpecialization
	KindTypedef
	KindTypeAlias
	KindFunction
	KindFunctionTemplate
	KindMethod
	KindConstructor
	KindDestructor
	KindConversion
	KindField
	KindVariable
	KindParameter
	KindEnumConstant

	// Reference kinds. Referenced points at the declaration being used.
	KindTypeRef
	KindTemplateRef
	KindNamespaceRef
	KindDeclRef
	KindMemberRef
	KindCallExpr
	KindConstructExpr

	// KindUnexposed covers statements and expressions the index does not
	// model; their children are still visited.
	KindUnexposed
)

var kindNames = map[Kind]string{
	KindInvalid:                     "invalid",
	KindTranslationUnit:             "translation_unit",
	KindNamespace:                   "namespace",
	KindClass:                       "class",
	KindStruct:                      "struct",
	KindUnion:                       "union",
	KindEnum:                        "enum",
	KindClassTemplate:               "class_template",
	KindClassTemplateSpecialization: "class_template_specialization",
	KindTypedef:                     "typedef",
	KindTypeAlias:                   "type_alias",
	KindFunction:                    "function",
	KindFunctionTemplate:            "function_template",
	KindMethod:                      "method",
	KindConstructor:                 "constructor",
	KindDestructor:                  "destructor",
	KindConversion:                  "conversion",
	KindField:                       "field",
	KindVariable:                    "variable",
	KindParameter:                   "parameter",
	KindEnumConstant:                "enum_constant",
	KindTypeRef:                     "type_ref",
	KindTemplateRef:                 "template_ref",
	KindNamespaceRef:                "namespace_ref",
	KindDeclRef:                     "decl_ref",
	KindMemberRef:                   "member_ref",
	KindCallExpr:                    "call_expr",
	KindConstructExpr:               "construct_expr",
	KindUnexposed:                   "unexposed",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Category groups declaration kinds for dispatch.
type Category int

const (
	CategoryNone Category = iota
	CategoryNamespace
	CategoryType
	CategoryAlias
	CategoryFunction
	CategoryVariable
)

// Category maps a declaration kind to its entity category. Reference and
// statement kinds map to CategoryNone.
func (k Kind) Category() Category {
	switch k {
	case KindNamespace:
		return CategoryNamespace
	case KindClass, KindStruct, KindUnion, KindEnum, KindClassTemplate, KindClassTemplateSpecialization:
		return CategoryType
	case KindTypedef, KindTypeAlias:
		return CategoryAlias
	case KindFunction, KindFunctionTemplate, KindMethod, KindConstructor, KindDestructor, KindConversion:
		return CategoryFunction
	case KindField, KindVariable, KindParameter, KindEnumConstant:
		return CategoryVariable
	default:
		return CategoryNone
	}
}

// IsDeclaration reports whether k declares an entity.
func (k Kind) IsDeclaration() bool {
	return k.Category() != CategoryNone
}

// IsReference reports whether k refers to an entity declared elsewhere.
func (k Kind) IsReference() bool {
	switch k {
	case KindTypeRef, KindTemplateRef, KindNamespaceRef, KindDeclRef, KindMemberRef, KindCallExpr, KindConstructExpr:
		return true
	}
	return false
}

// IsCallable reports whether k is a function-like declaration.
func (k Kind) IsCallable() bool {
	return k.Category() == CategoryFunction
}

// IsRecord reports whether k can own members.
func (k Kind) IsRecord() bool {
	switch k {
	case KindClass, KindStruct, KindUnion, KindClassTemplate, KindClassTemplateSpecialization:
		return true
	}
	return false
}

// Position is a 1-based source position.
type Position struct {
	Path   string
	Line   int
	Column int
	// System is set for positions inside system or library headers.
	System bool
}

// Valid reports whether the position names a file and line.
func (p Position) Valid() bool {
	return p.Path != "" && p.Line > 0
}

// TypeRef describes the type spelled at a declaration or base specifier.
type TypeRef struct {
	Spelling string
	Pos      Position
	// Decl is the declaration of the named type; nil for fundamental types.
	Decl *Cursor
	// Pointee is set when the type is a pointer or reference.
	Pointee *TypeRef
}

// Canonical strips pointer and reference layers and maps template
// specializations to their primary template declaration.
func (t *TypeRef) Canonical() *Cursor {
	for t != nil && t.Pointee != nil {
		t = t.Pointee
	}
	if t == nil || t.Decl == nil {
		return nil
	}
	decl := t.Decl
	for decl.Template != nil && decl.Template != decl {
		decl = decl.Template
	}
	return decl
}

// Cursor is one node of a parsed translation unit.
type Cursor struct {
	Kind Kind
	// USR is the parser's stable identity string. Empty when the parser could
	// not produce one.
	USR        string
	Name       string
	Pos        Position
	Definition bool
	Implicit   bool

	// Semantic is the declaring scope (the class for an out-of-line method).
	Semantic *Cursor
	// Lexical is the syntactic parent in the tree.
	Lexical *Cursor

	Type      *TypeRef
	Bases     []*TypeRef
	Overrides []*Cursor

	// Referenced is the declaration used by a reference cursor.
	Referenced *Cursor
	// Template is the primary template of a specialization.
	Template *Cursor

	Children []*Cursor
}

// Anonymous reports whether the declaration has no spelled name.
func (c *Cursor) Anonymous() bool {
	return c.Name == ""
}

// Add appends children, wiring their lexical parent and defaulting their
// semantic parent to c.
func (c *Cursor) Add(children ...*Cursor) *Cursor {
	for _, child := range children {
		if child == nil {
			continue
		}
		child.Lexical = c
		if child.Semantic == nil {
			child.Semantic = c
		}
		c.Children = append(c.Children, child)
	}
	return c
}

// EnclosingDeclaration walks lexical parents until it finds a declaration
// cursor. It returns nil at translation-unit scope.
func (c *Cursor) EnclosingDeclaration() *Cursor {
	for p := c.Lexical; p != nil; p = p.Lexical {
		if p.Kind == KindTranslationUnit {
			return nil
		}
		if p.Kind.IsDeclaration() {
			return p
		}
	}
	return nil
}

// TranslationUnit is the parser output for one source file.
type TranslationUnit struct {
	Path string
	Args []string
	Root *Cursor
}
