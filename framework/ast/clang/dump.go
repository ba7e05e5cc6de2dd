package clang

// node mirrors one object of clang's -ast-dump=json output. Only the fields
// the converter reads are declared.
type node struct {
	ID    string       `json:"id"`
	Kind  string       `json:"kind"`
	Loc   *sourceLoc   `json:"loc,omitempty"`
	Range *sourceRange `json:"range,omitempty"`

	Name               string   `json:"name,omitempty"`
	TagUsed            string   `json:"tagUsed,omitempty"`
	IsImplicit         bool     `json:"isImplicit,omitempty"`
	CompleteDefinition bool     `json:"completeDefinition,omitempty"`
	Virtual            bool     `json:"virtual,omitempty"`
	StorageClass       string   `json:"storageClass,omitempty"`
	Init               string   `json:"init,omitempty"`
	Type               *typeRef `json:"type,omitempty"`
	CtorType           *typeRef `json:"ctorType,omitempty"`
	Bases              []base   `json:"bases,omitempty"`

	ParentDeclContextID  string   `json:"parentDeclContextId,omitempty"`
	PreviousDecl         string   `json:"previousDecl,omitempty"`
	ReferencedDecl       *declRef `json:"referencedDecl,omitempty"`
	ReferencedMemberDecl string   `json:"referencedMemberDecl,omitempty"`
	// Decl is set on type nodes that name a declaration.
	Decl *declRef `json:"decl,omitempty"`

	Inner []*node `json:"inner,omitempty"`
}

// sourceLoc is a location as clang prints it: file and line are omitted when
// they repeat the previously printed location.
type sourceLoc struct {
	Offset       *int       `json:"offset,omitempty"`
	File         string     `json:"file,omitempty"`
	Line         int        `json:"line,omitempty"`
	Col          int        `json:"col,omitempty"`
	TokLen       int        `json:"tokLen,omitempty"`
	SpellingLoc  *sourceLoc `json:"spellingLoc,omitempty"`
	ExpansionLoc *sourceLoc `json:"expansionLoc,omitempty"`
}

type sourceRange struct {
	Begin *sourceLoc `json:"begin,omitempty"`
	End   *sourceLoc `json:"end,omitempty"`
}

type typeRef struct {
	QualType          string `json:"qualType"`
	DesugaredQualType string `json:"desugaredQualType,omitempty"`
}

type base struct {
	Access string   `json:"access,omitempty"`
	Type   *typeRef `json:"type,omitempty"`
}

type declRef struct {
	ID   string   `json:"id"`
	Kind string   `json:"kind,omitempty"`
	Name string   `json:"name,omitempty"`
	Type *typeRef `json:"type,omitempty"`
}

func (n *node) qualType() string {
	if n.Type == nil {
		return ""
	}
	return n.Type.QualType
}

func (n *node) hasBody() bool {
	for _, child := range n.Inner {
		if child.Kind == "CompoundStmt" || child.Kind == "CXXTryStmt" {
			return true
		}
	}
	return false
}

func isFunctionKind(kind string) bool {
	switch kind {
	case "FunctionDecl", "CXXMethodDecl", "CXXConstructorDecl", "CXXDestructorDecl", "CXXConversionDecl":
		return true
	}
	return false
}

func isRecordKind(kind string) bool {
	return kind == "CXXRecordDecl" || kind == "RecordDecl"
}
