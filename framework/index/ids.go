package index

// IDCache maps identity strings to dense local ids, separately for types,
// functions and variables. It is the only place ids are minted.
type IDCache struct {
	file  *File
	types map[string]TypeID
	funcs map[string]FuncID
	vars  map[string]VarID
}

func newIDCache(f *File) *IDCache {
	c := &IDCache{
		file:  f,
		types: make(map[string]TypeID, len(f.Types)),
		funcs: make(map[string]FuncID, len(f.Funcs)),
		vars:  make(map[string]VarID, len(f.Vars)),
	}
	for i, t := range f.Types {
		if i == 0 || t == nil || t.USR == "" {
			continue
		}
		c.types[t.USR] = TypeID(i)
	}
	for i, fn := range f.Funcs {
		if fn != nil && fn.USR != "" {
			c.funcs[fn.USR] = FuncID(i)
		}
	}
	for i, v := range f.Vars {
		if v != nil && v.USR != "" {
			c.vars[v.USR] = VarID(i)
		}
	}
	return c
}

// ToID looks up or mints the id for usr in the table chosen by kind. An
// unknown kind mints nothing and yields index -1.
func (c *IDCache) ToID(kind SymbolKind, usr string) SymbolID {
	switch kind {
	case KindType:
		return SymbolID{Kind: kind, Index: int(c.ToTypeID(usr))}
	case KindFunc:
		return SymbolID{Kind: kind, Index: int(c.ToFuncID(usr))}
	case KindVar:
		return SymbolID{Kind: kind, Index: int(c.ToVarID(usr))}
	default:
		return SymbolID{Kind: kind, Index: -1}
	}
}

// ToTypeID returns the type id for usr. The empty identity maps to the
// unresolved type at index 0.
func (c *IDCache) ToTypeID(usr string) TypeID {
	if usr == "" {
		return NoType
	}
	if id, ok := c.types[usr]; ok {
		return id
	}
	id := TypeID(len(c.file.Types))
	c.file.Types = append(c.file.Types, newTypeDef(usr))
	c.types[usr] = id
	return id
}

// ToFuncID returns the function id for usr, or NoFunc for an empty identity.
func (c *IDCache) ToFuncID(usr string) FuncID {
	if usr == "" {
		return NoFunc
	}
	if id, ok := c.funcs[usr]; ok {
		return id
	}
	id := FuncID(len(c.file.Funcs))
	c.file.Funcs = append(c.file.Funcs, newFuncDef(usr))
	c.funcs[usr] = id
	return id
}

// ToVarID returns the variable id for usr, or NoVar for an empty identity.
func (c *IDCache) ToVarID(usr string) VarID {
	if usr == "" {
		return NoVar
	}
	if id, ok := c.vars[usr]; ok {
		return id
	}
	id := VarID(len(c.file.Vars))
	c.file.Vars = append(c.file.Vars, newVarDef(usr))
	c.vars[usr] = id
	return id
}

// Lookup returns a previously minted id without creating one.
func (c *IDCache) Lookup(kind SymbolKind, usr string) (SymbolID, bool) {
	var (
		idx int
		ok  bool
	)
	switch kind {
	case KindType:
		var id TypeID
		id, ok = c.types[usr]
		idx = int(id)
	case KindFunc:
		var id FuncID
		id, ok = c.funcs[usr]
		idx = int(id)
	case KindVar:
		var id VarID
		id, ok = c.vars[usr]
		idx = int(id)
	}
	return SymbolID{Kind: kind, Index: idx}, ok
}

// Resolve returns the common record fields for id. The pointer is valid
// until the next mutation of the owning table is observed by the caller.
// It returns nil for an unknown kind.
func (c *IDCache) Resolve(id SymbolID) *Def {
	switch id.Kind {
	case KindType:
		return &c.file.Types[id.Index].Def
	case KindFunc:
		return &c.file.Funcs[id.Index].Def
	case KindVar:
		return &c.file.Vars[id.Index].Def
	default:
		return nil
	}
}
