package index

// AddUsage appends loc to uses unless an equal location (ignoring the
// interesting flag) is already present, in which case the existing entry is
// upgraded to interesting when loc is. The scan runs from the end because
// repeated visits of the same span are adjacent.
func AddUsage(uses []Location, loc Location) []Location {
	if !loc.Valid() {
		return uses
	}
	for i := len(uses) - 1; i >= 0; i-- {
		if uses[i].SameAs(loc) {
			if loc.Interesting() {
				uses[i] = uses[i].WithInteresting(true)
			}
			return uses
		}
	}
	return append(uses, loc)
}

// RemoveUsage deletes the entry equal to loc ignoring the interesting flag.
func RemoveUsage(uses []Location, loc Location) []Location {
	for i := len(uses) - 1; i >= 0; i-- {
		if uses[i].SameAs(loc) {
			return append(uses[:i], uses[i+1:]...)
		}
	}
	return uses
}

// AddFuncRef appends ref unless an edge to the same function at the same
// site exists.
func AddFuncRef(refs []FuncRef, ref FuncRef) []FuncRef {
	for i := len(refs) - 1; i >= 0; i-- {
		if refs[i].ID == ref.ID && refs[i].Loc.SameAs(ref.Loc) {
			if ref.Loc.Interesting() {
				refs[i].Loc = refs[i].Loc.WithInteresting(true)
			}
			return refs
		}
	}
	return append(refs, ref)
}

// RemoveFuncRef deletes the edge matching ref.
func RemoveFuncRef(refs []FuncRef, ref FuncRef) []FuncRef {
	for i := len(refs) - 1; i >= 0; i-- {
		if refs[i].ID == ref.ID && refs[i].Loc.SameAs(ref.Loc) {
			return append(refs[:i], refs[i+1:]...)
		}
	}
	return refs
}

// AddUnique appends v when it is not already present.
func AddUnique[T comparable](list []T, v T) []T {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}

// RemoveValue deletes the first occurrence of v.
func RemoveValue[T comparable](list []T, v T) []T {
	for i, existing := range list {
		if existing == v {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}
