package ast

// VisitResult controls traversal from a Visitor.
type VisitResult int

const (
	// VisitBreak stops the whole traversal.
	VisitBreak VisitResult = iota
	// VisitContinue skips the children of the current cursor.
	VisitContinue
	// VisitRecurse descends into the children of the current cursor.
	VisitRecurse
)

// Visitor is called for each child cursor with its lexical parent.
type Visitor func(cursor, parent *Cursor) VisitResult

// VisitChildren walks the children of root depth-first in source order. It
// returns false when the visitor stopped the walk with VisitBreak.
func VisitChildren(root *Cursor, fn Visitor) bool {
	if root == nil {
		return true
	}
	for _, child := range root.Children {
		switch fn(child, root) {
		case VisitBreak:
			return false
		case VisitRecurse:
			if !VisitChildren(child, fn) {
				return false
			}
		case VisitContinue:
		}
	}
	return true
}

// Find returns the first cursor under root accepted by match.
func Find(root *Cursor, match func(*Cursor) bool) *Cursor {
	var found *Cursor
	VisitChildren(root, func(c, _ *Cursor) VisitResult {
		if match(c) {
			found = c
			return VisitBreak
		}
		return VisitRecurse
	})
	return found
}
