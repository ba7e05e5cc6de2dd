package server

import (
	"strings"

	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"

	"github.com/lexcodex/ccindex/framework/db"
)

// documentPath returns the file system path of an editor URI.
func documentPath(u protocol.DocumentURI) string {
	return uri.URI(u).Filename()
}

func documentURI(path string) protocol.DocumentURI {
	return protocol.DocumentURI(uri.File(path))
}

func toPosition(l db.QueryLocation) protocol.Position {
	return protocol.Position{Line: uint32(l.Line), Character: uint32(l.Column)}
}

// toLocation renders a point location; the index keeps no end positions.
func toLocation(l db.QueryLocation) protocol.Location {
	pos := toPosition(l)
	return protocol.Location{URI: documentURI(l.Path), Range: protocol.Range{Start: pos, End: pos}}
}

func toLocations(in []db.QueryLocation) []protocol.Location {
	seen := make(map[db.QueryLocation]bool, len(in))
	out := make([]protocol.Location, 0, len(in))
	for _, l := range in {
		if seen[l] {
			continue
		}
		seen[l] = true
		out = append(out, toLocation(l))
	}
	return out
}

func symbolKind(k db.SymbolKind) protocol.SymbolKind {
	switch k {
	case db.SymbolClass:
		return protocol.SymbolKindClass
	case db.SymbolMethod:
		return protocol.SymbolKindMethod
	case db.SymbolVariable:
		return protocol.SymbolKindVariable
	default:
		return protocol.SymbolKindFunction
	}
}

// containerName is the scope part of a qualified name.
func containerName(qualified string) string {
	if i := strings.LastIndex(qualified, "::"); i > 0 {
		return qualified[:i]
	}
	return ""
}

func toSymbolInformation(s db.Symbol) protocol.SymbolInformation {
	name := s.QualifiedName
	if name == "" {
		name = s.ShortName
	}
	return protocol.SymbolInformation{
		Name:          name,
		Kind:          symbolKind(s.Kind),
		Location:      toLocation(s.Location),
		ContainerName: containerName(s.QualifiedName),
	}
}

func toSymbols(in []db.Symbol) []protocol.SymbolInformation {
	out := make([]protocol.SymbolInformation, 0, len(in))
	for _, s := range in {
		if !s.HasLoc {
			continue
		}
		out = append(out, toSymbolInformation(s))
	}
	return out
}

// CallReference is one entry of a caller or callee listing.
type CallReference struct {
	Symbol   protocol.SymbolInformation `json:"symbol"`
	CallSite protocol.Location          `json:"callSite"`
}

func toCallReferences(in []db.Reference) []CallReference {
	out := make([]CallReference, 0, len(in))
	for _, r := range in {
		out = append(out, CallReference{Symbol: toSymbolInformation(r.Symbol), CallSite: toLocation(r.Location)})
	}
	return out
}
