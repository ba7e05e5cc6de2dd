package server

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/segmentio/encoding/json"
	"github.com/sourcegraph/jsonrpc2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.lsp.dev/protocol"

	"github.com/lexcodex/ccindex/framework/ast"
	"github.com/lexcodex/ccindex/framework/ast/asttest"
	"github.com/lexcodex/ccindex/framework/db"
	"github.com/lexcodex/ccindex/framework/index"
	"github.com/lexcodex/ccindex/framework/ipc"
)

const (
	shapeHeader = "/src/shape.h"
	mainSource  = "/src/main.cc"
)

func shapesDB(t *testing.T) *db.Database {
	t.Helper()
	paint := asttest.Decl(ast.KindMethod, "c:@S@Shape@F@paint#", "paint", asttest.At(shapeHeader, 2, 16))
	shape := asttest.Def(ast.KindClass, "c:@S@Shape", "Shape", asttest.At(shapeHeader, 1, 7), paint)
	circlePaint := asttest.Def(ast.KindMethod, "c:@S@Circle@F@paint#", "paint", asttest.At(shapeHeader, 5, 8))
	circlePaint.Overrides = []*ast.Cursor{paint}
	circle := asttest.Def(ast.KindClass, "c:@S@Circle", "Circle", asttest.At(shapeHeader, 4, 7), circlePaint)
	circle.Bases = []*ast.TypeRef{asttest.Type("Shape", shape, asttest.At(shapeHeader, 4, 23))}
	draw := asttest.Def(ast.KindFunction, "c:@F@draw#", "draw", asttest.At(mainSource, 3, 6),
		asttest.Body(asttest.Call(paint, asttest.At(mainSource, 3, 22))))

	file, err := index.Extract(asttest.TU(mainSource, shape, circle, draw), nil)
	require.NoError(t, err)
	d := db.New()
	require.NoError(t, d.Apply(db.Diff(nil, file)))
	return d
}

func positionParams(t *testing.T, path string, line, character uint32) []byte {
	t.Helper()
	raw, err := json.Marshal(protocol.TextDocumentPositionParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: documentURI(path)},
		Position:     protocol.Position{Line: line, Character: character},
	})
	require.NoError(t, err)
	return raw
}

func dispatch(t *testing.T, h *Handler, method string, params []byte) any {
	t.Helper()
	result, err := h.Dispatch(context.Background(), method, params)
	require.NoError(t, err)
	return result
}

func TestDefinitionFallsBackToDeclaration(t *testing.T) {
	h := NewHandler(shapesDB(t), nil)
	locs := dispatch(t, h, protocol.MethodTextDocumentDefinition, positionParams(t, mainSource, 2, 22)).([]protocol.Location)
	require.Len(t, locs, 1)
	assert.Equal(t, shapeHeader, documentPath(locs[0].URI))
	assert.Equal(t, protocol.Position{Line: 1, Character: 15}, locs[0].Range.Start)

	locs = dispatch(t, h, protocol.MethodTextDocumentDefinition, positionParams(t, mainSource, 20, 0)).([]protocol.Location)
	assert.Empty(t, locs)
}

func TestReferencesIncludeDeclaration(t *testing.T) {
	h := NewHandler(shapesDB(t), nil)
	params := func(include bool) []byte {
		raw, err := json.Marshal(protocol.ReferenceParams{
			TextDocumentPositionParams: protocol.TextDocumentPositionParams{
				TextDocument: protocol.TextDocumentIdentifier{URI: documentURI(shapeHeader)},
				Position:     protocol.Position{Line: 1, Character: 15},
			},
			Context: protocol.ReferenceContext{IncludeDeclaration: include},
		})
		require.NoError(t, err)
		return raw
	}
	paths := func(locs []protocol.Location) map[string]bool {
		out := map[string]bool{}
		for _, l := range locs {
			out[documentPath(l.URI)] = true
		}
		return out
	}
	uses := dispatch(t, h, protocol.MethodTextDocumentReferences, params(false)).([]protocol.Location)
	require.NotEmpty(t, uses)
	assert.Equal(t, map[string]bool{mainSource: true}, paths(uses))

	for _, l := range uses {
		assert.NotEqual(t, shapeHeader, documentPath(l.URI), "declaration spelling reported as a reference")
	}

	all := dispatch(t, h, protocol.MethodTextDocumentReferences, params(true)).([]protocol.Location)
	assert.Len(t, all, len(uses)+1)
	assert.Equal(t, map[string]bool{mainSource: true, shapeHeader: true}, paths(all))
	unique := map[protocol.Location]bool{}
	for _, l := range all {
		assert.False(t, unique[l], "duplicate location %v", l)
		unique[l] = true
	}
}

func TestSymbolQueries(t *testing.T) {
	h := NewHandler(shapesDB(t), nil)
	raw, err := json.Marshal(protocol.WorkspaceSymbolParams{Query: "circle"})
	require.NoError(t, err)
	symbols := dispatch(t, h, protocol.MethodWorkspaceSymbol, raw).([]protocol.SymbolInformation)
	var names []string
	for _, s := range symbols {
		names = append(names, s.Name)
	}
	assert.ElementsMatch(t, []string{"Circle", "Circle::paint"}, names)

	raw, err = json.Marshal(protocol.DocumentSymbolParams{TextDocument: protocol.TextDocumentIdentifier{URI: documentURI(shapeHeader)}})
	require.NoError(t, err)
	outline := dispatch(t, h, protocol.MethodTextDocumentDocumentSymbol, raw).([]protocol.SymbolInformation)
	require.Len(t, outline, 4)
	assert.Equal(t, "Shape", outline[0].Name)
	assert.Equal(t, protocol.SymbolKindClass, outline[0].Kind)
	for _, s := range outline {
		if s.Name == "Circle::paint" {
			assert.Equal(t, protocol.SymbolKindMethod, s.Kind)
			assert.Equal(t, "Circle", s.ContainerName)
		}
	}
}

func TestCallAndHierarchyQueries(t *testing.T) {
	h := NewHandler(shapesDB(t), nil)
	callers := dispatch(t, h, MethodCallers, positionParams(t, shapeHeader, 1, 15)).([]CallReference)
	require.Len(t, callers, 1)
	assert.Equal(t, "draw", callers[0].Symbol.Name)
	assert.Equal(t, protocol.Position{Line: 2, Character: 21}, callers[0].CallSite.Range.Start)

	callees := dispatch(t, h, MethodCallees, positionParams(t, mainSource, 2, 5)).([]CallReference)
	require.Len(t, callees, 1)
	assert.Equal(t, "Shape::paint", callees[0].Symbol.Name)

	// Types have no callers.
	assert.Empty(t, dispatch(t, h, MethodCallers, positionParams(t, shapeHeader, 0, 6)))

	base := dispatch(t, h, MethodBase, positionParams(t, shapeHeader, 4, 7)).([]protocol.SymbolInformation)
	require.Len(t, base, 1)
	assert.Equal(t, "Shape::paint", base[0].Name)

	parents := dispatch(t, h, MethodBase, positionParams(t, shapeHeader, 3, 6)).([]protocol.SymbolInformation)
	require.Len(t, parents, 1)
	assert.Equal(t, "Shape", parents[0].Name)

	derived := dispatch(t, h, MethodDerived, positionParams(t, shapeHeader, 0, 6)).([]protocol.SymbolInformation)
	require.Len(t, derived, 1)
	assert.Equal(t, "Circle", derived[0].Name)

	stats := dispatch(t, h, MethodStats, nil).(db.Stats)
	assert.Equal(t, 3, stats.Funcs)
}

func TestDispatchErrors(t *testing.T) {
	h := NewHandler(db.New(), nil)
	_, err := h.Dispatch(context.Background(), "textDocument/hover", nil)
	var rpcErr *jsonrpc2.Error
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, int64(jsonrpc2.CodeMethodNotFound), rpcErr.Code)

	_, err = h.Dispatch(context.Background(), protocol.MethodTextDocumentDefinition, []byte("{"))
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, int64(jsonrpc2.CodeInvalidParams), rpcErr.Code)

	_, err = h.Dispatch(context.Background(), MethodCallers, nil)
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, int64(jsonrpc2.CodeInvalidParams), rpcErr.Code)

	exited := false
	h.OnExit = func() { exited = true }
	result, err := h.Dispatch(context.Background(), protocol.MethodExit, nil)
	require.NoError(t, err)
	assert.Nil(t, result)
	assert.True(t, exited)
}

func TestAnswerCarriesErrorCodes(t *testing.T) {
	h := NewHandler(shapesDB(t), nil)
	resp := h.Answer(context.Background(), ipc.QueryRequest{ID: "7", Method: "bogus"})
	assert.Equal(t, "7", resp.ID)
	assert.Equal(t, int64(jsonrpc2.CodeMethodNotFound), resp.Code)
	assert.NotEmpty(t, resp.Error)
	assert.Nil(t, resp.Result)

	resp = h.Answer(context.Background(), ipc.QueryRequest{ID: "8", Method: protocol.MethodTextDocumentDefinition,
		Params: positionParams(t, mainSource, 2, 22)})
	assert.Empty(t, resp.Error)
	var locs []protocol.Location
	require.NoError(t, json.Unmarshal(resp.Result, &locs))
	require.Len(t, locs, 1)
	assert.Equal(t, shapeHeader, documentPath(locs[0].URI))
}

func TestServeStreamSpeaksLSP(t *testing.T) {
	serverSide, clientSide := net.Pipe()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- ServeStream(ctx, serverSide, NewHandler(shapesDB(t), nil)) }()

	conn := jsonrpc2.NewConn(ctx, jsonrpc2.NewBufferedStream(clientSide, jsonrpc2.VSCodeObjectCodec{}),
		jsonrpc2.HandlerWithError(func(context.Context, *jsonrpc2.Conn, *jsonrpc2.Request) (any, error) { return nil, nil }))

	var init protocol.InitializeResult
	require.NoError(t, conn.Call(ctx, protocol.MethodInitialize, protocol.InitializeParams{}, &init))
	require.NotNil(t, init.ServerInfo)
	assert.Equal(t, ServerName, init.ServerInfo.Name)
	assert.Equal(t, true, init.Capabilities.DefinitionProvider)

	var symbols []protocol.SymbolInformation
	require.NoError(t, conn.Call(ctx, protocol.MethodWorkspaceSymbol, protocol.WorkspaceSymbolParams{Query: "draw"}, &symbols))
	require.Len(t, symbols, 1)
	assert.Equal(t, mainSource, documentPath(symbols[0].Location.URI))

	err := conn.Call(ctx, "textDocument/hover", nil, nil)
	var rpcErr *jsonrpc2.Error
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, int64(jsonrpc2.CodeMethodNotFound), rpcErr.Code)

	require.NoError(t, conn.Close())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-ctx.Done():
		t.Fatal("server did not notice the hangup")
	}
}
