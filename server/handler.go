// Package server owns the symbol database and answers editor queries over
// JSON-RPC, either on a byte stream or through shared-memory clients.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/segmentio/encoding/json"
	"github.com/sourcegraph/jsonrpc2"
	"go.lsp.dev/protocol"

	"github.com/lexcodex/ccindex/framework/db"
	"github.com/lexcodex/ccindex/framework/index"
	"github.com/lexcodex/ccindex/framework/ipc"
)

// Custom request methods beyond the LSP subset.
const (
	MethodCallers = "$ccindex/callers"
	MethodCallees = "$ccindex/callees"
	MethodBase    = "$ccindex/base"
	MethodDerived = "$ccindex/derived"
	MethodStats   = "$ccindex/stats"
)

// ServerName is reported in the initialize response.
const ServerName = "ccindex"

// Version is the server version string.
var Version = "0.1.0"

// Handler answers queries against a database. It only reads the database,
// so any number of requests may run beside the owner loop.
type Handler struct {
	db     *db.Database
	logger *log.Logger
	// OnExit runs when the editor sends the exit notification.
	OnExit func()
}

// NewHandler returns a handler over database.
func NewHandler(database *db.Database, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Handler{db: database, logger: logger}
}

func invalidParams(err error) error {
	return &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: err.Error()}
}

func decode(params []byte, v any) error {
	if len(params) == 0 {
		return invalidParams(errors.New("missing params"))
	}
	if err := json.Unmarshal(params, v); err != nil {
		return invalidParams(err)
	}
	return nil
}

// Dispatch runs one request. Notifications return a nil result.
func (h *Handler) Dispatch(ctx context.Context, method string, params []byte) (any, error) {
	switch method {
	case protocol.MethodInitialize:
		return h.initialize(params)
	case protocol.MethodInitialized, protocol.MethodTextDocumentDidOpen, protocol.MethodTextDocumentDidChange,
		protocol.MethodTextDocumentDidSave, protocol.MethodTextDocumentDidClose, "$/cancelRequest", "$/setTrace":
		return nil, nil
	case protocol.MethodShutdown:
		return nil, nil
	case protocol.MethodExit:
		if h.OnExit != nil {
			h.OnExit()
		}
		return nil, nil
	case protocol.MethodWorkspaceSymbol:
		var p protocol.WorkspaceSymbolParams
		if err := decode(params, &p); err != nil {
			return nil, err
		}
		return toSymbols(h.db.WorkspaceSymbols(p.Query)), nil
	case protocol.MethodTextDocumentDocumentSymbol:
		var p protocol.DocumentSymbolParams
		if err := decode(params, &p); err != nil {
			return nil, err
		}
		return toSymbols(h.db.Outline(documentPath(p.TextDocument.URI))), nil
	case protocol.MethodTextDocumentDefinition:
		return h.atPosition(params, h.definitions)
	case protocol.MethodTextDocumentDeclaration:
		return h.atPosition(params, func(s db.Symbol) []db.QueryLocation { return h.db.Declarations(s.ID) })
	case protocol.MethodTextDocumentReferences:
		return h.references(params)
	case MethodCallers:
		return h.calls(params, h.db.Callers)
	case MethodCallees:
		return h.calls(params, h.db.Callees)
	case MethodBase:
		return h.related(params, h.bases)
	case MethodDerived:
		return h.related(params, func(s db.Symbol) []db.Symbol { return h.db.Derived(s.ID) })
	case MethodStats:
		return h.db.Stats(), nil
	default:
		return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeMethodNotFound, Message: fmt.Sprintf("method %q not handled", method)}
	}
}

func (h *Handler) initialize(params []byte) (any, error) {
	var p protocol.InitializeParams
	if len(params) > 0 {
		if err := decode(params, &p); err != nil {
			return nil, err
		}
	}
	if p.RootURI != "" {
		h.logger.Printf("initialize for %s", documentPath(p.RootURI))
	}
	return protocol.InitializeResult{
		Capabilities: protocol.ServerCapabilities{
			DefinitionProvider:      true,
			DeclarationProvider:     true,
			ReferencesProvider:      true,
			DocumentSymbolProvider:  true,
			WorkspaceSymbolProvider: true,
		},
		ServerInfo: &protocol.ServerInfo{Name: ServerName, Version: Version},
	}, nil
}

// symbolsAt resolves the symbols under a text document position.
func (h *Handler) symbolsAt(params []byte) ([]db.Symbol, error) {
	var p protocol.TextDocumentPositionParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	return h.db.SymbolsAt(documentPath(p.TextDocument.URI), int(p.Position.Line), int(p.Position.Character)), nil
}

func (h *Handler) atPosition(params []byte, locs func(db.Symbol) []db.QueryLocation) (any, error) {
	symbols, err := h.symbolsAt(params)
	if err != nil {
		return nil, err
	}
	var all []db.QueryLocation
	for _, s := range symbols {
		all = append(all, locs(s)...)
	}
	return toLocations(all), nil
}

func (h *Handler) definitions(s db.Symbol) []db.QueryLocation {
	if l, ok := h.db.Definition(s.ID); ok {
		return []db.QueryLocation{l}
	}
	return h.db.Declarations(s.ID)
}

func (h *Handler) references(params []byte) (any, error) {
	var p protocol.ReferenceParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	symbols := h.db.SymbolsAt(documentPath(p.TextDocument.URI), int(p.Position.Line), int(p.Position.Character))
	var all []db.QueryLocation
	seen := make(map[db.QueryLocation]bool)
	for _, s := range symbols {
		// Declaration spellings are recorded as uses too.
		decls := h.db.Declarations(s.ID)
		if l, ok := h.db.Definition(s.ID); ok {
			decls = append(decls, l)
		}
		for _, l := range decls {
			if _, ok := seen[l]; !ok {
				seen[l] = !p.Context.IncludeDeclaration
			}
		}
		for _, l := range h.db.Uses(s.ID) {
			if !seen[l] {
				seen[l] = true
				all = append(all, l)
			}
		}
		if p.Context.IncludeDeclaration {
			for _, l := range decls {
				if !seen[l] {
					seen[l] = true
					all = append(all, l)
				}
			}
		}
	}
	return toLocations(all), nil
}

func (h *Handler) calls(params []byte, list func(index.FuncID) []db.Reference) (any, error) {
	symbols, err := h.symbolsAt(params)
	if err != nil {
		return nil, err
	}
	out := []CallReference{}
	for _, s := range symbols {
		if s.ID.Kind == index.KindFunc {
			out = append(out, toCallReferences(list(index.FuncID(s.ID.Index)))...)
		}
	}
	return out, nil
}

// bases is the overridden method of a function or the parents of a type.
func (h *Handler) bases(s db.Symbol) []db.Symbol {
	switch s.ID.Kind {
	case index.KindFunc:
		if base, ok := h.db.Base(index.FuncID(s.ID.Index)); ok {
			return []db.Symbol{base}
		}
	case index.KindType:
		return h.db.Parents(index.TypeID(s.ID.Index))
	}
	return nil
}

func (h *Handler) related(params []byte, list func(db.Symbol) []db.Symbol) (any, error) {
	symbols, err := h.symbolsAt(params)
	if err != nil {
		return nil, err
	}
	var all []db.Symbol
	for _, s := range symbols {
		all = append(all, list(s)...)
	}
	return toSymbols(all), nil
}

// Handle adapts Dispatch to a jsonrpc2 connection.
func (h *Handler) Handle(ctx context.Context, _ *jsonrpc2.Conn, req *jsonrpc2.Request) (any, error) {
	var params []byte
	if req.Params != nil {
		params = *req.Params
	}
	result, err := h.Dispatch(ctx, req.Method, params)
	if err != nil && !req.Notif {
		h.logger.Printf("%s: %v", req.Method, err)
	}
	return result, err
}

// Answer runs a request forwarded over shared memory.
func (h *Handler) Answer(ctx context.Context, req ipc.QueryRequest) ipc.QueryResponse {
	resp := ipc.QueryResponse{ID: req.ID}
	result, err := h.Dispatch(ctx, req.Method, req.Params)
	if err == nil {
		resp.Result, err = json.Marshal(result)
	}
	if err != nil {
		resp.Result = nil
		resp.Code, resp.Error = jsonrpc2.CodeInternalError, err.Error()
		var rpcErr *jsonrpc2.Error
		if errors.As(err, &rpcErr) {
			resp.Code, resp.Error = rpcErr.Code, rpcErr.Message
		}
	}
	return resp
}

// ServeStream serves JSON-RPC with LSP framing on rwc until the peer hangs up
// or ctx ends.
func ServeStream(ctx context.Context, rwc io.ReadWriteCloser, h *Handler) error {
	stream := jsonrpc2.NewBufferedStream(rwc, jsonrpc2.VSCodeObjectCodec{})
	conn := jsonrpc2.NewConn(ctx, stream, jsonrpc2.HandlerWithError(h.Handle))
	select {
	case <-conn.DisconnectNotify():
		return nil
	case <-ctx.Done():
		conn.Close()
		return ctx.Err()
	}
}

// StdioStream joins a reader and a writer, such as stdin and stdout.
type StdioStream struct {
	In  io.ReadCloser
	Out io.WriteCloser
}

func (s StdioStream) Read(p []byte) (int, error)  { return s.In.Read(p) }
func (s StdioStream) Write(p []byte) (int, error) { return s.Out.Write(p) }
func (s StdioStream) Close() error {
	return errors.Join(s.In.Close(), s.Out.Close())
}
