package server

import (
	"context"
	stdjson "encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/encoding/json"

	"github.com/lexcodex/ccindex/framework/db"
	"github.com/lexcodex/ccindex/framework/ipc"
)

// APIServer exposes the query handler over plain HTTP, for scripts and
// debugging without an editor.
type APIServer struct {
	Handler *Handler
	// Counters reports the owner loop's progress; nil omits it.
	Counters func() Counters
	Logger   *log.Logger
}

// QueryRequest is the body of POST /api/query.
type QueryRequest struct {
	Method string             `json:"method"`
	Params stdjson.RawMessage `json:"params,omitempty"`
}

// StatsResponse is the body of GET /api/stats.
type StatsResponse struct {
	Database db.Stats  `json:"database"`
	Owner    *Counters `json:"owner,omitempty"`
}

// ServeContext listens on addr until ctx ends.
func (s *APIServer) ServeContext(ctx context.Context, addr string) error {
	server := &http.Server{Addr: addr, Handler: s.Mux(), ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()
	s.logger().Printf("API listening on %s", addr)
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Mux routes the API endpoints.
func (s *APIServer) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/query", s.handleQuery)
	mux.HandleFunc("/api/stats", s.handleStats)
	return mux
}

func (s *APIServer) logger() *log.Logger {
	if s.Logger == nil {
		return log.New(io.Discard, "", 0)
	}
	return s.Logger
}

func (s *APIServer) handleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Method == "" {
		http.Error(w, "method required", http.StatusBadRequest)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()
	resp := s.Handler.Answer(ctx, ipc.QueryRequest{ID: uuid.NewString(), Method: req.Method, Params: req.Params})
	if resp.Error != "" {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}
	writeJSON(w, resp)
}

func (s *APIServer) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := StatsResponse{Database: s.Handler.db.Stats()}
	if s.Counters != nil {
		c := s.Counters()
		resp.Owner = &c
	}
	writeJSON(w, resp)
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
