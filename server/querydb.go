package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/lexcodex/ccindex/framework/ast"
	"github.com/lexcodex/ccindex/framework/db"
	"github.com/lexcodex/ccindex/framework/index"
	"github.com/lexcodex/ccindex/framework/ipc"
	"github.com/lexcodex/ccindex/framework/pipeline"
	"github.com/lexcodex/ccindex/persistence"
)

// JobPool is the worker side of the owner loop; *pipeline.Pool implements it.
type JobPool interface {
	Submit(ctx context.Context, e pipeline.Entry, force bool) error
	Poll(ctx context.Context) ([]ipc.IndexResult, error)
	Dependents(path string) []string
	Seed(path string, generation uint64)
	Idle() bool
}

// CachedIndexes lists the indexes a previous run left behind.
type CachedIndexes interface {
	List() ([]*persistence.CachedFile, error)
	Load(path string) (*index.File, error)
}

// Counters summarize what the owner loop has applied.
type Counters struct {
	Applied int
	Skipped int
	Failed  int
	Stale   int
}

// QueryDB is the database owner. Its loop is the only caller of Apply: it
// folds worker results in, reacts to file changes and answers clients that
// reach it over shared memory.
type QueryDB struct {
	db       *db.Database
	pool     JobPool
	project  *pipeline.Project
	handler  *Handler
	logger   *log.Logger
	detector *ast.LanguageDetector
	poll     time.Duration

	changes <-chan []pipeline.Change

	mu       sync.Mutex
	clients  []*ipc.Channel
	counters Counters
}

// NewQueryDB wires the owner loop. project may be nil when no tree is
// watched.
func NewQueryDB(database *db.Database, pool JobPool, project *pipeline.Project, handler *Handler, logger *log.Logger) *QueryDB {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if handler == nil {
		handler = NewHandler(database, logger)
	}
	return &QueryDB{
		db:       database,
		pool:     pool,
		project:  project,
		handler:  handler,
		logger:   logger,
		detector: ast.NewLanguageDetector(),
		poll:     2 * time.Millisecond,
	}
}

// Watch feeds settled file changes into the loop.
func (q *QueryDB) Watch(changes <-chan []pipeline.Change) { q.changes = changes }

// AddClient serves queries arriving on ch.
func (q *QueryDB) AddClient(ch *ipc.Channel) {
	q.mu.Lock()
	q.clients = append(q.clients, ch)
	q.mu.Unlock()
}

// Counters returns a copy of the loop counters.
func (q *QueryDB) Counters() Counters {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.counters
}

// LoadCache applies every cached index so queries work before the first
// scan finishes, and seeds the pool's generations from them.
func (q *QueryDB) LoadCache(cache CachedIndexes) (int, error) {
	entries, err := cache.List()
	if err != nil {
		return 0, err
	}
	loaded := 0
	for _, entry := range entries {
		f, err := cache.Load(entry.Path)
		if err != nil {
			q.logger.Printf("cache: skip %s: %v", entry.Path, err)
			continue
		}
		if err := q.db.Apply(db.Diff(nil, f)); err != nil {
			q.logger.Printf("cache: apply %s: %v", entry.Path, err)
			continue
		}
		q.pool.Seed(f.Path, f.Generation)
		loaded++
	}
	return loaded, nil
}

// IndexAll submits every translation unit of the project.
func (q *QueryDB) IndexAll(ctx context.Context) error {
	if q.project == nil {
		return nil
	}
	for _, e := range q.project.Entries() {
		if err := q.pool.Submit(ctx, e, false); err != nil {
			return err
		}
	}
	return nil
}

// Run drives the loop until ctx ends or a peer breaks the protocol.
func (q *QueryDB) Run(ctx context.Context) error {
	ticker := time.NewTicker(q.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case batch, ok := <-q.changes:
			if !ok {
				q.changes = nil
				continue
			}
			if err := q.onChanges(ctx, batch); err != nil {
				return err
			}
		case <-ticker.C:
			if err := q.Step(ctx); err != nil {
				return err
			}
		}
	}
}

// WaitIdle steps the loop until every submitted job has been applied.
func (q *QueryDB) WaitIdle(ctx context.Context) error {
	ticker := time.NewTicker(q.poll)
	defer ticker.Stop()
	for {
		if err := q.Step(ctx); err != nil {
			return err
		}
		if q.pool.Idle() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Step applies finished results and answers pending client messages once.
func (q *QueryDB) Step(ctx context.Context) error {
	results, err := q.pool.Poll(ctx)
	for _, res := range results {
		q.apply(res)
	}
	if err != nil {
		return err
	}
	return q.serveClients(ctx)
}

func (q *QueryDB) apply(res ipc.IndexResult) {
	q.mu.Lock()
	defer q.mu.Unlock()
	switch {
	case res.Err != "":
		q.counters.Failed++
		q.logger.Printf("index %s (generation %d) failed: %s", res.Path, res.Generation, res.Err)
	case res.Update == nil:
		q.counters.Skipped++
	default:
		err := q.db.Apply(res.Update)
		switch {
		case errors.Is(err, db.ErrStaleUpdate):
			q.counters.Stale++
			q.logger.Printf("drop %v", err)
		case err != nil:
			q.counters.Failed++
			q.logger.Printf("apply %s: %v", res.Path, err)
		default:
			q.counters.Applied++
		}
	}
}

func (q *QueryDB) serveClients(ctx context.Context) error {
	q.mu.Lock()
	clients := append([]*ipc.Channel(nil), q.clients...)
	q.mu.Unlock()
	for _, ch := range clients {
		msgs, err := ch.Recv.Drain()
		if err != nil {
			return fmt.Errorf("client: %w", err)
		}
		for _, msg := range msgs {
			var reply ipc.Message
			switch m := msg.(type) {
			case ipc.IsAlive:
				q.logger.Printf("client %s connected", m.Sender)
				reply = ipc.IsAliveReply{Sender: "server"}
			case ipc.IsAliveReply:
			case ipc.QueryRequest:
				reply = q.handler.Answer(ctx, m)
			case ipc.Quit:
				q.logger.Printf("client disconnected")
			default:
				return &ipc.ProtocolError{Reason: "unexpected message from client", Tag: msg.Tag()}
			}
			if reply == nil {
				continue
			}
			err := ch.Send.Push(ctx, reply)
			if errors.Is(err, ipc.ErrMessageTooLarge) {
				q.logger.Printf("client reply dropped: %v", err)
				if resp, ok := reply.(ipc.QueryResponse); ok {
					err = ch.Send.Push(ctx, ipc.QueryResponse{ID: resp.ID, Code: -32603, Error: "answer too large; raise segment_size"})
				}
			}
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func (q *QueryDB) onChanges(ctx context.Context, batch []pipeline.Change) error {
	if q.project == nil {
		return nil
	}
	for _, c := range batch {
		switch {
		case filepath.Base(c.Path) == pipeline.CompileCommandsName:
			q.logger.Printf("%s changed, rescanning", c.Path)
			if err := q.project.Rescan(); err != nil {
				q.logger.Printf("rescan: %v", err)
				continue
			}
			if err := q.IndexAll(ctx); err != nil {
				return err
			}
		case q.detector.IsHeader(c.Path):
			for _, tu := range q.pool.Dependents(c.Path) {
				if e, ok := q.project.Lookup(tu); ok {
					if err := q.pool.Submit(ctx, e, true); err != nil {
						return err
					}
				}
			}
		case c.Removed:
			if e, ok := q.project.Lookup(c.Path); ok {
				q.project.Forget(c.Path)
				if err := q.pool.Submit(ctx, e, false); err != nil {
					return err
				}
			}
		default:
			if e, ok := q.project.Track(c.Path); ok {
				if err := q.pool.Submit(ctx, e, false); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
