// Package runtime assembles the ccindex components from a Config and owns
// their lifetimes.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/lexcodex/ccindex/framework/ast"
	"github.com/lexcodex/ccindex/framework/ast/clang"
	"github.com/lexcodex/ccindex/framework/db"
	"github.com/lexcodex/ccindex/framework/ipc"
	"github.com/lexcodex/ccindex/framework/pipeline"
	"github.com/lexcodex/ccindex/persistence"
	"github.com/lexcodex/ccindex/server"
)

// Runtime wires the database owner to its pool, cache, watcher and clients.
type Runtime struct {
	Config   Config
	Logger   *log.Logger
	Registry *ipc.Registry
	Database *db.Database
	Cache    *persistence.CacheStore
	Project  *pipeline.Project
	Pool     *pipeline.Pool
	Handler  *server.Handler
	Owner    *server.QueryDB

	logFile io.Closer

	mu      sync.Mutex
	watcher *pipeline.Watcher
	clients []*ipc.Channel
	closed  bool
}

// NewLogger opens the log file of cfg and returns a logger writing to it
// and to stderr. stdout stays free for JSON-RPC.
func NewLogger(cfg Config) (*log.Logger, io.Closer, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.LogPath), 0o755); err != nil {
		return nil, nil, fmt.Errorf("create log directory: %w", err)
	}
	logFile, err := os.OpenFile(cfg.LogPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log: %w", err)
	}
	logger := log.New(io.MultiWriter(os.Stderr, logFile), "ccindex ", log.LstdFlags|log.Lmicroseconds)
	return logger, logFile, nil
}

// parser returns the configured parser, clang unless overridden.
func (c Config) parser() ast.Parser {
	if c.Parser != nil {
		return c.Parser
	}
	return clang.NewRegistry(c.ClangPath, c.ExtraArgs, c.SystemPrefixes)
}

// WorkerArgs are the flags a worker subprocess needs beyond its channel.
func (c Config) WorkerArgs() []string {
	args := []string{"--cache", c.CachePath, "--clang", c.ClangPath}
	for _, a := range c.ExtraArgs {
		args = append(args, "--extra-arg", a)
	}
	for _, p := range c.SystemPrefixes {
		args = append(args, "--system-prefix", p)
	}
	return args
}

// New builds a runtime: it opens the cache, scans the project, starts the
// worker pool and loads cached indexes into the database. Nothing is
// indexed until Start.
func New(ctx context.Context, cfg Config) (*Runtime, error) {
	if err := cfg.Normalize(); err != nil {
		return nil, err
	}
	logger, logFile, err := NewLogger(cfg)
	if err != nil {
		return nil, err
	}
	rt := &Runtime{Config: cfg, Logger: logger, logFile: logFile, Registry: ipc.NewRegistry()}
	if err := rt.init(ctx); err != nil {
		rt.Close(ctx)
		return nil, err
	}
	return rt, nil
}

func (r *Runtime) init(ctx context.Context) error {
	cfg := r.Config
	if cfg.CachePath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.CachePath), 0o755); err != nil {
			return fmt.Errorf("create cache directory: %w", err)
		}
	}
	cache, err := persistence.NewCacheStore(cfg.CachePath)
	if err != nil {
		return fmt.Errorf("open cache: %w", err)
	}
	r.Cache = cache

	project, err := pipeline.NewProject(pipeline.ProjectConfig{
		Root:           cfg.Workspace,
		Extensions:     cfg.Extensions,
		IgnorePatterns: cfg.IgnorePatterns,
		DefaultArgs:    cfg.ExtraArgs,
	})
	if err != nil {
		return fmt.Errorf("scan project: %w", err)
	}
	r.Project = project

	poolCfg := pipeline.PoolConfig{
		Workers:     cfg.Workers,
		SegmentSize: cfg.SegmentSize,
		Queue:       ipc.QueueConfig{Logger: r.Logger},
		Logger:      r.Logger,
		IPCDir:      cfg.IPCDir,
	}
	if cfg.SubprocessWorkers {
		binary, err := os.Executable()
		if err != nil {
			return fmt.Errorf("locate worker binary: %w", err)
		}
		poolCfg.Binary = binary
		poolCfg.BinaryArgs = cfg.WorkerArgs()
	}
	pool, err := pipeline.StartPool(ctx, poolCfg, r.Registry, pipeline.NewIndexer(cfg.parser(), cache, r.Logger))
	if err != nil {
		return fmt.Errorf("start workers: %w", err)
	}
	r.Pool = pool

	r.Database = db.New()
	r.Handler = server.NewHandler(r.Database, r.Logger)
	r.Owner = server.NewQueryDB(r.Database, pool, project, r.Handler, r.Logger)
	n, err := r.Owner.LoadCache(cache)
	if err != nil {
		r.Logger.Printf("cache unreadable, starting empty: %v", err)
	} else if n > 0 {
		r.Logger.Printf("loaded %d cached indexes", n)
	}
	return nil
}

// Start submits every translation unit and, when configured, starts the
// file watcher.
func (r *Runtime) Start(ctx context.Context) error {
	r.Logger.Printf("indexing %d translation units with %d workers", len(r.Project.Entries()), r.Config.Workers)
	if err := r.Owner.IndexAll(ctx); err != nil {
		return err
	}
	if !r.Config.Watch {
		return nil
	}
	w, err := pipeline.NewWatcher(r.Project, r.Config.WatchDebounce, r.Logger)
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	if err := w.Start(ctx); err != nil {
		w.Close()
		return fmt.Errorf("watch: %w", err)
	}
	r.mu.Lock()
	r.watcher = w
	r.mu.Unlock()
	r.Owner.Watch(w.Changes())
	return nil
}

// OpenClientChannel maps the shared channel editor clients attach to and
// registers it with the owner loop.
func (r *Runtime) OpenClientChannel() (*ipc.Channel, error) {
	ch, err := ipc.OpenChannel(r.Config.IPCDir, ClientChannel, ipc.RoleServer, r.Config.SegmentSize,
		r.Registry, ipc.QueueConfig{Logger: r.Logger})
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.clients = append(r.clients, ch)
	r.mu.Unlock()
	r.Owner.AddClient(ch)
	return ch, nil
}

// Serve runs the owner loop, plus the HTTP API when configured, until ctx
// ends or a peer breaks the protocol.
func (r *Runtime) Serve(ctx context.Context) error {
	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error { return r.Owner.Run(gctx) })
	if r.Config.HTTPAddr != "" {
		api := &server.APIServer{Handler: r.Handler, Counters: r.Owner.Counters, Logger: r.Logger}
		group.Go(func() error { return api.ServeContext(gctx, r.Config.HTTPAddr) })
	}
	return group.Wait()
}

// WaitIdle blocks until every submitted job is applied.
func (r *Runtime) WaitIdle(ctx context.Context) error {
	return r.Owner.WaitIdle(ctx)
}

// Close stops the watcher and the workers and releases the cache, the
// client channels and the log. Later calls do nothing.
func (r *Runtime) Close(ctx context.Context) error {
	var errs []error
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	w, clients := r.watcher, r.clients
	r.watcher, r.clients = nil, nil
	r.mu.Unlock()
	if w != nil {
		errs = append(errs, w.Close())
	}
	if r.Pool != nil {
		errs = append(errs, r.Pool.Close(ctx))
	}
	for _, ch := range clients {
		errs = append(errs, ch.Close())
	}
	if r.Cache != nil {
		errs = append(errs, r.Cache.Close())
	}
	if r.logFile != nil {
		errs = append(errs, r.logFile.Close())
	}
	return errors.Join(errs...)
}

// Summary describes the database for log lines and the index command.
func (r *Runtime) Summary() string {
	s := r.Database.Stats()
	c := r.Owner.Counters()
	return fmt.Sprintf("files=%d types=%d funcs=%d vars=%d applied=%d skipped=%d failed=%d",
		s.Files, s.Types, s.Funcs, s.Vars, c.Applied, c.Skipped, c.Failed)
}
