package pipeline

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log"
	"sync"

	"github.com/lexcodex/ccindex/framework/ast"
	"github.com/lexcodex/ccindex/framework/db"
	"github.com/lexcodex/ccindex/framework/index"
	"github.com/lexcodex/ccindex/framework/ipc"
	"github.com/lexcodex/ccindex/persistence"
)

// Cache stores the last index produced for each translation unit. Load
// returns persistence.ErrNotCached for unknown paths.
type Cache interface {
	Load(path string) (*index.File, error)
	Save(f *index.File) error
	Delete(path string) error
}

// MemoryCache is a Cache for a single process.
type MemoryCache struct {
	mu    sync.Mutex
	files map[string]*index.File
}

// NewMemoryCache returns an empty cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{files: make(map[string]*index.File)}
}

func (c *MemoryCache) Load(path string) (*index.File, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.files[path]
	if !ok {
		return nil, persistence.ErrNotCached
	}
	return f, nil
}

func (c *MemoryCache) Save(f *index.File) error {
	c.mu.Lock()
	c.files[f.Path] = f
	c.mu.Unlock()
	return nil
}

func (c *MemoryCache) Delete(path string) error {
	c.mu.Lock()
	delete(c.files, path)
	c.mu.Unlock()
	return nil
}

// Indexer turns one IndexJob into the update against the previous index of
// the same file.
type Indexer struct {
	Parser ast.Parser
	Cache  Cache
	Logger *log.Logger
}

// NewIndexer returns an indexer. A nil cache keeps previous indexes in
// memory.
func NewIndexer(parser ast.Parser, cache Cache, logger *log.Logger) *Indexer {
	if cache == nil {
		cache = NewMemoryCache()
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Indexer{Parser: parser, Cache: cache, Logger: logger}
}

func (ix *Indexer) previous(path string) *index.File {
	f, err := ix.Cache.Load(path)
	if err != nil {
		if !errors.Is(err, persistence.ErrNotCached) {
			ix.Logger.Printf("cache load %s: %v", path, err)
		}
		return nil
	}
	return f
}

// Outcome is the result of one job together with the cache change that
// makes the new index the baseline of the next diff.
type Outcome struct {
	Result ipc.IndexResult

	cache  Cache
	prev   *index.File
	save   *index.File
	remove bool
}

// Commit records the new baseline. It has to happen before the result is
// delivered so the next job for the same file diffs against it.
func (o *Outcome) Commit() error {
	switch {
	case o.save != nil:
		return o.cache.Save(o.save)
	case o.remove:
		return o.cache.Delete(o.Result.Path)
	}
	return nil
}

// Rollback restores the baseline replaced by Commit, for a result that could
// not be delivered.
func (o *Outcome) Rollback() error {
	if o.save == nil && !o.remove {
		return nil
	}
	if o.prev != nil {
		return o.cache.Save(o.prev)
	}
	return o.cache.Delete(o.Result.Path)
}

// Index parses and extracts job.Path. Failures are reported in the result
// and leave nothing to commit.
func (ix *Indexer) Index(ctx context.Context, job ipc.IndexJob) *Outcome {
	out := &Outcome{Result: ipc.IndexResult{Path: job.Path, Generation: job.Generation}, cache: ix.Cache}
	res := &out.Result
	prev := ix.previous(job.Path)
	out.prev = prev

	hash, err := ContentHash(job.Path)
	if errors.Is(err, fs.ErrNotExist) {
		if prev == nil {
			res.Skipped = true
			return out
		}
		gone := index.NewFile(job.Path, nil)
		gone.Generation = job.Generation
		res.Update = db.Diff(prev, gone)
		out.remove = true
		return out
	}
	if err != nil {
		res.Err = err.Error()
		return out
	}
	if prev != nil && prev.ContentHash == hash && !job.Force {
		res.Skipped = true
		res.Files = prev.Files
		return out
	}

	tu, err := ix.Parser.Parse(ctx, job.Path, job.Args)
	if err != nil {
		res.Err = err.Error()
		return out
	}
	f, err := index.Extract(tu, job.Args)
	if err != nil {
		res.Err = err.Error()
		return out
	}
	f.ContentHash = hash
	f.Generation = job.Generation
	res.Update = db.Diff(prev, f)
	res.Files = f.Files
	out.save = f
	return out
}
