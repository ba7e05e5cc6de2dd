package pipeline

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/lexcodex/ccindex/framework/ast"
)

// CompileCommandsName is the compilation database file the watcher reports
// alongside sources.
const CompileCommandsName = "compile_commands.json"

// Change is a settled edit to one file.
type Change struct {
	Path    string
	Removed bool
}

// Watcher reports debounced source changes below a project root.
type Watcher struct {
	project  *Project
	watcher  *fsnotify.Watcher
	detector *ast.LanguageDetector
	debounce time.Duration
	logger   *log.Logger

	mu      sync.Mutex
	pending map[string]time.Time

	changes chan []Change
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewWatcher prepares a watcher for project. Changes are batched once a file
// has been quiet for debounce.
func NewWatcher(project *Project, debounce time.Duration, logger *log.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = 200 * time.Millisecond
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Watcher{
		project:  project,
		watcher:  fw,
		detector: ast.NewLanguageDetector(),
		debounce: debounce,
		logger:   logger,
		pending:  make(map[string]time.Time),
		changes:  make(chan []Change, 16),
	}, nil
}

// Changes delivers batches of settled changes sorted by path.
func (w *Watcher) Changes() <-chan []Change { return w.changes }

// Start watches every directory under the project root.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.addRecursive(w.project.Root()); err != nil {
		return err
	}
	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(2)
	go w.processEvents(ctx)
	go w.processPending(ctx)
	return nil
}

func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.project.Root() && w.project.ShouldIgnore(path) {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			w.logger.Printf("watch %s: %v", path, err)
		}
		return nil
	})
}

func (w *Watcher) relevant(path string) bool {
	if filepath.Base(path) == CompileCommandsName {
		return true
	}
	return w.detector.Detect(path) != "unknown" && !w.project.ShouldIgnore(path)
}

func (w *Watcher) processEvents(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.addRecursive(event.Name); err != nil {
						w.logger.Printf("watch %s: %v", event.Name, err)
					}
					continue
				}
			}
			if event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Write) {
				continue
			}
			if w.relevant(event.Name) {
				w.mu.Lock()
				w.pending[filepath.Clean(event.Name)] = time.Now()
				w.mu.Unlock()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Printf("watcher: %v", err)
		}
	}
}

func (w *Watcher) processPending(ctx context.Context) {
	defer w.wg.Done()
	tick := w.debounce / 2
	if tick > 100*time.Millisecond {
		tick = 100 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			batch := w.settled(now)
			if len(batch) == 0 {
				continue
			}
			select {
			case w.changes <- batch:
			case <-ctx.Done():
				return
			}
		}
	}
}

// settled removes and returns the pending paths quiet since debounce.
func (w *Watcher) settled(now time.Time) []Change {
	w.mu.Lock()
	var paths []string
	for path, changed := range w.pending {
		if now.Sub(changed) >= w.debounce {
			paths = append(paths, path)
			delete(w.pending, path)
		}
	}
	w.mu.Unlock()
	sort.Strings(paths)
	out := make([]Change, 0, len(paths))
	for _, path := range paths {
		_, err := os.Stat(path)
		out = append(out, Change{Path: path, Removed: errors.Is(err, fs.ErrNotExist)})
	}
	return out
}

// Close stops watching.
func (w *Watcher) Close() error {
	if w.cancel != nil {
		w.cancel()
	}
	err := w.watcher.Close()
	w.wg.Wait()
	return err
}
