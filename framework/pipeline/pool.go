package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/lexcodex/ccindex/framework/ipc"
)

var (
	// ErrPoolClosed is returned by Submit after Close.
	ErrPoolClosed = errors.New("pipeline: worker pool closed")
	// ErrNoWorkers is returned when jobs are queued but every in-process
	// worker has stopped.
	ErrNoWorkers = errors.New("pipeline: no worker left to run jobs")
)

// PoolConfig sizes a worker pool. Setting Binary runs every worker as a
// `Binary worker` subprocess talking over file-backed segments in IPCDir;
// otherwise workers are goroutines sharing the pool's Indexer.
type PoolConfig struct {
	Workers     int
	SegmentSize int
	// MaxInFlight bounds the jobs handed to one worker at a time so its job
	// queue never fills while the owner is busy.
	MaxInFlight int
	Queue       ipc.QueueConfig
	Logger      *log.Logger

	Binary           string
	BinaryArgs       []string
	IPCDir           string
	HandshakeTimeout time.Duration
	RestartDelay     time.Duration
}

func (c PoolConfig) normalize() PoolConfig {
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.SegmentSize <= 0 {
		c.SegmentSize = 32 << 20
	}
	if c.MaxInFlight <= 0 {
		c.MaxInFlight = 4
	}
	if c.Logger == nil {
		c.Logger = log.New(io.Discard, "", 0)
	}
	if c.Queue.Logger == nil {
		c.Queue.Logger = c.Logger
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.RestartDelay <= 0 {
		c.RestartDelay = 500 * time.Millisecond
	}
	return c
}

type worker struct {
	name  string
	ch    *ipc.Channel
	cmd   *exec.Cmd
	jobs  map[string]ipc.IndexJob
	alive bool
	// retired is set once an in-process worker's loop has returned.
	retired bool
}

// Pool hands index jobs to workers, assigns per-file generations and
// collects results for the database owner. Submit and Poll are meant to be
// called from the owner goroutine.
type Pool struct {
	config PoolConfig
	reg    *ipc.Registry
	logger *log.Logger

	mu          sync.Mutex
	workers     []*worker
	generations map[string]uint64
	inFlight    map[string]*worker
	queued      map[string]ipc.IndexJob
	order       []string
	// includes maps an included file to the translation units using it.
	includes map[string]map[string]bool
	files    map[string][]string
	closed   bool

	group  *errgroup.Group
	cancel context.CancelFunc
}

// StartPool launches config.Workers workers. ix serves in-process workers
// and may be nil for subprocess pools.
func StartPool(ctx context.Context, config PoolConfig, reg *ipc.Registry, ix *Indexer) (*Pool, error) {
	config = config.normalize()
	ctx, cancel := context.WithCancel(ctx)
	// Workers fail independently.
	group := new(errgroup.Group)
	p := &Pool{
		config:      config,
		reg:         reg,
		logger:      config.Logger,
		generations: make(map[string]uint64),
		inFlight:    make(map[string]*worker),
		queued:      make(map[string]ipc.IndexJob),
		includes:    make(map[string]map[string]bool),
		files:       make(map[string][]string),
		group:       group,
		cancel:      cancel,
	}
	for i := 0; i < config.Workers; i++ {
		w := &worker{jobs: make(map[string]ipc.IndexJob)}
		var err error
		if config.Binary != "" {
			err = p.spawn(ctx, w)
		} else if ix == nil {
			err = errors.New("pipeline: in-process pool needs an indexer")
		} else {
			p.runInProcess(ctx, w, i, ix)
		}
		if err != nil {
			p.Close(context.Background())
			return nil, err
		}
		p.workers = append(p.workers, w)
	}
	return p, nil
}

func (p *Pool) runInProcess(ctx context.Context, w *worker, i int, ix *Indexer) {
	owner, peer := ipc.NewMemoryChannelPair(p.config.SegmentSize, p.reg, p.config.Queue)
	w.name = "worker-" + strconv.Itoa(i)
	w.ch = owner
	w.alive = true
	p.group.Go(func() error {
		err := RunWorker(ctx, peer, ix, w.name, p.logger)
		if err != nil {
			p.logger.Printf("worker %s: %v", w.name, err)
		}
		p.retire(w)
		return err
	})
}

// retire takes a stopped in-process worker out of rotation and queues the
// jobs it held for the others.
func (p *Pool) retire(w *worker) {
	p.mu.Lock()
	defer p.mu.Unlock()
	w.alive, w.retired = false, true
	for path, job := range w.jobs {
		if p.inFlight[path] == w {
			delete(p.inFlight, path)
		}
		if _, ok := p.queued[path]; !ok {
			p.order = append(p.order, path)
			p.queued[path] = job
		}
	}
	w.jobs = make(map[string]ipc.IndexJob)
}

// spawn opens a fresh channel, starts the worker process and handshakes.
func (p *Pool) spawn(ctx context.Context, w *worker) error {
	name := uuid.NewString()
	ch, err := ipc.OpenChannel(p.config.IPCDir, name, ipc.RoleServer, p.config.SegmentSize, p.reg, p.config.Queue)
	if err != nil {
		return err
	}
	args := append([]string{"worker",
		"--ipc-dir", p.config.IPCDir,
		"--name", name,
		"--segment-size", strconv.Itoa(p.config.SegmentSize),
	}, p.config.BinaryArgs...)
	cmd := exec.CommandContext(ctx, p.config.Binary, args...)
	cmd.Stdout = p.logger.Writer()
	cmd.Stderr = p.logger.Writer()
	if err := cmd.Start(); err != nil {
		p.release(name, ch)
		return fmt.Errorf("start worker: %w", err)
	}
	pending, err := ipc.Handshake(ctx, ch, "server", p.config.HandshakeTimeout)
	if err != nil {
		cmd.Process.Kill()
		cmd.Wait()
		p.release(name, ch)
		return fmt.Errorf("worker %s: %w", name, err)
	}
	if len(pending) > 0 {
		p.logger.Printf("worker %s: %d message(s) before handshake ignored", name, len(pending))
	}
	p.mu.Lock()
	w.name, w.ch, w.cmd, w.alive = name, ch, cmd, true
	p.mu.Unlock()
	p.logger.Printf("worker %s started (pid %d)", name, cmd.Process.Pid)
	p.group.Go(func() error { return p.supervise(ctx, w, cmd) })
	return nil
}

func (p *Pool) release(name string, ch *ipc.Channel) {
	if err := ch.Close(); err != nil {
		p.logger.Printf("worker %s: close channel: %v", name, err)
	}
	up, down := ipc.SegmentPaths(p.config.IPCDir, name)
	os.Remove(up)
	os.Remove(down)
}

// supervise restarts a worker process that exits while the pool is open.
// Jobs the process held are lost.
func (p *Pool) supervise(ctx context.Context, w *worker, cmd *exec.Cmd) error {
	err := cmd.Wait()
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	w.alive = false
	lost := len(w.jobs)
	for path := range w.jobs {
		delete(p.inFlight, path)
	}
	w.jobs = make(map[string]ipc.IndexJob)
	name, ch := w.name, w.ch
	p.mu.Unlock()

	p.logger.Printf("worker %s exited (%v), %d job(s) lost; restarting", name, err, lost)
	p.release(name, ch)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(p.config.RestartDelay):
		}
		err := p.spawn(ctx, w)
		if err == nil {
			return nil
		}
		p.logger.Printf("restart worker: %v", err)
	}
}

// Seed records the generation already applied for path, such as one loaded
// from the cache, so new jobs are numbered after it.
func (p *Pool) Seed(path string, generation uint64) {
	p.mu.Lock()
	if generation > p.generations[path] {
		p.generations[path] = generation
	}
	p.mu.Unlock()
}

// Generation returns the last generation handed out for path.
func (p *Pool) Generation(path string) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.generations[path]
}

// Submit queues e for indexing. A file already in flight is indexed again
// once its current job reports back.
func (p *Pool) Submit(ctx context.Context, e Entry, force bool) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	job, ok := p.queued[e.Path]
	if !ok {
		p.order = append(p.order, e.Path)
	}
	p.queued[e.Path] = ipc.IndexJob{Path: e.Path, Args: e.Args, Force: force || job.Force}
	p.mu.Unlock()
	return p.dispatch(ctx)
}

type assignment struct {
	w   *worker
	ch  *ipc.Channel
	job ipc.IndexJob
}

func (p *Pool) pick() *worker {
	var best *worker
	for _, w := range p.workers {
		if !w.alive || len(w.jobs) >= p.config.MaxInFlight {
			continue
		}
		if best == nil || len(w.jobs) < len(best.jobs) {
			best = w
		}
	}
	return best
}

// dispatch hands queued jobs to workers with spare capacity.
func (p *Pool) dispatch(ctx context.Context) error {
	p.mu.Lock()
	var out []assignment
	rest := p.order[:0]
	for _, path := range p.order {
		if _, busy := p.inFlight[path]; busy {
			rest = append(rest, path)
			continue
		}
		w := p.pick()
		if w == nil {
			rest = append(rest, path)
			continue
		}
		job := p.queued[path]
		delete(p.queued, path)
		p.generations[path]++
		job.Generation = p.generations[path]
		p.inFlight[path] = w
		w.jobs[path] = job
		out = append(out, assignment{w: w, ch: w.ch, job: job})
	}
	p.order = rest
	stranded := len(p.order) > 0 && !p.closed && p.allRetired()
	p.mu.Unlock()
	if stranded {
		return ErrNoWorkers
	}

	for _, a := range out {
		if err := a.ch.Send.Push(ctx, a.job); err != nil {
			p.mu.Lock()
			delete(p.inFlight, a.job.Path)
			delete(a.w.jobs, a.job.Path)
			p.mu.Unlock()
			return fmt.Errorf("dispatch %s to %s: %w", a.job.Path, a.w.name, err)
		}
	}
	return nil
}

// Poll collects finished results from every worker and refills them.
func (p *Pool) Poll(ctx context.Context) ([]ipc.IndexResult, error) {
	var results []ipc.IndexResult
	for _, a := range p.live() {
		msgs, err := a.ch.Recv.Drain()
		if err != nil {
			return results, fmt.Errorf("worker %s: %w", a.name, err)
		}
		for _, msg := range msgs {
			switch m := msg.(type) {
			case ipc.IndexResult:
				p.finish(a.w, m)
				results = append(results, m)
			case ipc.IsAlive:
				if err := a.ch.Send.Push(ctx, ipc.IsAliveReply{Sender: "server"}); err != nil {
					return results, err
				}
			case ipc.IsAliveReply:
			default:
				return results, &ipc.ProtocolError{Reason: "unexpected message from worker " + a.name, Tag: msg.Tag()}
			}
		}
	}
	return results, p.dispatch(ctx)
}

func (p *Pool) allRetired() bool {
	for _, w := range p.workers {
		if !w.retired {
			return false
		}
	}
	return len(p.workers) > 0
}

type endpoint struct {
	w    *worker
	name string
	ch   *ipc.Channel
}

// live snapshots the running workers; a restarting worker swaps its channel
// under the lock.
func (p *Pool) live() []endpoint {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []endpoint
	for _, w := range p.workers {
		if w.alive {
			out = append(out, endpoint{w: w, name: w.name, ch: w.ch})
		}
	}
	return out
}

func (p *Pool) finish(w *worker, res ipc.IndexResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inFlight[res.Path] == w {
		delete(p.inFlight, res.Path)
	}
	delete(w.jobs, res.Path)
	if res.Err != "" || (res.Update == nil && res.Files == nil) {
		return
	}
	for _, file := range p.files[res.Path] {
		delete(p.includes[file], res.Path)
	}
	p.files[res.Path] = res.Files
	for _, file := range res.Files {
		if file == res.Path {
			continue
		}
		if p.includes[file] == nil {
			p.includes[file] = make(map[string]bool)
		}
		p.includes[file][res.Path] = true
	}
}

// Dependents returns the translation units whose last index pulled in path.
func (p *Pool) Dependents(path string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.includes[path]))
	for tu := range p.includes[path] {
		out = append(out, tu)
	}
	sort.Strings(out)
	return out
}

// Idle reports whether no job is queued or running.
func (p *Pool) Idle() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.inFlight) == 0 && len(p.queued) == 0
}

// Close asks every worker to quit and waits for them.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()
	live := p.live()
	p.mu.Lock()
	workers := append([]*worker(nil), p.workers...)
	p.mu.Unlock()

	for _, a := range live {
		qctx, cancel := context.WithTimeout(ctx, time.Second)
		if err := a.ch.Send.Push(qctx, ipc.Quit{}); err != nil {
			p.logger.Printf("worker %s: quit: %v", a.name, err)
		}
		cancel()
	}
	done := make(chan error, 1)
	go func() { done <- p.group.Wait() }()
	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		p.cancel()
		err = <-done
	}
	p.cancel()
	for _, w := range workers {
		if w.ch == nil {
			continue
		}
		if w.cmd != nil {
			p.release(w.name, w.ch)
		} else if cerr := w.ch.Close(); cerr != nil {
			p.logger.Printf("worker %s: close channel: %v", w.name, cerr)
		}
	}
	return err
}
