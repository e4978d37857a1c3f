package worker

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"swarmenc/internal/encode"
	"swarmenc/internal/project"
	"swarmenc/internal/remote"
)

// Pool runs an elastic set of workers against one coordinator. Workers
// serialize job fetches through fetchMu and segment downloads through
// downloadMu so at most one download is in flight pool-wide.
type Pool struct {
	logger  *slog.Logger
	client  *remote.Client
	runner  encode.Runner
	workDir string
	threads int

	fetchMu    sync.Mutex
	downloadMu sync.Mutex

	mu       sync.Mutex
	workers  []*Worker
	target   int
	nextID   int
	stopping bool
	stopMsg  string

	uploads *uploadQueue

	completed atomic.Int64
	failed    atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	// poke wakes workers sleeping between fetch retries so resizes and
	// shutdown take effect without waiting out the full poll.
	poke chan struct{}
	done chan struct{}
	once sync.Once
}

// Options configures a pool.
type Options struct {
	Client  *remote.Client
	Runner  encode.Runner
	WorkDir string
	Workers int
	Threads int
	Logger  *slog.Logger
}

// NewPool constructs a pool and starts its upload consumer. Workers spawn
// on Run.
func NewPool(opts Options) *Pool {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		logger:  logger,
		client:  opts.Client,
		runner:  opts.Runner,
		workDir: opts.WorkDir,
		threads: opts.Threads,
		target:  opts.Workers,
		ctx:     ctx,
		cancel:  cancel,
		poke:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	p.uploads = newUploadQueue(p)
	go p.uploads.run()
	return p
}

// Run spawns workers up to the configured target and returns immediately.
func (p *Pool) Run() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.workers) < p.target {
		p.spawnLocked()
	}
}

func (p *Pool) spawnLocked() {
	p.nextID++
	w := newWorker(p.nextID, p)
	p.workers = append(p.workers, w)
	go w.run()
}

// Resize sets the target worker count. Growth spawns immediately; excess
// workers exit cooperatively at their next loop boundary.
func (p *Pool) Resize(target int) {
	if target < 0 {
		target = 0
	}
	p.mu.Lock()
	p.target = target
	for len(p.workers) < p.target && !p.stopping {
		p.spawnLocked()
	}
	p.mu.Unlock()
	p.wake()
}

// Target returns the desired worker count.
func (p *Pool) Target() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.target
}

// Kill lowers the target by one and forcibly stops the most expendable
// worker: idle workers first, then the one with the least encode
// progress. Workers holding the fetch lock are passed over so the lock
// cannot be orphaned.
func (p *Pool) Kill() {
	p.mu.Lock()
	if p.target > 0 {
		p.target--
	}
	victim := p.selectVictimLocked()
	p.mu.Unlock()

	if victim != nil {
		victim.kill()
	}
	p.wake()
}

func (p *Pool) selectVictimLocked() *Worker {
	var victim *Worker
	bestProgress := -1
	for _, w := range p.workers {
		if w.stopped.Load() || w.holdsFetchLock() {
			continue
		}
		if w.currentJob() == nil {
			return w
		}
		progress := w.encodedFrames()
		if bestProgress == -1 || progress < bestProgress {
			victim = w
			bestProgress = progress
		}
	}
	return victim
}

// Stop shuts the whole pool down: cancels in-flight encodes, stops the
// upload consumer, and releases Wait.
func (p *Pool) Stop(message string) {
	p.mu.Lock()
	if p.stopping {
		p.mu.Unlock()
		return
	}
	p.stopping = true
	p.stopMsg = message
	p.target = 0
	workers := make([]*Worker, len(p.workers))
	copy(workers, p.workers)
	p.mu.Unlock()

	p.cancel()
	for _, w := range workers {
		w.kill()
	}
	p.uploads.close()
	p.wake()
	p.once.Do(func() { close(p.done) })
}

// Wait blocks until Stop is called.
func (p *Pool) Wait() <-chan struct{} {
	return p.done
}

// StopReason returns the message passed to Stop, if any.
func (p *Pool) StopReason() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopMsg
}

// claims returns every job this pool is holding: assigned to workers,
// queued for upload, or mid-upload. Workers exclude these on fetch.
func (p *Pool) claims() []project.ClaimRef {
	refs := p.uploads.claims()
	p.mu.Lock()
	for _, w := range p.workers {
		if job := w.currentJob(); job != nil {
			refs = append(refs, job.Ref())
		}
	}
	p.mu.Unlock()
	return refs
}

func (p *Pool) removeWorker(w *Worker) {
	p.mu.Lock()
	for i, candidate := range p.workers {
		if candidate == w {
			p.workers = append(p.workers[:i], p.workers[i+1:]...)
			break
		}
	}
	p.mu.Unlock()
}

// oversize reports whether more workers exist than the target allows.
// Workers check this at loop boundaries and shrink cooperatively.
func (p *Pool) oversize() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers) > p.target
}

func (p *Pool) isStopping() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopping
}

// wake releases one worker parked in sleepFor; the rest wake on their
// own timers.
func (p *Pool) wake() {
	select {
	case p.poke <- struct{}{}:
	default:
	}
}

// sleepFor pauses between retries, returning early on a poke or pool
// shutdown. Reports false when the pool is done.
func (p *Pool) sleepFor(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-p.ctx.Done():
		return false
	case <-p.poke:
		return true
	case <-timer.C:
		return true
	}
}

// WorkerState is a point-in-time view of one worker for status display.
type WorkerState struct {
	ID     int
	Status string
	Pass   int
	Frame  int
	Frames int
}

// Snapshot reports worker states plus pool counters.
func (p *Pool) Snapshot() ([]WorkerState, int64, int64) {
	p.mu.Lock()
	states := make([]WorkerState, 0, len(p.workers))
	for _, w := range p.workers {
		states = append(states, w.state())
	}
	p.mu.Unlock()
	return states, p.completed.Load(), p.failed.Load()
}

// Uploading reports queued plus in-flight upload count.
func (p *Pool) Uploading() int {
	return p.uploads.pending()
}
