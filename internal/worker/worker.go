package worker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"swarmenc/internal/encode"
	"swarmenc/internal/remote"
)

// fetchPollSeconds is how long a worker holding both locks polls an empty
// coordinator, one request per second, before releasing the locks and
// renegotiating.
const fetchPollSeconds = 15

// Worker runs the fetch → download → encode → enqueue-upload loop.
type Worker struct {
	id     int
	pool   *Pool
	logger *slog.Logger

	mu           sync.Mutex
	status       string
	job          *remote.Job
	cancelEncode context.CancelFunc
	pass         int
	frame        int

	stopped  atomic.Bool
	holdLock atomic.Bool
	done     chan struct{}
}

func newWorker(id int, pool *Pool) *Worker {
	return &Worker{
		id:     id,
		pool:   pool,
		logger: pool.logger.With(slog.Int("worker", id)),
		status: "starting",
		done:   make(chan struct{}),
	}
}

func (w *Worker) run() {
	defer close(w.done)
	defer w.pool.removeWorker(w)

	for {
		w.setStatus("waiting")

		w.pool.fetchMu.Lock()
		w.holdLock.Store(true)

		if w.shouldExit() {
			w.releaseFetchLock()
			w.setStatus("stopped")
			return
		}

		if !w.pool.downloadMu.TryLock() {
			// Another worker is mid-download; back off and renegotiate.
			w.releaseFetchLock()
			if !w.pool.sleepFor(100 * time.Millisecond) {
				return
			}
			continue
		}

		offer, ok := w.fetchWithPoll()
		if !ok {
			w.pool.downloadMu.Unlock()
			w.releaseFetchLock()
			if w.shouldExit() {
				w.setStatus("stopped")
				return
			}
			continue
		}

		if offer.Version != "" {
			if local, err := w.pool.runner.Version(w.pool.ctx, offer.Encoder); err != nil || local != offer.Version {
				_ = offer.Body.Close()
				w.abandon(offer.Job)
				w.pool.downloadMu.Unlock()
				w.releaseFetchLock()
				w.pool.Stop(fmt.Sprintf("encoder version mismatch: coordinator wants %s %q", offer.Encoder, offer.Version))
				return
			}
		}

		w.setJob(&offer.Job)
		segment, err := w.download(offer)
		w.pool.downloadMu.Unlock()
		w.releaseFetchLock()

		if err != nil {
			w.logger.Error("download failed",
				slog.String("scene", offer.Scene),
				slog.String("error", err.Error()))
			w.abandon(offer.Job)
			w.clearJob()
			if w.stopped.Load() {
				w.setStatus("stopped")
				return
			}
			continue
		}

		w.process(offer.Job, segment)

		if w.stopped.Load() {
			w.setStatus("stopped")
			return
		}
	}
}

// fetchWithPoll asks for a job while holding both locks. On an empty
// coordinator it polls once per second for up to fetchPollSeconds, then
// gives up so the locks can be renegotiated.
func (w *Worker) fetchWithPoll() (*remote.Offer, bool) {
	for attempt := 0; ; attempt++ {
		if w.shouldExit() {
			return nil, false
		}
		offer, err := w.pool.client.FetchJob(w.pool.ctx, w.pool.claims())
		if err != nil {
			w.logger.Debug("fetch failed", slog.String("error", err.Error()))
		}
		if offer != nil {
			return offer, true
		}
		if attempt+1 >= fetchPollSeconds {
			return nil, false
		}
		w.setStatus(fmt.Sprintf("waiting for jobs (%ds)", fetchPollSeconds-attempt-1))
		if !w.pool.sleepFor(time.Second) {
			return nil, false
		}
	}
}

// download streams the offered segment into the pool work directory.
func (w *Worker) download(offer *remote.Offer) (string, error) {
	defer offer.Body.Close()

	tmp, err := os.CreateTemp(w.pool.workDir, "*-"+offer.Filename)
	if err != nil {
		return "", fmt.Errorf("create segment file: %w", err)
	}

	total := "?"
	if offer.ContentLength > 0 {
		total = humanize.Bytes(uint64(offer.ContentLength))
	}

	var written int64
	buf := make([]byte, 256<<10)
	for {
		if w.stopped.Load() {
			tmp.Close()
			_ = os.Remove(tmp.Name())
			return "", fmt.Errorf("download aborted")
		}
		n, readErr := offer.Body.Read(buf)
		if n > 0 {
			if _, writeErr := tmp.Write(buf[:n]); writeErr != nil {
				tmp.Close()
				_ = os.Remove(tmp.Name())
				return "", fmt.Errorf("write segment: %w", writeErr)
			}
			written += int64(n)
			w.setStatus(fmt.Sprintf("downloading %s %s/%s",
				offer.Scene, humanize.Bytes(uint64(written)), total))
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			tmp.Close()
			_ = os.Remove(tmp.Name())
			return "", fmt.Errorf("read segment: %w", readErr)
		}
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("close segment: %w", err)
	}
	if offer.ContentLength > 0 && written != offer.ContentLength {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("short download: %d of %d bytes", written, offer.ContentLength)
	}
	return tmp.Name(), nil
}

// process encodes one downloaded segment and hands the artifact to the
// upload queue. The segment file is removed afterwards either way.
func (w *Worker) process(job remote.Job, segment string) {
	defer os.Remove(segment)

	req := encode.Request{
		Input:         segment,
		Encoder:       job.Encoder,
		EncoderParams: job.EncoderParams,
		FFmpegParams:  job.FFmpegParams,
		Frames:        job.Frames,
		Threads:       w.pool.threads,
	}

	if job.Grain {
		grain, ok := w.fetchGrain(job)
		if !ok {
			w.abandon(job)
			w.clearJob()
			return
		}
		if grain != "" {
			defer os.Remove(grain)
			req.GrainFile = grain
		}
	}

	encodeCtx, cancel := context.WithCancel(w.pool.ctx)
	w.setCancel(cancel)
	w.setStatus(fmt.Sprintf("encoding %s", job.Scene))

	output, err := w.pool.runner.Encode(encodeCtx, req, func(p encode.Progress) {
		w.setProgress(p.Pass, p.Frame)
		w.setStatus(fmt.Sprintf("encoding %s pass %d %d/%d", job.Scene, p.Pass, p.Frame, job.Frames))
	})
	w.setCancel(nil)
	cancel()

	if w.stopped.Load() {
		if output != "" {
			_ = os.Remove(output)
		}
		w.abandon(job)
		w.clearJob()
		return
	}
	if err != nil {
		w.logger.Error("encode failed",
			slog.String("scene", job.Scene),
			slog.String("error", err.Error()))
		w.pool.failed.Add(1)
		w.abandon(job)
		w.clearJob()
		return
	}

	w.setStatus(fmt.Sprintf("queueing upload %s", job.Scene))
	w.pool.uploads.enqueue(job, output)
	w.clearJob()
	w.setProgress(0, 0)
}

// fetchGrain retries once per second for up to fetchPollSeconds while the
// coordinator's grain analysis catches up. Returns ok=false only when the
// table never arrived.
func (w *Worker) fetchGrain(job remote.Job) (string, bool) {
	for attempt := 0; attempt < fetchPollSeconds; attempt++ {
		if w.stopped.Load() {
			return "", false
		}
		w.setStatus(fmt.Sprintf("fetching grain %s", job.Scene))
		body, err := w.pool.client.FetchGrain(w.pool.ctx, job.ProjectID, job.Scene)
		if err == nil && body != nil {
			path, saveErr := w.saveGrain(job, body)
			if saveErr == nil {
				return path, true
			}
			w.logger.Error("save grain table", slog.String("error", saveErr.Error()))
		}
		if !w.pool.sleepFor(time.Second) {
			return "", false
		}
	}
	w.logger.Error("grain table unavailable",
		slog.String("projectid", job.ProjectID),
		slog.String("scene", job.Scene))
	return "", false
}

func (w *Worker) saveGrain(job remote.Job, body io.ReadCloser) (string, error) {
	defer body.Close()
	path := filepath.Join(w.pool.workDir, fmt.Sprintf("%s-%s.table", job.ProjectID, job.Scene))
	file, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(file, body); err != nil {
		file.Close()
		_ = os.Remove(path)
		return "", err
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(path)
		return "", err
	}
	return path, nil
}

// abandon releases the advisory claim; failures are ignored because the
// coordinator never reserves scenes for claims anyway.
func (w *Worker) abandon(job remote.Job) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_ = w.pool.client.CancelJob(ctx, job)
}

// kill marks the worker stopped and cancels its in-flight encode. The
// worker observes the flag at its next checkpoint and exits.
func (w *Worker) kill() {
	w.stopped.Store(true)
	w.mu.Lock()
	cancel := w.cancelEncode
	w.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// shouldExit reports whether the worker should leave its loop: it was
// killed, the pool is stopping, or the pool has shrunk below the live
// worker count.
func (w *Worker) shouldExit() bool {
	return w.stopped.Load() || w.pool.isStopping() || w.pool.oversize()
}

func (w *Worker) releaseFetchLock() {
	w.holdLock.Store(false)
	w.pool.fetchMu.Unlock()
}

func (w *Worker) holdsFetchLock() bool {
	return w.holdLock.Load()
}

// Done is closed when the worker's goroutine has exited.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

func (w *Worker) setStatus(status string) {
	w.mu.Lock()
	w.status = status
	w.mu.Unlock()
}

func (w *Worker) setJob(job *remote.Job) {
	w.mu.Lock()
	w.job = job
	w.mu.Unlock()
}

func (w *Worker) clearJob() {
	w.setJob(nil)
}

func (w *Worker) currentJob() *remote.Job {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.job
}

func (w *Worker) setCancel(cancel context.CancelFunc) {
	w.mu.Lock()
	w.cancelEncode = cancel
	w.mu.Unlock()
}

func (w *Worker) setProgress(pass, frame int) {
	w.mu.Lock()
	w.pass = pass
	w.frame = frame
	w.mu.Unlock()
}

func (w *Worker) encodedFrames() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	// Second-pass frames dominate so a worker deep into pass 2 is the
	// worst choice to kill.
	return w.pass*1_000_000 + w.frame
}

func (w *Worker) state() WorkerState {
	w.mu.Lock()
	defer w.mu.Unlock()
	state := WorkerState{ID: w.id, Status: w.status, Pass: w.pass, Frame: w.frame}
	if w.job != nil {
		state.Frames = w.job.Frames
	}
	return state
}
