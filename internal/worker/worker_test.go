package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"swarmenc/internal/encode"
	"swarmenc/internal/project"
	"swarmenc/internal/remote"
	"swarmenc/internal/testsupport"
)

// fakeCoordinator is a scripted coordinator: one job, canned finish_job
// verdicts, claim-aware fetches.
type fakeCoordinator struct {
	t *testing.T

	mu           sync.Mutex
	jobAvailable bool
	finishQueue  []string
	finishCalls  int
	cancels      int

	server *httptest.Server
}

func newFakeCoordinator(t *testing.T, finishQueue ...string) *fakeCoordinator {
	t.Helper()

	f := &fakeCoordinator{t: t, jobAvailable: true, finishQueue: finishQueue}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/get_job/", f.handleGetJob)
	mux.HandleFunc("/finish_job", f.handleFinishJob)
	mux.HandleFunc("/cancel_job", f.handleCancelJob)
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeCoordinator) handleGetJob(w http.ResponseWriter, r *http.Request) {
	raw, _ := url.PathUnescape(strings.TrimPrefix(r.URL.Path, "/api/get_job/"))
	var exclude []project.ClaimRef
	_ = json.Unmarshal([]byte(raw), &exclude)

	f.mu.Lock()
	available := f.jobAvailable
	f.mu.Unlock()

	for _, ref := range exclude {
		if ref.ProjectID == "proj" && ref.Scene == "00000" {
			available = false
		}
	}
	if !available {
		http.NotFound(w, r)
		return
	}

	header := w.Header()
	header.Set("success", "1")
	header.Set("id", "client-1")
	header.Set("filename", "00000.mkv")
	header.Set("scene", "00000")
	header.Set("encoder", "aom")
	header.Set("encoder_params", "--cpu-used=6")
	header.Set("ffmpeg_params", "")
	header.Set("projectid", "proj")
	header.Set("frames", "10")
	header.Set("start", "0")
	fmt.Fprint(w, "segment-bytes")
}

func (f *fakeCoordinator) handleFinishJob(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	f.finishCalls++
	verdict := "saved"
	if len(f.finishQueue) > 0 {
		verdict = f.finishQueue[0]
		f.finishQueue = f.finishQueue[1:]
	}
	if verdict == "saved" {
		f.jobAvailable = false
	}
	f.mu.Unlock()
	fmt.Fprint(w, verdict)
}

func (f *fakeCoordinator) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.cancels++
	f.mu.Unlock()
	fmt.Fprint(w, "ok")
}

func (f *fakeCoordinator) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.finishCalls
}

// stubRunner writes a canned artifact, optionally blocking until released.
type stubRunner struct {
	startOnce sync.Once
	started   chan struct{}
	release   chan struct{} // nil means finish immediately
}

func newStubRunner(blocking bool) *stubRunner {
	r := &stubRunner{started: make(chan struct{})}
	if blocking {
		r.release = make(chan struct{})
	}
	return r
}

func (r *stubRunner) Encode(ctx context.Context, req encode.Request, _ func(encode.Progress)) (string, error) {
	r.startOnce.Do(func() { close(r.started) })
	if r.release != nil {
		select {
		case <-r.release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	output := req.Input + ".ivf"
	if err := os.WriteFile(output, []byte("encoded"), 0o644); err != nil {
		return "", err
	}
	return output, nil
}

func (r *stubRunner) Version(context.Context, string) (string, error) {
	return "stub", nil
}

func newTestPool(t *testing.T, coordinator *fakeCoordinator, runner encode.Runner, workers int) *Pool {
	t.Helper()

	pool := NewPool(Options{
		Client:  remote.NewClient(coordinator.server.URL),
		Runner:  runner,
		WorkDir: t.TempDir(),
		Workers: workers,
		Threads: 1,
	})
	t.Cleanup(func() { pool.Stop("test done") })
	return pool
}

func workerCount(p *Pool) int {
	states, _, _ := p.Snapshot()
	return len(states)
}

func TestWorkerFetchEncodeUpload(t *testing.T) {
	coordinator := newFakeCoordinator(t, "saved")
	pool := newTestPool(t, coordinator, newStubRunner(false), 1)
	pool.Run()

	testsupport.WaitFor(t, 10*time.Second, func() bool {
		_, completed, _ := pool.Snapshot()
		return completed == 1
	}, "upload to complete")

	if calls := coordinator.calls(); calls != 1 {
		t.Fatalf("finish_job calls = %d, want 1", calls)
	}

	// Terminal upload outcomes delete the artifact and the segment scratch
	// file is gone once processing finished.
	testsupport.WaitFor(t, 5*time.Second, func() bool {
		entries, err := os.ReadDir(pool.workDir)
		return err == nil && len(entries) == 0
	}, "work directory to drain")
}

func TestUploadQueueRetriesBadUpload(t *testing.T) {
	coordinator := newFakeCoordinator(t, "bad upload", "bad upload", "saved")
	pool := newTestPool(t, coordinator, newStubRunner(false), 0)

	artifact := filepath.Join(t.TempDir(), "00000.ivf")
	testsupport.WriteFile(t, artifact, 32)

	pool.uploads.enqueue(remote.Job{ProjectID: "proj", Scene: "00000", Filename: "00000.mkv"}, artifact)

	testsupport.WaitFor(t, 15*time.Second, func() bool {
		_, completed, _ := pool.Snapshot()
		return completed == 1
	}, "retried upload to be accepted")

	if calls := coordinator.calls(); calls != 3 {
		t.Fatalf("finish_job calls = %d, want 3 (two rejections, one save)", calls)
	}
	if _, err := os.Stat(artifact); !os.IsNotExist(err) {
		t.Fatalf("artifact not deleted after save: %v", err)
	}
	if _, _, failed := pool.Snapshot(); failed != 0 {
		t.Fatalf("failed = %d, want 0", failed)
	}
}

func TestUploadQueueTerminalVerdict(t *testing.T) {
	coordinator := newFakeCoordinator(t, "frame mismatch")
	pool := newTestPool(t, coordinator, newStubRunner(false), 0)

	artifact := filepath.Join(t.TempDir(), "00000.ivf")
	testsupport.WriteFile(t, artifact, 32)

	pool.uploads.enqueue(remote.Job{ProjectID: "proj", Scene: "00000", Filename: "00000.mkv"}, artifact)

	testsupport.WaitFor(t, 10*time.Second, func() bool {
		_, _, failed := pool.Snapshot()
		return failed == 1
	}, "terminal verdict to be recorded")

	if calls := coordinator.calls(); calls != 1 {
		t.Fatalf("finish_job calls = %d, want 1 (no retry on terminal verdict)", calls)
	}
	if _, err := os.Stat(artifact); !os.IsNotExist(err) {
		t.Fatalf("artifact not deleted after terminal verdict: %v", err)
	}
}

func TestUploadQueueClaimsCoverQueuedJobs(t *testing.T) {
	coordinator := newFakeCoordinator(t)
	pool := newTestPool(t, coordinator, newStubRunner(false), 0)

	artifact := filepath.Join(t.TempDir(), "00000.ivf")
	testsupport.WriteFile(t, artifact, 32)

	// Append without signaling so the consumer stays parked and the item
	// remains queued.
	pool.uploads.mu.Lock()
	pool.uploads.items = append(pool.uploads.items, uploadItem{
		job:      remote.Job{ProjectID: "proj", Scene: "00000"},
		artifact: artifact,
	})
	pool.uploads.mu.Unlock()

	claims := pool.claims()
	if len(claims) != 1 || claims[0] != (project.ClaimRef{ProjectID: "proj", Scene: "00000"}) {
		t.Fatalf("claims = %+v, want the queued job", claims)
	}
}

func TestPoolShrinksIdleWorkerFirst(t *testing.T) {
	coordinator := newFakeCoordinator(t, "saved")
	runner := newStubRunner(true)
	pool := newTestPool(t, coordinator, runner, 2)
	pool.Run()

	// One worker takes the only job and blocks in the encoder; the other
	// goes idle because its fetch excludes the claimed scene.
	select {
	case <-runner.started:
	case <-time.After(10 * time.Second):
		t.Fatal("no worker reached the encoder")
	}

	pool.Resize(1)
	testsupport.WaitFor(t, 10*time.Second, func() bool {
		return workerCount(pool) == 1
	}, "idle worker to exit")

	// The surviving worker is the one mid-encode; releasing it finishes
	// the job.
	close(runner.release)
	testsupport.WaitFor(t, 10*time.Second, func() bool {
		_, completed, _ := pool.Snapshot()
		return completed == 1
	}, "surviving worker to finish its encode")
}

func TestPoolStopCancelsEncode(t *testing.T) {
	coordinator := newFakeCoordinator(t)
	runner := newStubRunner(true)
	pool := newTestPool(t, coordinator, runner, 1)
	pool.Run()

	select {
	case <-runner.started:
	case <-time.After(10 * time.Second):
		t.Fatal("worker never started encoding")
	}

	pool.Stop("shutting down")
	testsupport.WaitFor(t, 10*time.Second, func() bool {
		return workerCount(pool) == 0
	}, "workers to exit after stop")

	select {
	case <-pool.Wait():
	default:
		t.Fatal("Wait not released after Stop")
	}
	if reason := pool.StopReason(); reason != "shutting down" {
		t.Fatalf("StopReason = %q", reason)
	}
}
