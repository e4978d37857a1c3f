package worker

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"swarmenc/internal/project"
	"swarmenc/internal/remote"
)

// badUploadRetries is how many extra attempts a "bad upload" verdict
// earns before the artifact is written off.
const badUploadRetries = 3

type uploadItem struct {
	job      remote.Job
	artifact string
}

// uploadQueue is the pool's single upload consumer: FIFO, one transfer at
// a time, never blocking workers. Connection failures retry forever, a
// "bad upload" verdict retries a bounded number of times, and every other
// verdict is terminal. The artifact is deleted only after a terminal
// outcome.
type uploadQueue struct {
	pool *Pool

	mu        sync.Mutex
	cond      *sync.Cond
	items     []uploadItem
	uploading *remote.Job
	closed    bool
}

func newUploadQueue(pool *Pool) *uploadQueue {
	q := &uploadQueue{pool: pool}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *uploadQueue) enqueue(job remote.Job, artifact string) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		removeWithRetry(artifact)
		return
	}
	q.items = append(q.items, uploadItem{job: job, artifact: artifact})
	q.mu.Unlock()
	q.cond.Signal()
}

func (q *uploadQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

// claims reports queued and in-flight jobs so fetches exclude scenes that
// are finished locally but not yet accepted by the coordinator.
func (q *uploadQueue) claims() []project.ClaimRef {
	q.mu.Lock()
	defer q.mu.Unlock()
	refs := make([]project.ClaimRef, 0, len(q.items)+1)
	for _, item := range q.items {
		refs = append(refs, item.job.Ref())
	}
	if q.uploading != nil {
		refs = append(refs, q.uploading.Ref())
	}
	return refs
}

func (q *uploadQueue) pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	if q.uploading != nil {
		n++
	}
	return n
}

func (q *uploadQueue) run() {
	for {
		q.mu.Lock()
		for len(q.items) == 0 && !q.closed {
			q.cond.Wait()
		}
		if q.closed {
			q.mu.Unlock()
			return
		}
		item := q.items[0]
		q.items = q.items[1:]
		q.uploading = &item.job
		q.mu.Unlock()

		q.deliver(item)

		q.mu.Lock()
		q.uploading = nil
		q.mu.Unlock()
	}
}

func (q *uploadQueue) deliver(item uploadItem) {
	logger := q.pool.logger.With(
		slog.String("projectid", item.job.ProjectID),
		slog.String("scene", item.job.Scene))

	retries := badUploadRetries
	for {
		status, err := q.pool.client.FinishJob(context.Background(), item.job, item.artifact)
		if err != nil {
			logger.Warn("coordinator unreachable, retrying upload",
				slog.String("error", err.Error()))
			if q.isClosed() {
				return
			}
			time.Sleep(time.Second)
			continue
		}

		switch status {
		case string(project.UploadSaved):
			logger.Info("upload accepted")
			q.pool.completed.Add(1)
		case string(project.UploadBadUpload):
			if retries > 0 {
				retries--
				logger.Warn("upload corrupted in transit, retrying",
					slog.Int("retries_left", retries))
				time.Sleep(time.Second)
				continue
			}
			logger.Error("upload rejected after repeated attempts")
			q.pool.failed.Add(1)
		default:
			// Terminal verdicts: already done, frame mismatch, bad encode,
			// bad params, project/job gone.
			logger.Error("upload rejected", slog.String("status", status))
			q.pool.failed.Add(1)
		}
		break
	}

	removeWithRetry(item.artifact)
}

func (q *uploadQueue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// removeWithRetry keeps trying the delete so a transient hold on the file
// cannot leak the artifact.
func removeWithRetry(path string) {
	for attempt := 0; attempt < 30; attempt++ {
		err := os.Remove(path)
		if err == nil || os.IsNotExist(err) {
			return
		}
		time.Sleep(time.Second)
	}
}
