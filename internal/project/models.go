package project

import (
	"sync"
	"time"
)

// Status represents the lifecycle of a project. The literal strings are
// persisted and reported over the API, so they never change casually.
type Status string

const (
	StatusStarting      Status = "starting"
	StatusSplitting     Status = "splitting"
	StatusVerifying     Status = "verifying split"
	StatusResuming      Status = "getting resume data"
	StatusReady         Status = "ready"
	StatusJoining       Status = "done! joining files"
	StatusComplete      Status = "complete"
	StatusFrameMismatch Status = "total frame mismatch"
)

// UploadStatus is the literal response body for a finished-job submission.
type UploadStatus string

const (
	UploadSaved           UploadStatus = "saved"
	UploadProjectNotFound UploadStatus = "project not found"
	UploadJobNotFound     UploadStatus = "job not found"
	UploadBadParams       UploadStatus = "bad params"
	UploadAlreadyDone     UploadStatus = "already done"
	UploadBadUpload       UploadStatus = "bad upload"
	UploadBadEncode       UploadStatus = "bad encode"
	UploadFrameMismatch   UploadStatus = "frame mismatch"
)

// Scene is one contiguous frame range of the source, the unit of
// independent encoding. Filesize is zero until a valid upload is
// integrated, and only ever moves 0 -> nonzero except on explicit
// invalidation after a frame mismatch.
type Scene struct {
	Start    int
	Frames   int
	Segment  string
	Filesize int64
	Bad      bool
}

// Job is the live work order for one pending scene. Jobs are immutable
// after creation except for the advisory worker-claim set.
type Job struct {
	ProjectID     string
	Scene         string
	Encoder       string
	EncoderParams string
	FFmpegParams  string
	SegmentPath   string
	EncodedName   string
	Priority      int
	Start         int
	Frames        int
	Grain         bool

	mu      sync.Mutex
	workers map[string]struct{}
}

// Claim records a worker as racing this job. Claims are advisory: they bias
// scheduling but never grant exclusivity.
func (j *Job) Claim(client string) {
	if client == "" {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.workers == nil {
		j.workers = make(map[string]struct{})
	}
	j.workers[client] = struct{}{}
}

// Release drops a worker's claim and reports whether it was present.
func (j *Job) Release(client string) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if _, ok := j.workers[client]; !ok {
		return false
	}
	delete(j.workers, client)
	return true
}

// HasWorker reports whether the client currently claims this job.
func (j *Job) HasWorker(client string) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	_, ok := j.workers[client]
	return ok
}

// WorkerCount returns the number of workers currently racing this job.
func (j *Job) WorkerCount() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.workers)
}

// ClaimRef identifies a claimed (project, scene) pair in an exclusion set.
type ClaimRef struct {
	ProjectID string `json:"projectid"`
	Scene     string `json:"scene"`
}

// Summary is a read-only snapshot of one project for status reporting.
type Summary struct {
	ProjectID      string `json:"projectid"`
	Status         Status `json:"status"`
	Priority       int    `json:"priority"`
	SceneCount     int    `json:"scenes"`
	JobCount       int    `json:"jobs"`
	TotalFrames    int    `json:"total_frames"`
	InputFrames    int    `json:"input_frames"`
	DoneFrames     int    `json:"done_frames"`
	ExcludedFrames int    `json:"excluded_frames"`
	EncodedFrames  int    `json:"encoded_frames"`
}

// NewProjectID derives a stable project identifier from the creation time.
func NewProjectID(now time.Time) string {
	return now.UTC().Format("20060102T150405.000Z")
}
