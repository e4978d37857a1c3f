package project

import (
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Settings describes a project at creation or reload time.
type Settings struct {
	ID            string
	InputPath     string
	OutputPath    string
	SplitDir      string
	EncodeDir     string
	Encoder       string
	EncoderParams string
	FFmpegParams  string
	MinFrames     int
	MaxFrames     int
	Priority      int
	Grain         bool
	OnComplete    string
	InputFrames   int
	Scenes        map[string]Scene
}

// Project owns the scenes and live jobs for one input-to-output encode. All
// structural transitions happen on the registry's action goroutine; scene
// and job lookups elsewhere take the project mutex for short sections.
type Project struct {
	ID            string
	InputPath     string
	OutputPath    string
	SplitDir      string
	EncodeDir     string
	Encoder       string
	EncoderParams string
	FFmpegParams  string
	MinFrames     int
	MaxFrames     int
	Priority      int
	Grain         bool
	OnComplete    string

	mu            sync.Mutex
	status        Status
	scenes        map[string]*Scene
	jobs          map[string]*Job
	totalFrames   int
	inputFrames   int
	encodedFrames int
	stopped       bool
}

// New constructs a project from settings. A missing ID is derived from the
// creation time.
func New(settings Settings) *Project {
	id := settings.ID
	if id == "" {
		id = NewProjectID(time.Now())
	}
	scenes := make(map[string]*Scene, len(settings.Scenes))
	for key, scene := range settings.Scenes {
		copied := scene
		scenes[key] = &copied
	}
	return &Project{
		ID:            id,
		InputPath:     settings.InputPath,
		OutputPath:    settings.OutputPath,
		SplitDir:      settings.SplitDir,
		EncodeDir:     settings.EncodeDir,
		Encoder:       settings.Encoder,
		EncoderParams: settings.EncoderParams,
		FFmpegParams:  settings.FFmpegParams,
		MinFrames:     settings.MinFrames,
		MaxFrames:     settings.MaxFrames,
		Priority:      settings.Priority,
		Grain:         settings.Grain,
		OnComplete:    settings.OnComplete,
		status:        StatusStarting,
		scenes:        scenes,
		jobs:          make(map[string]*Job),
		inputFrames:   settings.InputFrames,
	}
}

// Status returns the current lifecycle state.
func (p *Project) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *Project) setStatus(status Status) {
	p.mu.Lock()
	p.status = status
	p.mu.Unlock()
}

// Stop marks the project stopped; job materialization halts at the next
// checkpoint.
func (p *Project) Stop() {
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()
}

// NeedsSplit reports whether the split directory is absent or empty, which
// identifies a brand-new project versus a resumable one.
func (p *Project) NeedsSplit() bool {
	entries, err := os.ReadDir(p.SplitDir)
	if err != nil {
		return true
	}
	return len(entries) == 0
}

// EncodedFilename returns the artifact name for a scene.
func (p *Project) EncodedFilename(scene string) string {
	return scene + ".ivf"
}

// adoptSplit installs freshly split scenes and the expected input total.
func (p *Project) adoptSplit(scenes map[string]Scene, totalFrames int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scenes = make(map[string]*Scene, len(scenes))
	for key, scene := range scenes {
		copied := scene
		p.scenes[key] = &copied
	}
	p.inputFrames = totalFrames
}

// markBad flags scenes rejected by the split verifier. Bad scenes never get
// jobs; their frames are tallied separately for completion purposes.
func (p *Project) markBad(scenes []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, key := range scenes {
		if scene, ok := p.scenes[key]; ok {
			scene.Bad = true
		}
	}
}

// doneFramesLocked sums frames of scenes with an integrated upload.
func (p *Project) doneFramesLocked() int {
	total := 0
	for _, scene := range p.scenes {
		if scene.Filesize > 0 {
			total += scene.Frames
		}
	}
	return total
}

// excludedFramesLocked sums frames of bad scenes that will never encode.
func (p *Project) excludedFramesLocked() int {
	total := 0
	for _, scene := range p.scenes {
		if scene.Bad && scene.Filesize == 0 {
			total += scene.Frames
		}
	}
	return total
}

// DoneFrames returns the frames covered by validated uploads.
func (p *Project) DoneFrames() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.doneFramesLocked()
}

// load replays on-disk state: records resume filesizes, accumulates the
// frame total, and materializes jobs for every pending scene. It returns
// false when the split/resume state is structurally inconsistent.
func (p *Project) load() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if info, err := os.Stat(p.EncodeDir); err == nil && info.IsDir() {
		p.status = StatusResuming
	}

	p.totalFrames = 0
	for key, scene := range p.scenes {
		artifact := filepath.Join(p.EncodeDir, p.EncodedFilename(key))
		if info, err := os.Stat(artifact); err == nil {
			scene.Filesize = info.Size()
		} else {
			scene.Filesize = 0
		}
		p.totalFrames += scene.Frames
	}

	if p.stopped {
		return true
	}

	if p.inputFrames != p.totalFrames {
		p.status = StatusFrameMismatch
		return false
	}

	for key, scene := range p.scenes {
		if scene.Filesize > 0 || scene.Bad {
			continue
		}
		p.jobs[key] = &Job{
			ProjectID:     p.ID,
			Scene:         key,
			Encoder:       p.Encoder,
			EncoderParams: p.EncoderParams,
			FFmpegParams:  p.FFmpegParams,
			SegmentPath:   filepath.Join(p.SplitDir, scene.Segment),
			EncodedName:   p.EncodedFilename(key),
			Priority:      p.Priority,
			Start:         scene.Start,
			Frames:        scene.Frames,
			Grain:         p.Grain,
		}
	}
	p.status = StatusReady
	return true
}

// readyForJoin atomically checks the completion condition and, when met,
// transitions to joining and returns the encoded files in scene order.
func (p *Project) readyForJoin() ([]string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.status == StatusComplete || p.status == StatusJoining {
		return nil, false
	}
	if len(p.jobs) != 0 || p.totalFrames == 0 {
		return nil, false
	}
	if p.doneFramesLocked()+p.excludedFramesLocked() != p.totalFrames {
		return nil, false
	}

	keys := make([]string, 0, len(p.scenes))
	for key, scene := range p.scenes {
		if scene.Bad && scene.Filesize == 0 {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	files := make([]string, 0, len(keys))
	for _, key := range keys {
		files = append(files, filepath.Join(p.EncodeDir, p.EncodedFilename(key)))
	}
	p.status = StatusJoining
	return files, true
}

// Summary captures a consistent snapshot for status reporting.
func (p *Project) Summary() Summary {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Summary{
		ProjectID:      p.ID,
		Status:         p.status,
		Priority:       p.Priority,
		SceneCount:     len(p.scenes),
		JobCount:       len(p.jobs),
		TotalFrames:    p.totalFrames,
		InputFrames:    p.inputFrames,
		DoneFrames:     p.doneFramesLocked(),
		ExcludedFrames: p.excludedFramesLocked(),
		EncodedFrames:  p.encodedFrames,
	}
}

// snapshotScenes copies the scene map for persistence.
func (p *Project) snapshotScenes() map[string]Scene {
	p.mu.Lock()
	defer p.mu.Unlock()
	scenes := make(map[string]Scene, len(p.scenes))
	for key, scene := range p.scenes {
		scenes[key] = *scene
	}
	return scenes
}

// pendingJobs copies the live job pointers.
func (p *Project) pendingJobs() []*Job {
	p.mu.Lock()
	defer p.mu.Unlock()
	jobs := make([]*Job, 0, len(p.jobs))
	for _, job := range p.jobs {
		jobs = append(jobs, job)
	}
	return jobs
}

// job returns the live job for a scene, if any.
func (p *Project) job(scene string) (*Job, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	job, ok := p.jobs[scene]
	return job, ok
}
