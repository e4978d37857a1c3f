package project

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// Splitter partitions an input into scene segments and verifies them.
type Splitter interface {
	Split(ctx context.Context, input, outDir string, minFrames, maxFrames int) (map[string]Scene, int, error)
	Verify(ctx context.Context, outDir string, scenes map[string]Scene) ([]string, error)
}

// EncodeVerifier reports how many frames an uploaded artifact decodes to.
type EncodeVerifier interface {
	DecodedFrames(ctx context.Context, encoder, path string) (int, error)
}

// Concatenator joins encoded scenes into the final output.
type Concatenator interface {
	Concat(ctx context.Context, files []string, output string) error
}

// Collaborators bundles the external tools the registry drives.
type Collaborators struct {
	Splitter Splitter
	Verifier EncodeVerifier
	Concat   Concatenator
}

// CompletionAction runs after a project completes, on the action goroutine.
type CompletionAction func(ctx context.Context, reg *Registry, proj *Project)

// PathConfig resolves per-project directories from the configured roots.
type PathConfig struct {
	SplitRoot  string
	EncodeRoot string
	OutputDir  string
}

// For returns the split dir, encode dir, and output path for a project ID.
func (c PathConfig) For(id string) (string, string, string) {
	return filepath.Join(c.SplitRoot, id),
		filepath.Join(c.EncodeRoot, id),
		filepath.Join(c.OutputDir, id+".mkv")
}

// Registry owns every project and serializes structural mutations through a
// single-consumer action queue. Each executed action is followed by a full
// save, so persisted state never lags more than one action behind.
type Registry struct {
	mu       sync.RWMutex
	projects map[string]*Project

	actions chan func(context.Context)
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}

	store     *Store
	collab    Collaborators
	paths     PathConfig
	logger    *slog.Logger
	telemetry *Telemetry

	actionMu          sync.Mutex
	completionActions map[string]CompletionAction
}

// NewRegistry constructs a registry and starts its action goroutine. The
// store may be nil for in-memory use.
func NewRegistry(store *Store, collab Collaborators, paths PathConfig, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Registry{
		projects:          make(map[string]*Project),
		actions:           make(chan func(context.Context), 128),
		ctx:               ctx,
		cancel:            cancel,
		done:              make(chan struct{}),
		store:             store,
		collab:            collab,
		paths:             paths,
		logger:            logger,
		telemetry:         NewTelemetry(),
		completionActions: make(map[string]CompletionAction),
	}
	go r.actionLoop()
	return r
}

// Close stops the action goroutine after draining queued actions.
func (r *Registry) Close() {
	r.cancel()
	<-r.done
}

// Telemetry exposes the frames-per-hour window.
func (r *Registry) Telemetry() *Telemetry {
	return r.telemetry
}

// RegisterCompletionAction makes a named on_complete action available.
func (r *Registry) RegisterCompletionAction(name string, action CompletionAction) {
	r.actionMu.Lock()
	defer r.actionMu.Unlock()
	r.completionActions[name] = action
}

func (r *Registry) completionAction(name string) CompletionAction {
	r.actionMu.Lock()
	defer r.actionMu.Unlock()
	return r.completionActions[name]
}

func (r *Registry) actionLoop() {
	defer close(r.done)
	for {
		select {
		case <-r.ctx.Done():
			// Drain what was already queued so adds are not lost.
			for {
				select {
				case action := <-r.actions:
					action(context.Background())
					r.save()
				default:
					return
				}
			}
		case action := <-r.actions:
			action(r.ctx)
			r.save()
		}
	}
}

func (r *Registry) enqueue(action func(context.Context)) {
	select {
	case r.actions <- action:
	case <-r.ctx.Done():
	}
}

// Paths returns the registry's path configuration.
func (r *Registry) Paths() PathConfig {
	return r.paths
}

// Add registers a project and schedules its startup: a fresh project splits
// first; a resumable one goes straight to job materialization.
func (r *Registry) Add(p *Project) {
	r.mu.Lock()
	r.projects[p.ID] = p
	r.mu.Unlock()

	r.logger.Info("added project", slog.String("projectid", p.ID))
	r.save()

	r.enqueue(func(ctx context.Context) {
		r.startProject(ctx, p)
	})
}

// Get returns the project with the given ID.
func (r *Registry) Get(id string) (*Project, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.projects[id]
	return p, ok
}

// Delete removes a project and persists the removal. In-flight uploads for
// it will be rejected as "project not found".
func (r *Registry) Delete(id string) {
	r.mu.Lock()
	if p, ok := r.projects[id]; ok {
		p.Stop()
		delete(r.projects, id)
	}
	r.mu.Unlock()
	r.save()
}

// Len returns the number of registered projects.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.projects)
}

// Summaries returns snapshots of all projects, ordered by ID.
func (r *Registry) Summaries() []Summary {
	r.mu.RLock()
	projects := make([]*Project, 0, len(r.projects))
	for _, p := range r.projects {
		projects = append(projects, p)
	}
	r.mu.RUnlock()

	summaries := make([]Summary, 0, len(projects))
	for _, p := range projects {
		summaries = append(summaries, p.Summary())
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].ProjectID < summaries[j].ProjectID
	})
	return summaries
}

// GetJob selects the best eligible job across all projects: ascending
// priority, then fewest racing workers, then fewest frames. Pairs in the
// exclusion set are never returned. Selection is stateless; callers record
// their claim separately via Job.Claim.
func (r *Registry) GetJob(exclude []ClaimRef) *Job {
	excluded := make(map[ClaimRef]struct{}, len(exclude))
	for _, ref := range exclude {
		excluded[ref] = struct{}{}
	}

	r.mu.RLock()
	var candidates []*Job
	for _, p := range r.projects {
		for _, job := range p.pendingJobs() {
			if _, skip := excluded[ClaimRef{ProjectID: job.ProjectID, Scene: job.Scene}]; skip {
				continue
			}
			candidates = append(candidates, job)
		}
	}
	r.mu.RUnlock()

	if len(candidates) == 0 {
		return nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		aw, bw := a.WorkerCount(), b.WorkerCount()
		if aw != bw {
			return aw < bw
		}
		return a.Frames < b.Frames
	})
	return candidates[0]
}

// CancelClaim drops a worker's advisory claim on a scene. Best-effort: an
// unknown project, scene, or client is not an error.
func (r *Registry) CancelClaim(projectID, scene, client string) {
	r.mu.RLock()
	p, ok := r.projects[projectID]
	r.mu.RUnlock()
	if !ok {
		return
	}
	if job, ok := p.job(scene); ok {
		if job.Release(client) {
			r.logger.Debug("released claim",
				slog.String("projectid", projectID),
				slog.String("scene", scene),
				slog.String("client", client))
		}
	}
}

// startProject runs on the action goroutine: split if needed, then load.
func (r *Registry) startProject(ctx context.Context, p *Project) {
	if p.NeedsSplit() {
		r.splitProject(ctx, p)
		if p.Status() != StatusVerifying {
			return
		}
	}
	r.loadProject(ctx, p)
}

func (r *Registry) splitProject(ctx context.Context, p *Project) {
	p.setStatus(StatusSplitting)
	r.logger.Info("splitting", slog.String("projectid", p.ID))

	scenes, totalFrames, err := r.collab.Splitter.Split(ctx, p.InputPath, p.SplitDir, p.MinFrames, p.MaxFrames)
	if err != nil {
		r.logger.Error("split failed",
			slog.String("projectid", p.ID),
			slog.String("error", err.Error()))
		return
	}
	p.adoptSplit(scenes, totalFrames)

	p.setStatus(StatusVerifying)
	bad, err := r.collab.Splitter.Verify(ctx, p.SplitDir, scenes)
	if err != nil {
		r.logger.Error("split verification failed",
			slog.String("projectid", p.ID),
			slog.String("error", err.Error()))
		p.setStatus(StatusSplitting)
		return
	}
	p.markBad(bad)
}

func (r *Registry) loadProject(ctx context.Context, p *Project) {
	if !p.load() {
		summary := p.Summary()
		r.logger.Error("total frame mismatch",
			slog.String("projectid", p.ID),
			slog.Int("total_frames", summary.TotalFrames),
			slog.Int("input_frames", summary.InputFrames))
		return
	}
	r.logger.Info("project loaded", slog.String("projectid", p.ID))

	if fileExists(p.OutputPath) {
		p.setStatus(StatusComplete)
		return
	}
	r.completeProject(ctx, p)
}

// completeProject checks the drain condition and, when met, concatenates
// the encoded scenes and fires the configured completion action.
func (r *Registry) completeProject(ctx context.Context, p *Project) {
	files, ok := p.readyForJoin()
	if !ok {
		return
	}

	r.logger.Info("joining files", slog.String("projectid", p.ID))
	if err := r.collab.Concat.Concat(ctx, files, p.OutputPath); err != nil {
		r.logger.Error("concat failed",
			slog.String("projectid", p.ID),
			slog.String("error", err.Error()))
		p.setStatus(StatusReady)
		return
	}

	p.setStatus(StatusComplete)
	r.logger.Info("completed", slog.String("projectid", p.ID))

	if action := r.completionAction(p.OnComplete); action != nil {
		// Queued rather than inline so one project's hook cannot block
		// integration of others.
		r.enqueue(func(ctx context.Context) {
			action(ctx, r, p)
		})
	}
}

func (r *Registry) save() {
	if r.store == nil {
		return
	}
	r.mu.RLock()
	records := make([]ProjectRecord, 0, len(r.projects))
	for _, p := range r.projects {
		records = append(records, recordFromProject(p))
	}
	r.mu.RUnlock()

	if err := r.store.SaveAll(context.Background(), records); err != nil {
		r.logger.Error("save projects", slog.String("error", err.Error()))
	}
}

// Load restores persisted projects and schedules their startup.
func (r *Registry) Load(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	records, err := r.store.LoadAll(ctx)
	if err != nil {
		return err
	}
	for _, record := range records {
		splitDir, encodeDir, outputPath := r.paths.For(record.ProjectID)
		r.Add(New(Settings{
			ID:            record.ProjectID,
			InputPath:     record.PathIn,
			OutputPath:    outputPath,
			SplitDir:      splitDir,
			EncodeDir:     encodeDir,
			Encoder:       record.Encoder,
			EncoderParams: record.EncoderParams,
			FFmpegParams:  record.FFmpegParams,
			MinFrames:     record.MinFrames,
			MaxFrames:     record.MaxFrames,
			Priority:      record.Priority,
			Grain:         record.Grain,
			OnComplete:    record.OnComplete,
			InputFrames:   record.InputFrames,
			Scenes:        record.Scenes,
		}))
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
