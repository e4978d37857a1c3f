package project

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// Upload carries one finished-job submission into validation.
type Upload struct {
	ProjectID     string
	Scene         string
	Client        string
	Encoder       string
	EncoderParams string
	FFmpegParams  string
	Body          io.Reader
}

// CheckJob validates an uploaded artifact and integrates it on success.
// The returned status is the literal protocol response. Rejections never
// mutate scene state beyond dropping the submitting worker's claim; only an
// exact decoded frame-count match sets the scene's filesize, removes the
// job, records telemetry, persists, and (when the project drained) queues
// completion.
func (r *Registry) CheckJob(ctx context.Context, upload Upload) UploadStatus {
	log := r.logger.With(
		slog.String("projectid", upload.ProjectID),
		slog.String("scene", upload.Scene),
		slog.String("client", upload.Client))

	r.mu.RLock()
	p, ok := r.projects[upload.ProjectID]
	r.mu.RUnlock()
	if !ok {
		log.Info("discarded upload", slog.String("reason", string(UploadProjectNotFound)))
		return UploadProjectNotFound
	}

	// Resolve the scene before the job: a validated upload removes its job,
	// so a repeat submission for a finished scene must still answer
	// "already done" rather than "job not found".
	p.mu.Lock()
	scene, ok := p.scenes[upload.Scene]
	if !ok {
		p.mu.Unlock()
		log.Info("discarded upload", slog.String("reason", string(UploadJobNotFound)))
		return UploadJobNotFound
	}
	if scene.Filesize > 0 {
		p.mu.Unlock()
		log.Info("discarded upload", slog.String("reason", string(UploadAlreadyDone)))
		return UploadAlreadyDone
	}
	job, ok := p.jobs[upload.Scene]
	p.mu.Unlock()
	if !ok {
		log.Info("discarded upload", slog.String("reason", string(UploadJobNotFound)))
		return UploadJobNotFound
	}

	if job.Encoder != upload.Encoder ||
		job.EncoderParams != upload.EncoderParams ||
		job.FFmpegParams != upload.FFmpegParams {
		job.Release(upload.Client)
		log.Info("discarded upload", slog.String("reason", string(UploadBadParams)))
		return UploadBadParams
	}

	// Racing uploads for the same scene each land in their own staging file;
	// only the winner is renamed into place.
	artifact := filepath.Join(p.EncodeDir, job.EncodedName)
	staged, size, err := persistArtifact(p.EncodeDir, job.EncodedName, upload.Body)
	if err != nil {
		log.Error("persist upload", slog.String("error", err.Error()))
		return UploadBadUpload
	}
	if size == 0 {
		_ = os.Remove(staged)
		log.Info("discarded upload", slog.String("reason", string(UploadBadUpload)))
		return UploadBadUpload
	}

	decoded, err := r.collab.Verifier.DecodedFrames(ctx, job.Encoder, staged)
	if err != nil {
		_ = os.Remove(staged)
		job.Release(upload.Client)
		log.Info("discarded upload",
			slog.String("reason", string(UploadBadEncode)),
			slog.String("error", err.Error()))
		return UploadBadEncode
	}

	if decoded != scene.Frames {
		_ = os.Remove(staged)
		job.Release(upload.Client)
		log.Info("discarded upload",
			slog.String("reason", string(UploadFrameMismatch)),
			slog.Int("decoded", decoded),
			slog.Int("expected", scene.Frames))
		return UploadFrameMismatch
	}

	p.mu.Lock()
	if scene.Filesize > 0 {
		// A racing upload won while this one was being verified.
		p.mu.Unlock()
		_ = os.Remove(staged)
		log.Info("discarded upload", slog.String("reason", string(UploadAlreadyDone)))
		return UploadAlreadyDone
	}
	if err := os.Rename(staged, artifact); err != nil {
		p.mu.Unlock()
		_ = os.Remove(staged)
		log.Error("install upload", slog.String("error", err.Error()))
		return UploadBadUpload
	}
	scene.Filesize = size
	if job.HasWorker(upload.Client) {
		p.encodedFrames += scene.Frames
	}
	delete(p.jobs, upload.Scene)
	drained := len(p.jobs) == 0
	p.mu.Unlock()

	log.Info("received encode", slog.Int("frames", scene.Frames))
	r.telemetry.Hit(scene.Frames)
	r.save()

	if drained {
		r.enqueue(func(ctx context.Context) {
			r.completeProject(ctx, p)
		})
	}
	return UploadSaved
}

func persistArtifact(dir, name string, body io.Reader) (string, int64, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", 0, err
	}
	file, err := os.CreateTemp(dir, name+".upload-*")
	if err != nil {
		return "", 0, err
	}
	size, err := io.Copy(file, body)
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(file.Name())
		return "", 0, err
	}
	return file.Name(), size, nil
}
