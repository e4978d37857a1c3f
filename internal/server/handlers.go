package server

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"swarmenc/internal/project"
)

// maxUploadMemory bounds the in-memory portion of multipart parsing; the
// artifact itself spills to a temp file beyond this.
const maxUploadMemory = 32 << 20

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	raw, err := url.PathUnescape(chi.URLParam(r, "exclusions"))
	if err != nil {
		http.Error(w, "bad exclusion set", http.StatusBadRequest)
		return
	}

	var exclude []project.ClaimRef
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &exclude); err != nil {
			http.Error(w, "bad exclusion set", http.StatusBadRequest)
			return
		}
	}

	job := s.registry.GetJob(exclude)
	if job == nil {
		http.NotFound(w, r)
		return
	}

	segment, err := os.Open(job.SegmentPath)
	if err != nil {
		s.logger.Error("open segment",
			slog.String("projectid", job.ProjectID),
			slog.String("scene", job.Scene),
			slog.String("error", err.Error()))
		http.Error(w, "segment unavailable", http.StatusInternalServerError)
		return
	}
	defer segment.Close()

	info, err := segment.Stat()
	if err != nil {
		http.Error(w, "segment unavailable", http.StatusInternalServerError)
		return
	}

	clientID := uuid.NewString()
	job.Claim(clientID)

	header := w.Header()
	header.Set("success", "1")
	header.Set("id", clientID)
	header.Set("filename", filepath.Base(job.SegmentPath))
	header.Set("scene", job.Scene)
	header.Set("encoder", job.Encoder)
	header.Set("encoder_params", job.EncoderParams)
	header.Set("ffmpeg_params", job.FFmpegParams)
	header.Set("projectid", job.ProjectID)
	header.Set("frames", strconv.Itoa(job.Frames))
	header.Set("start", strconv.Itoa(job.Start))
	if version := s.cfg.Server.EncoderVersions[job.Encoder]; version != "" {
		header.Set("version", version)
	}
	if job.Grain {
		header.Set("grain", "1")
	}
	header.Set("Content-Type", "application/octet-stream")
	header.Set("Content-Length", strconv.FormatInt(info.Size(), 10))

	if _, err := io.Copy(w, segment); err != nil {
		// The worker aborted the download; its claim stays advisory and
		// the scene remains assignable.
		s.logger.Debug("segment transfer aborted",
			slog.String("projectid", job.ProjectID),
			slog.String("scene", job.Scene))
	}
}

func (s *Server) handleFinishJob(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		http.Error(w, "bad multipart form", http.StatusBadRequest)
		return
	}
	defer func() {
		_ = r.MultipartForm.RemoveAll()
	}()

	file, _, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "missing file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	status := s.registry.CheckJob(r.Context(), project.Upload{
		ProjectID:     r.FormValue("projectid"),
		Scene:         r.FormValue("scene"),
		Client:        r.FormValue("client"),
		Encoder:       r.FormValue("encoder"),
		EncoderParams: r.FormValue("encoder_params"),
		FFmpegParams:  r.FormValue("ffmpeg_params"),
		Body:          file,
	})

	fmt.Fprint(w, string(status))
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	s.registry.CancelClaim(
		r.FormValue("projectid"),
		r.FormValue("scene"),
		r.FormValue("client"),
	)
	fmt.Fprint(w, "ok")
}

func (s *Server) handleGetGrain(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectid")
	scene := chi.URLParam(r, "scene")

	if _, ok := s.registry.Get(projectID); !ok {
		http.NotFound(w, r)
		return
	}

	path := filepath.Join(s.cfg.GrainRoot(), projectID, scene+".table")
	file, err := os.Open(path)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer file.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = io.Copy(w, file)
}

// StatusReport is the coordinator status payload.
type StatusReport struct {
	FramesPerHour int               `json:"fph"`
	LastEncode    string            `json:"fph_time,omitempty"`
	Projects      []project.Summary `json:"projects"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	fph, last := s.registry.Telemetry().FramesPerHour()
	report := StatusReport{
		FramesPerHour: fph,
		Projects:      s.registry.Summaries(),
	}
	if !last.IsZero() {
		report.LastEncode = last.Format(time.DateTime)
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(report); err != nil {
		s.logger.Error("encode status", slog.String("error", err.Error()))
	}
}

// AddProjectRequest is the JSON body for project submission.
type AddProjectRequest struct {
	PathIn        string `json:"path_in"`
	Encoder       string `json:"encoder"`
	EncoderParams string `json:"encoder_params"`
	FFmpegParams  string `json:"ffmpeg_params"`
	MinFrames     int    `json:"min_frames"`
	MaxFrames     int    `json:"max_frames"`
	Priority      int    `json:"priority"`
	Grain         bool   `json:"grain"`
	OnComplete    string `json:"on_complete"`
}

func (s *Server) handleAddProject(w http.ResponseWriter, r *http.Request) {
	var req AddProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request body", http.StatusBadRequest)
		return
	}
	if req.PathIn == "" || req.Encoder == "" {
		http.Error(w, "path_in and encoder are required", http.StatusBadRequest)
		return
	}

	minFrames := req.MinFrames
	if minFrames == 0 {
		minFrames = s.cfg.Server.MinFrames
	}
	maxFrames := req.MaxFrames
	if maxFrames == 0 {
		maxFrames = s.cfg.Server.MaxFrames
	}

	id := project.NewProjectID(time.Now())
	splitDir, encodeDir, outputPath := s.registry.Paths().For(id)
	s.registry.Add(project.New(project.Settings{
		ID:            id,
		InputPath:     req.PathIn,
		OutputPath:    outputPath,
		SplitDir:      splitDir,
		EncodeDir:     encodeDir,
		Encoder:       req.Encoder,
		EncoderParams: req.EncoderParams,
		FFmpegParams:  req.FFmpegParams,
		MinFrames:     minFrames,
		MaxFrames:     maxFrames,
		Priority:      req.Priority,
		Grain:         req.Grain,
		OnComplete:    req.OnComplete,
	}))

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"projectid": id})
}
