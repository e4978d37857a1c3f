// Package remote is the typed HTTP client for the coordinator API, shared
// by the worker pool and the operator CLI.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"swarmenc/internal/project"
	"swarmenc/internal/server"
)

// Job is the metadata for one fetched job, decoded from response headers.
type Job struct {
	ID            string
	Filename      string
	Scene         string
	Encoder       string
	EncoderParams string
	FFmpegParams  string
	ProjectID     string
	Frames        int
	Start         int
	Version       string
	Grain         bool
}

// Ref returns the claim reference for exclusion sets.
func (j Job) Ref() project.ClaimRef {
	return project.ClaimRef{ProjectID: j.ProjectID, Scene: j.Scene}
}

// Offer couples job metadata with the streamed segment body. The caller
// owns Body and must close it.
type Offer struct {
	Job
	Body          io.ReadCloser
	ContentLength int64
}

// Client talks to one coordinator.
type Client struct {
	base string
	// control issues short, bounded calls; transfer streams segment and
	// artifact bodies and therefore carries no overall timeout.
	control  *http.Client
	transfer *http.Client
}

// NewClient constructs a client for the given coordinator base URL.
func NewClient(base string) *Client {
	return &Client{
		base:     strings.TrimRight(base, "/"),
		control:  &http.Client{Timeout: 3 * time.Second},
		transfer: &http.Client{},
	}
}

// FetchJob asks the coordinator for a job, excluding the given claims.
// A nil offer with nil error means no job is available.
func (c *Client) FetchJob(ctx context.Context, exclude []project.ClaimRef) (*Offer, error) {
	if exclude == nil {
		exclude = []project.ClaimRef{}
	}
	payload, err := json.Marshal(exclude)
	if err != nil {
		return nil, fmt.Errorf("marshal exclusion set: %w", err)
	}

	endpoint := c.base + "/api/get_job/" + url.PathEscape(string(payload))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.transfer.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK || resp.Header.Get("success") != "1" {
		_ = resp.Body.Close()
		return nil, nil
	}

	frames, _ := strconv.Atoi(resp.Header.Get("frames"))
	start, _ := strconv.Atoi(resp.Header.Get("start"))
	offer := &Offer{
		Job: Job{
			ID:            resp.Header.Get("id"),
			Filename:      resp.Header.Get("filename"),
			Scene:         resp.Header.Get("scene"),
			Encoder:       resp.Header.Get("encoder"),
			EncoderParams: resp.Header.Get("encoder_params"),
			FFmpegParams:  resp.Header.Get("ffmpeg_params"),
			ProjectID:     resp.Header.Get("projectid"),
			Frames:        frames,
			Start:         start,
			Version:       resp.Header.Get("version"),
			Grain:         resp.Header.Get("grain") == "1",
		},
		Body:          resp.Body,
		ContentLength: resp.ContentLength,
	}
	return offer, nil
}

// FinishJob uploads an encoded artifact and returns the coordinator's
// literal validation status. A returned error means the upload never
// reached the coordinator.
func (c *Client) FinishJob(ctx context.Context, job Job, artifactPath string) (string, error) {
	file, err := os.Open(artifactPath)
	if err != nil {
		return "", fmt.Errorf("open artifact: %w", err)
	}

	// The artifact streams through a pipe rather than buffering in memory;
	// encoded segments can run to hundreds of megabytes.
	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)
	go func() {
		defer file.Close()
		pw.CloseWithError(writeFinishBody(writer, job, file, artifactPath))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/finish_job", pr)
	if err != nil {
		_ = pr.Close()
		return "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.transfer.Do(req)
	if err != nil {
		_ = pr.Close()
		return "", err
	}
	defer resp.Body.Close()

	text, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	return strings.TrimSpace(string(text)), nil
}

func writeFinishBody(writer *multipart.Writer, job Job, file *os.File, artifactPath string) error {
	fields := map[string]string{
		"client":         job.ID,
		"scene":          job.Scene,
		"projectid":      job.ProjectID,
		"encoder":        job.Encoder,
		"version":        job.Version,
		"encoder_params": job.EncoderParams,
		"ffmpeg_params":  job.FFmpegParams,
		"grain":          boolField(job.Grain),
	}
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return fmt.Errorf("write field %s: %w", key, err)
		}
	}

	stem := strings.TrimSuffix(job.Filename, filepath.Ext(job.Filename))
	part, err := writer.CreateFormFile("file", stem+filepath.Ext(artifactPath))
	if err != nil {
		return fmt.Errorf("create file part: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return fmt.Errorf("copy artifact: %w", err)
	}
	return writer.Close()
}

// CancelJob notifies the coordinator that a claim is abandoned. Callers
// treat failures as non-fatal; claims are advisory.
func (c *Client) CancelJob(ctx context.Context, job Job) error {
	form := url.Values{
		"client":    {job.ID},
		"scene":     {job.Scene},
		"projectid": {job.ProjectID},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/cancel_job", strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.control.Do(req)
	if err != nil {
		return err
	}
	_ = resp.Body.Close()
	return nil
}

// FetchGrain downloads the grain table for a scene. A nil reader with nil
// error means the coordinator has no table (yet).
func (c *Client) FetchGrain(ctx context.Context, projectID, scene string) (io.ReadCloser, error) {
	endpoint := fmt.Sprintf("%s/api/get_grain/%s/%s", c.base, url.PathEscape(projectID), url.PathEscape(scene))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.transfer.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, nil
	}
	return resp.Body, nil
}

// Status fetches the coordinator status report.
func (c *Client) Status(ctx context.Context) (server.StatusReport, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/api/status", nil)
	if err != nil {
		return server.StatusReport{}, err
	}
	resp, err := c.control.Do(req)
	if err != nil {
		return server.StatusReport{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return server.StatusReport{}, fmt.Errorf("status: unexpected response %d", resp.StatusCode)
	}
	var report server.StatusReport
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return server.StatusReport{}, fmt.Errorf("decode status: %w", err)
	}
	return report, nil
}

// AddProject submits a new project and returns its assigned ID.
func (c *Client) AddProject(ctx context.Context, request server.AddProjectRequest) (string, error) {
	payload, err := json.Marshal(request)
	if err != nil {
		return "", fmt.Errorf("marshal project request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/api/add_project", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.control.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		text, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("add project: %s", strings.TrimSpace(string(text)))
	}
	var result struct {
		ProjectID string `json:"projectid"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode add response: %w", err)
	}
	return result.ProjectID, nil
}

func boolField(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
