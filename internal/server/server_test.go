package server_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"swarmenc/internal/config"
	"swarmenc/internal/project"
	"swarmenc/internal/server"
	"swarmenc/internal/testsupport"
)

type fixture struct {
	cfg      *config.Config
	registry *project.Registry
	verifier *testsupport.StubVerifier
	server   *httptest.Server
}

func newFixture(t *testing.T, opts ...testsupport.ConfigOption) *fixture {
	t.Helper()

	cfg := testsupport.NewConfig(t, opts...)
	verifier := &testsupport.StubVerifier{Frames: 10}
	registry := testsupport.NewRegistry(t, cfg, project.Collaborators{
		Splitter: &testsupport.StubSplitter{
			Scenes: map[string]project.Scene{
				"00000": {Start: 0, Frames: 10, Segment: "00000.mkv"},
				"00001": {Start: 10, Frames: 10, Segment: "00001.mkv"},
			},
			TotalFrames: 20,
		},
		Verifier: verifier,
	})

	ts := httptest.NewServer(server.New(cfg, registry, nil).Handler())
	t.Cleanup(ts.Close)
	return &fixture{cfg: cfg, registry: registry, verifier: verifier, server: ts}
}

func (f *fixture) addProject(t *testing.T) string {
	t.Helper()

	body, _ := json.Marshal(server.AddProjectRequest{
		PathIn:  "/media/input.mkv",
		Encoder: "aom",
	})
	resp, err := http.Post(f.server.URL+"/api/add_project", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("add_project: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("add_project status = %d", resp.StatusCode)
	}

	var result map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("decode add_project response: %v", err)
	}
	id := result["projectid"]
	if id == "" {
		t.Fatal("add_project returned no projectid")
	}

	p, ok := f.registry.Get(id)
	if !ok {
		t.Fatalf("project %s not registered", id)
	}
	testsupport.WaitFor(t, 5*time.Second, func() bool {
		return p.Status() == project.StatusReady
	}, "project to become ready")

	// get_job streams the segment from disk.
	for _, segment := range []string{"00000.mkv", "00001.mkv"} {
		testsupport.WriteFile(t, filepath.Join(f.cfg.SplitRoot(), id, segment), 64)
	}
	return id
}

func TestGetJobHeadersAndBody(t *testing.T) {
	f := newFixture(t, testsupport.WithEncoderVersion("aom", "3.8.1"))
	id := f.addProject(t)

	resp, err := http.Get(f.server.URL + "/api/get_job/" + url.PathEscape("[]"))
	if err != nil {
		t.Fatalf("get_job: %v", err)
	}
	defer resp.Body.Close()

	if resp.Header.Get("success") != "1" {
		t.Fatalf("success header = %q", resp.Header.Get("success"))
	}
	if resp.Header.Get("projectid") != id {
		t.Fatalf("projectid header = %q, want %s", resp.Header.Get("projectid"), id)
	}
	if resp.Header.Get("frames") != "10" {
		t.Fatalf("frames header = %q", resp.Header.Get("frames"))
	}
	if resp.Header.Get("version") != "3.8.1" {
		t.Fatalf("version header = %q", resp.Header.Get("version"))
	}
	if resp.Header.Get("id") == "" {
		t.Fatal("missing client id header")
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if len(body) != 64 {
		t.Fatalf("segment body = %d bytes, want 64", len(body))
	}

	// The handed-out client id now counts as a racing worker on that scene.
	scene := resp.Header.Get("scene")
	job := f.registry.GetJob(nil)
	if job == nil {
		t.Fatal("no second job")
	}
	if job.Scene == scene {
		t.Fatalf("claimed scene %s offered again over the unclaimed one", scene)
	}
}

func TestGetJobHonorsExclusions(t *testing.T) {
	f := newFixture(t)
	id := f.addProject(t)

	exclusions, _ := json.Marshal([]project.ClaimRef{
		{ProjectID: id, Scene: "00000"},
		{ProjectID: id, Scene: "00001"},
	})
	resp, err := http.Get(f.server.URL + "/api/get_job/" + url.PathEscape(string(exclusions)))
	if err != nil {
		t.Fatalf("get_job: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 when everything is excluded", resp.StatusCode)
	}
}

func uploadArtifact(t *testing.T, serverURL, id, scene, client, payload string) string {
	t.Helper()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	fields := map[string]string{
		"projectid":      id,
		"scene":          scene,
		"client":         client,
		"encoder":        "aom",
		"encoder_params": "",
		"ffmpeg_params":  "",
	}
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	part, err := writer.CreateFormFile("file", scene+".ivf")
	if err != nil {
		t.Fatalf("create file part: %v", err)
	}
	fmt.Fprint(part, payload)
	writer.Close()

	resp, err := http.Post(serverURL+"/finish_job", writer.FormDataContentType(), &body)
	if err != nil {
		t.Fatalf("finish_job: %v", err)
	}
	defer resp.Body.Close()
	text, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read finish_job response: %v", err)
	}
	return strings.TrimSpace(string(text))
}

func TestFinishJobStatuses(t *testing.T) {
	f := newFixture(t)
	id := f.addProject(t)

	if got := uploadArtifact(t, f.server.URL, "missing", "00000", "w1", "data"); got != "project not found" {
		t.Fatalf("unknown project = %q", got)
	}
	if got := uploadArtifact(t, f.server.URL, id, "99999", "w1", "data"); got != "job not found" {
		t.Fatalf("unknown scene = %q", got)
	}
	if got := uploadArtifact(t, f.server.URL, id, "00000", "w1", ""); got != "bad upload" {
		t.Fatalf("empty artifact = %q", got)
	}

	f.verifier.Frames = 3
	if got := uploadArtifact(t, f.server.URL, id, "00000", "w1", "data"); got != "frame mismatch" {
		t.Fatalf("short artifact = %q", got)
	}
	f.verifier.Frames = 10

	if got := uploadArtifact(t, f.server.URL, id, "00000", "w1", "data"); got != "saved" {
		t.Fatalf("valid artifact = %q", got)
	}
	if got := uploadArtifact(t, f.server.URL, id, "00000", "w2", "data"); got != "already done" {
		t.Fatalf("duplicate artifact = %q", got)
	}
}

func TestCancelJobReleasesClaim(t *testing.T) {
	f := newFixture(t)
	id := f.addProject(t)

	resp, err := http.Get(f.server.URL + "/api/get_job/" + url.PathEscape("[]"))
	if err != nil {
		t.Fatalf("get_job: %v", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	client := resp.Header.Get("id")
	scene := resp.Header.Get("scene")

	form := url.Values{"projectid": {id}, "scene": {scene}, "client": {client}}
	cancelResp, err := http.PostForm(f.server.URL+"/cancel_job", form)
	if err != nil {
		t.Fatalf("cancel_job: %v", err)
	}
	cancelResp.Body.Close()

	other := "00000"
	if scene == other {
		other = "00001"
	}
	job := f.registry.GetJob([]project.ClaimRef{{ProjectID: id, Scene: other}})
	if job == nil || job.Scene != scene {
		t.Fatalf("job for %s not offered after cancel", scene)
	}
	if job.WorkerCount() != 0 {
		t.Fatalf("claim on %s survived cancel: %d workers", scene, job.WorkerCount())
	}
}

func TestStatusEndpoint(t *testing.T) {
	f := newFixture(t)
	id := f.addProject(t)

	if got := uploadArtifact(t, f.server.URL, id, "00000", "w1", "data"); got != "saved" {
		t.Fatalf("upload = %q", got)
	}

	resp, err := http.Get(f.server.URL + "/api/status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	defer resp.Body.Close()

	var report server.StatusReport
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if report.FramesPerHour != 10 {
		t.Fatalf("fph = %d, want 10", report.FramesPerHour)
	}
	if len(report.Projects) != 1 || report.Projects[0].ProjectID != id {
		t.Fatalf("projects = %+v", report.Projects)
	}
	if report.Projects[0].DoneFrames != 10 {
		t.Fatalf("done frames = %d, want 10", report.Projects[0].DoneFrames)
	}
}

func TestGetGrainServesTable(t *testing.T) {
	f := newFixture(t)
	id := f.addProject(t)

	testsupport.WriteFile(t, filepath.Join(f.cfg.GrainRoot(), id, "00000.table"), 16)

	resp, err := http.Get(f.server.URL + "/api/get_grain/" + url.PathEscape(id) + "/00000")
	if err != nil {
		t.Fatalf("get_grain: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if len(body) != 16 {
		t.Fatalf("table = %d bytes, want 16", len(body))
	}

	resp, err = http.Get(f.server.URL + "/api/get_grain/" + url.PathEscape(id) + "/00001")
	if err != nil {
		t.Fatalf("get_grain missing: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing table status = %d, want 404", resp.StatusCode)
	}
}
