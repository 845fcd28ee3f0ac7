package web

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/igolaizola/musigen/pkg/replicate"
	"github.com/igolaizola/musigen/pkg/service"
	"github.com/igolaizola/musigen/pkg/storage"
	"github.com/igolaizola/musigen/pkg/task"
	"go.uber.org/zap/zaptest"
)

type fakeGenerator struct {
	mu      sync.Mutex
	inputs  []*replicate.Input
	release chan struct{}
}

func (g *fakeGenerator) Run(ctx context.Context, in *replicate.Input) (string, error) {
	g.mu.Lock()
	g.inputs = append(g.inputs, in)
	g.mu.Unlock()
	if g.release != nil {
		select {
		case <-g.release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return "https://cdn/out.mp3", nil
}

func (g *fakeGenerator) last(t *testing.T) *replicate.Input {
	t.Helper()
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.inputs) == 0 {
		t.Fatal("generator wasn't called")
	}
	return g.inputs[len(g.inputs)-1]
}

func newTestServer(t *testing.T, gen *fakeGenerator, cfg *service.Config) (*httptest.Server, *service.Service) {
	t.Helper()
	if cfg == nil {
		cfg = &service.Config{}
	}
	cfg.Generator = gen
	cfg.Translator = "none"
	cfg.ScratchDir = filepath.Join(t.TempDir(), "tmp")
	cfg.Logger = zaptest.NewLogger(t)
	ctx, cancel := context.WithCancel(context.Background())
	svc, err := service.New(ctx, cfg)
	if err != nil {
		cancel()
		t.Fatal(err)
	}
	srv := httptest.NewServer(New(svc, &Options{Debug: true, Logger: cfg.Logger}))
	t.Cleanup(func() {
		srv.Close()
		cancel()
		svc.Close()
	})
	return srv, svc
}

func submit(t *testing.T, srv *httptest.Server, contentType string, body []byte) string {
	t.Helper()
	resp, err := http.Post(srv.URL+"/api/music/generate", contentType, bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status code = %d; want %d", resp.StatusCode, http.StatusOK)
	}
	var out submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.TaskID == "" {
		t.Fatal("empty task id")
	}
	return out.TaskID
}

func getStatus(t *testing.T, srv *httptest.Server, query string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Get(srv.URL + "/api/music/task/status?" + query)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	out := map[string]any{}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	return resp.StatusCode, out
}

func waitStatus(t *testing.T, srv *httptest.Server, id string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		code, out := getStatus(t, srv, "task_id="+id)
		if code != http.StatusOK {
			t.Fatalf("status code = %d", code)
		}
		if s := out["status"]; s == string(task.Succeeded) || s == string(task.Failed) {
			return out
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("task %s didn't finish", id)
	return nil
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, &fakeGenerator{}, nil)
	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var out healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.Status != "OK" || out.Model != replicate.DefaultModel {
		t.Errorf("health = %+v", out)
	}
}

func TestSubmitJSON(t *testing.T) {
	gen := &fakeGenerator{}
	srv, _ := newTestServer(t, gen, nil)

	id := submit(t, srv, "application/json", []byte(`{"description":"calm piano","genres":["jazz"],"moods":"[\"relaxing\"]","duration":"15"}`))
	out := waitStatus(t, srv, id)
	if out["status"] != string(task.Succeeded) || out["audioUrl"] != "https://cdn/out.mp3" || out["error"] != nil {
		t.Fatalf("status = %v", out)
	}
	if out["taskId"] != id {
		t.Errorf("taskId = %v; want %s", out["taskId"], id)
	}
	result, ok := out["result"].(map[string]any)
	if !ok {
		t.Fatalf("result = %v", out["result"])
	}
	if result["title"] != task.DefaultTitle || result["type"] != task.TypeGenerated || result["duration"] != float64(15) {
		t.Errorf("result = %v", result)
	}

	in := gen.last(t)
	if in.Prompt != "calm piano, jazz, relaxing" || in.Duration != 15 {
		t.Errorf("input = %+v", in)
	}
}

func TestSubmitDefaults(t *testing.T) {
	gen := &fakeGenerator{}
	srv, _ := newTestServer(t, gen, nil)

	id := submit(t, srv, "application/json", []byte(`not json`))
	waitStatus(t, srv, id)
	in := gen.last(t)
	if in.Prompt != "instrumental background music" || in.Duration != 10 {
		t.Errorf("input = %+v", in)
	}
}

func TestSubmitMultipart(t *testing.T) {
	gen := &fakeGenerator{}
	srv, svc := newTestServer(t, gen, nil)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	_ = mw.WriteField("description", "calm piano")
	_ = mw.WriteField("genres", "jazz")
	_ = mw.WriteField("moods", `["relaxing","slow"]`)
	_ = mw.WriteField("duration", "abc")
	fw, err := mw.CreateFormFile("file", "my clip.mp3")
	if err != nil {
		t.Fatal(err)
	}
	_, _ = fw.Write([]byte("ID3"))
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}

	id := submit(t, srv, mw.FormDataContentType(), body.Bytes())
	out := waitStatus(t, srv, id)
	if out["status"] != string(task.Succeeded) {
		t.Fatalf("status = %v", out)
	}
	in := gen.last(t)
	if in.Prompt != "calm piano, jazz, relaxing, slow" || in.Duration != 10 {
		t.Errorf("input = %+v", in)
	}
	if in.InputAudio != "data:audio/mpeg;base64,SUQz" {
		t.Errorf("input audio = %q", in.InputAudio)
	}
	if in.Continuation == nil || *in.Continuation {
		t.Errorf("continuation = %v; want false", in.Continuation)
	}

	svc.Worker.Wait()
	entries, err := os.ReadDir(svc.Scratch.Path())
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("scratch dir has %d files; want 0", len(entries))
	}
}

func TestSubmitDoesNotBlock(t *testing.T) {
	gen := &fakeGenerator{release: make(chan struct{})}
	srv, _ := newTestServer(t, gen, nil)
	defer close(gen.release)

	start := time.Now()
	id := submit(t, srv, "application/json", []byte(`{"description":"x"}`))
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("submit took %s", elapsed)
	}
	code, out := getStatus(t, srv, "taskId="+id)
	if code != http.StatusOK {
		t.Fatalf("status code = %d", code)
	}
	if s := out["status"]; s != string(task.Queued) && s != string(task.Running) {
		t.Errorf("status = %v; want queued or running", s)
	}
	if _, ok := out["audioUrl"]; !ok {
		t.Error("audioUrl key missing")
	}
	if out["audioUrl"] != nil || out["result"] != nil || out["error"] != nil {
		t.Errorf("unexpected payload for pending task: %v", out)
	}
}

func TestStatusUnknown(t *testing.T) {
	srv, _ := newTestServer(t, &fakeGenerator{}, nil)
	for _, q := range []string{"task_id=nope", "taskId=nope", ""} {
		code, out := getStatus(t, srv, q)
		if code != http.StatusNotFound {
			t.Errorf("%q: status code = %d; want %d", q, code, http.StatusNotFound)
		}
		if out["status"] != "failed" || out["error"] != "Unknown task" {
			t.Errorf("%q: body = %v", q, out)
		}
	}
}

func TestTracks(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "musigen.db")
	store, err := storage.New("sqlite", db, false, nil)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := store.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatal(err)
	}
	_ = store.Stop()

	gen := &fakeGenerator{}
	srv, _ := newTestServer(t, gen, &service.Config{DBType: "sqlite", DBConn: db})

	a := submit(t, srv, "application/json", []byte(`{"description":"a","genres":["jazz"],"moods":["sad"]}`))
	waitStatus(t, srv, a)
	b := submit(t, srv, "application/json", []byte(`{"description":"b","genres":["rock"]}`))
	waitStatus(t, srv, b)

	get := func(query string) []*Track {
		resp, err := http.Get(srv.URL + "/api/music/tracks?" + query)
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status code = %d", resp.StatusCode)
		}
		var out []*Track
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			t.Fatal(err)
		}
		return out
	}

	all := get("")
	if len(all) != 2 {
		t.Fatalf("got %d tracks; want 2", len(all))
	}
	jazz := get("genre=jazz")
	if len(jazz) != 1 || jazz[0].TaskID != a {
		t.Fatalf("jazz tracks = %+v", jazz)
	}
	if !reflect.DeepEqual(jazz[0].Genres, []string{"jazz"}) || !reflect.DeepEqual(jazz[0].Moods, []string{"sad"}) {
		t.Errorf("tags = %v %v", jazz[0].Genres, jazz[0].Moods)
	}
	if jazz[0].Prompt != "a, jazz, sad" || jazz[0].AudioURL != "https://cdn/out.mp3" {
		t.Errorf("track = %+v", jazz[0])
	}
	if got := get("type=other"); len(got) != 0 {
		t.Errorf("got %d tracks of type other; want 0", len(got))
	}
	if got := get("size=1&page=2"); len(got) != 1 {
		t.Errorf("got %d tracks on page 2; want 1", len(got))
	}

	trackURL := srv.URL + "/api/music/tracks/" + jazz[0].ID
	resp, err := http.Get(trackURL)
	if err != nil {
		t.Fatal(err)
	}
	var one Track
	err = json.NewDecoder(resp.Body).Decode(&one)
	resp.Body.Close()
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK || one.ID != jazz[0].ID || one.TaskID != a {
		t.Errorf("GET track = %d %+v", resp.StatusCode, one)
	}

	del := func() int {
		req, err := http.NewRequest(http.MethodDelete, trackURL, nil)
		if err != nil {
			t.Fatal(err)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}
	if code := del(); code != http.StatusNoContent {
		t.Errorf("DELETE track status code = %d; want %d", code, http.StatusNoContent)
	}
	if code := del(); code != http.StatusNotFound {
		t.Errorf("second DELETE status code = %d; want %d", code, http.StatusNotFound)
	}
	resp, err = http.Get(trackURL)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("GET deleted track status code = %d; want %d", resp.StatusCode, http.StatusNotFound)
	}
	if got := get(""); len(got) != 1 || got[0].TaskID != b {
		t.Errorf("tracks after delete = %+v", got)
	}
}

func TestTracksDisabled(t *testing.T) {
	srv, _ := newTestServer(t, &fakeGenerator{}, nil)
	resp, err := http.Get(srv.URL + "/api/music/tracks")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status code = %d; want %d", resp.StatusCode, http.StatusNotFound)
	}
}

func TestVolumes(t *testing.T) {
	got := volumes(&service.Config{FSType: "local", FSConn: "files"}, map[string]string{"static": "/static"})
	want := map[string]string{"static": "/static", "files": "/files/"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("volumes() = %v; want %v", got, want)
	}
	if got := volumes(&service.Config{FSType: "s3", FSConn: "k:s@b.r"}, nil); len(got) != 0 {
		t.Errorf("volumes() = %v; want empty", got)
	}
}

func TestServeInvalidAddr(t *testing.T) {
	err := Serve(context.Background(), &Config{
		Service: service.Config{Generator: &fakeGenerator{}, Translator: "none", ScratchDir: t.TempDir()},
		Addr:    "localhost",
	})
	if err == nil || !strings.Contains(err.Error(), "invalid address") {
		t.Errorf("Serve() err = %v; want invalid address", err)
	}
}
