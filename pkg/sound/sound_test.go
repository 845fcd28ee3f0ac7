package sound

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/out.mp3" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("ID3data"))
	}))
	defer srv.Close()

	out := filepath.Join(t.TempDir(), "out.mp3")
	if err := Download(context.Background(), srv.Client(), srv.URL+"/out.mp3", out); err != nil {
		t.Fatalf("Download() err = %v; want nil", err)
	}
	b, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "ID3data" {
		t.Errorf("content = %q; want %q", b, "ID3data")
	}

	if err := Download(context.Background(), srv.Client(), srv.URL+"/missing.mp3", out); err == nil {
		t.Error("Download() err = nil; want error for 404")
	}
}

func TestDurationInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.mp3")
	if err := os.WriteFile(path, []byte("not an mp3"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Duration(path); err == nil {
		t.Error("Duration() err = nil; want error")
	}
	if _, err := Duration(filepath.Join(t.TempDir(), "missing.mp3")); err == nil {
		t.Error("Duration() err = nil; want error for missing file")
	}
}
