package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/igolaizola/musigen/pkg/storage"
	"github.com/igolaizola/musigen/pkg/task"
	"github.com/igolaizola/musigen/pkg/worker"
	"go.uber.org/zap/zaptest"
)

type upstream struct {
	mu    sync.Mutex
	auths []string
}

func (u *upstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	u.mu.Lock()
	u.auths = append(u.auths, r.Header.Get("authorization"))
	u.mu.Unlock()
	_, _ = w.Write([]byte(`{"id":"p1","status":"succeeded","output":"https://cdn/out.mp3"}`))
}

func (u *upstream) lastAuth() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	if len(u.auths) == 0 {
		return ""
	}
	return u.auths[len(u.auths)-1]
}

func newTestDB(t *testing.T, settings map[string]string) string {
	t.Helper()
	ctx := context.Background()
	db := filepath.Join(t.TempDir(), "musigen.db")
	s, err := storage.New("sqlite", db, false, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = s.Stop() }()
	if err := s.Migrate(ctx); err != nil {
		t.Fatal(err)
	}
	for id, v := range settings {
		if err := s.SetSetting(ctx, &storage.Setting{ID: id, Value: v}); err != nil {
			t.Fatal(err)
		}
	}
	return db
}

func TestReplicateCredential(t *testing.T) {
	tests := []struct {
		name   string
		flag   string
		stored string
		noDB   bool
		want   string
	}{
		{"stored token", "", "r8_stored", false, "Bearer r8_stored"},
		{"flag overrides stored", "r8_flag", "r8_stored", false, "Bearer r8_flag"},
		{"flag without archive", "r8_flag", "", true, "Bearer r8_flag"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			up := &upstream{}
			srv := httptest.NewServer(up)
			defer srv.Close()

			cfg := &Config{
				ReplicateURL:   srv.URL + "/v1",
				ReplicateToken: tt.flag,
				PollWait:       time.Millisecond,
				Translator:     "none",
				ScratchDir:     filepath.Join(t.TempDir(), "tmp"),
				Logger:         zaptest.NewLogger(t),
			}
			if !tt.noDB {
				settings := map[string]string{}
				if tt.stored != "" {
					settings[storage.SettingID("replicate", "", "token")] = tt.stored
				}
				cfg.DBType = "sqlite"
				cfg.DBConn = newTestDB(t, settings)
			}

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			svc, err := New(ctx, cfg)
			if err != nil {
				t.Fatal(err)
			}
			defer svc.Close()

			id, err := svc.Worker.Submit(&worker.Job{Description: "rain", Duration: 5})
			if err != nil {
				t.Fatal(err)
			}
			got, err := svc.Wait(ctx, id)
			if err != nil {
				t.Fatal(err)
			}
			if got.Status != task.Succeeded || got.AudioURL != "https://cdn/out.mp3" {
				t.Errorf("task = %+v", got)
			}
			if auth := up.lastAuth(); auth != tt.want {
				t.Errorf("authorization = %q; want %q", auth, tt.want)
			}
		})
	}
}

func TestMissingToken(t *testing.T) {
	up := &upstream{}
	srv := httptest.NewServer(up)
	defer srv.Close()

	ctx := context.Background()
	svc, err := New(ctx, &Config{
		DBType:       "sqlite",
		DBConn:       newTestDB(t, nil),
		ReplicateURL: srv.URL + "/v1",
		Translator:   "none",
		ScratchDir:   filepath.Join(t.TempDir(), "tmp"),
		Logger:       zaptest.NewLogger(t),
	})
	if err != nil {
		t.Fatal(err)
	}
	defer svc.Close()

	id, err := svc.Worker.Submit(&worker.Job{Description: "rain"})
	if err != nil {
		t.Fatal(err)
	}
	got, err := svc.Wait(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != task.Failed || got.Error != "replicate: api token is not configured" {
		t.Errorf("task = %+v", got)
	}
	if auth := up.lastAuth(); auth != "" {
		t.Errorf("upstream called with %q; want no call", auth)
	}
}

func TestNewUnknownTranslator(t *testing.T) {
	_, err := New(context.Background(), &Config{
		Translator: "deepl",
		ScratchDir: filepath.Join(t.TempDir(), "tmp"),
	})
	if err == nil {
		t.Fatal("New() err = nil; want error")
	}
}

func TestSplitList(t *testing.T) {
	got := SplitList(" jazz | |lofi", "|")
	if len(got) != 2 || got[0] != "jazz" || got[1] != "lofi" {
		t.Errorf("SplitList() = %q", got)
	}
}
