package cli

import (
	"flag"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/igolaizola/musigen/pkg/service"
	"github.com/peterbourgon/ff/v3"
)

func TestMapValue(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	var m map[string]string
	fsMapVar(fs, &m, "volumes", nil, "")
	if err := fs.Parse([]string{"-volumes", "./static:/static;./media:/media"}); err != nil {
		t.Fatal(err)
	}
	want := map[string]string{"./static": "/static", "./media": "/media"}
	if !reflect.DeepEqual(m, want) {
		t.Errorf("volumes = %v; want %v", m, want)
	}
	if err := fs.Parse([]string{"-volumes", "broken"}); err == nil {
		t.Error("Parse() err = nil; want error")
	}
}

func TestServiceFlags(t *testing.T) {
	config := filepath.Join(t.TempDir(), "musigen.yaml")
	if err := os.WriteFile(config, []byte("model: meta/musicgen:abc\nconcurrency: 2\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MUSIGEN_REPLICATE_TOKEN", "r8_env")
	t.Setenv("MUSIGEN_CONCURRENCY", "3")

	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	_ = fs.String("config", "", "config file (optional)")
	cfg := &service.Config{}
	serviceFlags(fs, cfg)
	if err := ff.Parse(fs, []string{"-config", config, "-translator", "none"}, options()...); err != nil {
		t.Fatal(err)
	}

	if cfg.Model != "meta/musicgen:abc" {
		t.Errorf("model = %q", cfg.Model)
	}
	if cfg.ReplicateToken != "r8_env" {
		t.Errorf("replicate token = %q", cfg.ReplicateToken)
	}
	// Environment takes precedence over the config file.
	if cfg.Concurrency != 3 {
		t.Errorf("concurrency = %d; want 3", cfg.Concurrency)
	}
	if cfg.Translator != "none" || cfg.ScratchDir != "tmp" {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestNew(t *testing.T) {
	cmd := New("v1.0.0", "abc", "2024-01-01")
	var names []string
	for _, c := range cmd.Subcommands {
		names = append(names, c.Name)
	}
	want := []string{"version", "serve", "generate", "batch", "export", "migrate", "setting"}
	if !reflect.DeepEqual(names, want) {
		t.Errorf("subcommands = %v; want %v", names, want)
	}
}
