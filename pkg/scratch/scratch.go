// Package scratch stores uploaded files until a worker is done with them.
package scratch

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

type Dir struct {
	path string
}

func New(path string) (*Dir, error) {
	if path == "" {
		path = "tmp"
	}
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("scratch: couldn't create folder %q: %w", path, err)
	}
	return &Dir{path: path}, nil
}

func (d *Dir) Path() string {
	return d.path
}

// Save copies r into a new file named after the sanitized original name
// prefixed with a random hex id, and returns its path.
func (d *Dir) Save(name string, r io.Reader) (string, error) {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	safe := Sanitize(name)
	if safe == "" {
		safe = fmt.Sprintf("audio_%s.wav", id)
	}
	path := filepath.Join(d.path, fmt.Sprintf("%s_%s", id, safe))
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return "", fmt.Errorf("scratch: couldn't create %q: %w", path, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("scratch: couldn't write %q: %w", path, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("scratch: couldn't close %q: %w", path, err)
	}
	return path, nil
}

// Remove deletes a scratch file. Missing files are not an error.
func (d *Dir) Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("scratch: couldn't remove %q: %w", path, err)
	}
	return nil
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_.-]+`)

// Sanitize reduces a client supplied file name to a safe ASCII base name.
// It returns an empty string when nothing usable is left.
func Sanitize(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(name)
	name = strings.Join(strings.Fields(name), "_")
	name = unsafeChars.ReplaceAllString(name, "")
	name = strings.Trim(name, "._")
	return name
}
