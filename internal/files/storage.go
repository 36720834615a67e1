// Package files stores uploads as opaque named blobs on disk. A file's
// category is carried by its name prefix (completed-, additional-), not by
// metadata; files are only ever addressed through the job or message that
// references them.
package files

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("file not found")

// Prefixes that tag a stored file's category.
const (
	PrefixCompleted  = "completed-"
	PrefixAdditional = "additional-"
)

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// Storage is a flat directory of uploaded blobs.
type Storage struct {
	dir string
}

// NewStorage creates the upload directory if needed.
func NewStorage(dir string) (*Storage, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &Storage{dir: dir}, nil
}

// Save writes the blob under a sanitized, collision-proof name derived from
// the original filename and returns the stored name.
func (s *Storage) Save(originalName string, r io.Reader) (string, error) {
	name := storedName(originalName)
	f, err := os.Create(filepath.Join(s.dir, name))
	if err != nil {
		return "", fmt.Errorf("create upload %s: %w", name, err)
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("write upload %s: %w", name, err)
	}
	return name, nil
}

// Open returns the blob for a previously stored name.
func (s *Storage) Open(name string) (io.ReadCloser, error) {
	clean := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	f, err := os.Open(filepath.Join(s.dir, clean))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("open upload %s: %w", clean, err)
	}
	return f, nil
}

// storedName sanitizes the original filename and prepends a short unique id
// so repeated uploads of the same name never collide.
func storedName(original string) string {
	base := filepath.Base(strings.ReplaceAll(original, "\\", "/"))
	base = unsafeChars.ReplaceAllString(base, "_")
	if base == "" || base == "." {
		base = "upload"
	}
	return uuid.NewString()[:8] + "-" + base
}

// Completed tags a filename as a finished deliverable.
func Completed(name string) string { return PrefixCompleted + name }

// Additional tags a filename as supplementary client material.
func Additional(name string) string { return PrefixAdditional + name }
