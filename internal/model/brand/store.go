package brand

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// ErrInvalidID is returned for ids that cannot name a file.
var ErrInvalidID = errors.New("invalid template id")

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidID reports whether id is safe to use as a file name.
func ValidID(id string) bool { return idPattern.MatchString(id) }

// Store persists custom templates.
type Store interface {
	Load() ([]Template, []error)
	Put(t Template) error
	Remove(id string) error
}

// FileStore keeps one JSON document per template in a directory.
type FileStore struct {
	dir string
}

// NewFileStore creates dir if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("brand template directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create brand template directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Load reads every *.json file. Unreadable files are reported, not fatal.
func (s *FileStore) Load() ([]Template, []error) {
	paths, err := filepath.Glob(filepath.Join(s.dir, "*.json"))
	if err != nil {
		return nil, []error{err}
	}
	sort.Strings(paths)

	var (
		out  []Template
		errs []error
	)
	for _, p := range paths {
		raw, err := os.ReadFile(p)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		var t Template
		if err := json.Unmarshal(raw, &t); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", filepath.Base(p), err))
			continue
		}
		if !ValidID(t.ID) {
			errs = append(errs, fmt.Errorf("%s: %w %q", filepath.Base(p), ErrInvalidID, t.ID))
			continue
		}
		t.Preset = false
		out = append(out, t)
	}
	return out, errs
}

// Put writes t atomically.
func (s *FileStore) Put(t Template) error {
	if !ValidID(t.ID) {
		return fmt.Errorf("%w %q", ErrInvalidID, t.ID)
	}
	raw, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.dir, ".tmpl-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path(t.ID))
}

// Remove deletes the template file; a missing file is not an error.
func (s *FileStore) Remove(id string) error {
	if !ValidID(id) {
		return fmt.Errorf("%w %q", ErrInvalidID, id)
	}
	err := os.Remove(s.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func (s *FileStore) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}
