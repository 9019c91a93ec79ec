package campaign

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/autobiz/abp/backend/internal/service/library"
)

// ErrNotFound reports a missing campaign or campaign file.
var ErrNotFound = errors.New("campaign not found")

// Summary describes a campaign directory on disk.
type Summary struct {
	Name       string    `json:"name"`
	Files      []string  `json:"files"`
	HasArchive bool      `json:"hasArchive"`
	ModTime    time.Time `json:"modTime"`
}

// List returns generated campaigns, newest first.
func (s *Service) List() ([]Summary, error) {
	dirs, err := os.ReadDir(s.root)
	if err != nil {
		return nil, err
	}
	out := make([]Summary, 0, len(dirs))
	for _, d := range dirs {
		if !d.IsDir() {
			continue
		}
		info, err := d.Info()
		if err != nil {
			continue
		}
		entries, err := os.ReadDir(filepath.Join(s.root, d.Name()))
		if err != nil {
			continue
		}
		sum := Summary{Name: d.Name(), Files: []string{}, ModTime: info.ModTime()}
		for _, e := range entries {
			if !e.Type().IsRegular() || e.Name()[0] == '.' {
				continue
			}
			sum.Files = append(sum.Files, e.Name())
			if e.Name() == fileZip {
				sum.HasArchive = true
			}
		}
		out = append(out, sum)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ModTime.Equal(out[j].ModTime) {
			return out[i].ModTime.After(out[j].ModTime)
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// Open returns one file of a campaign; the caller closes it. An empty file
// opens the zip archive.
func (s *Service) Open(name, file string) (*os.File, fs.FileInfo, error) {
	if file == "" {
		file = fileZip
	}
	for _, part := range []string{name, file} {
		if part == "" || part != library.SanitizeFilename(part) {
			return nil, nil, fmt.Errorf("%w: %s/%s", ErrNotFound, name, file)
		}
	}
	path := filepath.Join(s.root, name, file)
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) || (err == nil && !info.Mode().IsRegular()) {
		return nil, nil, fmt.Errorf("%w: %s/%s", ErrNotFound, name, file)
	}
	if err != nil {
		return nil, nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return f, info, nil
}
