// Package library stores generated media and documents under a categorised
// directory tree.
package library

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/autobiz/abp/backend/internal/logging"
	"github.com/autobiz/abp/backend/internal/platform/apierr"
	"github.com/autobiz/abp/backend/internal/platform/retry"
)

// Category is a top-level folder of the library.
type Category string

const (
	Images    Category = "generated_images"
	Videos    Category = "generated_videos"
	Audio     Category = "generated_audio"
	Documents Category = "documents"
)

// Categories lists every category in display order.
func Categories() []Category {
	return []Category{Images, Videos, Audio, Documents}
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	switch c {
	case Images, Videos, Audio, Documents:
		return true
	}
	return false
}

// DefaultExt is the extension used when a name or URL carries none.
func (c Category) DefaultExt() string {
	switch c {
	case Images:
		return ".png"
	case Videos:
		return ".mp4"
	case Audio:
		return ".mp3"
	default:
		return ".txt"
	}
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 200
	maxNameLength   = 120

	// DefaultMaxDownload caps a single download.
	DefaultMaxDownload int64 = 512 << 20
)

var (
	ErrUnknownCategory = errors.New("unknown library category")
	ErrNotFound        = errors.New("library file not found")
	ErrInvalidName     = errors.New("invalid file name")
	ErrEmptyURL        = errors.New("download url is required")
	ErrTooLarge        = errors.New("download exceeds size limit")
)

// Entry describes one stored file.
type Entry struct {
	Category Category  `json:"category"`
	Name     string    `json:"name"`
	Path     string    `json:"path"`
	Size     int64     `json:"size"`
	ModTime  time.Time `json:"modTime"`
}

// Page is one page of a listing.
type Page struct {
	Items    []Entry `json:"items"`
	Total    int     `json:"total"`
	Page     int     `json:"page"`
	PageSize int     `json:"pageSize"`
}

// Service manages the library rooted at a directory.
type Service struct {
	root   string
	http   *http.Client
	policy retry.Policy
	limit  int64
	logger *zap.Logger
	now    func() time.Time
}

type Option func(*Service)

func WithHTTPClient(h *http.Client) Option { return func(s *Service) { s.http = h } }

func WithRetryPolicy(p retry.Policy) Option { return func(s *Service) { s.policy = p } }

// WithMaxDownload sets the largest body Download accepts.
func WithMaxDownload(n int64) Option { return func(s *Service) { s.limit = n } }

// NewService creates the category folders under root.
func NewService(root string, logger *zap.Logger, opts ...Option) (*Service, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, errors.New("library root is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		root:   root,
		http:   &http.Client{Timeout: 5 * time.Minute},
		policy: retry.DefaultPolicy(),
		limit:  DefaultMaxDownload,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	for _, c := range Categories() {
		if err := os.MkdirAll(filepath.Join(root, string(c)), 0o755); err != nil {
			return nil, fmt.Errorf("create library folder %s: %w", c, err)
		}
	}
	return s, nil
}

// Root returns the library directory.
func (s *Service) Root() string { return s.root }

// Save writes r under category. An empty name gets a timestamped one; an
// existing file is never overwritten, a numeric suffix is added instead.
func (s *Service) Save(ctx context.Context, category Category, name string, r io.Reader) (Entry, error) {
	if !category.Valid() {
		return Entry{}, fmt.Errorf("%w: %q", ErrUnknownCategory, category)
	}
	name = SanitizeFilename(name)
	if name == "" {
		name = s.generatedName(category.DefaultExt())
	} else if filepath.Ext(name) == "" {
		name += category.DefaultExt()
	}

	dir := filepath.Join(s.root, string(category))
	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return Entry{}, fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return Entry{}, fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return Entry{}, err
	}

	final, err := s.claim(dir, name)
	if err != nil {
		return Entry{}, err
	}
	if err := os.Rename(tmp.Name(), final); err != nil {
		os.Remove(final)
		return Entry{}, fmt.Errorf("store %s: %w", name, err)
	}

	entry, err := s.stat(category, filepath.Base(final))
	if err != nil {
		return Entry{}, err
	}
	logging.FromContextOr(ctx, s.logger).Info("library file saved",
		zap.String("category", string(category)),
		zap.String("name", entry.Name),
		zap.Int64("size", entry.Size),
	)
	return entry, nil
}

// claim reserves a free file name in dir by creating it exclusively.
func (s *Service) claim(dir, name string) (string, error) {
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	for i := 0; i < 1000; i++ {
		candidate := name
		if i > 0 {
			candidate = fmt.Sprintf("%s_%d%s", base, i, ext)
		}
		p := filepath.Join(dir, candidate)
		f, err := os.OpenFile(p, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", err
		}
		f.Close()
		return p, nil
	}
	return "", fmt.Errorf("no free name for %s", name)
}

func (s *Service) generatedName(ext string) string {
	return s.now().Format("20060102_150405") + "_" + uuid.NewString()[:8] + ext
}

// Download fetches rawURL into category. The name defaults to the last path
// segment of the URL; a missing extension falls back to the category default.
func (s *Service) Download(ctx context.Context, category Category, rawURL, name string) (Entry, error) {
	if !category.Valid() {
		return Entry{}, fmt.Errorf("%w: %q", ErrUnknownCategory, category)
	}
	if strings.TrimSpace(rawURL) == "" {
		return Entry{}, ErrEmptyURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return Entry{}, fmt.Errorf("invalid download url %q", rawURL)
	}

	if name == "" {
		name = s.generatedName(extFromURL(u, category))
	} else if filepath.Ext(SanitizeFilename(name)) == "" {
		name += extFromURL(u, category)
	}

	return retry.Do(ctx, s.policy, "library.download", func(ctx context.Context) (Entry, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return Entry{}, retry.Permanent(err)
		}
		resp, err := s.http.Do(req)
		if err != nil {
			return Entry{}, err
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
			return Entry{}, apierr.FromResponse("download", resp, body)
		}
		if resp.ContentLength > s.limit {
			return Entry{}, retry.Permanent(fmt.Errorf("%w: %d bytes", ErrTooLarge, resp.ContentLength))
		}
		entry, err := s.Save(ctx, category, name, &cappedReader{r: resp.Body, left: s.limit})
		if errors.Is(err, ErrTooLarge) {
			return Entry{}, retry.Permanent(err)
		}
		return entry, err
	})
}

// cappedReader fails with ErrTooLarge once more than left bytes arrive.
type cappedReader struct {
	r    io.Reader
	left int64
}

func (c *cappedReader) Read(p []byte) (int, error) {
	if c.left < 0 {
		return 0, ErrTooLarge
	}
	if int64(len(p)) > c.left+1 {
		p = p[:c.left+1]
	}
	n, err := c.r.Read(p)
	c.left -= int64(n)
	if c.left < 0 {
		return n, ErrTooLarge
	}
	return n, err
}

func extFromURL(u *url.URL, category Category) string {
	ext := strings.ToLower(path.Ext(u.Path))
	if ext == "" || len(ext) > 6 {
		return category.DefaultExt()
	}
	return ext
}

// List returns files newest first. An empty category lists all categories.
func (s *Service) List(category Category, page, pageSize int) (Page, error) {
	cats := Categories()
	if category != "" {
		if !category.Valid() {
			return Page{}, fmt.Errorf("%w: %q", ErrUnknownCategory, category)
		}
		cats = []Category{category}
	}
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}

	var all []Entry
	for _, c := range cats {
		entries, err := os.ReadDir(filepath.Join(s.root, string(c)))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return Page{}, err
		}
		for _, de := range entries {
			if !de.Type().IsRegular() || strings.HasPrefix(de.Name(), ".") {
				continue
			}
			info, err := de.Info()
			if err != nil {
				continue
			}
			all = append(all, s.entry(c, info))
		}
	}

	sort.Slice(all, func(i, j int) bool {
		if !all[i].ModTime.Equal(all[j].ModTime) {
			return all[i].ModTime.After(all[j].ModTime)
		}
		return all[i].Name < all[j].Name
	})

	out := Page{Total: len(all), Page: page, PageSize: pageSize, Items: []Entry{}}
	start := (page - 1) * pageSize
	if start < len(all) {
		end := min(start+pageSize, len(all))
		out.Items = all[start:end]
	}
	return out, nil
}

// Open returns the file for reading; the caller closes it.
func (s *Service) Open(category Category, name string) (*os.File, Entry, error) {
	entry, err := s.stat(category, name)
	if err != nil {
		return nil, Entry{}, err
	}
	f, err := os.Open(entry.Path)
	if err != nil {
		return nil, Entry{}, err
	}
	return f, entry, nil
}

// Delete removes a file.
func (s *Service) Delete(category Category, name string) error {
	entry, err := s.stat(category, name)
	if err != nil {
		return err
	}
	return os.Remove(entry.Path)
}

func (s *Service) stat(category Category, name string) (Entry, error) {
	if !category.Valid() {
		return Entry{}, fmt.Errorf("%w: %q", ErrUnknownCategory, category)
	}
	if name == "" || name != SanitizeFilename(name) {
		return Entry{}, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	info, err := os.Stat(filepath.Join(s.root, string(category), name))
	if errors.Is(err, fs.ErrNotExist) {
		return Entry{}, fmt.Errorf("%w: %s/%s", ErrNotFound, category, name)
	}
	if err != nil {
		return Entry{}, err
	}
	if !info.Mode().IsRegular() {
		return Entry{}, fmt.Errorf("%w: %s/%s", ErrNotFound, category, name)
	}
	return s.entry(category, info), nil
}

func (s *Service) entry(c Category, info fs.FileInfo) Entry {
	return Entry{
		Category: c,
		Name:     info.Name(),
		Path:     filepath.Join(s.root, string(c), info.Name()),
		Size:     info.Size(),
		ModTime:  info.ModTime(),
	}
}

var (
	unsafeChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)
	underscores = regexp.MustCompile(`_+`)
)

// SanitizeFilename strips characters that are unsafe in file names, turns
// whitespace into underscores and caps the length while keeping the extension.
func SanitizeFilename(name string) string {
	name = unsafeChars.ReplaceAllString(strings.TrimSpace(name), "")
	name = strings.Join(strings.Fields(name), "_")
	name = underscores.ReplaceAllString(name, "_")
	name = strings.TrimLeft(name, "._")
	name = strings.TrimRight(name, "_")
	if len(name) <= maxNameLength {
		return name
	}

	ext := filepath.Ext(name)
	if len(ext) > 10 {
		ext = ""
	}
	stem := strings.TrimSuffix(name, ext)
	keep := maxNameLength - len(ext)
	for keep > 0 && !utf8Start(stem[keep]) {
		keep--
	}
	return strings.TrimRight(stem[:keep], "_") + ext
}

// utf8Start reports whether b can begin a UTF-8 sequence.
func utf8Start(b byte) bool { return b&0xC0 != 0x80 }
