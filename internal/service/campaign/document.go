package campaign

import (
	"archive/zip"
	"bytes"
	"fmt"
	"strings"
	"time"
)

// artifact is a generated campaign file kept in memory until packaging.
type artifact struct {
	name   string
	data   []byte
	binary bool
}

// storage keeps artifacts in creation order; a repeated name replaces the
// earlier content in place.
type storage struct {
	files []artifact
	index map[string]int
}

func newStorage() *storage {
	return &storage{index: make(map[string]int)}
}

func (s *storage) put(a artifact) {
	if i, ok := s.index[a.name]; ok {
		s.files[i] = a
		return
	}
	s.index[a.name] = len(s.files)
	s.files = append(s.files, a)
}

func (s *storage) get(name string) (artifact, bool) {
	i, ok := s.index[name]
	if !ok {
		return artifact{}, false
	}
	return s.files[i], true
}

func (s *storage) names() []string {
	out := make([]string, len(s.files))
	for i, f := range s.files {
		out[i] = f.name
	}
	return out
}

var masterSections = []struct {
	title string
	file  string
}{
	{"CAMPAIGN CONCEPT", fileConcept},
	{"ANALYZED CONCEPT", fileAnalyzedConcept},
	{"MARKETING PLAN", filePlan},
	{"ANALYZED PLAN", fileAnalyzedPlan},
	{"BUDGET SPREADSHEET", fileBudget},
	{"SOCIAL MEDIA SCHEDULE", fileSchedule},
	{"RESOURCES & TIPS", fileResources},
	{"CAMPAIGN RECAP", fileRecap},
}

// masterDocument stitches the text sections into one document. Spreadsheets
// are referenced, not inlined.
func masterDocument(name string, generated time.Time, files *storage) string {
	rule := strings.Repeat("=", 60)

	var b strings.Builder
	b.WriteString("MARKETING CAMPAIGN MASTER DOCUMENT\n")
	fmt.Fprintf(&b, "Campaign: %s\n", name)
	fmt.Fprintf(&b, "Generated: %s\n", generated.Format("2006-01-02 15:04:05"))
	b.WriteString(rule + "\n\n")

	for _, sec := range masterSections {
		fmt.Fprintf(&b, "\n%s\n%s\n%s\n\n", rule, sec.title, rule)
		a, ok := files.get(sec.file)
		switch {
		case !ok:
			fmt.Fprintf(&b, "[%s not found]\n", sec.file)
		case a.binary:
			fmt.Fprintf(&b, "[Spreadsheet: %s]\nSee the attached file for details.\n", sec.file)
		default:
			b.Write(a.data)
			b.WriteString("\n")
		}
	}

	fmt.Fprintf(&b, "\n%s\nEND OF MASTER DOCUMENT\n%s\n", rule, rule)
	return b.String()
}

// packageZip deflates every artifact, in creation order, into one archive.
func packageZip(files *storage, modified time.Time) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, f := range files.files {
		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:     f.name,
			Method:   zip.Deflate,
			Modified: modified,
		})
		if err != nil {
			return nil, fmt.Errorf("add %s to archive: %w", f.name, err)
		}
		if _, err := w.Write(f.data); err != nil {
			return nil, fmt.Errorf("write %s to archive: %w", f.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("close archive: %w", err)
	}
	return buf.Bytes(), nil
}
