package campaign

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobiz/abp/backend/internal/executor"
	"github.com/autobiz/abp/backend/internal/model/media"
	"github.com/autobiz/abp/backend/internal/service/ai"
	"github.com/autobiz/abp/backend/internal/service/review"
)

type fakeWriter struct {
	mu        sync.Mutex
	requests  []ai.WriteRequest
	failWhen  string
	failEdits bool
}

func (f *fakeWriter) Write(_ context.Context, req ai.WriteRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.failWhen != "" && strings.Contains(req.Prompt, f.failWhen) {
		return "", errors.New("model unavailable")
	}
	if strings.HasPrefix(req.Prompt, "Review and improve") {
		if f.failEdits {
			return "", errors.New("editor unavailable")
		}
		return "IMPROVED " + firstLine(req.Prompt[strings.Index(req.Prompt, "Content type: "):]), nil
	}
	return "DRAFT " + firstLine(req.Prompt), nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

type fakeReviewer struct{ calls int }

func (f *fakeReviewer) Review(_ context.Context, req review.Request) review.Result {
	f.calls++
	return review.Result{Score: 7, Tone: "professional", Source: review.SourceHeuristic}
}

type fakeBrands struct{}

func (fakeBrands) EnhancePrompt(id, prompt, promptType string) (string, error) {
	if id != "neon" {
		return prompt, errors.New("not found")
	}
	if prompt == "" {
		return "neon glow", nil
	}
	return prompt + ", neon glow", nil
}

type fakeExecutor struct {
	calls []executor.Call
}

func (f *fakeExecutor) Name() string { return "fake" }

func (f *fakeExecutor) Execute(_ context.Context, calls []executor.Call, _ executor.Options) ([]executor.Outcome, error) {
	f.calls = calls
	out := make([]executor.Outcome, len(calls))
	for i, c := range calls {
		out[i].Index = i
		if i%2 == 1 {
			out[i].Err = errors.New("nsfw filter")
			continue
		}
		var req media.ImageRequest
		if err := json.Unmarshal(c.Payload, &req); err != nil {
			out[i].Err = err
			continue
		}
		raw, _ := json.Marshal(media.Asset{Kind: media.KindImage, URL: "https://cdn.test/" + req.Name, File: req.Name})
		out[i].Output = raw
	}
	return out, nil
}

func newTestService(t *testing.T, w *fakeWriter, opts ...Option) (*Service, *fakeReviewer) {
	t.Helper()
	rv := &fakeReviewer{}
	svc, err := NewService(t.TempDir(), w, rv, opts...)
	require.NoError(t, err)
	svc.now = func() time.Time { return time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC) }
	return svc, rv
}

func TestGenerateCompleteCampaign(t *testing.T) {
	w := &fakeWriter{}
	exec := &fakeExecutor{}
	svc, rv := newTestService(t, w, WithBrands(fakeBrands{}), WithExecutor(exec))

	var (
		mu        sync.Mutex
		fractions []float64
	)
	ctx := executor.WithProgress(context.Background(), func(f float64, _ string) {
		mu.Lock()
		fractions = append(fractions, f)
		mu.Unlock()
	})

	res, err := svc.Generate(ctx, Request{
		Name:          "Neon Nights: Launch",
		Product:       "retro neon city art",
		Audience:      "night owls",
		Budget:        1000,
		Platforms:     []string{"instagram", "Myspace", "TikTok"},
		BrandTemplate: "neon",
		Images:        4,
		Weeks:         2,
	})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(svc.Root(), "Neon_Nights_Launch"), res.Dir)
	assert.Equal(t, 4, rv.calls)
	assert.Len(t, res.Reviews, 4)
	assert.Equal(t, "Campaign Concept", res.Reviews[0].Step)
	assert.Equal(t, 2*7*2, res.Posts)

	require.NotNil(t, res.ImageReport)
	assert.Equal(t, 0.5, res.SuccessRatio)
	assert.Equal(t, "Neon_Nights_Launch_design_1.png", res.Images[0].File)
	assert.Equal(t, "nsfw filter", res.Images[1].Error)
	require.Len(t, exec.calls, 4)
	assert.Equal(t, media.KindImage, exec.calls[0].Kind)
	assert.Contains(t, string(exec.calls[0].Payload), "neon glow")

	// brand hint reaches the prompts
	assert.Contains(t, w.requests[0].Prompt, "Brand style: neon glow")

	for _, name := range res.Files {
		_, err := os.Stat(filepath.Join(res.Dir, name))
		assert.NoError(t, err, name)
	}
	assert.Equal(t, fileZip, res.Files[len(res.Files)-1])

	master, err := os.ReadFile(filepath.Join(res.Dir, fileMaster))
	require.NoError(t, err)
	doc := string(master)
	assert.Contains(t, doc, "Generated: 2026-03-01 09:30:00")
	last := -1
	for _, sec := range masterSections {
		i := strings.Index(doc, sec.title+"\n")
		require.GreaterOrEqual(t, i, 0, sec.title)
		assert.Greater(t, i, last, sec.title)
		last = i
	}
	assert.Contains(t, doc, "[Spreadsheet: budget_spreadsheet.csv]")
	assert.True(t, strings.HasSuffix(strings.TrimSpace(doc), strings.Repeat("=", 60)))

	zr, err := zip.OpenReader(res.Archive)
	require.NoError(t, err)
	defer zr.Close()
	var zipped []string
	for _, f := range zr.File {
		zipped = append(zipped, f.Name)
	}
	assert.Equal(t, res.Files[:len(res.Files)-1], zipped)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, fractions)
	assert.Equal(t, 1.0, fractions[len(fractions)-1])
	for i := 1; i < len(fractions); i++ {
		assert.GreaterOrEqual(t, fractions[i], fractions[i-1])
	}
}

func TestGenerateWithoutImagesOrEditor(t *testing.T) {
	w := &fakeWriter{failEdits: true}
	svc, _ := newTestService(t, w)

	res, err := svc.Generate(context.Background(), Request{Product: "cat memes", Budget: 200})
	require.NoError(t, err)

	assert.Equal(t, "cat memes", res.Name)
	assert.Nil(t, res.ImageReport)
	assert.Zero(t, res.SuccessRatio)
	assert.NotContains(t, res.Files, fileImages)

	concept, err := os.ReadFile(filepath.Join(res.Dir, fileConcept))
	require.NoError(t, err)
	analyzed, err := os.ReadFile(filepath.Join(res.Dir, fileAnalyzedConcept))
	require.NoError(t, err)
	assert.Equal(t, concept, analyzed)
}

func TestGenerateFailsOnTextError(t *testing.T) {
	w := &fakeWriter{failWhen: "marketing execution plan"}
	svc, _ := newTestService(t, w)

	_, err := svc.Generate(context.Background(), Request{Product: "mugs"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "generate marketing plan")
}

func TestRequestNormalize(t *testing.T) {
	cases := []struct {
		name string
		req  Request
		want error
	}{
		{"missing product", Request{Name: "x"}, ErrProductRequired},
		{"negative budget", Request{Product: "p", Budget: -1}, ErrInvalidBudget},
		{"too many images", Request{Product: "p", Images: maxImages + 1}, ErrTooManyImages},
		{"too many weeks", Request{Product: "p", Weeks: maxWeeks + 1}, ErrInvalidWeeks},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.req.Normalize()
			assert.ErrorIs(t, err, tc.want)
		})
	}

	req := Request{Product: "  p  ", Platforms: []string{" ", ""}}
	require.NoError(t, req.Normalize())
	assert.Equal(t, DefaultPlatforms, req.Platforms)
	assert.Equal(t, defaultWeeks, req.Weeks)
	assert.Equal(t, "p", req.Name)
}

func TestBudgetSheet(t *testing.T) {
	raw, err := BudgetSheet(1000)
	require.NoError(t, err)
	rows, err := csv.NewReader(bytes.NewReader(raw)).ReadAll()
	require.NoError(t, err)

	require.Len(t, rows, len(budgetAllocation)+2)
	assert.Equal(t, []string{"Digital Advertising", "30", "300.00", "Facebook, Instagram, Pinterest Ads"}, rows[1])
	assert.Equal(t, "Total", rows[len(rows)-1][0])
	assert.Equal(t, "1000.00", rows[len(rows)-1][2])

	total := 0
	for _, line := range budgetAllocation {
		total += line.Percent
	}
	assert.Equal(t, 100, total)
}

func TestSchedule(t *testing.T) {
	posts := Schedule([]string{"Pinterest", "Friendster"}, 1)
	require.Len(t, posts, 7)
	assert.Equal(t, SchedulePost{
		Week:     1,
		Day:      "Monday",
		Platform: "Pinterest",
		Time:     "8:00 PM",
		PostType: "Design Reveal",
		Theme:    "Week 1 - Design Reveal",
		Hashtags: "#campaign #week1",
		Status:   "Planned",
	}, posts[0])
	assert.Equal(t, "Sunday", posts[6].Day)

	raw, err := ScheduleSheet(posts)
	require.NoError(t, err)
	rows, err := csv.NewReader(bytes.NewReader(raw)).ReadAll()
	require.NoError(t, err)
	assert.Len(t, rows, 8)
	assert.Equal(t, "Content Theme", rows[0][5])
}

func TestListAndOpenCampaigns(t *testing.T) {
	svc, _ := newTestService(t, &fakeWriter{})

	_, err := svc.Generate(context.Background(), Request{Product: "enamel pins", Budget: 200})
	require.NoError(t, err)

	list, err := svc.List()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "enamel_pins", list[0].Name)
	assert.True(t, list[0].HasArchive)
	assert.Contains(t, list[0].Files, fileMaster)

	f, info, err := svc.Open("enamel_pins", "")
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, fileZip, info.Name())

	_, _, err = svc.Open("enamel_pins", "../secrets")
	assert.ErrorIs(t, err, ErrNotFound)
	_, _, err = svc.Open("missing", fileMaster)
	assert.ErrorIs(t, err, ErrNotFound)
}
