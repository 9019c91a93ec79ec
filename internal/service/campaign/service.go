// Package campaign turns a product brief into a complete marketing campaign:
// concept, plan, budget, posting schedule, artwork, resources and recap,
// packaged as files under one directory.
package campaign

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/autobiz/abp/backend/internal/analysis/copyscore"
	"github.com/autobiz/abp/backend/internal/executor"
	"github.com/autobiz/abp/backend/internal/logging"
	"github.com/autobiz/abp/backend/internal/model/media"
	"github.com/autobiz/abp/backend/internal/service/ai"
	"github.com/autobiz/abp/backend/internal/service/library"
	"github.com/autobiz/abp/backend/internal/service/review"
)

const (
	fileConcept            = "campaign_concept.txt"
	fileAnalyzedConcept    = "analyzed_campaign_concept.txt"
	filePlan               = "marketing_plan.txt"
	fileAnalyzedPlan       = "analyzed_marketing_plan.txt"
	fileBudget             = "budget_spreadsheet.csv"
	fileAnalyzedBudget     = "analyzed_budget_spreadsheet.txt"
	fileSchedule           = "social_media_schedule.csv"
	fileAnalyzedSchedule   = "analyzed_social_media_schedule.txt"
	fileImages             = "images.csv"
	fileResources          = "resources_tips.txt"
	fileAnalyzedResources  = "analyzed_resources_tips.txt"
	fileRecap              = "recap.txt"
	fileAnalyzedRecap      = "analyzed_recap.txt"
	fileMaster             = "master_document.txt"
	fileZip                = "complete_campaign.zip"
	defaultWeeks           = 4
	maxWeeks               = 12
	maxImages              = 8
	imageConcurrency       = 4
	scheduleSummaryRows    = 20
	knowledgeReferenceSize = 2
)

var (
	ErrProductRequired = errors.New("product description is required")
	ErrInvalidBudget   = errors.New("budget must not be negative")
	ErrTooManyImages   = fmt.Errorf("at most %d images per campaign", maxImages)
	ErrInvalidWeeks    = fmt.Errorf("weeks must be between 1 and %d", maxWeeks)
)

// DefaultPlatforms are used when a request names none.
var DefaultPlatforms = []string{"Instagram", "Facebook", "Pinterest"}

// Request describes the campaign to generate.
type Request struct {
	Name          string   `json:"name"`
	Product       string   `json:"product"`
	Audience      string   `json:"audience"`
	Budget        float64  `json:"budget"`
	Platforms     []string `json:"platforms,omitempty"`
	BrandTemplate string   `json:"brandTemplate,omitempty"`
	Images        int      `json:"images,omitempty"`
	Weeks         int      `json:"weeks,omitempty"`
}

// Normalize fills defaults and validates r.
func (r *Request) Normalize() error {
	r.Product = strings.TrimSpace(r.Product)
	if r.Product == "" {
		return ErrProductRequired
	}
	r.Name = strings.TrimSpace(r.Name)
	if r.Name == "" {
		r.Name = clip(r.Product, 40)
	}
	r.Audience = strings.TrimSpace(r.Audience)
	if r.Budget < 0 {
		return ErrInvalidBudget
	}
	if r.Images < 0 || r.Images > maxImages {
		return ErrTooManyImages
	}
	if r.Weeks == 0 {
		r.Weeks = defaultWeeks
	}
	if r.Weeks < 0 || r.Weeks > maxWeeks {
		return ErrInvalidWeeks
	}

	platforms := r.Platforms[:0:0]
	for _, p := range r.Platforms {
		if p = strings.TrimSpace(p); p != "" {
			platforms = append(platforms, p)
		}
	}
	if len(platforms) == 0 {
		platforms = append(platforms, DefaultPlatforms...)
	}
	r.Platforms = platforms
	return nil
}

// StepReview is the review of one generated section.
type StepReview struct {
	Step   string        `json:"step"`
	File   string        `json:"file"`
	Review review.Result `json:"review"`
}

// ImageResult is the outcome of one artwork generation.
type ImageResult struct {
	Index  int    `json:"index"`
	Prompt string `json:"prompt"`
	URL    string `json:"url,omitempty"`
	File   string `json:"file,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Result summarises a generated campaign.
type Result struct {
	Name         string           `json:"name"`
	Dir          string           `json:"dir"`
	Files        []string         `json:"files"`
	Reviews      []StepReview     `json:"reviews"`
	Posts        int              `json:"posts"`
	Images       []ImageResult    `json:"images,omitempty"`
	ImageReport  *executor.Report `json:"imageReport,omitempty"`
	SuccessRatio float64          `json:"successRatio"`
	Archive      string           `json:"archive"`
	StartedAt    time.Time        `json:"startedAt"`
	CompletedAt  time.Time        `json:"completedAt"`
}

// Reviewer scores a section of copy.
type Reviewer interface {
	Review(ctx context.Context, req review.Request) review.Result
}

// PromptEnhancer applies a brand template to a prompt.
type PromptEnhancer interface {
	EnhancePrompt(id, prompt, promptType string) (string, error)
}

// Service generates campaigns.
type Service struct {
	root     string
	writer   ai.TextGenerator
	prompts  *ai.PromptManager
	reviewer Reviewer
	brands   PromptEnhancer
	exec     executor.BatchExecutor
	logger   *zap.Logger
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithBrands enables brand templates.
func WithBrands(b PromptEnhancer) Option { return func(s *Service) { s.brands = b } }

// WithExecutor enables artwork generation as a media.image batch.
func WithExecutor(e executor.BatchExecutor) Option { return func(s *Service) { s.exec = e } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(s *Service) { s.logger = l } }

// NewService returns a Service writing campaigns under root.
func NewService(root string, writer ai.TextGenerator, reviewer Reviewer, opts ...Option) (*Service, error) {
	if writer == nil {
		return nil, ai.ErrNoBackend
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create campaigns dir: %w", err)
	}
	s := &Service{
		root:     root,
		writer:   writer,
		prompts:  ai.NewPromptManager(),
		reviewer: reviewer,
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Root is the directory campaigns are written to.
func (s *Service) Root() string { return s.root }

type run struct {
	svc       *Service
	req       Request
	brief     ai.Brief
	dir       string
	files     *storage
	knowledge []string
	result    *Result
	logger    *zap.Logger
}

const totalSteps = 10

// Generate runs every campaign step in order. Text generation failures abort
// the campaign; artwork failures are reported in the result.
func (s *Service) Generate(ctx context.Context, req Request) (Result, error) {
	if err := req.Normalize(); err != nil {
		return Result{}, err
	}
	logger := logging.FromContextOr(ctx, s.logger).With(zap.String("campaign", req.Name))

	dirName := library.SanitizeFilename(req.Name)
	if dirName == "" {
		dirName = "campaign"
	}
	dir := filepath.Join(s.root, dirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Result{}, fmt.Errorf("create campaign dir: %w", err)
	}

	brandHint := ""
	if req.BrandTemplate != "" && s.brands != nil {
		hint, err := s.brands.EnhancePrompt(req.BrandTemplate, "", "marketing")
		if err != nil {
			return Result{}, fmt.Errorf("brand template %q: %w", req.BrandTemplate, err)
		}
		brandHint = hint
	}

	r := &run{
		svc: s,
		req: req,
		brief: ai.Brief{
			Product:   req.Product,
			Audience:  req.Audience,
			Budget:    req.Budget,
			Platforms: req.Platforms,
			BrandHint: brandHint,
		},
		dir:    dir,
		files:  newStorage(),
		result: &Result{Name: req.Name, Dir: dir, StartedAt: s.now()},
		logger: logger,
	}
	if err := r.execute(ctx); err != nil {
		logger.Error("campaign generation failed", zap.Error(err))
		return Result{}, err
	}
	return *r.result, nil
}

func (r *run) execute(ctx context.Context) error {
	r.logger.Info("campaign generation started", zap.Strings("platforms", r.req.Platforms), zap.Int("images", r.req.Images))

	r.progress(ctx, 0, "concept")
	if err := r.textStep(ctx, ai.PromptConcept, "Campaign Concept", fileConcept, fileAnalyzedConcept); err != nil {
		return err
	}

	r.progress(ctx, 1, "marketing plan")
	if err := r.textStep(ctx, ai.PromptPlan, "Marketing Plan", filePlan, fileAnalyzedPlan); err != nil {
		return err
	}

	r.progress(ctx, 2, "budget")
	sheet, err := BudgetSheet(r.req.Budget)
	if err != nil {
		return err
	}
	if err := r.save(artifact{name: fileBudget, data: sheet, binary: true}); err != nil {
		return err
	}
	if err := r.analyze(ctx, "Budget Spreadsheet", summarizeBudget(r.req.Budget), fileAnalyzedBudget); err != nil {
		return err
	}

	r.progress(ctx, 3, "social schedule")
	posts := Schedule(r.req.Platforms, r.req.Weeks)
	r.result.Posts = len(posts)
	sheet, err = ScheduleSheet(posts)
	if err != nil {
		return err
	}
	if err := r.save(artifact{name: fileSchedule, data: sheet, binary: true}); err != nil {
		return err
	}
	if err := r.analyze(ctx, "Social Media Schedule", summarizeSchedule(posts, scheduleSummaryRows), fileAnalyzedSchedule); err != nil {
		return err
	}

	r.progress(ctx, 4, "artwork")
	if err := r.images(ctx); err != nil {
		return err
	}

	r.progress(ctx, 6, "resources")
	if err := r.textStep(ctx, ai.PromptResources, "Resources & Tips", fileResources, fileAnalyzedResources); err != nil {
		return err
	}

	r.progress(ctx, 7, "recap")
	if err := r.textStep(ctx, ai.PromptRecap, "Campaign Recap", fileRecap, fileAnalyzedRecap); err != nil {
		return err
	}

	r.progress(ctx, 8, "master document")
	master := masterDocument(r.req.Name, r.svc.now(), r.files)
	if err := r.save(artifact{name: fileMaster, data: []byte(master)}); err != nil {
		return err
	}

	r.progress(ctx, 9, "archive")
	archive, err := packageZip(r.files, r.svc.now())
	if err != nil {
		return err
	}
	archivePath := filepath.Join(r.dir, fileZip)
	if err := writeFile(archivePath, archive); err != nil {
		return err
	}

	r.result.Files = append(r.files.names(), fileZip)
	r.result.Archive = archivePath
	r.result.CompletedAt = r.svc.now()
	r.progress(ctx, totalSteps, "done")
	r.logger.Info("campaign generation finished",
		zap.String("dir", r.dir),
		zap.Int("files", len(r.result.Files)),
		zap.Float64("imageSuccessRatio", r.result.SuccessRatio),
	)
	return nil
}

func (r *run) progress(ctx context.Context, step int, note string) {
	executor.ReportProgress(ctx, float64(step)/totalSteps, note)
}

// textStep generates a section, saves it, then saves the editor's analysis
// and records a review score.
func (r *run) textStep(ctx context.Context, prompt, label, file, analyzedFile string) error {
	req, err := r.svc.prompts.Build(prompt, r.brief, r.reference())
	if err != nil {
		return err
	}
	text, err := r.svc.writer.Write(ctx, req)
	if err != nil {
		return fmt.Errorf("generate %s: %w", strings.ToLower(label), err)
	}
	if err := r.save(artifact{name: file, data: []byte(text)}); err != nil {
		return err
	}

	if r.svc.reviewer != nil {
		res := r.svc.reviewer.Review(ctx, review.Request{
			Kind:     copyscore.KindLongForm,
			Label:    label,
			Text:     text,
			Audience: r.req.Audience,
			History:  r.knowledge,
		})
		r.result.Reviews = append(r.result.Reviews, StepReview{Step: label, File: file, Review: res})
	}
	return r.analyze(ctx, label, text, analyzedFile)
}

// analyze asks the editor model to improve content. An editor failure keeps
// the original content.
func (r *run) analyze(ctx context.Context, label, content, file string) error {
	analyzed, err := r.svc.writer.Write(ctx, r.svc.prompts.EnhanceRequest(label, content))
	if err != nil {
		r.logger.Warn("content analysis failed, keeping original", zap.String("step", label), zap.Error(err))
		analyzed = content
	}
	r.knowledge = append(r.knowledge, fmt.Sprintf("%s:\n%s", label, analyzed))
	return r.save(artifact{name: file, data: []byte(analyzed)})
}

// reference is the most recent knowledge handed to the next prompt.
func (r *run) reference() string {
	k := r.knowledge
	if len(k) > knowledgeReferenceSize {
		k = k[len(k)-knowledgeReferenceSize:]
	}
	return strings.Join(k, "\n\n")
}

func (r *run) images(ctx context.Context) error {
	n := r.req.Images
	if n == 0 {
		return nil
	}
	if r.svc.exec == nil {
		r.logger.Warn("artwork skipped, no executor configured")
		return nil
	}

	base := library.SanitizeFilename(r.req.Name)
	calls := make([]executor.Call, n)
	results := make([]ImageResult, n)
	for i := range calls {
		prompt := fmt.Sprintf("%s, design variation %d of %d, print-ready artwork for merchandise, centered composition", r.req.Product, i+1, n)
		if r.req.BrandTemplate != "" && r.svc.brands != nil {
			if enhanced, err := r.svc.brands.EnhancePrompt(r.req.BrandTemplate, prompt, "product"); err == nil {
				prompt = enhanced
			}
		}
		call, err := executor.NewCall(media.KindImage, media.ImageRequest{
			Prompt:      prompt,
			AspectRatio: "1:1",
			Delivery: media.Delivery{
				Save: true,
				Name: fmt.Sprintf("%s_design_%d.png", base, i+1),
			},
		})
		if err != nil {
			return err
		}
		calls[i] = call
		results[i] = ImageResult{Index: i, Prompt: prompt}
	}

	outcomes, err := r.svc.exec.Execute(ctx, calls, executor.Options{MaxConcurrent: min(n, imageConcurrency)})
	if err != nil {
		return fmt.Errorf("generate artwork: %w", err)
	}
	for _, o := range outcomes {
		res := &results[o.Index]
		var asset media.Asset
		if err := o.Decode(&asset); err != nil {
			res.Error = err.Error()
			continue
		}
		res.URL = asset.URL
		res.File = asset.File
	}

	report := executor.Summarize(outcomes)
	r.result.Images = results
	r.result.ImageReport = &report
	r.result.SuccessRatio = report.SuccessRatio
	if report.Failed > 0 {
		r.logger.Warn("some artwork failed", zap.Int("failed", report.Failed), zap.Int("total", report.Total))
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	rows := [][]string{{"Index", "Prompt", "Status", "URL", "File", "Error"}}
	for _, res := range results {
		status := "ok"
		if res.Error != "" {
			status = "failed"
		}
		rows = append(rows, []string{fmt.Sprintf("%d", res.Index+1), res.Prompt, status, res.URL, res.File, res.Error})
	}
	if err := w.WriteAll(rows); err != nil {
		return fmt.Errorf("write image manifest: %w", err)
	}
	return r.save(artifact{name: fileImages, data: buf.Bytes(), binary: true})
}

// save writes a to the campaign directory and keeps it for packaging.
func (r *run) save(a artifact) error {
	if err := writeFile(filepath.Join(r.dir, a.name), a.data); err != nil {
		return err
	}
	r.files.put(a)
	r.logger.Debug("campaign file saved", zap.String("file", a.name), zap.Int("bytes", len(a.data)))
	return nil
}

func writeFile(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n]))
}
