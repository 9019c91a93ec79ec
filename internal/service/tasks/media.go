package tasks

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/autobiz/abp/backend/internal/executor"
	"github.com/autobiz/abp/backend/internal/logging"
	"github.com/autobiz/abp/backend/internal/model/media"
	"github.com/autobiz/abp/backend/internal/provider/replicate"
	"github.com/autobiz/abp/backend/internal/service/ai"
	"github.com/autobiz/abp/backend/internal/service/library"
)

var (
	ErrPromptRequired = errors.New("prompt is required")
	ErrTextRequired   = errors.New("text is required")
)

func (h *handlers) brand(id, prompt, promptType string) (string, error) {
	if id == "" || h.Brands == nil {
		return prompt, nil
	}
	return h.Brands.EnhancePrompt(id, prompt, promptType)
}

func (h *handlers) image(ctx context.Context, req media.ImageRequest) (media.Asset, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return media.Asset{}, ErrPromptRequired
	}
	prompt, err := h.brand(req.BrandTemplate, req.Prompt, "product")
	if err != nil {
		return media.Asset{}, err
	}

	start := time.Now()
	executor.ReportProgress(ctx, 0.1, "generating image")
	url, err := h.Media.GenerateImage(ctx, replicate.ImageRequest{
		Prompt:         prompt,
		Model:          req.Model,
		AspectRatio:    req.AspectRatio,
		Width:          req.Width,
		Height:         req.Height,
		OutputFormat:   req.OutputFormat,
		Guidance:       req.Guidance,
		Steps:          req.Steps,
		Seed:           req.Seed,
		NegativePrompt: req.NegativePrompt,
	})
	if err != nil {
		return media.Asset{}, err
	}
	asset := media.Asset{Kind: media.KindImage, URL: url, Prompt: prompt}
	return h.deliver(ctx, asset, library.Images, req.Delivery, start)
}

func (h *handlers) video(ctx context.Context, req media.VideoRequest) (media.Asset, error) {
	if strings.TrimSpace(req.Prompt) == "" && strings.TrimSpace(req.ImageURL) == "" {
		return media.Asset{}, ErrPromptRequired
	}
	prompt, err := h.brand(req.BrandTemplate, req.Prompt, "lifestyle")
	if err != nil {
		return media.Asset{}, err
	}

	start := time.Now()
	executor.ReportProgress(ctx, 0.1, "generating video")
	url, err := h.Media.GenerateVideo(ctx, replicate.VideoRequest{
		Prompt:      prompt,
		ImageURL:    req.ImageURL,
		Model:       req.Model,
		AspectRatio: req.AspectRatio,
		Duration:    req.Duration,
	})
	if err != nil {
		return media.Asset{}, err
	}
	asset := media.Asset{Kind: media.KindVideo, URL: url, Prompt: prompt}
	return h.deliver(ctx, asset, library.Videos, req.Delivery, start)
}

func (h *handlers) speech(ctx context.Context, req media.SpeechRequest) (media.Asset, error) {
	if strings.TrimSpace(req.Text) == "" {
		return media.Asset{}, ErrTextRequired
	}

	start := time.Now()
	executor.ReportProgress(ctx, 0.1, "synthesizing speech")
	url, err := h.Media.GenerateSpeech(ctx, replicate.SpeechRequest{
		Text:    req.Text,
		Model:   req.Model,
		Voice:   req.Voice,
		Speed:   req.Speed,
		Emotion: req.Emotion,
		Format:  req.Format,
	})
	if err != nil {
		return media.Asset{}, err
	}
	asset := media.Asset{Kind: media.KindSpeech, URL: url}
	return h.deliver(ctx, asset, library.Audio, req.Delivery, start)
}

// text prefers the copywriting chain; premium requests and processes without
// a chain use the hosted text models directly.
func (h *handlers) text(ctx context.Context, req media.TextRequest) (media.Asset, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return media.Asset{}, ErrPromptRequired
	}
	prompt, err := h.brand(req.BrandTemplate, req.Prompt, "marketing")
	if err != nil {
		return media.Asset{}, err
	}

	start := time.Now()
	executor.ReportProgress(ctx, 0.1, "writing")
	var text string
	if h.Writer != nil && (!req.Premium || h.Media == nil) {
		text, err = h.Writer.Write(ctx, ai.WriteRequest{
			System:      req.SystemPrompt,
			Prompt:      prompt,
			MaxTokens:   req.MaxTokens,
			Temperature: req.Temperature,
		})
	} else {
		text, err = h.Media.GenerateText(ctx, replicate.TextRequest{
			Prompt:       prompt,
			SystemPrompt: req.SystemPrompt,
			Premium:      req.Premium,
			MaxTokens:    req.MaxTokens,
			Temperature:  float64(req.Temperature),
		})
	}
	if err != nil {
		return media.Asset{}, err
	}

	asset := media.Asset{Kind: media.KindText, Text: text, Prompt: prompt}
	if req.Save && h.Library != nil {
		entry, err := h.Library.Save(ctx, library.Documents, req.Name, strings.NewReader(text))
		if err != nil {
			h.saveFailed(ctx, &asset, err)
		} else {
			asset.Category = string(entry.Category)
			asset.File = entry.Name
		}
	}
	asset.Duration = time.Since(start).Milliseconds()
	asset.CreatedAt = time.Now().UTC()
	return asset, nil
}

// saveFailed keeps a generated asset when only the library copy failed, so
// the provider result stays reachable through its URL or text.
func (h *handlers) saveFailed(ctx context.Context, asset *media.Asset, err error) {
	asset.SaveError = err.Error()
	logging.FromContextOr(ctx, h.Logger).Warn("library save failed, returning provider result",
		zap.String("kind", asset.Kind),
		zap.String("url", asset.URL),
		zap.Error(err),
	)
}

// deliver downloads the asset into the library when asked to.
func (h *handlers) deliver(ctx context.Context, asset media.Asset, category library.Category, d media.Delivery, start time.Time) (media.Asset, error) {
	if d.Save && h.Library != nil {
		executor.ReportProgress(ctx, 0.8, "saving to library")
		entry, err := h.Library.Download(ctx, category, asset.URL, d.Name)
		if err != nil {
			h.saveFailed(ctx, &asset, err)
		} else {
			asset.Category = string(entry.Category)
			asset.File = entry.Name
		}
	}
	asset.Duration = time.Since(start).Milliseconds()
	asset.CreatedAt = time.Now().UTC()

	logging.FromContextOr(ctx, h.Logger).Info("media generated",
		zap.String("kind", asset.Kind),
		zap.String("file", asset.File),
		zap.Int64("durationMs", asset.Duration),
	)
	return asset, nil
}
