package replicate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/autobiz/abp/backend/internal/platform/apierr"
	"github.com/autobiz/abp/backend/internal/platform/retry"
)

// FallbackTextModel serves text when the configured model fails.
const FallbackTextModel = "meta/meta-llama-3-70b-instruct"

// ImageRequest are the inputs of a text-to-image run.
type ImageRequest struct {
	Prompt         string  `json:"prompt"`
	Model          string  `json:"model,omitempty"`
	AspectRatio    string  `json:"aspectRatio,omitempty"`
	Width          int     `json:"width,omitempty"`
	Height         int     `json:"height,omitempty"`
	OutputFormat   string  `json:"outputFormat,omitempty"`
	OutputQuality  int     `json:"outputQuality,omitempty"`
	Guidance       float64 `json:"guidance,omitempty"`
	Steps          int     `json:"steps,omitempty"`
	Seed           *int    `json:"seed,omitempty"`
	NegativePrompt string  `json:"negativePrompt,omitempty"`
}

func (r ImageRequest) input() map[string]any {
	in := map[string]any{
		"prompt":              r.Prompt,
		"aspect_ratio":        or(r.AspectRatio, "1:1"),
		"output_format":       or(r.OutputFormat, "png"),
		"output_quality":      orInt(r.OutputQuality, 90),
		"guidance":            orFloat(r.Guidance, 3.5),
		"num_inference_steps": orInt(r.Steps, 28),
		"image_size":          max(orInt(r.Width, 1024), orInt(r.Height, 1024)),
	}
	if r.Seed != nil && *r.Seed >= 0 {
		in["seed"] = *r.Seed
	}
	if r.NegativePrompt != "" {
		in["negative_prompt"] = r.NegativePrompt
	}
	return in
}

// TextRequest are the inputs of a text generation run.
type TextRequest struct {
	Prompt       string  `json:"prompt"`
	SystemPrompt string  `json:"systemPrompt,omitempty"`
	Model        string  `json:"model,omitempty"`
	Premium      bool    `json:"premium,omitempty"`
	MaxTokens    int     `json:"maxTokens,omitempty"`
	Temperature  float64 `json:"temperature,omitempty"`
	TopP         float64 `json:"topP,omitempty"`
}

func (r TextRequest) input(premium bool) map[string]any {
	maxTokens := orInt(r.MaxTokens, 800)
	if premium {
		in := map[string]any{
			"prompt":     r.Prompt,
			"max_tokens": maxTokens,
		}
		if r.SystemPrompt != "" {
			in["system_prompt"] = r.SystemPrompt
		}
		return in
	}

	prompt := r.Prompt
	if r.SystemPrompt != "" {
		prompt = "System: " + r.SystemPrompt + "\n\nUser: " + r.Prompt
	}
	return map[string]any{
		"prompt":         prompt,
		"max_new_tokens": maxTokens,
		"temperature":    orFloat(r.Temperature, 0.7),
		"top_p":          orFloat(r.TopP, 0.9),
	}
}

// VideoRequest are the inputs of a video run. Prompt or ImageURL is required.
type VideoRequest struct {
	Prompt      string `json:"prompt,omitempty"`
	ImageURL    string `json:"imageUrl,omitempty"`
	Model       string `json:"model,omitempty"`
	AspectRatio string `json:"aspectRatio,omitempty"`
	Duration    int    `json:"duration,omitempty"`
}

// SpeechRequest are the inputs of a text-to-speech run.
type SpeechRequest struct {
	Text       string  `json:"text"`
	Model      string  `json:"model,omitempty"`
	Voice      string  `json:"voice,omitempty"`
	Speed      float64 `json:"speed,omitempty"`
	Emotion    string  `json:"emotion,omitempty"`
	Format     string  `json:"format,omitempty"`
	SampleRate int     `json:"sampleRate,omitempty"`
}

// GenerateImage returns the URL of the first generated image.
func (c *Client) GenerateImage(ctx context.Context, req ImageRequest) (string, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return "", errors.New("image prompt is required")
	}
	out, err := c.Run(ctx, or(req.Model, c.cfg.ImageModel), "image", req.input())
	if err != nil {
		return "", err
	}
	return requireURL(out)
}

// GenerateText returns generated text. The configured model falls back to
// FallbackTextModel on failure; premium requests do not fall back.
func (c *Client) GenerateText(ctx context.Context, req TextRequest) (string, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return "", errors.New("text prompt is required")
	}
	model := req.Model
	if model == "" {
		model = c.cfg.TextModel
		if req.Premium {
			model = c.cfg.PremiumModel
		}
	}
	premium := req.Premium || strings.HasPrefix(model, "anthropic/")

	out, err := c.Run(ctx, model, "text", req.input(premium))
	if err == nil {
		return JoinText(out), nil
	}
	if premium || model == FallbackTextModel || !fallbackWorthy(ctx, err) {
		return "", err
	}

	c.log(ctx).Info("text model failed, trying fallback", zap.String("model", model), zap.Error(err))
	out, ferr := c.Run(ctx, FallbackTextModel, "text", req.input(false))
	if ferr != nil {
		return "", fmt.Errorf("text generation failed: primary: %v; fallback: %w", err, ferr)
	}
	return JoinText(out), nil
}

// GenerateVideo returns the URL of the generated clip.
func (c *Client) GenerateVideo(ctx context.Context, req VideoRequest) (string, error) {
	if strings.TrimSpace(req.Prompt) == "" && req.ImageURL == "" {
		return "", errors.New("video needs a prompt or a start image")
	}
	in := map[string]any{
		"aspect_ratio": or(req.AspectRatio, "16:9"),
		"duration":     orInt(req.Duration, 5),
	}
	if req.Prompt != "" {
		in["prompt"] = req.Prompt
	}
	if req.ImageURL != "" {
		in["start_image"] = req.ImageURL
	}
	out, err := c.Run(ctx, or(req.Model, c.cfg.VideoModel), "video", in)
	if err != nil {
		return "", err
	}
	return requireURL(out)
}

// GenerateSpeech returns the URL of the synthesized audio.
func (c *Client) GenerateSpeech(ctx context.Context, req SpeechRequest) (string, error) {
	if strings.TrimSpace(req.Text) == "" {
		return "", errors.New("speech text is required")
	}
	in := map[string]any{
		"text":              req.Text,
		"voice_id":          or(req.Voice, "English_Trustworth_Man"),
		"speed":             orFloat(req.Speed, 1.0),
		"emotion":           or(req.Emotion, "neutral"),
		"audio_sample_rate": orInt(req.SampleRate, 44100),
		"format":            or(req.Format, "mp3"),
	}
	out, err := c.Run(ctx, or(req.Model, c.cfg.SpeechModel), "speech", in)
	if err != nil {
		return "", err
	}
	return requireURL(out)
}

func fallbackWorthy(ctx context.Context, err error) bool {
	if ctx.Err() != nil || errors.Is(err, apierr.ErrNotConfigured) || errors.Is(err, retry.ErrCircuitOpen) {
		return false
	}
	return true
}

func requireURL(out json.RawMessage) (string, error) {
	url := FirstURL(out)
	if url == "" {
		return "", fmt.Errorf("%w: %s", ErrEmptyOutput, truncate(string(out), 200))
	}
	return url, nil
}

// FirstURL extracts the first URL from a prediction output, which may be a
// string, a list of strings or objects carrying a "url" field.
func FirstURL(out json.RawMessage) string {
	if len(out) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(out, &s) == nil {
		return s
	}
	var list []json.RawMessage
	if json.Unmarshal(out, &list) == nil {
		for _, item := range list {
			if u := FirstURL(item); u != "" {
				return u
			}
		}
		return ""
	}
	var obj struct {
		URL string `json:"url"`
	}
	if json.Unmarshal(out, &obj) == nil {
		return obj.URL
	}
	return ""
}

// JoinText concatenates streamed text output. Non-text output is returned
// as raw JSON.
func JoinText(out json.RawMessage) string {
	if len(out) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(out, &s) == nil {
		return s
	}
	var parts []any
	if json.Unmarshal(out, &parts) == nil {
		var b strings.Builder
		for _, p := range parts {
			switch v := p.(type) {
			case string:
				b.WriteString(v)
			case nil:
			default:
				fmt.Fprint(&b, v)
			}
		}
		return b.String()
	}
	return string(out)
}

func or(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func orInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func orFloat(v, def float64) float64 {
	if v <= 0 {
		return def
	}
	return v
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
