// Package replicate calls models hosted on Replicate through its predictions API.
package replicate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/autobiz/abp/backend/internal/config"
	"github.com/autobiz/abp/backend/internal/logging"
	"github.com/autobiz/abp/backend/internal/model/usage"
	"github.com/autobiz/abp/backend/internal/platform/apierr"
	"github.com/autobiz/abp/backend/internal/platform/httpjson"
	"github.com/autobiz/abp/backend/internal/platform/retry"
	"github.com/autobiz/abp/backend/internal/telemetry"
)

const provider = "replicate"

var (
	ErrPredictionFailed  = errors.New("prediction failed")
	ErrPredictionTimeout = errors.New("prediction timed out")
	ErrEmptyOutput       = errors.New("prediction returned no usable output")
)

// Prediction statuses.
const (
	StatusStarting   = "starting"
	StatusProcessing = "processing"
	StatusSucceeded  = "succeeded"
	StatusFailed     = "failed"
	StatusCanceled   = "canceled"
)

// Prediction mirrors the predictions API resource.
type Prediction struct {
	ID      string          `json:"id"`
	Version string          `json:"version"`
	Status  string          `json:"status"`
	Input   map[string]any  `json:"input,omitempty"`
	Output  json.RawMessage `json:"output,omitempty"`
	Error   any             `json:"error,omitempty"`
	Logs    string          `json:"logs,omitempty"`
	URLs    struct {
		Get    string `json:"get"`
		Cancel string `json:"cancel"`
	} `json:"urls"`
}

// Running reports whether the prediction is still in flight.
func (p Prediction) Running() bool {
	return p.Status == StatusStarting || p.Status == StatusProcessing
}

// Client talks to the Replicate API.
type Client struct {
	cfg      config.ReplicateConfig
	api      *httpjson.Client
	limiter  *rate.Limiter
	policy   retry.Policy
	breaker  *retry.Breaker
	recorder usage.Recorder
	logger   *zap.Logger

	mu       sync.RWMutex
	versions map[string]string
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient swaps the transport, mainly for tests.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.api.HTTP = h }
}

// WithRecorder reports every prediction to the usage tracker.
func WithRecorder(r usage.Recorder) Option {
	return func(c *Client) { c.recorder = r }
}

// WithLogger sets the fallback logger used when ctx carries none.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithBreaker replaces the default circuit breaker.
func WithBreaker(b *retry.Breaker) Option {
	return func(c *Client) { c.breaker = b }
}

// New builds a client. A client without a token fails every call with
// apierr.ErrNotConfigured.
func New(cfg config.ReplicateConfig, opts ...Option) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.replicate.com/v1"
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 15 * time.Minute
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 12 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	token := cfg.APIToken
	c := &Client{
		cfg: cfg,
		api: httpjson.New(provider, cfg.BaseURL, 30*time.Second, func(r *http.Request) {
			r.Header.Set("Authorization", "Token "+token)
		}),
		policy: retry.Policy{
			MaxRetries:  cfg.MaxRetries,
			Initial:     cfg.RetryBase,
			Multiplier:  2,
			MaxInterval: cfg.RetryBase * 8,
		},
		breaker:  retry.NewBreaker(),
		recorder: usage.NopRecorder{},
		logger:   zap.NewNop(),
		versions: make(map[string]string),
	}
	if cfg.RatePerMin > 0 {
		c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RatePerMin)), 1)
	} else {
		c.limiter = rate.NewLimiter(rate.Inf, 1)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Enabled reports whether a token is configured.
func (c *Client) Enabled() bool { return c.cfg.Enabled() }

// Models returns the configured default model references.
func (c *Client) Models() map[string]string {
	return map[string]string{
		"image":   c.cfg.ImageModel,
		"text":    c.cfg.TextModel,
		"premium": c.cfg.PremiumModel,
		"video":   c.cfg.VideoModel,
		"speech":  c.cfg.SpeechModel,
	}
}

// BreakerState reports the circuit breaker state.
func (c *Client) BreakerState() string { return c.breaker.State() }

func (c *Client) log(ctx context.Context) *zap.Logger {
	return logging.FromContextOr(ctx, c.logger)
}

// ResolveVersion maps "owner/name" to its latest version id. References of
// the form "owner/name:version" are returned as-is.
func (c *Client) ResolveVersion(ctx context.Context, ref string) (string, error) {
	if _, version, ok := strings.Cut(ref, ":"); ok {
		if version == "" {
			return "", fmt.Errorf("replicate: empty version in %q", ref)
		}
		return version, nil
	}

	c.mu.RLock()
	cached, ok := c.versions[ref]
	c.mu.RUnlock()
	if ok {
		return cached, nil
	}

	if !c.Enabled() {
		return "", apierr.ErrNotConfigured
	}
	owner, name, ok := strings.Cut(ref, "/")
	if !ok || owner == "" || name == "" {
		return "", fmt.Errorf("replicate: model reference %q must be owner/name", ref)
	}

	var model struct {
		LatestVersion  *struct{ ID string } `json:"latest_version"`
		DefaultVersion *struct{ ID string } `json:"default_version"`
	}
	if err := c.api.Do(ctx, http.MethodGet, "models/"+owner+"/"+name, nil, &model); err != nil {
		return "", fmt.Errorf("resolve version for %s: %w", ref, err)
	}

	var version string
	switch {
	case model.LatestVersion != nil && model.LatestVersion.ID != "":
		version = model.LatestVersion.ID
	case model.DefaultVersion != nil && model.DefaultVersion.ID != "":
		version = model.DefaultVersion.ID
	default:
		return "", fmt.Errorf("replicate: model %s has no published version", ref)
	}

	c.mu.Lock()
	c.versions[ref] = version
	c.mu.Unlock()
	return version, nil
}

// CreatePrediction starts a prediction, retrying throttled requests.
func (c *Client) CreatePrediction(ctx context.Context, version string, input map[string]any) (Prediction, error) {
	body := map[string]any{"version": version, "input": input}
	return retry.Do(ctx, c.policy, "replicate.create", func(ctx context.Context) (Prediction, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return Prediction{}, err
		}
		var p Prediction
		if err := c.api.Do(ctx, http.MethodPost, "predictions", body, &p); err != nil {
			return Prediction{}, err
		}
		return p, nil
	})
}

// GetPrediction fetches a prediction by id or by its status URL.
func (c *Client) GetPrediction(ctx context.Context, idOrURL string) (Prediction, error) {
	path := idOrURL
	if !strings.Contains(idOrURL, "://") {
		path = "predictions/" + idOrURL
	}
	var p Prediction
	err := c.api.Do(ctx, http.MethodGet, path, nil, &p)
	return p, err
}

// CancelPrediction asks Replicate to stop a prediction.
func (c *Client) CancelPrediction(ctx context.Context, p Prediction) error {
	path := p.URLs.Cancel
	if path == "" {
		if p.ID == "" {
			return nil
		}
		path = "predictions/" + p.ID + "/cancel"
	}
	return c.api.Do(ctx, http.MethodPost, path, nil, nil)
}

// Wait polls until the prediction leaves starting/processing. It cancels the
// prediction when the poll timeout elapses or ctx ends.
func (c *Client) Wait(ctx context.Context, p Prediction) (Prediction, error) {
	deadline := time.NewTimer(c.cfg.PollTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	statusURL := p.URLs.Get
	if statusURL == "" {
		statusURL = p.ID
	}

	for p.Running() {
		if statusURL == "" {
			return p, fmt.Errorf("replicate: prediction has no status url")
		}
		select {
		case <-ctx.Done():
			c.cancelQuietly(ctx, p)
			return p, ctx.Err()
		case <-deadline.C:
			c.cancelQuietly(ctx, p)
			return p, fmt.Errorf("%w after %s", ErrPredictionTimeout, c.cfg.PollTimeout)
		case <-ticker.C:
		}

		next, err := c.GetPrediction(ctx, statusURL)
		if err != nil {
			if apierr.IsRetryable(err) {
				c.log(ctx).Debug("prediction poll failed, will retry", zap.String("prediction", p.ID), zap.Error(err))
				continue
			}
			return p, err
		}
		// keep urls when a poll response omits them
		if next.URLs.Get == "" {
			next.URLs = p.URLs
		}
		p = next
	}

	if p.Status != StatusSucceeded {
		return p, fmt.Errorf("%w: status %s: %v", ErrPredictionFailed, p.Status, p.Error)
	}
	return p, nil
}

func (c *Client) cancelQuietly(ctx context.Context, p Prediction) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := c.CancelPrediction(cctx, p); err != nil {
		c.log(ctx).Warn("cancel prediction failed", zap.String("prediction", p.ID), zap.Error(err))
	}
}

// Run resolves ref, creates a prediction and waits for its output. Every run
// is reported to the usage recorder.
func (c *Client) Run(ctx context.Context, ref, operation string, input map[string]any) (json.RawMessage, error) {
	if !c.Enabled() {
		return nil, apierr.ErrNotConfigured
	}
	if err := c.breaker.Allow(); err != nil {
		return nil, fmt.Errorf("replicate %s: %w", ref, err)
	}

	ctx, span := telemetry.Tracer().Start(ctx, "replicate.run")
	span.SetAttributes(attribute.String("replicate.model", ref), attribute.String("replicate.operation", operation))
	defer span.End()

	start := time.Now()
	out, predictionID, err := c.run(ctx, ref, input)
	elapsed := time.Since(start)

	if ctx.Err() == nil {
		c.breaker.Record(err)
	}
	call := usage.Call{
		Provider:   provider,
		Model:      ref,
		Operation:  operation,
		Success:    err == nil,
		DurationMs: elapsed.Milliseconds(),
	}
	if err != nil {
		call.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	if _, trackErr := c.recorder.Track(ctx, call); trackErr != nil {
		c.log(ctx).Debug("usage tracking failed", zap.Error(trackErr))
	}

	logger := c.log(ctx).With(zap.String("model", ref), zap.String("prediction", predictionID), zap.Duration("duration", elapsed))
	if err != nil {
		logger.Warn("replicate run failed", zap.Error(err))
		return nil, fmt.Errorf("replicate %s: %w", ref, err)
	}
	logger.Info("replicate run succeeded")
	return out, nil
}

func (c *Client) run(ctx context.Context, ref string, input map[string]any) (json.RawMessage, string, error) {
	version, err := c.ResolveVersion(ctx, ref)
	if err != nil {
		return nil, "", err
	}
	p, err := c.CreatePrediction(ctx, version, input)
	if err != nil {
		return nil, "", err
	}
	p, err = c.Wait(ctx, p)
	if err != nil {
		return nil, p.ID, err
	}
	return p.Output, p.ID, nil
}
