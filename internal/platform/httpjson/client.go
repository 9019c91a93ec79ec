// Package httpjson is the JSON-over-HTTP plumbing shared by provider clients.
package httpjson

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/autobiz/abp/backend/internal/platform/apierr"
	"github.com/autobiz/abp/backend/internal/telemetry"
)

const maxErrorBody = 64 << 10

// Client sends JSON requests to one provider.
type Client struct {
	Provider string
	BaseURL  string
	HTTP     *http.Client
	// Authorize decorates every request, typically with credentials.
	Authorize func(*http.Request)
}

// New returns a client with the given timeout.
func New(provider, baseURL string, timeout time.Duration, authorize func(*http.Request)) *Client {
	return &Client{
		Provider:  provider,
		BaseURL:   strings.TrimRight(baseURL, "/"),
		HTTP:      &http.Client{Timeout: timeout},
		Authorize: authorize,
	}
}

// URL resolves path against BaseURL. Absolute URLs pass through.
func (c *Client) URL(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return c.BaseURL + "/" + strings.TrimLeft(path, "/")
}

// Do sends in as the JSON body (nil for none) and decodes the response into
// out (nil to discard). Non-2xx responses become *apierr.Error.
func (c *Client) Do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", c.Provider, err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.URL(path), body)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", c.Provider, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(req, out)
}

// DoRaw sends a prepared body with its content type.
func (c *Client) DoRaw(ctx context.Context, method, path, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.URL(path), body)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", c.Provider, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", contentType)
	return c.send(req, out)
}

func (c *Client) send(req *http.Request, out any) error {
	ctx, span := telemetry.Tracer().Start(req.Context(), c.Provider+" "+req.Method)
	defer span.End()
	span.SetAttributes(
		attribute.String("http.request.method", req.Method),
		attribute.String("url.path", req.URL.Path),
	)
	req = req.WithContext(ctx)

	if c.Authorize != nil {
		c.Authorize(req)
	}

	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%s %s %s: %w", c.Provider, req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		apiErr := apierr.FromResponse(c.Provider, resp, raw)
		span.SetStatus(codes.Error, apiErr.Error())
		return apiErr
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return fmt.Errorf("%s: decode response: %w", c.Provider, err)
	}
	return nil
}
