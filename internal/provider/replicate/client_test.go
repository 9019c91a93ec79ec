package replicate

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobiz/abp/backend/internal/config"
	"github.com/autobiz/abp/backend/internal/model/usage"
	"github.com/autobiz/abp/backend/internal/platform/apierr"
)

type fakeReplicate struct {
	t            *testing.T
	srv          *httptest.Server
	modelLookups atomic.Int32
	creates      atomic.Int32
	cancels      atomic.Int32
	throttle     atomic.Int32 // number of 429s to return before accepting
	polls        map[string]*atomic.Int32

	mu sync.Mutex
	// final status and output per version
	results map[string]struct {
		status string
		output any
	}
	createdInputs []map[string]any
	pending       int32 // polls that report processing before finishing
}

func newFake(t *testing.T) *fakeReplicate {
	f := &fakeReplicate{t: t, polls: map[string]*atomic.Int32{}, results: map[string]struct {
		status string
		output any
	}{}}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /models/{owner}/{name}", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Token test-token", r.Header.Get("Authorization"))
		f.modelLookups.Add(1)
		version := r.PathValue("owner") + "-" + r.PathValue("name") + "-v1"
		writeJSON(w, http.StatusOK, map[string]any{"latest_version": map[string]any{"id": version}})
	})
	mux.HandleFunc("POST /predictions", func(w http.ResponseWriter, r *http.Request) {
		f.creates.Add(1)
		if f.throttle.Load() > 0 {
			f.throttle.Add(-1)
			writeJSON(w, http.StatusTooManyRequests, map[string]any{"detail": "Request was throttled"})
			return
		}
		var body struct {
			Version string         `json:"version"`
			Input   map[string]any `json:"input"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		f.mu.Lock()
		f.createdInputs = append(f.createdInputs, body.Input)
		_, known := f.results[body.Version]
		f.polls[body.Version] = &atomic.Int32{}
		f.mu.Unlock()
		if !known {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"detail": "unknown version " + body.Version})
			return
		}
		writeJSON(w, http.StatusCreated, f.prediction(body.Version, "starting", nil))
	})
	mux.HandleFunc("GET /predictions/{id}", func(w http.ResponseWriter, r *http.Request) {
		version := r.PathValue("id")
		f.mu.Lock()
		res := f.results[version]
		counter := f.polls[version]
		pending := f.pending
		f.mu.Unlock()
		if counter.Add(1) <= pending {
			writeJSON(w, http.StatusOK, f.prediction(version, "processing", nil))
			return
		}
		writeJSON(w, http.StatusOK, f.prediction(version, res.status, res.output))
	})
	mux.HandleFunc("POST /predictions/{id}/cancel", func(w http.ResponseWriter, r *http.Request) {
		f.cancels.Add(1)
		writeJSON(w, http.StatusOK, f.prediction(r.PathValue("id"), "canceled", nil))
	})

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

// prediction ids reuse the version so the fake needs no extra bookkeeping
func (f *fakeReplicate) prediction(version, status string, output any) map[string]any {
	p := map[string]any{
		"id":      version,
		"version": version,
		"status":  status,
		"urls": map[string]any{
			"get":    f.srv.URL + "/predictions/" + version,
			"cancel": f.srv.URL + "/predictions/" + version + "/cancel",
		},
	}
	if output != nil {
		p["output"] = output
	}
	if status == "failed" {
		p["error"] = "model exploded"
	}
	return p
}

func (f *fakeReplicate) result(version, status string, output any) {
	f.mu.Lock()
	f.results[version] = struct {
		status string
		output any
	}{status, output}
	f.mu.Unlock()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type recorded struct {
	mu    sync.Mutex
	calls []usage.Call
}

func (r *recorded) Track(_ context.Context, c usage.Call) (usage.Call, error) {
	r.mu.Lock()
	r.calls = append(r.calls, c)
	r.mu.Unlock()
	return c, nil
}

func testConfig(baseURL string) config.ReplicateConfig {
	return config.ReplicateConfig{
		APIToken:     "test-token",
		BaseURL:      baseURL,
		ImageModel:   "prunaai/flux-fast",
		TextModel:    "acme/flaky-llm",
		PremiumModel: "anthropic/claude-4.5-sonnet",
		VideoModel:   "kwaivgi/kling-v2.5-turbo-pro",
		SpeechModel:  "minimax/speech-02-hd",
		PollInterval: 5 * time.Millisecond,
		PollTimeout:  2 * time.Second,
		RetryBase:    5 * time.Millisecond,
		MaxRetries:   3,
	}
}

func TestGenerateImagePollsAndCachesVersion(t *testing.T) {
	f := newFake(t)
	f.pending = 2
	f.result("prunaai-flux-fast-v1", "succeeded", []string{"https://cdn.example/img-1.png", "https://cdn.example/img-2.png"})

	rec := &recorded{}
	client := New(testConfig(f.srv.URL), WithRecorder(rec))

	for i := 0; i < 2; i++ {
		url, err := client.GenerateImage(context.Background(), ImageRequest{Prompt: "a red mug"})
		require.NoError(t, err)
		assert.Equal(t, "https://cdn.example/img-1.png", url)
	}

	assert.Equal(t, int32(1), f.modelLookups.Load(), "version should be cached")
	require.Len(t, rec.calls, 2)
	assert.Equal(t, "replicate", rec.calls[0].Provider)
	assert.Equal(t, "prunaai/flux-fast", rec.calls[0].Model)
	assert.True(t, rec.calls[0].Success)

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Equal(t, "a red mug", f.createdInputs[0]["prompt"])
	assert.Equal(t, "1:1", f.createdInputs[0]["aspect_ratio"])
}

func TestExplicitVersionSkipsLookup(t *testing.T) {
	f := newFake(t)
	f.result("pinned", "succeeded", "https://cdn.example/a.mp3")
	client := New(testConfig(f.srv.URL))

	url, err := client.GenerateSpeech(context.Background(), SpeechRequest{Text: "hello", Model: "minimax/speech-02-hd:pinned"})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example/a.mp3", url)
	assert.Zero(t, f.modelLookups.Load())
}

func TestThrottledCreateIsRetried(t *testing.T) {
	f := newFake(t)
	f.throttle.Store(2)
	f.result("prunaai-flux-fast-v1", "succeeded", []string{"https://cdn.example/x.png"})
	client := New(testConfig(f.srv.URL))

	_, err := client.GenerateImage(context.Background(), ImageRequest{Prompt: "x"})
	require.NoError(t, err)
	assert.Equal(t, int32(3), f.creates.Load())
}

func TestThrottleExhaustsRetries(t *testing.T) {
	f := newFake(t)
	f.throttle.Store(10)
	cfg := testConfig(f.srv.URL)
	cfg.MaxRetries = 2
	client := New(cfg)

	_, err := client.GenerateImage(context.Background(), ImageRequest{Prompt: "x"})
	require.Error(t, err)
	assert.Equal(t, http.StatusTooManyRequests, apierr.StatusCode(err))
	assert.Equal(t, int32(3), f.creates.Load())
}

func TestPollTimeoutCancelsPrediction(t *testing.T) {
	f := newFake(t)
	f.pending = 1 << 30
	f.result("kwaivgi-kling-v2.5-turbo-pro-v1", "succeeded", "never")
	cfg := testConfig(f.srv.URL)
	cfg.PollTimeout = 40 * time.Millisecond
	client := New(cfg)

	_, err := client.GenerateVideo(context.Background(), VideoRequest{Prompt: "spin"})
	assert.ErrorIs(t, err, ErrPredictionTimeout)
	assert.Equal(t, int32(1), f.cancels.Load())
}

func TestFailedPrediction(t *testing.T) {
	f := newFake(t)
	f.result("prunaai-flux-fast-v1", "failed", nil)
	rec := &recorded{}
	client := New(testConfig(f.srv.URL), WithRecorder(rec))

	_, err := client.GenerateImage(context.Background(), ImageRequest{Prompt: "x"})
	assert.ErrorIs(t, err, ErrPredictionFailed)
	assert.ErrorContains(t, err, "model exploded")
	require.Len(t, rec.calls, 1)
	assert.False(t, rec.calls[0].Success)
}

func TestGenerateTextFallsBack(t *testing.T) {
	f := newFake(t)
	// acme/flaky-llm has no result registered, so creating it fails with 422
	f.result("meta-meta-llama-3-70b-instruct-v1", "succeeded", []string{"Hel", "lo", " there"})
	client := New(testConfig(f.srv.URL))

	text, err := client.GenerateText(context.Background(), TextRequest{Prompt: "greet", SystemPrompt: "be brief"})
	require.NoError(t, err)
	assert.Equal(t, "Hello there", text)

	f.mu.Lock()
	defer f.mu.Unlock()
	last := f.createdInputs[len(f.createdInputs)-1]
	assert.True(t, strings.HasPrefix(last["prompt"].(string), "System: be brief"))
}

func TestPremiumTextDoesNotFallBack(t *testing.T) {
	f := newFake(t)
	client := New(testConfig(f.srv.URL))

	_, err := client.GenerateText(context.Background(), TextRequest{Prompt: "x", Premium: true})
	require.Error(t, err)
	assert.Equal(t, http.StatusUnprocessableEntity, apierr.StatusCode(err))
}

func TestNotConfigured(t *testing.T) {
	client := New(config.ReplicateConfig{})
	_, err := client.GenerateImage(context.Background(), ImageRequest{Prompt: "x"})
	assert.True(t, errors.Is(err, apierr.ErrNotConfigured))
}

func TestOutputNormalisation(t *testing.T) {
	urls := map[string]string{
		`"https://a/1.png"`:                     "https://a/1.png",
		`["https://a/1.png","https://a/2.png"]`: "https://a/1.png",
		`[{"url":"https://a/3.png"}]`:           "https://a/3.png",
		`{"url":"https://a/4.png"}`:             "https://a/4.png",
		`[]`:                                    "",
		``:                                      "",
	}
	for raw, want := range urls {
		assert.Equal(t, want, FirstURL(json.RawMessage(raw)), raw)
	}

	assert.Equal(t, "abc", JoinText(json.RawMessage(`["a","b","c"]`)))
	assert.Equal(t, "plain", JoinText(json.RawMessage(`"plain"`)))
	assert.Equal(t, `{"k":1}`, JoinText(json.RawMessage(`{"k":1}`)))
}
