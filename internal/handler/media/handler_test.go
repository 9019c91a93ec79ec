package media

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/autobiz/abp/backend/internal/model/job"
	"github.com/autobiz/abp/backend/internal/model/media"
	jobService "github.com/autobiz/abp/backend/internal/service/jobs"
	"github.com/autobiz/abp/backend/internal/service/tasks"
)

type fakeSubmitter struct {
	reqs []jobService.SubmitRequest
}

func (f *fakeSubmitter) Submit(_ context.Context, req jobService.SubmitRequest) (job.Job, error) {
	if req.Priority > job.MaxPriority {
		return job.Job{}, jobService.ErrInvalidPriority
	}
	f.reqs = append(f.reqs, req)
	return job.Job{ID: "job-1", Kind: req.Kind, Status: job.StatusQueued}, nil
}

func setupRouter() (*chi.Mux, *fakeSubmitter) {
	sub := &fakeSubmitter{}
	r := chi.NewRouter()
	New(sub).RegisterRoutes(r)
	return r, sub
}

func post(r http.Handler, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func TestImageQueued(t *testing.T) {
	r, sub := setupRouter()
	resp := post(r, "/media/image?priority=8", `{"prompt":"a neon mug","save":true,"brandTemplate":"luxury_premium"}`)

	if resp.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", resp.Code, resp.Body.String())
	}
	if len(sub.reqs) != 1 {
		t.Fatalf("expected one submission, got %d", len(sub.reqs))
	}
	got := sub.reqs[0]
	if got.Kind != media.KindImage || got.Source != "media" || got.Priority != 8 {
		t.Fatalf("unexpected submission %+v", got)
	}
	var payload media.ImageRequest
	if err := json.Unmarshal(got.Payload, &payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if !payload.Save || payload.BrandTemplate != "luxury_premium" {
		t.Fatalf("delivery options lost: %+v", payload)
	}
}

func TestMediaValidation(t *testing.T) {
	r, sub := setupRouter()
	cases := map[string]struct {
		path, body string
		want       int
	}{
		"empty prompt":   {"/media/image", `{"prompt":"  "}`, http.StatusBadRequest},
		"unknown kind":   {"/media/hologram", `{}`, http.StatusNotFound},
		"video no input": {"/media/video", `{}`, http.StatusBadRequest},
		"speech no text": {"/media/speech", `{"voice":"af"}`, http.StatusBadRequest},
		"bad json":       {"/media/text", `{`, http.StatusBadRequest},
		"bad priority":   {"/media/text?priority=99", `{"prompt":"x"}`, http.StatusBadRequest},
		"product no art": {"/products", `{"title":"Mug"}`, http.StatusBadRequest},
		"blog no title":  {"/blog-posts", `{"topic":"spring"}`, http.StatusBadRequest},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			resp := post(r, tc.path, tc.body)
			if resp.Code != tc.want {
				t.Fatalf("expected %d, got %d: %s", tc.want, resp.Code, resp.Body.String())
			}
		})
	}
	if len(sub.reqs) != 0 {
		t.Fatalf("invalid requests must not be queued, got %d", len(sub.reqs))
	}
}

func TestProductAndBlogQueued(t *testing.T) {
	r, sub := setupRouter()
	if resp := post(r, "/products", `{"title":"Neon Mug","prompt":"neon skyline","shopify":true}`); resp.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.Code)
	}
	if resp := post(r, "/blog-posts", `{"title":"New drop"}`); resp.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.Code)
	}
	if sub.reqs[0].Kind != tasks.KindProduct || sub.reqs[1].Kind != tasks.KindBlog {
		t.Fatalf("unexpected kinds %s, %s", sub.reqs[0].Kind, sub.reqs[1].Kind)
	}
}
