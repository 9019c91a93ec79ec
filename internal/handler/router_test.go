package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobiz/abp/backend/internal/executor"
	"github.com/autobiz/abp/backend/internal/model/job"
	jobService "github.com/autobiz/abp/backend/internal/service/jobs"
	"github.com/autobiz/abp/backend/internal/service/library"
)

func newDeps(t *testing.T) Deps {
	t.Helper()
	reg := executor.NewRegistry()
	exec := executor.NewLocal(reg, 1, nil)
	svc, err := jobService.NewService(context.Background(), job.NewMemoryRepository(), exec, reg, jobService.Options{}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close(context.Background()) })

	lib, err := library.NewService(t.TempDir(), nil)
	require.NoError(t, err)

	return Deps{
		Jobs:         svc,
		Executor:     exec,
		Registry:     reg,
		Library:      lib,
		Integrations: map[string]bool{"replicate": true, "printify": false},
	}
}

func get(h http.Handler, path string) *httptest.ResponseRecorder {
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, path, nil))
	return resp
}

func TestHealth(t *testing.T) {
	d := newDeps(t)
	resp := get(NewRouter(d), "/api/health")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `"executor":"local"`)

	d.Ping = func(context.Context) error { return errors.New("disk full") }
	resp = get(NewRouter(d), "/api/health")
	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)
	assert.Contains(t, resp.Body.String(), "disk full")
}

func TestIntegrationsAndCORS(t *testing.T) {
	resp := get(NewRouter(newDeps(t)), "/api/integrations")
	require.Equal(t, http.StatusOK, resp.Code)
	var got map[string]bool
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &got))
	assert.True(t, got["replicate"])
	assert.False(t, got["printify"])
	assert.Equal(t, "*", resp.Header().Get("Access-Control-Allow-Origin"))
}

func TestDocsListsMountedRoutes(t *testing.T) {
	resp := get(NewRouter(newDeps(t)), "/docs")
	require.Equal(t, http.StatusOK, resp.Code)

	var routes []routeInfo
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &routes))
	seen := map[string]bool{}
	for _, rt := range routes {
		seen[rt.Method+" "+rt.Path] = true
	}
	for _, want := range []string{
		"POST /api/jobs",
		"GET /api/jobs/{id}/events",
		"POST /api/batches",
		"POST /api/media/{kind}",
		"POST /api/campaigns",
		"GET /api/files",
	} {
		assert.True(t, seen[want], "missing %s", want)
	}
	assert.False(t, seen["GET /api/usage"], "usage routes need a tracker")
}
