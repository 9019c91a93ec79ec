package main

import (
	"bytes"
	"context"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobiz/abp/backend/internal/config"
	"github.com/autobiz/abp/backend/internal/executor"
	"github.com/autobiz/abp/backend/internal/handler"
	"github.com/autobiz/abp/backend/internal/model/job"
	"github.com/autobiz/abp/backend/internal/model/usage"
	jobService "github.com/autobiz/abp/backend/internal/service/jobs"
	usageService "github.com/autobiz/abp/backend/internal/service/usage"
)

type echoArgs struct {
	Value string `json:"value"`
	Fail  bool   `json:"fail"`
}

func startBackend(t *testing.T) *httptest.Server {
	t.Helper()
	reg := executor.NewRegistry()
	reg.MustRegister(executor.Kind{
		Name:        "test.echo",
		Description: "Echo the value back",
		Handler: executor.Typed(func(ctx context.Context, in echoArgs) (string, error) {
			if in.Fail {
				return "", errors.New("echo refused")
			}
			time.Sleep(20 * time.Millisecond)
			return strings.ToUpper(in.Value), nil
		}),
	})
	exec := executor.NewLocal(reg, 2, nil)
	jobs, err := jobService.NewService(context.Background(), job.NewMemoryRepository(), exec, reg, jobService.Options{}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = jobs.Close(context.Background()) })

	tracker := usageService.NewTracker(usage.NewMemoryRepository(), config.UsageConfig{DailyBudget: 2, MonthlyBudget: 20}, nil)
	_, err = tracker.Track(context.Background(), usage.Call{Provider: "replicate", Model: "black-forest-labs/flux-schnell", Success: true})
	require.NoError(t, err)

	srv := httptest.NewServer(handler.NewRouter(handler.Deps{Jobs: jobs, Executor: exec, Registry: reg, Usage: tracker}))
	t.Cleanup(srv.Close)
	return srv
}

func runCLI(t *testing.T, srv *httptest.Server, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	root := newRootCmd()
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(append([]string{"--server", srv.URL}, args...))
	err := root.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func TestKinds(t *testing.T) {
	srv := startBackend(t)
	out, _, err := runCLI(t, srv, "kinds")
	require.NoError(t, err)
	assert.Contains(t, out, "executor: local")
	assert.Contains(t, out, "test.echo")
}

func TestSubmitAndWait(t *testing.T) {
	srv := startBackend(t)
	out, stderr, err := runCLI(t, srv, "jobs", "submit", "test.echo", "--payload", `{"value":"hi"}`, "--wait", "--wait-timeout", "10s")
	require.NoError(t, err)
	assert.Contains(t, stderr, "queued")
	assert.Contains(t, out, `"status": "completed"`)

	out, _, err = runCLI(t, srv, "jobs", "list", "--source", "cli")
	require.NoError(t, err)
	assert.Contains(t, out, "test.echo")
}

func TestSubmitRejectsBadPayload(t *testing.T) {
	srv := startBackend(t)
	_, _, err := runCLI(t, srv, "jobs", "submit", "test.echo", "--payload", `{nope`)
	require.Error(t, err)

	_, _, err = runCLI(t, srv, "jobs", "submit", "no.such.kind")
	require.Error(t, err)
}

func TestBatchRun(t *testing.T) {
	srv := startBackend(t)
	file := filepath.Join(t.TempDir(), "calls.json")
	require.NoError(t, os.WriteFile(file, []byte(`[
		{"kind":"test.echo","payload":{"value":"a"}},
		{"kind":"test.echo","payload":{"fail":true}}
	]`), 0o644))

	out, _, err := runCLI(t, srv, "batch", "run", file)
	require.NoError(t, err)
	assert.Contains(t, out, `"A"`)
	assert.Contains(t, out, "echo refused")
	assert.Contains(t, out, "local: 1/2 succeeded (50%)")
}

func TestUsage(t *testing.T) {
	srv := startBackend(t)
	out, _, err := runCLI(t, srv, "usage", "--period", "week")
	require.NoError(t, err)
	assert.Contains(t, out, "period week: 1 calls")
	assert.Contains(t, out, "replicate")
	assert.Contains(t, out, "daily")
}

func TestFeedURL(t *testing.T) {
	u, err := feedURL("https://api.example.com/", "j 1")
	require.NoError(t, err)
	assert.Equal(t, "wss://api.example.com/api/jobs/ws?job=j+1", u)
}
