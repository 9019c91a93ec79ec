package sqlite

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobiz/abp/backend/internal/model/job"
	"github.com/autobiz/abp/backend/internal/model/usage"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "nested", "abp.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open("  ")
	assert.Error(t, err)
}

func TestJobRoundTrip(t *testing.T) {
	repo := openTemp(t).Jobs()
	ctx := context.Background()

	created := time.Date(2025, 3, 1, 10, 0, 0, 123, time.UTC)
	started := created.Add(time.Second)
	in := job.Job{
		ID:          "j1",
		Kind:        "media.image",
		Source:      "campaigns",
		Description: "hero shot",
		Status:      job.StatusRunning,
		Priority:    7,
		Payload:     json.RawMessage(`{"prompt":"cat"}`),
		Progress:    0.25,
		Metadata:    map[string]string{"campaign": "spring"},
		CreatedAt:   created,
		StartedAt:   &started,
	}
	require.NoError(t, repo.Save(ctx, in))

	got, err := repo.Get(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, in.Kind, got.Kind)
	assert.Equal(t, in.Metadata, got.Metadata)
	assert.JSONEq(t, string(in.Payload), string(got.Payload))
	assert.True(t, got.CreatedAt.Equal(created))
	require.NotNil(t, got.StartedAt)
	assert.True(t, got.StartedAt.Equal(started))
	assert.Nil(t, got.CompletedAt)
	assert.Nil(t, got.Result)

	in.Status = job.StatusCompleted
	in.Result = json.RawMessage(`"done"`)
	require.NoError(t, repo.Save(ctx, in))
	got, err = repo.Get(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, job.StatusCompleted, got.Status)
	assert.JSONEq(t, `"done"`, string(got.Result))

	_, err = repo.Get(ctx, "missing")
	assert.ErrorIs(t, err, job.ErrNotFound)
}

func TestJobListOrderAndFilter(t *testing.T) {
	repo := openTemp(t).Jobs()
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, src := range []string{"cli", "api", "cli"} {
		require.NoError(t, repo.Save(ctx, job.Job{
			ID:        string(rune('a' + i)),
			Kind:      "media.text",
			Source:    src,
			Status:    job.StatusQueued,
			Priority:  5,
			CreatedAt: base.Add(time.Duration(i) * 500 * time.Millisecond),
		}))
	}

	all, err := repo.List(ctx, job.Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"c", "b", "a"}, []string{all[0].ID, all[1].ID, all[2].ID})

	cli, err := repo.List(ctx, job.Filter{Source: "cli", Limit: 1})
	require.NoError(t, err)
	require.Len(t, cli, 1)
	assert.Equal(t, "c", cli[0].ID)
}

func TestFailInterrupted(t *testing.T) {
	repo := openTemp(t).Jobs()
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, repo.Save(ctx, job.Job{ID: "run", Kind: "k", Source: "api", Status: job.StatusRunning, Priority: 5, CreatedAt: now, StartedAt: &now}))
	require.NoError(t, repo.Save(ctx, job.Job{ID: "queued", Kind: "k", Source: "api", Status: job.StatusQueued, Priority: 5, CreatedAt: now}))

	n, err := repo.FailInterrupted(ctx, "interrupted")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := repo.Get(ctx, "run")
	require.NoError(t, err)
	assert.Equal(t, job.StatusFailed, got.Status)
	assert.Equal(t, "interrupted", got.Error)
	assert.NotNil(t, got.CompletedAt)

	got, err = repo.Get(ctx, "queued")
	require.NoError(t, err)
	assert.Equal(t, job.StatusQueued, got.Status)
}

func TestUsageSinceAndRecent(t *testing.T) {
	repo := openTemp(t).Usage()
	ctx := context.Background()
	now := time.Now().UTC()

	for i, model := range []string{"old", "mid", "new"} {
		require.NoError(t, repo.Record(ctx, usage.Call{
			Provider:   "replicate",
			Model:      model,
			Cost:       0.01,
			Success:    i != 1,
			DurationMs: int64(i * 100),
			At:         now.Add(time.Duration(i-2) * time.Hour),
		}))
	}

	since, err := repo.Since(ctx, now.Add(-90*time.Minute))
	require.NoError(t, err)
	require.Len(t, since, 2)
	assert.Equal(t, "mid", since[0].Model)
	assert.False(t, since[0].Success)
	assert.NotEmpty(t, since[0].ID)

	recent, err := repo.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, []string{"new", "mid"}, []string{recent[0].Model, recent[1].Model})
}

func TestInMemoryDatabase(t *testing.T) {
	store, err := Open(":memory:")
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Usage().Record(context.Background(), usage.Call{Provider: "printify", Model: "shops"}))
	all, err := store.Usage().Since(context.Background(), time.Time{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
