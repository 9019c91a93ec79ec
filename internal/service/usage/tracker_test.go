package usage

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobiz/abp/backend/internal/config"
	"github.com/autobiz/abp/backend/internal/model/usage"
)

func TestEstimateCost(t *testing.T) {
	costs := DefaultCosts()
	cases := []struct {
		provider, model string
		want            float64
	}{
		{"replicate", "black-forest-labs/flux-schnell", 0.003},
		{"replicate", "black-forest-labs/flux-1.1-pro:abcdef", 0.04},
		{"replicate", "flux-dev", 0.025},
		{"replicate", "someone/unknown-model", 0.01},
		{"replicate", "", 0.01},
		{"printify", "products.json", 0},
		{"elsewhere", "thing", 0.01},
	}
	for _, tc := range cases {
		assert.InDelta(t, tc.want, costs.Estimate(tc.provider, tc.model), 1e-9, "%s/%s", tc.provider, tc.model)
	}
}

func newTracker(now time.Time) *Tracker {
	tr := NewTracker(usage.NewMemoryRepository(), config.UsageConfig{DailyBudget: 1, MonthlyBudget: 10, AlertThreshold: 0.8}, nil)
	tr.now = func() time.Time { return now }
	return tr
}

func TestSummaryByPeriod(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tr := newTracker(now)
	ctx := context.Background()

	track := func(model string, ago time.Duration, ok bool, ms int64) {
		_, err := tr.Track(ctx, usage.Call{Provider: "replicate", Model: model, Success: ok, DurationMs: ms, At: now.Add(-ago)})
		require.NoError(t, err)
	}
	track("black-forest-labs/flux-schnell", 10*time.Minute, true, 100)
	track("black-forest-labs/flux-schnell", 2*time.Hour, false, 300)
	track("minimax/video-01", 3*24*time.Hour, true, 1000)
	track("minimax/video-01", 40*24*time.Hour, true, 1000)

	hour, err := tr.Summary(ctx, "hour")
	require.NoError(t, err)
	assert.Equal(t, 1, hour.TotalCalls)

	day, err := tr.Summary(ctx, "day")
	require.NoError(t, err)
	assert.Equal(t, 2, day.TotalCalls)
	assert.Equal(t, 1, day.FailedCalls)
	assert.InDelta(t, 0.006, day.TotalCost, 1e-9)
	assert.InDelta(t, 200, day.AvgLatencyMs, 1e-9)

	week, err := tr.Summary(ctx, "week")
	require.NoError(t, err)
	assert.Equal(t, 3, week.TotalCalls)
	assert.Equal(t, 1, week.CallsByModel["minimax/video-01"])

	all, err := tr.Summary(ctx, "all")
	require.NoError(t, err)
	assert.Equal(t, 4, all.TotalCalls)
	assert.InDelta(t, 0.506, all.CostByProvider["replicate"], 1e-9)

	_, err = tr.Summary(ctx, "fortnight")
	assert.ErrorIs(t, err, ErrUnknownPeriod)
}

func TestBudgetNearLimit(t *testing.T) {
	now := time.Now().UTC()
	tr := newTracker(now)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := tr.Track(ctx, usage.Call{Provider: "replicate", Model: "minimax/video-01", Success: true, At: now.Add(-time.Minute)})
		require.NoError(t, err)
	}

	b, err := tr.Budget(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 0.75, b.Daily.Spent, 1e-9)
	assert.InDelta(t, 0.25, b.Daily.Remaining, 1e-9)
	assert.InDelta(t, 75, b.Daily.PercentUsed, 1e-9)
	assert.False(t, b.Daily.NearLimit)
	assert.False(t, b.Monthly.NearLimit)

	_, err = tr.Track(ctx, usage.Call{Provider: "replicate", Model: "minimax/video-01", Success: true, At: now})
	require.NoError(t, err)
	b, err = tr.Budget(ctx)
	require.NoError(t, err)
	assert.True(t, b.Daily.NearLimit)
	assert.False(t, b.Daily.OverBudget)
}

func TestRecentLeaderboardAndHourly(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)
	tr := newTracker(now)
	ctx := context.Background()

	models := []string{"black-forest-labs/flux-schnell", "minimax/video-01", "black-forest-labs/flux-schnell"}
	for i, m := range models {
		_, err := tr.Track(ctx, usage.Call{Provider: "replicate", Model: m, Success: true, At: now.Add(-time.Duration(len(models)-i) * time.Hour)})
		require.NoError(t, err)
	}

	recent, err := tr.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "black-forest-labs/flux-schnell", recent[0].Model)
	assert.Equal(t, "minimax/video-01", recent[1].Model)

	board, err := tr.Leaderboard(ctx, 10)
	require.NoError(t, err)
	require.Len(t, board, 2)
	assert.Equal(t, "video-01", board[0].Model)
	assert.Equal(t, 2, board[1].Calls)

	hourly, err := tr.Hourly(ctx, 6)
	require.NoError(t, err)
	require.Len(t, hourly, 6)
	total := 0
	for _, b := range hourly {
		total += b.Calls
	}
	assert.Equal(t, 3, total)
	assert.Equal(t, time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC), hourly[5].Hour)
}

func TestExportCSV(t *testing.T) {
	tr := newTracker(time.Now())
	_, err := tr.Track(context.Background(), usage.Call{Provider: "shopify", Model: "products", Success: true, DurationMs: 42})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, tr.ExportCSV(context.Background(), &buf))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "timestamp,provider,model"))
	assert.Contains(t, lines[1], "shopify,products,,0.0000,42,true,")
}
