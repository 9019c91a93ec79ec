package usage

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/autobiz/abp/backend/internal/config"
	"github.com/autobiz/abp/backend/internal/logging"
	"github.com/autobiz/abp/backend/internal/model/usage"
)

var ErrUnknownPeriod = errors.New("period must be one of hour, day, week, month, all")

// Summary aggregates calls over a period.
type Summary struct {
	Period          string             `json:"period"`
	TotalCalls      int                `json:"totalCalls"`
	SuccessfulCalls int                `json:"successfulCalls"`
	FailedCalls     int                `json:"failedCalls"`
	TotalCost       float64            `json:"totalCost"`
	AvgLatencyMs    float64            `json:"avgLatencyMs"`
	CallsByProvider map[string]int     `json:"callsByProvider"`
	CostByProvider  map[string]float64 `json:"costByProvider"`
	CallsByModel    map[string]int     `json:"callsByModel"`
	CostByModel     map[string]float64 `json:"costByModel"`
}

// BudgetLine is the spend against one budget window.
type BudgetLine struct {
	Spent       float64 `json:"spent"`
	Budget      float64 `json:"budget"`
	Remaining   float64 `json:"remaining"`
	PercentUsed float64 `json:"percentUsed"`
	OverBudget  bool    `json:"overBudget"`
	NearLimit   bool    `json:"nearLimit"`
}

// BudgetStatus covers the daily and monthly windows.
type BudgetStatus struct {
	Daily   BudgetLine `json:"daily"`
	Monthly BudgetLine `json:"monthly"`
}

// ModelUsage is one leaderboard row.
type ModelUsage struct {
	Model     string  `json:"model"`
	FullModel string  `json:"fullModel"`
	Calls     int     `json:"calls"`
	Cost      float64 `json:"cost"`
}

// HourBucket is one hour of usage.
type HourBucket struct {
	Hour  time.Time `json:"hour"`
	Calls int       `json:"calls"`
	Cost  float64   `json:"cost"`
}

// Tracker records outbound API calls and answers cost questions about them.
type Tracker struct {
	repo   usage.Repository
	costs  CostTable
	budget config.UsageConfig
	now    func() time.Time
	logger *zap.Logger
}

var _ usage.Recorder = (*Tracker)(nil)

// NewTracker builds a tracker over repo with the default cost table.
func NewTracker(repo usage.Repository, budget config.UsageConfig, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if budget.AlertThreshold <= 0 || budget.AlertThreshold > 1 {
		budget.AlertThreshold = 0.8
	}
	return &Tracker{repo: repo, costs: DefaultCosts(), budget: budget, now: time.Now, logger: logger}
}

// Track prices and stores a call. A storage failure is logged and returned.
func (t *Tracker) Track(ctx context.Context, c usage.Call) (usage.Call, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.At.IsZero() {
		c.At = t.now().UTC()
	}
	c.Cost = t.costs.Estimate(c.Provider, c.Model)

	if err := t.repo.Record(ctx, c); err != nil {
		logging.FromContext(ctx).Warn("usage record failed",
			zap.String("provider", c.Provider), zap.String("model", c.Model), zap.Error(err))
		return c, err
	}
	return c, nil
}

// EstimateCost exposes the price table.
func (t *Tracker) EstimateCost(provider, model string) float64 {
	return t.costs.Estimate(provider, model)
}

func (t *Tracker) cutoff(period string) (time.Time, error) {
	now := t.now()
	switch period {
	case "hour":
		return now.Add(-time.Hour), nil
	case "", "day":
		return now.Add(-24 * time.Hour), nil
	case "week":
		return now.Add(-7 * 24 * time.Hour), nil
	case "month":
		return now.Add(-30 * 24 * time.Hour), nil
	case "all":
		return time.Time{}, nil
	default:
		return time.Time{}, ErrUnknownPeriod
	}
}

// Summary aggregates calls for hour, day, week, month (30 days) or all.
func (t *Tracker) Summary(ctx context.Context, period string) (Summary, error) {
	since, err := t.cutoff(period)
	if err != nil {
		return Summary{}, err
	}
	if period == "" {
		period = "day"
	}
	calls, err := t.repo.Since(ctx, since)
	if err != nil {
		return Summary{}, err
	}

	s := Summary{
		Period:          period,
		CallsByProvider: map[string]int{},
		CostByProvider:  map[string]float64{},
		CallsByModel:    map[string]int{},
		CostByModel:     map[string]float64{},
	}
	var latency int64
	for _, c := range calls {
		s.TotalCalls++
		s.TotalCost += c.Cost
		if c.Success {
			s.SuccessfulCalls++
		} else {
			s.FailedCalls++
		}
		latency += c.DurationMs
		s.CallsByProvider[c.Provider]++
		s.CostByProvider[c.Provider] += c.Cost
		s.CallsByModel[c.Model]++
		s.CostByModel[c.Model] += c.Cost
	}
	if s.TotalCalls > 0 {
		s.AvgLatencyMs = float64(latency) / float64(s.TotalCalls)
	}
	return s, nil
}

// Recent returns the latest calls, newest first.
func (t *Tracker) Recent(ctx context.Context, limit int) ([]usage.Call, error) {
	if limit <= 0 {
		limit = 50
	}
	return t.repo.Recent(ctx, limit)
}

// Budget compares the last day and the last 30 days against the budgets.
func (t *Tracker) Budget(ctx context.Context) (BudgetStatus, error) {
	day, err := t.Summary(ctx, "day")
	if err != nil {
		return BudgetStatus{}, err
	}
	month, err := t.Summary(ctx, "month")
	if err != nil {
		return BudgetStatus{}, err
	}
	status := BudgetStatus{
		Daily:   t.line(day.TotalCost, t.budget.DailyBudget),
		Monthly: t.line(month.TotalCost, t.budget.MonthlyBudget),
	}
	if status.Daily.NearLimit || status.Monthly.NearLimit {
		t.logger.Warn("api spend near budget",
			zap.Float64("daily_spent", status.Daily.Spent),
			zap.Float64("monthly_spent", status.Monthly.Spent))
	}
	return status, nil
}

func (t *Tracker) line(spent, budget float64) BudgetLine {
	l := BudgetLine{Spent: spent, Budget: budget, Remaining: max(0, budget-spent)}
	if budget > 0 {
		l.PercentUsed = spent / budget * 100
	}
	l.OverBudget = spent > budget
	l.NearLimit = spent > budget*t.budget.AlertThreshold
	return l
}

// Leaderboard ranks models by cost over the last 30 days.
func (t *Tracker) Leaderboard(ctx context.Context, limit int) ([]ModelUsage, error) {
	month, err := t.Summary(ctx, "month")
	if err != nil {
		return nil, err
	}
	out := make([]ModelUsage, 0, len(month.CallsByModel))
	for model, calls := range month.CallsByModel {
		short := model
		if i := strings.LastIndex(model, "/"); i >= 0 {
			short = model[i+1:]
		}
		out = append(out, ModelUsage{Model: short, FullModel: model, Calls: calls, Cost: month.CostByModel[model]})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Cost != out[j].Cost {
			return out[i].Cost > out[j].Cost
		}
		return out[i].FullModel < out[j].FullModel
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Hourly buckets the last n hours, oldest first, with empty hours filled in.
func (t *Tracker) Hourly(ctx context.Context, hours int) ([]HourBucket, error) {
	if hours <= 0 {
		hours = 24
	}
	now := t.now().UTC()
	start := now.Truncate(time.Hour).Add(-time.Duration(hours-1) * time.Hour)
	calls, err := t.repo.Since(ctx, start)
	if err != nil {
		return nil, err
	}

	out := make([]HourBucket, hours)
	for i := range out {
		out[i].Hour = start.Add(time.Duration(i) * time.Hour)
	}
	for _, c := range calls {
		i := int(c.At.UTC().Sub(start) / time.Hour)
		if i < 0 || i >= hours {
			continue
		}
		out[i].Calls++
		out[i].Cost += c.Cost
	}
	return out, nil
}

// Suggestions returns cost hints based on the last week.
func (t *Tracker) Suggestions(ctx context.Context) ([]string, error) {
	week, err := t.Summary(ctx, "week")
	if err != nil {
		return nil, err
	}
	var out []string
	models := make([]string, 0, len(week.CostByModel))
	for m := range week.CostByModel {
		models = append(models, m)
	}
	sort.Strings(models)
	for _, m := range models {
		cost := week.CostByModel[m]
		if cost <= 5 {
			continue
		}
		if strings.Contains(m, "flux-1.1-pro") || strings.Contains(m, "flux-pro") {
			out = append(out, fmt.Sprintf("spent $%.2f on %s this week; flux-schnell is about 90%% cheaper for drafts", cost, m))
		}
		if strings.Contains(m, "claude") {
			out = append(out, fmt.Sprintf("spent $%.2f on %s this week; route simple copy to the default text model", cost, m))
		}
		if strings.Contains(m, "video") || strings.Contains(m, "kling") {
			out = append(out, fmt.Sprintf("spent $%.2f on %s this week; preview with still images before rendering video", cost, m))
		}
	}
	if week.TotalCalls > 10 {
		if rate := float64(week.FailedCalls) / float64(week.TotalCalls); rate > 0.1 {
			out = append(out, fmt.Sprintf("%.0f%% of API calls failed this week; check prompts and provider errors", rate*100))
		}
	}
	return out, nil
}

// ExportCSV writes every tracked call as CSV.
func (t *Tracker) ExportCSV(ctx context.Context, w io.Writer) error {
	calls, err := t.repo.Since(ctx, time.Time{})
	if err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"timestamp", "provider", "model", "operation", "cost", "duration_ms", "success", "error"}); err != nil {
		return err
	}
	for _, c := range calls {
		if err := cw.Write([]string{
			c.At.UTC().Format(time.RFC3339),
			c.Provider,
			c.Model,
			c.Operation,
			strconv.FormatFloat(c.Cost, 'f', 4, 64),
			strconv.FormatInt(c.DurationMs, 10),
			strconv.FormatBool(c.Success),
			c.Error,
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
