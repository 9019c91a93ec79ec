package usage

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Call is one outbound API request as seen by the usage tracker.
type Call struct {
	ID         string    `json:"id"`
	Provider   string    `json:"provider"`
	Model      string    `json:"model"`
	Operation  string    `json:"operation,omitempty"`
	Cost       float64   `json:"cost"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
	DurationMs int64     `json:"durationMs"`
	JobID      string    `json:"jobId,omitempty"`
	At         time.Time `json:"at"`
}

// Repository stores tracked calls.
type Repository interface {
	Record(ctx context.Context, c Call) error
	// Since returns calls at or after t, oldest first. A zero t means all.
	Since(ctx context.Context, t time.Time) ([]Call, error)
	// Recent returns the latest calls, newest first.
	Recent(ctx context.Context, limit int) ([]Call, error)
}

// MemoryRepository keeps calls in process memory.
type MemoryRepository struct {
	mu    sync.RWMutex
	calls []Call
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func (r *MemoryRepository) Record(_ context.Context, c Call) error {
	r.mu.Lock()
	r.calls = append(r.calls, c)
	r.mu.Unlock()
	return nil
}

func (r *MemoryRepository) Since(_ context.Context, t time.Time) ([]Call, error) {
	r.mu.RLock()
	out := make([]Call, 0, len(r.calls))
	for _, c := range r.calls {
		if !c.At.Before(t) {
			out = append(out, c)
		}
	}
	r.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out, nil
}

func (r *MemoryRepository) Recent(ctx context.Context, limit int) ([]Call, error) {
	all, _ := r.Since(ctx, time.Time{})
	out := make([]Call, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		out = append(out, all[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// Recorder is implemented by the usage tracker; provider clients report
// every outbound call through it.
type Recorder interface {
	Track(ctx context.Context, c Call) (Call, error)
}

// NopRecorder drops calls.
type NopRecorder struct{}

func (NopRecorder) Track(_ context.Context, c Call) (Call, error) { return c, nil }
