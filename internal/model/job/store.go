package job

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// ErrNotFound is returned by repositories for unknown ids.
var ErrNotFound = errors.New("job not found")

// Repository persists job records.
type Repository interface {
	Save(ctx context.Context, j Job) error
	Get(ctx context.Context, id string) (Job, error)
	// List returns matching jobs newest first.
	List(ctx context.Context, f Filter) ([]Job, error)
	// FailInterrupted marks jobs left running by a previous process as failed.
	FailInterrupted(ctx context.Context, reason string) (int, error)
}

// MemoryRepository implements Repository in process memory.
type MemoryRepository struct {
	mu   sync.RWMutex
	jobs map[string]Job
}

// NewMemoryRepository returns an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{jobs: make(map[string]Job)}
}

// Save inserts or replaces a job.
func (r *MemoryRepository) Save(_ context.Context, j Job) error {
	r.mu.Lock()
	r.jobs[j.ID] = j.Clone()
	r.mu.Unlock()
	return nil
}

// Get looks up a job by id.
func (r *MemoryRepository) Get(_ context.Context, id string) (Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.jobs[id]
	if !ok {
		return Job{}, ErrNotFound
	}
	return j.Clone(), nil
}

// List returns matching jobs newest first.
func (r *MemoryRepository) List(_ context.Context, f Filter) ([]Job, error) {
	r.mu.RLock()
	out := make([]Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		if f.Match(j) {
			out = append(out, j.Clone())
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, k int) bool {
		if out[i].CreatedAt.Equal(out[k].CreatedAt) {
			return out[i].ID > out[k].ID
		}
		return out[i].CreatedAt.After(out[k].CreatedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// FailInterrupted is a no-op for memory: nothing survives a restart.
func (r *MemoryRepository) FailInterrupted(context.Context, string) (int, error) {
	return 0, nil
}
