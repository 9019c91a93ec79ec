package jobs

import (
	"container/heap"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/autobiz/abp/backend/internal/executor"
	"github.com/autobiz/abp/backend/internal/logging"
	"github.com/autobiz/abp/backend/internal/model/job"
	"github.com/autobiz/abp/backend/internal/telemetry"
)

var (
	ErrKindRequired    = errors.New("job kind is required")
	ErrUnknownKind     = errors.New("unknown job kind")
	ErrInvalidPriority = errors.New("priority must be between 1 and 10")
	ErrJobNotFound     = job.ErrNotFound
	ErrNotFinished     = errors.New("job has not finished")
	ErrAlreadyFinished = errors.New("job already finished")
	ErrClosed          = errors.New("job service is closed")
)

// DefaultMaxConcurrent bounds how many jobs run at once.
const DefaultMaxConcurrent = 10

const subscriberBuffer = 64

// Options tunes the job service.
type Options struct {
	MaxConcurrent int
	// Timeout bounds a single job run. Zero means no limit.
	Timeout time.Duration
}

// SubmitRequest describes a new job.
type SubmitRequest struct {
	Kind        string            `json:"kind"`
	Source      string            `json:"source,omitempty"`
	Description string            `json:"description,omitempty"`
	Priority    int               `json:"priority,omitempty"`
	Payload     json.RawMessage   `json:"payload,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Stats is a point-in-time view of the queue.
type Stats struct {
	Queued        int    `json:"queued"`
	Running       int    `json:"running"`
	MaxConcurrent int    `json:"maxConcurrent"`
	Executor      string `json:"executor"`
}

type subscriber struct {
	jobID string
	ch    chan job.Event
}

// Service queues jobs by priority and runs each as a one-call batch on the
// configured executor.
type Service struct {
	repo     job.Repository
	exec     executor.BatchExecutor
	registry *executor.Registry
	opts     Options
	logger   *zap.Logger

	mu       sync.Mutex
	queue    priorityQueue
	queued   map[string]*queueItem
	running  map[string]context.CancelFunc
	subs     map[int]*subscriber
	nextSub  int
	seq      uint64
	enqueued uint64
	closed   bool

	wake   chan struct{}
	base   context.Context
	stop   context.CancelFunc
	wg     sync.WaitGroup
	loopWG sync.WaitGroup
}

// NewService fails jobs a previous process left running, re-queues the ones
// it left queued and starts the dispatcher.
func NewService(ctx context.Context, repo job.Repository, exec executor.BatchExecutor, registry *executor.Registry, opts Options, logger *zap.Logger) (*Service, error) {
	if opts.MaxConcurrent < 1 {
		opts.MaxConcurrent = DefaultMaxConcurrent
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	base, stop := context.WithCancel(context.WithoutCancel(ctx))
	s := &Service{
		repo:     repo,
		exec:     exec,
		registry: registry,
		opts:     opts,
		logger:   logger,
		queued:   make(map[string]*queueItem),
		running:  make(map[string]context.CancelFunc),
		subs:     make(map[int]*subscriber),
		wake:     make(chan struct{}, 1),
		base:     base,
		stop:     stop,
	}

	n, err := repo.FailInterrupted(ctx, "interrupted: server restarted while running")
	if err != nil {
		stop()
		return nil, fmt.Errorf("recover interrupted jobs: %w", err)
	}
	if n > 0 {
		logger.Warn("marked interrupted jobs as failed", zap.Int("count", n))
	}

	pending, err := repo.List(ctx, job.Filter{Status: job.StatusQueued})
	if err != nil {
		stop()
		return nil, fmt.Errorf("load queued jobs: %w", err)
	}
	// List is newest first; re-enqueue oldest first to keep FIFO order.
	for i := len(pending) - 1; i >= 0; i-- {
		s.enqueue(pending[i])
	}

	s.loopWG.Add(1)
	go s.dispatch()
	s.signal()
	return s, nil
}

// Submit validates and queues a job.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (job.Job, error) {
	if req.Kind == "" {
		return job.Job{}, ErrKindRequired
	}
	if _, ok := s.registry.Lookup(req.Kind); !ok {
		return job.Job{}, fmt.Errorf("%w: %s", ErrUnknownKind, req.Kind)
	}
	if req.Priority == 0 {
		req.Priority = job.DefaultPriority
	}
	if req.Priority < job.MinPriority || req.Priority > job.MaxPriority {
		return job.Job{}, ErrInvalidPriority
	}
	if req.Source == "" {
		req.Source = "api"
	}

	j := job.Job{
		ID:          uuid.NewString(),
		Kind:        req.Kind,
		Source:      req.Source,
		Description: req.Description,
		Status:      job.StatusQueued,
		Priority:    req.Priority,
		Payload:     req.Payload,
		Metadata:    req.Metadata,
		CreatedAt:   time.Now().UTC(),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return job.Job{}, ErrClosed
	}
	if err := s.repo.Save(ctx, j); err != nil {
		s.mu.Unlock()
		return job.Job{}, fmt.Errorf("save job: %w", err)
	}
	s.enqueue(j)
	s.publish(job.EventSubmitted, j, "")
	s.mu.Unlock()

	logging.FromContext(ctx).Info("job submitted",
		zap.String("job", j.ID), zap.String("kind", j.Kind), zap.Int("priority", j.Priority))
	s.signal()
	return j, nil
}

// Get returns a job by id.
func (s *Service) Get(ctx context.Context, id string) (job.Job, error) {
	return s.repo.Get(ctx, id)
}

// List returns jobs matching f, newest first.
func (s *Service) List(ctx context.Context, f job.Filter) ([]job.Job, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, fmt.Errorf("unknown status %q", f.Status)
	}
	return s.repo.List(ctx, f)
}

// Result returns the output of a completed job. Failed and cancelled jobs
// return their error; unfinished jobs return ErrNotFinished.
func (s *Service) Result(ctx context.Context, id string) (json.RawMessage, error) {
	j, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch j.Status {
	case job.StatusCompleted:
		return j.Result, nil
	case job.StatusFailed:
		return nil, fmt.Errorf("job failed: %s", j.Error)
	case job.StatusCancelled:
		return nil, fmt.Errorf("job cancelled")
	default:
		return nil, ErrNotFinished
	}
}

// Cancel stops a job. A queued job never starts; a running job has its
// context cancelled and is reported cancelled right away.
func (s *Service) Cancel(ctx context.Context, id string) (job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, err := s.repo.Get(ctx, id)
	if err != nil {
		return job.Job{}, err
	}
	if j.Status.Terminal() {
		return j, ErrAlreadyFinished
	}

	if item, ok := s.queued[id]; ok {
		s.queue.remove(item)
		delete(s.queued, id)
	}
	if cancel, ok := s.running[id]; ok {
		cancel()
	}

	now := time.Now().UTC()
	j.Status = job.StatusCancelled
	j.CompletedAt = &now
	if err := s.repo.Save(ctx, j); err != nil {
		return job.Job{}, fmt.Errorf("save job: %w", err)
	}
	s.publish(job.EventCancelled, j, "")
	return j, nil
}

// Wait blocks until the job reaches a terminal state or ctx ends.
func (s *Service) Wait(ctx context.Context, id string) (job.Job, error) {
	events, unsubscribe := s.Subscribe(id)
	defer unsubscribe()

	j, err := s.repo.Get(ctx, id)
	if err != nil {
		return job.Job{}, err
	}
	for !j.Status.Terminal() {
		select {
		case <-ctx.Done():
			return j, ctx.Err()
		case evt, ok := <-events:
			if !ok {
				return s.repo.Get(ctx, id)
			}
			j = evt.Job
		}
	}
	return j, nil
}

// Subscribe streams events for one job, or for all jobs when jobID is empty.
// Slow subscribers miss events rather than block the queue.
func (s *Service) Subscribe(jobID string) (<-chan job.Event, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan job.Event, subscriberBuffer)
	if s.closed {
		close(ch)
		return ch, func() {}
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = &subscriber{jobID: jobID, ch: ch}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			if sub, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(sub.ch)
			}
			s.mu.Unlock()
		})
	}
}

// Stats reports queue depth and active runs.
func (s *Service) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Queued:        s.queue.Len(),
		Running:       len(s.running),
		MaxConcurrent: s.opts.MaxConcurrent,
		Executor:      s.exec.Name(),
	}
}

// Close stops dispatching, cancels running jobs and waits for them to
// settle. Queued jobs stay queued in the repository.
func (s *Service) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.stop()
	s.loopWG.Wait()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}

	s.mu.Lock()
	for id, sub := range s.subs {
		delete(s.subs, id)
		close(sub.ch)
	}
	s.mu.Unlock()
	return err
}

func (s *Service) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// enqueue must be called with mu held or before the dispatcher starts.
func (s *Service) enqueue(j job.Job) {
	s.enqueued++
	item := &queueItem{id: j.ID, priority: j.Priority, seq: s.enqueued}
	heap.Push(&s.queue, item)
	s.queued[j.ID] = item
}

func (s *Service) dispatch() {
	defer s.loopWG.Done()
	for {
		s.startReady()
		select {
		case <-s.base.Done():
			return
		case <-s.wake:
		}
	}
}

func (s *Service) startReady() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for !s.closed && s.queue.Len() > 0 && len(s.running) < s.opts.MaxConcurrent {
		item := heap.Pop(&s.queue).(*queueItem)
		delete(s.queued, item.id)

		ctx, cancel := context.WithCancel(s.base)
		s.running[item.id] = cancel
		s.wg.Add(1)
		go s.run(ctx, item.id)
	}
}

func (s *Service) run(ctx context.Context, id string) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		if cancel, ok := s.running[id]; ok {
			cancel()
			delete(s.running, id)
		}
		s.mu.Unlock()
		s.signal()
	}()

	j, ok := s.transition(id, job.EventStarted, "", func(j *job.Job) bool {
		if j.Status != job.StatusQueued {
			return false
		}
		now := time.Now().UTC()
		j.Status = job.StatusRunning
		j.StartedAt = &now
		return true
	})
	if !ok {
		return
	}

	logger := s.logger.With(zap.String("job", id), zap.String("kind", j.Kind))
	ctx = logging.WithLogger(ctx, logger)
	ctx = executor.WithProgress(ctx, func(fraction float64, note string) {
		s.transition(id, job.EventProgress, note, func(j *job.Job) bool {
			if j.Status != job.StatusRunning {
				return false
			}
			j.Progress = fraction
			return true
		})
	})

	ctx, span := telemetry.Tracer().Start(ctx, "jobs.run")
	span.SetAttributes(
		attribute.String("job.id", id),
		attribute.String("job.kind", j.Kind),
		attribute.Int("job.priority", j.Priority),
	)
	defer span.End()

	logger.Info("job started", zap.String("executor", s.exec.Name()))
	outcome := s.execute(ctx, j)

	aborted := ctx.Err() != nil
	closing := s.isClosed()
	s.transition(id, "", "", func(j *job.Job) bool {
		if j.Status.Terminal() {
			return false
		}
		now := time.Now().UTC()
		j.CompletedAt = &now
		j.Worker = outcome.Worker
		switch {
		case outcome.Err == nil:
			j.Status = job.StatusCompleted
			j.Result = outcome.Output
			j.Progress = 1
		case aborted && closing:
			j.Status = job.StatusFailed
			j.Error = "interrupted: server shutting down"
		default:
			j.Status = job.StatusFailed
			j.Error = outcome.Err.Error()
		}
		return true
	})

	if outcome.Err != nil {
		span.RecordError(outcome.Err)
		span.SetStatus(codes.Error, outcome.Err.Error())
		if !aborted {
			logger.Warn("job failed", zap.Error(outcome.Err), zap.Duration("duration", outcome.Duration))
		}
		return
	}
	logger.Info("job completed", zap.String("worker", outcome.Worker), zap.Duration("duration", outcome.Duration))
}

func (s *Service) execute(ctx context.Context, j job.Job) executor.Outcome {
	call := executor.Call{Kind: j.Kind, Payload: j.Payload}
	outcomes, err := s.exec.Execute(ctx, []executor.Call{call}, executor.Options{MaxConcurrent: 1, Timeout: s.opts.Timeout})
	if err != nil {
		return executor.Outcome{Err: err}
	}
	if len(outcomes) != 1 {
		return executor.Outcome{Err: fmt.Errorf("executor returned %d outcomes for 1 call", len(outcomes))}
	}
	return outcomes[0]
}

func (s *Service) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// transition applies mutate to the stored job under the service lock and
// publishes evt when mutate reports a change. An empty evt is derived from
// the resulting status.
func (s *Service) transition(id string, evt job.EventType, note string, mutate func(*job.Job) bool) (job.Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx := context.WithoutCancel(s.base)
	j, err := s.repo.Get(ctx, id)
	if err != nil {
		s.logger.Error("load job", zap.String("job", id), zap.Error(err))
		return job.Job{}, false
	}
	if !mutate(&j) {
		return j, false
	}
	if err := s.repo.Save(ctx, j); err != nil {
		s.logger.Error("save job", zap.String("job", id), zap.Error(err))
		return j, false
	}
	if evt == "" {
		evt = eventFor(j.Status)
	}
	s.publish(evt, j, note)
	return j, true
}

func eventFor(st job.Status) job.EventType {
	switch st {
	case job.StatusCompleted:
		return job.EventCompleted
	case job.StatusFailed:
		return job.EventFailed
	case job.StatusCancelled:
		return job.EventCancelled
	case job.StatusRunning:
		return job.EventStarted
	default:
		return job.EventSubmitted
	}
}

// publish must be called with mu held.
func (s *Service) publish(t job.EventType, j job.Job, note string) {
	s.seq++
	evt := job.Event{Seq: s.seq, Type: t, Job: j.Clone(), Note: note, At: time.Now().UTC()}
	for _, sub := range s.subs {
		if sub.jobID != "" && sub.jobID != j.ID {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			s.logger.Debug("dropping job event for slow subscriber", zap.String("job", j.ID), zap.Uint64("seq", evt.Seq))
		}
	}
}
