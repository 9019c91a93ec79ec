package executor

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Prober is implemented by executors that can report whether they are reachable.
type Prober interface {
	Available(ctx context.Context) bool
}

// Fallback prefers primary and falls back to secondary when primary is
// unreachable. Calls that failed in primary's transport are re-run on secondary;
// handler errors are kept as reported.
type Fallback struct {
	primary   BatchExecutor
	secondary BatchExecutor
	logger    *zap.Logger

	// RecheckAfter is how long an unavailable primary is skipped before probing again.
	RecheckAfter time.Duration

	mu        sync.Mutex
	downUntil time.Time
	now       func() time.Time
}

// NewFallback wraps primary with secondary as the fallback.
func NewFallback(primary, secondary BatchExecutor, logger *zap.Logger) *Fallback {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fallback{
		primary:      primary,
		secondary:    secondary,
		logger:       logger,
		RecheckAfter: 30 * time.Second,
		now:          time.Now,
	}
}

// Name implements BatchExecutor.
func (f *Fallback) Name() string {
	return f.primary.Name() + "+" + f.secondary.Name()
}

// Active returns the name of the executor the next batch would start on.
func (f *Fallback) Active(ctx context.Context) string {
	if f.primaryUsable(ctx) {
		return f.primary.Name()
	}
	return f.secondary.Name()
}

// Execute implements BatchExecutor.
func (f *Fallback) Execute(ctx context.Context, calls []Call, opts Options) ([]Outcome, error) {
	if len(calls) == 0 {
		return []Outcome{}, nil
	}
	if !f.primaryUsable(ctx) {
		return f.secondary.Execute(ctx, calls, opts)
	}

	// Progress for transport failures is withheld until the rerun finishes.
	primaryOpts := opts
	if opts.Progress != nil {
		primaryOpts.Progress = func(o Outcome) {
			if !errors.Is(o.Err, ErrTransport) {
				opts.Progress(o)
			}
		}
	}

	outcomes, err := f.primary.Execute(ctx, calls, primaryOpts)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		f.markDown()
		f.logger.Warn("distributed batch failed, running locally", zap.Error(err), zap.Int("calls", len(calls)))
		return f.secondary.Execute(ctx, calls, opts)
	}

	var retryIdx []int
	for i, o := range outcomes {
		if errors.Is(o.Err, ErrTransport) {
			retryIdx = append(retryIdx, i)
		}
	}
	if len(retryIdx) == 0 {
		return outcomes, nil
	}
	if len(retryIdx) == len(calls) {
		f.markDown()
	}

	f.logger.Warn("re-running calls locally after transport failures",
		zap.Int("calls", len(retryIdx)), zap.Int("batch", len(calls)))

	subset := make([]Call, len(retryIdx))
	for j, idx := range retryIdx {
		subset[j] = calls[idx]
	}

	subOpts := opts
	if opts.Progress != nil {
		subOpts.Progress = func(o Outcome) {
			o.Index = retryIdx[o.Index]
			opts.Progress(o)
		}
	}

	rerun, err := f.secondary.Execute(ctx, subset, subOpts)
	if err != nil {
		return outcomes, nil
	}
	for j, o := range rerun {
		o.Index = retryIdx[j]
		outcomes[retryIdx[j]] = o
	}
	return outcomes, nil
}

// Close closes wrapped executors that hold resources.
func (f *Fallback) Close() error {
	var errs []error
	for _, e := range []BatchExecutor{f.primary, f.secondary} {
		if c, ok := e.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}

func (f *Fallback) primaryUsable(ctx context.Context) bool {
	f.mu.Lock()
	down := f.now().Before(f.downUntil)
	f.mu.Unlock()
	if down {
		return false
	}

	p, ok := f.primary.(Prober)
	if !ok {
		return true
	}
	if p.Available(ctx) {
		return true
	}
	f.markDown()
	f.logger.Warn("distributed runtime unavailable, using local pool", zap.String("primary", f.primary.Name()))
	return false
}

func (f *Fallback) markDown() {
	f.mu.Lock()
	f.downUntil = f.now().Add(f.RecheckAfter)
	f.mu.Unlock()
}
