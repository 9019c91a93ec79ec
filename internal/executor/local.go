package executor

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/autobiz/abp/backend/internal/telemetry"
)

// DefaultLocalWorkers caps the in-process pool when nothing else is configured.
const DefaultLocalWorkers = 4

// Local runs calls on a bounded pool of goroutines inside the current process.
type Local struct {
	registry *Registry
	workers  int
	logger   *zap.Logger
	host     string
}

// NewLocal creates an in-process executor with at most workers goroutines.
func NewLocal(registry *Registry, workers int, logger *zap.Logger) *Local {
	if workers < 1 {
		workers = DefaultLocalWorkers
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	host, _ := os.Hostname()
	if host == "" {
		host = "local"
	}
	return &Local{registry: registry, workers: workers, logger: logger, host: host}
}

// Name implements BatchExecutor.
func (l *Local) Name() string { return "local" }

// Workers returns the pool size.
func (l *Local) Workers() int { return l.workers }

// Execute implements BatchExecutor. Outcomes land at their input index as
// calls complete, so the result parallels calls regardless of finish order.
func (l *Local) Execute(ctx context.Context, calls []Call, opts Options) ([]Outcome, error) {
	outcomes := make([]Outcome, len(calls))
	if len(calls) == 0 {
		return outcomes, nil
	}

	limit := l.workers
	if opts.MaxConcurrent > 0 && opts.MaxConcurrent < limit {
		limit = opts.MaxConcurrent
	}

	ctx, span := telemetry.Tracer().Start(ctx, "executor.local.batch")
	span.SetAttributes(attribute.Int("batch.size", len(calls)), attribute.Int("batch.limit", limit))
	defer span.End()

	var g errgroup.Group
	g.SetLimit(limit)
	for i, call := range calls {
		g.Go(func() error {
			outcomes[i] = l.run(ctx, i, call, opts.Timeout)
			notify(opts, outcomes[i])
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, o := range outcomes {
		if o.Err != nil {
			failed++
		}
	}
	if failed > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d of %d calls failed", failed, len(calls)))
	}
	l.logger.Debug("local batch finished", zap.Int("calls", len(calls)), zap.Int("failed", failed))
	return outcomes, nil
}

// RunOne executes a single call synchronously with the same semantics as a
// one-element batch.
func (l *Local) RunOne(ctx context.Context, call Call, timeout time.Duration) Outcome {
	return l.run(ctx, 0, call, timeout)
}

func (l *Local) run(ctx context.Context, index int, call Call, timeout time.Duration) (out Outcome) {
	start := time.Now()
	out = Outcome{Index: index, Worker: l.host}
	defer func() {
		if r := recover(); r != nil {
			out.Err = fmt.Errorf("%s panicked: %v", call.Kind, r)
			l.logger.Error("call panicked", zap.String("kind", call.Kind), zap.Any("panic", r))
		}
		out.Duration = time.Since(start)
	}()

	if err := ctx.Err(); err != nil {
		out.Err = err
		return out
	}

	callCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	output, err := l.registry.Invoke(callCtx, call)
	if err != nil {
		out.Err = err
		return out
	}
	out.Output = output
	return out
}
