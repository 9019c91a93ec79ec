package executor

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/autobiz/abp/backend/internal/telemetry"
)

// DistributedOptions configures a Distributed executor.
type DistributedOptions struct {
	Endpoints     []string
	MaxConcurrent int
	Pool          ConnectionPoolOptions
	Header        HeaderFunc
}

// Distributed sends calls to remote workers over WebSocket, spreading them
// round-robin across the configured endpoints.
type Distributed struct {
	registry  *Registry
	endpoints []string
	maxConc   int
	pool      *ConnectionPool
	logger    *zap.Logger
	next      atomic.Uint64
}

// NewDistributed creates a distributed executor. No connection is made until
// the first Available or Execute call.
func NewDistributed(registry *Registry, opts DistributedOptions, logger *zap.Logger) *Distributed {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxConcurrent < 1 {
		opts.MaxConcurrent = DefaultLocalWorkers
	}
	if opts.Pool == (ConnectionPoolOptions{}) {
		opts.Pool = DefaultConnectionPoolOptions()
	}
	return &Distributed{
		registry:  registry,
		endpoints: append([]string(nil), opts.Endpoints...),
		maxConc:   opts.MaxConcurrent,
		pool:      NewConnectionPool(opts.Pool, opts.Header, logger),
		logger:    logger,
	}
}

// Name implements BatchExecutor.
func (d *Distributed) Name() string { return "distributed" }

// Endpoints returns the configured worker URLs.
func (d *Distributed) Endpoints() []string {
	return append([]string(nil), d.endpoints...)
}

// Available reports whether at least one worker accepts a connection.
func (d *Distributed) Available(ctx context.Context) bool {
	for _, endpoint := range d.endpoints {
		if _, err := d.pool.get(ctx, endpoint); err == nil {
			return true
		}
	}
	return false
}

// Close releases all worker connections.
func (d *Distributed) Close() error {
	d.pool.CloseAll()
	return nil
}

// Execute implements BatchExecutor. All calls are in flight concurrently up to
// the concurrency cap; outcomes are returned in submission order.
func (d *Distributed) Execute(ctx context.Context, calls []Call, opts Options) ([]Outcome, error) {
	outcomes := make([]Outcome, len(calls))
	if len(calls) == 0 {
		return outcomes, nil
	}
	if len(d.endpoints) == 0 {
		return nil, fmt.Errorf("%w: no worker endpoints configured", ErrTransport)
	}

	limit := d.maxConc
	if opts.MaxConcurrent > 0 {
		limit = opts.MaxConcurrent
	}

	ctx, span := telemetry.Tracer().Start(ctx, "executor.distributed.batch")
	span.SetAttributes(attribute.Int("batch.size", len(calls)), attribute.Int("batch.limit", limit))
	defer span.End()

	var g errgroup.Group
	g.SetLimit(limit)
	for i, call := range calls {
		g.Go(func() error {
			outcomes[i] = d.dispatch(ctx, i, call, opts.Timeout)
			notify(opts, outcomes[i])
			return nil
		})
	}
	_ = g.Wait()
	return outcomes, nil
}

func (d *Distributed) dispatch(ctx context.Context, index int, call Call, timeout time.Duration) Outcome {
	start := time.Now()
	out := d.prepare(ctx, index, call, timeout)
	out.Duration = time.Since(start)
	return out
}

func (d *Distributed) prepare(ctx context.Context, index int, call Call, timeout time.Duration) Outcome {
	out := Outcome{Index: index}
	if err := ctx.Err(); err != nil {
		out.Err = err
		return out
	}

	kind, ok := d.registry.Lookup(call.Kind)
	if !ok {
		out.Err = fmt.Errorf("%w: %q", ErrUnknownKind, call.Kind)
		return out
	}
	if kind.LocalOnly {
		out.Err = fmt.Errorf("%w: kind %q runs in-process only", ErrTransport, call.Kind)
		return out
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	return d.send(ctx, out, Request{
		Type:    MessageRun,
		ID:      uuid.NewString(),
		Kind:    call.Kind,
		Payload: call.Payload,
		Profile: kind.Profile.Name,
	})
}

// slot maps a round-robin counter onto [0, size) without going negative when
// the counter wraps.
func slot(counter uint64, size int) int {
	return int(counter % uint64(size))
}

// send tries each endpoint once, starting at the next round-robin slot, until
// one accepts the request.
func (d *Distributed) send(ctx context.Context, out Outcome, req Request) Outcome {
	first := slot(d.next.Add(1)-1, len(d.endpoints))
	var lastErr error

	for n := 0; n < len(d.endpoints); n++ {
		endpoint := d.endpoints[(first+n)%len(d.endpoints)]

		wc, err := d.pool.get(ctx, endpoint)
		if err != nil {
			if ctx.Err() != nil {
				out.Err = ctx.Err()
				return out
			}
			lastErr = err
			continue
		}

		resp, err := wc.call(ctx, req)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				out.Err = err
				return out
			}
			// the request may already be running remotely, so it is not resent to another worker
			d.pool.Remove(endpoint)
			d.logger.Warn("worker call failed", zap.String("endpoint", endpoint), zap.String("kind", req.Kind), zap.Error(err))
			out.Worker = endpoint
			out.Err = fmt.Errorf("%w: %v", ErrTransport, err)
			return out
		}

		out.Worker = resp.Worker
		if out.Worker == "" {
			out.Worker = endpoint
		}
		switch {
		case resp.Unknown:
			out.Err = fmt.Errorf("%w: worker %s has no handler for %q", ErrTransport, out.Worker, req.Kind)
		case resp.Error != "":
			out.Err = &RemoteError{Worker: out.Worker, Message: resp.Error}
		default:
			out.Output = resp.Output
		}
		return out
	}

	out.Err = fmt.Errorf("%w: %v", ErrTransport, lastErr)
	return out
}
