package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobiz/abp/backend/internal/executor"
	"github.com/autobiz/abp/backend/internal/platform/workerauth"
)

type squareArgs struct {
	N       int `json:"n"`
	DelayMs int `json:"delayMs"`
}

func newRegistry() *executor.Registry {
	reg := executor.NewRegistry()
	reg.MustRegister(executor.Kind{
		Name: "math.square",
		Handler: executor.Typed(func(ctx context.Context, in squareArgs) (int, error) {
			select {
			case <-time.After(time.Duration(in.DelayMs) * time.Millisecond):
			case <-ctx.Done():
				return 0, ctx.Err()
			}
			if in.N < 0 {
				return 0, fmt.Errorf("negative input %d", in.N)
			}
			return in.N * in.N, nil
		}),
	})
	reg.MustRegister(executor.Kind{
		Name:      "local.state",
		LocalOnly: true,
		Handler: func(context.Context, json.RawMessage) (any, error) {
			return "local", nil
		},
	})
	return reg
}

func startWorker(t *testing.T, reg *executor.Registry, opts Options) string {
	t.Helper()
	srv := httptest.NewServer(New(reg, opts, nil).Routes())
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/jobs"
}

func square(t *testing.T, n, delay int) executor.Call {
	t.Helper()
	c, err := executor.NewCall("math.square", squareArgs{N: n, DelayMs: delay})
	require.NoError(t, err)
	return c
}

func TestDistributedRoundTripKeepsOrder(t *testing.T) {
	reg := newRegistry()
	endpoints := []string{
		startWorker(t, reg, Options{Name: "w1", CPUs: 4}),
		startWorker(t, reg, Options{Name: "w2", CPUs: 4}),
	}
	dist := executor.NewDistributed(reg, executor.DistributedOptions{Endpoints: endpoints, MaxConcurrent: 3}, nil)
	defer dist.Close()

	require.True(t, dist.Available(context.Background()))

	calls := []executor.Call{square(t, 1, 30), square(t, 2, 20), square(t, 3, 10), square(t, 4, 0), square(t, -1, 0)}
	outcomes, err := dist.Execute(context.Background(), calls, executor.Options{})
	require.NoError(t, err)
	require.Len(t, outcomes, 5)

	got := make([]int, 4)
	workers := map[string]bool{}
	for i := 0; i < 4; i++ {
		require.NoError(t, outcomes[i].Decode(&got[i]))
		workers[outcomes[i].Worker] = true
	}
	if diff := cmp.Diff([]int{1, 4, 9, 16}, got); diff != "" {
		t.Fatalf("unexpected outputs (-want +got):\n%s", diff)
	}
	assert.Len(t, workers, 2, "calls should be spread across both workers")

	var remote *executor.RemoteError
	require.ErrorAs(t, outcomes[4].Err, &remote)
	assert.Contains(t, remote.Message, "negative input")
	assert.False(t, errors.Is(outcomes[4].Err, executor.ErrTransport))
}

func TestDistributedCapsInFlightAndAlternatesWorkers(t *testing.T) {
	var inFlight, peak atomic.Int32
	reg := executor.NewRegistry()
	reg.MustRegister(executor.Kind{
		Name: "hold",
		Handler: func(ctx context.Context, _ json.RawMessage) (any, error) {
			n := inFlight.Add(1)
			defer inFlight.Add(-1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			select {
			case <-time.After(50 * time.Millisecond):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			return "ok", nil
		},
	})

	endpoints := []string{
		startWorker(t, reg, Options{Name: "w1", CPUs: 8}),
		startWorker(t, reg, Options{Name: "w2", CPUs: 8}),
	}
	dist := executor.NewDistributed(reg, executor.DistributedOptions{Endpoints: endpoints, MaxConcurrent: 8}, nil)
	defer dist.Close()

	calls := make([]executor.Call, 6)
	for i := range calls {
		calls[i] = executor.Call{Kind: "hold"}
	}
	outcomes, err := dist.Execute(context.Background(), calls, executor.Options{MaxConcurrent: 2})
	require.NoError(t, err)

	perWorker := map[string]int{}
	for _, o := range outcomes {
		require.NoError(t, o.Err)
		perWorker[o.Worker]++
	}
	if diff := cmp.Diff(map[string]int{"w1": 3, "w2": 3}, perWorker); diff != "" {
		t.Fatalf("unexpected spread (-want +got):\n%s", diff)
	}
	assert.Equal(t, int32(2), peak.Load(), "in-flight calls should reach but not pass the cap")
}

func TestDistributedLocalOnlyKindIsTransportFailure(t *testing.T) {
	reg := newRegistry()
	dist := executor.NewDistributed(reg, executor.DistributedOptions{
		Endpoints: []string{startWorker(t, reg, Options{CPUs: 1})},
	}, nil)
	defer dist.Close()

	outcomes, err := dist.Execute(context.Background(), []executor.Call{{Kind: "local.state"}, {Kind: "nope"}}, executor.Options{})
	require.NoError(t, err)
	assert.ErrorIs(t, outcomes[0].Err, executor.ErrTransport)
	assert.ErrorIs(t, outcomes[1].Err, executor.ErrUnknownKind)
}

func TestFallbackRunsLocallyWhenWorkersDown(t *testing.T) {
	reg := newRegistry()
	srv := httptest.NewServer(http.NotFoundHandler())
	endpoint := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/jobs"
	srv.Close()

	dist := executor.NewDistributed(reg, executor.DistributedOptions{
		Endpoints: []string{endpoint},
		Pool: executor.ConnectionPoolOptions{
			ConnectionTimeout: 200 * time.Millisecond,
			ReadTimeout:       time.Second,
			WriteTimeout:      time.Second,
			PingInterval:      time.Second,
			MaxRetries:        0,
		},
	}, nil)
	fb := executor.NewFallback(dist, executor.NewLocal(reg, 2, nil), nil)
	defer fb.Close()

	outcomes, err := fb.Execute(context.Background(), []executor.Call{square(t, 5, 0), {Kind: "local.state"}}, executor.Options{})
	require.NoError(t, err)

	var n int
	require.NoError(t, outcomes[0].Decode(&n))
	assert.Equal(t, 25, n)
	assert.NoError(t, outcomes[1].Err)
	assert.Equal(t, "local", fb.Active(context.Background()))
}

func TestFallbackRerunsLocalOnlyKinds(t *testing.T) {
	reg := newRegistry()
	dist := executor.NewDistributed(reg, executor.DistributedOptions{
		Endpoints: []string{startWorker(t, reg, Options{Name: "remote-1", CPUs: 2})},
	}, nil)
	fb := executor.NewFallback(dist, executor.NewLocal(reg, 2, nil), nil)
	defer fb.Close()

	outcomes, err := fb.Execute(context.Background(), []executor.Call{square(t, 3, 0), {Kind: "local.state"}}, executor.Options{})
	require.NoError(t, err)

	var s string
	require.NoError(t, outcomes[1].Decode(&s))
	assert.Equal(t, "local", s)
	assert.Equal(t, "remote-1", outcomes[0].Worker)
	assert.NotEqual(t, "remote-1", outcomes[1].Worker)
}

func TestCancellationReachesWorker(t *testing.T) {
	reg := newRegistry()
	dist := executor.NewDistributed(reg, executor.DistributedOptions{
		Endpoints: []string{startWorker(t, reg, Options{CPUs: 1})},
	}, nil)
	defer dist.Close()

	outcomes, err := dist.Execute(context.Background(), []executor.Call{square(t, 2, 2000)}, executor.Options{Timeout: 50 * time.Millisecond})
	require.NoError(t, err)
	assert.ErrorIs(t, outcomes[0].Err, context.DeadlineExceeded)
}

func TestJobSocketRequiresToken(t *testing.T) {
	reg := newRegistry()
	secret := []byte("shared")
	endpoint := startWorker(t, reg, Options{CPUs: 1, Secret: secret})

	noToken := executor.NewDistributed(reg, executor.DistributedOptions{Endpoints: []string{endpoint}}, nil)
	defer noToken.Close()
	assert.False(t, noToken.Available(context.Background()))

	issuer := workerauth.Issuer{Secret: secret, Node: "api"}
	withToken := executor.NewDistributed(reg, executor.DistributedOptions{Endpoints: []string{endpoint}, Header: issuer.Header}, nil)
	defer withToken.Close()
	require.True(t, withToken.Available(context.Background()))

	outcomes, err := withToken.Execute(context.Background(), []executor.Call{square(t, 6, 0)}, executor.Options{})
	require.NoError(t, err)
	var n int
	require.NoError(t, outcomes[0].Decode(&n))
	assert.Equal(t, 36, n)
}

func TestHealthz(t *testing.T) {
	srv := httptest.NewServer(New(newRegistry(), Options{Name: "w9", CPUs: 2.5}, nil).Routes())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	var health Health
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "w9", health.Name)
	assert.Equal(t, int64(2500), health.CapacityMilli)
	assert.Equal(t, []string{"math.square"}, health.Kinds)
}
