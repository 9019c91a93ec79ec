package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type sleepArgs struct {
	N     int `json:"n"`
	Delay int `json:"delayMs"`
	Fail  bool
}

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	reg := NewRegistry()
	reg.MustRegister(Kind{
		Name: "test.echo",
		Handler: Typed(func(ctx context.Context, in sleepArgs) (int, error) {
			select {
			case <-time.After(time.Duration(in.Delay) * time.Millisecond):
			case <-ctx.Done():
				return 0, ctx.Err()
			}
			if in.Fail {
				return 0, fmt.Errorf("item %d failed", in.N)
			}
			return in.N * 10, nil
		}),
	})
	reg.MustRegister(Kind{
		Name: "test.panic",
		Handler: func(context.Context, json.RawMessage) (any, error) {
			panic("boom")
		},
	})
	return reg
}

func mustCall(t *testing.T, kind string, args any) Call {
	t.Helper()
	c, err := NewCall(kind, args)
	require.NoError(t, err)
	return c
}

func decodeInts(t *testing.T, outcomes []Outcome) []int {
	t.Helper()
	out := make([]int, len(outcomes))
	for i, o := range outcomes {
		require.NoError(t, o.Decode(&out[i]))
	}
	return out
}

func TestLocalPreservesSubmissionOrder(t *testing.T) {
	local := NewLocal(testRegistry(t), 4, nil)

	// later items finish first
	calls := []Call{
		mustCall(t, "test.echo", sleepArgs{N: 1, Delay: 40}),
		mustCall(t, "test.echo", sleepArgs{N: 2, Delay: 30}),
		mustCall(t, "test.echo", sleepArgs{N: 3, Delay: 20}),
		mustCall(t, "test.echo", sleepArgs{N: 4, Delay: 1}),
	}

	outcomes, err := local.Execute(context.Background(), calls, Options{})
	require.NoError(t, err)

	if diff := cmp.Diff([]int{10, 20, 30, 40}, decodeInts(t, outcomes)); diff != "" {
		t.Fatalf("outcomes out of order (-want +got):\n%s", diff)
	}
	for i, o := range outcomes {
		assert.Equal(t, i, o.Index)
		assert.Positive(t, o.Duration)
	}
}

func TestLocalRespectsConcurrencyCap(t *testing.T) {
	reg := NewRegistry()
	var inflight, peak atomic.Int32
	reg.MustRegister(Kind{
		Name: "test.track",
		Handler: func(context.Context, json.RawMessage) (any, error) {
			n := inflight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			inflight.Add(-1)
			return nil, nil
		},
	})

	local := NewLocal(reg, 8, nil)
	calls := make([]Call, 12)
	for i := range calls {
		calls[i] = Call{Kind: "test.track"}
	}

	_, err := local.Execute(context.Background(), calls, Options{MaxConcurrent: 2})
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestLocalPartialFailure(t *testing.T) {
	local := NewLocal(testRegistry(t), 2, nil)
	calls := []Call{
		mustCall(t, "test.echo", sleepArgs{N: 1}),
		mustCall(t, "test.echo", sleepArgs{N: 2, Fail: true}),
		{Kind: "test.missing"},
		{Kind: "test.panic"},
		mustCall(t, "test.echo", sleepArgs{N: 5}),
	}

	outcomes, err := local.Execute(context.Background(), calls, Options{})
	require.NoError(t, err)
	require.Len(t, outcomes, 5)

	assert.NoError(t, outcomes[0].Err)
	assert.EqualError(t, outcomes[1].Err, "item 2 failed")
	assert.ErrorIs(t, outcomes[2].Err, ErrUnknownKind)
	assert.ErrorContains(t, outcomes[3].Err, "panicked")
	assert.NoError(t, outcomes[4].Err)

	report := Summarize(outcomes)
	assert.Equal(t, 5, report.Total)
	assert.Equal(t, 2, report.Succeeded)
	assert.Equal(t, 3, report.Failed)
	assert.InDelta(t, 0.4, report.SuccessRatio, 1e-9)
	assert.True(t, report.PartialSuccess())
	assert.Equal(t, []int{1, 2, 3}, []int{report.Failures[0].Index, report.Failures[1].Index, report.Failures[2].Index})
}

func TestLocalPerCallTimeout(t *testing.T) {
	local := NewLocal(testRegistry(t), 2, nil)
	calls := []Call{
		mustCall(t, "test.echo", sleepArgs{N: 1, Delay: 500}),
		mustCall(t, "test.echo", sleepArgs{N: 2}),
	}

	outcomes, err := local.Execute(context.Background(), calls, Options{Timeout: 20 * time.Millisecond})
	require.NoError(t, err)
	assert.ErrorIs(t, outcomes[0].Err, context.DeadlineExceeded)
	assert.NoError(t, outcomes[1].Err)
}

func TestLocalCancelledContextMarksUnfinished(t *testing.T) {
	local := NewLocal(testRegistry(t), 1, nil)
	ctx, cancel := context.WithCancel(context.Background())

	calls := []Call{
		mustCall(t, "test.echo", sleepArgs{N: 1, Delay: 200}),
		mustCall(t, "test.echo", sleepArgs{N: 2}),
		mustCall(t, "test.echo", sleepArgs{N: 3}),
	}

	time.AfterFunc(20*time.Millisecond, cancel)
	outcomes, err := local.Execute(ctx, calls, Options{})
	require.NoError(t, err)
	for _, o := range outcomes {
		assert.True(t, errors.Is(o.Err, context.Canceled), "index %d: %v", o.Index, o.Err)
	}
}

func TestLocalEmptyBatch(t *testing.T) {
	outcomes, err := NewLocal(NewRegistry(), 0, nil).Execute(context.Background(), nil, Options{})
	require.NoError(t, err)
	assert.Empty(t, outcomes)
	assert.NotNil(t, outcomes)
}

func TestLocalProgressCallback(t *testing.T) {
	local := NewLocal(testRegistry(t), 3, nil)
	var mu sync.Mutex
	seen := map[int]bool{}

	calls := make([]Call, 5)
	for i := range calls {
		calls[i] = mustCall(t, "test.echo", sleepArgs{N: i})
	}
	_, err := local.Execute(context.Background(), calls, Options{Progress: func(o Outcome) {
		mu.Lock()
		seen[o.Index] = true
		mu.Unlock()
	}})
	require.NoError(t, err)
	assert.Len(t, seen, 5)
}

func TestOutcomeMarshalJSON(t *testing.T) {
	o := Outcome{Index: 2, Err: errors.New("nope"), Duration: 1500 * time.Millisecond}
	raw, err := o.MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"index":2,"error":"nope","durationMs":1500}`, string(raw))
}
