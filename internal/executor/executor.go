// Package executor runs batches of registered calls either in-process or on a
// set of remote workers, returning outcomes in submission order.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUnknownKind is reported for calls whose kind has no registered handler.
	ErrUnknownKind = errors.New("unknown call kind")
	// ErrTransport marks failures to reach or hear back from a remote worker.
	// Items failing this way are safe to re-run locally.
	ErrTransport = errors.New("worker transport failure")
)

// Call is one unit of work: a registered kind plus its JSON arguments.
type Call struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewCall marshals args into a Call of the given kind.
func NewCall(kind string, args any) (Call, error) {
	if args == nil {
		return Call{Kind: kind}, nil
	}
	payload, err := json.Marshal(args)
	if err != nil {
		return Call{}, fmt.Errorf("marshal %s payload: %w", kind, err)
	}
	return Call{Kind: kind, Payload: payload}, nil
}

// Outcome is the result of the call at Index in the submitted batch.
type Outcome struct {
	Index    int
	Output   json.RawMessage
	Err      error
	Worker   string
	Duration time.Duration
}

// OK reports whether the call succeeded.
func (o Outcome) OK() bool { return o.Err == nil }

// Decode unmarshals the output into v.
func (o Outcome) Decode(v any) error {
	if o.Err != nil {
		return o.Err
	}
	if len(o.Output) == 0 {
		return nil
	}
	return json.Unmarshal(o.Output, v)
}

type outcomeJSON struct {
	Index      int             `json:"index"`
	Output     json.RawMessage `json:"output,omitempty"`
	Error      string          `json:"error,omitempty"`
	Worker     string          `json:"worker,omitempty"`
	DurationMs int64           `json:"durationMs"`
}

// MarshalJSON renders the error as a string.
func (o Outcome) MarshalJSON() ([]byte, error) {
	out := outcomeJSON{
		Index:      o.Index,
		Output:     o.Output,
		Worker:     o.Worker,
		DurationMs: o.Duration.Milliseconds(),
	}
	if o.Err != nil {
		out.Error = o.Err.Error()
	}
	return json.Marshal(out)
}

// Options tune a single Execute call.
type Options struct {
	// MaxConcurrent caps in-flight calls; zero uses the executor default.
	MaxConcurrent int
	// Timeout bounds each call; zero means no per-call limit.
	Timeout time.Duration
	// Progress, when set, is invoked from worker goroutines as each call finishes.
	Progress func(Outcome)
}

// BatchExecutor runs calls and returns one outcome per call, in input order.
// A failing call never aborts its siblings; the returned error is reserved
// for failures of the batch as a whole.
type BatchExecutor interface {
	Name() string
	Execute(ctx context.Context, calls []Call, opts Options) ([]Outcome, error)
}

// RemoteError is a handler error reported by a worker.
type RemoteError struct {
	Worker  string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("worker %s: %s", e.Worker, e.Message)
}

func notify(opts Options, o Outcome) {
	if opts.Progress != nil {
		opts.Progress(o)
	}
}
