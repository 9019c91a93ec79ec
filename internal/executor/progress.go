package executor

import "context"

type progressKey struct{}

// ProgressFunc receives a completion fraction in [0,1] and a short note.
type ProgressFunc func(fraction float64, note string)

// WithProgress attaches a progress sink that handlers can report to.
func WithProgress(ctx context.Context, fn ProgressFunc) context.Context {
	return context.WithValue(ctx, progressKey{}, fn)
}

// ReportProgress forwards to the sink in ctx, if any. Calls running on a
// remote worker have no sink and report nothing.
func ReportProgress(ctx context.Context, fraction float64, note string) {
	fn, ok := ctx.Value(progressKey{}).(ProgressFunc)
	if !ok || fn == nil {
		return
	}
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	fn(fraction, note)
}
