package executor

import "encoding/json"

// Message types sent from the api process to a worker.
const (
	MessageRun    = "run"
	MessageCancel = "cancel"
)

// Request is a call dispatched to a worker over its job socket.
type Request struct {
	Type    string          `json:"type,omitempty"`
	ID      string          `json:"id"`
	Kind    string          `json:"kind,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Profile string          `json:"profile,omitempty"`
}

// Response answers a Request with the same id.
type Response struct {
	ID         string          `json:"id"`
	Output     json.RawMessage `json:"output,omitempty"`
	Error      string          `json:"error,omitempty"`
	Unknown    bool            `json:"unknownKind,omitempty"`
	Worker     string          `json:"worker,omitempty"`
	DurationMs int64           `json:"durationMs,omitempty"`
}
