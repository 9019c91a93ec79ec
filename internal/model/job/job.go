package job

import (
	"encoding/json"
	"time"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

const (
	MinPriority     = 1
	MaxPriority     = 10
	DefaultPriority = 5
)

// Job is one unit of API-bound work tracked from submission to completion.
type Job struct {
	ID          string            `json:"id"`
	Kind        string            `json:"kind"`
	Source      string            `json:"source"`
	Description string            `json:"description,omitempty"`
	Status      Status            `json:"status"`
	Priority    int               `json:"priority"`
	Payload     json.RawMessage   `json:"payload,omitempty"`
	Result      json.RawMessage   `json:"result,omitempty"`
	Error       string            `json:"error,omitempty"`
	Progress    float64           `json:"progress"`
	Worker      string            `json:"worker,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
	StartedAt   *time.Time        `json:"startedAt,omitempty"`
	CompletedAt *time.Time        `json:"completedAt,omitempty"`
}

// Duration is the run time of a started job, measured to now while running.
func (j Job) Duration() time.Duration {
	if j.StartedAt == nil {
		return 0
	}
	end := time.Now()
	if j.CompletedAt != nil {
		end = *j.CompletedAt
	}
	return end.Sub(*j.StartedAt)
}

// MarshalJSON adds durationSeconds to the encoded job.
func (j Job) MarshalJSON() ([]byte, error) {
	type plain Job
	return json.Marshal(struct {
		plain
		DurationSeconds float64 `json:"durationSeconds"`
	}{plain(j), j.Duration().Seconds()})
}

// Clone returns a deep copy safe to hand to callers.
func (j Job) Clone() Job {
	out := j
	out.Payload = append(json.RawMessage(nil), j.Payload...)
	out.Result = append(json.RawMessage(nil), j.Result...)
	if j.Metadata != nil {
		out.Metadata = make(map[string]string, len(j.Metadata))
		for k, v := range j.Metadata {
			out.Metadata[k] = v
		}
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		out.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		out.CompletedAt = &t
	}
	return out
}

// Filter narrows List results. Empty fields match everything.
type Filter struct {
	Source string
	Status Status
	Kind   string
	Limit  int
}

// Match reports whether j passes the filter.
func (f Filter) Match(j Job) bool {
	if f.Source != "" && j.Source != f.Source {
		return false
	}
	if f.Status != "" && j.Status != f.Status {
		return false
	}
	if f.Kind != "" && j.Kind != f.Kind {
		return false
	}
	return true
}

// EventType names a job event.
type EventType string

const (
	EventSubmitted EventType = "submitted"
	EventStarted   EventType = "started"
	EventProgress  EventType = "progress"
	EventCompleted EventType = "completed"
	EventFailed    EventType = "failed"
	EventCancelled EventType = "cancelled"
)

// Event is published whenever a job changes.
type Event struct {
	Seq  uint64    `json:"seq"`
	Type EventType `json:"type"`
	Job  Job       `json:"job"`
	Note string    `json:"note,omitempty"`
	At   time.Time `json:"at"`
}
