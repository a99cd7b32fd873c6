package model

import "time"

// Kind identifies the type of experiment workload.
type Kind string

// Experiment kinds.
const (
	KindTrafficJob   Kind = "traffic-job"
	KindNetworkDelay Kind = "network-delay"
)

// Status is the lifecycle state of an experiment, or a response-only outcome.
type Status string

// Stored experiment statuses.
const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusStopped   Status = "stopped"
)

// Response-only statuses. These are returned to callers but never stored.
const (
	StatusStarted  Status = "started"
	StatusNotFound Status = "not_found"
	StatusError    Status = "error"
)

// ErrorKind classifies why an experiment or an operation on it failed.
// Callers branch on the kind; the raw runtime error is only logged.
type ErrorKind string

// Error kinds.
const (
	ErrorKindNone               ErrorKind = ""
	ErrorKindImageUnavailable   ErrorKind = "image_unavailable"
	ErrorKindCreateFailed       ErrorKind = "create_failed"
	ErrorKindStartFailed        ErrorKind = "start_failed"
	ErrorKindRuntimeUnavailable ErrorKind = "runtime_unavailable"
	ErrorKindStopFailed         ErrorKind = "stop_failed"
	ErrorKindNonzeroExit        ErrorKind = "nonzero_exit"
)

// validTransitions maps each status to the set of statuses it may transition to.
var validTransitions = map[Status]map[Status]bool{
	StatusActive: {
		StatusCompleted: true,
		StatusFailed:    true,
		StatusStopped:   true,
	},
}

// ValidTransition reports whether transitioning from one status to another is allowed.
func ValidTransition(from, to Status) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// Terminal reports whether s is a final stored status.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusStopped
}

// TrafficTarget holds the parameters of a load-generation job.
type TrafficTarget struct {
	URL       string `json:"target_url"`
	RPS       int    `json:"rps"`
	DurationS int    `json:"duration_s"`
	MaxVUs    int    `json:"max_vus"`
}

// DelayTarget holds the parameters of a network-delay injection.
type DelayTarget struct {
	ContainerName string `json:"container_name"`
	DelayMS       int    `json:"delay_ms"`
	JitterMS      int    `json:"jitter_ms"`
	DurationS     int    `json:"duration_s"`
}

// Experiment is the tracked lifecycle state of one launched workload.
// Values published in the registry are never mutated; use Clone before
// changing anything.
type Experiment struct {
	ID            string         `json:"id"`
	Kind          Kind           `json:"kind"`
	Status        Status         `json:"status"`
	Traffic       *TrafficTarget `json:"traffic,omitempty"`
	Delay         *DelayTarget   `json:"network_delay,omitempty"`
	ContainerID   string         `json:"container_id"`
	StartedAt     time.Time      `json:"started_at"`
	ExpiresAt     *time.Time     `json:"expires_at,omitempty"`
	FinishedAt    *time.Time     `json:"finished_at,omitempty"`
	ExitCode      *int           `json:"exit_code,omitempty"`
	ErrorKind     ErrorKind      `json:"error_kind,omitempty"`
	Error         string         `json:"error,omitempty"`
	StopRequested bool           `json:"-"`
}

// Clone returns a deep copy of e.
func (e *Experiment) Clone() *Experiment {
	if e == nil {
		return nil
	}
	c := *e
	if e.Traffic != nil {
		t := *e.Traffic
		c.Traffic = &t
	}
	if e.Delay != nil {
		d := *e.Delay
		c.Delay = &d
	}
	if e.ExpiresAt != nil {
		t := *e.ExpiresAt
		c.ExpiresAt = &t
	}
	if e.FinishedAt != nil {
		t := *e.FinishedAt
		c.FinishedAt = &t
	}
	if e.ExitCode != nil {
		code := *e.ExitCode
		c.ExitCode = &code
	}
	return &c
}

// Expired reports whether e carries a TTL that has elapsed at now.
func (e *Experiment) Expired(now time.Time) bool {
	return e.ExpiresAt != nil && e.ExpiresAt.Before(now)
}

// Event sources.
const (
	SourceLaunch  = "launch"
	SourceMonitor = "monitor"
	SourceStop    = "stop"
	SourceSweeper = "sweeper"
)

// Event records one lifecycle transition of an experiment.
type Event struct {
	ID           int64     `json:"id,omitempty"`
	ExperimentID string    `json:"experiment_id"`
	Kind         Kind      `json:"kind"`
	From         Status    `json:"from,omitempty"`
	To           Status    `json:"to"`
	Source       string    `json:"source"`
	ErrorKind    ErrorKind `json:"error_kind,omitempty"`
	Detail       string    `json:"detail,omitempty"`
	At           time.Time `json:"at"`
}
