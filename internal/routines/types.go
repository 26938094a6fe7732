// Package routines implements the persisted job scheduler: one-shot "at"
// jobs, fixed-interval "every" jobs, and cron-expression jobs, each
// dispatching either a synthetic system event or an agent turn.
package routines

import "time"

// ScheduleKind selects how a Routine's next run is computed.
type ScheduleKind string

const (
	ScheduleAt    ScheduleKind = "at"
	ScheduleEvery ScheduleKind = "every"
	ScheduleCron  ScheduleKind = "cron"
)

// Schedule is the trigger definition for a Routine.
type Schedule struct {
	Kind ScheduleKind `json:"kind"`

	// At is a one-shot fire time, used when Kind == ScheduleAt.
	At time.Time `json:"at,omitempty"`

	// Every is a fixed interval, used when Kind == ScheduleEvery.
	Every time.Duration `json:"every,omitempty"`

	// Expr is a standard 5-field cron expression, used when Kind == ScheduleCron.
	Expr string `json:"expr,omitempty"`
	TZ   string `json:"tz,omitempty"`
}

// PayloadKind selects what happens when a Routine fires.
type PayloadKind string

const (
	PayloadSystemEvent PayloadKind = "system_event"
	PayloadAgentTurn   PayloadKind = "agent_turn"
)

// Scope distinguishes routines a user scheduled from routines the team
// seeds automatically for its own upkeep.
type Scope string

const (
	ScopeUser   Scope = "user"
	ScopeSystem Scope = "system"
)

// Payload is what to do when a Routine fires.
type Payload struct {
	Kind PayloadKind `json:"kind"`

	Message string `json:"message,omitempty"`

	Deliver bool   `json:"deliver,omitempty"`
	Channel string `json:"channel,omitempty"`
	To      string `json:"to,omitempty"`

	Scope    Scope             `json:"scope,omitempty"`
	Routine  string            `json:"routine,omitempty"` // e.g. "team_check_in", "room_pulse", "bot_focus"
	Bot      string            `json:"bot,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// RunStatus is the outcome of a Routine's last firing.
type RunStatus string

const (
	RunOK      RunStatus = "ok"
	RunError   RunStatus = "error"
	RunSkipped RunStatus = "skipped"
)

// State is the mutable runtime state tracked alongside a Routine.
type State struct {
	NextRunAt time.Time `json:"next_run_at,omitempty"`
	LastRunAt time.Time `json:"last_run_at,omitempty"`
	LastError string    `json:"last_error,omitempty"`
	LastStatus RunStatus `json:"last_status,omitempty"`
}

// Routine is one scheduled job.
type Routine struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Enabled         bool      `json:"enabled"`
	Schedule        Schedule  `json:"schedule"`
	Payload         Payload   `json:"payload"`
	State           State     `json:"state"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
	DeleteAfterRun  bool      `json:"delete_after_run,omitempty"`
}

// Store is the on-disk persisted document: a version tag plus the job list.
type Store struct {
	Version int       `json:"version"`
	Jobs    []Routine `json:"jobs"`
}

// Dispatcher delivers a fired Routine's payload to the rest of the system.
// The scheduler calls this outside any lock; an agent_turn payload is
// expected to route into the coordinator/bus, a system_event payload into
// whatever synthetic-event sink the composition root wires up.
type Dispatcher interface {
	Dispatch(r Routine) error
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(r Routine) error

func (f DispatcherFunc) Dispatch(r Routine) error { return f(r) }
