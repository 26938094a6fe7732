// Package sidekick implements the bounded fan-out orchestrator for
// short-lived helper sessions a bot spawns to carry out a focused
// sub-task. Sidekicks never post to rooms directly; the parent merges
// their results and reports.
package sidekick

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/botmesh/internal/tracing"
)

// Status is the terminal state of a sidekick run.
type Status string

const (
	StatusSuccess   Status = "success"
	StatusPartial   Status = "partial"
	StatusFailed    Status = "failed"
	StatusTimeout   Status = "timeout"
	StatusCancelled Status = "cancelled"
)

// TaskEnvelope is the brief handed to one sidekick run.
type TaskEnvelope struct {
	TaskID         string
	ParentBotID    string
	RoomID         string
	Goal           string
	Inputs         map[string]any
	Constraints    map[string]any
	OutputFormat   string // defaults to "summary"
	ParentIsSidekick bool
}

// Result is what a sidekick run reports back to its parent.
type Result struct {
	TaskID     string
	Status     Status
	Summary    string
	Artifacts  []any
	Notes      string
	Duration   time.Duration
}

// Runner executes one sidekick task and returns its result. Implementations
// are expected to respect ctx cancellation/deadline.
type Runner func(ctx context.Context, task TaskEnvelope) (Result, error)

// LimitError is returned by Run when spawning the batch would exceed the
// per-bot or per-room concurrency cap.
type LimitError struct {
	ParentBotID string
	RoomID      string
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("sidekick: concurrency limit exceeded for bot=%s room=%s", e.ParentBotID, e.RoomID)
}

// Kind implements the platform's typed-error convention.
func (e *LimitError) Kind() string { return "limit_exceeded" }

// RecursionError is returned when a sidekick task tries to spawn its own
// sidekicks.
type RecursionError struct{}

func (RecursionError) Error() string { return "sidekick: sidekicks cannot spawn sidekicks" }
func (RecursionError) Kind() string  { return "config" }

// Orchestrator bounds and runs batches of sidekick tasks.
type Orchestrator struct {
	maxPerBot  int
	maxPerRoom int
	maxTokens  int
	timeout    time.Duration

	mu             sync.Mutex
	activeByBot    map[string]int
	activeByRoom   map[string]int
	cancelsByRoom  map[string][]context.CancelFunc

	rateLimit    rate.Limit
	rateBurst    int
	roomLimiters map[string]*rate.Limiter
}

// New builds an Orchestrator enforcing the given caps. maxTokens is
// advisory — callers are expected to consult it when sizing a sidekick's
// context window; the orchestrator itself does not count tokens.
func New(maxPerBot, maxPerRoom, maxTokens int, timeout time.Duration) *Orchestrator {
	return &Orchestrator{
		maxPerBot:     maxPerBot,
		maxPerRoom:    maxPerRoom,
		maxTokens:     maxTokens,
		timeout:       timeout,
		activeByBot:   make(map[string]int),
		activeByRoom:  make(map[string]int),
		cancelsByRoom: make(map[string][]context.CancelFunc),
		roomLimiters:  make(map[string]*rate.Limiter),
	}
}

// WithRoomRateLimit layers a token-bucket spawn rate on top of the hard
// concurrency caps: at most ratePerSecond new sidekick batches may start
// per room per second, with burst allowed to absorb bursts of activity.
// A zero ratePerSecond disables the limiter (the default).
func (o *Orchestrator) WithRoomRateLimit(ratePerSecond float64, burst int) *Orchestrator {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rateLimit = rate.Limit(ratePerSecond)
	o.rateBurst = burst
	return o
}

func (o *Orchestrator) roomLimiterLocked(roomID string) *rate.Limiter {
	l, ok := o.roomLimiters[roomID]
	if !ok {
		l = rate.NewLimiter(o.rateLimit, o.rateBurst)
		o.roomLimiters[roomID] = l
	}
	return l
}

// MaxTokens reports the configured per-sidekick token budget.
func (o *Orchestrator) MaxTokens() int { return o.maxTokens }

// CanSpawn reports whether spawning count more sidekicks for parentBotID
// in roomID would stay within both caps.
func (o *Orchestrator) CanSpawn(parentBotID, roomID string, count int) bool {
	if count <= 0 {
		return true
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.canSpawnLocked(parentBotID, roomID, count)
}

func (o *Orchestrator) canSpawnLocked(parentBotID, roomID string, count int) bool {
	if o.activeByBot[parentBotID]+count > o.maxPerBot {
		return false
	}
	if o.activeByRoom[roomID]+count > o.maxPerRoom {
		return false
	}
	return true
}

func (o *Orchestrator) reserve(parentBotID, roomID string, count int) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.canSpawnLocked(parentBotID, roomID, count) {
		return &LimitError{ParentBotID: parentBotID, RoomID: roomID}
	}
	o.activeByBot[parentBotID] += count
	o.activeByRoom[roomID] += count
	return nil
}

func (o *Orchestrator) release(parentBotID, roomID string, count int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if v := o.activeByBot[parentBotID] - count; v > 0 {
		o.activeByBot[parentBotID] = v
	} else {
		delete(o.activeByBot, parentBotID)
	}
	if v := o.activeByRoom[roomID] - count; v > 0 {
		o.activeByRoom[roomID] = v
	} else {
		delete(o.activeByRoom, roomID)
	}
}

// CancelRoom cancels every sidekick run currently active for roomID and
// returns how many were cancelled.
func (o *Orchestrator) CancelRoom(roomID string) int {
	o.mu.Lock()
	cancels := o.cancelsByRoom[roomID]
	delete(o.cancelsByRoom, roomID)
	o.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	return len(cancels)
}

// Run spawns every task in tasks concurrently through runner, honoring the
// orchestrator's per-bot/per-room caps as an all-or-nothing reservation:
// either every task in the batch gets a slot, or none run and Run returns
// a *LimitError. Each task is wrapped in its own timeout; a task that
// panics, errors, times out, or is cancelled yields a failed, timeout or
// cancelled Result rather than aborting its siblings.
func (o *Orchestrator) Run(ctx context.Context, tasks []TaskEnvelope, runner Runner) ([]Result, error) {
	if len(tasks) == 0 {
		return nil, nil
	}
	for _, task := range tasks {
		if task.ParentIsSidekick {
			return nil, RecursionError{}
		}
	}

	if len(tasks) > 0 && o.rateLimit > 0 {
		roomID := tasks[0].RoomID
		o.mu.Lock()
		allowed := o.roomLimiterLocked(roomID).Allow()
		o.mu.Unlock()
		if !allowed {
			return nil, &LimitError{ParentBotID: tasks[0].ParentBotID, RoomID: roomID}
		}
	}

	batchCtx, batchSpan := tracing.StartSidekickBatch(ctx, tasks[0].ParentBotID, tasks[0].RoomID, len(tasks))
	defer batchSpan.End()
	ctx = batchCtx

	reserved := make([]TaskEnvelope, 0, len(tasks))
	for _, task := range tasks {
		if err := o.reserve(task.ParentBotID, task.RoomID, 1); err != nil {
			for _, r := range reserved {
				o.release(r.ParentBotID, r.RoomID, 1)
			}
			return nil, err
		}
		reserved = append(reserved, task)
	}
	defer func() {
		for _, task := range tasks {
			o.release(task.ParentBotID, task.RoomID, 1)
		}
	}()

	results := make([]Result, len(tasks))
	cancelFuncs := make([]context.CancelFunc, len(tasks))

	g, _ := errgroup.WithContext(context.Background())

	for i, task := range tasks {
		i, task := i, task
		runCtx, cancel := context.WithTimeout(ctx, o.timeout)
		cancelFuncs[i] = cancel

		o.mu.Lock()
		o.cancelsByRoom[task.RoomID] = append(o.cancelsByRoom[task.RoomID], cancel)
		o.mu.Unlock()

		g.Go(func() error {
			results[i] = o.runOne(runCtx, task, runner)
			return nil
		})
	}

	// errgroup's Go never returns a non-nil error here (runOne recovers
	// every failure into a Result), so Wait only ever blocks for completion.
	_ = g.Wait()

	for i := range cancelFuncs {
		cancelFuncs[i]()
	}
	o.mu.Lock()
	for _, task := range tasks {
		delete(o.cancelsByRoom, task.RoomID)
	}
	o.mu.Unlock()

	return results, nil
}

func (o *Orchestrator) runOne(ctx context.Context, task TaskEnvelope, runner Runner) (out Result) {
	start := time.Now()
	ctx, span := tracing.StartSidekickTask(ctx, task.TaskID, task.Goal)
	defer span.End()
	defer func() {
		if r := recover(); r != nil {
			span.RecordError(fmt.Errorf("panic: %v", r))
			slog.Error("sidekick panicked", "task", task.TaskID, "panic", r)
			out = Result{TaskID: task.TaskID, Status: StatusFailed, Notes: fmt.Sprintf("panic: %v", r), Duration: time.Since(start)}
		}
	}()

	if task.OutputFormat == "" {
		task.OutputFormat = "summary"
	}
	result, err := runner(ctx, task)
	if err != nil {
		span.RecordError(err)
	}
	elapsed := time.Since(start)

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Result{TaskID: task.TaskID, Status: StatusTimeout, Notes: "timed out", Duration: elapsed}
		}
		if errors.Is(err, context.Canceled) {
			return Result{TaskID: task.TaskID, Status: StatusCancelled, Notes: "cancelled", Duration: elapsed}
		}
		return Result{TaskID: task.TaskID, Status: StatusFailed, Notes: err.Error(), Duration: elapsed}
	}

	if result.Duration == 0 {
		result.Duration = elapsed
	}
	if result.TaskID == "" {
		result.TaskID = task.TaskID
	}
	return result
}
