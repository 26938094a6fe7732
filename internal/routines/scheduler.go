package routines

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"
)

// Scheduler ticks on a fixed cadence, fires any routine whose next-run time
// has passed, reschedules it, and hands the payload to a Dispatcher.
type Scheduler struct {
	store    *FileStore
	dispatch Dispatcher
	tick     time.Duration
	cron     gronx.Gronx
}

// NewScheduler builds a Scheduler over store, firing dispatch for any due
// routine on every tick interval.
func NewScheduler(store *FileStore, dispatch Dispatcher, tick time.Duration) *Scheduler {
	if tick <= 0 {
		tick = time.Second
	}
	return &Scheduler{store: store, dispatch: dispatch, tick: tick, cron: gronx.New()}
}

// Run blocks, ticking until ctx is cancelled. A single routine's dispatch
// failure is logged and recorded on its state, never aborting the loop —
// the same "one tick failure never kills the fleet" policy the heartbeat
// engine follows.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.fireDue()
		}
	}
}

func (s *Scheduler) fireDue() {
	now := time.Now()
	for _, r := range s.store.All() {
		if !r.Enabled {
			continue
		}
		if r.State.NextRunAt.IsZero() {
			next, err := s.computeNext(r, now)
			if err != nil {
				slog.Warn("routine: bad schedule, disabling", "routine", r.ID, "name", r.Name, "error", err)
				s.store.Update(r.ID, func(j *Routine) { j.Enabled = false; j.State.LastError = err.Error() })
				continue
			}
			s.store.Update(r.ID, func(j *Routine) { j.State.NextRunAt = next })
			continue
		}
		if r.State.NextRunAt.After(now) {
			continue
		}
		s.fire(r, now)
	}
}

func (s *Scheduler) fire(r Routine, now time.Time) {
	err := s.dispatch.Dispatch(r)

	status := RunOK
	errMsg := ""
	if err != nil {
		status = RunError
		errMsg = err.Error()
		slog.Error("routine dispatch failed", "routine", r.ID, "name", r.Name, "error", err)
	} else {
		slog.Info("routine fired", "routine", r.ID, "name", r.Name, "kind", r.Payload.Kind)
	}

	if r.DeleteAfterRun && err == nil {
		if _, rmErr := s.store.Remove(r.ID); rmErr != nil {
			slog.Warn("routine: remove after run failed", "routine", r.ID, "error", rmErr)
		}
		return
	}

	var next time.Time
	if r.Schedule.Kind != ScheduleAt {
		if n, nerr := s.computeNext(r, now); nerr == nil {
			next = n
		}
	}

	s.store.Update(r.ID, func(j *Routine) {
		j.State.LastRunAt = now
		j.State.LastStatus = status
		j.State.LastError = errMsg
		j.State.NextRunAt = next
		if j.Schedule.Kind == ScheduleAt {
			j.Enabled = false
		}
	})
}

// computeNext derives the next fire time for r's schedule, strictly after
// after. An at-schedule is the exception: its fixed time is returned even
// when already past.
func (s *Scheduler) computeNext(r Routine, after time.Time) (time.Time, error) {
	switch r.Schedule.Kind {
	case ScheduleAt:
		if r.Schedule.At.After(after) {
			return r.Schedule.At, nil
		}
		return r.Schedule.At, nil // past due: fires on next tick, then disables
	case ScheduleEvery:
		if r.Schedule.Every <= 0 {
			return time.Time{}, fmt.Errorf("routines: every-schedule requires a positive interval")
		}
		return after.Add(r.Schedule.Every), nil
	case ScheduleCron:
		if r.Schedule.Expr == "" {
			return time.Time{}, fmt.Errorf("routines: cron-schedule requires an expression")
		}
		if r.Schedule.TZ == "" {
			return time.Time{}, fmt.Errorf("routines: cron-schedule requires an IANA timezone")
		}
		loc, err := time.LoadLocation(r.Schedule.TZ)
		if err != nil {
			return time.Time{}, fmt.Errorf("routines: unknown timezone %q: %w", r.Schedule.TZ, err)
		}
		next, err := gronx.NextTickAfter(r.Schedule.Expr, after.In(loc), false)
		if err != nil {
			return time.Time{}, fmt.Errorf("routines: invalid cron expression %q: %w", r.Schedule.Expr, err)
		}
		return next, nil
	default:
		return time.Time{}, fmt.Errorf("routines: unknown schedule kind %q", r.Schedule.Kind)
	}
}

// Add schedules a new routine, computing its initial next-run time.
func (s *Scheduler) Add(r Routine) (Routine, error) {
	now := time.Now()
	next, err := s.computeNext(r, now)
	if err != nil {
		return Routine{}, err
	}
	r.CreatedAt = now
	r.UpdatedAt = now
	r.State.NextRunAt = next
	return s.store.Add(r)
}

// Enable toggles a routine's enabled flag. When enabling a routine that
// has no next-run time, it computes one; an existing next-run time is kept.
func (s *Scheduler) Enable(id string, enabled bool) (Routine, bool, error) {
	return s.store.Update(id, func(j *Routine) {
		j.Enabled = enabled
		j.UpdatedAt = time.Now()
		if enabled && j.State.NextRunAt.IsZero() {
			if next, err := s.computeNext(*j, time.Now()); err == nil {
				j.State.NextRunAt = next
			}
		}
	})
}

// RunNow fires a routine immediately regardless of its schedule, used by
// the CLI's "routines run-now" subcommand and by force-triggered system
// routines.
func (s *Scheduler) RunNow(id string) (bool, error) {
	r, ok := s.store.Get(id)
	if !ok {
		return false, nil
	}
	s.fire(r, time.Now())
	return true, nil
}

// List returns every routine in next-run order.
func (s *Scheduler) List() []Routine { return s.store.All() }

// Remove deletes a routine.
func (s *Scheduler) Remove(id string) (bool, error) { return s.store.Remove(id) }
