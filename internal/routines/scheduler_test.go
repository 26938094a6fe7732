package routines

import (
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func newTestScheduler(t *testing.T, dispatch Dispatcher) *Scheduler {
	t.Helper()
	store, err := NewFileStore(filepath.Join(t.TempDir(), "jobs.json"))
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	return NewScheduler(store, dispatch, time.Millisecond)
}

func TestEveryScheduleFiresOnDue(t *testing.T) {
	var fired int32
	sched := newTestScheduler(t, DispatcherFunc(func(r Routine) error {
		atomic.AddInt32(&fired, 1)
		return nil
	}))

	r, err := sched.Add(Routine{
		Name:     "tick",
		Enabled:  true,
		Schedule: Schedule{Kind: ScheduleEvery, Every: time.Millisecond},
		Payload:  Payload{Kind: PayloadSystemEvent},
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	sched.store.Update(r.ID, func(j *Routine) { j.State.NextRunAt = time.Now().Add(-time.Second) })
	sched.fireDue()

	if atomic.LoadInt32(&fired) != 1 {
		t.Fatalf("expected routine to fire once, got %d", fired)
	}

	got, ok := sched.store.Get(r.ID)
	if !ok {
		t.Fatalf("routine vanished after firing")
	}
	if got.State.LastStatus != RunOK {
		t.Fatalf("expected ok status, got %s", got.State.LastStatus)
	}
	if !got.State.NextRunAt.After(got.State.LastRunAt) {
		t.Fatalf("expected next run rescheduled after last run")
	}
}

func TestAtScheduleDisablesAfterFiring(t *testing.T) {
	sched := newTestScheduler(t, DispatcherFunc(func(r Routine) error { return nil }))

	r, err := sched.Add(Routine{
		Name:     "once",
		Enabled:  true,
		Schedule: Schedule{Kind: ScheduleAt, At: time.Now().Add(-time.Second)},
		Payload:  Payload{Kind: PayloadAgentTurn},
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	sched.fireDue()

	got, ok := sched.store.Get(r.ID)
	if !ok {
		t.Fatalf("routine vanished")
	}
	if got.Enabled {
		t.Fatalf("expected one-shot routine to disable itself after firing")
	}
}

func TestDeleteAfterRunRemovesRoutine(t *testing.T) {
	sched := newTestScheduler(t, DispatcherFunc(func(r Routine) error { return nil }))

	r, err := sched.Add(Routine{
		Name:           "fire-once",
		Enabled:        true,
		Schedule:       Schedule{Kind: ScheduleEvery, Every: time.Millisecond},
		Payload:        Payload{Kind: PayloadSystemEvent},
		DeleteAfterRun: true,
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	sched.store.Update(r.ID, func(j *Routine) { j.State.NextRunAt = time.Now().Add(-time.Second) })
	sched.fireDue()

	if _, ok := sched.store.Get(r.ID); ok {
		t.Fatalf("expected delete_after_run routine to be removed")
	}
}

func TestDispatchFailureNeverAbortsLoop(t *testing.T) {
	var calls int32
	sched := newTestScheduler(t, DispatcherFunc(func(r Routine) error {
		atomic.AddInt32(&calls, 1)
		if r.Name == "broken" {
			return errBoom
		}
		return nil
	}))

	broken, _ := sched.Add(Routine{Name: "broken", Enabled: true, Schedule: Schedule{Kind: ScheduleEvery, Every: time.Millisecond}, Payload: Payload{Kind: PayloadSystemEvent}})
	fine, _ := sched.Add(Routine{Name: "fine", Enabled: true, Schedule: Schedule{Kind: ScheduleEvery, Every: time.Millisecond}, Payload: Payload{Kind: PayloadSystemEvent}})

	past := time.Now().Add(-time.Second)
	sched.store.Update(broken.ID, func(j *Routine) { j.State.NextRunAt = past })
	sched.store.Update(fine.ID, func(j *Routine) { j.State.NextRunAt = past })
	sched.fireDue()

	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected both routines dispatched despite one failing, got %d calls", calls)
	}
	gotBroken, _ := sched.store.Get(broken.ID)
	if gotBroken.State.LastStatus != RunError {
		t.Fatalf("expected broken routine marked error, got %s", gotBroken.State.LastStatus)
	}
	gotFine, _ := sched.store.Get(fine.ID)
	if gotFine.State.LastStatus != RunOK {
		t.Fatalf("expected fine routine marked ok, got %s", gotFine.State.LastStatus)
	}
}

func TestCronScheduleAdvancesInTimezone(t *testing.T) {
	var fired int32
	sched := newTestScheduler(t, DispatcherFunc(func(r Routine) error {
		atomic.AddInt32(&fired, 1)
		return nil
	}))

	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}

	r, err := sched.Add(Routine{
		Name:    "nightly-calibration",
		Enabled: true,
		Schedule: Schedule{
			Kind: ScheduleCron,
			Expr: "0 2 * * *",
			TZ:   "America/New_York",
		},
		Payload: Payload{
			Kind:    PayloadSystemEvent,
			Scope:   ScopeSystem,
			Routine: "calibration",
		},
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	// Fire as if the scheduler's tick observed local 02:00:00 in New York,
	// matching spec.md §8 scenario 4 exactly rather than racing the real
	// wall clock used by fireDue's own time.Now().
	localTwoAM := time.Date(2026, 7, 10, 2, 0, 0, 0, loc)
	sched.fire(r, localTwoAM)

	if atomic.LoadInt32(&fired) != 1 {
		t.Fatalf("expected exactly one dispatch, got %d", fired)
	}

	got, ok := sched.store.Get(r.ID)
	if !ok {
		t.Fatalf("cron routine vanished after firing")
	}
	if !got.Enabled {
		t.Fatalf("expected cron routine to remain enabled after firing")
	}
	if got.Payload.Routine != "calibration" {
		t.Fatalf("expected dispatched payload to carry routine=calibration, got %q", got.Payload.Routine)
	}
	if got.State.LastStatus != RunOK {
		t.Fatalf("expected ok status, got %s", got.State.LastStatus)
	}

	wantNext := time.Date(2026, 7, 11, 2, 0, 0, 0, loc)
	if !got.State.NextRunAt.Equal(wantNext) {
		t.Fatalf("expected next run at %s, got %s", wantNext, got.State.NextRunAt)
	}
}

type testErr string

func (e testErr) Error() string { return string(e) }

var errBoom = testErr("boom")
