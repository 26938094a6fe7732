package routines

import (
	"path/filepath"
	"testing"
	"time"
)

func TestSeedDefaultTeamRoutinesIsIdempotent(t *testing.T) {
	store, err := NewFileStore(filepath.Join(t.TempDir(), "jobs.json"))
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	sched := NewScheduler(store, DispatcherFunc(func(r Routine) error { return nil }), time.Millisecond)

	bots := []string{"coder", "researcher"}
	rooms := []string{"room-1"}

	if err := SeedDefaultTeamRoutines(sched, bots, rooms, "balanced"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	firstCount := len(sched.List())
	if firstCount != 4 { // team_check_in + 1 room_pulse + 2 bot_focus
		t.Fatalf("expected 4 seeded routines, got %d", firstCount)
	}

	if err := SeedDefaultTeamRoutines(sched, bots, rooms, "balanced"); err != nil {
		t.Fatalf("reseed: %v", err)
	}
	if got := len(sched.List()); got != firstCount {
		t.Fatalf("expected reseed to be a no-op, had %d now have %d", firstCount, got)
	}
}

func TestSeedDefaultTeamRoutinesUsesEnergyProfile(t *testing.T) {
	store, err := NewFileStore(filepath.Join(t.TempDir(), "jobs.json"))
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	sched := NewScheduler(store, DispatcherFunc(func(r Routine) error { return nil }), time.Millisecond)

	if err := SeedDefaultTeamRoutines(sched, nil, nil, "active"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	routines := sched.List()
	if len(routines) != 1 {
		t.Fatalf("expected only the team check-in with no bots/rooms, got %d", len(routines))
	}
	want := EnergyProfiles["active"].TeamCheckInMinutes
	if got := routines[0].Schedule.Every; got != time.Duration(want)*time.Minute {
		t.Fatalf("expected %dm interval for active profile, got %s", want, got)
	}
}
