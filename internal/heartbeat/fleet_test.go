package heartbeat

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestFleetTriggerUnknownBotErrors(t *testing.T) {
	f := NewFleetManager()
	if _, err := f.Trigger(context.Background(), "ghost", "test"); err == nil {
		t.Fatal("expected error for unknown bot")
	}
}

func TestFleetTriggerAllRunsEveryBot(t *testing.T) {
	f := NewFleetManager()
	f.Register("coder", NewService(Config{BotName: "coder", Interval: time.Hour, Enabled: true}, nil, nil, nil))
	f.Register("researcher", NewService(Config{
		BotName: "researcher", Interval: time.Hour, Enabled: true,
		Checks: []CheckDefinition{{Name: "x", Enabled: true, Run: func(ctx context.Context) error { return errors.New("fail") }}},
	}, nil, nil, nil))

	results := f.TriggerAll(context.Background(), "manual")
	if len(results) != 2 {
		t.Fatalf("expected 2 tick results, got %d", len(results))
	}
	if results["coder"].Status != TickCompleted {
		t.Fatalf("expected coder tick completed, got %s", results["coder"].Status)
	}
	if results["researcher"].Status == TickCompleted {
		t.Fatal("expected researcher tick to record its check failure")
	}
}

func TestFleetTeamHealthReportsEveryBot(t *testing.T) {
	f := NewFleetManager()
	f.Register("coder", NewService(Config{BotName: "coder", Interval: time.Hour, Enabled: true}, nil, nil, nil))
	health := f.TeamHealth()
	if _, ok := health.Bots["coder"]; !ok {
		t.Fatal("expected coder present in team health")
	}
}

func TestFleetUnregisterStopsService(t *testing.T) {
	f := NewFleetManager()
	svc := NewService(Config{BotName: "coder", Interval: time.Millisecond, Enabled: true}, nil, nil, nil)
	f.Register("coder", svc)
	svc.Start(context.Background())
	f.Unregister("coder")

	if _, err := f.Trigger(context.Background(), "coder", "test"); err == nil {
		t.Fatal("expected unregistered bot to be gone from the fleet")
	}
}

func TestAddCrossBotCheckRunsOnItsOwnCadence(t *testing.T) {
	f := NewFleetManager()
	done := make(chan struct{}, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f.AddCrossBotCheck(ctx, CrossBotCheck{
		Name:     "team_check_in",
		Interval: time.Millisecond,
		Run: func(ctx context.Context, fleet *FleetManager) error {
			select {
			case done <- struct{}{}:
			default:
			}
			return nil
		},
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected cross-bot check to run at least once")
	}
}
