package heartbeat

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestTriggerNowSequentialStopsOnFirstFailure(t *testing.T) {
	var calls int32
	cfg := Config{
		BotName:            "coder",
		Interval:           time.Hour,
		Enabled:            true,
		StopOnFirstFailure: true,
		RetryAttempts:      1,
		Checks: []CheckDefinition{
			{Name: "a", Enabled: true, Run: func(ctx context.Context) error {
				atomic.AddInt32(&calls, 1)
				return errors.New("boom")
			}},
			{Name: "b", Enabled: true, Run: func(ctx context.Context) error {
				atomic.AddInt32(&calls, 1)
				return nil
			}},
		},
	}
	svc := NewService(cfg, nil, nil, nil)
	tick := svc.TriggerNow(context.Background(), "test")

	if tick.Status != TickFailed {
		t.Fatalf("expected failed tick, got %s", tick.Status)
	}
	if len(tick.Results) != 1 {
		t.Fatalf("expected only first check to run, got %d results", len(tick.Results))
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected second check never invoked, calls=%d", calls)
	}
}

func TestTriggerNowRetriesUntilSuccess(t *testing.T) {
	var attempts int32
	cfg := Config{
		BotName:       "researcher",
		Interval:      time.Hour,
		Enabled:       true,
		RetryAttempts: 3,
		RetryDelay:    time.Millisecond,
		RetryBackoff:  1,
		Checks: []CheckDefinition{
			{Name: "flaky", Enabled: true, Run: func(ctx context.Context) error {
				n := atomic.AddInt32(&attempts, 1)
				if n < 3 {
					return errors.New("not yet")
				}
				return nil
			}},
		},
	}
	svc := NewService(cfg, nil, nil, nil)
	tick := svc.TriggerNow(context.Background(), "test")

	if tick.Status != TickCompleted {
		t.Fatalf("expected completed tick after retries, got %s", tick.Status)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestCircuitBreakerSkipsTickWhenOpen(t *testing.T) {
	breaker := NewCircuitBreaker(1, time.Hour)
	cfg := Config{
		BotName:                 "coder",
		Interval:                time.Hour,
		Enabled:                 true,
		RetryAttempts:           1,
		CircuitBreakerEnabled:   true,
		CircuitBreakerThreshold: 1,
		CircuitBreakerTimeout:   time.Hour,
		Checks: []CheckDefinition{
			{Name: "a", Enabled: true, Run: func(ctx context.Context) error { return errors.New("boom") }},
		},
	}
	svc := NewService(cfg, breaker, nil, nil)

	first := svc.TriggerNow(context.Background(), "test")
	if first.Status != TickCompletedWithFailure && first.Status != TickFailed {
		t.Fatalf("expected first tick to record a failure, got %s", first.Status)
	}

	second := svc.TriggerNow(context.Background(), "test")
	if second.Status != TickSkipped {
		t.Fatalf("expected second tick skipped by open circuit, got %s", second.Status)
	}
}

func TestWaitForCurrentTickReturnsImmediatelyWhenIdle(t *testing.T) {
	svc := NewService(Config{BotName: "idle", Interval: time.Hour, Enabled: true}, nil, nil, nil)
	if !svc.WaitForCurrentTick(10 * time.Millisecond) {
		t.Fatal("expected immediate true when no tick is running")
	}
}
