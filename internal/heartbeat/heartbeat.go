package heartbeat

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/botmesh/internal/tracing"
)

// TickCompleteFunc observes every completed tick. A panic raised by the
// callback is recovered and logged by the Service (safeInvokeTick); it
// never aborts the tick.
type TickCompleteFunc func(Tick)

// CheckCompleteFunc observes every individual check result, including
// intermediate retry attempts.
type CheckCompleteFunc func(CheckResult)

// Service is the independent heartbeat for a single bot.
type Service struct {
	config Config

	onTickComplete  TickCompleteFunc
	onCheckComplete CheckCompleteFunc
	breaker         *CircuitBreaker
	egressLimiter   *rate.Limiter

	history *History

	mu          sync.Mutex
	running     bool
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	currentTick *Tick
	tickCond    *sync.Cond
}

// NewService builds a heartbeat service for config.BotName. breaker may
// be nil to disable circuit-breaker gating entirely.
func NewService(config Config, breaker *CircuitBreaker, onTick TickCompleteFunc, onCheck CheckCompleteFunc) *Service {
	s := &Service{
		config:          config,
		onTickComplete:  onTick,
		onCheckComplete: onCheck,
		breaker:         breaker,
		history:         NewHistory(config.BotName, 500),
	}
	s.tickCond = sync.NewCond(&s.mu)
	if breaker != nil {
		breaker.RegisterBot(config.BotName)
	}
	return s
}

// WithEgressRateLimit throttles directive-runner invocations (the
// heartbeat's only outbound call to a language model) to at most
// ratePerSecond per second with the given burst. A zero ratePerSecond
// leaves directive execution unthrottled.
func (s *Service) WithEgressRateLimit(ratePerSecond float64, burst int) *Service {
	if ratePerSecond > 0 {
		s.egressLimiter = rate.NewLimiter(rate.Limit(ratePerSecond), burst)
	}
	return s
}

// IsRunning reports whether the supervisor loop is active.
func (s *Service) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Start spawns the supervisor loop. A no-op if already running or if the
// config disables the heartbeat.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		slog.Warn("heartbeat already running", "bot", s.config.BotName)
		return
	}
	if !s.config.Enabled {
		s.mu.Unlock()
		slog.Info("heartbeat disabled", "bot", s.config.BotName)
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.runLoop(loopCtx)

	slog.Info("heartbeat started", "bot", s.config.BotName,
		"interval", s.config.Interval, "checks", len(s.config.Checks))
}

// Stop requests cancellation of the supervisor loop and waits for it to
// exit.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	slog.Info("heartbeat stopped", "bot", s.config.BotName)
}

// TriggerNow synchronously runs one out-of-cadence tick.
func (s *Service) TriggerNow(ctx context.Context, reason string) Tick {
	return s.executeTick(ctx, TriggerManual, reason)
}

func (s *Service) runLoop(ctx context.Context) {
	defer s.wg.Done()
	timer := time.NewTimer(s.config.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Debug("heartbeat loop cancelled", "bot", s.config.BotName)
			return
		case <-timer.C:
			s.executeTick(ctx, TriggerScheduled, "")
			if ctx.Err() != nil {
				return
			}
			timer.Reset(s.config.Interval)
		}
	}
}

func (s *Service) executeTick(ctx context.Context, trigger TriggerKind, triggeredBy string) Tick {
	tickID := uuid.NewString()[:8]
	tick := Tick{
		TickID:      tickID,
		BotName:     s.config.BotName,
		StartedAt:   time.Now(),
		Config:      s.config,
		TriggerType: trigger,
		TriggeredBy: triggeredBy,
	}

	s.mu.Lock()
	for s.currentTick != nil {
		// One tick per bot at a time (spec.md §5): a scheduled tick racing
		// a manual TriggerNow waits here rather than stomping the other's
		// bookkeeping.
		s.tickCond.Wait()
	}
	s.currentTick = &tick
	s.mu.Unlock()

	slog.Info("tick started", "bot", s.config.BotName, "tick_id", tickID, "checks", len(s.config.Checks))

	tickCtx, tickSpan := tracing.StartHeartbeatTick(ctx, s.config.BotName, tickID, string(trigger))
	ctx = tickCtx
	defer tickSpan.End()

	func() {
		defer func() {
			s.mu.Lock()
			s.currentTick = nil
			s.tickCond.Broadcast()
			s.mu.Unlock()
		}()

		if s.breaker != nil {
			state := s.breaker.State(s.config.BotName)
			switch {
			case state == CircuitOpen:
				slog.Warn("circuit breaker open, skipping tick", "bot", s.config.BotName)
				tick.Status = TickSkipped
				return
			case state == CircuitHalfOpen && !s.breaker.AllowProbe(s.config.BotName):
				slog.Warn("circuit breaker half-open, probe already in flight", "bot", s.config.BotName)
				tick.Status = TickSkipped
				return
			}
		}

		var results []CheckResult
		if s.config.DirectiveFile != nil {
			directive, err := s.config.DirectiveFile()
			if err != nil {
				slog.Warn("heartbeat directive read failed", "bot", s.config.BotName, "error", err)
			} else {
				if s.egressLimiter != nil {
					if err := s.egressLimiter.Wait(ctx); err != nil {
						slog.Warn("egress rate limiter wait aborted", "bot", s.config.BotName, "error", err)
					}
				}
				results = append(results, RunDirectiveStep(ctx, s.config.DirectiveRunner, s.config.BotName, directive))
			}
		}

		if s.config.ParallelChecks {
			results = append(results, s.executeChecksParallel(ctx, &tick)...)
		} else {
			results = append(results, s.executeChecksSequential(ctx, &tick)...)
		}
		tick.Results = results

		var failed int
		for _, r := range results {
			if !r.Success {
				failed++
			}
		}
		switch {
		case failed > 0 && s.config.StopOnFirstFailure:
			tick.Status = TickFailed
		case failed > 0:
			tick.Status = TickCompletedWithFailure
		default:
			tick.Status = TickCompleted
		}

		s.history.Add(tick)

		if s.onTickComplete != nil {
			safeInvokeTick(s.onTickComplete, tick)
		}

		slog.Info("tick completed", "bot", s.config.BotName, "tick_id", tickID,
			"checks", len(results), "success_rate", fmt.Sprintf("%.0f%%", tick.SuccessRate()*100))
	}()

	return tick
}

func (s *Service) executeChecksParallel(ctx context.Context, tick *Tick) []CheckResult {
	limit := s.config.MaxConcurrentChecks
	if limit <= 0 {
		limit = 1
	}
	sem := make(chan struct{}, limit)

	enabled := make([]CheckDefinition, 0, len(s.config.Checks))
	for _, c := range s.config.Checks {
		if c.Enabled {
			enabled = append(enabled, c)
		}
	}

	results := make([]CheckResult, len(enabled))
	g, gctx := errgroup.WithContext(ctx)
	for i, check := range enabled {
		i, check := i, check
		g.Go(func() error {
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = s.executeSingleCheck(gctx, check, tick)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (s *Service) executeChecksSequential(ctx context.Context, tick *Tick) []CheckResult {
	var results []CheckResult
	for _, check := range s.config.Checks {
		if !check.Enabled {
			continue
		}
		result := s.executeSingleCheck(ctx, check, tick)
		results = append(results, result)
		if !result.Success && s.config.StopOnFirstFailure {
			break
		}
	}
	return results
}

func (s *Service) executeSingleCheck(ctx context.Context, check CheckDefinition, tick *Tick) CheckResult {
	attempts := s.config.RetryAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var result CheckResult
	for attempt := 0; attempt < attempts; attempt++ {
		result = s.runCheckOnce(ctx, check)

		if s.onCheckComplete != nil {
			safeInvokeCheck(s.onCheckComplete, result)
		}

		if result.Success {
			if s.breaker != nil {
				s.breaker.RecordSuccess(s.config.BotName)
			}
			return result
		}
		if s.breaker != nil {
			s.breaker.RecordFailure(s.config.BotName)
		}

		if attempt < attempts-1 {
			delay := scaleDuration(s.config.RetryDelay, s.config.RetryBackoff, attempt)
			slog.Warn("check failed, retrying", "bot", s.config.BotName,
				"check", check.Name, "attempt", attempt+1, "delay", delay)
			select {
			case <-ctx.Done():
				return result
			case <-time.After(delay):
			}
		}
	}
	return result
}

func (s *Service) runCheckOnce(ctx context.Context, check CheckDefinition) CheckResult {
	start := time.Now()
	res := CheckResult{CheckName: check.Name, StartedAt: start}

	runCtx, checkSpan := tracing.StartCheck(ctx, s.config.BotName, check.Name)
	var cancel context.CancelFunc
	if check.MaxDuration > 0 {
		runCtx, cancel = context.WithTimeout(runCtx, check.MaxDuration)
		defer cancel()
	}

	err := check.Run(runCtx)
	tracing.EndWithError(checkSpan, err)
	res.EndedAt = time.Now()

	switch {
	case err == nil:
		res.Status = CheckSuccess
		res.Success = true
	case runCtx.Err() == context.DeadlineExceeded:
		res.Status = CheckTimeout
		res.Error = err.Error()
		res.ErrorKind = "Timeout"
	default:
		res.Status = CheckFailed
		res.Error = err.Error()
		res.ErrorKind = "UpstreamFailure"
	}
	return res
}

func scaleDuration(base time.Duration, backoff float64, attempt int) time.Duration {
	if backoff <= 0 {
		backoff = 1
	}
	mult := 1.0
	for i := 0; i < attempt; i++ {
		mult *= backoff
	}
	return time.Duration(float64(base) * mult)
}

func safeInvokeTick(fn TickCompleteFunc, t Tick) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("tick complete callback panicked", "error", r)
		}
	}()
	fn(t)
}

func safeInvokeCheck(fn CheckCompleteFunc, r CheckResult) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("check complete callback panicked", "error", rec)
		}
	}()
	fn(r)
}

// Status is a snapshot for external status reporting.
type Status struct {
	BotName        string
	Running        bool
	Interval       time.Duration
	ChecksCount    int
	CurrentTickID  string
	CircuitBreaker string
	TotalTicks     int
	SuccessfulTicks int
	FailedTicks    int
	SuccessRate    float64
	Uptime24h      float64
}

// GetStatus returns the current heartbeat status.
func (s *Service) GetStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	cbStatus := "disabled"
	if s.breaker != nil {
		cbStatus = string(s.breaker.State(s.config.BotName))
	}
	var currentID string
	if s.currentTick != nil {
		currentID = s.currentTick.TickID
	}

	return Status{
		BotName:         s.config.BotName,
		Running:         s.running,
		Interval:        s.config.Interval,
		ChecksCount:     len(s.config.Checks),
		CurrentTickID:   currentID,
		CircuitBreaker:  cbStatus,
		TotalTicks:      s.history.TotalTicks,
		SuccessfulTicks: s.history.SuccessfulTicks,
		FailedTicks:     s.history.FailedTicks,
		SuccessRate:     s.history.AverageSuccessRate(),
		Uptime24h:       s.history.UptimePercentage(24 * time.Hour),
	}
}

// WaitForCurrentTick blocks until no tick is in flight or timeout elapses,
// returning false on timeout. Implemented with a condition variable
// broadcast from executeTick's completion, rather than a poll loop.
func (s *Service) WaitForCurrentTick(timeout time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.currentTick == nil {
		return true
	}

	timedOut := make(chan struct{})
	timer := time.AfterFunc(timeout, func() {
		s.mu.Lock()
		select {
		case <-timedOut:
		default:
			close(timedOut)
		}
		s.tickCond.Broadcast()
		s.mu.Unlock()
	})
	defer timer.Stop()

	for s.currentTick != nil {
		select {
		case <-timedOut:
			return false
		default:
		}
		s.tickCond.Wait()
	}
	return true
}
