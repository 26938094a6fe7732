package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nextlevelbuilder/botmesh/internal/bus"
	"github.com/nextlevelbuilder/botmesh/internal/compactor"
	"github.com/nextlevelbuilder/botmesh/internal/config"
	"github.com/nextlevelbuilder/botmesh/internal/coordinator"
	"github.com/nextlevelbuilder/botmesh/internal/content"
	"github.com/nextlevelbuilder/botmesh/internal/heartbeat"
	"github.com/nextlevelbuilder/botmesh/internal/routines"
	"github.com/nextlevelbuilder/botmesh/internal/security"
	"github.com/nextlevelbuilder/botmesh/internal/sidekick"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/nextlevelbuilder/botmesh/internal/tracing"
)

// engine bundles every long-lived collaborator the composition root wires
// together. Nothing outside cmd/ holds a reference to this type; it
// exists purely to keep runEngine's local variable count sane.
type engine struct {
	cfg       *config.Config
	bus       *bus.MessageBus
	fleet     *heartbeat.FleetManager
	scheduler *routines.Scheduler
	sidekicks *sidekick.Orchestrator
	content   *content.Store
	secrets   *security.Resolver
	compactor *compactor.Compactor
	tracer    *sdktrace.TracerProvider
}

func runEngine(ctx context.Context) error {
	setupLogging()

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	e, err := buildEngine(cfg)
	if err != nil {
		return err
	}
	defer e.tracer.Shutdown(context.Background())

	runCtx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	e.fleet.StartAll(runCtx)
	defer e.fleet.StopAll()

	go func() {
		if err := e.scheduler.Run(runCtx); err != nil {
			slog.Error("routines scheduler stopped", "error", err)
		}
	}()

	unwatch, err := config.WatchFile(resolveConfigPath(), func(next *config.Config) {
		cfg.ReplaceFrom(next)
		slog.Info("config reloaded")
	})
	if err != nil {
		slog.Warn("config hot-reload disabled", "error", err)
	} else {
		defer unwatch()
	}

	slog.Info("botmesh started", "bots", len(cfg.Bots))
	<-runCtx.Done()
	slog.Info("botmesh shutting down")
	return nil
}

func setupLogging() {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}

func buildEngine(cfg *config.Config) (*engine, error) {
	tp := tracing.NewProvider()
	tracing.Register(tp)

	msgBus := bus.NewMessageBus(1000)
	expertise := coordinator.NewBotExpertise()

	fleet := heartbeat.NewFleetManager()
	breaker := heartbeat.NewCircuitBreaker(5, 2*time.Minute)

	for name, botCfg := range cfg.Bots {
		coord := coordinator.NewCoordinator(name, msgBus, expertise)
		msgBus.RegisterBot(name, bus.BotDescriptor{Name: name})

		svcCfg := heartbeatConfigFromBot(name, botCfg, coord)
		svc := heartbeat.NewService(svcCfg, breaker, nil, nil)
		svc.WithEgressRateLimit(2, 4)
		fleet.Register(name, svc)

		fleet.RegisterCard(name, heartbeat.RoleCard{
			Name:   name,
			Domain: botCfg.Domain,
			Title:  botCfg.Domain + " specialist",
		})
	}

	storePath := cfg.Routines.StorePath
	if storePath == "" {
		storePath = "routines.json"
	}
	store, err := routines.NewFileStore(storePath)
	if err != nil {
		return nil, fmt.Errorf("open routines store: %w", err)
	}
	dispatch := routines.DispatcherFunc(func(r routines.Routine) error {
		return dispatchRoutine(msgBus, r)
	})
	tickInterval := time.Duration(cfg.Routines.TickIntervalSeconds * float64(time.Second))
	if tickInterval <= 0 {
		tickInterval = time.Second
	}
	scheduler := routines.NewScheduler(store, dispatch, tickInterval)

	var teamBots []string
	for name := range cfg.Bots {
		teamBots = append(teamBots, name)
	}
	if cfg.Team.Energy != "" {
		if err := routines.SeedDefaultTeamRoutines(scheduler, teamBots, cfg.Team.RoomIDs, cfg.Team.Energy); err != nil {
			slog.Warn("seed default team routines failed", "error", err)
		}
	}

	sidekickTimeout := time.Duration(cfg.Sidekick.TimeoutSeconds) * time.Second
	if sidekickTimeout <= 0 {
		sidekickTimeout = 60 * time.Second
	}
	orchestrator := sidekick.New(cfg.Sidekick.MaxPerBot, cfg.Sidekick.MaxPerRoom, cfg.Sidekick.MaxTokens, sidekickTimeout)
	orchestrator.WithRoomRateLimit(1, 3)

	scanner := security.NewScanner(cfg.Security.InjectionScanEnabled)
	ttl := time.Duration(cfg.Content.TTLHours) * time.Hour
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	maxContentSize := cfg.Content.MaxContentSize
	if maxContentSize <= 0 {
		maxContentSize = 1 << 20
	}
	contentStore := content.NewStore(scanner, maxContentSize, ttl)

	secretStore := security.NewKeyringSecretStore(cfg.Security.SecretServiceName)
	resolver := security.NewResolver(secretStore)

	comp := compactor.New(compactor.DefaultPolicy(), estimateTokens, nil)

	return &engine{
		cfg:       cfg,
		bus:       msgBus,
		fleet:     fleet,
		scheduler: scheduler,
		sidekicks: orchestrator,
		content:   contentStore,
		secrets:   resolver,
		compactor: comp,
		tracer:    tp,
	}, nil
}

func heartbeatConfigFromBot(name string, b config.BotConfig, coord *coordinator.Coordinator) heartbeat.Config {
	checks := make([]heartbeat.CheckDefinition, 0, len(b.Checks))
	for _, c := range b.Checks {
		c := c
		checks = append(checks, heartbeat.CheckDefinition{
			Name:        c.Name,
			Enabled:     c.Enabled,
			MaxDuration: time.Duration(c.MaxDurationSeconds * float64(time.Second)),
			Run: func(ctx context.Context) error {
				return runRegisteredCheck(ctx, coord, c.Name)
			},
		})
	}

	var directiveFile func() (string, error)
	if b.HeartbeatDirectivePath != "" {
		path := b.HeartbeatDirectivePath
		directiveFile = func() (string, error) {
			data, err := os.ReadFile(path)
			if err != nil {
				return "", err
			}
			return string(data), nil
		}
	}

	return heartbeat.Config{
		BotName:                 name,
		Interval:                time.Duration(b.IntervalSeconds * float64(time.Second)),
		Enabled:                 b.Enabled,
		Checks:                  checks,
		ParallelChecks:          b.ParallelChecks,
		MaxConcurrentChecks:     b.MaxConcurrentChecks,
		StopOnFirstFailure:      b.StopOnFirstFailure,
		RetryAttempts:           b.RetryAttempts,
		RetryDelay:              time.Duration(b.RetryDelaySeconds * float64(time.Second)),
		RetryBackoff:            b.RetryBackoff,
		CircuitBreakerEnabled:   b.CircuitBreakerEnabled,
		CircuitBreakerThreshold: b.CircuitBreakerThreshold,
		CircuitBreakerTimeout:   time.Duration(b.CircuitBreakerTimeoutSeconds * float64(time.Second)),
		DirectiveFile:           directiveFile,
	}
}

// runRegisteredCheck resolves a declarative check name to actual work.
// Only "team_status" is wired as a concrete example; unknown names report
// success without doing any work, since the registry of real checks (tool health,
// memory store reachability, and so on) is an external collaborator's
// concern this core doesn't own.
func runRegisteredCheck(ctx context.Context, coord *coordinator.Coordinator, name string) error {
	switch name {
	case "team_status":
		_ = coord.GetTeamStatus()
		return nil
	default:
		return nil
	}
}

func dispatchRoutine(msgBus *bus.MessageBus, r routines.Routine) error {
	recipient := r.Payload.To
	if recipient == "" {
		recipient = bus.TeamRecipient
	}
	msgBus.Send(bus.BotMessage{
		SenderBotID: "scheduler",
		RecipientID: recipient,
		Kind:        bus.MessageAnnouncement,
		Content:     r.Payload.Message,
		Context: map[string]string{
			"routine_id": r.ID,
			"routine":    r.Payload.Routine,
		},
	})
	return nil
}

// estimateTokens is a character-based estimate (~4 chars/token), used when
// no provider-calibrated counter is configured.
func estimateTokens(messages []compactor.Message) int {
	total := 0
	for _, m := range messages {
		total += len(m.Content) / 4
	}
	return total
}
