package heartbeat

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// CrossBotCheck is a named periodic task operating on the whole fleet,
// scheduled independently of any single bot's cadence.
type CrossBotCheck struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context, fleet *FleetManager) error
}

// FleetManager supervises a set of per-bot Services: registration,
// fleet-wide start/stop, single-bot or whole-fleet triggers, and
// aggregated team health reporting.
type FleetManager struct {
	mu       sync.RWMutex
	services map[string]*Service
	cards    map[string]RoleCard

	crossChecks []CrossBotCheck
	crossCancel []context.CancelFunc
}

// NewFleetManager creates an empty fleet.
func NewFleetManager() *FleetManager {
	return &FleetManager{services: make(map[string]*Service)}
}

// Register adds a bot's heartbeat service to the fleet.
func (f *FleetManager) Register(botName string, svc *Service) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.services[botName] = svc
}

// Unregister stops (if running) and removes a bot's service.
func (f *FleetManager) Unregister(botName string) {
	f.mu.Lock()
	svc, ok := f.services[botName]
	delete(f.services, botName)
	f.mu.Unlock()
	if ok {
		svc.Stop()
	}
}

// StartAll starts every registered bot's heartbeat.
func (f *FleetManager) StartAll(ctx context.Context) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, svc := range f.services {
		svc.Start(ctx)
	}
}

// StopAll stops every registered bot's heartbeat and any cross-bot checks.
func (f *FleetManager) StopAll() {
	f.mu.RLock()
	cancels := append([]context.CancelFunc(nil), f.crossCancel...)
	services := make([]*Service, 0, len(f.services))
	for _, svc := range f.services {
		services = append(services, svc)
	}
	f.mu.RUnlock()

	for _, cancel := range cancels {
		cancel()
	}
	for _, svc := range services {
		svc.Stop()
	}
}

// Trigger runs one out-of-cadence tick for a single bot.
func (f *FleetManager) Trigger(ctx context.Context, botName, reason string) (Tick, error) {
	f.mu.RLock()
	svc, ok := f.services[botName]
	f.mu.RUnlock()
	if !ok {
		return Tick{}, fmt.Errorf("fleet: unknown bot %q", botName)
	}
	return svc.TriggerNow(ctx, reason), nil
}

// TriggerAll runs one out-of-cadence tick for every registered bot.
func (f *FleetManager) TriggerAll(ctx context.Context, reason string) map[string]Tick {
	f.mu.RLock()
	services := make(map[string]*Service, len(f.services))
	for name, svc := range f.services {
		services[name] = svc
	}
	f.mu.RUnlock()

	results := make(map[string]Tick, len(services))
	for name, svc := range services {
		results[name] = svc.TriggerNow(ctx, reason)
	}
	return results
}

// TeamHealth is the aggregated status of every registered bot.
type TeamHealth struct {
	Bots map[string]Status
}

// TeamHealth reports per-bot success rate, uptime, and circuit state.
func (f *FleetManager) TeamHealth() TeamHealth {
	f.mu.RLock()
	defer f.mu.RUnlock()
	health := TeamHealth{Bots: make(map[string]Status, len(f.services))}
	for name, svc := range f.services {
		health.Bots[name] = svc.GetStatus()
	}
	return health
}

// AddCrossBotCheck registers and starts a periodic whole-fleet task,
// scheduled on its own interval independent of any bot's cadence.
func (f *FleetManager) AddCrossBotCheck(ctx context.Context, check CrossBotCheck) {
	runCtx, cancel := context.WithCancel(ctx)

	f.mu.Lock()
	f.crossChecks = append(f.crossChecks, check)
	f.crossCancel = append(f.crossCancel, cancel)
	f.mu.Unlock()

	go func() {
		ticker := time.NewTicker(check.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				_ = check.Run(runCtx, f)
			}
		}
	}()
}
