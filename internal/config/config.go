// Package config assembles the root configuration for the orchestration
// engine: per-bot heartbeat cadences, the routines scheduler, the sidekick
// fan-out limits, the content store, and the security/secret layer.
package config

import (
	"encoding/json"
	"fmt"
	"sync"
)

// FlexibleStringSlice accepts both ["str"] and [123] in JSON, matching
// hand-edited config files where a list of room/bot ids may be typed as
// bare numbers.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

// Config is the root configuration for the orchestration engine.
type Config struct {
	Bots      map[string]BotConfig `json:"bots"`
	Team      TeamConfig           `json:"team,omitempty"`
	Routines  RoutinesConfig       `json:"routines"`
	Sidekick  SidekickConfig       `json:"sidekick"`
	Content   ContentConfig        `json:"content"`
	Security  SecurityConfig       `json:"security"`
	Worklog   WorklogConfig        `json:"worklog,omitempty"`
	Telemetry TelemetryConfig      `json:"telemetry,omitempty"`

	mu sync.RWMutex
}

// CheckSpec declares one named background check a bot runs every tick.
// The composition root resolves Name to an actual check_registry entry;
// config only carries the declarative shape (spec.md §3's CheckDefinition).
type CheckSpec struct {
	Name               string  `json:"name"`
	Enabled            bool    `json:"enabled"`
	MaxDurationSeconds float64 `json:"max_duration_seconds,omitempty"`
}

// BotConfig is the declarative shape of one bot's heartbeat cadence, per
// spec.md §3's HeartbeatConfig.
type BotConfig struct {
	Domain                       string      `json:"domain"`
	IntervalSeconds              float64     `json:"interval_seconds"`
	Enabled                      bool        `json:"enabled"`
	Checks                       []CheckSpec `json:"checks,omitempty"`
	ParallelChecks               bool        `json:"parallel_checks"`
	MaxConcurrentChecks          int         `json:"max_concurrent_checks,omitempty"`
	StopOnFirstFailure           bool        `json:"stop_on_first_failure"`
	RetryAttempts                int         `json:"retry_attempts,omitempty"`
	RetryDelaySeconds            float64     `json:"retry_delay_seconds,omitempty"`
	RetryBackoff                 float64     `json:"retry_backoff,omitempty"`
	CircuitBreakerEnabled        bool        `json:"circuit_breaker_enabled"`
	CircuitBreakerThreshold      int         `json:"circuit_breaker_threshold,omitempty"`
	CircuitBreakerTimeoutSeconds float64     `json:"circuit_breaker_timeout_seconds,omitempty"`
	HeartbeatDirectivePath       string      `json:"heartbeat_directive_path,omitempty"`
}

// TeamConfig names the fleet for cross-bot default-routine seeding
// (spec.md SUPPLEMENTED FEATURES: team_check_in / room_pulse / bot_focus).
type TeamConfig struct {
	Energy  string              `json:"energy,omitempty"` // "quiet" | "balanced" | "active"
	RoomIDs FlexibleStringSlice `json:"room_ids,omitempty"`
}

// RoutinesConfig configures the persisted scheduler.
type RoutinesConfig struct {
	StorePath           string  `json:"store_path"`
	TickIntervalSeconds float64 `json:"tick_interval_seconds,omitempty"`
}

// SidekickConfig bounds the sidekick fan-out orchestrator.
type SidekickConfig struct {
	MaxPerBot      int `json:"max_per_bot"`
	MaxPerRoom     int `json:"max_per_room"`
	MaxTokens      int `json:"max_tokens"`
	TimeoutSeconds int `json:"timeout_seconds"`
}

// ContentConfig bounds the externally-fetched content quarantine store.
type ContentConfig struct {
	MaxContentSize int `json:"max_content_size,omitempty"`
	TTLHours       int `json:"ttl_hours,omitempty"`
}

// SecurityConfig configures the injection scanner and secret resolver.
type SecurityConfig struct {
	InjectionScanEnabled bool   `json:"injection_scan_enabled"`
	SecretServiceName    string `json:"secret_service_name,omitempty"`
}

// WorklogConfig configures the relational work-log store. PostgresDSN is
// never read from the config file — environment only, per spec.md §9's
// note on avoiding secret persistence.
type WorklogConfig struct {
	PostgresDSN string `json:"-"`
}

// TelemetryConfig holds OpenTelemetry export settings for spans wrapping
// heartbeat ticks, coordinator task lifecycle, and sidekick runs. The
// engine does not read it: cmd/run.go builds the tracer provider without
// an exporter regardless of these values.
type TelemetryConfig struct {
	Enabled     bool              `json:"enabled,omitempty"`
	Endpoint    string            `json:"endpoint,omitempty"`
	Protocol    string            `json:"protocol,omitempty"` // "grpc" (default) or "http"
	Insecure    bool              `json:"insecure,omitempty"`
	ServiceName string            `json:"service_name,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
}

// ReplaceFrom copies all data fields from src into c, preserving c's mutex.
// Used by the hot-reload watcher to swap in a freshly parsed config without
// invalidating pointers callers already hold.
func (c *Config) ReplaceFrom(src *Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Bots = src.Bots
	c.Team = src.Team
	c.Routines = src.Routines
	c.Sidekick = src.Sidekick
	c.Content = src.Content
	c.Security = src.Security
	c.Worklog = src.Worklog
	c.Telemetry = src.Telemetry
}

// Snapshot returns a shallow copy safe for read-only use by callers that
// need a stable view across concurrent ReplaceFrom calls.
func (c *Config) Snapshot() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Config{
		Bots:      c.Bots,
		Team:      c.Team,
		Routines:  c.Routines,
		Sidekick:  c.Sidekick,
		Content:   c.Content,
		Security:  c.Security,
		Worklog:   c.Worklog,
		Telemetry: c.Telemetry,
	}
}
