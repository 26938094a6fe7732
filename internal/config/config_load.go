package config

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults: no bots registered yet
// (callers add one BotConfig per specialist), token-limit-friendly
// sidekick caps, and a 24h content TTL per spec.md §4.9.
func Default() *Config {
	return &Config{
		Bots: make(map[string]BotConfig),
		Team: TeamConfig{Energy: "balanced"},
		Routines: RoutinesConfig{
			StorePath:           "~/.botmesh/routines/jobs.json",
			TickIntervalSeconds: 1,
		},
		Sidekick: SidekickConfig{
			MaxPerBot:      4,
			MaxPerRoom:     6,
			MaxTokens:      20000,
			TimeoutSeconds: 90,
		},
		Content: ContentConfig{
			MaxContentSize: 500_000,
			TTLHours:       24,
		},
		Security: SecurityConfig{
			InjectionScanEnabled: true,
			SecretServiceName:    "botmesh",
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars. A missing
// file is not an error — it yields Default() with env overrides applied.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("BOTMESH_POSTGRES_DSN"); v != "" {
		c.Worklog.PostgresDSN = v
	}
	if v := os.Getenv("BOTMESH_SECRET_SERVICE"); v != "" {
		c.Security.SecretServiceName = v
	}
	if v := os.Getenv("BOTMESH_ROUTINES_STORE"); v != "" {
		c.Routines.StorePath = v
	}
	if v := os.Getenv("BOTMESH_TELEMETRY_ENDPOINT"); v != "" {
		c.Telemetry.Endpoint = v
		c.Telemetry.Enabled = true
	}
}

// Save writes the config to a JSON file atomically: write to a temp file
// in the same directory, then rename over the destination, so a reader
// never observes a partially-written file.
func Save(path string, cfg *Config) error {
	cfg.mu.RLock()
	data, err := json.MarshalIndent(cfg, "", "  ")
	cfg.mu.RUnlock()
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".config-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

// Hash returns a SHA-256 prefix of the config for optimistic concurrency
// checks across a hot-reload.
func (c *Config) Hash() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, _ := json.Marshal(c)
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:8])
}

// ExpandHome replaces a leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}

// WatchFile watches path for writes/renames (the pattern an editor save
// or an atomic Save() produces) and invokes onChange with a freshly
// Load()-ed config. Runs until ctx-independent stop() is called; callers
// typically wire stop() to their process shutdown path. Watch errors are
// logged, not propagated, matching the fleet/scheduler loops' "never
// abort on a single failure" policy.
func WatchFile(path string, onChange func(*Config)) (stop func(), err error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	dir := filepath.Dir(ExpandHome(path))
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch config dir: %w", err)
	}

	done := make(chan struct{})
	go func() {
		defer watcher.Close()
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(ExpandHome(path)) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				cfg, err := Load(ExpandHome(path))
				if err != nil {
					slog.Warn("config hot-reload failed", "path", path, "error", err)
					continue
				}
				onChange(cfg)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("config watcher error", "error", err)
			case <-done:
				return
			}
		}
	}()

	return func() { close(done) }, nil
}
