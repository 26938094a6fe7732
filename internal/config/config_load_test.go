package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.json5"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Sidekick.MaxPerBot != 4 {
		t.Fatalf("expected default sidekick cap, got %d", cfg.Sidekick.MaxPerBot)
	}
}

func TestLoadParsesJSON5WithComments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json5")
	body := `{
  // trailing commas and comments are fine in json5
  bots: {
    coder: { domain: "development", interval_seconds: 30, enabled: true },
  },
  sidekick: { max_per_bot: 2, max_per_room: 3, max_tokens: 1000, timeout_seconds: 20 },
}`
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	bot, ok := cfg.Bots["coder"]
	if !ok {
		t.Fatal("expected coder bot to be parsed")
	}
	if bot.Domain != "development" || bot.IntervalSeconds != 30 {
		t.Fatalf("unexpected bot config: %+v", bot)
	}
	if cfg.Sidekick.MaxPerBot != 2 {
		t.Fatalf("expected overridden sidekick cap, got %d", cfg.Sidekick.MaxPerBot)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("BOTMESH_SECRET_SERVICE", "custom-service")
	cfg := Default()
	cfg.applyEnvOverrides()
	if cfg.Security.SecretServiceName != "custom-service" {
		t.Fatalf("expected env override applied, got %q", cfg.Security.SecretServiceName)
	}
}

func TestSaveThenLoadRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Bots["researcher"] = BotConfig{Domain: "research", IntervalSeconds: 60, Enabled: true}

	path := filepath.Join(t.TempDir(), "nested", "config.json")
	if err := Save(path, cfg); err != nil {
		t.Fatalf("save: %v", err)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if reloaded.Bots["researcher"].IntervalSeconds != 60 {
		t.Fatalf("expected round-tripped bot config, got %+v", reloaded.Bots["researcher"])
	}
}

func TestExpandHome(t *testing.T) {
	home, _ := os.UserHomeDir()
	if got := ExpandHome("~/x/y"); got != home+"/x/y" {
		t.Fatalf("expected home expansion, got %q", got)
	}
	if got := ExpandHome("/abs/path"); got != "/abs/path" {
		t.Fatalf("expected absolute path unchanged, got %q", got)
	}
}

func TestFlexibleStringSliceAcceptsNumbersAndStrings(t *testing.T) {
	var f FlexibleStringSlice
	if err := f.UnmarshalJSON([]byte(`["room-1", 42]`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f) != 2 || f[0] != "room-1" || f[1] != "42" {
		t.Fatalf("unexpected result: %v", f)
	}
}
