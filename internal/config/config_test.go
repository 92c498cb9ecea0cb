package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/opensource-finance/simguard/internal/domain"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "simguard.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv(EnvConfigFile, "")
	t.Setenv(EnvTier, "")

	cfg, err := Load(Options{})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Tier != domain.TierCommunity {
		t.Errorf("expected community tier, got %s", cfg.Tier)
	}
	if cfg.Repository.Driver != "sqlite" || cfg.EventBus.Type != "channel" {
		t.Errorf("unexpected backends: %s/%s", cfg.Repository.Driver, cfg.EventBus.Type)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("expected port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Analysis.SessionTTL != 24*time.Hour {
		t.Errorf("expected 24h session TTL, got %s", cfg.Analysis.SessionTTL)
	}
	if cfg.Policy.Version != "v1" || cfg.Policy.Weight(domain.RuleDeviceChangeAfterSim) != 25 {
		t.Errorf("unexpected default policy: %+v", cfg.Policy)
	}
	if cfg.Policy.Thresholds.SimChangeHours != 72 {
		t.Errorf("expected 72h SIM change window, got %v", cfg.Policy.Thresholds.SimChangeHours)
	}
}

func TestLoadProTier(t *testing.T) {
	t.Setenv(EnvConfigFile, "")
	t.Setenv(EnvTier, "pro")

	cfg, err := Load(Options{})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Tier != domain.TierPro {
		t.Errorf("expected pro tier, got %s", cfg.Tier)
	}
	if cfg.Repository.Driver != "postgres" || cfg.Cache.Type != "redis" || cfg.EventBus.Type != "nats" {
		t.Errorf("unexpected pro backends: %+v", cfg)
	}
	if !cfg.Analysis.AsyncWorker {
		t.Error("expected async worker in pro tier")
	}
}

func TestLoadFile(t *testing.T) {
	t.Setenv(EnvTier, "")

	path := writeFile(t, `
server:
  port: 9090
analysis:
  workers: 2
  session_ttl: 30m
policy:
  version: field-trial
  thresholds:
    failed_logins: 5
  tiers:
    low_max: 20
    medium_max: 50
`)

	cfg, err := Load(Options{Path: path})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Analysis.Workers != 2 || cfg.Analysis.SessionTTL != 30*time.Minute {
		t.Errorf("unexpected analysis config: %+v", cfg.Analysis)
	}
	if cfg.Policy.Version != "field-trial" || cfg.Policy.Thresholds.FailedLogins != 5 {
		t.Errorf("unexpected policy: %+v", cfg.Policy)
	}
	// Untouched keys keep their defaults.
	if cfg.Policy.Thresholds.SimChangeHours != 72 {
		t.Errorf("expected default SIM window, got %v", cfg.Policy.Thresholds.SimChangeHours)
	}
	if cfg.Policy.TierFor(25) != domain.TierMedium {
		t.Errorf("expected custom bands to apply")
	}
}

func TestLoadFileFromEnv(t *testing.T) {
	t.Setenv(EnvTier, "")
	t.Setenv(EnvConfigFile, writeFile(t, "server:\n  host: 127.0.0.1\n"))

	cfg, err := Load(Options{})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("expected host from file, got %s", cfg.Server.Host)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Setenv(EnvTier, "")
	t.Setenv(EnvConfigFile, "")

	if _, err := Load(Options{Path: filepath.Join(t.TempDir(), "absent.yaml")}); err == nil {
		t.Error("expected error for an explicit missing file")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv(EnvConfigFile, "")
	t.Setenv(EnvTier, "")
	t.Setenv("SIMGUARD_SERVER__PORT", "7070")
	t.Setenv("SIMGUARD_REPOSITORY__SQLITE_PATH", "/tmp/override.db")
	t.Setenv("SIMGUARD_ANALYSIS__ASYNC_WORKER", "true")
	t.Setenv("SIMGUARD_POLICY__THRESHOLDS__LOCATION_DISTANCE_KM", "250")

	cfg, err := Load(Options{})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 7070 {
		t.Errorf("expected port 7070, got %d", cfg.Server.Port)
	}
	if cfg.Repository.SQLitePath != "/tmp/override.db" {
		t.Errorf("expected sqlite path override, got %s", cfg.Repository.SQLitePath)
	}
	if !cfg.Analysis.AsyncWorker {
		t.Error("expected async worker override")
	}
	if cfg.Policy.Thresholds.LocationDistanceKm != 250 {
		t.Errorf("expected 250 km, got %v", cfg.Policy.Thresholds.LocationDistanceKm)
	}
}

func TestLoadRejectsInvalidPolicy(t *testing.T) {
	t.Setenv(EnvConfigFile, "")
	t.Setenv(EnvTier, "")
	t.Setenv("SIMGUARD_POLICY__TIERS__MEDIUM_MAX", "10")

	if _, err := Load(Options{}); err == nil {
		t.Error("expected error when medium band is below low band")
	}
}

func TestEnvKey(t *testing.T) {
	cases := map[string]string{
		"SIMGUARD_SERVER__PORT":               "server.port",
		"SIMGUARD_TIER":                       "",
		"SIMGUARD_CONFIG":                     "",
		"SIMGUARD_CACHE__REDIS_ADDR":          "cache.redis_addr",
		"SIMGUARD_POLICY__WEIGHTS__ROAMING_X": "policy.weights.roaming_x",
	}
	for in, want := range cases {
		if got := envKey(in); got != want {
			t.Errorf("envKey(%q) = %q, want %q", in, got, want)
		}
	}
}
