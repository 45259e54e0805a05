package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kirillkom/navi-mailroom/internal/core/routing"
)

func TestLoadDefaultsDeriveFromNaviRoot(t *testing.T) {
	t.Setenv("NAVI_ROOT", "/srv/navi")
	t.Setenv("INBOX_DIR", "")
	t.Setenv("BATCH_LOG_TIMEOUT", "")
	t.Setenv("WATCH_DEBOUNCE", "")

	cfg := Load()
	if cfg.InboxDir != filepath.Join("/srv/navi", "inbox") {
		t.Fatalf("expected inbox under navi root, got %q", cfg.InboxDir)
	}
	if cfg.SeenRegistryPath != filepath.Join("/srv/navi", "metadata", "seen_files.jsonl") {
		t.Fatalf("unexpected seen registry path %q", cfg.SeenRegistryPath)
	}
	if cfg.BatchLogTimeout != 5*time.Second {
		t.Fatalf("expected default batch log timeout 5s, got %s", cfg.BatchLogTimeout)
	}
	if cfg.WatchDebounce != 750*time.Millisecond {
		t.Fatalf("expected default debounce 750ms, got %s", cfg.WatchDebounce)
	}
	if cfg.MCPApprovalToken != "" {
		t.Fatalf("approval token must default to empty")
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	t.Setenv("BATCH_LOG_TIMEOUT", "1500")
	t.Setenv("WATCH_DEBOUNCE", "2s")
	t.Setenv("AI_TIMEOUT", "nonsense")
	t.Setenv("API_RATE_LIMIT_RPS", "2.5")
	t.Setenv("WATCH_ENABLED", "false")
	t.Setenv("RETRY_ATTEMPTS", "5")
	t.Setenv("BREAKER_ENABLED", "0")

	cfg := Load()
	if cfg.BatchLogTimeout != 1500*time.Millisecond {
		t.Fatalf("expected 1500ms, got %s", cfg.BatchLogTimeout)
	}
	if cfg.WatchDebounce != 2*time.Second {
		t.Fatalf("expected 2s, got %s", cfg.WatchDebounce)
	}
	if cfg.AITimeout != 8*time.Second {
		t.Fatalf("expected fallback for bad duration, got %s", cfg.AITimeout)
	}
	if cfg.APIRateLimitRPS != 2.5 || cfg.WatchEnabled {
		t.Fatalf("unexpected overrides: rps=%v watch=%v", cfg.APIRateLimitRPS, cfg.WatchEnabled)
	}
	if cfg.RetryAttempts != 5 || cfg.BreakerEnabled {
		t.Fatalf("unexpected resilience overrides: attempts=%d breaker=%v", cfg.RetryAttempts, cfg.BreakerEnabled)
	}
}

func TestLoadRoutingConfigExample(t *testing.T) {
	cfg, err := LoadRoutingConfig(filepath.Join("..", "..", "configs", "routing.example.yaml"))
	if err != nil {
		t.Fatalf("LoadRoutingConfig() error = %v", err)
	}
	if cfg.Dedup.Policy != routing.DedupPolicySkip || cfg.Thresholds.AutoRoute != 0.7 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	target := cfg.PathsForRoute("DDM.Finance")
	if target.StorageRel != "sorted/DDM/Finance/INBOX" || target.Office != "DDM" {
		t.Fatalf("unexpected target: %+v", target)
	}
}

func TestLoadRoutingConfigRejectsBadInput(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"unknown key":   "thresholdz:\n  legal: 0.5\n",
		"bad threshold": "thresholds:\n  legal: 7\n",
		"bad policy":    "dedup:\n  policy: shred\n",
	}
	for name, body := range cases {
		path := filepath.Join(dir, name+".yaml")
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := LoadRoutingConfig(path); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
	if _, err := LoadRoutingConfig(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadRoutingConfigEmptyPathUsesDefaults(t *testing.T) {
	cfg, err := LoadRoutingConfig("")
	if err != nil {
		t.Fatalf("LoadRoutingConfig() error = %v", err)
	}
	if cfg.Thresholds != routing.DefaultThresholds() {
		t.Fatalf("unexpected thresholds: %+v", cfg.Thresholds)
	}
}
