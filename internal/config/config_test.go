package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("ADMINGATE_TOKEN_SECRET", "test-secret")
	t.Setenv("ADMINGATE_CHALLENGE_MAX_ATTEMPTS", "5")
	t.Setenv("ADMINGATE_CHALLENGE_LOCKOUT", "15m")
	t.Setenv("ADMINGATE_PG_DSN", "postgres://localhost/journal")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.TokenSecret != "test-secret" {
		t.Fatalf("unexpected token secret %q", cfg.TokenSecret)
	}
	if cfg.ChallengeMaxAttempts != 5 {
		t.Fatalf("max attempts = %d, want 5", cfg.ChallengeMaxAttempts)
	}
	if cfg.ChallengeLockout != 15*time.Minute {
		t.Fatalf("lockout = %v, want 15m", cfg.ChallengeLockout)
	}
	if cfg.PGDSN != "postgres://localhost/journal" {
		t.Fatalf("unexpected dsn %q", cfg.PGDSN)
	}
	if cfg.HTTPAddr != ":8080" || cfg.UnlockTTL != 30*time.Minute {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
}

func TestTrustedProxiesFromEnvironment(t *testing.T) {
	t.Setenv("ADMINGATE_TOKEN_SECRET", "test-secret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.TrustedProxies) != 0 {
		t.Fatalf("no proxy may be trusted by default, got %v", cfg.TrustedProxies)
	}
	if cfg.StreamRecheck != 30*time.Second {
		t.Fatalf("stream recheck = %v, want 30s", cfg.StreamRecheck)
	}

	t.Setenv("ADMINGATE_TRUSTED_PROXIES", "10.0.0.0/8,192.0.2.10")
	if cfg, err = Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.TrustedProxies) != 2 || cfg.TrustedProxies[0] != "10.0.0.0/8" || cfg.TrustedProxies[1] != "192.0.2.10" {
		t.Fatalf("unexpected trusted proxies %v", cfg.TrustedProxies)
	}
}

func TestRiskWeightsFromEnvironment(t *testing.T) {
	t.Setenv("ADMINGATE_TOKEN_SECRET", "test-secret")
	t.Setenv("ADMINGATE_RISK_WEIGHTS_TOR", "40")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RiskWeights.Tor != 40 || cfg.RiskWeights.VPN != 15 {
		t.Fatalf("unexpected weights %+v", cfg.RiskWeights)
	}

	t.Setenv("ADMINGATE_RISK_WEIGHTS_TOR", "80")
	if _, err := Load(); err == nil {
		t.Fatal("expected out-of-range weight to be rejected")
	}
}

func TestLoadFileMustExist(t *testing.T) {
	t.Setenv("ADMINGATE_TOKEN_SECRET", "test-secret")
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing explicit config file")
	}
}

func TestLoadFileYAML(t *testing.T) {
	t.Setenv("ADMINGATE_TOKEN_SECRET", "test-secret")
	path := filepath.Join(t.TempDir(), "admingate.yaml")
	body := "http_addr: \":9999\"\nrisk_weights:\n  vpn: 20\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.HTTPAddr != ":9999" || cfg.RiskWeights.VPN != 20 {
		t.Fatalf("file values not applied: %+v", cfg)
	}
}

func TestLoadRequiresTokenSecret(t *testing.T) {
	t.Setenv("ADMINGATE_TOKEN_SECRET", "")
	if _, err := Load(); err == nil {
		t.Fatal("expected error without token secret")
	}
}

func TestValidateRejectsNonPositiveLimits(t *testing.T) {
	base := Config{
		TokenSecret:          "s",
		ChallengeMaxAttempts: 3,
		ChallengeLockout:     time.Minute,
		UnlockTTL:            time.Minute,
		RateBurst:            1,
		RatePerSec:           1,
		ChallengeRateMax:     1,
		ChallengeRateSpan:    time.Minute,
		MaxBodyBytes:         1024,
		StreamRecheck:        time.Second,
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("base config should be valid: %v", err)
	}

	cases := map[string]func(*Config){
		"attempts": func(c *Config) { c.ChallengeMaxAttempts = 0 },
		"lockout":  func(c *Config) { c.ChallengeLockout = 0 },
		"unlock":   func(c *Config) { c.UnlockTTL = -time.Second },
		"rate":     func(c *Config) { c.RatePerSec = 0 },
		"body":     func(c *Config) { c.MaxBodyBytes = 0 },
		"recheck":  func(c *Config) { c.StreamRecheck = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := base
			mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
