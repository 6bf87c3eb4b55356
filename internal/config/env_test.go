package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeEnv(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}
	return path
}

func TestLoadEnvFeedsOverrides(t *testing.T) {
	unsetEnv(t, "HEDGER_RISK_ENGINE_URL")
	unsetEnv(t, "HEDGER_RISK_ENGINE_TOKEN")
	unsetEnv(t, "HEDGER_LOG_LEVEL")
	path := writeEnv(t, ""+
		"# risk engine\n"+
		"HEDGER_RISK_ENGINE_URL=http://risk.local/delta\n"+
		"HEDGER_RISK_ENGINE_TOKEN=\"s3cret\"\n"+
		"HEDGER_LOG_LEVEL='debug'\n")
	if err := LoadEnv(path); err != nil {
		t.Fatalf("load env: %v", err)
	}
	if got := os.Getenv("HEDGER_RISK_ENGINE_TOKEN"); got != "s3cret" {
		t.Fatalf("expected unquoted token, got %q", got)
	}

	cfg, err := Parse([]byte("hedger:\n  hedge_cap: 5\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.RiskEngine.URL != "http://risk.local/delta" || cfg.RiskEngine.Token != "s3cret" {
		t.Fatalf("expected risk engine from env, got %+v", cfg.RiskEngine)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("expected log level debug, got %q", cfg.Log.Level)
	}
}

func TestLoadEnvKeepsExistingValues(t *testing.T) {
	t.Setenv("HEDGER_VENUE_ASSET", "BTC")
	path := writeEnv(t, "HEDGER_VENUE_ASSET=ETH\n")
	if err := LoadEnv(path); err != nil {
		t.Fatalf("load env: %v", err)
	}
	if got := os.Getenv("HEDGER_VENUE_ASSET"); got != "BTC" {
		t.Fatalf("expected existing BTC, got %q", got)
	}
}

func TestLoadEnvMissingFile(t *testing.T) {
	if err := LoadEnv(filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Fatalf("missing file should be ignored, got %v", err)
	}
	if err := LoadEnv(""); err != nil {
		t.Fatalf("empty path should be ignored, got %v", err)
	}
}

func TestLoadEnvMalformedFile(t *testing.T) {
	path := writeEnv(t, "HEDGER_LOG_LEVEL=\"unterminated\n")
	unsetEnv(t, "HEDGER_LOG_LEVEL")
	if err := LoadEnv(path); err == nil {
		t.Fatalf("expected error for unterminated quote")
	}
}

func unsetEnv(t *testing.T, key string) {
	t.Helper()
	if old, ok := os.LookupEnv(key); ok {
		t.Cleanup(func() { _ = os.Setenv(key, old) })
	} else {
		t.Cleanup(func() { _ = os.Unsetenv(key) })
	}
	_ = os.Unsetenv(key)
}
