package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"delta-hedger/internal/hedge"

	"github.com/shopspring/decimal"
)

func TestParseSimDefaults(t *testing.T) {
	cfg, err := Parse([]byte("hedger:\n  hedge_cap: 25\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Venue.Kind != VenueSim {
		t.Fatalf("expected sim venue default, got %q", cfg.Venue.Kind)
	}
	if cfg.Hedger.TickInterval <= 0 || cfg.Hedger.RebalanceInterval <= 0 {
		t.Fatalf("expected loop interval defaults, got %+v", cfg.Hedger)
	}
	if cfg.Leverage.CollateralBuffer == nil || *cfg.Leverage.CollateralBuffer != 0.01 {
		t.Fatalf("expected collateral buffer default 0.01")
	}
	if !cfg.Metrics.EnabledValue() || cfg.Metrics.Path != "/metrics" {
		t.Fatalf("expected metrics enabled on /metrics, got %+v", cfg.Metrics)
	}
	if cfg.Leverage.Buffer == nil || *cfg.Leverage.Buffer != 0.5 {
		t.Fatalf("expected leverage buffer default 0.5")
	}
	if cfg.Venue.Leverage != 4 {
		t.Fatalf("expected venue leverage 4, got %d", cfg.Venue.Leverage)
	}
	if !cfg.Venue.MainnetValue() {
		t.Fatalf("expected mainnet default")
	}
}

func TestHedgeParamsConversion(t *testing.T) {
	yaml := `
hedger:
  interaction_delay: 30s
  hedge_cap: 12.5
  min_size_delta: 0.01
leverage:
  target: 4
  buffer: 0.5
  acceptable_slippage: 0.002
  min_cancel_delay: 2m
  collateral_buffer: 0
`
	cfg, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	p, err := cfg.HedgeParams()
	if err != nil {
		t.Fatalf("params: %v", err)
	}
	if p.Hedger.InteractionDelay != 30*time.Second || !p.Hedger.HedgeCap.Equal(decimal.RequireFromString("12.5")) {
		t.Fatalf("unexpected hedger params %+v", p.Hedger)
	}
	if !p.Leverage.TargetLeverage.Equal(decimal.NewFromInt(4)) || !p.Leverage.CollateralBuffer.IsZero() {
		t.Fatalf("unexpected leverage params %+v", p.Leverage)
	}
	if p.Leverage.MinCancelDelay != 2*time.Minute {
		t.Fatalf("expected cancel delay 2m, got %v", p.Leverage.MinCancelDelay)
	}
}

func TestInvalidLeverageRejected(t *testing.T) {
	_, err := Parse([]byte("leverage:\n  target: 2\n  buffer: 3\n"))
	if !errors.Is(err, hedge.ErrInvalidParams) {
		t.Fatalf("expected ErrInvalidParams, got %v", err)
	}
}

func TestUnknownVenueRejected(t *testing.T) {
	if _, err := Parse([]byte("venue:\n  kind: gmx\n")); err == nil {
		t.Fatalf("expected error for unknown venue")
	}
}

func TestHyperliquidRequiresSecrets(t *testing.T) {
	t.Setenv("HEDGER_PRIVATE_KEY", "")
	yaml := "venue:\n  kind: hyperliquid\n  asset: ETH\nrisk_engine:\n  url: http://risk/delta\n"
	if _, err := Parse([]byte(yaml)); err == nil {
		t.Fatalf("expected missing private key error")
	}
	t.Setenv("HEDGER_PRIVATE_KEY", "0xabc")
	cfg, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Venue.PrivateKey != "0xabc" {
		t.Fatalf("expected private key from env")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("HEDGER_VENUE_KIND", "SIM")
	t.Setenv("HEDGER_LOG_LEVEL", "debug")
	t.Setenv("HEDGER_TELEGRAM_TOKEN", "tok")
	t.Setenv("HEDGER_TELEGRAM_CHAT_ID", "42")
	cfg, err := Parse([]byte("venue:\n  kind: hyperliquid\ntelegram:\n  enabled: true\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Venue.Kind != VenueSim || cfg.Log.Level != "debug" {
		t.Fatalf("expected env overrides, got kind=%q level=%q", cfg.Venue.Kind, cfg.Log.Level)
	}
	if cfg.Telegram.Token != "tok" || cfg.Telegram.ChatID != "42" {
		t.Fatalf("expected telegram credentials from env")
	}
}

func TestTelegramAndTimescaleValidation(t *testing.T) {
	t.Setenv("HEDGER_TELEGRAM_TOKEN", "")
	t.Setenv("HEDGER_TIMESCALE_DSN", "")
	if _, err := Parse([]byte("telegram:\n  enabled: true\n")); err == nil {
		t.Fatalf("expected telegram validation error")
	}
	if _, err := Parse([]byte("timescale:\n  enabled: true\n")); err == nil {
		t.Fatalf("expected timescale validation error")
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("sim:\n  price: 2500\n  pool_capital: 10000\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Sim.Price != 2500 || cfg.Sim.PoolCapital != 10000 {
		t.Fatalf("unexpected sim config %+v", cfg.Sim)
	}
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
}
