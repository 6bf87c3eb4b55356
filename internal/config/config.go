package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"delta-hedger/internal/hedge"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

const (
	VenueSim         = "sim"
	VenueHyperliquid = "hyperliquid"
)

type Config struct {
	Log        LoggingConfig    `yaml:"log"`
	Venue      VenueConfig      `yaml:"venue"`
	RiskEngine RiskEngineConfig `yaml:"risk_engine"`
	Hedger     HedgerConfig     `yaml:"hedger"`
	Leverage   LeverageConfig   `yaml:"leverage"`
	Sim        SimConfig        `yaml:"sim"`
	State      StateConfig      `yaml:"state"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Telegram   TelegramConfig   `yaml:"telegram"`
	Timescale  TimescaleConfig  `yaml:"timescale"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	// Format is "json" (default) or "console".
	Format string `yaml:"format"`
}

type RESTConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

type WSConfig struct {
	URL            string        `yaml:"url"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	PingInterval   time.Duration `yaml:"ping_interval"`
}

type VenueConfig struct {
	Kind     string     `yaml:"kind"`
	Asset    string     `yaml:"asset"`
	Mainnet  *bool      `yaml:"mainnet"`
	Leverage int        `yaml:"leverage"`
	Token    string     `yaml:"collateral_token"`
	REST     RESTConfig `yaml:"rest"`
	WS       WSConfig   `yaml:"ws"`

	VaultAddress  string `yaml:"vault_address"`
	PrivateKey    string `yaml:"-"`
	WalletAddress string `yaml:"-"`
}

func (v VenueConfig) MainnetValue() bool {
	return v.Mainnet == nil || *v.Mainnet
}

type RiskEngineConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
	// StaticDelta is served when URL is empty; only the sim venue allows it.
	StaticDelta float64 `yaml:"static_delta"`
	Token       string  `yaml:"-"`
}

type HedgerConfig struct {
	InteractionDelay  time.Duration `yaml:"interaction_delay"`
	HedgeCap          float64       `yaml:"hedge_cap"`
	MinSizeDelta      float64       `yaml:"min_size_delta"`
	TickInterval      time.Duration `yaml:"tick_interval"`
	RebalanceInterval time.Duration `yaml:"rebalance_interval"`
}

type LeverageConfig struct {
	Target             float64       `yaml:"target"`
	Buffer             *float64      `yaml:"buffer"`
	AcceptableSlippage float64       `yaml:"acceptable_slippage"`
	MinCancelDelay     time.Duration `yaml:"min_cancel_delay"`
	CollateralBuffer   *float64      `yaml:"collateral_buffer"`
}

type SimConfig struct {
	Price          float64       `yaml:"price"`
	Spread         float64       `yaml:"spread"`
	Slippage       float64       `yaml:"slippage"`
	ExecutionDelay time.Duration `yaml:"execution_delay"`
	PoolCapital    float64       `yaml:"pool_capital"`
}

type StateConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

type MetricsConfig struct {
	Enabled *bool  `yaml:"enabled"`
	Address string `yaml:"address"`
	Path    string `yaml:"path"`
}

func (m MetricsConfig) EnabledValue() bool {
	return m.Enabled != nil && *m.Enabled
}

type TelegramConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Token        string        `yaml:"-"`
	ChatID       string        `yaml:"chat_id"`
	PollInterval time.Duration `yaml:"poll_interval"`
	// OperatorUserIDs restricts operator commands to these senders. Empty
	// accepts anyone posting in ChatID.
	OperatorUserIDs []int64 `yaml:"operator_user_ids"`
}

type TimescaleConfig struct {
	Enabled         bool          `yaml:"enabled"`
	DSN             string        `yaml:"dsn"`
	Schema          string        `yaml:"schema"`
	QueueSize       int           `yaml:"queue_size"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML, fills defaults, applies HEDGER_* environment overrides
// and validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	return &cfg, validate(&cfg)
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Venue.Kind == "" {
		cfg.Venue.Kind = VenueSim
	}
	if cfg.Venue.Token == "" {
		cfg.Venue.Token = "USDC"
	}
	if cfg.Venue.REST.BaseURL == "" {
		cfg.Venue.REST.BaseURL = "https://api.hyperliquid.xyz"
	}
	if cfg.Venue.REST.Timeout == 0 {
		cfg.Venue.REST.Timeout = 10 * time.Second
	}
	if cfg.Venue.WS.URL == "" {
		cfg.Venue.WS.URL = "wss://api.hyperliquid.xyz/ws"
	}
	if cfg.Venue.WS.ReconnectDelay == 0 {
		cfg.Venue.WS.ReconnectDelay = 3 * time.Second
	}
	if cfg.Venue.WS.PingInterval == 0 {
		cfg.Venue.WS.PingInterval = 30 * time.Second
	}
	if cfg.RiskEngine.Timeout == 0 {
		cfg.RiskEngine.Timeout = 5 * time.Second
	}
	if cfg.Hedger.TickInterval == 0 {
		cfg.Hedger.TickInterval = 15 * time.Second
	}
	if cfg.Hedger.RebalanceInterval == 0 {
		cfg.Hedger.RebalanceInterval = time.Minute
	}
	if cfg.Leverage.Target == 0 {
		cfg.Leverage.Target = 3
	}
	if cfg.Leverage.AcceptableSlippage == 0 {
		cfg.Leverage.AcceptableSlippage = 0.005
	}
	if cfg.Leverage.MinCancelDelay == 0 {
		cfg.Leverage.MinCancelDelay = time.Minute
	}
	if cfg.Leverage.Buffer == nil {
		buf := 0.5
		cfg.Leverage.Buffer = &buf
	}
	if cfg.Leverage.CollateralBuffer == nil {
		buf := 0.01
		cfg.Leverage.CollateralBuffer = &buf
	}
	if cfg.Venue.Leverage == 0 {
		cfg.Venue.Leverage = int(cfg.Leverage.Target + *cfg.Leverage.Buffer + 0.999999)
	}
	if cfg.Sim.Price == 0 {
		cfg.Sim.Price = 100
	}
	if cfg.Sim.ExecutionDelay == 0 {
		cfg.Sim.ExecutionDelay = 2 * time.Second
	}
	if cfg.State.SQLitePath == "" {
		cfg.State.SQLitePath = "data/delta-hedger.db"
	}
	if cfg.Metrics.Enabled == nil {
		enabled := true
		cfg.Metrics.Enabled = &enabled
	}
	if cfg.Metrics.Address == "" {
		cfg.Metrics.Address = ":9001"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Telegram.PollInterval == 0 {
		cfg.Telegram.PollInterval = 3 * time.Second
	}
	if cfg.Timescale.Schema == "" {
		cfg.Timescale.Schema = "public"
	}
	if cfg.Timescale.QueueSize == 0 {
		cfg.Timescale.QueueSize = 256
	}
}

func applyEnvOverrides(cfg *Config) {
	setString(&cfg.Log.Level, "HEDGER_LOG_LEVEL")
	setString(&cfg.Venue.Kind, "HEDGER_VENUE_KIND")
	setString(&cfg.Venue.Asset, "HEDGER_VENUE_ASSET")
	setString(&cfg.Venue.VaultAddress, "HEDGER_VAULT_ADDRESS")
	setString(&cfg.Venue.PrivateKey, "HEDGER_PRIVATE_KEY")
	setString(&cfg.Venue.WalletAddress, "HEDGER_WALLET_ADDRESS")
	setString(&cfg.RiskEngine.URL, "HEDGER_RISK_ENGINE_URL")
	setString(&cfg.RiskEngine.Token, "HEDGER_RISK_ENGINE_TOKEN")
	setString(&cfg.State.SQLitePath, "HEDGER_STATE_PATH")
	setString(&cfg.Telegram.Token, "HEDGER_TELEGRAM_TOKEN")
	setString(&cfg.Telegram.ChatID, "HEDGER_TELEGRAM_CHAT_ID")
	setString(&cfg.Timescale.DSN, "HEDGER_TIMESCALE_DSN")
	cfg.Venue.Kind = strings.ToLower(strings.TrimSpace(cfg.Venue.Kind))
}

func setString(dst *string, key string) {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		*dst = val
	}
}

func validate(cfg *Config) error {
	switch cfg.Venue.Kind {
	case VenueSim:
		if cfg.Sim.Price <= 0 {
			return errors.New("sim.price must be > 0")
		}
		if cfg.Sim.Spread < 0 || cfg.Sim.Slippage < 0 {
			return errors.New("sim.spread and sim.slippage must be >= 0")
		}
	case VenueHyperliquid:
		if cfg.Venue.Asset == "" {
			return errors.New("venue.asset is required for hyperliquid")
		}
		if cfg.Venue.PrivateKey == "" {
			return errors.New("HEDGER_PRIVATE_KEY is required for hyperliquid")
		}
		if cfg.RiskEngine.URL == "" {
			return errors.New("risk_engine.url is required for hyperliquid")
		}
	default:
		return fmt.Errorf("venue.kind %q must be %s or %s", cfg.Venue.Kind, VenueSim, VenueHyperliquid)
	}
	if cfg.Hedger.TickInterval < 0 || cfg.Hedger.RebalanceInterval < 0 {
		return errors.New("hedger intervals must be >= 0")
	}
	if cfg.Telegram.Enabled && (cfg.Telegram.Token == "" || cfg.Telegram.ChatID == "") {
		return errors.New("telegram.token and telegram.chat_id are required when telegram is enabled")
	}
	if cfg.Timescale.Enabled && strings.TrimSpace(cfg.Timescale.DSN) == "" {
		return errors.New("timescale.dsn is required when timescale is enabled")
	}
	_, err := cfg.HedgeParams()
	return err
}

// HedgeParams converts the hedger and leverage sections to controller
// parameters and validates them.
func (cfg *Config) HedgeParams() (hedge.Params, error) {
	levBuf, collBuf := 0.0, 0.0
	if cfg.Leverage.Buffer != nil {
		levBuf = *cfg.Leverage.Buffer
	}
	if cfg.Leverage.CollateralBuffer != nil {
		collBuf = *cfg.Leverage.CollateralBuffer
	}
	p := hedge.Params{
		Hedger: hedge.HedgerParams{
			InteractionDelay: cfg.Hedger.InteractionDelay,
			HedgeCap:         decimal.NewFromFloat(cfg.Hedger.HedgeCap),
			MinSizeDelta:     decimal.NewFromFloat(cfg.Hedger.MinSizeDelta),
		},
		Leverage: hedge.LeverageParams{
			TargetLeverage:     decimal.NewFromFloat(cfg.Leverage.Target),
			LeverageBuffer:     decimal.NewFromFloat(levBuf),
			AcceptableSlippage: decimal.NewFromFloat(cfg.Leverage.AcceptableSlippage),
			MinCancelDelay:     cfg.Leverage.MinCancelDelay,
			CollateralBuffer:   decimal.NewFromFloat(collBuf),
		},
	}
	if err := p.Validate(); err != nil {
		return hedge.Params{}, err
	}
	return p, nil
}
