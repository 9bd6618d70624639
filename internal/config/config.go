// Package config exposes strongly typed application configuration structs loaded from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"fxbot-go/internal/strategy"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Environment variables overlaid on the YAML file. Secrets live only here.
const (
	EnvBrokerToken = "BROKER_API_TOKEN"
	EnvDatabaseURL = "DATABASE_URL"
	EnvWebhookURL  = "ALERT_WEBHOOK_URL"
	EnvDryRun      = "DRY_RUN_MODE"
)

// App captures process-wide runtime settings such as name, environment, metrics, and logging levels.
type App struct {
	Name        string `yaml:"name"`
	Env         string `yaml:"env"`
	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"` // json|console
}

// Feed selects the market data provider and the instruments the engine trades.
type Feed struct {
	Provider       string   `yaml:"provider"` // stub|binance|bridge
	Instruments    []string `yaml:"instruments"`
	Interval       string   `yaml:"interval"` // bar timeframe, e.g. 1m, 5m, 1h
	PollIntervalMs int      `yaml:"poll_interval_ms"`
	BridgeURL      string   `yaml:"bridge_url"`
	BinanceURL     string   `yaml:"binance_url"`
	HistoryLimit   int      `yaml:"history_limit"`
	MaxBars        int      `yaml:"max_bars"`
}

// Generator configures one weighted signal generator. Zero periods select the generator
// defaults; an omitted weight selects strategy.DefaultWeight while an explicit 0 mutes it.
type Generator struct {
	Type         string   `yaml:"type"`
	Name         string   `yaml:"name,omitempty"`
	Weight       *float64 `yaml:"weight,omitempty"`
	FastPeriod   int      `yaml:"fast_period,omitempty"`
	SlowPeriod   int      `yaml:"slow_period,omitempty"`
	SignalPeriod int      `yaml:"signal_period,omitempty"`
	Period       int      `yaml:"period,omitempty"`
	Overbought   float64  `yaml:"overbought,omitempty"`
	Oversold     float64  `yaml:"oversold,omitempty"`
	StdDev       float64  `yaml:"std_dev,omitempty"`
}

// VoteWeight returns the configured weight or the default when none was set.
func (g Generator) VoteWeight() float64 {
	if g.Weight == nil {
		return strategy.DefaultWeight
	}
	return *g.Weight
}

// Filter holds the signal quality gate thresholds.
type Filter struct {
	MinConfidence   float64 `yaml:"min_confidence"`
	MinStrength     float64 `yaml:"min_strength"`
	CooldownMinutes int     `yaml:"cooldown_minutes"`
	HistorySize     int     `yaml:"history_size"`
}

// Risk encodes guard-rails for how much size the executor may take on.
type Risk struct {
	DailyLossLimit        float64 `yaml:"daily_loss_limit"`
	MaxOrderSize          float64 `yaml:"max_order_size"`
	DryRunMode            bool    `yaml:"dry_run_mode"`
	ExecutionMinStrength  float64 `yaml:"execution_min_strength"`
	RiskFraction          float64 `yaml:"risk_fraction"`
	FundingCurrency       string  `yaml:"funding_currency"`
	StartingBalance       float64 `yaml:"starting_balance"`
	MaxUnitsPerInstrument float64 `yaml:"max_units_per_instrument"`
}

// Execution points at the broker bridge used in live mode.
type Execution struct {
	BrokerURL       string `yaml:"broker_url"`
	BrokerToken     string `yaml:"broker_token,omitempty"`
	BrokerTimeoutMs int    `yaml:"broker_timeout_ms"`
	OrderType       string `yaml:"order_type"` // MARKET|LIMIT
}

// Store selects where terminal orders are persisted. An empty driver keeps them in memory.
type Store struct {
	Driver    string `yaml:"driver"` // ""|postgres
	DSN       string `yaml:"dsn,omitempty"`
	JSONLPath string `yaml:"jsonl_path"`
}

// Alerts configures the operator notification webhook.
type Alerts struct {
	WebhookURL   string `yaml:"webhook_url"`
	WebhookToken string `yaml:"webhook_token,omitempty"`
	TimeoutMs    int    `yaml:"timeout_ms"`
}

// Engine configures the decision loop cadence.
type Engine struct {
	TickIntervalMs int `yaml:"tick_interval_ms"`
}

// Config collects every configuration leaf for easy marshaling from YAML.
type Config struct {
	App       App         `yaml:"app"`
	Feed      Feed        `yaml:"feed"`
	Signals   []Generator `yaml:"signals"`
	Filter    Filter      `yaml:"filter"`
	Risk      Risk        `yaml:"risk"`
	Execution Execution   `yaml:"execution"`
	Store     Store       `yaml:"store"`
	Alerts    Alerts      `yaml:"alerts"`
	Engine    Engine      `yaml:"engine"`
}

// Default returns a dry-run configuration that runs offline against the stub feed.
func Default() *Config {
	return &Config{
		App: App{Name: "fxbot", Env: "dev", MetricsAddr: ":9102", LogLevel: "info", LogFormat: "json"},
		Feed: Feed{
			Provider:       "stub",
			Instruments:    []string{"EURUSD", "GBPUSD", "USDJPY"},
			Interval:       "1m",
			PollIntervalMs: 2000,
			HistoryLimit:   200,
			MaxBars:        1000,
		},
		Filter: Filter{MinConfidence: 0.5, MinStrength: 0.3, CooldownMinutes: 15, HistorySize: 1000},
		Risk: Risk{
			DailyLossLimit:       1000,
			MaxOrderSize:         10000,
			DryRunMode:           true,
			ExecutionMinStrength: 0.7,
			RiskFraction:         0.01,
			FundingCurrency:      "USD",
			StartingBalance:      10000,
		},
		Execution: Execution{BrokerTimeoutMs: 15000, OrderType: "MARKET"},
		Alerts:    Alerts{TimeoutMs: 5000},
		Engine:    Engine{TickIntervalMs: 60000},
	}
}

// Load reads a YAML file from disk over the defaults.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	config := Default()
	if err := yaml.NewDecoder(file).Decode(config); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	return config, nil
}

// Save persists a Config struct to disk as YAML.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// ApplyEnv loads .env when present (best-effort) and overlays secrets and the
// dry-run switch from the process environment.
func (c *Config) ApplyEnv() error {
	_ = godotenv.Load()
	if v, ok := os.LookupEnv(EnvBrokerToken); ok {
		c.Execution.BrokerToken = v
	}
	if v, ok := os.LookupEnv(EnvDatabaseURL); ok && v != "" {
		c.Store.DSN = v
		if c.Store.Driver == "" {
			c.Store.Driver = "postgres"
		}
	}
	if v, ok := os.LookupEnv(EnvWebhookURL); ok {
		c.Alerts.WebhookURL = v
	}
	if v, ok := os.LookupEnv(EnvDryRun); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvDryRun, err)
		}
		c.Risk.DryRunMode = b
	}
	return nil
}

// Validate reports every problem at once, wrapped in ErrInvalid.
func (c *Config) Validate() error {
	var issues []string
	add := func(format string, args ...any) { issues = append(issues, fmt.Sprintf(format, args...)) }

	switch strings.ToLower(c.Feed.Provider) {
	case "stub", "binance":
	case "bridge":
		if c.Feed.BridgeURL == "" {
			add("feed.bridge_url is required for the bridge provider")
		}
	default:
		add("feed.provider %q is not one of stub, binance, bridge", c.Feed.Provider)
	}
	if len(c.Feed.Instruments) == 0 {
		add("feed.instruments must not be empty")
	}
	if d, err := time.ParseDuration(c.Feed.Interval); err != nil || d < time.Minute {
		add("feed.interval %q must be a duration of at least 1m", c.Feed.Interval)
	}
	if c.Feed.PollIntervalMs <= 0 {
		add("feed.poll_interval_ms must be positive, got %d", c.Feed.PollIntervalMs)
	}
	if c.Feed.HistoryLimit < 0 || c.Feed.MaxBars < 0 {
		add("feed.history_limit and feed.max_bars cannot be negative")
	}

	for i, g := range c.Signals {
		if !strategy.KnownType(g.Type) {
			add("signals[%d]: unknown generator type %q", i, g.Type)
		}
		if w := g.VoteWeight(); w < 0 {
			add("signals[%d]: weight cannot be negative, got %.2f", i, w)
		}
		if g.FastPeriod < 0 || g.SlowPeriod < 0 || g.SignalPeriod < 0 || g.Period < 0 {
			add("signals[%d]: periods must be positive", i)
		}
		if g.FastPeriod > 0 && g.SlowPeriod > 0 && g.FastPeriod >= g.SlowPeriod {
			add("signals[%d]: fast_period %d must be below slow_period %d", i, g.FastPeriod, g.SlowPeriod)
		}
		if g.Oversold < 0 || g.Overbought > 100 || (g.Overbought > 0 && g.Oversold >= g.Overbought) {
			add("signals[%d]: oversold/overbought levels must satisfy 0 <= oversold < overbought <= 100", i)
		}
		if g.StdDev < 0 {
			add("signals[%d]: std_dev cannot be negative", i)
		}
	}

	if !unit(c.Filter.MinConfidence) || !unit(c.Filter.MinStrength) {
		add("filter thresholds must lie in [0,1]")
	}
	if c.Filter.CooldownMinutes < 0 || c.Filter.HistorySize < 0 {
		add("filter.cooldown_minutes and filter.history_size cannot be negative")
	}

	if c.Risk.DailyLossLimit < 0 {
		add("risk.daily_loss_limit cannot be negative, got %.2f", c.Risk.DailyLossLimit)
	}
	if c.Risk.MaxOrderSize <= 0 {
		add("risk.max_order_size must be positive, got %.2f", c.Risk.MaxOrderSize)
	}
	if !unit(c.Risk.ExecutionMinStrength) {
		add("risk.execution_min_strength must lie in [0,1]")
	}
	if c.Risk.RiskFraction <= 0 || c.Risk.RiskFraction > 1 {
		add("risk.risk_fraction must lie in (0,1], got %.4f", c.Risk.RiskFraction)
	}
	if c.Risk.StartingBalance < 0 || c.Risk.MaxUnitsPerInstrument < 0 {
		add("risk.starting_balance and risk.max_units_per_instrument cannot be negative")
	}
	if len(c.Risk.FundingCurrency) != 3 {
		add("risk.funding_currency %q must be a 3-letter code", c.Risk.FundingCurrency)
	}

	if !c.Risk.DryRunMode && c.Execution.BrokerURL == "" {
		add("execution.broker_url is required when dry_run_mode is off")
	}
	if c.Execution.BrokerTimeoutMs <= 0 {
		add("execution.broker_timeout_ms must be positive, got %d", c.Execution.BrokerTimeoutMs)
	}
	switch strings.ToUpper(c.Execution.OrderType) {
	case "", "MARKET", "LIMIT":
	default:
		add("execution.order_type %q is not MARKET or LIMIT", c.Execution.OrderType)
	}

	switch c.Store.Driver {
	case "":
	case "postgres":
		if c.Store.DSN == "" {
			add("store.dsn (or %s) is required for the postgres driver", EnvDatabaseURL)
		}
	default:
		add("store.driver %q is not supported", c.Store.Driver)
	}
	if c.Alerts.TimeoutMs < 0 {
		add("alerts.timeout_ms cannot be negative")
	}
	if c.Engine.TickIntervalMs <= 0 {
		add("engine.tick_interval_ms must be positive, got %d", c.Engine.TickIntervalMs)
	}

	if len(issues) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(issues, "; "))
	}
	return nil
}

// GeneratorParams converts the configured signals into factory parameters.
func (c *Config) GeneratorParams() []strategy.Params {
	if len(c.Signals) == 0 {
		return nil
	}
	out := make([]strategy.Params, len(c.Signals))
	for i, g := range c.Signals {
		out[i] = strategy.Params{
			Type:         g.Type,
			Name:         g.Name,
			Weight:       g.VoteWeight(),
			FastPeriod:   g.FastPeriod,
			SlowPeriod:   g.SlowPeriod,
			SignalPeriod: g.SignalPeriod,
			Period:       g.Period,
			Overbought:   g.Overbought,
			Oversold:     g.Oversold,
			StdDev:       g.StdDev,
		}
	}
	return out
}

// BarInterval parses feed.interval; invalid values fall back to one minute.
func (f Feed) BarInterval() time.Duration {
	d, err := time.ParseDuration(f.Interval)
	if err != nil || d <= 0 {
		return time.Minute
	}
	return d
}

// PollInterval is the HTTP polling cadence.
func (f Feed) PollInterval() time.Duration { return ms(f.PollIntervalMs) }

// Cooldown is the minimum gap between accepted signals of the same direction.
func (f Filter) Cooldown() time.Duration { return time.Duration(f.CooldownMinutes) * time.Minute }

func (e Execution) BrokerTimeout() time.Duration { return ms(e.BrokerTimeoutMs) }

func (a Alerts) Timeout() time.Duration { return ms(a.TimeoutMs) }

func (e Engine) TickInterval() time.Duration { return ms(e.TickIntervalMs) }

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

func unit(v float64) bool { return v >= 0 && v <= 1 }
