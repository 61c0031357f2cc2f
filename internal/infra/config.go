package infra

import (
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config holds every tunable of the engine. Values load from YAML and can
// be overridden through environment variables for deployment.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Server struct {
		Addr      string `yaml:"addr"`
		PprofAddr string `yaml:"pprof_addr"`
	} `yaml:"server"`

	Storage struct {
		Path string `yaml:"path"` // sqlite file for the durable store
	} `yaml:"storage"`

	Ledger struct {
		Path            string `yaml:"path"` // badger directory for the bid ledger
		DrainIntervalMS int    `yaml:"drain_interval_ms"`
	} `yaml:"ledger"`

	Auction struct {
		// Late-bid window before the deadline that triggers an extension,
		// and the amount the deadline moves by.
		ExtensionWindowMin    int `yaml:"extension_window_min"`
		ExtensionIncrementMin int `yaml:"extension_increment_min"`

		// Instant buy stays open while currentPrice < threshold x buyNowPrice.
		// The same fraction gates rank-2 promotion after a no-show.
		InstantBuyThreshold decimal.Decimal `yaml:"instant_buy_threshold"`
		InstantBuyGraceMin  int             `yaml:"instant_buy_grace_min"`

		Rank1ResponseHours int `yaml:"rank1_response_hours"`
		Rank2ResponseHours int `yaml:"rank2_response_hours"`

		CloseSweepIntervalMS  int `yaml:"close_sweep_interval_ms"`
		NoShowSweepIntervalMS int `yaml:"noshow_sweep_interval_ms"`
	} `yaml:"auction"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// LoadConfig reads and parses the configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	overrideWithEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server addr is required")
	}
	if c.Storage.Path == "" {
		return fmt.Errorf("storage path is required")
	}
	if c.Ledger.Path == "" {
		return fmt.Errorf("ledger path is required")
	}
	if c.Ledger.DrainIntervalMS <= 0 {
		return fmt.Errorf("ledger drain interval must be positive")
	}
	if c.Auction.ExtensionWindowMin <= 0 || c.Auction.ExtensionIncrementMin <= 0 {
		return fmt.Errorf("extension window and increment must be positive")
	}
	if c.Auction.InstantBuyThreshold.LessThanOrEqual(decimal.Zero) ||
		c.Auction.InstantBuyThreshold.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("instant buy threshold must be in (0, 1]")
	}
	if c.Auction.InstantBuyGraceMin <= 0 {
		return fmt.Errorf("instant buy grace window must be positive")
	}
	if c.Auction.Rank1ResponseHours <= 0 || c.Auction.Rank2ResponseHours <= 0 {
		return fmt.Errorf("response windows must be positive")
	}
	if c.Auction.CloseSweepIntervalMS <= 0 || c.Auction.NoShowSweepIntervalMS <= 0 {
		return fmt.Errorf("sweep intervals must be positive")
	}
	return nil
}

// Duration accessors so callers never re-derive units from the raw fields.

func (c *Config) ExtensionWindow() time.Duration {
	return time.Duration(c.Auction.ExtensionWindowMin) * time.Minute
}

func (c *Config) ExtensionIncrement() time.Duration {
	return time.Duration(c.Auction.ExtensionIncrementMin) * time.Minute
}

func (c *Config) InstantBuyGrace() time.Duration {
	return time.Duration(c.Auction.InstantBuyGraceMin) * time.Minute
}

func (c *Config) Rank1ResponseWindow() time.Duration {
	return time.Duration(c.Auction.Rank1ResponseHours) * time.Hour
}

func (c *Config) Rank2ResponseWindow() time.Duration {
	return time.Duration(c.Auction.Rank2ResponseHours) * time.Hour
}

func (c *Config) CloseSweepInterval() time.Duration {
	return time.Duration(c.Auction.CloseSweepIntervalMS) * time.Millisecond
}

func (c *Config) NoShowSweepInterval() time.Duration {
	return time.Duration(c.Auction.NoShowSweepIntervalMS) * time.Millisecond
}

func (c *Config) LedgerDrainInterval() time.Duration {
	return time.Duration(c.Ledger.DrainIntervalMS) * time.Millisecond
}

// overrideWithEnv replaces config values with environment variables when set.
func overrideWithEnv(cfg *Config) {
	if addr := os.Getenv("FAIRBID_ADDR"); addr != "" {
		cfg.Server.Addr = addr
	}
	if path := os.Getenv("FAIRBID_DB_PATH"); path != "" {
		cfg.Storage.Path = path
	}
	if path := os.Getenv("FAIRBID_LEDGER_PATH"); path != "" {
		cfg.Ledger.Path = path
	}
	if level := os.Getenv("FAIRBID_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
}
