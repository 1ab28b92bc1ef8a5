// Package config loads and validates the bot's yaml configuration. Values
// may reference environment variables with ${VAR} syntax; unknown yaml keys
// are rejected so a typoed knob fails at startup instead of silently running
// with a default.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/eddiefleurent/stamford_condor/internal/scheduler"
)

// Config is the root of the yaml file.
type Config struct {
	Environment EnvironmentConfig `yaml:"environment"`
	Broker      BrokerConfig      `yaml:"broker"`
	Storage     StorageConfig     `yaml:"storage"`
	Tickers     TickersConfig     `yaml:"tickers"`
	Ranker      RankerConfig      `yaml:"ranker"`
	Notify      NotifyConfig      `yaml:"notify"`
	Dashboard   DashboardConfig   `yaml:"dashboard"`
	Schedule    ScheduleConfig    `yaml:"schedule"`
	Strangle    StrangleConfig    `yaml:"strangle"`
	Condor      CondorConfig      `yaml:"condor"`
	DailyCondor CondorConfig      `yaml:"daily_condor"`
}

// EnvironmentConfig sets the run mode and log verbosity.
type EnvironmentConfig struct {
	Mode     string `yaml:"mode"`
	LogLevel string `yaml:"log_level"`
}

// BrokerConfig carries the brokerage credentials.
type BrokerConfig struct {
	Token      string `yaml:"token"`
	AccountURL string `yaml:"account_url"`
}

// StorageConfig locates the state file.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// TickersConfig names the symbols the expiration ladders key off.
type TickersConfig struct {
	Weekly string `yaml:"weekly"`
	Daily  string `yaml:"daily"`
}

// RankerConfig locates the CSV exports the ranking jobs ingest. The
// directory holds weeklies.csv, monthlies.csv, blacklist.csv, aggregates.csv
// and one iv_<expr>.csv per expiration.
type RankerConfig struct {
	DataDir      string `yaml:"data_dir"`
	WeekliesOnly bool   `yaml:"weeklies_only"`
}

// NotifyConfig configures the Telegram sink. Disabled falls back to the
// process log.
type NotifyConfig struct {
	Enabled       bool   `yaml:"enabled"`
	TelegramToken string `yaml:"telegram_token"`
	TelegramChat  int64  `yaml:"telegram_chat"`
}

// DashboardConfig configures the read-only HTTP server.
type DashboardConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Port      int    `yaml:"port"`
	AuthToken string `yaml:"auth_token"`
}

// ScheduleConfig holds the per-job activity flags. Jobs absent here keep the
// table's default.
type ScheduleConfig struct {
	StranglerBuy   bool `yaml:"strangler_buy"`
	IVRun          bool `yaml:"iv_run"`
	OpenSells      bool `yaml:"open_sells"`
	LogActive      bool `yaml:"log_active"`
	EOWResults     bool `yaml:"eow_results"`
	CondorIV       bool `yaml:"condor_iv"`
	CondorBuy      bool `yaml:"condor_buy"`
	SetSellLimits  bool `yaml:"set_sell_limits"`
	CondorClose    bool `yaml:"condor_close"`
	DailyCondorBuy bool `yaml:"daily_condor_buy"`
}

// StrangleConfig carries the strangle strategy knobs.
type StrangleConfig struct {
	ROIMultiplier      float64 `yaml:"roi_multiplier"`
	StrikeMultiplier   float64 `yaml:"strike_multiplier"`
	MaxBid             float64 `yaml:"max_bid"`
	Slack              float64 `yaml:"slack"`
	EjectTimeRatio     float64 `yaml:"eject_time_ratio"`
	MinutesBeforeClose int     `yaml:"minutes_before_close"`
}

// CondorConfig carries one condor lane's knobs; the weekly and daily lanes
// each have a block.
type CondorConfig struct {
	MultiplierBuy            float64 `yaml:"multiplier_buy"`
	MultiplierSell           float64 `yaml:"multiplier_sell"`
	MaxCollateral            float64 `yaml:"max_collateral"`
	MinCreditCollateralRatio float64 `yaml:"min_credit_collateral_ratio"`
	MaxQuantity              float64 `yaml:"max_quantity"`
	TargetROI                float64 `yaml:"target_roi"`
	BuySlack                 float64 `yaml:"buy_slack"`
	SellSlack                float64 `yaml:"sell_slack"`
}

// Load reads, env-expands, parses, and validates the file at path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	expanded := os.ExpandEnv(string(raw))

	var cfg Config
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Validate checks every gate the pipeline relies on.
func (c *Config) Validate() error {
	if c.Environment.Mode != "paper" && c.Environment.Mode != "live" {
		return fmt.Errorf("environment.mode must be paper or live, got %q", c.Environment.Mode)
	}
	if c.Environment.LogLevel != "" {
		if _, err := logrus.ParseLevel(c.Environment.LogLevel); err != nil {
			return fmt.Errorf("environment.log_level: %w", err)
		}
	}
	if c.Broker.Token == "" {
		return fmt.Errorf("broker.token is required")
	}
	if c.Broker.AccountURL == "" {
		return fmt.Errorf("broker.account_url is required")
	}
	if c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required")
	}
	if c.Tickers.Weekly == "" || c.Tickers.Daily == "" {
		return fmt.Errorf("tickers.weekly and tickers.daily are required")
	}
	if c.Ranker.DataDir == "" {
		return fmt.Errorf("ranker.data_dir is required")
	}
	if c.Notify.Enabled {
		if c.Notify.TelegramToken == "" {
			return fmt.Errorf("notify.telegram_token is required when notify is enabled")
		}
		if c.Notify.TelegramChat == 0 {
			return fmt.Errorf("notify.telegram_chat is required when notify is enabled")
		}
	}
	if c.Dashboard.Enabled && (c.Dashboard.Port < 1 || c.Dashboard.Port > 65535) {
		return fmt.Errorf("dashboard.port must be 1-65535, got %d", c.Dashboard.Port)
	}
	if err := c.validateStrangle(); err != nil {
		return err
	}
	if err := validateCondor("condor", c.Condor); err != nil {
		return err
	}
	return validateCondor("daily_condor", c.DailyCondor)
}

func (c *Config) validateStrangle() error {
	s := c.Strangle
	switch {
	case s.ROIMultiplier <= 0:
		return fmt.Errorf("strangle.roi_multiplier must be positive")
	case s.StrikeMultiplier <= 0:
		return fmt.Errorf("strangle.strike_multiplier must be positive")
	case s.MaxBid <= 0:
		return fmt.Errorf("strangle.max_bid must be positive")
	case s.Slack < 0:
		return fmt.Errorf("strangle.slack must not be negative")
	case s.EjectTimeRatio <= 0 || s.EjectTimeRatio >= 1:
		return fmt.Errorf("strangle.eject_time_ratio must be between 0 and 1")
	case s.MinutesBeforeClose < 0:
		return fmt.Errorf("strangle.minutes_before_close must not be negative")
	}
	return nil
}

func validateCondor(block string, c CondorConfig) error {
	switch {
	case c.MultiplierBuy <= 0 || c.MultiplierSell <= 0:
		return fmt.Errorf("%s multipliers must be positive", block)
	case c.MaxCollateral <= 0:
		return fmt.Errorf("%s.max_collateral must be positive", block)
	case c.MinCreditCollateralRatio <= 0 || c.MinCreditCollateralRatio > 100:
		return fmt.Errorf("%s.min_credit_collateral_ratio must be a percent in (0, 100]", block)
	case c.MaxQuantity < 1:
		return fmt.Errorf("%s.max_quantity must be at least 1", block)
	case c.TargetROI <= 0:
		return fmt.Errorf("%s.target_roi must be positive", block)
	case c.BuySlack < 0 || c.SellSlack < 0:
		return fmt.Errorf("%s slack values must not be negative", block)
	}
	return nil
}

// IsLive reports whether real orders will be placed.
func (c *Config) IsLive() bool { return c.Environment.Mode == "live" }

// LogLevel parses the configured level, defaulting to info.
func (c *Config) LogLevel() logrus.Level {
	if c.Environment.LogLevel == "" {
		return logrus.InfoLevel
	}
	level, err := logrus.ParseLevel(c.Environment.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

// Apply copies the activity flags onto the job table and returns it.
func (s ScheduleConfig) Apply(jobs []scheduler.Job) []scheduler.Job {
	flags := map[string]bool{
		"strangler.buy":            s.StranglerBuy,
		"iv.run":                   s.IVRun,
		"strangler.open_sells":     s.OpenSells,
		"strangler.log_active":     s.LogActive,
		"strangler.eow_results":    s.EOWResults,
		"iv.run_condor":            s.CondorIV,
		"condorer.buy":             s.CondorBuy,
		"condorer.set_sell_limits": s.SetSellLimits,
		"condorer.close":           s.CondorClose,
		"condorer_daily.buy":       s.DailyCondorBuy,
	}
	for i := range jobs {
		if active, ok := flags[jobs[i].Name()]; ok {
			jobs[i].Active = active
		}
	}
	return jobs
}
