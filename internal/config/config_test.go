package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/stamford_condor/internal/scheduler"
)

const validYAML = `
environment:
  mode: paper
  log_level: debug
broker:
  token: ${BOT_TEST_TOKEN}
  account_url: https://api.example.com/accounts/1/
storage:
  path: /tmp/state.json
tickers:
  weekly: AAPL
  daily: SPY
ranker:
  data_dir: /tmp/ranker
  weeklies_only: true
notify:
  enabled: false
dashboard:
  enabled: true
  port: 8080
  auth_token: hunter2
schedule:
  strangler_buy: true
  iv_run: true
  condor_buy: true
  condor_close: true
strangle:
  roi_multiplier: 30
  strike_multiplier: 30
  max_bid: 3.0
  slack: 1
  eject_time_ratio: 0.5
  minutes_before_close: 30
condor:
  multiplier_buy: 30
  multiplier_sell: 10
  max_collateral: 12
  min_credit_collateral_ratio: 25
  max_quantity: 5
  target_roi: 15
  buy_slack: 0
  sell_slack: 5
daily_condor:
  multiplier_buy: 30
  multiplier_sell: 10
  max_collateral: 6
  min_credit_collateral_ratio: 20
  max_quantity: 2
  target_roi: 15
  buy_slack: 0
  sell_slack: 5
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadExpandsEnvAndValidates(t *testing.T) {
	t.Setenv("BOT_TEST_TOKEN", "tok-123")
	cfg, err := Load(writeConfig(t, validYAML))
	require.NoError(t, err)

	assert.Equal(t, "tok-123", cfg.Broker.Token)
	assert.False(t, cfg.IsLive())
	assert.Equal(t, logrus.DebugLevel, cfg.LogLevel())
	assert.Equal(t, "AAPL", cfg.Tickers.Weekly)
	assert.True(t, cfg.Ranker.WeekliesOnly)
	assert.Equal(t, 30.0, cfg.Strangle.ROIMultiplier)
	assert.Equal(t, 6.0, cfg.DailyCondor.MaxCollateral)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	t.Setenv("BOT_TEST_TOKEN", "tok-123")
	_, err := Load(writeConfig(t, validYAML+"\ntypoed_key: 1\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "typoed_key")
}

func TestValidateCatchesBadGates(t *testing.T) {
	t.Setenv("BOT_TEST_TOKEN", "tok-123")
	base, err := Load(writeConfig(t, validYAML))
	require.NoError(t, err)

	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad mode", func(c *Config) { c.Environment.Mode = "dry-run" }, "environment.mode"},
		{"missing token", func(c *Config) { c.Broker.Token = "" }, "broker.token"},
		{"missing storage", func(c *Config) { c.Storage.Path = "" }, "storage.path"},
		{"missing daily ticker", func(c *Config) { c.Tickers.Daily = "" }, "tickers"},
		{"eject ratio too high", func(c *Config) { c.Strangle.EjectTimeRatio = 1.5 }, "eject_time_ratio"},
		{"zero max bid", func(c *Config) { c.Strangle.MaxBid = 0 }, "max_bid"},
		{"ratio over 100", func(c *Config) { c.Condor.MinCreditCollateralRatio = 150 }, "min_credit_collateral_ratio"},
		{"zero daily quantity", func(c *Config) { c.DailyCondor.MaxQuantity = 0 }, "daily_condor.max_quantity"},
		{"bad dashboard port", func(c *Config) { c.Dashboard.Port = 70000 }, "dashboard.port"},
		{"notify without chat", func(c *Config) {
			c.Notify.Enabled = true
			c.Notify.TelegramToken = "t"
		}, "telegram_chat"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := *base
			tc.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestScheduleApplySetsActivityFlags(t *testing.T) {
	jobs := ScheduleConfig{
		StranglerBuy: true,
		IVRun:        true,
		CondorBuy:    true,
	}.Apply(scheduler.DefaultJobs())

	byName := make(map[string]scheduler.Job, len(jobs))
	for _, j := range jobs {
		byName[j.Name()] = j
	}
	assert.True(t, byName["strangler.buy"].Active)
	assert.True(t, byName["iv.run"].Active)
	assert.True(t, byName["condorer.buy"].Active)
	assert.False(t, byName["condorer.close"].Active)
	assert.False(t, byName["strangler.open_sells"].Active)
	// Calendar maintenance has no flag and keeps its default.
	assert.True(t, byName["calendar.expire_current_expr"].Active)
}
