package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"simplebot/internal/adapters/logger"
)

func setEnv(t *testing.T, kv map[string]string) {
	t.Helper()
	for k, v := range kv {
		t.Setenv(k, v)
	}
}

func TestLoadConfig_PaperWithWebsocketFeed(t *testing.T) {
	setEnv(t, map[string]string{
		"INSTRUMENT":  "GBP_USD",
		"GRANULARITY": "M5",
		"UNITS":       "2500",
		"SHORT_MA":    "5",
		"LONG_MA":     "15",
		"STOP_LOSS":   "0",
		"BROKER":      "PAPER",
		"FEED":        "websocket",
		"WS_FEED_URL": "ws://localhost:9000/prices",
		"LOG_LEVEL":   "debug",
		"DB_PATH":     t.TempDir() + "/trades.db",
	})

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "GBP_USD", cfg.Instrument)
	assert.Equal(t, "M5", cfg.Granularity)
	assert.Equal(t, int64(2500), cfg.Units)
	assert.Equal(t, 5, cfg.ShortMAPeriod)
	assert.Equal(t, 15, cfg.LongMAPeriod)
	assert.Equal(t, 0.0, cfg.StopLoss)
	assert.Equal(t, 0.5, cfg.TakeProfit)
	assert.Equal(t, BrokerPaper, cfg.Broker)
	assert.Equal(t, logger.LevelDebug, cfg.LogLevel)
	assert.Equal(t, 5*time.Second, cfg.ReconnectDelay)
}

func TestLoadConfig_CollectsErrors(t *testing.T) {
	setEnv(t, map[string]string{
		"GRANULARITY": "X5",
		"UNITS":       "abc",
		"SHORT_MA":    "30",
		"LONG_MA":     "20",
		"BROKER":      "oanda",
		"FEED":        "broker",
	})

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid UNITS")

	setEnv(t, map[string]string{"UNITS": "10"})
	_, err = LoadConfig()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "invalid GRANULARITY")
	assert.Contains(t, msg, "SHORT_MA must be less than LONG_MA")
	assert.Contains(t, msg, "OANDA_ACCOUNT_ID and OANDA_TOKEN must be set")
}

func validConfig() *Config {
	return &Config{
		Instrument:           "EUR_USD",
		Granularity:          "M1",
		Units:                1000,
		StopLoss:             0.5,
		TakeProfit:           0.5,
		ShortMAPeriod:        10,
		LongMAPeriod:         20,
		Broker:               BrokerOanda,
		Feed:                 FeedBroker,
		OandaAccountID:       "101-001-1-001",
		OandaToken:           "token",
		LogFormat:            logger.FormatJSON,
		ReconnectDelay:       time.Second,
		MaxReconnectAttempts: 3,
		SnapshotBars:         20,
	}
}

func TestValidate(t *testing.T) {
	require.NoError(t, validConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"paper needs a websocket feed", func(c *Config) { c.Broker = BrokerPaper; c.PaperStartingBalance = 1; c.DBPath = "x" }, "FEED=websocket"},
		{"unknown broker", func(c *Config) { c.Broker = "ib" }, "unknown BROKER"},
		{"websocket without url", func(c *Config) { c.Feed = FeedWebsocket }, "WS_FEED_URL"},
		{"negative take profit", func(c *Config) { c.TakeProfit = -1 }, "TAKE_PROFIT"},
		{"zero units", func(c *Config) { c.Units = 0 }, "UNITS must be positive"},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }, "LOG_FORMAT"},
		{"binance creds", func(c *Config) { c.Broker = BrokerBinance }, "BINANCE_API_KEY"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(c)
			err := c.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestApplyFlags(t *testing.T) {
	c := validConfig()
	err := c.ApplyFlags("simplebot", []string{
		"-instrument", "USD_JPY", "-granularity", "H1", "-units", "50",
		"-shortMA", "3", "-longMA", "8", "-stopLoss", "0.25", "-takeProfit", "0", "-count", "100",
	})
	require.NoError(t, err)
	assert.Equal(t, "USD_JPY", c.Instrument)
	assert.Equal(t, "H1", c.Granularity)
	assert.Equal(t, int64(50), c.Units)
	assert.Equal(t, 3, c.ShortMAPeriod)
	assert.Equal(t, 8, c.LongMAPeriod)
	assert.Equal(t, 0.25, c.StopLoss)
	assert.Equal(t, 0.0, c.TakeProfit)
	assert.Equal(t, 100, c.MaxTicks)

	c = validConfig()
	err = c.ApplyFlags("simplebot", []string{"-granularity", "Q1"})
	assert.Error(t, err)
}

func TestLoadWithFlags_FlagsFixEnvironment(t *testing.T) {
	setEnv(t, map[string]string{
		"INSTRUMENT":  "EUR_USD",
		"GRANULARITY": "M1",
		"UNITS":       "1000",
		"SHORT_MA":    "30",
		"LONG_MA":     "20",
		"BROKER":      "paper",
		"FEED":        "websocket",
		"WS_FEED_URL": "ws://localhost:9000/prices",
		"DB_PATH":     t.TempDir() + "/trades.db",
	})

	_, err := LoadConfig()
	require.Error(t, err, "SHORT_MA above LONG_MA is invalid on its own")

	cfg, err := LoadWithFlags("simplebot", []string{"-shortMA", "5"})
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.ShortMAPeriod)
	assert.Equal(t, 20, cfg.LongMAPeriod)

	_, err = LoadWithFlags("simplebot", nil)
	assert.Error(t, err)
}

func TestLoad_DefaultFeedFollowsBroker(t *testing.T) {
	setEnv(t, map[string]string{"BROKER": "paper", "FEED": ""})
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, FeedWebsocket, cfg.Feed)

	setEnv(t, map[string]string{"BROKER": "oanda"})
	cfg, err = Load()
	require.NoError(t, err)
	assert.Equal(t, FeedBroker, cfg.Feed)
}

func TestValidateTrading_IgnoresConnectivity(t *testing.T) {
	c := validConfig()
	c.Broker = "none"
	c.Feed = "none"
	assert.NoError(t, c.ValidateTrading())
	assert.Error(t, c.Validate())

	c.LongMAPeriod = c.ShortMAPeriod
	assert.ErrorContains(t, c.ValidateTrading(), "SHORT_MA must be less than LONG_MA")
}
