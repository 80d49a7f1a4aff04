package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"simplebot/internal/adapters/logger"
	"simplebot/internal/aggregator"
)

// Broker and feed selectors.
const (
	BrokerPaper   = "paper"
	BrokerOanda   = "oanda"
	BrokerBinance = "binance"

	FeedBroker    = "broker"
	FeedWebsocket = "websocket"
)

// Config holds all application configuration.
type Config struct {
	// Trading Parameters
	Instrument  string
	Granularity string
	Units       int64
	StopLoss    float64 // Stop loss as percent of the entry close (e.g. 0.5 for 0.5%), 0 disables
	TakeProfit  float64 // Take profit as percent of the entry close, 0 disables

	// Strategy Parameters
	ShortMAPeriod int // e.g., 10
	LongMAPeriod  int // e.g., 20

	// Connectivity
	Broker    string // paper | oanda | binance
	Feed      string // broker | websocket
	WSFeedURL string

	// OANDA v20 API
	OandaAccountID string
	OandaToken     string
	OandaLive      bool

	// Binance API
	BinanceAPIKey    string
	BinanceSecretKey string
	BinanceTestnet   bool

	// Paper broker
	PaperStartingBalance float64
	PaperSlippageBps     float64

	// Database
	DBPath string

	// Logging
	LogLevel  logger.LogLevel // Use the LogLevel type from the logger adapter
	LogFormat logger.Format

	// Monitoring
	MetricsAddr   string // empty disables the /metrics server
	RedisAddr     string // empty disables snapshot publishing
	RedisPassword string
	RedisDB       int
	RedisChannel  string
	SnapshotBars  int
	RecordTicks   string // file receiving every tick as a JSON line, empty disables

	// Connection Settings
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int

	// MaxTicks stops the bot after that many ticks, 0 runs until the stream ends
	MaxTicks int
}

// LoadConfig loads configuration from environment variables (.env file)
// and validates all of it.
func LoadConfig() (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadWithFlags reads the environment, applies command line overrides and
// only then validates, so a flag can correct a bad environment value.
func LoadWithFlags(name string, args []string) (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyFlags(name, args); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads the environment without cross-field validation. Tools that
// only need the trading parameters call ValidateTrading themselves.
func Load() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var err error
	var errs []string // Collect parse errors

	cfg.Instrument = getEnv("INSTRUMENT", "EUR_USD")
	cfg.Granularity = getEnv("GRANULARITY", "M1")

	units, err := getEnvAsIntRequired("UNITS", 1000)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid UNITS: %v", err))
	}
	cfg.Units = int64(units)

	cfg.StopLoss, err = getEnvAsFloatRequired("STOP_LOSS", 0.5)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid STOP_LOSS: %v", err))
	}
	cfg.TakeProfit, err = getEnvAsFloatRequired("TAKE_PROFIT", 0.5)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid TAKE_PROFIT: %v", err))
	}

	cfg.ShortMAPeriod, err = getEnvAsIntRequired("SHORT_MA", 10)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid SHORT_MA: %v", err))
	}
	cfg.LongMAPeriod, err = getEnvAsIntRequired("LONG_MA", 20)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid LONG_MA: %v", err))
	}

	cfg.Broker = strings.ToLower(getEnv("BROKER", BrokerPaper))
	cfg.Feed = strings.ToLower(getEnv("FEED", ""))
	if cfg.Feed == "" {
		cfg.Feed = FeedBroker
		if cfg.Broker == BrokerPaper {
			cfg.Feed = FeedWebsocket
		}
	}
	cfg.WSFeedURL = getEnv("WS_FEED_URL", "")

	cfg.OandaAccountID = getEnv("OANDA_ACCOUNT_ID", "")
	cfg.OandaToken = getEnv("OANDA_TOKEN", "")
	cfg.OandaLive = getEnvAsBool("OANDA_LIVE", false) // Default to practice for safety

	cfg.BinanceAPIKey = getEnv("BINANCE_API_KEY", "")
	cfg.BinanceSecretKey = getEnv("BINANCE_API_SECRET", "")
	cfg.BinanceTestnet = getEnvAsBool("IS_TESTNET", true)

	cfg.PaperStartingBalance, err = getEnvAsFloatRequired("PAPER_STARTING_BALANCE", 100000)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid PAPER_STARTING_BALANCE: %v", err))
	}
	cfg.PaperSlippageBps = getEnvAsFloat("PAPER_SLIPPAGE_BPS", 0)

	cfg.DBPath = getEnv("DB_PATH", "./data/paper_trades.db")

	cfg.LogLevel = logger.ParseLevel(getEnv("LOG_LEVEL", "INFO"))
	cfg.LogFormat = logger.Format(strings.ToLower(getEnv("LOG_FORMAT", string(logger.FormatJSON))))

	cfg.MetricsAddr = getEnv("METRICS_ADDR", "")
	cfg.RedisAddr = getEnv("REDIS_ADDR", "")
	cfg.RedisPassword = getEnv("REDIS_PASSWORD", "")
	cfg.RedisDB = getEnvAsInt("REDIS_DB", 0)
	cfg.RedisChannel = getEnv("REDIS_CHANNEL", "simplebot:snapshots")
	cfg.SnapshotBars = getEnvAsInt("SNAPSHOT_BARS", 20)
	cfg.RecordTicks = getEnv("RECORD_TICKS", "")

	reconnectDelaySeconds := getEnvAsInt("RECONNECT_DELAY_SECONDS", 5)
	cfg.ReconnectDelay = time.Duration(reconnectDelaySeconds) * time.Second
	cfg.MaxReconnectAttempts = getEnvAsInt("MAX_RECONNECT_ATTEMPTS", 10)

	cfg.MaxTicks, err = getEnvAsIntRequired("MAX_TICKS", 0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MAX_TICKS: %v", err))
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return cfg, nil
}

// RegisterFlags binds the trading parameters (-instrument, -granularity,
// -units, -shortMA, -longMA, -stopLoss, -takeProfit, -count) to fs, using
// the current values as defaults.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.Instrument, "instrument", c.Instrument, "instrument to trade")
	fs.StringVar(&c.Granularity, "granularity", c.Granularity, "bar granularity, e.g. M1, M5, H1")
	fs.Int64Var(&c.Units, "units", c.Units, "units per order")
	fs.IntVar(&c.ShortMAPeriod, "shortMA", c.ShortMAPeriod, "period of the short moving average")
	fs.IntVar(&c.LongMAPeriod, "longMA", c.LongMAPeriod, "period of the long moving average")
	fs.Float64Var(&c.StopLoss, "stopLoss", c.StopLoss, "stop loss as a percentage of the entry value")
	fs.Float64Var(&c.TakeProfit, "takeProfit", c.TakeProfit, "take profit as a percentage of the entry value")
	fs.IntVar(&c.MaxTicks, "count", c.MaxTicks, "stop after this many ticks (0 runs forever)")
}

// ApplyFlags overrides trading parameters from command line arguments and
// re-validates the result.
func (c *Config) ApplyFlags(name string, args []string) error {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	c.RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	return c.Validate()
}

// Validate checks the configuration, reporting every problem at once.
func (c *Config) Validate() error {
	errs := c.tradingErrors()

	switch c.Broker {
	case BrokerPaper:
		if c.PaperStartingBalance <= 0 {
			errs = append(errs, "PAPER_STARTING_BALANCE must be positive")
		}
		if c.PaperSlippageBps < 0 {
			errs = append(errs, "PAPER_SLIPPAGE_BPS cannot be negative")
		}
		if c.DBPath == "" {
			errs = append(errs, "DB_PATH must be set for the paper broker")
		}
		if c.Feed == FeedBroker {
			errs = append(errs, "the paper broker has no price stream, use FEED=websocket")
		}
	case BrokerOanda:
		if c.OandaAccountID == "" || c.OandaToken == "" {
			errs = append(errs, "OANDA_ACCOUNT_ID and OANDA_TOKEN must be set")
		}
	case BrokerBinance:
		if c.BinanceAPIKey == "" || c.BinanceSecretKey == "" {
			errs = append(errs, "BINANCE_API_KEY and BINANCE_API_SECRET must be set")
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown BROKER %q (paper, oanda, binance)", c.Broker))
	}

	switch c.Feed {
	case FeedBroker:
	case FeedWebsocket:
		if c.WSFeedURL == "" {
			errs = append(errs, "WS_FEED_URL must be set when FEED=websocket")
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown FEED %q (broker, websocket)", c.Feed))
	}

	if c.LogFormat != logger.FormatJSON && c.LogFormat != logger.FormatConsole {
		errs = append(errs, fmt.Sprintf("unknown LOG_FORMAT %q (json, console)", c.LogFormat))
	}
	if c.ReconnectDelay <= 0 {
		errs = append(errs, "RECONNECT_DELAY_SECONDS must be positive")
	}
	if c.MaxReconnectAttempts < 0 {
		errs = append(errs, "MAX_RECONNECT_ATTEMPTS cannot be negative")
	}
	if c.SnapshotBars <= 0 {
		errs = append(errs, "SNAPSHOT_BARS must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// ValidateTrading checks only the instrument, granularity, sizing and
// strategy parameters.
func (c *Config) ValidateTrading() error {
	if errs := c.tradingErrors(); len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) tradingErrors() []string {
	var errs []string
	if c.Instrument == "" {
		errs = append(errs, "INSTRUMENT must be set")
	}
	if _, err := aggregator.ParseGranularity(c.Granularity); err != nil {
		errs = append(errs, fmt.Sprintf("invalid GRANULARITY: %v", err))
	}
	if c.Units <= 0 {
		errs = append(errs, "UNITS must be positive")
	}
	if c.StopLoss < 0 || c.StopLoss >= 100 {
		errs = append(errs, "STOP_LOSS must be between 0 and 100 percent")
	}
	if c.TakeProfit < 0 {
		errs = append(errs, "TAKE_PROFIT cannot be negative")
	}
	if c.ShortMAPeriod <= 0 || c.LongMAPeriod <= 0 {
		errs = append(errs, "moving average periods must be positive")
	} else if c.ShortMAPeriod >= c.LongMAPeriod {
		errs = append(errs, "SHORT_MA must be less than LONG_MA")
	}
	if c.MaxTicks < 0 {
		errs = append(errs, "MAX_TICKS cannot be negative")
	}
	return errs
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsIntRequired(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		// Use default if env var is not set at all
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		// Return error if env var is set but invalid
		return 0, fmt.Errorf("invalid integer value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloatRequired(key string, defaultValue float64) (float64, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
