package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"simplebot/config"
	"simplebot/internal/adapters/binanceclient"
	"simplebot/internal/adapters/logger"
	"simplebot/internal/adapters/oanda"
	"simplebot/internal/aggregator"
	"simplebot/internal/domain"
	"simplebot/internal/utils"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	source := config.BrokerOanda
	if cfg.Broker == config.BrokerBinance {
		source = config.BrokerBinance
	}
	fs := flag.NewFlagSet("fetch_bars", flag.ExitOnError)
	fs.StringVar(&source, "source", source, "candle source: oanda or binance")
	fs.StringVar(&cfg.Instrument, "instrument", cfg.Instrument, "instrument, e.g. EUR_USD or BTC_USDT")
	fs.StringVar(&cfg.Granularity, "granularity", cfg.Granularity, "bar granularity, e.g. M1, M5, H1")
	count := fs.Int("count", 500, "number of most recent bars")
	days := fs.Int("days", 0, "fetch this many days of history instead of -count (binance only)")
	out := fs.String("out", "", "output CSV file (default data/<instrument>_<granularity>_<date>.csv)")
	_ = fs.Parse(os.Args[1:])

	if _, err := aggregator.ParseGranularity(cfg.Granularity); err != nil {
		log.Fatalf("FATAL: %v", err)
	}

	// 2. Initialize Logger
	appLogger := logger.NewLogger(cfg.LogLevel, cfg.LogFormat)
	ctx := context.Background()

	// 3. Fetch
	var bars []domain.Bar
	switch source {
	case config.BrokerOanda:
		client, err := oanda.NewClient(oanda.Config{
			AccountID: cfg.OandaAccountID,
			Token:     cfg.OandaToken,
			Live:      cfg.OandaLive,
			Logger:    appLogger,
		})
		if err != nil {
			log.Fatalf("FATAL: Failed to initialize OANDA client: %v", err)
		}
		bars, err = client.GetBars(ctx, cfg.Instrument, cfg.Granularity, *count)
		if err != nil {
			log.Fatalf("Error fetching candles: %v", err)
		}

	case config.BrokerBinance:
		client, err := binanceclient.New(binanceclient.Config{
			APIKey:     cfg.BinanceAPIKey,
			SecretKey:  cfg.BinanceSecretKey,
			UseTestnet: cfg.BinanceTestnet,
			Logger:     appLogger,
		})
		if err != nil {
			log.Fatalf("FATAL: Failed to initialize Binance client: %v", err)
		}
		if *days > 0 {
			end := time.Now()
			bars, err = client.GetBarsRange(ctx, cfg.Instrument, cfg.Granularity, end.AddDate(0, 0, -*days), end)
		} else {
			bars, err = client.GetBars(ctx, cfg.Instrument, cfg.Granularity, *count)
		}
		if err != nil {
			log.Fatalf("Error fetching klines: %v", err)
		}

	default:
		log.Fatalf("FATAL: unknown source %q (oanda, binance)", source)
	}
	appLogger.Info(ctx, "Fetched bars", map[string]interface{}{"source": source, "instrument": cfg.Instrument, "granularity": cfg.Granularity, "count": len(bars)})

	// 4. Save
	filename := *out
	if filename == "" {
		filename = fmt.Sprintf("data/%s_%s_%s.csv", cfg.Instrument, cfg.Granularity, time.Now().UTC().Format("20060102"))
	}
	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		log.Fatalf("Error creating output directory: %v", err)
	}
	if err := utils.WriteBarsToCSV(bars, cfg.Instrument, cfg.Granularity, filename); err != nil {
		log.Fatalf("Error writing CSV: %v", err)
	}
	appLogger.Info(ctx, "Saved to", map[string]interface{}{"filename": filename})
}
