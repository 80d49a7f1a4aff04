package main

import (
	"context"
	"log" // Use standard log only for fatal errors before or around logger setup
	"os"
	"time"

	"simplebot/config"
	"simplebot/internal/adapters/binanceclient"
	"simplebot/internal/adapters/logger"
	"simplebot/internal/adapters/oanda"
	"simplebot/internal/adapters/paper"
	"simplebot/internal/adapters/pricing"
	"simplebot/internal/adapters/redis"
	"simplebot/internal/adapters/sqlite"
	"simplebot/internal/adapters/wsfeed"
	"simplebot/internal/app"
	"simplebot/internal/domain"
	"simplebot/internal/metrics"
	"simplebot/internal/ports"
)

// noHistory bootstraps with an empty series when no candle source is configured.
type noHistory struct{}

func (noHistory) GetBars(context.Context, string, string, int) ([]domain.Bar, error) {
	return nil, nil
}

func main() {
	ctx := context.Background()

	// 1. Load Configuration (env, then command line overrides)
	cfg, err := config.LoadWithFlags(os.Args[0], os.Args[1:])
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	// 2. Initialize Logger
	appLogger := logger.NewLogger(cfg.LogLevel, cfg.LogFormat)
	appLogger.Info(ctx, "Logger initialized", map[string]interface{}{"level": cfg.LogLevel.String(), "format": string(cfg.LogFormat)})

	// 3. Metrics
	m := metrics.NewMetrics(cfg.Instrument)
	if cfg.MetricsAddr != "" {
		errCh := make(chan error, 1)
		srv := m.Serve(cfg.MetricsAddr, errCh)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		go func() {
			if err := <-errCh; err != nil {
				appLogger.Error(ctx, err, "Metrics server failed", map[string]interface{}{"addr": cfg.MetricsAddr})
			}
		}()
		appLogger.Info(ctx, "Metrics server started", map[string]interface{}{"addr": cfg.MetricsAddr})
	}

	// 4. Broker, candle history and broker-side price stream
	var (
		broker  ports.Broker
		history ports.HistoricalLoader = noHistory{}
		ticks   ports.TickSource
		paperBk *paper.Broker
	)

	var oandaClient *oanda.Client
	if cfg.OandaAccountID != "" && cfg.OandaToken != "" {
		oandaClient, err = oanda.NewClient(oanda.Config{
			AccountID:            cfg.OandaAccountID,
			Token:                cfg.OandaToken,
			Live:                 cfg.OandaLive,
			Logger:               appLogger.With(map[string]interface{}{"component": "oanda"}),
			ReconnectDelay:       cfg.ReconnectDelay,
			MaxReconnectAttempts: cfg.MaxReconnectAttempts,
			OnReconnect:          m.Reconnect,
		})
		if err != nil {
			log.Fatalf("FATAL: Failed to initialize OANDA client: %v", err)
		}
		history = oandaClient
	}

	switch cfg.Broker {
	case config.BrokerOanda:
		broker, ticks = oandaClient, oandaClient

	case config.BrokerBinance:
		binanceClient, err := binanceclient.New(binanceclient.Config{
			APIKey:               cfg.BinanceAPIKey,
			SecretKey:            cfg.BinanceSecretKey,
			UseTestnet:           cfg.BinanceTestnet,
			Logger:               appLogger.With(map[string]interface{}{"component": "binance"}),
			ReconnectDelay:       cfg.ReconnectDelay,
			MaxReconnectAttempts: cfg.MaxReconnectAttempts,
			OnReconnect:          m.Reconnect,
		})
		if err != nil {
			log.Fatalf("FATAL: Failed to initialize Binance client: %v", err)
		}
		if err := binanceClient.Ping(ctx); err != nil {
			log.Fatalf("FATAL: Binance API unreachable: %v", err)
		}
		broker, history, ticks = binanceClient, binanceClient, binanceClient

	case config.BrokerPaper:
		repo, err := sqlite.NewRepository(sqlite.Config{DBPath: cfg.DBPath, Logger: appLogger.With(map[string]interface{}{"component": "sqlite"})})
		if err != nil {
			log.Fatalf("FATAL: Failed to initialize database repository: %v", err)
		}
		defer func() {
			if err := repo.Close(); err != nil {
				appLogger.Error(ctx, err, "Error closing database repository")
			}
		}()
		paperBk, err = paper.NewBroker(paper.Config{
			StartingBalance: cfg.PaperStartingBalance,
			SlippageBps:     cfg.PaperSlippageBps,
			Logger:          appLogger.With(map[string]interface{}{"component": "paper"}),
			Fills:           repo,
			Trades:          repo,
		})
		if err != nil {
			log.Fatalf("FATAL: Failed to initialize paper broker: %v", err)
		}
		broker = paperBk
	}

	// 5. Websocket price feed overrides the broker stream
	if cfg.Feed == config.FeedWebsocket {
		ws, err := wsfeed.NewClient(wsfeed.Config{
			URL:                  cfg.WSFeedURL,
			ReconnectDelay:       cfg.ReconnectDelay,
			MaxReconnectAttempts: cfg.MaxReconnectAttempts,
			Logger:               appLogger.With(map[string]interface{}{"component": "wsfeed"}),
			OnReconnect:          m.Reconnect,
		})
		if err != nil {
			log.Fatalf("FATAL: Failed to initialize websocket feed: %v", err)
		}
		ticks = ws
	}

	// 6. Optional snapshot publisher
	var publisher ports.SnapshotPublisher
	if cfg.RedisAddr != "" {
		pub, err := redis.NewPublisher(ctx, redis.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Channel:  cfg.RedisChannel,
			Logger:   appLogger.With(map[string]interface{}{"component": "redis"}),
		})
		if err != nil {
			log.Fatalf("FATAL: Failed to connect snapshot publisher: %v", err)
		}
		defer pub.Close()
		publisher = pub
	}

	// 7. Bot
	bot, err := app.NewBotTrader(cfg, app.Deps{
		Logger:    appLogger,
		Broker:    broker,
		Ticks:     ticks,
		History:   history,
		Publisher: publisher,
		Metrics:   m,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize bot: %v", err)
	}
	if paperBk != nil {
		bot.OnTick(paperBk.OnTick)
	}
	if cfg.RecordTicks != "" {
		f, err := os.OpenFile(cfg.RecordTicks, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			log.Fatalf("FATAL: Failed to open tick recording: %v", err)
		}
		defer f.Close()
		bot.OnTick(pricing.NewRecorder(f).Record)
		appLogger.Info(ctx, "Recording ticks", map[string]interface{}{"file": cfg.RecordTicks})
	}

	// 8. Run until the stream ends, MAX_TICKS is reached or a signal arrives
	if err := bot.Start(ctx); err != nil {
		appLogger.Error(ctx, err, "Bot exited with error")
		log.Fatalf("FATAL: Bot exited with error: %v", err)
	}
	if paperBk != nil {
		appLogger.Info(ctx, "Paper session finished", map[string]interface{}{"balance": paperBk.Balance(), "trades": len(paperBk.Trades())})
	}
	appLogger.Info(ctx, "Application finished gracefully.")
}
