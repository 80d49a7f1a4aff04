// Command replay runs a recorded tick file through the trading pipeline
// against the paper broker and prints the resulting performance.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"simplebot/config"
	"simplebot/internal/adapters/logger"
	"simplebot/internal/adapters/paper"
	"simplebot/internal/adapters/pricing"
	"simplebot/internal/adapters/sqlite"
	"simplebot/internal/analytics"
	"simplebot/internal/app"
	"simplebot/internal/domain"
	"simplebot/internal/feed"
	"simplebot/internal/optimization"
	"simplebot/internal/ports"
	"simplebot/internal/utils"
)

type replayOptions struct {
	DBPath          string
	StartingBalance float64
	SlippageBps     float64
}

// noHistory starts the replay with an empty series; bars come from the ticks.
type noHistory struct{}

func (noHistory) GetBars(context.Context, string, string, int) ([]domain.Bar, error) {
	return nil, nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	opts := replayOptions{DBPath: ":memory:", StartingBalance: cfg.PaperStartingBalance, SlippageBps: cfg.PaperSlippageBps}
	fs := flag.NewFlagSet("replay", flag.ExitOnError)
	cfg.RegisterFlags(fs)
	ticksFile := fs.String("ticks", "", "tick recording: CSV (time,type,instrument,bid,ask) or JSON lines written by RECORD_TICKS")
	fs.StringVar(&opts.DBPath, "db", opts.DBPath, "SQLite file for fills and trades")
	fs.Float64Var(&opts.StartingBalance, "balance", opts.StartingBalance, "starting paper balance")
	fs.Float64Var(&opts.SlippageBps, "slippage", opts.SlippageBps, "paper slippage in basis points")
	sweepShort := fs.String("sweep-short", "", "sweep the short MA period, min:max:step")
	sweepLong := fs.String("sweep-long", "", "sweep the long MA period, min:max:step")
	workers := fs.Int("workers", 4, "concurrent replays during a sweep")
	_ = fs.Parse(os.Args[1:])

	if *ticksFile == "" {
		log.Fatalf("FATAL: -ticks is required")
	}
	if err := cfg.ValidateTrading(); err != nil {
		log.Fatalf("FATAL: %v", err)
	}

	appLogger := logger.NewLogger(cfg.LogLevel, cfg.LogFormat)
	ticks, err := loadTicks(*ticksFile)
	if err != nil {
		log.Fatalf("FATAL: Failed to load ticks: %v", err)
	}
	appLogger.Info(context.Background(), "Loaded ticks", map[string]interface{}{"file": *ticksFile, "count": len(ticks)})

	if *sweepShort != "" || *sweepLong != "" {
		results, err := sweep(context.Background(), cfg, ticks, opts, *sweepShort, *sweepLong, *workers, appLogger)
		if err != nil {
			log.Fatalf("FATAL: Sweep failed: %v", err)
		}
		printSweep(results)
		return
	}

	report, err := run(context.Background(), cfg, ticks, opts, appLogger)
	if err != nil {
		log.Fatalf("FATAL: Replay failed: %v", err)
	}
	printReport(cfg, report)
}

// loadTicks reads a JSON lines recording (.jsonl, .ndjson) or a CSV file.
func loadTicks(path string) ([]domain.Tick, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jsonl", ".ndjson":
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open recording: %w", err)
		}
		defer f.Close()
		return pricing.ReadTicks(f)
	default:
		return utils.ReadTicksFromCSV(path)
	}
}

// run replays ticks through a BotTrader wired to a fresh paper broker.
func run(ctx context.Context, cfg *config.Config, ticks []domain.Tick, opts replayOptions, appLogger ports.Logger) (*analytics.Report, error) {
	repo, err := sqlite.NewRepository(sqlite.Config{DBPath: opts.DBPath, Logger: appLogger})
	if err != nil {
		return nil, err
	}
	defer repo.Close()

	broker, err := paper.NewBroker(paper.Config{
		StartingBalance: opts.StartingBalance,
		SlippageBps:     opts.SlippageBps,
		Logger:          appLogger,
		Fills:           repo,
		Trades:          repo,
	})
	if err != nil {
		return nil, err
	}

	bot, err := app.NewBotTrader(cfg, app.Deps{
		Logger:  appLogger,
		Broker:  broker,
		Ticks:   feed.SliceSource{Ticks: ticks},
		History: noHistory{},
	})
	if err != nil {
		return nil, err
	}
	bot.OnTick(broker.OnTick)

	if err := bot.Bootstrap(ctx); err != nil {
		return nil, err
	}
	if err := bot.Run(ctx); err != nil {
		return nil, err
	}

	snap := bot.Snapshot(0)
	appLogger.Info(ctx, "Replay finished", map[string]interface{}{"bars": snap.Length, "state": snap.State, "balance": broker.Balance()})
	return analytics.Analyze(broker.Trades(), opts.StartingBalance), nil
}

// sweep replays ticks once per MA period pair. An empty range keeps the
// configured period.
func sweep(ctx context.Context, cfg *config.Config, ticks []domain.Tick, opts replayOptions, shortRange, longRange string, workers int, appLogger ports.Logger) ([]optimization.Result, error) {
	if shortRange == "" {
		shortRange = strconv.Itoa(cfg.ShortMAPeriod)
	}
	if longRange == "" {
		longRange = strconv.Itoa(cfg.LongMAPeriod)
	}
	short, err := optimization.ParseRange("short", shortRange, true)
	if err != nil {
		return nil, err
	}
	long, err := optimization.ParseRange("long", longRange, true)
	if err != nil {
		return nil, err
	}

	opt, err := optimization.New(optimization.Config{
		Ranges:  []optimization.ParameterRange{short, long},
		Workers: workers,
		Valid:   func(p optimization.Params) bool { return p.Int("short") > 0 && p.Int("short") < p.Int("long") },
		Logger:  appLogger,
	})
	if err != nil {
		return nil, err
	}

	// Each run gets its own in-memory ledger so runs do not share trades.
	runOpts := opts
	runOpts.DBPath = ":memory:"
	quiet := logger.NewLogger(logger.LevelError, cfg.LogFormat)
	return opt.Optimize(ctx, func(ctx context.Context, p optimization.Params) (*analytics.Report, error) {
		runCfg := *cfg
		runCfg.ShortMAPeriod = p.Int("short")
		runCfg.LongMAPeriod = p.Int("long")
		return run(ctx, &runCfg, ticks, runOpts, quiet.With(map[string]interface{}{
			"shortMA": runCfg.ShortMAPeriod,
			"longMA":  runCfg.LongMAPeriod,
		}))
	})
}

func printSweep(results []optimization.Result) {
	fmt.Printf("\n=== Sweep: %d runs ===\n", len(results))
	fmt.Printf("%6s %6s %7s %8s %12s %9s %8s\n", "short", "long", "trades", "winrate", "profit", "drawdown", "score")
	for _, r := range results {
		fmt.Printf("%6d %6d %7d %7.2f%% %12.4f %8.2f%% %8.3f\n",
			r.Params.Int("short"), r.Params.Int("long"), r.Report.TotalTrades,
			r.Report.WinRate*100, r.Report.TotalProfit, r.Report.MaxDrawdown*100, r.Score)
	}
}

func printReport(cfg *config.Config, r *analytics.Report) {
	fmt.Printf("\n=== Replay %s %s MAx(%d,%d) ===\n", cfg.Instrument, cfg.Granularity, cfg.ShortMAPeriod, cfg.LongMAPeriod)
	fmt.Printf("Trades:          %d (won %d, lost %d)\n", r.TotalTrades, r.WinningTrades, r.LosingTrades)
	fmt.Printf("Win rate:        %.2f%%\n", r.WinRate*100)
	fmt.Printf("Total profit:    %.4f\n", r.TotalProfit)
	fmt.Printf("Profit factor:   %.2f\n", r.ProfitFactor)
	fmt.Printf("Expectancy:      %.4f\n", r.Expectancy)
	fmt.Printf("Max drawdown:    %.2f%%\n", r.MaxDrawdown*100)
	fmt.Printf("Final balance:   %.2f (%.2f%%)\n", r.FinalBalance, r.Return*100)
	fmt.Printf("Avg hold time:   %s\n", r.AverageHoldTime)
	for side, s := range r.BySide {
		fmt.Printf("  %-5s %3d trades, %3d wins, pnl %.4f\n", side, s.Trades, s.Wins, s.PNL)
	}
	for reason, n := range r.ByReason {
		fmt.Printf("  closed by %-6s %d\n", reason, n)
	}
}
