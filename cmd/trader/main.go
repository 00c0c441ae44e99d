package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/joho/godotenv"
	"github.com/yanun0323/logs"

	"main/internal/broker"
	"main/internal/cascade"
	"main/internal/config"
	"main/internal/executor"
	"main/internal/history"
	"main/internal/instrument"
	"main/internal/journal"
	"main/internal/obs"
	"main/internal/risk"
	"main/internal/schema"
	"main/internal/session"
	"main/pkg/conn"
)

func main() {
	configPath := flag.String("config", "config.json", "Path to JSON config")
	envPath := flag.String("env", "", "Optional .env file")
	flag.Parse()

	if *envPath != "" {
		if err := godotenv.Load(*envPath); err != nil {
			log.Fatalf("load env file: %v", err)
		}
	} else {
		_ = godotenv.Load()
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Pyroscope.ServerAddress != "" {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: orElse(cfg.Pyroscope.AppName, "trader"),
			ServerAddress:   cfg.Pyroscope.ServerAddress,
			Logger:          emptyLogger{},
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			log.Fatalf("pyroscope start failed: %v", err)
		}
		defer func() { _ = profiler.Stop() }()
	}

	if err := run(ctx, cfg); err != nil {
		log.Fatalf("trader failed: %v", err)
	}
}

func run(ctx context.Context, cfg config.Loaded) error {
	client, err := conn.New(conn.Option{Path: cfg.HistoryPath})
	if err != nil {
		return err
	}
	store, err := history.NewStore(client)
	if err != nil {
		return err
	}
	defer store.Close()

	brk, feed, err := buildBroker(ctx, cfg)
	if err != nil {
		return err
	}

	directory := instrument.NewDirectory()
	if err := directory.Refresh(ctx, brk); err != nil {
		return err
	}
	watchlist := make([]string, 0, len(cfg.Watchlist))
	for _, ticker := range cfg.Watchlist {
		inst, err := directory.Resolve(ticker)
		if err != nil {
			logs.Warnf("dropping unknown watchlist ticker %s", ticker)
			continue
		}
		watchlist = append(watchlist, inst.FIGI)
	}

	provider := cascade.NewProvider(cfg.Cascade, brk, store)
	provider.SetFallbackObserver(obs.IncTierFallback)
	if feed != nil {
		if err := feed.Start(ctx); err != nil {
			return err
		}
		defer feed.Close()
		if err := feed.Subscribe(ctx, watchlist); err != nil {
			return err
		}
		feed.Observe(ctx, provider.PushQuote)
	} else {
		unsubscribe, err := brk.StreamQuotes(ctx, watchlist, provider.PushQuote)
		if err != nil {
			return err
		}
		defer unsubscribe()
	}

	engine, err := risk.NewEngine(cfg.Risk, cfg.InitialCash, directory.Lookup)
	if err != nil {
		return err
	}

	jw, err := journal.NewWriter(journal.Config{Path: cfg.JournalPath})
	if err != nil {
		return err
	}
	if err := jw.Start(ctx); err != nil {
		return err
	}
	defer jw.Close()

	exec := executor.New(cfg.Executor, brk, engine, jw)
	exec.SetEquityHook(obs.ObserveEquity)

	monitorEvery, err := cfg.MonitorEvery()
	if err != nil {
		return err
	}
	monitor := risk.NewMonitor(engine, monitorEvery, func() {
		logs.Warn("drawdown monitor tripped risk halt")
	})
	go monitor.Run(ctx)

	go obs.ServeMetrics(cfg.MetricsAddr)

	controller := session.NewController(
		cfg.Session, session.Mode(cfg.Mode), watchlist,
		provider, engine, exec, noopStrategy(),
	)
	if err := controller.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	logs.Info("shutdown signal received")
	return controller.Stop(context.Background())
}

func buildBroker(ctx context.Context, cfg config.Loaded) (broker.Broker, *broker.StreamFeed, error) {
	instruments, prices := sandboxUniverse()
	var brk broker.Broker = broker.NewPaper(cfg.Paper, instruments, prices)
	if cfg.Chaos != nil {
		flaky, err := broker.NewFlaky(brk, *cfg.Chaos)
		if err != nil {
			return nil, nil, err
		}
		brk = flaky
	}

	var feed *broker.StreamFeed
	if cfg.StreamURL != "" {
		feed = broker.NewStreamFeed(ctx, cfg.StreamURL)
	}
	return brk, feed, nil
}

// sandboxUniverse seeds the paper broker with a small liquid set.
func sandboxUniverse() ([]schema.Instrument, map[string]float64) {
	instruments := []schema.Instrument{
		{FIGI: "BBG004730N88", Ticker: "SBER", Class: schema.AssetClassShare, Lot: 10, Tradable: true, ShortAllowed: true},
		{FIGI: "BBG004730RP0", Ticker: "GAZP", Class: schema.AssetClassShare, Lot: 10, Tradable: true, ShortAllowed: true},
		{FIGI: "BBG004731032", Ticker: "LKOH", Class: schema.AssetClassShare, Lot: 1, Tradable: true, ShortAllowed: false},
		{FIGI: "BBG004730ZJ9", Ticker: "VTBR", Class: schema.AssetClassShare, Lot: 10000, Tradable: true, ShortAllowed: false},
	}
	prices := map[string]float64{
		"BBG004730N88": 285.0,
		"BBG004730RP0": 128.5,
		"BBG004731032": 7150.0,
		"BBG004730ZJ9": 0.0235,
	}
	return instruments, prices
}

// noopStrategy is the wiring point for an external signal source. It
// holds flat; operator intents are still executed.
func noopStrategy() session.Strategy {
	return session.StrategyFunc(func(context.Context, map[string]schema.Quote, []risk.Position) []schema.Order {
		return nil
	})
}

func orElse(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

type emptyLogger struct{}

func (emptyLogger) Infof(_ string, _ ...interface{})  {}
func (emptyLogger) Debugf(_ string, _ ...interface{}) {}
func (emptyLogger) Errorf(_ string, _ ...interface{}) {}
