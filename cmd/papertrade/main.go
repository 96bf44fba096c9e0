package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/quantlab/papertrade/internal/audit"
	"github.com/quantlab/papertrade/internal/backtest"
	"github.com/quantlab/papertrade/internal/config"
	"github.com/quantlab/papertrade/internal/engine"
	httpapi "github.com/quantlab/papertrade/internal/interfaces/http"
	"github.com/quantlab/papertrade/internal/market"
	"github.com/quantlab/papertrade/internal/persistence/postgres"
	"github.com/quantlab/papertrade/internal/runner"
	"github.com/quantlab/papertrade/internal/strategy"
)

const (
	appName = "papertrade"
	version = "v1.0.0"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Paper-trading engine with live strategy execution and backtesting",
		Version: version,
		Long: `papertrade simulates trade execution and accounting against live or
historical prices: order lifecycle, position and cash accounting, pre-trade
risk control, a deterministic backtester, and a polling strategy loop.`,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to YAML config file")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		Long:  "Starts the REST API, websocket status stream, and Prometheus metrics endpoint.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath)
		},
	}

	tradeCmd := &cobra.Command{
		Use:   "trade",
		Short: "Run the live strategy loop headless",
		Long:  "Starts the polling strategy loop without the HTTP server and runs until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrade(configPath)
		},
	}

	backtestCmd := &cobra.Command{
		Use:   "backtest [symbol]",
		Short: "Run a backtest and print the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stratName, _ := cmd.Flags().GetString("strategy")
			period, _ := cmd.Flags().GetString("period")
			interval, _ := cmd.Flags().GetString("interval")
			return runBacktest(configPath, args[0], stratName, period, interval)
		},
	}
	backtestCmd.Flags().String("strategy", "simple_ma", "Strategy name (simple_ma|rsi_ma|combined)")
	backtestCmd.Flags().String("period", "1y", "Historical data period")
	backtestCmd.Flags().String("interval", "1d", "Bar interval")

	rootCmd.AddCommand(serveCmd, tradeCmd, backtestCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func setupLogging(cfg config.Logging) {
	zerolog.TimeFieldFormat = time.RFC3339

	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Pretty || term.IsTerminal(int(os.Stderr.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}

// buildFeed assembles the market data path: HTTP feed, optionally fronted
// by the Redis bar cache.
func buildFeed(cfg config.Config) market.PriceFeed {
	var feed market.PriceFeed = market.NewHTTPFeed(cfg.Feed.FeedConfig())
	if cfg.Cache.Enabled {
		feed = market.NewCachedFeed(cfg.Cache.CacheConfig(), feed)
	}
	return feed
}

func buildEngine(cfg config.Config, feed market.PriceFeed) *engine.Engine {
	opts := []engine.Option{engine.WithFeed(feed)}
	if cfg.Audit.Enabled {
		sink, err := audit.NewFileSink(cfg.Audit.Dir)
		if err != nil {
			log.Warn().Err(err).Msg("audit sink unavailable, continuing without")
		} else {
			opts = append(opts, engine.WithAuditSink(sink))
		}
	}
	return engine.New(cfg.Engine, opts...)
}

func buildRunner(cfg config.Config, eng *engine.Engine, feed market.PriceFeed) (*runner.Runner, error) {
	strat, err := strategy.New(cfg.Runner.Strategy, strategy.DefaultParams(cfg.Runner.Strategy))
	if err != nil {
		return nil, fmt.Errorf("build strategy: %w", err)
	}
	return runner.New(cfg.Runner.RunnerConfig(), eng, strat, feed), nil
}

func runServe(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	setupLogging(cfg.Logging)

	feed := buildFeed(cfg)
	eng := buildEngine(cfg, feed)
	run, err := buildRunner(cfg, eng, feed)
	if err != nil {
		return err
	}

	deps := httpapi.Deps{
		Engine:     eng,
		Runner:     run,
		Feed:       feed,
		Backtester: backtest.NewEngine(cfg.Backtest),
	}

	if cfg.Database.Enabled {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		db, err := postgres.Connect(ctx, cfg.Database.DSN)
		cancel()
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer db.Close()

		ctx, cancel = context.WithTimeout(context.Background(), 30*time.Second)
		err = postgres.Migrate(ctx, db)
		cancel()
		if err != nil {
			return fmt.Errorf("migrate database: %w", err)
		}

		deps.Strategies = postgres.NewStrategiesRepo(db)
		deps.Results = postgres.NewResultsRepo(db)
		deps.Trades = postgres.NewTradesRepo(db)
	}

	srv := httpapi.NewServer(httpapi.ServerConfig{
		Addr:           cfg.Server.Addr,
		ReadTimeout:    time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second,
		WriteTimeout:   time.Duration(cfg.Server.WriteTimeoutSeconds) * time.Second,
		RequestTimeout: time.Duration(cfg.Server.RequestTimeoutSeconds) * time.Second,
	}, deps)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	if run.Running() {
		if err := run.Stop(); err != nil {
			log.Error().Err(err).Msg("runner stop failed")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

func runTrade(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	setupLogging(cfg.Logging)

	feed := buildFeed(cfg)
	eng := buildEngine(cfg, feed)
	run, err := buildRunner(cfg, eng, feed)
	if err != nil {
		return err
	}

	if err := run.Start(context.Background()); err != nil {
		return err
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	sig := <-stop
	log.Info().Str("signal", sig.String()).Msg("stopping strategy runner")

	return run.Stop()
}

func runBacktest(configPath, symbol, stratName, period, interval string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	setupLogging(cfg.Logging)

	strat, err := strategy.New(stratName, strategy.DefaultParams(stratName))
	if err != nil {
		return err
	}

	feed := buildFeed(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	bars, err := feed.HistoricalBars(ctx, symbol, period, interval)
	if err != nil {
		return fmt.Errorf("fetch bars: %w", err)
	}

	result, err := backtest.NewEngine(cfg.Backtest).Run(bars, strat, symbol)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
