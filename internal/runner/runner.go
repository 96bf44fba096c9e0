// Package runner drives live paper trading: a cancellable periodic sweep
// that pulls market data, asks the strategy for signals, and routes entries
// and exits through the trading engine.
package runner

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quantlab/papertrade/internal/engine"
	"github.com/quantlab/papertrade/internal/engine/order"
	"github.com/quantlab/papertrade/internal/engine/risk"
	"github.com/quantlab/papertrade/internal/market"
	"github.com/quantlab/papertrade/internal/strategy"
)

var (
	// ErrAlreadyRunning is returned by Start when the loop is active.
	ErrAlreadyRunning = errors.New("runner already running")
	// ErrNotRunning is returned by Stop when the loop is not active.
	ErrNotRunning = errors.New("runner not running")
)

// minBars is the smallest usable data window per symbol; shorter windows
// skip the symbol for that sweep.
const minBars = 50

// Pair z-score mean-reversion settings.
const (
	pairLookback  = 50
	pairThreshold = 2.0
)

// Config controls the sweep cadence and data windows.
type Config struct {
	Symbols      []string      `yaml:"symbols" json:"symbols"`
	Interval     time.Duration `yaml:"interval" json:"interval"`
	DataPeriod   string        `yaml:"data_period" json:"data_period"`
	DataInterval string        `yaml:"data_interval" json:"data_interval"`

	// Pairs lists [a, b] symbol pairs checked for ratio mean reversion
	// each sweep.
	Pairs [][2]string `yaml:"pairs" json:"pairs"`

	// OptimizedParamsPath points at a JSON file of per-symbol parameter
	// overrides. Empty disables overrides.
	OptimizedParamsPath string `yaml:"optimized_params_path" json:"optimized_params_path"`
}

// DefaultConfig returns the stock runner settings.
func DefaultConfig() Config {
	return Config{
		Interval:     60 * time.Second,
		DataPeriod:   "1mo",
		DataInterval: "1h",
	}
}

// SignalEvent records the most recent acted-on signal for a symbol.
type SignalEvent struct {
	Type      string    `json:"type"` // "entry", "exit", "pair"
	Timestamp time.Time `json:"timestamp"`
	Price     float64   `json:"price,omitempty"`
	PnL       float64   `json:"pnl,omitempty"`
	ZScore    float64   `json:"z_score,omitempty"`
}

// Status is the runner snapshot served to the HTTP layer.
type Status struct {
	Running         bool                   `json:"running"`
	Strategy        string                 `json:"strategy"`
	Symbols         []string               `json:"symbols"`
	IntervalSeconds float64                `json:"interval_seconds"`
	LastSignals     map[string]SignalEvent `json:"last_signals"`
	Portfolio       engine.Summary         `json:"portfolio"`
}

// Runner executes one strategy across a symbol list on a fixed interval.
// Each sweep is synchronous; sweeps are paced, not deadlined.
type Runner struct {
	cfg    Config
	engine *engine.Engine
	strat  strategy.Strategy
	feed   market.PriceFeed

	optimized map[string]strategy.Params

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	sigMu       sync.Mutex
	lastSignals map[string]SignalEvent
}

// New creates a runner. Per-symbol parameter overrides are loaded eagerly
// from cfg.OptimizedParamsPath; a missing or unreadable file only disables
// them.
func New(cfg Config, eng *engine.Engine, strat strategy.Strategy, feed market.PriceFeed) *Runner {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if cfg.DataPeriod == "" {
		cfg.DataPeriod = DefaultConfig().DataPeriod
	}
	if cfg.DataInterval == "" {
		cfg.DataInterval = DefaultConfig().DataInterval
	}

	r := &Runner{
		cfg:         cfg,
		engine:      eng,
		strat:       strat,
		feed:        feed,
		optimized:   loadOptimizedParams(cfg.OptimizedParamsPath),
		lastSignals: make(map[string]SignalEvent),
	}

	log.Info().
		Str("strategy", strat.Name()).
		Strs("symbols", cfg.Symbols).
		Dur("interval", cfg.Interval).
		Int("optimized_symbols", len(r.optimized)).
		Msg("strategy runner initialized")
	return r
}

// Start launches the sweep loop. Starting an active runner is an error.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	r.running = true

	go r.loop(ctx)

	log.Info().Msg("strategy runner started")
	return nil
}

// Stop cancels the loop and waits for the in-flight sweep to finish, so no
// sweep is left partially applied. Stopping an inactive runner is an error.
func (r *Runner) Stop() error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return ErrNotRunning
	}
	r.running = false
	r.cancel()
	done := r.done
	r.mu.Unlock()

	<-done
	log.Info().Msg("strategy runner stopped")
	return nil
}

// Running reports whether the loop is active.
func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

func (r *Runner) loop(ctx context.Context) {
	defer close(r.done)

	for {
		r.sweep(ctx)

		select {
		case <-ctx.Done():
			return
		case <-time.After(r.cfg.Interval):
		}
	}
}

// sweep processes every configured symbol, then the pair list. Per-symbol
// failures are logged and skipped; nothing here terminates the loop.
func (r *Runner) sweep(ctx context.Context) {
	log.Debug().Int("symbols", len(r.cfg.Symbols)).Msg("sweep started")

	for _, symbol := range r.cfg.Symbols {
		if ctx.Err() != nil {
			return
		}
		if err := r.processSymbol(ctx, symbol); err != nil {
			log.Error().Err(err).Str("symbol", symbol).Msg("symbol processing failed")
		}
	}

	if err := r.checkPairs(ctx); err != nil {
		log.Error().Err(err).Msg("pair check failed")
	}
}

func (r *Runner) processSymbol(ctx context.Context, symbol string) error {
	bars, err := r.feed.HistoricalBars(ctx, symbol, r.cfg.DataPeriod, r.cfg.DataInterval)
	if err != nil {
		return fmt.Errorf("fetch bars: %w", err)
	}
	if len(bars) < minBars {
		log.Warn().Str("symbol", symbol).Int("bars", len(bars)).Msg("insufficient data, skipping")
		return nil
	}

	last := bars[len(bars)-1]
	price := last.Close
	r.engine.UpdateMarketData(symbol, price, last.Timestamp)

	strat := r.strategyFor(symbol)
	signals, err := strat.GenerateSignals(bars)
	if err != nil {
		return fmt.Errorf("generate signals: %w", err)
	}

	entry := signals.Entries[len(signals.Entries)-1]
	exit := signals.Exits[len(signals.Exits)-1]

	pos, held := r.engine.Position(symbol)

	switch {
	case entry && !held:
		if err := r.enter(ctx, symbol, price); err != nil {
			return fmt.Errorf("entry: %w", err)
		}
	case exit && held:
		if err := r.exit(ctx, symbol, pos.Quantity, pos.AvgEntryPrice, price); err != nil {
			return fmt.Errorf("exit: %w", err)
		}
	}

	// Re-read: an exit above removes the position.
	if pos, held = r.engine.Position(symbol); held {
		r.closeOnBreach(ctx, symbol, pos.Quantity, pos.AvgEntryPrice, price, strat.Parameters())
	}
	return nil
}

// strategyFor returns the default strategy, or a variant rebuilt with the
// symbol's optimized parameters when an override exists.
func (r *Runner) strategyFor(symbol string) strategy.Strategy {
	params, ok := r.optimized[symbol]
	if !ok {
		return r.strat
	}
	variant, err := strategy.New(r.strat.Name(), params)
	if err != nil {
		log.Error().Err(err).Str("symbol", symbol).Msg("optimized params rejected, using defaults")
		return r.strat
	}
	return variant
}

func (r *Runner) enter(ctx context.Context, symbol string, price float64) error {
	quantity := r.positionSize(price)
	if quantity < 1 {
		log.Info().Str("symbol", symbol).Msg("position size too small, skipping entry")
		return nil
	}

	ord, err := r.engine.PlaceOrder(ctx, symbol, order.SideBuy, quantity, order.TypeMarket, 0, 0)
	if err != nil {
		return err
	}

	log.Info().
		Str("symbol", symbol).
		Float64("quantity", quantity).
		Float64("price", price).
		Str("order_id", ord.ID).
		Msg("entry signal executed")

	r.recordSignal(symbol, SignalEvent{Type: "entry", Timestamp: time.Now(), Price: price})
	return nil
}

func (r *Runner) exit(ctx context.Context, symbol string, quantity, entryPrice, price float64) error {
	ord, err := r.engine.PlaceOrder(ctx, symbol, order.SideSell, quantity, order.TypeMarket, 0, 0)
	if err != nil {
		return err
	}

	pnl := (price - entryPrice) * quantity
	log.Info().
		Str("symbol", symbol).
		Float64("quantity", quantity).
		Float64("price", price).
		Float64("pnl", pnl).
		Str("order_id", ord.ID).
		Msg("exit signal executed")

	r.recordSignal(symbol, SignalEvent{Type: "exit", Timestamp: time.Now(), Price: price, PnL: pnl})
	return nil
}

// closeOnBreach closes the position at market when the price breaches the
// strategy's stop-loss or take-profit level.
func (r *Runner) closeOnBreach(ctx context.Context, symbol string, quantity, entryPrice, price float64, params strategy.Params) {
	stopLoss := risk.StopLossPrice(entryPrice, "buy", params.Get("stop_loss_pct", 0.02))
	takeProfit := risk.TakeProfitPrice(entryPrice, "buy", params.Get("take_profit_pct", 0.04))

	breached, reason := risk.ShouldClosePosition(price, stopLoss, takeProfit, "buy")
	if !breached {
		return
	}

	log.Warn().
		Str("symbol", symbol).
		Str("reason", reason).
		Float64("entry_price", entryPrice).
		Float64("price", price).
		Msg("protective exit triggered")

	if err := r.exit(ctx, symbol, quantity, entryPrice, price); err != nil {
		log.Error().Err(err).Str("symbol", symbol).Str("reason", reason).Msg("protective exit failed")
		return
	}
	r.recordSignal(symbol, SignalEvent{Type: reason, Timestamp: time.Now(), Price: price})
}

// checkPairs runs the ratio mean-reversion pass: when the z-score of the
// price ratio of a pair exceeds the threshold, open offsetting positions
// against the reversion.
func (r *Runner) checkPairs(ctx context.Context) error {
	for _, pair := range r.cfg.Pairs {
		if ctx.Err() != nil {
			return nil
		}
		a, b := pair[0], pair[1]
		if err := r.checkPair(ctx, a, b); err != nil {
			log.Error().Err(err).Str("pair", a+"/"+b).Msg("pair processing failed")
		}
	}
	return nil
}

func (r *Runner) checkPair(ctx context.Context, a, b string) error {
	closesA, err := r.pairCloses(ctx, a)
	if err != nil {
		return err
	}
	closesB, err := r.pairCloses(ctx, b)
	if err != nil {
		return err
	}
	if closesA == nil || closesB == nil {
		return nil
	}

	ratio := make([]float64, pairLookback)
	for i := range ratio {
		ratio[i] = closesA[i] / closesB[i]
	}
	z := zScore(ratio)

	var sideA, sideB order.Side
	switch {
	case z > pairThreshold:
		sideA, sideB = order.SideSell, order.SideBuy
	case z < -pairThreshold:
		sideA, sideB = order.SideBuy, order.SideSell
	default:
		return nil
	}

	priceA := closesA[pairLookback-1]
	priceB := closesB[pairLookback-1]
	qtyA := r.positionSize(priceA)
	qtyB := r.positionSize(priceB)
	if qtyA < 1 || qtyB < 1 {
		return nil
	}

	if _, err := r.engine.PlaceOrder(ctx, a, sideA, qtyA, order.TypeMarket, 0, 0); err != nil {
		return fmt.Errorf("leg %s: %w", a, err)
	}
	if _, err := r.engine.PlaceOrder(ctx, b, sideB, qtyB, order.TypeMarket, 0, 0); err != nil {
		return fmt.Errorf("leg %s: %w", b, err)
	}

	log.Info().
		Str("pair", a+"/"+b).
		Float64("z_score", z).
		Msg("pair reversion executed")
	r.recordSignal("pair_"+a+"_"+b, SignalEvent{Type: "pair", Timestamp: time.Now(), ZScore: z})
	return nil
}

// pairCloses returns the last pairLookback closes for symbol after pushing
// the latest price into the engine, or nil when the window is too short.
func (r *Runner) pairCloses(ctx context.Context, symbol string) ([]float64, error) {
	bars, err := r.feed.HistoricalBars(ctx, symbol, r.cfg.DataPeriod, r.cfg.DataInterval)
	if err != nil {
		return nil, fmt.Errorf("fetch bars %s: %w", symbol, err)
	}
	if len(bars) < pairLookback {
		return nil, nil
	}
	last := bars[len(bars)-1]
	r.engine.UpdateMarketData(symbol, last.Close, last.Timestamp)

	closes := market.Closes(bars)
	return closes[len(closes)-pairLookback:], nil
}

// positionSize is the live sizing rule: the lesser of 20% of portfolio
// value and 95% of available cash, in whole shares.
func (r *Runner) positionSize(price float64) float64 {
	summary := r.engine.Summary()
	positionValue := math.Min(summary.PortfolioValue*0.20, summary.CashBalance*0.95)
	return math.Floor(positionValue / price)
}

func (r *Runner) recordSignal(key string, ev SignalEvent) {
	r.sigMu.Lock()
	r.lastSignals[key] = ev
	r.sigMu.Unlock()
}

// Status returns a snapshot of the runner and its portfolio.
func (r *Runner) Status() Status {
	r.mu.Lock()
	running := r.running
	r.mu.Unlock()

	r.sigMu.Lock()
	signals := make(map[string]SignalEvent, len(r.lastSignals))
	for k, v := range r.lastSignals {
		signals[k] = v
	}
	r.sigMu.Unlock()

	return Status{
		Running:         running,
		Strategy:        r.strat.Name(),
		Symbols:         r.cfg.Symbols,
		IntervalSeconds: r.cfg.Interval.Seconds(),
		LastSignals:     signals,
		Portfolio:       r.engine.Summary(),
	}
}

// zScore is the z-score of the last sample against the series mean and
// sample standard deviation; a flat series scores zero.
func zScore(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))

	var sq float64
	for _, x := range xs {
		d := x - mean
		sq += d * d
	}
	if len(xs) < 2 {
		return 0
	}
	sd := math.Sqrt(sq / float64(len(xs)-1))
	if sd == 0 {
		return 0
	}
	return (xs[len(xs)-1] - mean) / sd
}
