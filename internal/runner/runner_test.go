package runner

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantlab/papertrade/internal/engine"
	"github.com/quantlab/papertrade/internal/engine/order"
	"github.com/quantlab/papertrade/internal/market"
	"github.com/quantlab/papertrade/internal/strategy"
)

type stubFeed struct {
	bars map[string][]market.Bar
	errs map[string]error
}

func (f *stubFeed) CurrentPrice(_ context.Context, symbol string) (float64, error) {
	if err := f.errs[symbol]; err != nil {
		return 0, err
	}
	bars, ok := f.bars[symbol]
	if !ok || len(bars) == 0 {
		return 0, market.ErrDataUnavailable
	}
	return bars[len(bars)-1].Close, nil
}

func (f *stubFeed) HistoricalBars(_ context.Context, symbol, _, _ string) ([]market.Bar, error) {
	if err := f.errs[symbol]; err != nil {
		return nil, err
	}
	bars, ok := f.bars[symbol]
	if !ok {
		return nil, market.ErrDataUnavailable
	}
	return bars, nil
}

// lastBarStrategy signals entry/exit only on the final bar of the window.
type lastBarStrategy struct {
	entry, exit bool
	params      strategy.Params
}

func (s *lastBarStrategy) Name() string                 { return "last_bar" }
func (s *lastBarStrategy) RequiredParameters() []string { return nil }
func (s *lastBarStrategy) Parameters() strategy.Params  { return s.params }

func (s *lastBarStrategy) GenerateSignals(bars []market.Bar) (strategy.Signal, error) {
	sig := strategy.Signal{
		Entries: make([]bool, len(bars)),
		Exits:   make([]bool, len(bars)),
	}
	if len(bars) > 0 {
		sig.Entries[len(bars)-1] = s.entry
		sig.Exits[len(bars)-1] = s.exit
	}
	return sig, nil
}

func defaultTestParams() strategy.Params {
	return strategy.Params{"stop_loss_pct": 0.02, "take_profit_pct": 0.04}
}

func flatBars(price float64, n int) []market.Bar {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	out := make([]market.Bar, n)
	for i := range out {
		out[i] = market.Bar{
			Timestamp: start.Add(time.Duration(i) * time.Hour),
			Open:      price, High: price, Low: price, Close: price,
			Volume: 1000,
		}
	}
	return out
}

func newTestEngine() *engine.Engine {
	return engine.New(engine.Config{InitialCapital: 10000})
}

func TestStartStopSemantics(t *testing.T) {
	r := New(Config{Interval: 10 * time.Millisecond}, newTestEngine(),
		&lastBarStrategy{params: defaultTestParams()}, &stubFeed{})

	assert.ErrorIs(t, r.Stop(), ErrNotRunning)

	require.NoError(t, r.Start(context.Background()))
	assert.True(t, r.Running())
	assert.ErrorIs(t, r.Start(context.Background()), ErrAlreadyRunning)

	require.NoError(t, r.Stop())
	assert.False(t, r.Running())
	assert.ErrorIs(t, r.Stop(), ErrNotRunning)

	// The runner is restartable after a clean stop.
	require.NoError(t, r.Start(context.Background()))
	require.NoError(t, r.Stop())
}

func TestSweep_EntrySignalOpensPosition(t *testing.T) {
	eng := newTestEngine()
	feed := &stubFeed{bars: map[string][]market.Bar{"AAPL": flatBars(100, 60)}}
	r := New(Config{Symbols: []string{"AAPL"}}, eng,
		&lastBarStrategy{entry: true, params: defaultTestParams()}, feed)

	r.sweep(context.Background())

	pos, held := eng.Position("AAPL")
	require.True(t, held)
	// Sizing: min(20% of 10000, 95% of 10000) / 100 = 20 shares.
	assert.InDelta(t, 20, pos.Quantity, 1e-9)

	status := r.Status()
	assert.Equal(t, "entry", status.LastSignals["AAPL"].Type)
}

func TestSweep_ExitSignalClosesPosition(t *testing.T) {
	eng := newTestEngine()
	eng.UpdateMarketData("AAPL", 100, time.Now())
	_, err := eng.PlaceOrder(context.Background(), "AAPL", order.SideBuy, 10, order.TypeMarket, 0, 0)
	require.NoError(t, err)

	feed := &stubFeed{bars: map[string][]market.Bar{"AAPL": flatBars(100, 60)}}
	r := New(Config{Symbols: []string{"AAPL"}}, eng,
		&lastBarStrategy{exit: true, params: defaultTestParams()}, feed)

	r.sweep(context.Background())

	_, held := eng.Position("AAPL")
	assert.False(t, held)
	assert.Equal(t, "exit", r.Status().LastSignals["AAPL"].Type)
}

func TestSweep_StopLossBreachClosesPosition(t *testing.T) {
	eng := newTestEngine()
	eng.UpdateMarketData("AAPL", 100, time.Now())
	_, err := eng.PlaceOrder(context.Background(), "AAPL", order.SideBuy, 10, order.TypeMarket, 0, 0)
	require.NoError(t, err)

	// No signals; last close 97 breaches the 2% stop at 98.
	feed := &stubFeed{bars: map[string][]market.Bar{"AAPL": flatBars(97, 60)}}
	r := New(Config{Symbols: []string{"AAPL"}}, eng,
		&lastBarStrategy{params: defaultTestParams()}, feed)

	r.sweep(context.Background())

	_, held := eng.Position("AAPL")
	assert.False(t, held)
	assert.Equal(t, "stop_loss", r.Status().LastSignals["AAPL"].Type)
}

func TestSweep_InsufficientBarsSkipsSymbol(t *testing.T) {
	eng := newTestEngine()
	feed := &stubFeed{bars: map[string][]market.Bar{"AAPL": flatBars(100, 30)}}
	r := New(Config{Symbols: []string{"AAPL"}}, eng,
		&lastBarStrategy{entry: true, params: defaultTestParams()}, feed)

	r.sweep(context.Background())

	assert.Empty(t, eng.Orders(""))
}

func TestSweep_SymbolErrorsAreIsolated(t *testing.T) {
	eng := newTestEngine()
	feed := &stubFeed{
		bars: map[string][]market.Bar{"GOOD": flatBars(100, 60)},
		errs: map[string]error{"BAD": market.ErrDataUnavailable},
	}
	r := New(Config{Symbols: []string{"BAD", "GOOD"}}, eng,
		&lastBarStrategy{entry: true, params: defaultTestParams()}, feed)

	r.sweep(context.Background())

	_, held := eng.Position("GOOD")
	assert.True(t, held, "a failing symbol must not block the rest of the sweep")
}

func TestSweep_PairReversion(t *testing.T) {
	eng := newTestEngine()

	// Pre-hold the short leg so the sell can close against it.
	eng.UpdateMarketData("B", 50, time.Now())
	_, err := eng.PlaceOrder(context.Background(), "B", order.SideBuy, 50, order.TypeMarket, 0, 0)
	require.NoError(t, err)

	// A collapses on the final bar: ratio z-score well below -2, so the
	// pass buys A and sells B.
	aBars := flatBars(100, 50)
	aBars[49].Close = 80
	feed := &stubFeed{bars: map[string][]market.Bar{
		"A": aBars,
		"B": flatBars(50, 50),
	}}

	r := New(Config{Pairs: [][2]string{{"A", "B"}}}, eng,
		&lastBarStrategy{params: defaultTestParams()}, feed)

	r.sweep(context.Background())

	posA, heldA := eng.Position("A")
	require.True(t, heldA)
	assert.Positive(t, posA.Quantity)

	posB, heldB := eng.Position("B")
	require.True(t, heldB)
	assert.Less(t, posB.Quantity, 50.0)

	ev, ok := r.Status().LastSignals["pair_A_B"]
	require.True(t, ok)
	assert.Equal(t, "pair", ev.Type)
	assert.Less(t, ev.ZScore, -pairThreshold)
}

func TestOptimizedParamsOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "optimization_results.json")
	overrides := map[string]strategy.Params{
		"AAPL": {
			"ma_fast": 5, "ma_slow": 20,
			"stop_loss_pct": 0.03, "take_profit_pct": 0.05,
		},
	}
	data, err := json.Marshal(overrides)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	base, err := strategy.New("simple_ma", strategy.DefaultParams("simple_ma"))
	require.NoError(t, err)

	r := New(Config{OptimizedParamsPath: path}, newTestEngine(), base, &stubFeed{})

	variant := r.strategyFor("AAPL")
	assert.InDelta(t, 5, variant.Parameters().Get("ma_fast", 0), 1e-9)

	assert.Equal(t, base, r.strategyFor("MSFT"))
}

func TestOptimizedParamsMissingFile(t *testing.T) {
	base := &lastBarStrategy{params: defaultTestParams()}
	r := New(Config{OptimizedParamsPath: "/does/not/exist.json"}, newTestEngine(), base, &stubFeed{})
	assert.Equal(t, strategy.Strategy(base), r.strategyFor("AAPL"))
}
