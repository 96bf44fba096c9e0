package backtest

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func equityCurve(values []float64) []EquityPoint {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	out := make([]EquityPoint, len(values))
	for i, v := range values {
		out[i] = EquityPoint{Timestamp: start.Add(time.Duration(i) * 24 * time.Hour), Equity: v}
	}
	return out
}

func TestDrawdownCurve(t *testing.T) {
	got := drawdownCurve(equityCurve([]float64{100, 110, 105, 120, 90}))
	want := []float64{0, 0, -5, 0, -30}
	assert.InDeltaSlice(t, want, got, 1e-9)
}

func TestSampleStd(t *testing.T) {
	assert.Zero(t, sampleStd(nil))
	assert.Zero(t, sampleStd([]float64{5}))
	// Known case: {2,4,4,4,5,5,7,9} has sample variance 32/7.
	assert.InDelta(t, math.Sqrt(32.0/7.0), sampleStd([]float64{2, 4, 4, 4, 5, 5, 7, 9}), 1e-9)
}

func TestSharpe_ZeroVariance(t *testing.T) {
	assert.Zero(t, sharpe([]float64{0.01, 0.01, 0.01}, 0))
	assert.Zero(t, sharpe(nil, 0.02))
}

func TestSortino_NoDownside(t *testing.T) {
	assert.Zero(t, sortino([]float64{0.01, 0.02, 0.03}, 0))
}

func TestComputeMetrics_TradeStats(t *testing.T) {
	cfg := Config{InitialCapital: 10000}
	equity := equityCurve([]float64{10000, 10200, 10100, 10350})
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	trades := []Trade{
		{EntryTime: start, ExitTime: start.Add(24 * time.Hour), PnL: 200},
		{EntryTime: start.Add(24 * time.Hour), ExitTime: start.Add(36 * time.Hour), PnL: -100},
		{EntryTime: start.Add(48 * time.Hour), ExitTime: start.Add(72 * time.Hour), PnL: 250},
	}

	r := computeMetrics(cfg, equity, trades)

	assert.Equal(t, 3, r.TotalTrades)
	assert.Equal(t, 2, r.WinningTrades)
	assert.Equal(t, 1, r.LosingTrades)
	assert.InDelta(t, 350, r.TotalReturn, 1e-9)
	assert.InDelta(t, 3.5, r.TotalReturnPct, 1e-9)
	assert.InDelta(t, 100.0*2/3, r.WinRate, 1e-9)
	assert.InDelta(t, 225, r.AvgWin, 1e-9)
	assert.InDelta(t, 100, r.AvgLoss, 1e-9)
	assert.InDelta(t, 4.5, r.ProfitFactor, 1e-9)
	assert.InDelta(t, 24, r.MaxTradeDurationHours, 1e-9)
	assert.InDelta(t, (24.0+12+24)/3, r.AvgTradeDurationHours, 1e-9)
	assert.InDelta(t, -100, r.MaxDrawdown, 1e-9)
	assert.InDelta(t, -100.0/10350*100, r.MaxDrawdownPct, 1e-9)
}

func TestComputeMetrics_NoLosses(t *testing.T) {
	r := computeMetrics(Config{InitialCapital: 10000},
		equityCurve([]float64{10000, 10100}),
		[]Trade{{PnL: 100}})
	assert.Zero(t, r.ProfitFactor)
	assert.Zero(t, r.AvgLoss)
}
