package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantlab/papertrade/internal/engine/portfolio"
)

func TestCheckOrder_PositionSize(t *testing.T) {
	m := NewManager(DefaultLimits())

	// Portfolio value 10000, max position 20%: 2500 rejected, 1500 allowed.
	err := m.CheckOrder("AAPL", 25, 100, 10000, nil, "buy")
	require.Error(t, err)
	var v *ViolationError
	require.ErrorAs(t, err, &v)
	assert.Equal(t, "position_size", v.Check)
	assert.InDelta(t, 25, v.Measured, 1e-9)
	assert.InDelta(t, 20, v.Limit, 1e-9)

	assert.NoError(t, m.CheckOrder("AAPL", 15, 100, 10000, nil, "buy"))
}

func TestCheckOrder_Exposure(t *testing.T) {
	m := NewManager(DefaultLimits())

	positions := map[string]*portfolio.Position{
		"TSLA": {Symbol: "TSLA", MarketValue: 8000},
	}

	// 8000 held + 1900 new = 99% > 95%.
	err := m.CheckOrder("AAPL", 19, 100, 10000, positions, "buy")
	var v *ViolationError
	require.ErrorAs(t, err, &v)
	assert.Equal(t, "exposure", v.Check)

	// Sells skip the exposure check.
	assert.NoError(t, m.CheckOrder("AAPL", 19, 100, 10000, positions, "sell"))
}

func TestCheckOrder_DailyLoss(t *testing.T) {
	m := NewManager(DefaultLimits())
	m.UpdateDailyPnL(-600, "") // 6% of 10000, limit is 5%

	err := m.CheckOrder("AAPL", 10, 100, 10000, nil, "buy")
	var v *ViolationError
	require.ErrorAs(t, err, &v)
	assert.Equal(t, "daily_loss", v.Check)

	// Disabled daily limit lets the same order through.
	limits := DefaultLimits()
	limits.EnableDailyLimit = false
	m2 := NewManager(limits)
	m2.UpdateDailyPnL(-600, "")
	assert.NoError(t, m2.CheckOrder("AAPL", 10, 100, 10000, nil, "buy"))
}

func TestPositionSize(t *testing.T) {
	m := NewManager(DefaultLimits())

	// Risk 2% of 10000 = 200, risk per unit 2 -> 100 shares, but the 20%
	// cap allows only 2000/100 = 20.
	qty := m.PositionSize(10000, 100, 98, 0)
	assert.InDelta(t, 20, qty, 1e-9)

	// Wide stop: 200 / 20 = 10 shares, under the cap.
	qty = m.PositionSize(10000, 100, 80, 0)
	assert.InDelta(t, 10, qty, 1e-9)

	// Entry == stop falls back to the capped value.
	qty = m.PositionSize(10000, 100, 100, 0)
	assert.InDelta(t, 20, qty, 1e-9)
}

func TestDrawdown(t *testing.T) {
	m := NewManager(DefaultLimits())

	m.UpdateDrawdown(10000)
	assert.Zero(t, m.CurrentDrawdownPct())

	m.UpdateDrawdown(9000)
	assert.InDelta(t, 10.0, m.CurrentDrawdownPct(), 1e-9)
	assert.NoError(t, m.CheckDrawdownLimit())

	m.UpdateDrawdown(8000)
	var v *ViolationError
	require.ErrorAs(t, m.CheckDrawdownLimit(), &v)
	assert.Equal(t, "drawdown", v.Check)

	// A new peak resets the drawdown.
	m.UpdateDrawdown(11000)
	assert.Zero(t, m.CurrentDrawdownPct())
}

func TestDailyPnLTracking(t *testing.T) {
	m := NewManager(DefaultLimits())

	m.UpdateDailyPnL(100, "")
	m.UpdateDailyPnL(-50, "")
	assert.InDelta(t, 50, m.DailyPnL(""), 1e-9)

	old := time.Now().AddDate(0, 0, -40).Format("2006-01-02")
	m.UpdateDailyPnL(-10, old)
	m.ResetDailyLimits()
	assert.Zero(t, m.DailyPnL(old))
	assert.InDelta(t, 50, m.DailyPnL(""), 1e-9)
}

func TestStopAndTargetPrices(t *testing.T) {
	assert.InDelta(t, 98, StopLossPrice(100, "buy", 0.02), 1e-9)
	assert.InDelta(t, 102, StopLossPrice(100, "sell", 0.02), 1e-9)
	assert.InDelta(t, 104, TakeProfitPrice(100, "buy", 0.04), 1e-9)
	assert.InDelta(t, 96, TakeProfitPrice(100, "sell", 0.04), 1e-9)
}

func TestShouldClosePosition(t *testing.T) {
	closeIt, reason := ShouldClosePosition(97, 98, 104, "buy")
	assert.True(t, closeIt)
	assert.Equal(t, "stop_loss", reason)

	closeIt, reason = ShouldClosePosition(105, 98, 104, "buy")
	assert.True(t, closeIt)
	assert.Equal(t, "take_profit", reason)

	closeIt, _ = ShouldClosePosition(100, 98, 104, "buy")
	assert.False(t, closeIt)

	// Zero levels are ignored.
	closeIt, _ = ShouldClosePosition(1, 0, 0, "buy")
	assert.False(t, closeIt)
}
