package order

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreate_Validation(t *testing.T) {
	tests := []struct {
		name      string
		side      Side
		quantity  float64
		typ       Type
		price     float64
		stopPrice float64
		wantErr   bool
	}{
		{"market buy ok", SideBuy, 10, TypeMarket, 0, 0, false},
		{"zero quantity", SideBuy, 0, TypeMarket, 0, 0, true},
		{"negative quantity", SideSell, -1, TypeMarket, 0, 0, true},
		{"limit without price", SideBuy, 5, TypeLimit, 0, 0, true},
		{"limit with price ok", SideBuy, 5, TypeLimit, 180, 0, false},
		{"stop without stop price", SideSell, 5, TypeStop, 0, 0, true},
		{"stop with stop price ok", SideSell, 5, TypeStop, 0, 95, false},
		{"stop-limit missing limit", SideBuy, 5, TypeStopLimit, 0, 105, true},
		{"stop-limit missing stop", SideBuy, 5, TypeStopLimit, 110, 0, true},
		{"stop-limit ok", SideBuy, 5, TypeStopLimit, 110, 105, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager(0.001, 0.0005)
			o, err := m.Create("AAPL", tt.side, tt.quantity, tt.typ, tt.price, tt.stopPrice)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidOrder)
				assert.Nil(t, o)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, StatusPending, o.Status)
			assert.NotEmpty(t, o.ID)
			assert.Len(t, m.Pending(""), 1)
		})
	}
}

func TestProcessTick_FillRules(t *testing.T) {
	tests := []struct {
		name      string
		side      Side
		typ       Type
		price     float64
		stopPrice float64
		tick      float64
		wantFill  bool
	}{
		{"market always fills", SideBuy, TypeMarket, 0, 0, 175.5, true},
		{"buy limit below limit fills", SideBuy, TypeLimit, 180, 0, 179, true},
		{"buy limit at limit fills", SideBuy, TypeLimit, 180, 0, 180, true},
		{"buy limit above limit holds", SideBuy, TypeLimit, 180, 0, 182, false},
		{"sell limit above limit fills", SideSell, TypeLimit, 180, 0, 181, true},
		{"sell limit below limit holds", SideSell, TypeLimit, 180, 0, 178, false},
		{"buy stop above stop fills", SideBuy, TypeStop, 0, 200, 201, true},
		{"buy stop below stop holds", SideBuy, TypeStop, 0, 200, 199, false},
		{"sell stop below stop fills", SideSell, TypeStop, 0, 150, 149, true},
		{"sell stop above stop holds", SideSell, TypeStop, 0, 150, 151, false},
		{"buy stop-limit triggered within limit", SideBuy, TypeStopLimit, 205, 200, 202, true},
		{"buy stop-limit triggered past limit", SideBuy, TypeStopLimit, 205, 200, 206, false},
		{"buy stop-limit not triggered", SideBuy, TypeStopLimit, 205, 200, 198, false},
		{"sell stop-limit triggered within limit", SideSell, TypeStopLimit, 145, 150, 148, true},
		{"sell stop-limit triggered past limit", SideSell, TypeStopLimit, 145, 150, 143, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager(0, 0)
			o, err := m.Create("AAPL", tt.side, 10, tt.typ, tt.price, tt.stopPrice)
			require.NoError(t, err)

			filled := m.ProcessTick("AAPL", tt.tick, time.Now())
			if tt.wantFill {
				require.Len(t, filled, 1)
				assert.Equal(t, StatusFilled, o.Status)
				assert.Equal(t, o.Quantity, o.FilledQuantity)
				require.NotNil(t, o.FilledAt)
				assert.Empty(t, m.Pending(""))
			} else {
				assert.Empty(t, filled)
				assert.Equal(t, StatusPending, o.Status)
				assert.Len(t, m.Pending(""), 1)
			}
		})
	}
}

func TestProcessTick_SlippageAndCommission(t *testing.T) {
	m := NewManager(0.001, 0.0005)

	buy, err := m.Create("AAPL", SideBuy, 10, TypeMarket, 0, 0)
	require.NoError(t, err)

	filled := m.ProcessTick("AAPL", 100, time.Now())
	require.Len(t, filled, 1)

	// Buys pay the slipped price; commission is charged on the slipped
	// notional.
	assert.InDelta(t, 100.05, buy.AvgFillPrice, 1e-9)
	assert.InDelta(t, 10*100.05*0.001, buy.Commission, 1e-9)
	assert.InDelta(t, 0.05*10, buy.Slippage, 1e-9)

	sell, err := m.Create("AAPL", SideSell, 10, TypeMarket, 0, 0)
	require.NoError(t, err)
	m.ProcessTick("AAPL", 100, time.Now())
	assert.InDelta(t, 99.95, sell.AvgFillPrice, 1e-9)
}

func TestProcessTick_OtherSymbolsUntouched(t *testing.T) {
	m := NewManager(0, 0)
	_, err := m.Create("AAPL", SideBuy, 10, TypeMarket, 0, 0)
	require.NoError(t, err)
	other, err := m.Create("TSLA", SideBuy, 5, TypeMarket, 0, 0)
	require.NoError(t, err)

	filled := m.ProcessTick("AAPL", 175, time.Now())
	require.Len(t, filled, 1)
	assert.Equal(t, "AAPL", filled[0].Symbol)
	assert.Equal(t, StatusPending, other.Status)
	assert.Len(t, m.Pending("TSLA"), 1)
}

func TestCancel(t *testing.T) {
	m := NewManager(0, 0)
	o, err := m.Create("AAPL", SideBuy, 10, TypeLimit, 150, 0)
	require.NoError(t, err)

	assert.True(t, m.Cancel(o.ID))
	assert.Equal(t, StatusCancelled, o.Status)
	assert.Empty(t, m.Pending(""))

	// Terminal and unknown orders return false, not an error.
	assert.False(t, m.Cancel(o.ID))
	assert.False(t, m.Cancel("ORD-DOESNOTEXIST"))
}

func TestStats(t *testing.T) {
	m := NewManager(0.001, 0)

	_, err := m.Create("AAPL", SideBuy, 10, TypeMarket, 0, 0)
	require.NoError(t, err)
	limit, err := m.Create("AAPL", SideBuy, 10, TypeLimit, 50, 0)
	require.NoError(t, err)
	m.ProcessTick("AAPL", 100, time.Now())
	m.Cancel(limit.ID)

	s := m.Stats()
	assert.Equal(t, 2, s.TotalOrders)
	assert.Equal(t, 1, s.FilledOrders)
	assert.Equal(t, 1, s.CancelledOrders)
	assert.Equal(t, 0, s.PendingOrders)
	assert.InDelta(t, 10*100*0.001, s.TotalCommission, 1e-9)
}
