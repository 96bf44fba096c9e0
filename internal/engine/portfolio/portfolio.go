// Package portfolio owns cash and open positions and turns order fills into
// realized and unrealized P&L.
package portfolio

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

var (
	// ErrInsufficientCash is returned when a buy's cost plus commission
	// exceeds the available cash balance.
	ErrInsufficientCash = errors.New("insufficient cash")

	// ErrNoPosition is returned when closing a symbol with no open position.
	ErrNoPosition = errors.New("no open position")

	// ErrOverClose is returned when the close quantity exceeds the held
	// quantity.
	ErrOverClose = errors.New("close quantity exceeds position")
)

// Position is an open holding. CostBasis always equals
// Quantity * AvgEntryPrice.
type Position struct {
	Symbol           string    `json:"symbol"`
	Quantity         float64   `json:"quantity"`
	AvgEntryPrice    float64   `json:"avg_entry_price"`
	CurrentPrice     float64   `json:"current_price"`
	MarketValue      float64   `json:"market_value"`
	CostBasis        float64   `json:"cost_basis"`
	UnrealizedPnL    float64   `json:"unrealized_pnl"`
	UnrealizedPnLPct float64   `json:"unrealized_pnl_pct"`
	OpenedAt         time.Time `json:"opened_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// markPrice updates the derived market-value fields at the given price.
func (p *Position) markPrice(price float64) {
	p.CurrentPrice = price
	p.MarketValue = p.Quantity * price
	p.CostBasis = p.Quantity * p.AvgEntryPrice
	p.UnrealizedPnL = p.MarketValue - p.CostBasis
	if p.CostBasis > 0 {
		p.UnrealizedPnLPct = p.UnrealizedPnL / p.CostBasis * 100
	} else {
		p.UnrealizedPnLPct = 0
	}
	p.UpdatedAt = time.Now()
}

// ClosedTrade is an immutable record of a completed round trip, created once
// per closing fill.
type ClosedTrade struct {
	Symbol         string    `json:"symbol"`
	Quantity       float64   `json:"quantity"`
	EntryPrice     float64   `json:"entry_price"`
	ExitPrice      float64   `json:"exit_price"`
	RealizedPnL    float64   `json:"realized_pnl"`
	RealizedPnLPct float64   `json:"realized_pnl_pct"`
	Commission     float64   `json:"commission"`
	OpenedAt       time.Time `json:"opened_at"`
	ClosedAt       time.Time `json:"closed_at"`
}

// Stats is a snapshot of portfolio performance.
type Stats struct {
	InitialCapital  float64 `json:"initial_capital"`
	Cash            float64 `json:"cash"`
	TotalValue      float64 `json:"total_value"`
	TotalPnL        float64 `json:"total_pnl"`
	RealizedPnL     float64 `json:"realized_pnl"`
	UnrealizedPnL   float64 `json:"unrealized_pnl"`
	ReturnPct       float64 `json:"return_pct"`
	OpenPositions   int     `json:"open_positions"`
	TotalTrades     int     `json:"total_trades"`
	WinningTrades   int     `json:"winning_trades"`
	LosingTrades    int     `json:"losing_trades"`
	WinRate         float64 `json:"win_rate"`
	AvgWin          float64 `json:"avg_win"`
	AvgLoss         float64 `json:"avg_loss"`
	TotalCommission float64 `json:"total_commission"`
}

// Manager tracks cash, open positions keyed by symbol, and the closed-trade
// history. It has no internal locking; the engine serializes access.
type Manager struct {
	initialCapital float64
	cash           float64
	positions      map[string]*Position
	closedTrades   []ClosedTrade
	commissionPaid float64
}

// NewManager returns a Manager starting with the given capital.
func NewManager(initialCapital float64) *Manager {
	return &Manager{
		initialCapital: initialCapital,
		cash:           initialCapital,
		positions:      make(map[string]*Position),
	}
}

// Open debits cash and creates a position for symbol, or merges into an
// existing one at the weighted-average entry price.
func (m *Manager) Open(symbol string, quantity, price, commission float64) (*Position, error) {
	cost := quantity*price + commission
	if cost > m.cash {
		return nil, fmt.Errorf("%w: need %.2f, have %.2f", ErrInsufficientCash, cost, m.cash)
	}

	m.cash -= cost
	m.commissionPaid += commission

	pos, ok := m.positions[symbol]
	if ok {
		newQuantity := pos.Quantity + quantity
		newCostBasis := pos.CostBasis + quantity*price
		pos.Quantity = newQuantity
		pos.AvgEntryPrice = newCostBasis / newQuantity
		pos.markPrice(price)

		log.Info().
			Str("symbol", symbol).
			Float64("quantity", pos.Quantity).
			Float64("avg_entry_price", pos.AvgEntryPrice).
			Msg("added to position")
		return pos, nil
	}

	pos = &Position{
		Symbol:        symbol,
		Quantity:      quantity,
		AvgEntryPrice: price,
		OpenedAt:      time.Now(),
	}
	pos.markPrice(price)
	m.positions[symbol] = pos

	log.Info().
		Str("symbol", symbol).
		Float64("quantity", quantity).
		Float64("price", price).
		Msg("opened position")
	return pos, nil
}

// Close credits the sale proceeds net of commission and records a
// ClosedTrade. A full close removes the position; a partial close reduces
// quantity and cost basis proportionally.
func (m *Manager) Close(symbol string, quantity, price, commission float64) (ClosedTrade, error) {
	pos, ok := m.positions[symbol]
	if !ok {
		return ClosedTrade{}, fmt.Errorf("%w: %s", ErrNoPosition, symbol)
	}
	if quantity > pos.Quantity {
		return ClosedTrade{}, fmt.Errorf("%w: closing %v of %v %s", ErrOverClose, quantity, pos.Quantity, symbol)
	}

	proceeds := quantity*price - commission
	costBasis := quantity * pos.AvgEntryPrice
	realized := proceeds - costBasis

	realizedPct := 0.0
	if costBasis > 0 {
		realizedPct = realized / costBasis * 100
	}

	m.cash += proceeds
	m.commissionPaid += commission

	trade := ClosedTrade{
		Symbol:         symbol,
		Quantity:       quantity,
		EntryPrice:     pos.AvgEntryPrice,
		ExitPrice:      price,
		RealizedPnL:    realized,
		RealizedPnLPct: realizedPct,
		Commission:     commission,
		OpenedAt:       pos.OpenedAt,
		ClosedAt:       time.Now(),
	}
	m.closedTrades = append(m.closedTrades, trade)

	if quantity == pos.Quantity {
		delete(m.positions, symbol)
		log.Info().
			Str("symbol", symbol).
			Float64("quantity", quantity).
			Float64("realized_pnl", realized).
			Msg("closed position")
	} else {
		pos.Quantity -= quantity
		pos.markPrice(price)
		log.Info().
			Str("symbol", symbol).
			Float64("quantity", quantity).
			Float64("remaining", pos.Quantity).
			Msg("partially closed position")
	}

	return trade, nil
}

// MarkToMarket updates derived price fields for every held position whose
// symbol appears in prices. Cash is never touched.
func (m *Manager) MarkToMarket(prices map[string]float64) {
	for symbol, price := range prices {
		if pos, ok := m.positions[symbol]; ok {
			pos.markPrice(price)
		}
	}
}

// Cash returns the current cash balance.
func (m *Manager) Cash() float64 { return m.cash }

// InitialCapital returns the starting capital.
func (m *Manager) InitialCapital() float64 { return m.initialCapital }

// Value returns cash plus the market value of all open positions.
func (m *Manager) Value() float64 {
	v := m.cash
	for _, pos := range m.positions {
		v += pos.MarketValue
	}
	return v
}

// RealizedPnL sums closed-trade P&L.
func (m *Manager) RealizedPnL() float64 {
	var total float64
	for _, t := range m.closedTrades {
		total += t.RealizedPnL
	}
	return total
}

// UnrealizedPnL sums open-position mark-to-market P&L.
func (m *Manager) UnrealizedPnL() float64 {
	var total float64
	for _, pos := range m.positions {
		total += pos.UnrealizedPnL
	}
	return total
}

// ReturnPct returns the total return relative to starting capital.
func (m *Manager) ReturnPct() float64 {
	return (m.Value() - m.initialCapital) / m.initialCapital * 100
}

// Position returns the open position for symbol, if any.
func (m *Manager) Position(symbol string) (*Position, bool) {
	pos, ok := m.positions[symbol]
	return pos, ok
}

// HasPosition reports whether symbol has an open position.
func (m *Manager) HasPosition(symbol string) bool {
	_, ok := m.positions[symbol]
	return ok
}

// Positions returns all open positions.
func (m *Manager) Positions() []*Position {
	out := make([]*Position, 0, len(m.positions))
	for _, pos := range m.positions {
		out = append(out, pos)
	}
	return out
}

// PositionsBySymbol returns the live position map. Callers must not mutate.
func (m *Manager) PositionsBySymbol() map[string]*Position {
	return m.positions
}

// ClosedTrades returns the closed-trade history, optionally filtered by
// symbol.
func (m *Manager) ClosedTrades(symbol string) []ClosedTrade {
	if symbol == "" {
		out := make([]ClosedTrade, len(m.closedTrades))
		copy(out, m.closedTrades)
		return out
	}
	var out []ClosedTrade
	for _, t := range m.closedTrades {
		if t.Symbol == symbol {
			out = append(out, t)
		}
	}
	return out
}

// Stats returns a performance snapshot.
func (m *Manager) Stats() Stats {
	s := Stats{
		InitialCapital:  m.initialCapital,
		Cash:            m.cash,
		TotalValue:      m.Value(),
		RealizedPnL:     m.RealizedPnL(),
		UnrealizedPnL:   m.UnrealizedPnL(),
		ReturnPct:       m.ReturnPct(),
		OpenPositions:   len(m.positions),
		TotalTrades:     len(m.closedTrades),
		TotalCommission: m.commissionPaid,
	}
	s.TotalPnL = s.RealizedPnL + s.UnrealizedPnL

	var winSum, lossSum float64
	for _, t := range m.closedTrades {
		switch {
		case t.RealizedPnL > 0:
			s.WinningTrades++
			winSum += t.RealizedPnL
		case t.RealizedPnL < 0:
			s.LosingTrades++
			lossSum += t.RealizedPnL
		}
	}
	if s.TotalTrades > 0 {
		s.WinRate = float64(s.WinningTrades) / float64(s.TotalTrades) * 100
	}
	if s.WinningTrades > 0 {
		s.AvgWin = winSum / float64(s.WinningTrades)
	}
	if s.LosingTrades > 0 {
		s.AvgLoss = lossSum / float64(s.LosingTrades)
	}
	return s
}
