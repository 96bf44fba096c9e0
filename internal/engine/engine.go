// Package engine composes the order, portfolio, and risk managers into the
// single entry point for order placement and market-data updates. One engine
// owns one set of managers per trading session; nothing is shared across
// sessions.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quantlab/papertrade/internal/audit"
	"github.com/quantlab/papertrade/internal/engine/order"
	"github.com/quantlab/papertrade/internal/engine/portfolio"
	"github.com/quantlab/papertrade/internal/engine/risk"
	"github.com/quantlab/papertrade/internal/market"
)

// ErrNoPrice is returned when an order is placed for a symbol with no known
// price and no feed to resolve one.
var ErrNoPrice = errors.New("no price available")

// Config configures a trading session.
type Config struct {
	InitialCapital float64     `yaml:"initial_capital" json:"initial_capital"`
	CommissionPct  float64     `yaml:"commission_pct" json:"commission_pct"`
	SlippagePct    float64     `yaml:"slippage_pct" json:"slippage_pct"`
	EnableRisk     bool        `yaml:"enable_risk" json:"enable_risk"`
	Risk           risk.Limits `yaml:"risk" json:"risk"`
}

// DefaultConfig returns the stock session configuration.
func DefaultConfig() Config {
	return Config{
		InitialCapital: 10000,
		CommissionPct:  0.001,
		SlippagePct:    0.0005,
		EnableRisk:     true,
		Risk:           risk.DefaultLimits(),
	}
}

// Summary is the portfolio snapshot served to the HTTP layer.
type Summary struct {
	PortfolioValue float64 `json:"portfolio_value"`
	CashBalance    float64 `json:"cash_balance"`
	TotalPnL       float64 `json:"total_pnl"`
	ReturnPct      float64 `json:"return_pct"`
	OpenPositions  int     `json:"open_positions"`
	TotalTrades    int     `json:"total_trades"`
	WinRate        float64 `json:"win_rate"`
}

// Status is the full engine snapshot.
type Status struct {
	InitialCapital  float64       `json:"initial_capital"`
	CurrentValue    float64       `json:"current_value"`
	Cash            float64       `json:"cash"`
	TotalPnL        float64       `json:"total_pnl"`
	ReturnPct       float64       `json:"return_pct"`
	OpenPositions   int           `json:"open_positions"`
	TotalTrades     int           `json:"total_trades"`
	PendingOrders   int           `json:"pending_orders"`
	TotalCommission float64       `json:"total_commission"`
	CreatedAt       time.Time     `json:"created_at"`
	Risk            *risk.Metrics `json:"risk_metrics,omitempty"`
}

// Engine is the paper-trading session. All mutation goes through a single
// mutex: the managers underneath have no synchronization of their own, so
// the engine is the serialization point mandated for concurrent callers.
type Engine struct {
	mu  sync.Mutex
	cfg Config

	orders    *order.Manager
	portfolio *portfolio.Manager
	risk      *risk.Manager // nil when risk management is disabled

	feed market.PriceFeed // optional price resolver, may be nil
	sink audit.Sink

	prices    map[string]float64
	createdAt time.Time
}

// Option configures optional engine collaborators.
type Option func(*Engine)

// WithFeed lets the engine resolve unknown symbols through a price feed at
// order placement time.
func WithFeed(feed market.PriceFeed) Option {
	return func(e *Engine) { e.feed = feed }
}

// WithAuditSink installs a sink for order created/filled events.
func WithAuditSink(sink audit.Sink) Option {
	return func(e *Engine) { e.sink = sink }
}

// New creates a trading session.
func New(cfg Config, opts ...Option) *Engine {
	e := &Engine{
		cfg:       cfg,
		orders:    order.NewManager(cfg.CommissionPct, cfg.SlippagePct),
		portfolio: portfolio.NewManager(cfg.InitialCapital),
		sink:      audit.NopSink{},
		prices:    make(map[string]float64),
		createdAt: time.Now(),
	}
	if cfg.EnableRisk {
		e.risk = risk.NewManager(cfg.Risk)
	}
	for _, opt := range opts {
		opt(e)
	}

	log.Info().Float64("initial_capital", cfg.InitialCapital).Msg("trading engine initialized")
	return e
}

// PlaceOrder validates, risk-checks, and registers an order. Market orders
// execute immediately against the last known price; the filled (or, if the
// fill could not be funded, rejected) order is returned. Pending limit/stop
// orders wait for UpdateMarketData ticks.
func (e *Engine) PlaceOrder(ctx context.Context, symbol string, side order.Side, quantity float64, typ order.Type, price, stopPrice float64) (order.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	currentPrice, err := e.currentPriceLocked(ctx, symbol)
	if err != nil {
		return order.Order{}, err
	}

	if e.risk != nil && side == order.SideBuy {
		checkPrice := price
		if checkPrice <= 0 {
			checkPrice = currentPrice
		}
		if err := e.risk.CheckOrder(symbol, quantity, checkPrice, e.portfolio.Value(), e.portfolio.PositionsBySymbol(), string(side)); err != nil {
			return order.Order{}, err
		}
	}

	o, err := e.orders.Create(symbol, side, quantity, typ, price, stopPrice)
	if err != nil {
		return order.Order{}, err
	}

	e.sink.Record(audit.Event{
		Action:    "order_created_" + string(side),
		Symbol:    symbol,
		Quantity:  quantity,
		Price:     price,
		OrderType: string(typ),
		Metadata:  map[string]interface{}{"order_id": o.ID, "stop_price": stopPrice},
	})

	if typ == order.TypeMarket {
		_, errs := e.processTickLocked(symbol, currentPrice, time.Now())
		if ferr, ok := errs[o.ID]; ok {
			return *o, ferr
		}
	}

	return *o, nil
}

// CancelOrder cancels a pending order. Returns false when the order is
// unknown or already terminal.
func (e *Engine) CancelOrder(orderID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.orders.Cancel(orderID)
}

// UpdateMarketData records a new price for symbol, marks open positions to
// market, evaluates pending orders for that symbol, and refreshes drawdown
// tracking. It returns the orders filled by this tick.
func (e *Engine) UpdateMarketData(symbol string, price float64, ts time.Time) []order.Order {
	e.mu.Lock()
	defer e.mu.Unlock()

	if ts.IsZero() {
		ts = time.Now()
	}

	e.prices[symbol] = price
	e.portfolio.MarkToMarket(map[string]float64{symbol: price})

	applied, _ := e.processTickLocked(symbol, price, ts)

	if e.risk != nil {
		e.risk.UpdateDrawdown(e.portfolio.Value())
	}
	return applied
}

// processTickLocked runs the fill pipeline for one symbol at one price and
// applies the resulting fills to the portfolio. It returns snapshots of the
// successfully applied fills plus per-order application errors keyed by
// order ID. Must be called with e.mu held.
func (e *Engine) processTickLocked(symbol string, price float64, ts time.Time) ([]order.Order, map[string]error) {
	filled := e.orders.ProcessTick(symbol, price, ts)
	if len(filled) == 0 {
		return nil, nil
	}

	var applied []order.Order
	errs := make(map[string]error)
	for _, o := range filled {
		var applyErr error
		if o.Side == order.SideBuy {
			_, applyErr = e.portfolio.Open(o.Symbol, o.FilledQuantity, o.AvgFillPrice, o.Commission)
		} else {
			var trade portfolio.ClosedTrade
			trade, applyErr = e.portfolio.Close(o.Symbol, o.FilledQuantity, o.AvgFillPrice, o.Commission)
			if applyErr == nil && e.risk != nil {
				e.risk.UpdateDailyPnL(trade.RealizedPnL, "")
			}
		}

		if applyErr != nil {
			// The fill could not be funded or matched to a position.
			// The order leaves the pending set as rejected.
			o.Status = order.StatusRejected
			errs[o.ID] = applyErr
			log.Error().Err(applyErr).Str("order_id", o.ID).Msg("fill could not be applied")
			continue
		}

		applied = append(applied, *o)
		e.sink.Record(audit.Event{
			Action:    "order_filled_" + string(o.Side),
			Symbol:    o.Symbol,
			Quantity:  o.FilledQuantity,
			Price:     o.AvgFillPrice,
			OrderType: string(o.Type),
			Metadata: map[string]interface{}{
				"order_id":   o.ID,
				"commission": o.Commission,
				"slippage":   o.Slippage,
			},
		})
	}
	return applied, errs
}

// currentPriceLocked resolves the reference price for symbol: last tick if
// known, otherwise the feed when one is configured.
func (e *Engine) currentPriceLocked(ctx context.Context, symbol string) (float64, error) {
	if p, ok := e.prices[symbol]; ok {
		return p, nil
	}
	if e.feed == nil {
		return 0, fmt.Errorf("%w: %s", ErrNoPrice, symbol)
	}
	p, err := e.feed.CurrentPrice(ctx, symbol)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrNoPrice, symbol, err)
	}
	e.prices[symbol] = p
	return p, nil
}

// CurrentPrice returns the last known price for symbol.
func (e *Engine) CurrentPrice(symbol string) (float64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.prices[symbol]
	return p, ok
}

// Positions returns a snapshot of all open positions.
func (e *Engine) Positions() []portfolio.Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	live := e.portfolio.Positions()
	out := make([]portfolio.Position, len(live))
	for i, p := range live {
		out[i] = *p
	}
	return out
}

// Position returns a snapshot of the open position for symbol.
func (e *Engine) Position(symbol string) (portfolio.Position, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	pos, ok := e.portfolio.Position(symbol)
	if !ok {
		return portfolio.Position{}, false
	}
	return *pos, true
}

// PortfolioValue returns cash plus open position market value.
func (e *Engine) PortfolioValue() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.portfolio.Value()
}

// Orders returns order snapshots filtered by status ("pending", "filled",
// or "" for all).
func (e *Engine) Orders(status string) []order.Order {
	e.mu.Lock()
	defer e.mu.Unlock()

	var live []*order.Order
	switch status {
	case "pending":
		live = e.orders.Pending("")
	case "filled":
		live = e.orders.Filled("")
	default:
		live = e.orders.All()
	}
	out := make([]order.Order, len(live))
	for i, o := range live {
		out[i] = *o
	}
	return out
}

// Order returns a snapshot of one order by ID.
func (e *Engine) Order(orderID string) (order.Order, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.orders.Get(orderID)
	if !ok {
		return order.Order{}, false
	}
	return *o, true
}

// ClosedTrades returns the closed-trade history, optionally filtered by
// symbol.
func (e *Engine) ClosedTrades(symbol string) []portfolio.ClosedTrade {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.portfolio.ClosedTrades(symbol)
}

// Summary returns the portfolio summary snapshot.
func (e *Engine) Summary() Summary {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.portfolio.Stats()
	return Summary{
		PortfolioValue: s.TotalValue,
		CashBalance:    s.Cash,
		TotalPnL:       s.TotalPnL,
		ReturnPct:      s.ReturnPct,
		OpenPositions:  s.OpenPositions,
		TotalTrades:    s.TotalTrades,
		WinRate:        s.WinRate,
	}
}

// PortfolioStats returns the detailed portfolio statistics snapshot.
func (e *Engine) PortfolioStats() portfolio.Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.portfolio.Stats()
}

// RiskMetrics returns the risk snapshot, nil when risk management is
// disabled.
func (e *Engine) RiskMetrics() *risk.Metrics {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.risk == nil {
		return nil
	}
	m := e.risk.Metrics()
	return &m
}

// PositionSize delegates to the risk manager's risk-based sizing; with risk
// disabled it falls back to a flat 10% of portfolio value.
func (e *Engine) PositionSize(entryPrice, stopPrice float64) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.risk != nil {
		return e.risk.PositionSize(e.portfolio.Value(), entryPrice, stopPrice, 0)
	}
	return e.portfolio.Value() * 0.1 / entryPrice
}

// Status returns the full engine snapshot.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	ps := e.portfolio.Stats()
	os := e.orders.Stats()

	st := Status{
		InitialCapital:  ps.InitialCapital,
		CurrentValue:    ps.TotalValue,
		Cash:            ps.Cash,
		TotalPnL:        ps.TotalPnL,
		ReturnPct:       ps.ReturnPct,
		OpenPositions:   ps.OpenPositions,
		TotalTrades:     ps.TotalTrades,
		PendingOrders:   os.PendingOrders,
		TotalCommission: ps.TotalCommission,
		CreatedAt:       e.createdAt,
	}
	if e.risk != nil {
		m := e.risk.Metrics()
		st.Risk = &m
	}
	return st
}

// OrderStats returns aggregate order statistics.
func (e *Engine) OrderStats() order.Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.orders.Stats()
}

// Reset discards all session state and returns the engine to its initial
// configuration.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.orders = order.NewManager(e.cfg.CommissionPct, e.cfg.SlippagePct)
	e.portfolio = portfolio.NewManager(e.cfg.InitialCapital)
	if e.cfg.EnableRisk {
		e.risk = risk.NewManager(e.cfg.Risk)
	}
	e.prices = make(map[string]float64)

	log.Info().Msg("trading engine reset")
}
