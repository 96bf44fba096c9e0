package order

import (
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"
)

// Manager creates and tracks orders and simulates their execution against
// price ticks. It has no internal locking; the engine serializes access.
type Manager struct {
	commissionPct float64
	slippagePct   float64

	orders  map[string]*Order
	pending []string // order IDs, FIFO by creation
}

// Stats summarizes order activity.
type Stats struct {
	TotalOrders     int     `json:"total_orders"`
	FilledOrders    int     `json:"filled_orders"`
	PendingOrders   int     `json:"pending_orders"`
	CancelledOrders int     `json:"cancelled_orders"`
	TotalCommission float64 `json:"total_commission"`
	TotalSlippage   float64 `json:"total_slippage"`
}

// NewManager returns a Manager applying the given fractional commission and
// slippage rates at fill time.
func NewManager(commissionPct, slippagePct float64) *Manager {
	return &Manager{
		commissionPct: commissionPct,
		slippagePct:   slippagePct,
		orders:        make(map[string]*Order),
	}
}

// Create validates and registers a new pending order.
func (m *Manager) Create(symbol string, side Side, quantity float64, typ Type, price, stopPrice float64) (*Order, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive, got %v", ErrInvalidOrder, quantity)
	}
	if (typ == TypeLimit || typ == TypeStopLimit) && price <= 0 {
		return nil, fmt.Errorf("%w: %s orders require a limit price", ErrInvalidOrder, typ)
	}
	if (typ == TypeStop || typ == TypeStopLimit) && stopPrice <= 0 {
		return nil, fmt.Errorf("%w: %s orders require a stop price", ErrInvalidOrder, typ)
	}

	now := time.Now()
	o := &Order{
		ID:        newOrderID(),
		Symbol:    symbol,
		Side:      side,
		Type:      typ,
		Quantity:  quantity,
		Price:     price,
		StopPrice: stopPrice,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	m.orders[o.ID] = o
	m.pending = append(m.pending, o.ID)

	log.Info().
		Str("order_id", o.ID).
		Str("symbol", symbol).
		Str("side", string(side)).
		Str("type", string(typ)).
		Float64("quantity", quantity).
		Msg("order created")

	return o, nil
}

// ProcessTick evaluates every pending order for symbol against the tick
// price, fills the eligible ones, and returns the filled subset. Pending
// orders for other symbols are untouched.
func (m *Manager) ProcessTick(symbol string, price float64, ts time.Time) []*Order {
	var filled []*Order
	remaining := m.pending[:0]

	for _, id := range m.pending {
		o := m.orders[id]
		if o.Symbol != symbol {
			remaining = append(remaining, id)
			continue
		}
		if !shouldFill(o, price) {
			remaining = append(remaining, id)
			continue
		}
		m.execute(o, price, ts)
		filled = append(filled, o)
	}

	m.pending = remaining
	return filled
}

// shouldFill applies the per-type fill rules at the current tick price.
func shouldFill(o *Order, price float64) bool {
	switch o.Type {
	case TypeMarket:
		return true
	case TypeLimit:
		if o.Side == SideBuy {
			return price <= o.Price
		}
		return price >= o.Price
	case TypeStop:
		if o.Side == SideBuy {
			return price >= o.StopPrice
		}
		return price <= o.StopPrice
	case TypeStopLimit:
		if o.Side == SideBuy {
			return price >= o.StopPrice && price <= o.Price
		}
		return price <= o.StopPrice && price >= o.Price
	}
	return false
}

// execute fills the order at the tick price adjusted for slippage. Buys pay
// up, sells receive less. Commission is charged on the slipped notional.
func (m *Manager) execute(o *Order, tickPrice float64, ts time.Time) {
	fillPrice := tickPrice * (1 + m.slippagePct)
	if o.Side == SideSell {
		fillPrice = tickPrice * (1 - m.slippagePct)
	}

	notional := o.Quantity * fillPrice

	o.Status = StatusFilled
	o.FilledQuantity = o.Quantity
	o.AvgFillPrice = fillPrice
	o.Commission = notional * m.commissionPct
	o.Slippage = math.Abs(fillPrice-tickPrice) * o.Quantity
	o.FilledAt = &ts
	o.UpdatedAt = ts

	log.Info().
		Str("order_id", o.ID).
		Str("symbol", o.Symbol).
		Str("side", string(o.Side)).
		Float64("quantity", o.Quantity).
		Float64("fill_price", fillPrice).
		Float64("commission", o.Commission).
		Msg("order filled")
}

// Cancel transitions a pending order to cancelled. It returns false, not an
// error, when the order is unknown or already terminal.
func (m *Manager) Cancel(orderID string) bool {
	o, ok := m.orders[orderID]
	if !ok {
		log.Warn().Str("order_id", orderID).Msg("cancel: order not found")
		return false
	}
	if o.Terminal() {
		log.Warn().Str("order_id", orderID).Str("status", string(o.Status)).Msg("cancel: order not pending")
		return false
	}

	o.Status = StatusCancelled
	o.UpdatedAt = time.Now()

	for i, id := range m.pending {
		if id == orderID {
			m.pending = append(m.pending[:i], m.pending[i+1:]...)
			break
		}
	}

	log.Info().Str("order_id", orderID).Msg("order cancelled")
	return true
}

// Get returns the order with the given ID.
func (m *Manager) Get(orderID string) (*Order, bool) {
	o, ok := m.orders[orderID]
	return o, ok
}

// Pending returns pending orders in creation order, optionally filtered by
// symbol (empty symbol means all).
func (m *Manager) Pending(symbol string) []*Order {
	out := make([]*Order, 0, len(m.pending))
	for _, id := range m.pending {
		o := m.orders[id]
		if symbol != "" && o.Symbol != symbol {
			continue
		}
		out = append(out, o)
	}
	return out
}

// Filled returns filled orders, optionally filtered by symbol.
func (m *Manager) Filled(symbol string) []*Order {
	var out []*Order
	for _, o := range m.orders {
		if o.Status != StatusFilled {
			continue
		}
		if symbol != "" && o.Symbol != symbol {
			continue
		}
		out = append(out, o)
	}
	return out
}

// All returns every tracked order.
func (m *Manager) All() []*Order {
	out := make([]*Order, 0, len(m.orders))
	for _, o := range m.orders {
		out = append(out, o)
	}
	return out
}

// Stats returns aggregate order statistics.
func (m *Manager) Stats() Stats {
	s := Stats{
		TotalOrders:   len(m.orders),
		PendingOrders: len(m.pending),
	}
	for _, o := range m.orders {
		switch o.Status {
		case StatusFilled:
			s.FilledOrders++
			s.TotalCommission += o.Commission
			s.TotalSlippage += o.Slippage
		case StatusCancelled:
			s.CancelledOrders++
		}
	}
	return s
}
