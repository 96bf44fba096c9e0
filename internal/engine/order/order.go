// Package order implements the order lifecycle: creation, validation,
// simulated execution against price ticks, and cancellation.
package order

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Side is the order direction.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Type is the order execution type.
type Type string

const (
	TypeMarket    Type = "market"
	TypeLimit     Type = "limit"
	TypeStop      Type = "stop"
	TypeStopLimit Type = "stop_limit"
)

// Status is the order lifecycle state. Terminal states never transition.
type Status string

const (
	StatusPending   Status = "pending"
	StatusFilled    Status = "filled"
	StatusCancelled Status = "cancelled"
	StatusRejected  Status = "rejected"
)

// ErrInvalidOrder is returned for malformed order requests: non-positive
// quantity, limit orders without a limit price, stop orders without a stop
// price. Never retried.
var ErrInvalidOrder = errors.New("invalid order")

// Order is a single simulated order. Price and StopPrice are zero when the
// order type does not require them. Filled orders always have
// FilledQuantity == Quantity and a non-nil FilledAt; partial fills are not
// modeled.
type Order struct {
	ID             string     `json:"order_id"`
	Symbol         string     `json:"symbol"`
	Side           Side       `json:"side"`
	Type           Type       `json:"order_type"`
	Quantity       float64    `json:"quantity"`
	Price          float64    `json:"price,omitempty"`
	StopPrice      float64    `json:"stop_price,omitempty"`
	Status         Status     `json:"status"`
	FilledQuantity float64    `json:"filled_quantity"`
	AvgFillPrice   float64    `json:"avg_fill_price"`
	Commission     float64    `json:"commission"`
	Slippage       float64    `json:"slippage"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	FilledAt       *time.Time `json:"filled_at,omitempty"`
}

// Terminal reports whether the order reached a final state.
func (o *Order) Terminal() bool {
	return o.Status != StatusPending
}

func newOrderID() string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "ORD-" + strings.ToUpper(hex[:12])
}
