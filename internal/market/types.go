// Package market defines the market-data collaborator surface consumed by the
// trading engine: OHLCV bars, price feeds, caching, and feed guards.
package market

import (
	"context"
	"errors"
	"time"
)

// ErrDataUnavailable indicates the feed could not produce a price or bar
// window for a symbol. Loops treat it as skip-and-continue, never fatal.
var ErrDataUnavailable = errors.New("market data unavailable")

// Bar is a single OHLCV observation.
type Bar struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// PriceFeed supplies current prices and historical bar windows.
type PriceFeed interface {
	// CurrentPrice returns the latest trade price for symbol.
	CurrentPrice(ctx context.Context, symbol string) (float64, error)

	// HistoricalBars returns an ordered OHLCV window for symbol, oldest
	// first. Period and interval use feed-native notation ("1mo", "1h").
	HistoricalBars(ctx context.Context, symbol, period, interval string) ([]Bar, error)
}

// Closes extracts the close series from a bar window.
func Closes(bars []Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}
