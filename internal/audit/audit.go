// Package audit records structured trade events to an append-only JSON log.
// Recording is best-effort: failures never abort trading logic.
package audit

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Event is a single audit record.
type Event struct {
	Action    string                 `json:"action"` // "order_created_buy", "order_filled_sell", ...
	Symbol    string                 `json:"symbol"`
	Quantity  float64                `json:"quantity"`
	Price     float64                `json:"price"`
	OrderType string                 `json:"order_type"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Sink receives audit events. Implementations must never panic and should
// swallow their own errors.
type Sink interface {
	Record(ev Event)
}

// NopSink discards every event.
type NopSink struct{}

// Record implements Sink.
func (NopSink) Record(Event) {}

// FileSink appends events as JSON lines to a trade log file.
type FileSink struct {
	logger zerolog.Logger
	file   *os.File
}

// NewFileSink opens (or creates) the trade log under dir.
func NewFileSink(dir string) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, "trades.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	return &FileSink{
		logger: zerolog.New(f).With().Timestamp().Logger(),
		file:   f,
	}, nil
}

// Record implements Sink.
func (s *FileSink) Record(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Warn().Interface("panic", r).Msg("audit record failed")
		}
	}()

	s.logger.Info().
		Str("action", ev.Action).
		Str("symbol", ev.Symbol).
		Float64("quantity", ev.Quantity).
		Float64("price", ev.Price).
		Str("order_type", ev.OrderType).
		Float64("total_value", ev.Quantity*ev.Price).
		Fields(map[string]interface{}{"metadata": ev.Metadata}).
		Time("event_time", time.Now()).
		Msg("trade")
}

// Close flushes and closes the underlying file.
func (s *FileSink) Close() error {
	return s.file.Close()
}
