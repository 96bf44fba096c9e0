package strategy

import (
	"fmt"

	"github.com/quantlab/papertrade/internal/market"
)

// Combined votes across MA trend, MACD, RSI, and Bollinger bands: enter
// when the trend and MACD agree and either RSI is oversold or price is
// under the lower band; exit when any bearish condition fires.
type Combined struct {
	params Params
}

// NewCombined validates parameters and returns the strategy.
func NewCombined(params Params) (*Combined, error) {
	s := &Combined{params: params}
	if err := params.Validate(s.RequiredParameters()); err != nil {
		return nil, fmt.Errorf("combined: %w", err)
	}
	return s, nil
}

func (s *Combined) Name() string { return "combined" }

func (s *Combined) RequiredParameters() []string {
	return []string{
		"ma_fast", "ma_slow",
		"rsi_period", "rsi_oversold", "rsi_overbought",
		"bollinger_period", "bollinger_std",
		"macd_fast", "macd_slow", "macd_signal",
		"stop_loss_pct", "take_profit_pct",
	}
}

func (s *Combined) Parameters() Params { return s.params }

// GenerateSignals implements Strategy.
func (s *Combined) GenerateSignals(bars []market.Bar) (Signal, error) {
	closes := market.Closes(bars)

	maFast := SMA(closes, s.params.Int("ma_fast"))
	maSlow := SMA(closes, s.params.Int("ma_slow"))
	rsi := RSI(closes, s.params.Int("rsi_period"))
	upper, _, lower := Bollinger(closes, s.params.Int("bollinger_period"), s.params["bollinger_std"])
	macdLine, signalLine, _ := MACD(closes, s.params.Int("macd_fast"), s.params.Int("macd_slow"), s.params.Int("macd_signal"))

	oversold := s.params["rsi_oversold"]
	overbought := s.params["rsi_overbought"]

	sig := Signal{
		Entries: make([]bool, len(bars)),
		Exits:   make([]bool, len(bars)),
	}
	for i := range bars {
		buyMA := gt(maFast[i], maSlow[i])
		buyMACD := gt(macdLine[i], signalLine[i])
		buyRSI := lt(rsi[i], oversold)
		buyBB := lt(closes[i], lower[i])

		sellMA := lt(maFast[i], maSlow[i])
		sellMACD := lt(macdLine[i], signalLine[i])
		sellRSI := gt(rsi[i], overbought)
		sellBB := gt(closes[i], upper[i])

		sig.Entries[i] = buyMA && buyMACD && (buyRSI || buyBB)
		sig.Exits[i] = sellMA || sellMACD || sellRSI || sellBB
	}
	return sig, nil
}
