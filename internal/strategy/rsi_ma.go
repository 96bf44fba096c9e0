package strategy

import (
	"fmt"

	"github.com/quantlab/papertrade/internal/market"
)

// RSIMA combines RSI with a slow moving-average trend filter: enter when
// RSI is oversold while price holds above the MA, exit when RSI is
// overbought or price loses the MA.
type RSIMA struct {
	params Params
}

// NewRSIMA validates parameters and returns the strategy.
func NewRSIMA(params Params) (*RSIMA, error) {
	s := &RSIMA{params: params}
	if err := params.Validate(s.RequiredParameters()); err != nil {
		return nil, fmt.Errorf("rsi_ma: %w", err)
	}
	return s, nil
}

func (s *RSIMA) Name() string { return "rsi_ma" }

func (s *RSIMA) RequiredParameters() []string {
	return []string{"ma_slow", "rsi_period", "rsi_oversold", "rsi_overbought", "stop_loss_pct", "take_profit_pct"}
}

func (s *RSIMA) Parameters() Params { return s.params }

// GenerateSignals implements Strategy.
func (s *RSIMA) GenerateSignals(bars []market.Bar) (Signal, error) {
	closes := market.Closes(bars)
	maSlow := SMA(closes, s.params.Int("ma_slow"))
	rsi := RSI(closes, s.params.Int("rsi_period"))

	oversold := s.params["rsi_oversold"]
	overbought := s.params["rsi_overbought"]

	sig := Signal{
		Entries: make([]bool, len(bars)),
		Exits:   make([]bool, len(bars)),
	}
	for i := range bars {
		sig.Entries[i] = lt(rsi[i], oversold) && gt(closes[i], maSlow[i])
		sig.Exits[i] = gt(rsi[i], overbought) || lt(closes[i], maSlow[i])
	}
	return sig, nil
}
