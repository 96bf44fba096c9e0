package strategy

import (
	"fmt"

	"github.com/quantlab/papertrade/internal/market"
)

// SimpleMA is the moving-average crossover strategy: enter on the golden
// cross (fast MA crossing above slow MA), exit on the death cross.
type SimpleMA struct {
	params Params
}

// NewSimpleMA validates parameters and returns the strategy.
func NewSimpleMA(params Params) (*SimpleMA, error) {
	s := &SimpleMA{params: params}
	if err := params.Validate(s.RequiredParameters()); err != nil {
		return nil, fmt.Errorf("simple_ma: %w", err)
	}
	return s, nil
}

func (s *SimpleMA) Name() string { return "simple_ma" }

func (s *SimpleMA) RequiredParameters() []string {
	return []string{"ma_fast", "ma_slow", "stop_loss_pct", "take_profit_pct"}
}

func (s *SimpleMA) Parameters() Params { return s.params }

// GenerateSignals implements Strategy.
func (s *SimpleMA) GenerateSignals(bars []market.Bar) (Signal, error) {
	closes := market.Closes(bars)
	maFast := SMA(closes, s.params.Int("ma_fast"))
	maSlow := SMA(closes, s.params.Int("ma_slow"))

	sig := Signal{
		Entries: make([]bool, len(bars)),
		Exits:   make([]bool, len(bars)),
	}
	for i := 1; i < len(bars); i++ {
		above := gt(maFast[i], maSlow[i])
		abovePrev := gt(maFast[i-1], maSlow[i-1])
		sig.Entries[i] = above && !abovePrev
		sig.Exits[i] = !above && abovePrev
	}
	return sig, nil
}
