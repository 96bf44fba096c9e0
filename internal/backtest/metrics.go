package backtest

import "math"

// tradingDaysPerYear annualizes daily return statistics.
const tradingDaysPerYear = 252

// computeMetrics derives the full metric suite from an equity curve and a
// trade list. It is pure: identical inputs always produce identical results.
func computeMetrics(cfg Config, equity []EquityPoint, trades []Trade) *Result {
	r := &Result{
		EquityCurve: equity,
		Trades:      trades,
		TotalTrades: len(trades),
	}

	final := equity[len(equity)-1].Equity
	r.TotalReturn = final - cfg.InitialCapital
	r.TotalReturnPct = r.TotalReturn / cfg.InitialCapital * 100

	returns := periodReturns(equity)
	r.SharpeRatio = sharpe(returns, cfg.RiskFreeRate)
	r.SortinoRatio = sortino(returns, cfg.RiskFreeRate)
	r.Volatility = sampleStd(returns) * math.Sqrt(tradingDaysPerYear) * 100

	r.DrawdownCurve = drawdownCurve(equity)
	peak := 0.0
	for _, p := range equity {
		if p.Equity > peak {
			peak = p.Equity
		}
	}
	for _, dd := range r.DrawdownCurve {
		if dd < r.MaxDrawdown {
			r.MaxDrawdown = dd
		}
	}
	if peak > 0 {
		r.MaxDrawdownPct = r.MaxDrawdown / peak * 100
	}
	if r.MaxDrawdownPct != 0 {
		r.CalmarRatio = math.Abs(r.TotalReturnPct / r.MaxDrawdownPct)
	}
	if r.MaxDrawdown != 0 {
		r.RecoveryFactor = math.Abs(r.TotalReturn / r.MaxDrawdown)
	}

	var winSum, lossSum, durationSum float64
	for _, t := range trades {
		switch {
		case t.PnL > 0:
			r.WinningTrades++
			winSum += t.PnL
		case t.PnL < 0:
			r.LosingTrades++
			lossSum += t.PnL
		}
		hours := t.ExitTime.Sub(t.EntryTime).Hours()
		durationSum += hours
		if hours > r.MaxTradeDurationHours {
			r.MaxTradeDurationHours = hours
		}
	}

	if r.TotalTrades > 0 {
		r.WinRate = float64(r.WinningTrades) / float64(r.TotalTrades) * 100
		r.AvgTradeDurationHours = durationSum / float64(r.TotalTrades)
	}
	if r.WinningTrades > 0 {
		r.AvgWin = winSum / float64(r.WinningTrades)
	}
	if r.LosingTrades > 0 {
		r.AvgLoss = math.Abs(lossSum / float64(r.LosingTrades))
	}
	if lossSum != 0 {
		r.ProfitFactor = winSum / math.Abs(lossSum)
	}
	r.Expectancy = r.WinRate/100*r.AvgWin - (1-r.WinRate/100)*r.AvgLoss

	return r
}

// periodReturns is the bar-over-bar simple return series.
func periodReturns(equity []EquityPoint) []float64 {
	if len(equity) < 2 {
		return nil
	}
	out := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		prev := equity[i-1].Equity
		if prev == 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, equity[i].Equity/prev-1)
	}
	return out
}

// sharpe is the annualized mean excess return over its standard deviation,
// zero when the deviation is zero.
func sharpe(returns []float64, riskFreeRate float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	daily := riskFreeRate / tradingDaysPerYear
	excess := make([]float64, len(returns))
	for i, ret := range returns {
		excess[i] = ret - daily
	}
	sd := sampleStd(excess)
	if sd == 0 {
		return 0
	}
	return mean(excess) / sd * math.Sqrt(tradingDaysPerYear)
}

// sortino substitutes downside deviation (negative returns only) for total
// deviation in the Sharpe denominator.
func sortino(returns []float64, riskFreeRate float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	daily := riskFreeRate / tradingDaysPerYear
	excess := make([]float64, len(returns))
	for i, ret := range returns {
		excess[i] = ret - daily
	}

	var downside []float64
	for _, ret := range returns {
		if ret < 0 {
			downside = append(downside, ret)
		}
	}
	if len(downside) == 0 {
		return 0
	}
	sd := sampleStd(downside)
	if sd == 0 {
		return 0
	}
	return mean(excess) / sd * math.Sqrt(tradingDaysPerYear)
}

// drawdownCurve is equity minus its running maximum: zero at new highs,
// negative in drawdowns.
func drawdownCurve(equity []EquityPoint) []float64 {
	out := make([]float64, len(equity))
	runningMax := math.Inf(-1)
	for i, p := range equity {
		if p.Equity > runningMax {
			runningMax = p.Equity
		}
		out[i] = p.Equity - runningMax
	}
	return out
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// sampleStd is the n-1 standard deviation, zero for fewer than two samples.
func sampleStd(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	var sq float64
	for _, x := range xs {
		d := x - m
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(xs)-1))
}
