package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/quantlab/papertrade/internal/backtest"
	"github.com/quantlab/papertrade/internal/engine"
	"github.com/quantlab/papertrade/internal/engine/order"
	"github.com/quantlab/papertrade/internal/engine/portfolio"
	"github.com/quantlab/papertrade/internal/engine/risk"
	"github.com/quantlab/papertrade/internal/persistence"
	"github.com/quantlab/papertrade/internal/runner"
	"github.com/quantlab/papertrade/internal/strategy"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"detail": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "healthy",
		"time":   time.Now().UTC(),
	})
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeError(w, http.StatusNotFound, "not found")
}

func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	summary := s.deps.Engine.Summary()
	s.metrics.PortfolioValue.Set(summary.PortfolioValue)
	s.metrics.OpenPositions.Set(float64(summary.OpenPositions))
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Engine.Positions())
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	writeJSON(w, http.StatusOK, s.deps.Engine.Orders(status))
}

type orderRequest struct {
	Symbol    string  `json:"symbol"`
	Side      string  `json:"side"`
	Quantity  float64 `json:"quantity"`
	OrderType string  `json:"order_type"`
	Price     float64 `json:"price"`
	StopPrice float64 `json:"stop_price"`
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.OrderType == "" {
		req.OrderType = string(order.TypeMarket)
	}

	ord, err := s.deps.Engine.PlaceOrder(r.Context(),
		req.Symbol, order.Side(req.Side), req.Quantity,
		order.Type(req.OrderType), req.Price, req.StopPrice)
	if err != nil {
		s.metrics.OrdersRejected.Inc()
		writeOrderError(w, err)
		return
	}

	s.metrics.OrdersPlaced.WithLabelValues(string(ord.Side)).Inc()
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"status": "success",
		"order":  ord,
	})
}

// writeOrderError maps engine errors onto HTTP statuses: all expected
// rejections are client errors, anything else is a 500.
func writeOrderError(w http.ResponseWriter, err error) {
	var violation *risk.ViolationError
	switch {
	case errors.As(err, &violation),
		errors.Is(err, order.ErrInvalidOrder),
		errors.Is(err, portfolio.ErrInsufficientCash),
		errors.Is(err, portfolio.ErrNoPosition),
		errors.Is(err, portfolio.ErrOverClose),
		errors.Is(err, engine.ErrNoPrice):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["order_id"]
	if !s.deps.Engine.CancelOrder(orderID) {
		writeError(w, http.StatusNotFound, "order not found or cannot cancel")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "cancelled",
		"order_id": orderID,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := s.deps.Engine.Status()
	s.metrics.PortfolioValue.Set(status.CurrentValue)
	s.metrics.OpenPositions.Set(float64(status.OpenPositions))
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	writeJSON(w, http.StatusOK, s.deps.Engine.ClosedTrades(symbol))
}

// tradeMarker is a chart overlay point for one side of a round trip.
type tradeMarker struct {
	Symbol string    `json:"symbol"`
	Type   string    `json:"type"` // "entry" or "exit"
	Time   time.Time `json:"t"`
	Price  float64   `json:"price"`
}

func (s *Server) handleTradeMarkers(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	trades := s.deps.Engine.ClosedTrades(symbol)

	markers := make([]tradeMarker, 0, 2*len(trades))
	for _, t := range trades {
		markers = append(markers,
			tradeMarker{Symbol: t.Symbol, Type: "entry", Time: t.OpenedAt, Price: t.EntryPrice},
			tradeMarker{Symbol: t.Symbol, Type: "exit", Time: t.ClosedAt, Price: t.ExitPrice},
		)
	}
	writeJSON(w, http.StatusOK, markers)
}

func (s *Server) handleRiskMetrics(w http.ResponseWriter, r *http.Request) {
	metrics := s.deps.Engine.RiskMetrics()
	if metrics == nil {
		writeJSON(w, http.StatusOK, map[string]bool{"enabled": false})
		return
	}
	writeJSON(w, http.StatusOK, metrics)
}

func (s *Server) handleRunnerStart(w http.ResponseWriter, r *http.Request) {
	// The loop must outlive this request, so it gets a fresh context.
	if err := s.deps.Runner.Start(context.Background()); err != nil {
		if errors.Is(err, runner.ErrAlreadyRunning) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Runner.Status())
}

func (s *Server) handleRunnerStop(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Runner.Stop(); err != nil {
		if errors.Is(err, runner.ErrNotRunning) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Runner.Status())
}

func (s *Server) handleRunnerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Runner.Status())
}

func (s *Server) handleRunnerSignals(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Runner.Status().LastSignals)
}

type backtestRequest struct {
	Symbol     string             `json:"symbol"`
	Strategy   string             `json:"strategy"`
	Period     string             `json:"period"`
	Interval   string             `json:"interval"`
	Parameters map[string]float64 `json:"parameters"`
}

func (s *Server) handleBacktestRun(w http.ResponseWriter, r *http.Request) {
	var req backtestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}
	if req.Strategy == "" {
		req.Strategy = "simple_ma"
	}
	if req.Period == "" {
		req.Period = "1y"
	}
	if req.Interval == "" {
		req.Interval = "1d"
	}

	params := strategy.DefaultParams(req.Strategy)
	for k, v := range req.Parameters {
		params[k] = v
	}
	strat, err := strategy.New(req.Strategy, params)
	if err != nil {
		s.metrics.BacktestRuns.WithLabelValues("invalid").Inc()
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	bars, err := s.deps.Feed.HistoricalBars(r.Context(), req.Symbol, req.Period, req.Interval)
	if err != nil {
		s.metrics.BacktestRuns.WithLabelValues("data_unavailable").Inc()
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	result, err := s.deps.Backtester.Run(bars, strat, req.Symbol)
	if err != nil {
		s.metrics.BacktestRuns.WithLabelValues("failed").Inc()
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.metrics.BacktestRuns.WithLabelValues("success").Inc()

	s.persistResult(r.Context(), req, params, bars[0].Timestamp, bars[len(bars)-1].Timestamp, result)

	writeJSON(w, http.StatusOK, result)
}

// persistResult stores the run summary when a results repo is configured.
// Storage failures are logged, never surfaced: the caller already has the
// result.
func (s *Server) persistResult(ctx context.Context, req backtestRequest, params strategy.Params, start, end time.Time, result *backtest.Result) {
	if s.deps.Results == nil {
		return
	}
	if s.deps.Strategies != nil {
		srec := persistence.StrategyRecord{
			Name:       req.Strategy,
			Parameters: params,
			IsActive:   true,
		}
		if _, err := s.deps.Strategies.Save(ctx, srec); err != nil {
			log.Error().Err(err).Str("strategy", req.Strategy).Msg("failed to persist strategy config")
		}
	}
	rec := persistence.BacktestRecord{
		StrategyName:   req.Strategy,
		Symbol:         req.Symbol,
		Timeframe:      req.Interval,
		StartDate:      start,
		EndDate:        end,
		InitialCapital: s.deps.Backtester.Config().InitialCapital,
		TotalReturn:    result.TotalReturn,
		TotalReturnPct: result.TotalReturnPct,
		SharpeRatio:    result.SharpeRatio,
		SortinoRatio:   result.SortinoRatio,
		MaxDrawdownPct: result.MaxDrawdownPct,
		TotalTrades:    result.TotalTrades,
		WinningTrades:  result.WinningTrades,
		LosingTrades:   result.LosingTrades,
		WinRate:        result.WinRate,
		ProfitFactor:   result.ProfitFactor,
	}
	if _, err := s.deps.Results.Insert(ctx, rec); err != nil {
		log.Error().Err(err).Str("symbol", req.Symbol).Msg("failed to persist backtest result")
	}
	if s.deps.Trades != nil {
		for _, t := range result.Trades {
			trec := persistence.TradeRecord{
				Symbol:     t.Symbol,
				Quantity:   t.Quantity,
				EntryPrice: t.EntryPrice,
				ExitPrice:  t.ExitPrice,
				PnL:        t.PnL,
				PnLPct:     t.PnLPct,
				Commission: t.Commission,
				OpenedAt:   t.EntryTime,
				ClosedAt:   t.ExitTime,
			}
			if err := s.deps.Trades.Insert(ctx, trec); err != nil {
				log.Error().Err(err).Str("symbol", t.Symbol).Msg("failed to persist trade")
			}
		}
	}
}

// handleTradeHistory serves stored trades from the database.
func (s *Server) handleTradeHistory(w http.ResponseWriter, r *http.Request) {
	if s.deps.Trades == nil {
		writeError(w, http.StatusServiceUnavailable, "persistence is not configured")
		return
	}
	symbol := r.URL.Query().Get("symbol")
	out, err := s.deps.Trades.ListBySymbol(r.Context(), symbol, 100)
	if err != nil {
		log.Error().Err(err).Msg("failed to list stored trades")
		writeError(w, http.StatusInternalServerError, "failed to list trades")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"trades": out})
}

func (s *Server) handleBacktestResults(w http.ResponseWriter, r *http.Request) {
	if s.deps.Results == nil {
		writeError(w, http.StatusServiceUnavailable, "persistence is not configured")
		return
	}
	symbol := r.URL.Query().Get("symbol")
	out, err := s.deps.Results.List(r.Context(), symbol, 100)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, out)
}
