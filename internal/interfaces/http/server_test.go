package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantlab/papertrade/internal/backtest"
	"github.com/quantlab/papertrade/internal/engine"
	"github.com/quantlab/papertrade/internal/engine/order"
	"github.com/quantlab/papertrade/internal/market"
	"github.com/quantlab/papertrade/internal/persistence"
	"github.com/quantlab/papertrade/internal/runner"
	"github.com/quantlab/papertrade/internal/strategy"
)

type stubFeed struct {
	price float64
	bars  []market.Bar
	err   error
}

func (f *stubFeed) CurrentPrice(context.Context, string) (float64, error) {
	return f.price, f.err
}

func (f *stubFeed) HistoricalBars(context.Context, string, string, string) ([]market.Bar, error) {
	return f.bars, f.err
}

type fakeResultsRepo struct {
	inserted []persistence.BacktestRecord
}

func (r *fakeResultsRepo) Insert(_ context.Context, rec persistence.BacktestRecord) (int64, error) {
	r.inserted = append(r.inserted, rec)
	return int64(len(r.inserted)), nil
}

func (r *fakeResultsRepo) List(context.Context, string, int) ([]persistence.BacktestRecord, error) {
	return r.inserted, nil
}

type fakeStrategiesRepo struct {
	saved []persistence.StrategyRecord
}

func (r *fakeStrategiesRepo) Save(_ context.Context, rec persistence.StrategyRecord) (int64, error) {
	r.saved = append(r.saved, rec)
	return int64(len(r.saved)), nil
}

func (r *fakeStrategiesRepo) Get(_ context.Context, name string) (*persistence.StrategyRecord, error) {
	for i := range r.saved {
		if r.saved[i].Name == name {
			return &r.saved[i], nil
		}
	}
	return nil, nil
}

type fakeTradesRepo struct {
	inserted []persistence.TradeRecord
}

func (r *fakeTradesRepo) Insert(_ context.Context, rec persistence.TradeRecord) error {
	r.inserted = append(r.inserted, rec)
	return nil
}

func (r *fakeTradesRepo) ListBySymbol(_ context.Context, symbol string, _ int) ([]persistence.TradeRecord, error) {
	var out []persistence.TradeRecord
	for _, rec := range r.inserted {
		if symbol == "" || rec.Symbol == symbol {
			out = append(out, rec)
		}
	}
	return out, nil
}

func trendBars(n int) []market.Bar {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]market.Bar, n)
	for i := range out {
		c := 100 + 5*float64(i%13) - float64(i%5)
		out[i] = market.Bar{
			Timestamp: start.Add(time.Duration(i) * 24 * time.Hour),
			Open:      c, High: c + 1, Low: c - 1, Close: c,
			Volume: 1000,
		}
	}
	return out
}

func newTestServer(t *testing.T, feed market.PriceFeed, results persistence.ResultsRepo) (*Server, *engine.Engine, *runner.Runner) {
	t.Helper()
	eng := engine.New(engine.Config{InitialCapital: 10000}, engine.WithFeed(feed))
	strat, err := strategy.New("simple_ma", strategy.DefaultParams("simple_ma"))
	require.NoError(t, err)
	run := runner.New(runner.Config{Interval: time.Hour}, eng, strat, feed)

	srv := NewServer(ServerConfig{}, Deps{
		Engine:     eng,
		Runner:     run,
		Feed:       feed,
		Backtester: backtest.NewEngine(backtest.DefaultConfig()),
		Results:    results,
	})
	return srv, eng, run
}

func doRequest(t *testing.T, srv *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	srv, _, _ := newTestServer(t, &stubFeed{price: 100}, nil)
	rec := doRequest(t, srv, http.MethodGet, "/api/health", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestCreateOrder(t *testing.T) {
	srv, eng, _ := newTestServer(t, &stubFeed{price: 100}, nil)

	rec := doRequest(t, srv, http.MethodPost, "/api/paper-trading/orders", orderRequest{
		Symbol:   "AAPL",
		Side:     "buy",
		Quantity: 10,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp struct {
		Status string      `json:"status"`
		Order  order.Order `json:"order"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "success", resp.Status)
	assert.Equal(t, order.StatusFilled, resp.Order.Status)

	pos, held := eng.Position("AAPL")
	require.True(t, held)
	assert.InDelta(t, 10, pos.Quantity, 1e-9)
}

func TestCreateOrder_Invalid(t *testing.T) {
	srv, _, _ := newTestServer(t, &stubFeed{price: 100}, nil)

	rec := doRequest(t, srv, http.MethodPost, "/api/paper-trading/orders", orderRequest{
		Symbol:   "AAPL",
		Side:     "buy",
		Quantity: -1,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateOrder_InsufficientCash(t *testing.T) {
	srv, _, _ := newTestServer(t, &stubFeed{price: 100}, nil)

	rec := doRequest(t, srv, http.MethodPost, "/api/paper-trading/orders", orderRequest{
		Symbol:   "AAPL",
		Side:     "buy",
		Quantity: 1000,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "insufficient cash")
}

func TestCancelOrder_NotFound(t *testing.T) {
	srv, _, _ := newTestServer(t, &stubFeed{price: 100}, nil)

	rec := doRequest(t, srv, http.MethodDelete, "/api/paper-trading/orders/ORD-DEADBEEF", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPortfolioAndStatus(t *testing.T) {
	srv, _, _ := newTestServer(t, &stubFeed{price: 100}, nil)

	rec := doRequest(t, srv, http.MethodGet, "/api/paper-trading/portfolio", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var summary engine.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.InDelta(t, 10000, summary.PortfolioValue, 1e-9)

	rec = doRequest(t, srv, http.MethodGet, "/api/paper-trading/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var status engine.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.InDelta(t, 10000, status.InitialCapital, 1e-9)
}

func TestTradeMarkers(t *testing.T) {
	srv, eng, _ := newTestServer(t, &stubFeed{price: 100}, nil)

	ctx := context.Background()
	_, err := eng.PlaceOrder(ctx, "AAPL", order.SideBuy, 10, order.TypeMarket, 0, 0)
	require.NoError(t, err)
	eng.UpdateMarketData("AAPL", 105, time.Now())
	_, err = eng.PlaceOrder(ctx, "AAPL", order.SideSell, 10, order.TypeMarket, 0, 0)
	require.NoError(t, err)

	rec := doRequest(t, srv, http.MethodGet, "/api/paper-trading/trade-markers", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var markers []tradeMarker
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &markers))
	require.Len(t, markers, 2)
	assert.Equal(t, "entry", markers[0].Type)
	assert.Equal(t, "exit", markers[1].Type)
}

func TestRunnerLifecycleEndpoints(t *testing.T) {
	srv, _, run := newTestServer(t, &stubFeed{price: 100}, nil)

	rec := doRequest(t, srv, http.MethodPost, "/api/auto-trading/start", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, srv, http.MethodPost, "/api/auto-trading/start", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doRequest(t, srv, http.MethodGet, "/api/auto-trading/status", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"running":true`)

	rec = doRequest(t, srv, http.MethodPost, "/api/auto-trading/stop", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, srv, http.MethodPost, "/api/auto-trading/stop", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	assert.False(t, run.Running())
}

func TestBacktestRun(t *testing.T) {
	repo := &fakeResultsRepo{}
	srv, _, _ := newTestServer(t, &stubFeed{price: 100, bars: trendBars(120)}, repo)

	rec := doRequest(t, srv, http.MethodPost, "/api/backtest/run", backtestRequest{
		Symbol:   "AAPL",
		Strategy: "simple_ma",
		Parameters: map[string]float64{
			"ma_fast": 3,
			"ma_slow": 8,
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result backtest.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Len(t, result.EquityCurve, 120)

	require.Len(t, repo.inserted, 1)
	assert.Equal(t, "AAPL", repo.inserted[0].Symbol)
	assert.Equal(t, "simple_ma", repo.inserted[0].StrategyName)
}

func TestBacktestRun_PersistsStrategyAndTrades(t *testing.T) {
	feed := &stubFeed{price: 100, bars: trendBars(120)}
	eng := engine.New(engine.Config{InitialCapital: 10000}, engine.WithFeed(feed))
	strat, err := strategy.New("simple_ma", strategy.DefaultParams("simple_ma"))
	require.NoError(t, err)
	run := runner.New(runner.Config{Interval: time.Hour}, eng, strat, feed)

	strategies := &fakeStrategiesRepo{}
	results := &fakeResultsRepo{}
	trades := &fakeTradesRepo{}
	srv := NewServer(ServerConfig{}, Deps{
		Engine:     eng,
		Runner:     run,
		Feed:       feed,
		Backtester: backtest.NewEngine(backtest.DefaultConfig()),
		Strategies: strategies,
		Results:    results,
		Trades:     trades,
	})

	rec := doRequest(t, srv, http.MethodPost, "/api/backtest/run", backtestRequest{
		Symbol:   "AAPL",
		Strategy: "simple_ma",
		Parameters: map[string]float64{
			"ma_fast": 3,
			"ma_slow": 8,
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result backtest.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))

	require.Len(t, strategies.saved, 1)
	assert.Equal(t, "simple_ma", strategies.saved[0].Name)
	assert.Equal(t, float64(3), strategies.saved[0].Parameters["ma_fast"])

	require.Len(t, results.inserted, 1)
	assert.Len(t, trades.inserted, result.TotalTrades)

	hist := doRequest(t, srv, http.MethodGet, "/api/paper-trading/trades/history?symbol=AAPL", nil)
	require.Equal(t, http.StatusOK, hist.Code)
	var body struct {
		Trades []persistence.TradeRecord `json:"trades"`
	}
	require.NoError(t, json.Unmarshal(hist.Body.Bytes(), &body))
	assert.Len(t, body.Trades, result.TotalTrades)
}

func TestTradeHistory_NoPersistence(t *testing.T) {
	srv, _, _ := newTestServer(t, &stubFeed{price: 100}, nil)

	rec := doRequest(t, srv, http.MethodGet, "/api/paper-trading/trades/history", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestBacktestRun_UnknownStrategy(t *testing.T) {
	srv, _, _ := newTestServer(t, &stubFeed{price: 100, bars: trendBars(120)}, nil)

	rec := doRequest(t, srv, http.MethodPost, "/api/backtest/run", backtestRequest{
		Symbol:   "AAPL",
		Strategy: "mystery",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBacktestRun_DataUnavailable(t *testing.T) {
	srv, _, _ := newTestServer(t, &stubFeed{err: market.ErrDataUnavailable}, nil)

	rec := doRequest(t, srv, http.MethodPost, "/api/backtest/run", backtestRequest{Symbol: "AAPL"})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestBacktestResults_NoPersistence(t *testing.T) {
	srv, _, _ := newTestServer(t, &stubFeed{price: 100}, nil)

	rec := doRequest(t, srv, http.MethodGet, "/api/backtest/results", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStatusStream(t *testing.T) {
	srv, _, _ := newTestServer(t, &stubFeed{price: 100}, nil)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/status"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	defer resp.Body.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var frame statusFrame
	require.NoError(t, conn.ReadJSON(&frame))
	assert.False(t, frame.Timestamp.IsZero())
	assert.NotNil(t, frame.Engine)
}

func TestNotFound(t *testing.T) {
	srv, _, _ := newTestServer(t, &stubFeed{price: 100}, nil)
	rec := doRequest(t, srv, http.MethodGet, "/api/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
