package broker

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/stamford_condor/internal/models"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestAPI(t *testing.T, handler http.HandlerFunc) *RobinhoodAPI {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewRobinhoodAPIWithBaseURL("token", "https://example.com/accounts/abc/", srv.URL, testLogger())
}

func TestGetOrderParsesStringNumerics(t *testing.T) {
	api := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/options/orders/oid-1/", r.URL.Path)
		assert.Equal(t, "Bearer token", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "oid-1",
			"chain_symbol": "AAPL",
			"direction": "debit",
			"state": "partially_filled",
			"price": "1.25",
			"quantity": "4",
			"pending_quantity": "2",
			"processed_quantity": "2",
			"premium": "500.00",
			"processed_premium": "250.00",
			"min_ticks": {"cutoff_price": "3.00", "above_tick": "0.05", "below_tick": "0.01"},
			"legs": [{
				"expiration_date": "2026-09-04",
				"option_type": "call",
				"strike_price": "150.0000",
				"side": "buy",
				"position_effect": "open"
			}]
		}`))
	})

	order, err := api.GetOrder(context.Background(), "oid-1")
	require.NoError(t, err)
	assert.Equal(t, "oid-1", order.ID)
	assert.Equal(t, "AAPL", order.Ticker)
	assert.Equal(t, models.OrderPartiallyFilled, order.State)
	assert.InDelta(t, 1.25, order.Price, 1e-9)
	assert.InDelta(t, 2, order.ProcessedQuantity, 1e-9)
	assert.InDelta(t, 250.0, order.ProcessedPremium, 1e-9)
	assert.InDelta(t, 0.05, order.Ticks.AboveTick, 1e-9)
	require.Len(t, order.Legs, 1)
	assert.Equal(t, models.Call, order.Legs[0].OptionType)
	assert.InDelta(t, 150.0, order.Legs[0].Strike, 1e-9)
	assert.InDelta(t, 1.25, order.ActualPrice(), 1e-9)
}

func TestGetOptionChainMarksUnparseableRowsIncomplete(t *testing.T) {
	api := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"next": null,
			"results": [
				{"type": "call", "strike_price": "150.0000", "bid_price": "1.10",
				 "ask_price": "1.20", "mark_price": "1.15",
				 "min_ticks": {"cutoff_price": "3.00", "above_tick": "0.05", "below_tick": "0.01"}},
				{"type": "call", "strike_price": "155.0000", "bid_price": "",
				 "ask_price": "garbage", "mark_price": "0.90",
				 "min_ticks": {"cutoff_price": "3.00", "above_tick": "0.05", "below_tick": "0.01"}}
			]
		}`))
	})

	rows, err := api.GetOptionChain(context.Background(), "AAPL", "2026-09-04")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.False(t, rows[0].Incomplete)
	assert.True(t, rows[1].Incomplete)

	// ChainRowFor skips incomplete rows.
	assert.Nil(t, ChainRowFor(rows, models.Call, 155.0))
	require.NotNil(t, ChainRowFor(rows, models.Call, 150.0))
}

func TestGetOptionChainFollowsPagination(t *testing.T) {
	var srv *httptest.Server
	calls := 0
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		if calls == 1 {
			_, _ = w.Write([]byte(`{"next": "` + srv.URL + `/page2", "results": [
				{"type": "put", "strike_price": "140.0000", "bid_price": "0.50",
				 "ask_price": "0.55", "mark_price": "0.52",
				 "min_ticks": {"cutoff_price": "3.00", "above_tick": "0.05", "below_tick": "0.01"}}
			]}`))
			return
		}
		_, _ = w.Write([]byte(`{"next": null, "results": [
			{"type": "put", "strike_price": "145.0000", "bid_price": "0.80",
			 "ask_price": "0.85", "mark_price": "0.82",
			 "min_ticks": {"cutoff_price": "3.00", "above_tick": "0.05", "below_tick": "0.01"}}
		]}`))
	}))
	t.Cleanup(srv.Close)

	api := NewRobinhoodAPIWithBaseURL("token", "acct", srv.URL, testLogger())
	rows, err := api.GetOptionChain(context.Background(), "AAPL", "2026-09-04")
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	require.Len(t, rows, 2)
	assert.InDelta(t, 145.0, rows[1].Strike, 1e-9)
}

func TestCancelOrderDeclinedIsNotAnError(t *testing.T) {
	api := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail": "order is not cancelable"}`, http.StatusBadRequest)
	})

	ok, err := api.CancelOrder(context.Background(), "oid-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCancelOrderServerErrorPropagates(t *testing.T) {
	api := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	_, err := api.CancelOrder(context.Background(), "oid-1")
	require.Error(t, err)
	assert.False(t, IsPermanentAPIError(err))
}

func TestIsPermanentAPIError(t *testing.T) {
	assert.True(t, IsPermanentAPIError(&APIError{Status: 400, Message: "bad"}))
	assert.True(t, IsPermanentAPIError(&APIError{Status: 404, Message: "gone"}))
	assert.False(t, IsPermanentAPIError(&APIError{Status: 429, Message: "slow down"}))
	assert.False(t, IsPermanentAPIError(&APIError{Status: 502, Message: "bad gateway"}))
	assert.False(t, IsPermanentAPIError(nil))
}

func TestSubmitLegOrderDeclineReturnsNilNil(t *testing.T) {
	api := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	})

	order, err := api.SubmitLegOrder(context.Background(), LegOrderRequest{
		Ticker: "AAPL", Expr: "2026-09-04", OptionType: models.Call,
		Strike: 150, Price: 1.25, Quantity: 1, Direction: models.Debit, Effect: "open",
	})
	require.NoError(t, err)
	assert.Nil(t, order)
}

func TestGetMarketHoursClosedDay(t *testing.T) {
	api := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/markets/XNYS/hours/2026-09-07/", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"is_open": false, "opens_at": null, "closes_at": null}`))
	})

	hours, err := api.GetMarketHours(context.Background(), "2026-09-07")
	require.NoError(t, err)
	assert.False(t, hours.IsOpen)
}
